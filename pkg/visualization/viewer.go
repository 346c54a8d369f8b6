package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"

	"ctcharacterization/pkg/ndarray"
)

// Viewer extracts planes from a CT volume stored with axes (z, y, x).
type Viewer struct {
	volume *ndarray.Array
}

// NewViewer creates a viewer over a 3D volume
func NewViewer(volume *ndarray.Array) (*Viewer, error) {
	if volume.NDim() != 3 {
		return nil, fmt.Errorf("%w: viewer needs a 3d volume, got shape %v", ndarray.ErrShapeMismatch, volume.Shape())
	}
	return &Viewer{volume: volume}, nil
}

// ExtractSlice extracts a 2D plane from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*ndarray.Array, error) {
	var k int
	switch axis {
	case "z", "Z":
		k = 0
	case "y", "Y":
		k = 1
	case "x", "X":
		k = 2
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	if position < 0 || position >= v.volume.Dim(k) {
		return nil, fmt.Errorf("%w: position %d on axis %s with length %d",
			ndarray.ErrIndexOutOfRange, position, axis, v.volume.Dim(k))
	}
	return v.volume.Index(k, position)
}

// GrayImage renders a matrix as a 16-bit grayscale image, mapping the
// smallest value to black and the largest to white
func GrayImage(m mat.Matrix) *image.Gray16 {
	rows, cols := m.Dims()
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			lo = math.Min(lo, m.At(i, j))
			hi = math.Max(hi, m.At(i, j))
		}
	}
	span := hi - lo
	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var value uint16
			if span > 0 {
				value = uint16(math.Max(0, math.Min(65535, (m.At(i, j)-lo)/span*65535)))
			}
			img.SetGray16(j, i, color.Gray16{Y: value})
		}
	}
	return img
}

// Palette returns n distinct colours ordered from light to dark, so that
// component 0 (the densest tissue) is drawn brightest
func Palette(n int) []colorful.Color {
	palette := make([]colorful.Color, n)
	for c := 0; c < n; c++ {
		frac := 0.0
		if n > 1 {
			frac = float64(c) / float64(n-1)
		}
		palette[c] = colorful.Hcl(360*float64(c)/float64(n), 0.5, 0.9-0.55*frac).Clamped()
	}
	return palette
}

// LabelImage colours every pixel of a 2D label array by its component index
func LabelImage(labels *ndarray.Array, components int) (*image.RGBA, error) {
	m, err := labels.Matrix()
	if err != nil {
		return nil, err
	}
	palette := Palette(components)
	rows, cols := m.Dims()
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c := int(m.At(i, j))
			if c < 0 || c >= components {
				return nil, fmt.Errorf("%w: label %d at (%d,%d) with %d components",
					ndarray.ErrIndexOutOfRange, c, i, j, components)
			}
			r, g, b := palette[c].RGB255()
			img.SetRGBA(j, i, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img, nil
}

// SaveImage saves an image as PNG, or as JPEG when filename ends in .jpg or .jpeg
func SaveImage(img image.Image, filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveSliceSequence extracts and saves every plane along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var n int
	switch axis {
	case "z", "Z":
		n = v.volume.Dim(0)
	case "y", "Y":
		n = v.volume.Dim(1)
	case "x", "X":
		n = v.volume.Dim(2)
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < n; pos++ {
		plane, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		m, err := plane.Matrix()
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveImage(GrayImage(m), filename); err != nil {
			return err
		}
	}

	return nil
}
