package neighborhood

import (
	"fmt"

	"ctcharacterization/pkg/ndarray"
)

// Expand upsamples small so that every cell becomes a block of side
// 2*half+1 holding the cell's local window of small, centred on the cell.
// Window cells that fall outside small are skipped and stay zero; they are
// not clamped to the border. Every axis of small must be longer than 2*half.
func Expand(small *ndarray.Array, half int) (*ndarray.Array, error) {
	if half < 0 {
		return nil, fmt.Errorf("%w: negative half neighborhood size %d", ndarray.ErrShapeMismatch, half)
	}
	n := 2*half + 1
	shape := small.Shape()
	big := make([]int, len(shape))
	for k, s := range shape {
		if s <= 2*half {
			return nil, fmt.Errorf("%w: neighborhood %d does not fit axis %d of length %d",
				ndarray.ErrShapeMismatch, n, k, s)
		}
		big[k] = s * n
	}
	out, err := ndarray.New(big...)
	if err != nil {
		return nil, err
	}

	cells, _ := ndarray.AllIndices(shape)
	window := make([]int, len(shape))
	for k := range window {
		window[k] = n
	}
	offsets, _ := ndarray.AllIndices(window)

	src := make([]int, len(shape))
	dst := make([]int, len(shape))
	for _, cell := range cells {
	offsetLoop:
		for _, w := range offsets {
			for k := range cell {
				src[k] = cell[k] - half + w[k]
				if src[k] < 0 || src[k] >= shape[k] {
					continue offsetLoop
				}
				dst[k] = cell[k]*n + w[k]
			}
			out.Set(small.At(src...), dst...)
		}
	}
	return out, nil
}

// Contract is the left inverse of Expand: it samples the centre of every
// block of side 2*half+1 back into a coarse array.
func Contract(big *ndarray.Array, half int) (*ndarray.Array, error) {
	if half < 0 {
		return nil, fmt.Errorf("%w: negative half neighborhood size %d", ndarray.ErrShapeMismatch, half)
	}
	n := 2*half + 1
	shape := big.Shape()
	small := make([]int, len(shape))
	for k, s := range shape {
		if s%n != 0 {
			return nil, fmt.Errorf("%w: axis %d of length %d is not divisible by %d",
				ndarray.ErrShapeMismatch, k, s, n)
		}
		small[k] = s / n
	}
	out, err := ndarray.New(small...)
	if err != nil {
		return nil, err
	}

	cells, _ := ndarray.AllIndices(small)
	centre := make([]int, len(shape))
	for l, cell := range cells {
		for k := range cell {
			centre[k] = cell[k]*n + half
		}
		out.Data()[l] = big.At(centre...)
	}
	return out, nil
}
