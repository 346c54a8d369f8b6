// Package stabilization applies the variance-stabilizing transform that maps
// CT intensities onto a scale with approximately constant noise, using the
// mixture fitted by the characterization pipeline.
package stabilization

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctcharacterization/pkg/em"
	"ctcharacterization/pkg/ndarray"
)

// DefaultC is the default output scale.
const DefaultC = 10

var (
	// ErrDegenerateWeights reports a pixel whose mixing weights do not sum to
	// a positive value.
	ErrDegenerateWeights = errors.New("degenerate mixing weights")

	// ErrConstantImage reports an input without intensity variation.
	ErrConstantImage = errors.New("constant image")
)

// Moments holds the sample-conditioned local moments of every component:
// the responsibility-weighted means of sqrt(Y) and of Y.
type Moments struct {
	First  []float64
	Second []float64
}

// ComponentMoments computes, for every component c,
//
//	First[c]  = (1 + Σ γ[i,c]·sqrt(Y[i])) / (1 + Σ γ[i,c])
//	Second[c] = (1 + Σ γ[i,c]·Y[i])       / (1 + Σ γ[i,c])
//
// The unit terms keep empty components finite.
func ComponentMoments(y, gamma *ndarray.Array) (Moments, error) {
	j, err := components(y, gamma)
	if err != nil {
		return Moments{}, err
	}
	first := make([]float64, j)
	second := make([]float64, j)
	denom := make([]float64, j)
	for c := 0; c < j; c++ {
		first[c], second[c], denom[c] = 1, 1, 1
	}

	g := gamma.Data()
	for i, v := range y.Data() {
		if v < 0 {
			return Moments{}, fmt.Errorf("intensity %d is negative: %v", i, v)
		}
		root := math.Sqrt(v)
		for c := 0; c < j; c++ {
			w := g[i*j+c]
			first[c] += root * w
			second[c] += v * w
			denom[c] += w
		}
	}
	floats.Div(first, denom)
	floats.Div(second, denom)
	return Moments{First: first, Second: second}, nil
}

// MixingWeights normalizes the per-pixel phi of theta (shape Y.shape+(3, J))
// to sum to one over the components. The result has shape Y.shape+(J).
func MixingWeights(theta *ndarray.Array) (*ndarray.Array, error) {
	shape := theta.Shape()
	if len(shape) < 3 || shape[len(shape)-2] != em.NumParams {
		return nil, fmt.Errorf("%w: theta of shape %v", ndarray.ErrShapeMismatch, shape)
	}
	j := shape[len(shape)-1]
	spatial := shape[:len(shape)-2]
	out, err := ndarray.New(append(append([]int(nil), spatial...), j)...)
	if err != nil {
		return nil, err
	}

	stride := em.NumParams * j
	t := theta.Data()
	w := out.Data()
	for i := 0; i < len(w)/j; i++ {
		row := w[i*j : (i+1)*j]
		copy(row, t[i*stride+em.Phi*j:i*stride+(em.Phi+1)*j])
		sum := floats.Sum(row)
		if !(sum > 0) || math.IsInf(sum, 1) {
			return nil, fmt.Errorf("%w: pixel %d has phi sum %v", ErrDegenerateWeights, i, sum)
		}
		floats.Scale(1/sum, row)
	}
	return out, nil
}

// Stabilize returns
//
//	C·(sqrt(Y) - m1)/sqrt(s) + m2
//
// where m1 and m2 are the component moments mixed by the per-pixel weights
// and s is the standard deviation of sqrt(Y) over the whole array.
func Stabilize(y, theta, gamma *ndarray.Array, c float64) (*ndarray.Array, error) {
	moments, err := ComponentMoments(y, gamma)
	if err != nil {
		return nil, err
	}
	weights, err := MixingWeights(theta)
	if err != nil {
		return nil, err
	}
	if !weights.SameShape(gamma) {
		return nil, fmt.Errorf("%w: weights of shape %v for responsibilities of shape %v",
			ndarray.ErrShapeMismatch, weights.Shape(), gamma.Shape())
	}
	j := len(moments.First)

	// Broadcast the per-component moments over every pixel.
	times := y.Shape()
	lead := make([]int, len(times))
	for k := range lead {
		lead[k] = 1
	}
	times = append(times, 1)
	mshape := append(lead, j)
	firstGrid, err := ndarray.FromSlice(moments.First, mshape...)
	if err != nil {
		return nil, err
	}
	secondGrid, err := ndarray.FromSlice(moments.Second, mshape...)
	if err != nil {
		return nil, err
	}
	firstMap, err := ndarray.BroadcastTile(firstGrid, times)
	if err != nil {
		return nil, err
	}
	secondMap, err := ndarray.BroadcastTile(secondGrid, times)
	if err != nil {
		return nil, err
	}

	roots := make([]float64, y.Size())
	for i, v := range y.Data() {
		roots[i] = math.Sqrt(v)
	}
	spread := math.Sqrt(stat.PopVariance(roots, nil))
	if !(spread > 0) {
		return nil, fmt.Errorf("%w: sqrt(Y) has no variance", ErrConstantImage)
	}
	scale := c / math.Sqrt(spread)

	out, err := ndarray.New(y.Shape()...)
	if err != nil {
		return nil, err
	}
	w := weights.Data()
	f := firstMap.Data()
	s := secondMap.Data()
	for i := range out.Data() {
		row := w[i*j : (i+1)*j]
		m1 := floats.Dot(row, f[i*j:(i+1)*j])
		m2 := floats.Dot(row, s[i*j:(i+1)*j])
		out.Data()[i] = scale*(roots[i]-m1) + m2
	}
	return out, nil
}

func components(y, gamma *ndarray.Array) (int, error) {
	gshape := gamma.Shape()
	spatial := y.Shape()
	if len(gshape) != len(spatial)+1 || !ndarray.EqualShape(gshape[:len(spatial)], spatial) {
		return 0, fmt.Errorf("%w: responsibilities of shape %v for intensities of shape %v",
			ndarray.ErrShapeMismatch, gshape, spatial)
	}
	return gshape[len(spatial)], nil
}
