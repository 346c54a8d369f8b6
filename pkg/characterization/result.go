package characterization

import (
	"fmt"

	"ctcharacterization/pkg/em"
	"ctcharacterization/pkg/ndarray"
	"ctcharacterization/pkg/neighborhood"
)

// Result holds the outcome of Run.
type Result struct {
	// Theta has shape Y.shape+(3, J); Theta[..., em.Phi, c] is phi of
	// component c at that pixel, and likewise for em.Alpha and em.Beta.
	Theta *ndarray.Array

	// Gamma has shape Y.shape+(J) and sums to one over its last axis.
	Gamma *ndarray.Array

	Mu           []float64
	Neighborhood []int
	Iterations   int
}

// Components returns J.
func (r *Result) Components() int { return len(r.Mu) }

// Shape returns the spatial shape of the characterized array.
func (r *Result) Shape() []int {
	shape := r.Gamma.Shape()
	return shape[:len(shape)-1]
}

// Labels returns, for every pixel, the index of the component with the
// largest responsibility. Ties go to the lower index.
func (r *Result) Labels() *ndarray.Array {
	j := r.Components()
	labels, _ := ndarray.New(r.Shape()...)
	g := r.Gamma.Data()
	for i := range labels.Data() {
		row := g[i*j : (i+1)*j]
		best := 0
		for c := 1; c < j; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		labels.Data()[i] = float64(best)
	}
	return labels
}

// ParamMap returns the spatial map of one parameter (em.Phi, em.Alpha or
// em.Beta) of component c.
func (r *Result) ParamMap(param, c int) (*ndarray.Array, error) {
	j := r.Components()
	if param < 0 || param >= em.NumParams || c < 0 || c >= j {
		return nil, fmt.Errorf("%w: parameter %d of component %d", ndarray.ErrIndexOutOfRange, param, c)
	}
	out, err := ndarray.New(r.Shape()...)
	if err != nil {
		return nil, err
	}
	stride := em.NumParams * j
	theta := r.Theta.Data()
	for i := range out.Data() {
		out.Data()[i] = theta[i*stride+param*j+c]
	}
	return out, nil
}

// CoarseParamMap returns one value of a parameter per neighborhood. It
// requires neighborhoods of side 2*half+1 on every axis.
func (r *Result) CoarseParamMap(param, c, half int) (*ndarray.Array, error) {
	for k, s := range r.Neighborhood {
		if s != 2*half+1 {
			return nil, fmt.Errorf("%w: axis %d of neighborhood %v is not %d long",
				ndarray.ErrShapeMismatch, k, r.Neighborhood, 2*half+1)
		}
	}
	m, err := r.ParamMap(param, c)
	if err != nil {
		return nil, err
	}
	return neighborhood.Contract(m, half)
}
