// Package em estimates the parameters of a Gamma mixture over one spatial
// neighborhood with the Expectation-Maximization algorithm.
//
// An Estimator is constructed from the neighborhood intensities Y, the
// current responsibility map gamma and the fixed component means mu. Each
// cycle runs the M-step (ComputeForNeighbors), assembles the parameter
// tensor (Theta) and runs the E-step (Gamma). The caller decides how many
// cycles to run.
package em

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"ctcharacterization/pkg/gammadist"
	"ctcharacterization/pkg/ndarray"
)

var (
	// ErrDegenerateComponent reports a component that carries no
	// responsibility mass, or whose shape estimate is not positive.
	ErrDegenerateComponent = errors.New("degenerate component")

	// ErrDegenerateNormalization reports a position whose unnormalized
	// responsibilities do not sum to a positive finite value.
	ErrDegenerateNormalization = errors.New("degenerate normalization")

	// ErrThetaNotAssembled reports an E-step requested before Theta.
	ErrThetaNotAssembled = errors.New("theta not assembled")
)

// Rows of the parameter axis of a theta tensor.
const (
	Phi = iota
	Alpha
	Beta
	NumParams
)

// Params holds one value per component for each mixture parameter.
type Params struct {
	Phi   []float64
	Alpha []float64
	Beta  []float64
}

// Estimator runs EM cycles over a 1D or 2D neighborhood.
type Estimator struct {
	spatial []int
	y       []float64
	gamma   []float64
	mu      []float64
	j       int

	// Per-component parameters from the latest M-step, read through Params.
	// They start at one.
	miniAlpha []float64
	miniBeta  []float64
	miniPhi   []float64

	theta *ndarray.Array
}

// New1D creates an estimator over a 1D neighborhood. gamma must have shape
// (len(y), J) and mu length J.
func New1D(y, gamma *ndarray.Array, mu []float64) (*Estimator, error) {
	if y.NDim() != 1 {
		return nil, fmt.Errorf("%w: array must be 1d, got shape %v", ndarray.ErrShapeMismatch, y.Shape())
	}
	return newEstimator(y, gamma, mu)
}

// New2D creates an estimator over a 2D neighborhood. gamma must have shape
// (h, w, J) and mu length J.
func New2D(y, gamma *ndarray.Array, mu []float64) (*Estimator, error) {
	if y.NDim() != 2 {
		return nil, fmt.Errorf("%w: image must be 2d, got shape %v", ndarray.ErrShapeMismatch, y.Shape())
	}
	return newEstimator(y, gamma, mu)
}

// New picks New1D or New2D from the dimensionality of y.
func New(y, gamma *ndarray.Array, mu []float64) (*Estimator, error) {
	switch y.NDim() {
	case 1:
		return New1D(y, gamma, mu)
	case 2:
		return New2D(y, gamma, mu)
	default:
		return nil, fmt.Errorf("%w: neighborhoods must be 1d or 2d, got shape %v", ndarray.ErrShapeMismatch, y.Shape())
	}
}

func newEstimator(y, gamma *ndarray.Array, mu []float64) (*Estimator, error) {
	spatial := y.Shape()
	gshape := gamma.Shape()
	if len(gshape) != len(spatial)+1 || !ndarray.EqualShape(gshape[:len(spatial)], spatial) {
		return nil, fmt.Errorf("%w: responsibilities of shape %v for intensities of shape %v",
			ndarray.ErrShapeMismatch, gshape, spatial)
	}
	j := gshape[len(spatial)]
	if len(mu) != j {
		return nil, fmt.Errorf("%w: %d means for %d components", ndarray.ErrShapeMismatch, len(mu), j)
	}
	for c, m := range mu {
		if !(m > 0) || math.IsInf(m, 1) {
			return nil, fmt.Errorf("%w: mean of component %d must be positive, got %v", gammadist.ErrInvalidParameter, c, m)
		}
	}
	for i, v := range y.Data() {
		if !(v > 0) || math.IsInf(v, 1) {
			return nil, fmt.Errorf("%w: intensity %d must be positive, got %v", gammadist.ErrInvalidParameter, i, v)
		}
	}
	for i, g := range gamma.Data() {
		if !(g >= 0 && g <= 1) {
			return nil, fmt.Errorf("%w: responsibility %d must be in [0, 1], got %v", gammadist.ErrInvalidParameter, i, g)
		}
	}

	e := &Estimator{
		spatial:   spatial,
		y:         append([]float64(nil), y.Data()...),
		gamma:     append([]float64(nil), gamma.Data()...),
		mu:        append([]float64(nil), mu...),
		j:         j,
		miniAlpha: make([]float64, j),
		miniBeta:  make([]float64, j),
		miniPhi:   make([]float64, j),
	}
	for c := 0; c < j; c++ {
		e.miniAlpha[c], e.miniBeta[c], e.miniPhi[c] = 1, 1, 1
	}
	return e, nil
}

// Components returns J.
func (e *Estimator) Components() int { return e.j }

// Shape returns the spatial shape of the neighborhood.
func (e *Estimator) Shape() []int { return append([]int(nil), e.spatial...) }

// ComputeForNeighbors runs the M-step. For every component c, summed over
// all positions i:
//
//	alpha[c] = (Σ γ[i,c]·Y[i]/μ[c] - Σ γ[i,c]·log(Y[i]/μ[c])) / Σ γ[i,c] - 1
//	beta[c]  = μ[c] / alpha[c]
//	phi[c]   = Σ γ[i,c]
//
// On error the previous parameters are kept.
func (e *Estimator) ComputeForNeighbors() error {
	n := len(e.y)
	first := make([]float64, e.j)
	second := make([]float64, e.j)
	denom := make([]float64, e.j)
	for c := 0; c < e.j; c++ {
		for i := 0; i < n; i++ {
			g := e.gamma[i*e.j+c]
			ratio := e.y[i] / e.mu[c]
			first[c] += g * ratio
			second[c] += g * math.Log(ratio)
			denom[c] += g
		}
	}

	alpha := make([]float64, e.j)
	beta := make([]float64, e.j)
	for c := 0; c < e.j; c++ {
		if denom[c] == 0 {
			return fmt.Errorf("%w: component %d has no responsibility mass", ErrDegenerateComponent, c)
		}
		alpha[c] = (first[c]-second[c])/denom[c] - 1
		if !(alpha[c] > 0) || math.IsInf(alpha[c], 1) {
			return fmt.Errorf("%w: component %d has shape estimate %v", ErrDegenerateComponent, c, alpha[c])
		}
		beta[c] = e.mu[c] / alpha[c]
	}

	e.miniAlpha = alpha
	e.miniBeta = beta
	e.miniPhi = denom
	e.theta = nil
	return nil
}

// Theta stacks phi, alpha and beta into the parameter tensor. The tensor has
// shape (1, 3, J) for 1D neighborhoods and (1, 1, 3, J) for 2D ones: one
// singleton per spatial axis, then the parameter axis indexed by Phi, Alpha
// and Beta, then the component axis.
func (e *Estimator) Theta() *ndarray.Array {
	shape := make([]int, 0, len(e.spatial)+2)
	for range e.spatial {
		shape = append(shape, 1)
	}
	shape = append(shape, NumParams, e.j)

	data := make([]float64, 0, NumParams*e.j)
	data = append(data, e.miniPhi...)
	data = append(data, e.miniAlpha...)
	data = append(data, e.miniBeta...)

	theta, _ := ndarray.FromSlice(data, shape...)
	e.theta = theta
	return theta.Clone()
}

// Params returns a copy of the current per-component parameters.
func (e *Estimator) Params() Params {
	return Params{
		Phi:   append([]float64(nil), e.miniPhi...),
		Alpha: append([]float64(nil), e.miniAlpha...),
		Beta:  append([]float64(nil), e.miniBeta...),
	}
}

// Gamma runs the E-step against the last assembled theta and returns the new
// responsibility map, of the same shape as the one the estimator was built
// with. Every row sums to one.
func (e *Estimator) Gamma() (*ndarray.Array, error) {
	if e.theta == nil {
		return nil, ErrThetaNotAssembled
	}
	params := e.theta.Data()
	phi := params[Phi*e.j : (Phi+1)*e.j]
	alpha := params[Alpha*e.j : (Alpha+1)*e.j]
	beta := params[Beta*e.j : (Beta+1)*e.j]

	shape := append(e.Shape(), e.j)
	out, err := ndarray.New(shape...)
	if err != nil {
		return nil, err
	}
	data := out.Data()
	for i, y := range e.y {
		row := data[i*e.j : (i+1)*e.j]
		if _, err := gammadist.Equation18(row, y, phi, alpha, beta); err != nil {
			return nil, fmt.Errorf("position %v: %w", e.position(i), err)
		}
		sum := floats.Sum(row)
		if !(sum > 0) || math.IsInf(sum, 1) {
			return nil, fmt.Errorf("%w: position %v has unnormalized responsibility sum %v",
				ErrDegenerateNormalization, e.position(i), sum)
		}
		floats.Scale(1/sum, row)
	}
	return out, nil
}

// Step runs one full cycle and adopts the new responsibilities as the
// working copy for the next cycle. It returns the assembled theta and the new
// responsibility map.
func (e *Estimator) Step() (*ndarray.Array, *ndarray.Array, error) {
	if err := e.ComputeForNeighbors(); err != nil {
		return nil, nil, err
	}
	theta := e.Theta()
	gamma, err := e.Gamma()
	if err != nil {
		return nil, nil, err
	}
	copy(e.gamma, gamma.Data())
	return theta, gamma, nil
}

func (e *Estimator) position(i int) []int {
	idx, err := ndarray.MultiIndex([]int{i}, e.spatial)
	if err != nil {
		return []int{i}
	}
	return idx[0]
}
