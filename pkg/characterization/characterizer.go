// Package characterization runs the neighborhood-local Gamma mixture EM over
// a whole CT intensity array and collects the per-pixel parameters and
// responsibilities.
package characterization

import (
	"fmt"
	"log"

	"ctcharacterization/pkg/em"
	"ctcharacterization/pkg/ndarray"
	"ctcharacterization/pkg/neighborhood"
)

// ProgressCallback reports progress during estimation.
type ProgressCallback func(completed, total int, message string)

// Params holds the estimation parameters.
type Params struct {
	// Mu holds the fixed per-component means, already shifted into the
	// positive intensity range of Y. Its length is the component count J.
	Mu []float64

	// Iterations is the number of EM passes over every neighborhood.
	Iterations int

	// Neighborhood is the block shape the array is partitioned into. Every
	// axis of the input must be divisible by it. Nil treats the whole array
	// as a single neighborhood.
	//
	// Every component is fitted in every block, so small blocks need few
	// components. With the nine default tissue classes, blocks of 16x16 or
	// 8x8 pixels often hold no intensity near some component mean. After an
	// E-step that component's responsibilities underflow to zero across the
	// block, and Run fails with em.ErrDegenerateComponent. Use larger blocks
	// or fewer components in that case.
	Neighborhood []int

	// Init selects the initial responsibility map.
	Init InitMethod

	// Smoothing is the responsibility mass spread over all components by
	// InitKMeans.
	Smoothing float64

	// Verbose enables log output per pass.
	Verbose bool
}

// Characterizer estimates mixture parameters neighborhood by neighborhood.
type Characterizer struct {
	params           *Params
	progressCallback ProgressCallback
}

// NewCharacterizer creates a characterizer with the provided parameters.
func NewCharacterizer(params *Params) *Characterizer {
	return &Characterizer{params: params}
}

// SetProgressCallback installs a callback invoked after every neighborhood of
// every pass.
func (c *Characterizer) SetProgressCallback(cb ProgressCallback) {
	c.progressCallback = cb
}

// TotalSteps returns the number of progress steps Run reports for y.
func (c *Characterizer) TotalSteps(y *ndarray.Array) (int, error) {
	shape, err := c.neighborhoodShape(y)
	if err != nil {
		return 0, err
	}
	blocks, err := neighborhood.BlockMatrix(y, shape)
	if err != nil {
		return 0, err
	}
	return blocks.Len() * c.params.Iterations, nil
}

// Run estimates theta and gamma over y, which must be 1D or 2D with strictly
// positive values.
func (c *Characterizer) Run(y *ndarray.Array) (*Result, error) {
	if y.NDim() != 1 && y.NDim() != 2 {
		return nil, fmt.Errorf("%w: intensities must be 1d or 2d, got shape %v", ndarray.ErrShapeMismatch, y.Shape())
	}
	if len(c.params.Mu) == 0 {
		return nil, fmt.Errorf("at least one component mean is required")
	}
	if c.params.Iterations < 1 {
		return nil, fmt.Errorf("at least one iteration is required, got %d", c.params.Iterations)
	}
	shape, err := c.neighborhoodShape(y)
	if err != nil {
		return nil, err
	}
	j := len(c.params.Mu)

	gamma, err := InitialResponsibilities(y, c.params.Mu, c.params.Init, c.params.Smoothing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize responsibilities: %w", err)
	}

	yBlocks, err := neighborhood.BlockMatrix(y, shape)
	if err != nil {
		return nil, err
	}
	gBlocks, err := neighborhood.BlockMatrix(gamma, append(append([]int(nil), shape...), j))
	if err != nil {
		return nil, err
	}

	coords := yBlocks.Coords()
	estimators := make([]*em.Estimator, len(coords))
	for l, coord := range coords {
		yb, err := yBlocks.Block(coord)
		if err != nil {
			return nil, err
		}
		gb, err := gBlocks.Block(append(append([]int(nil), coord...), 0))
		if err != nil {
			return nil, err
		}
		estimators[l], err = em.New(yb, gb, c.params.Mu)
		if err != nil {
			return nil, fmt.Errorf("neighborhood %v: %w", coord, err)
		}
	}

	if c.params.Verbose {
		log.Printf("Estimating %d components over %d neighborhoods of shape %v", j, len(coords), shape)
	}

	total := len(coords) * c.params.Iterations
	thetaTimes := append(append([]int(nil), shape...), 1, 1)
	thetaBlocks := make([]*ndarray.Array, len(coords))
	gammaBlocks := make([]*ndarray.Array, len(coords))
	for iter := 0; iter < c.params.Iterations; iter++ {
		for l, est := range estimators {
			theta, g, err := est.Step()
			if err != nil {
				return nil, fmt.Errorf("iteration %d, neighborhood %v: %w", iter+1, coords[l], err)
			}
			tiled, err := ndarray.BroadcastTile(theta, thetaTimes)
			if err != nil {
				return nil, err
			}
			thetaBlocks[l] = tiled
			gammaBlocks[l] = g

			if c.progressCallback != nil {
				c.progressCallback(iter*len(coords)+l+1, total,
					fmt.Sprintf("iteration %d/%d", iter+1, c.params.Iterations))
			}
		}
		if c.params.Verbose {
			log.Printf("Iteration %d/%d complete", iter+1, c.params.Iterations)
		}
	}

	grid := yBlocks.Grid()
	thetaMap, err := neighborhood.Assemble(append(append([]int(nil), grid...), 1, 1), thetaBlocks)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble theta: %w", err)
	}
	gammaMap, err := neighborhood.Assemble(append(append([]int(nil), grid...), 1), gammaBlocks)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble gamma: %w", err)
	}

	return &Result{
		Theta:        thetaMap,
		Gamma:        gammaMap,
		Mu:           append([]float64(nil), c.params.Mu...),
		Neighborhood: shape,
		Iterations:   c.params.Iterations,
	}, nil
}

func (c *Characterizer) neighborhoodShape(y *ndarray.Array) ([]int, error) {
	if c.params.Neighborhood == nil {
		return y.Shape(), nil
	}
	if len(c.params.Neighborhood) != y.NDim() {
		return nil, fmt.Errorf("%w: neighborhood %v for intensities of shape %v",
			ndarray.ErrShapeMismatch, c.params.Neighborhood, y.Shape())
	}
	return append([]int(nil), c.params.Neighborhood...), nil
}
