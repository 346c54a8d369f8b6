// Package pipeline runs the complete CT characterization process: loading a
// scan, normalizing its intensities, fitting the neighborhood Gamma mixture,
// stabilizing the intensities and writing the results.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"ctcharacterization/internal/models"
	"ctcharacterization/pkg/characterization"
	"ctcharacterization/pkg/config"
	"ctcharacterization/pkg/em"
	"ctcharacterization/pkg/ndarray"
	"ctcharacterization/pkg/npy"
	"ctcharacterization/pkg/stabilization"
	"ctcharacterization/pkg/visualization"
)

// Params holds the pipeline parameters.
type Params struct {
	// InputPath is the .npy (or .npy.zst) file holding intensities in HU,
	// with 2 axes or 3 axes ordered (z, y, x).
	InputPath string

	// OutputPath receives the stabilized slice as .npy.
	OutputPath string

	// Axis and Slice select the plane of a 3D input.
	Axis  string
	Slice int

	// Config carries the estimation settings.
	Config *config.Config

	// SaveIntermediaryResults determines whether to save the fitted maps and,
	// for a 3D input, every plane of the volume along Axis.
	SaveIntermediaryResults bool

	// IntermediaryDir is the directory where intermediary results will be saved.
	IntermediaryDir string
}

// Pipeline handles the characterization process.
//
// The process consists of several steps:
// 1. Loading the scan and selecting a slice
// 2. Clipping and shifting intensities into Y > 0
// 3. Fitting theta and gamma neighborhood by neighborhood
// 4. Stabilizing the intensities
// 5. Saving outputs
// 6. Calculating quality metrics
type Pipeline struct {
	params *Params

	scan   *models.Scan
	y      *ndarray.Array
	result *characterization.Result
	stable *ndarray.Array

	metrics          Metrics
	progressCallback characterization.ProgressCallback
}

// NewPipeline creates a pipeline with the provided parameters.
func NewPipeline(params *Params) *Pipeline {
	return &Pipeline{params: params}
}

// SetProgressCallback installs a callback for estimation progress.
func (p *Pipeline) SetProgressCallback(cb characterization.ProgressCallback) {
	p.progressCallback = cb
}

// Process runs the complete pipeline.
func (p *Pipeline) Process() error {
	cfg := p.params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if p.params.SaveIntermediaryResults {
		if err := os.MkdirAll(p.params.IntermediaryDir, 0755); err != nil {
			return fmt.Errorf("failed to create intermediary directory: %w", err)
		}
	}

	fmt.Println("Step 1: Loading input scan...")
	if err := p.loadScan(); err != nil {
		return fmt.Errorf("failed to load scan: %w", err)
	}
	if p.params.SaveIntermediaryResults {
		if err := p.saveIntermediaryResult("01_input.png", p.scan.Data); err != nil {
			fmt.Printf("Warning: Failed to save input slice: %v\n", err)
		}
	}

	fmt.Println("Step 2: Normalizing intensities...")
	clipped, err := p.scan.Clip(cfg.Input.ClipMin, cfg.Input.ClipMax)
	if err != nil {
		return fmt.Errorf("failed to clip intensities: %w", err)
	}
	p.y, err = clipped.Shifted(cfg.Input.Delta)
	if err != nil {
		return fmt.Errorf("failed to shift intensities: %w", err)
	}

	fmt.Println("Step 3: Estimating tissue mixture...")
	c := characterization.NewCharacterizer(&characterization.Params{
		Mu:           cfg.Mu(),
		Iterations:   cfg.Estimation.Iterations,
		Neighborhood: neighborhoodShape(cfg.Estimation.Neighborhood),
		Init:         characterization.InitMethod(cfg.Estimation.Init),
		Smoothing:    cfg.Estimation.Smoothing,
		Verbose:      cfg.Output.Verbose,
	})
	if p.progressCallback != nil {
		total, err := c.TotalSteps(p.y)
		if err != nil {
			return fmt.Errorf("failed to partition intensities: %w", err)
		}
		// A zero-progress report announces the total before the first pass.
		p.progressCallback(0, total, "starting estimation")
		c.SetProgressCallback(p.progressCallback)
	}
	p.result, err = c.Run(p.y)
	if err != nil {
		return fmt.Errorf("failed to estimate mixture: %w", err)
	}
	if p.params.SaveIntermediaryResults {
		p.saveFittedMaps()
	}

	fmt.Println("Step 4: Stabilizing intensities...")
	p.stable, err = stabilization.Stabilize(p.y, p.result.Theta, p.result.Gamma, cfg.Stabilization.C)
	if err != nil {
		return fmt.Errorf("failed to stabilize intensities: %w", err)
	}

	fmt.Println("Step 5: Saving results...")
	if err := p.saveOutputs(cfg); err != nil {
		return err
	}

	fmt.Println("Step 6: Calculating quality metrics...")
	p.metrics, err = CalculateMetrics(p.y, p.stable, p.result)
	if err != nil {
		return fmt.Errorf("failed to calculate metrics: %w", err)
	}

	return nil
}

// loadScan reads the input array and reduces a volume to the selected slice.
func (p *Pipeline) loadScan() error {
	data, err := npy.Load(p.params.InputPath)
	if err != nil {
		return err
	}
	switch data.NDim() {
	case 1, 2:
	case 3:
		viewer, err := visualization.NewViewer(data)
		if err != nil {
			return err
		}
		axis := p.params.Axis
		if axis == "" {
			axis = "z"
		}
		data, err = viewer.ExtractSlice(axis, p.params.Slice)
		if err != nil {
			return err
		}
		if p.params.SaveIntermediaryResults {
			dir := filepath.Join(p.params.IntermediaryDir, "00_volume")
			if err := viewer.SaveSliceSequence(axis, dir); err != nil {
				fmt.Printf("Warning: Failed to save volume slices: %v\n", err)
			}
		}
	default:
		return fmt.Errorf("%w: scan of shape %v", ndarray.ErrShapeMismatch, data.Shape())
	}
	p.scan = models.NewScan(data)
	return nil
}

func (p *Pipeline) saveOutputs(cfg *config.Config) error {
	if p.params.OutputPath != "" {
		if err := npy.Save(p.params.OutputPath, p.stable); err != nil {
			return fmt.Errorf("failed to save stabilized intensities: %w", err)
		}
	}
	if p.stable.NDim() != 2 {
		return nil
	}
	if path := cfg.Output.LabelsPath; path != "" {
		img, err := visualization.LabelImage(p.result.Labels(), p.result.Components())
		if err != nil {
			return fmt.Errorf("failed to render labels: %w", err)
		}
		if err := visualization.SaveImage(img, path); err != nil {
			return fmt.Errorf("failed to save labels: %w", err)
		}
	}
	if path := cfg.Output.ImagePath; path != "" {
		m, err := p.stable.Matrix()
		if err != nil {
			return err
		}
		if err := visualization.SaveImage(visualization.GrayImage(m), path); err != nil {
			return fmt.Errorf("failed to save stabilized image: %w", err)
		}
	}
	return nil
}

// saveFittedMaps writes theta, gamma and one phi map per component.
func (p *Pipeline) saveFittedMaps() {
	dir := p.params.IntermediaryDir
	if err := npy.Save(filepath.Join(dir, "02_theta.npy"), p.result.Theta); err != nil {
		fmt.Printf("Warning: Failed to save theta: %v\n", err)
	}
	if err := npy.Save(filepath.Join(dir, "02_gamma.npy"), p.result.Gamma); err != nil {
		fmt.Printf("Warning: Failed to save gamma: %v\n", err)
	}
	for c := 0; c < p.result.Components(); c++ {
		phi, err := p.result.ParamMap(em.Phi, c)
		if err != nil {
			fmt.Printf("Warning: Failed to extract phi of component %d: %v\n", c, err)
			continue
		}
		if err := p.saveIntermediaryResult(fmt.Sprintf("03_phi_%02d.png", c), phi); err != nil {
			fmt.Printf("Warning: Failed to save phi of component %d: %v\n", c, err)
		}
	}
}

// saveIntermediaryResult renders a 2D array under the intermediary directory.
// Arrays of other ranks are skipped.
func (p *Pipeline) saveIntermediaryResult(name string, a *ndarray.Array) error {
	if a.NDim() != 2 {
		return nil
	}
	m, err := a.Matrix()
	if err != nil {
		return err
	}
	return visualization.SaveImage(visualization.GrayImage(m), filepath.Join(p.params.IntermediaryDir, name))
}

// GetMetrics returns the metrics of the last Process call.
func (p *Pipeline) GetMetrics() Metrics {
	return p.metrics
}

// GetResult returns the fitted mixture of the last Process call.
func (p *Pipeline) GetResult() *characterization.Result {
	return p.result
}

// GetStable returns the stabilized intensities of the last Process call.
func (p *Pipeline) GetStable() *ndarray.Array {
	return p.stable
}

func neighborhoodShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	return shape
}
