package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar"

	"ctcharacterization/pkg/config"
	"ctcharacterization/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Scan in HU as .npy or .npy.zst (2D, or 3D ordered z, y, x)")
	outputPath := flag.String("output", "stable.npy", "Output file for the stabilized slice")
	configPath := flag.String("config", "config.yaml", "Configuration file (defaults are used if absent)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	iterations := flag.Int("iterations", 0, "Number of EM iterations (overrides the configuration)")
	axis := flag.String("axis", "z", "Axis along which a 3D scan is sliced")
	slice := flag.Int("slice", 0, "Slice of a 3D scan to characterize")
	labelsPath := flag.String("labels", "", "Write a colour label map to this PNG file")
	imagePath := flag.String("image", "", "Write the stabilized slice to this PNG or JPEG file")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save fitted parameter maps and the slices of a 3D scan")
	intermediaryDir := flag.String("intermediary-dir", "intermediary_results", "Directory to save intermediary results")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *iterations > 0 {
		cfg.Estimation.Iterations = *iterations
	}
	if *labelsPath != "" {
		cfg.Output.LabelsPath = *labelsPath
	}
	if *imagePath != "" {
		cfg.Output.ImagePath = *imagePath
	}

	fmt.Println("================================")
	fmt.Println("CT TISSUE CHARACTERIZATION WITH A NEIGHBORHOOD GAMMA MIXTURE")
	fmt.Println("================================")

	p := pipeline.NewPipeline(&pipeline.Params{
		InputPath:               *inputPath,
		OutputPath:              *outputPath,
		Axis:                    *axis,
		Slice:                   *slice,
		Config:                  cfg,
		SaveIntermediaryResults: *saveIntermediary,
		IntermediaryDir:         *intermediaryDir,
	})

	// The pipeline reports completed == 0 with the total step count before
	// the first neighborhood is fitted.
	var bar *progressbar.ProgressBar
	p.SetProgressCallback(func(completed, total int, message string) {
		if completed == 0 {
			bar = progressbar.New(total)
			return
		}
		bar.Add(1)
		if completed == total {
			fmt.Println()
		}
	})

	startTime := time.Now()
	if err := p.Process(); err != nil {
		log.Fatalf("Characterization failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nCharacterization completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Stabilized slice saved to: %s\n\n", *outputPath)

	metrics := p.GetMetrics()
	fmt.Printf("Quality Metrics:\n")
	fmt.Printf("================\n")
	fmt.Printf("Input standard deviation (Y): %.3f\n", metrics.InputStdDev)
	fmt.Printf("Output standard deviation: %.3f\n", metrics.OutputStdDev)
	fmt.Printf("Label entropy: %.3f nats\n", metrics.LabelEntropy)
	if metrics.NoiseRatio > 0 {
		fmt.Printf("Noise ratio (max/min per-label std): %.3f\n", metrics.NoiseRatio)
	}
	fmt.Println("\nPer-component statistics:")
	for c, n := range metrics.ComponentPixels {
		fmt.Printf("- component %d (mu %.0f HU): %d pixels, mean %.3f, std %.3f\n",
			c, cfg.Estimation.MuHU[c], n, metrics.ComponentMean[c], metrics.ComponentStdDev[c])
	}

	if cfg.Output.LabelsPath != "" {
		fmt.Printf("\nLabel map saved to: %s\n", cfg.Output.LabelsPath)
	}
	if cfg.Output.ImagePath != "" {
		fmt.Printf("Stabilized image saved to: %s\n", cfg.Output.ImagePath)
	}
	if *saveIntermediary {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", *intermediaryDir)
	}
}
