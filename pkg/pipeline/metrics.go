package pipeline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"ctcharacterization/pkg/characterization"
	"ctcharacterization/pkg/ndarray"
)

// Metrics summarizes how well the stabilization equalized the noise of the
// tissue classes.
type Metrics struct {
	// ComponentPixels counts the pixels labelled with each component.
	ComponentPixels []int

	// ComponentMean and ComponentStdDev are the mean and standard deviation
	// of the stabilized intensities of each label; zero for labels with
	// fewer than two pixels.
	ComponentMean   []float64
	ComponentStdDev []float64

	// InputStdDev and OutputStdDev are taken over the whole slice of Y and
	// of the stabilized output.
	InputStdDev  float64
	OutputStdDev float64

	// LabelEntropy is the entropy in nats of the label proportions.
	LabelEntropy float64

	// NoiseRatio is the largest over the smallest per-label standard
	// deviation; 1 means perfectly uniform noise. Zero when fewer than two
	// labels have a positive spread.
	NoiseRatio float64
}

// CalculateMetrics computes the quality metrics of a stabilized slice.
func CalculateMetrics(y, stable *ndarray.Array, result *characterization.Result) (Metrics, error) {
	if !y.SameShape(stable) || !ndarray.EqualShape(y.Shape(), result.Shape()) {
		return Metrics{}, fmt.Errorf("%w: intensities %v, stabilized %v, result %v",
			ndarray.ErrShapeMismatch, y.Shape(), stable.Shape(), result.Shape())
	}
	j := result.Components()
	groups := make([][]float64, j)
	labels := result.Labels().Data()
	for i, v := range stable.Data() {
		c := int(labels[i])
		groups[c] = append(groups[c], v)
	}

	m := Metrics{
		ComponentPixels: make([]int, j),
		ComponentMean:   make([]float64, j),
		ComponentStdDev: make([]float64, j),
	}
	proportions := make([]float64, j)
	lo, hi := math.Inf(1), 0.0
	for c, g := range groups {
		m.ComponentPixels[c] = len(g)
		proportions[c] = float64(len(g)) / float64(stable.Size())
		if len(g) < 2 {
			continue
		}
		m.ComponentMean[c], m.ComponentStdDev[c] = stat.MeanStdDev(g, nil)
		if sd := m.ComponentStdDev[c]; sd > 0 {
			lo = math.Min(lo, sd)
			hi = math.Max(hi, sd)
		}
	}
	if countPositive(m.ComponentStdDev) > 1 {
		m.NoiseRatio = hi / lo
	}

	_, m.InputStdDev = stat.MeanStdDev(y.Data(), nil)
	_, m.OutputStdDev = stat.MeanStdDev(stable.Data(), nil)
	m.LabelEntropy = stat.Entropy(proportions)
	return m, nil
}

func countPositive(values []float64) int {
	n := 0
	for _, v := range values {
		if v > 0 {
			n++
		}
	}
	return n
}
