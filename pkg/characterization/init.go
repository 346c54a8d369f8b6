package characterization

import (
	"fmt"
	"math"
	"sort"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"ctcharacterization/pkg/ndarray"
)

// InitMethod selects how the first responsibility map is built.
type InitMethod string

const (
	// InitUniform gives every component the same responsibility 1/J.
	InitUniform InitMethod = "uniform"

	// InitKMeans partitions the intensities into J clusters and assigns each
	// pixel mostly to the component whose mean has the same rank as its
	// cluster's centroid.
	InitKMeans InitMethod = "kmeans"
)

const (
	// maxKMeansSamples bounds the number of intensities given to k-means.
	maxKMeansSamples = 12000

	// kmeansRestarts is the number of partitions tried; the one with the
	// lowest within-cluster sum of squares wins.
	kmeansRestarts = 8
)

// InitialResponsibilities builds a responsibility map of shape
// y.Shape()+(J,). For InitKMeans, smoothing in (0, 1] is spread evenly over
// all components so that none starts without mass.
func InitialResponsibilities(y *ndarray.Array, mu []float64, method InitMethod, smoothing float64) (*ndarray.Array, error) {
	j := len(mu)
	if j == 0 {
		return nil, fmt.Errorf("%w: no components", ndarray.ErrShapeMismatch)
	}
	shape := append(y.Shape(), j)

	switch method {
	case InitUniform, "":
		return ndarray.Full(1/float64(j), shape...)
	case InitKMeans:
	default:
		return nil, fmt.Errorf("unknown init method %q", method)
	}

	if !(smoothing > 0) || smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %v", smoothing)
	}
	gamma, err := ndarray.New(shape...)
	if err != nil {
		return nil, err
	}
	if j == 1 {
		for i := range gamma.Data() {
			gamma.Data()[i] = 1
		}
		return gamma, nil
	}

	assignment, err := kmeansAssignment(y.Data(), mu)
	if err != nil {
		return nil, err
	}
	base := smoothing / float64(j)
	data := gamma.Data()
	for i, c := range assignment {
		row := data[i*j : (i+1)*j]
		for k := range row {
			row[k] = base
		}
		// min keeps rounding from lifting a single component past one
		row[c] = min(row[c]+(1-smoothing), 1)
	}
	return gamma, nil
}

// kmeansAssignment maps every value to a component index. Clusters and
// components are matched by rank: the cluster with the lowest centroid goes
// to the component with the lowest mean.
func kmeansAssignment(values []float64, mu []float64) ([]int, error) {
	j := len(mu)
	step := 1
	if len(values) > maxKMeansSamples {
		step = int(math.Ceil(float64(len(values)) / float64(maxKMeansSamples)))
	}
	dataset := make(clusters.Observations, 0, len(values)/step+1)
	for i := 0; i < len(values); i += step {
		dataset = append(dataset, clusters.Coordinates{values[i]})
	}
	if len(dataset) < j {
		return nil, fmt.Errorf("k-means needs at least %d samples, got %d", j, len(dataset))
	}

	km := kmeans.New()
	var cc clusters.Clusters
	best := math.Inf(1)
	for r := 0; r < kmeansRestarts; r++ {
		part, err := km.Partition(dataset, j)
		if err != nil {
			return nil, fmt.Errorf("k-means partition failed: %w", err)
		}
		if len(part) != j {
			return nil, fmt.Errorf("k-means returned %d clusters, expected %d", len(part), j)
		}
		if sse := withinClusterSS(part); sse < best {
			best = sse
			cc = part
		}
	}

	clusterRank := make([]int, j)
	for i := range clusterRank {
		clusterRank[i] = i
	}
	sort.Slice(clusterRank, func(a, b int) bool {
		return cc[clusterRank[a]].Center[0] < cc[clusterRank[b]].Center[0]
	})
	componentRank := make([]int, j)
	for i := range componentRank {
		componentRank[i] = i
	}
	sort.Slice(componentRank, func(a, b int) bool {
		return mu[componentRank[a]] < mu[componentRank[b]]
	})
	toComponent := make([]int, j)
	for r := 0; r < j; r++ {
		toComponent[clusterRank[r]] = componentRank[r]
	}

	assignment := make([]int, len(values))
	for i, v := range values {
		assignment[i] = toComponent[cc.Nearest(clusters.Coordinates{v})]
	}
	return assignment, nil
}

func withinClusterSS(cc clusters.Clusters) float64 {
	var sse float64
	for _, cl := range cc {
		for _, o := range cl.Observations {
			sse += o.Distance(cl.Center)
		}
	}
	return sse
}
