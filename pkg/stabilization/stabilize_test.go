package stabilization

import (
	"errors"
	"math"
	"testing"

	"ctcharacterization/pkg/em"
	"ctcharacterization/pkg/ndarray"
)

// buildTheta creates a theta of shape (n, 3, j) with the given phi rows and
// unit alpha and beta
func buildTheta(phi [][]float64) *ndarray.Array {
	n, j := len(phi), len(phi[0])
	theta, _ := ndarray.Full(1, n, em.NumParams, j)
	for i := range phi {
		for c := range phi[i] {
			theta.Set(phi[i][c], i, em.Phi, c)
		}
	}
	return theta
}

// TestComponentMoments verifies the unit-prior local moments
func TestComponentMoments(t *testing.T) {
	y, _ := ndarray.FromSlice([]float64{1, 4, 9, 16}, 4)
	gamma, _ := ndarray.FromSlice([]float64{1, 0, 1, 0, 0, 1, 0, 1}, 4, 2)

	m, err := ComponentMoments(y, gamma)
	if err != nil {
		t.Fatalf("ComponentMoments failed: %v", err)
	}
	expectedFirst := []float64{4.0 / 3, 8.0 / 3}
	expectedSecond := []float64{2, 26.0 / 3}
	for c := 0; c < 2; c++ {
		if math.Abs(m.First[c]-expectedFirst[c]) > 1e-12 {
			t.Errorf("Component %d: expected first moment %f, got %f", c, expectedFirst[c], m.First[c])
		}
		if math.Abs(m.Second[c]-expectedSecond[c]) > 1e-12 {
			t.Errorf("Component %d: expected second moment %f, got %f", c, expectedSecond[c], m.Second[c])
		}
	}
}

// TestStabilize verifies the transform against hand-computed values
func TestStabilize(t *testing.T) {
	y, _ := ndarray.FromSlice([]float64{1, 4, 9, 16}, 4)
	gamma, _ := ndarray.FromSlice([]float64{1, 0, 1, 0, 0, 1, 0, 1}, 4, 2)
	theta := buildTheta([][]float64{{3, 3}, {1, 1}, {2, 2}, {5, 5}})

	out, err := Stabilize(y, theta, gamma, DefaultC)
	if err != nil {
		t.Fatalf("Stabilize failed: %v", err)
	}

	// Equal weights mix the moments to m1 = 2 and m2 = 16/3.
	// sqrt(Y) = 1..4 has population variance 1.25.
	scale := DefaultC / math.Sqrt(math.Sqrt(1.25))
	for i, root := range []float64{1, 2, 3, 4} {
		want := scale*(root-2) + 16.0/3
		if got := out.At(i); math.Abs(got-want) > 1e-9 {
			t.Errorf("Pixel %d: expected %f, got %f", i, want, got)
		}
	}
}

// TestStabilize2D verifies that per-pixel weights select per-pixel moments
func TestStabilize2D(t *testing.T) {
	y, _ := ndarray.FromSlice([]float64{1, 4, 9, 16}, 2, 2)
	gamma, _ := ndarray.FromSlice([]float64{1, 0, 1, 0, 0, 1, 0, 1}, 2, 2, 2)
	theta, _ := ndarray.Full(1, 2, 2, em.NumParams, 2)
	// Top row weighted entirely to component 0, bottom row to component 1
	for j := 0; j < 2; j++ {
		theta.Set(4, 0, j, em.Phi, 0)
		theta.Set(0, 0, j, em.Phi, 1)
		theta.Set(0, 1, j, em.Phi, 0)
		theta.Set(7, 1, j, em.Phi, 1)
	}

	out, err := Stabilize(y, theta, gamma, 1)
	if err != nil {
		t.Fatalf("Stabilize failed: %v", err)
	}
	scale := 1 / math.Sqrt(math.Sqrt(1.25))
	expected := [][]float64{
		{scale*(1-4.0/3) + 2, scale*(2-4.0/3) + 2},
		{scale*(3-8.0/3) + 26.0/3, scale*(4-8.0/3) + 26.0/3},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := out.At(i, j); math.Abs(got-expected[i][j]) > 1e-9 {
				t.Errorf("Pixel (%d,%d): expected %f, got %f", i, j, expected[i][j], got)
			}
		}
	}
}

func TestMixingWeights(t *testing.T) {
	theta := buildTheta([][]float64{{1, 3}, {2, 2}})
	w, err := MixingWeights(theta)
	if err != nil {
		t.Fatalf("MixingWeights failed: %v", err)
	}
	expected := []float64{0.25, 0.75, 0.5, 0.5}
	for i, want := range expected {
		if math.Abs(w.Data()[i]-want) > 1e-12 {
			t.Errorf("Weight %d: expected %f, got %f", i, want, w.Data()[i])
		}
	}

	zero := buildTheta([][]float64{{0, 0}})
	if _, err := MixingWeights(zero); !errors.Is(err, ErrDegenerateWeights) {
		t.Errorf("Expected ErrDegenerateWeights, got %v", err)
	}
}

func TestStabilizeErrors(t *testing.T) {
	flat, _ := ndarray.Full(9, 4)
	gamma, _ := ndarray.Full(0.5, 4, 2)
	theta := buildTheta([][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}})
	if _, err := Stabilize(flat, theta, gamma, 1); !errors.Is(err, ErrConstantImage) {
		t.Errorf("Expected ErrConstantImage, got %v", err)
	}

	y, _ := ndarray.FromSlice([]float64{1, 2, 3, 4}, 4)
	short := buildTheta([][]float64{{1, 1}, {1, 1}})
	if _, err := Stabilize(y, short, gamma, 1); !errors.Is(err, ndarray.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for theta, got %v", err)
	}
	badGamma, _ := ndarray.Full(0.5, 3, 2)
	if _, err := Stabilize(y, theta, badGamma, 1); !errors.Is(err, ndarray.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for gamma, got %v", err)
	}
}
