package gammadist

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"
)

func relErr(got, want float64) float64 {
	if want == 0 {
		return math.Abs(got)
	}
	return math.Abs(got-want) / math.Abs(want)
}

// TestPDFKnownValue verifies the density at y=1, alpha=2, beta=1
func TestPDFKnownValue(t *testing.T) {
	p, err := PDF(1, 2, 1)
	if err != nil {
		t.Fatalf("PDF failed: %v", err)
	}
	if math.Abs(p-math.Exp(-1)) > 1e-4 {
		t.Errorf("Expected %f, got %f", math.Exp(-1), p)
	}
	if math.Abs(p-0.3679) > 1e-4 {
		t.Errorf("Expected 0.3679, got %f", p)
	}
}

// TestPDFMatchesReference compares against gonum's shape/rate Gamma and the
// direct closed form
func TestPDFMatchesReference(t *testing.T) {
	testCases := []struct {
		y, alpha, beta float64
	}{
		{0.5, 0.5, 1},
		{1, 1, 1},
		{2.5, 3, 0.7},
		{10, 4.2, 2},
		{1025, 7, 150},
		{300, 40, 8},
	}

	for _, tc := range testCases {
		p, err := PDF(tc.y, tc.alpha, tc.beta)
		if err != nil {
			t.Fatalf("PDF(%v) failed: %v", tc, err)
		}

		ref := distuv.Gamma{Alpha: tc.alpha, Beta: 1 / tc.beta}.Prob(tc.y)
		if relErr(p, ref) > 1e-9 {
			t.Errorf("PDF(%v): expected %g from distuv, got %g", tc, ref, p)
		}

		direct := math.Pow(tc.y, tc.alpha-1) * math.Exp(-tc.y/tc.beta) /
			(math.Pow(tc.beta, tc.alpha) * math.Gamma(tc.alpha))
		if relErr(p, direct) > 1e-9 {
			t.Errorf("PDF(%v): expected %g from closed form, got %g", tc, direct, p)
		}
	}
}

// TestLogPDFConsistency verifies exp(LogPDF) == PDF
func TestLogPDFConsistency(t *testing.T) {
	for _, alpha := range []float64{0.3, 1, 2, 7.5, 120} {
		for _, beta := range []float64{0.1, 1, 3, 250} {
			for _, y := range []float64{0.01, 0.5, 1, 4, 90, 1300} {
				lp, err := LogPDF(y, alpha, beta)
				if err != nil {
					t.Fatalf("LogPDF failed: %v", err)
				}
				p, _ := PDF(y, alpha, beta)
				if relErr(math.Exp(lp), p) > 1e-9 {
					t.Errorf("y=%v alpha=%v beta=%v: exp(log pdf) %g, pdf %g", y, alpha, beta, math.Exp(lp), p)
				}
			}
		}
	}
}

// TestPDFIntegratesToOne integrates the density numerically
func TestPDFIntegratesToOne(t *testing.T) {
	testCases := []struct {
		alpha, beta, upper float64
	}{
		{1, 1, 60},
		{2, 1, 60},
		{3.5, 2, 150},
		{9, 0.5, 40},
		{20, 10, 800},
	}

	for _, tc := range testCases {
		f := func(y float64) float64 {
			p, _ := PDF(y, tc.alpha, tc.beta)
			return p
		}
		integral := quad.Fixed(f, 0, tc.upper, 500, nil, 0)
		if math.Abs(integral-1) > 1e-6 {
			t.Errorf("alpha=%v beta=%v: expected integral 1, got %.9f", tc.alpha, tc.beta, integral)
		}
	}
}

// TestPDFSaturation verifies that overflowing intermediate terms never leak
// NaN or Inf
func TestPDFSaturation(t *testing.T) {
	// beta^alpha and y^(alpha-1) overflow in the direct form
	testCases := []struct {
		y, alpha, beta float64
	}{
		{5000, 500, 10},
		{1e6, 800, 1e3},
		{1e-300, 400, 1e-3},
		{1e308, 2, 1e-300},
	}
	for _, tc := range testCases {
		p, err := PDF(tc.y, tc.alpha, tc.beta)
		if err != nil {
			t.Fatalf("PDF(%v) failed: %v", tc, err)
		}
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Errorf("PDF(%v): expected a finite value, got %v", tc, p)
		}
	}

	p, _ := PDF(5000, 500, 10)
	ref := distuv.Gamma{Alpha: 500, Beta: 0.1}.Prob(5000)
	if relErr(p, ref) > 1e-9 {
		t.Errorf("Expected %g, got %g", ref, p)
	}
}

func TestPDFSupportEdges(t *testing.T) {
	if p, _ := PDF(-1, 2, 1); p != 0 {
		t.Errorf("Expected 0 below the support, got %f", p)
	}
	if p, _ := PDF(0, 2, 1); p != 0 {
		t.Errorf("Expected 0 at y=0 for alpha>1, got %f", p)
	}
	if p, _ := PDF(0, 1, 4); p != 0.25 {
		t.Errorf("Expected 1/beta at y=0 for alpha=1, got %f", p)
	}
	if p, _ := PDF(0, 0.5, 1); !math.IsInf(p, 1) {
		t.Errorf("Expected +Inf at y=0 for alpha<1, got %f", p)
	}
}

// TestInvalidParameters verifies the eager domain checks
func TestInvalidParameters(t *testing.T) {
	bad := []struct {
		name string
		fn   func() error
	}{
		{"zero alpha", func() error { _, err := PDF(1, 0, 1); return err }},
		{"negative beta", func() error { _, err := PDF(1, 1, -2); return err }},
		{"NaN alpha", func() error { _, err := PDF(1, math.NaN(), 1); return err }},
		{"log of zero", func() error { _, err := LogPDF(0, 2, 1); return err }},
		{"log of negative", func() error { _, err := LogPDF(-3, 2, 1); return err }},
		{"x below delta", func() error { _, err := NonCentralPDF(1, 2, 1, 2); return err }},
		{"length mismatch", func() error { _, err := PDFs(nil, 1, []float64{1, 2}, []float64{1}); return err }},
		{"bad component", func() error { _, err := PDFs(nil, 1, []float64{1, 0}, []float64{1, 1}); return err }},
		{"short dst", func() error { _, err := PDFs(make([]float64, 1), 1, []float64{1, 2}, []float64{1, 1}); return err }},
	}
	for _, tc := range bad {
		if err := tc.fn(); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", tc.name, err)
		}
	}
}

func TestNonCentralPDF(t *testing.T) {
	delta := -1025.0
	x := -1000.0
	p, err := NonCentralPDF(x, 3, 10, delta)
	if err != nil {
		t.Fatalf("NonCentralPDF failed: %v", err)
	}
	want, _ := PDF(x-delta, 3, 10)
	if p != want {
		t.Errorf("Expected %g, got %g", want, p)
	}

	if p, err := NonCentralPDF(delta, 1, 2, delta); err != nil || p != 0.5 {
		t.Errorf("Expected 0.5 at x=delta, got %v (%v)", p, err)
	}
}

// TestEquation18 verifies the weighted per-component densities
func TestEquation18(t *testing.T) {
	phi := []float64{2, 0.5, 0}
	alpha := []float64{2, 3, 1}
	beta := []float64{1, 2, 1}

	got, err := Equation18(nil, 1, phi, alpha, beta)
	if err != nil {
		t.Fatalf("Equation18 failed: %v", err)
	}
	for c := range phi {
		p, _ := PDF(1, alpha[c], beta[c])
		if math.Abs(got[c]-phi[c]*p) > 1e-15 {
			t.Errorf("Component %d: expected %g, got %g", c, phi[c]*p, got[c])
		}
	}

	dst := make([]float64, 3)
	out, _ := Equation18(dst, 1, phi, alpha, beta)
	if &out[0] != &dst[0] {
		t.Errorf("Expected Equation18 to write into the provided slice")
	}

	if _, err := Equation18(nil, 1, phi[:2], alpha, beta); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for weight length mismatch, got %v", err)
	}
}
