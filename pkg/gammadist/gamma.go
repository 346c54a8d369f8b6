// Package gammadist evaluates central and non-central Gamma densities in
// shape/scale form, the emission model of the tissue mixture.
package gammadist

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameter reports a density argument outside its domain.
var ErrInvalidParameter = errors.New("invalid parameter")

func checkShapeScale(alpha, beta float64) error {
	if !(alpha > 0) || !(beta > 0) || math.IsInf(alpha, 1) || math.IsInf(beta, 1) {
		return fmt.Errorf("%w: alpha and beta must be positive and finite, alpha: %v, beta: %v",
			ErrInvalidParameter, alpha, beta)
	}
	return nil
}

// LogPDF returns the log density
//
//	(alpha-1)*log(y) - y/beta - alpha*log(beta) - logΓ(alpha)
//
// of a Gamma(alpha, beta) variable at y. y must be strictly positive.
func LogPDF(y, alpha, beta float64) (float64, error) {
	if err := checkShapeScale(alpha, beta); err != nil {
		return 0, err
	}
	if !(y > 0) || math.IsInf(y, 1) {
		return 0, fmt.Errorf("%w: log density needs a positive finite y, got %v", ErrInvalidParameter, y)
	}
	return logPDF(y, alpha, beta), nil
}

func logPDF(y, alpha, beta float64) float64 {
	lg, _ := math.Lgamma(alpha)
	return (alpha-1)*math.Log(y) - y/beta - alpha*math.Log(beta) - lg
}

// PDF returns the density y^(alpha-1) * exp(-y/beta) / (beta^alpha * Γ(alpha)).
//
// The density is computed through its logarithm, so terms such as
// beta^alpha never overflow; a result that saturates to NaN is reported as
// 0. Values of y below zero lie outside the support and have density 0.
func PDF(y, alpha, beta float64) (float64, error) {
	if err := checkShapeScale(alpha, beta); err != nil {
		return 0, err
	}
	return pdf(y, alpha, beta), nil
}

func pdf(y, alpha, beta float64) float64 {
	switch {
	case math.IsNaN(y):
		return 0
	case y < 0, math.IsInf(y, 1):
		return 0
	case y == 0:
		switch {
		case alpha < 1:
			return math.Inf(1)
		case alpha == 1:
			return 1 / beta
		default:
			return 0
		}
	}
	p := math.Exp(logPDF(y, alpha, beta))
	if math.IsNaN(p) {
		return 0
	}
	return p
}

// NonCentralPDF evaluates the Gamma density of x shifted by delta. x must
// not be smaller than delta.
func NonCentralPDF(x, alpha, beta, delta float64) (float64, error) {
	if !(x >= delta) {
		return 0, fmt.Errorf("%w: x must be more than or equal to delta, x: %v, delta: %v",
			ErrInvalidParameter, x, delta)
	}
	return PDF(x-delta, alpha, beta)
}

// PDFs evaluates the density of y under every (alpha[c], beta[c]) pair. The
// result is written to dst, which is allocated when nil.
func PDFs(dst []float64, y float64, alpha, beta []float64) ([]float64, error) {
	if len(alpha) != len(beta) {
		return nil, fmt.Errorf("%w: %d shapes for %d scales", ErrInvalidParameter, len(alpha), len(beta))
	}
	dst, err := prepare(dst, len(alpha))
	if err != nil {
		return nil, err
	}
	for c := range alpha {
		if err := checkShapeScale(alpha[c], beta[c]); err != nil {
			return nil, fmt.Errorf("component %d: %w", c, err)
		}
		dst[c] = pdf(y, alpha[c], beta[c])
	}
	return dst, nil
}

// Equation18 returns, for every component c, the unnormalized posterior
// contribution phi[c] * PDF(y, alpha[c], beta[c]) of the observation y.
func Equation18(dst []float64, y float64, phi, alpha, beta []float64) ([]float64, error) {
	if len(phi) != len(alpha) {
		return nil, fmt.Errorf("%w: %d weights for %d components", ErrInvalidParameter, len(phi), len(alpha))
	}
	dst, err := PDFs(dst, y, alpha, beta)
	if err != nil {
		return nil, err
	}
	for c, w := range phi {
		if w == 0 {
			// 0 * Inf resolves to 0.
			dst[c] = 0
			continue
		}
		dst[c] *= w
	}
	return dst, nil
}

func prepare(dst []float64, n int) ([]float64, error) {
	if dst == nil {
		return make([]float64, n), nil
	}
	if len(dst) != n {
		return nil, fmt.Errorf("%w: destination of length %d for %d components", ErrInvalidParameter, len(dst), n)
	}
	return dst, nil
}
