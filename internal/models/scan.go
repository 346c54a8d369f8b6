package models

import (
	"fmt"

	"ctcharacterization/pkg/ndarray"
)

// Scan represents CT intensities in HU
type Scan struct {
	// Data holds the intensities in row-major order; 1, 2 or 3 axes
	Data *ndarray.Array
}

// NewScan wraps data
func NewScan(data *ndarray.Array) *Scan {
	return &Scan{Data: data}
}

// Clip returns a copy of the scan with every intensity limited to [min, max]
func (s *Scan) Clip(min, max float64) (*Scan, error) {
	if min > max {
		return nil, fmt.Errorf("clip range [%v, %v] is empty", min, max)
	}
	out := s.Data.Clone()
	data := out.Data()
	for i, v := range data {
		if v < min {
			data[i] = min
		} else if v > max {
			data[i] = max
		}
	}
	return &Scan{Data: out}, nil
}

// Shifted returns Y = X - delta. Every value of Y must be strictly positive.
func (s *Scan) Shifted(delta float64) (*ndarray.Array, error) {
	out := s.Data.Clone()
	data := out.Data()
	for i := range data {
		data[i] -= delta
		if !(data[i] > 0) {
			return nil, fmt.Errorf("intensity %v at %d is not above delta %v", s.Data.Data()[i], i, delta)
		}
	}
	return out, nil
}
