// Package ndarray provides a dense, row-major float64 array of arbitrary
// dimensionality together with the index arithmetic used to re-tile and
// partition it.
package ndarray

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShapeMismatch reports array dimensions that are inconsistent with
	// the requested operation.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrIndexOutOfRange reports a linear or multi-dimensional index that
	// falls outside an array's shape.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Array is a dense N-dimensional array stored in C (row-major) order.
type Array struct {
	shape   []int
	strides []int
	data    []float64
}

// New allocates a zero-filled array with the given shape.
func New(shape ...int) (*Array, error) {
	size, err := Size(shape)
	if err != nil {
		return nil, err
	}
	return &Array{
		shape:   append([]int(nil), shape...),
		strides: Strides(shape),
		data:    make([]float64, size),
	}, nil
}

// Full allocates an array with every element set to v.
func Full(v float64, shape ...int) (*Array, error) {
	a, err := New(shape...)
	if err != nil {
		return nil, err
	}
	for i := range a.data {
		a.data[i] = v
	}
	return a, nil
}

// FromSlice wraps data as an array of the given shape. The slice is not
// copied.
func FromSlice(data []float64, shape ...int) (*Array, error) {
	size, err := Size(shape)
	if err != nil {
		return nil, err
	}
	if size != len(data) {
		return nil, fmt.Errorf("%w: %d values cannot fill shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Array{
		shape:   append([]int(nil), shape...),
		strides: Strides(shape),
		data:    data,
	}, nil
}

// Size returns the number of elements described by shape.
func Size(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	size := 1
	for _, s := range shape {
		if s <= 0 {
			return 0, fmt.Errorf("%w: non-positive axis length in %v", ErrShapeMismatch, shape)
		}
		if size > math.MaxInt/s {
			return 0, fmt.Errorf("%w: element count of %v overflows int", ErrShapeMismatch, shape)
		}
		size *= s
	}
	return size, nil
}

// Strides returns the row-major strides, in elements, of shape.
func Strides(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for k := len(shape) - 1; k >= 0; k-- {
		strides[k] = step
		step *= shape[k]
	}
	return strides
}

// Shape returns a copy of the array's shape.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// NDim returns the number of axes.
func (a *Array) NDim() int { return len(a.shape) }

// Size returns the number of elements.
func (a *Array) Size() int { return len(a.data) }

// Dim returns the length of axis k.
func (a *Array) Dim(k int) int { return a.shape[k] }

// Data returns the backing slice in row-major order.
func (a *Array) Data() []float64 { return a.data }

// Offset returns the position of idx in the backing slice.
func (a *Array) Offset(idx ...int) (int, error) {
	if len(idx) != len(a.shape) {
		return 0, fmt.Errorf("%w: %d indices for %d axes", ErrShapeMismatch, len(idx), len(a.shape))
	}
	off := 0
	for k, i := range idx {
		if i < 0 || i >= a.shape[k] {
			return 0, fmt.Errorf("%w: index %v for shape %v", ErrIndexOutOfRange, idx, a.shape)
		}
		off += i * a.strides[k]
	}
	return off, nil
}

// At returns the element at idx. It panics if idx is out of range.
func (a *Array) At(idx ...int) float64 {
	off, err := a.Offset(idx...)
	if err != nil {
		panic(err)
	}
	return a.data[off]
}

// Set stores v at idx. It panics if idx is out of range.
func (a *Array) Set(v float64, idx ...int) {
	off, err := a.Offset(idx...)
	if err != nil {
		panic(err)
	}
	a.data[off] = v
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{
		shape:   a.Shape(),
		strides: append([]int(nil), a.strides...),
		data:    append([]float64(nil), a.data...),
	}
}

// Reshape returns an array sharing a's storage with a new shape of the same
// size.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	return FromSlice(a.data, shape...)
}

// SameShape reports whether a and b have identical shapes.
func (a *Array) SameShape(b *Array) bool {
	return EqualShape(a.shape, b.shape)
}

// EqualShape reports whether two shapes are identical.
func EqualShape(s, t []int) bool {
	if len(s) != len(t) {
		return false
	}
	for k := range s {
		if s[k] != t[k] {
			return false
		}
	}
	return true
}

// Sum returns the sum of all elements.
func (a *Array) Sum() float64 { return floats.Sum(a.data) }

// Matrix returns a gonum matrix sharing the storage of a 2D array.
func (a *Array) Matrix() (*mat.Dense, error) {
	if len(a.shape) != 2 {
		return nil, fmt.Errorf("%w: matrix view needs 2 axes, got shape %v", ErrShapeMismatch, a.shape)
	}
	return mat.NewDense(a.shape[0], a.shape[1], a.data), nil
}

// Index returns the sub-array obtained by fixing axis to position i. The
// result is a copy with one axis fewer.
func (a *Array) Index(axis, i int) (*Array, error) {
	if axis < 0 || axis >= len(a.shape) {
		return nil, fmt.Errorf("%w: axis %d for shape %v", ErrShapeMismatch, axis, a.shape)
	}
	if len(a.shape) == 1 {
		return nil, fmt.Errorf("%w: cannot drop the only axis", ErrShapeMismatch)
	}
	if i < 0 || i >= a.shape[axis] {
		return nil, fmt.Errorf("%w: position %d on axis %d with length %d", ErrIndexOutOfRange, i, axis, a.shape[axis])
	}
	shape := make([]int, 0, len(a.shape)-1)
	shape = append(shape, a.shape[:axis]...)
	shape = append(shape, a.shape[axis+1:]...)
	out, err := New(shape...)
	if err != nil {
		return nil, err
	}

	outer := 1
	for _, s := range a.shape[:axis] {
		outer *= s
	}
	inner := a.strides[axis]
	for o := 0; o < outer; o++ {
		src := o*a.shape[axis]*inner + i*inner
		copy(out.data[o*inner:(o+1)*inner], a.data[src:src+inner])
	}
	return out, nil
}
