package ndarray

import "fmt"

// MultiIndex decomposes each linear index into its coordinate tuple within
// shape. The decomposition is mixed-radix in C order: the last axis is the
// least significant digit.
func MultiIndex(linear []int, shape []int) ([][]int, error) {
	size, err := Size(shape)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(linear))
	for n, l := range linear {
		if l < 0 || l >= size {
			return nil, fmt.Errorf("%w: linear index %d for shape %v", ErrIndexOutOfRange, l, shape)
		}
		idx := make([]int, len(shape))
		unravel(l, shape, idx)
		out[n] = idx
	}
	return out, nil
}

// AllIndices returns the coordinate of every element of shape in C order.
func AllIndices(shape []int) ([][]int, error) {
	size, err := Size(shape)
	if err != nil {
		return nil, err
	}
	linear := make([]int, size)
	for i := range linear {
		linear[i] = i
	}
	return MultiIndex(linear, shape)
}

// Ravel is the inverse of MultiIndex for a single coordinate.
func Ravel(idx []int, shape []int) (int, error) {
	if len(idx) != len(shape) {
		return 0, fmt.Errorf("%w: %d indices for %d axes", ErrShapeMismatch, len(idx), len(shape))
	}
	l := 0
	for k, i := range idx {
		if i < 0 || i >= shape[k] {
			return 0, fmt.Errorf("%w: index %v for shape %v", ErrIndexOutOfRange, idx, shape)
		}
		l = l*shape[k] + i
	}
	return l, nil
}

func unravel(l int, shape []int, idx []int) {
	for k := len(shape) - 1; k >= 0; k-- {
		idx[k] = l % shape[k]
		l /= shape[k]
	}
}

// BroadcastTile replicates a times[k] times along every axis k. Copies are
// laid out whole, one after another, so the leading block of the result
// equals a.
func BroadcastTile(a *Array, times []int) (*Array, error) {
	if len(times) != a.NDim() {
		return nil, fmt.Errorf("%w: %d repetitions for %d axes", ErrShapeMismatch, len(times), a.NDim())
	}
	shape := make([]int, len(times))
	for k, t := range times {
		if t <= 0 {
			return nil, fmt.Errorf("%w: non-positive repetition %v", ErrShapeMismatch, times)
		}
		shape[k] = a.shape[k] * t
	}
	out, err := New(shape...)
	if err != nil {
		return nil, err
	}

	idx := make([]int, len(shape))
	for l := range out.data {
		unravel(l, shape, idx)
		src := 0
		for k, i := range idx {
			src += (i % a.shape[k]) * a.strides[k]
		}
		out.data[l] = a.data[src]
	}
	return out, nil
}
