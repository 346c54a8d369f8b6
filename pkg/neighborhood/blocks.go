// Package neighborhood partitions arrays into neighborhood blocks and moves
// values between fine per-pixel grids and coarse per-neighborhood grids.
package neighborhood

import (
	"fmt"

	"ctcharacterization/pkg/ndarray"
)

// View locates one block inside its backing array.
type View struct {
	Origin []int
	Extent []int
}

// Blocks is a grid of equally sized, non-overlapping views into a backing
// array. Block coordinate b covers [b*shape, (b+1)*shape) on every axis.
type Blocks struct {
	src   *ndarray.Array
	shape []int
	grid  []int
}

// BlockMatrix splits a into blocks of the given shape. Every axis of a must
// be divisible by the matching axis of shape.
func BlockMatrix(a *ndarray.Array, shape []int) (*Blocks, error) {
	if len(shape) != a.NDim() {
		return nil, fmt.Errorf("%w: block shape %v for array shape %v", ndarray.ErrShapeMismatch, shape, a.Shape())
	}
	grid := make([]int, len(shape))
	for k, s := range shape {
		if s <= 0 || a.Dim(k)%s != 0 {
			return nil, fmt.Errorf("%w: axis %d of length %d is not divisible by %d",
				ndarray.ErrShapeMismatch, k, a.Dim(k), s)
		}
		grid[k] = a.Dim(k) / s
	}
	return &Blocks{
		src:   a,
		shape: append([]int(nil), shape...),
		grid:  grid,
	}, nil
}

// Grid returns the number of blocks along each axis.
func (b *Blocks) Grid() []int { return append([]int(nil), b.grid...) }

// BlockShape returns the shape shared by every block.
func (b *Blocks) BlockShape() []int { return append([]int(nil), b.shape...) }

// Len returns the number of blocks.
func (b *Blocks) Len() int {
	n, _ := ndarray.Size(b.grid)
	return n
}

// Coords lists every block coordinate in C order.
func (b *Blocks) Coords() [][]int {
	all, _ := ndarray.AllIndices(b.grid)
	return all
}

// View returns the region covered by the block at coord.
func (b *Blocks) View(coord []int) (View, error) {
	if _, err := ndarray.Ravel(coord, b.grid); err != nil {
		return View{}, err
	}
	origin := make([]int, len(coord))
	for k, c := range coord {
		origin[k] = c * b.shape[k]
	}
	return View{Origin: origin, Extent: b.BlockShape()}, nil
}

// Block copies the block at coord into a new array.
func (b *Blocks) Block(coord []int) (*ndarray.Array, error) {
	v, err := b.View(coord)
	if err != nil {
		return nil, err
	}
	out, err := ndarray.New(v.Extent...)
	if err != nil {
		return nil, err
	}
	dst := out.Data()
	n := 0
	eachRun(b.src, v, func(off, length int) {
		copy(dst[n:n+length], b.src.Data()[off:off+length])
		n += length
	})
	return out, nil
}

// SetBlock overwrites the block at coord with the contents of src.
func (b *Blocks) SetBlock(coord []int, src *ndarray.Array) error {
	v, err := b.View(coord)
	if err != nil {
		return err
	}
	if !ndarray.EqualShape(src.Shape(), v.Extent) {
		return fmt.Errorf("%w: block of shape %v written into view of shape %v",
			ndarray.ErrShapeMismatch, src.Shape(), v.Extent)
	}
	data := src.Data()
	n := 0
	eachRun(b.src, v, func(off, length int) {
		copy(b.src.Data()[off:off+length], data[n:n+length])
		n += length
	})
	return nil
}

// Sum adds up the elements of the block at coord.
func (b *Blocks) Sum(coord []int) (float64, error) {
	v, err := b.View(coord)
	if err != nil {
		return 0, err
	}
	var s float64
	eachRun(b.src, v, func(off, length int) {
		for _, x := range b.src.Data()[off : off+length] {
			s += x
		}
	})
	return s, nil
}

// SumOverEachNeighborhood reduces every block to the sum of its elements.
// The result has the grid's shape.
func SumOverEachNeighborhood(b *Blocks) (*ndarray.Array, error) {
	out, err := ndarray.New(b.grid...)
	if err != nil {
		return nil, err
	}
	for l, coord := range b.Coords() {
		s, err := b.Sum(coord)
		if err != nil {
			return nil, err
		}
		out.Data()[l] = s
	}
	return out, nil
}

// Assemble concatenates equally shaped blocks, given in C order of grid,
// back into one array.
func Assemble(grid []int, blocks []*ndarray.Array) (*ndarray.Array, error) {
	n, err := ndarray.Size(grid)
	if err != nil {
		return nil, err
	}
	if len(blocks) != n {
		return nil, fmt.Errorf("%w: %d blocks for grid %v", ndarray.ErrShapeMismatch, len(blocks), grid)
	}
	shape := blocks[0].Shape()
	if len(shape) != len(grid) {
		return nil, fmt.Errorf("%w: block shape %v for grid %v", ndarray.ErrShapeMismatch, shape, grid)
	}
	full := make([]int, len(grid))
	for k := range grid {
		full[k] = grid[k] * shape[k]
	}
	out, err := ndarray.New(full...)
	if err != nil {
		return nil, err
	}
	dst, err := BlockMatrix(out, shape)
	if err != nil {
		return nil, err
	}
	for l, coord := range dst.Coords() {
		if err := dst.SetBlock(coord, blocks[l]); err != nil {
			return nil, fmt.Errorf("block %v: %w", coord, err)
		}
	}
	return out, nil
}

// eachRun calls fn for every contiguous last-axis run of v inside a, in C
// order, with the run's offset into a's backing slice.
func eachRun(a *ndarray.Array, v View, fn func(off, length int)) {
	nd := len(v.Extent)
	strides := ndarray.Strides(a.Shape())
	length := v.Extent[nd-1]

	outer := v.Extent[:nd-1]
	count := 1
	for _, e := range outer {
		count *= e
	}
	idx := make([]int, nd-1)
	for r := 0; r < count; r++ {
		rem := r
		for k := nd - 2; k >= 0; k-- {
			idx[k] = rem % outer[k]
			rem /= outer[k]
		}
		off := v.Origin[nd-1] * strides[nd-1]
		for k := 0; k < nd-1; k++ {
			off += (v.Origin[k] + idx[k]) * strides[k]
		}
		fn(off, length)
	}
}
