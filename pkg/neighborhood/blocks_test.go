package neighborhood

import (
	"errors"
	"testing"

	"ctcharacterization/pkg/ndarray"
)

func sequence(shape ...int) *ndarray.Array {
	a, _ := ndarray.New(shape...)
	for i := range a.Data() {
		a.Data()[i] = float64(i)
	}
	return a
}

// TestBlockMatrixViews verifies that each block holds the expected slice of
// the source array
func TestBlockMatrixViews(t *testing.T) {
	a := sequence(4, 6)

	b, err := BlockMatrix(a, []int{2, 3})
	if err != nil {
		t.Fatalf("BlockMatrix failed: %v", err)
	}

	if !ndarray.EqualShape(b.Grid(), []int{2, 2}) {
		t.Fatalf("Expected grid [2 2], got %v", b.Grid())
	}

	block, err := b.Block([]int{1, 0})
	if err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			want := a.At(2+i, j)
			if got := block.At(i, j); got != want {
				t.Errorf("Block (1,0) at (%d,%d): expected %f, got %f", i, j, want, got)
			}
		}
	}

	v, _ := b.View([]int{1, 1})
	if !ndarray.EqualShape(v.Origin, []int{2, 3}) || !ndarray.EqualShape(v.Extent, []int{2, 3}) {
		t.Errorf("Expected view origin [2 3] extent [2 3], got %v %v", v.Origin, v.Extent)
	}
}

func TestBlockMatrixNotDivisible(t *testing.T) {
	a := sequence(4, 5)
	if _, err := BlockMatrix(a, []int{2, 2}); !errors.Is(err, ndarray.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if _, err := BlockMatrix(a, []int{2}); !errors.Is(err, ndarray.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for rank mismatch, got %v", err)
	}
}

// TestBlockRoundTrip verifies that splitting and re-concatenating the blocks
// reconstructs the original array exactly
func TestBlockRoundTrip(t *testing.T) {
	testCases := []struct {
		shape []int
		block []int
	}{
		{[]int{12}, []int{4}},
		{[]int{4, 6}, []int{2, 3}},
		{[]int{6, 4, 3}, []int{3, 2, 3}},
		{[]int{4, 4}, []int{4, 4}},
		{[]int{4, 4}, []int{1, 1}},
	}

	for _, tc := range testCases {
		a := sequence(tc.shape...)
		b, err := BlockMatrix(a, tc.block)
		if err != nil {
			t.Fatalf("BlockMatrix(%v, %v) failed: %v", tc.shape, tc.block, err)
		}

		var blocks []*ndarray.Array
		for _, coord := range b.Coords() {
			blk, err := b.Block(coord)
			if err != nil {
				t.Fatalf("Block(%v) failed: %v", coord, err)
			}
			blocks = append(blocks, blk)
		}

		back, err := Assemble(b.Grid(), blocks)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		if !back.SameShape(a) {
			t.Fatalf("Expected shape %v, got %v", a.Shape(), back.Shape())
		}
		for i, v := range a.Data() {
			if back.Data()[i] != v {
				t.Errorf("Shape %v block %v: element %d expected %f, got %f", tc.shape, tc.block, i, v, back.Data()[i])
			}
		}
	}
}

func TestSetBlock(t *testing.T) {
	a, _ := ndarray.New(4, 4)
	b, _ := BlockMatrix(a, []int{2, 2})

	ones, _ := ndarray.Full(1, 2, 2)
	if err := b.SetBlock([]int{0, 1}, ones); err != nil {
		t.Fatalf("SetBlock failed: %v", err)
	}
	if a.Sum() != 4 || a.At(0, 2) != 1 || a.At(1, 3) != 1 || a.At(0, 0) != 0 {
		t.Errorf("SetBlock wrote the wrong region: %v", a.Data())
	}

	wrong, _ := ndarray.Full(1, 2, 3)
	if err := b.SetBlock([]int{0, 0}, wrong); !errors.Is(err, ndarray.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if _, err := b.View([]int{2, 0}); !errors.Is(err, ndarray.ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
	}
}

// TestSumOverEachNeighborhood verifies the per-block reduction
func TestSumOverEachNeighborhood(t *testing.T) {
	a := sequence(2, 4)
	// [[0 1 2 3]
	//  [4 5 6 7]]
	b, _ := BlockMatrix(a, []int{2, 2})

	sums, err := SumOverEachNeighborhood(b)
	if err != nil {
		t.Fatalf("SumOverEachNeighborhood failed: %v", err)
	}
	if !ndarray.EqualShape(sums.Shape(), []int{1, 2}) {
		t.Fatalf("Expected shape [1 2], got %v", sums.Shape())
	}
	expected := []float64{0 + 1 + 4 + 5, 2 + 3 + 6 + 7}
	for i, want := range expected {
		if sums.Data()[i] != want {
			t.Errorf("Block %d: expected sum %f, got %f", i, want, sums.Data()[i])
		}
	}
}
