package partition

import (
	"fmt"
	"slices"

	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/shapes"
)

// Table describes where each worker's local buffer is placed in the reconstructed global buffer:
// Counts[r] elements starting at Offsets[r], for every rank r.
//
// Offsets[0] == 0 and Offsets[r+1] == Offsets[r] + Counts[r].
type Table struct {
	Counts  []int
	Offsets []int
}

// NewTable returns the placement table of a global shape split across a group of the given size.
// Counts are in number of elements (not rows): the local extent times global.RowSize().
func NewTable(global shapes.Shape, size int) (Table, error) {
	if err := global.Validate(); err != nil {
		return Table{}, faults.Wrap(faults.PreconditionViolation, err, "NewTable")
	}
	if global.Rank() == 0 {
		return Table{}, faults.Preconditionf("cannot build a partition table for scalar shape %s", global)
	}
	ranges, err := Slices(global.Dimensions[0], size)
	if err != nil {
		return Table{}, err
	}
	rowSize := global.RowSize()
	t := Table{Counts: make([]int, size), Offsets: make([]int, size)}
	offset := 0
	for rank, s := range ranges {
		t.Counts[rank] = s.Len() * rowSize
		t.Offsets[rank] = offset
		offset += t.Counts[rank]
	}
	return t, nil
}

// Size returns the number of ranks described.
func (t Table) Size() int { return len(t.Counts) }

// Total returns the number of elements of the reconstructed global buffer.
func (t Table) Total() int {
	if len(t.Counts) == 0 {
		return 0
	}
	last := len(t.Counts) - 1
	return t.Offsets[last] + t.Counts[last]
}

// Scaled returns a copy of the table with every count and offset multiplied by factor,
// typically the element size in bytes.
func (t Table) Scaled(factor int) Table {
	scaled := Table{Counts: slices.Clone(t.Counts), Offsets: slices.Clone(t.Offsets)}
	for i := range scaled.Counts {
		scaled.Counts[i] *= factor
		scaled.Offsets[i] *= factor
	}
	return scaled
}

// Equal returns whether both tables have the same counts and offsets.
func (t Table) Equal(t2 Table) bool {
	return slices.Equal(t.Counts, t2.Counts) && slices.Equal(t.Offsets, t2.Offsets)
}

// String implements fmt.Stringer.
func (t Table) String() string {
	return fmt.Sprintf("Table(counts=%v, offsets=%v)", t.Counts, t.Offsets)
}
