// Package partition computes how a global extent is split across the workers of a group.
//
// The split is along the first axis only, and it is load-balanced: every worker gets
// nglobal/size rows, and the nglobal%size remaining rows go one each to the lowest ranks.
// Slices are contiguous and ordered by rank, so they tile [0, nglobal) exactly.
//
// All functions are pure: workers computing with the same (nglobal, size) obtain mutually
// consistent slices without communicating.
//
// Example, nglobal=16 over 3 workers:
//
//	rank 0: [0, 6)
//	rank 1: [6, 11)
//	rank 2: [11, 16)
package partition

import (
	"fmt"

	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/shapes"
)

// Slice is the half-open range [Start, Stop) of rows of the global first axis owned by a worker.
type Slice struct {
	Start, Stop int
}

// Len returns the number of rows in the slice.
func (s Slice) Len() int { return s.Stop - s.Start }

// String implements fmt.Stringer.
func (s Slice) String() string { return fmt.Sprintf("[%d:%d)", s.Start, s.Stop) }

func checkArgs(nglobal, rank, size int) error {
	if size <= 0 {
		return faults.Preconditionf("group size must be positive, got %d", size)
	}
	if rank < 0 || rank >= size {
		return faults.Preconditionf("rank %d out of range [0, %d)", rank, size)
	}
	if nglobal < 0 {
		return faults.Preconditionf("global extent must be non-negative, got %d", nglobal)
	}
	return nil
}

// LocalExtent returns the number of rows of a global extent nglobal owned by worker rank in a
// group of the given size.
func LocalExtent(nglobal, rank, size int) (int, error) {
	if err := checkArgs(nglobal, rank, size); err != nil {
		return 0, err
	}
	extent := nglobal / size
	if nglobal%size > rank {
		extent++
	}
	return extent, nil
}

// LocalSlice returns the rows [Start, Stop) of the global extent owned by worker rank.
func LocalSlice(nglobal, rank, size int) (Slice, error) {
	extent, err := LocalExtent(nglobal, rank, size)
	if err != nil {
		return Slice{}, err
	}
	start := (nglobal/size)*rank + min(rank, nglobal%size)
	return Slice{Start: start, Stop: start + extent}, nil
}

// Slices returns the slices of all ranks of a group, in rank order.
func Slices(nglobal, size int) ([]Slice, error) {
	if size <= 0 {
		return nil, faults.Preconditionf("group size must be positive, got %d", size)
	}
	slices := make([]Slice, size)
	for rank := range slices {
		s, err := LocalSlice(nglobal, rank, size)
		if err != nil {
			return nil, err
		}
		slices[rank] = s
	}
	return slices, nil
}

// LocalShape returns the shape of worker rank's share of a global shape: the first dimension is
// replaced by the local extent, the other dimensions and the dtype are kept.
//
// A scalar global shape cannot be split: it is returned as is for a group of size 1, and it is a
// PreconditionViolation for larger groups.
func LocalShape(global shapes.Shape, rank, size int) (shapes.Shape, error) {
	if err := global.Validate(); err != nil {
		return shapes.Invalid(), faults.Wrap(faults.PreconditionViolation, err, "LocalShape")
	}
	if global.Rank() == 0 {
		if err := checkArgs(0, rank, size); err != nil {
			return shapes.Invalid(), err
		}
		if size > 1 {
			return shapes.Invalid(), faults.Preconditionf(
				"it is ambiguous to split a scalar (shape %s) across %d workers", global, size)
		}
		return global.Clone(), nil
	}
	extent, err := LocalExtent(global.Dimensions[0], rank, size)
	if err != nil {
		return shapes.Invalid(), err
	}
	return global.WithFirstDim(extent), nil
}
