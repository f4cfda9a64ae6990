// Package shapeinference validates the shapes of the distribution operators and of the buffers
// and byte layouts handed to the collectives.
//
// Every check runs locally, before any communication: a worker that fails a check returns without
// entering the collective.
//
// Errors are classified with types/faults: construction arguments yield PreconditionViolation,
// buffers that don't match the configured shapes yield ShapeMismatch.
package shapeinference

import (
	"github.com/gomlx/distop/internal/optypes"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/partition"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/distop/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// ScatterGather returns the local shape (the range of the forward application) of worker rank for
// the given global shape (the domain).
//
// The global shape must be valid, have a supported dtype, and not be a scalar: a scalar has no
// first axis to split.
func ScatterGather(global shapes.Shape, rank, size int) (local shapes.Shape, err error) {
	if err = global.Validate(); err != nil {
		return shapes.Invalid(), faults.Wrap(faults.PreconditionViolation, err, "ScatterGather: invalid global shape")
	}
	if !tensors.IsSupported(global.DType) {
		return shapes.Invalid(), faults.Preconditionf("ScatterGather: dtype %s not supported", global.DType)
	}
	if global.IsScalar() {
		return shapes.Invalid(), faults.Preconditionf(
			"ScatterGather: global shape %s is a scalar, it cannot be distributed", global)
	}
	return partition.LocalShape(global, rank, size)
}

// Input validates a buffer shape given as input to an operator application.
// Dimensions must match exactly; the dtype may differ, as long as it can be converted to want.DType.
func Input(opName string, want, got shapes.Shape) error {
	if !got.EqualDimensions(want) {
		return faults.ShapeMismatchf("%s: input shape %s doesn't match the expected %s", opName, got, want)
	}
	if got.DType != want.DType && !convertible(got.DType, want.DType) {
		return faults.ShapeMismatchf("%s: input dtype %s cannot be converted to %s", opName, got.DType, want.DType)
	}
	return nil
}

// Output validates a buffer shape given as output of an operator application: it must match want
// exactly, dtype included.
func Output(opName string, want, got shapes.Shape) error {
	if !got.Equal(want) {
		return faults.ShapeMismatchf("%s: output shape %s doesn't match the expected %s", opName, got, want)
	}
	return nil
}

func convertible(from, to dtypes.DType) bool {
	if !tensors.IsSupported(from) || !tensors.IsSupported(to) {
		return false
	}
	isComplex := func(dtype dtypes.DType) bool { return dtype == dtypes.Complex64 || dtype == dtypes.Complex128 }
	return !isComplex(from) || isComplex(to)
}

// GatherVariable validates the byte layout of a GatherVariable collective call by worker rank:
// one count and offset per worker, each placement within global, the local contribution matching
// its count, and no overlapping placements.
func GatherVariable(rank int, localLen int, counts, offsets []int, globalLen int) error {
	op := optypes.GatherVariable
	if len(counts) != len(offsets) {
		return faults.Preconditionf("%s: got %d counts but %d offsets", op, len(counts), len(offsets))
	}
	if rank < 0 || rank >= len(counts) {
		return faults.Preconditionf("%s: rank %d out of range for %d counts", op, rank, len(counts))
	}
	if counts[rank] != localLen {
		return faults.ShapeMismatchf("%s: rank %d contributes %d bytes, but its count is %d",
			op, rank, localLen, counts[rank])
	}
	end := 0
	for r := range counts {
		if counts[r] < 0 || offsets[r] < end {
			return faults.Preconditionf("%s: invalid placement of rank %d (count=%d, offset=%d): negative or overlapping",
				op, r, counts[r], offsets[r])
		}
		// offsets[r] >= end >= 0, so the subtraction can't overflow.
		if offsets[r] > globalLen || counts[r] > globalLen-offsets[r] {
			return faults.ShapeMismatchf("%s: placement of rank %d (count=%d, offset=%d) exceeds the global buffer of %d bytes",
				op, r, counts[r], offsets[r], globalLen)
		}
		end = offsets[r] + counts[r]
	}
	return nil
}

// AllReduceSum validates an AllReduceSum collective call on numBytes bytes of the given dtype.
func AllReduceSum(dtype dtypes.DType, numBytes int) error {
	op := optypes.AllReduceSum
	if !tensors.Summable(dtype) {
		return faults.Preconditionf("%s: dtype %s cannot be summed", op, dtype)
	}
	if numBytes%int(dtype.Size()) != 0 {
		return faults.ShapeMismatchf("%s: %d bytes is not a whole number of %s elements", op, numBytes, dtype)
	}
	return nil
}
