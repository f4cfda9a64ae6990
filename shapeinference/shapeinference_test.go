package shapeinference

import (
	"math"
	"testing"

	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Aliases for the tests.
var (
	S   = shapes.Make
	F32 = dtypes.Float32
	F64 = dtypes.Float64
	I32 = dtypes.Int32
	C64 = dtypes.Complex64
)

func TestScatterGather(t *testing.T) {
	local, err := ScatterGather(S(F32, 16, 2), 0, 3)
	require.NoError(t, err)
	assert.True(t, S(F32, 6, 2).Equal(local))
	local, err = ScatterGather(S(F32, 16, 2), 2, 3)
	require.NoError(t, err)
	assert.True(t, S(F32, 5, 2).Equal(local))

	for _, global := range []shapes.Shape{shapes.Invalid(), S(F32), S(F32, 3, -1), S(dtypes.InvalidDType, 3)} {
		_, err = ScatterGather(global, 0, 1)
		assert.True(t, faults.Is(err, faults.PreconditionViolation), "global=%s: %v", global, err)
	}
	_, err = ScatterGather(S(F32, 3), 3, 3)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
}

func TestBuffers(t *testing.T) {
	want := S(F32, 3, 2)
	require.NoError(t, Input("Forward", want, S(F32, 3, 2)))
	require.NoError(t, Input("Forward", want, S(F64, 3, 2)))
	require.NoError(t, Input("Forward", S(C64, 3), S(I32, 3)))
	assert.True(t, faults.Is(Input("Forward", want, S(F32, 2, 3)), faults.ShapeMismatch))
	assert.True(t, faults.Is(Input("Forward", want, S(C64, 3, 2)), faults.ShapeMismatch))

	require.NoError(t, Output("Adjoint", want, S(F32, 3, 2)))
	err := Output("Adjoint", want, S(F64, 3, 2))
	assert.True(t, faults.Is(err, faults.ShapeMismatch))
	assert.ErrorContains(t, err, "Adjoint: output shape (Float64)[3 2] doesn't match the expected (Float32)[3 2]")
}

func TestCollectiveOps(t *testing.T) {
	t.Run("GatherVariable", func(t *testing.T) {
		counts, offsets := []int{24, 20, 20}, []int{0, 24, 44}
		require.NoError(t, GatherVariable(1, 20, counts, offsets, 64))
		require.NoError(t, GatherVariable(0, 24, counts, offsets, 100))
		assert.True(t, faults.Is(GatherVariable(1, 24, counts, offsets, 64), faults.ShapeMismatch))
		assert.True(t, faults.Is(GatherVariable(1, 20, counts, offsets, 60), faults.ShapeMismatch))
		assert.True(t, faults.Is(GatherVariable(3, 20, counts, offsets, 64), faults.PreconditionViolation))
		assert.True(t, faults.Is(GatherVariable(0, 24, counts, offsets[:2], 64), faults.PreconditionViolation))
		assert.True(t, faults.Is(GatherVariable(0, 24, counts, []int{0, 20, 44}, 64), faults.PreconditionViolation),
			"overlapping placements")

		assert.True(t, faults.Is(GatherVariable(0, 1, []int{1, 5}, []int{0, math.MaxInt - 1}, math.MaxInt), faults.ShapeMismatch),
			"placement end overflows")
		assert.True(t, faults.Is(GatherVariable(0, 1, []int{1, 1}, []int{-1, 0}, 8), faults.PreconditionViolation))

		// Workers with no rows contribute zero bytes.
		require.NoError(t, GatherVariable(3, 0, []int{4, 4, 0, 0}, []int{0, 4, 8, 8}, 8))
	})

	t.Run("AllReduceSum", func(t *testing.T) {
		require.NoError(t, AllReduceSum(F32, 12))
		require.NoError(t, AllReduceSum(F32, 0))
		assert.True(t, faults.Is(AllReduceSum(F32, 6), faults.ShapeMismatch))
		assert.True(t, faults.Is(AllReduceSum(dtypes.Bool, 4), faults.PreconditionViolation))
	})
}
