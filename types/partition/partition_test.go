package partition

import (
	"testing"

	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExtent(t *testing.T) {
	for size := 1; size <= 9; size++ {
		for nglobal := 0; nglobal <= 40; nglobal++ {
			total := 0
			minExtent, maxExtent := nglobal, 0
			for rank := 0; rank < size; rank++ {
				extent, err := LocalExtent(nglobal, rank, size)
				require.NoError(t, err)
				total += extent
				minExtent = min(minExtent, extent)
				maxExtent = max(maxExtent, extent)
				if rank > 0 {
					previous, _ := LocalExtent(nglobal, rank-1, size)
					assert.GreaterOrEqual(t, previous, extent, "remainder must go to the lowest ranks first")
				}
			}
			assert.Equal(t, nglobal, total, "nglobal=%d, size=%d", nglobal, size)
			assert.LessOrEqual(t, maxExtent-minExtent, 1, "nglobal=%d, size=%d", nglobal, size)
		}
	}
}

func TestLocalSlice(t *testing.T) {
	for size := 1; size <= 9; size++ {
		for nglobal := 0; nglobal <= 40; nglobal++ {
			ranges, err := Slices(nglobal, size)
			require.NoError(t, err)
			require.Len(t, ranges, size)
			assert.Equal(t, 0, ranges[0].Start)
			assert.Equal(t, nglobal, ranges[size-1].Stop)
			for rank, s := range ranges {
				extent, _ := LocalExtent(nglobal, rank, size)
				assert.Equal(t, extent, s.Len())
				if rank > 0 {
					assert.Equal(t, ranges[rank-1].Stop, s.Start, "gap or overlap at rank %d", rank)
				}
			}
		}
	}

	t.Run("NonDivisible", func(t *testing.T) {
		ranges, err := Slices(16, 3)
		require.NoError(t, err)
		assert.Equal(t, []Slice{{0, 6}, {6, 11}, {11, 16}}, ranges)
		assert.Equal(t, "[6:11)", ranges[1].String())
	})

	t.Run("MoreWorkersThanRows", func(t *testing.T) {
		ranges, err := Slices(2, 4)
		require.NoError(t, err)
		assert.Equal(t, []Slice{{0, 1}, {1, 2}, {2, 2}, {2, 2}}, ranges)
	})
}

func TestPreconditions(t *testing.T) {
	tests := []struct {
		name                string
		nglobal, rank, size int
	}{
		{"zero size", 10, 0, 0},
		{"negative size", 10, 0, -2},
		{"negative rank", 10, -1, 3},
		{"rank too large", 10, 3, 3},
		{"negative extent", -1, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LocalExtent(tt.nglobal, tt.rank, tt.size)
			require.Error(t, err)
			assert.True(t, faults.Is(err, faults.PreconditionViolation), "got %v", err)
			_, err = LocalSlice(tt.nglobal, tt.rank, tt.size)
			assert.True(t, faults.Is(err, faults.PreconditionViolation), "got %v", err)
		})
	}
	_, err := Slices(3, 0)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
}

func TestLocalShape(t *testing.T) {
	global := shapes.Make(dtypes.Float32, 16, 4, 2)
	want := []int{6, 5, 5}
	for rank, extent := range want {
		local, err := LocalShape(global, rank, 3)
		require.NoError(t, err)
		assert.Equal(t, shapes.Make(dtypes.Float32, extent, 4, 2), local)
	}
	assert.Equal(t, []int{16, 4, 2}, global.Dimensions, "global shape must not be modified")

	scalar := shapes.Make(dtypes.Float64)
	local, err := LocalShape(scalar, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, scalar, local)

	_, err = LocalShape(scalar, 0, 2)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
	assert.ErrorContains(t, err, "ambiguous to split a scalar")

	_, err = LocalShape(shapes.Invalid(), 0, 1)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
	_, err = LocalShape(global, 3, 3)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
}

func TestTable(t *testing.T) {
	table, err := NewTable(shapes.Make(dtypes.Float64, 16), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 5, 5}, table.Counts)
	assert.Equal(t, []int{0, 6, 11}, table.Offsets)
	assert.Equal(t, 16, table.Total())
	assert.Equal(t, 3, table.Size())

	// Counts are in elements: the replicated axes multiply them.
	table, err = NewTable(shapes.Make(dtypes.Float32, 16, 3), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{18, 15, 15}, table.Counts)
	assert.Equal(t, []int{0, 18, 33}, table.Offsets)

	bytes := table.Scaled(4)
	assert.Equal(t, []int{72, 60, 60}, bytes.Counts)
	assert.Equal(t, []int{0, 72, 132}, bytes.Offsets)
	assert.Equal(t, 48*4, bytes.Total())
	assert.Equal(t, []int{18, 15, 15}, table.Counts, "Scaled must not modify the original")
	assert.False(t, bytes.Equal(table))
	assert.True(t, table.Equal(table.Scaled(1)))

	for size := 1; size <= 7; size++ {
		for n := 0; n <= 20; n++ {
			table, err := NewTable(shapes.Make(dtypes.Int8, n, 2), size)
			require.NoError(t, err)
			assert.Equal(t, 0, table.Offsets[0])
			for i := 0; i+1 < size; i++ {
				assert.Equal(t, table.Offsets[i]+table.Counts[i], table.Offsets[i+1])
			}
			assert.Equal(t, 2*n, table.Total())
		}
	}

	_, err = NewTable(shapes.Make(dtypes.Float32), 1)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
	_, err = NewTable(shapes.Make(dtypes.Float32, 4), 0)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
	assert.Equal(t, 0, Table{}.Total())
}
