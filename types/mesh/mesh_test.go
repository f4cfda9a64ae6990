package mesh_test

import (
	"testing"

	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMesh(t *testing.T) {
	t.Run("NewMesh_Valid", func(t *testing.T) {
		tests := []struct {
			name       string
			sizes      []int
			axesNames  []string
			wantRank   int
			wantNum    int
			wantString string
		}{
			{"1D mesh", []int{8}, []string{"replica"}, 1, 8, "Mesh(axesSizes={replica: 8})"},
			{"2D mesh", []int{2, 4}, []string{"x", "y"}, 2, 8, "Mesh(axesSizes={x: 2, y: 4})"},
			{"3D mesh", []int{2, 2, 2}, []string{"x", "y", "z"}, 3, 8, "Mesh(axesSizes={x: 2, y: 2, z: 2})"},
			{"single worker", []int{1}, []string{"replica"}, 1, 1, "Mesh(axesSizes={replica: 1})"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m, err := mesh.NewMesh(tt.sizes, tt.axesNames)
				require.NoError(t, err)
				assert.Equal(t, tt.wantRank, m.Rank())
				assert.Equal(t, tt.wantNum, m.NumWorkers())
				assert.Equal(t, tt.wantString, m.String())
			})
		}
	})

	t.Run("NewMesh_Errors", func(t *testing.T) {
		tests := []struct {
			name      string
			sizes     []int
			axesNames []string
			wantErr   string
		}{
			{"mismatched lengths", []int{2, 4}, []string{"x"}, "must have the same length"},
			{"empty", []int{}, []string{}, "cannot be empty"},
			{"empty axis name", []int{4}, []string{""}, "axis name at index 0 cannot be empty"},
			{"duplicate axis names", []int{2, 4}, []string{"x", "x"}, `axis name "x" is duplicated`},
			{"invalid axis name", []int{2}, []string{"my-axis"}, `suggestion "my_axis"`},
			{"zero size", []int{2, 0}, []string{"x", "y"}, "must have a positive size"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m, err := mesh.NewMesh(tt.sizes, tt.axesNames)
				require.Error(t, err)
				assert.Nil(t, m)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, faults.Is(err, faults.PreconditionViolation))
			})
		}
	})

	t.Run("Accessors", func(t *testing.T) {
		m, err := mesh.NewMesh([]int{2, 4}, []string{"x", "y"})
		require.NoError(t, err)

		names := m.AxesNames()
		names[0] = "modified"
		assert.Equal(t, []string{"x", "y"}, m.AxesNames())

		sizes := m.AxesSizes()
		sizes[0] = 99
		assert.Equal(t, []int{2, 4}, m.AxesSizes())

		size, err := m.AxisSize("y")
		require.NoError(t, err)
		assert.Equal(t, 4, size)
		_, err = m.AxisSize("z")
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("RankAssignment", func(t *testing.T) {
		m, err := mesh.NewMesh([]int{4}, []string{"replica"})
		require.NoError(t, err)
		assert.Nil(t, m.RankAssignment())
		assert.Equal(t, 2, m.GlobalRank(2))

		require.NoError(t, m.SetRankAssignment(3, 2, 1, 0))
		assert.Equal(t, []int{3, 2, 1, 0}, m.RankAssignment())
		assert.Equal(t, 1, m.GlobalRank(2))
		assert.Equal(t, "Mesh(axesSizes={replica: 4}, ranks=[3 2 1 0])", m.String())

		assert.ErrorContains(t, m.SetRankAssignment(0, 1, 2), "must have 4 elements")
		assert.ErrorContains(t, m.SetRankAssignment(0, 1, 1, 3), "rank #1 is duplicated")
		assert.ErrorContains(t, m.SetRankAssignment(0, 1, -1, 3), "got rank -1")
		assert.ErrorContains(t, m.SetRankAssignment(0, 1, 2, 4), "got rank 4")

		require.NoError(t, m.SetRankAssignment())
		assert.Nil(t, m.RankAssignment())
	})
}

func TestComputeReplicaGroups(t *testing.T) {
	m, err := mesh.NewMesh([]int{2, 2}, []string{"batch", "data"})
	require.NoError(t, err)

	tests := []struct {
		name string
		axes []string
		want [][]int
	}{
		{"batch", []string{"batch"}, [][]int{{0, 2}, {1, 3}}},
		{"data", []string{"data"}, [][]int{{0, 1}, {2, 3}}},
		{"global", []string{"batch", "data"}, [][]int{{0, 1, 2, 3}}},
		{"reversed axes order", []string{"data", "batch"}, [][]int{{0, 2, 1, 3}}},
		{"no axes", nil, [][]int{{0}, {1}, {2}, {3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := m.ComputeReplicaGroups(tt.axes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, groups)
		})
	}

	t.Run("3D mesh", func(t *testing.T) {
		m, err := mesh.NewMesh([]int{2, 2, 2}, []string{"x", "y", "z"})
		require.NoError(t, err)
		groups, err := m.ComputeReplicaGroups([]string{"x", "z"})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{0, 1, 4, 5}, {2, 3, 6, 7}}, groups)
	})

	t.Run("with rank assignment", func(t *testing.T) {
		m, err := mesh.NewMesh([]int{2, 2}, []string{"batch", "data"})
		require.NoError(t, err)
		require.NoError(t, m.SetRankAssignment(3, 2, 1, 0))
		groups, err := m.ComputeReplicaGroups([]string{"data"})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{3, 2}, {1, 0}}, groups)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := m.ComputeReplicaGroups([]string{"model"})
		assert.ErrorContains(t, err, "not found in mesh")
		_, err = m.ComputeReplicaGroups([]string{"data", "data"})
		assert.ErrorContains(t, err, "is duplicated")
	})
}
