// Package mesh defines Mesh: a logical N-dimensional arrangement of the workers of a group.
//
// A mesh is used to derive sub-groups (replica groups) of workers that take part together in a
// collective operation, e.g. all workers along the "data" axis of a 2x4 mesh.
package mesh

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/distop/internal/utils"
	"github.com/gomlx/distop/types/faults"
)

// Mesh defines the logical topology of the workers of a group.
type Mesh struct {
	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of workers along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	numWorkers int

	// rankAssignment maps positions in the mesh (flat, row-major) to global ranks.
	// If nil, the assignment is sequential.
	rankAssignment []int
}

// NewMesh creates a logical topology of workers.
//
//   - axesSizes: the number of workers along each mesh axis, one positive value per axis.
//   - axesNames: the names of the mesh axes, one per axis. They must be valid identifiers: only
//     letters, digits and underscores, not starting with a digit.
//
// Workers are assigned to the mesh sequentially, in row-major order, unless changed with
// Mesh.SetRankAssignment.
func NewMesh(axesSizes []int, axesNames []string) (*Mesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, faults.Preconditionf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, faults.Preconditionf("Mesh axesSizes cannot be empty")
	}

	numWorkers := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if name == "" {
			return nil, faults.Preconditionf("Mesh axis name at index %d cannot be empty", i)
		}
		if name != utils.NormalizeIdentifier(name) {
			return nil, faults.Preconditionf("Mesh axis name %q at index %d is not a valid identifier, suggestion %q",
				name, i, utils.NormalizeIdentifier(name))
		}
		if _, found := nameToAxis[name]; found {
			return nil, faults.Preconditionf("Mesh axis name %q is duplicated", name)
		}
		if axesSizes[i] <= 0 {
			return nil, faults.Preconditionf("Mesh axis %q must have a positive size, got %d", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numWorkers *= axesSizes[i]
	}

	return &Mesh{
		axesNames:  slices.Clone(axesNames),
		axesSizes:  slices.Clone(axesSizes),
		nameToAxis: nameToAxis,
		numWorkers: numWorkers,
	}, nil
}

// NumWorkers returns the total number of workers in the mesh.
func (m *Mesh) NumWorkers() int {
	return m.numWorkers
}

// Rank returns the number of axes in the mesh.
func (m *Mesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *Mesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axes sizes.
func (m *Mesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// AxisSize returns the number of workers along the given mesh axis.
func (m *Mesh) AxisSize(axisName string) (int, error) {
	idx, found := m.nameToAxis[axisName]
	if !found {
		return 0, faults.Preconditionf("mesh axis %q not found", axisName)
	}
	return m.axesSizes[idx], nil
}

// String implements the fmt.Stringer interface.
func (m *Mesh) String() string {
	var sb strings.Builder
	sb.WriteString("Mesh(axesSizes={")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString("}")
	if len(m.rankAssignment) > 0 {
		_, _ = fmt.Fprintf(&sb, ", ranks=%v", m.rankAssignment)
	}
	sb.WriteString(")")
	return sb.String()
}

// SetRankAssignment sets the global rank of the worker at each (flat, row-major) position of the mesh.
//
// The ranks must be a permutation of 0...NumWorkers()-1. Calling it with no ranks resets to the
// sequential assignment.
func (m *Mesh) SetRankAssignment(ranks ...int) error {
	if len(ranks) == 0 {
		m.rankAssignment = nil
		return nil
	}
	if len(ranks) != m.numWorkers {
		return faults.Preconditionf("ranks must have %d elements, got %d", m.numWorkers, len(ranks))
	}
	seen := utils.MakeSet[int](m.numWorkers)
	for _, rank := range ranks {
		if rank < 0 || rank >= m.numWorkers {
			return faults.Preconditionf("ranks must be between 0 and %d (NumWorkers()-1), got rank %d",
				m.numWorkers-1, rank)
		}
		if seen.Has(rank) {
			return faults.Preconditionf("rank #%d is duplicated in the assignment", rank)
		}
		seen.Insert(rank)
	}
	m.rankAssignment = slices.Clone(ranks)
	return nil
}

// RankAssignment returns the global rank of the worker at each position of the mesh.
// It returns nil if no assignment was set, in which case it is sequential starting from 0.
func (m *Mesh) RankAssignment() []int {
	if m.rankAssignment == nil {
		return nil
	}
	return slices.Clone(m.rankAssignment)
}

// GlobalRank returns the global rank of the worker at the given flat position of the mesh.
func (m *Mesh) GlobalRank(position int) int {
	if m.rankAssignment == nil {
		return position
	}
	return m.rankAssignment[position]
}

// ComputeReplicaGroups returns the groups of workers taking part together in a collective
// operation performed along the given axes.
//
// Each replica group lists the global ranks of the workers varying along axes, ordered by their
// position along those axes: that order defines each worker's rank within its group.
// The other axes are split into different replica groups.
//
// Example:
//
//	m, _ := NewMesh([]int{2, 2}, []string{"batch", "data"})
//	batchGroups, _ := m.ComputeReplicaGroups([]string{"batch"})          // -> [][]int{{0, 2}, {1, 3}}
//	dataGroups, _ := m.ComputeReplicaGroups([]string{"data"})            // -> [][]int{{0, 1}, {2, 3}}
//	globalGroups, _ := m.ComputeReplicaGroups([]string{"batch", "data"}) // -> [][]int{{0, 1, 2, 3}}
func (m *Mesh) ComputeReplicaGroups(axes []string) ([][]int, error) {
	axisIndices := make([]int, 0, len(axes))
	axisSet := utils.MakeSet[int](len(axes))
	for _, axis := range axes {
		idx, found := m.nameToAxis[axis]
		if !found {
			return nil, faults.Preconditionf("axis %q not found in mesh", axis)
		}
		if axisSet.Has(idx) {
			return nil, faults.Preconditionf("axis %q is duplicated: each axis can only appear once", axis)
		}
		axisIndices = append(axisIndices, idx)
		axisSet.Insert(idx)
	}

	nonAxisIndices := make([]int, 0, len(m.axesSizes)-len(axisIndices))
	for i := range m.axesSizes {
		if !axisSet.Has(i) {
			nonAxisIndices = append(nonAxisIndices, i)
		}
	}

	groupSize := 1
	for _, idx := range axisIndices {
		groupSize *= m.axesSizes[idx]
	}
	groups := make([][]int, m.numWorkers/groupSize)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}

	indices := make([]int, len(m.axesSizes))
	for position := range m.numWorkers {
		// Per-axis coordinates of the position.
		remaining := position
		for i := len(m.axesSizes) - 1; i >= 0; i-- {
			indices[i] = remaining % m.axesSizes[i]
			remaining /= m.axesSizes[i]
		}
		groups[flatten(indices, nonAxisIndices, m.axesSizes)][flatten(indices, axisIndices, m.axesSizes)] =
			m.GlobalRank(position)
	}
	return groups, nil
}

// flatten returns the row-major flat index of the coordinates indices restricted to the given axes.
func flatten(indices, axes, axesSizes []int) int {
	flat, multiplier := 0, 1
	for i := len(axes) - 1; i >= 0; i-- {
		flat += indices[axes[i]] * multiplier
		multiplier *= axesSizes[axes[i]]
	}
	return flat
}
