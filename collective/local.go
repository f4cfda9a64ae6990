package collective

import (
	"context"

	"github.com/gomlx/distop/internal/optypes"
	"github.com/gomlx/distop/internal/utils"
	"github.com/gomlx/distop/shapeinference"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/mesh"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// LocalGroup implements Group for workers running as goroutines of the same process, sharing a Rendezvous.
type LocalGroup struct {
	rank       int
	rendezvous *Rendezvous
}

var _ Group = (*LocalGroup)(nil)

// NewLocalGroups returns the groups of size workers sharing one Rendezvous: the group at index r
// is the handle of the worker with rank r. Each handle is meant to be used by one goroutine.
func NewLocalGroups(size int) ([]*LocalGroup, error) {
	rendezvous, err := NewRendezvous(size)
	if err != nil {
		return nil, err
	}
	groups := make([]*LocalGroup, size)
	for rank := range groups {
		groups[rank] = &LocalGroup{rank: rank, rendezvous: rendezvous}
	}
	return groups, nil
}

// NewLocalMeshGroups returns, for each worker of the mesh (indexed by global rank), the handle of the
// sub-group of workers it forms with the workers varying along the given axes (see
// mesh.Mesh.ComputeReplicaGroups). The rank of a worker within its sub-group is its position along axes.
//
// With all axes of the mesh, it is equivalent to NewLocalGroups(m.NumWorkers()).
func NewLocalMeshGroups(m *mesh.Mesh, axes ...string) ([]*LocalGroup, error) {
	replicaGroups, err := m.ComputeReplicaGroups(axes)
	if err != nil {
		return nil, err
	}
	groups := make([]*LocalGroup, m.NumWorkers())
	for _, replicaGroup := range replicaGroups {
		rendezvous, err := NewRendezvous(len(replicaGroup))
		if err != nil {
			return nil, err
		}
		for rank, globalRank := range replicaGroup {
			groups[globalRank] = &LocalGroup{rank: rank, rendezvous: rendezvous}
		}
	}
	klog.V(1).Infof("%s: %d sub-groups along axes %v", m, len(replicaGroups), axes)
	return groups, nil
}

// Rank implements Group.
func (g *LocalGroup) Rank() int { return g.rank }

// Size implements Group.
func (g *LocalGroup) Size() int { return g.rendezvous.Size() }

// Rendezvous returns the Rendezvous shared by the workers of the group.
func (g *LocalGroup) Rendezvous() *Rendezvous { return g.rendezvous }

// GatherVariable implements Group.
func (g *LocalGroup) GatherVariable(local []byte, counts, offsets []int, global []byte) error {
	if len(counts) != g.Size() {
		return faults.Preconditionf("GatherVariable: got %d counts for a group of size %d", len(counts), g.Size())
	}
	if err := shapeinference.GatherVariable(g.rank, len(local), counts, offsets, len(global)); err != nil {
		return err
	}
	result, err := g.rendezvous.Exchange(context.Background(), g.rank, &Contribution{
		Op:      optypes.GatherVariable,
		Counts:  counts,
		Offsets: offsets,
		Data:    local,
	})
	if err != nil {
		return err
	}
	copy(global, result)
	return nil
}

// AllReduceSum implements Group.
func (g *LocalGroup) AllReduceSum(dtype dtypes.DType, data []byte) error {
	if err := shapeinference.AllReduceSum(dtype, len(data)); err != nil {
		return err
	}
	result, err := g.rendezvous.Exchange(context.Background(), g.rank, &Contribution{
		Op:    optypes.AllReduceSum,
		DType: dtype,
		Data:  data,
	})
	if err != nil {
		return err
	}
	copy(data, result)
	return nil
}

// RunLocal runs fn concurrently for each of the groups, one goroutine per worker, and waits for all of them.
//
// If fn fails for any worker, the rendezvous of all groups are aborted, so workers blocked in a
// collective are released with a faults.CommunicationFailure instead of waiting forever.
// It returns the first error.
func RunLocal(groups []*LocalGroup, fn func(g Group) error) error {
	rendezvous := utils.MakeSet[*Rendezvous]()
	for _, g := range groups {
		rendezvous.Insert(g.rendezvous)
	}
	var eg errgroup.Group
	for _, g := range groups {
		eg.Go(func() error {
			err := fn(g)
			if err != nil {
				for r := range rendezvous {
					r.Abort(err)
				}
			}
			return err
		})
	}
	return eg.Wait()
}
