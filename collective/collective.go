// Package collective defines Group, the process-group abstraction used by the distribution
// operators, and an in-process implementation of it.
//
// A Group knows the rank of the calling worker, the number of workers, and offers two blocking
// collective operations:
//
//   - GatherVariable: every worker contributes a variable-length byte buffer, and every worker
//     receives all contributions placed at their offsets in a global byte buffer.
//   - AllReduceSum: every worker contributes a buffer of elements of a given dtype, and every
//     worker receives the element-wise sum of all of them, in place.
//
// Every worker must call the collectives of a group the same number of times and in the same
// order: the k-th call of each worker is matched with the k-th call of all others. If the calls
// don't agree (different operation, dtype or layout), or a worker fails, every participant gets a
// faults.CommunicationFailure error, and the group is unusable afterwards.
//
// Collectives are matched by a Rendezvous. LocalGroup implements Group for workers running as
// goroutines of the same process; collective/grpccomm implements it across processes.
package collective

import (
	"fmt"

	"github.com/gomlx/distop/internal/optypes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Group of workers taking part in collective operations.
//
// The methods block until every worker in the group made the matching call.
type Group interface {
	// Rank of the calling worker, in [0, Size()).
	Rank() int

	// Size is the number of workers in the group.
	Size() int

	// GatherVariable places the local contribution of every worker r at global[offsets[r]:offsets[r]+counts[r]],
	// on every worker. counts and offsets are in bytes, and len(local) must equal counts[Rank()].
	GatherVariable(local []byte, counts, offsets []int, global []byte) error

	// AllReduceSum replaces data, holding elements of the given dtype, by the element-wise sum of the data
	// of all workers.
	AllReduceSum(dtype dtypes.DType, data []byte) error
}

// Contribution of one worker to a collective call.
type Contribution struct {
	Op    optypes.OpType
	DType dtypes.DType

	// Counts and Offsets in bytes, only used by GatherVariable.
	Counts, Offsets []int

	// Data contributed by the worker. It must not be changed until the exchange returns.
	Data []byte
}

// String implements fmt.Stringer.
func (c *Contribution) String() string {
	if c.Op == optypes.GatherVariable {
		return fmt.Sprintf("%s(counts=%v, offsets=%v, %d bytes)", c.Op.WireName(), c.Counts, c.Offsets, len(c.Data))
	}
	return fmt.Sprintf("%s(%s, %d bytes)", c.Op.WireName(), c.DType, len(c.Data))
}
