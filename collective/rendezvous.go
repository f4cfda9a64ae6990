package collective

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/distop/internal/optypes"
	"github.com/gomlx/distop/shapeinference"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Rendezvous matches the collective calls of the workers of a group.
//
// The k-th call to Exchange of every rank takes part in the same round. The last worker to arrive
// checks that all contributions agree, computes the result and releases the others.
//
// A failed round (mismatched contributions) or a call to Abort poisons the Rendezvous: the
// pending and all later exchanges fail with a faults.CommunicationFailure.
//
// Contributions are validated again by the last worker, since they may come from remote peers
// that skipped the local checks: an invalid contribution fails the round like a mismatch.
//
// It is safe for concurrent use.
type Rendezvous struct {
	size           int
	maxResultBytes int // 0 for no limit.

	mu      sync.Mutex
	rounds  map[int]*round
	calls   []int // Number of exchanges started by each rank.
	err     error
	aborted chan struct{}
}

type round struct {
	seq           int
	contributions []*Contribution
	arrived       int
	collected     int
	done          chan struct{}

	// result and err are written once by the last arriving worker, before done is closed.
	result []byte
	err    error
}

// NewRendezvous creates a Rendezvous for a group of the given size.
func NewRendezvous(size int) (*Rendezvous, error) {
	if size <= 0 {
		return nil, faults.Preconditionf("group size must be positive, got %d", size)
	}
	return &Rendezvous{
		size:    size,
		rounds:  make(map[int]*round),
		calls:   make([]int, size),
		aborted: make(chan struct{}),
	}, nil
}

// Size of the group.
func (r *Rendezvous) Size() int { return r.size }

// SetMaxResultBytes limits the size of the result of a round: a GatherVariable whose placements
// need more bytes fails the round. 0 means no limit.
func (r *Rendezvous) SetMaxResultBytes(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxResultBytes = n
}

// Waiting returns the number of workers blocked in unfinished rounds.
func (r *Rendezvous) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiting := 0
	for _, rd := range r.rounds {
		select {
		case <-rd.done:
		default:
			waiting += rd.arrived
		}
	}
	return waiting
}

// Err returns the error that poisoned the Rendezvous, or nil.
func (r *Rendezvous) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Abort poisons the Rendezvous with the given cause: the pending and all future exchanges fail
// with a faults.CommunicationFailure. Only the first cause is kept.
func (r *Rendezvous) Abort(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortLocked(cause)
}

func (r *Rendezvous) abortLocked(cause error) {
	if r.err != nil {
		return
	}
	if cause == nil {
		cause = errors.New("aborted")
	}
	klog.Warningf("collective rendezvous of %d workers aborted: %v", r.size, cause)
	r.err = faults.New(faults.CommunicationFailure, "collective group aborted: %v", cause)
	close(r.aborted)
}

// Exchange contributes c as the next collective call of the given rank, blocks until all workers
// made their matching call, and returns the result of the round.
//
// The returned bytes are shared by all ranks and must not be modified: callers copy them into
// their own buffers. If ctx is done before the round completes, the Rendezvous is aborted.
func (r *Rendezvous) Exchange(ctx context.Context, rank int, c *Contribution) ([]byte, error) {
	if rank < 0 || rank >= r.size {
		return nil, faults.Preconditionf("rank %d out of range for a group of size %d", rank, r.size)
	}
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return nil, err
	}
	seq := r.calls[rank]
	r.calls[rank]++
	rd, found := r.rounds[seq]
	if !found {
		rd = &round{seq: seq, contributions: make([]*Contribution, r.size), done: make(chan struct{})}
		r.rounds[seq] = rd
	}
	rd.contributions[rank] = c
	rd.arrived++
	last := rd.arrived == r.size
	limit := r.maxResultBytes
	r.mu.Unlock()

	if klog.V(2).Enabled() {
		klog.Infof("rank %d/%d: collective #%d %s of %s", rank, r.size, seq, c.Op.WireName(),
			humanize.Bytes(uint64(len(c.Data))))
	}

	if last {
		// Contributions are complete and only read from here on.
		rd.result, rd.err = reduce(rd.contributions, limit)
		if rd.err != nil {
			r.Abort(rd.err)
		}
		close(rd.done)
	}

	select {
	case <-rd.done:
	case <-r.aborted:
	case <-ctx.Done():
		select {
		case <-rd.done:
		default:
			r.Abort(errors.Wrapf(context.Cause(ctx), "rank %d left collective #%d", rank, seq))
		}
	}
	return r.collect(rd)
}

// collect returns the outcome of the round for one rank, and drops the round once every rank collected it.
func (r *Rendezvous) collect(rd *round) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-rd.done:
		if rd.err != nil {
			return nil, faults.Wrap(faults.CommunicationFailure, rd.err, "collective #%d failed", rd.seq)
		}
		rd.collected++
		if rd.collected == r.size {
			delete(r.rounds, rd.seq)
		}
		return rd.result, nil
	default:
		return nil, r.err
	}
}

// reduce checks that all contributions of a round agree and are valid, and computes the result.
// GatherVariable placements must fit in limit bytes, if limit > 0.
func reduce(contributions []*Contribution, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = math.MaxInt
	}
	first := contributions[0]
	for rank, c := range contributions[1:] {
		rank++
		if c.Op != first.Op {
			return nil, faults.Communicationf("mismatched collective calls: rank 0 called %s, rank %d called %s",
				first.Op.WireName(), rank, c.Op.WireName())
		}
		if c.DType != first.DType {
			return nil, faults.Communicationf("mismatched %s dtypes: rank 0 used %s, rank %d used %s",
				c.Op.WireName(), first.DType, rank, c.DType)
		}
	}

	switch first.Op {
	case optypes.GatherVariable:
		for rank, c := range contributions {
			if !slices.Equal(c.Counts, first.Counts) || !slices.Equal(c.Offsets, first.Offsets) {
				return nil, faults.Communicationf("mismatched %s layouts: rank 0 has counts=%v offsets=%v, "+
					"rank %d has counts=%v offsets=%v", c.Op.WireName(), first.Counts, first.Offsets,
					rank, c.Counts, c.Offsets)
			}
			if len(c.Counts) != len(contributions) {
				return nil, faults.Communicationf("%s: rank %d sent %d counts for a group of size %d",
					c.Op.WireName(), rank, len(c.Counts), len(contributions))
			}
			if err := shapeinference.GatherVariable(rank, len(c.Data), c.Counts, c.Offsets, limit); err != nil {
				return nil, faults.Communicationf("invalid contribution of rank %d: %v", rank, err)
			}
		}
		total := 0
		for rank, count := range first.Counts {
			total = max(total, first.Offsets[rank]+count)
		}
		result := tensors.AlignedBytes(total)
		for rank, c := range contributions {
			copy(result[first.Offsets[rank]:], c.Data)
		}
		return result, nil

	case optypes.AllReduceSum:
		result := tensors.AlignedBytes(len(first.Data))
		copy(result, first.Data)
		for rank, c := range contributions[1:] {
			if len(c.Data) != len(first.Data) {
				return nil, faults.Communicationf("mismatched %s sizes: rank 0 has %d bytes, rank %d has %d bytes",
					c.Op.WireName(), len(first.Data), rank+1, len(c.Data))
			}
			if err := tensors.AddInto(first.DType, result, c.Data); err != nil {
				return nil, faults.Wrap(faults.CommunicationFailure, err, "%s", c.Op.WireName())
			}
		}
		return result, nil
	}
	return nil, faults.Communicationf("unknown collective operation %s", first.Op)
}
