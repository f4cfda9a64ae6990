package grpccomm

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/distop/collective"
	"github.com/gomlx/distop/internal/optypes"
	"github.com/gomlx/distop/shapeinference"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"
)

// Client is the collective.Group handle of one worker, communicating through the coordinator.
type Client struct {
	rank, size int
	conn       *grpc.ClientConn

	mu      sync.Mutex
	session string // Session of the coordinator that answered the first collective.
}

var _ collective.Group = (*Client)(nil)

// Dial creates the handle of the worker with the given rank. Extra options are appended to the
// default ones (insecure transport credentials, the coordinator codec and message size limits).
//
// The connection is established lazily: collectives wait for the coordinator to be ready.
func Dial(cfg Config, rank int, opts ...grpc.DialOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rank < 0 || rank >= cfg.Size {
		return nil, faults.Preconditionf("rank %d out of range for a group of size %d", rank, cfg.Size)
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(codec{}),
			grpc.WaitForReady(true),
			grpc.MaxCallRecvMsgSize(cfg.maxMessageBytes()),
			grpc.MaxCallSendMsgSize(cfg.maxMessageBytes()),
		),
	}, opts...)
	conn, err := grpc.NewClient(cfg.Coordinator, opts...)
	if err != nil {
		return nil, faults.Wrap(faults.CommunicationFailure, errors.WithStack(err),
			"failed to create client for coordinator %q", cfg.Coordinator)
	}
	klog.V(1).Infof("rank %d/%d: using coordinator %s", rank, cfg.Size, cfg.Coordinator)
	return &Client{rank: rank, size: cfg.Size, conn: conn}, nil
}

// Close the connection to the coordinator. Pending collectives fail.
func (c *Client) Close() error {
	return errors.WithStack(c.conn.Close())
}

// Rank implements collective.Group.
func (c *Client) Rank() int { return c.rank }

// Size implements collective.Group.
func (c *Client) Size() int { return c.size }

func (c *Client) exchange(req *ExchangeRequest) ([]byte, error) {
	req.Rank = c.rank
	if klog.V(2).Enabled() {
		klog.Infof("rank %d/%d: sending %s of %s", c.rank, c.size, req.Op, humanize.Bytes(uint64(len(req.Data))))
	}
	resp := new(ExchangeResponse)
	if err := c.conn.Invoke(context.Background(), exchangeMethod, req, resp); err != nil {
		return nil, fromStatus(err, "rank %d: %s failed", c.rank, req.Op)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == "" {
		c.session = resp.Session
	} else if resp.Session != c.session {
		return nil, faults.Communicationf("rank %d: %s answered by coordinator session %q, but the group started with session %q",
			c.rank, req.Op, resp.Session, c.session)
	}
	return resp.Data, nil
}

// GatherVariable implements collective.Group.
func (c *Client) GatherVariable(local []byte, counts, offsets []int, global []byte) error {
	if len(counts) != c.size {
		return faults.Preconditionf("GatherVariable: got %d counts for a group of size %d", len(counts), c.size)
	}
	if err := shapeinference.GatherVariable(c.rank, len(local), counts, offsets, len(global)); err != nil {
		return err
	}
	result, err := c.exchange(&ExchangeRequest{
		Op:      optypes.GatherVariable.WireName(),
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

// AllReduceSum implements collective.Group.
func (c *Client) AllReduceSum(dtype dtypes.DType, data []byte) error {
	if err := shapeinference.AllReduceSum(dtype, len(data)); err != nil {
		return err
	}
	result, err := c.exchange(&ExchangeRequest{
		Op:    optypes.AllReduceSum.WireName(),
		DType: int(dtype),
		Data:  data,
	})
	if err != nil {
		return err
	}
	if len(result) != len(data) {
		return faults.Communicationf("AllReduceSum: coordinator returned %d bytes, expected %d", len(result), len(data))
	}
	copy(data, result)
	return nil
}
