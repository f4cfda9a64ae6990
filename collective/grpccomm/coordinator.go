// Package grpccomm implements collective.Group across processes: every worker is a Client sending
// its contributions to a Coordinator, a gRPC service that matches them with a collective.Rendezvous.
//
// Each collective call is one unary RPC, "/distop.collective.Coordinator/Exchange", which returns
// once all workers made the matching call. Messages use the protobuf wire format (see
// ExchangeRequest), encoded without generated code.
//
// If a worker disconnects during a collective, its RPC is cancelled and the coordinator aborts the
// rendezvous: every other worker fails with a faults.CommunicationFailure, and the group is
// unusable afterwards. Requests are validated again by the coordinator: invalid placements, or
// results beyond Config.MaxMessageBytes, fail the collective the same way.
package grpccomm

import (
	"context"
	"net"

	"github.com/gomlx/distop/collective"
	"github.com/gomlx/distop/internal/optypes"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const (
	serviceName    = "distop.collective.Coordinator"
	exchangeMethod = "/" + serviceName + "/Exchange"
)

type coordinatorServer interface {
	Exchange(ctx context.Context, req *ExchangeRequest) (*ExchangeResponse, error)
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ExchangeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(coordinatorServer).Exchange(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: exchangeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(coordinatorServer).Exchange(ctx, req.(*ExchangeRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*coordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exchange", Handler: exchangeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "distop/collective/grpccomm",
}

// Coordinator matches the collective calls of the workers of one group.
type Coordinator struct {
	cfg        Config
	session    string
	rendezvous *collective.Rendezvous
}

var _ coordinatorServer = (*Coordinator)(nil)

// NewCoordinator creates the Coordinator of the group configured by cfg.
//
// The result of a GatherVariable is bounded by the configured message size: larger placements
// requested by the workers fail the collective.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rendezvous, err := collective.NewRendezvous(cfg.Size)
	if err != nil {
		return nil, err
	}
	rendezvous.SetMaxResultBytes(cfg.maxMessageBytes())
	return &Coordinator{cfg: cfg, session: uuid.NewString(), rendezvous: rendezvous}, nil
}

// Rendezvous used to match the collective calls.
func (c *Coordinator) Rendezvous() *collective.Rendezvous { return c.rendezvous }

// Session identifies this coordinator instance. It is sent with every response, so workers detect a
// coordinator restarted in the middle of a run, whose collective counters no longer match theirs.
func (c *Coordinator) Session() string { return c.session }

// Register the coordinator service with a gRPC server. The server must be created with the
// options returned by ServerOptions.
func (c *Coordinator) Register(s *grpc.Server) {
	s.RegisterService(&coordinatorServiceDesc, c)
}

// ServerOptions returns the gRPC server options required by the coordinator service.
func ServerOptions(cfg Config) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ForceServerCodec(codec{}),
		grpc.MaxRecvMsgSize(cfg.maxMessageBytes()),
		grpc.MaxSendMsgSize(cfg.maxMessageBytes()),
	}
}

// Serve the coordinator on lis until ctx is done.
func (c *Coordinator) Serve(ctx context.Context, lis net.Listener) error {
	server := grpc.NewServer(ServerOptions(c.cfg)...)
	c.Register(server)
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			klog.V(1).Infof("stopping coordinator at %s", lis.Addr())
			c.rendezvous.Abort(context.Cause(ctx))
			server.Stop()
		case <-stopped:
		}
	}()
	klog.V(1).Infof("coordinator %s for %d workers serving at %s", c.session, c.cfg.Size, lis.Addr())
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return faults.Wrap(faults.CommunicationFailure, err, "coordinator at %s", lis.Addr())
	}
	return nil
}

// Exchange implements the coordinator RPC: it blocks until all workers made the matching call.
func (c *Coordinator) Exchange(ctx context.Context, req *ExchangeRequest) (*ExchangeResponse, error) {
	op := optypes.FromWireName(req.Op)
	if op == optypes.Invalid {
		return nil, toStatus(faults.Preconditionf("unknown collective operation %q", req.Op))
	}
	result, err := c.rendezvous.Exchange(ctx, req.Rank, &collective.Contribution{
		Op:      op,
		DType:   dtypes.DType(req.DType),
		Counts:  req.Counts,
		Offsets: req.Offsets,
		Data:    req.Data,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ExchangeResponse{Data: result, Session: c.session}, nil
}

// toStatus converts a classified error to a gRPC status error, and fromStatus converts it back.
func toStatus(err error) error {
	code := codes.Aborted
	switch faults.KindOf(err) {
	case faults.PreconditionViolation:
		code = codes.FailedPrecondition
	case faults.ShapeMismatch:
		code = codes.InvalidArgument
	}
	return status.Error(code, err.Error())
}

func fromStatus(err error, format string, args ...any) error {
	kind := faults.CommunicationFailure
	switch status.Code(err) {
	case codes.FailedPrecondition:
		kind = faults.PreconditionViolation
	case codes.InvalidArgument:
		kind = faults.ShapeMismatch
	}
	return faults.Wrap(kind, err, format, args...)
}
