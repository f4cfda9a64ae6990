package grpccomm

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// startCoordinator serves a coordinator over an in-memory connection, and returns a worker
// handle for each rank.
func startCoordinator(t *testing.T, size int) (*Coordinator, []*Client) {
	lis := bufconn.Listen(1 << 20)
	cfg := Config{Coordinator: "passthrough:///bufnet", Size: size}
	coordinator := must.M1(NewCoordinator(cfg))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- coordinator.Serve(ctx, lis) }()

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	clients := make([]*Client, size)
	for rank := range clients {
		clients[rank] = must.M1(Dial(cfg, rank, dialer))
	}
	t.Cleanup(func() {
		for _, c := range clients {
			_ = c.Close()
		}
		cancel()
		assert.NoError(t, <-served)
	})
	return coordinator, clients
}

// runAll runs fn concurrently for every client, and returns the error of each.
func runAll(clients []*Client, fn func(c *Client) error) []error {
	errs := make([]error, len(clients))
	var wg sync.WaitGroup
	for rank, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = fn(c)
		}()
	}
	wg.Wait()
	return errs
}

func float64Bytes(values []float64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), 8*len(values))
}

func TestWire(t *testing.T) {
	req := &ExchangeRequest{Rank: 2, Op: "gather_variable", DType: int(dtypes.Float32),
		Counts: []int{8, 4, 0}, Offsets: []int{0, 8, 12}, Data: []byte{1, 2, 3, 4}}
	var decoded ExchangeRequest
	require.NoError(t, decoded.unmarshal(req.marshal()))
	assert.Equal(t, *req, decoded)

	var resp ExchangeResponse
	require.NoError(t, resp.unmarshal((&ExchangeResponse{Data: []byte{7}, Session: "abc"}).marshal()))
	assert.Equal(t, ExchangeResponse{Data: []byte{7}, Session: "abc"}, resp)
	require.NoError(t, resp.unmarshal((&ExchangeResponse{}).marshal()))
	assert.Equal(t, ExchangeResponse{}, resp)

	assert.Error(t, decoded.unmarshal([]byte{0x0a, 0x05, 0x01}), "truncated field")
	_, err := codec{}.Marshal("not a message")
	assert.Error(t, err)
}

func TestGatherVariable(t *testing.T) {
	_, clients := startCoordinator(t, 3)
	// Example A: the global array [1, 2, 3] distributed one element per worker.
	counts, offsets := []int{8, 8, 8}, []int{0, 8, 16}
	globals := make([][]float64, 3)
	errs := runAll(clients, func(c *Client) error {
		local := []float64{float64(c.Rank() + 1)}
		globals[c.Rank()] = make([]float64, 3)
		return c.GatherVariable(float64Bytes(local), counts, offsets, float64Bytes(globals[c.Rank()]))
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
		assert.Equal(t, []float64{1, 2, 3}, globals[rank])
	}
}

func TestAllReduceSum(t *testing.T) {
	_, clients := startCoordinator(t, 3)
	// Example B: worker r holds [1, 1, 1] * (r+1).
	results := make([][]float64, 3)
	errs := runAll(clients, func(c *Client) error {
		v := float64(c.Rank() + 1)
		results[c.Rank()] = []float64{v, v, v}
		return c.AllReduceSum(dtypes.Float64, float64Bytes(results[c.Rank()]))
	})
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
		assert.Equal(t, []float64{6, 6, 6}, results[rank])
	}
}

func TestSession(t *testing.T) {
	coordinator, clients := startCoordinator(t, 2)
	require.NotEmpty(t, coordinator.Session())
	errs := runAll(clients, func(c *Client) error { return c.AllReduceSum(dtypes.Float64, make([]byte, 8)) })
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
		assert.Equal(t, coordinator.Session(), clients[rank].session)
	}

	// A worker that started its collectives with another coordinator instance.
	clients[1].session = "restarted"
	errs = runAll(clients, func(c *Client) error { return c.AllReduceSum(dtypes.Float64, make([]byte, 8)) })
	require.NoError(t, errs[0])
	assert.True(t, faults.Is(errs[1], faults.CommunicationFailure), "got %v", errs[1])
}

func TestMismatch(t *testing.T) {
	coordinator, clients := startCoordinator(t, 2)
	errs := runAll(clients, func(c *Client) error {
		data := make([]float64, 2)
		if c.Rank() == 0 {
			return c.AllReduceSum(dtypes.Float64, float64Bytes(data))
		}
		return c.GatherVariable(float64Bytes(data), []int{16, 16}, []int{0, 16}, make([]byte, 32))
	})
	for rank, err := range errs {
		assert.True(t, faults.Is(err, faults.CommunicationFailure), "rank %d: %v", rank, err)
	}
	assert.Error(t, coordinator.Rendezvous().Err())
}

func TestInvalidPlacements(t *testing.T) {
	cfg := Config{Coordinator: "localhost:0", Size: 2, MaxMessageBytes: 1024}
	tests := []struct {
		name            string
		counts, offsets []int
	}{
		{"negative offset", []int{1, 1}, []int{-1, 0}},
		{"overlapping", []int{1, 1}, []int{0, 0}},
		{"negative count", []int{-1, 1}, []int{0, 0}},
		{"beyond message size", []int{1, 1}, []int{0, 1 << 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Requests crafted by the peers, bypassing the checks of Client.GatherVariable.
			coordinator := must.M1(NewCoordinator(cfg))
			errs := make([]error, cfg.Size)
			var wg sync.WaitGroup
			for rank := range cfg.Size {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[rank] = coordinator.Exchange(context.Background(), &ExchangeRequest{
						Rank:    rank,
						Op:      "gather_variable",
						Counts:  tt.counts,
						Offsets: tt.offsets,
						Data:    make([]byte, max(tt.counts[rank], 0)),
					})
				}()
			}
			wg.Wait()
			for rank, err := range errs {
				require.Error(t, err, "rank %d", rank)
				assert.Equal(t, codes.Aborted, status.Code(err), "rank %d: %v", rank, err)
				assert.True(t, faults.Is(fromStatus(err, "rank %d", rank), faults.CommunicationFailure))
			}
			assert.Error(t, coordinator.Rendezvous().Err())
		})
	}
}

func TestWorkerDisconnects(t *testing.T) {
	coordinator, clients := startCoordinator(t, 3)
	errs := make([]chan error, 2)
	for rank := range errs {
		errs[rank] = make(chan error, 1)
		go func() { errs[rank] <- clients[rank].AllReduceSum(dtypes.Float64, make([]byte, 8)) }()
	}
	require.Eventually(t, func() bool { return coordinator.Rendezvous().Waiting() == 2 },
		5*time.Second, 10*time.Millisecond)

	// Rank 1 drops its connection while blocked: its RPC is cancelled and the group aborted.
	require.NoError(t, clients[1].Close())
	err := <-errs[0]
	assert.True(t, faults.Is(err, faults.CommunicationFailure), "got %v", err)
	assert.Error(t, <-errs[1])
	assert.Error(t, coordinator.Rendezvous().Err())

	err = clients[2].AllReduceSum(dtypes.Float64, make([]byte, 8))
	assert.True(t, faults.Is(err, faults.CommunicationFailure), "got %v", err)
}

func TestAbort(t *testing.T) {
	coordinator, clients := startCoordinator(t, 2)
	done := make(chan error, 1)
	go func() {
		done <- clients[0].AllReduceSum(dtypes.Float64, make([]byte, 8))
	}()
	// Aborted from outside, before rank 1 joins.
	coordinator.Rendezvous().Abort(context.Canceled)
	err := <-done
	assert.True(t, faults.Is(err, faults.CommunicationFailure), "got %v", err)

	err = clients[1].AllReduceSum(dtypes.Float64, make([]byte, 8))
	assert.True(t, faults.Is(err, faults.CommunicationFailure), "got %v", err)
}

func TestLocalValidation(t *testing.T) {
	_, clients := startCoordinator(t, 2)
	err := clients[0].AllReduceSum(dtypes.Bool, make([]byte, 2))
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
	err = clients[0].GatherVariable(make([]byte, 3), []int{4, 4}, []int{0, 4}, make([]byte, 8))
	assert.True(t, faults.Is(err, faults.ShapeMismatch))
}

func TestConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("coordinator: localhost:7070\nsize: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, Config{Coordinator: "localhost:7070", Size: 3, MaxMessageBytes: DefaultMaxMessageBytes}, cfg)

	path := filepath.Join(t.TempDir(), "group.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coordinator: \"10.0.0.1:7070\"\nsize: 8\nmax_message_bytes: 1024\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{Coordinator: "10.0.0.1:7070", Size: 8, MaxMessageBytes: 1024}, cfg)

	for _, bad := range []string{"size: 3", "coordinator: x\nsize: 0", "coordinator: x\nsize: 2\nmax_message_bytes: -1", "size: [1"} {
		_, err = ParseConfig([]byte(bad))
		assert.True(t, faults.Is(err, faults.PreconditionViolation), "config %q: %v", bad, err)
	}
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, faults.Is(err, faults.PreconditionViolation))

	_, err = Dial(Config{Coordinator: "localhost:1", Size: 2}, 2)
	assert.True(t, faults.Is(err, faults.PreconditionViolation))
}
