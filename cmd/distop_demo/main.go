// distop_demo distributes a global array across a group of workers and gathers it back
// (ScatterGather), and sums the arrays of all workers (BroadcastReduce).
//
// It runs in 3 different ways:
//
//   - In-process: all workers are goroutines of this process.
//     $ distop_demo -workers=3 -global=16,3
//   - Coordinator of a group of processes, configured by a YAML file (see grpccomm.Config):
//     $ distop_demo -config=group.yaml -serve
//   - One worker of a group of processes:
//     $ distop_demo -config=group.yaml -rank=0 -global=16,3
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"

	"github.com/gomlx/distop"
	"github.com/gomlx/distop/collective"
	"github.com/gomlx/distop/collective/grpccomm"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/distop/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagWorkers = flag.Int("workers", 3, "Number of workers of the in-process group. Ignored if -config is set.")
	flagGlobal  = flag.String("global", "16,3", "Comma-separated dimensions of the global array. The first axis is distributed.")
	flagConfig  = flag.String("config", "", "YAML configuration of a group of processes. If empty, workers run in-process.")
	flagRank    = flag.Int("rank", -1, "Rank of this process in the group configured with -config.")
	flagServe   = flag.Bool("serve", false, "Run the coordinator of the group configured with -config.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	err := exceptions.TryCatch[error](func() {
		global := shapes.Make(dtypes.Float32, parseDims(*flagGlobal)...)
		switch {
		case *flagConfig == "":
			runInProcess(*flagWorkers, global)
		case *flagServe:
			serve(must.M1(grpccomm.LoadConfig(*flagConfig)))
		default:
			runWorker(must.M1(grpccomm.LoadConfig(*flagConfig)), *flagRank, global)
		}
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func parseDims(s string) []int {
	var dims []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil {
			panic(errors.Wrapf(err, "invalid dimension %q in -global=%q", part, s))
		}
		dims = append(dims, dim)
	}
	return dims
}

func runInProcess(numWorkers int, global shapes.Shape) {
	groups := must.M1(collective.NewLocalGroups(numWorkers))
	reports := make([]report, numWorkers)
	var mu sync.Mutex
	must.M(collective.RunLocal(groups, func(g collective.Group) error {
		return exceptions.TryCatch[error](func() {
			r := demo(g, global)
			mu.Lock()
			reports[g.Rank()] = r
			mu.Unlock()
		})
	}))
	fmt.Println(reportsTable(global, reports))
}

func serve(cfg grpccomm.Config) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	lis, err := net.Listen("tcp", cfg.Coordinator)
	if err != nil {
		panic(errors.Wrapf(err, "failed to listen on %q", cfg.Coordinator))
	}
	coordinator := must.M1(grpccomm.NewCoordinator(cfg))
	klog.Infof("Coordinator of %d workers listening on %s, interrupt to stop.", cfg.Size, lis.Addr())
	must.M(coordinator.Serve(ctx, lis))
}

func runWorker(cfg grpccomm.Config, rank int, global shapes.Shape) {
	client := must.M1(grpccomm.Dial(cfg, rank))
	defer func() { _ = client.Close() }()
	fmt.Println(reportsTable(global, []report{demo(client, global)}))
}

// report of the demo on one worker.
type report struct {
	rank, size int
	slice      string
	local      shapes.Shape
	sum        any
}

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
)

// reportsTable renders the reports of the workers as a table.
func reportsTable(global shapes.Shape, reports []report) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Rank", "Rows of "+global.String(), "Local shape", "BroadcastReduce sum")
	for _, r := range reports {
		table.Row(fmt.Sprintf("%d/%d", r.rank, r.size), r.slice, r.local.String(), fmt.Sprint(r.sum))
	}
	return table.String()
}

// demo runs the examples on one worker. It panics on errors.
func demo(g collective.Group, global shapes.Shape) report {
	// ScatterGather: every worker holds the same global array, keeps its rows, and gathers them back.
	sg := must.M1(distop.NewScatterGather(global, g))
	want := sg.NewGlobalBuffer()
	flat := must.M1(tensors.Flat[float32](want))
	for i := range flat {
		flat[i] = float32(i)
	}
	local := sg.NewLocalBuffer()
	must.M(sg.Forward(want, local))
	gathered := sg.NewGlobalBuffer()
	must.M(sg.Adjoint(local, gathered))
	if fmt.Sprint(gathered.Flat()) != fmt.Sprint(want.Flat()) {
		panic(errors.Errorf("rank %d: gathered %v, wanted %v", g.Rank(), gathered.Flat(), want.Flat()))
	}
	klog.Infof("rank %d/%d: ScatterGather rows %s of %s, local %s: round trip ok",
		g.Rank(), g.Size(), sg.Slice(), global, local.Shape())

	// BroadcastReduce: worker r holds [1, 1, 1] * (r+1); the adjoint sums them on every worker.
	br := must.M1(distop.NewBroadcastReduce(g))
	v := float32(g.Rank() + 1)
	replicated := must.M1(tensors.FromValue([]float32{v, v, v}))
	must.M(br.Forward(replicated, replicated))
	must.M(br.Adjoint(replicated, replicated))
	klog.Infof("rank %d/%d: BroadcastReduce sum %v", g.Rank(), g.Size(), replicated.Value())
	return report{rank: g.Rank(), size: g.Size(), slice: sg.Slice().String(), local: local.Shape(), sum: replicated.Value()}
}
