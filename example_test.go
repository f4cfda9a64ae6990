package distop_test

import (
	"fmt"

	"github.com/gomlx/distop"
	"github.com/gomlx/distop/collective"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/distop/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Distributes a global array of 5 rows over 3 workers, and gathers it back.
func ExampleScatterGather() {
	groups, _ := collective.NewLocalGroups(3)
	locals := make([]any, 3)
	var gathered any
	err := collective.RunLocal(groups, func(g collective.Group) error {
		op, err := distop.NewScatterGather(shapes.Make(dtypes.Int32, 5), g)
		if err != nil {
			return err
		}
		global, _ := tensors.FromValue([]int32{10, 11, 12, 13, 14})
		local := op.NewLocalBuffer()
		if err = op.Forward(global, local); err != nil {
			return err
		}
		locals[g.Rank()] = local.Value()
		result := op.NewGlobalBuffer()
		if err = op.Adjoint(local, result); err != nil {
			return err
		}
		if g.Rank() == 0 {
			gathered = result.Value()
		}
		return nil
	})
	if err != nil {
		fmt.Printf("failed: %+v\n", err)
		return
	}
	for rank, local := range locals {
		fmt.Printf("rank %d: %v\n", rank, local)
	}
	fmt.Printf("gathered: %v\n", gathered)

	// Output:
	// rank 0: [10 11]
	// rank 1: [12 13]
	// rank 2: [14]
	// gathered: [10 11 12 13 14]
}
