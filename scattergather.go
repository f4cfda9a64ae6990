package distop

import (
	"github.com/gomlx/distop/collective"
	"github.com/gomlx/distop/shapeinference"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/partition"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/distop/types/tensors"
	"k8s.io/klog/v2"
)

// ScatterGather distributes a global array by blocks of rows: worker r owns the rows
// partition.LocalSlice(n, r, size) of the first axis, and the other axes are replicated.
//
// Forward extracts the worker's rows from the global array, without communication.
// Adjoint gathers the rows of every worker into the global array, on every worker.
//
// The element type of the operator is the dtype of the global shape: input buffers of other
// dtypes are converted, output buffers must have it.
type ScatterGather struct {
	global, local shapes.Shape
	group         collective.Group
	slice         partition.Slice

	// table places the local buffers in the global one, in elements; byteTable is the same in bytes.
	table, byteTable partition.Table
}

var _ Operator = (*ScatterGather)(nil)

// NewScatterGather creates the operator distributing the given global shape across group.
//
// It returns a faults.PreconditionViolation if group is nil, or if the global shape is invalid,
// has negative dimensions, or is a scalar.
func NewScatterGather(global shapes.Shape, group collective.Group) (*ScatterGather, error) {
	if group == nil {
		return nil, faults.Preconditionf("NewScatterGather requires a group")
	}
	local, err := shapeinference.ScatterGather(global, group.Rank(), group.Size())
	if err != nil {
		return nil, err
	}
	slice, err := partition.LocalSlice(global.Dimensions[0], group.Rank(), group.Size())
	if err != nil {
		return nil, err
	}
	table, err := partition.NewTable(global, group.Size())
	if err != nil {
		return nil, err
	}
	op := &ScatterGather{
		global:    global.Clone(),
		local:     local,
		group:     group,
		slice:     slice,
		table:     table,
		byteTable: table.Scaled(int(global.DType.Size())),
	}
	klog.V(1).Infof("rank %d/%d: ScatterGather %s -> %s, rows %s", group.Rank(), group.Size(), global, local, slice)
	return op, nil
}

// Forward copies the worker's rows of the global input into the local output.
func (op *ScatterGather) Forward(input, output *tensors.Buffer) error {
	in, err := checkBuffers("ScatterGather.Forward", op.global, op.local, input, output)
	if err != nil {
		return err
	}
	rowBytes := op.global.RowSize() * int(op.global.DType.Size())
	copy(output.Bytes(), in.Bytes()[op.slice.Start*rowBytes:op.slice.Stop*rowBytes])
	return nil
}

// Adjoint gathers the local input of every worker into the global output, identical on every worker.
// It blocks until all workers of the group call it.
func (op *ScatterGather) Adjoint(input, output *tensors.Buffer) error {
	in, err := checkBuffers("ScatterGather.Adjoint", op.local, op.global, input, output)
	if err != nil {
		return err
	}
	err = op.group.GatherVariable(in.Bytes(), op.byteTable.Counts, op.byteTable.Offsets, output.Bytes())
	return faults.Wrap(faults.CommunicationFailure, err, "ScatterGather.Adjoint on rank %d", op.group.Rank())
}

// ShapeIn returns the global shape.
func (op *ScatterGather) ShapeIn() shapes.Shape { return op.global.Clone() }

// ShapeOut returns the local shape of the calling worker.
func (op *ScatterGather) ShapeOut() shapes.Shape { return op.local.Clone() }

// Flags implements Operator: linear and real.
func (op *ScatterGather) Flags() Flags { return Flags{Linear: true, Real: true} }

// Group implements Operator.
func (op *ScatterGather) Group() collective.Group { return op.group }

// Slice returns the rows of the global first axis owned by the calling worker.
func (op *ScatterGather) Slice() partition.Slice { return op.slice }

// Table returns the placement, in elements, of every worker's local buffer in the global buffer.
func (op *ScatterGather) Table() partition.Table { return op.table.Scaled(1) }

// NewLocalBuffer returns a zeroed buffer with the local shape.
func (op *ScatterGather) NewLocalBuffer() *tensors.Buffer {
	b, err := tensors.Zeros(op.local)
	if err != nil {
		// The local shape was validated at construction.
		panic(err)
	}
	return b
}

// NewGlobalBuffer returns a zeroed buffer with the global shape.
func (op *ScatterGather) NewGlobalBuffer() *tensors.Buffer {
	b, err := tensors.Zeros(op.global)
	if err != nil {
		panic(err)
	}
	return b
}
