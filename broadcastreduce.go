package distop

import (
	"github.com/gomlx/distop/collective"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/distop/types/tensors"
	"k8s.io/klog/v2"
)

// BroadcastReduce distributes an array by replicating it: every worker holds the whole array.
//
// Forward is the identity, without communication. Adjoint replaces the array of every worker by
// the element-wise sum of the arrays of all workers.
//
// It accepts buffers of any shape: the output buffer defines the element type, and input buffers
// of other dtypes are converted. Input and output may be the same buffer.
type BroadcastReduce struct {
	group collective.Group
}

var _ Operator = (*BroadcastReduce)(nil)

// NewBroadcastReduce creates the identity distribution operator over group.
func NewBroadcastReduce(group collective.Group) (*BroadcastReduce, error) {
	if group == nil {
		return nil, faults.Preconditionf("NewBroadcastReduce requires a group")
	}
	klog.V(1).Infof("rank %d/%d: BroadcastReduce", group.Rank(), group.Size())
	return &BroadcastReduce{group: group}, nil
}

// assign sets output to input, unless they are the same storage.
func assign(input, output *tensors.Buffer) error {
	if tensors.SameData(input, output) && sameStart(input, output) {
		return nil
	}
	return output.CopyFrom(input)
}

func sameStart(a, b *tensors.Buffer) bool {
	aBytes, bBytes := a.Bytes(), b.Bytes()
	return len(aBytes) == len(bBytes) && &aBytes[0] == &bBytes[0]
}

// Forward copies input into output. It is a no-op if they share storage.
func (op *BroadcastReduce) Forward(input, output *tensors.Buffer) error {
	in, err := checkBuffers("BroadcastReduce.Forward", shapes.Invalid(), shapes.Invalid(), input, output)
	if err != nil {
		return err
	}
	return assign(in, output)
}

// Adjoint sets output to the element-wise sum of the inputs of all workers, identical on every worker.
// If input and output share storage, the sum is computed in place.
// It blocks until all workers of the group call it.
func (op *BroadcastReduce) Adjoint(input, output *tensors.Buffer) error {
	in, err := checkBuffers("BroadcastReduce.Adjoint", shapes.Invalid(), shapes.Invalid(), input, output)
	if err != nil {
		return err
	}
	if !tensors.Summable(output.DType()) {
		return faults.Preconditionf("BroadcastReduce.Adjoint: dtype %s has no sum", output.DType())
	}
	if err = assign(in, output); err != nil {
		return err
	}
	err = op.group.AllReduceSum(output.DType(), output.Bytes())
	return faults.Wrap(faults.CommunicationFailure, err, "BroadcastReduce.Adjoint on rank %d", op.group.Rank())
}

// ShapeIn returns an invalid shape: the operator accepts any shape.
func (op *BroadcastReduce) ShapeIn() shapes.Shape { return shapes.Invalid() }

// ShapeOut returns an invalid shape: the operator accepts any shape.
func (op *BroadcastReduce) ShapeOut() shapes.Shape { return shapes.Invalid() }

// Flags implements Operator: linear, real, square and in-place.
func (op *BroadcastReduce) Flags() Flags {
	return Flags{Linear: true, Real: true, Square: true, InPlace: true}
}

// Group implements Operator.
func (op *BroadcastReduce) Group() collective.Group { return op.group }
