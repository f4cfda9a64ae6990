// Package distop provides the linear operators that distribute a global array across the workers
// of a group, and their adjoints.
//
// Two distribution patterns are supported:
//
//   - ScatterGather: block-column distribution. Forward extracts the worker's slice (along the
//     first axis) of a global array; Adjoint gathers the slices of all workers back into the global
//     array, on every worker.
//   - BroadcastReduce: identity distribution. Forward is the identity (every worker holds the whole
//     array); Adjoint sums the arrays of all workers, on every worker.
//
// The split of the first axis is computed by the types/partition package: it is load-balanced,
// contiguous and ordered by rank. Workers never communicate to agree on it.
//
// Forward applications are local. Adjoint applications are blocking collective operations over the
// operator's collective.Group: every worker of the group must call them the same number of times,
// in the same order.
//
// Errors are classified with types/faults: PreconditionViolation for invalid construction
// arguments, ShapeMismatch for buffers that don't match the operator, CommunicationFailure when
// the collective fails, in which case the group is unusable.
//
// Example A, with the global array [1, 2, 3] over 3 workers:
//
//	op, _ := distop.NewScatterGather(shapes.Make(dtypes.Float64, 3), group)
//	local := op.NewLocalBuffer()
//	_ = op.Forward(global, local)    // local is [1], [2] or [3], depending on the worker.
//	_ = op.Adjoint(local, global)    // global is [1, 2, 3] on every worker.
package distop

import (
	"strings"

	"github.com/gomlx/distop/collective"
	"github.com/gomlx/distop/shapeinference"
	"github.com/gomlx/distop/types/faults"
	"github.com/gomlx/distop/types/partition"
	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/distop/types/tensors"
)

// Operator is a linear operator applied to caller-owned buffers, with its adjoint.
//
// Operators don't retain buffers beyond a call.
type Operator interface {
	// Forward computes output = Op(input).
	Forward(input, output *tensors.Buffer) error

	// Adjoint computes output = Op^H(input).
	Adjoint(input, output *tensors.Buffer) error

	// ShapeIn is the shape of the domain, or an invalid shape if the operator accepts any shape.
	ShapeIn() shapes.Shape

	// ShapeOut is the shape of the range (on the calling worker), or an invalid shape if the
	// operator accepts any shape.
	ShapeOut() shapes.Shape

	// Flags describes the properties of the operator.
	Flags() Flags

	// Group of workers the operator communicates with.
	Group() collective.Group
}

// Flags describes the properties of an operator, for the consumers that compose or solve with it.
type Flags struct {
	Linear    bool
	Real      bool
	Square    bool
	InPlace   bool // Input and output may be the same buffer.
	Symmetric bool
}

// String implements fmt.Stringer, listing the flags that are set, e.g. "Flags(linear,real)".
func (f Flags) String() string {
	var set []string
	for _, flag := range []struct {
		name  string
		value bool
	}{{"linear", f.Linear}, {"real", f.Real}, {"square", f.Square}, {"inplace", f.InPlace}, {"symmetric", f.Symmetric}} {
		if flag.value {
			set = append(set, flag.name)
		}
	}
	return "Flags(" + strings.Join(set, ",") + ")"
}

// LocalShape returns the shape of the calling worker's share of a global shape.
// See partition.LocalShape.
func LocalShape(global shapes.Shape, group collective.Group) (shapes.Shape, error) {
	if group == nil {
		return shapes.Invalid(), faults.Preconditionf("LocalShape requires a group")
	}
	return partition.LocalShape(global, group.Rank(), group.Size())
}

// LocalSlice returns the rows of a global first axis of nglobal rows owned by the calling worker.
func LocalSlice(nglobal int, group collective.Group) (partition.Slice, error) {
	if group == nil {
		return partition.Slice{}, faults.Preconditionf("LocalSlice requires a group")
	}
	return partition.LocalSlice(nglobal, group.Rank(), group.Size())
}

// Transpose returns the adjoint of op as an Operator: its Forward is op.Adjoint and its Adjoint is
// op.Forward. Transposing twice returns op itself.
func Transpose(op Operator) Operator {
	if t, ok := op.(*transposed); ok {
		return t.op
	}
	return &transposed{op: op}
}

type transposed struct {
	op Operator
}

func (t *transposed) Forward(input, output *tensors.Buffer) error { return t.op.Adjoint(input, output) }
func (t *transposed) Adjoint(input, output *tensors.Buffer) error { return t.op.Forward(input, output) }
func (t *transposed) ShapeIn() shapes.Shape                       { return t.op.ShapeOut() }
func (t *transposed) ShapeOut() shapes.Shape                      { return t.op.ShapeIn() }
func (t *transposed) Flags() Flags                                { return t.op.Flags() }
func (t *transposed) Group() collective.Group                     { return t.op.Group() }

// checkBuffers validates the buffers of an application, and returns the input converted to the
// expected dtype, if needed.
//
// An invalid wantIn or wantOut accepts any dimensions: the input dimensions must then match the
// output's, and the output dtype is the one the input is converted to.
func checkBuffers(opName string, wantIn, wantOut shapes.Shape, input, output *tensors.Buffer) (*tensors.Buffer, error) {
	if input == nil || output == nil {
		return nil, faults.ShapeMismatchf("%s: input and output buffers must be given", opName)
	}
	if !wantOut.Ok() {
		wantOut = output.Shape()
	}
	if !wantIn.Ok() {
		wantIn = wantOut
	}
	if err := shapeinference.Output(opName, wantOut, output.Shape()); err != nil {
		return nil, err
	}
	if err := shapeinference.Input(opName, wantIn, input.Shape()); err != nil {
		return nil, err
	}
	converted, err := tensors.Convert(input, wantIn.DType)
	if err != nil {
		return nil, faults.Wrap(faults.ShapeMismatch, err, "%s", opName)
	}
	return converted, nil
}
