// Package shapes defines Shape: the element type (DType) and dimensions of a buffer, or of the
// domain/range of a distribution operator.
//
// The first axis of a global shape is the one distributed across workers; the remaining axes are
// replicated. Dimensions can be 0: a worker may own no rows of a small global array.
//
// DType is the enum from github.com/gomlx/gopjrt/dtypes; float16 uses github.com/x448/float16 and
// bfloat16 uses github.com/gomlx/gopjrt/dtypes/bfloat16.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape of a buffer: its element type and dimensions.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given element type and dimensions.
// The dimensions are copied. Use Shape.Validate to check for negative dimensions.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Validate returns an error if the shape is invalid or has negative dimensions.
func (s Shape) Validate() error {
	if !s.Ok() {
		return errors.New("invalid shape: no dtype defined")
	}
	for axis, dim := range s.Dimensions {
		if dim < 0 {
			return errors.Errorf("shape %s has negative dimension %d at axis %d", s, dim, axis)
		}
	}
	return nil
}

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar: a valid shape with no axes.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the end, so -1 is the last axis.
// It panics for an out-of-bounds axis, like slice indexing.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s))
	}
	return s.Dimensions[adjusted]
}

// String implements fmt.Stringer, e.g.: "(Float32)[3 2]".
func (s Shape) String() string {
	if !s.Ok() {
		return "(Invalid)"
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements: the product of all dimensions (1 for scalars).
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// RowSize returns the number of elements in one slice along the first axis, that is, the product of
// all dimensions but the first. It is 1 for scalars and for rank-1 shapes.
func (s Shape) RowSize() int {
	size := 1
	for axis := 1; axis < s.Rank(); axis++ {
		size *= s.Dimensions[axis]
	}
	return size
}

// Memory returns the number of bytes used to store the shape's elements.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.EqualDimensions(s2)
}

// EqualDimensions compares only the dimensions, ignoring the dtype.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// WithDType returns a copy of the shape with the given dtype.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}

// WithFirstDim returns a copy of the shape with the first axis dimension replaced by dim.
// It panics for scalars.
func (s Shape) WithFirstDim(dim int) Shape {
	if s.Rank() == 0 {
		panic(errors.Errorf("Shape.WithFirstDim(%d) called on scalar shape %s", dim, s))
	}
	s2 := s.Clone()
	s2.Dimensions[0] = dim
	return s2
}
