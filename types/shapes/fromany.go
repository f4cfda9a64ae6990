package shapes

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// FromAnyValue returns the shape of a Go value: a scalar of a supported dtype (ints, floats,
// complex numbers, bool, float16, bfloat16), or (multiple levels of) slices of those.
// Slices must be regular: all sub-slices at the same level must have the same shape.
//
// Example:
//
//	shape, _ := shapes.FromAnyValue([][]float64{{0, 0}}) // Returns shape (Float64)[1 2]
func FromAnyValue(value any) (Shape, error) {
	if value == nil {
		return Invalid(), errors.New("cannot take the shape of a nil value")
	}
	var shape Shape
	if err := inferShape(&shape, reflect.ValueOf(value)); err != nil {
		return Invalid(), err
	}
	return shape, nil
}

// inferShape appends the dimensions of v to shape, and sets its dtype from the innermost type.
func inferShape(shape *Shape, v reflect.Value) error {
	if v.Kind() != reflect.Slice {
		shape.DType = dtypes.FromGoType(v.Type())
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("Go type %s has no corresponding dtype", v.Type())
		}
		return nil
	}
	if v.Len() == 0 {
		return errors.Errorf("cannot infer inner dimensions of an empty %s", v.Type())
	}
	shape.Dimensions = append(shape.Dimensions, v.Len())
	prefix := len(shape.Dimensions)
	if err := inferShape(shape, v.Index(0)); err != nil {
		return err
	}

	// The remaining elements must match the shape inferred for the first one.
	for i := 1; i < v.Len(); i++ {
		sub := Shape{Dimensions: append([]int(nil), shape.Dimensions[:prefix]...)}
		if err := inferShape(&sub, v.Index(i)); err != nil {
			return err
		}
		if !sub.Equal(*shape) {
			return errors.Errorf("irregular sub-slices in %s: element #%d has shape %s, element #0 has shape %s",
				v.Type(), i, sub, *shape)
		}
	}
	return nil
}
