package tensors

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

var (
	float32Type = reflect.TypeOf(float32(0))
	float64Type = reflect.TypeOf(float64(0))
)

func isComplex(dtype dtypes.DType) bool {
	return dtype == dtypes.Complex64 || dtype == dtypes.Complex128
}

// Convert returns a Buffer with the same dimensions as src and the given dtype, with every element
// converted as a Go conversion would do it (float to integer truncates).
//
// If src already has the requested dtype, src itself is returned.
//
// Booleans convert to 0 or 1, and any non-zero value converts to true.
// Complex values cannot be converted to a non-complex dtype.
func Convert(src *Buffer, dtype dtypes.DType) (*Buffer, error) {
	if src.DType() == dtype {
		return src, nil
	}
	if !IsSupported(dtype) {
		return nil, errors.Errorf("cannot convert %s to unsupported dtype %s", src, dtype)
	}
	if isComplex(src.DType()) && !isComplex(dtype) {
		return nil, errors.Errorf("cannot convert complex buffer %s to %s without losing the imaginary part", src, dtype)
	}
	dst, err := Zeros(src.shape.WithDType(dtype))
	if err != nil {
		return nil, err
	}
	srcV, dstV := reflect.ValueOf(src.flat), reflect.ValueOf(dst.flat)
	for i := range srcV.Len() {
		setElement(dstV.Index(i), dtype, loadElement(srcV.Index(i), src.DType()))
	}
	return dst, nil
}

// loadElement returns the element as a value that reflect can convert numerically:
// float16/bfloat16 are stored as uint16, so they are first converted to float32; bool becomes 0 or 1.
func loadElement(v reflect.Value, dtype dtypes.DType) reflect.Value {
	switch dtype {
	case dtypes.Bool:
		if v.Bool() {
			return reflect.ValueOf(uint8(1))
		}
		return reflect.ValueOf(uint8(0))
	case dtypes.Float16:
		return reflect.ValueOf(v.Interface().(float16.Float16).Float32())
	case dtypes.BFloat16:
		return reflect.ValueOf(v.Interface().(bfloat16.BFloat16).Float32())
	}
	return v
}

func setElement(dst reflect.Value, dtype dtypes.DType, v reflect.Value) {
	switch dtype {
	case dtypes.Bool:
		dst.SetBool(!v.IsZero())
	case dtypes.Float16:
		dst.Set(reflect.ValueOf(float16.Fromfloat32(float32(v.Convert(float32Type).Float()))))
	case dtypes.BFloat16:
		dst.Set(reflect.ValueOf(bfloat16.FromFloat32(float32(v.Convert(float32Type).Float()))))
	case dtypes.Complex64, dtypes.Complex128:
		if v.Kind() == reflect.Complex64 || v.Kind() == reflect.Complex128 {
			dst.SetComplex(v.Complex())
		} else {
			dst.SetComplex(complex(v.Convert(float64Type).Float(), 0))
		}
	default:
		dst.Set(v.Convert(dst.Type()))
	}
}
