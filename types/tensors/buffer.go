// Package tensors implements Buffer: caller-owned, flat, typed storage for the inputs and outputs of
// the distribution operators.
//
// A Buffer holds a Go slice (e.g. []float32) with the elements in row-major order, and its shape.
// Operators never retain buffers beyond one call. Collectives operate on the raw bytes of a buffer
// (see Buffer.Bytes), which is a view of the same storage, not a copy.
package tensors

import (
	"reflect"
	"unsafe"

	"github.com/gomlx/distop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Buffer is a flat, typed storage with a shape.
type Buffer struct {
	shape shapes.Shape

	// flat is a slice of dtype.GoType() with shape.Size() elements.
	flat any
}

// FromFlat creates a Buffer that uses the given slice as its storage (it is not copied).
// If no dimensions are given, the buffer has rank 1 with len(flat) elements.
func FromFlat[T dtypes.Supported](flat []T, dimensions ...int) (*Buffer, error) {
	dtype := dtypes.FromGenericsType[T]()
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("unsupported Go type %T for a Buffer", flat)
	}
	if reflect.TypeOf(flat).Elem() != dtype.GoType() {
		// E.g. []int, which has no fixed width: store it as the dtype's Go type.
		return FromAny(flat, dimensions...)
	}
	if len(dimensions) == 0 {
		dimensions = []int{len(flat)}
	}
	shape := shapes.Make(dtype, dimensions...)
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.Size() != len(flat) {
		return nil, errors.Errorf("shape %s requires %d elements, got %d", shape, shape.Size(), len(flat))
	}
	return &Buffer{shape: shape, flat: flat}, nil
}

// FromAny creates a Buffer from a flat slice of any supported Go type, reshaped to dimensions
// (rank 1 if no dimensions are given). The values are copied into storage of the dtype's Go type.
func FromAny(flat any, dimensions ...int) (*Buffer, error) {
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice {
		return nil, errors.Errorf("FromAny requires a flat slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(v.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("unsupported Go type %T for a Buffer", flat)
	}
	if len(dimensions) == 0 {
		dimensions = []int{v.Len()}
	}
	b, err := Zeros(shapes.Make(dtype, dimensions...))
	if err != nil {
		return nil, err
	}
	if b.Size() != v.Len() {
		return nil, errors.Errorf("shape %s requires %d elements, got %d", b.shape, b.Size(), v.Len())
	}
	dst := reflect.ValueOf(b.flat)
	elemType := dst.Type().Elem()
	for i := 0; i < v.Len(); i++ {
		dst.Index(i).Set(v.Index(i).Convert(elemType))
	}
	return b, nil
}

// FromValue creates a Buffer from a scalar or a (multi-level) slice of a supported Go type.
// The shape is inferred with shapes.FromAnyValue, and values are copied.
//
// Example:
//
//	b, _ := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}}) // Shape (Float32)[3 2]
func FromValue(value any) (*Buffer, error) {
	shape, err := shapes.FromAnyValue(value)
	if err != nil {
		return nil, err
	}
	b, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	dst := reflect.ValueOf(b.flat)
	elemType := dst.Type().Elem()
	pos := 0
	var flatten func(v reflect.Value)
	flatten = func(v reflect.Value) {
		if v.Kind() == reflect.Slice {
			for i := 0; i < v.Len(); i++ {
				flatten(v.Index(i))
			}
			return
		}
		dst.Index(pos).Set(v.Convert(elemType))
		pos++
	}
	flatten(reflect.ValueOf(value))
	return b, nil
}

// Zeros creates a zero-initialized Buffer with the given shape.
func Zeros(shape shapes.Shape) (*Buffer, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if !IsSupported(shape.DType) {
		return nil, errors.Errorf("dtype %s not supported for Buffer", shape.DType)
	}
	flat := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size()).Interface()
	return &Buffer{shape: shape.Clone(), flat: flat}, nil
}

// IsSupported returns whether a Buffer can hold elements of the given dtype.
func IsSupported(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Bool,
		dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
		dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
		dtypes.Complex64, dtypes.Complex128:
		return true
	}
	return false
}

// Shape returns the shape of the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape.Clone() }

// DType returns the element type of the buffer.
func (b *Buffer) DType() dtypes.DType { return b.shape.DType }

// Size returns the number of elements.
func (b *Buffer) Size() int { return b.shape.Size() }

// Flat returns the underlying slice (e.g. []float32), not a copy.
func (b *Buffer) Flat() any { return b.flat }

// Flat returns the underlying slice of a buffer of Go type T, not a copy.
// It returns an error if T doesn't match the buffer's dtype.
func Flat[T dtypes.Supported](b *Buffer) ([]T, error) {
	flat, ok := b.flat.([]T)
	if !ok {
		return nil, errors.Errorf("buffer with dtype %s cannot be accessed as %T", b.DType(), flat)
	}
	return flat, nil
}

// Bytes returns a view of the buffer's storage as bytes: writing to it changes the buffer.
func (b *Buffer) Bytes() []byte {
	v := reflect.ValueOf(b.flat)
	if v.Len() == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(v.UnsafePointer()), int(b.shape.Memory()))
}

// Reshape returns a Buffer sharing the same storage with new dimensions (same number of elements).
func (b *Buffer) Reshape(dimensions ...int) (*Buffer, error) {
	shape := shapes.Make(b.DType(), dimensions...)
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.Size() != b.Size() {
		return nil, errors.Errorf("cannot reshape %s to %v: different number of elements", b.shape, dimensions)
	}
	return &Buffer{shape: shape, flat: b.flat}, nil
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	v := reflect.ValueOf(b.flat)
	flat := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(flat, v)
	return &Buffer{shape: b.shape.Clone(), flat: flat.Interface()}
}

// CopyFrom copies the contents of src into b. Both must have the same shape (dtype included).
// It is safe for overlapping buffers.
func (b *Buffer) CopyFrom(src *Buffer) error {
	if !b.shape.Equal(src.shape) {
		return errors.Errorf("cannot copy buffer of shape %s into buffer of shape %s", src.shape, b.shape)
	}
	copy(b.Bytes(), src.Bytes())
	return nil
}

// SameData returns whether the storage of a and b overlaps in memory, that is, whether writing to
// one may change the other. Empty buffers never share data.
func SameData(a, b *Buffer) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return a.shape.Memory() > 0
	}
	aBytes, bBytes := a.Bytes(), b.Bytes()
	if len(aBytes) == 0 || len(bBytes) == 0 {
		return false
	}
	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(aBytes)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(bBytes)))
	return aStart < bStart+uintptr(len(bBytes)) && bStart < aStart+uintptr(len(aBytes))
}

// Value returns the contents as a (multi-level) Go slice, e.g. [][]float32 for a rank-2 float32
// buffer, or a scalar for rank 0. It is a copy.
func (b *Buffer) Value() any {
	flat := reflect.ValueOf(b.flat)
	if b.shape.Rank() == 0 {
		return flat.Index(0).Interface()
	}
	var build func(axis, offset int) reflect.Value
	build = func(axis, offset int) reflect.Value {
		dims := b.shape.Dimensions[axis:]
		sliceType := flat.Type()
		for range dims[1:] {
			sliceType = reflect.SliceOf(sliceType)
		}
		if len(dims) == 1 {
			out := reflect.MakeSlice(sliceType, dims[0], dims[0])
			reflect.Copy(out, flat.Slice(offset, offset+dims[0]))
			return out
		}
		stride := 1
		for _, dim := range dims[1:] {
			stride *= dim
		}
		out := reflect.MakeSlice(sliceType, dims[0], dims[0])
		for i := 0; i < dims[0]; i++ {
			out.Index(i).Set(build(axis+1, offset+i*stride))
		}
		return out
	}
	return build(0, 0).Interface()
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	return "Buffer" + b.shape.String()
}
