package tensors

import (
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

type addable interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~complex64 | ~complex128
}

// AlignedBytes returns a zeroed byte slice of length n whose storage is aligned for any dtype.
func AlignedBytes(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]complex128, (n+15)/16)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), n)
}

// viewAs returns data viewed as a []T. If data is not aligned for T, a copy is returned instead,
// so it is only safe to write to the result of aligned data.
func viewAs[T any](data []byte) (view []T, aligned bool) {
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil, true
	}
	ptr := unsafe.Pointer(unsafe.SliceData(data))
	if uintptr(ptr)%unsafe.Alignof(zero) == 0 {
		return unsafe.Slice((*T)(ptr), n), true
	}
	view = make([]T, n)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(view))), len(data)), data)
	return view, false
}

func addInto[T addable](dst, src []byte) error {
	d, aligned := viewAs[T](dst)
	s, _ := viewAs[T](src)
	for i, v := range s {
		d[i] += v
	}
	if !aligned {
		copy(dst, unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(d))), len(dst)))
	}
	return nil
}

// addIntoHalf sums 16-bit floats by going through float32.
func addIntoHalf[T ~uint16](dst, src []byte, toF32 func(T) float32, fromF32 func(float32) T) error {
	d, aligned := viewAs[T](dst)
	s, _ := viewAs[T](src)
	for i, v := range s {
		d[i] = fromF32(toF32(d[i]) + toF32(v))
	}
	if !aligned {
		copy(dst, unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(d))), len(dst)))
	}
	return nil
}

// AddInto adds, element-wise, the raw values in src to the ones in dst (dst += src), both holding
// elements of the given dtype. Both must have the same length, a multiple of the element size.
//
// Bool is not summable and returns an error.
func AddInto(dtype dtypes.DType, dst, src []byte) error {
	if len(dst) != len(src) {
		return errors.Errorf("AddInto: dst has %d bytes but src has %d", len(dst), len(src))
	}
	if !IsSupported(dtype) {
		return errors.Errorf("AddInto: unsupported dtype %s", dtype)
	}
	if elemSize := int(dtype.Size()); len(dst)%elemSize != 0 {
		return errors.Errorf("AddInto: %d bytes is not a multiple of the %s size (%d bytes)", len(dst), dtype, elemSize)
	}
	switch dtype {
	case dtypes.Int8:
		return addInto[int8](dst, src)
	case dtypes.Int16:
		return addInto[int16](dst, src)
	case dtypes.Int32:
		return addInto[int32](dst, src)
	case dtypes.Int64:
		return addInto[int64](dst, src)
	case dtypes.Uint8:
		return addInto[uint8](dst, src)
	case dtypes.Uint16:
		return addInto[uint16](dst, src)
	case dtypes.Uint32:
		return addInto[uint32](dst, src)
	case dtypes.Uint64:
		return addInto[uint64](dst, src)
	case dtypes.Float32:
		return addInto[float32](dst, src)
	case dtypes.Float64:
		return addInto[float64](dst, src)
	case dtypes.Complex64:
		return addInto[complex64](dst, src)
	case dtypes.Complex128:
		return addInto[complex128](dst, src)
	case dtypes.Float16:
		return addIntoHalf(dst, src, float16.Float16.Float32, float16.Fromfloat32)
	case dtypes.BFloat16:
		return addIntoHalf(dst, src, bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
	}
	return errors.Errorf("AddInto: dtype %s has no sum", dtype)
}

// Summable returns whether AddInto supports the dtype.
func Summable(dtype dtypes.DType) bool {
	return IsSupported(dtype) && dtype != dtypes.Bool
}
