package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestShape(t *testing.T) {
	invalid := Invalid()
	assert.False(t, invalid.Ok())
	assert.Error(t, invalid.Validate())
	assert.Equal(t, "(Invalid)", invalid.String())

	scalar := Make(dtypes.Float64)
	assert.True(t, scalar.Ok())
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 0, scalar.Rank())
	assert.Equal(t, 1, scalar.Size())
	assert.Equal(t, 1, scalar.RowSize())
	assert.Equal(t, uintptr(8), scalar.Memory())

	shape := Make(dtypes.Float32, 4, 3, 2)
	require.NoError(t, shape.Validate())
	assert.False(t, shape.IsScalar())
	assert.Equal(t, 3, shape.Rank())
	assert.Equal(t, 24, shape.Size())
	assert.Equal(t, 6, shape.RowSize())
	assert.Equal(t, uintptr(4*24), shape.Memory())
	assert.Equal(t, "(Float32)[4 3 2]", shape.String())
	assert.Equal(t, 4, shape.Dim(0))
	assert.Equal(t, 2, shape.Dim(-1))
	assert.Panics(t, func() { _ = shape.Dim(3) })
	assert.Panics(t, func() { _ = shape.Dim(-4) })

	empty := Make(dtypes.Int32, 0, 5)
	require.NoError(t, empty.Validate())
	assert.Equal(t, 0, empty.Size())
	assert.Equal(t, 5, empty.RowSize())

	assert.Error(t, Make(dtypes.Int32, 3, -1).Validate())
}

func TestShapeCopies(t *testing.T) {
	dims := []int{3, 2}
	shape := Make(dtypes.Int64, dims...)
	dims[0] = 7
	assert.Equal(t, 3, shape.Dim(0), "Make must copy the dimensions")

	clone := shape.Clone()
	clone.Dimensions[1] = 9
	assert.Equal(t, 2, shape.Dim(1))

	local := shape.WithFirstDim(1)
	assert.Equal(t, []int{1, 2}, local.Dimensions)
	assert.Equal(t, []int{3, 2}, shape.Dimensions)
	assert.Panics(t, func() { _ = Make(dtypes.Int64).WithFirstDim(1) })

	f32 := shape.WithDType(dtypes.Float32)
	assert.True(t, f32.EqualDimensions(shape))
	assert.False(t, f32.Equal(shape))
	assert.True(t, shape.Equal(Make(dtypes.Int64, 3, 2)))
}

func TestFromAnyValue(t *testing.T) {
	shape, err := FromAnyValue([][]float64{{0, 0}})
	require.NoError(t, err)
	assert.Equal(t, Make(dtypes.Float64, 1, 2), shape)

	shape, err = FromAnyValue([][][]int32{{{1}, {2}}, {{3}, {4}}, {{5}, {6}}})
	require.NoError(t, err)
	assert.Equal(t, Make(dtypes.Int32, 3, 2, 1), shape)

	shape, err = FromAnyValue(float16.Fromfloat32(1))
	require.NoError(t, err)
	assert.True(t, shape.IsScalar())
	assert.Equal(t, dtypes.Float16, shape.DType)

	_, err = FromAnyValue([][]float32{{1, 2}, {3}})
	assert.ErrorContains(t, err, "irregular")
	_, err = FromAnyValue([]float32{})
	assert.Error(t, err)
	_, err = FromAnyValue([]string{"a"})
	assert.Error(t, err)
	_, err = FromAnyValue(nil)
	assert.Error(t, err)
}
