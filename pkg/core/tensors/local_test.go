// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"strconv"
	"testing"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/segments/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func cmpShapes(t *testing.T, shape, wantShape shapes.Shape, err error) {
	if err != nil {
		t.Fatalf("Failed to get shape (wanted %q) from value: %v", wantShape, err)
	}
	if !wantShape.Equal(shape) {
		t.Fatalf("Invalid shape %q, wanted %q", shape, wantShape)
	}
}

func TestFromValue(t *testing.T) {
	wantShape := shapes.Shape{DType: dtypes.Float32, Dimensions: []int{3, 2}}
	shape, err := shapeForValue([][]float32{{0, 0}, {1, 1}, {2, 2}})
	cmpShapes(t, shape, wantShape, err)

	wantShape = shapes.Shape{DType: dtypes.Float64, Dimensions: []int{1, 1, 1}}
	shape, err = shapeForValue([][][]float64{{{1}}})
	cmpShapes(t, shape, wantShape, err)

	wantShape = shapes.Shape{DType: dtypes.Complex64, Dimensions: []int{2}}
	shape, err = shapeForValue([]complex64{1.0i, 1.0})
	cmpShapes(t, shape, wantShape, err)

	wantShape = shapes.Shape{DType: dtypes.Uint16, Dimensions: []int{1, 1}}
	shape, err = shapeForValue([][]uint16{{3}})
	cmpShapes(t, shape, wantShape, err)

	// Invalid DType.
	shape, err = shapeForValue([][]string{{"blah"}})
	require.Error(t, err)
	require.Equal(t, dtypes.InvalidDType, shape.DType)

	// Irregularly shaped slices.
	_, err = shapeForValue([][][]int32{{{1}}, {{1, 2}}})
	require.Error(t, err)
	fmt.Printf("\tExpected error: %v\n", err)

	// Empty slices can't be converted.
	require.Panics(t, func() { _ = FromValue([]float32{}) })

	{
		want := int64(5)
		tensor := FromValue(want)
		assert.Equal(t, want, tensor.Value())
		assert.Equal(t, want, ToScalar[int64](tensor))
	}

	// Go type `int` maps to Int64 or Int32 depending on the platform.
	{
		tensor := FromValue([][]int{{1, 3}, {5, 7}})
		if strconv.IntSize == 64 {
			require.Equal(t, []int64{1, 3, 5, 7}, CopyFlatData[int64](tensor))
		} else {
			require.Equal(t, []int32{1, 3, 5, 7}, CopyFlatData[int32](tensor))
		}
	}

	{
		want := []float32{1, 2, 3, 10, 11, 12}
		tensor := FromValue([][]float32{{1, 2, 3}, {10, 11, 12}})
		tensor.ConstFlatData(func(flat any) {
			got, _ := flat.([]float32)
			require.Equal(t, want, got)
		})
		require.Equal(t, []int{3, 1}, tensor.LayoutStrides())
	}
}

func testValueOf[T dtypes.Number | complex64 | complex128](t *testing.T) {
	want := [][]T{{1, 2, 3}, {10, 11, 12}}
	var tensor *Tensor
	require.NotPanics(t, func() { tensor = FromAnyValue(want) })
	got, ok := tensor.Value().([][]T)
	require.Truef(t, ok, "Failed to convert tensor to 2-dimensional slice -- want=%v, value=%v", want, tensor.Value())
	assert.Equal(t, want, got)
}

func TestValueOf(t *testing.T) {
	testValueOf[float32](t)
	testValueOf[float64](t)
	testValueOf[int8](t)
	testValueOf[int16](t)
	testValueOf[int32](t)
	testValueOf[int64](t)
	testValueOf[uint8](t)
	testValueOf[uint16](t)
	testValueOf[uint32](t)
	testValueOf[uint64](t)
	testValueOf[complex64](t)
	testValueOf[complex128](t)
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	want := []bool{true, false, false, false, false, true}
	tensor := FromFlatDataAndDimensions(want, 3, 2)
	require.NoError(t, tensor.Shape().Check(dtypes.Bool, 3, 2))
	require.Equal(t, want, CopyFlatData[bool](tensor))

	tensor = FromFlatDataAndDimensions([]int{1, 2, 3}, 3)
	require.Equal(t, 3, tensor.Size())

	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]float32{1, 2}, 3) })

	f16 := FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(2)}, 2)
	require.Equal(t, dtypes.Float16, f16.DType())
	bf16 := FromScalarAndDimensions(bfloat16.FromFloat32(3), 2, 2)
	require.Equal(t, dtypes.BFloat16, bf16.DType())
	require.Equal(t, float32(3), CopyFlatData[bfloat16.BFloat16](bf16)[3].Float32())
}

func TestZeroSize(t *testing.T) {
	for _, dims := range [][]int{{0}, {0, 5}, {3, 0}, {2, 0, 4}} {
		tensor := FromScalarAndDimensions(float32(1), dims...)
		require.True(t, tensor.Shape().IsZeroSize())
		tensor.ConstFlatData(func(flat any) {
			require.Len(t, flat.([]float32), 0)
		})
		tensor.ConstBytes(func(data []byte) {
			require.Len(t, data, 0)
		})
		require.True(t, tensor.Equal(FromShape(shapes.Make(dtypes.Float32, dims...))))
		require.Equal(t, tensor.Shape().String(), tensor.String())
	}
}

func TestClone(t *testing.T) {
	tensor := FromValue([][]int32{{0, 1}, {3, 5}, {7, 11}})
	clone := tensor.Clone()

	// Change the original tensor and check that the cloned version is unchanged
	MutableFlatData(tensor, func(flat []int32) {
		flat[0] = 100
	})
	require.NoError(t, clone.Shape().Check(dtypes.Int32, 3, 2))
	require.Equal(t, []int32{0, 1, 3, 5, 7, 11}, CopyFlatData[int32](clone))
}

func TestBytes(t *testing.T) {
	tensor := FromValue([][]int32{{0, 1}, {3, 5}, {7, 11}})
	tensor.ConstBytes(func(data []byte) {
		require.Equal(t, 6*4 /* sizeof(int32) */, len(data))
		flat := unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), 6)
		require.Equal(t, []int32{0, 1, 3, 5, 7, 11}, flat)
	})
	tensor.MutableBytes(func(data []byte) {
		flat := unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), 6)
		flat[0] = 13
		flat[5] = 17
	})
	require.Equal(t, [][]int32{{13, 1}, {3, 5}, {7, 17}}, tensor.Value())
}

func TestFromRaw(t *testing.T) {
	source := FromValue([]float64{1, 2, 3})
	var raw []byte
	source.ConstBytes(func(data []byte) {
		raw = append(raw, data...)
	})
	tensor, err := FromRaw(shapes.Make(dtypes.Float64, 3), raw)
	require.NoError(t, err)
	require.True(t, source.Equal(tensor))

	_, err = FromRaw(shapes.Make(dtypes.Float64, 4), raw)
	require.Error(t, err)
	_, err = FromRaw(shapes.Invalid(), raw)
	require.Error(t, err)
}

func TestFromShapeAndFlatData(t *testing.T) {
	flat := []int16{1, 2, 3, 4, 5, 6}
	tensor, err := FromShapeAndFlatData(shapes.Make(dtypes.Int16, 2, 3), flat)
	require.NoError(t, err)
	require.Equal(t, [][]int16{{1, 2, 3}, {4, 5, 6}}, tensor.Value())

	_, err = FromShapeAndFlatData(shapes.Make(dtypes.Int16, 2, 2), flat)
	require.Error(t, err)
	_, err = FromShapeAndFlatData(shapes.Make(dtypes.Int32, 2, 3), flat)
	require.Error(t, err)
	_, err = FromShapeAndFlatData(shapes.Make(dtypes.Int16, 2, 3), nil)
	require.Error(t, err)
	_, err = FromShapeAndFlatData(shapes.Invalid(), flat)
	require.Error(t, err)

	// Size() of this shape wraps to 0, so an empty flat would otherwise match.
	_, err = FromShapeAndFlatData(shapes.Make(dtypes.Int16, 1<<62, 4), []int16{})
	require.ErrorContains(t, err, "overflows")
}

func TestDTypeMismatch(t *testing.T) {
	tensor := FromValue([]float32{1, 2})
	require.Panics(t, func() { _ = CopyFlatData[float64](tensor) })
	require.Panics(t, func() { MutableFlatData(tensor, func([]int32) {}) })
	require.Panics(t, func() { _ = ToScalar[float32](tensor) })
}

func TestEqualAndInDelta(t *testing.T) {
	t0 := FromValue([][]float32{{1, 2}, {3, 4}})
	t1 := FromValue([][]float32{{1, 2}, {3, 4.001}})
	require.True(t, t0.Equal(t0))
	require.False(t, t0.Equal(t1))
	require.True(t, t0.InDelta(t1, 0.01))
	require.False(t, t0.InDelta(t1, 1e-6))
	require.False(t, t0.Equal(FromValue([]float32{1, 2, 3, 4})))
	require.False(t, t0.InDelta(FromValue([][]float64{{1, 2}, {3, 4}}), 0.01))
}

func TestFinalizeAll(t *testing.T) {
	tensor := FromValue([]float32{1, 2})
	require.True(t, tensor.Ok())
	tensor.FinalizeAll()
	require.False(t, tensor.Ok())
	require.Error(t, tensor.CheckValid())
	require.Panics(t, func() { tensor.ConstFlatData(func(any) {}) })
	require.Equal(t, "<invalid tensor>", tensor.String())

	var nilTensor *Tensor
	require.False(t, nilTensor.Ok())
	nilTensor.FinalizeAll() // No-op.
}

func TestSummary(t *testing.T) {
	require.Equal(t, "int32(7)", FromValue(int32(7)).Summary(4))
	require.Equal(t, "[3]float32{1, 2.5, 3}", FromValue([]float32{1, 2.5, 3}).Summary(4))
	require.Equal(t, "[2][2]int64{\n {1, 2},\n {3, 4}}", FromValue([][]int64{{1, 2}, {3, 4}}).Summary(4))
	require.Equal(t, "[8]int8{0, 1, 2, ..., 5, 6, 7}",
		FromValue([]int8{0, 1, 2, 3, 4, 5, 6, 7}).Summary(4))
	fmt.Printf("\t%s\n", FromValue([][][]float64{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}))
	require.Equal(t, "(Float32)[2 3]: [][]float32{{1, 2, 3}, {4, 5, 6}}",
		FromValue([][]float32{{1, 2, 3}, {4, 5, 6}}).GoStr())
}
