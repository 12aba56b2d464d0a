// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// dataOf creates a backends.Data from a flat slice and its dimensions.
func dataOf[T any](flat []T, dims ...int) backends.Data {
	return backends.Data{Shape: shapes.Make(dtypeFor[T](), dims...), Flat: flat}
}

// forEachBackend runs testFn with a sequential and a couple of parallel configurations, with
// parallelism triggered even for small inputs.
func forEachBackend(t *testing.T, testFn func(t *testing.T, b *Backend)) {
	savedMinWork := minParallelWorkSize
	minParallelWorkSize = 1
	defer func() { minParallelWorkSize = savedMinWork }()
	for _, config := range []string{"ops_sequential", "parallelism=3", "parallelism=-1"} {
		t.Run(config, func(t *testing.T) {
			testFn(t, must.M1(NewBackend(config)))
		})
	}
}

func reduce(t *testing.T, b *Backend, opType backends.OpType, data, segmentIDs backends.Data, numSegments int, sorted bool) backends.Data {
	output, err := b.SegmentReduce(opType, data, segmentIDs, numSegments, sorted)
	require.NoError(t, err)
	return output
}

func TestSegmentSum(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b *Backend) {
		// 1D data, unsorted ids.
		out := reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{0, 1, 2, 3, 4, 5}, 6), dataOf([]int32{3, 0, 2, 1, 3, 3}, 6), 4, false)
		require.NoError(t, out.Shape.Check(dtypes.Float32, 4))
		require.Equal(t, []float32{1, 3, 2, 9}, out.Flat)

		// Negative ids are dropped.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]int32{0, 1, 2, 3, 4, 5, 6}, 7), dataOf([]int64{3, -1, 0, 1, 0, -1, 3}, 7), 4, false)
		require.Equal(t, []int32{6, 3, 0, 6}, out.Flat)

		// 2D data, disjoint ids, many empty segments.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float64{1, 2, 3, 4, 5, 6}, 3, 2), dataOf([]int8{9, 0, 4}, 3), 10, false)
		require.NoError(t, out.Shape.Check(dtypes.Float64, 10, 2))
		want := make([]float64, 20)
		want[0], want[1] = 3, 4
		want[8], want[9] = 5, 6
		want[18], want[19] = 1, 2
		require.Equal(t, want, out.Flat)

		// 2D data, non-disjoint ids.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{
				0, 1, 2, 3,
				10, 11, 12, 13,
				30, 31, 32, 33,
				40, 41, 42, 43,
				60, 61, 62, 63,
			}, 5, 4),
			dataOf([]int32{0, 1, 2, 0, 1}, 5), 4, false)
		require.Equal(t, []float32{
			40, 42, 44, 46,
			70, 72, 74, 76,
			30, 31, 32, 33,
			0, 0, 0, 0,
		}, out.Flat)

		// 2D ids over 3D data.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 2, 2, 3),
			dataOf([]uint16{0, 1, 1, 3}, 2, 2), 4, false)
		require.NoError(t, out.Shape.Check(dtypes.Int64, 4, 3))
		require.Equal(t, []int64{0, 1, 2, 9, 11, 13, 0, 0, 0, 9, 10, 11}, out.Flat)

		// 1D ids over 3D data.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 3, 2, 2),
			dataOf([]int32{1, 0, 1}, 3), 2, false)
		require.NoError(t, out.Shape.Check(dtypes.Float32, 2, 2, 2))
		require.Equal(t, []float32{4, 5, 6, 7, 8, 10, 12, 14}, out.Flat)

		// Scalar id: the whole data goes to one segment.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{0, 1, 2, 3, 4, 5}, 6), dataOf([]int32{2}), 4, false)
		require.NoError(t, out.Shape.Check(dtypes.Float32, 4, 6))
		wantF32 := make([]float32, 24)
		copy(wantF32[12:], []float32{0, 1, 2, 3, 4, 5})
		require.Equal(t, wantF32, out.Flat)

		// Complex numbers.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]complex64{1 + 1i, 2 - 1i, 3}, 3), dataOf([]int32{1, 1, 0}, 3), 2, false)
		require.Equal(t, []complex64{3, 3}, out.Flat)

		// Unsigned ids larger than any segment are dropped.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]uint8{1, 2, 3}, 3), dataOf([]uint64{math.MaxUint64, 0, 1}, 3), 2, false)
		require.Equal(t, []uint8{2, 3}, out.Flat)

		// No segments.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{1, 2, 3}, 3), dataOf([]int32{0, 1, 2}, 3), 0, false)
		require.NoError(t, out.Shape.Check(dtypes.Float32, 0))
		require.Empty(t, out.Flat)

		// No data.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{}, 0, 2), dataOf([]int32{}, 0), 3, false)
		require.Equal(t, []float32{0, 0, 0, 0, 0, 0}, out.Flat)
	})
}

func TestSegmentReduceErrors(t *testing.T) {
	b := must.M1(NewBackend(""))
	data := make([]float32, 4*8*7)
	_, err := b.SegmentReduce(backends.OpTypeSegmentSum, dataOf(data, 4, 8, 7), dataOf(make([]int32, 6), 3, 2), 4, false)
	require.ErrorIs(t, err, backends.ErrInvalidArgument)
	fmt.Printf("\tExpected error: %v\n", err)

	// Flat data inconsistent with its shape.
	_, err = b.SegmentReduce(backends.OpTypeSegmentSum,
		backends.Data{Shape: shapes.Make(dtypes.Float32, 3), Flat: []float64{1, 2, 3}}, dataOf([]int32{0, 1, 2}, 3), 3, false)
	require.Error(t, err)
	_, err = b.SegmentReduce(backends.OpTypeSegmentSum,
		dataOf([]float32{1, 2, 3}, 3), backends.Data{Shape: shapes.Make(dtypes.Int32, 3), Flat: []int32{0, 1}}, 3, false)
	require.Error(t, err)

	// Mean of integers, max of complex numbers.
	_, err = b.SegmentReduce(backends.OpTypeSegmentMean, dataOf([]int32{1, 2}, 2), dataOf([]int32{0, 1}, 2), 2, false)
	require.Error(t, err)
	_, err = b.SegmentReduce(backends.OpTypeSegmentMax, dataOf([]complex128{1, 2}, 2), dataOf([]int32{0, 1}, 2), 2, false)
	require.Error(t, err)

	// Negative number of segments.
	_, err = b.SegmentReduce(backends.OpTypeSegmentSum, dataOf([]float32{1, 2}, 2), dataOf([]int32{0, 1}, 2), -1, false)
	require.Error(t, err)
}

func TestSegmentSorted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b *Backend) {
		out := reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{1, 2, 3, 4}, 4), dataOf([]int32{0, 0, 1, 3}, 4), 4, true)
		require.Equal(t, []float32{3, 3, 0, 4}, out.Flat)

		// Ids beyond the number of segments are dropped.
		out = reduce(t, b, backends.OpTypeSegmentMax,
			dataOf([]int32{1, 2, 3, 4}, 4), dataOf([]int32{0, 1, 1, 5}, 4), 2, true)
		require.Equal(t, []int32{1, 3}, out.Flat)

		// Not sorted.
		_, err := b.SegmentReduce(backends.OpTypeSegmentSum,
			dataOf([]float32{1, 2, 3}, 3), dataOf([]int32{0, 2, 1}, 3), 3, true)
		require.ErrorIs(t, err, backends.ErrInvalidArgument)
		fmt.Printf("\tExpected error: %v\n", err)

		// Negative ids are not accepted in sorted mode.
		_, err = b.SegmentReduce(backends.OpTypeSegmentSum,
			dataOf([]float32{1, 2, 3}, 3), dataOf([]int32{-1, 0, 1}, 3), 3, true)
		require.Error(t, err)

		// Same ids unsorted are fine.
		out = reduce(t, b, backends.OpTypeSegmentSum,
			dataOf([]float32{1, 2, 3}, 3), dataOf([]int32{0, 2, 1}, 3), 3, false)
		require.Equal(t, []float32{1, 3, 2}, out.Flat)
	})
}

func TestSegmentMaxMin(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b *Backend) {
		out := reduce(t, b, backends.OpTypeSegmentMax,
			dataOf([]int32{1, 5, -3, 2}, 4), dataOf([]int32{0, 0, 2, 2}, 4), 4, false)
		require.Equal(t, []int32{5, math.MinInt32, 2, math.MinInt32}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMax,
			dataOf([]float32{float32(math.Inf(-1)), -1, -2}, 3), dataOf([]int32{0, 2, 2}, 3), 3, false)
		require.Equal(t, []float32{float32(math.Inf(-1)), -math.MaxFloat32, -1}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMin,
			dataOf([]float64{3, 1, 2, 7, 0, 9}, 3, 2), dataOf([]int32{1, 1, 3}, 3), 3, false)
		require.Equal(t, []float64{math.MaxFloat64, math.MaxFloat64, 1, 2, math.MaxFloat64, math.MaxFloat64}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMin,
			dataOf([]uint16{4, 3}, 2), dataOf([]int32{1, 1}, 2), 2, false)
		require.Equal(t, []uint16{math.MaxUint16, 3}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMax,
			dataOf([]uint8{4, 3}, 2), dataOf([]int32{0, 0}, 2), 2, false)
		require.Equal(t, []uint8{4, 0}, out.Flat)
	})
}

func TestSegmentProductMean(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b *Backend) {
		out := reduce(t, b, backends.OpTypeSegmentProduct,
			dataOf([]int64{2, 3, 4, 5}, 4), dataOf([]int32{1, 1, 0, 5}, 4), 3, false)
		require.Equal(t, []int64{4, 6, 1}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentProduct,
			dataOf([]complex128{1i, 1i}, 2), dataOf([]int32{0, 0}, 2), 2, false)
		require.Equal(t, []complex128{-1, 1}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMean,
			dataOf([]float32{1, 2, 3, 10}, 4), dataOf([]int32{0, 0, 0, 2}, 4), 3, false)
		require.Equal(t, []float32{2, 0, 10}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMean,
			dataOf([]float64{1, 10, 3, 30}, 2, 2), dataOf([]int32{1, 1}, 2), 2, false)
		require.Equal(t, []float64{0, 0, 2, 20}, out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMean,
			dataOf([]complex64{1 + 1i, 3 + 3i}, 2), dataOf([]int32{0, 0}, 2), 1, false)
		require.Equal(t, []complex64{2 + 2i}, out.Flat)
	})
}

func TestSegmentHalfPrecision(t *testing.T) {
	f16 := func(values ...float32) []float16.Float16 {
		out := make([]float16.Float16, len(values))
		for i, v := range values {
			out[i] = float16.Fromfloat32(v)
		}
		return out
	}
	bf16 := func(values ...float32) []bfloat16.BFloat16 {
		out := make([]bfloat16.BFloat16, len(values))
		for i, v := range values {
			out[i] = bfloat16.FromFloat32(v)
		}
		return out
	}

	forEachBackend(t, func(t *testing.T, b *Backend) {
		data, ids := dataOf(f16(1, 2, 3), 3), dataOf([]int32{0, 0, 2}, 3)
		out := reduce(t, b, backends.OpTypeSegmentSum, data, ids, 4, false)
		require.NoError(t, out.Shape.Check(dtypes.Float16, 4))
		require.Equal(t, f16(3, 0, 3, 0), out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMax, data, ids, 4, false)
		require.Equal(t, f16(2, -65504, 3, -65504), out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMin, data, ids, 2, false)
		require.Equal(t, f16(1, 65504), out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentMean, data, ids, 4, false)
		require.Equal(t, f16(1.5, 0, 3, 0), out.Flat)

		out = reduce(t, b, backends.OpTypeSegmentProduct, data, ids, 2, false)
		require.Equal(t, f16(2, 1), out.Flat)

		bdata := dataOf(bf16(1, 2, 3), 3)
		out = reduce(t, b, backends.OpTypeSegmentMin, bdata, ids, 2, false)
		require.Equal(t, []bfloat16.BFloat16{bfloat16.FromFloat32(1), bfloat16Highest}, out.Flat)
		out = reduce(t, b, backends.OpTypeSegmentSum, bdata, ids, 3, false)
		require.Equal(t, bf16(3, 0, 3), out.Flat)
	})
}

func TestSegmentParallelConsistency(t *testing.T) {
	const numRows, rowSize, numSegments = 1000, 7, 50
	rng := rand.New(rand.NewPCG(42, 7))
	data := make([]float64, numRows*rowSize)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	ids := make([]int32, numRows)
	for i := range ids {
		ids[i] = int32(rng.IntN(numSegments+10)) - 5
	}

	sequential := must.M1(NewBackend("ops_sequential"))
	for _, opType := range []backends.OpType{
		backends.OpTypeSegmentSum, backends.OpTypeSegmentMax, backends.OpTypeSegmentMin,
		backends.OpTypeSegmentProduct, backends.OpTypeSegmentMean} {
		want := reduce(t, sequential, opType, dataOf(data, numRows, rowSize), dataOf(ids, numRows), numSegments, false)
		forEachBackend(t, func(t *testing.T, b *Backend) {
			got := reduce(t, b, opType, dataOf(data, numRows, rowSize), dataOf(ids, numRows), numSegments, false)
			require.Equalf(t, want.Flat, got.Flat, "%s results differ", opType)
		})
	}
}

func TestSegmentGather(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b *Backend) {
		out, err := b.SegmentGather(dataOf([]float32{1, 2, 3, 4, 5, 6}, 3, 2), dataOf([]int32{2, 0, -1, 3, 1}, 5))
		require.NoError(t, err)
		require.NoError(t, out.Shape.Check(dtypes.Float32, 5, 2))
		require.Equal(t, []float32{5, 6, 1, 2, 0, 0, 0, 0, 3, 4}, out.Flat)

		out, err = b.SegmentGather(dataOf([]int64{1, 2, 3}, 3), dataOf([]uint8{0, 2}, 2, 1))
		require.NoError(t, err)
		require.NoError(t, out.Shape.Check(dtypes.Int64, 2, 1))
		require.Equal(t, []int64{1, 3}, out.Flat)

		out, err = b.SegmentGather(dataOf([]float16.Float16{float16.Fromfloat32(7)}, 1), dataOf([]int32{0, 0}, 2))
		require.NoError(t, err)
		require.Equal(t, []float16.Float16{float16.Fromfloat32(7), float16.Fromfloat32(7)}, out.Flat)

		_, err = b.SegmentGather(dataOf([]float32{1}), dataOf([]int32{0}, 1))
		require.Error(t, err)
	})
}
