// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/segments/backends"
	"github.com/x448/float16"
)

// halfPrecision are the 16-bits float types, stored as uint16 and converted to float32 for arithmetic.
type halfPrecision interface {
	float16.Float16 | bfloat16.BFloat16
	Float32() float32
}

var (
	// float16Lowest is the lowest finite value of a Float16: -65504.
	float16Lowest = float16.Frombits(0xFBFF)
	// float16Highest is the highest finite value of a Float16: 65504.
	float16Highest = float16.Frombits(0x7BFF)

	// bfloat16Lowest is the lowest finite value of a BFloat16.
	bfloat16Lowest = bfloat16.BFloat16(0xFF7F)
	// bfloat16Highest is the highest finite value of a BFloat16.
	bfloat16Highest = bfloat16.BFloat16(0x7F7F)
)

func init() {
	registerHalfSegmentKernels(dtypes.Float16, float16.Fromfloat32, float16Lowest, float16Highest)
	registerHalfSegmentKernels(dtypes.BFloat16, bfloat16.FromFloat32, bfloat16Lowest, bfloat16Highest)
}

func registerHalfSegmentKernels[T halfPrecision](dtype dtypes.DType, fromFloat32 func(float32) T, lowest, highest T) {
	for opType, dtypeMap := range segmentReduceDTypeMaps {
		dtypeMap.Register(dtype, priorityTyped, makeHalfSegmentReduceKernel(opType, fromFloat32, lowest, highest))
	}
	segmentGatherDTypeMap.Register(dtype, priorityTyped, segmentGatherKernel(execSegmentGatherGeneric[T]))
}

// makeHalfSegmentReduceKernel returns a kernel that accumulates in float32, and only converts back to
// the half-precision type at the end.
func makeHalfSegmentReduceKernel[T halfPrecision](opType backends.OpType, fromFloat32 func(float32) T, lowest, highest T) segmentReduceKernel {
	var (
		initAcc float32
		reduce  func(acc, v float32) float32
		empty   T
	)
	switch opType {
	case backends.OpTypeSegmentSum, backends.OpTypeSegmentMean:
		reduce = func(acc, v float32) float32 { return acc + v }
		empty = fromFloat32(0)
	case backends.OpTypeSegmentProduct:
		initAcc = 1
		reduce = func(acc, v float32) float32 { return acc * v }
		empty = fromFloat32(1)
	case backends.OpTypeSegmentMax:
		initAcc = float32(math.Inf(-1))
		reduce = func(acc, v float32) float32 { return max(acc, v) }
		empty = lowest
	case backends.OpTypeSegmentMin:
		initAcc = float32(math.Inf(1))
		reduce = func(acc, v float32) float32 { return min(acc, v) }
		empty = highest
	}
	isMean := opType == backends.OpTypeSegmentMean

	return func(plan *segmentPlan, dataAny, outputAny any, segStart, segEnd int) {
		data, output := dataAny.([]T), outputAny.([]T)
		sliceSize := plan.sliceSize
		acc := make([]float32, (segEnd-segStart)*sliceSize)
		for i := range acc {
			acc[i] = initAcc
		}
		counts := make([]int, segEnd-segStart)
		first, last := plan.idsRange(segStart, segEnd)
		for k := first; k < last; k++ {
			id := plan.ids[k]
			if id < segStart || id >= segEnd {
				continue
			}
			counts[id-segStart]++
			src := data[k*sliceSize : (k+1)*sliceSize]
			dst := acc[(id-segStart)*sliceSize : (id-segStart+1)*sliceSize]
			for i, v := range src {
				dst[i] = reduce(dst[i], v.Float32())
			}
		}
		for segIdx, count := range counts {
			id := segStart + segIdx
			src := acc[segIdx*sliceSize : (segIdx+1)*sliceSize]
			dst := output[id*sliceSize : (id+1)*sliceSize]
			if count == 0 {
				for i := range dst {
					dst[i] = empty
				}
				continue
			}
			for i, v := range src {
				if isMean {
					v /= float32(count)
				}
				dst[i] = fromFloat32(v)
			}
		}
	}
}
