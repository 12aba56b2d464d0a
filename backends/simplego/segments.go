// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"
	"reflect"
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/backends/shapeinference"
	"github.com/gomlx/segments/pkg/core/shapes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// minParallelWorkSize is the minimum number of data elements for an operation to be split
// across workers.
var minParallelWorkSize = 16 * 1024

// segmentPlan holds the pre-processed segment ids and the dimensions shared by all kernels.
type segmentPlan struct {
	// ids converted to int. Unsigned values that don't fit an int are saturated to math.MaxInt.
	ids []int

	// numSegments is the number of output segments (for reductions), or the size of
	// the leading axis of the values (for gather).
	numSegments int

	// sliceSize is the number of elements indexed by each segment id.
	sliceSize int

	// sorted ids allow binary search of the range of ids of a group of segments.
	sorted bool
}

// idsRange returns the range of positions in ids that may refer to segments in [segStart, segEnd).
func (p *segmentPlan) idsRange(segStart, segEnd int) (first, last int) {
	if !p.sorted {
		return 0, len(p.ids)
	}
	first = sort.SearchInts(p.ids, segStart)
	last = first + sort.SearchInts(p.ids[first:], segEnd)
	return
}

// segmentReduceKernel reduces the contributions to the segments in the range [segStart, segEnd),
// writing only to the corresponding range of the output.
type segmentReduceKernel func(plan *segmentPlan, data, output any, segStart, segEnd int)

// segmentGatherKernel gathers the slices for the positions [start, end) of the segment ids.
type segmentGatherKernel func(plan *segmentPlan, values, output any, start, end int)

var (
	segmentSumDTypeMap     = NewDTypeMap("SegmentSum")
	segmentMaxDTypeMap     = NewDTypeMap("SegmentMax")
	segmentMinDTypeMap     = NewDTypeMap("SegmentMin")
	segmentProductDTypeMap = NewDTypeMap("SegmentProduct")
	segmentMeanDTypeMap    = NewDTypeMap("SegmentMean")
	segmentGatherDTypeMap  = NewDTypeMap("SegmentGather")
	segmentIDsDTypeMap     = NewDTypeMap("SegmentIDs")

	segmentReduceDTypeMaps = map[backends.OpType]*DTypeMap{
		backends.OpTypeSegmentSum:     segmentSumDTypeMap,
		backends.OpTypeSegmentMax:     segmentMaxDTypeMap,
		backends.OpTypeSegmentMin:     segmentMinDTypeMap,
		backends.OpTypeSegmentProduct: segmentProductDTypeMap,
		backends.OpTypeSegmentMean:    segmentMeanDTypeMap,
	}
)

func init() {
	registerPODSegmentKernels[int8]()
	registerPODSegmentKernels[int16]()
	registerPODSegmentKernels[int32]()
	registerPODSegmentKernels[int64]()
	registerPODSegmentKernels[uint8]()
	registerPODSegmentKernels[uint16]()
	registerPODSegmentKernels[uint32]()
	registerPODSegmentKernels[uint64]()
	registerPODSegmentKernels[float32]()
	registerPODSegmentKernels[float64]()
	registerFloatSegmentKernels[float32]()
	registerFloatSegmentKernels[float64]()
	registerComplexSegmentKernels[complex64]()
	registerComplexSegmentKernels[complex128]()

	registerSegmentIDs[int8]()
	registerSegmentIDs[int16]()
	registerSegmentIDs[int32]()
	registerSegmentIDs[int64]()
	registerSegmentIDs[uint8]()
	registerSegmentIDs[uint16]()
	registerSegmentIDs[uint32]()
	registerSegmentIDs[uint64]()
}

// dtypeFor returns the dtype of the Go type T.
func dtypeFor[T any]() dtypes.DType {
	return dtypes.FromGoType(reflect.TypeFor[T]())
}

func registerPODSegmentKernels[T PODNumericConstraints]() {
	dtype := dtypeFor[T]()
	segmentSumDTypeMap.Register(dtype, priorityGeneric, segmentReduceKernel(execSegmentSumGeneric[T]))
	segmentProductDTypeMap.Register(dtype, priorityGeneric, segmentReduceKernel(execSegmentProductGeneric[T]))
	segmentMaxDTypeMap.Register(dtype, priorityGeneric, segmentReduceKernel(execSegmentMaxGeneric[T]))
	segmentMinDTypeMap.Register(dtype, priorityGeneric, segmentReduceKernel(execSegmentMinGeneric[T]))
	segmentGatherDTypeMap.Register(dtype, priorityGeneric, segmentGatherKernel(execSegmentGatherGeneric[T]))
}

func registerFloatSegmentKernels[T PODFloatConstraints]() {
	segmentMeanDTypeMap.Register(dtypeFor[T](), priorityGeneric, segmentReduceKernel(execSegmentMeanFloat[T]))
}

func registerComplexSegmentKernels[T ComplexConstraints]() {
	dtype := dtypeFor[T]()
	segmentSumDTypeMap.Register(dtype, priorityGeneric, segmentReduceKernel(execSegmentSumGeneric[T]))
	segmentProductDTypeMap.Register(dtype, priorityGeneric, segmentReduceKernel(execSegmentProductGeneric[T]))
	segmentMeanDTypeMap.Register(dtype, priorityGeneric, segmentReduceKernel(execSegmentMeanComplex[T]))
	segmentGatherDTypeMap.Register(dtype, priorityGeneric, segmentGatherKernel(execSegmentGatherGeneric[T]))
}

func registerSegmentIDs[T PODIntegerConstraints]() {
	segmentIDsDTypeMap.Register(dtypeFor[T](), priorityGeneric, segmentIDsToIntsGeneric[T])
}

// segmentIDsToIntsGeneric converts the flat segment ids to []int.
func segmentIDsToIntsGeneric[T constraints.Integer](flatAny any) []int {
	flat := flatAny.([]T)
	ids := make([]int, len(flat))
	for i, v := range flat {
		id := int(v)
		if id < 0 && v > 0 {
			// Unsigned value larger than math.MaxInt: it is out-of-range anyway.
			id = math.MaxInt
		}
		ids[i] = id
	}
	return ids
}

// checkSortedSegmentIDs returns an error if ids are not non-decreasing and non-negative.
func checkSortedSegmentIDs(ids []int) error {
	for i, id := range ids {
		if id < 0 {
			return errors.Errorf("sorted segment ids must be non-negative, got segment_ids[%d]=%d", i, id)
		}
		if i > 0 && id < ids[i-1] {
			return errors.Errorf("sorted segment ids must be non-decreasing, got segment_ids[%d]=%d > segment_ids[%d]=%d",
				i-1, ids[i-1], i, id)
		}
	}
	return nil
}

// makeFlat allocates a zero-initialized flat slice for the dtype.
func makeFlat(dtype dtypes.DType, size int) any {
	return reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), size, size).Interface()
}

// sliceSizeOf returns the number of elements of the axes of the shape after the first rank axes.
func sliceSizeOf(shape shapes.Shape, rank int) int {
	size := 1
	for _, dim := range shape.Dimensions[rank:] {
		size *= dim
	}
	return size
}

// numTasks returns the number of tasks to split an operation over numItems items, with a total
// of workSize elements processed.
func (b *Backend) numTasks(numItems, workSize int) int {
	if workSize < minParallelWorkSize {
		return 1
	}
	return b.workers.NumTasks(numItems, 1)
}

// SegmentReduce implements backends.SegmentOps.
func (b *Backend) SegmentReduce(opType backends.OpType, data, segmentIDs backends.Data, numSegments int, sorted bool) (output backends.Data, err error) {
	if err = b.checkOk(); err != nil {
		return
	}
	if err = data.Check(); err != nil {
		err = backends.InvalidArgument(errors.WithMessagef(err, "%s: invalid data", opType))
		return
	}
	if err = segmentIDs.Check(); err != nil {
		err = backends.InvalidArgument(errors.WithMessagef(err, "%s: invalid segment ids", opType))
		return
	}
	outputShape, err := shapeinference.SegmentReduceOp(opType, data.Shape, segmentIDs.Shape, numSegments)
	if err != nil {
		err = backends.InvalidArgument(err)
		return
	}
	err = exceptions.TryCatch[error](func() {
		plan := &segmentPlan{
			ids:         segmentIDsDTypeMap.Get(segmentIDs.Shape.DType).(func(any) []int)(segmentIDs.Flat),
			numSegments: numSegments,
			sliceSize:   sliceSizeOf(data.Shape, segmentIDs.Shape.Rank()),
			sorted:      sorted,
		}
		if sorted {
			if err := checkSortedSegmentIDs(plan.ids); err != nil {
				panic(backends.InvalidArgument(errors.WithMessagef(err, "%s", opType)))
			}
		}
		kernel := segmentReduceDTypeMaps[opType].Get(data.Shape.DType).(segmentReduceKernel)
		outputFlat := makeFlat(outputShape.DType, outputShape.Size())
		numTasks := b.numTasks(numSegments, data.Shape.Size())
		klog.V(2).Infof("%s: data=%s, segment_ids=%s, num_segments=%d, sorted=%v, tasks=%d",
			opType, data.Shape, segmentIDs.Shape, numSegments, sorted, numTasks)
		b.workers.RunInRanges(numSegments, numTasks, func(segStart, segEnd int) {
			kernel(plan, data.Flat, outputFlat, segStart, segEnd)
		})
		output = backends.Data{Shape: outputShape, Flat: outputFlat}
	})
	return
}

// SegmentGather implements backends.SegmentOps.
func (b *Backend) SegmentGather(values, segmentIDs backends.Data) (output backends.Data, err error) {
	opType := backends.OpTypeSegmentGather
	if err = b.checkOk(); err != nil {
		return
	}
	if err = values.Check(); err != nil {
		err = backends.InvalidArgument(errors.WithMessagef(err, "%s: invalid values", opType))
		return
	}
	if err = segmentIDs.Check(); err != nil {
		err = backends.InvalidArgument(errors.WithMessagef(err, "%s: invalid segment ids", opType))
		return
	}
	outputShape, err := shapeinference.SegmentGatherOp(values.Shape, segmentIDs.Shape)
	if err != nil {
		err = backends.InvalidArgument(err)
		return
	}
	err = exceptions.TryCatch[error](func() {
		plan := &segmentPlan{
			ids:         segmentIDsDTypeMap.Get(segmentIDs.Shape.DType).(func(any) []int)(segmentIDs.Flat),
			numSegments: values.Shape.Dimensions[0],
			sliceSize:   sliceSizeOf(values.Shape, 1),
		}
		kernel := segmentGatherDTypeMap.Get(values.Shape.DType).(segmentGatherKernel)
		outputFlat := makeFlat(outputShape.DType, outputShape.Size())
		numPositions := len(plan.ids)
		numTasks := b.numTasks(numPositions, outputShape.Size())
		b.workers.RunInRanges(numPositions, numTasks, func(start, end int) {
			kernel(plan, values.Flat, outputFlat, start, end)
		})
		output = backends.Data{Shape: outputShape, Flat: outputFlat}
	})
	return
}

func execSegmentSumGeneric[T ArithmeticConstraints](plan *segmentPlan, dataAny, outputAny any, segStart, segEnd int) {
	data, output := dataAny.([]T), outputAny.([]T)
	sliceSize := plan.sliceSize
	first, last := plan.idsRange(segStart, segEnd)
	for k := first; k < last; k++ {
		id := plan.ids[k]
		if id < segStart || id >= segEnd {
			continue
		}
		src := data[k*sliceSize : (k+1)*sliceSize]
		dst := output[id*sliceSize : (id+1)*sliceSize]
		for i, v := range src {
			dst[i] += v
		}
	}
}

func execSegmentProductGeneric[T ArithmeticConstraints](plan *segmentPlan, dataAny, outputAny any, segStart, segEnd int) {
	data, output := dataAny.([]T), outputAny.([]T)
	sliceSize := plan.sliceSize
	outRange := output[segStart*sliceSize : segEnd*sliceSize]
	for i := range outRange {
		outRange[i] = 1
	}
	first, last := plan.idsRange(segStart, segEnd)
	for k := first; k < last; k++ {
		id := plan.ids[k]
		if id < segStart || id >= segEnd {
			continue
		}
		src := data[k*sliceSize : (k+1)*sliceSize]
		dst := output[id*sliceSize : (id+1)*sliceSize]
		for i, v := range src {
			dst[i] *= v
		}
	}
}

// execSegmentMaxGeneric: the first contribution to a segment is copied, so -Inf and NaN
// values are preserved. Empty segments hold the lowest finite value.
func execSegmentMaxGeneric[T PODNumericConstraints](plan *segmentPlan, dataAny, outputAny any, segStart, segEnd int) {
	execSegmentOrderedGeneric(plan, dataAny.([]T), outputAny.([]T), segStart, segEnd, lowestValue[T](),
		func(a, b T) T { return max(a, b) })
}

// execSegmentMinGeneric: the first contribution to a segment is copied, so +Inf and NaN
// values are preserved. Empty segments hold the highest finite value.
func execSegmentMinGeneric[T PODNumericConstraints](plan *segmentPlan, dataAny, outputAny any, segStart, segEnd int) {
	execSegmentOrderedGeneric(plan, dataAny.([]T), outputAny.([]T), segStart, segEnd, highestValue[T](),
		func(a, b T) T { return min(a, b) })
}

func execSegmentOrderedGeneric[T PODNumericConstraints](plan *segmentPlan, data, output []T, segStart, segEnd int, initValue T, reduceFn func(a, b T) T) {
	sliceSize := plan.sliceSize
	outRange := output[segStart*sliceSize : segEnd*sliceSize]
	for i := range outRange {
		outRange[i] = initValue
	}
	seen := make([]bool, segEnd-segStart)
	first, last := plan.idsRange(segStart, segEnd)
	for k := first; k < last; k++ {
		id := plan.ids[k]
		if id < segStart || id >= segEnd {
			continue
		}
		src := data[k*sliceSize : (k+1)*sliceSize]
		dst := output[id*sliceSize : (id+1)*sliceSize]
		if !seen[id-segStart] {
			copy(dst, src)
			seen[id-segStart] = true
			continue
		}
		for i, v := range src {
			dst[i] = reduceFn(dst[i], v)
		}
	}
}

// sumAndCount sums the contributions of the segments in [segStart, segEnd), and returns the number
// of contributions of each of them.
func sumAndCount[T ArithmeticConstraints](plan *segmentPlan, data, output []T, segStart, segEnd int) []int {
	sliceSize := plan.sliceSize
	counts := make([]int, segEnd-segStart)
	first, last := plan.idsRange(segStart, segEnd)
	for k := first; k < last; k++ {
		id := plan.ids[k]
		if id < segStart || id >= segEnd {
			continue
		}
		counts[id-segStart]++
		src := data[k*sliceSize : (k+1)*sliceSize]
		dst := output[id*sliceSize : (id+1)*sliceSize]
		for i, v := range src {
			dst[i] += v
		}
	}
	return counts
}

func execSegmentMeanFloat[T PODFloatConstraints](plan *segmentPlan, dataAny, outputAny any, segStart, segEnd int) {
	data, output := dataAny.([]T), outputAny.([]T)
	sliceSize := plan.sliceSize
	counts := sumAndCount(plan, data, output, segStart, segEnd)
	for segIdx, count := range counts {
		if count <= 1 {
			continue
		}
		id := segStart + segIdx
		dst := output[id*sliceSize : (id+1)*sliceSize]
		divisor := T(count)
		for i := range dst {
			dst[i] /= divisor
		}
	}
}

func execSegmentMeanComplex[T ComplexConstraints](plan *segmentPlan, dataAny, outputAny any, segStart, segEnd int) {
	data, output := dataAny.([]T), outputAny.([]T)
	sliceSize := plan.sliceSize
	counts := sumAndCount(plan, data, output, segStart, segEnd)
	for segIdx, count := range counts {
		if count <= 1 {
			continue
		}
		id := segStart + segIdx
		dst := output[id*sliceSize : (id+1)*sliceSize]
		divisor := T(complex(float64(count), 0))
		for i := range dst {
			dst[i] /= divisor
		}
	}
}

func execSegmentGatherGeneric[T any](plan *segmentPlan, valuesAny, outputAny any, start, end int) {
	values, output := valuesAny.([]T), outputAny.([]T)
	sliceSize := plan.sliceSize
	for k := start; k < end; k++ {
		id := plan.ids[k]
		if id < 0 || id >= plan.numSegments {
			// Output is already zero.
			continue
		}
		copy(output[k*sliceSize:(k+1)*sliceSize], values[id*sliceSize:(id+1)*sliceSize])
	}
}
