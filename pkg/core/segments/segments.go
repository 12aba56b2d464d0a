// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package segments implements segment reductions over tensors: the leading-axis slices of a data tensor
// are grouped by an integer segment id and reduced (summed, multiplied, averaged, ...) per group.
//
// The "unsorted" functions accept ids in any order, including negative or out-of-range ids, which are
// silently dropped. The sorted functions (Sum, Max, Min, Product, Mean) require non-decreasing,
// non-negative ids and derive the number of segments from the last id.
//
// Example:
//
//	backend := backends.MustNew()
//	data := tensors.FromValue([]float32{0, 1, 2, 3, 4, 5})
//	ids := tensors.FromValue([]int32{3, 0, 2, 1, 3, 3})
//	sums, err := segments.UnsortedSum(backend, data, ids, 4) // -> [1, 3, 2, 9]
//
// All validation errors wrap ErrInvalidArgument, and unsupported operations or dtypes wrap ErrNotImplemented,
// so they can be tested with errors.Is.
package segments

import (
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/backends/shapeinference"
	"github.com/gomlx/segments/pkg/core/tensors"
	"github.com/gomlx/segments/pkg/support/xslices"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

var (
	// ErrInvalidArgument is wrapped by all validation errors.
	ErrInvalidArgument = backends.ErrInvalidArgument

	// ErrNotImplemented is wrapped by errors of operations or dtypes not supported by the backend.
	ErrNotImplemented = backends.ErrNotImplemented
)

// opNames maps the names accepted by ParseOp to the reductions.
var opNames = map[string]backends.OpType{
	"sum":     backends.OpTypeSegmentSum,
	"max":     backends.OpTypeSegmentMax,
	"min":     backends.OpTypeSegmentMin,
	"prod":    backends.OpTypeSegmentProduct,
	"product": backends.OpTypeSegmentProduct,
	"mean":    backends.OpTypeSegmentMean,
}

// ParseOp converts a reduction name ("sum", "max", "min", "prod" or "product", "mean"), case-insensitive,
// to the corresponding backends.OpType.
func ParseOp(name string) (backends.OpType, error) {
	opType, found := opNames[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		return backends.OpTypeInvalid, errors.Wrapf(ErrNotImplemented, "unknown segment reduction %q, valid values are sum, max, min, prod and mean", name)
	}
	return opType, nil
}

// UnsortedSum returns the sum of the slices of data with the same segment id.
//
// segmentIDs must be an integer tensor whose shape is a prefix of data's shape: each element of segmentIDs
// selects the slice of data at the same position. A scalar segmentIDs maps all data to one segment.
// The output has shape [numSegments] + data.Shape().Dimensions[segmentIDs.Rank():], and segments
// with no contribution are zero.
//
// Ids outside [0, numSegments), including negative ones, are dropped.
func UnsortedSum(backend backends.Backend, data, segmentIDs *tensors.Tensor, numSegments int) (*tensors.Tensor, error) {
	return Reduce(backend, backends.OpTypeSegmentSum, data, segmentIDs, numSegments, false)
}

// UnsortedMax is like UnsortedSum, but takes the element-wise maximum.
// Empty segments are set to the lowest finite value of the dtype.
func UnsortedMax(backend backends.Backend, data, segmentIDs *tensors.Tensor, numSegments int) (*tensors.Tensor, error) {
	return Reduce(backend, backends.OpTypeSegmentMax, data, segmentIDs, numSegments, false)
}

// UnsortedMin is like UnsortedSum, but takes the element-wise minimum.
// Empty segments are set to the highest finite value of the dtype.
func UnsortedMin(backend backends.Backend, data, segmentIDs *tensors.Tensor, numSegments int) (*tensors.Tensor, error) {
	return Reduce(backend, backends.OpTypeSegmentMin, data, segmentIDs, numSegments, false)
}

// UnsortedProduct is like UnsortedSum, but multiplies the values. Empty segments are set to 1.
func UnsortedProduct(backend backends.Backend, data, segmentIDs *tensors.Tensor, numSegments int) (*tensors.Tensor, error) {
	return Reduce(backend, backends.OpTypeSegmentProduct, data, segmentIDs, numSegments, false)
}

// UnsortedMean is like UnsortedSum, but divides each segment by its number of contributions.
// Empty segments are zero. Only float and complex dtypes are accepted.
func UnsortedMean(backend backends.Backend, data, segmentIDs *tensors.Tensor, numSegments int) (*tensors.Tensor, error) {
	return Reduce(backend, backends.OpTypeSegmentMean, data, segmentIDs, numSegments, false)
}

// Sum of the slices of data with the same segment id, for sorted segmentIDs.
//
// segmentIDs must be a scalar or rank-1 tensor with non-decreasing non-negative ids, and the number of
// segments is the last id plus one (0 if segmentIDs is empty).
func Sum(backend backends.Backend, data, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	return reduceSorted(backend, backends.OpTypeSegmentSum, data, segmentIDs)
}

// Max is the sorted version of UnsortedMax. See Sum for the requirements on segmentIDs.
func Max(backend backends.Backend, data, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	return reduceSorted(backend, backends.OpTypeSegmentMax, data, segmentIDs)
}

// Min is the sorted version of UnsortedMin. See Sum for the requirements on segmentIDs.
func Min(backend backends.Backend, data, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	return reduceSorted(backend, backends.OpTypeSegmentMin, data, segmentIDs)
}

// Product is the sorted version of UnsortedProduct. See Sum for the requirements on segmentIDs.
func Product(backend backends.Backend, data, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	return reduceSorted(backend, backends.OpTypeSegmentProduct, data, segmentIDs)
}

// Mean is the sorted version of UnsortedMean. See Sum for the requirements on segmentIDs.
func Mean(backend backends.Backend, data, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	return reduceSorted(backend, backends.OpTypeSegmentMean, data, segmentIDs)
}

func reduceSorted(backend backends.Backend, opType backends.OpType, data, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	if err := segmentIDs.CheckValid(); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessagef(err, "segments.%s: segment ids", opType))
	}
	if err := segmentIDs.Shape().CheckMaxRank(1); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessagef(err, "segments.%s: sorted segment ids", opType))
	}
	numSegments, err := NumSegmentsFor(segmentIDs)
	if err != nil {
		return nil, errors.WithMessagef(err, "segments.%s", opType)
	}
	return Reduce(backend, opType, data, segmentIDs, numSegments, true)
}

// Reduce executes the segment reduction opType with the given backend.
// It's the generic version of UnsortedSum, UnsortedMax, etc.
//
// If sorted is true, segmentIDs must be non-decreasing and non-negative.
func Reduce(backend backends.Backend, opType backends.OpType, data, segmentIDs *tensors.Tensor, numSegments int, sorted bool) (*tensors.Tensor, error) {
	if backend == nil {
		return nil, backends.InvalidArgumentf("segments.%s: nil backend", opType)
	}
	if !opType.IsReduction() {
		return nil, backends.InvalidArgumentf("segments.Reduce: %s is not a segment reduction", opType)
	}
	if err := data.CheckValid(); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessagef(err, "segments.%s: data", opType))
	}
	if err := segmentIDs.CheckValid(); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessagef(err, "segments.%s: segment ids", opType))
	}
	if _, err := shapeinference.SegmentReduceOp(opType, data.Shape(), segmentIDs.Shape(), numSegments); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessagef(err, "segments.%s", opType))
	}
	if !backend.Capabilities().Supports(opType, data.DType()) {
		return nil, errors.Wrapf(ErrNotImplemented, "segments.%s: backend %q doesn't support %s for dtype %s",
			opType, backend.Name(), opType, data.DType())
	}
	klog.V(2).Infof("segments.%s(data=%s, segment_ids=%s, num_segments=%d, sorted=%v) on %s",
		opType, data.Shape(), segmentIDs.Shape(), numSegments, sorted, backend.Name())

	var output backends.Data
	var opErr error
	err := exceptions.TryCatch[error](func() {
		withFlatData(data, segmentIDs, func(dataFlat, idsFlat any) {
			output, opErr = backend.SegmentReduce(opType,
				backends.Data{Shape: data.Shape(), Flat: dataFlat},
				backends.Data{Shape: segmentIDs.Shape(), Flat: idsFlat},
				numSegments, sorted)
		})
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "segments.%s", opType)
	}
	return tensors.FromShapeAndFlatData(output.Shape, output.Flat)
}

// UnsortedSumGradient returns the gradient of UnsortedSum with respect to its data, given the gradient
// of its output (outputGrad, shaped [numSegments, ...]).
//
// Each position k of segmentIDs gets outputGrad[segmentIDs[k]], or zeros if the id was dropped (negative
// or >= numSegments). The result has the shape of the data given to UnsortedSum:
// segmentIDs.Shape().Dimensions + outputGrad.Shape().Dimensions[1:].
func UnsortedSumGradient(backend backends.Backend, outputGrad, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	opType := backends.OpTypeSegmentGather
	if backend == nil {
		return nil, backends.InvalidArgumentf("segments.UnsortedSumGradient: nil backend")
	}
	if err := outputGrad.CheckValid(); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessage(err, "segments.UnsortedSumGradient: output gradient"))
	}
	if err := segmentIDs.CheckValid(); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessage(err, "segments.UnsortedSumGradient: segment ids"))
	}
	if _, err := shapeinference.SegmentGatherOp(outputGrad.Shape(), segmentIDs.Shape()); err != nil {
		return nil, backends.InvalidArgument(errors.WithMessage(err, "segments.UnsortedSumGradient"))
	}
	if !backend.Capabilities().Supports(opType, outputGrad.DType()) {
		return nil, errors.Wrapf(ErrNotImplemented, "segments.UnsortedSumGradient: backend %q doesn't support %s for dtype %s",
			backend.Name(), opType, outputGrad.DType())
	}

	var output backends.Data
	var opErr error
	err := exceptions.TryCatch[error](func() {
		withFlatData(outputGrad, segmentIDs, func(gradFlat, idsFlat any) {
			output, opErr = backend.SegmentGather(
				backends.Data{Shape: outputGrad.Shape(), Flat: gradFlat},
				backends.Data{Shape: segmentIDs.Shape(), Flat: idsFlat})
		})
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return nil, errors.WithMessage(err, "segments.UnsortedSumGradient")
	}
	return tensors.FromShapeAndFlatData(output.Shape, output.Flat)
}

// withFlatData calls fn with read access to the flat data of both tensors, which may be the same tensor.
func withFlatData(a, b *tensors.Tensor, fn func(aFlat, bFlat any)) {
	a.ConstFlatData(func(aFlat any) {
		if a == b {
			fn(aFlat, aFlat)
			return
		}
		b.ConstFlatData(func(bFlat any) {
			fn(aFlat, bFlat)
		})
	})
}

// NumSegmentsFor returns the number of segments needed to hold all non-negative ids of segmentIDs,
// that is, the maximum id plus one, or 0 if there are no non-negative ids.
func NumSegmentsFor(segmentIDs *tensors.Tensor) (numSegments int, err error) {
	if err = segmentIDs.CheckValid(); err != nil {
		return 0, backends.InvalidArgument(errors.WithMessage(err, "segments.NumSegmentsFor"))
	}
	if !shapeinference.IntegerDTypes.Has(segmentIDs.DType()) {
		return 0, backends.InvalidArgumentf("segments.NumSegmentsFor: segment ids must be an integer type, got %s", segmentIDs.Shape())
	}
	segmentIDs.ConstFlatData(func(flat any) {
		switch ids := flat.(type) {
		case []int8:
			numSegments = maxIDPlusOne(ids)
		case []int16:
			numSegments = maxIDPlusOne(ids)
		case []int32:
			numSegments = maxIDPlusOne(ids)
		case []int64:
			numSegments = maxIDPlusOne(ids)
		case []uint8:
			numSegments = maxIDPlusOne(ids)
		case []uint16:
			numSegments = maxIDPlusOne(ids)
		case []uint32:
			numSegments = maxIDPlusOne(ids)
		case []uint64:
			numSegments = maxIDPlusOne(ids)
		}
	})
	if numSegments < 0 {
		return 0, backends.InvalidArgumentf("segments.NumSegmentsFor: segment id too large for %s", segmentIDs.Shape())
	}
	return
}

// maxIDPlusOne returns -1 if the result overflows an int.
func maxIDPlusOne[T constraints.Integer](ids []T) int {
	if len(ids) == 0 {
		return 0
	}
	maxID := xslices.Max(ids)
	if maxID < 0 {
		return 0
	}
	asInt := int(maxID)
	if asInt < 0 || asInt == math.MaxInt {
		return -1
	}
	return asInt + 1
}
