// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from segment operations and validates its inputs.
//
// This can be useful for new backends to test and help plan for buffer space for output buffers.
// All validation happens here, before any computation: backends can assume their inputs are
// consistent after these functions return no error.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/pkg/core/shapes"
	"github.com/gomlx/segments/pkg/support/sets"
	"github.com/pkg/errors"
)

var (
	// IntegerDTypes can be used as segment ids.
	IntegerDTypes = sets.MakeWith(
		dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	)

	// FloatDTypes are the floating point dtypes, including the half-precision ones.
	FloatDTypes = sets.MakeWith(dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64)

	// ComplexDTypes are the complex dtypes.
	ComplexDTypes = sets.MakeWith(dtypes.Complex64, dtypes.Complex128)

	// NumberDTypes are all the dtypes segment operations accept for data.
	NumberDTypes = IntegerDTypes.Union(FloatDTypes).Union(ComplexDTypes)

	// OrderedOperations require an ordering of the values, so they don't work on complex numbers.
	OrderedOperations = sets.MakeWith(backends.OpTypeSegmentMax, backends.OpTypeSegmentMin)

	// FloatOrComplexOperations require a division, and only work on floats or complex numbers.
	FloatOrComplexOperations = sets.MakeWith(backends.OpTypeSegmentMean)
)

// checkSegmentIDs validates the dtype of the segment ids.
func checkSegmentIDs(opType backends.OpType, segmentIDs shapes.Shape) error {
	if !segmentIDs.Ok() {
		return errors.Errorf("invalid shape for segment ids for %s", opType)
	}
	if !IntegerDTypes.Has(segmentIDs.DType) {
		return errors.Errorf("segment ids for %s must be an integer type, got %s", opType, segmentIDs)
	}
	return nil
}

// SegmentReduceOp returns the output shape of a segment reduction (OpTypeSegmentSum, OpTypeSegmentMax,
// OpTypeSegmentMin, OpTypeSegmentProduct, OpTypeSegmentMean).
//
// segmentIDs.Dimensions must be a prefix of data.Dimensions (a scalar segmentIDs is a prefix of any shape),
// and the output shape is [numSegments] + data.Dimensions[segmentIDs.Rank():], with data's dtype.
func SegmentReduceOp(opType backends.OpType, data, segmentIDs shapes.Shape, numSegments int) (output shapes.Shape, err error) {
	if !opType.IsReduction() {
		err = errors.Errorf("operation %s is not a segment reduction", opType)
		return
	}
	if !data.Ok() {
		err = errors.Errorf("invalid shape for data for %s", opType)
		return
	}
	if err = checkSegmentIDs(opType, segmentIDs); err != nil {
		return
	}
	if !NumberDTypes.Has(data.DType) {
		err = errors.Errorf("%s requires numeric data, got %s", opType, data)
		return
	}
	if OrderedOperations.Has(opType) && ComplexDTypes.Has(data.DType) {
		err = errors.Errorf("%s is not defined for complex numbers, got data %s", opType, data)
		return
	}
	if FloatOrComplexOperations.Has(opType) && !FloatDTypes.Has(data.DType) && !ComplexDTypes.Has(data.DType) {
		err = errors.Errorf("%s requires float or complex data, got %s", opType, data)
		return
	}
	if numSegments < 0 {
		err = errors.Errorf("%s requires num_segments >= 0, got %d", opType, numSegments)
		return
	}
	if !shapes.IsPrefix(segmentIDs, data) {
		err = errors.Errorf("%s requires the segment ids shape to be a prefix of the data shape, got segment_ids.shape=%v and data.shape=%v",
			opType, segmentIDs.Dimensions, data.Dimensions)
		return
	}
	output = shapes.Make(data.DType, append([]int{numSegments}, data.Dimensions[segmentIDs.Rank():]...)...)
	if err = output.CheckSize(); err != nil {
		err = errors.WithMessagef(err, "%s with num_segments=%d", opType, numSegments)
		output = shapes.Invalid()
	}
	return
}

// SegmentGatherOp returns the output shape of OpTypeSegmentGather: for each position of segmentIDs,
// the slice values[id], so the output shape is segmentIDs.Dimensions + values.Dimensions[1:], with
// values' dtype.
func SegmentGatherOp(values, segmentIDs shapes.Shape) (output shapes.Shape, err error) {
	opType := backends.OpTypeSegmentGather
	if !values.Ok() {
		err = errors.Errorf("invalid shape for values for %s", opType)
		return
	}
	if err = checkSegmentIDs(opType, segmentIDs); err != nil {
		return
	}
	if !NumberDTypes.Has(values.DType) {
		err = errors.Errorf("%s requires numeric values, got %s", opType, values)
		return
	}
	if values.Rank() < 1 {
		err = errors.Errorf("%s requires values with rank >= 1 (the segments axis), got %s", opType, values)
		return
	}
	dims := slices.Concat(segmentIDs.Dimensions, values.Dimensions[1:])
	output = shapes.Make(values.DType, dims...)
	if err = output.CheckSize(); err != nil {
		err = errors.WithMessagef(err, "%s", opType)
		output = shapes.Invalid()
	}
	return
}
