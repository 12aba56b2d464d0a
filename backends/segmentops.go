// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"reflect"

	"github.com/gomlx/segments/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Data is a flat, row-major view of a dense array: its shape and a slice of the Go type corresponding to
// the shape's dtype (e.g. []float32 for dtypes.Float32), with shape.Size() elements.
//
// Backends don't take ownership of input Data, and don't change it. Output Data is owned by the caller.
type Data struct {
	Shape shapes.Shape
	Flat  any
}

// Check returns an error if the Data is not consistent: invalid shape, flat not a slice of the dtype's Go type,
// or wrong number of elements.
func (d Data) Check() error {
	if !d.Shape.Ok() {
		return errors.Errorf("invalid shape for data")
	}
	if d.Flat == nil {
		return errors.Errorf("nil flat data for shape %s", d.Shape)
	}
	flatV := reflect.ValueOf(d.Flat)
	wantType := reflect.SliceOf(d.Shape.DType.GoType())
	if flatV.Type() != wantType {
		return errors.Errorf("flat data of type %s is incompatible with shape %s, wanted %s", flatV.Type(), d.Shape, wantType)
	}
	if flatV.Len() != d.Shape.Size() {
		return errors.Errorf("flat data has %d elements, but shape %s requires %d", flatV.Len(), d.Shape, d.Shape.Size())
	}
	return nil
}

// SegmentOps is the interface with the segment operations a Backend implements.
//
// The data's leading axes are indexed by the segment ids: segmentIDs.Shape must be a prefix of data.Shape
// (a scalar segment id maps the whole data to one segment), and every position of segmentIDs selects
// one slice of the remaining axes of data.
type SegmentOps interface {
	// SegmentReduce reduces the slices of data that share the same segment id, with the reduction given by
	// opType (OpTypeSegmentSum, OpTypeSegmentMax, OpTypeSegmentMin, OpTypeSegmentProduct or OpTypeSegmentMean).
	//
	// The output has shape [numSegments] + data.Dimensions[segmentIDs.Rank():], and the same dtype as data.
	// Ids outside of [0, numSegments) contribute to no segment, and segments with no contribution hold the
	// initial value of the reduction (0 for sum and mean, 1 for product, the lowest value of the dtype for max
	// and the highest value for min).
	//
	// If sorted is true, segmentIDs must be non-decreasing and non-negative, or an error is returned.
	SegmentReduce(opType OpType, data, segmentIDs Data, numSegments int, sorted bool) (Data, error)

	// SegmentGather returns, for each position k of segmentIDs, the slice values[segmentIDs[k]]: it's the
	// gradient of the segment sum with respect to its data.
	//
	// The output has shape segmentIDs.Dimensions + values.Dimensions[1:]. Positions whose id is outside of
	// [0, values.Dimensions[0]) are set to zero.
	SegmentGather(values, segmentIDs Data) (Data, error)
}
