// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// OpType is an enum of all segment operations that can be supported by a Backend.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota

	// OpTypeSegmentSum sums the slices of each segment.
	OpTypeSegmentSum

	// OpTypeSegmentMax takes the element-wise maximum of the slices of each segment.
	OpTypeSegmentMax

	// OpTypeSegmentMin takes the element-wise minimum of the slices of each segment.
	OpTypeSegmentMin

	// OpTypeSegmentProduct multiplies the slices of each segment.
	OpTypeSegmentProduct

	// OpTypeSegmentMean averages the slices of each segment.
	OpTypeSegmentMean

	// OpTypeSegmentGather is the inverse of a segment reduction: each position of the segment ids
	// takes the slice of its segment.
	OpTypeSegmentGather

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

// IsReduction returns whether the OpType is one of the segment reductions.
func (op OpType) IsReduction() bool {
	return op >= OpTypeSegmentSum && op <= OpTypeSegmentMean
}
