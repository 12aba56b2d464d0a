// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/segments/backends"
)

// Capabilities of the SimpleGo backends: the set of supported operations and data types.
//
// Not every combination is valid: max and min are not defined for complex numbers, and mean
// requires floats or complex numbers. See package shapeinference.
var Capabilities = backends.Capabilities{
	Operations: map[backends.OpType]bool{
		backends.OpTypeSegmentSum:     true,
		backends.OpTypeSegmentMax:     true,
		backends.OpTypeSegmentMin:     true,
		backends.OpTypeSegmentProduct: true,
		backends.OpTypeSegmentMean:    true,
		backends.OpTypeSegmentGather:  true,
	},

	DTypes: map[dtypes.DType]bool{
		dtypes.Int8:       true,
		dtypes.Int16:      true,
		dtypes.Int32:      true,
		dtypes.Int64:      true,
		dtypes.Uint8:      true,
		dtypes.Uint16:     true,
		dtypes.Uint32:     true,
		dtypes.Uint64:     true,
		dtypes.Float16:    true,
		dtypes.BFloat16:   true,
		dtypes.Float32:    true,
		dtypes.Float64:    true,
		dtypes.Complex64:  true,
		dtypes.Complex128: true,
	},
}
