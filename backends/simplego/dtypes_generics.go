// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// MaxDTypes is the upper bound (exclusive) of the dtypes values the DTypeMap can hold.
const MaxDTypes = 32

// registerPriority of an implementation registered in a DTypeMap: higher priorities
// replace lower ones, regardless of the order of registration.
type registerPriority int

const (
	priorityGeneric registerPriority = iota
	priorityTyped
	priorityArch
)

// DTypeMap maps a dtype to the implementation of a function for that dtype.
//
// The functions are stored as "any", and the caller casts them to the expected function type.
type DTypeMap struct {
	Name       string
	fnMap      [MaxDTypes]any
	priorities [MaxDTypes]registerPriority
}

// NewDTypeMap creates a new map for a class of functions.
func NewDTypeMap(name string) *DTypeMap {
	return &DTypeMap{Name: name}
}

// Register the function that handles the given dtype, if the priority is at least as high
// as the previously registered one.
func (d *DTypeMap) Register(dtype dtypes.DType, priority registerPriority, fn any) {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	if d.fnMap[dtype] != nil && priority < d.priorities[dtype] {
		return
	}
	d.fnMap[dtype] = fn
	d.priorities[dtype] = priority
}

// Get the function for the dtype. It panics if there is none.
func (d *DTypeMap) Get(dtype dtypes.DType) any {
	if dtype >= MaxDTypes || d.fnMap[dtype] == nil {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	return d.fnMap[dtype]
}

// Has returns whether there is a function registered for the dtype.
func (d *DTypeMap) Has(dtype dtypes.DType) bool {
	return dtype < MaxDTypes && d.fnMap[dtype] != nil
}

// PODNumericConstraints are used for generics for the Golang pod (plain-old-data) types.
// Float16 and BFloat16 are not included because they are specialized types, not natively supported by Go.
type PODNumericConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// PODIntegerConstraints are used for generics for the Golang pod (plain-old-data) types.
type PODIntegerConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// PODFloatConstraints are used for generics for the Golang pod (plain-old-data) types.
type PODFloatConstraints interface {
	float32 | float64
}

// ComplexConstraints are the Go complex types.
type ComplexConstraints interface {
	complex64 | complex128
}

// ArithmeticConstraints are the types that support addition and multiplication natively in Go.
type ArithmeticConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64 | complex64 | complex128
}

// lowestValue returns the lowest finite value representable by T.
func lowestValue[T PODNumericConstraints]() T {
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = math.MinInt8
	case *int16:
		*p = math.MinInt16
	case *int32:
		*p = math.MinInt32
	case *int64:
		*p = math.MinInt64
	case *uint8, *uint16, *uint32, *uint64:
		// Zero.
	case *float32:
		*p = -math.MaxFloat32
	case *float64:
		*p = -math.MaxFloat64
	}
	return v
}

// highestValue returns the highest finite value representable by T.
func highestValue[T PODNumericConstraints]() T {
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = math.MaxInt8
	case *int16:
		*p = math.MaxInt16
	case *int32:
		*p = math.MaxInt32
	case *int64:
		*p = math.MaxInt64
	case *uint8:
		*p = math.MaxUint8
	case *uint16:
		*p = math.MaxUint16
	case *uint32:
		*p = math.MaxUint32
	case *uint64:
		*p = math.MaxUint64
	case *float32:
		*p = math.MaxFloat32
	case *float64:
		*p = math.MaxFloat64
	}
	return v
}
