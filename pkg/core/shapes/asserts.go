// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// CheckDims returns an error if the shape doesn't have exactly the given dimensions.
// A dimension of -1 matches any value.
func (s Shape) CheckDims(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return errors.Errorf("shape %s has rank %d, wanted %d", s, s.Rank(), len(dimensions))
	}
	for axis, want := range dimensions {
		if want >= 0 && s.Dimensions[axis] != want {
			return errors.Errorf("shape %s has dimension %d on axis %d, wanted %v", s, s.Dimensions[axis], axis, dimensions)
		}
	}
	return nil
}

// Check is like CheckDims, but also checks the dtype.
func (s Shape) Check(dtype dtypes.DType, dimensions ...int) error {
	if dtype != s.DType {
		return errors.Errorf("shape %s has dtype %s, wanted %s", s, s.DType, dtype)
	}
	return s.CheckDims(dimensions...)
}

// CheckMaxRank returns an error if the shape has more than maxRank axes.
func (s Shape) CheckMaxRank(maxRank int) error {
	if s.Rank() > maxRank {
		return errors.Errorf("shape %s has rank %d, at most %d is accepted", s, s.Rank(), maxRank)
	}
	return nil
}

// CheckSize returns an error if the number of elements of the shape, or the number of bytes
// needed to store them, doesn't fit in an int. Size and Memory silently overflow otherwise.
func (s Shape) CheckSize() error {
	if s.IsZeroSize() {
		return nil
	}
	size := 1
	for axis, dim := range s.Dimensions {
		if dim < 0 {
			return errors.Errorf("shape %s has negative dimension on axis %d", s, axis)
		}
		if dim != 0 && size > math.MaxInt/dim {
			return errors.Errorf("shape %s has too many elements, its size overflows int", s)
		}
		size *= dim
	}
	if elemSize := int(s.DType.Memory()); elemSize > 0 && size > math.MaxInt/elemSize {
		return errors.Errorf("shape %s requires more than %d bytes of memory", s, math.MaxInt)
	}
	return nil
}
