// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Backend that returns a "not implemented" error
// for all operations.
//
// This can help bootstrap any backend implementation: embed Backend and override the operations
// implemented so far.
package notimplemented

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/segments/backends"
	"github.com/pkg/errors"
)

// NotImplementedError is returned by every method.
//
// It doesn't contain a stack, attach a stack to with with errors.Wrapf(ErrNotImplemented, "...") when using it.
var NotImplementedError = backends.ErrNotImplemented

// BackendName of the mock backend.
const BackendName = "notimplemented"

// Backend is a dummy backend that can be embedded to create mock backends.
type Backend struct {
	// ErrFn is called to generate the error returned, if not nil.
	// Otherwise NotImplementedError is returned, wrapped with the name of the operation.
	ErrFn func(op backends.OpType) error
}

var _ backends.Backend = &Backend{}

// New returns a new Backend, it ignores the configuration.
func New(_ string) (backends.Backend, error) {
	return &Backend{}, nil
}

// baseErrFn returns the error corresponding to the op.
func (b *Backend) baseErrFn(op backends.OpType) error {
	if b.ErrFn == nil {
		return errors.Wrapf(NotImplementedError, "in %s()", op)
	}
	return b.ErrFn(op)
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String returns the same as Name.
func (b *Backend) String() string {
	return b.Name()
}

// Description is a longer description of the Backend.
func (b *Backend) Description() string {
	return "Not Implemented Backend (mock backend for testing)"
}

// Capabilities returns empty capabilities.
func (b *Backend) Capabilities() backends.Capabilities {
	return backends.Capabilities{
		Operations: make(map[backends.OpType]bool),
		DTypes:     make(map[dtypes.DType]bool),
	}
}

// SegmentReduce returns NotImplementedError.
func (b *Backend) SegmentReduce(opType backends.OpType, data, segmentIDs backends.Data, numSegments int, sorted bool) (backends.Data, error) {
	return backends.Data{}, b.baseErrFn(opType)
}

// SegmentGather returns NotImplementedError.
func (b *Backend) SegmentGather(values, segmentIDs backends.Data) (backends.Data, error) {
	return backends.Data{}, b.baseErrFn(backends.OpTypeSegmentGather)
}

// Finalize is a no-op.
func (b *Backend) Finalize() {}
