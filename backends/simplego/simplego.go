// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and very portable, pure Go backend for segment operations.
//
// It supports every numeric dtype (integers, float16, bfloat16, float32, float64 and complex numbers),
// with kernels written with Go generics. Half-precision dtypes are accumulated in float32.
//
// Configuration options, comma separated after the backend name, e.g. "go:parallelism=4":
//
//   - "parallelism=<n>": the soft limit of parallel workers. 0 disables parallelism and -1 makes it
//     unlimited. The default is runtime.NumCPU().
//   - "ops_sequential": same as "parallelism=0", every operation runs inline in the calling goroutine.
package simplego

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gomlx/segments/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in SEGMENTS_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend, configured with the given config string.
//
// See package documentation for the configuration options.
func New(config string) (backends.Backend, error) {
	return NewBackend(config)
}

// NewBackend is like New, but it returns the concrete *Backend type.
func NewBackend(config string) (*Backend, error) {
	b := &Backend{workers: newWorkersPool()}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "parallelism":
			if !hasValue {
				return nil, errors.Errorf("backend %q: option \"parallelism\" requires a value, e.g. \"parallelism=4\"", BackendName)
			}
			parallelism, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "backend %q: invalid value for \"parallelism\"", BackendName)
			}
			b.workers.SetMaxParallelism(parallelism)
		case "ops_sequential":
			if hasValue {
				return nil, errors.Errorf("backend %q: option \"ops_sequential\" takes no value, got %q", BackendName, part)
			}
			b.workers.SetMaxParallelism(0)
		default:
			return nil, errors.Errorf("unknown configuration option %q for backend %q", part, BackendName)
		}
	}
	klog.V(1).Infof("backend %q created with parallelism=%d", BackendName, b.workers.MaxParallelism())
	return b, nil
}

// Backend implements the backends.Backend interface.
type Backend struct {
	workers *workersPool

	// isFinalized is true if the backend has been finalized.
	isFinalized atomic.Bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implement backends.Backend.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	parallelism := "unlimited"
	switch {
	case !b.workers.IsEnabled():
		parallelism = "sequential"
	case !b.workers.IsUnlimited():
		parallelism = fmt.Sprintf("parallelism=%d", b.workers.MaxParallelism())
	}
	return fmt.Sprintf("Simple Go Portable Backend (%s)", parallelism)
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities.Clone()
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.isFinalized.Store(true)
}

// checkOk returns an error if the backend has been finalized.
func (b *Backend) checkOk() error {
	if b == nil {
		return errors.Errorf("backend %q is nil", BackendName)
	}
	if b.isFinalized.Load() {
		return errors.Errorf("backend %q has already been finalized", BackendName)
	}
	return nil
}
