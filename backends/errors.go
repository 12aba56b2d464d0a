// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotImplemented indicates an operation or dtype is not implemented by a backend.
	// Backends should wrap this error, so callers can tell "not supported" apart from invalid inputs.
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidArgument indicates the inputs of an operation failed validation: inconsistent shapes,
	// wrong dtypes, unsorted segment ids in sorted mode, etc.
	ErrInvalidArgument = errors.New("invalid argument")
)

// invalidArgumentError marks its cause as an ErrInvalidArgument, keeping the cause's message and stack.
type invalidArgumentError struct {
	cause error
}

// InvalidArgument marks err as an ErrInvalidArgument: errors.Is(InvalidArgument(err), ErrInvalidArgument) is true.
// It returns nil if err is nil.
func InvalidArgument(err error) error {
	if err == nil || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	return &invalidArgumentError{cause: err}
}

// InvalidArgumentf creates a new error marked as ErrInvalidArgument.
func InvalidArgumentf(format string, args ...any) error {
	return &invalidArgumentError{cause: errors.Errorf(format, args...)}
}

func (e *invalidArgumentError) Error() string { return e.cause.Error() }

// Unwrap returns both the cause and ErrInvalidArgument.
func (e *invalidArgumentError) Unwrap() []error { return []error{e.cause, ErrInvalidArgument} }

// Format forwards to the cause, so "%+v" prints its stack trace.
func (e *invalidArgumentError) Format(s fmt.State, verb rune) {
	if formatter, ok := e.cause.(fmt.Formatter); ok {
		formatter.Format(s, verb)
		return
	}
	_, _ = fmt.Fprint(s, e.cause.Error())
}
