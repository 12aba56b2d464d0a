// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a compute backend needs to implement to execute segment operations.
//
// A segment operation groups the leading-axis slices of a dense data array by an integer segment id and
// reduces (or gathers) them per group. See package github.com/gomlx/segments/pkg/core/segments for the
// tensor-level API built on top of it.
//
// Backends are registered by name (see Register) and created from a configuration string formatted as
// "<backend_name>:<backend_configuration>". Importing a backend package registers it, e.g.:
//
//	import _ "github.com/gomlx/segments/backends/simplego"
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend is the API that needs to be implemented by a segments backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the pure Go backend.
	Name() string

	// String returns Name(). It's used when pretty-printing the backend.
	String() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities returns information about what is supported by this backend.
	Capabilities() Capabilities

	// SegmentOps is the sub-interface with the actual operations.
	SegmentOps

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	if _, found := registeredConstructors[name]; found {
		klog.Warningf("backend %q registered more than once, the last registration is used", name)
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for the "go" backend, "parallelism=4").
const ConfigEnvVar = "SEGMENTS_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment SEGMENTS_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It returns an error if no backend was registered, or if the backend failed to be created.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew returns a new default Backend or panics if it fails.
//
// See New for details.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		exceptions.Panicf("backends.MustNew(): %+v", err)
	}
	return backend
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific. If there is no ":" separator, the whole config is
// taken as the backend name. If config is empty, the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered segments backends -- maybe import the default one with import _ "github.com/gomlx/segments/backends/simplego"?`)
	}
	backendName, backendConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q with configuration %q", backendName, backendConfig)
	}
	klog.V(1).Infof("created backend %s", backend.Description())
	return backend, nil
}
