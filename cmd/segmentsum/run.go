// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"time"

	"github.com/gomlx/segments/backends"
	"github.com/gomlx/segments/pkg/core/segments"
	"github.com/gomlx/segments/pkg/core/tensors"
	"github.com/gomlx/segments/pkg/core/tensors/numpy"
	"github.com/gomlx/segments/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Names of the arrays in the .npz input.
const (
	NpzDataName       = "data"
	NpzSegmentIDsName = "segment_ids"
)

// config of one run, filled from the flags.
type config struct {
	dataPath, idsPath, npzPath string
	numSegments                int
	op                         string
	sorted                     bool
	outputPath                 string
	backendConfig              string
	repeats                    int
	showProgress               bool
}

// result of a run.
type result struct {
	backendDescription string
	opType             backends.OpType
	sorted             bool
	numSegments        int
	repeats            int
	data, segmentIDs   *tensors.Tensor
	output             *tensors.Tensor
	outputPath         string

	// elapsed is the mean time per run.
	elapsed time.Duration
}

// loadInputs reads data and segment ids from either one .npz archive or two .npy files,
// the latter concurrently.
func loadInputs(ctx context.Context, cfg config) (data, segmentIDs *tensors.Tensor, err error) {
	if cfg.npzPath != "" {
		if cfg.dataPath != "" || cfg.idsPath != "" {
			return nil, nil, errors.New("-npz can't be used with -data or -ids")
		}
		var arrays map[string]*tensors.Tensor
		arrays, err = numpy.FromNpzFile(cfg.npzPath)
		if err != nil {
			return nil, nil, err
		}
		var found bool
		if data, found = arrays[NpzDataName]; !found {
			return nil, nil, errors.Errorf("array %q not found in %q", NpzDataName, cfg.npzPath)
		}
		if segmentIDs, found = arrays[NpzSegmentIDsName]; !found {
			return nil, nil, errors.Errorf("array %q not found in %q", NpzSegmentIDsName, cfg.npzPath)
		}
		return
	}

	if cfg.dataPath == "" || cfg.idsPath == "" {
		return nil, nil, errors.New("either -npz or both -data and -ids must be given")
	}
	g, ctx := errgroup.WithContext(ctx)
	load := func(path string, t **tensors.Tensor) func() error {
		return func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			loaded, err := numpy.FromNpyFile(path)
			if err != nil {
				return err
			}
			*t = loaded
			klog.V(1).Infof("loaded %q: %s", path, loaded.Shape())
			return nil
		}
	}
	g.Go(load(cfg.dataPath, &data))
	g.Go(load(cfg.idsPath, &segmentIDs))
	if err = g.Wait(); err != nil {
		return nil, nil, err
	}
	return
}

// run loads the inputs, executes the reduction cfg.repeats times and saves the output if requested.
func run(cfg config) (*result, error) {
	opType, err := segments.ParseOp(cfg.op)
	if err != nil {
		return nil, err
	}
	if cfg.repeats < 1 {
		return nil, errors.Errorf("-repeat must be >= 1, got %d", cfg.repeats)
	}
	if err = fsutil.ExpandHomeAll(&cfg.dataPath, &cfg.idsPath, &cfg.npzPath, &cfg.outputPath); err != nil {
		return nil, err
	}
	for _, inputPath := range []string{cfg.dataPath, cfg.idsPath, cfg.npzPath} {
		if inputPath == "" {
			continue
		}
		if err = fsutil.CheckRegularFile(inputPath); err != nil {
			return nil, err
		}
	}
	if cfg.outputPath != "" {
		if err = fsutil.CheckParentDir(cfg.outputPath); err != nil {
			return nil, err
		}
	}

	var backend backends.Backend
	if cfg.backendConfig != "" {
		backend, err = backends.NewWithConfig(cfg.backendConfig)
	} else {
		backend, err = backends.New()
	}
	if err != nil {
		return nil, err
	}
	defer backend.Finalize()

	data, segmentIDs, err := loadInputs(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	numSegments := cfg.numSegments
	if numSegments < 0 && !cfg.sorted {
		numSegments, err = segments.NumSegmentsFor(segmentIDs)
		if err != nil {
			return nil, err
		}
	}

	var bar *progressbar.ProgressBar
	if cfg.showProgress {
		bar = progressbar.NewOptions(cfg.repeats,
			progressbar.OptionSetDescription(opType.String()),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish())
	}
	var output *tensors.Tensor
	start := time.Now()
	for range cfg.repeats {
		if output != nil {
			output.FinalizeAll()
		}
		if cfg.sorted && numSegments < 0 {
			output, err = sortedReduce(backend, opType, data, segmentIDs)
		} else {
			output, err = segments.Reduce(backend, opType, data, segmentIDs, numSegments, cfg.sorted)
		}
		if err != nil {
			return nil, err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	elapsed := time.Since(start) / time.Duration(cfg.repeats)
	if bar != nil {
		_ = bar.Finish()
	}

	if cfg.outputPath != "" {
		if err = numpy.ToNpyFile(output, cfg.outputPath); err != nil {
			return nil, err
		}
	}
	return &result{
		backendDescription: backend.Description(),
		opType:             opType,
		sorted:             cfg.sorted,
		numSegments:        output.Shape().Dimensions[0],
		repeats:            cfg.repeats,
		data:               data,
		segmentIDs:         segmentIDs,
		output:             output,
		outputPath:         cfg.outputPath,
		elapsed:            elapsed,
	}, nil
}

// sortedReduce calls the sorted version of the reduction, which derives the number of segments from the ids.
func sortedReduce(backend backends.Backend, opType backends.OpType, data, segmentIDs *tensors.Tensor) (*tensors.Tensor, error) {
	switch opType {
	case backends.OpTypeSegmentMax:
		return segments.Max(backend, data, segmentIDs)
	case backends.OpTypeSegmentMin:
		return segments.Min(backend, data, segmentIDs)
	case backends.OpTypeSegmentProduct:
		return segments.Product(backend, data, segmentIDs)
	case backends.OpTypeSegmentMean:
		return segments.Mean(backend, data, segmentIDs)
	default:
		return segments.Sum(backend, data, segmentIDs)
	}
}
