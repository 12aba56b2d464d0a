// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// segmentsum computes a segment reduction of tensors stored in numpy files.
//
// Example:
//
//	segmentsum -data=x.npy -ids=ids.npy -num_segments=10 -op=sum -output=sums.npy
//	segmentsum -npz=inputs.npz -op=max -sorted
//
// The .npz archive must hold the arrays "data" and "segment_ids". If -num_segments is not given,
// it's derived from the largest segment id.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	_ "github.com/gomlx/segments/backends/default"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagData = flag.String("data", "", "Path to the .npy file with the data tensor.")
	flagIDs  = flag.String("ids", "", "Path to the .npy file with the segment ids tensor, an integer tensor "+
		"whose shape is a prefix of the data shape.")
	flagNpz = flag.String("npz", "", "Path to a .npz archive with the arrays \"data\" and \"segment_ids\". "+
		"Use instead of -data and -ids.")
	flagNumSegments = flag.Int("num_segments", -1, "Number of segments in the output. "+
		"If negative, it is set to the largest segment id plus one.")
	flagOp      = flag.String("op", "sum", "Segment reduction: sum, max, min, prod or mean.")
	flagSorted  = flag.Bool("sorted", false, "Segment ids are sorted (non-decreasing and non-negative).")
	flagOutput  = flag.String("output", "", "If set, the path of the .npy file where to save the result.")
	flagBackend = flag.String("backend", "", "Backend configuration, e.g.: \"go:parallelism=4\". "+
		"If empty, $SEGMENTS_BACKEND is used, or the default backend.")
	flagRepeat  = flag.Int("repeat", 1, "Repeat the computation this many times, to measure the time per run.")
	flagNoColor = flag.Bool("nocolor", false, "Disable colors in the output.")
	flagPrint   = flag.Bool("print", false, "Print the values of the result.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'segmentsum -help'.", flag.Args())
		os.Exit(1)
	}

	output := termenv.NewOutput(os.Stdout)
	if *flagNoColor || output.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	cfg := config{
		dataPath:      *flagData,
		idsPath:       *flagIDs,
		npzPath:       *flagNpz,
		numSegments:   *flagNumSegments,
		op:            *flagOp,
		sorted:        *flagSorted,
		outputPath:    *flagOutput,
		backendConfig: *flagBackend,
		repeats:       *flagRepeat,
		showProgress:  *flagRepeat > 1,
	}
	r, err := run(cfg)
	if err != nil {
		klog.Errorf("segmentsum failed: %+v", err)
		os.Exit(1)
	}
	fmt.Print(renderReport(r))
	if *flagPrint {
		fmt.Printf("%s\n", r.output)
	}
}
