// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// segmentd serves segment reductions over HTTP.
//
// Endpoints:
//
//   - GET /health: status and backend description.
//   - POST /v1/segments/{sum,max,min,prod,mean}: JSON request with "data", "segment_ids" and optionally
//     "num_segments" and "sorted", responds with the JSON "output".
//   - POST /v1/segments/{op}/npy: multipart form with the .npy files "data" and "segment_ids", and optional
//     fields "num_segments" and "sorted", responds with the .npy output.
//   - GET /: HTML form to upload the .npy files from a browser, submitted to POST /upload, which takes
//     the reduction in the "op" field and responds with the .npy output as an attachment.
//
// Errors are returned as {"error": ..., "request_id": ...}, with status 400 for invalid requests,
// 413 for bodies or outputs over the limits, and 415 for unsupported operations or dtypes.
package main

import (
	"context"
	"flag"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/gomlx/segments/backends"
	_ "github.com/gomlx/segments/backends/default"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagAddr    = flag.String("addr", ":8080", "Address to listen to.")
	flagBackend = flag.String("backend", "", "Backend configuration, e.g.: \"go:parallelism=4\". "+
		"If empty, $SEGMENTS_BACKEND is used, or the default backend.")
	flagMaxUploadBytes = flag.String("max_upload_bytes", "64MiB", "Maximum size of a request body, "+
		"e.g. \"10MB\" or \"1GiB\". Use 0 for no limit.")
	flagMaxOutputBytes = flag.String("max_output_bytes", "256MiB", "Maximum size of the output of a reduction, "+
		"checked before running it. Use 0 for no limit.")
	flagShutdownTimeout = flag.Duration("shutdown_timeout", 10*time.Second,
		"Time to wait for requests in flight when shutting down.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := serve(); err != nil {
		klog.Errorf("segmentd failed: %+v", err)
		os.Exit(1)
	}
}

func serve() error {
	maxUploadBytes, err := humanize.ParseBytes(*flagMaxUploadBytes)
	if err != nil {
		return errors.Wrapf(err, "invalid -max_upload_bytes=%q", *flagMaxUploadBytes)
	}
	maxOutputBytes, err := humanize.ParseBytes(*flagMaxOutputBytes)
	if err != nil {
		return errors.Wrapf(err, "invalid -max_output_bytes=%q", *flagMaxOutputBytes)
	}

	var backend backends.Backend
	if *flagBackend != "" {
		backend, err = backends.NewWithConfig(*flagBackend)
	} else {
		backend, err = backends.New()
	}
	if err != nil {
		return err
	}
	defer backend.Finalize()

	if !klog.V(2).Enabled() {
		gin.SetMode(gin.ReleaseMode)
	}
	server := NewServer(backend, int64(min(maxUploadBytes, math.MaxInt64)), int64(min(maxOutputBytes, math.MaxInt64)))
	httpServer := &http.Server{
		Addr:              *flagAddr,
		Handler:           server.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		klog.Infof("segmentd listening on %s, backend %s, max upload %s, max output %s", *flagAddr,
			backend.Description(), humanize.IBytes(maxUploadBytes), humanize.IBytes(maxOutputBytes))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "serving on %s", *flagAddr)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		klog.Infof("segmentd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *flagShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
