// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"runtime"
	"sync"
)

type workersPool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// newWorkersPool returns a pool with maxParallelism set to runtime.NumCPU().
func newWorkersPool() *workersPool {
	w := &workersPool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *workersPool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *workersPool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *workersPool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *workersPool) SetMaxParallelism(maxParallelism int) {
	if maxParallelism < 0 {
		maxParallelism = -1
	}
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with workerPool.mu acquired.
func (w *workersPool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with workerPool.mu acquired.
func (w *workersPool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found workers to run the function, false otherwise.
//
// It's up to the client to synchronize the end of the function execution.
func (w *workersPool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// NumTasks returns the number of tasks to split a work of numItems into, given that each
// task should have at least minItemsPerTask items.
//
// It returns 1 if parallelism is disabled.
func (w *workersPool) NumTasks(numItems, minItemsPerTask int) int {
	if !w.IsEnabled() || numItems <= minItemsPerTask {
		return 1
	}
	numTasks := numItems / max(minItemsPerTask, 1)
	if !w.IsUnlimited() {
		numTasks = min(numTasks, w.maxParallelism)
	} else {
		numTasks = min(numTasks, runtime.NumCPU())
	}
	return max(numTasks, 1)
}

// RunInRanges splits [0, numItems) into numTasks contiguous ranges of (almost) equal size and calls
// fn(start, end) for each of them, using the pool workers when available, and inline otherwise.
// It returns when all ranges have been processed.
//
// Since the ranges are disjoint, fn can write to its range of an output without synchronization.
func (w *workersPool) RunInRanges(numItems, numTasks int, fn func(start, end int)) {
	if numTasks <= 1 || numItems <= 1 {
		fn(0, numItems)
		return
	}
	numTasks = min(numTasks, numItems)
	itemsPerTask := (numItems + numTasks - 1) / numTasks
	var wg sync.WaitGroup
	for start := 0; start < numItems; start += itemsPerTask {
		end := min(start+itemsPerTask, numItems)
		wg.Add(1)
		task := func() {
			defer wg.Done()
			fn(start, end)
		}
		if !w.StartIfAvailable(task) {
			// No workers available, run inline.
			task()
		}
	}
	wg.Wait()
}
