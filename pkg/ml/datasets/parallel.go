// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"runtime"
	"sync"

	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/leafscan/leafscan/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParallelDataset reads batches of a train.Dataset in background goroutines, holding up to a buffer of
// batches ready to be consumed. See CustomParallel.
type ParallelDataset struct {
	Dataset train.Dataset

	name, shortName string
	parallelism     int
	bufferSize      int

	mu      sync.Mutex
	started bool
	pass    *prefetchPass
}

// prefetchPass is one pass over the underlying dataset: its workers send batches to the channel, which
// is closed when all of them have exited.
type prefetchPass struct {
	batches chan Batch
	cancel  *xsync.Latch

	muErr sync.Mutex
	err   error
}

// Parallel reads batches of `ds` using one goroutine per core (plus one). `ds` must be safe for concurrent use.
// The order of the batches is not preserved. Use ReadAhead to prefetch while keeping the order.
//
// Call ParallelDataset.Done when finished, to stop the goroutines.
func Parallel(ds train.Dataset) *ParallelDataset {
	pd := CustomParallel(ds)
	return pd.Buffer(pd.parallelism).Start()
}

// ReadAhead prefetches up to `n` batches of `ds` with one background goroutine, preserving their order:
// the "prefetch" step at the end of an input pipeline.
//
// Call ParallelDataset.Done when finished, to stop the goroutine.
func ReadAhead(ds train.Dataset, n int) *ParallelDataset {
	return CustomParallel(ds).Parallelism(1).Buffer(n).Start()
}

// CustomParallel creates a ParallelDataset over `ds`, to be configured (Parallelism, Buffer, WithName)
// and then started with Start. With parallelism > 1, `ds` must be safe for concurrent use.
//
// Example:
//
//	ds := datasets.CustomParallel(imageDir).Parallelism(4).Buffer(16).Start()
//	defer ds.Done()
func CustomParallel(ds train.Dataset) *ParallelDataset {
	pd := &ParallelDataset{
		Dataset:   ds,
		name:      ds.Name(),
		shortName: train.ShortName(ds),
	}
	return pd.Parallelism(0)
}

func (pd *ParallelDataset) configurable() bool {
	if pd.started {
		klog.Errorf("ParallelDataset(%q): configuration changed after Start, ignored", pd.name)
		return false
	}
	return true
}

// Parallelism sets the number of goroutines calling the underlying Yield. 0 (the default) uses the number
// of cores plus one. It must be called before Start.
func (pd *ParallelDataset) Parallelism(n int) *ParallelDataset {
	if !pd.configurable() {
		return pd
	}
	if n <= 0 {
		n = runtime.NumCPU() + 1
	}
	pd.parallelism = n
	return pd
}

// Buffer sets how many batches can be ready, waiting to be consumed. It must be called before Start.
func (pd *ParallelDataset) Buffer(n int) *ParallelDataset {
	if !pd.configurable() {
		return pd
	}
	pd.bufferSize = max(n, 0)
	return pd
}

// WithName overrides the name (and optionally the short name) of the underlying dataset.
func (pd *ParallelDataset) WithName(name string, shortName ...string) *ParallelDataset {
	pd.name = name
	if len(shortName) > 0 {
		pd.shortName = shortName[0]
	}
	return pd
}

// Start the goroutines reading the first pass.
func (pd *ParallelDataset) Start() *ParallelDataset {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.started {
		klog.Errorf("ParallelDataset(%q).Start called more than once", pd.name)
		return pd
	}
	pd.started = true
	pd.pass = pd.startPass()
	// Goroutines only reference the pass, so an abandoned ParallelDataset can still stop them.
	runtime.SetFinalizer(pd, func(pd *ParallelDataset) {
		if pd.pass != nil {
			pd.pass.cancel.Trigger()
		}
	})
	return pd
}

func (pd *ParallelDataset) startPass() *prefetchPass {
	pass := &prefetchPass{
		batches: make(chan Batch, pd.bufferSize),
		cancel:  xsync.NewLatch(),
	}
	ds, name := pd.Dataset, pd.name
	var wg sync.WaitGroup
	for range pd.parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pass.read(ds, name)
		}()
	}
	go func() {
		wg.Wait()
		close(pass.batches)
	}()
	return pass
}

// read yields batches from ds into the pass channel until the end of the pass, an error or cancellation.
func (pass *prefetchPass) read(ds train.Dataset, name string) {
	for !pass.cancel.Test() {
		var b Batch
		var err error
		b.Spec, b.Inputs, b.Labels, err = ds.Yield()
		if err == io.EOF {
			return
		}
		if err != nil {
			klog.Errorf("ParallelDataset(%q): %+v", name, err)
			pass.muErr.Lock()
			if pass.err == nil {
				pass.err = err
			}
			pass.muErr.Unlock()
			pass.cancel.Trigger()
			return
		}
		select {
		case pass.batches <- b:
		case <-pass.cancel.WaitChan():
			return
		}
	}
}

// stop cancels the pass and waits for its workers to exit, discarding the batches not yet consumed.
func (pass *prefetchPass) stop() {
	pass.cancel.Trigger()
	for range pass.batches {
	}
}

func (pass *prefetchPass) error() error {
	pass.muErr.Lock()
	defer pass.muErr.Unlock()
	return pass.err
}

// Name implements train.Dataset.
func (pd *ParallelDataset) Name() string { return pd.name }

// ShortName implements train.HasShortName.
func (pd *ParallelDataset) ShortName() string { return pd.shortName }

// NumBatches implements train.HasNumBatches. It returns -1 if the underlying dataset doesn't know its size.
func (pd *ParallelDataset) NumBatches() int {
	if n, ok := train.KnownNumBatches(pd.Dataset); ok {
		return n
	}
	return -1
}

// Done stops the goroutines and waits for them to exit. The dataset can't be used afterward.
func (pd *ParallelDataset) Done() {
	pd.mu.Lock()
	pass := pd.pass
	pd.pass = nil
	pd.mu.Unlock()
	if pass != nil {
		pass.stop()
	}
}

// Reset implements train.Dataset: it stops the current pass, resets the underlying dataset and starts reading again.
func (pd *ParallelDataset) Reset() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.pass == nil {
		klog.Warningf("ParallelDataset(%q).Reset called before Start or after Done", pd.name)
		return
	}
	pd.pass.stop()
	pd.Dataset.Reset()
	pd.pass = pd.startPass()
}

// Yield implements train.Dataset.
func (pd *ParallelDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	pd.mu.Lock()
	pass := pd.pass
	pd.mu.Unlock()
	if pass == nil {
		err = errors.Errorf("ParallelDataset(%q).Yield called before Start or after Done", pd.name)
		return
	}
	if err = pass.error(); err != nil {
		return
	}
	b, ok := <-pass.batches
	if !ok {
		if err = pass.error(); err == nil {
			err = io.EOF
		}
		return
	}
	return b.Spec, b.Inputs, b.Labels, nil
}
