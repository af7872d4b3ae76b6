// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets is a collection of utility datasets (train.Dataset) that can be combined for efficient
// preprocessing: `Take`, `Skip`, `Shuffle`, `InMemory`, `Parallel`, `ReadAhead`.
//
// It also includes the Partitioner, that splits a dataset into train, validation and test datasets.
package datasets

import (
	"fmt"
	"io"
	"sync"

	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/pkg/errors"
)

// Batch is one unit yielded by a train.Dataset.
type Batch struct {
	Spec           any
	Inputs, Labels []*tensors.Tensor
}

// Cloner is implemented by datasets that can create an independent copy of themselves: it reads the same
// underlying data, starting from the beginning, and its position is not affected by the original (and vice versa).
type Cloner interface {
	Clone() (train.Dataset, error)
}

// Clone returns a clone of `ds`, or an error if `ds` doesn't implement Cloner.
func Clone(ds train.Dataset) (train.Dataset, error) {
	cloner, ok := ds.(Cloner)
	if !ok {
		return nil, errors.Errorf("dataset %q (%T) can't be cloned: consider caching it with datasets.InMemory first",
			ds.Name(), ds)
	}
	return cloner.Clone()
}

// Collect reads all the batches of one pass of `ds` and then resets it.
func Collect(ds train.Dataset) (batches []Batch, err error) {
	for {
		var b Batch
		b.Spec, b.Inputs, b.Labels, err = ds.Yield()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	ds.Reset()
	return
}

// takeDataset implements a `train.Dataset` that only yields `take` batches.
type takeDataset struct {
	ds          train.Dataset
	mu          sync.Mutex
	count, take int
}

// Take returns a wrapper to `ds`, a `train.Dataset` that only yields `n` batches.
func Take(ds train.Dataset, n int) train.Dataset {
	return &takeDataset{
		ds:   ds,
		take: n,
	}
}

// Name implements train.Dataset. It returns the dataset name.
func (ds *takeDataset) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Reset implements train.Dataset.
func (ds *takeDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.ds.Reset()
	ds.count = 0
}

// Yield implements train.Dataset.
func (ds *takeDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	if ds.count >= ds.take {
		ds.mu.Unlock()
		err = io.EOF
		return
	}
	ds.count++
	ds.mu.Unlock()
	spec, inputs, labels, err = ds.ds.Yield()
	return
}

// NumBatches implements train.HasNumBatches. It returns -1 if the size of the underlying dataset is unknown,
// since it may be shorter than the `n` given to Take.
func (ds *takeDataset) NumBatches() int {
	if n, ok := train.KnownNumBatches(ds.ds); ok {
		return min(ds.take, n)
	}
	return -1
}

// Clone implements Cloner.
func (ds *takeDataset) Clone() (train.Dataset, error) {
	inner, err := Clone(ds.ds)
	if err != nil {
		return nil, err
	}
	return Take(inner, ds.take), nil
}

// BatchSkipper is implemented by datasets that can skip batches without generating them.
type BatchSkipper interface {
	// SkipBatches skips the next n batches and returns how many were actually skipped: it may be fewer
	// if the dataset is exhausted.
	SkipBatches(n int) (int, error)
}

// skipDataset implements a `train.Dataset` that drops the first `skip` batches of each pass.
type skipDataset struct {
	ds      train.Dataset
	mu      sync.Mutex
	skip    int
	skipped bool
}

// Skip returns a wrapper to `ds` that drops the first `n` batches of each pass.
//
// If `ds` implements BatchSkipper, the skipped batches are never generated. Otherwise,
// they are read and discarded.
func Skip(ds train.Dataset, n int) train.Dataset {
	return &skipDataset{
		ds:   ds,
		skip: n,
	}
}

// Name implements train.Dataset.
func (ds *skipDataset) Name() string {
	return fmt.Sprintf("%s [Skip %d]", ds.ds.Name(), ds.skip)
}

// Reset implements train.Dataset.
func (ds *skipDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.ds.Reset()
	ds.skipped = false
}

// lockedSkip discards the first batches of the pass. It must be called with ds.mu locked.
func (ds *skipDataset) lockedSkip() error {
	ds.skipped = true
	if skipper, ok := ds.ds.(BatchSkipper); ok {
		_, err := skipper.SkipBatches(ds.skip)
		return err
	}
	for range ds.skip {
		_, _, _, err := ds.ds.Yield()
		if err != nil {
			return err
		}
	}
	return nil
}

// Yield implements train.Dataset.
func (ds *skipDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	if !ds.skipped {
		err = ds.lockedSkip()
		if err != nil {
			ds.mu.Unlock()
			return
		}
	}
	ds.mu.Unlock()
	return ds.ds.Yield()
}

// NumBatches implements train.HasNumBatches. It returns -1 if the size of the underlying dataset is unknown.
func (ds *skipDataset) NumBatches() int {
	if n, ok := train.KnownNumBatches(ds.ds); ok {
		return max(0, n-ds.skip)
	}
	return -1
}

// Clone implements Cloner.
func (ds *skipDataset) Clone() (train.Dataset, error) {
	inner, err := Clone(ds.ds)
	if err != nil {
		return nil, err
	}
	return Skip(inner, ds.skip), nil
}
