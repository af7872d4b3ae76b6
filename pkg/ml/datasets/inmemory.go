// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// InMemoryDataset holds all the batches of a dataset in memory. It is the "cache" step of an input pipeline:
// expensive preprocessing (decoding and resizing images) is done only once.
//
// It can yield the batches in order or shuffled (at every pass), optionally looping forever, and can be
// cloned cheaply: clones share the underlying batches.
type InMemoryDataset struct {
	name, shortName string

	// batches is shared among clones, and never modified after creation.
	batches []Batch
	memory  uintptr

	// muSampling protects the sampling state below.
	muSampling sync.Mutex
	next       int
	order      []int // nil if not shuffled.
	shuffle    bool
	infinite   bool
	rng        *rand.Rand
}

// InMemory reads one full pass of `ds` into memory and returns an InMemoryDataset with the
// same name. `ds` is Reset afterward.
//
// If `showProgress` is true, a progress bar is displayed while reading.
func InMemory(ds train.Dataset, showProgress bool) (mds *InMemoryDataset, err error) {
	mds = &InMemoryDataset{
		name:      ds.Name(),
		shortName: train.ShortName(ds),
	}
	var bar *progressbar.ProgressBar
	if showProgress {
		total := -1
		if n, ok := train.KnownNumBatches(ds); ok {
			total = n
		}
		bar = progressbar.Default(int64(total), "caching "+mds.name)
	}
	start := time.Now()
	for {
		var b Batch
		b.Spec, b.Inputs, b.Labels, err = ds.Yield()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "while reading dataset %q into memory", mds.name)
		}
		mds.batches = append(mds.batches, b)
		mds.memory += batchMemory(b)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	ds.Reset()
	klog.V(1).Infof("InMemory(%q): cached %d batches (%s) in %s", mds.name, len(mds.batches),
		humanize.Bytes(uint64(mds.memory)), time.Since(start))
	return mds, nil
}

// InMemoryFromBatches creates an InMemoryDataset from the given batches.
func InMemoryFromBatches(name string, batches ...Batch) *InMemoryDataset {
	mds := &InMemoryDataset{
		name:      name,
		shortName: name,
		batches:   batches,
	}
	if len(name) > 3 {
		mds.shortName = name[:3]
	}
	for _, b := range batches {
		mds.memory += batchMemory(b)
	}
	return mds
}

func batchMemory(b Batch) (memory uintptr) {
	for _, t := range b.Inputs {
		memory += t.Memory()
	}
	for _, t := range b.Labels {
		memory += t.Memory()
	}
	return
}

// Name implements train.Dataset.
func (mds *InMemoryDataset) Name() string {
	return mds.name
}

// ShortName implements train.HasShortName.
func (mds *InMemoryDataset) ShortName() string {
	return mds.shortName
}

// SetName sets the name of the dataset, and optionally its short name.
// It returns the modified InMemoryDataset, so calls can be cascaded.
func (mds *InMemoryDataset) SetName(name string, shortName ...string) *InMemoryDataset {
	mds.name = name
	if len(shortName) > 0 {
		mds.shortName = shortName[0]
	}
	return mds
}

// NumBatches implements train.HasNumBatches.
func (mds *InMemoryDataset) NumBatches() int {
	return len(mds.batches)
}

// Memory returns the approximate memory used by the tensors held, in bytes.
func (mds *InMemoryDataset) Memory() uintptr {
	return mds.memory
}

// Shuffle configures the dataset to yield the batches in a random order, different at every pass.
// It returns the modified InMemoryDataset, so calls can be cascaded.
func (mds *InMemoryDataset) Shuffle() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.shuffle = true
	mds.lockedShuffle()
	return mds
}

// WithRand sets the random number generator used for shuffling, making the sequence of orders deterministic.
// It returns the modified InMemoryDataset, so calls can be cascaded.
func (mds *InMemoryDataset) WithRand(rng *rand.Rand) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.rng = rng
	if mds.shuffle {
		mds.lockedShuffle()
	}
	return mds
}

// Infinite configures the dataset to restart (and reshuffle, if shuffling) automatically when the
// batches are exhausted, so it never returns io.EOF. An empty dataset still returns io.EOF.
// It returns the modified InMemoryDataset, so calls can be cascaded.
func (mds *InMemoryDataset) Infinite(infinite bool) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.infinite = infinite
	return mds
}

// lockedShuffle creates a new order. It must be called with muSampling locked.
func (mds *InMemoryDataset) lockedShuffle() {
	if mds.rng == nil {
		mds.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	mds.order = mds.rng.Perm(len(mds.batches))
}

// Reset implements train.Dataset.
func (mds *InMemoryDataset) Reset() {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.next = 0
	if mds.shuffle {
		mds.lockedShuffle()
	}
}

// Yield implements train.Dataset.
func (mds *InMemoryDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	if mds.next >= len(mds.batches) {
		if !mds.infinite || len(mds.batches) == 0 {
			err = io.EOF
			return
		}
		mds.next = 0
		if mds.shuffle {
			mds.lockedShuffle()
		}
	}
	idx := mds.next
	if mds.order != nil {
		idx = mds.order[idx]
	}
	mds.next++
	b := mds.batches[idx]
	return b.Spec, b.Inputs, b.Labels, nil
}

// SkipBatches implements BatchSkipper.
func (mds *InMemoryDataset) SkipBatches(n int) (int, error) {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	skipped := min(n, len(mds.batches)-mds.next)
	mds.next += skipped
	return skipped, nil
}

// Copy returns a copy of the dataset sharing the same batches, in the initial sequential,
// non-infinite, state.
func (mds *InMemoryDataset) Copy() *InMemoryDataset {
	return &InMemoryDataset{
		name:      mds.name,
		shortName: mds.shortName,
		batches:   mds.batches,
		memory:    mds.memory,
	}
}

// Clone implements Cloner. See Copy.
func (mds *InMemoryDataset) Clone() (train.Dataset, error) {
	return mds.Copy(), nil
}
