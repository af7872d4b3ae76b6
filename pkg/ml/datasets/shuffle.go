// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
)

// shuffleBuffer implements a windowed shuffle: elements are pushed in order, and popped
// uniformly at random from the ones currently in the buffer.
//
// A size <= 0 means the buffer is unbounded, and the result is a full uniform shuffle.
type shuffleBuffer[T any] struct {
	items []T
	size  int
	rng   *rand.Rand
}

func newShuffleBuffer[T any](size int, seed int64) *shuffleBuffer[T] {
	return &shuffleBuffer[T]{size: size, rng: rand.New(rand.NewSource(seed))}
}

func (b *shuffleBuffer[T]) full() bool {
	return b.size > 0 && len(b.items) >= b.size
}

func (b *shuffleBuffer[T]) push(item T) {
	b.items = append(b.items, item)
}

// pop removes a random element of the buffer. It returns false if the buffer is empty.
func (b *shuffleBuffer[T]) pop() (item T, ok bool) {
	if len(b.items) == 0 {
		return
	}
	idx := b.rng.Intn(len(b.items))
	last := len(b.items) - 1
	item = b.items[idx]
	b.items[idx] = b.items[last]
	var zero T
	b.items[last] = zero
	b.items = b.items[:last]
	return item, true
}

// shuffleSlice returns a shuffled copy of items, using the same windowed algorithm as ShuffleDataset:
// for the same seed and bufferSize, the resulting order is the same.
func shuffleSlice[T any](items []T, bufferSize int, seed int64) []T {
	buffer := newShuffleBuffer[T](bufferSize, seed)
	shuffled := make([]T, 0, len(items))
	next := 0
	for {
		for !buffer.full() && next < len(items) {
			buffer.push(items[next])
			next++
		}
		item, ok := buffer.pop()
		if !ok {
			break
		}
		shuffled = append(shuffled, item)
	}
	return shuffled
}

// ShuffleDataset shuffles the batches of the wrapped dataset using a buffer of a fixed size.
// See Shuffle.
type ShuffleDataset struct {
	ds         train.Dataset
	bufferSize int
	seed       int64
	reshuffle  bool

	mu        sync.Mutex
	epoch     int64
	buffer    *shuffleBuffer[Batch]
	exhausted bool
}

// Shuffle returns a dataset that yields the batches of `ds` in a random order, using a shuffle
// buffer (a window) of `bufferSize` batches: at each Yield a random batch from the buffer is returned,
// and the buffer is refilled from `ds`.
//
// A `bufferSize <= 0`, or larger than the dataset, means a full uniform shuffle: this reads the whole
// dataset into the buffer before the first batch is yielded.
//
// The order is determined by `seed`: by default every pass (after Reset) yields the same order.
// See ShuffleDataset.ReshuffleEachIteration to get a new order at every pass.
func Shuffle(ds train.Dataset, bufferSize int, seed int64) *ShuffleDataset {
	sds := &ShuffleDataset{
		ds:         ds,
		bufferSize: bufferSize,
		seed:       seed,
	}
	sds.buffer = newShuffleBuffer[Batch](bufferSize, seed)
	return sds
}

// ReshuffleEachIteration configures whether each new pass (after a Reset) uses a different order.
// The sequence of orders is still deterministic given the seed.
//
// It returns the modified ShuffleDataset, so calls can be cascaded.
func (ds *ShuffleDataset) ReshuffleEachIteration(reshuffle bool) *ShuffleDataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.reshuffle = reshuffle
	return ds
}

// Name implements train.Dataset.
func (ds *ShuffleDataset) Name() string {
	return fmt.Sprintf("%s [Shuffle]", ds.ds.Name())
}

// Reset implements train.Dataset.
func (ds *ShuffleDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.ds.Reset()
	if ds.reshuffle {
		ds.epoch++
	}
	ds.buffer = newShuffleBuffer[Batch](ds.bufferSize, ds.seed+ds.epoch)
	ds.exhausted = false
}

// Yield implements train.Dataset.
func (ds *ShuffleDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for !ds.exhausted && !ds.buffer.full() {
		var b Batch
		b.Spec, b.Inputs, b.Labels, err = ds.ds.Yield()
		if err == io.EOF {
			err = nil
			ds.exhausted = true
			break
		}
		if err != nil {
			return
		}
		ds.buffer.push(b)
	}
	b, ok := ds.buffer.pop()
	if !ok {
		err = io.EOF
		return
	}
	return b.Spec, b.Inputs, b.Labels, nil
}

// NumBatches implements train.HasNumBatches. It returns -1 if the size of the underlying dataset is unknown.
func (ds *ShuffleDataset) NumBatches() int {
	if n, ok := train.KnownNumBatches(ds.ds); ok {
		return n
	}
	return -1
}

// Clone implements Cloner. The clone starts with the same seed, so it yields the same order as
// the original's first pass.
func (ds *ShuffleDataset) Clone() (train.Dataset, error) {
	inner, err := Clone(ds.ds)
	if err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return Shuffle(inner, ds.bufferSize, ds.seed).ReshuffleEachIteration(ds.reshuffle), nil
}
