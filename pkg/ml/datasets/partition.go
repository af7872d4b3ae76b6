// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"math"

	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrInvalidFractions is returned (wrapped) when the split fractions are negative or don't sum to 1.
// Test for it with errors.Is.
var ErrInvalidFractions = errors.New("invalid split fractions")

// FractionsTolerance is how far from 1.0 the sum of the fractions can be: it absorbs floating point
// rounding, e.g. 0.7+0.2+0.1.
const FractionsTolerance = 1e-9

const (
	// DefaultShuffleSeed is the seed used by NewPartitioner.
	DefaultShuffleSeed = 12

	// DefaultShuffleBufferSize is the shuffle buffer (window) size used by NewPartitioner.
	DefaultShuffleBufferSize = 10000
)

// Fractions of the dataset assigned to each partition. They must be non-negative and sum to 1.
type Fractions struct {
	Train, Validation, Test float64
}

// DefaultFractions is an 80%/10%/10% split.
var DefaultFractions = Fractions{Train: 0.8, Validation: 0.1, Test: 0.1}

// String implements fmt.Stringer.
func (f Fractions) String() string {
	return fmt.Sprintf("{train=%g, validation=%g, test=%g}", f.Train, f.Validation, f.Test)
}

// Validate returns an error wrapping ErrInvalidFractions if any fraction is negative (or NaN), or
// if they don't sum to 1 (within FractionsTolerance).
func (f Fractions) Validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{{"train", f.Train}, {"validation", f.Validation}, {"test", f.Test}} {
		if math.IsNaN(v.value) || v.value < 0 {
			return errors.Wrapf(ErrInvalidFractions, "%s fraction is %g", v.name, v.value)
		}
	}
	sum := f.Train + f.Validation + f.Test
	if math.Abs(sum-1) > FractionsTolerance {
		return errors.Wrapf(ErrInvalidFractions, "fractions %s sum to %g, but they must sum to 1", f, sum)
	}
	return nil
}

// Sizes returns the number of elements of each partition for a dataset with n elements:
// train and validation are rounded down, and test takes the remainder.
func (f Fractions) Sizes(n int) (numTrain, numValidation, numTest int, err error) {
	if err = f.Validate(); err != nil {
		return
	}
	if n < 0 {
		err = errors.Errorf("invalid number of elements %d to partition", n)
		return
	}
	numTrain = int(math.Floor(float64(n) * f.Train))
	numValidation = int(math.Floor(float64(n) * f.Validation))
	numTrain = min(numTrain, n)
	numValidation = min(numValidation, n-numTrain)
	numTest = n - numTrain - numValidation
	return
}

// Partitioner splits a dataset (or a slice) into train, validation and test partitions.
//
// Create it with NewPartitioner and configure it with the With* methods.
type Partitioner struct {
	fractions  Fractions
	shuffle    bool
	seed       int64
	bufferSize int
}

// NewPartitioner returns a Partitioner with DefaultFractions, and shuffling enabled with DefaultShuffleSeed
// and DefaultShuffleBufferSize.
func NewPartitioner() *Partitioner {
	return &Partitioner{
		fractions:  DefaultFractions,
		shuffle:    true,
		seed:       DefaultShuffleSeed,
		bufferSize: DefaultShuffleBufferSize,
	}
}

// WithFractions sets the fractions of each partition. They are validated when partitioning.
// It returns the modified Partitioner, so calls can be cascaded.
func (p *Partitioner) WithFractions(trainFraction, validationFraction, testFraction float64) *Partitioner {
	p.fractions = Fractions{Train: trainFraction, Validation: validationFraction, Test: testFraction}
	return p
}

// WithShuffle enables shuffling the elements once, before splitting, using a shuffle buffer of
// `bufferSize` elements (<= 0 means a full shuffle) and the given seed.
// It returns the modified Partitioner, so calls can be cascaded.
func (p *Partitioner) WithShuffle(seed int64, bufferSize int) *Partitioner {
	p.shuffle = true
	p.seed = seed
	p.bufferSize = bufferSize
	return p
}

// WithoutShuffle disables shuffling: partitions are contiguous ranges of the original order.
// It returns the modified Partitioner, so calls can be cascaded.
func (p *Partitioner) WithoutShuffle() *Partitioner {
	p.shuffle = false
	return p
}

// Fractions configured.
func (p *Partitioner) Fractions() Fractions {
	return p.fractions
}

// Sizes returns the number of elements of each partition for a dataset with n elements.
func (p *Partitioner) Sizes(n int) (numTrain, numValidation, numTest int, err error) {
	return p.fractions.Sizes(n)
}

// PartitionSlice splits items into train, validation and test slices, using the same algorithm as
// Partitioner.Partition: for the same configuration, an element's position in the slice determines
// the same partition as the batch in that position of a dataset.
//
// The returned slices are new, and items is not modified.
func PartitionSlice[T any](p *Partitioner, items []T) (trainItems, validationItems, testItems []T, err error) {
	numTrain, numValidation, _, err := p.Sizes(len(items))
	if err != nil {
		return
	}
	ordered := items
	if p.shuffle {
		ordered = shuffleSlice(items, p.bufferSize, p.seed)
	}
	trainItems = append([]T{}, ordered[:numTrain]...)
	validationItems = append([]T{}, ordered[numTrain:numTrain+numValidation]...)
	testItems = append([]T{}, ordered[numTrain+numValidation:]...)
	return
}

// PartitionIndices returns the indices (into a dataset or slice of n elements) assigned to each partition.
// It's equivalent to PartitionSlice over [0, 1, ..., n-1].
func PartitionIndices(p *Partitioner, n int) (trainIdx, validationIdx, testIdx []int, err error) {
	indices := make([]int, n)
	for ii := range indices {
		indices[ii] = ii
	}
	return PartitionSlice(p, indices)
}

// Partitions holds the three disjoint views returned by Partitioner.Partition.
type Partitions struct {
	Train, Validation, Test train.Dataset
	Fractions               Fractions
}

// All returns the train, validation and test datasets, in this order.
func (parts *Partitions) All() []train.Dataset {
	return []train.Dataset{parts.Train, parts.Validation, parts.Test}
}

// Partition splits `ds` into three lazy datasets: train, validation and test.
//
// The number of batches of `ds` is taken from train.KnownNumBatches, or counted with a full pass when
// the size is unknown (e.g.: a lazily produced stream). Each view reads an independent clone of `ds` (so `ds`
// must implement Cloner, see InMemory), shuffled with the same seed, and takes its own contiguous range of that
// order. Hence, the views are disjoint, together they cover every batch of `ds`, and each pass of a view yields
// the same batches in the same order.
//
// Clones start from the initial state of `ds`: an InMemoryDataset configured with Shuffle or Infinite is
// cloned as a sequential, finite dataset, so it is partitioned in its stored order. Use the Partitioner
// shuffle (WithShuffle) instead.
//
// Partitions with 0 batches are valid (they immediately return io.EOF), and a warning is logged.
func (p *Partitioner) Partition(ds train.Dataset) (*Partitions, error) {
	if err := p.fractions.Validate(); err != nil {
		return nil, err
	}
	n, err := train.NumBatches(ds)
	if err != nil {
		return nil, err
	}
	numTrain, numValidation, numTest, err := p.Sizes(n)
	if err != nil {
		return nil, err
	}
	parts := &Partitions{Fractions: p.fractions}
	offset := 0
	for _, part := range []struct {
		name string
		size int
		view *train.Dataset
	}{
		{"train", numTrain, &parts.Train},
		{"validation", numValidation, &parts.Validation},
		{"test", numTest, &parts.Test},
	} {
		src, err := Clone(ds)
		if err != nil {
			return nil, errors.WithMessagef(err, "while partitioning dataset %q", ds.Name())
		}
		if p.shuffle {
			src = Shuffle(src, p.bufferSize, p.seed)
		}
		if offset > 0 {
			src = Skip(src, offset)
		}
		*part.view = &partitionView{
			ds:        Take(src, part.size),
			name:      fmt.Sprintf("%s [%s]", ds.Name(), part.name),
			shortName: part.name[:3],
			size:      part.size,
		}
		if part.size == 0 {
			klog.Warningf("partition %q of dataset %q is empty (%d batches in total, fractions %s)",
				part.name, ds.Name(), n, p.fractions)
		}
		offset += part.size
	}
	klog.V(1).Infof("Partitioned %q (%d batches) into train=%d, validation=%d, test=%d",
		ds.Name(), n, numTrain, numValidation, numTest)
	return parts, nil
}

// partitionView is one of the partitions created by Partitioner.Partition.
type partitionView struct {
	ds              train.Dataset
	name, shortName string
	size            int
}

// Name implements train.Dataset.
func (v *partitionView) Name() string { return v.name }

// ShortName implements train.HasShortName.
func (v *partitionView) ShortName() string { return v.shortName }

// NumBatches implements train.HasNumBatches.
func (v *partitionView) NumBatches() int { return v.size }

// Reset implements train.Dataset.
func (v *partitionView) Reset() { v.ds.Reset() }

// Yield implements train.Dataset.
func (v *partitionView) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	return v.ds.Yield()
}

// Clone implements Cloner.
func (v *partitionView) Clone() (train.Dataset, error) {
	inner, err := Clone(v.ds)
	if err != nil {
		return nil, err
	}
	return &partitionView{ds: inner, name: v.name, shortName: v.shortName, size: v.size}, nil
}
