// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"slices"
	"testing"

	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFractionsSizes(t *testing.T) {
	for _, tc := range []struct {
		n                        int
		fractions                Fractions
		train, validation, test int
	}{
		{680, DefaultFractions, 544, 68, 68},
		{10, DefaultFractions, 8, 1, 1},
		{0, DefaultFractions, 0, 0, 0},
		{3, DefaultFractions, 2, 0, 1},
		{10, Fractions{0.7, 0.2, 0.1}, 7, 2, 1},
		{10, Fractions{1, 0, 0}, 10, 0, 0},
		{10, Fractions{0, 0, 1}, 0, 0, 10},
	} {
		numTrain, numValidation, numTest, err := tc.fractions.Sizes(tc.n)
		require.NoError(t, err)
		assert.Equalf(t, []int{tc.train, tc.validation, tc.test}, []int{numTrain, numValidation, numTest},
			"n=%d, fractions=%s", tc.n, tc.fractions)
	}
}

func TestFractionsValidate(t *testing.T) {
	require.NoError(t, DefaultFractions.Validate())
	require.NoError(t, Fractions{0.7, 0.2, 0.1}.Validate())
	for _, f := range []Fractions{{0.8, 0.1, 0.2}, {0.5, 0.1, 0.1}, {1.2, -0.1, -0.1}, {0, 0, 0}} {
		err := f.Validate()
		require.Errorf(t, err, "fractions %s should be invalid", f)
		require.Truef(t, errors.Is(err, ErrInvalidFractions), "fractions %s: unexpected error %v", f, err)
	}
	_, _, _, err := DefaultFractions.Sizes(-1)
	require.Error(t, err)
}

func TestPartitionInvalidFractions(t *testing.T) {
	p := NewPartitioner().WithFractions(0.8, 0.1, 0.2)
	parts, err := p.Partition(InMemoryFromBatches("mem", testBatches(10)...))
	require.ErrorIs(t, err, ErrInvalidFractions)
	require.Nil(t, parts)

	trainItems, validationItems, testItems, err := PartitionSlice(p, sequence(10))
	require.ErrorIs(t, err, ErrInvalidFractions)
	require.Nil(t, trainItems)
	require.Nil(t, validationItems)
	require.Nil(t, testItems)
}

func TestPartitionWithoutShuffle(t *testing.T) {
	p := NewPartitioner().WithoutShuffle()
	parts, err := p.Partition(InMemoryFromBatches("mem", testBatches(10)...))
	require.NoError(t, err)
	assert.Equal(t, sequence(8), readValues(t, parts.Train))
	assert.Equal(t, []int32{8}, readValues(t, parts.Validation))
	assert.Equal(t, []int32{9}, readValues(t, parts.Test))
	assert.Equal(t, "mem [train]", parts.Train.Name())
	assert.Equal(t, "mem [validation]", parts.Validation.Name())
	assert.Equal(t, "mem [test]", parts.Test.Name())
	for ii, want := range []int{8, 1, 1} {
		n, err := train.NumBatches(parts.All()[ii])
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// A shuffling InMemoryDataset is partitioned in its stored order.
	shuffled := InMemoryFromBatches("mem", testBatches(10)...).Shuffle().Infinite(true)
	parts, err = p.Partition(shuffled)
	require.NoError(t, err)
	assert.Equal(t, sequence(8), readValues(t, parts.Train))
	assert.Equal(t, []int32{9}, readValues(t, parts.Test))

	trainItems, validationItems, testItems, err := PartitionSlice(p, sequence(10))
	require.NoError(t, err)
	assert.Equal(t, sequence(8), trainItems)
	assert.Equal(t, []int32{8}, validationItems)
	assert.Equal(t, []int32{9}, testItems)
}

func TestPartitionIdempotent(t *testing.T) {
	p := NewPartitioner().WithFractions(1, 0, 0).WithoutShuffle()
	parts, err := p.Partition(newTestDS(20))
	require.NoError(t, err)
	assert.Equal(t, sequence(20), readValues(t, parts.Train))
	assert.Empty(t, readValues(t, parts.Validation))
	assert.Empty(t, readValues(t, parts.Test))
}

func TestRepartitionTrainView(t *testing.T) {
	parts, err := NewPartitioner().WithShuffle(12, 16).Partition(newTestDS(50))
	require.NoError(t, err)
	trainValues := readValues(t, parts.Train)
	require.Len(t, trainValues, 40)
	parts.Train.Reset()

	again, err := NewPartitioner().WithFractions(1, 0, 0).WithoutShuffle().Partition(parts.Train)
	require.NoError(t, err)
	assert.Equal(t, trainValues, readValues(t, again.Train))
	assert.Equal(t, 40, again.Train.(train.HasNumBatches).NumBatches())
	assert.Empty(t, readValues(t, again.Validation))
	assert.Empty(t, readValues(t, again.Test))
}

func TestPartitionUnknownSize(t *testing.T) {
	p := NewPartitioner().WithoutShuffle()
	for _, tc := range []struct {
		ds                      train.Dataset
		train, validation, test []int32
	}{
		{Shuffle(newTestDS(10), 4, 1), nil, nil, nil},
		{Skip(newTestDS(12), 2), []int32{2, 3, 4, 5, 6, 7, 8, 9}, []int32{10}, []int32{11}},
		{Take(newTestDS(3), 10), []int32{0, 1}, []int32{}, []int32{2}},
		{Take(Shuffle(newTestDS(6), 0, 3), 5), nil, nil, nil},
	} {
		// Wrappers over a stream of unknown size must not report a size, so the stream is counted.
		_, known := train.KnownNumBatches(tc.ds)
		require.Falsef(t, known, "dataset %q", tc.ds.Name())
		n, err := train.NumBatches(tc.ds)
		require.NoError(t, err)

		parts, err := p.Partition(tc.ds)
		require.NoError(t, err)
		trainValues := readValues(t, parts.Train)
		validationValues := readValues(t, parts.Validation)
		testValues := readValues(t, parts.Test)
		numTrain, numValidation, numTest, err := p.Sizes(n)
		require.NoError(t, err)
		assert.Lenf(t, trainValues, numTrain, "dataset %q", tc.ds.Name())
		assert.Len(t, validationValues, numValidation)
		assert.Len(t, testValues, numTest)
		assert.Lenf(t, slices.Concat(trainValues, validationValues, testValues), n, "dataset %q", tc.ds.Name())
		if tc.train != nil {
			assert.Equal(t, tc.train, trainValues)
			assert.Equal(t, tc.validation, validationValues)
			assert.Equal(t, tc.test, testValues)
		}
	}

	// Shuffled stream: disjoint and covering.
	parts, err := p.Partition(Shuffle(newTestDS(10), 4, 1))
	require.NoError(t, err)
	all := slices.Concat(readValues(t, parts.Train), readValues(t, parts.Validation), readValues(t, parts.Test))
	slices.Sort(all)
	assert.Equal(t, sequence(10), all)
}

func TestPartitionShuffled(t *testing.T) {
	const n = 680
	for _, bufferSize := range []int{0, 50, DefaultShuffleBufferSize} {
		p := NewPartitioner().WithShuffle(12, bufferSize)
		parts, err := p.Partition(newTestDS(n))
		require.NoError(t, err)

		trainValues := readValues(t, parts.Train)
		validationValues := readValues(t, parts.Validation)
		testValues := readValues(t, parts.Test)
		require.Len(t, trainValues, 544)
		require.Len(t, validationValues, 68)
		require.Len(t, testValues, 68)

		// Disjoint and covering all batches.
		all := slices.Concat(trainValues, validationValues, testValues)
		slices.Sort(all)
		require.Equalf(t, sequence(n), all, "bufferSize=%d", bufferSize)

		// Each pass yields the same batches in the same order.
		for _, view := range parts.All() {
			view.Reset()
		}
		require.Equal(t, trainValues, readValues(t, parts.Train))
		require.Equal(t, validationValues, readValues(t, parts.Validation))
		require.Equal(t, testValues, readValues(t, parts.Test))

		// Same configuration, same partitions.
		again, err := p.Partition(InMemoryFromBatches("mem", testBatches(n)...))
		require.NoError(t, err)
		require.Equal(t, trainValues, readValues(t, again.Train))
		require.Equal(t, testValues, readValues(t, again.Test))

		// The slice version yields the same partitions.
		trainItems, validationItems, testItems, err := PartitionSlice(p, sequence(n))
		require.NoError(t, err)
		require.Equal(t, trainValues, trainItems)
		require.Equal(t, validationValues, validationItems)
		require.Equal(t, testValues, testItems)

		// Different seed, different partitions.
		other, err := NewPartitioner().WithShuffle(13, bufferSize).Partition(newTestDS(n))
		require.NoError(t, err)
		require.NotEqual(t, trainValues, readValues(t, other.Train))
	}
}

func TestPartitionInterleaved(t *testing.T) {
	p := NewPartitioner().WithShuffle(7, 16)
	parts, err := p.Partition(InMemoryFromBatches("mem", testBatches(100)...))
	require.NoError(t, err)
	trainItems, validationItems, _, err := PartitionSlice(p, sequence(100))
	require.NoError(t, err)

	// Reading the validation partition in the middle of a train pass doesn't affect it.
	var got []int32
	for range 40 {
		_, inputs, _, err := parts.Train.Yield()
		require.NoError(t, err)
		got = append(got, tensors.ToScalar[int32](inputs[0]))
	}
	assert.Equal(t, trainItems[:40], got)
	assert.Equal(t, validationItems, readValues(t, parts.Validation))
	assert.Equal(t, trainItems[40:], readValues(t, parts.Train))

	// Clones of a view are independent and yield the same batches.
	clone, err := Clone(parts.Validation)
	require.NoError(t, err)
	assert.Equal(t, validationItems, readValues(t, clone))
}

func TestPartitionEmptyDataset(t *testing.T) {
	parts, err := NewPartitioner().Partition(newTestDS(0))
	require.NoError(t, err)
	for _, view := range parts.All() {
		assert.Empty(t, readValues(t, view))
	}
}

func TestPartitionRequiresCloner(t *testing.T) {
	_, err := NewPartitioner().Partition(Take(&ParallelDataset{name: "parallel"}, 0))
	require.Error(t, err)
}

func TestPartitionIndices(t *testing.T) {
	p := NewPartitioner()
	trainIdx, validationIdx, testIdx, err := PartitionIndices(p, 50)
	require.NoError(t, err)
	assert.Len(t, trainIdx, 40)
	assert.Len(t, validationIdx, 5)
	assert.Len(t, testIdx, 5)
	all := slices.Concat(trainIdx, validationIdx, testIdx)
	slices.Sort(all)
	for ii, idx := range all {
		require.Equal(t, ii, idx)
	}
}
