// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package data implements the image data sources and transformations of the input pipeline:
// ImageDir loads a directory of labeled images, Map applies host-side transformations, Augment
// randomly flips and rotates images and Rescale/ChannelStats handle normalization.
package data

import (
	"github.com/gomlx/exceptions"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/datasets"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/pkg/errors"
)

// MapFn is a normal Go function that transforms the inputs and labels of a batch.
// It may panic (e.g. with exceptions.Panicf) to report an error.
type MapFn func(inputs, labels []*tensors.Tensor) (mappedInputs, mappedLabels []*tensors.Tensor)

// mapDataset implements a `train.Dataset` that maps a function executed on the host to a wrapped dataset.
type mapDataset struct {
	ds    train.Dataset
	mapFn MapFn
	name  string
}

var _ train.Dataset = (*mapDataset)(nil)

// Map returns a dataset that yields the batches of `ds` transformed by `mapFn`.
// Panics in `mapFn` are converted to errors returned by Yield.
func Map(ds train.Dataset, mapFn MapFn) train.Dataset {
	return &mapDataset{
		ds:    ds,
		mapFn: mapFn,
		name:  ds.Name(),
	}
}

// Name implements train.Dataset.
func (ds *mapDataset) Name() string { return ds.name }

// ShortName implements train.HasShortName.
func (ds *mapDataset) ShortName() string { return train.ShortName(ds.ds) }

// Yield implements train.Dataset.
func (ds *mapDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.ds.Yield()
	if err != nil {
		return
	}
	err = exceptions.TryCatch[error](func() {
		inputs, labels = ds.mapFn(inputs, labels)
	})
	if err != nil {
		err = errors.WithMessagef(err, "while mapping a batch of dataset %q", ds.name)
	}
	return
}

// Reset implements train.Dataset.
func (ds *mapDataset) Reset() {
	ds.ds.Reset()
}

// NumBatches implements train.HasNumBatches. It returns -1 if the size of the underlying dataset is unknown.
func (ds *mapDataset) NumBatches() int {
	if n, ok := train.KnownNumBatches(ds.ds); ok {
		return n
	}
	return -1
}

// Clone implements datasets.Cloner. The clone shares the same `mapFn`.
func (ds *mapDataset) Clone() (train.Dataset, error) {
	inner, err := datasets.Clone(ds.ds)
	if err != nil {
		return nil, err
	}
	return &mapDataset{ds: inner, mapFn: ds.mapFn, name: ds.name}, nil
}
