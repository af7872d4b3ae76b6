// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package train defines the Dataset interface that connects the data pipeline to a training
// or evaluation collaborator.
package train

import (
	"io"

	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Dataset provides the data, one batch at a time. Each batch consists of a slice of *tensors.Tensor
// for `inputs` and for `labels`.
//
// For the image datasets in this module, `inputs[0]` holds the images shaped
// `[batch_size, height, width, channels]` and `labels[0]` the class ids shaped `(Int32)[batch_size]`.
type Dataset interface {
	// Name identifies the dataset. Used for debugging, pretty-printing and plots.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached,
	// for instance when running another evaluation on a test dataset.
	//
	// Unless a dataset documents otherwise (e.g.: it reshuffles at every pass), a pass after Reset
	// yields the same batches in the same order as the previous one.
	Reset()

	// Yield one batch or an error.
	//
	// It returns an opaque `spec` (usually static for a dataset, and it may be nil), the `inputs`
	// and the `labels` tensors.
	//
	// If the error is `io.EOF`, the pass over the data is finished: the dataset must be Reset before
	// being used again. Any other error should interrupt the consumer and be returned to the user.
	Yield() (spec any, inputs, labels []*tensors.Tensor, err error)
}

// HasShortName allows a dataset to specify a short name (used when displaying a short version of its name).
// It defaults to the first 3 letters of the dataset name.
type HasShortName interface {
	// ShortName returns the short name of the dataset.
	ShortName() string
}

// HasNumBatches is implemented by finite datasets that know up-front how many batches a pass yields.
//
// Wrappers implement it even when the dataset they wrap doesn't know its size: a negative value means
// the number of batches is unknown.
type HasNumBatches interface {
	// NumBatches yielded by a full pass of the dataset, or -1 if unknown.
	NumBatches() int
}

// KnownNumBatches returns the number of batches of `ds` reported by HasNumBatches, and false if
// `ds` doesn't implement it or reports an unknown (negative) size. It never reads from `ds`.
func KnownNumBatches(ds Dataset) (int, bool) {
	hn, ok := ds.(HasNumBatches)
	if !ok {
		return 0, false
	}
	n := hn.NumBatches()
	if n < 0 {
		return 0, false
	}
	return n, true
}

// ShortName returns the dataset short name, if it implements HasShortName, or the first 3 letters of its name.
func ShortName(ds Dataset) string {
	if sn, ok := ds.(HasShortName); ok {
		return sn.ShortName()
	}
	name := ds.Name()
	if len(name) > 3 {
		return name[:3]
	}
	return name
}

// NumBatches returns the number of batches in one pass of `ds`.
//
// If the size is known (see KnownNumBatches), that is used. Otherwise, it counts by reading a full pass of the
// dataset and then calling `ds.Reset()`, so it is only usable on finite datasets.
func NumBatches(ds Dataset) (int, error) {
	if n, ok := KnownNumBatches(ds); ok {
		return n, nil
	}
	count := 0
	for {
		_, _, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithMessagef(err, "while counting batches of dataset %q", ds.Name())
		}
		count++
	}
	ds.Reset()
	return count, nil
}
