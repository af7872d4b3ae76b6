// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressWriter is where progress bars are written to.
var ProgressWriter io.Writer = os.Stderr

// NewProgressBar creates a progress bar for `total` batches. If total < 0 a spinner is displayed instead.
func NewProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(ProgressWriter),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = ProgressWriter.Write([]byte("\n")) }),
	)
}

// progressDataset advances a progress bar at every batch yielded.
type progressDataset struct {
	train.Dataset
	bar *progressbar.ProgressBar
}

// WithProgressBar returns a dataset that displays a progress bar while `ds` is read.
// The progress bar is recreated at every Reset.
func WithProgressBar(ds train.Dataset) train.Dataset {
	pds := &progressDataset{Dataset: ds}
	pds.bar = newDatasetProgressBar(ds)
	return pds
}

func newDatasetProgressBar(ds train.Dataset) *progressbar.ProgressBar {
	total := -1
	if n, ok := train.KnownNumBatches(ds); ok {
		total = n
	}
	return NewProgressBar(total, ds.Name())
}

// Yield implements train.Dataset.
func (pds *progressDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = pds.Dataset.Yield()
	if err == io.EOF {
		_ = pds.bar.Finish()
		return
	}
	if err == nil {
		_ = pds.bar.Add(1)
	}
	return
}

// Reset implements train.Dataset.
func (pds *progressDataset) Reset() {
	pds.Dataset.Reset()
	pds.bar = newDatasetProgressBar(pds.Dataset)
}

// PassStats are the statistics of a full pass over a dataset.
type PassStats struct {
	Name         string
	NumBatches   int
	NumExamples  int
	Elapsed      time.Duration
	TensorsBytes uint64
}

// String implements fmt.Stringer.
func (s PassStats) String() string {
	return s.Name + ": " + humanize.Comma(int64(s.NumBatches)) + " batches, " +
		humanize.Comma(int64(s.NumExamples)) + " examples, " + humanize.Bytes(s.TensorsBytes) +
		" in " + FormatDuration(s.Elapsed)
}

// Pass reads one full pass of `ds`, displaying a progress bar if `showProgress` is set, and then resets it.
// The number of examples is the sum of the leading (batch) dimension of `labels[0]` of each batch.
func Pass(ds train.Dataset, showProgress bool) (stats PassStats, err error) {
	stats.Name = ds.Name()
	if showProgress {
		ds = WithProgressBar(ds)
	}
	start := time.Now()
	for {
		var inputs, labels []*tensors.Tensor
		_, inputs, labels, err = ds.Yield()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return
		}
		stats.NumBatches++
		if len(labels) > 0 && labels[0].Rank() > 0 {
			stats.NumExamples += labels[0].Shape().Dim(0)
		}
		for _, t := range inputs {
			stats.TensorsBytes += uint64(t.Memory())
		}
		for _, t := range labels {
			stats.TensorsBytes += uint64(t.Memory())
		}
	}
	stats.Elapsed = time.Since(start)
	ds.Reset()
	klog.V(1).Infof("Pass over %q: %s", stats.Name, stats)
	return
}
