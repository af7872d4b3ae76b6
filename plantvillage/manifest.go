// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package plantvillage

import (
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Manifest column names.
const (
	ColumnSplit = "split"
	ColumnBatch = "batch"
	ColumnPath  = "path"
	ColumnLabel = "label"
	ColumnClass = "class"
)

// Manifest returns a dataframe with one row per image file, listing the split it was assigned to,
// with the columns "split", "batch" (index of the batch in the source directory), "path", "label" and "class".
//
// Rows are ordered by split (train, validation, test), then by the order of the batches in the split.
func Manifest(ds *Datasets) dataframe.DataFrame {
	var splits, paths, classes []string
	var batches, labels []int
	classNames := ds.ClassNames()
	for _, split := range Splits {
		for _, batchIdx := range ds.BatchIndices[split] {
			for _, file := range ds.Source.FilesInBatch(batchIdx) {
				splits = append(splits, split)
				batches = append(batches, batchIdx)
				paths = append(paths, file.Path)
				labels = append(labels, int(file.Label))
				classes = append(classes, classNames[file.Label])
			}
		}
	}
	return dataframe.New(
		series.New(splits, series.String, ColumnSplit),
		series.New(batches, series.Int, ColumnBatch),
		series.New(paths, series.String, ColumnPath),
		series.New(labels, series.Int, ColumnLabel),
		series.New(classes, series.String, ColumnClass),
	)
}

// WriteManifest writes the Manifest of ds as CSV, with a header line.
func WriteManifest(w io.Writer, ds *Datasets) error {
	df := Manifest(ds)
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build manifest")
	}
	return errors.Wrap(df.WriteCSV(w), "failed to write manifest")
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(r io.Reader) (dataframe.DataFrame, error) {
	df := dataframe.ReadCSV(r, dataframe.WithTypes(map[string]series.Type{
		ColumnSplit: series.String,
		ColumnBatch: series.Int,
		ColumnPath:  series.String,
		ColumnLabel: series.Int,
		ColumnClass: series.String,
	}))
	if df.Err != nil {
		return df, errors.Wrap(df.Err, "failed to read manifest")
	}
	for _, column := range []string{ColumnSplit, ColumnBatch, ColumnPath, ColumnLabel, ColumnClass} {
		found := false
		for _, name := range df.Names() {
			found = found || name == column
		}
		if !found {
			return df, errors.Errorf("manifest is missing column %q", column)
		}
	}
	return df, nil
}

// ClassCounts returns, for each split of the manifest, the number of images of each class, indexed by label.
func ClassCounts(manifest dataframe.DataFrame, numClasses int) (map[string][]int, error) {
	counts := make(map[string][]int, len(Splits))
	for _, split := range Splits {
		counts[split] = make([]int, numClasses)
		rows := manifest.Filter(dataframe.F{Colname: ColumnSplit, Comparator: series.Eq, Comparando: split})
		if rows.Err != nil {
			return nil, errors.Wrapf(rows.Err, "failed to select split %q from manifest", split)
		}
		if rows.Nrow() == 0 {
			continue
		}
		labels, err := rows.Col(ColumnLabel).Int()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid labels in manifest split %q", split)
		}
		for _, label := range labels {
			if label < 0 || label >= numClasses {
				return nil, errors.Errorf("label %d in manifest split %q out of range (%d classes)", label, split, numClasses)
			}
			counts[split][label]++
		}
	}
	return counts, nil
}
