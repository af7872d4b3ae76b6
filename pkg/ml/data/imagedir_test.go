// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/datasets"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// classColors gives each test class a distinct solid color, so the label of an image can be checked from its pixels.
var classColors = []color.NRGBA{
	{R: 200, G: 10, B: 10, A: 255},
	{R: 10, G: 200, B: 10, A: 255},
	{R: 10, G: 10, B: 200, A: 255},
}

var testClassNames = []string{"Potato___Early_blight", "Potato___Late_blight", "Potato___healthy"}

// createImageDir creates a directory with perClass[i] solid color images for each class.
func createImageDir(t *testing.T, perClass ...int) string {
	dir := t.TempDir()
	for classIdx, count := range perClass {
		classDir := filepath.Join(dir, testClassNames[classIdx])
		require.NoError(t, os.MkdirAll(classDir, 0755))
		for ii := range count {
			img := imaging.New(8+ii%3, 6, classColors[classIdx])
			ext := []string{"png", "PNG"}[ii%2]
			require.NoError(t, imaging.Save(img, filepath.Join(classDir, fmt.Sprintf("img_%03d.%s", ii, ext))))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, testClassNames[0], "README.txt"), []byte("ignored"), 0644))
	return dir
}

func TestImageDir(t *testing.T) {
	dir := createImageDir(t, 5, 3, 2)
	ds, err := NewImageDir(dir).WithName("potatoes").BatchSize(4).ImageSize(4, 5).Load()
	require.NoError(t, err)
	assert.Equal(t, "potatoes", ds.Name())
	assert.Equal(t, testClassNames, ds.ClassNames())
	assert.Equal(t, 3, ds.NumClasses())
	assert.Equal(t, 10, ds.NumFiles())
	assert.Equal(t, 3, ds.NumBatches())
	assert.Greater(t, ds.TotalBytes(), int64(0))

	batches, err := datasets.Collect(ds)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	var seen []string
	for ii, b := range batches {
		spec := b.Spec.(*BatchSpec)
		assert.Equal(t, ii, spec.Index)
		wantSize := []int{4, 4, 2}[ii]
		require.Len(t, spec.Files, wantSize)
		require.NoError(t, b.Inputs[0].Shape().Check(dtypes.Float32, wantSize, 4, 5, 3))
		require.NoError(t, b.Labels[0].Shape().Check(dtypes.Int32, wantSize))

		labels := tensors.CopyFlatData[int32](b.Labels[0])
		pixels := tensors.CopyFlatData[float32](b.Inputs[0])
		imageSize := 4 * 5 * 3
		for jj, f := range spec.Files {
			assert.Equal(t, f.Label, labels[jj])
			assert.Equal(t, testClassNames[f.Label], filepath.Base(filepath.Dir(f.Path)))
			// Solid color images: first pixel identifies the class.
			c := classColors[f.Label]
			assert.InDelta(t, float32(c.R), pixels[jj*imageSize], 1)
			assert.InDelta(t, float32(c.G), pixels[jj*imageSize+1], 1)
			assert.InDelta(t, float32(c.B), pixels[jj*imageSize+2], 1)
			seen = append(seen, f.Path)
		}
	}
	slices.Sort(seen)
	all := make([]string, 0, ds.NumFiles())
	for _, f := range ds.Files() {
		all = append(all, f.Path)
	}
	slices.Sort(all)
	assert.Equal(t, all, seen)

	// Same seed, same file order.
	again, err := NewImageDir(dir).BatchSize(4).ImageSize(4, 5).Load()
	require.NoError(t, err)
	assert.Equal(t, ds.Files(), again.Files())
	other, err := NewImageDir(dir).BatchSize(4).ImageSize(4, 5).Shuffle(7).Load()
	require.NoError(t, err)
	assert.NotEqual(t, ds.Files(), other.Files())
	sorted, err := NewImageDir(dir).BatchSize(4).NoShuffle().Load()
	require.NoError(t, err)
	assert.Equal(t, int32(0), sorted.Files()[0].Label)
	assert.Equal(t, int32(2), sorted.Files()[9].Label)
}

func TestImageDirErrors(t *testing.T) {
	_, err := NewImageDir(filepath.Join(t.TempDir(), "missing")).Load()
	require.Error(t, err)
	_, err = NewImageDir(t.TempDir()).Load()
	require.Error(t, err)
	dir := createImageDir(t, 1)
	_, err = NewImageDir(dir).BatchSize(0).Load()
	require.Error(t, err)
	_, err = NewImageDir(dir).Channels(1).Load()
	require.Error(t, err)

	// Corrupted image is reported by Yield.
	require.NoError(t, os.WriteFile(filepath.Join(dir, testClassNames[0], "bad.png"), []byte("not an image"), 0644))
	ds, err := NewImageDir(dir).NoShuffle().BatchSize(2).Load()
	require.NoError(t, err)
	_, _, _, err = ds.Yield()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.png")
}

func TestImageDirSubsetSkipAndClone(t *testing.T) {
	dir := createImageDir(t, 4, 4, 4)
	ds, err := NewImageDir(dir).BatchSize(2).ImageSize(3, 3).Load()
	require.NoError(t, err)
	require.Equal(t, 6, ds.NumBatches())

	batchIndices := func(d train.Dataset) []int {
		var indices []int
		for {
			spec, _, _, err := d.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			indices = append(indices, spec.(*BatchSpec).Index)
		}
		return indices
	}

	subset, err := ds.Subset("subset", []int{4, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, subset.NumBatches())
	assert.Equal(t, []int{4, 1, 3}, batchIndices(subset))
	assert.Equal(t, ds.FilesInBatch(4), ds.Files()[8:10])
	assert.Nil(t, ds.FilesInBatch(6))

	// Changing the returned files doesn't affect the dataset, its subsets or the yielded specs.
	files := ds.FilesInBatch(4)
	files[0].Path, files[0].Label = "changed", 99
	assert.Equal(t, ds.Files()[8], ds.FilesInBatch(4)[0])
	subset.Reset()
	spec, _, _, err := subset.Yield()
	require.NoError(t, err)
	spec.(*BatchSpec).Files[0].Path = "changed"
	assert.Equal(t, ds.Files()[8], ds.FilesInBatch(4)[0])
	subset.Reset()
	_, err = ds.Subset("bad", []int{6})
	require.Error(t, err)

	skipped, err := ds.SkipBatches(4)
	require.NoError(t, err)
	assert.Equal(t, 4, skipped)
	clone, err := ds.Clone()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, batchIndices(ds))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, batchIndices(clone))

	// Reshuffled batches: a different order at each pass, always a permutation.
	subset.ReshuffleBatches(1)
	subset.Reset()
	first := batchIndices(subset)
	subset.Reset()
	second := batchIndices(subset)
	slices.Sort(first)
	slices.Sort(second)
	assert.Equal(t, []int{1, 3, 4}, first)
	assert.Equal(t, []int{1, 3, 4}, second)
}

func TestImageDirPartitionEquivalence(t *testing.T) {
	dir := createImageDir(t, 5, 5, 5)
	ds, err := NewImageDir(dir).BatchSize(1).ImageSize(2, 2).Load()
	require.NoError(t, err)
	p := datasets.NewPartitioner().WithShuffle(12, 4)

	// Partitioning the stream of batches, or the batch indices, gives the same batches.
	parts, err := p.Partition(ds)
	require.NoError(t, err)
	trainIdx, validationIdx, testIdx, err := datasets.PartitionIndices(p, ds.NumBatches())
	require.NoError(t, err)
	for ii, want := range [][]int{trainIdx, validationIdx, testIdx} {
		var got []int
		batches, err := datasets.Collect(parts.All()[ii])
		require.NoError(t, err)
		for _, b := range batches {
			got = append(got, b.Spec.(*BatchSpec).Index)
		}
		assert.Equal(t, want, got)
	}
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, imaging.Save(imaging.New(20, 10, color.NRGBA{G: 255, A: 255}), path))
	img, err := LoadImage(path, 7, 9)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(9, 7), img.Bounds().Size())
	_, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"), 7, 9)
	require.Error(t, err)
}
