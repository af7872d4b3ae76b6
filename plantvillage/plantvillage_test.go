// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package plantvillage

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/data"
	"github.com/leafscan/leafscan/pkg/ml/datasets"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/leafscan/leafscan/ui/commandline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClasses = []string{"Potato___Early_blight", "Potato___Late_blight", "Potato___healthy"}

// createPlantVillageDir creates a directory with perClass[i] small images of class i.
func createPlantVillageDir(t *testing.T, perClass ...int) string {
	dir := t.TempDir()
	for classIdx, count := range perClass {
		classDir := filepath.Join(dir, testClasses[classIdx])
		require.NoError(t, os.MkdirAll(classDir, 0755))
		c := color.NRGBA{R: uint8(80 * classIdx), G: 120, B: 30, A: 255}
		for ii := range count {
			require.NoError(t, imaging.Save(imaging.New(6, 6, c), filepath.Join(classDir, fmt.Sprintf("leaf_%02d.png", ii))))
		}
	}
	return dir
}

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.BatchSize = 2
	cfg.ImageSize = 4
	cfg.PrefetchBuffer = 2
	return cfg
}

// batchIndices reads one pass of ds and returns the source batch index of each batch.
func batchIndices(t *testing.T, ds train.Dataset) []int {
	var indices []int
	for {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)
		indices = append(indices, spec.(*data.BatchSpec).Index)
	}
	ds.Reset()
	return indices
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig("/data/PlantVillage")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, 256, cfg.ImageSize)
	assert.Equal(t, 50, cfg.Epochs)
	assert.Equal(t, datasets.DefaultFractions, cfg.Fractions)

	bad := cfg
	bad.Fractions = datasets.Fractions{Train: 0.8, Validation: 0.1, Test: 0.2}
	require.ErrorIs(t, bad.Validate(), datasets.ErrInvalidFractions)

	bad = cfg
	bad.Channels = 1
	require.Error(t, bad.Validate())

	bad = cfg
	bad.DType = dtypes.Int64
	require.Error(t, bad.Validate())

	bad = cfg
	bad.DataDir = ""
	require.Error(t, bad.Validate())
}

func TestSettings(t *testing.T) {
	cfg := DefaultConfig("/data/PlantVillage")
	settings := commandline.Settings(cfg.Settings())
	paramsSet, err := commandline.ParseSettings(settings,
		"batch_size=8;fractions=0.6,0.2,0.2;dtype=float64;shuffle_seed=7;cache=false")
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_size", "fractions", "dtype", "shuffle_seed", "cache"}, paramsSet)
	require.NoError(t, cfg.ApplySettings(settings))
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, datasets.Fractions{Train: 0.6, Validation: 0.2, Test: 0.2}, cfg.Fractions)
	assert.Equal(t, dtypes.Float64, cfg.DType)
	assert.Equal(t, int64(7), cfg.ShuffleSeed)
	assert.False(t, cfg.CacheInMemory)
	require.NoError(t, cfg.Validate())

	_, err = commandline.ParseSettings(settings, "fractions=0.5,0.5")
	require.NoError(t, err)
	require.Error(t, cfg.ApplySettings(settings))

	_, err = ParseDType("complex64")
	require.Error(t, err)
}

func TestCreateDatasets(t *testing.T) {
	dir := createPlantVillageDir(t, 8, 7, 5) // 20 images, 10 batches: 8/1/1.
	for _, cached := range []bool{true, false} {
		t.Run(fmt.Sprintf("cached=%v", cached), func(t *testing.T) {
			cfg := testConfig(dir)
			cfg.CacheInMemory = cached
			cfg.TrainShuffleBuffer = 0
			ds, err := CreateDatasets(cfg)
			require.NoError(t, err)
			defer ds.Done()

			assert.Equal(t, testClasses, ds.ClassNames())
			assert.Len(t, ds.BatchIndices[SplitTrain], 8)
			assert.Len(t, ds.BatchIndices[SplitValidation], 1)
			assert.Len(t, ds.BatchIndices[SplitTest], 1)
			assert.Equal(t, "PlantVillage [validation]", ds.Partitions.Validation.Name())

			var all []int
			for ii, split := range Splits {
				got := batchIndices(t, ds.All()[ii])
				assert.Equal(t, ds.BatchIndices[split], got, "split %q", split)
				// Restarting yields the same batches.
				assert.Equal(t, got, batchIndices(t, ds.All()[ii]), "split %q", split)
				all = append(all, got...)
			}
			slices.Sort(all)
			assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all)
		})
	}
}

func TestCreateDatasetsTrainReshuffle(t *testing.T) {
	dir := createPlantVillageDir(t, 8, 7, 5)
	for _, cached := range []bool{true, false} {
		t.Run(fmt.Sprintf("cached=%v", cached), func(t *testing.T) {
			cfg := testConfig(dir)
			cfg.CacheInMemory = cached
			cfg.TrainShuffleBuffer = 4
			cfg.Augment = true
			ds, err := CreateDatasets(cfg)
			require.NoError(t, err)
			defer ds.Done()

			want := slices.Clone(ds.BatchIndices[SplitTrain])
			slices.Sort(want)
			for range 3 {
				got := batchIndices(t, ds.Train)
				slices.Sort(got)
				assert.Equal(t, want, got)
			}
			// Validation and test are not reshuffled.
			assert.Equal(t, ds.BatchIndices[SplitTest], batchIndices(t, ds.Test))
		})
	}
}

func TestCreateDatasetsErrors(t *testing.T) {
	cfg := testConfig(t.TempDir())
	_, err := CreateDatasets(cfg)
	require.Error(t, err)

	cfg = testConfig(createPlantVillageDir(t, 2))
	cfg.Fractions = datasets.Fractions{Train: 1.1}
	_, err = CreateDatasets(cfg)
	require.ErrorIs(t, err, datasets.ErrInvalidFractions)
}

func TestCreateDatasetsEmptySplits(t *testing.T) {
	// 3 images in batches of 2: 2 batches, so validation gets none.
	cfg := testConfig(createPlantVillageDir(t, 2, 1))
	cfg.PrefetchBuffer = 0
	ds, err := CreateDatasets(cfg)
	require.NoError(t, err)
	defer ds.Done()
	assert.Len(t, ds.BatchIndices[SplitTrain], 1)
	assert.Empty(t, ds.BatchIndices[SplitValidation])
	assert.Len(t, ds.BatchIndices[SplitTest], 1)
	assert.Empty(t, batchIndices(t, ds.Validation))
}

func TestManifest(t *testing.T) {
	perClass := []int{8, 7, 5}
	cfg := testConfig(createPlantVillageDir(t, perClass...))
	cfg.CacheInMemory = false
	ds, err := CreateDatasets(cfg)
	require.NoError(t, err)
	defer ds.Done()

	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, ds))
	assert.Contains(t, buf.String(), "split,batch,path,label,class\n")

	manifest, err := ReadManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, 20, manifest.Nrow())
	classes := manifest.Col(ColumnClass).Records()
	labels, err := manifest.Col(ColumnLabel).Int()
	require.NoError(t, err)
	for ii, label := range labels {
		assert.Equal(t, testClasses[label], classes[ii])
	}

	counts, err := ClassCounts(manifest, len(testClasses))
	require.NoError(t, err)
	total := make([]int, len(testClasses))
	numImages := make(map[string]int)
	for split, splitCounts := range counts {
		for label, count := range splitCounts {
			total[label] += count
			numImages[split] += count
		}
	}
	assert.Equal(t, perClass, total)
	assert.Equal(t, 16, numImages[SplitTrain])
	assert.Equal(t, 2, numImages[SplitValidation])
	assert.Equal(t, 2, numImages[SplitTest])

	_, err = ReadManifest(bytes.NewBufferString("split,path\ntrain,a.png\n"))
	require.Error(t, err)
}

func TestTrainChannelStats(t *testing.T) {
	dir := createPlantVillageDir(t, 10, 10)
	var means [][]float64
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Uint8} {
		cfg := testConfig(dir)
		cfg.DType = dtype
		ds, err := CreateDatasets(cfg)
		require.NoError(t, err)
		mean, stddev, err := ds.TrainChannelStats()
		ds.Done()
		require.NoErrorf(t, err, "dtype=%s", dtype)
		require.NoError(t, mean.Shape().Check(dtypes.Float64, 3))
		values := tensors.CopyFlatData[float64](mean)
		// Green and blue are the same in every image.
		assert.InDeltaSlice(t, []float64{120.0 / 255, 30.0 / 255}, values[1:], 1e-6)
		assert.InDeltaSlice(t, []float64{0, 0}, tensors.CopyFlatData[float64](stddev)[1:], 1e-6)
		means = append(means, values)
	}
	assert.InDeltaSlice(t, means[0], means[1], 1e-6)
}
