// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package plantvillage

import (
	"fmt"

	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/data"
	"github.com/leafscan/leafscan/pkg/ml/datasets"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/leafscan/leafscan/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Split names, in the order of the partitions.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Splits lists the split names in order.
var Splits = []string{SplitTrain, SplitValidation, SplitTest}

// Datasets holds the train, validation and test datasets of the PlantVillage pipeline.
type Datasets struct {
	Config Config

	// Source is the directory of images, with all its batches.
	Source *data.ImageDir

	// Partitions are the views of the partitioned batches, before the per-split transformations
	// (train reshuffle, augmentation and prefetching). The final datasets read independent clones of
	// these views, so they can be read concurrently with them.
	Partitions *datasets.Partitions

	// Train, Validation and Test are the final datasets, ready to be consumed.
	Train, Validation, Test train.Dataset

	// BatchIndices of the Source batches assigned to each split, indexed by split name.
	BatchIndices map[string][]int

	prefetchers []*datasets.ParallelDataset
}

// ClassNames returns the names of the classes, indexed by label.
func (ds *Datasets) ClassNames() []string { return ds.Source.ClassNames() }

// All returns the final train, validation and test datasets, in this order.
func (ds *Datasets) All() []train.Dataset {
	return []train.Dataset{ds.Train, ds.Validation, ds.Test}
}

// Done stops the background goroutines prefetching batches. The datasets must not be used afterward.
func (ds *Datasets) Done() {
	for _, pd := range ds.prefetchers {
		pd.Done()
	}
	ds.prefetchers = nil
}

// TrainChannelStats returns the per-channel mean and standard deviation of the train images, with pixel
// values in the [0, 1] range, whatever the configured dtype. It reads one pass of Partitions.Train.
func (ds *Datasets) TrainChannelStats() (mean, stddev *tensors.Tensor, err error) {
	return data.ScaledChannelStats(ds.Partitions.Train, 1.0/255)
}

// CreateDatasets loads the image directory configured in cfg, partitions its batches into train,
// validation and test, and builds the dataset of each split:
//
//   - With cfg.CacheInMemory, all batches are decoded once into memory and partitioned with a
//     datasets.Partitioner. The train split is then reshuffled at every epoch with a shuffle buffer of
//     cfg.TrainShuffleBuffer batches.
//   - Otherwise, the batch indices are partitioned with the same algorithm (so the splits are identical),
//     and each split decodes its images on demand. The train split is reshuffled at every epoch by index.
//
// The train split is augmented if cfg.Augment is set, and all splits are prefetched with cfg.PrefetchBuffer.
// Call Datasets.Done when finished, to stop the prefetching goroutines.
func CreateDatasets(cfg Config) (*Datasets, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dataDir, err := fsutil.ReplaceTildeInDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	dirConfig := data.NewImageDir(dataDir).
		WithName("PlantVillage").
		BatchSize(cfg.BatchSize).
		ImageSize(cfg.ImageSize, cfg.ImageSize).
		Channels(cfg.Channels).
		DType(cfg.DType)
	if cfg.LoadShuffle {
		dirConfig.Shuffle(cfg.LoadSeed)
	} else {
		dirConfig.NoShuffle()
	}
	source, err := dirConfig.Load()
	if err != nil {
		return nil, err
	}
	if source.NumFiles() == 0 {
		return nil, errors.Errorf("plantvillage: no images found in %q", dataDir)
	}
	klog.Infof("Found %d images of %d classes in %q: %d batches", source.NumFiles(), source.NumClasses(),
		dataDir, source.NumBatches())

	f := cfg.Fractions
	partitioner := datasets.NewPartitioner().WithFractions(f.Train, f.Validation, f.Test)
	if cfg.Shuffle {
		partitioner.WithShuffle(cfg.ShuffleSeed, cfg.ShuffleBufferSize)
	} else {
		partitioner.WithoutShuffle()
	}
	trainIdx, validationIdx, testIdx, err := datasets.PartitionIndices(partitioner, source.NumBatches())
	if err != nil {
		return nil, err
	}
	ds := &Datasets{
		Config: cfg,
		Source: source,
		BatchIndices: map[string][]int{
			SplitTrain:      trainIdx,
			SplitValidation: validationIdx,
			SplitTest:       testIdx,
		},
	}

	var trainDS train.Dataset
	if cfg.CacheInMemory {
		cached, err := datasets.InMemory(source, cfg.ShowProgress)
		if err != nil {
			return nil, errors.WithMessagef(err, "while caching %q in memory", source.Name())
		}
		ds.Partitions, err = partitioner.Partition(cached)
		if err != nil {
			return nil, err
		}
		trainDS, err = datasets.Clone(ds.Partitions.Train)
		if err != nil {
			return nil, err
		}
		if cfg.TrainShuffleBuffer > 0 {
			trainDS = datasets.Shuffle(trainDS, cfg.TrainShuffleBuffer, cfg.ShuffleSeed).ReshuffleEachIteration(true)
		}
	} else {
		ds.Partitions = &datasets.Partitions{Fractions: partitioner.Fractions()}
		var trainSubset *data.ImageDir
		for _, split := range []struct {
			name string
			view *train.Dataset
		}{
			{SplitTrain, &ds.Partitions.Train},
			{SplitValidation, &ds.Partitions.Validation},
			{SplitTest, &ds.Partitions.Test},
		} {
			subset, err := source.Subset(fmt.Sprintf("%s [%s]", source.Name(), split.name), ds.BatchIndices[split.name])
			if err != nil {
				return nil, err
			}
			if subset.NumBatches() == 0 {
				klog.Warningf("partition %q of dataset %q is empty (%d batches in total, fractions %s)",
					split.name, source.Name(), source.NumBatches(), cfg.Fractions)
			}
			if split.name == SplitTrain {
				trainSubset = subset
			}
			*split.view = subset
		}
		clone, err := trainSubset.Clone()
		if err != nil {
			return nil, err
		}
		trainDS = clone
		if cfg.TrainShuffleBuffer > 0 {
			trainDS = clone.(*data.ImageDir).ReshuffleBatches(cfg.ShuffleSeed)
		}
	}

	if cfg.Augment {
		trainDS = data.Augment(trainDS, data.NewAugmenter(cfg.ShuffleSeed).WithRotation(cfg.AugmentRotation))
	}
	ds.Train = ds.prefetch(trainDS)
	for _, split := range []struct {
		view train.Dataset
		final *train.Dataset
	}{
		{ds.Partitions.Validation, &ds.Validation},
		{ds.Partitions.Test, &ds.Test},
	} {
		clone, err := datasets.Clone(split.view)
		if err != nil {
			return nil, err
		}
		*split.final = ds.prefetch(clone)
	}
	return ds, nil
}

func (ds *Datasets) prefetch(split train.Dataset) train.Dataset {
	if ds.Config.PrefetchBuffer <= 0 {
		return split
	}
	pd := datasets.ReadAhead(split, ds.Config.PrefetchBuffer)
	ds.prefetchers = append(ds.prefetchers, pd)
	return pd
}

// String returns a one line summary of the datasets.
func (ds *Datasets) String() string {
	return fmt.Sprintf("%s: %d classes, %d images, batches train=%d validation=%d test=%d",
		ds.Source.Name(), ds.Source.NumClasses(), ds.Source.NumFiles(),
		len(ds.BatchIndices[SplitTrain]), len(ds.BatchIndices[SplitValidation]), len(ds.BatchIndices[SplitTest]))
}
