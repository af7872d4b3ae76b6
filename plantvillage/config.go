// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package plantvillage builds the input pipeline of the PlantVillage leaf disease classifier: it loads
// a directory with one sub-directory of images per class, partitions its batches into train, validation
// and test datasets, and prepares each of them for training or evaluation.
package plantvillage

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/ml/datasets"
	"github.com/pkg/errors"
)

// Config holds all the parameters of the pipeline.
type Config struct {
	// DataDir has one sub-directory per class. A leading "~" is replaced by the home directory.
	DataDir string

	BatchSize int
	ImageSize int
	Channels  int
	DType     dtypes.DType

	// Epochs is used by the training loop consuming the datasets, and only reported here.
	Epochs int

	// LoadShuffle shuffles the list of files once, when loading, with LoadSeed.
	LoadShuffle bool
	LoadSeed    int64

	// Fractions of the batches assigned to train, validation and test.
	Fractions datasets.Fractions

	// Shuffle the batches before partitioning, with a buffer of ShuffleBufferSize batches and ShuffleSeed.
	Shuffle           bool
	ShuffleSeed       int64
	ShuffleBufferSize int

	// CacheInMemory holds all the decoded batches in memory after the first read.
	CacheInMemory bool

	// TrainShuffleBuffer is the buffer used to reshuffle the train batches at every epoch. 0 disables it.
	// When not caching in memory, the train batches are instead reshuffled by index, without a buffer.
	TrainShuffleBuffer int

	// PrefetchBuffer is the number of batches prepared in the background. 0 disables prefetching.
	PrefetchBuffer int

	// Augment the train images with random flips and rotations of up to AugmentRotation of a turn.
	Augment         bool
	AugmentRotation float64

	// ShowProgress displays progress bars while caching.
	ShowProgress bool
}

// DefaultConfig returns the configuration of the original PlantVillage notebook, reading from dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		BatchSize:          32,
		ImageSize:          256,
		Channels:           3,
		DType:              dtypes.Float32,
		Epochs:             50,
		LoadShuffle:        true,
		LoadSeed:           123,
		Fractions:          datasets.DefaultFractions,
		Shuffle:            true,
		ShuffleSeed:        datasets.DefaultShuffleSeed,
		ShuffleBufferSize:  datasets.DefaultShuffleBufferSize,
		CacheInMemory:      true,
		TrainShuffleBuffer: 1000,
		PrefetchBuffer:     4,
		Augment:            false,
		AugmentRotation:    0.2,
	}
}

// SupportedDTypes for the images tensors.
var SupportedDTypes = []dtypes.DType{dtypes.Float32, dtypes.Float64, dtypes.Float16, dtypes.Uint8}

// Validate returns an error if the configuration is invalid. Invalid fractions return an error
// wrapping datasets.ErrInvalidFractions.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("plantvillage: data directory not set")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("plantvillage: invalid batch size %d", c.BatchSize)
	}
	if c.ImageSize <= 0 {
		return errors.Errorf("plantvillage: invalid image size %d", c.ImageSize)
	}
	if c.Channels != 3 && c.Channels != 4 {
		return errors.Errorf("plantvillage: invalid number of channels %d, only 3 or 4 are supported", c.Channels)
	}
	if !isSupportedDType(c.DType) {
		return errors.Errorf("plantvillage: dtype %s not supported, use one of %v", c.DType, SupportedDTypes)
	}
	if c.Epochs < 0 {
		return errors.Errorf("plantvillage: invalid number of epochs %d", c.Epochs)
	}
	if c.PrefetchBuffer < 0 || c.TrainShuffleBuffer < 0 {
		return errors.Errorf("plantvillage: invalid prefetch (%d) or train shuffle (%d) buffer sizes",
			c.PrefetchBuffer, c.TrainShuffleBuffer)
	}
	if c.AugmentRotation < 0 || c.AugmentRotation > 0.5 {
		return errors.Errorf("plantvillage: augment rotation %g must be between 0 and 0.5 of a turn", c.AugmentRotation)
	}
	if err := c.Fractions.Validate(); err != nil {
		return errors.WithMessage(err, "plantvillage")
	}
	return nil
}

func isSupportedDType(dtype dtypes.DType) bool {
	for _, supported := range SupportedDTypes {
		if dtype == supported {
			return true
		}
	}
	return false
}

// ParseDType parses the name of one of the SupportedDTypes, case-insensitive.
func ParseDType(name string) (dtypes.DType, error) {
	for _, dtype := range SupportedDTypes {
		if strings.EqualFold(dtype.String(), name) {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown or unsupported dtype %q, use one of %v", name, SupportedDTypes)
}

// Settings returns the configuration as a map from a parameter name to its value, to be parsed with
// commandline.ParseSettings and applied back with ApplySettings.
func (c Config) Settings() map[string]any {
	return map[string]any{
		"data":                 c.DataDir,
		"batch_size":           c.BatchSize,
		"image_size":           c.ImageSize,
		"channels":             c.Channels,
		"dtype":                c.DType.String(),
		"epochs":               c.Epochs,
		"load_shuffle":         c.LoadShuffle,
		"load_seed":            c.LoadSeed,
		"fractions":            []float64{c.Fractions.Train, c.Fractions.Validation, c.Fractions.Test},
		"shuffle":              c.Shuffle,
		"shuffle_seed":         c.ShuffleSeed,
		"shuffle_buffer":       c.ShuffleBufferSize,
		"cache":                c.CacheInMemory,
		"train_shuffle_buffer": c.TrainShuffleBuffer,
		"prefetch":             c.PrefetchBuffer,
		"augment":              c.Augment,
		"augment_rotation":     c.AugmentRotation,
	}
}

// ApplySettings updates the configuration from a map created by Settings (and possibly modified).
func (c *Config) ApplySettings(settings map[string]any) (err error) {
	fractions := settings["fractions"].([]float64)
	if len(fractions) != 3 {
		return errors.Errorf("plantvillage: 3 fractions (train, validation, test) required, got %v", fractions)
	}
	c.DType, err = ParseDType(settings["dtype"].(string))
	if err != nil {
		return err
	}
	c.DataDir = settings["data"].(string)
	c.BatchSize = settings["batch_size"].(int)
	c.ImageSize = settings["image_size"].(int)
	c.Channels = settings["channels"].(int)
	c.Epochs = settings["epochs"].(int)
	c.LoadShuffle = settings["load_shuffle"].(bool)
	c.LoadSeed = settings["load_seed"].(int64)
	c.Fractions = datasets.Fractions{Train: fractions[0], Validation: fractions[1], Test: fractions[2]}
	c.Shuffle = settings["shuffle"].(bool)
	c.ShuffleSeed = settings["shuffle_seed"].(int64)
	c.ShuffleBufferSize = settings["shuffle_buffer"].(int)
	c.CacheInMemory = settings["cache"].(bool)
	c.TrainShuffleBuffer = settings["train_shuffle_buffer"].(int)
	c.PrefetchBuffer = settings["prefetch"].(int)
	c.Augment = settings["augment"].(bool)
	c.AugmentRotation = settings["augment_rotation"].(float64)
	return nil
}
