// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// leafscan prepares the PlantVillage leaf disease dataset for training: it partitions the images into train,
// validation and test splits, reports the partitions, and optionally writes a manifest of the splits,
// a grid of sample images and a plot of the class distribution per split.
//
// Example:
//
//	leafscan -data ~/work/PlantVillage -manifest splits.csv -samples samples.png -verify
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/janpfeifer/must"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/datasets"
	"github.com/leafscan/leafscan/plantvillage"
	"github.com/leafscan/leafscan/ui/commandline"
	"github.com/leafscan/leafscan/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var defaults = plantvillage.DefaultConfig("~/work/PlantVillage")

var (
	flagDataDir       = flag.String("data", defaults.DataDir, "Directory with one sub-directory of images per class.")
	flagBatchSize     = flag.Int("batch", defaults.BatchSize, "Number of images per batch.")
	flagImageSize     = flag.Int("image_size", defaults.ImageSize, "Images are resized to image_size x image_size.")
	flagChannels      = flag.Int("channels", defaults.Channels, "Number of channels of the images: 3 (RGB) or 4 (RGBA).")
	flagEpochs        = flag.Int("epochs", defaults.Epochs, "Number of epochs to train for.")
	flagTrain         = flag.Float64("train", defaults.Fractions.Train, "Fraction of the batches used for training.")
	flagValidation    = flag.Float64("val", defaults.Fractions.Validation, "Fraction of the batches used for validation.")
	flagTest          = flag.Float64("test", defaults.Fractions.Test, "Fraction of the batches used for testing.")
	flagShuffle       = flag.Bool("shuffle", defaults.Shuffle, "Shuffle the batches before partitioning.")
	flagSeed          = flag.Int64("seed", defaults.ShuffleSeed, "Seed used to shuffle the batches before partitioning.")
	flagShuffleBuffer = flag.Int("shuffle_buffer", defaults.ShuffleBufferSize, "Size of the shuffle buffer, in batches. 0 shuffles fully.")
	flagLoadSeed      = flag.Int64("load_seed", defaults.LoadSeed, "Seed used to shuffle the image files when loading.")
	flagCache         = flag.Bool("cache", defaults.CacheInMemory, "Cache the decoded images in memory.")
	flagAugment       = flag.Bool("augment", defaults.Augment, "Augment the train images with random flips and rotations.")

	flagManifest     = flag.String("manifest", "", "If set, write a CSV with the split of every image to this file.")
	flagSamples      = flag.String("samples", "", "If set, write a PNG with a grid of sample train images to this file.")
	flagDistribution = flag.String("distribution", "", "If set, write a PNG plot of the class distribution of each split to this file.")
	flagVerify       = flag.Bool("verify", false, "Read a full pass of each split, and report their statistics.")
	flagNoColors     = flag.Bool("no_colors", false, "Disable colors in the terminal output.")
	flagProgress     = flag.Bool("progress", true, "Display progress bars.")
)

func main() {
	flagSettings := commandline.CreateSettingsFlag(defaults.Settings(), "set")
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColors {
		commandline.DisableColors()
	}

	cfg := configFromFlags(*flagSettings)
	must.M(cfg.Validate())
	klog.V(1).Infof("Configuration:\n%s", commandline.Settings(cfg.Settings()))

	ds := must.M1(plantvillage.CreateDatasets(cfg))
	defer ds.Done()
	fmt.Println(ds)
	must.M(commandline.ReportPartitions(os.Stdout, ds.Partitions))
	klog.Infof("Datasets ready to train for %d epochs", cfg.Epochs)

	if *flagManifest != "" {
		check(writeFile(*flagManifest, func(f *os.File) error { return plantvillage.WriteManifest(f, ds) }))
		klog.Infof("Manifest written to %q", *flagManifest)
	}
	if *flagDistribution != "" {
		check(writeFile(*flagDistribution, func(f *os.File) error { return writeDistribution(f, ds) }))
		klog.Infof("Class distribution written to %q", *flagDistribution)
	}
	if *flagSamples != "" {
		check(writeFile(*flagSamples, func(f *os.File) error { return writeSamples(f, ds) }))
		klog.Infof("Sample images written to %q", *flagSamples)
	}
	if *flagVerify {
		check(verify(ds))
	}
}

// configFromFlags applies the flags, and then the "-set" settings, to the default configuration.
func configFromFlags(settingsList string) plantvillage.Config {
	cfg := defaults
	cfg.DataDir = *flagDataDir
	cfg.BatchSize = *flagBatchSize
	cfg.ImageSize = *flagImageSize
	cfg.Channels = *flagChannels
	cfg.Epochs = *flagEpochs
	cfg.Fractions = datasets.Fractions{Train: *flagTrain, Validation: *flagValidation, Test: *flagTest}
	cfg.Shuffle = *flagShuffle
	cfg.ShuffleSeed = *flagSeed
	cfg.ShuffleBufferSize = *flagShuffleBuffer
	cfg.LoadSeed = *flagLoadSeed
	cfg.CacheInMemory = *flagCache
	cfg.Augment = *flagAugment
	cfg.ShowProgress = *flagProgress

	settings := commandline.Settings(cfg.Settings())
	paramsSet := must.M1(commandline.ParseSettings(settings, settingsList))
	if len(paramsSet) > 0 {
		klog.V(1).Infof("Parameters set: %v", paramsSet)
		must.M(cfg.ApplySettings(settings))
	}
	return cfg
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	if err = write(f); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "while writing %q", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", path)
}

func writeDistribution(f *os.File, ds *plantvillage.Datasets) error {
	counts, err := plantvillage.ClassCounts(plantvillage.Manifest(ds), len(ds.ClassNames()))
	if err != nil {
		return err
	}
	var series []plots.Series
	for _, split := range plantvillage.Splits {
		series = append(series, plots.Series{Name: split, Counts: counts[split]})
	}
	return plots.ClassDistribution(f, "PlantVillage: images per class", ds.ClassNames(), series...)
}

// writeSamples draws the images of the first train batch.
func writeSamples(f *os.File, ds *plantvillage.Datasets) error {
	_, inputs, labels, err := ds.Train.Yield()
	if err != nil {
		return errors.WithMessage(err, "failed to read a train batch")
	}
	ds.Train.Reset()
	return plots.SampleGridFromBatch(f, inputs[0], labels[0], ds.ClassNames(), 3, 4, 255)
}

// verify reads a full pass of each split, and reports the per-channel statistics of the train images.
func verify(ds *plantvillage.Datasets) error {
	for _, split := range ds.All() {
		stats, err := commandline.Pass(split, *flagProgress)
		if err != nil {
			return err
		}
		fmt.Println(stats)
	}
	mean, stddev, err := ds.TrainChannelStats()
	if err != nil {
		return err
	}
	fmt.Printf("Train images (rescaled to [0, 1]): mean=%v, stddev=%v\n",
		tensors.CopyFlatData[float64](mean), tensors.CopyFlatData[float64](stddev))
	return nil
}

// check reports and exits on error.
func check(err error) {
	if err != nil {
		klog.Fatalf("Fatal error: %+v", err)
	}
}
