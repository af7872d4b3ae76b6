// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"image"
	"io"
	"math/rand"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/core/tensors/images"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/leafscan/leafscan/pkg/support/fsutil"
	"github.com/leafscan/leafscan/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImageExtensions are the file extensions (lower-case) recognized as images by ImageDir.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// ImageFile is one image found by ImageDir.
type ImageFile struct {
	Path  string
	Label int32
	Bytes int64
}

// BatchSpec is the `spec` yielded by ImageDir with each batch: it identifies the batch and the files in it.
type BatchSpec struct {
	// Index of the batch in the ImageDir, before any Subset or reordering.
	Index int
	Files []ImageFile
}

// ImageDirConfig configures an ImageDir. Create it with NewImageDir, configure it, and then call Load.
type ImageDirConfig struct {
	dir         string
	name        string
	batchSize   int
	height      int
	width       int
	channels    int
	dtype       dtypes.DType
	shuffle     bool
	seed        int64
	parallelism int
}

// NewImageDir creates the configuration of an ImageDir dataset reading from `dir`: each sub-directory
// of `dir` is a class (named after the sub-directory, in lexicographic order), and holds the images of that class.
//
// The defaults are batches of 32 images resized to 256x256, with 3 channels in Float32 with values from 0 to 255,
// and files shuffled once with seed 123.
func NewImageDir(dir string) *ImageDirConfig {
	return &ImageDirConfig{
		dir:         dir,
		name:        filepath.Base(dir),
		batchSize:   32,
		height:      256,
		width:       256,
		channels:    3,
		dtype:       dtypes.Float32,
		shuffle:     true,
		seed:        123,
		parallelism: runtime.NumCPU(),
	}
}

// WithName sets the dataset name. It defaults to the base name of the directory.
func (c *ImageDirConfig) WithName(name string) *ImageDirConfig {
	c.name = name
	return c
}

// BatchSize sets the number of images per batch. The last batch may be smaller.
func (c *ImageDirConfig) BatchSize(n int) *ImageDirConfig {
	c.batchSize = n
	return c
}

// ImageSize sets the height and width images are resized to.
func (c *ImageDirConfig) ImageSize(height, width int) *ImageDirConfig {
	c.height, c.width = height, width
	return c
}

// Channels sets the number of channels: 3 (RGB) or 4 (RGBA).
func (c *ImageDirConfig) Channels(n int) *ImageDirConfig {
	c.channels = n
	return c
}

// DType sets the dtype of the images tensor. Values always range from 0 to 255.
func (c *ImageDirConfig) DType(dtype dtypes.DType) *ImageDirConfig {
	c.dtype = dtype
	return c
}

// Shuffle the list of files once, when loading, with the given seed.
func (c *ImageDirConfig) Shuffle(seed int64) *ImageDirConfig {
	c.shuffle = true
	c.seed = seed
	return c
}

// NoShuffle keeps the files sorted by class and path.
func (c *ImageDirConfig) NoShuffle() *ImageDirConfig {
	c.shuffle = false
	return c
}

// Parallelism sets the number of images decoded in parallel. It defaults to the number of cores.
func (c *ImageDirConfig) Parallelism(n int) *ImageDirConfig {
	c.parallelism = n
	return c
}

// Load lists the images of the directory and returns the ImageDir dataset. Images are only decoded when
// the batches are yielded.
func (c *ImageDirConfig) Load() (*ImageDir, error) {
	if c.batchSize <= 0 {
		return nil, errors.Errorf("ImageDir(%q): invalid batch size %d", c.dir, c.batchSize)
	}
	if c.height <= 0 || c.width <= 0 {
		return nil, errors.Errorf("ImageDir(%q): invalid image size %dx%d", c.dir, c.height, c.width)
	}
	if c.channels != 3 && c.channels != 4 {
		return nil, errors.Errorf("ImageDir(%q): only 3 or 4 channels supported, got %d", c.dir, c.channels)
	}
	dir, err := fsutil.ReplaceTildeInDir(c.dir)
	if err != nil {
		return nil, err
	}
	classNames, err := fsutil.SubDirs(dir)
	if err != nil {
		return nil, err
	}
	if len(classNames) == 0 {
		return nil, errors.Errorf("ImageDir(%q): no class sub-directories found", dir)
	}
	ds := &ImageDir{
		config:     *c,
		classNames: classNames,
	}
	ds.config.dir = dir
	for label, className := range classNames {
		paths, sizes, err := fsutil.FilesWithExtensions(filepath.Join(dir, className), ImageExtensions...)
		if err != nil {
			return nil, err
		}
		for ii, path := range paths {
			ds.files = append(ds.files, ImageFile{Path: path, Label: int32(label), Bytes: sizes[ii]})
			ds.totalBytes += sizes[ii]
		}
	}
	if c.shuffle {
		rng := rand.New(rand.NewSource(c.seed))
		rng.Shuffle(len(ds.files), func(i, j int) { ds.files[i], ds.files[j] = ds.files[j], ds.files[i] })
	}
	numBatches := (len(ds.files) + c.batchSize - 1) / c.batchSize
	ds.order = make([]int, numBatches)
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	klog.V(1).Infof("ImageDir(%q): found %d files in %d classes, %d batches", dir, len(ds.files),
		len(classNames), numBatches)
	return ds, nil
}

// ImageDir is a train.Dataset that reads images from a directory with one sub-directory per class.
//
// It yields `inputs[0]` with the images shaped `[batch_size, height, width, channels]`, `labels[0]` with the
// class ids shaped `(Int32)[batch_size]`, and a *BatchSpec as `spec`.
//
// It implements train.HasNumBatches, datasets.Cloner and datasets.BatchSkipper.
type ImageDir struct {
	config     ImageDirConfig
	classNames []string
	files      []ImageFile
	totalBytes int64

	// order holds the indices of the batches yielded, in order.
	order []int

	mu        sync.Mutex
	next      int
	reshuffle *rand.Rand
}

// Name implements train.Dataset.
func (ds *ImageDir) Name() string { return ds.config.name }

// ClassNames returns a copy of the names of the classes, indexed by label.
func (ds *ImageDir) ClassNames() []string { return slices.Clone(ds.classNames) }

// NumClasses returns the number of classes.
func (ds *ImageDir) NumClasses() int { return len(ds.classNames) }

// NumFiles returns the number of images in the directory, including those in batches excluded by Subset.
func (ds *ImageDir) NumFiles() int { return len(ds.files) }

// Files returns a copy of the list of all the images in the directory, in load order.
func (ds *ImageDir) Files() []ImageFile { return slices.Clone(ds.files) }

// TotalBytes returns the sum of the sizes of the image files.
func (ds *ImageDir) TotalBytes() int64 { return ds.totalBytes }

// BatchSize returns the configured number of images per batch.
func (ds *ImageDir) BatchSize() int { return ds.config.batchSize }

// NumBatches implements train.HasNumBatches.
func (ds *ImageDir) NumBatches() int { return len(ds.order) }

// BatchIndices returns the indices of the batches yielded by this dataset, in order.
func (ds *ImageDir) BatchIndices() []int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]int{}, ds.order...)
}

// FilesInBatch returns a copy of the files of the batch with the given index (before any Subset).
func (ds *ImageDir) FilesInBatch(batchIdx int) []ImageFile {
	return slices.Clone(ds.batchFiles(batchIdx))
}

// batchFiles returns the files of the batch, sharing the underlying array of ds.files (shared with clones
// and subsets): it must not be modified.
func (ds *ImageDir) batchFiles(batchIdx int) []ImageFile {
	start := batchIdx * ds.config.batchSize
	if batchIdx < 0 || start >= len(ds.files) {
		return nil
	}
	end := min(start+ds.config.batchSize, len(ds.files))
	return ds.files[start:end]
}

// Subset returns a new ImageDir with the given name that yields only the batches with the given indices,
// in the given order. The files are shared.
func (ds *ImageDir) Subset(name string, batchIndices []int) (*ImageDir, error) {
	numBatches := (len(ds.files) + ds.config.batchSize - 1) / ds.config.batchSize
	for _, idx := range batchIndices {
		if idx < 0 || idx >= numBatches {
			return nil, errors.Errorf("ImageDir(%q).Subset: batch index %d out of range (%d batches)",
				ds.config.name, idx, numBatches)
		}
	}
	subset := &ImageDir{
		config:     ds.config,
		classNames: ds.classNames,
		files:      ds.files,
		totalBytes: ds.totalBytes,
		order:      append([]int{}, batchIndices...),
	}
	subset.config.name = name
	return subset, nil
}

// ReshuffleBatches makes the dataset yield its batches in a new random order at every pass (after each Reset),
// without buffering decoded images. The sequence of orders is determined by seed.
//
// It returns the ImageDir, so calls can be cascaded.
func (ds *ImageDir) ReshuffleBatches(seed int64) *ImageDir {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.reshuffle = rand.New(rand.NewSource(seed))
	ds.lockedShuffleOrder()
	return ds
}

func (ds *ImageDir) lockedShuffleOrder() {
	ds.reshuffle.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
}

// Reset implements train.Dataset.
func (ds *ImageDir) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = 0
	if ds.reshuffle != nil {
		ds.lockedShuffleOrder()
	}
}

// SkipBatches implements datasets.BatchSkipper.
func (ds *ImageDir) SkipBatches(n int) (int, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	skipped := min(n, len(ds.order)-ds.next)
	ds.next += skipped
	return skipped, nil
}

// Clone implements datasets.Cloner. The clone yields the same batches, from the start, in the current order.
func (ds *ImageDir) Clone() (train.Dataset, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.Subset(ds.config.name, ds.order)
}

// Yield implements train.Dataset. It is safe for concurrent use.
func (ds *ImageDir) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	if ds.next >= len(ds.order) {
		ds.mu.Unlock()
		err = io.EOF
		return
	}
	batchIdx := ds.order[ds.next]
	ds.next++
	ds.mu.Unlock()

	files := ds.batchFiles(batchIdx)
	imgs, err := ds.decodeImages(files)
	if err != nil {
		return
	}
	labelValues := make([]int32, len(files))
	for ii, f := range files {
		labelValues[ii] = f.Label
	}
	err = exceptions.TryCatch[error](func() {
		imagesTensor := images.ToTensor(ds.config.dtype).Channels(ds.config.channels).MaxValue(255).Batch(imgs)
		inputs = []*tensors.Tensor{imagesTensor}
	})
	if err != nil {
		err = errors.WithMessagef(err, "while converting batch %d of %q to tensor", batchIdx, ds.config.name)
		return
	}
	labels = []*tensors.Tensor{tensors.FromValues(labelValues)}
	spec = &BatchSpec{Index: batchIdx, Files: slices.Clone(files)}
	return
}

// decodeImages reads and resizes the images in parallel, preserving their order.
func (ds *ImageDir) decodeImages(files []ImageFile) ([]image.Image, error) {
	imgs := make([]image.Image, len(files))
	errs := make([]error, len(files))
	sem := xsync.NewSemaphore(ds.config.parallelism)
	var wg sync.WaitGroup
	for ii, f := range files {
		sem.Go(&wg, func() {
			imgs[ii], errs[ii] = LoadImage(f.Path, ds.config.height, ds.config.width)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return imgs, nil
}

// LoadImage decodes the image file and resizes it (bilinear, without preserving the aspect ratio)
// to the given height and width.
func LoadImage(path string, height, width int) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	size := img.Bounds().Size()
	if size.X != width || size.Y != height {
		img = imaging.Resize(img, width, height, imaging.Linear)
	}
	return img, nil
}

// String returns a summary of the dataset.
func (ds *ImageDir) String() string {
	return fmt.Sprintf("ImageDir(%q): %d classes, %d files, %d batches of %d images %dx%dx%d",
		ds.config.name, len(ds.classNames), len(ds.files), len(ds.order), ds.config.batchSize,
		ds.config.height, ds.config.width, ds.config.channels)
}
