// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"image"
	"image/color"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/core/tensors/images"
	"github.com/leafscan/leafscan/pkg/ml/train"
)

// Augmenter randomly transforms images: horizontal and vertical flips (each with probability 0.5), and a
// rotation by a random angle.
//
// It is safe for concurrent use. Create it with NewAugmenter.
type Augmenter struct {
	flipHorizontal, flipVertical bool

	// rotationFactor is the maximum rotation, as a fraction of a full turn: the angle is sampled
	// uniformly from [-rotationFactor*360, rotationFactor*360] degrees.
	rotationFactor float64

	// maxValue of a channel in the tensors being augmented.
	maxValue float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAugmenter returns an Augmenter that flips images horizontally and vertically, and rotates them by
// up to 0.2 of a turn (72 degrees) in each direction. The random transformations are determined by seed.
func NewAugmenter(seed int64) *Augmenter {
	return &Augmenter{
		flipHorizontal: true,
		flipVertical:   true,
		rotationFactor: 0.2,
		maxValue:       255,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// WithFlips configures the random horizontal and vertical flips.
func (a *Augmenter) WithFlips(horizontal, vertical bool) *Augmenter {
	a.flipHorizontal, a.flipVertical = horizontal, vertical
	return a
}

// WithRotation sets the maximum rotation as a fraction of a full turn. 0 disables rotations.
func (a *Augmenter) WithRotation(factor float64) *Augmenter {
	a.rotationFactor = factor
	return a
}

// WithMaxValue sets the value of a fully saturated channel in the images tensors. Default is 255.
func (a *Augmenter) WithMaxValue(v float64) *Augmenter {
	a.maxValue = v
	return a
}

// Image returns a randomly transformed copy of img, with the same size.
// Areas uncovered by the rotation are filled with black.
func (a *Augmenter) Image(img image.Image) image.Image {
	a.mu.Lock()
	flipH := a.flipHorizontal && a.rng.Intn(2) == 1
	flipV := a.flipVertical && a.rng.Intn(2) == 1
	var angle float64
	if a.rotationFactor > 0 {
		angle = (2*a.rng.Float64() - 1) * a.rotationFactor * 360
	}
	a.mu.Unlock()

	size := img.Bounds().Size()
	var out image.Image = img
	if flipH {
		out = imaging.FlipH(out)
	}
	if flipV {
		out = imaging.FlipV(out)
	}
	if angle != 0 {
		out = imaging.Rotate(out, angle, color.NRGBA{A: 255})
		out = imaging.CropCenter(out, size.X, size.Y)
	}
	if out == img {
		out = imaging.Clone(img)
	}
	return out
}

// Tensor augments each image of a batch tensor shaped `[batch_size, height, width, channels]`, returning a
// new tensor with the same shape and dtype.
//
// It panics in case of error.
func (a *Augmenter) Tensor(batch *tensors.Tensor) *tensors.Tensor {
	if batch.Rank() != 4 {
		exceptions.Panicf("Augmenter.Tensor requires a batch of images shaped [batch_size, height, width, channels], got %s",
			batch.Shape())
	}
	imgs := images.ToImage().MaxValue(a.maxValue).Batch(batch)
	for ii, img := range imgs {
		imgs[ii] = a.Image(img)
	}
	return images.ToTensor(batch.DType()).Channels(batch.Shape().Dim(-1)).MaxValue(a.maxValue).Batch(imgs)
}

// Augment returns a dataset that randomly augments the images in `inputs[0]` of every batch of `ds`.
// Use it on the training data only.
func Augment(ds train.Dataset, augmenter *Augmenter) train.Dataset {
	return Map(ds, func(inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, []*tensors.Tensor) {
		if len(inputs) == 0 {
			exceptions.Panicf("data.Augment requires the images in inputs[0], but the batch has no inputs")
		}
		mapped := append([]*tensors.Tensor{augmenter.Tensor(inputs[0])}, inputs[1:]...)
		return mapped, labels
	})
}
