// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package images converts images to tensors and back.
//
// Image tensors are always "channels last": `[height, width, channels]` for a single image and
// `[batch_size, height, width, channels]` for a batch. Channels are R, G, B and optionally A, not
// premultiplied by alpha.
package images

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/core/shapes"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ToTensorConfig configures the conversion of images to a tensor. Create it with ToTensor, and
// convert with Single or Batch.
type ToTensorConfig struct {
	dtype    dtypes.DType
	channels int
	maxValue float64
}

// ToTensor starts the configuration of a conversion of images to a tensor of the given dtype, with 3 channels.
// A fully saturated channel is converted to 1.0 for float dtypes and to 255 for integer dtypes, see MaxValue.
//
// Supported dtypes are Float32, Float64, Float16, Uint8 and Int32.
func ToTensor(dtype dtypes.DType) *ToTensorConfig {
	maxValue := 1.0
	if !dtype.IsFloat() {
		maxValue = 255
	}
	return &ToTensorConfig{dtype: dtype, channels: 3, maxValue: maxValue}
}

// WithAlpha includes the alpha channel, so the tensor has 4 channels.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	return tt.Channels(4)
}

// Channels sets the number of channels: 3 (RGB) or 4 (RGBA). Any other value panics.
func (tt *ToTensorConfig) Channels(n int) *ToTensorConfig {
	if n != 3 && n != 4 {
		exceptions.Panicf("images.ToTensor: only 3 or 4 channels are supported, got %d", n)
	}
	tt.channels = n
	return tt
}

// MaxValue sets the value of a fully saturated channel. Use 255 to keep the 8 bits pixel values in a float tensor.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// Single converts img to a tensor shaped `[height, width, channels]`. It panics on error.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	return tt.convert([]image.Image{img}, false)
}

// Batch converts imgs, all with the same size, to a tensor shaped `[batch_size, height, width, channels]`.
// It panics on error, including an empty list of images.
func (tt *ToTensorConfig) Batch(imgs []image.Image) *tensors.Tensor {
	return tt.convert(imgs, true)
}

func (tt *ToTensorConfig) convert(imgs []image.Image, batch bool) *tensors.Tensor {
	if len(imgs) == 0 {
		exceptions.Panicf("images.ToTensor: no images given")
	}
	size := imgs[0].Bounds().Size()
	scale := tt.maxValue / 255
	values := make([]float64, 0, len(imgs)*size.X*size.Y*tt.channels)
	for ii, img := range imgs {
		if !img.Bounds().Size().Eq(size) {
			exceptions.Panicf("images.ToTensor: image #%d has size %s, but image #0 has size %s, they must all be the same",
				ii, img.Bounds().Size(), size)
		}
		nrgba := imaging.Clone(img)
		for y := range size.Y {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*size.X]
			for x := range size.X {
				for _, v := range row[4*x : 4*x+tt.channels] {
					values = append(values, float64(v)*scale)
				}
			}
		}
	}

	dims := []int{size.Y, size.X, tt.channels}
	if batch {
		dims = append([]int{len(imgs)}, dims...)
	}
	t := tensors.FromShape(shapes.Make(tt.dtype, dims...))
	switch tt.dtype {
	case dtypes.Float32:
		tensors.MutableFlatData(t, func(flat []float32) { fillFloats(flat, values) })
	case dtypes.Float64:
		tensors.MutableFlatData(t, func(flat []float64) { fillFloats(flat, values) })
	case dtypes.Float16:
		tensors.MutableFlatData(t, func(flat []float16.Float16) {
			for ii, v := range values {
				flat[ii] = float16.Fromfloat32(float32(v))
			}
		})
	case dtypes.Uint8:
		tensors.MutableFlatData(t, func(flat []uint8) { fillIntegers(flat, values) })
	case dtypes.Int32:
		tensors.MutableFlatData(t, func(flat []int32) { fillIntegers(flat, values) })
	default:
		exceptions.Panicf("images.ToTensor: dtype %s not supported", tt.dtype)
	}
	return t
}

func fillFloats[T constraints.Float](flat []T, values []float64) {
	for ii, v := range values {
		flat[ii] = T(v)
	}
}

func fillIntegers[T constraints.Integer](flat []T, values []float64) {
	for ii, v := range values {
		flat[ii] = T(math.Round(v))
	}
}

// ToImageConfig configures the conversion of a tensor to images. Create it with ToImage, and
// convert with Single or Batch.
type ToImageConfig struct {
	maxValue float64
}

// ToImage starts the configuration of a conversion of a tensor to `*image.NRGBA` images.
func ToImage() *ToImageConfig {
	return &ToImageConfig{}
}

// MaxValue sets the value of a fully saturated channel. It defaults to 1.0 for float dtypes
// and 255 for integer dtypes. Values outside of [0, MaxValue] are clipped.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// Single converts a tensor shaped `[height, width, channels]` to an image. It panics on error.
func (ti *ToImageConfig) Single(t *tensors.Tensor) image.Image {
	if t.Rank() != 3 {
		exceptions.Panicf("images.ToImage.Single: tensor shape %s must be [height, width, channels]", t.Shape())
	}
	return ti.convert(t, 1, t.Shape().Dimensions)[0]
}

// Batch converts a tensor shaped `[batch_size, height, width, channels]` to images. It panics on error.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) []image.Image {
	if t.Rank() != 4 {
		exceptions.Panicf("images.ToImage.Batch: tensor shape %s must be [batch_size, height, width, channels]", t.Shape())
	}
	dims := t.Shape().Dimensions
	return ti.convert(t, dims[0], dims[1:])
}

func (ti *ToImageConfig) convert(t *tensors.Tensor, numImages int, imageDims []int) []image.Image {
	height, width, channels := imageDims[0], imageDims[1], imageDims[2]
	if channels != 3 && channels != 4 {
		exceptions.Panicf("images.ToImage: tensor shape %s has %d channels, only 3 or 4 are supported", t.Shape(), channels)
	}
	maxValue := ti.maxValue
	if maxValue == 0 {
		maxValue = 255
		if t.DType().IsFloat() {
			maxValue = 1
		}
	}

	var values []float64
	switch t.DType() {
	case dtypes.Float32:
		tensors.ConstFlatData(t, func(flat []float32) { values = widen(flat) })
	case dtypes.Float64:
		tensors.ConstFlatData(t, func(flat []float64) { values = widen(flat) })
	case dtypes.Float16:
		tensors.ConstFlatData(t, func(flat []float16.Float16) {
			values = make([]float64, len(flat))
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		})
	case dtypes.Uint8:
		tensors.ConstFlatData(t, func(flat []uint8) { values = widen(flat) })
	case dtypes.Int32:
		tensors.ConstFlatData(t, func(flat []int32) { values = widen(flat) })
	default:
		exceptions.Panicf("images.ToImage: dtype %s not supported", t.DType())
	}

	imgs := make([]image.Image, numImages)
	pos := 0
	for ii := range imgs {
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := range height {
			row := img.Pix[y*img.Stride : y*img.Stride+4*width]
			for x := range width {
				px := row[4*x : 4*x+4]
				px[3] = 255
				for c := range channels {
					px[c] = uint8(max(0, min(255, math.Round(255*values[pos]/maxValue))))
					pos++
				}
			}
		}
		imgs[ii] = img
	}
	return imgs
}

func widen[T constraints.Integer | constraints.Float](flat []T) []float64 {
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values
}
