// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Rescale returns a dataset that multiplies `inputs[0]` of every batch of `ds` by `scale`.
// A typical use is `Rescale(ds, 1.0/255)`, to bring pixel values to the [0, 1] range.
//
// Only float dtypes are supported: other dtypes make Yield return an error.
func Rescale(ds train.Dataset, scale float64) train.Dataset {
	return Map(ds, func(inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, []*tensors.Tensor) {
		if len(inputs) == 0 {
			exceptions.Panicf("data.Rescale: batch has no inputs")
		}
		mapped := append([]*tensors.Tensor{RescaleTensor(inputs[0], scale)}, inputs[1:]...)
		return mapped, labels
	})
}

// RescaleTensor returns a new tensor with the values of t multiplied by scale. It panics for non-float dtypes.
func RescaleTensor(t *tensors.Tensor, scale float64) *tensors.Tensor {
	out := t.Clone()
	switch t.DType() {
	case dtypes.Float32:
		tensors.MutableFlatData(out, func(flat []float32) {
			for ii := range flat {
				flat[ii] = float32(float64(flat[ii]) * scale)
			}
		})
	case dtypes.Float64:
		tensors.MutableFlatData(out, func(flat []float64) {
			for ii := range flat {
				flat[ii] *= scale
			}
		})
	case dtypes.Float16:
		tensors.MutableFlatData(out, func(flat []float16.Float16) {
			for ii := range flat {
				flat[ii] = float16.Fromfloat32(float32(float64(flat[ii].Float32()) * scale))
			}
		})
	default:
		exceptions.Panicf("data.RescaleTensor: dtype %s not supported, only float dtypes", t.DType())
	}
	return out
}

// ChannelStats reads one pass of `ds` and returns the mean and standard deviation of each channel (last axis)
// of the images in `inputs[0]`. Both are returned as Float64 tensors shaped `[channels]`. `ds` is Reset afterward.
//
// If a channel is constant its stddev is 0: care must be taken before dividing by it.
func ChannelStats(ds train.Dataset) (mean, stddev *tensors.Tensor, err error) {
	return ScaledChannelStats(ds, 1)
}

// ScaledChannelStats is like ChannelStats, but the values are multiplied by `scale` first. Unlike Rescale,
// it accepts integer dtypes: `ScaledChannelStats(ds, 1.0/255)` gives the statistics in the [0, 1] range for
// Uint8 images.
func ScaledChannelStats(ds train.Dataset, scale float64) (mean, stddev *tensors.Tensor, err error) {
	var sum, sumSq []float64
	var count int64
	for {
		var inputs []*tensors.Tensor
		_, inputs, _, err = ds.Yield()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "while computing channel stats of %q", ds.Name())
		}
		if len(inputs) == 0 || inputs[0].Rank() == 0 {
			return nil, nil, errors.Errorf("ChannelStats(%q): batch has no images in inputs[0]", ds.Name())
		}
		values, err := toFloat64(inputs[0])
		if err != nil {
			return nil, nil, err
		}
		channels := inputs[0].Shape().Dim(-1)
		if sum == nil {
			sum, sumSq = make([]float64, channels), make([]float64, channels)
		} else if len(sum) != channels {
			return nil, nil, errors.Errorf("ChannelStats(%q): batch with %d channels, previous batches had %d",
				ds.Name(), channels, len(sum))
		}
		for ii, v := range values {
			v *= scale
			sum[ii%channels] += v
			sumSq[ii%channels] += v * v
		}
		count += int64(len(values) / channels)
	}
	ds.Reset()
	if count == 0 {
		return nil, nil, errors.Errorf("ChannelStats(%q): dataset is empty", ds.Name())
	}
	meanValues := make([]float64, len(sum))
	stddevValues := make([]float64, len(sum))
	for c := range sum {
		m := sum[c] / float64(count)
		meanValues[c] = m
		stddevValues[c] = math.Sqrt(max(0, sumSq[c]/float64(count)-m*m))
	}
	mean = tensors.FromFlatDataAndDimensions(meanValues, len(meanValues))
	stddev = tensors.FromFlatDataAndDimensions(stddevValues, len(stddevValues))
	return
}

func toFloat64(t *tensors.Tensor) (values []float64, err error) {
	values = make([]float64, t.Size())
	switch t.DType() {
	case dtypes.Float32:
		tensors.ConstFlatData(t, func(flat []float32) {
			for ii, v := range flat {
				values[ii] = float64(v)
			}
		})
	case dtypes.Float64:
		tensors.ConstFlatData(t, func(flat []float64) { copy(values, flat) })
	case dtypes.Float16:
		tensors.ConstFlatData(t, func(flat []float16.Float16) {
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		})
	case dtypes.Uint8:
		tensors.ConstFlatData(t, func(flat []uint8) {
			for ii, v := range flat {
				values[ii] = float64(v)
			}
		})
	case dtypes.Int32:
		tensors.ConstFlatData(t, func(flat []int32) {
			for ii, v := range flat {
				values[ii] = float64(v)
			}
		})
	default:
		err = errors.Errorf("dtype %s not supported for image statistics", t.DType())
	}
	return
}
