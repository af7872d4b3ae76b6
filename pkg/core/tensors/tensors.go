// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host-memory Tensor: a flat Go slice plus a shapes.Shape.
//
// Datasets yield batches as tensors: typically the images of a batch shaped
// `[batch_size, height, width, channels]` and their labels shaped `(Int32)[batch_size]`.
//
// Tensors are safe for concurrent reads. Use MutableFlatData only on tensors you own.
package tensors

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor holds a multidimensional array in host memory.
type Tensor struct {
	shape shapes.Shape

	mu sync.RWMutex

	// flat holds the data as a slice of the Go type corresponding to shape.DType.
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface(),
	}
}

// FromFlatDataAndDimensions creates a tensor from the flat data given, with the given dimensions.
// The data is copied. It panics if len(data) doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: data has %d elements, but shape %s requires %d",
			len(data), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: slices.Clone(data)}
}

// FromValues creates a rank-1 tensor with a copy of the values given.
func FromValues[T dtypes.Supported](values []T) *Tensor {
	return FromFlatDataAndDimensions(values, len(values))
}

// FromScalar creates a scalar tensor.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return &Tensor{shape: shapes.Make(dtypes.FromGenericsType[T]()), flat: []T{value}}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory used by the tensor data, in bytes.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// String implements fmt.Stringer. It only prints the shape.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", t.shape)
}

// ConstFlatData calls accessFn with the flat data, a slice of the Go type of the tensor's dtype.
// The data must not be modified.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat data, which can be modified in place.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// ConstFlatData is the generic version of Tensor.ConstFlatData. It panics if T doesn't match the tensor dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	checkGenericsType[T](t)
	t.ConstFlatData(func(flat any) { accessFn(flat.([]T)) })
}

// MutableFlatData is the generic version of Tensor.MutableFlatData. It panics if T doesn't match the tensor dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	checkGenericsType[T](t)
	t.MutableFlatData(func(flat any) { accessFn(flat.([]T)) })
}

// CopyFlatData returns a copy of the flat data.
func CopyFlatData[T dtypes.Supported](t *Tensor) (flatCopy []T) {
	ConstFlatData[T](t, func(flat []T) { flatCopy = slices.Clone(flat) })
	return
}

// ToScalar returns the value of a scalar (or single element) tensor.
func ToScalar[T dtypes.Supported](t *Tensor) (value T) {
	if t.Size() != 1 {
		exceptions.Panicf("tensors.ToScalar: tensor %s has %d elements", t.shape, t.Size())
	}
	ConstFlatData[T](t, func(flat []T) { value = flat[0] })
	return
}

func checkGenericsType[T dtypes.Supported](t *Tensor) {
	if dtype := dtypes.FromGenericsType[T](); dtype != t.shape.DType {
		var zero T
		exceptions.Panicf("tensor has dtype %s, but it was accessed as %T (dtype %s)", t.shape.DType, zero, dtype)
	}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{shape: t.shape.Clone()}
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		cloneV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
		reflect.Copy(cloneV, flatV)
		clone.flat = cloneV.Interface()
	})
	return clone
}

// Equal returns whether both tensors have the same shape and values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	var equal bool
	t.ConstFlatData(func(flat any) {
		other.ConstFlatData(func(otherFlat any) {
			equal = reflect.DeepEqual(flat, otherFlat)
		})
	})
	return equal
}

// Slice returns a new tensor with the examples [from, to) of the leading (batch) axis. Data is copied.
func (t *Tensor) Slice(from, to int) (*Tensor, error) {
	if t.Rank() == 0 {
		return nil, errors.Errorf("cannot slice scalar tensor %s", t.shape)
	}
	batchSize := t.shape.Dimensions[0]
	if from < 0 || to > batchSize || from > to {
		return nil, errors.Errorf("invalid slice [%d:%d] of tensor %s", from, to, t.shape)
	}
	dims := slices.Clone(t.shape.Dimensions)
	dims[0] = to - from
	exampleSize := 1
	for _, dim := range dims[1:] {
		exampleSize *= dim
	}
	sliced := FromShape(shapes.Make(t.shape.DType, dims...))
	t.ConstFlatData(func(flat any) {
		sliced.MutableFlatData(func(slicedFlat any) {
			src := reflect.ValueOf(flat).Slice(from*exampleSize, to*exampleSize)
			reflect.Copy(reflect.ValueOf(slicedFlat), src)
		})
	})
	return sliced, nil
}

// Concatenate tensors along the leading (batch) axis. All tensors must have the same dtype and
// the same dimensions, except the batch axis.
func Concatenate(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors.Concatenate requires at least one tensor")
	}
	first := parts[0].shape
	if first.Rank() == 0 {
		return nil, errors.Errorf("cannot concatenate scalar tensors (%s)", first)
	}
	batchSize := 0
	for ii, part := range parts {
		if !part.shape.EqualButBatch(first) {
			return nil, errors.Errorf("tensors.Concatenate: part #%d has shape %s, incompatible with part #0 shape %s",
				ii, part.shape, first)
		}
		batchSize += part.shape.Dimensions[0]
	}
	dims := slices.Clone(first.Dimensions)
	dims[0] = batchSize
	result := FromShape(shapes.Make(first.DType, dims...))
	result.MutableFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		pos := 0
		for _, part := range parts {
			part.ConstFlatData(func(partFlat any) {
				partV := reflect.ValueOf(partFlat)
				pos += reflect.Copy(flatV.Slice(pos, flatV.Len()), partV)
			})
		}
	})
	return result, nil
}
