// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leafscan/leafscan/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.NoError(t, tensor.Shape().Check(dtypes.Float32, 2, 3))
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, uintptr(24), tensor.Memory())
	require.Equal(t, make([]float32, 6), CopyFlatData[float32](tensor))
	require.Panics(t, func() { _ = CopyFlatData[int32](tensor) })

	MutableFlatData[float32](tensor, func(flat []float32) { flat[5] = 7 })
	assert.Equal(t, float32(7), CopyFlatData[float32](tensor)[5])

	empty := FromShape(shapes.Make(dtypes.Uint8, 0, 4))
	require.Equal(t, 0, empty.Size())
}

func TestFromValues(t *testing.T) {
	labels := []int32{3, 1, 2}
	tensor := FromValues(labels)
	labels[0] = 100 // Data must have been copied.
	require.Equal(t, []int32{3, 1, 2}, CopyFlatData[int32](tensor))
	require.Equal(t, int32(5), ToScalar[int32](FromScalar(int32(5))))
	require.Panics(t, func() { _ = ToScalar[int32](tensor) })
	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]float32{1, 2, 3}, 2, 2) })
}

func TestSliceAndConcatenate(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{0, 1, 2, 3, 4, 5, 6, 7}, 4, 2)
	part0, err := tensor.Slice(0, 1)
	require.NoError(t, err)
	part1, err := tensor.Slice(1, 4)
	require.NoError(t, err)
	require.Equal(t, []int32{0, 1}, CopyFlatData[int32](part0))
	require.NoError(t, part1.Shape().Check(dtypes.Int32, 3, 2))

	joined, err := Concatenate(part0, part1)
	require.NoError(t, err)
	require.True(t, joined.Equal(tensor))
	require.False(t, joined.Equal(part1))

	_, err = tensor.Slice(3, 5)
	require.Error(t, err)
	_, err = Concatenate(part0, FromValues([]int32{1}))
	require.Error(t, err)
	_, err = Concatenate()
	require.Error(t, err)

	clone := tensor.Clone()
	MutableFlatData[int32](clone, func(flat []int32) { flat[0] = 100 })
	require.Equal(t, int32(0), CopyFlatData[int32](tensor)[0])
}
