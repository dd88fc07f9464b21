// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package mnist

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nn "github.com/fumi-engineer/straight_through/go"
)

// buildIDX assembles an IDX payload: big-endian header words then raw bytes.
func buildIDX(header []uint32, data []byte) *bytes.Reader {
	var buf bytes.Buffer
	for _, h := range header {
		binary.Write(&buf, binary.BigEndian, h)
	}
	buf.Write(data)
	return bytes.NewReader(buf.Bytes())
}

func TestParseImages(t *testing.T) {
	raw := make([]byte, 2*imageSize)
	raw[0] = 255
	raw[imageSize] = 51

	images, err := parseImages(buildIDX([]uint32{imageMagic, 2, 28, 28}, raw))
	require.NoError(t, err)
	require.True(t, images.Shape().Equal(nn.NewShape(2, imageSize)))
	assert.InDelta(t, float32(1.0), images.At(0, 0), 1e-6)
	assert.InDelta(t, float32(0.2), images.At(1, 0), 1e-6)
	assert.Equal(t, float32(0), images.At(0, 1))
}

func TestParseImagesBadMagic(t *testing.T) {
	_, err := parseImages(buildIDX([]uint32{labelMagic, 1, 28, 28}, make([]byte, imageSize)))
	assert.Error(t, err)
}

func TestParseImagesTruncated(t *testing.T) {
	_, err := parseImages(buildIDX([]uint32{imageMagic, 2, 28, 28}, make([]byte, imageSize)))
	assert.Error(t, err, "fewer pixels than the header promises")
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels(buildIDX([]uint32{labelMagic, 4}, []byte{0, 9, 3, 7}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 9, 3, 7}, labels)
}

func TestParseLabelsOutOfRange(t *testing.T) {
	_, err := parseLabels(buildIDX([]uint32{labelMagic, 2}, []byte{1, 10}))
	assert.Error(t, err)
}

func testDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	data := make([]float32, n*imageSize)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		labels[i] = i % 10
		for j := 0; j < imageSize; j++ {
			data[i*imageSize+j] = float32(i)
		}
	}
	return &Dataset{
		Images: nn.FromSliceNoCopy(data, nn.NewShape(n, imageSize)),
		Labels: labels,
	}
}

func TestBatch(t *testing.T) {
	d := testDataset(t, 10)
	inputs, labels := d.Batch(4, 3)
	require.NotNil(t, inputs)
	assert.True(t, inputs.Shape().Equal(nn.NewShape(3, imageSize)))
	assert.Equal(t, []int{4, 5, 6}, labels)
	assert.Equal(t, float32(4), inputs.At(0, 0))
	assert.Equal(t, float32(6), inputs.At(2, imageSize-1))

	inputs, labels = d.Batch(8, 3)
	assert.Nil(t, inputs, "batch past the end")
	assert.Nil(t, labels)
}

func TestShuffleKeepsRowsPaired(t *testing.T) {
	d := testDataset(t, 20)
	d.Shuffle(rand.New(rand.NewSource(1)))

	// Every row was filled with its original label mod 10, so pairing
	// survives any permutation.
	moved := false
	for i := 0; i < d.Len(); i++ {
		row := int(d.Images.At(i, 0))
		assert.Equal(t, row%10, d.Labels[i], "row %d", i)
		if row != i {
			moved = true
		}
	}
	assert.True(t, moved, "shuffle should permute at least one row")
}
