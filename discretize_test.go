// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryDiscretizerForward(t *testing.T) {
	x := FromSlice([]float32{0.2, 0.7, 0.5}, NewShape(3))
	out := BinaryDiscretizer{}.Apply(Constant(x))

	assert.Equal(t, []float32{0, 1, 0}, out.Value().Data(), "0.5 must round down")
	assert.True(t, out.Shape().Equal(x.Shape()))
}

func TestBinaryDiscretizerIdentityGradient(t *testing.T) {
	// Out-of-range inputs are thresholded like any other; gradient stays 1.
	x := FromSlice([]float32{-1.5, 0.3, 0.9, 2.5}, NewShape(4))
	in := Variable(x)
	out := BinaryDiscretizer{}.Apply(in)

	assert.Equal(t, []float32{0, 0, 1, 1}, out.Value().Data())
	out.Backward(ones(4))
	require.NotNil(t, x.Grad)
	assert.Equal(t, []float32{1, 1, 1, 1}, x.Grad)
}

func TestBinaryDiscretizerHasNoParameters(t *testing.T) {
	assert.Empty(t, BinaryDiscretizer{}.Parameters())
}

func TestMultiDiscretizerPanicsOnBadAnchorCount(t *testing.T) {
	assert.Panics(t, func() { NewMultiDiscretizer(0) })
	assert.Panics(t, func() { NewMultiDiscretizer(-3) })
}

func TestMultiDiscretizerOutputIsAlwaysAnAnchor(t *testing.T) {
	d := NewMultiDiscretizer(5)
	x := Randn(NewShape(4, 3), F32)
	out := d.Apply(Constant(x))

	require.True(t, out.Shape().Equal(x.Shape()), "shape must be preserved")
	anchors := d.Offsets.Data()
	for _, v := range out.Value().Data() {
		found := false
		for _, a := range anchors {
			if v == a { // forward value is bit-equal to an anchor
				found = true
				break
			}
		}
		assert.True(t, found, "output %v is not one of the anchors %v", v, anchors)
	}
}

func TestMultiDiscretizerSnapsToNearestAnchor(t *testing.T) {
	d := NewMultiDiscretizer(2)
	copy(d.Offsets.DataPtr(), []float32{0, 10})

	x := FromSlice([]float32{0.1}, NewShape(1))
	out := d.Apply(Constant(x))
	assert.Equal(t, float32(0), out.Value().At(0))

	x2 := FromSlice([]float32{9.3}, NewShape(1))
	assert.Equal(t, float32(10), d.Apply(Constant(x2)).Value().At(0))
}

func TestMultiDiscretizerSingleAnchor(t *testing.T) {
	d := NewMultiDiscretizer(1)
	x := FromSlice([]float32{-4, 0, 7}, NewShape(3))
	out := d.Apply(Constant(x))
	anchor := d.Offsets.At(0)
	for _, v := range out.Value().Data() {
		assert.Equal(t, anchor, v)
	}
}

func TestMultiDiscretizerGradientsReachParameters(t *testing.T) {
	d := NewMultiDiscretizer(4)
	x := FromSlice([]float32{0.5, -0.25}, NewShape(2))
	in := Variable(x)

	d.Apply(in).Backward(ones(2))

	require.NotNil(t, d.Offsets.Grad, "offsets must receive gradient")
	require.NotNil(t, d.Alpha.Grad, "alpha must receive gradient")
	require.NotNil(t, x.Grad, "input must receive gradient")
}

func TestMultiDiscretizerSingleAnchorGradient(t *testing.T) {
	// With one anchor p is identically [1], so the softmax VJP is zero
	// and only the two weighted-average paths reach the offset: each
	// contributes 1 per input scalar.
	d := NewMultiDiscretizer(1)
	x := FromSlice([]float32{0.5, -0.25, 3}, NewShape(3))
	in := Variable(x)

	d.Apply(in).Backward(ones(3))

	require.NotNil(t, d.Offsets.Grad)
	assert.InDelta(t, float32(6), d.Offsets.Grad[0], 1e-5)
	if d.Alpha.Grad != nil {
		assert.InDelta(t, float32(0), d.Alpha.Grad[0], 1e-5)
	}
	if x.Grad != nil {
		for _, g := range x.Grad {
			assert.InDelta(t, float32(0), g, 1e-5)
		}
	}
}

func TestMultiDiscretizerParameters(t *testing.T) {
	d := NewMultiDiscretizer(3)
	params := d.Parameters()
	require.Len(t, params, 2)
	assert.Same(t, d.Offsets, params[0])
	assert.Same(t, d.Alpha, params[1])
	assert.Equal(t, 3, d.NumValues())
}

func TestStraightThroughForwardEqualsDiscretePath(t *testing.T) {
	lin := NewLinear(3, 2, true)
	disc := BinaryDiscretizer{}
	wrapped := NewStraightThrough(lin, disc)

	x := FromSlice([]float32{0.1, 0.6, 0.9, 0.4, 0.45, 0.55}, NewShape(2, 3))
	got := wrapped.Apply(Constant(x)).Value().Data()

	// Reference: run the same layer directly on the discretized input.
	want := lin.Apply(disc.Apply(Constant(x))).Value().Data()
	assert.Equal(t, want, got, "forward must equal transform(discretize(x)) exactly")
}

func TestStraightThroughForwardWithMultiDiscretizer(t *testing.T) {
	lin := NewLinear(2, 2, false)
	disc := NewMultiDiscretizer(3)
	wrapped := NewStraightThrough(lin, disc)

	x := Randn(NewShape(4, 2), F32)
	got := wrapped.Apply(Constant(x)).Value().Data()
	want := lin.Apply(disc.Apply(Constant(x))).Value().Data()
	assert.Equal(t, want, got)
}

func TestStraightThroughParamGradIsSumOfBothPaths(t *testing.T) {
	lin := NewLinear(3, 2, true)
	disc := BinaryDiscretizer{}
	wrapped := NewStraightThrough(lin, disc)

	x := FromSlice([]float32{0.1, 0.6, 0.9, 0.4, 0.45, 0.55}, NewShape(2, 3))
	seed := ones(4)

	wrapped.Apply(Constant(x)).Backward(seed)
	require.NotNil(t, lin.Weight.Grad)
	total := append([]float32(nil), lin.Weight.Grad...)

	// Each path alone.
	lin.Weight.ZeroGrad()
	lin.Apply(Constant(x)).Backward(seed)
	gradC := append([]float32(nil), lin.Weight.Grad...)

	lin.Weight.ZeroGrad()
	lin.Apply(disc.Apply(Constant(x))).Backward(seed)
	gradD := lin.Weight.Grad

	for i := range total {
		assert.InDelta(t, gradC[i]+gradD[i], total[i], 1e-4,
			"weight grad must be the sum of continuous and discrete path contributions")
	}
}

func TestStraightThroughInputGradFlowsThroughBothPaths(t *testing.T) {
	lin := NewLinear(2, 1, false)
	copy(lin.Weight.DataPtr(), []float32{1, 1})
	wrapped := NewStraightThrough(lin, BinaryDiscretizer{})

	x := FromSlice([]float32{0.2, 0.8}, NewShape(1, 2))
	in := Variable(x)
	wrapped.Apply(in).Backward(ones(1))

	// Continuous path contributes W, discrete path contributes W through
	// the binary discretizer's identity gradient: total 2*W.
	require.NotNil(t, x.Grad)
	assert.InDelta(t, float32(2), x.Grad[0], 1e-5)
	assert.InDelta(t, float32(2), x.Grad[1], 1e-5)
}

func TestStraightThroughParameters(t *testing.T) {
	lin := NewLinear(4, 4, true)
	d := NewMultiDiscretizer(8)
	wrapped := NewStraightThrough(lin, d)

	params := wrapped.Parameters()
	require.Len(t, params, 4)
	assert.Same(t, lin.Weight, params[0])
	assert.Same(t, lin.Bias, params[1])
	assert.Same(t, d.Offsets, params[2])
	assert.Same(t, d.Alpha, params[3])
}
