// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

import "github.com/gomlx/exceptions"

// Discretizer maps a continuous tensor to a numerically discrete tensor of
// the same shape, while keeping gradients flowing as if the snap had not
// happened (straight-through estimation).
type Discretizer interface {
	Module
}

// ---------------------------------------------------------------------------
// BinaryDiscretizer
// ---------------------------------------------------------------------------

// BinaryDiscretizer snaps every scalar to {0, 1} with threshold 0.5.
// Stateless. Gradient is identity: the forward value is
//
//	x + Detach(round(x) - x)
//
// so the rounding residual carries no gradient and d(out)/d(x) = 1
// everywhere. Inputs are expected in [0, 1] (e.g. after a sigmoid) but the
// threshold rule is applied unconditionally outside that range as well.
type BinaryDiscretizer struct{}

// Apply returns x rounded to {0, 1} in value, identity in gradient.
func (BinaryDiscretizer) Apply(x *Node) *Node {
	src := x.Value().DataPtr()
	data := make([]float32, len(src))
	for i, v := range src {
		if v > 0.5 {
			data[i] = 1
		}
	}
	rounded := Constant(FromSliceNoCopy(data, x.Shape()))
	return x.Add(rounded.Sub(x).Detach())
}

// Parameters returns nil: the binary discretizer has no learnable state.
func (BinaryDiscretizer) Parameters() []*Tensor { return nil }

// ---------------------------------------------------------------------------
// MultiDiscretizer
// ---------------------------------------------------------------------------

// MultiDiscretizer snaps every scalar to the nearest of numValues learned
// anchors, where "nearest" is softened by a per-anchor learned sharpness.
//
// Per input scalar x:
//
//	d_j = -(x - offset_j)^2            negated squared distance
//	s_j = exp(alpha_j) * d_j           sharpness-scaled score
//	p   = softmax(s)                   soft assignment over anchors
//	value = sum_j offset_j * p_j       soft (continuous) value
//	p_hard = p + Detach(onehot - p)    exactly one-hot, soft gradient
//	value_discrete = sum_j offset_j * p_hard_j
//	out = value + value_discrete - Detach(value)
//
// The output is always exactly one element of Offsets, while gradients
// update Offsets, Alpha, and x as if the soft assignment alone were used.
type MultiDiscretizer struct {
	Offsets *Tensor // [numValues] anchor values, init ~ N(0, 1)
	Alpha   *Tensor // [numValues] log-sharpness, init 0 (multiplier = 1)

	numValues int
}

// NewMultiDiscretizer creates a discretizer with numValues learned anchors.
// Panics if numValues < 1: a discretizer with no anchors has no output to
// snap to.
func NewMultiDiscretizer(numValues int) *MultiDiscretizer {
	if numValues <= 0 {
		exceptions.Panicf("nn: MultiDiscretizer needs at least 1 anchor, got %d", numValues)
	}
	return &MultiDiscretizer{
		Offsets:   Randn(NewShape(numValues), F32),
		Alpha:     Zeros(NewShape(numValues), F32),
		numValues: numValues,
	}
}

// NumValues returns the number of anchors.
func (d *MultiDiscretizer) NumValues() int { return d.numValues }

// Apply snaps every scalar of x to one of the learned anchors. The input
// shape is preserved; the trailing anchor dimension is materialized
// internally and reduced away before returning.
func (d *MultiDiscretizer) Apply(x *Node) *Node {
	inShape := x.Shape()
	offsets := Variable(d.Offsets)
	alpha := Variable(d.Alpha)

	diff := x.SubOuter(offsets)           // [numel, k]: x_i - offset_j
	dist := diff.Square().Scale(-1)       // -(x - offset_j)^2
	scores := dist.ScaleCols(alpha.Exp()) // exp(alpha_j) * d_j
	p := scores.Softmax()                 // soft assignment, rows sum to 1

	value := p.MatVec(offsets) // soft weighted average

	pHard := p.Add(Constant(oneHotRows(p.Value())).Sub(p).Detach())
	valueDiscrete := pHard.MatVec(offsets)

	// Ordered so value - Detach(value) cancels exactly and the forward
	// output is bit-equal to the selected anchor.
	out := value.Sub(value.Detach()).Add(valueDiscrete)
	return out.Reshape(inShape)
}

// Parameters returns the anchor values and log-sharpness vectors.
func (d *MultiDiscretizer) Parameters() []*Tensor {
	return []*Tensor{d.Offsets, d.Alpha}
}

// oneHotRows builds a [rows, k] tensor with a 1 at each row's argmax.
// Ties resolve to the lowest index, matching argmax.
func oneHotRows(p *Tensor) *Tensor {
	k := p.Shape().At(-1)
	rows := p.Shape().Numel() / k
	src := p.DataPtr()
	data := make([]float32, rows*k)
	for r := 0; r < rows; r++ {
		best, _ := argmax(src[r*k : r*k+k])
		data[r*k+best] = 1
	}
	return FromSliceNoCopy(data, NewShape(rows, k))
}
