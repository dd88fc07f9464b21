// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

import "github.com/gomlx/exceptions"

// Module is the unit of composition: it maps a tape node to a tape node and
// exposes its trainable tensors. Parameter collection is explicit and
// recursive; composite modules concatenate their children's parameters in a
// fixed order so the optimizer state stays aligned across steps.
type Module interface {
	Apply(x *Node) *Node
	Parameters() []*Tensor
}

// ---------------------------------------------------------------------------
// Linear
// ---------------------------------------------------------------------------

// Linear computes y = x @ W^T + b.
// Weight is stored [outFeatures, inFeatures] so the forward pass hits the
// transposed-B GEMM, where both operands stream contiguously.
type Linear struct {
	Weight *Tensor // [outFeatures, inFeatures]
	Bias   *Tensor // [outFeatures], nil when constructed without bias

	inFeatures  int
	outFeatures int
}

// NewLinear creates a linear layer with Kaiming-uniform style init:
// weights ~ N(0, sqrt(2/inFeatures)), bias zero.
func NewLinear(inFeatures, outFeatures int, bias bool) *Linear {
	if inFeatures <= 0 || outFeatures <= 0 {
		exceptions.Panicf("nn: Linear dims must be positive, got in=%d out=%d", inFeatures, outFeatures)
	}
	std := SqrtF32(2.0 / float32(inFeatures))
	l := &Linear{
		Weight:      RandnWithStd(NewShape(outFeatures, inFeatures), F32, std),
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
	}
	if bias {
		l.Bias = Zeros(NewShape(outFeatures), F32)
	}
	return l
}

// Apply computes the affine transform over the last dimension. Leading
// dimensions are flattened to a batch, matmul'd, then restored.
func (l *Linear) Apply(x *Node) *Node {
	dims := x.Shape().Dims()
	leading, batch, last := splitLast(dims)
	if last != l.inFeatures {
		exceptions.Panicf("nn: Linear expects last dim %d, got %d", l.inFeatures, last)
	}
	h := x.Reshape(NewShape(batch, last)).MatMulT(Variable(l.Weight))
	if l.Bias != nil {
		h = h.AddRow(Variable(l.Bias))
	}
	return h.Reshape(withLastDim(leading, l.outFeatures))
}

// Parameters returns the weight and, if present, the bias.
func (l *Linear) Parameters() []*Tensor {
	if l.Bias == nil {
		return []*Tensor{l.Weight}
	}
	return []*Tensor{l.Weight, l.Bias}
}

// ---------------------------------------------------------------------------
// Activations
// ---------------------------------------------------------------------------

// Sigmoid is the logistic activation, applied element-wise.
type Sigmoid struct{}

func (Sigmoid) Apply(x *Node) *Node   { return x.Sigmoid() }
func (Sigmoid) Parameters() []*Tensor { return nil }

// ReLU is the rectified-linear activation, applied element-wise.
type ReLU struct{}

func (ReLU) Apply(x *Node) *Node   { return x.ReLU() }
func (ReLU) Parameters() []*Tensor { return nil }

// ---------------------------------------------------------------------------
// Sequential
// ---------------------------------------------------------------------------

// Sequential chains modules, feeding each one's output to the next.
type Sequential struct {
	mods []Module
}

// NewSequential builds a chain from the given modules, in order.
func NewSequential(mods ...Module) *Sequential {
	return &Sequential{mods: mods}
}

// Apply threads x through every module in order.
func (s *Sequential) Apply(x *Node) *Node {
	for _, m := range s.mods {
		x = m.Apply(x)
	}
	return x
}

// Parameters concatenates the parameters of all children in order.
func (s *Sequential) Parameters() []*Tensor {
	groups := make([][]*Tensor, len(s.mods))
	for i, m := range s.mods {
		groups[i] = m.Parameters()
	}
	return concatParams(groups...)
}

// Modules returns the child modules in order.
func (s *Sequential) Modules() []Module { return s.mods }
