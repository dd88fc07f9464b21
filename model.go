// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

// Classifier is an MLP with a quantized hidden block:
//
//	input -> Linear -> Sigmoid -> [straight-through block] -> ReLU -> Linear -> logits
//
// The sigmoid maps hidden activations into [0, 1] for the binary
// discretizer's threshold; the multi discretizer tolerates any range. With
// QuantNone the block is a plain Linear and the model is an ordinary MLP.
type Classifier struct {
	Cfg Config

	net *Sequential
}

// NewClassifier assembles a classifier per the config. Panics (via
// Config.Validate and the discretizer constructors) on invalid dimensions.
func NewClassifier(cfg Config) *Classifier {
	cfg.Validate()

	var block Module
	inner := NewLinear(cfg.HiddenDim, cfg.HiddenDim, true)
	switch cfg.Quantization {
	case QuantBinary:
		block = NewStraightThrough(inner, BinaryDiscretizer{})
	case QuantMulti:
		block = NewStraightThrough(inner, NewMultiDiscretizer(cfg.NumValues))
	default:
		block = inner
	}

	return &Classifier{
		Cfg: cfg,
		net: NewSequential(
			NewLinear(cfg.InputDim, cfg.HiddenDim, true),
			Sigmoid{},
			block,
			ReLU{},
			NewLinear(cfg.HiddenDim, cfg.NumClasses, true),
		),
	}
}

// Forward builds the tape for a batch and returns the logits node,
// shape [batch, NumClasses]. Input shape is [batch, InputDim].
func (c *Classifier) Forward(input *Tensor) *Node {
	return c.net.Apply(Constant(input))
}

// Apply lets a Classifier be used as a Module itself.
func (c *Classifier) Apply(x *Node) *Node { return c.net.Apply(x) }

// Predict returns the argmax class per row of a [batch, InputDim] input.
func (c *Classifier) Predict(input *Tensor) []int {
	logits := c.Forward(input).Value()
	batch := logits.Shape().At(0)
	classes := logits.Shape().At(1)
	data := logits.DataPtr()
	preds := make([]int, batch)
	for i := 0; i < batch; i++ {
		preds[i], _ = argmax(data[i*classes : i*classes+classes])
	}
	return preds
}

// Parameters collects all trainable tensors, in layer order.
func (c *Classifier) Parameters() []*Tensor { return c.net.Parameters() }

// NumParams returns the total scalar parameter count.
func (c *Classifier) NumParams() int {
	n := 0
	for _, p := range c.Parameters() {
		n += p.Shape().Numel()
	}
	return n
}
