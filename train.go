// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// TrainConfig holds optimizer hyperparameters for AdamW with warmup +
// cosine learning-rate decay.
type TrainConfig struct {
	LearningRate float32 // peak LR after warmup
	Beta1        float32 // first-moment decay
	Beta2        float32 // second-moment decay
	Eps          float32 // epsilon inside the Adam denominator
	WeightDecay  float32 // decoupled weight decay
	GradClip     float32 // global gradient-norm clip, 0 disables
	WarmupSteps  int     // linear warmup duration
	MaxSteps     int     // cosine decay horizon
}

// DefaultTrainConfig returns settings tuned for the MNIST classifier.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.95,
		Eps:          1e-8,
		WeightDecay:  0.01,
		GradClip:     1.0,
		WarmupSteps:  100,
		MaxSteps:     10000,
	}
}

// AdamWState holds the per-parameter first and second moment estimates.
type AdamWState struct {
	M []float32
	V []float32
}

// Trainer runs AdamW over a classifier's parameters.
type Trainer struct {
	Model  *Classifier
	Config TrainConfig
	Step   int

	params []*Tensor
	states []AdamWState
}

// NewTrainer allocates optimizer state for every model parameter.
func NewTrainer(model *Classifier, config TrainConfig) *Trainer {
	params := model.Parameters()
	states := make([]AdamWState, len(params))
	for i, p := range params {
		n := p.Shape().Numel()
		states[i] = AdamWState{M: make([]float32, n), V: make([]float32, n)}
	}
	return &Trainer{Model: model, Config: config, params: params, states: states}
}

// GetLR returns the learning rate for a step: linear warmup to the peak,
// then cosine decay down to 10% of the peak.
func (t *Trainer) GetLR(step int) float32 {
	cfg := t.Config
	if step < cfg.WarmupSteps {
		return cfg.LearningRate * float32(step+1) / float32(cfg.WarmupSteps)
	}
	if step >= cfg.MaxSteps {
		return cfg.LearningRate * 0.1
	}
	progress := float32(step-cfg.WarmupSteps) / float32(cfg.MaxSteps-cfg.WarmupSteps)
	minLR := cfg.LearningRate * 0.1
	return minLR + (cfg.LearningRate-minLR)*0.5*(1.0+CosF32(3.1415927*progress))
}

// crossEntropyLoss computes mean softmax cross-entropy over a batch.
// logits: [batch, classes], targets: class index per row.
func crossEntropyLoss(logits *Tensor, targets []int) float32 {
	batch := logits.Shape().At(0)
	classes := logits.Shape().At(1)
	if len(targets) != batch {
		exceptions.Panicf("nn: %d targets for batch of %d", len(targets), batch)
	}
	probs := logits.Softmax().DataPtr()
	loss := float32(0)
	for i, target := range targets {
		p := probs[i*classes+target]
		if p < 1e-10 {
			p = 1e-10
		}
		loss -= LogF32(p)
	}
	return loss / float32(batch)
}

// crossEntropyGrad returns d(loss)/d(logits) = (softmax - onehot) / batch.
func crossEntropyGrad(logits *Tensor, targets []int) *Tensor {
	batch := logits.Shape().At(0)
	classes := logits.Shape().At(1)
	grad := logits.Softmax()
	data := grad.DataPtr()
	inv := 1.0 / float32(batch)
	for i, target := range targets {
		data[i*classes+target] -= 1
		for j := 0; j < classes; j++ {
			data[i*classes+j] *= inv
		}
	}
	return grad
}

// TrainStep runs one forward/backward/update cycle over a batch and
// returns the batch loss. inputs: [batch, InputDim], targets: class
// indices.
func (t *Trainer) TrainStep(inputs *Tensor, targets []int) float32 {
	for _, p := range t.params {
		p.ZeroGrad()
	}

	logits := t.Model.Forward(inputs)
	loss := crossEntropyLoss(logits.Value(), targets)

	grad := crossEntropyGrad(logits.Value(), targets)
	logits.Backward(grad.DataPtr())

	t.clipGradients()
	t.applyAdamW()
	t.Step++

	if klog.V(2).Enabled() {
		klog.Infof("step %d lr %.6f loss %.4f", t.Step, t.GetLR(t.Step-1), loss)
	}
	return loss
}

// clipGradients rescales all gradients so their global L2 norm does not
// exceed Config.GradClip.
func (t *Trainer) clipGradients() {
	if t.Config.GradClip <= 0 {
		return
	}
	sumSq := float32(0)
	for _, p := range t.params {
		if p.Grad == nil {
			continue
		}
		for _, g := range p.Grad {
			sumSq += g * g
		}
	}
	norm := SqrtF32(sumSq)
	if norm <= t.Config.GradClip {
		return
	}
	scale := t.Config.GradClip / norm
	for _, p := range t.params {
		if p.Grad == nil {
			continue
		}
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
}

// applyAdamW updates every parameter with bias-corrected AdamW and
// decoupled weight decay. Parameters that received no gradient this step
// are skipped.
func (t *Trainer) applyAdamW() {
	cfg := t.Config
	lr := t.GetLR(t.Step)
	step := float32(t.Step + 1)
	bc1 := 1 - PowF32(cfg.Beta1, step)
	bc2 := 1 - PowF32(cfg.Beta2, step)

	for i, p := range t.params {
		if p.Grad == nil {
			continue
		}
		st := &t.states[i]
		data := p.DataPtr()
		for j, g := range p.Grad {
			st.M[j] = cfg.Beta1*st.M[j] + (1-cfg.Beta1)*g
			st.V[j] = cfg.Beta2*st.V[j] + (1-cfg.Beta2)*g*g
			mHat := st.M[j] / bc1
			vHat := st.V[j] / bc2
			data[j] -= lr * (mHat/(SqrtF32(vHat)+cfg.Eps) + cfg.WeightDecay*data[j])
		}
	}
}

// Accuracy returns the fraction of rows the model classifies correctly.
func Accuracy(model *Classifier, inputs *Tensor, targets []int) float32 {
	preds := model.Predict(inputs)
	correct := 0
	for i, p := range preds {
		if p == targets[i] {
			correct++
		}
	}
	return float32(correct) / float32(len(preds))
}
