// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Quantization selects which discretizer the classifier's quantized block
// uses, if any.
type Quantization uint8

const (
	// QuantNone disables the quantized block: the hidden layer stays
	// continuous end to end.
	QuantNone Quantization = iota
	// QuantBinary snaps hidden activations to {0, 1} at threshold 0.5.
	QuantBinary
	// QuantMulti snaps hidden activations to learned anchor values.
	QuantMulti
)

// String returns the flag-friendly name of the quantization mode.
func (q Quantization) String() string {
	switch q {
	case QuantNone:
		return "none"
	case QuantBinary:
		return "binary"
	case QuantMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// ParseQuantization parses a flag value into a Quantization mode.
func ParseQuantization(s string) (Quantization, error) {
	switch s {
	case "none":
		return QuantNone, nil
	case "binary":
		return QuantBinary, nil
	case "multi":
		return QuantMulti, nil
	default:
		return QuantNone, errors.Errorf("unknown quantization mode %q (want none, binary or multi)", s)
	}
}

// Config holds classifier hyperparameters.
type Config struct {
	InputDim     int          // flattened input features
	HiddenDim    int          // width of both hidden layers
	NumClasses   int          // output logits
	Quantization Quantization // discretizer for the quantized block
	NumValues    int          // anchors for QuantMulti; ignored otherwise
}

// Validate panics if any dimension is non-positive or if QuantMulti is
// requested without a positive anchor count.
func (c Config) Validate() {
	if c.InputDim <= 0 || c.HiddenDim <= 0 || c.NumClasses <= 0 {
		exceptions.Panicf("nn: config dims must be positive: input=%d hidden=%d classes=%d",
			c.InputDim, c.HiddenDim, c.NumClasses)
	}
	if c.Quantization == QuantMulti && c.NumValues <= 0 {
		exceptions.Panicf("nn: multi quantization needs NumValues >= 1, got %d", c.NumValues)
	}
}

// Tiny returns a minimal config for tests and quick experiments.
func Tiny() Config {
	return Config{
		InputDim:     8,
		HiddenDim:    16,
		NumClasses:   4,
		Quantization: QuantBinary,
	}
}

// MNIST returns the configuration used for MNIST digit classification.
func MNIST() Config {
	return Config{
		InputDim:     784,
		HiddenDim:    256,
		NumClasses:   10,
		Quantization: QuantMulti,
		NumValues:    16,
	}
}
