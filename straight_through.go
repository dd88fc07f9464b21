// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

// StraightThrough wraps a differentiable transform T and a discretizer D
// into a new module whose forward output equals T(D(x)) while gradients
// also flow through the continuous path T(x):
//
//	outC = T(x)
//	outD = T(D(x))
//	out  = outC + outD - Detach(outC)
//
// Because T runs twice on the tape, its parameters receive gradient
// contributions from BOTH paths; the sum is what the optimizer sees. This
// double contribution is inherent to the construction, not a bug.
type StraightThrough struct {
	transform Module
	disc      Discretizer
}

// NewStraightThrough combines any transform with any discretizer.
func NewStraightThrough(transform Module, d Discretizer) *StraightThrough {
	return &StraightThrough{transform: transform, disc: d}
}

// Apply evaluates both paths and recombines them with a detach so the
// forward value is exactly the discrete path's output. Ordering the
// subtraction first makes outC - Detach(outC) cancel exactly in floats.
func (s *StraightThrough) Apply(x *Node) *Node {
	outC := s.transform.Apply(x)
	outD := s.transform.Apply(s.disc.Apply(x))
	return outC.Sub(outC.Detach()).Add(outD)
}

// Parameters returns the transform's parameters followed by the
// discretizer's (if any).
func (s *StraightThrough) Parameters() []*Tensor {
	return concatParams(s.transform.Parameters(), s.disc.Parameters())
}
