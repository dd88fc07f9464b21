// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

import "github.com/gomlx/exceptions"

// Node is one operation in an eager reverse-mode autodiff tape. Every op
// records its value, its parents, and a closure that pushes the adjoint
// (n.grad) back into the parents' grads. The tape is rebuilt on every
// forward pass; Backward walks it once in reverse topological order.
//
// Detach is a first-class op: it produces a node with NO parents, so the
// backward walk stops there. The straight-through estimators rely on this
// to route gradients around non-differentiable rounding.
type Node struct {
	value   *Tensor
	grad    []float32
	op      string
	parents []*Node
	back    func()
	param   *Tensor // set for Variable nodes; gradients flow into param.Grad
}

// Value returns the tensor held by this node.
func (n *Node) Value() *Tensor { return n.value }

// Shape returns the shape of the node's value.
func (n *Node) Shape() Shape { return n.value.Shape() }

// Op returns the operation tag that produced this node ("add", "detach", ...).
func (n *Node) Op() string { return n.op }

// Grad returns the adjoint accumulated at this node during Backward,
// or nil if the node was never reached.
func (n *Node) Grad() []float32 { return n.grad }

func (n *Node) ensureGrad() []float32 {
	if n.grad == nil {
		n.grad = make([]float32, n.value.Shape().Numel())
	}
	return n.grad
}

// Constant wraps a tensor as a leaf node that receives no gradient.
func Constant(t *Tensor) *Node {
	return &Node{value: t, op: "const"}
}

// Variable wraps a parameter tensor as a leaf node. After Backward, the
// adjoint accumulated at this node is added into t.Grad, so the same
// parameter appearing at multiple tape positions sums its contributions.
func Variable(t *Tensor) *Node {
	return &Node{value: t, op: "var", param: t}
}

// Detach cuts the node out of the gradient graph: the result shares the
// same value but has no parents, so no gradient flows through it.
func (n *Node) Detach() *Node {
	return &Node{value: n.value, op: "detach"}
}

// Backward runs reverse-mode differentiation from n, seeding n's adjoint
// with seed (must have n.Numel() elements; pass all-ones to get plain
// gradients of a sum). Parameter gradients land in the Variables' Grad.
func (n *Node) Backward(seed []float32) {
	if len(seed) != n.value.Shape().Numel() {
		exceptions.Panicf("nn: backward seed length %d != output numel %d", len(seed), n.value.Shape().Numel())
	}
	order := topoSort(n)
	g := n.ensureGrad()
	copy(g, seed)
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.grad == nil {
			continue
		}
		if node.back != nil {
			node.back()
		}
		if node.param != nil {
			node.param.AccumulateGrad(node.grad)
		}
	}
}

// topoSort returns nodes in topological order (parents before children)
// via iterative DFS, so deep tapes do not overflow the goroutine stack.
func topoSort(root *Node) []*Node {
	var order []*Node
	visited := map[*Node]bool{}
	type frame struct {
		node *Node
		next int
	}
	stack := []frame{{root, 0}}
	visited[root] = true
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next < len(f.node.parents) {
			p := f.node.parents[f.next]
			f.next++
			if !visited[p] {
				visited[p] = true
				stack = append(stack, frame{p, 0})
			}
			continue
		}
		order = append(order, f.node)
		stack = stack[:len(stack)-1]
	}
	return order
}

// ---------------------------------------------------------------------------
// Element-wise ops
// ---------------------------------------------------------------------------

// Add returns n + o element-wise.
func (n *Node) Add(o *Node) *Node {
	out := &Node{value: n.value.Add(o.value), op: "add", parents: []*Node{n, o}}
	out.back = func() {
		g := out.grad
		ng, og := n.ensureGrad(), o.ensureGrad()
		for i, v := range g {
			ng[i] += v
			og[i] += v
		}
	}
	return out
}

// Sub returns n - o element-wise.
func (n *Node) Sub(o *Node) *Node {
	out := &Node{value: n.value.Sub(o.value), op: "sub", parents: []*Node{n, o}}
	out.back = func() {
		g := out.grad
		ng, og := n.ensureGrad(), o.ensureGrad()
		for i, v := range g {
			ng[i] += v
			og[i] -= v
		}
	}
	return out
}

// Mul returns the Hadamard product n * o.
func (n *Node) Mul(o *Node) *Node {
	out := &Node{value: n.value.Mul(o.value), op: "mul", parents: []*Node{n, o}}
	out.back = func() {
		g := out.grad
		ng, og := n.ensureGrad(), o.ensureGrad()
		a, b := n.value.DataPtr(), o.value.DataPtr()
		for i, v := range g {
			ng[i] += v * b[i]
			og[i] += v * a[i]
		}
	}
	return out
}

// Scale returns n * s for a compile-time scalar s.
func (n *Node) Scale(s float32) *Node {
	out := &Node{value: n.value.Scale(s), op: "scale", parents: []*Node{n}}
	out.back = func() {
		g := out.grad
		ng := n.ensureGrad()
		for i, v := range g {
			ng[i] += v * s
		}
	}
	return out
}

// Square returns n^2 element-wise.
func (n *Node) Square() *Node {
	out := &Node{value: n.value.Mul(n.value), op: "square", parents: []*Node{n}}
	out.back = func() {
		g := out.grad
		ng := n.ensureGrad()
		x := n.value.DataPtr()
		for i, v := range g {
			ng[i] += 2 * x[i] * v
		}
	}
	return out
}

// Exp returns exp(n) element-wise.
func (n *Node) Exp() *Node {
	src := n.value.DataPtr()
	data := make([]float32, len(src))
	for i, x := range src {
		data[i] = ExpF32(x)
	}
	val := FromSliceNoCopy(data, n.value.Shape())
	out := &Node{value: val, op: "exp", parents: []*Node{n}}
	out.back = func() {
		g := out.grad
		ng := n.ensureGrad()
		y := val.DataPtr()
		for i, v := range g {
			ng[i] += y[i] * v
		}
	}
	return out
}

// Sigmoid returns 1/(1+exp(-n)) element-wise.
func (n *Node) Sigmoid() *Node {
	src := n.value.DataPtr()
	data := make([]float32, len(src))
	for i, x := range src {
		data[i] = 1.0 / (1.0 + ExpF32(-x))
	}
	val := FromSliceNoCopy(data, n.value.Shape())
	out := &Node{value: val, op: "sigmoid", parents: []*Node{n}}
	out.back = func() {
		g := out.grad
		ng := n.ensureGrad()
		y := val.DataPtr()
		for i, v := range g {
			ng[i] += y[i] * (1 - y[i]) * v
		}
	}
	return out
}

// ReLU returns max(0, n) element-wise.
func (n *Node) ReLU() *Node {
	src := n.value.DataPtr()
	data := make([]float32, len(src))
	for i, x := range src {
		if x > 0 {
			data[i] = x
		}
	}
	val := FromSliceNoCopy(data, n.value.Shape())
	out := &Node{value: val, op: "relu", parents: []*Node{n}}
	out.back = func() {
		g := out.grad
		ng := n.ensureGrad()
		x := src
		for i, v := range g {
			if x[i] > 0 {
				ng[i] += v
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Shape and reduction ops
// ---------------------------------------------------------------------------

// Reshape returns a view of n with a different shape. The flat layout is
// unchanged, so the gradient passes through untouched.
func (n *Node) Reshape(s Shape) *Node {
	out := &Node{value: n.value.Reshape(s), op: "reshape", parents: []*Node{n}}
	out.back = func() {
		g := out.grad
		ng := n.ensureGrad()
		for i, v := range g {
			ng[i] += v
		}
	}
	return out
}

// Sum reduces all elements to a scalar of shape [1].
func (n *Node) Sum() *Node {
	sum := float32(0)
	for _, x := range n.value.DataPtr() {
		sum += x
	}
	out := &Node{value: FromSliceNoCopy([]float32{sum}, NewShape(1)), op: "sum", parents: []*Node{n}}
	out.back = func() {
		g := out.grad[0]
		ng := n.ensureGrad()
		for i := range ng {
			ng[i] += g
		}
	}
	return out
}

// Softmax applies row-wise softmax along the last dimension.
// VJP: dx_i = p_i * (g_i - sum_j g_j p_j), applied per row.
func (n *Node) Softmax() *Node {
	val := n.value.Softmax()
	out := &Node{value: val, op: "softmax", parents: []*Node{n}}
	out.back = func() {
		g := out.grad
		ng := n.ensureGrad()
		p := val.DataPtr()
		lastDim := val.Shape().At(-1)
		rows := val.Shape().Numel() / lastDim
		for r := 0; r < rows; r++ {
			off := r * lastDim
			dot := float32(0)
			for j := 0; j < lastDim; j++ {
				dot += g[off+j] * p[off+j]
			}
			for j := 0; j < lastDim; j++ {
				ng[off+j] += p[off+j] * (g[off+j] - dot)
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Linear-algebra ops
// ---------------------------------------------------------------------------

// MatMulT computes n @ w^T for n:[m, in] and w:[out, in], the layout Linear
// stores its weight in. Backward uses the two transposed GEMM kernels so no
// transpose is ever materialized.
func (n *Node) MatMulT(w *Node) *Node {
	out := &Node{value: MatmulTransposedB(n.value, w.value), op: "matmulT", parents: []*Node{n, w}}
	out.back = func() {
		m := n.value.Shape().At(0)
		in := n.value.Shape().At(1)
		outDim := w.value.Shape().At(0)
		g := out.grad
		// dX = dY @ W
		sgemm(m, in, outDim,
			1.0, g, outDim,
			w.value.DataPtr(), in,
			1.0, n.ensureGrad(), in)
		// dW = dY^T @ X
		sgemmTransA(outDim, in, m,
			1.0, g, outDim,
			n.value.DataPtr(), in,
			1.0, w.ensureGrad(), in)
	}
	return out
}

// AddRow adds a row vector b:[cols] to every row of n:[rows, cols].
func (n *Node) AddRow(b *Node) *Node {
	rows, cols := n.value.Shape().At(0), n.value.Shape().At(1)
	if b.value.Shape().Numel() != cols {
		exceptions.Panicf("nn: AddRow bias length %d != cols %d", b.value.Shape().Numel(), cols)
	}
	src := n.value.DataPtr()
	bias := b.value.DataPtr()
	data := make([]float32, len(src))
	for r := 0; r < rows; r++ {
		off := r * cols
		for j := 0; j < cols; j++ {
			data[off+j] = src[off+j] + bias[j]
		}
	}
	out := &Node{value: FromSliceNoCopy(data, n.value.Shape()), op: "addrow", parents: []*Node{n, b}}
	out.back = func() {
		g := out.grad
		ng, bg := n.ensureGrad(), b.ensureGrad()
		for r := 0; r < rows; r++ {
			off := r * cols
			for j := 0; j < cols; j++ {
				ng[off+j] += g[off+j]
				bg[j] += g[off+j]
			}
		}
	}
	return out
}

// SubOuter forms the outer difference y[i, j] = x_flat[i] - off[j] between
// every scalar of n (flattened to [numel]) and every entry of off:[k].
// Result shape is [numel, k].
func (n *Node) SubOuter(off *Node) *Node {
	numel := n.value.Shape().Numel()
	k := off.value.Shape().Numel()
	x := n.value.DataPtr()
	o := off.value.DataPtr()
	data := make([]float32, numel*k)
	for i := 0; i < numel; i++ {
		row := data[i*k : i*k+k]
		xi := x[i]
		for j := 0; j < k; j++ {
			row[j] = xi - o[j]
		}
	}
	out := &Node{value: FromSliceNoCopy(data, NewShape(numel, k)), op: "subouter", parents: []*Node{n, off}}
	out.back = func() {
		g := out.grad
		ng, og := n.ensureGrad(), off.ensureGrad()
		for i := 0; i < numel; i++ {
			row := g[i*k : i*k+k]
			sum := float32(0)
			for j := 0; j < k; j++ {
				sum += row[j]
				og[j] -= row[j]
			}
			ng[i] += sum
		}
	}
	return out
}

// ScaleCols scales each column of n:[rows, k] by the matching entry of
// a:[k]: y[i, j] = x[i, j] * a[j].
func (n *Node) ScaleCols(a *Node) *Node {
	rows, k := n.value.Shape().At(0), n.value.Shape().At(1)
	if a.value.Shape().Numel() != k {
		exceptions.Panicf("nn: ScaleCols vector length %d != cols %d", a.value.Shape().Numel(), k)
	}
	x := n.value.DataPtr()
	av := a.value.DataPtr()
	data := make([]float32, len(x))
	for i := 0; i < rows; i++ {
		off := i * k
		for j := 0; j < k; j++ {
			data[off+j] = x[off+j] * av[j]
		}
	}
	out := &Node{value: FromSliceNoCopy(data, n.value.Shape()), op: "scalecols", parents: []*Node{n, a}}
	out.back = func() {
		g := out.grad
		ng, ag := n.ensureGrad(), a.ensureGrad()
		for i := 0; i < rows; i++ {
			off := i * k
			for j := 0; j < k; j++ {
				ng[off+j] += g[off+j] * av[j]
				ag[j] += g[off+j] * x[off+j]
			}
		}
	}
	return out
}

// MatVec contracts the last dimension of n:[rows, k] with v:[k],
// producing y:[rows] with y[i] = sum_j x[i, j] * v[j].
func (n *Node) MatVec(v *Node) *Node {
	rows, k := n.value.Shape().At(0), n.value.Shape().At(1)
	if v.value.Shape().Numel() != k {
		exceptions.Panicf("nn: MatVec vector length %d != cols %d", v.value.Shape().Numel(), k)
	}
	x := n.value.DataPtr()
	vec := v.value.DataPtr()
	data := make([]float32, rows)
	for i := 0; i < rows; i++ {
		off := i * k
		sum := float32(0)
		for j := 0; j < k; j++ {
			sum += x[off+j] * vec[j]
		}
		data[i] = sum
	}
	out := &Node{value: FromSliceNoCopy(data, NewShape(rows)), op: "matvec", parents: []*Node{n, v}}
	out.back = func() {
		g := out.grad
		ng, vg := n.ensureGrad(), v.ensureGrad()
		for i := 0; i < rows; i++ {
			off := i * k
			gi := g[i]
			for j := 0; j < k; j++ {
				ng[off+j] += gi * vec[j]
				vg[j] += gi * x[off+j]
			}
		}
	}
	return out
}
