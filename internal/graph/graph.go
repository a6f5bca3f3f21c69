// Package graph defines the in-memory executable graph: tensors, operator
// nodes and the structural invariants the loader enforces before a graph is
// handed to the executor. A Graph is immutable once built; only the bytes
// behind its tensors change during execution.
package graph

import (
	"fmt"
)

// Operator identifiers shared between the serialized format, the kernel
// registry and the delegates.
const (
	OpAdd     = "add"
	OpSub     = "sub"
	OpMul     = "mul"
	OpDiv     = "div"
	OpMatMul  = "matmul"
	OpRelu    = "relu"
	OpSigmoid = "sigmoid"
	OpTanh    = "tanh"
	OpExp     = "exp"
	OpSoftmax = "softmax"
	OpScale   = "scale"
	OpArgMax  = "argmax"
	OpLookup  = "lookup"
)

// Tensor describes one value flowing through the graph: its shape, element
// type and where its bytes live. Constants carry their raw little-endian
// payload in Data; every other tensor is backed by an arena slot assigned by
// the memory planner.
type Tensor struct {
	Name  string
	Shape []int
	DType DType

	// Data holds the raw bytes of a constant (weight) tensor, sliced out of
	// the container file. Nil for arena-backed tensors.
	Data []byte
}

// Elems returns the element count implied by the shape.
func (t *Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ByteSize returns the buffer size required to hold the tensor.
func (t *Tensor) ByteSize() int {
	return t.Elems() * t.DType.ElemSize()
}

// IsConst reports whether the tensor is a constant baked into the model file.
func (t *Tensor) IsConst() bool {
	return t.Data != nil
}

// Node is one operator invocation. Inputs and Outputs index into the graph's
// tensor table. Delegate is the backend-affinity tag, set at load time when a
// delegate claims the node; empty means ordinary kernel dispatch.
type Node struct {
	Op       string
	Inputs   []int
	Outputs  []int
	Delegate string
}

// Graph is a directed acyclic set of operator nodes plus designated input and
// output tensors. Nodes are stored in the topological order carried by the
// serialized format; Validate checks that order rather than recomputing it.
type Graph struct {
	Name    string
	Tensors []Tensor
	Nodes   []Node
	Inputs  []int
	Outputs []int
}

// Producer returns the index of the node producing tensor t, or -1 when the
// tensor is a graph input or constant.
func (g *Graph) Producer(t int) int {
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			if out == t {
				return i
			}
		}
	}
	return -1
}

// Validate enforces the structural invariants:
//
//   - every tensor reference is in range
//   - every node input is a graph input, a constant, or the output of an
//     earlier node (this is the acyclicity check: the stored order must be a
//     valid topological order)
//   - every tensor is produced by at most one node
//   - constants and graph inputs are never written
//
// Violations are reported wrapped in ErrMalformedGraph.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrMalformedGraph)
	}

	produced := make([]int, len(g.Tensors))
	for i := range produced {
		produced[i] = -1
	}

	ready := make([]bool, len(g.Tensors))
	for _, in := range g.Inputs {
		if in < 0 || in >= len(g.Tensors) {
			return fmt.Errorf("%w: graph input tensor %d out of range", ErrMalformedGraph, in)
		}
		ready[in] = true
	}
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if t.IsConst() {
			if want, got := t.ByteSize(), len(t.Data); want != got {
				return fmt.Errorf("%w: constant %q has %d bytes, shape requires %d",
					ErrMalformedGraph, t.Name, got, want)
			}
			ready[i] = true
		}
		for _, d := range t.Shape {
			if d <= 0 {
				return fmt.Errorf("%w: tensor %q has non-positive dimension %d",
					ErrMalformedGraph, t.Name, d)
			}
		}
	}

	for ni := range g.Nodes {
		n := &g.Nodes[ni]
		if n.Op == "" {
			return fmt.Errorf("%w: node %d has no operator id", ErrMalformedGraph, ni)
		}
		for _, in := range n.Inputs {
			if in < 0 || in >= len(g.Tensors) {
				return fmt.Errorf("%w: node %d input tensor %d out of range", ErrMalformedGraph, ni, in)
			}
			if !ready[in] {
				return fmt.Errorf("%w: node %d (%s) consumes tensor %q before it is produced",
					ErrMalformedGraph, ni, n.Op, g.Tensors[in].Name)
			}
		}
		for _, out := range n.Outputs {
			if out < 0 || out >= len(g.Tensors) {
				return fmt.Errorf("%w: node %d output tensor %d out of range", ErrMalformedGraph, ni, out)
			}
			if g.Tensors[out].IsConst() {
				return fmt.Errorf("%w: node %d writes constant tensor %q", ErrMalformedGraph, ni, g.Tensors[out].Name)
			}
			if prev := produced[out]; prev != -1 {
				return fmt.Errorf("%w: tensor %q produced by both node %d and node %d",
					ErrMalformedGraph, g.Tensors[out].Name, prev, ni)
			}
			for _, in := range g.Inputs {
				if in == out {
					return fmt.Errorf("%w: node %d writes graph input %q", ErrMalformedGraph, ni, g.Tensors[out].Name)
				}
			}
			produced[out] = ni
			ready[out] = true
		}
	}

	if len(g.Outputs) == 0 {
		return fmt.Errorf("%w: graph declares no outputs", ErrMalformedGraph)
	}
	for _, out := range g.Outputs {
		if out < 0 || out >= len(g.Tensors) {
			return fmt.Errorf("%w: graph output tensor %d out of range", ErrMalformedGraph, out)
		}
		if !ready[out] {
			return fmt.Errorf("%w: graph output %q is never produced", ErrMalformedGraph, g.Tensors[out].Name)
		}
	}

	return nil
}

// TensorIndex returns the index of the named tensor, or -1.
func (g *Graph) TensorIndex(name string) int {
	for i := range g.Tensors {
		if g.Tensors[i].Name == name {
			return i
		}
	}
	return -1
}
