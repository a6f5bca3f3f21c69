package vector

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
)

// fusedGraph is y = sigmoid(relu(a+b)) * s over elems elements.
func fusedGraph(elems int) *graph.Graph {
	return &graph.Graph{
		Tensors: []graph.Tensor{
			{Name: "a", Shape: []int{elems}, DType: graph.F32},
			{Name: "b", Shape: []int{elems}, DType: graph.F32},
			{Name: "s", Shape: []int{1}, DType: graph.F32},
			{Name: "t0", Shape: []int{elems}, DType: graph.F32},
			{Name: "t1", Shape: []int{elems}, DType: graph.F32},
			{Name: "t2", Shape: []int{elems}, DType: graph.F32},
			{Name: "y", Shape: []int{elems}, DType: graph.F32},
		},
		Nodes: []graph.Node{
			{Op: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{3}},
			{Op: graph.OpRelu, Inputs: []int{3}, Outputs: []int{4}},
			{Op: graph.OpSigmoid, Inputs: []int{4}, Outputs: []int{5}},
			{Op: graph.OpScale, Inputs: []int{5, 2}, Outputs: []int{6}},
		},
		Inputs:  []int{0, 1, 2},
		Outputs: []int{6},
	}
}

func operandsFor(g *graph.Graph) []kernel.Operand {
	ops := make([]kernel.Operand, len(g.Tensors))
	for i := range g.Tensors {
		t := &g.Tensors[i]
		ops[i] = kernel.Operand{Shape: t.Shape, DType: t.DType, F32: make([]float32, t.Elems())}
	}
	return ops
}

func TestCanHandleElementwiseOnly(t *testing.T) {
	e := New()
	g := fusedGraph(8)
	if !e.CanHandle(g, []int{0, 1, 2, 3}) {
		t.Fatal("rejected a pure elementwise run")
	}

	g.Nodes[1].Op = graph.OpMatMul
	if e.CanHandle(g, []int{0, 1, 2, 3}) {
		t.Fatal("accepted a run containing matmul")
	}

	g = fusedGraph(8)
	g.Tensors[0].DType = graph.I32
	if e.CanHandle(g, []int{0}) {
		t.Fatal("accepted an i32 operand")
	}

	if e.CanHandle(fusedGraph(8), nil) {
		t.Fatal("accepted an empty run")
	}
}

func TestFusedProgramMatchesReference(t *testing.T) {
	// Large enough to force the parallel path.
	const elems = 3 * minChunk
	g := fusedGraph(elems)
	e := New()

	prog, err := e.Compile(g, []int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ops := operandsFor(g)
	for i := 0; i < elems; i++ {
		ops[0].F32[i] = float32(i%17)*0.5 - 4
		ops[1].F32[i] = float32(i%13)*0.25 - 1
	}
	ops[2].F32[0] = 3

	if err := prog.Execute(ops); err != nil {
		t.Fatalf("execute: %v", err)
	}

	for i := 0; i < elems; i++ {
		x := ops[0].F32[i] + ops[1].F32[i]
		if x < 0 {
			x = 0
		}
		want := (1 / (1 + math32.Exp(-x))) * 3
		if got := ops[6].F32[i]; got != want {
			t.Fatalf("elem %d = %v, want %v", i, got, want)
		}
	}
}

func TestExecuteIsDeterministic(t *testing.T) {
	const elems = 2 * minChunk
	g := fusedGraph(elems)
	prog, err := New().Compile(g, []int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ops := operandsFor(g)
	for i := 0; i < elems; i++ {
		ops[0].F32[i] = float32(i) * 1e-3
		ops[1].F32[i] = float32(elems-i) * 1e-3
	}
	ops[2].F32[0] = 0.7

	if err := prog.Execute(ops); err != nil {
		t.Fatalf("execute: %v", err)
	}
	first := append([]float32(nil), ops[6].F32...)

	for run := 0; run < 5; run++ {
		if err := prog.Execute(ops); err != nil {
			t.Fatalf("execute %d: %v", run, err)
		}
		for i := range first {
			if ops[6].F32[i] != first[i] {
				t.Fatalf("run %d elem %d = %v, first = %v", run, i, ops[6].F32[i], first[i])
			}
		}
	}
}

func TestCompileRejectsShapeMismatch(t *testing.T) {
	g := fusedGraph(8)
	g.Tensors[4].Shape = []int{4} // relu output smaller than input
	if _, err := New().Compile(g, []int{0, 1, 2, 3}); err == nil {
		t.Fatal("compile accepted mismatched shapes")
	}
}

func TestExecuteRejectsShortOperand(t *testing.T) {
	g := fusedGraph(8)
	prog, err := New().Compile(g, []int{0})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ops := operandsFor(g)
	ops[3].F32 = ops[3].F32[:2]
	if err := prog.Execute(ops); err == nil {
		t.Fatal("execute accepted a short output buffer")
	}
}
