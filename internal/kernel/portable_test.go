package kernel

import (
	"strings"
	"testing"

	"github.com/samcharles93/lattice/internal/graph"
)

func mustResolve(t *testing.T, r *Registry, op string, dt graph.DType) Kernel {
	t.Helper()
	k, err := r.Resolve(Signature{Op: op, DType: dt})
	if err != nil {
		t.Fatalf("resolve %s/%s: %v", op, dt, err)
	}
	return k
}

func f32Op(shape []int, vals []float32) Operand {
	return Operand{Shape: shape, DType: graph.F32, F32: vals}
}

func TestElementwiseValues(t *testing.T) {
	r := New()
	RegisterPortable(r)

	add := mustResolve(t, r, graph.OpAdd, graph.F32)
	dst := make([]float32, 3)
	call := &Call{
		Inputs:  []Operand{f32Op([]int{3}, []float32{1, 2, 3}), f32Op([]int{3}, []float32{10, 20, 30})},
		Outputs: []Operand{f32Op([]int{3}, dst)},
	}
	if err := add.Fn(call); err != nil {
		t.Fatalf("add: %v", err)
	}
	want := []float32{11, 22, 33}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("add[%d] = %v, want %v", i, dst[i], want[i])
		}
	}

	relu := mustResolve(t, r, graph.OpRelu, graph.F32)
	rdst := make([]float32, 4)
	call = &Call{
		Inputs:  []Operand{f32Op([]int{4}, []float32{-2, -0.5, 0, 3})},
		Outputs: []Operand{f32Op([]int{4}, rdst)},
	}
	if err := relu.Fn(call); err != nil {
		t.Fatalf("relu: %v", err)
	}
	rwant := []float32{0, 0, 0, 3}
	for i := range rwant {
		if rdst[i] != rwant[i] {
			t.Fatalf("relu[%d] = %v, want %v", i, rdst[i], rwant[i])
		}
	}
}

func TestElementwiseShapeMismatch(t *testing.T) {
	r := New()
	RegisterPortable(r)
	add := mustResolve(t, r, graph.OpAdd, graph.F32)
	call := &Call{
		Inputs:  []Operand{f32Op([]int{2}, make([]float32, 2)), f32Op([]int{3}, make([]float32, 3))},
		Outputs: []Operand{f32Op([]int{2}, make([]float32, 2))},
	}
	err := add.Fn(call)
	if err == nil || !strings.Contains(err.Error(), "shape mismatch") {
		t.Fatalf("err = %v, want shape mismatch", err)
	}
}

func TestMatmulValues(t *testing.T) {
	r := New()
	RegisterPortable(r)
	mm := mustResolve(t, r, graph.OpMatMul, graph.F32)

	// [2,3] x [3,2]
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{7, 8, 9, 10, 11, 12}
	dst := make([]float32, 4)
	call := &Call{
		Inputs:  []Operand{f32Op([]int{2, 3}, a), f32Op([]int{3, 2}, b)},
		Outputs: []Operand{f32Op([]int{2, 2}, dst)},
	}
	if err := mm.Fn(call); err != nil {
		t.Fatalf("matmul: %v", err)
	}
	want := []float32{58, 64, 139, 154}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("matmul[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	r := New()
	RegisterPortable(r)
	sm := mustResolve(t, r, graph.OpSoftmax, graph.F32)

	src := []float32{1, 2, 3, 10, 10, 10}
	dst := make([]float32, 6)
	call := &Call{
		Inputs:  []Operand{f32Op([]int{2, 3}, src)},
		Outputs: []Operand{f32Op([]int{2, 3}, dst)},
	}
	if err := sm.Fn(call); err != nil {
		t.Fatalf("softmax: %v", err)
	}
	const tol = 1e-5
	for row := 0; row < 2; row++ {
		var sum float32
		for _, v := range dst[row*3 : (row+1)*3] {
			sum += v
		}
		if sum < 1-tol || sum > 1+tol {
			t.Fatalf("row %d sums to %v", row, sum)
		}
	}
	if !(dst[2] > dst[1] && dst[1] > dst[0]) {
		t.Fatalf("softmax not monotone over row: %v", dst[:3])
	}
	// Uniform row stays uniform.
	for _, v := range dst[3:] {
		if v < 1.0/3-tol || v > 1.0/3+tol {
			t.Fatalf("uniform row produced %v", dst[3:])
		}
	}
}

func TestArgmaxTieBreaksLow(t *testing.T) {
	r := New()
	RegisterPortable(r)
	am := mustResolve(t, r, graph.OpArgMax, graph.F32)

	dst := make([]int32, 2)
	call := &Call{
		Inputs:  []Operand{f32Op([]int{2, 4}, []float32{1, 5, 5, 2, -1, -3, -2, -1})},
		Outputs: []Operand{{Shape: []int{2}, DType: graph.I32, I32: dst}},
	}
	if err := am.Fn(call); err != nil {
		t.Fatalf("argmax: %v", err)
	}
	if dst[0] != 1 {
		t.Fatalf("argmax row 0 = %d, want 1 (ties resolve low)", dst[0])
	}
	if dst[1] != 0 {
		t.Fatalf("argmax row 1 = %d, want 0 (ties resolve low)", dst[1])
	}
}

func TestLookupGathersRows(t *testing.T) {
	r := New()
	RegisterPortable(r)
	lk := mustResolve(t, r, graph.OpLookup, graph.F32)

	table := []float32{
		0, 1,
		10, 11,
		20, 21,
	}
	dst := make([]float32, 4)
	call := &Call{
		Inputs: []Operand{
			f32Op([]int{3, 2}, table),
			{Shape: []int{2}, DType: graph.I32, I32: []int32{2, 0}},
		},
		Outputs: []Operand{f32Op([]int{2, 2}, dst)},
	}
	if err := lk.Fn(call); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := []float32{20, 21, 0, 1}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("lookup[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestLookupIndexOutOfRange(t *testing.T) {
	r := New()
	RegisterPortable(r)
	lk := mustResolve(t, r, graph.OpLookup, graph.F32)

	call := &Call{
		Inputs: []Operand{
			f32Op([]int{2, 2}, make([]float32, 4)),
			{Shape: []int{1}, DType: graph.I32, I32: []int32{5}},
		},
		Outputs: []Operand{f32Op([]int{1, 2}, make([]float32, 2))},
	}
	if err := lk.Fn(call); err == nil {
		t.Fatal("lookup accepted out-of-range index")
	}
}
