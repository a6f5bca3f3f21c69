package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/pkg/lgf"
)

func testRegistry() *kernel.Registry {
	r := kernel.New()
	kernel.RegisterPortable(r)
	return r
}

// chainDef builds a = input, b = input, c = add(a,b), d = const, e = mul(c,d).
func chainDef() *lgf.GraphDef {
	return &lgf.GraphDef{
		Name: "chain",
		Tensors: []lgf.TensorDef{
			{Name: "a", DType: "f32", Shape: []int{4}},
			{Name: "b", DType: "f32", Shape: []int{4}},
			{Name: "c", DType: "f32", Shape: []int{4}},
			{Name: "d", DType: "f32", Shape: []int{4}, Data: []float32{5, 5, 5, 5}},
			{Name: "e", DType: "f32", Shape: []int{4}},
		},
		Nodes: []lgf.NodeDef{
			{Op: graph.OpAdd, Inputs: []string{"a", "b"}, Outputs: []string{"c"}},
			{Op: graph.OpMul, Inputs: []string{"c", "d"}, Outputs: []string{"e"}},
		},
		Inputs:  []string{"a", "b"},
		Outputs: []string{"e"},
	}
}

func encode(t *testing.T, def *lgf.GraphDef) []byte {
	t.Helper()
	data, err := lgf.Encode(def)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestLoadValidGraph(t *testing.T) {
	l := New(testRegistry(), Options{})
	plan, err := l.Load(encode(t, chainDef()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer plan.Close()

	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	for _, s := range plan.Steps {
		if s.Kind != StepKernel {
			t.Fatalf("step for node %d dispatched to a delegate with none registered", s.Node)
		}
	}

	di := plan.Graph.TensorIndex("d")
	if di < 0 {
		t.Fatal("constant tensor missing from graph")
	}
	if plan.Placements[di].Offset != -1 {
		t.Fatalf("constant placed in arena at %d", plan.Placements[di].Offset)
	}
	if got := plan.Graph.Tensors[di].Data; len(got) != 16 {
		t.Fatalf("constant payload = %d bytes, want 16", len(got))
	}
	if plan.ArenaSize <= 0 {
		t.Fatalf("arena size = %d", plan.ArenaSize)
	}
}

func TestLoadRejectsCycle(t *testing.T) {
	def := chainDef()
	// Node 0 consumes e, which node 1 produces: the stored order is no
	// longer topological.
	def.Nodes[0].Inputs = []string{"a", "e"}
	_, err := New(testRegistry(), Options{}).Load(encode(t, def))
	if !errors.Is(err, graph.ErrMalformedGraph) {
		t.Fatalf("err = %v, want ErrMalformedGraph", err)
	}
}

func TestLoadRejectsUnknownTensorName(t *testing.T) {
	def := chainDef()
	def.Nodes[1].Inputs = []string{"c", "ghost"}
	_, err := New(testRegistry(), Options{}).Load(encode(t, def))
	if !errors.Is(err, graph.ErrMalformedGraph) {
		t.Fatalf("err = %v, want ErrMalformedGraph", err)
	}
}

func TestLoadRejectsUnsupportedOperator(t *testing.T) {
	def := chainDef()
	def.Nodes[1].Op = "conv2d"
	_, err := New(testRegistry(), Options{}).Load(encode(t, def))
	if !errors.Is(err, kernel.ErrUnsupportedOperator) {
		t.Fatalf("err = %v, want ErrUnsupportedOperator", err)
	}
}

func TestLoadRejectsFutureMajorVersion(t *testing.T) {
	data := encode(t, chainDef())
	binary.LittleEndian.PutUint16(data[4:6], lgf.CurrentMajor+1)
	_, err := New(testRegistry(), Options{}).Load(data)
	if !errors.Is(err, graph.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestLoadRejectsCorruptContainer(t *testing.T) {
	data := encode(t, chainDef())
	_, err := New(testRegistry(), Options{}).Load(data[:len(data)-4])
	if !errors.Is(err, graph.ErrMalformedGraph) {
		t.Fatalf("err = %v, want ErrMalformedGraph", err)
	}
}

func TestLoadRejectsConstantOutsideSection(t *testing.T) {
	// Replace the inline payload with a packed reference pointing past the
	// tensor-data section.
	def := chainDef()
	def.Tensors[3] = lgf.TensorDef{
		Name: "d", DType: "f32", Shape: []int{4},
		Const: true, DataOffset: 1 << 20, DataSize: 16,
	}
	_, err := New(testRegistry(), Options{}).Load(encode(t, def))
	if !errors.Is(err, graph.ErrMalformedGraph) {
		t.Fatalf("err = %v, want ErrMalformedGraph", err)
	}
}

// recordingDelegate claims contiguous runs of the ops it supports and records
// exactly what Compile received.
type recordingDelegate struct {
	name     string
	ops      map[string]bool
	compiled [][]int
	fail     bool
}

func (d *recordingDelegate) Name() string { return d.name }

func (d *recordingDelegate) CanHandle(g *graph.Graph, nodes []int) bool {
	for _, ni := range nodes {
		if !d.ops[g.Nodes[ni].Op] {
			return false
		}
	}
	return true
}

func (d *recordingDelegate) Compile(g *graph.Graph, nodes []int) (delegate.Compiled, error) {
	if d.fail {
		return nil, fmt.Errorf("no device")
	}
	d.compiled = append(d.compiled, append([]int(nil), nodes...))
	return nopCompiled{}, nil
}

type nopCompiled struct{}

func (nopCompiled) Execute(operands []kernel.Operand) error { return nil }

func TestDelegateClaimsExactAcceptedRun(t *testing.T) {
	d := &recordingDelegate{name: "fake", ops: map[string]bool{graph.OpAdd: true}}
	l := New(testRegistry(), Options{Delegates: []delegate.Delegate{d}})

	plan, err := l.Load(encode(t, chainDef()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer plan.Close()

	if len(d.compiled) != 1 || len(d.compiled[0]) != 1 || d.compiled[0][0] != 0 {
		t.Fatalf("compiled runs = %v, want [[0]]", d.compiled)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[0].Kind != StepDelegate || plan.Steps[1].Kind != StepKernel {
		t.Fatalf("dispatch kinds = %v, %v", plan.Steps[0].Kind, plan.Steps[1].Kind)
	}
	unit := plan.Steps[0].Unit
	if unit == nil || unit.Delegate != "fake" || len(unit.Nodes) != 1 || unit.Nodes[0] != 0 {
		t.Fatalf("unit = %+v", unit)
	}
	if plan.Graph.Nodes[0].Delegate != "fake" {
		t.Fatalf("claimed node affinity = %q, want fake", plan.Graph.Nodes[0].Delegate)
	}
	if plan.Graph.Nodes[1].Delegate != "" {
		t.Fatalf("unclaimed node tagged %q", plan.Graph.Nodes[1].Delegate)
	}
}

func TestDelegateClaimsMaximalRun(t *testing.T) {
	d := &recordingDelegate{name: "fake", ops: map[string]bool{graph.OpAdd: true, graph.OpMul: true}}
	l := New(testRegistry(), Options{Delegates: []delegate.Delegate{d}})

	plan, err := l.Load(encode(t, chainDef()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer plan.Close()

	if len(plan.Steps) != 1 || plan.Steps[0].Kind != StepDelegate {
		t.Fatalf("steps = %+v, want one delegate unit", plan.Steps)
	}
	got := plan.Steps[0].Unit.Nodes
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("claimed nodes = %v, want [0 1]", got)
	}
}

func TestDelegateCompileFailureAbortsLoad(t *testing.T) {
	d := &recordingDelegate{name: "fake", ops: map[string]bool{graph.OpAdd: true}, fail: true}
	l := New(testRegistry(), Options{Delegates: []delegate.Delegate{d}})

	_, err := l.Load(encode(t, chainDef()))
	if !errors.Is(err, delegate.ErrDelegateCompile) {
		t.Fatalf("err = %v, want ErrDelegateCompile", err)
	}
}

func TestFirstDelegateWins(t *testing.T) {
	first := &recordingDelegate{name: "first", ops: map[string]bool{graph.OpAdd: true}}
	second := &recordingDelegate{name: "second", ops: map[string]bool{graph.OpAdd: true, graph.OpMul: true}}
	l := New(testRegistry(), Options{Delegates: []delegate.Delegate{first, second}})

	plan, err := l.Load(encode(t, chainDef()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer plan.Close()

	if plan.Graph.Nodes[0].Delegate != "first" {
		t.Fatalf("node 0 claimed by %q, want first", plan.Graph.Nodes[0].Delegate)
	}
	if plan.Graph.Nodes[1].Delegate != "second" {
		t.Fatalf("node 1 claimed by %q, want second", plan.Graph.Nodes[1].Delegate)
	}
}

// wideDef produces a longer chain where intermediates die quickly, so buffer
// reuse must shrink the arena.
func wideDef() *lgf.GraphDef {
	def := &lgf.GraphDef{
		Name: "wide",
		Tensors: []lgf.TensorDef{
			{Name: "t0", DType: "f32", Shape: []int{1024}},
		},
		Inputs: []string{"t0"},
	}
	prev := "t0"
	for i := 1; i <= 6; i++ {
		name := fmt.Sprintf("t%d", i)
		def.Tensors = append(def.Tensors, lgf.TensorDef{Name: name, DType: "f32", Shape: []int{1024}})
		def.Nodes = append(def.Nodes, lgf.NodeDef{
			Op: graph.OpRelu, Inputs: []string{prev}, Outputs: []string{name},
		})
		prev = name
	}
	def.Outputs = []string{prev}
	return def
}

func TestBufferReuseShrinksArena(t *testing.T) {
	data := encode(t, wideDef())

	reused, err := New(testRegistry(), Options{}).Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer reused.Close()

	flat, err := New(testRegistry(), Options{Plan: PlanOptions{DisableReuse: true}}).Load(data)
	if err != nil {
		t.Fatalf("load without reuse: %v", err)
	}
	defer flat.Close()

	if reused.ArenaSize >= flat.ArenaSize {
		t.Fatalf("arena with reuse (%d) not smaller than without (%d)", reused.ArenaSize, flat.ArenaSize)
	}
}

func TestReuseNeverAliasesLiveTensors(t *testing.T) {
	plan, err := New(testRegistry(), Options{}).Load(encode(t, wideDef()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer plan.Close()

	g := plan.Graph
	for ni, n := range g.Nodes {
		for _, in := range n.Inputs {
			for _, out := range n.Outputs {
				a, b := plan.Placements[in], plan.Placements[out]
				if a.Offset < 0 || b.Offset < 0 {
					continue
				}
				if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
					t.Fatalf("node %d input %q and output %q share bytes", ni,
						g.Tensors[in].Name, g.Tensors[out].Name)
				}
			}
		}
	}
}
