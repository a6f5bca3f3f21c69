package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/samcharles93/lattice/internal/executor"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/loader"
	"github.com/samcharles93/lattice/pkg/lgf"
)

// cycleDef builds a lookup graph whose baked transition table walks tokens in
// a fixed cycle: token i always produces logits peaking at (i+1) mod vocab.
func cycleDef(vocab int) *lgf.GraphDef {
	table := make([]float32, vocab*vocab)
	for i := 0; i < vocab; i++ {
		table[i*vocab+(i+1)%vocab] = 1
	}
	return &lgf.GraphDef{
		Name: "cycle",
		Tensors: []lgf.TensorDef{
			{Name: "tok", DType: "i32", Shape: []int{1}},
			{Name: "table", DType: "f32", Shape: []int{vocab, vocab}, Data: table},
			{Name: "logits", DType: "f32", Shape: []int{1, vocab}},
		},
		Nodes: []lgf.NodeDef{
			{Op: graph.OpLookup, Inputs: []string{"table", "tok"}, Outputs: []string{"logits"}},
		},
		Inputs:  []string{"tok"},
		Outputs: []string{"logits"},
	}
}

func mustPlan(t *testing.T, def *lgf.GraphDef) *loader.Plan {
	t.Helper()
	data, err := lgf.Encode(def)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r := kernel.New()
	kernel.RegisterPortable(r)
	plan, err := loader.New(r, loader.Options{}).Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return plan
}

func TestRunStopsOnStopID(t *testing.T) {
	plan := mustPlan(t, cycleDef(4))
	defer plan.Close()

	r := &Runner{
		Exec:     executor.New(executor.Options{}),
		Plan:     plan,
		StopIDs:  []int32{3},
		MaxSteps: 100,
	}

	var streamed []int32
	toks, stats, err := r.Run(context.Background(), []int32{0}, func(t int32) {
		streamed = append(streamed, t)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []int32{0, 1, 2}
	if len(toks) != len(want) {
		t.Fatalf("tokens = %v, want %v", toks, want)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", toks, want)
		}
	}
	if len(streamed) != 2 || streamed[0] != 1 || streamed[1] != 2 {
		t.Fatalf("streamed = %v, want [1 2]", streamed)
	}
	if stats.StepsRun != 2 {
		t.Fatalf("steps = %d, want 2", stats.StepsRun)
	}
	if stats.Duration <= 0 || stats.TPS <= 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRunHonorsMaxSteps(t *testing.T) {
	plan := mustPlan(t, cycleDef(4))
	defer plan.Close()

	r := &Runner{
		Exec:     executor.New(executor.Options{}),
		Plan:     plan,
		MaxSteps: 5,
	}
	toks, stats, err := r.Run(context.Background(), []int32{0}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(toks) != 6 {
		t.Fatalf("tokens = %v, want seed + 5 generated", toks)
	}
	if stats.StepsRun != 5 {
		t.Fatalf("steps = %d, want 5", stats.StepsRun)
	}
	// The cycle is deterministic: 0 1 2 3 0 1.
	want := []int32{0, 1, 2, 3, 0, 1}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", toks, want)
		}
	}
}

func TestRunRejectsEmptySeed(t *testing.T) {
	plan := mustPlan(t, cycleDef(4))
	defer plan.Close()

	r := &Runner{Exec: executor.New(executor.Options{}), Plan: plan, MaxSteps: 1}
	if _, _, err := r.Run(context.Background(), nil, nil); err == nil {
		t.Fatal("empty seed accepted")
	}
}

func TestRunSurfacesPrefillFault(t *testing.T) {
	plan := mustPlan(t, cycleDef(4))
	defer plan.Close()

	r := &Runner{Exec: executor.New(executor.Options{}), Plan: plan, MaxSteps: 1}
	_, _, err := r.Run(context.Background(), []int32{42}, nil)
	if err == nil {
		t.Fatal("out-of-range seed token accepted")
	}
	if !strings.Contains(err.Error(), "prefill") {
		t.Fatalf("err %q does not name the prefill phase", err)
	}
}

func TestValidateRejectsWrongContract(t *testing.T) {
	def := cycleDef(4)
	def.Tensors[0].DType = "f32" // token input must be i32
	plan := mustPlan(t, def)
	defer plan.Close()

	r := &Runner{Exec: executor.New(executor.Options{}), Plan: plan}
	if err := r.Validate(); err == nil {
		t.Fatal("Validate accepted an f32 token input")
	}
}
