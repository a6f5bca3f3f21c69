// Package runner is the auxiliary higher-level generation loop: it drives a
// loaded plan autoregressively, feeding the argmax of the logits output back
// in as the next token until a stop id or the step limit is hit. It sits
// strictly above the executor; nothing here touches buffers or dispatch.
package runner

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/lattice/internal/executor"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/loader"
)

type Stats struct {
	StepsRun int
	Duration time.Duration
	TPS      float64
}

// Runner manages the state of a generation session over one plan.
//
// The plan must expose a single-element i32 input (the current token) and a
// rank-1 f32 output (the logits); Validate reports violations before any
// invocation runs.
type Runner struct {
	Exec     *executor.Executor
	Plan     *loader.Plan
	StopIDs  []int32
	MaxSteps int
}

// Validate checks the plan against the runner's graph contract.
func (r *Runner) Validate() error {
	g := r.Plan.Graph
	if len(g.Inputs) != 1 || len(g.Outputs) != 1 {
		return fmt.Errorf("runner: graph must have exactly one input and one output, has %d/%d",
			len(g.Inputs), len(g.Outputs))
	}
	in := &g.Tensors[g.Inputs[0]]
	if in.DType != graph.I32 || in.Elems() != 1 {
		return fmt.Errorf("runner: input %q must be a single-element i32 tensor", in.Name)
	}
	out := &g.Tensors[g.Outputs[0]]
	if out.DType != graph.F32 {
		return fmt.Errorf("runner: output %q must be f32 logits", out.Name)
	}
	return nil
}

// Run feeds the seed tokens through the plan, then generates until a stop id,
// the step limit, or context cancellation. stream, when non-nil, is called
// with each generated token as it is produced.
func (r *Runner) Run(ctx context.Context, seed []int32, stream func(int32)) ([]int32, Stats, error) {
	var stats Stats
	if err := r.Validate(); err != nil {
		return nil, stats, err
	}
	if len(seed) == 0 {
		return nil, stats, fmt.Errorf("runner: empty seed sequence")
	}

	g := r.Plan.Graph
	inputName := g.Tensors[g.Inputs[0]].Name
	start := time.Now()

	forward := func(tok int32) ([]float32, error) {
		res, err := r.Exec.Run(ctx, r.Plan, []executor.Value{{Name: inputName, I32: []int32{tok}}})
		if err != nil {
			return nil, err
		}
		return res.Outputs[0].F32, nil
	}

	// Prefill: the last seed token's logits seed the loop.
	var logits []float32
	var err error
	for _, tok := range seed {
		logits, err = forward(tok)
		if err != nil {
			return nil, stats, fmt.Errorf("runner: prefill: %w", err)
		}
	}

	toks := append([]int32(nil), seed...)
	limit := r.MaxSteps
	if limit <= 0 {
		limit = 1 << 20
	}

	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return toks, stats, err
		}
		next := argmax(logits)
		if slices.Contains(r.StopIDs, next) {
			break
		}
		toks = append(toks, next)
		if stream != nil {
			stream(next)
		}

		logits, err = forward(next)
		if err != nil {
			return toks, stats, fmt.Errorf("runner: step %d: %w", i, err)
		}
		stats.StepsRun++
	}

	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.StepsRun) / stats.Duration.Seconds()
	}
	return toks, stats, nil
}

func argmax(logits []float32) int32 {
	best := 0
	for i, v := range logits[1:] {
		if v > logits[best] {
			best = i + 1
		}
	}
	return int32(best)
}
