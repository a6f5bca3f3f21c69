// Package executor runs loaded plans: it walks the dispatch steps in stored
// topological order, invoking kernels per node and delegates per claimed
// unit, with all tensor traffic inside a per-invocation arena. Plans and the
// kernel registry are shared read-only; every piece of mutable state lives in
// the invocation.
package executor

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/device"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/loader"
	"github.com/samcharles93/lattice/internal/logger"
)

// State tracks one invocation: Idle -> Running -> Completed or Failed.
type State uint8

const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Value is a host-side tensor: the binding boundary between caller arrays and
// arena-backed descriptors. Exactly one of F32/I32 is set.
type Value struct {
	Name string
	F32  []float32
	I32  []int32
}

// Result reports one invocation. On failure, FailedNode carries the index of
// the originating node, or FailedUnit the delegate name when a claimed unit
// faulted as a whole; Outputs is nil — partial values are never exposed.
type Result struct {
	State      State
	Outputs    []Value
	FailedNode int
	FailedUnit string
	Duration   time.Duration
}

type Options struct {
	// Pool recycles invocation arenas. A shared pool is optional; without one
	// each invocation allocates a fresh arena.
	Pool   *device.Pool
	Logger logger.Logger
}

type Executor struct {
	pool *device.Pool
	log  logger.Logger
}

func New(opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	pool := opts.Pool
	if pool == nil {
		pool = device.NewPool(0)
	}
	return &Executor{pool: pool, log: log}
}

// Run executes the plan against the given inputs. The returned Result is
// always non-nil; err is non-nil exactly when Result.State is Failed.
func (e *Executor) Run(ctx context.Context, plan *loader.Plan, inputs []Value) (*Result, error) {
	res := &Result{State: Idle, FailedNode: -1}
	start := time.Now()
	fail := func(node int, unit string, err error) (*Result, error) {
		res.State = Failed
		res.FailedNode = node
		res.FailedUnit = unit
		res.Duration = time.Since(start)
		return res, err
	}

	g := plan.Graph
	arena := e.pool.Get(plan.ArenaSize)
	defer e.pool.Put(arena)

	res.State = Running

	operands, err := bindOperands(g, plan.Placements, arena)
	if err != nil {
		return fail(-1, "", err)
	}
	if err := copyInputs(g, operands, inputs); err != nil {
		return fail(-1, "", err)
	}

	for si := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return fail(-1, "", err)
		}
		step := &plan.Steps[si]
		switch step.Kind {
		case loader.StepKernel:
			if err := invokeKernel(g, operands, step); err != nil {
				e.log.Error("kernel step failed", "node", step.Node, "op", g.Nodes[step.Node].Op, "err", err)
				return fail(step.Node, "", fmt.Errorf("node %d (%s): %w", step.Node, g.Nodes[step.Node].Op, err))
			}
		case loader.StepDelegate:
			if err := step.Unit.Compiled.Execute(operands); err != nil {
				e.log.Error("delegate unit failed", "delegate", step.Unit.Delegate, "nodes", len(step.Unit.Nodes), "err", err)
				return fail(-1, step.Unit.Delegate,
					fmt.Errorf("%w: unit %s (%d nodes): %v",
						delegate.ErrDelegateExecution, step.Unit.Delegate, len(step.Unit.Nodes), err))
			}
		}
	}

	res.Outputs = collectOutputs(g, operands)
	res.State = Completed
	res.Duration = time.Since(start)
	return res, nil
}

// bindOperands builds the invocation's tensor table: constants view the
// container bytes directly, everything else views its planned arena slot.
func bindOperands(g *graph.Graph, placements []loader.Placement, arena *device.Arena) ([]kernel.Operand, error) {
	operands := make([]kernel.Operand, len(g.Tensors))
	for i := range g.Tensors {
		t := &g.Tensors[i]
		op := kernel.Operand{Shape: t.Shape, DType: t.DType}
		if t.IsConst() {
			switch t.DType {
			case graph.F32:
				op.F32 = f32View(t.Data)
			case graph.I32:
				op.I32 = i32View(t.Data)
			}
		} else {
			p := placements[i]
			if p.Offset < 0 || p.Offset+p.Size > arena.Size() {
				return nil, fmt.Errorf("%w: tensor %q slot [%d,%d) outside arena of %d bytes",
					device.ErrOutOfMemory, t.Name, p.Offset, p.Offset+p.Size, arena.Size())
			}
			switch t.DType {
			case graph.F32:
				op.F32 = arena.Float32(p.Offset, t.Elems())
			case graph.I32:
				op.I32 = arena.Int32(p.Offset, t.Elems())
			}
		}
		operands[i] = op
	}
	return operands, nil
}

func copyInputs(g *graph.Graph, operands []kernel.Operand, inputs []Value) error {
	if len(inputs) != len(g.Inputs) {
		return fmt.Errorf("executor: graph expects %d inputs, got %d", len(g.Inputs), len(inputs))
	}
	bound := make(map[int]bool, len(g.Inputs))
	for _, v := range inputs {
		idx := g.TensorIndex(v.Name)
		if idx < 0 {
			return fmt.Errorf("executor: unknown input tensor %q", v.Name)
		}
		declared := false
		for _, in := range g.Inputs {
			if in == idx {
				declared = true
				break
			}
		}
		if !declared {
			return fmt.Errorf("executor: tensor %q is not a graph input", v.Name)
		}
		if bound[idx] {
			return fmt.Errorf("executor: input %q bound more than once", v.Name)
		}
		bound[idx] = true

		op := &operands[idx]
		switch g.Tensors[idx].DType {
		case graph.F32:
			if len(v.F32) != op.Elems() {
				return fmt.Errorf("executor: input %q has %d elements, want %d", v.Name, len(v.F32), op.Elems())
			}
			copy(op.F32, v.F32)
		case graph.I32:
			if len(v.I32) != op.Elems() {
				return fmt.Errorf("executor: input %q has %d elements, want %d", v.Name, len(v.I32), op.Elems())
			}
			copy(op.I32, v.I32)
		}
	}
	for _, in := range g.Inputs {
		if !bound[in] {
			return fmt.Errorf("executor: graph input %q is not bound", g.Tensors[in].Name)
		}
	}
	return nil
}

func invokeKernel(g *graph.Graph, operands []kernel.Operand, step *loader.Step) error {
	n := &g.Nodes[step.Node]
	call := kernel.Call{
		Inputs:  make([]kernel.Operand, len(n.Inputs)),
		Outputs: make([]kernel.Operand, len(n.Outputs)),
	}
	for i, t := range n.Inputs {
		call.Inputs[i] = operands[t]
	}
	for i, t := range n.Outputs {
		call.Outputs[i] = operands[t]
	}
	return step.Kernel.Fn(&call)
}

// collectOutputs copies output tensors out of the arena into fresh host
// slices, so results survive arena reuse.
func collectOutputs(g *graph.Graph, operands []kernel.Operand) []Value {
	outs := make([]Value, len(g.Outputs))
	for i, t := range g.Outputs {
		v := Value{Name: g.Tensors[t].Name}
		switch g.Tensors[t].DType {
		case graph.F32:
			v.F32 = append([]float32(nil), operands[t].F32...)
		case graph.I32:
			v.I32 = append([]int32(nil), operands[t].I32...)
		}
		outs[i] = v
	}
	return outs
}

func f32View(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func i32View(b []byte) []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}
