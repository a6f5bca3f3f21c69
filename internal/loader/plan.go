package loader

import (
	"fmt"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/device"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/pkg/lgf"
)

type StepKind uint8

const (
	StepKernel StepKind = iota
	StepDelegate
)

// Step is one executor dispatch: a single node through the kernel registry,
// or a claimed unit through its delegate.
type Step struct {
	Kind   StepKind
	Node   int // node index; for delegate steps, the first claimed node
	Kernel kernel.Kernel
	Unit   *Unit
}

// Unit is a delegate claim: the exact node set the delegate accepted via
// CanHandle, compiled into one opaque executable.
type Unit struct {
	Delegate string
	Nodes    []int
	Compiled delegate.Compiled
}

// Placement assigns a tensor its arena slot. Offset is -1 for constants,
// which execute directly against the container's bytes.
type Placement struct {
	Offset int
	Size   int
}

// PlanOptions tune the load-time memory planner.
type PlanOptions struct {
	// DisableReuse gives every tensor a distinct arena slot. Outputs must be
	// identical with reuse on or off; the flag exists to verify exactly that
	// and to debug suspected aliasing.
	DisableReuse bool
}

// Plan is an immutable executable graph: validated structure, resolved
// dispatch steps and the static buffer layout. Plans are shared safely across
// concurrent invocations; all per-run state lives in the executor.
type Plan struct {
	Graph      *graph.Graph
	Steps      []Step
	Placements []Placement
	ArenaSize  int

	file *lgf.File
}

// Close releases the underlying file mapping, when the plan owns one.
// Constant tensors must not be used after Close.
func (p *Plan) Close() error {
	if p.file == nil {
		return nil
	}
	f := p.file
	p.file = nil
	return f.Close()
}

// planBuffers computes the static buffer layout. Liveness is derived once
// from the step order: a tensor's slot may back a later tensor as soon as its
// last consumer step has executed. The analysis never runs per-invocation;
// the graph structure is static.
func planBuffers(g *graph.Graph, steps []Step, opts PlanOptions) ([]Placement, int, error) {
	nTensors := len(g.Tensors)
	def := make([]int, nTensors)     // step producing the tensor; -1 for inputs/constants
	lastUse := make([]int, nTensors) // last step reading it
	for i := range def {
		def[i] = -1
		lastUse[i] = -1
	}

	nodeStep := make([]int, len(g.Nodes))
	for si, s := range steps {
		switch s.Kind {
		case StepKernel:
			nodeStep[s.Node] = si
		case StepDelegate:
			for _, ni := range s.Unit.Nodes {
				nodeStep[ni] = si
			}
		}
	}
	for ni := range g.Nodes {
		si := nodeStep[ni]
		n := &g.Nodes[ni]
		for _, t := range n.Inputs {
			if si > lastUse[t] {
				lastUse[t] = si
			}
		}
		for _, t := range n.Outputs {
			def[t] = si
		}
	}
	// Graph outputs are read by the host after the final step.
	for _, t := range g.Outputs {
		lastUse[t] = len(steps)
	}
	// A produced tensor nobody reads still needs its slot while its producer
	// runs.
	for t := range g.Tensors {
		if lastUse[t] < def[t] {
			lastUse[t] = def[t]
		}
	}

	placements := make([]Placement, nTensors)
	arenaSize := 0

	var live []placed

	for t := 0; t < nTensors; t++ {
		tensor := &g.Tensors[t]
		if tensor.IsConst() {
			placements[t] = Placement{Offset: -1, Size: tensor.ByteSize()}
			continue
		}
		size := tensor.ByteSize()
		if size == 0 {
			return nil, 0, fmt.Errorf("%w: tensor %q has zero size", graph.ErrMalformedGraph, tensor.Name)
		}

		var off int
		if opts.DisableReuse {
			off = alignUp(arenaSize, device.DefaultAlign)
		} else {
			off = firstFit(live, size, def[t], lastUse[t])
		}
		placements[t] = Placement{Offset: off, Size: size}
		live = append(live, placed{off: off, size: size, def: def[t], last: lastUse[t]})
		if end := off + size; end > arenaSize {
			arenaSize = end
		}
	}

	return placements, arenaSize, nil
}

// firstFit finds the lowest aligned offset where the candidate's live
// interval does not collide with any already-placed overlapping tensor.
// Intervals are inclusive: a tensor read at step s must not share bytes with
// one produced at step s.
func firstFit(live []placed, size, defStep, lastStep int) int {
	off := 0
	for {
		collision := false
		for _, p := range live {
			if p.last < defStep || p.def > lastStep {
				continue // lifetimes disjoint, sharing is safe
			}
			if off < p.off+p.size && p.off < off+size {
				// Bump past this block and rescan.
				off = alignUp(p.off+p.size, device.DefaultAlign)
				collision = true
			}
		}
		if !collision {
			return off
		}
	}
}

type placed struct {
	off, size, def, last int
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
