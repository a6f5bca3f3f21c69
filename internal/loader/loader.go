// Package loader turns a serialized LGF container into an executable Plan:
// it builds and validates the in-memory graph, offers delegates their claims,
// resolves every remaining node to a kernel, and computes the static buffer
// layout. Load either returns a complete plan or fails; no partially loaded
// graph ever escapes.
package loader

import (
	"errors"
	"fmt"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/pkg/lgf"
)

type Options struct {
	// Delegates are offered subgraphs in slice order before kernel dispatch.
	Delegates []delegate.Delegate
	Plan      PlanOptions
	Logger    logger.Logger
}

type Loader struct {
	registry  *kernel.Registry
	delegates []delegate.Delegate
	planOpts  PlanOptions
	log       logger.Logger
}

func New(registry *kernel.Registry, opts Options) *Loader {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Loader{
		registry:  registry,
		delegates: opts.Delegates,
		planOpts:  opts.Plan,
		log:       log,
	}
}

// Load builds a plan from an in-memory container image. The returned plan
// aliases constant tensor data in data; the caller keeps data alive for the
// plan's lifetime.
func (l *Loader) Load(data []byte) (*Plan, error) {
	f, err := lgf.OpenBytes(data)
	if err != nil {
		return nil, mapFormatError(err)
	}
	return l.loadFile(f, false)
}

// LoadFile memory-maps an .lgf file and builds a plan from it. Closing the
// plan releases the mapping.
func (l *Loader) LoadFile(path string) (*Plan, error) {
	f, err := lgf.Open(path)
	if err != nil {
		return nil, mapFormatError(err)
	}
	p, err := l.loadFile(f, true)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return p, nil
}

func (l *Loader) loadFile(f *lgf.File, owned bool) (*Plan, error) {
	def, err := f.GraphDef()
	if err != nil {
		return nil, mapFormatError(err)
	}

	g, err := buildGraph(def, f.TensorData())
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	steps, err := l.planDispatch(g)
	if err != nil {
		return nil, err
	}

	placements, arenaSize, err := planBuffers(g, steps, l.planOpts)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Graph:      g,
		Steps:      steps,
		Placements: placements,
		ArenaSize:  arenaSize,
	}
	if owned {
		plan.file = f
	}
	l.log.Debug("graph loaded",
		"name", g.Name,
		"nodes", len(g.Nodes),
		"tensors", len(g.Tensors),
		"steps", len(steps),
		"arena_bytes", arenaSize,
	)
	return plan, nil
}

// mapFormatError translates container-level failures into the runtime's
// error taxonomy.
func mapFormatError(err error) error {
	switch {
	case errors.Is(err, lgf.ErrUnsupportedMajor):
		return fmt.Errorf("%w: %v", graph.ErrVersionMismatch, err)
	case errors.Is(err, lgf.ErrInvalidMagic), errors.Is(err, lgf.ErrCorruptFile):
		return fmt.Errorf("%w: %v", graph.ErrMalformedGraph, err)
	default:
		return err
	}
}

// buildGraph resolves the name-based definition into the index-based runtime
// graph and attaches constant payload slices.
func buildGraph(def *lgf.GraphDef, tensorData []byte) (*graph.Graph, error) {
	g := &graph.Graph{
		Name:    def.Name,
		Tensors: make([]graph.Tensor, len(def.Tensors)),
	}

	index := make(map[string]int, len(def.Tensors))
	for i := range def.Tensors {
		td := &def.Tensors[i]
		if td.Name == "" {
			return nil, fmt.Errorf("%w: tensor %d has no name", graph.ErrMalformedGraph, i)
		}
		if _, dup := index[td.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor name %q", graph.ErrMalformedGraph, td.Name)
		}
		index[td.Name] = i

		dt, err := graph.ParseDType(td.DType)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", graph.ErrMalformedGraph, td.Name, err)
		}
		t := graph.Tensor{Name: td.Name, Shape: td.Shape, DType: dt}

		if td.Const {
			lo, hi := td.DataOffset, td.DataOffset+td.DataSize
			if lo < 0 || hi < lo || hi > int64(len(tensorData)) {
				return nil, fmt.Errorf("%w: constant %q data range [%d,%d) outside tensor-data section (%d bytes)",
					graph.ErrMalformedGraph, td.Name, lo, hi, len(tensorData))
			}
			t.Data = tensorData[lo:hi]
		}
		g.Tensors[i] = t
	}

	resolve := func(names []string, kind string) ([]int, error) {
		out := make([]int, len(names))
		for i, name := range names {
			idx, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s references unknown tensor %q", graph.ErrMalformedGraph, kind, name)
			}
			out[i] = idx
		}
		return out, nil
	}

	g.Nodes = make([]graph.Node, len(def.Nodes))
	for i := range def.Nodes {
		nd := &def.Nodes[i]
		ins, err := resolve(nd.Inputs, fmt.Sprintf("node %d", i))
		if err != nil {
			return nil, err
		}
		outs, err := resolve(nd.Outputs, fmt.Sprintf("node %d", i))
		if err != nil {
			return nil, err
		}
		g.Nodes[i] = graph.Node{Op: nd.Op, Inputs: ins, Outputs: outs}
	}

	var err error
	if g.Inputs, err = resolve(def.Inputs, "graph inputs"); err != nil {
		return nil, err
	}
	if g.Outputs, err = resolve(def.Outputs, "graph outputs"); err != nil {
		return nil, err
	}
	return g, nil
}

// planDispatch walks nodes in stored topological order, offering each
// delegate the longest contiguous run it will accept before falling back to
// per-node kernel dispatch.
func (l *Loader) planDispatch(g *graph.Graph) ([]Step, error) {
	var steps []Step
	i := 0
	for i < len(g.Nodes) {
		if unit, next, err := l.tryClaim(g, i); err != nil {
			return nil, err
		} else if unit != nil {
			steps = append(steps, Step{Kind: StepDelegate, Node: i, Unit: unit})
			i = next
			continue
		}

		n := &g.Nodes[i]
		sig := nodeSignature(g, n)
		k, err := l.registry.Resolve(sig)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		steps = append(steps, Step{Kind: StepKernel, Node: i, Kernel: k})
		i++
	}
	return steps, nil
}

func (l *Loader) tryClaim(g *graph.Graph, start int) (*Unit, int, error) {
	for _, d := range l.delegates {
		run := []int{start}
		if !d.CanHandle(g, run) {
			continue
		}
		end := start + 1
		for end < len(g.Nodes) {
			cand := append(run, end)
			if !d.CanHandle(g, cand) {
				break
			}
			run = cand
			end++
		}

		compiled, err := d.Compile(g, run)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s claiming nodes %v: %v",
				delegate.ErrDelegateCompile, d.Name(), run, err)
		}
		for _, ni := range run {
			g.Nodes[ni].Delegate = d.Name()
		}
		l.log.Debug("delegate claim", "delegate", d.Name(), "nodes", len(run), "first_node", start)
		return &Unit{Delegate: d.Name(), Nodes: run, Compiled: compiled}, end, nil
	}
	return nil, 0, nil
}

// nodeSignature derives the registry signature for a node: the operator id
// plus the element type it consumes.
func nodeSignature(g *graph.Graph, n *graph.Node) kernel.Signature {
	dt := graph.F32
	if len(n.Inputs) > 0 {
		dt = g.Tensors[n.Inputs[0]].DType
	} else if len(n.Outputs) > 0 {
		dt = g.Tensors[n.Outputs[0]].DType
	}
	return kernel.Signature{Op: n.Op, DType: dt}
}
