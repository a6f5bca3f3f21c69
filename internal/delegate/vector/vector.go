// Package vector implements the vector-engine delegate: it claims contiguous
// runs of elementwise float32 nodes and executes them as one fused program,
// splitting each loop across a worker pool. Chunks are disjoint index ranges,
// so the internal concurrency never changes output values.
package vector

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/chewxy/math32"

	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
)

// minChunk keeps tiny tensors on a single worker; fan-out costs more than the
// loop below this size.
const minChunk = 4096

type Engine struct {
	workers int
}

func New() *Engine {
	return &Engine{workers: runtime.GOMAXPROCS(0)}
}

func (e *Engine) Name() string { return "vector" }

type stepKind uint8

const (
	stepUnary stepKind = iota
	stepBinary
	stepScale
)

type step struct {
	kind  stepKind
	unary func(x float32) float32
	bin   func(a, b float32) float32
	a, b  int // input tensor ids; b unused for unary
	out   int
	n     int // element count, fixed at compile time
}

// Program is a compiled fused elementwise unit.
type Program struct {
	steps   []step
	workers int
}

var unaryOps = map[string]func(float32) float32{
	graph.OpRelu: func(x float32) float32 {
		if x < 0 {
			return 0
		}
		return x
	},
	graph.OpSigmoid: func(x float32) float32 { return 1 / (1 + math32.Exp(-x)) },
	graph.OpTanh:    math32.Tanh,
	graph.OpExp:     math32.Exp,
}

var binaryOps = map[string]func(a, b float32) float32{
	graph.OpAdd: func(a, b float32) float32 { return a + b },
	graph.OpSub: func(a, b float32) float32 { return a - b },
	graph.OpMul: func(a, b float32) float32 { return a * b },
	graph.OpDiv: func(a, b float32) float32 { return a / b },
}

// CanHandle accepts runs made purely of elementwise float32 nodes.
func (e *Engine) CanHandle(g *graph.Graph, nodes []int) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, ni := range nodes {
		if ni < 0 || ni >= len(g.Nodes) {
			return false
		}
		n := &g.Nodes[ni]
		if !e.supports(g, n) {
			return false
		}
	}
	return true
}

func (e *Engine) supports(g *graph.Graph, n *graph.Node) bool {
	for _, t := range append(append([]int(nil), n.Inputs...), n.Outputs...) {
		if t < 0 || t >= len(g.Tensors) || g.Tensors[t].DType != graph.F32 {
			return false
		}
	}
	if _, ok := unaryOps[n.Op]; ok {
		return len(n.Inputs) == 1 && len(n.Outputs) == 1
	}
	if _, ok := binaryOps[n.Op]; ok {
		return len(n.Inputs) == 2 && len(n.Outputs) == 1
	}
	if n.Op == graph.OpScale {
		return len(n.Inputs) == 2 && len(n.Outputs) == 1 &&
			g.Tensors[n.Inputs[1]].Elems() == 1
	}
	return false
}

// Compile lowers an accepted run into a fused program, validating shapes.
func (e *Engine) Compile(g *graph.Graph, nodes []int) (*Program, error) {
	p := &Program{workers: e.workers}
	for _, ni := range nodes {
		n := &g.Nodes[ni]
		out := &g.Tensors[n.Outputs[0]]
		elems := out.Elems()

		switch {
		case n.Op == graph.OpScale:
			src := &g.Tensors[n.Inputs[0]]
			if src.Elems() != elems {
				return nil, fmt.Errorf("vector: scale shape mismatch at node %d: %d -> %d", ni, src.Elems(), elems)
			}
			p.steps = append(p.steps, step{kind: stepScale, a: n.Inputs[0], b: n.Inputs[1], out: n.Outputs[0], n: elems})

		case unaryOps[n.Op] != nil:
			src := &g.Tensors[n.Inputs[0]]
			if src.Elems() != elems {
				return nil, fmt.Errorf("vector: %s shape mismatch at node %d: %d -> %d", n.Op, ni, src.Elems(), elems)
			}
			p.steps = append(p.steps, step{kind: stepUnary, unary: unaryOps[n.Op], a: n.Inputs[0], out: n.Outputs[0], n: elems})

		case binaryOps[n.Op] != nil:
			a, b := &g.Tensors[n.Inputs[0]], &g.Tensors[n.Inputs[1]]
			if a.Elems() != elems || b.Elems() != elems {
				return nil, fmt.Errorf("vector: %s shape mismatch at node %d: %d, %d -> %d",
					n.Op, ni, a.Elems(), b.Elems(), elems)
			}
			p.steps = append(p.steps, step{kind: stepBinary, bin: binaryOps[n.Op], a: n.Inputs[0], b: n.Inputs[1], out: n.Outputs[0], n: elems})

		default:
			return nil, fmt.Errorf("vector: node %d op %q not supported", ni, n.Op)
		}
	}
	return p, nil
}

// Execute runs the fused program. operands is the invocation's tensor table.
func (p *Program) Execute(operands []kernel.Operand) error {
	for i := range p.steps {
		s := &p.steps[i]
		dst, err := f32Operand(operands, s.out, s.n)
		if err != nil {
			return err
		}
		a, err := f32Operand(operands, s.a, s.n)
		if err != nil {
			return err
		}

		switch s.kind {
		case stepUnary:
			fn := s.unary
			p.parallel(s.n, func(lo, hi int) {
				for i := lo; i < hi; i++ {
					dst[i] = fn(a[i])
				}
			})
		case stepBinary:
			b, err := f32Operand(operands, s.b, s.n)
			if err != nil {
				return err
			}
			fn := s.bin
			p.parallel(s.n, func(lo, hi int) {
				for i := lo; i < hi; i++ {
					dst[i] = fn(a[i], b[i])
				}
			})
		case stepScale:
			scalar, err := f32Operand(operands, s.b, 1)
			if err != nil {
				return err
			}
			sv := scalar[0]
			p.parallel(s.n, func(lo, hi int) {
				for i := lo; i < hi; i++ {
					dst[i] = a[i] * sv
				}
			})
		}
	}
	return nil
}

func f32Operand(operands []kernel.Operand, id, n int) ([]float32, error) {
	if id < 0 || id >= len(operands) {
		return nil, fmt.Errorf("vector: tensor %d out of range", id)
	}
	buf := operands[id].F32
	if len(buf) < n {
		return nil, fmt.Errorf("vector: tensor %d has %d elements, need %d", id, len(buf), n)
	}
	return buf, nil
}

// parallel splits [0,n) into disjoint chunks across the pool and waits.
func (p *Program) parallel(n int, fn func(lo, hi int)) {
	if n <= minChunk || p.workers <= 1 {
		fn(0, n)
		return
	}
	chunks := p.workers
	if max := (n + minChunk - 1) / minChunk; chunks > max {
		chunks = max
	}
	size := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
