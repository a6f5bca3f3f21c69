// Package accel implements the accelerator delegate: it claims
// matmul-dominated float32 subgraphs and executes them through a blocked,
// row-parallel GEMM engine. It stands in for a vendor neural-processor
// backend; the claiming and compile/execute contract is exactly what a
// hardware-backed variant would implement.
package accel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
)

type Engine struct {
	workers int
}

func New() *Engine {
	return &Engine{workers: runtime.GOMAXPROCS(0)}
}

func (e *Engine) Name() string { return "accel" }

type instKind uint8

const (
	instMatMul instKind = iota
	instAdd
	instRelu
)

type inst struct {
	kind    instKind
	a, b    int // input tensor ids; b unused for relu
	out     int
	m, k, n int // matmul dims; m holds element count for add/relu
}

// Program is one compiled accelerator unit.
type Program struct {
	insts   []inst
	workers int
}

// CanHandle accepts float32 runs built from matmul, add and relu that contain
// at least one matmul; pure elementwise runs are left for cheaper paths.
func (e *Engine) CanHandle(g *graph.Graph, nodes []int) bool {
	if len(nodes) == 0 {
		return false
	}
	sawMatMul := false
	for _, ni := range nodes {
		if ni < 0 || ni >= len(g.Nodes) {
			return false
		}
		n := &g.Nodes[ni]
		switch n.Op {
		case graph.OpMatMul:
			sawMatMul = true
			if len(n.Inputs) != 2 || len(n.Outputs) != 1 {
				return false
			}
		case graph.OpAdd:
			if len(n.Inputs) != 2 || len(n.Outputs) != 1 {
				return false
			}
		case graph.OpRelu:
			if len(n.Inputs) != 1 || len(n.Outputs) != 1 {
				return false
			}
		default:
			return false
		}
		for _, t := range n.Inputs {
			if g.Tensors[t].DType != graph.F32 {
				return false
			}
		}
		for _, t := range n.Outputs {
			if g.Tensors[t].DType != graph.F32 {
				return false
			}
		}
	}
	return sawMatMul
}

// Compile lowers the run, resolving and validating all dimensions up front so
// Execute never re-derives shapes.
func (e *Engine) Compile(g *graph.Graph, nodes []int) (*Program, error) {
	p := &Program{workers: e.workers}
	for _, ni := range nodes {
		n := &g.Nodes[ni]
		switch n.Op {
		case graph.OpMatMul:
			as := g.Tensors[n.Inputs[0]].Shape
			bs := g.Tensors[n.Inputs[1]].Shape
			os := g.Tensors[n.Outputs[0]].Shape
			if len(as) != 2 || len(bs) != 2 || len(os) != 2 ||
				as[1] != bs[0] || os[0] != as[0] || os[1] != bs[1] {
				return nil, fmt.Errorf("accel: matmul shape mismatch at node %d: %v x %v -> %v", ni, as, bs, os)
			}
			p.insts = append(p.insts, inst{
				kind: instMatMul,
				a:    n.Inputs[0], b: n.Inputs[1], out: n.Outputs[0],
				m: as[0], k: as[1], n: bs[1],
			})
		case graph.OpAdd:
			elems := g.Tensors[n.Outputs[0]].Elems()
			if g.Tensors[n.Inputs[0]].Elems() != elems || g.Tensors[n.Inputs[1]].Elems() != elems {
				return nil, fmt.Errorf("accel: add shape mismatch at node %d", ni)
			}
			p.insts = append(p.insts, inst{kind: instAdd, a: n.Inputs[0], b: n.Inputs[1], out: n.Outputs[0], m: elems})
		case graph.OpRelu:
			elems := g.Tensors[n.Outputs[0]].Elems()
			if g.Tensors[n.Inputs[0]].Elems() != elems {
				return nil, fmt.Errorf("accel: relu shape mismatch at node %d", ni)
			}
			p.insts = append(p.insts, inst{kind: instRelu, a: n.Inputs[0], out: n.Outputs[0], m: elems})
		default:
			return nil, fmt.Errorf("accel: node %d op %q not supported", ni, n.Op)
		}
	}
	return p, nil
}

// Execute runs the compiled unit against the invocation's tensor table.
func (p *Program) Execute(operands []kernel.Operand) error {
	for i := range p.insts {
		in := &p.insts[i]
		switch in.kind {
		case instMatMul:
			a, err := view(operands, in.a, in.m*in.k)
			if err != nil {
				return err
			}
			b, err := view(operands, in.b, in.k*in.n)
			if err != nil {
				return err
			}
			dst, err := view(operands, in.out, in.m*in.n)
			if err != nil {
				return err
			}
			p.gemm(dst, a, b, in.m, in.k, in.n)
		case instAdd:
			a, err := view(operands, in.a, in.m)
			if err != nil {
				return err
			}
			b, err := view(operands, in.b, in.m)
			if err != nil {
				return err
			}
			dst, err := view(operands, in.out, in.m)
			if err != nil {
				return err
			}
			for i := range dst[:in.m] {
				dst[i] = a[i] + b[i]
			}
		case instRelu:
			a, err := view(operands, in.a, in.m)
			if err != nil {
				return err
			}
			dst, err := view(operands, in.out, in.m)
			if err != nil {
				return err
			}
			for i, v := range a[:in.m] {
				if v < 0 {
					v = 0
				}
				dst[i] = v
			}
		}
	}
	return nil
}

func view(operands []kernel.Operand, id, n int) ([]float32, error) {
	if id < 0 || id >= len(operands) {
		return nil, fmt.Errorf("accel: tensor %d out of range", id)
	}
	buf := operands[id].F32
	if len(buf) < n {
		return nil, fmt.Errorf("accel: tensor %d has %d elements, need %d", id, len(buf), n)
	}
	return buf, nil
}

// gemm computes dst = a x b, parallel over row blocks. Each worker owns a
// disjoint set of output rows, so accumulation order per element is fixed and
// results are deterministic.
func (p *Program) gemm(dst, a, b []float32, m, k, n int) {
	rowsPer := 1
	workers := p.workers
	if workers > m {
		workers = m
	}
	if workers > 1 {
		rowsPer = (m + workers - 1) / workers
	} else {
		rowsPer = m
	}

	var wg sync.WaitGroup
	for r0 := 0; r0 < m; r0 += rowsPer {
		r1 := min(r0+rowsPer, m)
		wg.Add(1)
		go func(r0, r1 int) {
			defer wg.Done()
			for i := r0; i < r1; i++ {
				arow := a[i*k : (i+1)*k]
				drow := dst[i*n : (i+1)*n]
				for j := range drow {
					drow[j] = 0
				}
				for kk, av := range arow {
					brow := b[kk*n : (kk+1)*n]
					for j, bv := range brow {
						drow[j] += av * bv
					}
				}
			}
		}(r0, r1)
	}
	wg.Wait()
}
