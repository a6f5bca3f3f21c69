package kernel

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/samcharles93/lattice/internal/graph"
)

// RegisterPortable installs the reference kernel set. These are the
// always-available scalar implementations every other path is checked
// against.
func RegisterPortable(r *Registry) {
	f32 := func(op string, fn Func) {
		r.Register(Signature{Op: op, DType: graph.F32}, Kernel{Name: op + ".portable", Fn: fn})
	}
	i32 := func(op string, fn Func) {
		r.Register(Signature{Op: op, DType: graph.I32}, Kernel{Name: op + ".portable", Fn: fn})
	}

	f32(graph.OpAdd, binaryF32(func(a, b float32) float32 { return a + b }))
	f32(graph.OpSub, binaryF32(func(a, b float32) float32 { return a - b }))
	f32(graph.OpMul, binaryF32(func(a, b float32) float32 { return a * b }))
	f32(graph.OpDiv, binaryF32(func(a, b float32) float32 { return a / b }))

	i32(graph.OpAdd, binaryI32(func(a, b int32) int32 { return a + b }))
	i32(graph.OpSub, binaryI32(func(a, b int32) int32 { return a - b }))
	i32(graph.OpMul, binaryI32(func(a, b int32) int32 { return a * b }))

	f32(graph.OpRelu, unaryF32(func(x float32) float32 {
		if x < 0 {
			return 0
		}
		return x
	}))
	f32(graph.OpSigmoid, unaryF32(func(x float32) float32 {
		return 1 / (1 + math32.Exp(-x))
	}))
	f32(graph.OpTanh, unaryF32(math32.Tanh))
	f32(graph.OpExp, unaryF32(math32.Exp))

	f32(graph.OpScale, scaleF32)
	f32(graph.OpSoftmax, softmaxF32)
	f32(graph.OpMatMul, matmulF32)
	f32(graph.OpArgMax, argmaxF32)
	f32(graph.OpLookup, lookupF32)
}

func checkArity(c *Call, in, out int) error {
	if len(c.Inputs) != in || len(c.Outputs) != out {
		return fmt.Errorf("kernel: arity mismatch: got %d inputs %d outputs, want %d/%d",
			len(c.Inputs), len(c.Outputs), in, out)
	}
	return nil
}

func binaryF32(op func(a, b float32) float32) Func {
	return func(c *Call) error {
		if err := checkArity(c, 2, 1); err != nil {
			return err
		}
		a, b, dst := c.Inputs[0].F32, c.Inputs[1].F32, c.Outputs[0].F32
		if len(a) != len(b) || len(a) != len(dst) {
			return fmt.Errorf("kernel: elementwise shape mismatch: %d, %d -> %d", len(a), len(b), len(dst))
		}
		for i := range dst {
			dst[i] = op(a[i], b[i])
		}
		return nil
	}
}

func binaryI32(op func(a, b int32) int32) Func {
	return func(c *Call) error {
		if err := checkArity(c, 2, 1); err != nil {
			return err
		}
		a, b, dst := c.Inputs[0].I32, c.Inputs[1].I32, c.Outputs[0].I32
		if len(a) != len(b) || len(a) != len(dst) {
			return fmt.Errorf("kernel: elementwise shape mismatch: %d, %d -> %d", len(a), len(b), len(dst))
		}
		for i := range dst {
			dst[i] = op(a[i], b[i])
		}
		return nil
	}
}

func unaryF32(op func(x float32) float32) Func {
	return func(c *Call) error {
		if err := checkArity(c, 1, 1); err != nil {
			return err
		}
		src, dst := c.Inputs[0].F32, c.Outputs[0].F32
		if len(src) != len(dst) {
			return fmt.Errorf("kernel: unary shape mismatch: %d -> %d", len(src), len(dst))
		}
		for i := range dst {
			dst[i] = op(src[i])
		}
		return nil
	}
}

// scaleF32 multiplies input 0 by the single-element scalar input 1.
func scaleF32(c *Call) error {
	if err := checkArity(c, 2, 1); err != nil {
		return err
	}
	src, dst := c.Inputs[0].F32, c.Outputs[0].F32
	if len(c.Inputs[1].F32) != 1 {
		return fmt.Errorf("kernel: scale expects a single-element scalar, got %d elements", len(c.Inputs[1].F32))
	}
	if len(src) != len(dst) {
		return fmt.Errorf("kernel: scale shape mismatch: %d -> %d", len(src), len(dst))
	}
	s := c.Inputs[1].F32[0]
	for i := range dst {
		dst[i] = src[i] * s
	}
	return nil
}

// softmaxF32 normalizes over the last dimension, max-subtracted for
// numerical stability.
func softmaxF32(c *Call) error {
	if err := checkArity(c, 1, 1); err != nil {
		return err
	}
	in := &c.Inputs[0]
	src, dst := in.F32, c.Outputs[0].F32
	if len(src) != len(dst) {
		return fmt.Errorf("kernel: softmax shape mismatch: %d -> %d", len(src), len(dst))
	}
	if len(in.Shape) == 0 {
		return fmt.Errorf("kernel: softmax requires a shaped input")
	}
	width := in.Shape[len(in.Shape)-1]
	for row := 0; row+width <= len(src); row += width {
		s, d := src[row:row+width], dst[row:row+width]
		maxv := s[0]
		for _, v := range s[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float32
		for i, v := range s {
			e := math32.Exp(v - maxv)
			d[i] = e
			sum += e
		}
		inv := 1 / sum
		for i := range d {
			d[i] *= inv
		}
	}
	return nil
}

// matmulF32 is the reference [m,k] x [k,n] -> [m,n] product.
func matmulF32(c *Call) error {
	m, k, n, err := matmulDims(c)
	if err != nil {
		return err
	}
	a, b, dst := c.Inputs[0].F32, c.Inputs[1].F32, c.Outputs[0].F32
	for i := 0; i < m; i++ {
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
	return nil
}

func matmulDims(c *Call) (m, k, n int, err error) {
	if err := checkArity(c, 2, 1); err != nil {
		return 0, 0, 0, err
	}
	as, bs, os := c.Inputs[0].Shape, c.Inputs[1].Shape, c.Outputs[0].Shape
	if len(as) != 2 || len(bs) != 2 || len(os) != 2 {
		return 0, 0, 0, fmt.Errorf("kernel: matmul requires rank-2 operands, got %v x %v -> %v", as, bs, os)
	}
	m, k, n = as[0], as[1], bs[1]
	if bs[0] != k || os[0] != m || os[1] != n {
		return 0, 0, 0, fmt.Errorf("kernel: matmul shape mismatch: %v x %v -> %v", as, bs, os)
	}
	return m, k, n, nil
}

// lookupF32 gathers rows of a [rows, width] float32 table by i32 index:
// the embedding-style fetch. Out-of-range indices are a runtime fault.
func lookupF32(c *Call) error {
	if err := checkArity(c, 2, 1); err != nil {
		return err
	}
	table := &c.Inputs[0]
	idx := c.Inputs[1].I32
	dst := c.Outputs[0].F32
	if len(table.Shape) != 2 {
		return fmt.Errorf("kernel: lookup table must be rank-2, got %v", table.Shape)
	}
	rows, width := table.Shape[0], table.Shape[1]
	if len(dst) != len(idx)*width {
		return fmt.Errorf("kernel: lookup output has %d elements, want %d", len(dst), len(idx)*width)
	}
	for i, id := range idx {
		if id < 0 || int(id) >= rows {
			return fmt.Errorf("kernel: lookup index %d out of range [0,%d)", id, rows)
		}
		copy(dst[i*width:(i+1)*width], table.F32[int(id)*width:(int(id)+1)*width])
	}
	return nil
}

// argmaxF32 reduces the last dimension of a float32 tensor to the int32
// index of its maximum. Ties resolve to the lowest index, keeping the
// reduction deterministic.
func argmaxF32(c *Call) error {
	if err := checkArity(c, 1, 1); err != nil {
		return err
	}
	in := &c.Inputs[0]
	dst := c.Outputs[0].I32
	if len(in.Shape) == 0 {
		return fmt.Errorf("kernel: argmax requires a shaped input")
	}
	width := in.Shape[len(in.Shape)-1]
	rows := len(in.F32) / width
	if len(dst) != rows {
		return fmt.Errorf("kernel: argmax output has %d elements, want %d", len(dst), rows)
	}
	for r := 0; r < rows; r++ {
		s := in.F32[r*width : (r+1)*width]
		best := 0
		for i, v := range s[1:] {
			if v > s[best] {
				best = i + 1
			}
		}
		dst[r] = int32(best)
	}
	return nil
}
