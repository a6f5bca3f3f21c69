package kernel

import (
	"fmt"

	"github.com/samcharles93/lattice/internal/graph"
)

// RegisterFastCPU installs the hand-tuned CPU kernel set on top of the
// portable one. Call after RegisterPortable: the overrides replace the
// portable entries for the signatures below, so only one path is ever active.
// The implementations are written so wide loads vectorize on AVX2-class
// hardware, which is why NewRuntimeRegistry gates them on feature detection.
func RegisterFastCPU(r *Registry) {
	f32 := func(op string, fn Func) {
		r.Register(Signature{Op: op, DType: graph.F32}, Kernel{Name: op + ".fastcpu", Fn: fn})
	}
	f32(graph.OpAdd, fastBinaryF32(fastAdd))
	f32(graph.OpMul, fastBinaryF32(fastMul))
	f32(graph.OpMatMul, fastMatmulF32)
}

func fastBinaryF32(loop func(dst, a, b []float32)) Func {
	return func(c *Call) error {
		if err := checkArity(c, 2, 1); err != nil {
			return err
		}
		a, b, dst := c.Inputs[0].F32, c.Inputs[1].F32, c.Outputs[0].F32
		if len(a) != len(b) || len(a) != len(dst) {
			return fmt.Errorf("kernel: elementwise shape mismatch: %d, %d -> %d", len(a), len(b), len(dst))
		}
		loop(dst, a, b)
		return nil
	}
}

func fastAdd(dst, a, b []float32) {
	n := len(dst)
	i := 0
	// 8-wide unroll; disjoint slices let the compiler keep these in registers.
	for ; i+8 <= n; i += 8 {
		d, x, y := dst[i:i+8], a[i:i+8], b[i:i+8]
		d[0] = x[0] + y[0]
		d[1] = x[1] + y[1]
		d[2] = x[2] + y[2]
		d[3] = x[3] + y[3]
		d[4] = x[4] + y[4]
		d[5] = x[5] + y[5]
		d[6] = x[6] + y[6]
		d[7] = x[7] + y[7]
	}
	for ; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

func fastMul(dst, a, b []float32) {
	n := len(dst)
	i := 0
	for ; i+8 <= n; i += 8 {
		d, x, y := dst[i:i+8], a[i:i+8], b[i:i+8]
		d[0] = x[0] * y[0]
		d[1] = x[1] * y[1]
		d[2] = x[2] * y[2]
		d[3] = x[3] * y[3]
		d[4] = x[4] * y[4]
		d[5] = x[5] * y[5]
		d[6] = x[6] * y[6]
		d[7] = x[7] * y[7]
	}
	for ; i < n; i++ {
		dst[i] = a[i] * b[i]
	}
}

// fastMatmulF32 blocks over k to keep panels of b resident in cache and
// unrolls the inner j loop 4-wide. Accumulation order per output element is
// identical to the portable kernel, so results match bit-for-bit.
func fastMatmulF32(c *Call) error {
	m, k, n, err := matmulDims(c)
	if err != nil {
		return err
	}
	a, b, dst := c.Inputs[0].F32, c.Inputs[1].F32, c.Outputs[0].F32

	const kBlock = 64
	for i := range dst {
		dst[i] = 0
	}
	for k0 := 0; k0 < k; k0 += kBlock {
		kEnd := min(k0+kBlock, k)
		for i := 0; i < m; i++ {
			arow := a[i*k : (i+1)*k]
			drow := dst[i*n : (i+1)*n]
			for kk := k0; kk < kEnd; kk++ {
				av := arow[kk]
				brow := b[kk*n : (kk+1)*n]
				j := 0
				for ; j+4 <= n; j += 4 {
					drow[j] += av * brow[j]
					drow[j+1] += av * brow[j+1]
					drow[j+2] += av * brow[j+2]
					drow[j+3] += av * brow[j+3]
				}
				for ; j < n; j++ {
					drow[j] += av * brow[j]
				}
			}
		}
	}
	return nil
}
