package kernel

import (
	"errors"
	"testing"

	"github.com/samcharles93/lattice/internal/graph"
)

func TestResolveUnknownOperator(t *testing.T) {
	r := New()
	_, err := r.Resolve(Signature{Op: "conv2d", DType: graph.F32})
	if !errors.Is(err, ErrUnsupportedOperator) {
		t.Fatalf("err = %v, want ErrUnsupportedOperator", err)
	}
}

func TestLaterRegistrationOverrides(t *testing.T) {
	r := New()
	RegisterPortable(r)

	sig := Signature{Op: graph.OpAdd, DType: graph.F32}
	k, err := r.Resolve(sig)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if k.Name != "add.portable" {
		t.Fatalf("active kernel = %q, want add.portable", k.Name)
	}

	RegisterFastCPU(r)
	k, err = r.Resolve(sig)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if k.Name != "add.fastcpu" {
		t.Fatalf("after override, active kernel = %q, want add.fastcpu", k.Name)
	}

	// The portable path must be gone entirely, not coexisting: matmul too.
	k, err = r.Resolve(Signature{Op: graph.OpMatMul, DType: graph.F32})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if k.Name != "matmul.fastcpu" {
		t.Fatalf("matmul kernel = %q, want matmul.fastcpu", k.Name)
	}

	// Signatures not covered by the optimized set keep the portable kernel.
	k, err = r.Resolve(Signature{Op: graph.OpSoftmax, DType: graph.F32})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if k.Name != "softmax.portable" {
		t.Fatalf("softmax kernel = %q, want softmax.portable", k.Name)
	}
}

func TestSignaturesSorted(t *testing.T) {
	r := New()
	RegisterPortable(r)
	sigs := r.Signatures()
	if len(sigs) == 0 {
		t.Fatal("no signatures registered")
	}
	for i := 1; i < len(sigs); i++ {
		a, b := sigs[i-1], sigs[i]
		if a.Op > b.Op || (a.Op == b.Op && a.DType > b.DType) {
			t.Fatalf("signatures out of order at %d: %v, %v", i, a, b)
		}
	}
}
