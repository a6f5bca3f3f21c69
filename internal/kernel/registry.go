// Package kernel maps operator identifiers to concrete implementations.
// A Registry is built explicitly once at startup and treated as read-only
// afterwards; it is threaded through the loader and executor by reference so
// there is no hidden global registration state.
package kernel

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samcharles93/lattice/internal/graph"
)

// ErrUnsupportedOperator is returned by Resolve when no kernel is registered
// for an (operator, signature) pair.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// Signature selects a kernel: the operator id plus the element type the
// operation runs over.
type Signature struct {
	Op    string
	DType graph.DType
}

func (s Signature) String() string {
	return s.Op + "/" + s.DType.String()
}

// Operand is one tensor argument to a kernel: its shape and a typed view over
// its backing buffer. Exactly one of F32/I32 is populated, matching DType.
type Operand struct {
	Shape []int
	DType graph.DType
	F32   []float32
	I32   []int32
}

// Elems returns the element count implied by the operand's shape.
func (o *Operand) Elems() int {
	n := 1
	for _, d := range o.Shape {
		n *= d
	}
	return n
}

// Call carries the resolved operands of one node invocation.
type Call struct {
	Inputs  []Operand
	Outputs []Operand
}

// Func is a kernel implementation. It reads Inputs, writes Outputs in place
// and returns an error on shape or arity violations.
type Func func(c *Call) error

// Kernel pairs an implementation with the name it was registered under, so
// dispatch decisions stay observable in logs and tests.
type Kernel struct {
	Name string
	Fn   Func
}

// Registry holds the active kernel per signature. At most one implementation
// is active per pair: registration order encodes priority, and a later
// Register for the same signature replaces the earlier one outright.
type Registry struct {
	kernels map[Signature]Kernel
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{kernels: make(map[Signature]Kernel)}
}

// Register installs impl for sig, replacing any previous registration.
func (r *Registry) Register(sig Signature, impl Kernel) {
	if impl.Fn == nil {
		panic(fmt.Sprintf("kernel: nil implementation registered for %s", sig))
	}
	r.kernels[sig] = impl
}

// Resolve returns the active kernel for sig.
func (r *Registry) Resolve(sig Signature) (Kernel, error) {
	k, ok := r.kernels[sig]
	if !ok {
		return Kernel{}, fmt.Errorf("%w: %s", ErrUnsupportedOperator, sig)
	}
	return k, nil
}

// Signatures returns all registered signatures in stable order, for
// inspection output.
func (r *Registry) Signatures() []Signature {
	sigs := make([]Signature, 0, len(r.kernels))
	for sig := range r.kernels {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool {
		if sigs[i].Op != sigs[j].Op {
			return sigs[i].Op < sigs[j].Op
		}
		return sigs[i].DType < sigs[j].DType
	})
	return sigs
}

// NewRuntimeRegistry builds the registry used by the runtime: the portable
// reference set first, then the optimized CPU set where the host supports it.
// Later registrations override matching portable entries, so optimized and
// portable paths never coexist for a signature.
func NewRuntimeRegistry() *Registry {
	r := New()
	RegisterPortable(r)
	if Features().HasAVX2 {
		RegisterFastCPU(r)
	}
	return r
}
