// Package delegate defines the backend-delegate capability: an external
// execution path (vector engine, accelerator) that claims a contiguous run of
// graph nodes at load time and executes it as one opaque unit, bypassing
// per-node kernel dispatch.
package delegate

import (
	"errors"

	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
)

var (
	// ErrDelegateCompile marks a subgraph the delegate accepted via CanHandle
	// but could not compile. The loader treats this as fatal for the load.
	ErrDelegateCompile = errors.New("delegate compile failed")

	// ErrDelegateExecution marks a runtime fault inside a compiled unit. The
	// executor treats it as fatal for the invocation; there is no fallback to
	// portable kernels once the original nodes were claimed away.
	ErrDelegateExecution = errors.New("delegate execution failed")
)

// Compiled is one delegate-executed unit. Execute runs the whole claimed
// subgraph atomically against the invocation's tensor table: operands is
// indexed by tensor id and covers every tensor of the graph, so a unit can
// read its inputs and write its outputs and internal intermediates in place.
// Internal concurrency must not be observable in the outputs.
type Compiled interface {
	Execute(operands []kernel.Operand) error
}

// Delegate is a polymorphic backend capability. The loader offers each
// delegate contiguous runs of nodes in topological order; a claim removes
// those nodes from ordinary kernel dispatch for the lifetime of the graph.
type Delegate interface {
	// Name identifies the variant, e.g. "vector" or "accel". It becomes the
	// backend-affinity tag on claimed nodes.
	Name() string

	// CanHandle reports whether the delegate can execute the given run of
	// node indices as a single unit.
	CanHandle(g *graph.Graph, nodes []int) bool

	// Compile lowers an accepted run into an executable unit. The loader
	// wraps failures in ErrDelegateCompile and aborts the load; a claim is
	// never silently handed back to kernel dispatch.
	Compile(g *graph.Graph, nodes []int) (Compiled, error)
}
