//go:build vector

package delegate

import (
	"github.com/samcharles93/lattice/internal/delegate/vector"
	"github.com/samcharles93/lattice/internal/graph"
)

type vectorDelegate struct {
	engine *vector.Engine
}

func newVector() Delegate {
	return vectorDelegate{engine: vector.New()}
}

func (d vectorDelegate) Name() string {
	return d.engine.Name()
}

func (d vectorDelegate) CanHandle(g *graph.Graph, nodes []int) bool {
	return d.engine.CanHandle(g, nodes)
}

func (d vectorDelegate) Compile(g *graph.Graph, nodes []int) (Compiled, error) {
	p, err := d.engine.Compile(g, nodes)
	if err != nil {
		return nil, err
	}
	return p, nil
}
