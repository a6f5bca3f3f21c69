//go:build accel

package delegate

import (
	"github.com/samcharles93/lattice/internal/delegate/accel"
	"github.com/samcharles93/lattice/internal/graph"
)

type accelDelegate struct {
	engine *accel.Engine
}

func newAccel() Delegate {
	return accelDelegate{engine: accel.New()}
}

func (d accelDelegate) Name() string {
	return d.engine.Name()
}

func (d accelDelegate) CanHandle(g *graph.Graph, nodes []int) bool {
	return d.engine.CanHandle(g, nodes)
}

func (d accelDelegate) Compile(g *graph.Graph, nodes []int) (Compiled, error) {
	p, err := d.engine.Compile(g, nodes)
	if err != nil {
		return nil, err
	}
	return p, nil
}
