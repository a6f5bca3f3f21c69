package device

import "sync"

// Pool recycles arenas across graph invocations. A recycled arena is fully
// Reset before it is handed out again, so no invocation can observe bytes
// from a previous run.
type Pool struct {
	mu    sync.Mutex
	free  []*Arena
	limit int
}

// NewPool creates a pool retaining at most limit idle arenas.
func NewPool(limit int) *Pool {
	if limit <= 0 {
		limit = 4
	}
	return &Pool{limit: limit}
}

// Get returns an arena with at least size bytes of capacity.
func (p *Pool) Get(size int) *Arena {
	p.mu.Lock()
	for i := len(p.free) - 1; i >= 0; i-- {
		if p.free[i].Size() >= size {
			a := p.free[i]
			p.free = append(p.free[:i], p.free[i+1:]...)
			p.mu.Unlock()
			return a
		}
	}
	p.mu.Unlock()
	return NewArena(size)
}

// Put resets the arena and returns it to the pool. Arenas beyond the retain
// limit are dropped for the garbage collector.
func (p *Pool) Put(a *Arena) {
	if a == nil {
		return
	}
	a.Reset()
	p.mu.Lock()
	if len(p.free) < p.limit {
		p.free = append(p.free, a)
	}
	p.mu.Unlock()
}
