package reactor

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/lafikl/consistent"
)

// Pool owns N worker Reactors, each run on its own goroutine (pinned to
// its own OS thread once Run starts). Connections are assigned to a
// worker either round-robin or by a hash key, per spec §4.1.
type Pool struct {
	workers []*Reactor
	next    uint64

	ring *consistent.Consistent // present only when hash assignment is enabled
}

// NewPool creates n worker reactors. n may be zero, in which case Next
// and NextByHash both return nil, signaling the caller (typically the
// server's main reactor) that it must service I/O itself.
func NewPool(n int) (*Pool, error) {
	p := &Pool{workers: make([]*Reactor, 0, n)}
	for i := 0; i < n; i++ {
		r, err := New()
		if err != nil {
			return nil, fmt.Errorf("reactor pool: worker %d: %w", i, err)
		}
		p.workers = append(p.workers, r)
	}
	return p, nil
}

// EnableHashAssignment builds the consistent-hash ring used by
// NextByHash. Call before Start.
func (p *Pool) EnableHashAssignment() {
	ring := consistent.New()
	for i := range p.workers {
		ring.Add(strconv.Itoa(i))
	}
	p.ring = ring
}

// Start launches every worker's event loop on its own goroutine.
func (p *Pool) Start() {
	for _, r := range p.workers {
		go r.Run()
	}
}

// Stop asks every worker to quit.
func (p *Pool) Stop() {
	for _, r := range p.workers {
		r.Quit()
	}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Next returns the next worker in round-robin order, or nil if the pool
// has no workers.
func (p *Pool) Next() *Reactor {
	if len(p.workers) == 0 {
		return nil
	}
	idx := atomic.AddUint64(&p.next, 1) - 1
	return p.workers[idx%uint64(len(p.workers))]
}

// NextByHash returns the worker consistently assigned to key, or nil if
// the pool has no workers or hash assignment was never enabled.
func (p *Pool) NextByHash(key string) *Reactor {
	if len(p.workers) == 0 || p.ring == nil {
		return nil
	}
	idxStr, err := p.ring.GetLeast(key)
	if err != nil {
		return nil
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(p.workers) {
		return nil
	}
	p.ring.Inc(idxStr)
	return p.workers[idx]
}
