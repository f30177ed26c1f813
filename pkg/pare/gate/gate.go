// Package gate implements the compression gate (§4.D): a counting
// semaphore bounding concurrent optimize calls, fronted by a
// mutex-guarded queue-depth cap that rejects immediately rather than
// waiting when the queue is full.
//
// Grounded on original_source/utils/concurrency.py's CompressionGate
// (semaphore + lock-guarded queue_depth int) and, for the mutex-
// guarded-shared-counter idiom, je4-indexer's sshConnectionPool.go.
package gate

import (
	"context"
	"sync"

	"github.com/memobase/pare/pkg/pare/pareerr"
)

// Gate bounds concurrent optimizer invocations. Permits are handed out
// in the order goroutines block on the channel send, which the Go
// runtime serves first-come-first-served — matching the FIFO
// requirement in §4.D.
type Gate struct {
	sem chan struct{}

	mu         sync.Mutex
	queueDepth int
	queueCap   int
	permits    int
}

// New builds a gate with the given permit count and queue cap.
func New(permits, queueCap int) *Gate {
	if permits < 1 {
		permits = 1
	}
	if queueCap < permits {
		queueCap = permits
	}
	return &Gate{
		sem:      make(chan struct{}, permits),
		queueCap: queueCap,
		permits:  permits,
	}
}

// Permit represents one acquired compression slot. Release is
// idempotent: every call after the first is a no-op. Cancelling the
// context after Acquire returned does not release the permit.
type Permit struct {
	gate     *Gate
	once     sync.Once
}

// Acquire implements the two-stage acquire protocol: a non-blocking
// queue-depth check-and-increment under a short critical section,
// followed by a blocking wait for an actual permit. If the queue is
// already at capacity, Acquire fails immediately with Overloaded
// without ever touching the semaphore — callers never wait for the
// queue to drain.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	g.mu.Lock()
	if g.queueDepth >= g.queueCap {
		g.mu.Unlock()
		return nil, pareerr.Overloaded("5s")
	}
	g.queueDepth++
	g.mu.Unlock()

	select {
	case g.sem <- struct{}{}:
		return &Permit{gate: g}, nil
	case <-ctx.Done():
		g.mu.Lock()
		g.queueDepth--
		g.mu.Unlock()
		return nil, pareerr.Cancelled(ctx.Err())
	}
}

// Release returns the permit and decrements the queue depth. Safe to
// call from a defer alongside an earlier explicit call; only the
// first call has an effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		<-p.gate.sem
		p.gate.mu.Lock()
		p.gate.queueDepth--
		p.gate.mu.Unlock()
	})
}

// ActiveJobs reports the number of permits currently held.
func (g *Gate) ActiveJobs() int {
	return len(g.sem)
}

// QueuedJobs reports waiters that hold a queue slot but not yet a permit.
func (g *Gate) QueuedJobs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	queued := g.queueDepth - g.ActiveJobs()
	if queued < 0 {
		return 0
	}
	return queued
}
