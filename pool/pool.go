// Package pool implements the connection pool: permit accounting, an
// idle LIFO cache, passive liveness probing, and retry-with-backoff on
// open (spec §4.4).
package pool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/conn"
	"github.com/nyxdb/nyxdb-go/nyxerr"
)

// Pool hands out exclusively-owned *conn.Connection handles, bounded by
// Config.MaxConcurrency. The zero value is not usable; construct with New.
type Pool struct {
	cfg config.Config
	sem *semaphore.Weighted

	mu   sync.Mutex
	idle []*conn.Connection
}

// New creates a Pool for cfg. Pool is cheap to share by pointer; all of
// its mutable state is behind one mutex and the semaphore, matching
// spec §4.4's "contention is per-acquire, not per-query" posture.
func New(cfg config.Config) *Pool {
	cfg = cfg.WithDefaults()
	return &Pool{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxConcurrency))}
}

// Handle is a move-only, exclusively-owned checkout. Call Release
// exactly once when done with it.
type Handle struct {
	pool     *Pool
	conn     *conn.Connection
	released bool
}

// Conn returns the underlying connection.
func (h *Handle) Conn() *conn.Connection { return h.conn }

// Release returns the connection to the pool if it is consistent
// (spec §3 invariant), or discards it and still returns the permit.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	if h.conn.IsConsistent() {
		h.pool.pushIdle(h.conn)
	} else {
		_ = h.conn.Close()
	}
	h.pool.sem.Release(1)
}

// Acquire waits on the permit counter, then tries the idle cache before
// opening a fresh connection (spec §4.4 "Acquire").
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nyxerr.Wrap(nyxerr.KindClientConnectionTimeout, err, "waiting for a pool permit")
	}
	c, err := p.acquireConn(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return &Handle{pool: p, conn: c}, nil
}

func (p *Pool) acquireConn(ctx context.Context) (*conn.Connection, error) {
	for {
		c := p.popIdle()
		if c == nil {
			return p.open(ctx)
		}
		if c.Probe() {
			return c, nil
		}
		_ = c.Close()
	}
}

func (p *Pool) popIdle() *conn.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	c := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return c
}

func (p *Pool) pushIdle(c *conn.Connection) {
	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// open retries Dial, bounded by WaitUntilAvailable, backing off on
// transient errors per spec §4.4 "Open".
func (p *Pool) open(ctx context.Context) (*conn.Connection, error) {
	deadline := time.Now().Add(p.cfg.WaitUntilAvailable)
	attempt := 0
	for {
		attempt++
		c, err := conn.Dial(ctx, p.cfg)
		if err == nil {
			return c, nil
		}
		if !isTransient(err) || time.Now().After(deadline) {
			return nil, err
		}

		backoff := time.Duration(10+rand.Intn(190)) * time.Millisecond * time.Duration(attempt)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func isTransient(err error) bool {
	if nyxerr.ShouldRetry(err) {
		return true
	}
	switch {
	case nyxerr.Is(err, nyxerr.KindClientConnectionFailedTemporarily):
		return true
	case nyxerr.Is(err, nyxerr.KindClientConnectionTimeout):
		return true
	}
	return false
}

// Close drains the idle cache, closing every cached connection. In-flight
// checkouts are unaffected; their Release still returns the permit.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range idle {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
