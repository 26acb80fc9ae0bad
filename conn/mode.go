package conn

import (
	"time"

	"github.com/nyxdb/nyxdb-go/protocol"
)

// ModeKind is one of the three states a Connection can be in between
// requests (spec §3 "Connection").
type ModeKind int

const (
	ModeNormal ModeKind = iota
	ModeDirty
	ModeAwaitingPing
)

// Mode carries ModeNormal's associated idle-since timestamp.
type Mode struct {
	Kind      ModeKind
	IdleSince time.Time
}

func normalMode() Mode { return Mode{Kind: ModeNormal, IdleSince: time.Now()} }

// guard is the single-owner token enforcing "at most one in-flight
// request per connection" (spec §3 invariants, DESIGN NOTES "Guard").
// Acquire flips Mode to Dirty; Release flips it back to Normal only if
// the request completed cleanly.
type guard struct {
	c *Connection
}

func (c *Connection) acquireGuard() *guard {
	c.mu.Lock()
	c.mode = Mode{Kind: ModeDirty}
	c.mu.Unlock()
	return &guard{c: c}
}

// release marks the request's outcome. clean=false leaves the connection
// Dirty, which the pool will discard on release.
func (g *guard) release(clean bool) {
	g.c.mu.Lock()
	if clean {
		g.c.mode = normalMode()
	}
	g.c.mu.Unlock()
}

// Mode returns the connection's current mode.
func (c *Connection) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// IsConsistent reports whether the connection is fit to return to the
// pool: Mode Normal and not inside a transaction (spec §3 invariant).
func (c *Connection) IsConsistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode.Kind == ModeNormal && c.txState == protocol.TxNotInTransaction
}
