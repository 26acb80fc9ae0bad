package conn

import (
	"testing"

	"github.com/nyxdb/nyxdb-go/protocol"
)

func TestGuardCleanReleaseReturnsToNormal(t *testing.T) {
	t.Parallel()

	c := &Connection{mode: normalMode(), txState: protocol.TxNotInTransaction}
	g := c.acquireGuard()
	if c.Mode().Kind != ModeDirty {
		t.Fatalf("Mode after acquire = %v, want ModeDirty", c.Mode().Kind)
	}
	if c.IsConsistent() {
		t.Fatal("expected an acquired connection to be inconsistent")
	}

	g.release(true)
	if c.Mode().Kind != ModeNormal {
		t.Fatalf("Mode after clean release = %v, want ModeNormal", c.Mode().Kind)
	}
	if !c.IsConsistent() {
		t.Fatal("expected a cleanly released connection to be consistent")
	}
}

func TestGuardDirtyReleaseStaysDirty(t *testing.T) {
	t.Parallel()

	c := &Connection{mode: normalMode(), txState: protocol.TxNotInTransaction}
	g := c.acquireGuard()
	g.release(false)

	if c.Mode().Kind != ModeDirty {
		t.Fatalf("Mode after dirty release = %v, want ModeDirty", c.Mode().Kind)
	}
	if c.IsConsistent() {
		t.Fatal("expected a dirty connection to never be consistent")
	}
}

func TestIsConsistentRequiresNoOpenTransaction(t *testing.T) {
	t.Parallel()

	c := &Connection{mode: normalMode(), txState: protocol.TxInTransaction}
	if c.IsConsistent() {
		t.Fatal("expected a connection mid-transaction to be inconsistent even in Normal mode")
	}
}
