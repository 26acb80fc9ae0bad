package conn

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// Ping sends a zero-row request (an empty Sync round trip) and requires
// a ReadyForCommand in response. RunWithLiveness's background loop uses
// it (spec §4.2 "Liveness"); the pool's pre-checkout check is Probe.
func (c *Connection) Ping(ctx context.Context) error {
	g := c.acquireGuard()
	err := withContext(ctx, func() error {
		if err := c.sendMessage(protocol.TypeSync, protocol.Sync{}); err != nil {
			return err
		}
		return c.awaitReadyAfter(func(m protocol.ServerMessage) error {
			return nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "unexpected message during ping")
		})
	})
	g.release(err == nil)
	return err
}

// RunWithLiveness races fn against a background ping loop: if fn outruns
// the idle timeout the ping keeps the session alive; if the ping fails,
// the connection is no longer trustworthy and fn's result is discarded
// in favor of the ping error (spec §4.2 "Liveness").
func (c *Connection) RunWithLiveness(ctx context.Context, fn func(context.Context) error) error {
	interval, enabled := c.PingInterval()
	if !enabled {
		return fn(ctx)
	}

	grp, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	grp.Go(func() error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			case <-t.C:
				if !c.IsConsistent() {
					continue // a real request is in flight; nothing to probe
				}
				if err := c.Ping(gctx); err != nil {
					return err
				}
			}
		}
	})

	grp.Go(func() error {
		defer close(done)
		return fn(gctx)
	})

	return grp.Wait()
}
