// Package nyxdb is the top-level client facade: an immutable handle
// wrapping a shared pool, with overlay builders for retry options,
// session globals, and a tracing tag (spec §2 L6, DESIGN NOTES "Overlay
// composition").
package nyxdb

import (
	"context"
	"time"

	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/pool"
	"github.com/nyxdb/nyxdb-go/protocol"
	"github.com/nyxdb/nyxdb-go/queryexec"
	"github.com/nyxdb/nyxdb-go/retry"
	"github.com/nyxdb/nyxdb-go/txn"
)

// Client is cheap to copy: every With* method returns a shallow copy
// with one setting replaced, sharing the same underlying *pool.Pool
// except WithConfig, which builds a fresh one (spec: "a shallow copy of
// the client with one immutable field swapped"). The zero value is not
// usable; construct with Connect.
type Client struct {
	pool    *pool.Pool
	engine  *txn.Engine
	rules   retry.Rules
	globals map[string]string
	tag     string
}

// Connect builds a Client over cfg. It does not dial eagerly; the first
// query or transaction opens the first connection (spec §4.4 "Acquire").
func Connect(cfg config.Config) *Client {
	p := pool.New(cfg)
	rules := retry.DefaultRules()
	return &Client{pool: p, engine: txn.NewEngine(p, rules), rules: rules}
}

// WithRetryOptions returns a copy of c using rules for future query and
// transaction retries.
func (c Client) WithRetryOptions(rules retry.Rules) *Client {
	c.rules = rules
	c.engine = txn.NewEngine(c.pool, rules)
	return &c
}

// WithGlobals returns a copy of c with deltas merged into its session
// globals. The merged globals are kept on the copy only; they are not
// sent to the server with its queries.
func (c Client) WithGlobals(deltas map[string]string) *Client {
	merged := make(map[string]string, len(c.globals)+len(deltas))
	for k, v := range c.globals {
		merged[k] = v
	}
	for k, v := range deltas {
		merged[k] = v
	}
	c.globals = merged
	return &c
}

// WithTag returns a copy of c annotated with tag. The tag is kept on the
// copy only; it is not attached to log entries or to requests.
func (c Client) WithTag(tag string) *Client {
	c.tag = tag
	return &c
}

// WithConfig returns a copy of c bound to a fresh pool built from cfg,
// dropping any pooled connections the old pool was holding. Use this to
// fork a client onto a different server or with different pool limits;
// plain retry/globals/tag tweaks should use the narrower With* methods
// instead, since this one pays for a new pool.
func (c Client) WithConfig(cfg config.Config) *Client {
	p := pool.New(cfg)
	c.pool = p
	c.engine = txn.NewEngine(p, c.rules)
	return &c
}

// run executes one query, retrying on a SHOULD_RETRY-tagged error as long
// as retry.ShouldRetryQuery permits it (spec §4.5, §8 "per-query retry").
// A failed request leaves its connection Dirty, so each retry reacquires
// from the pool rather than reusing the same connection (spec §3: a
// Dirty connection is discarded, never returned, on Release).
func (c *Client) run(ctx context.Context, text string, ioFormat protocol.IOFormat, card descriptor.Cardinality, args any) (*queryexec.Response, error) {
	iteration := 0
	for {
		h, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		resp, runErr := queryexec.Run(ctx, h.Conn(), queryexec.Request{
			Text: text, IOFormat: ioFormat, Cardinality: card, Args: args,
		})
		h.Release()
		if runErr == nil {
			return resp, nil
		}

		caps := descriptor.Unparsed()
		if e, ok := runErr.(*nyxerr.Error); ok {
			if raw, hasCaps := e.Capabilities(); hasCaps {
				caps = descriptor.Parsed(descriptor.Capabilities(raw))
			}
		}

		backoff, retryable := retry.ShouldRetryQuery(c.rules, caps, runErr, iteration)
		if !retryable {
			return nil, runErr
		}
		iteration++
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Execute runs a query for effect, discarding any result rows.
func (c *Client) Execute(ctx context.Context, query string, args any) error {
	_, err := c.run(ctx, query, protocol.IOFormatBinary, descriptor.CardinalityNoResult, args)
	return err
}

// Query runs a query and returns every row it produces.
func (c *Client) Query(ctx context.Context, query string, args any) ([]any, error) {
	resp, err := c.run(ctx, query, protocol.IOFormatBinary, descriptor.CardinalityMany, args)
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// QuerySingle runs a query expected to return at most one row; the
// result is nil if the query produced none.
func (c *Client) QuerySingle(ctx context.Context, query string, args any) (any, error) {
	resp, err := c.run(ctx, query, protocol.IOFormatBinary, descriptor.CardinalityAtMostOne, args)
	if err != nil {
		return nil, err
	}
	if len(resp.Rows) == 0 {
		return nil, nil
	}
	return resp.Rows[0], nil
}

// QueryRequiredSingle runs a query expected to return exactly one row;
// zero or more than one row is a NoDataError/ProtocolError.
func (c *Client) QueryRequiredSingle(ctx context.Context, query string, args any) (any, error) {
	resp, err := c.run(ctx, query, protocol.IOFormatBinary, descriptor.CardinalityOne, args)
	if err != nil {
		return nil, err
	}
	switch {
	case len(resp.Rows) == 0:
		return nil, nyxerr.New(nyxerr.KindNoDataError, "query returned no rows for a required-single result")
	case len(resp.Rows) > 1:
		return nil, nyxerr.New(nyxerr.KindProtocolError, "query returned more than one row for a required-single result")
	}
	return resp.Rows[0], nil
}

// QueryJSON runs a query and returns its single encoded JSON document.
func (c *Client) QueryJSON(ctx context.Context, query string, args any) (string, error) {
	resp, err := c.run(ctx, query, protocol.IOFormatJSON, descriptor.CardinalityOne, args)
	if err != nil {
		return "", err
	}
	s, _ := resp.Rows[0].(string)
	return s, nil
}

// RunTx executes fn inside a retrying transaction (spec §4.5 "Closure
// transaction").
func (c *Client) RunTx(ctx context.Context, mode txn.Mode, fn func(context.Context, *txn.Transaction) error) error {
	return c.engine.Run(ctx, mode, fn)
}

// Close releases every idle pooled connection. In-flight handles are
// unaffected; Release still returns their permit and puts a consistent
// connection back into the pool's idle cache as usual.
func (c *Client) Close() error {
	return c.pool.Close()
}
