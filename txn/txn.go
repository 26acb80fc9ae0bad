// Package txn implements the transaction engine: a closure-based
// Transaction with automatic retry on SHOULD_RETRY-tagged errors, and a
// raw transaction with explicit Commit/Rollback (spec §4.5).
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/nyxdb/nyxdb-go/conn"
	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/pool"
	"github.com/nyxdb/nyxdb-go/queryexec"
	"github.com/nyxdb/nyxdb-go/retry"
)

// Isolation names the isolation level advertised when the transaction
// starts (spec §4.5: "advertising any configured isolation/readonly/
// deferrable mode via the session state"). Values are passed through to
// START TRANSACTION verbatim; this repo does not validate them against
// the server's supported set.
type Isolation string

const (
	IsolationDefault       Isolation = ""
	IsolationSerializable  Isolation = "serializable"
	IsolationRepeatableRead Isolation = "repeatable read"
)

// Mode is the transaction's isolation/readonly/deferrable overlay.
// Immutable once built; With* methods return a modified copy (spec §5
// "Shared resources").
type Mode struct {
	Isolation  Isolation
	ReadOnly   bool
	Deferrable bool
}

func (m Mode) WithIsolation(i Isolation) Mode { m.Isolation = i; return m }
func (m Mode) WithReadOnly(b bool) Mode       { m.ReadOnly = b; return m }
func (m Mode) WithDeferrable(b bool) Mode     { m.Deferrable = b; return m }

func (m Mode) startStatement() string {
	s := "START TRANSACTION"
	if m.Isolation != IsolationDefault {
		s += fmt.Sprintf(" ISOLATION %s", m.Isolation)
	}
	if m.ReadOnly {
		s += " READ ONLY"
	}
	if m.Deferrable {
		s += " DEFERRABLE"
	}
	return s
}

// Transaction is handed to the closure passed to Engine.Run. It reuses
// the pooled connection acquired for the attempt and must not be used
// after the closure returns (spec §4.5: "forbids escape").
type Transaction struct {
	c       *conn.Connection
	mode    Mode
	started bool
}

func (t *Transaction) ensureStarted(ctx context.Context) error {
	if t.started {
		return nil
	}
	if _, err := queryexec.Run(ctx, t.c, queryexec.Request{
		Text: t.mode.startStatement(), Cardinality: descriptor.CardinalityNoResult,
	}); err != nil {
		return err
	}
	t.started = true
	return nil
}

// Execute runs a query for effect inside the transaction.
func (t *Transaction) Execute(ctx context.Context, query string, args any) error {
	if err := t.ensureStarted(ctx); err != nil {
		return err
	}
	_, err := queryexec.Run(ctx, t.c, queryexec.Request{
		Text: query, Cardinality: descriptor.CardinalityNoResult, Args: args,
	})
	return err
}

// Query runs a query and returns every row it produces.
func (t *Transaction) Query(ctx context.Context, query string, args any) ([]any, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return nil, err
	}
	resp, err := queryexec.Run(ctx, t.c, queryexec.Request{
		Text: query, Cardinality: descriptor.CardinalityMany, Args: args,
	})
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// QuerySingle runs a query expected to return at most one row.
func (t *Transaction) QuerySingle(ctx context.Context, query string, args any) (any, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return nil, err
	}
	resp, err := queryexec.Run(ctx, t.c, queryexec.Request{
		Text: query, Cardinality: descriptor.CardinalityAtMostOne, Args: args,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Rows) == 0 {
		return nil, nil
	}
	return resp.Rows[0], nil
}

func (t *Transaction) commit(ctx context.Context) error {
	if !t.started {
		return nil
	}
	_, err := queryexec.Run(ctx, t.c, queryexec.Request{Text: "COMMIT", Cardinality: descriptor.CardinalityNoResult})
	return err
}

func (t *Transaction) rollback(ctx context.Context) error {
	if !t.started {
		return nil
	}
	_, err := queryexec.Run(ctx, t.c, queryexec.Request{Text: "ROLLBACK", Cardinality: descriptor.CardinalityNoResult})
	return err
}

// Engine drives the closure-based transaction retry loop.
type Engine struct {
	pool  *pool.Pool
	rules retry.Rules
}

// NewEngine creates an Engine backed by p, using rules for per-attempt
// retry decisions.
func NewEngine(p *pool.Pool, rules retry.Rules) *Engine {
	return &Engine{pool: p, rules: rules}
}

// Run executes fn inside a transaction, retrying the whole closure on a
// SHOULD_RETRY-tagged failure per spec §4.5 "Closure transaction".
func (e *Engine) Run(ctx context.Context, mode Mode, fn func(context.Context, *Transaction) error) error {
	iteration := 0
	for {
		fnErr, result, done := e.attempt(ctx, mode, fn)
		if done {
			return result
		}

		if backoff, ok := retry.ShouldRetryTransaction(e.rules, fnErr, iteration); ok {
			iteration++
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		return result
	}
}

// attempt runs one transaction attempt on a freshly acquired connection.
// The handle is released via defer so a panic unwinding out of fn still
// returns its permit instead of leaking it (spec §4.4 "the permit is
// always returned"). done reports whether Run should stop retrying:
// true once fn succeeded (result then carries any COMMIT error) or on an
// Acquire failure, false when fnErr is eligible for the caller to
// evaluate against the retry rules.
func (e *Engine) attempt(ctx context.Context, mode Mode, fn func(context.Context, *Transaction) error) (fnErr, result error, done bool) {
	h, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err, true
	}
	defer h.Release()

	tx := &Transaction{c: h.Conn(), mode: mode}
	fnErr = runClosure(ctx, tx, fn)

	if fnErr == nil {
		return nil, tx.commit(ctx), true
	}

	rollbackErr := tx.rollback(ctx)
	combined := fnErr
	if rollbackErr != nil {
		combined = multierror.Append(fnErr, rollbackErr)
	}
	return fnErr, combined, false
}

// runClosure isolates fn's panics so a rollback still happens before the
// panic propagates (spec §5 "Cancellation": the handle must not outlive
// its closure even on an abnormal exit).
func runClosure(ctx context.Context, tx *Transaction, fn func(context.Context, *Transaction) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = tx.rollback(ctx)
			panic(r)
		}
	}()
	return fn(ctx, tx)
}

// RawTransaction exposes explicit Commit/Rollback with no automatic
// retry, for callers that need manual control (spec §4.5 "Raw
// transaction"). Go has no destructors, so the "drop without commit
// implicitly rolls back" rule is expressed as: callers must `defer
// raw.Rollback(ctx)` immediately after BeginRaw succeeds; Rollback and
// Commit are both idempotent no-ops once the transaction is resolved.
type RawTransaction struct {
	handle *pool.Handle
	tx     *Transaction
	done   bool
}

// BeginRaw acquires a connection and starts a transaction on it.
func BeginRaw(ctx context.Context, p *pool.Pool, mode Mode) (*RawTransaction, error) {
	h, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{c: h.Conn(), mode: mode}
	if err := tx.ensureStarted(ctx); err != nil {
		h.Release()
		return nil, err
	}
	return &RawTransaction{handle: h, tx: tx}, nil
}

// Tx returns the underlying Transaction for running queries.
func (r *RawTransaction) Tx() *Transaction { return r.tx }

// Commit commits and releases the connection.
func (r *RawTransaction) Commit(ctx context.Context) error {
	if r.done {
		return nil
	}
	r.done = true
	err := r.tx.commit(ctx)
	r.handle.Release()
	return err
}

// Rollback rolls back and releases the connection. A no-op if Commit
// already ran.
func (r *RawTransaction) Rollback(ctx context.Context) error {
	if r.done {
		return nil
	}
	r.done = true
	err := r.tx.rollback(ctx)
	r.handle.Release()
	return err
}
