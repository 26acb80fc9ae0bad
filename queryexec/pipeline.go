// Package queryexec composes conn.Connection's Parse/Execute primitives
// with the descriptor codec into the full query pipeline spec §4.3
// describes: Parse, encode arguments against the input shape, Execute,
// decode rows against the output shape, enforce cardinality. Shared by
// the top-level Client and the transaction engine so both get identical
// semantics.
package queryexec

import (
	"context"

	"github.com/nyxdb/nyxdb-go/conn"
	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// Request describes one query to run.
type Request struct {
	Text        string
	IOFormat    protocol.IOFormat
	Cardinality descriptor.Cardinality
	Args        any // nil, []any (positional), or map[string]any (named)
}

// Response is a decoded, cardinality-checked query result.
type Response struct {
	Rows     []any
	Status   string
	NewState *protocol.StateBlob
}

// Run executes req against c end to end.
func Run(ctx context.Context, c *conn.Connection, req Request) (*Response, error) {
	stmt, err := c.Parse(ctx, req.Text, req.IOFormat, req.Cardinality)
	if err != nil {
		return nil, err
	}

	argBytes, err := encodeArgs(stmt, req.Args)
	if err != nil {
		return nil, err
	}

	res, err := c.Execute(ctx, stmt, argBytes)
	if err != nil {
		if e, ok := err.(*nyxerr.Error); ok {
			err = e.WithCapabilities(uint32(stmt.Capabilities.Observed))
		}
		return nil, err
	}

	rows, err := decodeRows(stmt, res)
	if err != nil {
		return nil, err
	}
	if err := enforceCardinality(stmt.Cardinality, rows); err != nil {
		return nil, err
	}

	return &Response{Rows: rows, Status: res.Status, NewState: res.NewState}, nil
}

func encodeArgs(stmt *conn.Statement, args any) ([]byte, error) {
	enc := descriptor.NewEncoder(stmt.InputGraph)
	switch a := args.(type) {
	case nil:
		return enc.EncodePositional(nil)
	case []any:
		return enc.EncodePositional(a)
	case map[string]any:
		return enc.EncodeNamed(a)
	default:
		return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "arguments must be nil, []any, or map[string]any")
	}
}

func decodeRows(stmt *conn.Statement, res *conn.Result) ([]any, error) {
	if stmt.IOFormat != protocol.IOFormatBinary {
		rows := make([]any, len(res.Rows))
		for i, fields := range res.Rows {
			if len(fields) != 1 {
				return nil, nyxerr.New(nyxerr.KindProtocolError, "JSON result row must carry exactly one field")
			}
			rows[i] = string(fields[0])
		}
		return rows, nil
	}

	rows := make([]any, len(res.Rows))
	for i, fields := range res.Rows {
		v, err := descriptor.DecodeRow(stmt.OutputGraph, fields)
		if err != nil {
			return nil, err
		}
		rows[i] = v
	}
	return rows, nil
}

func enforceCardinality(card descriptor.Cardinality, rows []any) error {
	switch card {
	case descriptor.CardinalityNoResult:
		if len(rows) > 0 {
			return nyxerr.New(nyxerr.KindNoResultExpected, "query unexpectedly returned rows")
		}
	case descriptor.CardinalityOne:
		if len(rows) == 0 {
			return nyxerr.New(nyxerr.KindNoDataError, "query returned no rows for a required-single result")
		}
		if len(rows) > 1 {
			return nyxerr.New(nyxerr.KindProtocolError, "query returned more than one row for a single result")
		}
	case descriptor.CardinalityAtMostOne:
		if len(rows) > 1 {
			return nyxerr.New(nyxerr.KindProtocolError, "query returned more than one row for an at-most-one result")
		}
	}
	return nil
}
