package conn

import (
	"context"

	"github.com/google/uuid"

	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// Statement is the result of parsing query text: the descriptor ids and
// graphs Execute must reuse, per spec §3's "Execute ids must match the
// ids obtained from the most recent Parse/Describe" invariant.
type Statement struct {
	Text         string
	IOFormat     protocol.IOFormat
	Cardinality  descriptor.Cardinality
	InputTypeID  uuid.UUID
	OutputTypeID uuid.UUID
	Capabilities descriptor.QueryCapabilities
	InputGraph   *descriptor.Graph
	OutputGraph  *descriptor.Graph
}

// Result is a fully-drained request: its rows and the session effects
// the server reported alongside CommandComplete.
type Result struct {
	Rows         [][][]byte
	Status       string
	Capabilities descriptor.Capabilities
	NewState     *protocol.StateBlob
	TxState      protocol.TxState
}

// Parse sends Parse+Sync (1.x+) or Prepare+DescribeStatement+Sync
// (legacy) and returns the resulting Statement. A cache hit on (text,
// ioFormat, cardinality) skips the round trip entirely.
func (c *Connection) Parse(ctx context.Context, text string, ioFormat protocol.IOFormat, card descriptor.Cardinality) (*Statement, error) {
	key := cacheKey(text, ioFormat, card)
	if e, ok := c.cache.get(key); ok {
		return &Statement{
			Text: text, IOFormat: ioFormat, Cardinality: e.Cardinality,
			InputTypeID: uuid.UUID(e.InputTypeID), OutputTypeID: uuid.UUID(e.OutputTypeID),
			Capabilities: descriptor.Parsed(e.Capabilities),
			InputGraph:   e.InputGraph, OutputGraph: e.OutputGraph,
		}, nil
	}

	g := c.acquireGuard()
	var stmt *Statement
	err := withContext(ctx, func() error {
		var err error
		if c.tier == protocol.TierLegacy {
			stmt, err = c.parseLegacy(text, ioFormat, card)
		} else {
			stmt, err = c.parseV1(text, ioFormat, card)
		}
		return err
	})
	g.release(err == nil)
	if err != nil {
		return nil, err
	}

	c.cache.put(key, descCacheEntry{
		InputTypeID: [16]byte(stmt.InputTypeID), OutputTypeID: [16]byte(stmt.OutputTypeID),
		InputGraph: stmt.InputGraph, OutputGraph: stmt.OutputGraph,
		Capabilities: stmt.Capabilities.Observed, Cardinality: stmt.Cardinality,
	})
	return stmt, nil
}

func (c *Connection) parseV1(text string, ioFormat protocol.IOFormat, card descriptor.Cardinality) (*Statement, error) {
	msg := protocol.Parse{
		IOFormat: ioFormat, Cardinality: uint8(card), Text: text, State: c.stateVal,
	}
	body, err := msg.Encode(c.tier)
	if err != nil {
		return nil, err
	}
	if err := c.sendFrame(protocol.TypeParse, body); err != nil {
		return nil, err
	}
	if err := c.sendMessage(protocol.TypeSync, protocol.Sync{}); err != nil {
		return nil, err
	}

	var desc protocol.CommandDataDescription
	var haveDesc bool
	for {
		m, err := c.recvMessage()
		if err != nil {
			c.drainAfterError(err)
			return nil, err
		}
		switch v := m.(type) {
		case protocol.CommandDataDescription:
			desc = v
			haveDesc = true
		case protocol.ReadyForCommand:
			c.setTxState(v.TxState)
			if !haveDesc {
				return nil, nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "Parse completed without a data description")
			}
			return buildStatement(text, ioFormat, card, desc)
		default:
			return nil, nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "unexpected message during Parse")
		}
	}
}

func (c *Connection) parseLegacy(text string, ioFormat protocol.IOFormat, card descriptor.Cardinality) (*Statement, error) {
	prep := protocol.Prepare{IOFormat: ioFormat, Cardinality: uint8(card), Text: text}
	if err := c.sendMessage(protocol.TypePrepare, prep); err != nil {
		return nil, err
	}
	if err := c.sendMessage(protocol.TypeSync, protocol.Sync{}); err != nil {
		return nil, err
	}
	if err := c.awaitReadyAfter(func(m protocol.ServerMessage) error {
		if _, ok := m.(protocol.PrepareComplete); !ok {
			return nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "unexpected message during Prepare")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	descReq := protocol.DescribeStatement{Aspect: 0}
	if err := c.sendMessage(protocol.TypeDescribeStatement, descReq); err != nil {
		return nil, err
	}
	if err := c.sendMessage(protocol.TypeSync, protocol.Sync{}); err != nil {
		return nil, err
	}

	var desc protocol.CommandDataDescription
	var haveDesc bool
	for {
		m, err := c.recvMessage()
		if err != nil {
			c.drainAfterError(err)
			return nil, err
		}
		switch v := m.(type) {
		case protocol.CommandDataDescription:
			desc = v
			haveDesc = true
		case protocol.ReadyForCommand:
			c.setTxState(v.TxState)
			if !haveDesc {
				return nil, nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "DescribeStatement completed without a data description")
			}
			return buildStatement(text, ioFormat, card, desc)
		default:
			return nil, nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "unexpected message during DescribeStatement")
		}
	}
}

func buildStatement(text string, ioFormat protocol.IOFormat, card descriptor.Cardinality, desc protocol.CommandDataDescription) (*Statement, error) {
	inID := uuid.UUID(desc.InputTypeID)
	outID := uuid.UUID(desc.OutputTypeID)

	inGraph, err := descriptor.Decode(desc.InputDescriptor, inID)
	if err != nil {
		return nil, err
	}
	outGraph, err := descriptor.Decode(desc.OutputDescriptor, outID)
	if err != nil {
		return nil, err
	}

	return &Statement{
		Text: text, IOFormat: ioFormat, Cardinality: descriptor.Cardinality(desc.Cardinality),
		InputTypeID: inID, OutputTypeID: outID,
		Capabilities: descriptor.Parsed(descriptor.Capabilities(desc.Capabilities)),
		InputGraph:   inGraph, OutputGraph: outGraph,
	}, nil
}

// Execute sends Execute+Sync (1.x+) or OptimisticExecute+Sync (legacy)
// and drains the response into a Result.
func (c *Connection) Execute(ctx context.Context, stmt *Statement, args []byte) (*Result, error) {
	g := c.acquireGuard()
	var res *Result
	err := withContext(ctx, func() error {
		var err error
		res, err = c.execute(stmt, args)
		return err
	})
	g.release(err == nil)
	return res, err
}

func (c *Connection) execute(stmt *Statement, args []byte) (*Result, error) {
	msg := protocol.Execute{
		InputTypeID: [16]byte(stmt.InputTypeID), OutputTypeID: [16]byte(stmt.OutputTypeID),
		State: c.stateVal, Arguments: args,
		IOFormat: stmt.IOFormat, Cardinality: uint8(stmt.Cardinality),
	}
	typ := byte(protocol.TypeExecuteV1)
	if c.tier == protocol.TierLegacy {
		typ = protocol.TypeOptimisticExecute
		msg.Text = stmt.Text
	}
	body, err := msg.Encode(c.tier)
	if err != nil {
		return nil, err
	}
	if err := c.sendFrame(typ, body); err != nil {
		return nil, err
	}
	if err := c.sendMessage(protocol.TypeSync, protocol.Sync{}); err != nil {
		return nil, err
	}

	res := &Result{}
	for {
		m, err := c.recvMessage()
		if err != nil {
			c.drainAfterError(err)
			return nil, err
		}
		switch v := m.(type) {
		case protocol.Data:
			res.Rows = append(res.Rows, v.Fields)
		case protocol.CommandComplete:
			res.Status = v.Status
			res.Capabilities = descriptor.Capabilities(v.Capabilities)
			res.NewState = v.State
			if v.State != nil {
				c.mu.Lock()
				c.stateVal = *v.State
				c.mu.Unlock()
			}
		case protocol.ReadyForCommand:
			c.setTxState(v.TxState)
			res.TxState = v.TxState
			return res, nil
		default:
			return nil, nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "unexpected message during Execute")
		}
	}
}

func (c *Connection) awaitReadyAfter(onMessage func(protocol.ServerMessage) error) error {
	for {
		m, err := c.recvMessage()
		if err != nil {
			c.drainAfterError(err)
			return err
		}
		if rfc, ok := m.(protocol.ReadyForCommand); ok {
			c.setTxState(rfc.TxState)
			return nil
		}
		if err := onMessage(m); err != nil {
			return err
		}
	}
}

// drainAfterError best-effort drains the frame stream up to the next
// ReadyForCommand after the server reported an ErrorResponse, per spec
// §4.2: "any ErrorResponse must still be followed by waiting for
// ReadyForCommand (best-effort) before returning to caller." cause is
// only drained for when it originated from the server (KindServerError);
// a transport-level failure (EOF, decode error) has nothing left to
// drain. Any error encountered while draining is swallowed — the
// connection is already Dirty and will be discarded on Release either
// way, so the original cause is what the caller sees.
func (c *Connection) drainAfterError(cause error) {
	if !nyxerr.Is(cause, nyxerr.KindServerError) {
		return
	}
	for {
		m, err := c.recvMessage()
		if err != nil {
			return
		}
		if rfc, ok := m.(protocol.ReadyForCommand); ok {
			c.setTxState(rfc.TxState)
			return
		}
	}
}

// withContext runs fn, returning ctx.Err() instead if ctx is already
// done; the wire operations themselves are synchronous and do not
// observe cancellation mid-flight once started (spec §4.2 "Sequencing").
func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return nyxerr.Wrap(nyxerr.KindClientConnectionTimeout, err, "context done before request")
	}
	return fn()
}
