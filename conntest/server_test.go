package conntest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/nyxdb/nyxdb-go/conn"
	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/nyxdb"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/pool"
	"github.com/nyxdb/nyxdb-go/queryexec"
)

func dialServer(t *testing.T, s *Server) *conn.Connection {
	t.Helper()
	host, portStr, err := splitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	cfg := config.Config{
		Host: host, Port: port,
		User: "u", Password: "p", Database: "d",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := conn.Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", nyxerr.New(nyxerr.KindProtocolError, "no port in address")
}

func TestEmptyTupleQuery(t *testing.T) {
	t.Parallel()

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	outDesc, outID := EmptyTupleDescriptor()
	inDesc, inID := EmptyTupleDescriptor()
	s.RegisterFixture("select ()", &Fixture{
		InputDesc: inDesc, InputID: inID, OutputDesc: outDesc, OutputID: outID,
		Cardinality: uint8(descriptor.CardinalityOne),
		Rows:        [][][]byte{{}},
	})

	c := dialServer(t, s)
	ctx := context.Background()
	resp, err := queryexec.Run(ctx, c, queryexec.Request{
		Text: "select ()", Cardinality: descriptor.CardinalityOne,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(resp.Rows) != 1 {
		t.Fatalf("rows = %v, want exactly one", resp.Rows)
	}
}

func TestInt64ScalarQuery(t *testing.T) {
	t.Parallel()

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	outDesc, outID := Int64ScalarDescriptor()
	inDesc, inID := EmptyTupleDescriptor()
	row := encodeInt64Field(42)
	s.RegisterFixture("select 42", &Fixture{
		InputDesc: inDesc, InputID: inID, OutputDesc: outDesc, OutputID: outID,
		Cardinality: uint8(descriptor.CardinalityOne),
		Rows:        [][][]byte{{row}},
	})

	c := dialServer(t, s)
	ctx := context.Background()
	resp, err := queryexec.Run(ctx, c, queryexec.Request{
		Text: "select 42", Cardinality: descriptor.CardinalityOne,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(resp.Rows) != 1 {
		t.Fatalf("rows = %v, want exactly one", resp.Rows)
	}
	if v, ok := resp.Rows[0].(int64); !ok || v != 42 {
		t.Fatalf("rows[0] = %v, want int64(42)", resp.Rows[0])
	}
}

func TestObjectShapeQuery(t *testing.T) {
	t.Parallel()

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	outDesc, outID := ObjectDescriptor([]string{"id", "age"})
	inDesc, inID := EmptyTupleDescriptor()
	row := [][]byte{encodeInt64Field(1), encodeInt64Field(30)}
	s.RegisterFixture("select Person { id, age }", &Fixture{
		InputDesc: inDesc, InputID: inID, OutputDesc: outDesc, OutputID: outID,
		Cardinality: uint8(descriptor.CardinalityOne),
		Rows:        [][][]byte{row},
	})

	c := dialServer(t, s)
	ctx := context.Background()
	resp, err := queryexec.Run(ctx, c, queryexec.Request{
		Text: "select Person { id, age }", Cardinality: descriptor.CardinalityOne,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	obj, ok := resp.Rows[0].(*descriptor.Object)
	if !ok {
		t.Fatalf("rows[0] = %T, want *descriptor.Object", resp.Rows[0])
	}
	id, _ := obj.Get("id")
	age, _ := obj.Get("age")
	if id != int64(1) || age != int64(30) {
		t.Fatalf("rows[0] = %+v, want {id:1 age:30}", obj)
	}
}

func TestRetryOnTransientError(t *testing.T) {
	t.Parallel()

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	outDesc, outID := Int64ScalarDescriptor()
	inDesc, inID := EmptyTupleDescriptor()
	s.RegisterFixture("select 1", &Fixture{
		InputDesc: inDesc, InputID: inID, OutputDesc: outDesc, OutputID: outID,
		Cardinality: uint8(descriptor.CardinalityOne),
		Rows:        [][][]byte{{encodeInt64Field(1)}},
		FailFirstN:  2,
	})

	host, portStr, err := splitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	p := pool.New(config.Config{
		Host: host, Port: port, User: "u", Password: "p", Database: "d",
		MaxConcurrency: 3,
	})
	defer p.Close()

	ctx := context.Background()

	// A failed Execute leaves its connection Dirty; the pool discards a
	// Dirty connection on Release instead of returning it to the idle
	// cache, so each retry here runs against a freshly dialed connection
	// (the realistic path — mid-stream errors are not resynced in place).
	attempt := 0
	for {
		h, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		_, runErr := queryexec.Run(ctx, h.Conn(), queryexec.Request{
			Text: "select 1", Cardinality: descriptor.CardinalityOne,
		})
		h.Release()
		attempt++
		if runErr == nil {
			break
		}
		if !nyxerr.ShouldRetry(runErr) || attempt > 5 {
			t.Fatalf("query failed without a retry-safe tag on attempt %d: %v", attempt, runErr)
		}
	}
	if attempt != 3 {
		t.Fatalf("attempts = %d, want 3 (2 failures + 1 success)", attempt)
	}
}

func TestClientQueryRetriesTransientErrorAutomatically(t *testing.T) {
	t.Parallel()

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	outDesc, outID := Int64ScalarDescriptor()
	inDesc, inID := EmptyTupleDescriptor()
	s.RegisterFixture("select 1", &Fixture{
		InputDesc: inDesc, InputID: inID, OutputDesc: outDesc, OutputID: outID,
		Cardinality: uint8(descriptor.CardinalityOne),
		Rows:        [][][]byte{{encodeInt64Field(1)}},
		FailFirstN:  2,
	})

	host, portStr, err := splitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	c := nyxdb.Connect(config.Config{
		Host: host, Port: port, User: "u", Password: "p", Database: "d",
		MaxConcurrency: 3,
	})
	defer c.Close()

	rows, err := c.Query(context.Background(), "select 1", nil)
	if err != nil {
		t.Fatalf("Query: %v, want the client to retry the first two transient failures itself", err)
	}
	if len(rows) != 1 || rows[0] != int64(1) {
		t.Fatalf("rows = %v, want [1]", rows)
	}
}

func TestPoolCapBlocksSecondAcquireUntilRelease(t *testing.T) {
	t.Parallel()

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	host, portStr, err := splitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	p := pool.New(config.Config{
		Host: host, Port: port, User: "u", Password: "p", Database: "d",
		MaxConcurrency: 1,
	})
	defer p.Close()

	ctx := context.Background()
	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		h2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		h2.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before the first handle was released")
	case <-time.After(100 * time.Millisecond):
	}

	h1.Release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire never unblocked after release")
	}
}

func TestIdleLivenessPingKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.IdleSecs = 1 // -> ~0.9s ping interval
	defer s.Close()

	host, portStr, err := splitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	cfg := config.Config{Host: host, Port: port, User: "u", Password: "p", Database: "d"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := conn.Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if interval, enabled := c.PingInterval(); !enabled || interval <= 0 {
		t.Fatalf("PingInterval() = (%v, %v), want a positive interval advertised by the server", interval, enabled)
	}

	// fn runs long enough for at least one background ping tick to fire;
	// RunWithLiveness must keep the session alive across it.
	err = c.RunWithLiveness(ctx, func(ctx context.Context) error {
		select {
		case <-time.After(1200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("RunWithLiveness: %v", err)
	}
}

// encodeInt64Field mirrors the wire layout descriptor's int64 codec
// expects: a big-endian 8-byte value, matching the real server's binary
// protocol encoding for a base scalar.
func encodeInt64Field(v int64) []byte {
	b := make([]byte, 8)
	uv := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(uv)
		uv >>= 8
	}
	return b
}
