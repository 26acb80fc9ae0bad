package conntest

import (
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nyxdb/nyxdb-go/protocol"
)

// Fixture is a canned response for one query text.
type Fixture struct {
	InputDesc, OutputDesc   []byte
	InputID, OutputID       uuid.UUID
	Cardinality             uint8
	Capabilities            uint64
	Rows                    [][][]byte
	Status                  string
	FailFirstN              int // reply ErrorResponse to the first N Executes, then succeed
	FailCode                uint32

	executed int
}

// Server is an in-process stand-in for a real database server: enough of
// the handshake and request/response shape to drive conn/pool/txn through
// their paces without a live backend.
type Server struct {
	ln       net.Listener
	Tier     protocol.Tier
	Version  protocol.Version
	IdleSecs int // advertised via system_config; 0 disables ping scenarios

	mu       sync.Mutex
	fixtures map[string]*Fixture
	wg       sync.WaitGroup
	closed   bool
}

// NewServer starts listening on a random loopback port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:       ln,
		Tier:     protocol.TierV3,
		Version:  protocol.CurrentVersion,
		fixtures: make(map[string]*Fixture),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr is the "host:port" string to Dial against.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// RegisterFixture wires query to the response f, keyed by exact query text.
func (s *Server) RegisterFixture(query string, f *Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixtures[query] = f
}

// Close stops accepting and unblocks the accept loop.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer c.Close()
			serveConn(s, c)
		}()
	}
}

func (s *Server) lookup(query string) *Fixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixtures[query]
}

func serveConn(s *Server, c net.Conn) {
	fr := protocol.NewFrameReader(c)
	fw := protocol.NewFrameWriter(c)

	if err := handshake(s, fr, fw); err != nil {
		return
	}

	// last holds the most recently Parsed fixture on this connection.
	// Real servers associate an Execute with its own prior Parse (1.x+
	// Execute carries no query text to re-resolve by); mirroring that
	// per-connection association is simpler and more honest than
	// matching on output type id, which multiple distinct statements
	// may legitimately share (e.g. two NoResult statements both
	// returning the empty tuple).
	var last *Fixture

	for {
		f, err := fr.ReadFrame()
		if err != nil {
			return
		}
		switch f.Type {
		case protocol.TypeTerminate:
			return
		case protocol.TypeParse:
			fx, err := handleParseSync(s, fr, fw, f)
			if err != nil {
				return
			}
			last = fx
		case protocol.TypeExecuteV1:
			if err := handleExecuteSync(s, fr, fw, f, last); err != nil {
				return
			}
		case protocol.TypeSync:
			if err := writeReadyForCommand(fw, protocol.TxNotInTransaction); err != nil {
				return
			}
		default:
			// Unrecognized frames (legacy Prepare/DescribeStatement/
			// OptimisticExecute tiers) are out of scope for this fake
			// server; the test suite only dials at TierV3.
			return
		}
	}
}

func handshake(s *Server, fr *protocol.FrameReader, fw *protocol.FrameWriter) error {
	f, err := fr.ReadFrame()
	if err != nil {
		return err
	}
	if err := requireType(f, protocol.TypeClientHandshake); err != nil {
		return err
	}
	d := protocol.NewBodyDecoder(f.Payload)
	if _, err := decodeClientHandshake(d); err != nil {
		return err
	}

	if err := writeServerHandshake(fw, s.Version.Major, s.Version.Minor); err != nil {
		return err
	}
	if err := writeAuthOK(fw); err != nil {
		return err
	}
	if err := writeServerKeyData(fw); err != nil {
		return err
	}
	if s.IdleSecs > 0 {
		cfg := []byte("session_idle_timeout=" + strconv.Itoa(s.IdleSecs))
		if err := writeParameterStatus(fw, "system_config", cfg); err != nil {
			return err
		}
	}
	return writeReadyForCommand(fw, protocol.TxNotInTransaction)
}

func handleParseSync(s *Server, fr *protocol.FrameReader, fw *protocol.FrameWriter, f protocol.Frame) (*Fixture, error) {
	d := protocol.NewBodyDecoder(f.Payload)
	req, err := decodeParse(d, s.Tier)
	if err != nil {
		return nil, err
	}

	sync, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	if err := requireType(sync, protocol.TypeSync); err != nil {
		return nil, err
	}

	fx := s.lookup(req.Text)
	if fx == nil {
		if err := writeErrorResponse(fw, 0, "unknown query: "+req.Text); err != nil {
			return nil, err
		}
		return nil, writeReadyForCommand(fw, protocol.TxNotInTransaction)
	}

	if err := writeCommandDataDescription(fw, fx.Capabilities, fx.Cardinality, fx.InputID, fx.InputDesc, fx.OutputID, fx.OutputDesc); err != nil {
		return nil, err
	}
	return fx, writeReadyForCommand(fw, protocol.TxNotInTransaction)
}

func handleExecuteSync(s *Server, fr *protocol.FrameReader, fw *protocol.FrameWriter, f protocol.Frame, fx *Fixture) error {
	d := protocol.NewBodyDecoder(f.Payload)
	if _, err := decodeExecute(d, s.Tier); err != nil {
		return err
	}

	sync, err := fr.ReadFrame()
	if err != nil {
		return err
	}
	if err := requireType(sync, protocol.TypeSync); err != nil {
		return err
	}

	if fx == nil {
		if err := writeErrorResponse(fw, 0, "Execute with no preceding Parse on this connection"); err != nil {
			return err
		}
		return writeReadyForCommand(fw, protocol.TxNotInTransaction)
	}

	s.mu.Lock()
	fx.executed++
	shouldFail := fx.executed <= fx.FailFirstN
	s.mu.Unlock()

	if shouldFail {
		code := fx.FailCode
		if code == 0 {
			code = codeTagShouldRetryBit
		}
		if err := writeErrorResponse(fw, code, "simulated transient failure"); err != nil {
			return err
		}
		return writeReadyForCommand(fw, protocol.TxNotInTransaction)
	}

	for _, row := range fx.Rows {
		if err := writeData(fw, row); err != nil {
			return err
		}
	}
	status := fx.Status
	if status == "" {
		status = "OK"
	}
	if err := writeCommandComplete(fw, fx.Capabilities, status); err != nil {
		return err
	}
	return writeReadyForCommand(fw, protocol.TxNotInTransaction)
}
