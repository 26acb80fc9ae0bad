package protocol

import (
	"github.com/nyxdb/nyxdb-go/nyxerr"
)

// Message type bytes. Spec §6 pins the frame layout and decode contract
// but leaves the exact byte assignments to the implementer ("agree with
// the target server"); this repo's assignment is internally consistent
// and is defined by the constants below.
const (
	TypeParse                byte = 'W' // 1.x+ Parse, distinct from legacy Prepare
	TypeClientHandshake      byte = 'V'
	TypeServerHandshake      byte = 'v'
	TypeAuthentication       byte = 'R'
	TypeSASLInitialResponse  byte = 'p'
	TypeSASLResponse         byte = 'r'
	TypeServerKeyData        byte = 'K'
	TypeParameterStatus      byte = 'S'
	TypeReadyForCommand      byte = 'Z'
	TypeErrorResponse        byte = 'E'
	TypePrepare              byte = 'P' // legacy
	TypeDescribeStatement    byte = 'D'
	TypeCommandDataDescLegacy byte = 'T'
	TypeCommandDataDescV1    byte = 't'
	TypeStateDataDescription byte = 's'
	TypeOptimisticExecute    byte = 'O' // legacy
	TypeExecuteV1            byte = 'Q'
	TypeSync                 byte = 'Y'
	TypeFlush                byte = 'H'
	TypeTerminate            byte = 'X'
	TypeData                 byte = 'd'
	TypeCommandCompleteLegacy byte = 'C'
	TypeCommandCompleteV1    byte = 'c'
	TypeLogMessage           byte = 'L'
	TypePrepareComplete      byte = '1' // legacy
)

// TxState is the transaction state carried on every ReadyForCommand,
// encoded on the wire as a single byte: 'I'/'T'/'E'.
type TxState byte

const (
	TxNotInTransaction    TxState = 'I'
	TxInTransaction        TxState = 'T'
	TxInFailedTransaction  TxState = 'E'
)

// IOFormat selects how row data is encoded on the wire.
type IOFormat uint8

const (
	IOFormatBinary IOFormat = iota
	IOFormatJSON
	IOFormatJSONElements
)

// --- Client messages ---------------------------------------------------

// ClientHandshake is the first message sent on a fresh connection.
type ClientHandshake struct {
	MajorVer uint16
	MinorVer uint16
	Params   map[string]string // {user, database|branch, [secret_key]}
}

func (m ClientHandshake) Encode() ([]byte, error) {
	e := NewBodyEncoder()
	defer e.Release()

	e.U16(m.MajorVer)
	e.U16(m.MinorVer)

	if len(m.Params) > 0xFFFF {
		return nil, nyxerr.New(nyxerr.KindClientEncodingError, "TooManyHeaders")
	}
	e.U16(uint16(len(m.Params)))
	for k, v := range m.Params {
		if err := e.String(k); err != nil {
			return nil, err
		}
		if err := e.String(v); err != nil {
			return nil, err
		}
	}
	e.U16(0) // no extensions
	return append([]byte(nil), e.Bytes()...), nil
}

// SASLInitialResponse begins a SASL exchange.
type SASLInitialResponse struct {
	Method string
	Data   []byte
}

func (m SASLInitialResponse) Encode() ([]byte, error) {
	e := NewBodyEncoder()
	defer e.Release()
	if err := e.String(m.Method); err != nil {
		return nil, err
	}
	if err := e.ByteArray(m.Data); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// SASLResponse continues a SASL exchange.
type SASLResponse struct {
	Data []byte
}

func (m SASLResponse) Encode() ([]byte, error) {
	e := NewBodyEncoder()
	defer e.Release()
	if err := e.ByteArray(m.Data); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// Parse requests the server parse query text into a cached, described
// statement (1.x+ shape; legacy uses Prepare below).
type Parse struct {
	AnnotationFlags uint64 // 3.x only; ignored pre-3.0
	IOFormat        IOFormat
	Cardinality     uint8
	Text            string
	State           StateBlob
	ImplicitLimit   uint64
}

func (m Parse) Encode(tier Tier) ([]byte, error) {
	e := NewBodyEncoder()
	defer e.Release()
	if tier >= TierV3 {
		e.U64(m.AnnotationFlags)
	}
	e.U8(uint8(m.IOFormat))
	e.U8(m.Cardinality)
	if err := e.String(m.Text); err != nil {
		return nil, err
	}
	if err := encodeStateBlob(e, m.State); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// Execute runs a previously parsed statement. Shape depends on tier:
// legacy OptimisticExecute carries the query text too (single round trip);
// 1.x+ Execute assumes a prior Parse and only needs the descriptor ids.
type Execute struct {
	AnnotationFlags uint64
	InputTypeID     [16]byte
	OutputTypeID    [16]byte
	State           StateBlob
	Arguments       []byte // pre-encoded by descriptor.Encoder
	Text            string // legacy OptimisticExecute only
	IOFormat        IOFormat
	Cardinality     uint8
}

func (m Execute) Encode(tier Tier) ([]byte, error) {
	e := NewBodyEncoder()
	defer e.Release()
	if tier >= TierV3 {
		e.U64(m.AnnotationFlags)
	}
	if tier == TierLegacy {
		e.U8(uint8(m.IOFormat))
		e.U8(m.Cardinality)
		if err := e.String(m.Text); err != nil {
			return nil, err
		}
	}
	e.RawBytes(m.InputTypeID[:])
	e.RawBytes(m.OutputTypeID[:])
	if err := encodeStateBlob(e, m.State); err != nil {
		return nil, err
	}
	if err := e.ByteArray(m.Arguments); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// Prepare is the legacy two-round-trip equivalent of Parse.
type Prepare struct {
	IOFormat    IOFormat
	Cardinality uint8
	StatementName []byte
	Text        string
}

func (m Prepare) Encode() ([]byte, error) {
	e := NewBodyEncoder()
	defer e.Release()
	e.U8(uint8(m.IOFormat))
	e.U8(m.Cardinality)
	if err := e.ByteArray(m.StatementName); err != nil {
		return nil, err
	}
	if err := e.String(m.Text); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// DescribeStatement asks for the data description of a prepared statement
// (legacy only; 1.x+ gets the description back from Parse directly).
type DescribeStatement struct {
	Aspect        uint8
	StatementName []byte
}

func (m DescribeStatement) Encode() ([]byte, error) {
	e := NewBodyEncoder()
	defer e.Release()
	e.U8(m.Aspect)
	if err := e.ByteArray(m.StatementName); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// Sync closes a request run and elicits ReadyForCommand.
type Sync struct{}

func (Sync) Encode() ([]byte, error) { return nil, nil }

// Flush forces the server to emit buffered messages without closing the run.
type Flush struct{}

func (Flush) Encode() ([]byte, error) { return nil, nil }

// Terminate is sent on graceful shutdown; best-effort, EOS after is success.
type Terminate struct{}

func (Terminate) Encode() ([]byte, error) { return nil, nil }

// StateBlob is the opaque serialized session state (aliases, globals,
// default module, config) sent with every request in 1.x+.
type StateBlob struct {
	TypeID [16]byte
	Data   []byte
}

func encodeStateBlob(e *BodyEncoder, s StateBlob) error {
	e.RawBytes(s.TypeID[:])
	return e.ByteArray(s.Data)
}

func decodeStateBlob(d *BodyDecoder) (StateBlob, error) {
	var s StateBlob
	id, err := d.UUID()
	if err != nil {
		return s, err
	}
	s.TypeID = id
	data, err := d.ByteArray()
	if err != nil {
		return s, err
	}
	s.Data = data
	return s, nil
}

// --- Server messages -----------------------------------------------------

// ServerMessage is implemented by every decoded server-to-client message.
type ServerMessage interface{ serverMessage() }

type ServerHandshake struct {
	MajorVer, MinorVer uint16
	Params             map[string]string
}

func (ServerHandshake) serverMessage() {}

// AuthStatus distinguishes the shapes of an Authentication message.
type AuthStatus uint32

const (
	AuthOK            AuthStatus = 0
	AuthSASL          AuthStatus = 10
	AuthSASLContinue  AuthStatus = 11
	AuthSASLFinal     AuthStatus = 12
)

type Authentication struct {
	Status        AuthStatus
	SASLMethods   []string // Status == AuthSASL
	SASLData      []byte   // Status == AuthSASLContinue/AuthSASLFinal
}

func (Authentication) serverMessage() {}

type ServerKeyData struct {
	Data [32]byte
}

func (ServerKeyData) serverMessage() {}

type ParameterStatus struct {
	Name  string
	Value []byte
}

func (ParameterStatus) serverMessage() {}

type StateDataDescription struct {
	TypeID     [16]byte
	TypeDescriptor []byte
}

func (StateDataDescription) serverMessage() {}

type CommandDataDescription struct {
	Capabilities  uint64
	Cardinality   uint8
	InputTypeID   [16]byte
	InputDescriptor  []byte
	OutputTypeID  [16]byte
	OutputDescriptor []byte
}

func (CommandDataDescription) serverMessage() {}

type PrepareComplete struct {
	Cardinality  uint8
	InputTypeID  [16]byte
	OutputTypeID [16]byte
}

func (PrepareComplete) serverMessage() {}

type Data struct {
	Fields [][]byte // each element is a field's raw bytes, nil == NULL
}

func (Data) serverMessage() {}

type CommandComplete struct {
	Capabilities uint64
	Status       string
	State        *StateBlob
}

func (CommandComplete) serverMessage() {}

type ReadyForCommand struct {
	TxState TxState
}

func (ReadyForCommand) serverMessage() {}

// ErrorAttribute is a single key/value annotation on an ErrorResponse.
type ErrorAttribute struct {
	Code  uint16
	Value string
}

type ErrorResponse struct {
	Severity   uint8
	Code       uint32
	Message    string
	Attributes []ErrorAttribute
}

func (ErrorResponse) serverMessage() {}

type LogMessage struct {
	Severity uint8
	Code     uint32
	Text     string
}

func (LogMessage) serverMessage() {}

// UnknownMessage preserves an unrecognized message type byte instead of
// treating it as fatal on read (spec §4.1); sending one is always fatal.
type UnknownMessage struct {
	Code byte
	Data []byte
}

func (UnknownMessage) serverMessage() {}

// Decode dispatches on the frame's type byte and fully consumes the
// payload; trailing bytes are a protocol error.
func Decode(f Frame) (ServerMessage, error) {
	d := NewBodyDecoder(f.Payload)
	msg, err := decodeBody(f.Type, d)
	if err != nil {
		return nil, err
	}
	if _, ok := msg.(UnknownMessage); !ok && !d.Done() {
		return nil, nyxerr.New(nyxerr.KindProtocolError, "trailing bytes in frame")
	}
	return msg, nil
}

func decodeBody(typ byte, d *BodyDecoder) (ServerMessage, error) {
	switch typ {
	case TypeServerHandshake:
		return decodeServerHandshake(d)
	case TypeAuthentication:
		return decodeAuthentication(d)
	case TypeServerKeyData:
		raw, err := d.Raw(32)
		if err != nil {
			return nil, err
		}
		var key ServerKeyData
		copy(key.Data[:], raw)
		return key, nil
	case TypeParameterStatus:
		name, err := d.String()
		if err != nil {
			return nil, err
		}
		val, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		return ParameterStatus{Name: name, Value: val}, nil
	case TypeStateDataDescription:
		id, err := d.UUID()
		if err != nil {
			return nil, err
		}
		desc, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		return StateDataDescription{TypeID: id, TypeDescriptor: desc}, nil
	case TypeCommandDataDescLegacy, TypeCommandDataDescV1:
		return decodeCommandDataDescription(d)
	case TypePrepareComplete:
		return decodePrepareComplete(d)
	case TypeData:
		return decodeData(d)
	case TypeCommandCompleteLegacy, TypeCommandCompleteV1:
		return decodeCommandComplete(d, typ == TypeCommandCompleteV1)
	case TypeReadyForCommand:
		b, err := d.U8()
		if err != nil {
			return nil, err
		}
		return ReadyForCommand{TxState: TxState(b)}, nil
	case TypeErrorResponse:
		return decodeErrorResponse(d)
	case TypeLogMessage:
		return decodeLogMessage(d)
	default:
		return UnknownMessage{Code: typ, Data: append([]byte(nil), d.buf[d.pos:]...)}, nil
	}
}

func decodeServerHandshake(d *BodyDecoder) (ServerMessage, error) {
	major, err := d.U16()
	if err != nil {
		return nil, err
	}
	minor, err := d.U16()
	if err != nil {
		return nil, err
	}
	n, err := d.U16()
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, err := d.String()
		if err != nil {
			return nil, err
		}
		v, err := d.String()
		if err != nil {
			return nil, err
		}
		params[k] = v
	}
	if _, err := d.U16(); err != nil { // extensions count, unused
		return nil, err
	}
	return ServerHandshake{MajorVer: major, MinorVer: minor, Params: params}, nil
}

func decodeAuthentication(d *BodyDecoder) (ServerMessage, error) {
	status, err := d.U32()
	if err != nil {
		return nil, err
	}
	switch AuthStatus(status) {
	case AuthOK:
		return Authentication{Status: AuthOK}, nil
	case AuthSASL:
		n, err := d.U32()
		if err != nil {
			return nil, err
		}
		methods := make([]string, n)
		for i := range methods {
			m, err := d.String()
			if err != nil {
				return nil, err
			}
			methods[i] = m
		}
		return Authentication{Status: AuthSASL, SASLMethods: methods}, nil
	case AuthSASLContinue, AuthSASLFinal:
		data, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		return Authentication{Status: AuthStatus(status), SASLData: data}, nil
	default:
		return nil, nyxerr.New(nyxerr.KindProtocolError, "unknown authentication status")
	}
}

func decodeCommandDataDescription(d *BodyDecoder) (ServerMessage, error) {
	caps, err := d.U64()
	if err != nil {
		return nil, err
	}
	card, err := d.U8()
	if err != nil {
		return nil, err
	}
	inID, err := d.UUID()
	if err != nil {
		return nil, err
	}
	inDesc, err := d.ByteArray()
	if err != nil {
		return nil, err
	}
	outID, err := d.UUID()
	if err != nil {
		return nil, err
	}
	outDesc, err := d.ByteArray()
	if err != nil {
		return nil, err
	}
	return CommandDataDescription{
		Capabilities:     caps,
		Cardinality:      card,
		InputTypeID:      inID,
		InputDescriptor:  inDesc,
		OutputTypeID:     outID,
		OutputDescriptor: outDesc,
	}, nil
}

func decodePrepareComplete(d *BodyDecoder) (ServerMessage, error) {
	card, err := d.U8()
	if err != nil {
		return nil, err
	}
	inID, err := d.UUID()
	if err != nil {
		return nil, err
	}
	outID, err := d.UUID()
	if err != nil {
		return nil, err
	}
	return PrepareComplete{Cardinality: card, InputTypeID: inID, OutputTypeID: outID}, nil
}

func decodeData(d *BodyDecoder) (ServerMessage, error) {
	n, err := d.U16()
	if err != nil {
		return nil, err
	}
	fields := make([][]byte, n)
	for i := range fields {
		f, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return Data{Fields: fields}, nil
}

func decodeCommandComplete(d *BodyDecoder, hasState bool) (ServerMessage, error) {
	caps, err := d.U64()
	if err != nil {
		return nil, err
	}
	status, err := d.String()
	if err != nil {
		return nil, err
	}
	cc := CommandComplete{Capabilities: caps, Status: status}
	if hasState {
		s, err := decodeStateBlob(d)
		if err != nil {
			return nil, err
		}
		cc.State = &s
	}
	return cc, nil
}

func decodeErrorResponse(d *BodyDecoder) (ServerMessage, error) {
	sev, err := d.U8()
	if err != nil {
		return nil, err
	}
	code, err := d.U32()
	if err != nil {
		return nil, err
	}
	msg, err := d.String()
	if err != nil {
		return nil, err
	}
	n, err := d.U16()
	if err != nil {
		return nil, err
	}
	attrs := make([]ErrorAttribute, n)
	for i := range attrs {
		k, err := d.U16()
		if err != nil {
			return nil, err
		}
		v, err := d.String()
		if err != nil {
			return nil, err
		}
		attrs[i] = ErrorAttribute{Code: k, Value: v}
	}
	return ErrorResponse{Severity: sev, Code: code, Message: msg, Attributes: attrs}, nil
}

func decodeLogMessage(d *BodyDecoder) (ServerMessage, error) {
	sev, err := d.U8()
	if err != nil {
		return nil, err
	}
	code, err := d.U32()
	if err != nil {
		return nil, err
	}
	text, err := d.String()
	if err != nil {
		return nil, err
	}
	return LogMessage{Severity: sev, Code: code, Text: text}, nil
}
