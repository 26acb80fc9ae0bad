package conntest

import (
	"github.com/google/uuid"

	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// These mirror conn/io.go's error-code tag bits; duplicated here rather
// than exported from conn since conntest must stay a leaf the real
// client depends on for tests, not the reverse.
const (
	codeTagShouldRetryBit     = 1 << 24
	codeTagShouldReconnectBit = 1 << 25
)

func send(fw *protocol.FrameWriter, typ byte, body []byte) error {
	return fw.WriteFrame(typ, body)
}

func writeServerHandshake(fw *protocol.FrameWriter, major, minor uint16) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U16(major)
	e.U16(minor)
	e.U16(0) // no params
	e.U16(0) // no extensions
	return send(fw, protocol.TypeServerHandshake, e.Bytes())
}

func writeAuthOK(fw *protocol.FrameWriter) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U32(uint32(protocol.AuthOK))
	return send(fw, protocol.TypeAuthentication, e.Bytes())
}

func writeServerKeyData(fw *protocol.FrameWriter) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.RawBytes(make([]byte, 32))
	return send(fw, protocol.TypeServerKeyData, e.Bytes())
}

func writeParameterStatus(fw *protocol.FrameWriter, name string, value []byte) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	if err := e.String(name); err != nil {
		return err
	}
	if err := e.ByteArray(value); err != nil {
		return err
	}
	return send(fw, protocol.TypeParameterStatus, e.Bytes())
}

func writeReadyForCommand(fw *protocol.FrameWriter, tx protocol.TxState) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U8(uint8(tx))
	return send(fw, protocol.TypeReadyForCommand, e.Bytes())
}

func writeCommandDataDescription(fw *protocol.FrameWriter, caps uint64, card uint8, inID uuid.UUID, inDesc []byte, outID uuid.UUID, outDesc []byte) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U64(caps)
	e.U8(card)
	e.RawBytes(inID[:])
	if err := e.ByteArray(inDesc); err != nil {
		return err
	}
	e.RawBytes(outID[:])
	if err := e.ByteArray(outDesc); err != nil {
		return err
	}
	return send(fw, protocol.TypeCommandDataDescV1, e.Bytes())
}

func writeData(fw *protocol.FrameWriter, fields [][]byte) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U16(uint16(len(fields)))
	for _, f := range fields {
		if err := e.ByteArray(f); err != nil {
			return err
		}
	}
	return send(fw, protocol.TypeData, e.Bytes())
}

func writeCommandComplete(fw *protocol.FrameWriter, caps uint64, status string) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U64(caps)
	if err := e.String(status); err != nil {
		return err
	}
	e.RawBytes(make([]byte, 16)) // state type id, zeroed: no new session state
	if err := e.ByteArray(nil); err != nil {
		return err
	}
	return send(fw, protocol.TypeCommandCompleteV1, e.Bytes())
}

func writeErrorResponse(fw *protocol.FrameWriter, code uint32, msg string) error {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U8(0) // severity
	e.U32(code)
	if err := e.String(msg); err != nil {
		return err
	}
	e.U16(0) // no attributes
	return send(fw, protocol.TypeErrorResponse, e.Bytes())
}

// clientHandshake is the subset of protocol.ClientHandshake this fake
// server needs.
type clientHandshake struct {
	Major, Minor uint16
}

func decodeClientHandshake(d *protocol.BodyDecoder) (clientHandshake, error) {
	var h clientHandshake
	major, err := d.U16()
	if err != nil {
		return h, err
	}
	minor, err := d.U16()
	if err != nil {
		return h, err
	}
	h.Major, h.Minor = major, minor

	n, err := d.U16()
	if err != nil {
		return h, err
	}
	for i := 0; i < int(n); i++ {
		if _, err := d.String(); err != nil {
			return h, err
		}
		if _, err := d.String(); err != nil {
			return h, err
		}
	}
	if _, err := d.U16(); err != nil {
		return h, err
	}
	return h, nil
}

type parseRequest struct {
	IOFormat    uint8
	Cardinality uint8
	Text        string
}

func decodeParse(d *protocol.BodyDecoder, tier protocol.Tier) (parseRequest, error) {
	var p parseRequest
	if tier >= protocol.TierV3 {
		if _, err := d.U64(); err != nil {
			return p, err
		}
	}
	ioFmt, err := d.U8()
	if err != nil {
		return p, err
	}
	card, err := d.U8()
	if err != nil {
		return p, err
	}
	text, err := d.String()
	if err != nil {
		return p, err
	}
	if _, err := d.UUID(); err != nil { // state type id
		return p, err
	}
	if _, err := d.ByteArray(); err != nil { // state data
		return p, err
	}
	p.IOFormat, p.Cardinality, p.Text = ioFmt, card, text
	return p, nil
}

type executeRequest struct {
	InputTypeID, OutputTypeID uuid.UUID
	Arguments                 []byte
}

func decodeExecute(d *protocol.BodyDecoder, tier protocol.Tier) (executeRequest, error) {
	var e executeRequest
	if tier >= protocol.TierV3 {
		if _, err := d.U64(); err != nil {
			return e, err
		}
	}
	inID, err := d.UUID()
	if err != nil {
		return e, err
	}
	outID, err := d.UUID()
	if err != nil {
		return e, err
	}
	if _, err := d.UUID(); err != nil { // state type id
		return e, err
	}
	if _, err := d.ByteArray(); err != nil { // state data
		return e, err
	}
	args, err := d.ByteArray()
	if err != nil {
		return e, err
	}
	e.InputTypeID, e.OutputTypeID, e.Arguments = uuid.UUID(inID), uuid.UUID(outID), args
	return e, nil
}

func requireType(f protocol.Frame, want byte) error {
	if f.Type != want {
		return nyxerr.New(nyxerr.KindProtocolOutOfOrderError, "fake server got an unexpected message type")
	}
	return nil
}
