package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/nyxdb/nyxdb-go/nyxerr"
)

// Every message is type_byte(1) | length(4, big-endian, includes itself) | payload.
const headerLen = 5

// FrameReader decodes the length-prefixed frame stream defined in spec §3/§6:
// ensure the header, then ensure the full body, before handing a frame to
// the caller.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 16*1024)}
}

// Frame is a single decoded message: its type byte and payload (excluding
// the type byte and length field).
type Frame struct {
	Type    byte
	Payload []byte
}

// Buffered reports how many unread bytes are already sitting in the
// reader's internal buffer, without touching the underlying conn.
func (fr *FrameReader) Buffered() int { return fr.r.Buffered() }

// Peek returns the next n bytes without advancing the reader, per
// bufio.Reader.Peek's contract. The pool uses this for the non-blocking
// liveness probe (spec §4.4 "Acquire").
func (fr *FrameReader) Peek(n int) ([]byte, error) { return fr.r.Peek(n) }

// ReadFrame blocks until a full frame is available and returns it.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, nyxerr.Wrap(nyxerr.KindClientConnectionEOS, err, "read frame header")
		}
		return Frame{}, nyxerr.Wrap(nyxerr.KindClientConnectionError, err, "read frame header")
	}

	msgLen := binary.BigEndian.Uint32(hdr[1:5])
	if msgLen < 4 {
		return Frame{}, nyxerr.New(nyxerr.KindProtocolError, "frame length underflow")
	}

	bodyLen := int(msgLen) - 4
	payload := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return Frame{}, nyxerr.Wrap(nyxerr.KindClientConnectionError, err, "read frame payload")
		}
	}

	return Frame{Type: hdr[0], Payload: payload}, nil
}

// FrameWriter serializes client messages: write type byte, reserve four
// bytes for length, write the body, then patch the length in place, per
// spec §4.1. Output buffers are pooled to avoid a per-message allocation.
type FrameWriter struct {
	w   io.Writer
	buf *bytebufferpool.ByteBuffer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w, buf: bytebufferpool.Get()}
}

// Release returns the writer's scratch buffer to the pool. Call once the
// writer is no longer needed.
func (fw *FrameWriter) Release() {
	bytebufferpool.Put(fw.buf)
	fw.buf = nil
}

// WriteFrame encodes typ|len|body and flushes it to the underlying writer.
func (fw *FrameWriter) WriteFrame(typ byte, body []byte) error {
	fw.buf.Reset()
	_ = fw.buf.WriteByte(typ)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(body)))
	_, _ = fw.buf.Write(lenBuf[:])
	_, _ = fw.buf.Write(body)

	if _, err := fw.w.Write(fw.buf.B); err != nil {
		return nyxerr.Wrap(nyxerr.KindClientConnectionError, err, "write frame")
	}
	return nil
}

// BodyEncoder accumulates a message body with the same length-prefixed
// composite rules the codec uses for strings, byte arrays, and counts.
type BodyEncoder struct {
	buf *bytebufferpool.ByteBuffer
}

func NewBodyEncoder() *BodyEncoder {
	return &BodyEncoder{buf: bytebufferpool.Get()}
}

func (e *BodyEncoder) Release() { bytebufferpool.Put(e.buf) }

func (e *BodyEncoder) Bytes() []byte { return e.buf.B }

func (e *BodyEncoder) U8(v uint8) { _ = e.buf.WriteByte(v) }

func (e *BodyEncoder) U16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, _ = e.buf.Write(b[:])
}

func (e *BodyEncoder) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, _ = e.buf.Write(b[:])
}

func (e *BodyEncoder) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, _ = e.buf.Write(b[:])
}

func (e *BodyEncoder) RawBytes(b []byte) { _, _ = e.buf.Write(b) }

// String writes a u32 length prefix followed by the UTF-8 bytes. Over-length
// strings are an encode error per spec §4.1 (StringTooLong).
func (e *BodyEncoder) String(s string) error {
	if uint64(len(s)) > math32Max {
		return nyxerr.New(nyxerr.KindClientEncodingError, "StringTooLong")
	}
	e.U32(uint32(len(s)))
	_, _ = e.buf.WriteString(s)
	return nil
}

// ByteArray writes a u32 length prefix followed by raw bytes, or u32(-1)
// for a nil slice (used as the NULL marker for arguments and row fields).
func (e *BodyEncoder) ByteArray(b []byte) error {
	if b == nil {
		e.U32(0xFFFFFFFF)
		return nil
	}
	if uint64(len(b)) > math32Max {
		return nyxerr.New(nyxerr.KindClientEncodingError, "MessageTooLong")
	}
	e.U32(uint32(len(b)))
	e.RawBytes(b)
	return nil
}

const math32Max = 1<<32 - 1

// BodyDecoder walks a frame's payload left to right. Every Decode method
// advances the cursor; a decoder must fully consume the frame or the
// caller reports a trailing-bytes protocol error (spec §4.1).
type BodyDecoder struct {
	buf []byte
	pos int
}

func NewBodyDecoder(buf []byte) *BodyDecoder { return &BodyDecoder{buf: buf} }

func (d *BodyDecoder) Remaining() int { return len(d.buf) - d.pos }

func (d *BodyDecoder) ensure(n int) error {
	if d.Remaining() < n {
		return nyxerr.New(nyxerr.KindProtocolError, "frame underflow")
	}
	return nil
}

func (d *BodyDecoder) U8() (uint8, error) {
	if err := d.ensure(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *BodyDecoder) U16() (uint16, error) {
	if err := d.ensure(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *BodyDecoder) U32() (uint32, error) {
	if err := d.ensure(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *BodyDecoder) U64() (uint64, error) {
	if err := d.ensure(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *BodyDecoder) Raw(n int) ([]byte, error) {
	if err := d.ensure(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *BodyDecoder) String() (string, error) {
	n, err := d.U32()
	if err != nil {
		return "", err
	}
	b, err := d.Raw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ByteArray reads a u32 length followed by bytes; a length of all-ones
// (-1 as u32) decodes to nil, the wire NULL marker.
func (d *BodyDecoder) ByteArray() ([]byte, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	if n == 0xFFFFFFFF {
		return nil, nil
	}
	return d.Raw(int(n))
}

// UUID reads a fixed 16-byte id.
func (d *BodyDecoder) UUID() ([16]byte, error) {
	var id [16]byte
	b, err := d.Raw(16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// Done reports whether the decoder fully consumed its buffer.
func (d *BodyDecoder) Done() bool { return d.Remaining() == 0 }
