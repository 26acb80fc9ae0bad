package protocol

import (
	"bytes"
	"testing"

	"github.com/nyxdb/nyxdb-go/nyxerr"
)

func TestFrameWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	defer fw.Release()

	if err := fw.WriteFrame(TypeSync, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := fw.WriteFrame(TypeTerminate, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	fr := NewFrameReader(&buf)

	f1, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f1.Type != TypeSync || string(f1.Payload) != "hello" {
		t.Fatalf("f1 = %+v, want {Type:%d Payload:hello}", f1, TypeSync)
	}

	f2, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f2.Type != TypeTerminate || len(f2.Payload) != 0 {
		t.Fatalf("f2 = %+v, want {Type:%d Payload:[]}", f2, TypeTerminate)
	}
}

func TestReadFrameRejectsLengthUnderflow(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteByte(TypeSync)
	buf.Write([]byte{0, 0, 0, 1}) // length field must be >= 4

	fr := NewFrameReader(&buf)
	if _, err := fr.ReadFrame(); err == nil {
		t.Fatal("expected an error for a length field below 4")
	}
}

func TestReadFrameReportsEOSOnEmptyStream(t *testing.T) {
	t.Parallel()

	fr := NewFrameReader(bytes.NewReader(nil))
	if _, err := fr.ReadFrame(); !nyxerr.Is(err, nyxerr.KindClientConnectionEOS) {
		t.Fatalf("err = %v, want a ClientConnectionEOS error reading from an empty stream", err)
	}
}

func TestBodyEncoderDecoderRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewBodyEncoder()
	defer e.Release()

	e.U8(7)
	e.U16(1000)
	e.U32(100000)
	e.U64(1 << 40)
	if err := e.String("hello"); err != nil {
		t.Fatalf("String: %v", err)
	}
	if err := e.ByteArray([]byte{1, 2, 3}); err != nil {
		t.Fatalf("ByteArray: %v", err)
	}
	if err := e.ByteArray(nil); err != nil {
		t.Fatalf("ByteArray(nil): %v", err)
	}

	d := NewBodyDecoder(e.Bytes())

	if v, err := d.U8(); err != nil || v != 7 {
		t.Fatalf("U8 = (%d, %v), want (7, nil)", v, err)
	}
	if v, err := d.U16(); err != nil || v != 1000 {
		t.Fatalf("U16 = (%d, %v), want (1000, nil)", v, err)
	}
	if v, err := d.U32(); err != nil || v != 100000 {
		t.Fatalf("U32 = (%d, %v), want (100000, nil)", v, err)
	}
	if v, err := d.U64(); err != nil || v != 1<<40 {
		t.Fatalf("U64 = (%d, %v), want (%d, nil)", v, err, uint64(1)<<40)
	}
	if s, err := d.String(); err != nil || s != "hello" {
		t.Fatalf("String = (%q, %v), want (hello, nil)", s, err)
	}
	if b, err := d.ByteArray(); err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("ByteArray = (%v, %v), want ([1 2 3], nil)", b, err)
	}
	if b, err := d.ByteArray(); err != nil || b != nil {
		t.Fatalf("ByteArray(nil marker) = (%v, %v), want (nil, nil)", b, err)
	}
	if !d.Done() {
		t.Fatalf("Remaining() = %d, want 0", d.Remaining())
	}
}

func TestBodyDecoderReportsUnderflow(t *testing.T) {
	t.Parallel()

	d := NewBodyDecoder([]byte{0x01})
	if _, err := d.U32(); err == nil {
		t.Fatal("expected an underflow error reading a u32 from one byte")
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewBodyEncoder()
	defer e.Release()

	var id [16]byte
	for i := range id {
		id[i] = byte(i)
	}
	e.RawBytes(id[:])

	d := NewBodyDecoder(e.Bytes())
	got, err := d.UUID()
	if err != nil {
		t.Fatalf("UUID: %v", err)
	}
	if got != id {
		t.Fatalf("UUID = %v, want %v", got, id)
	}
}
