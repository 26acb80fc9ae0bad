package descriptor

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"

	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

func encodeHeader(e *protocol.BodyEncoder, kind Kind, id uuid.UUID) {
	e.U8(uint8(kind))
	e.RawBytes(id[:])
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func TestDecodeEmptyTupleAndDecodeRow(t *testing.T) {
	t.Parallel()

	e := protocol.NewBodyEncoder()
	defer e.Release()
	id := EmptyTupleID()
	encodeHeader(e, KindTuple, id)
	e.U16(0)

	g, err := Decode(e.Bytes(), id)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !g.HasRoot() {
		t.Fatal("expected a root position")
	}

	row, err := DecodeRow(g, [][]byte{})
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	out, ok := row.([]any)
	if !ok || len(out) != 0 {
		t.Fatalf("row = %#v, want an empty []any", row)
	}
}

func TestDecodeInt64ScalarAndDecodeRow(t *testing.T) {
	t.Parallel()

	e := protocol.NewBodyEncoder()
	defer e.Release()
	id := Int64TypeID()
	encodeHeader(e, KindBaseScalar, id)

	g, err := Decode(e.Bytes(), id)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	row, err := DecodeRow(g, [][]byte{encodeInt64(42)})
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if v, ok := row.(int64); !ok || v != 42 {
		t.Fatalf("row = %v, want int64(42)", row)
	}
}

func TestDecodeObjectShapeAndDecodeRow(t *testing.T) {
	t.Parallel()

	e := protocol.NewBodyEncoder()
	defer e.Release()

	scalarID := Int64TypeID()
	encodeHeader(e, KindBaseScalar, scalarID)

	shapeID := uuid.New()
	encodeHeader(e, KindObjectShape, shapeID)
	e.U16(2)
	for _, name := range []string{"id", "age"} {
		e.U8(0)
		e.U8(uint8(CardinalityOne))
		if err := e.String(name); err != nil {
			t.Fatalf("String: %v", err)
		}
		e.U16(0) // typePos: int64 scalar at position 0
		e.U8(0)  // no source type
	}

	objID := uuid.New()
	encodeHeader(e, KindObject, objID)
	e.U16(1) // shapePos

	g, err := Decode(e.Bytes(), objID)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	row, err := DecodeRow(g, [][]byte{encodeInt64(1), encodeInt64(30)})
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	obj, ok := row.(*Object)
	if !ok {
		t.Fatalf("row = %T, want *Object", row)
	}
	if id, _ := obj.Get("id"); id != int64(1) {
		t.Fatalf("id = %v, want 1", id)
	}
	if age, _ := obj.Get("age"); age != int64(30) {
		t.Fatalf("age = %v, want 30", age)
	}
	if len(obj.Keys) != 2 || obj.Keys[0] != "id" || obj.Keys[1] != "age" {
		t.Fatalf("Keys = %v, want [id age] in declared order", obj.Keys)
	}
}

func TestDecodeRejectsForwardReferencingPosition(t *testing.T) {
	t.Parallel()

	e := protocol.NewBodyEncoder()
	defer e.Release()

	// A tuple at position 0 referencing position 1, which doesn't exist
	// yet (and never precedes it): must be rejected rather than decoded.
	tupID := uuid.New()
	encodeHeader(e, KindTuple, tupID)
	e.U16(1)
	e.U16(1) // references pos 1, not yet decoded

	if _, err := Decode(e.Bytes(), tupID); err == nil {
		t.Fatal("expected an error for a forward-referencing position")
	}
}

func TestDecodeRowWithoutRootIsNoResultExpected(t *testing.T) {
	t.Parallel()

	g := &Graph{ByID: map[uuid.UUID]Pos{}, RootPos: noPos}
	if _, err := DecodeRow(g, nil); !nyxerr.Is(err, nyxerr.KindNoResultExpected) {
		t.Fatalf("err = %v, want a NoResultExpected error decoding a row against a rootless graph", err)
	}
}
