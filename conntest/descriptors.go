// Package conntest is an in-process fake server exercising the wire
// protocol well enough to drive integration tests against the real
// conn/pool/txn stack without a live database (spec §8's scenarios).
package conntest

import (
	"github.com/google/uuid"

	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/protocol"
)

func encodeHeader(e *protocol.BodyEncoder, kind descriptor.Kind, id uuid.UUID) {
	e.U8(uint8(kind))
	e.RawBytes(id[:])
}

// EmptyTupleDescriptor returns the one-node graph encoding for "()".
func EmptyTupleDescriptor() ([]byte, uuid.UUID) {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	id := descriptor.EmptyTupleID()
	encodeHeader(e, descriptor.KindTuple, id)
	e.U16(0)
	return append([]byte(nil), e.Bytes()...), id
}

// Int64ScalarDescriptor returns the one-node graph encoding for a bare
// int64 scalar.
func Int64ScalarDescriptor() ([]byte, uuid.UUID) {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	id := descriptor.Int64TypeID()
	encodeHeader(e, descriptor.KindBaseScalar, id)
	return append([]byte(nil), e.Bytes()...), id
}

// ObjectDescriptor returns a three-node graph: an int64 scalar, an
// object shape naming each of fieldNames against that scalar, and an
// object wrapping the shape. Good enough to exercise object-shape
// decoding without needing every scalar kind wired into a builder.
func ObjectDescriptor(fieldNames []string) ([]byte, uuid.UUID) {
	e := protocol.NewBodyEncoder()
	defer e.Release()

	scalarID := descriptor.Int64TypeID()
	encodeHeader(e, descriptor.KindBaseScalar, scalarID)

	shapeID := uuid.New()
	encodeHeader(e, descriptor.KindObjectShape, shapeID)
	e.U16(uint16(len(fieldNames)))
	for _, name := range fieldNames {
		e.U8(0) // flags
		e.U8(uint8(descriptor.CardinalityOne))
		_ = e.String(name)
		e.U16(0) // typePos: the int64 scalar at position 0
		e.U8(0)  // no source type
	}

	objID := uuid.New()
	encodeHeader(e, descriptor.KindObject, objID)
	e.U16(1) // shapePos

	return append([]byte(nil), e.Bytes()...), objID
}
