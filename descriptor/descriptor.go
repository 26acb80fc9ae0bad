// Package descriptor implements the self-describing type-descriptor
// graph used to drive both argument encoding and row decoding (spec §3,
// §4.1 "Type-descriptor decoding"). A query's input and output are each
// a sequence of descriptors indexed positionally; descriptors may
// reference only earlier positions, so the decoded graph is an acyclic
// arena addressed by index (DESIGN NOTES "Cyclic graphs").
package descriptor

import (
	"github.com/google/uuid"

	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// Kind identifies the shape of one descriptor node.
type Kind uint8

const (
	KindBaseScalar Kind = iota
	KindNamedScalar
	KindObjectShape
	KindObject
	KindTuple
	KindNamedTuple
	KindArray
	KindSet
	KindEnum
	KindRange
)

// Pos is a position index into a Graph's node list. noPos marks "absent".
type Pos uint16

const noPos Pos = 0xFFFF

// ElementFlag annotates one element of an object shape.
type ElementFlag uint8

const (
	FlagImplicit ElementFlag = 1 << iota
	FlagLinkProperty
	FlagLink
)

// ShapeElement is one named, typed member of an object-shape descriptor.
type ShapeElement struct {
	Name          string
	TypePos       Pos
	Cardinality   Cardinality
	Flags         ElementFlag
	SourceTypePos Pos // noPos when absent
}

func (e ShapeElement) HasSourceType() bool { return e.SourceTypePos != noPos }
func (e ShapeElement) IsImplicit() bool    { return e.Flags&FlagImplicit != 0 }

// NamedTupleElement is one named member of a named-tuple descriptor.
type NamedTupleElement struct {
	Name    string
	TypePos Pos
}

// Descriptor is one node of the graph. Only the fields relevant to Kind
// are populated.
type Descriptor struct {
	Kind Kind
	ID   uuid.UUID

	// KindBaseScalar
	Scalar ScalarKind

	// KindNamedScalar
	Ancestors   []Pos
	BaseTypePos Pos // noPos when absent

	// KindTuple
	ElementPositions []Pos

	// KindNamedTuple
	NamedElements []NamedTupleElement

	// KindArray / KindSet
	ElementPos Pos
	Dimensions []int32 // array only; -1 means unbound

	// KindEnum
	Members []string

	// KindRange
	ValueTypePos Pos

	// KindObject
	ShapePos Pos

	// KindObjectShape
	ShapeElements []ShapeElement
}

// Graph is the decoded, indexable sequence of descriptors for one query's
// input or output. Positions only ever reference earlier indices.
type Graph struct {
	Nodes   []Descriptor
	ByID    map[uuid.UUID]Pos
	RootPos Pos // noPos when the query has no result (spec §4.3 step 5)
}

func (g *Graph) HasRoot() bool { return g.RootPos != noPos }

func (g *Graph) At(p Pos) Descriptor { return g.Nodes[p] }

// Decode parses a type-descriptor sequence (spec §4.1) and binds rootID
// as the graph's root. rootID may be the zero UUID to indicate no result.
func Decode(data []byte, rootID uuid.UUID) (*Graph, error) {
	g := &Graph{ByID: make(map[uuid.UUID]Pos), RootPos: noPos}
	d := protocol.NewBodyDecoder(data)

	for !d.Done() {
		desc, id, err := decodeOne(d, Pos(len(g.Nodes)))
		if err != nil {
			return nil, err
		}
		pos := Pos(len(g.Nodes))
		g.Nodes = append(g.Nodes, desc)
		g.ByID[id] = pos
	}

	if rootID != uuid.Nil {
		pos, ok := g.ByID[rootID]
		if !ok {
			return nil, nyxerr.New(nyxerr.KindProtocolError, "root type id not present in descriptor sequence")
		}
		g.RootPos = pos
	}
	return g, nil
}

// decodeOne reads one descriptor and enforces that every position it
// references is strictly earlier than cur (DESIGN NOTES: "No true cycles
// exist... the implementation should enforce this on decode").
func decodeOne(d *protocol.BodyDecoder, cur Pos) (Descriptor, uuid.UUID, error) {
	kindByte, err := d.U8()
	if err != nil {
		return Descriptor{}, uuid.Nil, err
	}
	idRaw, err := d.UUID()
	if err != nil {
		return Descriptor{}, uuid.Nil, err
	}
	id := uuid.UUID(idRaw)

	checkPos := func(p Pos) error {
		if p != noPos && p >= cur {
			return nyxerr.New(nyxerr.KindProtocolError, "descriptor references a non-earlier position")
		}
		return nil
	}

	var desc Descriptor
	desc.ID = id

	switch Kind(kindByte) {
	case KindBaseScalar:
		desc.Kind = KindBaseScalar
		desc.Scalar = scalarKindForID(id)

	case KindNamedScalar:
		desc.Kind = KindNamedScalar
		n, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		anc := make([]Pos, n)
		for i := range anc {
			p, err := d.U16()
			if err != nil {
				return desc, id, err
			}
			anc[i] = Pos(p)
			if err := checkPos(anc[i]); err != nil {
				return desc, id, err
			}
		}
		desc.Ancestors = anc
		hasBase, err := d.U8()
		if err != nil {
			return desc, id, err
		}
		desc.BaseTypePos = noPos
		if hasBase != 0 {
			p, err := d.U16()
			if err != nil {
				return desc, id, err
			}
			if err := checkPos(Pos(p)); err != nil {
				return desc, id, err
			}
			desc.BaseTypePos = Pos(p)
		}

	case KindObjectShape:
		desc.Kind = KindObjectShape
		n, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		elems := make([]ShapeElement, n)
		for i := range elems {
			flags, err := d.U8()
			if err != nil {
				return desc, id, err
			}
			card, err := d.U8()
			if err != nil {
				return desc, id, err
			}
			name, err := d.String()
			if err != nil {
				return desc, id, err
			}
			typePos, err := d.U16()
			if err != nil {
				return desc, id, err
			}
			if err := checkPos(Pos(typePos)); err != nil {
				return desc, id, err
			}
			hasSrc, err := d.U8()
			if err != nil {
				return desc, id, err
			}
			srcPos := noPos
			if hasSrc != 0 {
				sp, err := d.U16()
				if err != nil {
					return desc, id, err
				}
				if err := checkPos(Pos(sp)); err != nil {
					return desc, id, err
				}
				srcPos = Pos(sp)
			}
			elems[i] = ShapeElement{
				Name:          name,
				TypePos:       Pos(typePos),
				Cardinality:   Cardinality(card),
				Flags:         ElementFlag(flags),
				SourceTypePos: srcPos,
			}
		}
		desc.ShapeElements = elems

	case KindObject:
		desc.Kind = KindObject
		shapePos, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		if err := checkPos(Pos(shapePos)); err != nil {
			return desc, id, err
		}
		desc.ShapePos = Pos(shapePos)

	case KindTuple:
		desc.Kind = KindTuple
		n, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		elems := make([]Pos, n)
		for i := range elems {
			p, err := d.U16()
			if err != nil {
				return desc, id, err
			}
			if err := checkPos(Pos(p)); err != nil {
				return desc, id, err
			}
			elems[i] = Pos(p)
		}
		desc.ElementPositions = elems

	case KindNamedTuple:
		desc.Kind = KindNamedTuple
		n, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		elems := make([]NamedTupleElement, n)
		for i := range elems {
			name, err := d.String()
			if err != nil {
				return desc, id, err
			}
			p, err := d.U16()
			if err != nil {
				return desc, id, err
			}
			if err := checkPos(Pos(p)); err != nil {
				return desc, id, err
			}
			elems[i] = NamedTupleElement{Name: name, TypePos: Pos(p)}
		}
		desc.NamedElements = elems

	case KindArray:
		desc.Kind = KindArray
		elemPos, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		if err := checkPos(Pos(elemPos)); err != nil {
			return desc, id, err
		}
		desc.ElementPos = Pos(elemPos)
		n, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		dims := make([]int32, n)
		for i := range dims {
			v, err := d.U32()
			if err != nil {
				return desc, id, err
			}
			dims[i] = int32(v)
		}
		desc.Dimensions = dims

	case KindSet:
		desc.Kind = KindSet
		elemPos, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		if err := checkPos(Pos(elemPos)); err != nil {
			return desc, id, err
		}
		desc.ElementPos = Pos(elemPos)

	case KindEnum:
		desc.Kind = KindEnum
		n, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		members := make([]string, n)
		for i := range members {
			m, err := d.String()
			if err != nil {
				return desc, id, err
			}
			members[i] = m
		}
		desc.Members = members

	case KindRange:
		desc.Kind = KindRange
		valPos, err := d.U16()
		if err != nil {
			return desc, id, err
		}
		if err := checkPos(Pos(valPos)); err != nil {
			return desc, id, err
		}
		desc.ValueTypePos = Pos(valPos)

	default:
		return desc, id, nyxerr.New(nyxerr.KindProtocolError, "unknown descriptor kind byte")
	}

	return desc, id, nil
}
