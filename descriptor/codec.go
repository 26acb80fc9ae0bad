package descriptor

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// epoch is the wire epoch for datetime/duration scalars: microseconds
// are counted from 2000-01-01T00:00:00Z.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Object is a decoded object- or named-tuple-shaped row, preserving
// element order the way the server described it.
type Object struct {
	Keys   []string
	Fields map[string]any
}

// Get returns the value for name and whether it was present.
func (o *Object) Get(name string) (any, bool) {
	v, ok := o.Fields[name]
	return v, ok
}

func newObject(n int) *Object {
	return &Object{Keys: make([]string, 0, n), Fields: make(map[string]any, n)}
}

func (o *Object) set(name string, v any) {
	o.Keys = append(o.Keys, name)
	o.Fields[name] = v
}

// DecodeRow decodes one result row's fields against g's root descriptor,
// per spec §4.1 "Row decoding". fields is the already frame-split element
// list from a Data message.
func DecodeRow(g *Graph, fields [][]byte) (any, error) {
	if !g.HasRoot() {
		return nil, nyxerr.New(nyxerr.KindNoResultExpected, "output descriptor has no root position")
	}
	return decodeShapeOrValue(g, g.RootPos, fields)
}

// decodeShapeOrValue handles the three "row-shaped" root kinds (object,
// tuple, named tuple) directly against the field list; anything else
// must arrive as exactly one field wrapping the scalar/container value.
func decodeShapeOrValue(g *Graph, pos Pos, fields [][]byte) (any, error) {
	desc := g.At(pos)
	switch desc.Kind {
	case KindObject:
		shape := g.At(desc.ShapePos)
		return decodeObjectFields(g, shape.ShapeElements, fields)
	case KindNamedTuple:
		if len(fields) != len(desc.NamedElements) {
			return nil, nyxerr.New(nyxerr.KindProtocolError, "named tuple field count mismatch")
		}
		obj := newObject(len(fields))
		for i, el := range desc.NamedElements {
			v, err := decodeField(g, el.TypePos, fields[i])
			if err != nil {
				return nil, err
			}
			obj.set(el.Name, v)
		}
		return obj, nil
	case KindTuple:
		if len(fields) != len(desc.ElementPositions) {
			return nil, nyxerr.New(nyxerr.KindProtocolError, "tuple field count mismatch")
		}
		out := make([]any, len(fields))
		for i, p := range desc.ElementPositions {
			v, err := decodeField(g, p, fields[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		if len(fields) != 1 {
			return nil, nyxerr.New(nyxerr.KindProtocolError, "scalar row must carry exactly one field")
		}
		return decodeField(g, pos, fields[0])
	}
}

func decodeObjectFields(g *Graph, elems []ShapeElement, fields [][]byte) (any, error) {
	if len(fields) != len(elems) {
		return nil, nyxerr.New(nyxerr.KindProtocolError, "object field count mismatch")
	}
	obj := newObject(len(fields))
	for i, el := range elems {
		v, err := decodeField(g, el.TypePos, fields[i])
		if err != nil {
			return nil, err
		}
		obj.set(el.Name, v)
	}
	return obj, nil
}

// decodeField decodes one field's raw bytes per the descriptor at pos.
// A nil byte slice means the server sent NULL.
func decodeField(g *Graph, pos Pos, data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}
	desc := g.At(pos)
	switch desc.Kind {
	case KindBaseScalar, KindNamedScalar:
		kind := desc.Scalar
		if desc.Kind == KindNamedScalar {
			kind = resolveScalarAncestor(g, desc)
		}
		return decodeScalar(kind, data)
	case KindEnum:
		return string(data), nil
	case KindArray:
		return decodeArray(g, desc, data)
	case KindSet:
		return decodeSet(g, desc, data)
	case KindRange:
		return decodeRange(g, desc, data)
	case KindTuple, KindNamedTuple, KindObject:
		d := protocol.NewBodyDecoder(data)
		n, err := d.U32()
		if err != nil {
			return nil, err
		}
		fields := make([][]byte, n)
		for i := range fields {
			if _, err := d.U32(); err != nil { // reserved element code, unused
				return nil, err
			}
			f, err := d.ByteArray()
			if err != nil {
				return nil, err
			}
			fields[i] = f
		}
		return decodeShapeOrValue(g, pos, fields)
	default:
		return nil, nyxerr.New(nyxerr.KindProtocolError, "unsupported descriptor kind in row data")
	}
}

func resolveScalarAncestor(g *Graph, desc Descriptor) ScalarKind {
	if desc.BaseTypePos != noPos {
		return g.At(desc.BaseTypePos).Scalar
	}
	for _, a := range desc.Ancestors {
		anc := g.At(a)
		if anc.Kind == KindBaseScalar {
			return anc.Scalar
		}
	}
	return ScalarUnknown
}

func decodeArray(g *Graph, desc Descriptor, data []byte) (any, error) {
	d := protocol.NewBodyDecoder(data)
	ndims, err := d.U32()
	if err != nil {
		return nil, err
	}
	total := 1
	for i := uint32(0); i < ndims; i++ {
		dim, err := d.U32()
		if err != nil {
			return nil, err
		}
		if _, err := d.U32(); err != nil { // lower bound, unused
			return nil, err
		}
		total *= int(dim)
	}
	out := make([]any, 0, total)
	for i := 0; i < total; i++ {
		elemBytes, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		v, err := decodeField(g, desc.ElementPos, elemBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeSet(g *Graph, desc Descriptor, data []byte) (any, error) {
	// A set's wire shape is the same flat element list as a 1-dimensional
	// array; multiplicity is not otherwise constrained by the descriptor.
	d := protocol.NewBodyDecoder(data)
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, n)
	for i := uint32(0); i < n; i++ {
		elemBytes, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		v, err := decodeField(g, desc.ElementPos, elemBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Range is a decoded range value. IncLower/IncUpper say whether each
// bound is inclusive; a bound the wire marks as absent (open-ended) is
// left nil; Empty reports the empty range.
type Range struct {
	Lower, Upper         any
	IncLower, IncUpper   bool
	Empty                bool
}

func decodeRange(g *Graph, desc Descriptor, data []byte) (any, error) {
	d := protocol.NewBodyDecoder(data)
	flags, err := d.U8()
	if err != nil {
		return nil, err
	}
	const (
		flagEmpty    = 1 << 0
		flagIncLower = 1 << 1
		flagIncUpper = 1 << 2
		flagNoLower  = 1 << 3
		flagNoUpper  = 1 << 4
	)
	r := Range{Empty: flags&flagEmpty != 0, IncLower: flags&flagIncLower != 0, IncUpper: flags&flagIncUpper != 0}
	if flags&flagNoLower == 0 {
		b, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		r.Lower, err = decodeField(g, desc.ValueTypePos, b)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagNoUpper == 0 {
		b, err := d.ByteArray()
		if err != nil {
			return nil, err
		}
		r.Upper, err = decodeField(g, desc.ValueTypePos, b)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func decodeScalar(kind ScalarKind, data []byte) (any, error) {
	switch kind {
	case ScalarUUID:
		if err := requireLen(data, 16); err != nil {
			return nil, err
		}
		var id [16]byte
		copy(id[:], data)
		return uuid.UUID(id), nil
	case ScalarText, ScalarJSON:
		return string(data), nil
	case ScalarBytes:
		return append([]byte(nil), data...), nil
	case ScalarBool:
		if err := requireLen(data, 1); err != nil {
			return nil, err
		}
		return data[0] != 0, nil
	case ScalarInt16:
		if err := requireLen(data, 2); err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(data)), nil
	case ScalarInt32:
		if err := requireLen(data, 4); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(data)), nil
	case ScalarInt64:
		if err := requireLen(data, 8); err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(data)), nil
	case ScalarFloat32:
		if err := requireLen(data, 4); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
	case ScalarFloat64:
		if err := requireLen(data, 8); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	case ScalarBigInt:
		return decodeBigInt(data)
	case ScalarDecimal:
		return decodeDecimal(data)
	case ScalarDateTime, ScalarLocalDateTime:
		if err := requireLen(data, 8); err != nil {
			return nil, err
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return epoch.Add(time.Duration(micros) * time.Microsecond), nil
	case ScalarLocalDate:
		if err := requireLen(data, 4); err != nil {
			return nil, err
		}
		days := int32(binary.BigEndian.Uint32(data))
		return epoch.AddDate(0, 0, int(days)), nil
	case ScalarLocalTime:
		if err := requireLen(data, 8); err != nil {
			return nil, err
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return time.Duration(micros) * time.Microsecond, nil
	case ScalarDuration:
		if err := requireLen(data, 8); err != nil {
			return nil, err
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return time.Duration(micros) * time.Microsecond, nil
	default:
		return nil, nyxerr.New(nyxerr.KindProtocolError, "unsupported scalar kind in row data")
	}
}

// Encoder turns a caller-supplied argument collection into the wire
// byte sequence expected by Execute (spec §4.1 "Argument encoding").
type Encoder struct {
	graph *Graph
}

func NewEncoder(g *Graph) *Encoder { return &Encoder{graph: g} }

// EncodePositional encodes args against the input descriptor's tuple
// shape, in order.
func (enc *Encoder) EncodePositional(args []any) ([]byte, error) {
	if !enc.graph.HasRoot() {
		if len(args) != 0 {
			return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "query takes no arguments")
		}
		return emptyArgList(), nil
	}
	desc := enc.graph.At(enc.graph.RootPos)
	if desc.Kind != KindTuple {
		return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "query expects named arguments")
	}
	if len(args) != len(desc.ElementPositions) {
		return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "argument count mismatch")
	}
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U32(uint32(len(args)))
	for i, v := range args {
		if err := encodeOneArg(e, enc.graph, desc.ElementPositions[i], v); err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), e.Bytes()...), nil
}

// EncodeNamed encodes args against the input descriptor's named-tuple
// shape. Every element needs a key in args: a missing key is an error
// (pass a nil value to send NULL), and so are extra keys.
func (enc *Encoder) EncodeNamed(args map[string]any) ([]byte, error) {
	if !enc.graph.HasRoot() {
		if len(args) != 0 {
			return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "query takes no arguments")
		}
		return emptyArgList(), nil
	}
	desc := enc.graph.At(enc.graph.RootPos)
	if desc.Kind != KindNamedTuple {
		return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "query expects positional arguments")
	}
	if len(args) > len(desc.NamedElements) {
		return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "unexpected named argument")
	}
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U32(uint32(len(desc.NamedElements)))
	for _, el := range desc.NamedElements {
		v, ok := args[el.Name]
		if !ok {
			return nil, nyxerr.New(nyxerr.KindInvalidArgumentError, "missing argument: "+el.Name)
		}
		if err := encodeOneArg(e, enc.graph, el.TypePos, v); err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), e.Bytes()...), nil
}

func emptyArgList() []byte {
	e := protocol.NewBodyEncoder()
	defer e.Release()
	e.U32(0)
	return append([]byte(nil), e.Bytes()...)
}

func encodeOneArg(e *protocol.BodyEncoder, g *Graph, pos Pos, v any) error {
	if v == nil {
		return e.ByteArray(nil)
	}
	b, err := encodeValue(g, pos, v)
	if err != nil {
		return err
	}
	return e.ByteArray(b)
}

func encodeValue(g *Graph, pos Pos, v any) ([]byte, error) {
	desc := g.At(pos)
	e := protocol.NewBodyEncoder()
	defer e.Release()

	switch desc.Kind {
	case KindBaseScalar, KindNamedScalar:
		kind := desc.Scalar
		if desc.Kind == KindNamedScalar {
			kind = resolveScalarAncestor(g, desc)
		}
		if err := encodeScalar(e, kind, v); err != nil {
			return nil, err
		}
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, mismatchErr("string", v)
		}
		e.RawBytes([]byte(s))
	case KindArray, KindSet:
		items, ok := v.([]any)
		if !ok {
			return nil, mismatchErr("[]any", v)
		}
		if desc.Kind == KindArray {
			e.U32(1) // one dimension
			e.U32(uint32(len(items)))
			e.U32(1) // lower bound
		} else {
			e.U32(uint32(len(items)))
		}
		for _, item := range items {
			b, err := encodeValue(g, desc.ElementPos, item)
			if err != nil {
				return nil, err
			}
			if err := e.ByteArray(b); err != nil {
				return nil, err
			}
		}
	case KindTuple:
		items, ok := v.([]any)
		if !ok || len(items) != len(desc.ElementPositions) {
			return nil, mismatchErr("tuple", v)
		}
		e.U32(uint32(len(items)))
		for i, item := range items {
			e.U32(0) // reserved element code
			b, err := encodeValue(g, desc.ElementPositions[i], item)
			if err != nil {
				return nil, err
			}
			if err := e.ByteArray(b); err != nil {
				return nil, err
			}
		}
	default:
		return nil, nyxerr.New(nyxerr.KindClientEncodingError, "unsupported descriptor kind for argument")
	}
	return append([]byte(nil), e.Bytes()...), nil
}

func mismatchErr(want string, got any) error {
	return nyxerr.New(nyxerr.KindClientEncodingError, "argument type mismatch: expected "+want)
}

func encodeScalar(e *protocol.BodyEncoder, kind ScalarKind, v any) error {
	switch kind {
	case ScalarUUID:
		id, ok := v.(uuid.UUID)
		if !ok {
			return mismatchErr("uuid.UUID", v)
		}
		e.RawBytes(id[:])
	case ScalarText, ScalarJSON:
		s, ok := v.(string)
		if !ok {
			return mismatchErr("string", v)
		}
		e.RawBytes([]byte(s))
	case ScalarBytes:
		b, ok := v.([]byte)
		if !ok {
			return mismatchErr("[]byte", v)
		}
		e.RawBytes(b)
	case ScalarBool:
		b, ok := v.(bool)
		if !ok {
			return mismatchErr("bool", v)
		}
		if b {
			e.U8(1)
		} else {
			e.U8(0)
		}
	case ScalarInt16:
		n, ok := asInt64(v)
		if !ok {
			return mismatchErr("int16", v)
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(int16(n)))
		e.RawBytes(b[:])
	case ScalarInt32:
		n, ok := asInt64(v)
		if !ok {
			return mismatchErr("int32", v)
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(n)))
		e.RawBytes(b[:])
	case ScalarInt64:
		n, ok := asInt64(v)
		if !ok {
			return mismatchErr("int64", v)
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		e.RawBytes(b[:])
	case ScalarFloat32:
		f, ok := v.(float32)
		if !ok {
			return mismatchErr("float32", v)
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(f))
		e.RawBytes(b[:])
	case ScalarFloat64:
		f, ok := v.(float64)
		if !ok {
			return mismatchErr("float64", v)
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
		e.RawBytes(b[:])
	case ScalarBigInt:
		n, ok := v.(*big.Int)
		if !ok {
			return mismatchErr("*big.Int", v)
		}
		encodeBigInt(e, n)
	case ScalarDecimal:
		r, ok := v.(*big.Rat)
		if !ok {
			return mismatchErr("*big.Rat", v)
		}
		encodeDecimal(e, r)
	case ScalarDateTime, ScalarLocalDateTime:
		t, ok := v.(time.Time)
		if !ok {
			return mismatchErr("time.Time", v)
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(t.Sub(epoch).Microseconds()))
		e.RawBytes(b[:])
	case ScalarLocalDate:
		t, ok := v.(time.Time)
		if !ok {
			return mismatchErr("time.Time", v)
		}
		days := int32(t.Sub(epoch).Hours() / 24)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(days))
		e.RawBytes(b[:])
	case ScalarLocalTime, ScalarDuration:
		d, ok := v.(time.Duration)
		if !ok {
			return mismatchErr("time.Duration", v)
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(d.Microseconds()))
		e.RawBytes(b[:])
	default:
		return nyxerr.New(nyxerr.KindClientEncodingError, "unsupported scalar kind for argument")
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
