package descriptor

import "github.com/google/uuid"

// ScalarKind is a closed enumeration of base scalar types, keyed by the
// server's stable 16-byte type id. DESIGN NOTES §9 calls for a closed
// match on the type id rather than open-ended dynamic dispatch, since
// it is both faster and safer.
type ScalarKind uint8

const (
	ScalarUnknown ScalarKind = iota
	ScalarUUID
	ScalarText
	ScalarBytes
	ScalarInt16
	ScalarInt32
	ScalarInt64
	ScalarFloat32
	ScalarFloat64
	ScalarDecimal
	ScalarBool
	ScalarDateTime
	ScalarLocalDateTime
	ScalarLocalDate
	ScalarLocalTime
	ScalarDuration
	ScalarJSON
	ScalarBigInt
)

// Well-known base scalar ids. Two of these are pinned by spec §8's
// concrete scenarios; the rest follow the same id space convention.
var (
	idUUID            = uuid.MustParse("00000000-0000-0000-0000-000000000100")
	idText            = uuid.MustParse("00000000-0000-0000-0000-000000000101")
	idBytes           = uuid.MustParse("00000000-0000-0000-0000-000000000102")
	idInt16           = uuid.MustParse("00000000-0000-0000-0000-000000000103")
	idInt32           = uuid.MustParse("00000000-0000-0000-0000-000000000104")
	idInt64           = uuid.MustParse("00000000-0000-0000-0000-000000000105")
	idFloat32         = uuid.MustParse("00000000-0000-0000-0000-000000000106")
	idFloat64         = uuid.MustParse("00000000-0000-0000-0000-000000000107")
	idDecimal         = uuid.MustParse("00000000-0000-0000-0000-000000000108")
	idBool            = uuid.MustParse("00000000-0000-0000-0000-000000000109")
	idDateTime        = uuid.MustParse("00000000-0000-0000-0000-00000000010a")
	idLocalDateTime   = uuid.MustParse("00000000-0000-0000-0000-00000000010b")
	idLocalDate       = uuid.MustParse("00000000-0000-0000-0000-00000000010c")
	idLocalTime       = uuid.MustParse("00000000-0000-0000-0000-00000000010d")
	idDuration        = uuid.MustParse("00000000-0000-0000-0000-00000000010e")
	idJSON            = uuid.MustParse("00000000-0000-0000-0000-00000000010f")
	idBigInt          = uuid.MustParse("00000000-0000-0000-0000-000000000110")
	idEmptyTuple      = uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
)

var scalarByID = map[uuid.UUID]ScalarKind{
	idUUID:          ScalarUUID,
	idText:          ScalarText,
	idBytes:         ScalarBytes,
	idInt16:         ScalarInt16,
	idInt32:         ScalarInt32,
	idInt64:         ScalarInt64,
	idFloat32:       ScalarFloat32,
	idFloat64:       ScalarFloat64,
	idDecimal:       ScalarDecimal,
	idBool:          ScalarBool,
	idDateTime:      ScalarDateTime,
	idLocalDateTime: ScalarLocalDateTime,
	idLocalDate:     ScalarLocalDate,
	idLocalTime:     ScalarLocalTime,
	idDuration:      ScalarDuration,
	idJSON:          ScalarJSON,
	idBigInt:        ScalarBigInt,
}

func scalarKindForID(id uuid.UUID) ScalarKind {
	if k, ok := scalarByID[id]; ok {
		return k
	}
	return ScalarUnknown
}

// EmptyTupleID is the well-known id of the zero-element tuple type,
// exercised by spec §8 scenario 1 ("SELECT ()").
func EmptyTupleID() uuid.UUID { return idEmptyTuple }

// Int64TypeID is the well-known id for the 64-bit integer scalar,
// exercised by spec §8 scenario 2 ("SELECT 1").
func Int64TypeID() uuid.UUID { return idInt64 }
