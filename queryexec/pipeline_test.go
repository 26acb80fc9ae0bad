package queryexec

import (
	"testing"

	"github.com/nyxdb/nyxdb-go/conn"
	"github.com/nyxdb/nyxdb-go/descriptor"
	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

func TestEncodeArgsRejectsUnsupportedShape(t *testing.T) {
	t.Parallel()

	_, err := encodeArgs(&conn.Statement{}, 42)
	if !nyxerr.Is(err, nyxerr.KindInvalidArgumentError) {
		t.Fatalf("encodeArgs(42) = %v, want InvalidArgumentError", err)
	}
}

func TestDecodeRowsJSONFormat(t *testing.T) {
	t.Parallel()

	stmt := &conn.Statement{IOFormat: protocol.IOFormatJSON}
	res := &conn.Result{Rows: [][][]byte{{[]byte(`{"a":1}`)}}}

	rows, err := decodeRows(stmt, res)
	if err != nil {
		t.Fatalf("decodeRows: %v", err)
	}
	if len(rows) != 1 || rows[0] != `{"a":1}` {
		t.Fatalf("rows = %v, want one JSON string row", rows)
	}
}

func TestDecodeRowsJSONFormatRejectsMultiField(t *testing.T) {
	t.Parallel()

	stmt := &conn.Statement{IOFormat: protocol.IOFormatJSON}
	res := &conn.Result{Rows: [][][]byte{{[]byte("a"), []byte("b")}}}

	if _, err := decodeRows(stmt, res); err == nil {
		t.Fatal("expected an error for a multi-field JSON row")
	}
}

func TestEnforceCardinality(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		card    descriptor.Cardinality
		rows    []any
		wantErr bool
	}{
		{"no-result ok", descriptor.CardinalityNoResult, nil, false},
		{"no-result violated", descriptor.CardinalityNoResult, []any{1}, true},
		{"one ok", descriptor.CardinalityOne, []any{1}, false},
		{"one missing", descriptor.CardinalityOne, nil, true},
		{"one too many", descriptor.CardinalityOne, []any{1, 2}, true},
		{"at-most-one ok empty", descriptor.CardinalityAtMostOne, nil, false},
		{"at-most-one ok single", descriptor.CardinalityAtMostOne, []any{1}, false},
		{"at-most-one violated", descriptor.CardinalityAtMostOne, []any{1, 2}, true},
		{"many unconstrained", descriptor.CardinalityMany, []any{1, 2, 3}, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := enforceCardinality(tc.card, tc.rows)
			if (err != nil) != tc.wantErr {
				t.Errorf("enforceCardinality(%v, %v) err = %v, wantErr %v", tc.card, tc.rows, err, tc.wantErr)
			}
		})
	}
}
