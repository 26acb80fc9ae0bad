package descriptor

import (
	"math/big"
	"testing"

	"github.com/nyxdb/nyxdb-go/protocol"
)

func TestBigIntRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []string{
		"0", "1", "-1", "9999", "10000", "-123456789012345",
		"170141183460469231731687303715884105727", // a value well beyond int64
	}
	for _, s := range cases {
		s := s
		t.Run(s, func(t *testing.T) {
			t.Parallel()
			v, ok := new(big.Int).SetString(s, 10)
			if !ok {
				t.Fatalf("SetString(%q) failed", s)
			}

			e := protocol.NewBodyEncoder()
			defer e.Release()
			encodeBigInt(e, v)

			got, err := decodeBigInt(e.Bytes())
			if err != nil {
				t.Fatalf("decodeBigInt: %v", err)
			}
			if got.Cmp(v) != 0 {
				t.Fatalf("got %s, want %s", got.String(), v.String())
			}
		})
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		v    *big.Rat
	}{
		{"zero", big.NewRat(0, 1)},
		{"one", big.NewRat(1, 1)},
		{"negative", big.NewRat(-5, 1)},
		{"fraction", big.NewRat(355, 113)},
		{"small fraction", big.NewRat(1, 1000000)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := protocol.NewBodyEncoder()
			defer e.Release()
			encodeDecimal(e, tc.v)

			got, err := decodeDecimal(e.Bytes())
			if err != nil {
				t.Fatalf("decodeDecimal: %v", err)
			}

			// encodeDecimal caps precision at 40 fractional digits, so
			// compare within that tolerance rather than requiring exact
			// equality for non-terminating fractions.
			diff := new(big.Rat).Sub(got, tc.v)
			diff.Abs(diff)
			tolerance := new(big.Rat).SetFrac(big.NewInt(1), new(big.Int).Exp(big.NewInt(10), big.NewInt(35), nil))
			if diff.Cmp(tolerance) > 0 {
				t.Fatalf("got %s, want %s (diff %s exceeds tolerance)", got.FloatString(10), tc.v.FloatString(10), diff.FloatString(40))
			}
		})
	}
}
