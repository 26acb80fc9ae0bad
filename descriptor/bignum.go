package descriptor

import (
	"math/big"

	"github.com/nyxdb/nyxdb-go/nyxerr"
	"github.com/nyxdb/nyxdb-go/protocol"
)

// Arbitrary-precision numerics are wire-encoded as base-10000 "digits"
// with a weight and sign, the same representation original_source's
// edgedb-protocol/bignum.rs ports from Postgres numeric. math/big is
// used for the in-memory representation since no bignum crate appears
// anywhere in the retrieval pack (documented in DESIGN.md).
const (
	decimalSignPositive uint16 = 0x0000
	decimalSignNegative uint16 = 0x4000
)

var tenThousand = big.NewInt(10000)

func decodeBigInt(data []byte) (*big.Int, error) {
	d := protocol.NewBodyDecoder(data)
	ndigits, err := d.U16()
	if err != nil {
		return nil, err
	}
	weight, err := d.U16()
	if err != nil {
		return nil, err
	}
	sign, err := d.U16()
	if err != nil {
		return nil, err
	}
	if _, err := d.U16(); err != nil { // dscale, always 0 for BigInt
		return nil, err
	}

	result := new(big.Int)
	for i := 0; i < int(ndigits); i++ {
		digit, err := d.U16()
		if err != nil {
			return nil, err
		}
		result.Mul(result, tenThousand)
		result.Add(result, big.NewInt(int64(digit)))
	}
	// Account for any trailing zero digit-groups implied by weight.
	trailingGroups := int(int16(weight)) - (int(ndigits) - 1)
	for i := 0; i < trailingGroups; i++ {
		result.Mul(result, tenThousand)
	}
	if sign == decimalSignNegative {
		result.Neg(result)
	}
	return result, nil
}

func encodeBigInt(e *protocol.BodyEncoder, v *big.Int) {
	sign := decimalSignPositive
	mag := new(big.Int).Abs(v)
	if v.Sign() < 0 {
		sign = decimalSignNegative
	}

	var digits []uint16
	for mag.Sign() != 0 {
		q, r := new(big.Int), new(big.Int)
		q.DivMod(mag, tenThousand, r)
		digits = append(digits, uint16(r.Int64()))
		mag = q
	}
	// digits were collected least-significant-group first; reverse.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	e.U16(uint16(len(digits)))
	e.U16(uint16(int16(len(digits) - 1)))
	e.U16(sign)
	e.U16(0)
	for _, d := range digits {
		e.U16(d)
	}
}

// decodeDecimal produces an exact big.Rat; the display scale (dscale) is
// read and discarded.
func decodeDecimal(data []byte) (*big.Rat, error) {
	d := protocol.NewBodyDecoder(data)
	ndigits, err := d.U16()
	if err != nil {
		return nil, err
	}
	weight, err := d.U16()
	if err != nil {
		return nil, err
	}
	sign, err := d.U16()
	if err != nil {
		return nil, err
	}
	if _, err := d.U16(); err != nil { // dscale
		return nil, err
	}

	num := new(big.Int)
	for i := 0; i < int(ndigits); i++ {
		digit, err := d.U16()
		if err != nil {
			return nil, err
		}
		num.Mul(num, tenThousand)
		num.Add(num, big.NewInt(int64(digit)))
	}

	// value = num * 10000^(weight - (ndigits-1))
	exp := int(int16(weight)) - (int(ndigits) - 1)
	result := new(big.Rat).SetInt(num)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10000), big.NewInt(int64(abs(exp))), nil))
	if exp >= 0 {
		result.Mul(result, scale)
	} else {
		result.Quo(result, scale)
	}
	if sign == decimalSignNegative {
		result.Neg(result)
	}
	return result, nil
}

// encodeDecimal scales v by 10^40 to an integer (truncating any further
// fractional digits) and derives the base-10000 digit groups from it,
// capping precision at 40 fractional digits — adequate for the values a
// query argument plausibly carries.
func encodeDecimal(e *protocol.BodyEncoder, v *big.Rat) {
	sign := decimalSignPositive
	r := v
	if v.Sign() < 0 {
		sign = decimalSignNegative
		r = new(big.Rat).Neg(v)
	}

	const fractionalDigits = 40
	scaled := new(big.Int).Set(r.Num())
	denomScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(fractionalDigits), nil)
	scaled.Mul(scaled, denomScale)
	scaled.Quo(scaled, r.Denom())

	// scaled now represents v * 10^fractionalDigits as an integer; group
	// it into base-10000 digits the same way encodeBigInt does.
	var digits []uint16
	mag := new(big.Int).Set(scaled)
	for mag.Sign() != 0 {
		q, rem := new(big.Int), new(big.Int)
		q.DivMod(mag, tenThousand, rem)
		digits = append(digits, uint16(rem.Int64()))
		mag = q
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	weight := int16(len(digits) - 1 - fractionalDigits/4)
	e.U16(uint16(len(digits)))
	e.U16(uint16(weight))
	e.U16(sign)
	e.U16(fractionalDigits)
	for _, d := range digits {
		e.U16(d)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func requireLen(data []byte, n int) error {
	if len(data) != n {
		return nyxerr.New(nyxerr.KindClientEncodingError, "scalar value has wrong byte length")
	}
	return nil
}
