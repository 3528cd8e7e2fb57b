// Package decimal implements a fixed-precision decimal number used for
// every price and amount in the matching engine. Binary floating point is
// never used for money: all arithmetic is exact base-10 arithmetic backed
// by math/big.
package decimal

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Scale is the number of fractional digits every Decimal is normalized to
// internally. Inputs may carry fewer fractional digits; more than Scale is
// rejected rather than silently rounded, since prices and amounts are
// expected to be exact in this domain.
const Scale = 8

var pow10 = new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil)

// Decimal is a signed fixed-point number with up to Scale fractional
// digits, stored as an unscaled big.Int (value * 10^Scale).
type Decimal struct {
	unscaled *big.Int
}

// Zero is the additive identity.
var Zero = Decimal{unscaled: big.NewInt(0)}

// ErrInvalidFormat is returned when a string cannot be parsed as a Decimal.
var ErrInvalidFormat = errors.New("decimal: invalid format")

// ErrPrecision is returned when a string carries more than Scale
// fractional digits.
var ErrPrecision = errors.New("decimal: too many fractional digits")

// New parses s into a Decimal. Accepted forms: "123", "123.45", "-0.5".
// No exponents, no thousands separators, no leading '+'.
func New(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	neg := false
	rest := s
	switch rest[0] {
	case '-':
		neg = true
		rest = rest[1:]
	case '+':
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if rest == "" {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	intPart := rest
	fracPart := ""
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		intPart = rest[:i]
		fracPart = rest[i+1:]
		if fracPart == "" {
			return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if len(fracPart) > Scale {
		return Decimal{}, fmt.Errorf("%w: %q has %d fractional digits, max %d", ErrPrecision, s, len(fracPart), Scale)
	}
	for len(fracPart) < Scale {
		fracPart += "0"
	}

	combined := intPart + fracPart
	unscaled, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if neg {
		unscaled.Neg(unscaled)
	}
	return Decimal{unscaled: unscaled}, nil
}

// MustNew is like New but panics on error. Intended for literals in tests
// and seed data, never for parsing untrusted input.
func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt builds a Decimal from an integer with zero fractional digits.
func FromInt(v int64) Decimal {
	return Decimal{unscaled: new(big.Int).Mul(big.NewInt(v), pow10)}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d Decimal) ensure() Decimal {
	if d.unscaled == nil {
		return Zero
	}
	return d
}

// String renders the canonical text form: no exponent, and trailing
// fractional zeros are trimmed down to a single "0" when the value is
// integral (e.g. "30000.0"), never trimmed away entirely.
func (d Decimal) String() string {
	d = d.ensure()

	neg := d.unscaled.Sign() < 0
	abs := new(big.Int).Abs(d.unscaled)

	q, r := new(big.Int).QuoRem(abs, pow10, new(big.Int))
	frac := r.String()
	for len(frac) < Scale {
		frac = "0" + frac
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}

	sign := ""
	if neg && (q.Sign() != 0 || r.Sign() != 0) {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, q.String(), frac)
}

// StringFixed renders the value with exactly n fractional digits (0<=n<=Scale),
// without the canonical trimming String performs. Used where a fixed width
// is required, e.g. cross-checking against other decimal implementations.
func (d Decimal) StringFixed(n int) string {
	d = d.ensure()
	if n < 0 {
		n = 0
	}
	if n > Scale {
		n = Scale
	}
	neg := d.unscaled.Sign() < 0
	abs := new(big.Int).Abs(d.unscaled)
	q, r := new(big.Int).QuoRem(abs, pow10, new(big.Int))
	frac := r.String()
	for len(frac) < Scale {
		frac = "0" + frac
	}
	frac = frac[:n]
	sign := ""
	if neg && (q.Sign() != 0 || r.Sign() != 0) {
		sign = "-"
	}
	if n == 0 {
		return fmt.Sprintf("%s%s", sign, q.String())
	}
	return fmt.Sprintf("%s%s.%s", sign, q.String(), frac)
}

// Add returns d+other.
func (d Decimal) Add(other Decimal) Decimal {
	d, other = d.ensure(), other.ensure()
	return Decimal{unscaled: new(big.Int).Add(d.unscaled, other.unscaled)}
}

// Sub returns d-other.
func (d Decimal) Sub(other Decimal) Decimal {
	d, other = d.ensure(), other.ensure()
	return Decimal{unscaled: new(big.Int).Sub(d.unscaled, other.unscaled)}
}

// Mul returns d*other, rounded half-up to Scale fractional digits.
func (d Decimal) Mul(other Decimal) Decimal {
	d, other = d.ensure(), other.ensure()
	product := new(big.Int).Mul(d.unscaled, other.unscaled)
	return Decimal{unscaled: roundDiv(product, pow10)}
}

// Div returns d/other, rounded half-up to Scale fractional digits.
// Panics if other is zero; callers must guard against zero divisors, which
// never arise from validated prices/amounts in this domain.
func (d Decimal) Div(other Decimal) Decimal {
	d, other = d.ensure(), other.ensure()
	if other.unscaled.Sign() == 0 {
		panic("decimal: division by zero")
	}
	numerator := new(big.Int).Mul(d.unscaled, pow10)
	return Decimal{unscaled: roundDiv(numerator, other.unscaled)}
}

// roundDiv computes round-half-up(num/den) for signed big.Ints.
func roundDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() == 0 {
		return q
	}
	twiceR := new(big.Int).Mul(r, big.NewInt(2))
	twiceR.Abs(twiceR)
	denAbs := new(big.Int).Abs(den)
	if twiceR.Cmp(denAbs) >= 0 {
		if (num.Sign() < 0) != (den.Sign() < 0) {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

// Cmp returns -1, 0, or 1 as d is less than, equal to, or greater than other.
func (d Decimal) Cmp(other Decimal) int {
	d, other = d.ensure(), other.ensure()
	return d.unscaled.Cmp(other.unscaled)
}

func (d Decimal) LessThan(other Decimal) bool        { return d.Cmp(other) < 0 }
func (d Decimal) LessThanOrEqual(other Decimal) bool { return d.Cmp(other) <= 0 }
func (d Decimal) GreaterThan(other Decimal) bool     { return d.Cmp(other) > 0 }
func (d Decimal) GreaterOrEqual(other Decimal) bool  { return d.Cmp(other) >= 0 }
func (d Decimal) Equal(other Decimal) bool           { return d.Cmp(other) == 0 }
func (d Decimal) IsZero() bool                       { return d.ensure().unscaled.Sign() == 0 }
func (d Decimal) IsNegative() bool                   { return d.ensure().unscaled.Sign() < 0 }
func (d Decimal) IsPositive() bool                   { return d.ensure().unscaled.Sign() > 0 }

// Float64 returns an approximate float64 representation. It must never be
// used for arithmetic or comparisons that feed the book or trade records;
// its only legitimate use in this codebase is as a secondary sort key
// (zset score) for the store adapter's price indices.
func (d Decimal) Float64() float64 {
	d = d.ensure()
	f := new(big.Float).SetInt(d.unscaled)
	scale := new(big.Float).SetInt(pow10)
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

// MarshalJSON emits the canonical string form, quoted, matching how the
// source system exchanges decimal values over JSON.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted canonical string or a bare JSON
// number, since upstream ingress payloads are loosely typed JSON.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	parsed, err := New(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements database/sql/driver.Valuer so Decimal can be written to
// the archival sink as a plain string column.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner for reading the archival sink's decimal
// string columns back into a Decimal.
func (d *Decimal) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := New(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	case nil:
		*d = Zero
		return nil
	default:
		return fmt.Errorf("decimal: unsupported scan type %T", src)
	}
}
