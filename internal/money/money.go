// Package money implements the fixed-precision amounts used by the receivables ledger.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every Money value carries.
const Scale = 2

var (
	// ErrInvalidAmount indicates non-numeric input or more than Scale fractional digits.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrNegativeAmount indicates a negative amount where one is not allowed.
	ErrNegativeAmount = errors.New("money: amount must not be negative")
	// ErrNonPositiveAmount indicates a zero or negative amount where a positive one is required.
	ErrNonPositiveAmount = errors.New("money: amount must be positive")
)

// Money is an exact decimal amount with two fractional digits.
// The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// FromCents builds a Money from an integer number of cents.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -Scale)}
}

// FromDecimal rounds d half away from zero to Scale digits.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d: d.Round(Scale)}
}

// Parse reads a decimal string such as "1200", "1200.5" or "-3.10".
// Thousands separators, exponents and more than two fractional digits are rejected.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.ContainsAny(s, "eE,_ ") {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Exponent() < -Scale && !d.Equal(d.Round(Scale)) {
		return Zero, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, Scale)
	}
	return FromDecimal(d), nil
}

// ParseNonNegative parses s and rejects negative values.
func ParseNonNegative(s string) (Money, error) {
	m, err := Parse(s)
	if err != nil {
		return Zero, err
	}
	if m.IsNegative() {
		return Zero, fmt.Errorf("%w: %s", ErrNegativeAmount, m)
	}
	return m, nil
}

// ParsePositive parses s and rejects zero or negative values.
func ParsePositive(s string) (Money, error) {
	m, err := Parse(s)
	if err != nil {
		return Zero, err
	}
	if !m.IsPositive() {
		return Zero, fmt.Errorf("%w: %s", ErrNonPositiveAmount, m)
	}
	return m, nil
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

// Sub returns m - o, which may be negative.
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// SubClamp returns m - o, floored at zero. Used for balances.
func (m Money) SubClamp(o Money) Money {
	r := m.d.Sub(o.d)
	if r.IsNegative() {
		return Zero
	}
	return Money{d: r}
}

// Neg returns -m.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.d.IsNegative() {
		return Zero
	}
	return m
}

// Cmp returns -1, 0 or +1 comparing m with o.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Equal reports whether m == o.
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// LessThan reports whether m < o.
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

// GreaterThan reports whether m > o.
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsZero reports whether m == 0.
func (m Money) IsZero() bool { return m.d.IsZero() }

// Decimal exposes the underlying decimal for ratio computations.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Cents returns m as an integer number of cents.
func (m Money) Cents() int64 { return m.d.Shift(Scale).IntPart() }

// String renders m with exactly two fractional digits.
func (m Money) String() string { return m.d.StringFixed(Scale) }

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds all values.
func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MarshalJSON encodes m as a quoted fixed-point string so clients never see a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return fmt.Errorf("%w: null", ErrInvalidAmount)
	}
	s = strings.Trim(s, `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("money: scan: %w", err)
	}
	*m = FromDecimal(d)
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}
