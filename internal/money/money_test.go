package money

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseAcceptsFixedPointInput(t *testing.T) {
	cases := map[string]string{
		"1000":     "1000.00",
		"1000.5":   "1000.50",
		" 12.34 ":  "12.34",
		"0.10":     "0.10",
		"-3.10":    "-3.10",
		"5.000":    "5.00",
		"0":        "0.00",
		"99999.99": "99999.99",
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got.String(), in)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	for _, in := range []string{"", "abc", "1,000.00", "1e3", "12.345", "1_000", "NaN"} {
		_, err := Parse(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrInvalidAmount), in)
	}
}

func TestParsePositiveRejectsZeroAndNegative(t *testing.T) {
	_, err := ParsePositive("0")
	require.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ParsePositive("-1")
	require.ErrorIs(t, err, ErrNonPositiveAmount)

	m, err := ParsePositive("0.01")
	require.NoError(t, err)
	require.Equal(t, int64(1), m.Cents())
}

func TestParseNonNegative(t *testing.T) {
	_, err := ParseNonNegative("-0.01")
	require.ErrorIs(t, err, ErrNegativeAmount)

	m, err := ParseNonNegative("0")
	require.NoError(t, err)
	require.True(t, m.IsZero())
}

func TestArithmeticIsExact(t *testing.T) {
	total := Zero
	for i := 0; i < 10; i++ {
		total = total.Add(MustParse("0.10"))
	}
	require.True(t, total.Equal(MustParse("1.00")))

	require.Equal(t, "400.00", MustParse("1000").Sub(MustParse("600")).String())
	require.Equal(t, "-100.00", MustParse("500").Sub(MustParse("600")).String())
	require.True(t, MustParse("500").SubClamp(MustParse("600")).IsZero())
	require.Equal(t, "0.00", MustParse("-5").ClampZero().String())
}

func TestCompareHelpers(t *testing.T) {
	a := MustParse("10.00")
	b := MustParse("10.01")

	require.Equal(t, -1, a.Cmp(b))
	require.True(t, a.LessThan(b))
	require.True(t, b.GreaterThan(a))
	require.True(t, Min(a, b).Equal(a))
	require.True(t, Max(a, b).Equal(b))
	require.True(t, Sum(a, b, FromCents(-1)).Equal(MustParse("20.00")))
	require.True(t, FromDecimal(decimal.RequireFromString("1.005")).Equal(MustParse("1.01")))
}

func TestJSONRoundTripUsesStrings(t *testing.T) {
	type payload struct {
		Amount Money `json:"amount"`
	}

	raw, err := json.Marshal(payload{Amount: MustParse("600")})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"600.00"}`, string(raw))

	var decoded payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":12.5}`), &decoded))
	require.Equal(t, "12.50", decoded.Amount.String())

	require.Error(t, json.Unmarshal([]byte(`{"amount":"twelve"}`), &decoded))
}

func TestScanAndValue(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("1234.50"))
	require.Equal(t, "1234.50", m.String())

	v, err := m.Value()
	require.NoError(t, err)
	require.Equal(t, "1234.50", v)

	require.Error(t, m.Scan(struct{}{}))
}
