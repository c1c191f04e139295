package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// TenthsPerToken is the fixed-point scale of Amount.
const TenthsPerToken = 10

// Amount is a token quantity with one decimal of precision, stored as an
// integer count of tenths. Tokens(1) == Amount(10).
//
// Text form is always one decimal ("5.0", "0.5", "-1.5"). Amount implements
// encoding.TextMarshaler so it serializes as a JSON string and decodes from
// YAML scalars such as 10, 0.5 or "2.5".
type Amount int64

// Tokens converts a whole number of tokens to an Amount.
func Tokens(n int64) Amount {
	return Amount(n * TenthsPerToken)
}

// Tenths returns the raw fixed-point value.
func (a Amount) Tenths() int64 {
	return int64(a)
}

// IsNegative reports whether a is below zero.
func (a Amount) IsNegative() bool {
	return a < 0
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if b < a {
		return b
	}
	return a
}

// String renders the amount with exactly one decimal.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%d", sign, v/TenthsPerToken, v%TenthsPerToken)
}

// ParseAmount parses a decimal token quantity with at most one fractional
// digit. "3", "3.0", "0.5" and "-2.5" are accepted; "0.25" is not.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse amount: empty string")
	}

	neg := false
	body := s
	switch body[0] {
	case '-':
		neg = true
		body = body[1:]
	case '+':
		body = body[1:]
	}

	whole, frac, hasFrac := strings.Cut(body, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("parse amount %q: no digits", s)
	}
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 1) {
		return 0, fmt.Errorf("parse amount %q: at most one decimal digit allowed", s)
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("parse amount %q: invalid whole part", s)
	}
	if w > (1<<62)/TenthsPerToken {
		return 0, fmt.Errorf("parse amount %q: out of range", s)
	}

	var f int64
	if hasFrac {
		if frac[0] < '0' || frac[0] > '9' {
			return 0, fmt.Errorf("parse amount %q: invalid decimal digit", s)
		}
		f = int64(frac[0] - '0')
	}

	v := w*TenthsPerToken + f
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// MustParseAmount is like ParseAmount but panics on error.
// Use only in tests or with constant input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
