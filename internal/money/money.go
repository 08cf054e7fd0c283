// Package money holds amounts as an integer count of minor units (cents).
//
// Nothing in this package touches floating point. User input is read digit by
// digit: every non-digit is dropped and the remainder is taken as minor units,
// so "5" is five cents and "1.234,50" is 123450 cents.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// MinInputDigits is the shortest digit string accepted as an amount (0.01 -> "001").
const MinInputDigits = 3

var (
	ErrNoDigits     = errors.New("amount has no digits")
	ErrOutOfRange   = errors.New("amount out of range")
	ErrBelowMinimum = errors.New("amount below the 0.01 minimum")
	ErrOverflow     = errors.New("amount overflows")
)

// Value is an amount in minor units.
type Value int64

// Add returns a+b, or ErrOverflow when the result does not fit in a Value.
func Add(a, b Value) (Value, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Multiply prices qty units at unit. Negative quantities are not amounts.
func Multiply(unit Value, qty int64) (Value, error) {
	if qty < 0 {
		return 0, ErrOutOfRange
	}
	if unit == 0 || qty == 0 {
		return 0, nil
	}
	mag := int64(unit)
	if mag < 0 {
		if mag == math.MinInt64 {
			return 0, ErrOverflow
		}
		mag = -mag
	}
	if qty > math.MaxInt64/mag {
		return 0, ErrOverflow
	}
	return unit * Value(qty), nil
}

// Sum adds every value in vs.
func Sum(vs ...Value) (Value, error) {
	var total Value
	for _, v := range vs {
		var err error
		if total, err = Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (v Value) String() string { return Format(v) }

func (v Value) Cents() int64 { return int64(v) }

// Format renders v with two fractional digits and "," as the grouping
// separator: 123456 -> "1,234.56", -5 -> "-0.05".
func Format(v Value) string {
	var mag uint64
	sign := ""
	if v < 0 {
		sign = "-"
		mag = uint64(-(v + 1)) + 1
	} else {
		mag = uint64(v)
	}
	major := int64(mag / 100)
	minor := mag % 100
	return fmt.Sprintf("%s%s.%02d", sign, humanize.Comma(major), minor)
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseInput strips every non-digit from s and reads the rest as minor units.
func ParseInput(s string) (Value, error) {
	d := Digits(s)
	if d == "" {
		return 0, ErrNoDigits
	}
	n, err := strconv.ParseInt(d, 10, 64)
	if err != nil {
		return 0, ErrOutOfRange
	}
	return Value(n), nil
}

// ParseInputMinimum is ParseInput plus the minimum-amount rule used by every
// price and payment field: at least MinInputDigits digits and a positive value.
func ParseInputMinimum(s string) (Value, error) {
	v, err := ParseInput(s)
	if err != nil {
		return 0, err
	}
	if len(Digits(s)) < MinInputDigits || v <= 0 {
		return 0, ErrBelowMinimum
	}
	return v, nil
}
