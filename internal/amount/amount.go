// Package amount provides exact decimal arithmetic for token quantities.
// Every on-chain value is an integer count of the smallest unit (wei); human
// amounts are that integer shifted by 18 decimal places. Nothing in this
// package ever goes through float64.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits between a human amount and its
// wei representation.
const Decimals = 18

var (
	// ErrInvalidAmount is returned when a value cannot be parsed as a number.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrDivisionByZero is returned by Div and Ratio when the divisor is zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNotInteger is returned by ToBig when the value has a fractional part.
	ErrNotInteger = errors.New("amount is not an integer")
)

// Zero is the decimal zero value.
var Zero = decimal.Zero

// Parse converts s into a decimal. Surrounding whitespace is ignored.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount: parse %q: %w", s, ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount: parse %q: %w", s, ErrInvalidAmount)
	}
	return d, nil
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromBig wraps an integer wei amount. A nil input is treated as zero.
func FromBig(b *big.Int) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b, 0)
}

// ToBig returns d as an integer. It fails if d has a fractional part.
func ToBig(d decimal.Decimal) (*big.Int, error) {
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("amount: to big %s: %w", d.String(), ErrNotInteger)
	}
	return d.BigInt(), nil
}

// ParseBig parses an integer decimal string such as a wei balance.
func ParseBig(s string) (*big.Int, error) {
	d, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return ToBig(d)
}

// Add returns a + b.
func Add(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) }

// Sub returns a - b.
func Sub(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) }

// Mul returns a * b.
func Mul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) }

// Div returns a / b rounded to 18 fractional digits.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, fmt.Errorf("amount: div %s by zero: %w", a.String(), ErrDivisionByZero)
	}
	return a.DivRound(b, Decimals), nil
}

// Ratio is the exact quotient num/den truncated to 18 fractional digits.
// Prices are ratios, so truncation keeps them reproducible for comparison
// against user-entered limits.
func Ratio(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, fmt.Errorf("amount: ratio %s/0: %w", num.String(), ErrDivisionByZero)
	}
	// Widen the quotient before truncating so DivRound's half-up rounding
	// never leaks into the 18th digit.
	return num.DivRound(den, Decimals+2).Truncate(Decimals), nil
}

// Cmp compares a and b and returns -1, 0 or +1.
func Cmp(a, b decimal.Decimal) int { return a.Cmp(b) }

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// ToWei converts a human amount into wei, dropping anything below one wei.
func ToWei(human decimal.Decimal) decimal.Decimal {
	return human.Shift(Decimals).Truncate(0)
}

// FromWei converts a wei amount into its human denomination.
func FromWei(wei decimal.Decimal) decimal.Decimal {
	return wei.Shift(-Decimals)
}

// ToWeiString parses a human amount and returns the wei integer string.
func ToWeiString(human string) (string, error) {
	d, err := Parse(human)
	if err != nil {
		return "", err
	}
	return ToWei(d).String(), nil
}

// FromWeiString parses a wei amount and returns the human decimal string.
func FromWeiString(wei string) (string, error) {
	d, err := Parse(wei)
	if err != nil {
		return "", err
	}
	return FromWei(d).String(), nil
}

// HumanToBig converts a human amount straight into an integer wei value, the
// form contract calls take.
func HumanToBig(human string) (*big.Int, error) {
	d, err := Parse(human)
	if err != nil {
		return nil, err
	}
	return ToWei(d).BigInt(), nil
}
