package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency assumed when a caller does not supply one.
const DefaultCurrency = "NGN"

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrNegativeAmount   = errors.New("amount must not be negative")
)

// Money is an exact amount in minor units (kobo). All arithmetic is integer
// based; amounts are never held in a floating-point type.
type Money struct {
	Kobo     int64  `json:"kobo"`
	Currency string `json:"currency"`
}

func New(kobo int64, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Kobo: kobo, Currency: currency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return New(0, currency)
}

func (m Money) IsZero() bool     { return m.Kobo == 0 }
func (m Money) IsPositive() bool { return m.Kobo > 0 }
func (m Money) IsNegative() bool { return m.Kobo < 0 }

func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Kobo == o.Kobo
}

func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("add %s to %s: %w", o.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Kobo: m.Kobo + o.Kobo, Currency: m.Currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("subtract %s from %s: %w", o.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Kobo: m.Kobo - o.Kobo, Currency: m.Currency}, nil
}

// MulInt multiplies the amount by a whole-number factor.
func (m Money) MulInt(n int64) Money {
	return Money{Kobo: m.Kobo * n, Currency: m.Currency}
}

// MulPercentBps applies a percentage expressed in basis points (100 bps = 1%),
// truncating toward zero. The truncated residual stays with the caller's base
// amount; schedule generation tracks it explicitly as a rounding adjustment so
// no kobo is ever lost across a set of installments.
func (m Money) MulPercentBps(bps int64) Money {
	return Money{Kobo: m.Kobo * bps / 10_000, Currency: m.Currency}
}

// SplitEven divides the amount into n equal shares, truncating toward zero.
// The remainder is everything the even shares do not cover, so
// share*n + remainder == m exactly.
func (m Money) SplitEven(n int) (share Money, remainder Money) {
	if n <= 0 {
		return Zero(m.Currency), m
	}
	per := m.Kobo / int64(n)
	share = Money{Kobo: per, Currency: m.Currency}
	remainder = Money{Kobo: m.Kobo - per*int64(n), Currency: m.Currency}
	return share, remainder
}

// Decimal converts to a major-unit decimal for display. Never used for
// arithmetic.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Kobo, -2)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, m.Decimal().StringFixed(2))
}
