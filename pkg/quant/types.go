package quant

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Cents is a contract price on the integer cent scale.
// A binary contract pays 100 cents, so valid resting prices are 1..99.
type Cents int

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	MinCents Cents = 1
	MaxCents Cents = 99
	Payout   Cents = 100

	BpsScale = 10000
)

var centsPerDollar = decimal.NewFromInt(100)

// Valid reports whether c is a tradable price.
func (c Cents) Valid() bool {
	return c >= MinCents && c <= MaxCents
}

// Complement returns the price of the opposite outcome (100 - c).
func (c Cents) Complement() Cents {
	return Payout - c
}

// Prob converts the price into an implied probability.
func (c Cents) Prob() float64 {
	return float64(c) / float64(Payout)
}

// Dollars converts the price into dollars per contract.
func (c Cents) Dollars() decimal.Decimal {
	return decimal.NewFromInt(int64(c)).Div(centsPerDollar)
}

func (c Cents) String() string {
	return fmt.Sprintf("%d¢", int(c))
}

// ClampCents forces c into the tradable range.
func ClampCents(c Cents) Cents {
	if c < MinCents {
		return MinCents
	}
	if c > MaxCents {
		return MaxCents
	}
	return c
}

// CentsToDollars converts an integer cent amount (fees, profits) into dollars.
func CentsToDollars(c int64) decimal.Decimal {
	return decimal.NewFromInt(c).Div(centsPerDollar)
}

// ToBps converts a probability or ratio difference into basis points.
func ToBps(f float64) float64 {
	return f * BpsScale
}

// Now returns the current time as a TimeStamp.
func Now() TimeStamp {
	return TimeStamp(time.Now().UnixMicro())
}

// FromTime converts a time.Time into a TimeStamp.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp(t.UnixMicro())
}

// Time converts the TimeStamp back to time.Time.
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts))
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseTimeStamp converts a string (ms) to TimeStamp (micros).
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(ms * 1000), nil
}

// ParsePrice parses a venue price string without going through float64.
// Empty and non-positive prices are rejected.
func ParsePrice(s string) (decimal.Decimal, error) {
	if s == "" || s == "null" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %q", s)
	}
	return d, nil
}
