// Package fp implements the fixed-point scalar used throughout the
// dry-run engine for prices, quantities, fees, funding, and PnL.
package fp

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point exponent: every Fp value is conceptually an
// integer times 10^-Scale.
const Scale = 8

// Fp is a fixed-point scalar, value x 10^8, internally backed by
// decimal.Decimal so it inherits arbitrary-precision integer math but
// is rounded to Scale digits at every public boundary crossing.
type Fp struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Fp{d: decimal.Zero}

// FromFloat converts a float64 crossing the external boundary into Fp,
// rounding half-away-from-zero at 10^-8.
func FromFloat(v float64) Fp {
	return Fp{d: decimal.NewFromFloat(v).Round(Scale)}
}

// FromString parses a decimal string into Fp.
func FromString(s string) (Fp, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Fp{}, fmt.Errorf("fp: parse %q: %w", s, err)
	}
	return Fp{d: d.Round(Scale)}, nil
}

// FromInt builds an Fp from an integer.
func FromInt(v int64) Fp {
	return Fp{d: decimal.NewFromInt(v)}
}

// FromDecimal wraps an existing decimal.Decimal, rounding to Scale.
func FromDecimal(d decimal.Decimal) Fp {
	return Fp{d: d.Round(Scale)}
}

// Decimal exposes the underlying decimal.Decimal for callers that need
// to interoperate with decimal-typed APIs (e.g. a persistence layer).
func (a Fp) Decimal() decimal.Decimal { return a.d }

// ToFloat converts Fp to a float64 at the log/external boundary only.
func (a Fp) ToFloat() float64 {
	f, _ := a.d.Round(Scale).Float64()
	return f
}

// Round8 rounds half-away-from-zero to 8 decimal places, per §3
// invariant 5. Fp values are already kept at this precision internally,
// so Round8 is idempotent; it exists as the explicit, documented
// boundary-conversion step §9 calls for.
func (a Fp) Round8() Fp { return Fp{d: a.d.Round(Scale)} }

func (a Fp) Add(b Fp) Fp { return Fp{d: a.d.Add(b.d).Round(Scale)} }
func (a Fp) Sub(b Fp) Fp { return Fp{d: a.d.Sub(b.d).Round(Scale)} }
func (a Fp) Mul(b Fp) Fp { return Fp{d: a.d.Mul(b.d).Round(Scale)} }

// Div divides a by b, rounding half-away-from-zero at Scale. Division
// by zero returns Zero; callers that must distinguish that case should
// check b.IsZero() themselves.
func (a Fp) Div(b Fp) Fp {
	if b.d.IsZero() {
		return Zero
	}
	return Fp{d: a.d.DivRound(b.d, Scale)}
}

func (a Fp) Neg() Fp { return Fp{d: a.d.Neg()} }
func (a Fp) Abs() Fp { return Fp{d: a.d.Abs()} }

func (a Fp) Cmp(b Fp) int               { return a.d.Cmp(b.d) }
func (a Fp) Equal(b Fp) bool            { return a.d.Equal(b.d) }
func (a Fp) GreaterThan(b Fp) bool      { return a.d.GreaterThan(b.d) }
func (a Fp) GreaterThanOrEqual(b Fp) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Fp) LessThan(b Fp) bool         { return a.d.LessThan(b.d) }
func (a Fp) LessThanOrEqual(b Fp) bool  { return a.d.LessThanOrEqual(b.d) }
func (a Fp) IsZero() bool               { return a.d.IsZero() }
func (a Fp) IsPositive() bool           { return a.d.IsPositive() }
func (a Fp) IsNegative() bool           { return a.d.IsNegative() }

// Sign returns -1, 0, or 1.
func (a Fp) Sign() int { return a.d.Sign() }

// Max0 clamps a to zero if negative — the clamp the engine applies to
// the wallet after a liquidation per §3 invariant 1.
func Max0(a Fp) Fp {
	if a.IsNegative() {
		return Zero
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b Fp) Fp {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Fp) Fp {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Clamp restricts a to [lo, hi].
func Clamp(a, lo, hi Fp) Fp {
	if a.LessThan(lo) {
		return lo
	}
	if a.GreaterThan(hi) {
		return hi
	}
	return a
}

func (a Fp) String() string { return a.d.Round(Scale).String() }

// MarshalJSON emits the rounded decimal string representation used by
// every outward log record (§3 invariant 5).
func (a Fp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Round8().d.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (a *Fp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("fp: unmarshal %q: %w", s, err)
	}
	a.d = d.Round(Scale)
	return nil
}
