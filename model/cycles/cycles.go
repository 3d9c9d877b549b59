package cycles

import (
	"errors"
	"fmt"
	"math/big"
)

// Cycles is a non-negative amount of the resource-credit currency. The value
// is a 128-bit unsigned magnitude: arithmetic that would wrap past 2^128-1
// or drop below zero returns an error instead of truncating, so that every
// replica fails the same way on the same inputs.
//
// The zero value is a valid zero amount. Cycles values are immutable; all
// arithmetic returns a fresh value.
type Cycles struct {
	v *big.Int
}

var (
	// ErrOverflow is returned when an addition would exceed 2^128-1.
	ErrOverflow = errors.New("cycles: amount overflows 128 bits")

	// ErrUnderflow is returned when a subtraction would drop below zero.
	ErrUnderflow = errors.New("cycles: amount underflows zero")
)

// maxAmount is 2^128 - 1.
var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Zero returns the zero amount.
func Zero() Cycles { return Cycles{} }

// New returns an amount of n cycles.
func New(n uint64) Cycles {
	return Cycles{v: new(big.Int).SetUint64(n)}
}

// Parse converts a base-10 string into an amount. It rejects negative values
// and values beyond 128 bits.
func Parse(s string) (Cycles, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Cycles{}, fmt.Errorf("cycles: invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return Cycles{}, fmt.Errorf("cycles: negative amount %q", s)
	}
	if v.Cmp(maxAmount) > 0 {
		return Cycles{}, ErrOverflow
	}
	return Cycles{v: v}, nil
}

func (c Cycles) big() *big.Int {
	if c.v == nil {
		return new(big.Int)
	}
	return c.v
}

// Add returns c + other or ErrOverflow.
func (c Cycles) Add(other Cycles) (Cycles, error) {
	sum := new(big.Int).Add(c.big(), other.big())
	if sum.Cmp(maxAmount) > 0 {
		return Cycles{}, ErrOverflow
	}
	return Cycles{v: sum}, nil
}

// Sub returns c - other or ErrUnderflow.
func (c Cycles) Sub(other Cycles) (Cycles, error) {
	if c.Cmp(other) < 0 {
		return Cycles{}, ErrUnderflow
	}
	return Cycles{v: new(big.Int).Sub(c.big(), other.big())}, nil
}

// Max returns the largest representable amount.
func Max() Cycles {
	return Cycles{v: new(big.Int).Set(maxAmount)}
}

// Mul returns c * n or ErrOverflow.
func (c Cycles) Mul(n uint64) (Cycles, error) {
	product := new(big.Int).Mul(c.big(), new(big.Int).SetUint64(n))
	if product.Cmp(maxAmount) > 0 {
		return Cycles{}, ErrOverflow
	}
	return Cycles{v: product}, nil
}

// SaturatingSub returns c - other, clamped at zero.
func (c Cycles) SaturatingSub(other Cycles) Cycles {
	if c.Cmp(other) < 0 {
		return Zero()
	}
	out, _ := c.Sub(other)
	return out
}

// Cmp compares two amounts: -1 if c < other, 0 if equal, 1 if c > other.
func (c Cycles) Cmp(other Cycles) int { return c.big().Cmp(other.big()) }

// Equal reports whether both amounts are the same value.
func (c Cycles) Equal(other Cycles) bool { return c.Cmp(other) == 0 }

// IsZero reports whether the amount is zero.
func (c Cycles) IsZero() bool { return c.big().Sign() == 0 }

// String renders the amount in base 10.
func (c Cycles) String() string { return c.big().String() }

// MarshalJSON encodes the amount as a quoted decimal string, since 128-bit
// magnitudes do not fit a JSON number.
func (c Cycles) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare integer.
func (c *Cycles) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
