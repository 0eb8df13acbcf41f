package model

import (
	"fmt"
	"math/big"

	"modalnode/errkind"
)

// maxDecimalBits bounds how large a Decimal may grow via CheckedAdd. Nothing
// in the protocol needs values anywhere near this size; it exists so a
// corrupted or adversarial difficulty/nonce field can't be used to grow an
// unbounded allocation forever. 4096 bits comfortably exceeds any plausible
// cumulative-difficulty sum.
const maxDecimalBits = 4096

// Decimal is an unbounded integer serialized as decimal text, used for
// nonce and difficulty per the data model's "unbounded integer serialized
// as decimal text" requirement — a fixed-width uint64 would silently wrap
// on a sufficiently long chain's cumulative difficulty, which section 9's
// design notes call out as a correctness bug to avoid, not reproduce.
type Decimal struct {
	v *big.Int
}

// NewDecimal wraps n (nil becomes zero).
func NewDecimal(n *big.Int) Decimal {
	if n == nil {
		return Decimal{v: new(big.Int)}
	}
	return Decimal{v: new(big.Int).Set(n)}
}

// DecimalFromInt64 is a convenience constructor for literals in tests and
// genesis configuration.
func DecimalFromInt64(n int64) Decimal {
	return Decimal{v: big.NewInt(n)}
}

// DecimalFromString parses a base-10 decimal string.
func DecimalFromString(s string) (Decimal, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Decimal{}, errkind.New(errkind.Invalid, fmt.Sprintf("not a decimal integer: %q", s))
	}
	return Decimal{v: n}, nil
}

// Int returns the underlying *big.Int. Callers must not mutate it.
func (d Decimal) Int() *big.Int {
	if d.v == nil {
		return new(big.Int)
	}
	return d.v
}

func (d Decimal) String() string {
	return d.Int().String()
}

func (d Decimal) Cmp(other Decimal) int {
	return d.Int().Cmp(other.Int())
}

func (d Decimal) IsZero() bool {
	return d.Int().Sign() == 0
}

// CheckedAdd returns d+other, or an Integrity-kind error if the magnitude
// would exceed maxDecimalBits — the "explicit checked-add returning an
// Integrity error on overflow" the design notes call for, adapted from
// fixed-width overflow checking to an unbounded-but-sane-ceiling check.
func (d Decimal) CheckedAdd(other Decimal) (Decimal, error) {
	sum := new(big.Int).Add(d.Int(), other.Int())
	if sum.BitLen() > maxDecimalBits {
		return Decimal{}, errkind.New(errkind.Integrity, "cumulative value exceeds sane bit-length ceiling")
	}
	return Decimal{v: sum}, nil
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Int().String() + `"`), nil
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	n, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return fmt.Errorf("model: invalid decimal %q", string(data))
	}
	d.v = n
	return nil
}
