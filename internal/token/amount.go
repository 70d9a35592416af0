package token

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when an amount is not strictly positive at the
// token's precision.
var ErrInvalidAmount = errors.New("token: invalid amount")

// Codec converts between human decimal amounts and atomic integer units.
type Codec struct {
	Registry *Registry
}

// ToAtomic converts a decimal amount to atomic units, rounding half-up at the
// token's declared precision. Amounts that round to zero or below are rejected.
func (c Codec) ToAtomic(amount decimal.Decimal, symbol string) (uint64, error) {
	tok, err := c.Registry.Lookup(symbol)
	if err != nil {
		return 0, err
	}
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	scaled := amount.Shift(tok.Decimals).Round(0)
	if scaled.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s rounds to zero at %d decimals", ErrInvalidAmount, amount, tok.Decimals)
	}
	if scaled.Cmp(decimal.NewFromUint64(math.MaxUint64)) > 0 {
		return 0, fmt.Errorf("%w: %s exceeds atomic range", ErrInvalidAmount, amount)
	}
	return scaled.BigInt().Uint64(), nil
}

// FromAtomic converts atomic units back to a decimal amount at the token's precision.
func (c Codec) FromAtomic(atomic uint64, symbol string) (decimal.Decimal, error) {
	tok, err := c.Registry.Lookup(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromUint64(atomic).Shift(-tok.Decimals), nil
}
