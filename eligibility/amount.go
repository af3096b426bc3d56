package eligibility

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrAmountPrecision = errors.New("amount_exceeds_token_precision")

// FormatAmount renders minor units as a human decimal string, e.g. 250000000 -> "250" for 6 decimals.
func FormatAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseAmount is the inverse of FormatAmount.
func ParseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrAmountPrecision
	}
	n, ok := new(big.Int).SetString(shifted.Truncate(0).StringFixed(0), 10)
	if !ok {
		return nil, fmt.Errorf("parse amount failed: %s", s)
	}
	return n, nil
}

// SumAmounts adds textual minor-unit integers; malformed entries are reported, not skipped.
func SumAmounts(amounts []string) (*big.Int, error) {
	tot := new(big.Int)
	for _, a := range amounts {
		n, ok := new(big.Int).SetString(a, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount: %q", a)
		}
		tot.Add(tot, n)
	}
	return tot, nil
}
