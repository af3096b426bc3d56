package eligibility

import (
	"math"
	"math/big"
)

const (
	DefaultMinScore = int64(1400)
	DefaultDecimals = int32(6)
)

// DefaultClaimUnit is 1 XP expressed in minor units of a 6-decimal token.
var DefaultClaimUnit = big.NewInt(1_000_000)

// Policy holds the fixed thresholds. All methods are pure.
type Policy struct {
	MinScore  int64
	ClaimUnit *big.Int
}

func New(minScore int64, claimUnit *big.Int) Policy {
	if claimUnit == nil || claimUnit.Sign() <= 0 {
		claimUnit = DefaultClaimUnit
	}
	return Policy{MinScore: minScore, ClaimUnit: new(big.Int).Set(claimUnit)}
}

func Default() Policy {
	return New(DefaultMinScore, DefaultClaimUnit)
}

func (p Policy) IsEligible(score int64) bool {
	return score >= p.MinScore
}

// ClaimAmount returns floor(xp) * ClaimUnit. Negative, NaN and infinite xp yield zero.
func (p Policy) ClaimAmount(xp float64) *big.Int {
	if !ValidXP(xp) {
		return new(big.Int)
	}
	whole, _ := new(big.Float).SetFloat64(math.Floor(xp)).Int(nil)
	return whole.Mul(whole, p.ClaimUnit)
}

// ValidXP rejects negative, zero and non-finite values.
func ValidXP(xp float64) bool {
	return !math.IsNaN(xp) && !math.IsInf(xp, 0) && xp > 0
}
