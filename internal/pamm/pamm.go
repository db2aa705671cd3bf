// Package pamm implements the parameterized automated market maker
// ("pAMM") pricing curve for synthetic forwards on binary-outcome
// markets.
//
// The curve skews the forward price against the side with larger net
// exposure and charges that side a premium, bounded so the price can
// never leave the administrator-configured band:
//
//	K    = clamp(p + α·e/E_max, p_min, p_max)
//	rate = β·e/E_max            (negated for shorts)
//
// All quantities are fixed-point integers in basis points; every ratio
// is computed with truncating integer division — no floating point
// anywhere, so settlement conservation holds bit-exactly. Products that
// can exceed 64 bits go through 128-bit intermediates (math/bits).
//
// All functions are pure, deterministic, and total over their valid
// input domain; they signal nothing themselves. Callers perform range
// and overflow checks before committing state.
package pamm

import (
	"math"
	"math/bits"

	"github.com/cryptodj413/forward-contract-program/internal/model"
)

// ExposureRatio returns the pool's net exposure normalized by E_max,
// in basis points, clamped to [-10000, 10000]. Returns 0 when
// max_exposure is zero (defensive: max_exposure > 0 is an established
// config invariant).
func ExposureRatio(ledger *model.ExposureLedger, curve model.CurveParams) int64 {
	if curve.MaxExposure == 0 {
		return 0
	}
	e := ledger.NetExposure()
	neg := e < 0
	mag := uint64(e)
	if neg {
		mag = uint64(-e)
	}
	if mag >= curve.MaxExposure {
		if neg {
			return -int64(model.BasisPoints)
		}
		return int64(model.BasisPoints)
	}
	ratio := int64(mulDiv(mag, model.BasisPoints, curve.MaxExposure))
	if neg {
		return -ratio
	}
	return ratio
}

// ForwardPrice computes the forward price K in basis points:
//
//	K = clamp(p + α·exposure_ratio/10000, min_price, max_price)
//
// oraclePrice is the external probability in basis points.
func ForwardPrice(oraclePrice uint64, ledger *model.ExposureLedger, curve model.CurveParams) uint64 {
	ratio := ExposureRatio(ledger, curve)
	neg := ratio < 0
	mag := uint64(ratio)
	if neg {
		mag = uint64(-ratio)
	}
	skew := mulDiv(curve.Alpha, mag, model.BasisPoints)
	if skew > math.MaxInt64 {
		// A skew this large pins the price to the band edge.
		if neg {
			return curve.MinPrice
		}
		return curve.MaxPrice
	}

	k := int64(oraclePrice) + int64(skew)
	if neg {
		k = int64(oraclePrice) - int64(skew)
	}

	if k < int64(curve.MinPrice) {
		return curve.MinPrice
	}
	if k > int64(curve.MaxPrice) {
		return curve.MaxPrice
	}
	return uint64(k)
}

// PremiumRate computes the signed premium rate in basis points:
//
//	rate = β·exposure_ratio/10000
//
// positive for the direction that adds to the pool's skew, negated for
// shorts so the side reducing skew receives a rebate.
func PremiumRate(ledger *model.ExposureLedger, curve model.CurveParams, direction model.Direction) int64 {
	ratio := ExposureRatio(ledger, curve)
	neg := ratio < 0
	mag := uint64(ratio)
	if neg {
		mag = uint64(-ratio)
	}
	scaled := mulDiv(curve.Beta, mag, model.BasisPoints)
	if scaled > math.MaxInt64 {
		scaled = math.MaxInt64
	}
	rate := int64(scaled)
	if neg {
		rate = -rate
	}
	if direction == model.Short {
		rate = -rate
	}
	return rate
}

// Premium computes the signed premium for a position:
//
//	premium = rate·size/10000
//
// truncated toward zero — the same rounding rule used everywhere premium
// or collateral is derived, so settlement conservation is exact.
func Premium(rate int64, size uint64) int64 {
	neg := rate < 0
	mag := uint64(rate)
	if neg {
		mag = uint64(-rate)
	}
	scaled := mulDiv(mag, size, model.BasisPoints)
	if scaled > math.MaxInt64 {
		scaled = math.MaxInt64
	}
	if neg {
		return -int64(scaled)
	}
	return int64(scaled)
}

// RequiredCollateral computes the collateral a position must lock,
// truncating:
//
//	long:  K·Q/10000
//	short: (10000−K)·Q/10000
//
// For the same (K, Q) the two sides sum to at most Q; the truncation
// remainder is absorbed by the pool.
func RequiredCollateral(forwardPrice, size uint64, direction model.Direction) uint64 {
	price := forwardPrice
	if direction == model.Short {
		price = model.BasisPoints - forwardPrice
	}
	return mulDiv(price, size, model.BasisPoints)
}

// SlippageBps returns the deviation of the forward price from the
// oracle price in basis points: |K−p|·10000/p. oraclePrice must be
// positive; the open flow rejects zero prices before quoting.
func SlippageBps(forwardPrice, oraclePrice uint64) uint64 {
	diff := forwardPrice - oraclePrice
	if oraclePrice > forwardPrice {
		diff = oraclePrice - forwardPrice
	}
	return mulDiv(diff, model.BasisPoints, oraclePrice)
}

// SettlementPayout returns the amount paid to a position at resolution.
// The winning side receives the full notional; the losing side receives
// nothing.
func SettlementPayout(size uint64, direction model.Direction, outcome model.Outcome) uint64 {
	win := (direction == model.Long && outcome == model.OutcomeYes) ||
		(direction == model.Short && outcome == model.OutcomeNo)
	if win {
		return size
	}
	return 0
}

// mulDiv computes a·b/c with a 128-bit intermediate and truncating
// division, saturating at MaxUint64 if the quotient would not fit.
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}
