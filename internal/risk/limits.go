// Package risk enforces per-market exposure limits.
//
// A market caps both total exposure across the pool and each side's
// share of the total. A trade that would breach either bound is
// rejected before any state is mutated.
package risk

import (
	"math/bits"

	"github.com/cryptodj413/forward-contract-program/internal/model"
)

// MaxTradableSize returns the largest position size currently admissible
// on the given side:
//
//	headroom_total = max_total_exposure − (long + short)
//	headroom_share = max_total_exposure·share_bps/10000 − side_exposure
//	result         = min(headroom_total, headroom_share)
//
// Both headrooms saturate at zero.
func MaxTradableSize(ledger *model.ExposureLedger, limits model.RiskLimits, direction model.Direction) uint64 {
	sideExposure := ledger.TotalLongExposure
	shareBps := limits.MaxLongShare
	if direction == model.Short {
		sideExposure = ledger.TotalShortExposure
		shareBps = limits.MaxShortShare
	}

	total, carry := bits.Add64(ledger.TotalLongExposure, ledger.TotalShortExposure, 0)
	byTotal := uint64(0)
	if carry == 0 && limits.MaxTotalExposure > total {
		byTotal = limits.MaxTotalExposure - total
	}

	hi, lo := bits.Mul64(limits.MaxTotalExposure, shareBps)
	sideCap, _ := bits.Div64(hi, lo, model.BasisPoints)
	byShare := uint64(0)
	if sideCap > sideExposure {
		byShare = sideCap - sideExposure
	}

	if byTotal < byShare {
		return byTotal
	}
	return byShare
}

// CheckSize validates a requested position size against the market's
// limits. Returns ErrSizeExceedsLimit when size is larger than the
// maximum tradable size on that side.
func CheckSize(ledger *model.ExposureLedger, limits model.RiskLimits, direction model.Direction, size uint64) error {
	if size > MaxTradableSize(ledger, limits, direction) {
		return model.ErrSizeExceedsLimit
	}
	return nil
}
