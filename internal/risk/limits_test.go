package risk

import (
	"testing"

	"github.com/cryptodj413/forward-contract-program/internal/model"
)

func testLimits() model.RiskLimits {
	return model.RiskLimits{
		MaxTotalExposure: 100000,
		MaxLongShare:     6000,
		MaxShortShare:    6000,
	}
}

func TestMaxTradableSize_EmptyLedger(t *testing.T) {
	l := &model.ExposureLedger{}
	// Share cap binds first: 100000·6000/10000 = 60000.
	if got := MaxTradableSize(l, testLimits(), model.Long); got != 60000 {
		t.Errorf("expected 60000, got %d", got)
	}
}

func TestMaxTradableSize_TotalBinds(t *testing.T) {
	// Share headroom 30000 is tighter than total headroom 40000.
	l := &model.ExposureLedger{TotalLongExposure: 30000, TotalShortExposure: 30000}
	if got := MaxTradableSize(l, testLimits(), model.Long); got != 30000 {
		t.Errorf("expected 30000, got %d", got)
	}

	// Push short exposure up so total headroom binds instead.
	l = &model.ExposureLedger{TotalLongExposure: 10000, TotalShortExposure: 60000}
	if got := MaxTradableSize(l, testLimits(), model.Long); got != 30000 {
		t.Errorf("expected total-bound 30000, got %d", got)
	}
}

func TestMaxTradableSize_Exhausted(t *testing.T) {
	l := &model.ExposureLedger{TotalLongExposure: 60000, TotalShortExposure: 40000}
	if got := MaxTradableSize(l, testLimits(), model.Long); got != 0 {
		t.Errorf("expected 0 headroom, got %d", got)
	}
}

func TestCheckSize_Boundary(t *testing.T) {
	l := &model.ExposureLedger{}
	limits := testLimits()

	// Exactly at the cap is accepted.
	if err := CheckSize(l, limits, model.Long, 60000); err != nil {
		t.Errorf("size at cap should pass, got %v", err)
	}
	// One above is rejected.
	if err := CheckSize(l, limits, model.Long, 60001); err != model.ErrSizeExceedsLimit {
		t.Errorf("expected ErrSizeExceedsLimit, got %v", err)
	}
}

func TestCheckSize_PerSide(t *testing.T) {
	l := &model.ExposureLedger{TotalLongExposure: 60000}
	limits := testLimits()

	// Long side is exhausted; short side still has its full share.
	if err := CheckSize(l, limits, model.Long, 1); err != model.ErrSizeExceedsLimit {
		t.Errorf("expected long side exhausted, got %v", err)
	}
	if err := CheckSize(l, limits, model.Short, 40000); err != nil {
		t.Errorf("short side should accept within total headroom, got %v", err)
	}
}
