// Package oracle defines the snapshots delivered by the external
// price/resolution feed and the validated reads the engine consumes.
//
// Snapshots are written by a keeper through the price/resolution update
// operations; the engine only reads them. A price older than the
// configured freshness window is rejected as a validation failure, not
// retried — the caller resubmits after the feed updates.
package oracle

import (
	"time"

	"github.com/google/uuid"

	"github.com/cryptodj413/forward-contract-program/internal/model"
)

// Outcome tags as stored in the resolution snapshot.
const (
	TagNo  uint8 = 0
	TagYes uint8 = 1
)

// PriceSnapshot is one reading of the external probability feed.
type PriceSnapshot struct {
	MarketID   uuid.UUID `json:"market_id" db:"market_id"`
	Price      uint64    `json:"price" db:"price"` // bps, 0..=10000
	Exponent   int32     `json:"exponent" db:"exponent"`
	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
}

// ResolutionSnapshot records the binary outcome once the underlying
// event resolves. Outcome is nil until then.
type ResolutionSnapshot struct {
	MarketID   uuid.UUID  `json:"market_id" db:"market_id"`
	Outcome    *uint8     `json:"outcome,omitempty" db:"outcome"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ReadPrice validates a price snapshot and returns the price in basis
// points. It fails with ErrInvalidOracleData when no reading has been
// recorded, ErrInvalidPrice when the stored value is out of range, and
// ErrStalePrice when the reading is older than maxAge.
func ReadPrice(snap PriceSnapshot, now time.Time, maxAge time.Duration) (uint64, error) {
	if snap.ObservedAt.IsZero() {
		return 0, model.ErrInvalidOracleData
	}
	if snap.Price > model.BasisPoints {
		return 0, model.ErrInvalidPrice
	}
	if now.Sub(snap.ObservedAt) > maxAge {
		return 0, model.ErrStalePrice
	}
	return snap.Price, nil
}

// ReadResolution maps the stored outcome tag to a domain outcome.
// Returns ok=false when the market has not resolved, and
// ErrInvalidOracleData when the stored tag is neither yes nor no.
func ReadResolution(snap ResolutionSnapshot) (outcome model.Outcome, ok bool, err error) {
	if snap.Outcome == nil {
		return "", false, nil
	}
	switch *snap.Outcome {
	case TagYes:
		return model.OutcomeYes, true, nil
	case TagNo:
		return model.OutcomeNo, true, nil
	default:
		return "", false, model.ErrInvalidOracleData
	}
}

// TagFor returns the storage tag for a domain outcome.
func TagFor(o model.Outcome) uint8 {
	if o == model.OutcomeYes {
		return TagYes
	}
	return TagNo
}
