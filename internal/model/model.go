// Package model defines the core domain types shared across the forward
// engine. All monetary and price quantities are fixed-point integers in
// basis points (10000 = 100%) — never float64 for money.
package model

import (
	"math/bits"
	"time"

	"github.com/google/uuid"
)

// BasisPoints is the fixed-point scale: 10000 = 100%.
const BasisPoints uint64 = 10000

// MaxExternalIDLen bounds the length of the external market identifier.
const MaxExternalIDLen = 256

// MaxResolutionHorizon is how far in the future a market may resolve.
const MaxResolutionHorizon = 10 * 365 * 24 * time.Hour

// MarketStatus represents the lifecycle state of a market.
// Transitions are strictly forward-only: active → trading_closed → resolved.
type MarketStatus string

const (
	MarketActive        MarketStatus = "active"
	MarketTradingClosed MarketStatus = "trading_closed"
	MarketResolved      MarketStatus = "resolved"
)

// Direction is the side of a forward position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// IsValid returns true if the direction is a recognised side.
func (d Direction) IsValid() bool {
	return d == Long || d == Short
}

// Opposite returns the counter-side of the direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Outcome is the binary resolution of the underlying event.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// IsValid returns true if the outcome is a recognised resolution.
func (o Outcome) IsValid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// PositionStatus represents the lifecycle state of a position.
// open → settled is the only in-scope transition; cancelled is reserved
// for a future cancellation flow.
type PositionStatus string

const (
	PositionOpen      PositionStatus = "open"
	PositionSettled   PositionStatus = "settled"
	PositionCancelled PositionStatus = "cancelled"
)

// CurveParams are the pAMM pricing parameters, owned by the platform
// admin and replaced wholesale on update, never partially mutated.
type CurveParams struct {
	Alpha       uint64 `json:"alpha"`        // curve slope (bps)
	Beta        uint64 `json:"beta"`         // premium multiplier (bps)
	MaxExposure uint64 `json:"max_exposure"` // E_max: exposure normalizer
	MinPrice    uint64 `json:"min_price"`    // forward price floor (bps)
	MaxPrice    uint64 `json:"max_price"`    // forward price ceiling (bps)
}

// Validate checks the curve invariants:
// min_price <= max_price <= BasisPoints and max_exposure > 0.
func (p CurveParams) Validate() error {
	if p.MinPrice > p.MaxPrice || p.MaxPrice > BasisPoints {
		return ErrInvalidCurveParams
	}
	if p.MaxExposure == 0 {
		return ErrInvalidCurveParams
	}
	return nil
}

// RiskLimits bound a single market's exposure. Immutable after market
// creation.
type RiskLimits struct {
	MaxTotalExposure uint64 `json:"max_total_exposure"`
	MaxLongShare     uint64 `json:"max_long_share"`  // fraction of total (bps)
	MaxShortShare    uint64 `json:"max_short_share"` // fraction of total (bps)
}

// Validate checks max_total_exposure > 0 and both shares <= BasisPoints.
func (r RiskLimits) Validate() error {
	if r.MaxTotalExposure == 0 {
		return ErrInvalidRiskLimits
	}
	if r.MaxLongShare > BasisPoints || r.MaxShortShare > BasisPoints {
		return ErrInvalidRiskLimits
	}
	return nil
}

// Config is the one-time platform configuration record.
type Config struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	Admin           string      `json:"admin" db:"admin"`
	CollateralAsset string      `json:"collateral_asset" db:"collateral_asset"`
	Curve           CurveParams `json:"curve_params" db:"curve_params"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// Market links one external binary-outcome market to its exposure ledger,
// oracle snapshots, and vault escrow.
type Market struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	ExternalID     string       `json:"external_id" db:"external_id"`
	ResolutionTime time.Time    `json:"resolution_time" db:"resolution_time"`
	RiskLimits     RiskLimits   `json:"risk_limits" db:"risk_limits"`
	Status         MarketStatus `json:"status" db:"status"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// IsActive returns true while the market accepts new positions.
func (m *Market) IsActive() bool {
	return m.Status == MarketActive
}

// IsResolved returns true once the market outcome is final.
func (m *Market) IsResolved() bool {
	return m.Status == MarketResolved
}

// ExposureLedger is the mutable per-market aggregate: directional
// exposure, pool-side collateral, and the monotonic position counter.
type ExposureLedger struct {
	MarketID           uuid.UUID `json:"market_id" db:"market_id"`
	TotalLongExposure  uint64    `json:"total_long_exposure" db:"total_long_exposure"`
	TotalShortExposure uint64    `json:"total_short_exposure" db:"total_short_exposure"`
	PoolCollateral     uint64    `json:"pool_collateral" db:"pool_collateral"`
	PositionCounter    uint64    `json:"position_counter" db:"position_counter"`
}

// NetExposure returns total long minus total short notional (signed).
func (l *ExposureLedger) NetExposure() int64 {
	return int64(l.TotalLongExposure) - int64(l.TotalShortExposure)
}

// ApplyOpen records a newly opened position in the ledger: the side's
// exposure grows by size, the pool locks poolShare, and the position
// counter advances by exactly one. All arithmetic is checked; on
// overflow the ledger is left untouched and ErrMathOverflow is returned.
func (l *ExposureLedger) ApplyOpen(d Direction, size, poolShare uint64) error {
	side := l.TotalLongExposure
	if d == Short {
		side = l.TotalShortExposure
	}
	newSide, ok := checkedAdd(side, size)
	if !ok {
		return ErrMathOverflow
	}
	newPool, ok := checkedAdd(l.PoolCollateral, poolShare)
	if !ok {
		return ErrMathOverflow
	}
	newCounter, ok := checkedAdd(l.PositionCounter, 1)
	if !ok {
		return ErrMathOverflow
	}

	if d == Long {
		l.TotalLongExposure = newSide
	} else {
		l.TotalShortExposure = newSide
	}
	l.PoolCollateral = newPool
	l.PositionCounter = newCounter
	return nil
}

// ApplyClose retires a settled position's contribution from the ledger.
// The counter is never decremented. All arithmetic is checked; on
// underflow the ledger is left untouched and ErrMathOverflow is returned.
func (l *ExposureLedger) ApplyClose(d Direction, size, poolShare uint64) error {
	side := l.TotalLongExposure
	if d == Short {
		side = l.TotalShortExposure
	}
	newSide, ok := checkedSub(side, size)
	if !ok {
		return ErrMathOverflow
	}
	newPool, ok := checkedSub(l.PoolCollateral, poolShare)
	if !ok {
		return ErrMathOverflow
	}

	if d == Long {
		l.TotalLongExposure = newSide
	} else {
		l.TotalShortExposure = newSide
	}
	l.PoolCollateral = newPool
	return nil
}

// Position is one opened trade. Created once at open, mutated exactly
// once at settlement, never deleted. Addressed by (market id, seq) where
// seq comes from the ledger's position counter.
type Position struct {
	MarketID         uuid.UUID      `json:"market_id" db:"market_id"`
	Seq              uint64         `json:"seq" db:"seq"`
	Owner            string         `json:"owner" db:"owner"`
	Direction        Direction      `json:"direction" db:"direction"`
	Size             uint64         `json:"size" db:"size"`
	ForwardPrice     uint64         `json:"forward_price" db:"forward_price"` // K in bps
	CollateralLocked uint64         `json:"collateral_locked" db:"collateral_locked"`
	PremiumPaid      int64          `json:"premium_paid" db:"premium_paid"` // negative = rebate received
	Status           PositionStatus `json:"status" db:"status"`
	OpenedAt         time.Time      `json:"opened_at" db:"opened_at"`
	SettledAt        *time.Time     `json:"settled_at,omitempty" db:"settled_at"`
}

// IsOpen returns true while the position can still be settled.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// PoolShare is the pool's collateral contribution reserved for this
// position: size − collateral_locked. The truncation remainder of the
// two sides' collateral is absorbed here.
func (p *Position) PoolShare() uint64 {
	return p.Size - p.CollateralLocked
}

func checkedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

func checkedSub(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}
