package model

import (
	"errors"
)

// Sentinel errors — compare with errors.Is(). Every public operation
// fails with exactly one of these kinds and applies no partial mutation.

// Validation errors: out-of-range inputs, rejected before any mutation.
var (
	// ErrInvalidCurveParams is returned when curve parameters violate
	// min_price <= max_price <= 10000 or max_exposure == 0.
	ErrInvalidCurveParams = errors.New("invalid curve parameters")

	// ErrInvalidRiskLimits is returned when per-market risk limits are
	// out of range.
	ErrInvalidRiskLimits = errors.New("invalid risk limits")

	// ErrInvalidSize is returned when a position size is zero.
	ErrInvalidSize = errors.New("position size must be positive")

	// ErrSizeExceedsLimit is returned when a requested size exceeds the
	// market's maximum tradable size.
	ErrSizeExceedsLimit = errors.New("position size exceeds maximum allowed")

	// ErrInvalidPrice is returned when a price reading is outside [0, 10000].
	ErrInvalidPrice = errors.New("price out of basis-point range")

	// ErrInvalidResolutionTime is returned when a market's resolution time
	// is not within (now, now+10y].
	ErrInvalidResolutionTime = errors.New("resolution time out of range")

	// ErrExternalIDTooLong is returned when the external market id exceeds
	// MaxExternalIDLen.
	ErrExternalIDTooLong = errors.New("external market id too long")

	// ErrInvalidCollateralAsset is returned when a market's collateral
	// asset does not match the configured one.
	ErrInvalidCollateralAsset = errors.New("collateral asset mismatch")

	// ErrStalePrice is returned when the oracle price snapshot is older
	// than the freshness window. The caller must resubmit after the feed
	// updates.
	ErrStalePrice = errors.New("oracle price is stale")

	// ErrSlippageExceeded is returned when the forward price deviates from
	// the oracle price by more than the caller's tolerance.
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")

	// ErrInvalidOracleData is returned for an unusable oracle reading:
	// zero price at open, an unrecognised stored outcome tag, or a missing
	// outcome at settlement.
	ErrInvalidOracleData = errors.New("invalid oracle data")

	// ErrInvalidDirection is returned when the direction is not long or short.
	ErrInvalidDirection = errors.New("invalid direction: must be long or short")

	// ErrInvalidOutcome is returned when the outcome is not yes or no.
	ErrInvalidOutcome = errors.New("invalid outcome: must be yes or no")
)

// Authorization errors.
var (
	// ErrUnauthorized is returned when the caller identity does not match
	// the recorded platform admin.
	ErrUnauthorized = errors.New("unauthorized: admin only")

	// ErrNotPositionOwner is returned when a settlement is attempted by a
	// caller other than the position owner.
	ErrNotPositionOwner = errors.New("caller does not own this position")
)

// State errors: the entity exists but is in the wrong status for the
// requested transition.
var (
	// ErrConfigExists is returned when initConfig is called twice.
	ErrConfigExists = errors.New("config already initialized")

	// ErrMarketExists is returned when a market for the external id
	// already exists.
	ErrMarketExists = errors.New("market already exists for external id")

	// ErrMarketNotActive is returned when a position open is attempted on
	// a non-active market.
	ErrMarketNotActive = errors.New("market is not active for trading")

	// ErrInvalidMarketStatus is returned on an illegal market status
	// transition (e.g. closing a non-active market, resolving a resolved
	// one).
	ErrInvalidMarketStatus = errors.New("invalid market status for transition")

	// ErrMarketNotResolved is returned when settlement is attempted before
	// the market is resolved.
	ErrMarketNotResolved = errors.New("market not yet resolved")

	// ErrPositionAlreadySettled is returned on a retried settlement of a
	// non-open position. Settlement is exactly-once.
	ErrPositionAlreadySettled = errors.New("position already settled")
)

// Resource errors.
var (
	// ErrInsufficientBalance is returned when the caller's collateral
	// balance cannot cover required collateral plus premium.
	ErrInsufficientBalance = errors.New("insufficient collateral balance")

	// ErrInsufficientEscrow is returned when a payout would exceed the
	// vault's escrowed balance for the market.
	ErrInsufficientEscrow = errors.New("insufficient vault escrow for payout")
)

// Arithmetic errors.
var (
	// ErrMathOverflow is returned when a checked integer operation would
	// wrap. The whole operation aborts with no partial state change.
	ErrMathOverflow = errors.New("math overflow")
)

// Not-found errors.
var (
	ErrConfigNotFound   = errors.New("config not found")
	ErrMarketNotFound   = errors.New("market not found")
	ErrPositionNotFound = errors.New("position not found")
)

var validationErrors = []error{
	ErrInvalidCurveParams,
	ErrInvalidRiskLimits,
	ErrInvalidSize,
	ErrSizeExceedsLimit,
	ErrInvalidPrice,
	ErrInvalidResolutionTime,
	ErrExternalIDTooLong,
	ErrInvalidCollateralAsset,
	ErrStalePrice,
	ErrSlippageExceeded,
	ErrInvalidOracleData,
	ErrInvalidDirection,
	ErrInvalidOutcome,
}

var stateErrors = []error{
	ErrConfigExists,
	ErrMarketExists,
	ErrMarketNotActive,
	ErrInvalidMarketStatus,
	ErrMarketNotResolved,
	ErrPositionAlreadySettled,
}

var notFoundErrors = []error{
	ErrConfigNotFound,
	ErrMarketNotFound,
	ErrPositionNotFound,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return isAny(err, validationErrors) }

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotPositionOwner)
}

// IsState reports whether err is a wrong-status failure.
func IsState(err error) bool { return isAny(err, stateErrors) }

// IsResource reports whether err is an insufficient-funds failure.
func IsResource(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInsufficientEscrow)
}

// IsArithmetic reports whether err is a checked-arithmetic failure.
func IsArithmetic(err error) bool { return errors.Is(err, ErrMathOverflow) }

// IsNotFound reports whether err is an entity-not-found failure. Use this
// when translating domain errors to HTTP 404 responses.
func IsNotFound(err error) bool { return isAny(err, notFoundErrors) }
