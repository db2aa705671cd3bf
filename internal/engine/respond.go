package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/cryptodj413/forward-contract-program/internal/model"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a status derived from the
// error kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case model.IsValidation(err):
		return http.StatusBadRequest
	case model.IsAuthorization(err):
		return http.StatusForbidden
	case model.IsState(err), model.IsResource(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// rejectionReason labels an open rejection for metrics.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, model.ErrSizeExceedsLimit):
		return "size_limit"
	case errors.Is(err, model.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, model.ErrInsufficientBalance):
		return "balance"
	case model.IsState(err):
		return "state"
	case model.IsValidation(err):
		return "validation"
	default:
		return "other"
	}
}

// bpsDecimal renders a basis-point quantity as a decimal fraction
// (5600 bps → 0.56) for API read models. Accounting stays integer-only;
// decimals are display-only.
func bpsDecimal(v uint64) decimal.Decimal {
	return decimal.New(int64(v), -4)
}
