// Package engine provides the HTTP handlers and business logic for the
// synthetic forward pAMM: platform configuration, market lifecycle,
// oracle updates, and position open/settle flows.
//
// All accounting values are fixed-point integers in basis points —
// never float64 for money. shopspring/decimal appears only in read
// models for display.
package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptodj413/forward-contract-program/internal/metrics"
	"github.com/cryptodj413/forward-contract-program/internal/model"
	"github.com/cryptodj413/forward-contract-program/internal/oracle"
	"github.com/cryptodj413/forward-contract-program/internal/pamm"
	"github.com/cryptodj413/forward-contract-program/internal/store"
	"github.com/cryptodj413/forward-contract-program/internal/vault"
)

// PoolAccount is the vault account backing the pool side of every
// position. It must be funded before markets accept positions.
const PoolAccount = "pool"

// Service handles forward engine operations. Opens and settlements on
// the same market are serialized through a per-market mutex; operations
// on distinct markets proceed concurrently.
type Service struct {
	store       store.Store
	vault       vault.Vault
	wsHub       *WSHub // optional WebSocket hub for real-time broadcasts
	priceMaxAge time.Duration

	mu       sync.Mutex
	marketMu map[uuid.UUID]*sync.Mutex
}

// NewService creates a new engine service. Pass nil for hub if
// WebSocket broadcasting is not needed. priceMaxAge bounds how stale an
// oracle price snapshot may be when quoting an open.
func NewService(st store.Store, v vault.Vault, hub *WSHub, priceMaxAge time.Duration) *Service {
	return &Service{
		store:       st,
		vault:       v,
		wsHub:       hub,
		priceMaxAge: priceMaxAge,
		marketMu:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// marketLock returns the mutex serializing one market's mutations.
func (s *Service) marketLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.marketMu[id]
	if !ok {
		m = &sync.Mutex{}
		s.marketMu[id] = m
	}
	return m
}

// --- Request types ---

// InitConfigRequest is the JSON body for POST /api/v1/config.
type InitConfigRequest struct {
	Admin           string            `json:"admin"`
	CollateralAsset string            `json:"collateral_asset"`
	Curve           model.CurveParams `json:"curve_params"`
}

// UpdateCurveRequest is the JSON body for PUT /api/v1/config/curve.
type UpdateCurveRequest struct {
	Admin string            `json:"admin"`
	Curve model.CurveParams `json:"curve_params"`
}

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Admin           string           `json:"admin"`
	ExternalID      string           `json:"external_id"`
	CollateralAsset string           `json:"collateral_asset,omitempty"`
	ResolutionTime  time.Time        `json:"resolution_time"`
	RiskLimits      model.RiskLimits `json:"risk_limits"`
}

// AdminRequest carries just the caller identity for admin-gated
// lifecycle transitions.
type AdminRequest struct {
	Admin string `json:"admin"`
}

// UpdatePriceRequest is the JSON body for the oracle price keeper.
type UpdatePriceRequest struct {
	Admin    string `json:"admin"`
	Price    uint64 `json:"price"` // bps, 0..10000
	Exponent int32  `json:"exponent"`
}

// ResolveRequest is the JSON body for market resolution.
type ResolveRequest struct {
	Admin   string        `json:"admin"`
	Outcome model.Outcome `json:"outcome"`
}

// MarketView is the market read model: static fields, ledger totals,
// and display prices as decimal fractions. Premium rates are signed
// bps: positive means the opener pays, negative means a rebate.
type MarketView struct {
	Market           model.Market         `json:"market"`
	Ledger           model.ExposureLedger `json:"ledger"`
	NetExposure      int64                `json:"net_exposure"`
	OraclePrice      *decimal.Decimal     `json:"oracle_price,omitempty"`
	ForwardPrice     *decimal.Decimal     `json:"forward_price,omitempty"`
	PremiumRateLong  *int64               `json:"premium_rate_long,omitempty"`
	PremiumRateShort *int64               `json:"premium_rate_short,omitempty"`
}

// --- Config handlers ---

// InitConfig handles POST /api/v1/config. One-time platform setup.
func (s *Service) InitConfig(w http.ResponseWriter, r *http.Request) {
	var req InitConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Admin == "" {
		writeError(w, model.ErrUnauthorized)
		return
	}
	if req.CollateralAsset == "" {
		writeError(w, model.ErrInvalidCollateralAsset)
		return
	}
	if err := req.Curve.Validate(); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	cfg := &model.Config{
		ID:              uuid.New(),
		Admin:           req.Admin,
		CollateralAsset: req.CollateralAsset,
		Curve:           req.Curve,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("config initialized",
		"id", cfg.ID,
		"admin", cfg.Admin,
		"collateral_asset", cfg.CollateralAsset,
		"alpha", cfg.Curve.Alpha,
		"beta", cfg.Curve.Beta,
		"max_exposure", cfg.Curve.MaxExposure,
	)

	writeJSON(w, http.StatusCreated, cfg)
}

// UpdateCurveParams handles PUT /api/v1/config/curve. The curve is
// replaced wholesale, never partially mutated.
func (s *Service) UpdateCurveParams(w http.ResponseWriter, r *http.Request) {
	var req UpdateCurveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx := r.Context()
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Admin != cfg.Admin {
		writeError(w, model.ErrUnauthorized)
		return
	}
	if err := req.Curve.Validate(); err != nil {
		writeError(w, err)
		return
	}

	cfg.Curve = req.Curve
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateConfig(ctx, cfg); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("curve params updated",
		"alpha", cfg.Curve.Alpha,
		"beta", cfg.Curve.Beta,
		"max_exposure", cfg.Curve.MaxExposure,
		"min_price", cfg.Curve.MinPrice,
		"max_price", cfg.Curve.MaxPrice,
	)

	writeJSON(w, http.StatusOK, cfg)
}

// GetConfig handles GET /api/v1/config.
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx := r.Context()
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Admin != cfg.Admin {
		writeError(w, model.ErrUnauthorized)
		return
	}
	if req.ExternalID == "" || len(req.ExternalID) > model.MaxExternalIDLen {
		writeError(w, model.ErrExternalIDTooLong)
		return
	}
	if req.CollateralAsset != "" && req.CollateralAsset != cfg.CollateralAsset {
		writeError(w, model.ErrInvalidCollateralAsset)
		return
	}
	now := time.Now().UTC()
	if !req.ResolutionTime.After(now) || req.ResolutionTime.After(now.Add(model.MaxResolutionHorizon)) {
		writeError(w, model.ErrInvalidResolutionTime)
		return
	}
	if err := req.RiskLimits.Validate(); err != nil {
		writeError(w, err)
		return
	}

	market := &model.Market{
		ID:             uuid.New(),
		ExternalID:     req.ExternalID,
		ResolutionTime: req.ResolutionTime.UTC(),
		RiskLimits:     req.RiskLimits,
		Status:         model.MarketActive,
		CreatedAt:      now,
	}
	ledger := &model.ExposureLedger{MarketID: market.ID}

	if err := s.store.CreateMarket(ctx, market, ledger); err != nil {
		writeError(w, err)
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", market.ID,
		"external_id", market.ExternalID,
		"resolution_time", market.ResolutionTime,
		"max_total_exposure", market.RiskLimits.MaxTotalExposure,
	)

	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets.
// Optionally filtered by ?status=<active|trading_closed|resolved>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if m.Status == model.MarketStatus(status) {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
// Returns the market, its ledger, and display prices.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, model.ErrMarketNotFound)
		return
	}

	ctx := r.Context()
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	ledger, err := s.store.GetLedger(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}

	view := MarketView{
		Market:      *market,
		Ledger:      *ledger,
		NetExposure: ledger.NetExposure(),
	}

	// Display prices require a config and a usable oracle snapshot.
	if cfg, err := s.store.GetConfig(ctx); err == nil {
		if snap, err := s.store.GetPriceSnapshot(ctx, marketID); err == nil {
			if price, err := oracle.ReadPrice(snap, time.Now().UTC(), s.priceMaxAge); err == nil {
				p := bpsDecimal(price)
				view.OraclePrice = &p

				k := bpsDecimal(pamm.ForwardPrice(price, ledger, cfg.Curve))
				view.ForwardPrice = &k

				long := pamm.PremiumRate(ledger, cfg.Curve, model.Long)
				short := pamm.PremiumRate(ledger, cfg.Curve, model.Short)
				view.PremiumRateLong = &long
				view.PremiumRateShort = &short
			}
		}
	}

	writeJSON(w, http.StatusOK, view)
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close.
// Legal only from active; the transition is forward-only.
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, model.ErrMarketNotFound)
		return
	}
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx := r.Context()
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Admin != cfg.Admin {
		writeError(w, model.ErrUnauthorized)
		return
	}

	lock := s.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !market.IsActive() {
		writeError(w, model.ErrMarketNotActive)
		return
	}

	if err := s.store.UpdateMarketStatus(ctx, marketID, model.MarketTradingClosed); err != nil {
		writeError(w, err)
		return
	}
	metrics.ActiveMarkets.Dec()

	slog.Info("market trading closed", "id", marketID, "external_id", market.ExternalID)

	market.Status = model.MarketTradingClosed
	writeJSON(w, http.StatusOK, market)
}

// UpdatePrice handles POST /api/v1/markets/{marketID}/price.
// The keeper pushes the oracle probability (bps) with its exponent;
// the snapshot timestamp is set server-side.
func (s *Service) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, model.ErrMarketNotFound)
		return
	}
	var req UpdatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx := r.Context()
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Admin != cfg.Admin {
		writeError(w, model.ErrUnauthorized)
		return
	}
	if req.Price > model.BasisPoints {
		writeError(w, model.ErrInvalidPrice)
		return
	}

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}

	snap := oracle.PriceSnapshot{
		MarketID:   marketID,
		Price:      req.Price,
		Exponent:   req.Exponent,
		ObservedAt: time.Now().UTC(),
	}
	if err := s.store.SetPriceSnapshot(ctx, snap); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("oracle price updated",
		"market", marketID,
		"external_id", market.ExternalID,
		"price", req.Price,
		"exponent", req.Exponent,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "price_update",
			MarketID:    marketID.String(),
			ExternalID:  market.ExternalID,
			OraclePrice: bpsDecimal(req.Price).String(),
		})
	}

	writeJSON(w, http.StatusOK, snap)
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve.
// Persists the outcome and transitions to resolved in one commit.
// Legal from active or trading_closed; resolved is terminal.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, model.ErrMarketNotFound)
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !req.Outcome.IsValid() {
		writeError(w, model.ErrInvalidOutcome)
		return
	}

	ctx := r.Context()
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Admin != cfg.Admin {
		writeError(w, model.ErrUnauthorized)
		return
	}

	lock := s.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if market.IsResolved() {
		writeError(w, model.ErrInvalidMarketStatus)
		return
	}
	wasActive := market.IsActive()

	now := time.Now().UTC()
	tag := oracle.TagFor(req.Outcome)
	snap := oracle.ResolutionSnapshot{
		MarketID:   marketID,
		Outcome:    &tag,
		ResolvedAt: &now,
	}
	if err := s.store.CommitResolution(ctx, marketID, snap); err != nil {
		writeError(w, err)
		return
	}
	if wasActive {
		metrics.ActiveMarkets.Dec()
	}

	slog.Info("market resolved",
		"market", marketID,
		"external_id", market.ExternalID,
		"outcome", req.Outcome,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "market_resolved",
			MarketID:   marketID.String(),
			ExternalID: market.ExternalID,
			Outcome:    string(req.Outcome),
		})
	}

	market.Status = model.MarketResolved
	writeJSON(w, http.StatusOK, market)
}
