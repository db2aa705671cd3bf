package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/bits"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptodj413/forward-contract-program/internal/metrics"
	"github.com/cryptodj413/forward-contract-program/internal/model"
	"github.com/cryptodj413/forward-contract-program/internal/oracle"
	"github.com/cryptodj413/forward-contract-program/internal/pamm"
	"github.com/cryptodj413/forward-contract-program/internal/risk"
)

// OpenPositionRequest is the JSON body for POST /api/v1/positions.
// The market may be addressed by internal id or external id.
type OpenPositionRequest struct {
	UserID         string          `json:"user_id"`
	MarketID       string          `json:"market_id,omitempty"`
	ExternalID     string          `json:"external_id,omitempty"`
	Direction      model.Direction `json:"direction"`
	Size           uint64          `json:"size"`
	MaxSlippageBps uint64          `json:"max_slippage_bps,omitempty"` // 0 = no bound
}

// OpenPositionResponse echoes the position plus the quote it was
// filled at.
type OpenPositionResponse struct {
	Position     model.Position  `json:"position"`
	OraclePrice  decimal.Decimal `json:"oracle_price"`
	ForwardPrice decimal.Decimal `json:"forward_price"`
	SlippageBps  uint64          `json:"slippage_bps"`
	PoolShare    uint64          `json:"pool_share"`
}

// SettleRequest is the JSON body for settlement; only the position
// owner may settle.
type SettleRequest struct {
	UserID string `json:"user_id"`
}

// SettleResponse reports the settlement result.
type SettleResponse struct {
	Position model.Position `json:"position"`
	Outcome  model.Outcome  `json:"outcome"`
	Payout   uint64         `json:"payout"`
}

// PortfolioView aggregates one owner's positions.
type PortfolioView struct {
	UserID           string           `json:"user_id"`
	Positions        []model.Position `json:"positions"`
	OpenPositions    int              `json:"open_positions"`
	TotalNotional    uint64           `json:"total_notional"`     // open positions only
	CollateralLocked uint64           `json:"collateral_locked"`  // open positions only
	PremiumPaid      int64            `json:"premium_paid"`       // lifetime, signed
	FreeBalance      uint64           `json:"free_balance"`
}

// OpenPosition handles POST /api/v1/positions.
// Runs the full quote-check-transfer-commit sequence under the
// market's lock.
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// --- Input validation ---
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	if !req.Direction.IsValid() {
		writeError(w, model.ErrInvalidDirection)
		return
	}
	if req.Size == 0 {
		writeError(w, model.ErrInvalidSize)
		return
	}

	ctx := r.Context()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	// Resolve the market reference before taking its lock.
	var market *model.Market
	if req.MarketID != "" {
		id, parseErr := uuid.Parse(req.MarketID)
		if parseErr != nil {
			writeError(w, model.ErrMarketNotFound)
			return
		}
		market, err = s.store.GetMarket(ctx, id)
	} else {
		market, err = s.store.GetMarketByExternalID(ctx, req.ExternalID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	lock := s.marketLock(market.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; status may have advanced.
	market, err = s.store.GetMarket(ctx, market.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	if !market.IsActive() || !now.Before(market.ResolutionTime) {
		s.rejectOpen(w, model.ErrMarketNotActive)
		return
	}

	// --- Oracle price, freshness-checked ---
	snap, err := s.store.GetPriceSnapshot(ctx, market.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := oracle.ReadPrice(snap, now, s.priceMaxAge)
	if err != nil {
		s.rejectOpen(w, err)
		return
	}
	if price == 0 {
		s.rejectOpen(w, model.ErrInvalidPrice)
		return
	}

	ledger, err := s.store.GetLedger(ctx, market.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	// --- Quote ---
	forwardPrice := pamm.ForwardPrice(price, ledger, cfg.Curve)
	rate := pamm.PremiumRate(ledger, cfg.Curve, req.Direction)
	premium := pamm.Premium(rate, req.Size)
	collateral := pamm.RequiredCollateral(forwardPrice, req.Size, req.Direction)
	poolShare := req.Size - collateral
	slippage := pamm.SlippageBps(forwardPrice, price)

	// --- Checks ---
	if req.MaxSlippageBps > 0 && slippage > req.MaxSlippageBps {
		s.rejectOpen(w, model.ErrSlippageExceeded)
		return
	}
	if err := risk.CheckSize(ledger, market.RiskLimits, req.Direction, req.Size); err != nil {
		s.rejectOpen(w, err)
		return
	}

	// --- Vault transfers ---
	// The opener funds collateral plus any positive premium; the pool
	// funds its share plus any rebate. Premium/rebate leave escrow only
	// after the commit so a store failure needs just two reversals.
	userDue := collateral
	if premium > 0 {
		var carry uint64
		userDue, carry = bits.Add64(collateral, uint64(premium), 0)
		if carry != 0 {
			s.rejectOpen(w, model.ErrMathOverflow)
			return
		}
	}
	poolDue := poolShare
	var rebate uint64
	if premium < 0 {
		rebate = uint64(-premium)
		var carry uint64
		poolDue, carry = bits.Add64(poolShare, rebate, 0)
		if carry != 0 {
			s.rejectOpen(w, model.ErrMathOverflow)
			return
		}
	}

	if err := s.vault.TransferIn(ctx, req.UserID, market.ID, userDue); err != nil {
		s.rejectOpen(w, err)
		return
	}
	if err := s.vault.TransferIn(ctx, PoolAccount, market.ID, poolDue); err != nil {
		s.refund(ctx, market.ID, req.UserID, userDue)
		s.rejectOpen(w, err)
		return
	}

	// --- Commit ---
	if err := ledger.ApplyOpen(req.Direction, req.Size, poolShare); err != nil {
		s.refund(ctx, market.ID, req.UserID, userDue)
		s.refund(ctx, market.ID, PoolAccount, poolDue)
		s.rejectOpen(w, err)
		return
	}

	pos := &model.Position{
		MarketID:         market.ID,
		Seq:              ledger.PositionCounter,
		Owner:            req.UserID,
		Direction:        req.Direction,
		Size:             req.Size,
		ForwardPrice:     forwardPrice,
		CollateralLocked: collateral,
		PremiumPaid:      premium,
		Status:           model.PositionOpen,
		OpenedAt:         now,
	}

	if err := s.store.CommitOpen(ctx, ledger, pos); err != nil {
		s.refund(ctx, market.ID, req.UserID, userDue)
		s.refund(ctx, market.ID, PoolAccount, poolDue)
		writeError(w, err)
		return
	}

	// Post-commit: move the premium to the pool, or pay out the rebate.
	if premium > 0 {
		if err := s.vault.TransferOut(ctx, market.ID, PoolAccount, uint64(premium)); err != nil {
			slog.Error("premium transfer failed", "market", market.ID, "seq", pos.Seq, "err", err)
		}
	} else if rebate > 0 {
		if err := s.vault.TransferOut(ctx, market.ID, req.UserID, rebate); err != nil {
			slog.Error("rebate transfer failed", "market", market.ID, "seq", pos.Seq, "err", err)
		}
	}

	metrics.PositionsOpenedTotal.WithLabelValues(string(req.Direction)).Inc()
	metrics.NotionalVolume.WithLabelValues(market.ID.String(), string(req.Direction)).Add(float64(req.Size))
	metrics.PoolCollateral.WithLabelValues(market.ID.String()).Set(float64(ledger.PoolCollateral))
	metrics.OpenLatency.WithLabelValues(string(req.Direction)).Observe(time.Since(start).Seconds())

	slog.Info("position opened",
		"market", market.ID,
		"external_id", market.ExternalID,
		"seq", pos.Seq,
		"owner", pos.Owner,
		"direction", pos.Direction,
		"size", pos.Size,
		"forward_price", pos.ForwardPrice,
		"collateral", pos.CollateralLocked,
		"premium", pos.PremiumPaid,
		"slippage_bps", slippage,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "position_opened",
			MarketID:     market.ID.String(),
			ExternalID:   market.ExternalID,
			OraclePrice:  bpsDecimal(price).String(),
			ForwardPrice: bpsDecimal(forwardPrice).String(),
			Direction:    string(req.Direction),
			Size:         strconv.FormatUint(req.Size, 10),
		})
	}

	writeJSON(w, http.StatusCreated, OpenPositionResponse{
		Position:     *pos,
		OraclePrice:  bpsDecimal(price),
		ForwardPrice: bpsDecimal(forwardPrice),
		SlippageBps:  slippage,
		PoolShare:    poolShare,
	})
}

// SettlePosition handles POST /api/v1/positions/{marketID}/{seq}/settle.
// Exactly-once: a second call fails with a state error and the ledger
// is untouched.
func (s *Service) SettlePosition(w http.ResponseWriter, r *http.Request) {
	marketID, seq, err := positionRef(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	ctx := r.Context()

	lock := s.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !market.IsResolved() {
		writeError(w, model.ErrMarketNotResolved)
		return
	}

	res, err := s.store.GetResolution(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, ok, err := oracle.ReadResolution(res)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, model.ErrMarketNotResolved)
		return
	}

	pos, err := s.store.GetPosition(ctx, marketID, seq)
	if err != nil {
		writeError(w, err)
		return
	}
	if pos.Owner != req.UserID {
		writeError(w, model.ErrNotPositionOwner)
		return
	}
	if !pos.IsOpen() {
		writeError(w, model.ErrPositionAlreadySettled)
		return
	}

	payout := pamm.SettlementPayout(pos.Size, pos.Direction, outcome)
	poolShare := pos.PoolShare()

	ledger, err := s.store.GetLedger(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := ledger.ApplyClose(pos.Direction, pos.Size, poolShare); err != nil {
		writeError(w, err)
		return
	}

	// Escrow holds exactly the notional per open position; the full
	// notional leaves now, to the winner or back to the pool.
	escrowed, err := s.vault.EscrowedBalance(ctx, marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if escrowed < pos.Size {
		writeError(w, model.ErrInsufficientEscrow)
		return
	}

	recipient := PoolAccount
	if payout > 0 {
		recipient = pos.Owner
	}
	if err := s.vault.TransferOut(ctx, marketID, recipient, pos.Size); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	pos.Status = model.PositionSettled
	pos.SettledAt = &now

	if err := s.store.CommitSettle(ctx, ledger, pos); err != nil {
		// Re-escrow the released notional before reporting failure.
		if rerr := s.vault.TransferIn(ctx, recipient, marketID, pos.Size); rerr != nil {
			slog.Error("settlement rollback failed", "market", marketID, "seq", seq, "err", rerr)
		}
		writeError(w, err)
		return
	}

	metrics.PositionsSettledTotal.WithLabelValues(string(pos.Direction), string(outcome)).Inc()
	metrics.PoolCollateral.WithLabelValues(marketID.String()).Set(float64(ledger.PoolCollateral))

	slog.Info("position settled",
		"market", marketID,
		"seq", seq,
		"owner", pos.Owner,
		"direction", pos.Direction,
		"outcome", outcome,
		"size", pos.Size,
		"payout", payout,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "position_settled",
			MarketID:   marketID.String(),
			ExternalID: market.ExternalID,
			Direction:  string(pos.Direction),
			Outcome:    string(outcome),
			Payout:     strconv.FormatUint(payout, 10),
		})
	}

	writeJSON(w, http.StatusOK, SettleResponse{
		Position: *pos,
		Outcome:  outcome,
		Payout:   payout,
	})
}

// GetPosition handles GET /api/v1/positions/{marketID}/{seq}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	marketID, seq, err := positionRef(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pos, err := s.store.GetPosition(r.Context(), marketID, seq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	positions, err := s.store.ListPositionsByOwner(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	view := PortfolioView{UserID: userID, Positions: positions}
	for _, p := range positions {
		view.PremiumPaid += p.PremiumPaid
		if p.IsOpen() {
			view.OpenPositions++
			view.TotalNotional += p.Size
			view.CollateralLocked += p.CollateralLocked
		}
	}
	if balance, err := s.vault.Balance(ctx, userID); err == nil {
		view.FreeBalance = balance
	}

	writeJSON(w, http.StatusOK, view)
}

// rejectOpen records the rejection metric and writes the error.
func (s *Service) rejectOpen(w http.ResponseWriter, err error) {
	metrics.OpenRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
	writeError(w, err)
}

// refund returns escrowed funds after a failed open. Best-effort: a
// refund failure is logged, not surfaced.
func (s *Service) refund(ctx context.Context, marketID uuid.UUID, account string, amount uint64) {
	if amount == 0 {
		return
	}
	if err := s.vault.TransferOut(ctx, marketID, account, amount); err != nil {
		slog.Error("refund failed", "market", marketID, "account", account, "amount", amount, "err", err)
	}
}

// positionRef parses the {marketID}/{seq} pair from the URL.
func positionRef(r *http.Request) (uuid.UUID, uint64, error) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		return uuid.Nil, 0, model.ErrMarketNotFound
	}
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		return uuid.Nil, 0, model.ErrPositionNotFound
	}
	return marketID, seq, nil
}
