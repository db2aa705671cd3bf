package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cryptodj413/forward-contract-program/internal/engine"
	"github.com/cryptodj413/forward-contract-program/internal/model"
	"github.com/cryptodj413/forward-contract-program/internal/oracle"
	"github.com/cryptodj413/forward-contract-program/internal/store"
	"github.com/cryptodj413/forward-contract-program/internal/vault"
)

const adminID = "admin"

type testEnv struct {
	store  *store.MemoryStore
	vault  *vault.MemoryVault
	router chi.Router
}

// newTestEnv builds a Service on the in-memory store and vault with an
// initialized platform config, and a funded pool account.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	mv := vault.NewMemoryVault()
	mv.Fund(engine.PoolAccount, 10_000_000)

	svc := engine.NewService(ms, mv, nil, 5*time.Minute)

	r := chi.NewRouter()
	r.Post("/api/v1/config", svc.InitConfig)
	r.Get("/api/v1/config", svc.GetConfig)
	r.Put("/api/v1/config/curve", svc.UpdateCurveParams)
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets/{marketID}", svc.GetMarket)
	r.Post("/api/v1/markets/{marketID}/close", svc.CloseMarket)
	r.Post("/api/v1/markets/{marketID}/price", svc.UpdatePrice)
	r.Post("/api/v1/markets/{marketID}/resolve", svc.Resolve)
	r.Post("/api/v1/positions", svc.OpenPosition)
	r.Get("/api/v1/positions/{marketID}/{seq}", svc.GetPosition)
	r.Post("/api/v1/positions/{marketID}/{seq}/settle", svc.SettlePosition)
	r.Get("/api/v1/portfolio/{userID}", svc.GetPortfolio)

	env := &testEnv{store: ms, vault: mv, router: r}

	w := env.do(t, "POST", "/api/v1/config", engine.InitConfigRequest{
		Admin:           adminID,
		CollateralAsset: "USDC",
		Curve: model.CurveParams{
			Alpha:       1000,
			Beta:        500,
			MaxExposure: 100000,
			MinPrice:    500,
			MaxPrice:    9500,
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("init config: %d: %s", w.Code, w.Body.String())
	}

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// seedMarket creates a market over HTTP and pushes a fresh oracle price.
func (e *testEnv) seedMarket(t *testing.T, externalID string, priceBps uint64) *model.Market {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/markets", engine.CreateMarketRequest{
		Admin:          adminID,
		ExternalID:     externalID,
		ResolutionTime: time.Now().UTC().Add(24 * time.Hour),
		RiskLimits: model.RiskLimits{
			MaxTotalExposure: 100000,
			MaxLongShare:     10000,
			MaxShortShare:    10000,
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)

	w = e.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/price", engine.UpdatePriceRequest{
		Admin: adminID,
		Price: priceBps,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("push price: %d: %s", w.Code, w.Body.String())
	}
	return &m
}

func (e *testEnv) open(t *testing.T, req engine.OpenPositionRequest) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, "POST", "/api/v1/positions", req)
}

// --- Config tests ---

func TestInitConfig_SecondCallConflicts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/config", engine.InitConfigRequest{
		Admin:           "other",
		CollateralAsset: "USDC",
		Curve:           model.CurveParams{MaxExposure: 1, MaxPrice: 10000},
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for second init, got %d", w.Code)
	}
}

func TestUpdateCurve_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	curve := model.CurveParams{Alpha: 2000, Beta: 100, MaxExposure: 50000, MinPrice: 0, MaxPrice: 10000}

	w := env.do(t, "PUT", "/api/v1/config/curve", engine.UpdateCurveRequest{Admin: "mallory", Curve: curve})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", w.Code)
	}

	w = env.do(t, "PUT", "/api/v1/config/curve", engine.UpdateCurveRequest{Admin: adminID, Curve: curve})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	cfg, _ := env.store.GetConfig(context.Background())
	if cfg.Curve != curve {
		t.Errorf("curve not replaced: %+v", cfg.Curve)
	}
}

func TestUpdateCurve_RejectsInvalidBand(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "PUT", "/api/v1/config/curve", engine.UpdateCurveRequest{
		Admin: adminID,
		Curve: model.CurveParams{MaxExposure: 1, MinPrice: 7000, MaxPrice: 6000},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted band, got %d", w.Code)
	}
}

// --- Market tests ---

func TestCreateMarket_Validation(t *testing.T) {
	env := newTestEnv(t)

	base := engine.CreateMarketRequest{
		Admin:          adminID,
		ExternalID:     "EVT-1",
		ResolutionTime: time.Now().UTC().Add(time.Hour),
		RiskLimits:     model.RiskLimits{MaxTotalExposure: 1000, MaxLongShare: 5000, MaxShortShare: 5000},
	}

	req := base
	req.Admin = "mallory"
	if w := env.do(t, "POST", "/api/v1/markets", req); w.Code != http.StatusForbidden {
		t.Errorf("non-admin: expected 403, got %d", w.Code)
	}

	req = base
	req.ResolutionTime = time.Now().UTC().Add(-time.Hour)
	if w := env.do(t, "POST", "/api/v1/markets", req); w.Code != http.StatusBadRequest {
		t.Errorf("past resolution: expected 400, got %d", w.Code)
	}

	req = base
	req.RiskLimits.MaxTotalExposure = 0
	if w := env.do(t, "POST", "/api/v1/markets", req); w.Code != http.StatusBadRequest {
		t.Errorf("zero exposure cap: expected 400, got %d", w.Code)
	}

	if w := env.do(t, "POST", "/api/v1/markets", base); w.Code != http.StatusCreated {
		t.Fatalf("valid market: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	// Same external id again conflicts.
	if w := env.do(t, "POST", "/api/v1/markets", base); w.Code != http.StatusConflict {
		t.Errorf("duplicate external id: expected 409, got %d", w.Code)
	}
}

func TestCloseMarket_ForwardOnly(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-close", 5000)

	w := env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/close", engine.AdminRequest{Admin: adminID})
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d: %s", w.Code, w.Body.String())
	}

	// Closing again is a state error.
	w = env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/close", engine.AdminRequest{Admin: adminID})
	if w.Code != http.StatusConflict {
		t.Errorf("second close: expected 409, got %d", w.Code)
	}
}

func TestResolve_PersistsOutcomeAndStatus(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-resolve", 5000)

	w := env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/resolve", engine.ResolveRequest{
		Admin:   adminID,
		Outcome: model.OutcomeYes,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d: %s", w.Code, w.Body.String())
	}

	got, _ := env.store.GetMarket(context.Background(), m.ID)
	if got.Status != model.MarketResolved {
		t.Errorf("status = %s, want resolved", got.Status)
	}
	res, _ := env.store.GetResolution(context.Background(), m.ID)
	outcome, ok, err := oracle.ReadResolution(res)
	if err != nil || !ok || outcome != model.OutcomeYes {
		t.Errorf("resolution not persisted: outcome=%v ok=%v err=%v", outcome, ok, err)
	}

	// Resolved is terminal.
	w = env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/resolve", engine.ResolveRequest{
		Admin:   adminID,
		Outcome: model.OutcomeNo,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("second resolve: expected 409, got %d", w.Code)
	}
}

// --- Open position tests ---

func TestOpenPosition_QuotedAtSkewedForwardPrice(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-open", 5000)
	env.vault.Fund("user1", 1_000_000)

	// First open at the origin: no skew, K = p = 5000.
	w := env.open(t, engine.OpenPositionRequest{
		UserID:    "user1",
		MarketID:  m.ID.String(),
		Direction: model.Long,
		Size:      60000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("first open: %d: %s", w.Code, w.Body.String())
	}
	var first engine.OpenPositionResponse
	json.Unmarshal(w.Body.Bytes(), &first)
	if first.Position.ForwardPrice != 5000 {
		t.Errorf("first K = %d, want 5000", first.Position.ForwardPrice)
	}
	if first.Position.Seq != 1 {
		t.Errorf("first seq = %d, want 1", first.Position.Seq)
	}
	if first.Position.CollateralLocked != 30000 {
		t.Errorf("first collateral = %d, want 30000", first.Position.CollateralLocked)
	}

	// Ledger now carries 60000 long: ratio 6000, K = 5600, long premium
	// rate 300 bps.
	w = env.open(t, engine.OpenPositionRequest{
		UserID:         "user1",
		MarketID:       m.ID.String(),
		Direction:      model.Long,
		Size:           10000,
		MaxSlippageBps: 1500,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("second open: %d: %s", w.Code, w.Body.String())
	}
	var second engine.OpenPositionResponse
	json.Unmarshal(w.Body.Bytes(), &second)

	if second.Position.ForwardPrice != 5600 {
		t.Errorf("K = %d, want 5600", second.Position.ForwardPrice)
	}
	if second.Position.CollateralLocked != 5600 {
		t.Errorf("collateral = %d, want 5600", second.Position.CollateralLocked)
	}
	if second.Position.PremiumPaid != 300 {
		t.Errorf("premium = %d, want 300", second.Position.PremiumPaid)
	}
	if second.SlippageBps != 1200 {
		t.Errorf("slippage = %d, want 1200", second.SlippageBps)
	}
	if second.PoolShare != 4400 {
		t.Errorf("pool share = %d, want 4400", second.PoolShare)
	}

	// Conservation: pool collateral equals Σ(size − collateral_locked).
	ledger, _ := env.store.GetLedger(context.Background(), m.ID)
	if ledger.PoolCollateral != 30000+4400 {
		t.Errorf("pool collateral = %d, want 34400", ledger.PoolCollateral)
	}
	// Escrow holds the full open notional.
	if escrow, _ := env.vault.EscrowedBalance(context.Background(), m.ID); escrow != 70000 {
		t.Errorf("escrow = %d, want 70000", escrow)
	}
}

func TestOpenPosition_ShortReceivesRebate(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-rebate", 5000)
	env.vault.Fund("user1", 1_000_000)
	env.vault.Fund("user2", 1_000_000)

	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 60000,
	})

	before, _ := env.vault.Balance(context.Background(), "user2")

	// A short reduces the skew: rate −300, premium −300 on size 10000.
	w := env.open(t, engine.OpenPositionRequest{
		UserID:    "user2",
		MarketID:  m.ID.String(),
		Direction: model.Short,
		Size:      10000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("short open: %d: %s", w.Code, w.Body.String())
	}
	var resp engine.OpenPositionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Position.PremiumPaid != -300 {
		t.Errorf("premium = %d, want -300", resp.Position.PremiumPaid)
	}
	// K=5600, short collateral = (10000−5600)·10000/10000 = 4400.
	if resp.Position.CollateralLocked != 4400 {
		t.Errorf("collateral = %d, want 4400", resp.Position.CollateralLocked)
	}

	after, _ := env.vault.Balance(context.Background(), "user2")
	if before-after != 4400-300 {
		t.Errorf("user2 paid %d, want 4100 (collateral minus rebate)", before-after)
	}
}

func TestOpenPosition_SlippageRejected(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-slip", 5000)
	env.vault.Fund("user1", 1_000_000)

	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 60000,
	})

	// K=5600 vs p=5000 is 1200 bps of slippage; tolerance 500 rejects.
	w := env.open(t, engine.OpenPositionRequest{
		UserID:         "user1",
		MarketID:       m.ID.String(),
		Direction:      model.Long,
		Size:           10000,
		MaxSlippageBps: 500,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for slippage, got %d: %s", w.Code, w.Body.String())
	}

	// The failed open must not advance the position counter.
	ledger, _ := env.store.GetLedger(context.Background(), m.ID)
	if ledger.PositionCounter != 1 {
		t.Errorf("counter = %d, want 1", ledger.PositionCounter)
	}

	// The next accepted open takes seq 2, no gap.
	w = env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Short, Size: 1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("follow-up open: %d: %s", w.Code, w.Body.String())
	}
	var resp engine.OpenPositionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Position.Seq != 2 {
		t.Errorf("seq = %d, want 2", resp.Position.Seq)
	}
}

func TestOpenPosition_SizeBoundary(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-size", 5000)
	env.vault.Fund("user1", 10_000_000)

	// Risk limits allow at most 100000 total.
	w := env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 100000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("open at cap: %d: %s", w.Code, w.Body.String())
	}

	w = env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("open above cap: expected 400, got %d", w.Code)
	}
}

func TestOpenPosition_Rejections(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-rej", 5000)
	env.vault.Fund("poor", 10)

	// Zero size.
	w := env.open(t, engine.OpenPositionRequest{
		UserID: "poor", MarketID: m.ID.String(), Direction: model.Long, Size: 0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero size: expected 400, got %d", w.Code)
	}

	// Bad direction.
	w = env.open(t, engine.OpenPositionRequest{
		UserID: "poor", MarketID: m.ID.String(), Direction: "sideways", Size: 100,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad direction: expected 400, got %d", w.Code)
	}

	// Insufficient balance.
	w = env.open(t, engine.OpenPositionRequest{
		UserID: "poor", MarketID: m.ID.String(), Direction: model.Long, Size: 1000,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("insufficient balance: expected 409, got %d", w.Code)
	}
	// Nothing was committed.
	ledger, _ := env.store.GetLedger(context.Background(), m.ID)
	if ledger.PositionCounter != 0 || ledger.TotalLongExposure != 0 {
		t.Errorf("ledger mutated by rejected opens: %+v", ledger)
	}

	// Trading-closed market.
	env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/close", engine.AdminRequest{Admin: adminID})
	env.vault.Fund("rich", 1_000_000)
	w = env.open(t, engine.OpenPositionRequest{
		UserID: "rich", MarketID: m.ID.String(), Direction: model.Long, Size: 1000,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("closed market: expected 409, got %d", w.Code)
	}
}

func TestOpenPosition_StalePriceRejected(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-stale", 5000)
	env.vault.Fund("user1", 1_000_000)

	// Age the snapshot past the 5 minute freshness window.
	env.store.SetPriceSnapshot(context.Background(), oracle.PriceSnapshot{
		MarketID:   m.ID,
		Price:      5000,
		ObservedAt: time.Now().UTC().Add(-time.Hour),
	})

	w := env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 1000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("stale price: expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOpenPosition_ByExternalID(t *testing.T) {
	env := newTestEnv(t)
	env.seedMarket(t, "EVT-ext", 5000)
	env.vault.Fund("user1", 1_000_000)

	w := env.open(t, engine.OpenPositionRequest{
		UserID: "user1", ExternalID: "EVT-ext", Direction: model.Long, Size: 1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("open by external id: %d: %s", w.Code, w.Body.String())
	}
}

// --- Settlement tests ---

func TestSettle_WinnerPaidFullNotional(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-win", 5000)
	env.vault.Fund("user1", 1_000_000)

	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 10000,
	})
	env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/resolve", engine.ResolveRequest{
		Admin: adminID, Outcome: model.OutcomeYes,
	})

	before, _ := env.vault.Balance(context.Background(), "user1")

	w := env.do(t, "POST", "/api/v1/positions/"+m.ID.String()+"/1/settle", engine.SettleRequest{UserID: "user1"})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: %d: %s", w.Code, w.Body.String())
	}
	var resp engine.SettleResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Payout != 10000 {
		t.Errorf("payout = %d, want 10000", resp.Payout)
	}
	if resp.Position.Status != model.PositionSettled {
		t.Errorf("status = %s, want settled", resp.Position.Status)
	}

	after, _ := env.vault.Balance(context.Background(), "user1")
	if after-before != 10000 {
		t.Errorf("winner credited %d, want 10000", after-before)
	}

	// Exposure and pool collateral fully retired; escrow empty.
	ledger, _ := env.store.GetLedger(context.Background(), m.ID)
	if ledger.TotalLongExposure != 0 || ledger.PoolCollateral != 0 {
		t.Errorf("ledger not retired: %+v", ledger)
	}
	if escrow, _ := env.vault.EscrowedBalance(context.Background(), m.ID); escrow != 0 {
		t.Errorf("escrow = %d, want 0", escrow)
	}
}

func TestSettle_LoserGetsNothing(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-lose", 5000)
	env.vault.Fund("user1", 1_000_000)

	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 10000,
	})
	env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/resolve", engine.ResolveRequest{
		Admin: adminID, Outcome: model.OutcomeNo,
	})

	before, _ := env.vault.Balance(context.Background(), "user1")
	poolBefore, _ := env.vault.Balance(context.Background(), engine.PoolAccount)

	w := env.do(t, "POST", "/api/v1/positions/"+m.ID.String()+"/1/settle", engine.SettleRequest{UserID: "user1"})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: %d: %s", w.Code, w.Body.String())
	}
	var resp engine.SettleResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Payout != 0 {
		t.Errorf("payout = %d, want 0", resp.Payout)
	}

	after, _ := env.vault.Balance(context.Background(), "user1")
	if after != before {
		t.Errorf("loser balance changed by %d", after-before)
	}
	poolAfter, _ := env.vault.Balance(context.Background(), engine.PoolAccount)
	if poolAfter-poolBefore != 10000 {
		t.Errorf("pool credited %d, want full notional 10000", poolAfter-poolBefore)
	}
}

func TestSettle_ExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-once", 5000)
	env.vault.Fund("user1", 1_000_000)

	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 10000,
	})
	env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/resolve", engine.ResolveRequest{
		Admin: adminID, Outcome: model.OutcomeYes,
	})

	path := "/api/v1/positions/" + m.ID.String() + "/1/settle"
	if w := env.do(t, "POST", path, engine.SettleRequest{UserID: "user1"}); w.Code != http.StatusOK {
		t.Fatalf("first settle: %d: %s", w.Code, w.Body.String())
	}

	ledgerAfter, _ := env.store.GetLedger(context.Background(), m.ID)
	balanceAfter, _ := env.vault.Balance(context.Background(), "user1")

	// The retry fails with a state error and changes nothing.
	if w := env.do(t, "POST", path, engine.SettleRequest{UserID: "user1"}); w.Code != http.StatusConflict {
		t.Fatalf("second settle: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	ledgerRetry, _ := env.store.GetLedger(context.Background(), m.ID)
	if *ledgerRetry != *ledgerAfter {
		t.Errorf("ledger changed on retried settlement: %+v vs %+v", ledgerRetry, ledgerAfter)
	}
	balanceRetry, _ := env.vault.Balance(context.Background(), "user1")
	if balanceRetry != balanceAfter {
		t.Errorf("balance changed on retried settlement")
	}
}

func TestSettle_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-pre", 5000)
	env.vault.Fund("user1", 1_000_000)

	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 10000,
	})

	path := "/api/v1/positions/" + m.ID.String() + "/1/settle"

	// Market not resolved yet.
	if w := env.do(t, "POST", path, engine.SettleRequest{UserID: "user1"}); w.Code != http.StatusConflict {
		t.Errorf("unresolved market: expected 409, got %d", w.Code)
	}

	env.do(t, "POST", "/api/v1/markets/"+m.ID.String()+"/resolve", engine.ResolveRequest{
		Admin: adminID, Outcome: model.OutcomeYes,
	})

	// Only the owner may settle.
	if w := env.do(t, "POST", path, engine.SettleRequest{UserID: "mallory"}); w.Code != http.StatusForbidden {
		t.Errorf("non-owner: expected 403, got %d", w.Code)
	}

	// Unknown position.
	w := env.do(t, "POST", "/api/v1/positions/"+m.ID.String()+"/99/settle", engine.SettleRequest{UserID: "user1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown seq: expected 404, got %d", w.Code)
	}
}

// --- Read model tests ---

func TestGetPortfolio(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-pf", 5000)
	env.vault.Fund("user1", 1_000_000)

	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Long, Size: 10000,
	})
	env.open(t, engine.OpenPositionRequest{
		UserID: "user1", MarketID: m.ID.String(), Direction: model.Short, Size: 4000,
	})

	w := env.do(t, "GET", "/api/v1/portfolio/user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio: %d: %s", w.Code, w.Body.String())
	}
	var view engine.PortfolioView
	json.Unmarshal(w.Body.Bytes(), &view)

	if view.OpenPositions != 2 {
		t.Errorf("open positions = %d, want 2", view.OpenPositions)
	}
	if view.TotalNotional != 14000 {
		t.Errorf("total notional = %d, want 14000", view.TotalNotional)
	}
	if len(view.Positions) != 2 {
		t.Errorf("positions = %d, want 2", len(view.Positions))
	}
}

func TestGetMarket_ViewIncludesPrices(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMarket(t, "EVT-view", 5000)

	w := env.do(t, "GET", "/api/v1/markets/"+m.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get market: %d: %s", w.Code, w.Body.String())
	}
	var view engine.MarketView
	json.Unmarshal(w.Body.Bytes(), &view)

	if view.OraclePrice == nil || view.OraclePrice.String() != "0.5" {
		t.Errorf("oracle price = %v, want 0.5", view.OraclePrice)
	}
	if view.ForwardPrice == nil || view.ForwardPrice.String() != "0.5" {
		t.Errorf("forward price = %v, want 0.5", view.ForwardPrice)
	}
}

func TestGetMarket_UnknownID(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, "GET", "/api/v1/markets/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
