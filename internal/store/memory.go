package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cryptodj413/forward-contract-program/internal/model"
	"github.com/cryptodj413/forward-contract-program/internal/oracle"
)

// posKey addresses a position by (market id, counter).
type posKey struct {
	marketID uuid.UUID
	seq      uint64
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	config      *model.Config
	markets     map[uuid.UUID]*model.Market
	byExternal  map[string]uuid.UUID
	ledgers     map[uuid.UUID]*model.ExposureLedger
	prices      map[uuid.UUID]oracle.PriceSnapshot
	resolutions map[uuid.UUID]oracle.ResolutionSnapshot
	positions   map[posKey]*model.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[uuid.UUID]*model.Market),
		byExternal:  make(map[string]uuid.UUID),
		ledgers:     make(map[uuid.UUID]*model.ExposureLedger),
		prices:      make(map[uuid.UUID]oracle.PriceSnapshot),
		resolutions: make(map[uuid.UUID]oracle.ResolutionSnapshot),
		positions:   make(map[posKey]*model.Position),
	}
}

func (s *MemoryStore) CreateConfig(_ context.Context, cfg *model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		return model.ErrConfigExists
	}
	copied := *cfg
	s.config = &copied
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context) (*model.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, model.ErrConfigNotFound
	}
	copied := *s.config
	return &copied, nil
}

func (s *MemoryStore) UpdateConfig(_ context.Context, cfg *model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return model.ErrConfigNotFound
	}
	copied := *cfg
	s.config = &copied
	return nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, l *model.ExposureLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byExternal[m.ExternalID]; ok {
		return model.ErrMarketExists
	}

	// Store copies to avoid external mutation.
	mc := *m
	lc := *l
	s.markets[m.ID] = &mc
	s.byExternal[m.ExternalID] = m.ID
	s.ledgers[m.ID] = &lc
	s.prices[m.ID] = oracle.PriceSnapshot{MarketID: m.ID}
	s.resolutions[m.ID] = oracle.ResolutionSnapshot{MarketID: m.ID}
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uuid.UUID) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, model.ErrMarketNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) GetMarketByExternalID(_ context.Context, externalID string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, model.ErrMarketNotFound
	}
	copied := *s.markets[id]
	return &copied, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarketStatus(_ context.Context, id uuid.UUID, status model.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return model.ErrMarketNotFound
	}
	m.Status = status
	return nil
}

func (s *MemoryStore) GetLedger(_ context.Context, marketID uuid.UUID) (*model.ExposureLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[marketID]
	if !ok {
		return nil, model.ErrMarketNotFound
	}
	copied := *l
	return &copied, nil
}

func (s *MemoryStore) SetPriceSnapshot(_ context.Context, snap oracle.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[snap.MarketID]; !ok {
		return model.ErrMarketNotFound
	}
	s.prices[snap.MarketID] = snap
	return nil
}

func (s *MemoryStore) GetPriceSnapshot(_ context.Context, marketID uuid.UUID) (oracle.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.prices[marketID]
	if !ok {
		return oracle.PriceSnapshot{}, model.ErrMarketNotFound
	}
	return snap, nil
}

func (s *MemoryStore) GetResolution(_ context.Context, marketID uuid.UUID) (oracle.ResolutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.resolutions[marketID]
	if !ok {
		return oracle.ResolutionSnapshot{}, model.ErrMarketNotFound
	}
	return snap, nil
}

func (s *MemoryStore) CommitResolution(_ context.Context, marketID uuid.UUID, snap oracle.ResolutionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return model.ErrMarketNotFound
	}
	s.resolutions[marketID] = snap
	m.Status = model.MarketResolved
	return nil
}

func (s *MemoryStore) CommitOpen(_ context.Context, ledger *model.ExposureLedger, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[ledger.MarketID]; !ok {
		return model.ErrMarketNotFound
	}
	lc := *ledger
	pc := *pos
	s.ledgers[ledger.MarketID] = &lc
	s.positions[posKey{pos.MarketID, pos.Seq}] = &pc
	return nil
}

func (s *MemoryStore) CommitSettle(_ context.Context, ledger *model.ExposureLedger, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[posKey{pos.MarketID, pos.Seq}]; !ok {
		return model.ErrPositionNotFound
	}
	lc := *ledger
	pc := *pos
	s.ledgers[ledger.MarketID] = &lc
	s.positions[posKey{pos.MarketID, pos.Seq}] = &pc
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, marketID uuid.UUID, seq uint64) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey{marketID, seq}]
	if !ok {
		return nil, model.ErrPositionNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, marketID uuid.UUID) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for key, p := range s.positions {
		if key.marketID == marketID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, owner string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Owner == owner {
			result = append(result, *p)
		}
	}
	return result, nil
}
