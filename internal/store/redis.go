package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cryptodj413/forward-contract-program/internal/model"
	"github.com/cryptodj413/forward-contract-program/internal/oracle"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Config (low volume, passthrough) ---

func (s *CachedStore) CreateConfig(ctx context.Context, cfg *model.Config) error {
	return s.primary.CreateConfig(ctx, cfg)
}

func (s *CachedStore) GetConfig(ctx context.Context) (*model.Config, error) {
	return s.primary.GetConfig(ctx)
}

func (s *CachedStore) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	return s.primary.UpdateConfig(ctx, cfg)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, l *model.ExposureLedger) error {
	if err := s.primary.CreateMarket(ctx, m, l); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarketStatus(ctx context.Context, id uuid.UUID, status model.MarketStatus) error {
	if err := s.primary.UpdateMarketStatus(ctx, id, status); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SetPriceSnapshot(ctx context.Context, snap oracle.PriceSnapshot) error {
	if err := s.primary.SetPriceSnapshot(ctx, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, priceKey(snap.MarketID))
	return nil
}

func (s *CachedStore) CommitResolution(ctx context.Context, marketID uuid.UUID, snap oracle.ResolutionSnapshot) error {
	if err := s.primary.CommitResolution(ctx, marketID, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(marketID))
	return nil
}

func (s *CachedStore) CommitOpen(ctx context.Context, ledger *model.ExposureLedger, pos *model.Position) error {
	if err := s.primary.CommitOpen(ctx, ledger, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, ledgerKey(ledger.MarketID))
	return nil
}

func (s *CachedStore) CommitSettle(ctx context.Context, ledger *model.ExposureLedger, pos *model.Position) error {
	if err := s.primary.CommitSettle(ctx, ledger, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, ledgerKey(ledger.MarketID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id uuid.UUID) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByExternalID(ctx context.Context, externalID string) (*model.Market, error) {
	// Try cache via external→marketID mapping.
	raw, err := s.rdb.Get(ctx, externalKey(externalID)).Result()
	if err == nil {
		if id, parseErr := uuid.Parse(raw); parseErr == nil {
			return s.GetMarket(ctx, id)
		}
	}

	// Cache miss.
	m, err := s.primary.GetMarketByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	// Cache both the market and the external→ID mapping.
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, externalKey(externalID), m.ID.String(), s.ttl)
	return m, nil
}

func (s *CachedStore) GetLedger(ctx context.Context, marketID uuid.UUID) (*model.ExposureLedger, error) {
	data, err := s.rdb.Get(ctx, ledgerKey(marketID)).Bytes()
	if err == nil {
		var l model.ExposureLedger
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.GetLedger(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, ledgerKey(marketID), data, s.ttl)
	}
	return l, nil
}

func (s *CachedStore) GetPriceSnapshot(ctx context.Context, marketID uuid.UUID) (oracle.PriceSnapshot, error) {
	data, err := s.rdb.Get(ctx, priceKey(marketID)).Bytes()
	if err == nil {
		var snap oracle.PriceSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return snap, nil
		}
	}

	snap, err := s.primary.GetPriceSnapshot(ctx, marketID)
	if err != nil {
		return oracle.PriceSnapshot{}, err
	}

	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, priceKey(marketID), data, s.ttl)
	}
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetResolution(ctx context.Context, marketID uuid.UUID) (oracle.ResolutionSnapshot, error) {
	return s.primary.GetResolution(ctx, marketID)
}

func (s *CachedStore) GetPosition(ctx context.Context, marketID uuid.UUID, seq uint64) (*model.Position, error) {
	return s.primary.GetPosition(ctx, marketID, seq)
}

func (s *CachedStore) ListPositionsByMarket(ctx context.Context, marketID uuid.UUID) ([]model.Position, error) {
	return s.primary.ListPositionsByMarket(ctx, marketID)
}

func (s *CachedStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return s.primary.ListPositionsByOwner(ctx, owner)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id uuid.UUID) string   { return fmt.Sprintf("market:%s", id) }
func externalKey(id string) string    { return fmt.Sprintf("external:%s", id) }
func ledgerKey(id uuid.UUID) string   { return fmt.Sprintf("ledger:%s", id) }
func priceKey(id uuid.UUID) string    { return fmt.Sprintf("price:%s", id) }
