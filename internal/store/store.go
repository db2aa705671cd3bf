// Package store defines the keyed-record persistence interface for the
// forward engine. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing).
//
// Layout: one config record; per market one Market + one ExposureLedger
// + one price snapshot + one resolution snapshot; positions addressed by
// (market id, counter). Open and settle commits write the ledger and the
// position together, atomically.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/cryptodj413/forward-contract-program/internal/model"
	"github.com/cryptodj413/forward-contract-program/internal/oracle"
)

// Store is the persistence interface.
type Store interface {
	// --- Config (singleton) ---

	// CreateConfig persists the one-time platform configuration.
	// Fails with ErrConfigExists if already initialized.
	CreateConfig(ctx context.Context, cfg *model.Config) error

	// GetConfig returns the platform configuration, or ErrConfigNotFound.
	GetConfig(ctx context.Context) (*model.Config, error)

	// UpdateConfig replaces the stored configuration wholesale.
	UpdateConfig(ctx context.Context, cfg *model.Config) error

	// --- Markets ---

	// CreateMarket persists a new market together with its zeroed ledger
	// and empty oracle snapshots. Fails with ErrMarketExists if a market
	// for the same external id exists.
	CreateMarket(ctx context.Context, m *model.Market, l *model.ExposureLedger) error

	// GetMarket retrieves a market by its internal id.
	GetMarket(ctx context.Context, id uuid.UUID) (*model.Market, error)

	// GetMarketByExternalID retrieves a market by its external id.
	GetMarketByExternalID(ctx context.Context, externalID string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketStatus advances a market's lifecycle status.
	UpdateMarketStatus(ctx context.Context, id uuid.UUID, status model.MarketStatus) error

	// --- Exposure ledger ---

	// GetLedger returns the exposure ledger for a market.
	GetLedger(ctx context.Context, marketID uuid.UUID) (*model.ExposureLedger, error)

	// --- Oracle snapshots ---

	// SetPriceSnapshot replaces a market's price snapshot.
	SetPriceSnapshot(ctx context.Context, snap oracle.PriceSnapshot) error

	// GetPriceSnapshot returns a market's price snapshot.
	GetPriceSnapshot(ctx context.Context, marketID uuid.UUID) (oracle.PriceSnapshot, error)

	// GetResolution returns a market's resolution snapshot.
	GetResolution(ctx context.Context, marketID uuid.UUID) (oracle.ResolutionSnapshot, error)

	// CommitResolution writes the resolution snapshot and transitions the
	// market to resolved in one atomic mutation.
	CommitResolution(ctx context.Context, marketID uuid.UUID, snap oracle.ResolutionSnapshot) error

	// --- Positions ---

	// CommitOpen atomically persists the mutated ledger and the new
	// position.
	CommitOpen(ctx context.Context, ledger *model.ExposureLedger, pos *model.Position) error

	// CommitSettle atomically persists the mutated ledger and the settled
	// position.
	CommitSettle(ctx context.Context, ledger *model.ExposureLedger, pos *model.Position) error

	// GetPosition retrieves a position by (market id, seq).
	GetPosition(ctx context.Context, marketID uuid.UUID, seq uint64) (*model.Position, error)

	// ListPositionsByMarket returns all positions for a market.
	ListPositionsByMarket(ctx context.Context, marketID uuid.UUID) ([]model.Position, error)

	// ListPositionsByOwner returns all positions held by an owner.
	ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error)
}
