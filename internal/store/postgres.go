package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptodj413/forward-contract-program/internal/model"
	"github.com/cryptodj413/forward-contract-program/internal/oracle"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All uint64 quantities are stored as NUMERIC and round-tripped as text
// for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func u64s(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Config ---

func (s *PostgresStore) CreateConfig(ctx context.Context, cfg *model.Config) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO config (one, id, admin, collateral_asset, alpha, beta, max_exposure, min_price, max_price, created_at, updated_at)
		 VALUES (1, $1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
		 ON CONFLICT (one) DO NOTHING`,
		cfg.ID, cfg.Admin, cfg.CollateralAsset,
		u64s(cfg.Curve.Alpha), u64s(cfg.Curve.Beta), u64s(cfg.Curve.MaxExposure),
		u64s(cfg.Curve.MinPrice), u64s(cfg.Curve.MaxPrice),
		cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConfigExists
	}
	return nil
}

func (s *PostgresStore) GetConfig(ctx context.Context) (*model.Config, error) {
	var cfg model.Config
	var alpha, beta, maxExp, minP, maxP string

	err := s.pool.QueryRow(ctx,
		`SELECT id, admin, collateral_asset,
		        alpha::TEXT, beta::TEXT, max_exposure::TEXT, min_price::TEXT, max_price::TEXT,
		        created_at, updated_at
		 FROM config WHERE one = 1`).
		Scan(&cfg.ID, &cfg.Admin, &cfg.CollateralAsset,
			&alpha, &beta, &maxExp, &minP, &maxP,
			&cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	if cfg.Curve, err = parseCurve(alpha, beta, maxExp, minP, maxP); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE config
		 SET admin = $1, collateral_asset = $2,
		     alpha = $3::NUMERIC, beta = $4::NUMERIC, max_exposure = $5::NUMERIC,
		     min_price = $6::NUMERIC, max_price = $7::NUMERIC, updated_at = $8
		 WHERE one = 1`,
		cfg.Admin, cfg.CollateralAsset,
		u64s(cfg.Curve.Alpha), u64s(cfg.Curve.Beta), u64s(cfg.Curve.MaxExposure),
		u64s(cfg.Curve.MinPrice), u64s(cfg.Curve.MaxPrice),
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConfigNotFound
	}
	return nil
}

func parseCurve(alpha, beta, maxExp, minP, maxP string) (model.CurveParams, error) {
	var c model.CurveParams
	var err error
	if c.Alpha, err = parseU64(alpha); err != nil {
		return c, err
	}
	if c.Beta, err = parseU64(beta); err != nil {
		return c, err
	}
	if c.MaxExposure, err = parseU64(maxExp); err != nil {
		return c, err
	}
	if c.MinPrice, err = parseU64(minP); err != nil {
		return c, err
	}
	if c.MaxPrice, err = parseU64(maxP); err != nil {
		return c, err
	}
	return c, nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, l *model.ExposureLedger) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create market: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, external_id, resolution_time, max_total_exposure, max_long_share, max_short_share, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		m.ID, m.ExternalID, m.ResolutionTime,
		u64s(m.RiskLimits.MaxTotalExposure), u64s(m.RiskLimits.MaxLongShare), u64s(m.RiskLimits.MaxShortShare),
		m.Status, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.ErrMarketExists
	}
	if err != nil {
		return fmt.Errorf("create market: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO exposure_ledgers (market_id, total_long_exposure, total_short_exposure, pool_collateral, position_counter)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)`,
		l.MarketID, u64s(l.TotalLongExposure), u64s(l.TotalShortExposure),
		u64s(l.PoolCollateral), u64s(l.PositionCounter),
	)
	if err != nil {
		return fmt.Errorf("create market: ledger: %w", err)
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO price_snapshots (market_id, price, exponent, observed_at) VALUES ($1, 0, 0, NULL)`,
		m.ID,
	); err != nil {
		return fmt.Errorf("create market: price snapshot: %w", err)
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO resolution_snapshots (market_id, outcome, resolved_at) VALUES ($1, NULL, NULL)`,
		m.ID,
	); err != nil {
		return fmt.Errorf("create market: resolution snapshot: %w", err)
	}

	return tx.Commit(ctx)
}

const marketColumns = `id, external_id, resolution_time,
       max_total_exposure::TEXT, max_long_share::TEXT, max_short_share::TEXT,
       status, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var maxTotal, maxLong, maxShort string

	err := row.Scan(&m.ID, &m.ExternalID, &m.ResolutionTime,
		&maxTotal, &maxLong, &maxShort,
		&m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}

	if m.RiskLimits.MaxTotalExposure, err = parseU64(maxTotal); err != nil {
		return nil, err
	}
	if m.RiskLimits.MaxLongShare, err = parseU64(maxLong); err != nil {
		return nil, err
	}
	if m.RiskLimits.MaxShortShare, err = parseU64(maxShort); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id uuid.UUID) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
}

func (s *PostgresStore) GetMarketByExternalID(ctx context.Context, externalID string) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE external_id = $1`, externalID))
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketStatus(ctx context.Context, id uuid.UUID, status model.MarketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update market status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMarketNotFound
	}
	return nil
}

// --- Exposure ledger ---

func (s *PostgresStore) GetLedger(ctx context.Context, marketID uuid.UUID) (*model.ExposureLedger, error) {
	var l model.ExposureLedger
	var long, short, pool, counter string

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, total_long_exposure::TEXT, total_short_exposure::TEXT,
		        pool_collateral::TEXT, position_counter::TEXT
		 FROM exposure_ledgers WHERE market_id = $1`, marketID).
		Scan(&l.MarketID, &long, &short, &pool, &counter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", marketID, err)
	}

	if l.TotalLongExposure, err = parseU64(long); err != nil {
		return nil, err
	}
	if l.TotalShortExposure, err = parseU64(short); err != nil {
		return nil, err
	}
	if l.PoolCollateral, err = parseU64(pool); err != nil {
		return nil, err
	}
	if l.PositionCounter, err = parseU64(counter); err != nil {
		return nil, err
	}
	return &l, nil
}

func updateLedger(ctx context.Context, tx pgx.Tx, l *model.ExposureLedger) error {
	_, err := tx.Exec(ctx,
		`UPDATE exposure_ledgers
		 SET total_long_exposure = $2::NUMERIC, total_short_exposure = $3::NUMERIC,
		     pool_collateral = $4::NUMERIC, position_counter = $5::NUMERIC
		 WHERE market_id = $1`,
		l.MarketID, u64s(l.TotalLongExposure), u64s(l.TotalShortExposure),
		u64s(l.PoolCollateral), u64s(l.PositionCounter),
	)
	return err
}

// --- Oracle snapshots ---

func (s *PostgresStore) SetPriceSnapshot(ctx context.Context, snap oracle.PriceSnapshot) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_snapshots
		 SET price = $2::NUMERIC, exponent = $3, observed_at = $4
		 WHERE market_id = $1`,
		snap.MarketID, u64s(snap.Price), snap.Exponent, snap.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("set price snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMarketNotFound
	}
	return nil
}

func (s *PostgresStore) GetPriceSnapshot(ctx context.Context, marketID uuid.UUID) (oracle.PriceSnapshot, error) {
	var snap oracle.PriceSnapshot
	var price string
	var observedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, price::TEXT, exponent, observed_at
		 FROM price_snapshots WHERE market_id = $1`, marketID).
		Scan(&snap.MarketID, &price, &snap.Exponent, &observedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return oracle.PriceSnapshot{}, model.ErrMarketNotFound
	}
	if err != nil {
		return oracle.PriceSnapshot{}, fmt.Errorf("get price snapshot %s: %w", marketID, err)
	}

	if snap.Price, err = parseU64(price); err != nil {
		return oracle.PriceSnapshot{}, err
	}
	if observedAt != nil {
		snap.ObservedAt = *observedAt
	}
	return snap, nil
}

func (s *PostgresStore) GetResolution(ctx context.Context, marketID uuid.UUID) (oracle.ResolutionSnapshot, error) {
	var snap oracle.ResolutionSnapshot
	var outcome *int16

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, outcome, resolved_at
		 FROM resolution_snapshots WHERE market_id = $1`, marketID).
		Scan(&snap.MarketID, &outcome, &snap.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return oracle.ResolutionSnapshot{}, model.ErrMarketNotFound
	}
	if err != nil {
		return oracle.ResolutionSnapshot{}, fmt.Errorf("get resolution %s: %w", marketID, err)
	}

	if outcome != nil {
		tag := uint8(*outcome)
		snap.Outcome = &tag
	}
	return snap, nil
}

func (s *PostgresStore) CommitResolution(ctx context.Context, marketID uuid.UUID, snap oracle.ResolutionSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit resolution: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var outcome *int16
	if snap.Outcome != nil {
		v := int16(*snap.Outcome)
		outcome = &v
	}
	if _, err = tx.Exec(ctx,
		`UPDATE resolution_snapshots SET outcome = $2, resolved_at = $3 WHERE market_id = $1`,
		marketID, outcome, snap.ResolvedAt,
	); err != nil {
		return fmt.Errorf("commit resolution: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1`, marketID, model.MarketResolved)
	if err != nil {
		return fmt.Errorf("commit resolution: status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrMarketNotFound
	}

	return tx.Commit(ctx)
}

// --- Positions ---

func (s *PostgresStore) CommitOpen(ctx context.Context, ledger *model.ExposureLedger, pos *model.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit open: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err = updateLedger(ctx, tx, ledger); err != nil {
		return fmt.Errorf("commit open: ledger: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO positions (market_id, seq, owner, direction, size, forward_price, collateral_locked, premium_paid, status, opened_at)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		pos.MarketID, u64s(pos.Seq), pos.Owner, pos.Direction,
		u64s(pos.Size), u64s(pos.ForwardPrice), u64s(pos.CollateralLocked),
		pos.PremiumPaid, pos.Status, pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("commit open: position: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CommitSettle(ctx context.Context, ledger *model.ExposureLedger, pos *model.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit settle: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err = updateLedger(ctx, tx, ledger); err != nil {
		return fmt.Errorf("commit settle: ledger: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE positions SET status = $3, settled_at = $4
		 WHERE market_id = $1 AND seq = $2::NUMERIC`,
		pos.MarketID, u64s(pos.Seq), pos.Status, pos.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("commit settle: position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPositionNotFound
	}

	return tx.Commit(ctx)
}

const positionColumns = `market_id, seq::TEXT, owner, direction,
       size::TEXT, forward_price::TEXT, collateral_locked::TEXT,
       premium_paid, status, opened_at, settled_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var seq, size, fwd, coll string

	err := row.Scan(&p.MarketID, &seq, &p.Owner, &p.Direction,
		&size, &fwd, &coll,
		&p.PremiumPaid, &p.Status, &p.OpenedAt, &p.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}

	if p.Seq, err = parseU64(seq); err != nil {
		return nil, err
	}
	if p.Size, err = parseU64(size); err != nil {
		return nil, err
	}
	if p.ForwardPrice, err = parseU64(fwd); err != nil {
		return nil, err
	}
	if p.CollateralLocked, err = parseU64(coll); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, marketID uuid.UUID, seq uint64) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 AND seq = $2::NUMERIC`,
		marketID, u64s(seq)))
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID uuid.UUID) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPositions(rows)
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE owner = $1 ORDER BY opened_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}
