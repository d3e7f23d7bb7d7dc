package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Legs are
// stored as a JSONB array so one- and two-leg positions share a table.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, engine, coin, status, fill_source,
	origin_gap, actual_gap, spent, proceeds, payout, pnl, crosses,
	legs, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p          domain.Position
		status     string
		fillSource string
		legsJSON   []byte
		closedAt   *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Engine, &p.Coin, &status, &fillSource,
		&p.OriginGap, &p.ActualGap, &p.Spent, &p.Proceeds, &p.Payout, &p.PnL, &p.Crosses,
		&legsJSON, &p.OpenedAt, &closedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.FillSource = domain.FillSource(fillSource)
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}
	legs, err := decodeLegs(legsJSON)
	if err != nil {
		return domain.Position{}, err
	}
	p.Legs = legs
	return p, nil
}

// Upsert inserts the position or overwrites every mutable column when the
// ID already exists. Engines call it on open, on cross and on resolution.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	legs, err := encodeLegs(p.Legs)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO sim_positions (
			id, engine, coin, status, fill_source,
			origin_gap, actual_gap, spent, proceeds, payout, pnl, crosses,
			legs, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status      = EXCLUDED.status,
			fill_source = EXCLUDED.fill_source,
			actual_gap  = EXCLUDED.actual_gap,
			spent       = EXCLUDED.spent,
			proceeds    = EXCLUDED.proceeds,
			payout      = EXCLUDED.payout,
			pnl         = EXCLUDED.pnl,
			crosses     = EXCLUDED.crosses,
			legs        = EXCLUDED.legs,
			closed_at   = EXCLUDED.closed_at,
			updated_at  = NOW()`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Engine, p.Coin, string(p.Status), string(p.FillSource),
		p.OriginGap, p.ActualGap, p.Spent, p.Proceeds, p.Payout, p.PnL, p.Crosses,
		legs, p.OpenedAt, nullTime(p.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a single position. It returns domain.ErrNotFound when no
// row matches.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM sim_positions WHERE id = $1`
	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListRecent returns an engine's positions, newest first. An empty engine
// lists every engine.
func (s *PositionStore) ListRecent(ctx context.Context, engine string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listPositionsQuery(engine, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

func listPositionsQuery(engine string, opts domain.ListOpts) (string, []any) {
	q := newListQuery(`SELECT ` + positionSelectCols + ` FROM sim_positions`)
	if engine != "" {
		q.and("engine", "=", engine)
	}
	return q.window("opened_at", opts).page("opened_at", opts)
}

func encodeLegs(legs []domain.Leg) ([]byte, error) {
	if legs == nil {
		legs = []domain.Leg{}
	}
	b, err := json.Marshal(legs)
	if err != nil {
		return nil, fmt.Errorf("marshal legs: %w", err)
	}
	return b, nil
}

func decodeLegs(b []byte) ([]domain.Leg, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var legs []domain.Leg
	if err := json.Unmarshal(b, &legs); err != nil {
		return nil, fmt.Errorf("unmarshal legs: %w", err)
	}
	return legs, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
