package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. The positions
// map is one JSONB document per strategy; trade records are insert-only
// rows.
type LedgerStore struct {
	pool *pgxpool.Pool
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// LoadPositions returns the strategy's positions document, empty if none.
func (s *LedgerStore) LoadPositions(ctx context.Context, strategy string) (map[string]domain.Position, error) {
	const query = `SELECT positions FROM ledger_documents WHERE strategy = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, strategy).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]domain.Position{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions %s: %w", strategy, err)
	}

	positions := map[string]domain.Position{}
	if err := json.Unmarshal(raw, &positions); err != nil {
		return nil, fmt.Errorf("postgres: decode positions %s: %w", strategy, err)
	}
	return positions, nil
}

// SavePositions replaces the positions document in a single statement.
func (s *LedgerStore) SavePositions(ctx context.Context, strategy string, positions map[string]domain.Position) error {
	raw, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("postgres: encode positions: %w", err)
	}

	const query = `
		INSERT INTO ledger_documents (strategy, positions, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (strategy) DO UPDATE SET
			positions  = EXCLUDED.positions,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, strategy, raw); err != nil {
		return fmt.Errorf("postgres: save positions %s: %w", strategy, err)
	}
	return nil
}

// LoadTrades returns the strategy's trade history, oldest first.
func (s *LedgerStore) LoadTrades(ctx context.Context, strategy string) ([]domain.TradeRecord, error) {
	const query = `SELECT record FROM trade_records WHERE strategy = $1 ORDER BY closed_at, id`

	rows, err := s.pool.Query(ctx, query, strategy)
	if err != nil {
		return nil, fmt.Errorf("postgres: load trades %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		var rec domain.TradeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("postgres: decode trade: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load trades rows: %w", err)
	}
	return out, nil
}

// AppendTrade inserts a trade record. Re-inserting an existing ID is a
// no-op so history rows are never rewritten.
func (s *LedgerStore) AppendTrade(ctx context.Context, strategy string, rec domain.TradeRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres: encode trade: %w", err)
	}

	const query = `
		INSERT INTO trade_records (id, strategy, instrument, side, pnl, close_reason, closed_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, strategy, rec.Position.Instrument, string(rec.Position.Side),
		rec.PnL, rec.CloseReason, rec.ClosedAt, raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", rec.ID, err)
	}
	return nil
}
