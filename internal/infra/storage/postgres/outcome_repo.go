package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/powermon/internal/core/domain"
)

// OutcomeRepo archives poll outcomes in PostgreSQL.
type OutcomeRepo struct {
	db *DB
}

// NewOutcomeRepo creates a new PostgreSQL outcome repository.
func NewOutcomeRepo(db *DB) *OutcomeRepo {
	return &OutcomeRepo{db: db}
}

type outcomeRow struct {
	ID           string         `db:"id"`
	PolledAt     time.Time      `db:"polled_at"`
	DurationMS   int64          `db:"duration_ms"`
	Success      bool           `db:"success"`
	DeviceError  string         `db:"device_error"`
	StoreError   string         `db:"store_error"`
	BusError     string         `db:"bus_error"`
	PushedStore  bool           `db:"pushed_store"`
	PublishedBus bool           `db:"published_bus"`
	Snapshot     sql.NullString `db:"snapshot"`
}

// Append inserts one outcome.
func (r *OutcomeRepo) Append(ctx context.Context, o *domain.PollOutcome) error {
	var snapshot sql.NullString
	if o.Snapshot != nil {
		data, err := json.Marshal(o.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO poll_outcomes
			(id, polled_at, duration_ms, success, device_error, store_error,
			 bus_error, pushed_store, published_bus, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.Timestamp, o.Duration.Milliseconds(), o.Success(),
		o.DeviceError, o.StoreError, o.BusError,
		o.PushedStore, o.PublishedBus, snapshot)
	if err != nil {
		return fmt.Errorf("failed to insert poll outcome: %w", err)
	}
	return nil
}

// Recent returns the newest outcomes, most recent first.
func (r *OutcomeRepo) Recent(ctx context.Context, limit int) ([]*domain.PollOutcome, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []outcomeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, polled_at, duration_ms, success, device_error, store_error,
		       bus_error, pushed_store, published_bus, snapshot
		FROM poll_outcomes
		ORDER BY polled_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query poll outcomes: %w", err)
	}

	outcomes := make([]*domain.PollOutcome, 0, len(rows))
	for _, row := range rows {
		o := &domain.PollOutcome{
			ID:           row.ID,
			Timestamp:    row.PolledAt,
			Duration:     time.Duration(row.DurationMS) * time.Millisecond,
			DeviceError:  row.DeviceError,
			StoreError:   row.StoreError,
			BusError:     row.BusError,
			PushedStore:  row.PushedStore,
			PublishedBus: row.PublishedBus,
		}
		if row.Snapshot.Valid {
			var snap domain.Snapshot
			if err := json.Unmarshal([]byte(row.Snapshot.String), &snap); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot: %w", err)
			}
			o.Snapshot = &snap
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}
