package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// RateEventsRepository records rate-limited actions and answers
// sliding-window counts against shared storage, so limits hold across
// replicas.
type RateEventsRepository struct {
	db *sql.DB
}

// NewRateEventsRepository creates a new rate events repository.
func NewRateEventsRepository(db *sql.DB) *RateEventsRepository {
	return &RateEventsRepository{db: db}
}

// CountAndRecord appends one event for (key, action) and returns the
// event count inside the window including the new event. A transaction-
// scoped advisory lock on (key, action) serializes concurrent callers,
// so a burst cannot observe a stale count and slip past the limit.
func (r *RateEventsRepository) CountAndRecord(ctx context.Context, key, action string, window time.Duration) (int, error) {
	var count int
	err := Tx(ctx, r.db, func(tx *sql.Tx) error {
		lock := `SELECT pg_advisory_xact_lock(hashtext($1))`
		if _, err := tx.ExecContext(ctx, lock, key+"\x00"+action); err != nil {
			return err
		}

		insert := `
			INSERT INTO rate_events (id, key, action, occurred_at)
			VALUES ($1, $2, $3, NOW())
		`
		if _, err := tx.ExecContext(ctx, insert, uuid.New(), key, action); err != nil {
			return err
		}

		countQuery := `
			SELECT COUNT(*)
			FROM rate_events
			WHERE key = $1 AND action = $2 AND occurred_at > NOW() - make_interval(secs => $3)
		`
		return tx.QueryRowContext(ctx, countQuery, key, action, window.Seconds()).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PruneBefore deletes events older than the cutoff. Counters only ever
// reset by window expiry; pruning anything younger than the widest
// window would clear them early.
func (r *RateEventsRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rate_events WHERE occurred_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
