package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/side/eventful/internal/domain"
)

// VerificationsRepository persists verification records. All state
// transitions happen through conditional updates inside transactions so
// concurrent writers serialize per (identity, purpose).
type VerificationsRepository struct {
	db *sql.DB
}

// NewVerificationsRepository creates a new verifications repository.
func NewVerificationsRepository(db *sql.DB) *VerificationsRepository {
	return &VerificationsRepository{db: db}
}

const verificationColumns = `id, identity, purpose, code_hash, issued_at, expires_at, attempt_count, max_attempts, state, version, consumed_at`

func scanVerification(row interface{ Scan(...any) error }) (*domain.VerificationRecord, error) {
	rec := &domain.VerificationRecord{}
	err := row.Scan(
		&rec.ID, &rec.Identity, &rec.Purpose, &rec.CodeHash,
		&rec.IssuedAt, &rec.ExpiresAt, &rec.AttemptCount, &rec.MaxAttempts,
		&rec.State, &rec.Version, &rec.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put atomically invalidates any Pending record for the same
// (identity, purpose) and inserts the new record as Pending. A partial
// unique index on pending records backs the at-most-one-Pending
// invariant; violations surface as domain.ErrConflict so the caller can
// retry.
func (r *VerificationsRepository) Put(ctx context.Context, rec *domain.VerificationRecord) error {
	err := Tx(ctx, r.db, func(tx *sql.Tx) error {
		supersede := `
			UPDATE verification_codes
			SET state = 'invalidated', version = version + 1
			WHERE identity = $1 AND purpose = $2 AND state = 'pending'
		`
		if _, err := tx.ExecContext(ctx, supersede, rec.Identity, rec.Purpose); err != nil {
			return fmt.Errorf("failed to supersede pending record: %w", err)
		}

		insert := `
			INSERT INTO verification_codes
				(` + verificationColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err := tx.ExecContext(ctx, insert,
			rec.ID, rec.Identity, rec.Purpose, rec.CodeHash,
			rec.IssuedAt, rec.ExpiresAt, rec.AttemptCount, rec.MaxAttempts,
			rec.State, rec.Version, rec.ConsumedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert verification record: %w", err)
		}
		return nil
	})
	if err != nil {
		if isRetryable(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// LookupPending returns the Pending record for (identity, purpose).
// Expiry is enforced lazily against the wall clock: a Pending record
// past its deadline is transitioned to Expired and reported as not
// found, independent of sweep timing.
func (r *VerificationsRepository) LookupPending(ctx context.Context, identity string, purpose domain.Purpose) (*domain.VerificationRecord, error) {
	query := `
		SELECT ` + verificationColumns + `
		FROM verification_codes
		WHERE identity = $1 AND purpose = $2 AND state = 'pending'
	`
	rec, err := scanVerification(r.db.QueryRowContext(ctx, query, identity, purpose))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}

	if rec.ExpiredAt(time.Now()) {
		_ = r.expire(ctx, rec.ID)
		return nil, domain.ErrCodeNotFound
	}
	return rec, nil
}

func (r *VerificationsRepository) expire(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE verification_codes
		SET state = 'expired', version = version + 1
		WHERE id = $1 AND state = 'pending'
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// TryConsume is the linearization point for redemption. It locks the
// latest record for (identity, purpose), re-checks expiry against the
// wall clock, compares the supplied code, and applies exactly one state
// transition before committing. Concurrent attempts against the same
// record serialize on the row lock, so attempt increments are never
// lost and at most one attempt observes ConsumeSuccess.
func (r *VerificationsRepository) TryConsume(ctx context.Context, identity string, purpose domain.Purpose, suppliedCode string) (domain.ConsumeStatus, *domain.VerificationRecord, error) {
	var status domain.ConsumeStatus
	var rec *domain.VerificationRecord

	err := Tx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			SELECT ` + verificationColumns + `
			FROM verification_codes
			WHERE identity = $1 AND purpose = $2
			ORDER BY issued_at DESC
			LIMIT 1
			FOR UPDATE
		`
		var err error
		rec, err = scanVerification(tx.QueryRowContext(ctx, query, identity, purpose))
		if errors.Is(err, sql.ErrNoRows) {
			status = domain.ConsumeNotFound
			rec = nil
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		switch rec.State {
		case domain.StateConsumed:
			// Already redeemed; concurrent losers land here.
			status = domain.ConsumeNotFound
			return nil
		case domain.StateExpired:
			status = domain.ConsumeExpired
			return nil
		case domain.StateInvalidated:
			if rec.AttemptCount >= rec.MaxAttempts {
				status = domain.ConsumeAttemptsExceeded
			} else {
				// Superseded by a newer issuance that has since gone away.
				status = domain.ConsumeNotFound
			}
			return nil
		}

		if rec.ExpiredAt(now) {
			status = domain.ConsumeExpired
			return r.transitionTx(ctx, tx, rec, domain.StateExpired, rec.AttemptCount, nil)
		}

		attempts := rec.AttemptCount + 1
		match := bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(suppliedCode)) == nil

		if match {
			status = domain.ConsumeSuccess
			return r.transitionTx(ctx, tx, rec, domain.StateConsumed, attempts, &now)
		}

		if attempts >= rec.MaxAttempts {
			status = domain.ConsumeAttemptsExceeded
			return r.transitionTx(ctx, tx, rec, domain.StateInvalidated, attempts, nil)
		}

		status = domain.ConsumeWrongCode
		return r.incrementAttemptsTx(ctx, tx, rec, attempts)
	})
	if err != nil {
		if isRetryable(err) {
			return 0, nil, domain.ErrConflict
		}
		return 0, nil, err
	}
	return status, rec, nil
}

// transitionTx applies a terminal transition with an optimistic version
// check. Zero rows affected means another writer won the race, which the
// row lock should have prevented; it is surfaced as a conflict.
func (r *VerificationsRepository) transitionTx(ctx context.Context, tx *sql.Tx, rec *domain.VerificationRecord, to domain.RecordState, attempts int, consumedAt *time.Time) error {
	if !rec.State.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s: %w", rec.State, to, domain.ErrConflict)
	}

	query := `
		UPDATE verification_codes
		SET state = $1, attempt_count = $2, consumed_at = $3, version = version + 1
		WHERE id = $4 AND version = $5 AND state = 'pending'
	`
	result, err := tx.ExecContext(ctx, query, to, attempts, consumedAt, rec.ID, rec.Version)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConflict
	}

	rec.State = to
	rec.AttemptCount = attempts
	rec.ConsumedAt = consumedAt
	rec.Version++
	return nil
}

func (r *VerificationsRepository) incrementAttemptsTx(ctx context.Context, tx *sql.Tx, rec *domain.VerificationRecord, attempts int) error {
	query := `
		UPDATE verification_codes
		SET attempt_count = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND state = 'pending'
	`
	result, err := tx.ExecContext(ctx, query, attempts, rec.ID, rec.Version)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConflict
	}

	rec.AttemptCount = attempts
	rec.Version++
	return nil
}

// RecentCodeHashes returns the code hashes issued to an identity since
// the cutoff, across purposes. The issuance path compares freshly
// generated codes against these to keep codes from repeating inside the
// reuse window.
func (r *VerificationsRepository) RecentCodeHashes(ctx context.Context, identity string, since time.Time) ([]string, error) {
	query := `
		SELECT code_hash
		FROM verification_codes
		WHERE identity = $1 AND issued_at >= $2
	`
	rows, err := r.db.QueryContext(ctx, query, identity, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// SweepExpired transitions Pending records past their deadline to
// Expired. Purely storage reclamation; correctness never depends on it
// because reads re-check expiry themselves.
func (r *VerificationsRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE verification_codes
		SET state = 'expired', version = version + 1
		WHERE state = 'pending' AND expires_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// isRetryable reports whether the error is storage contention the
// caller may retry: unique violations from the pending partial index,
// serialization failures, deadlocks.
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return true
		}
	}
	return errors.Is(err, domain.ErrConflict)
}
