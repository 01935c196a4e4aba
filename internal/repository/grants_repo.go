package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/side/eventful/internal/domain"
)

// GrantsRepository handles session grant persistence.
type GrantsRepository struct {
	db *sql.DB
}

// NewGrantsRepository creates a new grants repository.
func NewGrantsRepository(db *sql.DB) *GrantsRepository {
	return &GrantsRepository{db: db}
}

// Create stores a new session grant. Only the token hash is persisted.
func (r *GrantsRepository) Create(ctx context.Context, grant *domain.SessionGrant) error {
	query := `
		INSERT INTO session_grants (id, identity, purpose, token_hash, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		grant.ID, grant.Identity, grant.Purpose, grant.TokenHash,
		grant.GrantedAt, grant.ExpiresAt,
	)
	return err
}

// GetByTokenHash retrieves a grant by token hash.
func (r *GrantsRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.SessionGrant, error) {
	query := `
		SELECT id, identity, purpose, token_hash, granted_at, expires_at, revoked_at
		FROM session_grants
		WHERE token_hash = $1
	`
	grant := &domain.SessionGrant{}
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&grant.ID, &grant.Identity, &grant.Purpose, &grant.TokenHash,
		&grant.GrantedAt, &grant.ExpiresAt, &grant.RevokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGrantNotFound
	}
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeByTokenHash revokes a grant before its TTL elapses.
func (r *GrantsRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	query := `
		UPDATE session_grants
		SET revoked_at = NOW()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, tokenHash)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrGrantNotFound
	}
	return nil
}

// DeleteExpiredBefore removes grants whose lifetime ended before the
// cutoff. Called from the sweep; grants carry no audit obligation.
func (r *GrantsRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM session_grants WHERE expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
