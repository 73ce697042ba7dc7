package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// Compile-time interface verification.
var _ AuthRepository = (*PgAuthRepository)(nil)

// PgAuthRepository is a PostgreSQL implementation of AuthRepository.
type PgAuthRepository struct {
	db DBTX
}

// NewPgAuthRepository creates a new PostgreSQL auth repository.
func NewPgAuthRepository(db DBTX) *PgAuthRepository {
	return &PgAuthRepository{db: db}
}

// GetEPersonByEmail returns the eperson with the given email.
func (r *PgAuthRepository) GetEPersonByEmail(ctx context.Context, email string) (*domain.EPerson, error) {
	query := `
		SELECT id, email, password_hash, is_admin
		FROM epersons
		WHERE lower(email) = lower($1)`

	var p domain.EPerson
	err := r.db.QueryRow(ctx, query, email).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.IsAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("eperson", email)
		}
		return nil, fmt.Errorf("failed to get eperson: %w", err)
	}
	return &p, nil
}

// CreateToken stores the hash of an issued token.
func (r *PgAuthRepository) CreateToken(ctx context.Context, tokenHash string, epersonID uuid.UUID, expiresAt time.Time) error {
	query := `
		INSERT INTO api_tokens (token_hash, eperson_id, expires_at)
		VALUES ($1, $2, $3)`

	if _, err := r.db.Exec(ctx, query, tokenHash, epersonID, expiresAt); err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return domain.NewNotFoundError("eperson", epersonID.String())
		}
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// ResolveToken returns the eperson owning an unexpired token.
func (r *PgAuthRepository) ResolveToken(ctx context.Context, tokenHash string, now time.Time) (*domain.EPerson, error) {
	query := `
		SELECT e.id, e.email, e.password_hash, e.is_admin
		FROM api_tokens t
		JOIN epersons e ON e.id = t.eperson_id
		WHERE t.token_hash = $1 AND t.expires_at > $2`

	var p domain.EPerson
	err := r.db.QueryRow(ctx, query, tokenHash, now).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.IsAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	return &p, nil
}

// DeleteExpiredTokens removes tokens that expired before now.
func (r *PgAuthRepository) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM api_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected(), nil
}
