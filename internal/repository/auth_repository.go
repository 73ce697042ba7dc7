package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// AuthRepository stores epersons and the API tokens issued to them.
type AuthRepository interface {
	// GetEPersonByEmail returns the eperson with the given email.
	// Returns domain.ErrNotFound if no eperson exists.
	GetEPersonByEmail(ctx context.Context, email string) (*domain.EPerson, error)

	// CreateToken stores the hash of an issued token.
	CreateToken(ctx context.Context, tokenHash string, epersonID uuid.UUID, expiresAt time.Time) error

	// ResolveToken returns the eperson owning an unexpired token.
	// Returns domain.ErrUnauthorized if the token is unknown or expired.
	ResolveToken(ctx context.Context, tokenHash string, now time.Time) (*domain.EPerson, error)

	// DeleteExpiredTokens removes tokens that expired before now and returns how many.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}
