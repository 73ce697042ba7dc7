// Package auth authenticates epersons with a password and issues bearer tokens.
//
// Tokens are random 32-byte values returned to the client once; only their
// SHA-256 hash is stored.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
	"github.com/helixir/submission-dedup-service/internal/repository"
)

const tokenBytes = 32

// Token is an issued bearer token.
type Token struct {
	Value     string
	ExpiresAt time.Time
	Principal *domain.Principal
}

// Service issues and resolves bearer tokens.
type Service struct {
	repo   repository.AuthRepository
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewService creates an auth Service issuing tokens valid for ttl.
func NewService(repo repository.AuthRepository, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: observability.WithComponent(logger, "auth"),
	}
}

// Login checks the password of the eperson with the given email and issues a token.
// Unknown emails and wrong passwords both return domain.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	person, err := s.repo.GetEPersonByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(person.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug().Str("email", person.Email).Msg("password mismatch")
		return nil, domain.ErrUnauthorized
	}

	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	expires := s.now().Add(s.ttl)
	if err := s.repo.CreateToken(ctx, HashToken(value), person.ID, expires); err != nil {
		return nil, err
	}

	s.logger.Info().Str("eperson_id", person.ID.String()).Msg("token issued")

	return &Token{
		Value:     value,
		ExpiresAt: expires,
		Principal: principalOf(person),
	}, nil
}

// Authenticate resolves a bearer token to its principal.
// Returns domain.ErrUnauthorized for unknown or expired tokens.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	person, err := s.repo.ResolveToken(ctx, HashToken(token), s.now())
	if err != nil {
		return nil, err
	}
	return principalOf(person), nil
}

// PurgeExpired deletes expired tokens.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredTokens(ctx, s.now())
}

// HashPassword returns the bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// HashToken returns the stored form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newTokenValue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func principalOf(p *domain.EPerson) *domain.Principal {
	return &domain.Principal{ID: p.ID, Email: p.Email, IsAdmin: p.IsAdmin}
}
