package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/tommyeight8/wms-prod/internal/security"
	"github.com/tommyeight8/wms-prod/internal/storage"
)

// maxTokenAttempts bounds the retry loop on a refresh-token hash collision.
// Tokens carry a random jti, so a second collision in a row means something
// is badly wrong with the entropy source and we give up.
const maxTokenAttempts = 3

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	GetRefreshTokenByHash(ctx context.Context, hash string) (*storage.RefreshToken, error)
	CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	RotateToken(ctx context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newHash string, expiresAt time.Time) (uuid.UUID, error)
	RevokeTokensByHash(ctx context.Context, hash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// UserSummary is the public view of a user. It never carries the password
// hash.
type UserSummary struct {
	ID    uuid.UUID    `json:"id"`
	Email string       `json:"email"`
	Name  string       `json:"name"`
	Role  storage.Role `json:"role"`
}

// Service orchestrates login, rotate-on-use refresh, and logout over the
// credential verifier, token issuer, and refresh token store.
type Service struct {
	store  Store
	issuer *security.Issuer
	log    *slog.Logger

	Clock Clock
}

func New(store Store, issuer *security.Issuer, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		issuer: issuer,
		log:    log,
		Clock:  systemClock{},
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, *UserSummary, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Info("login rejected", "reason", "unknown email")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("lookup user: %w", err)
	}

	if user.PasswordHash == nil {
		s.log.Info("login rejected", "reason", "no password set", "user_id", user.ID)
		return nil, nil, ErrInvalidCredentials
	}
	if !security.VerifyPassword(password, *user.PasswordHash) {
		s.log.Info("login rejected", "reason", "password mismatch", "user_id", user.ID)
		return nil, nil, ErrInvalidCredentials
	}

	// Checked only after the credentials verified, so unauthenticated
	// guessers cannot learn which accounts are disabled.
	if !user.Active {
		s.log.Info("login rejected", "reason", "account disabled", "user_id", user.ID)
		return nil, nil, ErrAccountDisabled
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return pair, summarize(user), nil
}

// Refresh exchanges a valid refresh token for a new access/refresh pair and
// revokes the presented token. A token satisfies exactly one refresh call:
// the store's conditional revoke decides the winner under concurrency.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	if _, err := s.issuer.VerifyRefreshToken(rawToken); err != nil {
		s.log.Info("refresh rejected", "reason", "signature or expiry")
		return nil, ErrInvalidToken
	}

	row, err := s.store.GetRefreshTokenByHash(ctx, security.TokenDigest(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Info("refresh rejected", "reason", "unknown token")
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	now := s.Clock.Now()
	if row.RevokedAt != nil {
		s.log.Warn("refresh rejected", "reason", "token revoked", "user_id", row.UserID)
		return nil, ErrInvalidToken
	}
	if !row.ExpiresAt.After(now) {
		s.log.Info("refresh rejected", "reason", "token expired", "user_id", row.UserID)
		return nil, ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("refresh rejected", "reason", "user gone", "user_id", row.UserID)
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		// Deliberately indistinguishable from a bad token.
		s.log.Info("refresh rejected", "reason", "account disabled", "user_id", user.ID)
		return nil, ErrInvalidToken
	}

	access, err := s.issuer.AccessToken(user, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		refresh, err := s.issuer.RefreshToken(user, now)
		if err != nil {
			return nil, fmt.Errorf("sign refresh token: %w", err)
		}

		_, err = s.store.RotateToken(ctx, row.ID, user.ID, security.TokenDigest(refresh), now.Add(s.issuer.RefreshTTL()))
		if errors.Is(err, storage.ErrTokenUsed) {
			s.log.Warn("refresh rejected", "reason", "concurrent rotation", "user_id", user.ID)
			return nil, ErrInvalidToken
		}
		if errors.Is(err, storage.ErrDuplicateHash) {
			s.log.Warn("refresh token hash collision, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rotate refresh token: %w", err)
		}

		return &TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		}, nil
	}

	return nil, fmt.Errorf("rotate refresh token: exhausted %d attempts", maxTokenAttempts)
}

// Logout revokes every row matching the presented token's digest. It reports
// success whether or not the token was valid, known, or already revoked, so
// the response carries no signal about token validity.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if err := s.store.RevokeTokensByHash(ctx, security.TokenDigest(rawToken)); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}

// LogoutAll revokes every live refresh token belonging to the user.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// UserByID returns the public summary for an authenticated user.
func (s *Service) UserByID(ctx context.Context, id uuid.UUID) (*UserSummary, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return nil, ErrInvalidToken
	}
	return summarize(user), nil
}

func (s *Service) issuePair(ctx context.Context, user *storage.User) (*TokenPair, error) {
	now := s.Clock.Now()

	access, err := s.issuer.AccessToken(user, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		refresh, err := s.issuer.RefreshToken(user, now)
		if err != nil {
			return nil, fmt.Errorf("sign refresh token: %w", err)
		}

		_, err = s.store.CreateRefreshToken(ctx, user.ID, security.TokenDigest(refresh), now.Add(s.issuer.RefreshTTL()))
		if errors.Is(err, storage.ErrDuplicateHash) {
			s.log.Warn("refresh token hash collision, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store refresh token: %w", err)
		}

		return &TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		}, nil
	}

	return nil, fmt.Errorf("store refresh token: exhausted %d attempts", maxTokenAttempts)
}

func summarize(user *storage.User) *UserSummary {
	return &UserSummary{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
}
