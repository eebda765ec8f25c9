package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tommyeight8/wms-prod/internal/storage"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the claim set shared by access and refresh tokens. The subject is
// the user id; the jti makes every refresh token unique even for the same
// user and issuance second.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Issuer mints and verifies signed tokens. Access and refresh tokens use
// distinct secrets so a leaked access token cannot be replayed as a refresh
// token.
type Issuer struct {
	cfg TokenConfig
}

func NewIssuer(cfg TokenConfig) *Issuer {
	return &Issuer{cfg: cfg}
}

func (i *Issuer) AccessTTL() time.Duration  { return i.cfg.AccessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

func (i *Issuer) AccessToken(user *storage.User, now time.Time) (string, error) {
	return i.sign(user, now, i.cfg.AccessTTL, i.cfg.AccessSecret)
}

func (i *Issuer) RefreshToken(user *storage.User, now time.Time) (string, error) {
	return i.sign(user, now, i.cfg.RefreshTTL, i.cfg.RefreshSecret)
}

func (i *Issuer) sign(user *storage.User, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	claims := Claims{
		Email: user.Email,
		Role:  string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    i.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyRefreshToken checks signature, structure, and expiry of a raw refresh
// token. Every failure mode collapses to ErrInvalidToken.
func (i *Issuer) VerifyRefreshToken(raw string) (*Claims, error) {
	return parse(raw, i.cfg.RefreshSecret)
}

// ParseAccessToken validates an access token against the given secret.
func ParseAccessToken(raw string, secret []byte) (*Claims, error) {
	return parse(raw, secret)
}

func parse(raw string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
