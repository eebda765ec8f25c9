package session

import "errors"

// External error taxonomy. Distinct internal failure causes (unknown email,
// missing password hash, bad password; unknown/revoked/expired/rotated token)
// collapse onto these before leaving the service, so callers cannot probe
// which check failed. The specific cause is still logged.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidToken       = errors.New("invalid or expired token")
)
