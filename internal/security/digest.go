package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// TokenDigest returns the sha-256 hex digest of a raw refresh token. Only the
// digest is ever persisted; the raw token exists in memory and in transit.
func TokenDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
