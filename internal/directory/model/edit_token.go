package model

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EditToken is a possession-based capability granting edit rights over every
// listing on one domain. Only the SHA-256 hash of the token is stored; the
// plaintext is revealed exactly once, at mint or replacement.
type EditToken struct {
	ID         uuid.UUID   `json:"id"`
	Domain     string      `json:"domain"`
	TokenHash  string      `json:"-"`
	ServiceIDs []uuid.UUID `json:"service_ids"`
	Active     bool        `json:"active"`
	CreatedAt  time.Time   `json:"created_at"`
	RevokedAt  *time.Time  `json:"revoked_at,omitempty"`
}

// Matches compares a presented plaintext token against the stored hash in
// constant time.
func (t *EditToken) Matches(presented string) bool {
	return hmac.Equal([]byte(HashEditToken(presented)), []byte(t.TokenHash))
}

// HashEditToken returns the hex SHA-256 of a plaintext edit token.
func HashEditToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// NewEditTokenPlaintext mints a fresh high-entropy edit token.
func NewEditTokenPlaintext() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate edit token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
