package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus is the state of a domain ownership challenge.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeFailed   ChallengeStatus = "failed"
	ChallengeExpired  ChallengeStatus = "expired"
)

// DomainChallenge is one attempt to prove control of a domain by publishing
// Code at https://{domain}/.well-known/satring-verify. At most one pending
// challenge exists per domain; verified is terminal.
type DomainChallenge struct {
	ID          uuid.UUID       `json:"id"`
	Domain      string          `json:"domain"`
	Code        string          `json:"code"`
	Status      ChallengeStatus `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// NewChallengeCode mints the random code the domain owner must publish.
func NewChallengeCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate challenge code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
