// Package l402 implements the payment-gated authorization core: minting
// macaroons bound to Lightning invoices, and verifying presented
// macaroon:preimage credentials against the signing keyring and the wallet.
//
// Macaroons here are the flat single-signed form: an identifier plus a fixed
// set of first-party caveats under one chained HMAC tag. There is no
// third-party attenuation.
package l402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location is the macaroon location string embedded in every issued token.
const Location = "satring"

// Operation names a priced, L402-gated API operation.
type Operation string

const (
	OpSubmitService Operation = "submit-service"
	OpSubmitReview  Operation = "submit-review"
	OpBulkExport    Operation = "bulk-export"
	OpAnalytics     Operation = "analytics"
	OpReputation    Operation = "reputation"
)

// ParseOperation validates an operation name from a caveat.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpSubmitService, OpSubmitReview, OpBulkExport, OpAnalytics, OpReputation:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// OneShot reports whether a macaroon for this operation is consumed on first
// successful use. Mutating operations are one-shot; priced reads may be
// presented repeatedly until the macaroon expires.
func (o Operation) OneShot() bool {
	switch o {
	case OpSubmitService, OpSubmitReview:
		return true
	}
	return false
}

// Memo returns the invoice memo used when creating the invoice for this
// operation.
func (o Operation) Memo() string {
	switch o {
	case OpSubmitService:
		return "satring.com service submission"
	case OpSubmitReview:
		return "satring.com review submission"
	default:
		return "satring.com premium API access (" + string(o) + ")"
	}
}

// Caveats is the decoded first-party caveat set of a satring macaroon.
type Caveats struct {
	Operation   Operation
	PriceSats   int64
	PaymentHash string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Lines renders the caveats in their canonical signed order.
func (c Caveats) Lines() []string {
	return []string{
		"operation = " + string(c.Operation),
		"price_sats = " + strconv.FormatInt(c.PriceSats, 10),
		"payment_hash = " + c.PaymentHash,
		"issued_at = " + c.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at = " + c.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// parseCaveats rebuilds Caveats from caveat lines. Unknown lines are
// rejected: a satring macaroon carries exactly the canonical set.
func parseCaveats(lines []string) (Caveats, error) {
	var c Caveats
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, " = ")
		if !ok {
			return c, fmt.Errorf("caveat %q is not key = value", line)
		}
		if seen[key] {
			return c, fmt.Errorf("duplicate caveat %q", key)
		}
		seen[key] = true

		var err error
		switch key {
		case "operation":
			c.Operation, err = ParseOperation(value)
		case "price_sats":
			c.PriceSats, err = strconv.ParseInt(value, 10, 64)
		case "payment_hash":
			c.PaymentHash = value
		case "issued_at":
			c.IssuedAt, err = time.Parse(time.RFC3339, value)
		case "expires_at":
			c.ExpiresAt, err = time.Parse(time.RFC3339, value)
		default:
			return c, fmt.Errorf("unknown caveat %q", key)
		}
		if err != nil {
			return c, fmt.Errorf("caveat %q: %w", key, err)
		}
	}
	for _, required := range []string{"operation", "price_sats", "payment_hash", "issued_at", "expires_at"} {
		if !seen[required] {
			return c, fmt.Errorf("missing caveat %q", required)
		}
	}
	if c.PaymentHash == "" {
		return c, fmt.Errorf("empty payment_hash caveat")
	}
	return c, nil
}

// Macaroon is the wire form of a satring access token. It is opaque to
// clients; the server round-trips it through Encode/Decode.
type Macaroon struct {
	Identifier string   `json:"i"`
	KeyID      string   `json:"k"`
	Location   string   `json:"l"`
	Caveats    []string `json:"c"`
	Tag        []byte   `json:"t"`
}

// Encode serializes the macaroon as base64(JSON).
func (m *Macaroon) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal macaroon: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeMacaroon parses a base64(JSON) macaroon.
func DecodeMacaroon(s string) (*Macaroon, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %s", ErrMalformedCredential, err)
	}
	var m Macaroon
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: json: %s", ErrMalformedCredential, err)
	}
	if m.Identifier == "" || m.KeyID == "" || len(m.Tag) == 0 {
		return nil, fmt.Errorf("%w: missing identifier, key id, or tag", ErrMalformedCredential)
	}
	return &m, nil
}
