package l402

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/satring/satring/internal/lnclient"
	"github.com/satring/satring/internal/secrets"
	"go.uber.org/zap"
)

// Record is the persisted server-side state of an issued macaroon. The
// signature makes the token self-authenticating; the record exists to track
// single-use consumption and to pair the macaroon with its invoice.
type Record struct {
	Identifier  string
	Operation   Operation
	PriceSats   int64
	PaymentHash string
	KeyID       string
	Used        bool
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Challenge is a payment challenge returned to an unauthenticated caller:
// the macaroon to hold and the invoice to pay.
type Challenge struct {
	Identifier  string
	Macaroon    string
	Invoice     string
	PaymentHash string
	PriceSats   int64
	Operation   Operation
}

// ChallengeStore persists issued macaroon state. *repository.L402Repository
// satisfies this interface.
type ChallengeStore interface {
	// SaveChallenge durably records the macaroon state and its invoice
	// pairing before the challenge is handed to the caller.
	SaveChallenge(ctx context.Context, rec *Record, invoice string) error
}

// Issuer mints payment challenges: one macaroon bound to one fresh invoice.
type Issuer struct {
	keyring *secrets.Keyring
	gateway lnclient.Gateway
	store   ChallengeStore
	ttl     time.Duration
	logger  *zap.Logger
}

// NewIssuer creates an Issuer. ttl is the macaroon validity window.
func NewIssuer(keyring *secrets.Keyring, gateway lnclient.Gateway, store ChallengeStore, ttl time.Duration, logger *zap.Logger) *Issuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Issuer{keyring: keyring, gateway: gateway, store: store, ttl: ttl, logger: logger}
}

// IssueChallenge creates an invoice for priceSats, mints a macaroon scoped
// to op and bound to the invoice's payment hash, persists both, and returns
// the challenge. If the wallet is unreachable no macaroon is minted and no
// state is persisted.
func (i *Issuer) IssueChallenge(ctx context.Context, op Operation, priceSats int64) (*Challenge, error) {
	if priceSats <= 0 {
		return nil, fmt.Errorf("price must be positive, got %d", priceSats)
	}

	inv, err := i.gateway.CreateInvoice(ctx, priceSats, op.Memo())
	if err != nil {
		if errors.Is(err, lnclient.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, err)
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	now := time.Now().UTC()
	rec := &Record{
		Identifier:  uuid.NewString(),
		Operation:   op,
		PriceSats:   priceSats,
		PaymentHash: inv.PaymentHash,
		KeyID:       i.keyring.CurrentKeyID(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(i.ttl),
	}

	caveats := Caveats{
		Operation:   op,
		PriceSats:   priceSats,
		PaymentHash: inv.PaymentHash,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
	}
	tag, err := i.keyring.Sign(rec.KeyID, rec.Identifier, caveats.Lines())
	if err != nil {
		return nil, fmt.Errorf("sign macaroon: %w", err)
	}

	mac := &Macaroon{
		Identifier: rec.Identifier,
		KeyID:      rec.KeyID,
		Location:   Location,
		Caveats:    caveats.Lines(),
		Tag:        tag,
	}
	encoded, err := mac.Encode()
	if err != nil {
		return nil, err
	}

	if err := i.store.SaveChallenge(ctx, rec, inv.PaymentRequest); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	i.logger.Info("payment challenge issued",
		zap.String("operation", string(op)),
		zap.Int64("price_sats", priceSats),
		zap.String("payment_hash", inv.PaymentHash),
		zap.Time("expires_at", rec.ExpiresAt),
	)

	return &Challenge{
		Identifier:  rec.Identifier,
		Macaroon:    encoded,
		Invoice:     inv.PaymentRequest,
		PaymentHash: inv.PaymentHash,
		PriceSats:   priceSats,
		Operation:   op,
	}, nil
}
