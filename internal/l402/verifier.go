package l402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/satring/satring/internal/lnclient"
	"github.com/satring/satring/internal/secrets"
	"go.uber.org/zap"
)

// ConsumeStore tracks one-shot macaroon consumption. ConsumeOnce must be
// atomic with respect to concurrent calls for the same identifier: exactly
// one caller succeeds, every other gets ErrCredentialAlreadyUsed.
// *repository.L402Repository satisfies this interface.
type ConsumeStore interface {
	ConsumeOnce(ctx context.Context, identifier string) error
}

// Result reports what a successfully verified credential authorizes.
type Result struct {
	Operation   Operation
	PaymentHash string
	Identifier  string
}

// Verifier validates presented macaroon:preimage credentials.
type Verifier struct {
	keyring *secrets.Keyring
	gateway lnclient.Gateway // nil disables the paid re-confirmation step
	store   ConsumeStore
	logger  *zap.Logger
}

// NewVerifier creates a Verifier. Pass a nil gateway to skip re-confirming
// payment with the wallet (the preimage check alone then gates access).
func NewVerifier(keyring *secrets.Keyring, gateway lnclient.Gateway, store ConsumeStore, logger *zap.Logger) *Verifier {
	return &Verifier{keyring: keyring, gateway: gateway, store: store, logger: logger}
}

// Verify checks a presented credential against the operation actually being
// invoked. Checks run in a fixed order and each failure carries a specific
// kind; a failed check is definitive and is never retried here.
func (v *Verifier) Verify(ctx context.Context, op Operation, priceSats int64, macaroonB64, preimageHex string) (*Result, error) {
	mac, err := DecodeMacaroon(macaroonB64)
	if err != nil {
		return nil, err
	}
	caveats, err := parseCaveats(mac.Caveats)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedCredential, err)
	}

	if !v.keyring.Verify(mac.KeyID, mac.Identifier, mac.Caveats, mac.Tag) {
		return nil, ErrInvalidSignature
	}

	if time.Now().UTC().After(caveats.ExpiresAt) {
		return nil, ErrCredentialExpired
	}

	// A macaroon only admits the operation and price tier it was minted
	// for; a cheap token cannot be replayed against an expensive route.
	if caveats.Operation != op || caveats.PriceSats != priceSats {
		return nil, fmt.Errorf("%w: credential is for %s at %d sats",
			ErrOperationMismatch, caveats.Operation, caveats.PriceSats)
	}

	preimage, err := hex.DecodeString(preimageHex)
	if err != nil || len(preimage) == 0 {
		return nil, fmt.Errorf("%w: preimage is not valid hex", ErrPreimageMismatch)
	}
	sum := sha256.Sum256(preimage)
	if hex.EncodeToString(sum[:]) != caveats.PaymentHash {
		return nil, ErrPreimageMismatch
	}

	// Defense in depth against a forged preimage-hash pair: the wallet must
	// agree the invoice settled.
	if v.gateway != nil {
		paid, err := v.gateway.CheckPaid(ctx, caveats.PaymentHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, err)
		}
		if !paid {
			return nil, ErrPaymentNotConfirmed
		}
	}

	if op.OneShot() {
		if err := v.store.ConsumeOnce(ctx, mac.Identifier); err != nil {
			if errors.Is(err, ErrCredentialAlreadyUsed) {
				return nil, ErrCredentialAlreadyUsed
			}
			return nil, fmt.Errorf("consume credential: %w", err)
		}
	}

	v.logger.Info("credential verified",
		zap.String("operation", string(op)),
		zap.String("payment_hash", caveats.PaymentHash),
	)

	return &Result{
		Operation:   caveats.Operation,
		PaymentHash: caveats.PaymentHash,
		Identifier:  mac.Identifier,
	}, nil
}
