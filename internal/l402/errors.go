package l402

import "errors"

// Verification and issuance failure kinds. Every authorization failure is
// reported with a specific kind so API consumers (including autonomous
// agents) can decide programmatically whether to retry, re-pay, or abandon.
var (
	// ErrBackendUnavailable wraps wallet gateway failures during challenge
	// issuance or payment re-confirmation. Retryable.
	ErrBackendUnavailable = errors.New("payment backend unavailable")

	// ErrMalformedCredential means the presented macaroon could not be parsed.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrInvalidSignature means the macaroon tag does not verify against the
	// keyring. Not retryable.
	ErrInvalidSignature = errors.New("invalid credential signature")

	// ErrCredentialExpired means the macaroon's validity window has elapsed.
	// The caller must request a fresh challenge.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrCredentialAlreadyUsed means a one-shot macaroon was replayed.
	ErrCredentialAlreadyUsed = errors.New("credential already used")

	// ErrOperationMismatch means the macaroon was issued for a different
	// operation or price tier than the one being invoked.
	ErrOperationMismatch = errors.New("credential operation mismatch")

	// ErrPreimageMismatch means the presented preimage does not hash to the
	// payment hash bound into the macaroon.
	ErrPreimageMismatch = errors.New("payment preimage mismatch")

	// ErrPaymentNotConfirmed means the wallet reports the bound invoice as
	// unpaid. The caller may retry once payment settles.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
)

// Kind returns a stable machine-readable name for a verification failure,
// suitable for API error bodies. Unrecognized errors map to "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return "payment_backend_unavailable"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrCredentialAlreadyUsed):
		return "credential_already_used"
	case errors.Is(err, ErrOperationMismatch):
		return "operation_mismatch"
	case errors.Is(err, ErrPreimageMismatch):
		return "preimage_mismatch"
	case errors.Is(err, ErrPaymentNotConfirmed):
		return "payment_not_confirmed"
	default:
		return "internal"
	}
}
