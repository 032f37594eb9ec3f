package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/satring/satring/internal/l402"
)

// L402Repository persists issued macaroon state and its invoice pairing.
// It implements l402.ChallengeStore and l402.ConsumeStore.
type L402Repository struct {
	db *pgxpool.Pool
}

// NewL402Repository creates an L402Repository.
func NewL402Repository(db *pgxpool.Pool) *L402Repository {
	return &L402Repository{db: db}
}

// SaveChallenge records the macaroon state row and its payment challenge
// pairing in one transaction, so a half-written challenge never survives.
func (r *L402Repository) SaveChallenge(ctx context.Context, rec *l402.Record, invoice string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO macaroons (identifier, operation, price_sats, payment_hash,
			key_id, used, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, false, $6, $7)`,
		rec.Identifier, string(rec.Operation), rec.PriceSats, rec.PaymentHash,
		rec.KeyID, rec.IssuedAt, rec.ExpiresAt); err != nil {
		return fmt.Errorf("insert macaroon: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payment_challenges (macaroon_identifier, payment_hash,
			invoice, price_sats, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Identifier, rec.PaymentHash, invoice, rec.PriceSats, rec.IssuedAt); err != nil {
		return fmt.Errorf("insert payment challenge: %w", err)
	}

	return tx.Commit(ctx)
}

// ConsumeOnce flips the macaroon's used flag. The row-level compare-and-set
// admits exactly one caller; a replayed or unknown identifier reports
// l402.ErrCredentialAlreadyUsed.
func (r *L402Repository) ConsumeOnce(ctx context.Context, identifier string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE macaroons SET used = true, used_at = now()
		WHERE identifier = $1 AND used = false`, identifier)
	if err != nil {
		return fmt.Errorf("consume macaroon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return l402.ErrCredentialAlreadyUsed
	}
	return nil
}

// DeleteExpired removes macaroon state and payment challenges whose expiry
// passed more than retention ago. The tokens themselves were already
// rejected by the expiry caveat; this is garbage collection only.
func (r *L402Repository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	if _, err := r.db.Exec(ctx, `
		DELETE FROM payment_challenges WHERE macaroon_identifier IN (
			SELECT identifier FROM macaroons WHERE expires_at < $1)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired payment challenges: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM macaroons WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired macaroons: %w", err)
	}
	return tag.RowsAffected(), nil
}
