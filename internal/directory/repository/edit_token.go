package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/satring/satring/internal/directory/model"
)

var (
	// ErrTokenNotFound is returned when no live edit token matches.
	ErrTokenNotFound = errors.New("edit token not found")

	// ErrDomainHasToken is returned by Mint when another live token already
	// exists for the domain (a concurrent mint won the race).
	ErrDomainHasToken = errors.New("domain already has a live edit token")
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// EditTokenRepository persists per-domain edit capabilities. A partial
// unique index on (domain) WHERE active guarantees at most one live token
// per domain even under concurrent mints.
type EditTokenRepository struct {
	db *pgxpool.Pool
}

// NewEditTokenRepository creates an EditTokenRepository.
func NewEditTokenRepository(db *pgxpool.Pool) *EditTokenRepository {
	return &EditTokenRepository{db: db}
}

// Mint inserts a new live token for a domain and links its first service.
// Returns ErrDomainHasToken if a live token already exists.
func (r *EditTokenRepository) Mint(ctx context.Context, t *model.EditToken, serviceID uuid.UUID) error {
	t.ID = uuid.New()
	t.Active = true
	t.CreatedAt = time.Now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO edit_tokens (id, domain, token_hash, active, created_at)
		VALUES ($1, $2, $3, true, $4)`,
		t.ID, t.Domain, t.TokenHash, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDomainHasToken
		}
		return fmt.Errorf("insert edit token: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO edit_token_services (token_id, service_id)
		VALUES ($1, $2)`, t.ID, serviceID); err != nil {
		return fmt.Errorf("link service to token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	t.ServiceIDs = []uuid.UUID{serviceID}
	return nil
}

// AddService links another listing to an existing token. Re-linking an
// already-linked service is a no-op, so concurrent submissions cannot lose
// an entry.
func (r *EditTokenRepository) AddService(ctx context.Context, tokenID, serviceID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO edit_token_services (token_id, service_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, tokenID, serviceID)
	if err != nil {
		return fmt.Errorf("add service to token: %w", err)
	}
	return nil
}

// GetLiveByDomain returns the domain's live token with its service set.
func (r *EditTokenRepository) GetLiveByDomain(ctx context.Context, domain string) (*model.EditToken, error) {
	t := &model.EditToken{}
	err := r.db.QueryRow(ctx, `
		SELECT id, domain, token_hash, active, created_at, revoked_at
		FROM edit_tokens WHERE domain = $1 AND active`, domain,
	).Scan(&t.ID, &t.Domain, &t.TokenHash, &t.Active, &t.CreatedAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get live token: %w", err)
	}
	if err := r.loadServices(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetLiveByServiceID returns the live token whose service set contains the
// given listing.
func (r *EditTokenRepository) GetLiveByServiceID(ctx context.Context, serviceID uuid.UUID) (*model.EditToken, error) {
	t := &model.EditToken{}
	err := r.db.QueryRow(ctx, `
		SELECT et.id, et.domain, et.token_hash, et.active, et.created_at, et.revoked_at
		FROM edit_tokens et
		JOIN edit_token_services ets ON ets.token_id = et.id
		WHERE ets.service_id = $1 AND et.active`, serviceID,
	).Scan(&t.ID, &t.Domain, &t.TokenHash, &t.Active, &t.CreatedAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get token by service: %w", err)
	}
	if err := r.loadServices(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace atomically revokes the domain's live token (if any) and installs a
// new one linked to serviceIDs. Used by the domain recovery flow.
func (r *EditTokenRepository) Replace(ctx context.Context, domain, newHash string, serviceIDs []uuid.UUID) (*model.EditToken, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		UPDATE edit_tokens SET active = false, revoked_at = now()
		WHERE domain = $1 AND active`, domain); err != nil {
		return nil, fmt.Errorf("revoke live token: %w", err)
	}

	t := &model.EditToken{
		ID:        uuid.New(),
		Domain:    domain,
		TokenHash: newHash,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO edit_tokens (id, domain, token_hash, active, created_at)
		VALUES ($1, $2, $3, true, $4)`,
		t.ID, t.Domain, t.TokenHash, t.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert replacement token: %w", err)
	}

	for _, sid := range serviceIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO edit_token_services (token_id, service_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, t.ID, sid); err != nil {
			return nil, fmt.Errorf("link service to replacement token: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	t.ServiceIDs = append([]uuid.UUID(nil), serviceIDs...)
	return t, nil
}

func (r *EditTokenRepository) loadServices(ctx context.Context, t *model.EditToken) error {
	rows, err := r.db.Query(ctx,
		`SELECT service_id FROM edit_token_services WHERE token_id = $1`, t.ID)
	if err != nil {
		return fmt.Errorf("load token services: %w", err)
	}
	defer rows.Close()

	t.ServiceIDs = nil
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		t.ServiceIDs = append(t.ServiceIDs, id)
	}
	return rows.Err()
}
