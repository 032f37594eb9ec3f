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
	// ErrChallengeNotFound is returned when no challenge matches.
	ErrChallengeNotFound = errors.New("domain challenge not found")

	// ErrChallengePending is returned by Create when the domain already has
	// a pending challenge.
	ErrChallengePending = errors.New("domain already has a pending challenge")

	// ErrChallengeNotPending is returned by the status transitions when the
	// challenge left the pending state concurrently.
	ErrChallengeNotPending = errors.New("domain challenge is not pending")
)

// DomainChallengeRepository persists domain ownership challenges. A partial
// unique index on (domain) WHERE status = 'pending' enforces at most one
// pending challenge per domain; status transitions are compare-and-set so
// two racing verifications cannot both conclude.
type DomainChallengeRepository struct {
	db *pgxpool.Pool
}

// NewDomainChallengeRepository creates a DomainChallengeRepository.
func NewDomainChallengeRepository(db *pgxpool.Pool) *DomainChallengeRepository {
	return &DomainChallengeRepository{db: db}
}

// Create inserts a new pending challenge.
func (r *DomainChallengeRepository) Create(ctx context.Context, ch *model.DomainChallenge) error {
	ch.ID = uuid.New()
	ch.Status = model.ChallengePending
	ch.RequestedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO domain_challenges (id, domain, code, status, requested_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ch.ID, ch.Domain, ch.Code, ch.Status, ch.RequestedAt, ch.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrChallengePending
		}
		return fmt.Errorf("insert domain challenge: %w", err)
	}
	return nil
}

// GetPendingByDomain returns the domain's pending challenge.
func (r *DomainChallengeRepository) GetPendingByDomain(ctx context.Context, domain string) (*model.DomainChallenge, error) {
	ch := &model.DomainChallenge{}
	err := r.db.QueryRow(ctx, `
		SELECT id, domain, code, status, requested_at, expires_at
		FROM domain_challenges
		WHERE domain = $1 AND status = $2`,
		domain, model.ChallengePending,
	).Scan(&ch.ID, &ch.Domain, &ch.Code, &ch.Status, &ch.RequestedAt, &ch.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get pending challenge: %w", err)
	}
	return ch, nil
}

// SetStatus transitions a challenge out of pending. Exactly one concurrent
// caller can win a given transition; the rest get ErrChallengeNotPending.
func (r *DomainChallengeRepository) SetStatus(ctx context.Context, id uuid.UUID, status model.ChallengeStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE domain_challenges SET status = $2
		WHERE id = $1 AND status = $3`,
		id, status, model.ChallengePending)
	if err != nil {
		return fmt.Errorf("set challenge status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChallengeNotPending
	}
	return nil
}

// ExpireStale transitions pending challenges past their TTL to expired.
// Returns the number of challenges expired.
func (r *DomainChallengeRepository) ExpireStale(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE domain_challenges SET status = $1
		WHERE status = $2 AND expires_at < now()`,
		model.ChallengeExpired, model.ChallengePending)
	if err != nil {
		return 0, fmt.Errorf("expire stale challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
