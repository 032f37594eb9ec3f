package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/model"
	"github.com/satring/satring/internal/directory/repository"
	"go.uber.org/zap"
)

// Recovery failure kinds.
var (
	// ErrNoPendingChallenge means verification was attempted without a live
	// pending challenge for the domain.
	ErrNoPendingChallenge = errors.New("no pending challenge for domain")

	// ErrChallengeExpired means the pending challenge passed its TTL; the
	// owner must generate a new one.
	ErrChallengeExpired = errors.New("domain challenge expired; generate a new one")

	// ErrCodeMismatch means the published well-known body did not equal the
	// issued challenge code.
	ErrCodeMismatch = errors.New("published code does not match challenge")

	// ErrDomainFetchFailed means the well-known fetch errored or timed out.
	ErrDomainFetchFailed = errors.New("could not fetch domain verification file")
)

// WellKnownPath is where a domain owner publishes the challenge code.
const WellKnownPath = "/.well-known/satring-verify"

// FetchWellKnownFunc fetches the plain-text body published at the domain's
// well-known verification path. Injected so tests can stub the network.
type FetchWellKnownFunc func(ctx context.Context, domain string) (string, error)

// NewWellKnownFetcher returns the production fetcher with a bounded timeout.
func NewWellKnownFetcher(timeout time.Duration) FetchWellKnownFunc {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return func(ctx context.Context, domain string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			"https://"+domain+WellKnownPath, nil)
		if err != nil {
			return "", err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
}

// recoveryChallengeStore is the storage interface required by
// RecoveryService. *repository.DomainChallengeRepository satisfies it.
type recoveryChallengeStore interface {
	Create(ctx context.Context, ch *model.DomainChallenge) error
	GetPendingByDomain(ctx context.Context, domain string) (*model.DomainChallenge, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.ChallengeStatus) error
	ExpireStale(ctx context.Context) (int64, error)
}

// domainServiceLister looks up all listings on a domain so a replacement
// token can cover every one of them. *repository.ServiceRepository
// satisfies this interface.
type domainServiceLister interface {
	ListIDsByDomain(ctx context.Context, domain string) ([]uuid.UUID, error)
}

// tokenReplacer swaps a domain's edit token. *EditTokenService satisfies
// this interface.
type tokenReplacer interface {
	ReplaceForDomain(ctx context.Context, domain string, serviceIDs []uuid.UUID) (*model.EditToken, string, error)
}

// RecoveryService runs the domain ownership challenge/response protocol that
// re-issues a lost edit token.
type RecoveryService struct {
	store    recoveryChallengeStore
	services domainServiceLister
	tokens   tokenReplacer
	fetch    FetchWellKnownFunc
	ttl      time.Duration
	logger   *zap.Logger
}

// NewRecoveryService creates a RecoveryService. Pass nil for fetch to use
// real HTTPS fetches with a 10s timeout.
func NewRecoveryService(store recoveryChallengeStore, services domainServiceLister, tokens tokenReplacer, fetch FetchWellKnownFunc, ttl time.Duration, logger *zap.Logger) *RecoveryService {
	if fetch == nil {
		fetch = NewWellKnownFetcher(10 * time.Second)
	}
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &RecoveryService{store: store, services: services, tokens: tokens, fetch: fetch, ttl: ttl, logger: logger}
}

// GenerateChallenge returns the domain's pending challenge, creating one if
// none exists. Calling it twice within the TTL returns the same code; an
// expired challenge is retired and replaced with a fresh code.
func (s *RecoveryService) GenerateChallenge(ctx context.Context, domain string) (*model.DomainChallenge, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain must not be empty")
	}

	existing, err := s.store.GetPendingByDomain(ctx, domain)
	if err == nil {
		if time.Now().UTC().Before(existing.ExpiresAt) {
			return existing, nil
		}
		// Lazily retire the stale challenge before issuing a fresh code.
		if err := s.store.SetStatus(ctx, existing.ID, model.ChallengeExpired); err != nil &&
			!errors.Is(err, repository.ErrChallengeNotPending) {
			return nil, err
		}
	} else if !errors.Is(err, repository.ErrChallengeNotFound) {
		return nil, fmt.Errorf("get pending challenge: %w", err)
	}

	code, err := model.NewChallengeCode()
	if err != nil {
		return nil, err
	}
	ch := &model.DomainChallenge{
		Domain:    domain,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}
	if err := s.store.Create(ctx, ch); err != nil {
		if errors.Is(err, repository.ErrChallengePending) {
			// Concurrent generation won; return its challenge.
			return s.store.GetPendingByDomain(ctx, domain)
		}
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	s.logger.Info("domain challenge generated",
		zap.String("domain", domain),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	return ch, nil
}

// Verify fetches the domain's well-known verification file and, if the
// published body equals the pending challenge code, replaces the domain's
// edit token. The new plaintext token is returned exactly once; it is never
// retrievable again through this flow.
//
// On fetch failure or content mismatch the challenge transitions to failed
// and the current edit token is left untouched; the owner may regenerate.
func (s *RecoveryService) Verify(ctx context.Context, domain string) (*model.EditToken, string, error) {
	ch, err := s.store.GetPendingByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return nil, "", ErrNoPendingChallenge
		}
		return nil, "", fmt.Errorf("get pending challenge: %w", err)
	}

	if time.Now().UTC().After(ch.ExpiresAt) {
		if err := s.store.SetStatus(ctx, ch.ID, model.ChallengeExpired); err != nil &&
			!errors.Is(err, repository.ErrChallengeNotPending) {
			return nil, "", err
		}
		return nil, "", ErrChallengeExpired
	}

	body, err := s.fetch(ctx, domain)
	if err != nil {
		s.failChallenge(ctx, ch, "fetch error", err)
		return nil, "", fmt.Errorf("%w: %s", ErrDomainFetchFailed, err)
	}
	if strings.TrimSpace(body) != ch.Code {
		s.failChallenge(ctx, ch, "content mismatch", nil)
		return nil, "", ErrCodeMismatch
	}

	// Exactly one concurrent verification may conclude the challenge.
	if err := s.store.SetStatus(ctx, ch.ID, model.ChallengeVerified); err != nil {
		if errors.Is(err, repository.ErrChallengeNotPending) {
			return nil, "", ErrNoPendingChallenge
		}
		return nil, "", err
	}

	serviceIDs, err := s.services.ListIDsByDomain(ctx, domain)
	if err != nil {
		return nil, "", fmt.Errorf("list domain services: %w", err)
	}

	token, plaintext, err := s.tokens.ReplaceForDomain(ctx, domain, serviceIDs)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("domain ownership verified",
		zap.String("domain", domain),
		zap.Int("services", len(serviceIDs)),
	)
	return token, plaintext, nil
}

// ExpireStale retires pending challenges past their TTL. Safe to call from a
// background goroutine.
func (s *RecoveryService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire stale challenges: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired stale domain challenges", zap.Int64("count", n))
	}
	return n, nil
}

func (s *RecoveryService) failChallenge(ctx context.Context, ch *model.DomainChallenge, reason string, cause error) {
	if err := s.store.SetStatus(ctx, ch.ID, model.ChallengeFailed); err != nil &&
		!errors.Is(err, repository.ErrChallengeNotPending) {
		s.logger.Warn("mark challenge failed", zap.Error(err))
	}
	s.logger.Info("domain verification failed",
		zap.String("domain", ch.Domain),
		zap.String("reason", reason),
		zap.Error(cause),
	)
}
