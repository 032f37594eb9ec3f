package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/model"
	"github.com/satring/satring/internal/directory/repository"
	"go.uber.org/zap"
)

// ErrTokenDomainMismatch is returned when a presented edit token does not
// match the live token of the listing's domain. Tokens are not transferable
// across domains.
var ErrTokenDomainMismatch = errors.New("edit token does not match service domain")

// editTokenStore is the storage interface required by EditTokenService.
// *repository.EditTokenRepository satisfies this interface.
type editTokenStore interface {
	Mint(ctx context.Context, t *model.EditToken, serviceID uuid.UUID) error
	AddService(ctx context.Context, tokenID, serviceID uuid.UUID) error
	GetLiveByDomain(ctx context.Context, domain string) (*model.EditToken, error)
	GetLiveByServiceID(ctx context.Context, serviceID uuid.UUID) (*model.EditToken, error)
	Replace(ctx context.Context, domain, newHash string, serviceIDs []uuid.UUID) (*model.EditToken, error)
}

// EditTokenService manages the one-live-token-per-domain capability model:
// every listing on a domain is editable with the same token.
type EditTokenService struct {
	store  editTokenStore
	logger *zap.Logger
}

// NewEditTokenService creates an EditTokenService.
func NewEditTokenService(store editTokenStore, logger *zap.Logger) *EditTokenService {
	return &EditTokenService{store: store, logger: logger}
}

// IssueOrExtend links a newly submitted listing to its domain's edit token,
// minting one if the domain is new. The returned plaintext is non-empty only
// when a token was freshly minted; an existing token is never re-revealed.
//
// A presented token must match the domain's live token; otherwise the
// submission is rejected with ErrTokenDomainMismatch.
func (s *EditTokenService) IssueOrExtend(ctx context.Context, domain string, serviceID uuid.UUID, presented string) (*model.EditToken, string, error) {
	live, err := s.store.GetLiveByDomain(ctx, domain)
	switch {
	case err == nil:
		if presented != "" && !live.Matches(presented) {
			return nil, "", ErrTokenDomainMismatch
		}
		return s.extend(ctx, live, serviceID)

	case errors.Is(err, repository.ErrTokenNotFound):
		if presented != "" {
			return nil, "", ErrTokenDomainMismatch
		}
		plaintext, err := model.NewEditTokenPlaintext()
		if err != nil {
			return nil, "", err
		}
		t := &model.EditToken{Domain: domain, TokenHash: model.HashEditToken(plaintext)}
		if err := s.store.Mint(ctx, t, serviceID); err != nil {
			if errors.Is(err, repository.ErrDomainHasToken) {
				// A concurrent submission minted first; join its token.
				winner, err := s.store.GetLiveByDomain(ctx, domain)
				if err != nil {
					return nil, "", fmt.Errorf("load concurrent token: %w", err)
				}
				return s.extend(ctx, winner, serviceID)
			}
			return nil, "", fmt.Errorf("mint edit token: %w", err)
		}
		s.logger.Info("edit token minted",
			zap.String("domain", domain),
			zap.String("service_id", serviceID.String()),
		)
		return t, plaintext, nil

	default:
		return nil, "", fmt.Errorf("lookup edit token: %w", err)
	}
}

func (s *EditTokenService) extend(ctx context.Context, t *model.EditToken, serviceID uuid.UUID) (*model.EditToken, string, error) {
	if err := s.store.AddService(ctx, t.ID, serviceID); err != nil {
		return nil, "", err
	}
	for _, id := range t.ServiceIDs {
		if id == serviceID {
			return t, "", nil
		}
	}
	t.ServiceIDs = append(t.ServiceIDs, serviceID)
	s.logger.Info("edit token extended",
		zap.String("domain", t.Domain),
		zap.String("service_id", serviceID.String()),
	)
	return t, "", nil
}

// Authorize reports whether presented is the live edit token covering the
// given listing. Unknown listings and revoked tokens simply report false.
func (s *EditTokenService) Authorize(ctx context.Context, serviceID uuid.UUID, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}
	t, err := s.store.GetLiveByServiceID(ctx, serviceID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup edit token: %w", err)
	}
	return t.Matches(presented), nil
}

// ReplaceForDomain revokes the domain's live token and mints a replacement
// covering serviceIDs. The new plaintext is returned exactly once.
func (s *EditTokenService) ReplaceForDomain(ctx context.Context, domain string, serviceIDs []uuid.UUID) (*model.EditToken, string, error) {
	plaintext, err := model.NewEditTokenPlaintext()
	if err != nil {
		return nil, "", err
	}
	t, err := s.store.Replace(ctx, domain, model.HashEditToken(plaintext), serviceIDs)
	if err != nil {
		return nil, "", fmt.Errorf("replace edit token: %w", err)
	}
	s.logger.Info("edit token replaced",
		zap.String("domain", domain),
		zap.Int("services", len(serviceIDs)),
	)
	return t, plaintext, nil
}
