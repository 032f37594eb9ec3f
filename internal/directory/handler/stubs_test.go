package handler_test

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/handler"
	"github.com/satring/satring/internal/directory/model"
	"github.com/satring/satring/internal/directory/repository"
	"github.com/satring/satring/internal/directory/service"
	"github.com/satring/satring/internal/l402"
	"github.com/satring/satring/internal/lnclient"
	"github.com/satring/satring/internal/secrets"
	"go.uber.org/zap"
)

// ── Fake Lightning wallet ────────────────────────────────────────────────

type fakeWallet struct {
	mu        sync.Mutex
	preimages map[string]string // payment_hash -> preimage hex
	paid      map[string]bool
	down      bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{preimages: make(map[string]string), paid: make(map[string]bool)}
}

func (w *fakeWallet) CreateInvoice(_ context.Context, amountSats int64, memo string) (lnclient.Invoice, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.down {
		return lnclient.Invoice{}, fmt.Errorf("%w: connection refused", lnclient.ErrUnavailable)
	}
	preimage := make([]byte, 32)
	rand.Read(preimage)
	sum := sha256.Sum256(preimage)
	hash := hex.EncodeToString(sum[:])
	w.preimages[hash] = hex.EncodeToString(preimage)
	return lnclient.Invoice{
		PaymentHash:    hash,
		PaymentRequest: fmt.Sprintf("lnbc%d_%s_%s", amountSats, memo, hash[:8]),
	}, nil
}

func (w *fakeWallet) CheckPaid(_ context.Context, paymentHash string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.down {
		return false, fmt.Errorf("%w: connection refused", lnclient.ErrUnavailable)
	}
	return w.paid[paymentHash], nil
}

// pay settles the invoice and returns the preimage the payer would learn.
func (w *fakeWallet) pay(paymentHash string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paid[paymentHash] = true
	return w.preimages[paymentHash]
}

// ── In-memory macaroon state ─────────────────────────────────────────────

type memL402Store struct {
	mu   sync.Mutex
	used map[string]bool // identifier -> consumed
}

func newMemL402Store() *memL402Store {
	return &memL402Store{used: make(map[string]bool)}
}

func (s *memL402Store) SaveChallenge(_ context.Context, rec *l402.Record, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[rec.Identifier] = false
	return nil
}

func (s *memL402Store) ConsumeOnce(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if used, ok := s.used[identifier]; !ok || used {
		return l402.ErrCredentialAlreadyUsed
	}
	s.used[identifier] = true
	return nil
}

// ── In-memory directory stores ───────────────────────────────────────────

type memListings struct {
	mu     sync.Mutex
	bySlug map[string]*model.Service
}

func newMemListings() *memListings {
	return &memListings{bySlug: make(map[string]*model.Service)}
}

func (m *memListings) Create(_ context.Context, s *model.Service, _ []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	if s.Status == "" {
		s.Status = model.StatusUnverified
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	m.bySlug[s.Slug] = &cp
	return nil
}

func (m *memListings) GetBySlug(_ context.Context, slug string) (*model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySlug[slug]
	if !ok {
		return nil, repository.ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memListings) SlugExists(_ context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySlug[slug]
	return ok, nil
}

func (m *memListings) List(_ context.Context, _ repository.ListOptions) ([]*model.Service, int, error) {
	all, err := m.ListAll(context.Background())
	return all, len(all), err
}

func (m *memListings) ListAll(_ context.Context) ([]*model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Service, 0, len(m.bySlug))
	for _, s := range m.bySlug {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memListings) Update(_ context.Context, s *model.Service, _ []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, existing := range m.bySlug {
		if existing.ID == s.ID {
			cp := *s
			m.bySlug[slug] = &cp
			return nil
		}
	}
	return repository.ErrServiceNotFound
}

func (m *memListings) RefreshRatingStats(_ context.Context, _ uuid.UUID) error { return nil }

func (m *memListings) DirectoryStats(_ context.Context) (*repository.Stats, error) {
	all, _ := m.ListAll(context.Background())
	return &repository.Stats{TotalServices: len(all)}, nil
}

func (m *memListings) TopRated(_ context.Context, limit int) ([]*model.Service, error) {
	all, _ := m.ListAll(context.Background())
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memListings) ListIDsByDomain(_ context.Context, domain string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range m.bySlug {
		if s.Domain == domain {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

type memRatings struct {
	mu      sync.Mutex
	ratings []*model.Rating
}

func (m *memRatings) Create(_ context.Context, r *model.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	cp := *r
	m.ratings = append(m.ratings, &cp)
	return nil
}

func (m *memRatings) ListByService(_ context.Context, serviceID uuid.UUID, limit int) ([]*model.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Rating
	for _, r := range m.ratings {
		if r.ServiceID == serviceID {
			cp := *r
			out = append(out, &cp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memRatings) Distribution(_ context.Context, serviceID uuid.UUID) (map[int]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dist := make(map[int]int)
	for _, r := range m.ratings {
		if r.ServiceID == serviceID {
			dist[r.Score]++
		}
	}
	return dist, nil
}

type memCategories struct{}

func (memCategories) List(_ context.Context) ([]*model.Category, error) { return nil, nil }
func (memCategories) FilterExisting(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type memTokens struct {
	mu   sync.Mutex
	live map[string]*model.EditToken
}

func newMemTokens() *memTokens {
	return &memTokens{live: make(map[string]*model.EditToken)}
}

func (m *memTokens) Mint(_ context.Context, t *model.EditToken, serviceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[t.Domain]; ok {
		return repository.ErrDomainHasToken
	}
	t.ID = uuid.New()
	t.Active = true
	t.CreatedAt = time.Now().UTC()
	t.ServiceIDs = []uuid.UUID{serviceID}
	m.live[t.Domain] = t
	return nil
}

func (m *memTokens) AddService(_ context.Context, tokenID, serviceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.live {
		if t.ID != tokenID {
			continue
		}
		for _, id := range t.ServiceIDs {
			if id == serviceID {
				return nil
			}
		}
		t.ServiceIDs = append(t.ServiceIDs, serviceID)
		return nil
	}
	return repository.ErrTokenNotFound
}

func (m *memTokens) GetLiveByDomain(_ context.Context, domain string) (*model.EditToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.live[domain]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	return t, nil
}

func (m *memTokens) GetLiveByServiceID(_ context.Context, serviceID uuid.UUID) (*model.EditToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.live {
		for _, id := range t.ServiceIDs {
			if id == serviceID {
				return t, nil
			}
		}
	}
	return nil, repository.ErrTokenNotFound
}

func (m *memTokens) Replace(_ context.Context, domain, newHash string, serviceIDs []uuid.UUID) (*model.EditToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.live[domain]; ok {
		old.Active = false
	}
	t := &model.EditToken{
		ID:         uuid.New(),
		Domain:     domain,
		TokenHash:  newHash,
		ServiceIDs: serviceIDs,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	m.live[domain] = t
	return t, nil
}

type memChallenges struct {
	mu       sync.Mutex
	pending  map[string]*model.DomainChallenge
	statuses map[uuid.UUID]model.ChallengeStatus
}

func newMemChallenges() *memChallenges {
	return &memChallenges{
		pending:  make(map[string]*model.DomainChallenge),
		statuses: make(map[uuid.UUID]model.ChallengeStatus),
	}
}

func (m *memChallenges) Create(_ context.Context, ch *model.DomainChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[ch.Domain]; ok {
		return repository.ErrChallengePending
	}
	ch.ID = uuid.New()
	ch.Status = model.ChallengePending
	ch.RequestedAt = time.Now().UTC()
	m.pending[ch.Domain] = ch
	m.statuses[ch.ID] = model.ChallengePending
	return nil
}

func (m *memChallenges) GetPendingByDomain(_ context.Context, domain string) (*model.DomainChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.pending[domain]
	if !ok {
		return nil, repository.ErrChallengeNotFound
	}
	cp := *ch
	return &cp, nil
}

func (m *memChallenges) SetStatus(_ context.Context, id uuid.UUID, status model.ChallengeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses[id] != model.ChallengePending {
		return repository.ErrChallengeNotPending
	}
	m.statuses[id] = status
	for domain, ch := range m.pending {
		if ch.ID == id {
			delete(m.pending, domain)
		}
	}
	return nil
}

func (m *memChallenges) ExpireStale(_ context.Context) (int64, error) { return 0, nil }

// ── Router fixture ───────────────────────────────────────────────────────

type fixture struct {
	router    *gin.Engine
	wallet    *fakeWallet
	published map[string]string // domain -> well-known body
}

var testPrices = handler.Prices{Submit: 1000, Review: 10, Bulk: 1000, Analytics: 100, Reputation: 100}

func newFixture(bypass bool) *fixture {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	keyring, err := secrets.NewKeyring(map[string]string{"v1": "handler-test-root-key"}, "v1")
	if err != nil {
		panic(err)
	}

	f := &fixture{
		wallet:    newFakeWallet(),
		published: make(map[string]string),
	}

	l402Store := newMemL402Store()
	issuer := l402.NewIssuer(keyring, f.wallet, l402Store, time.Hour, logger)
	verifier := l402.NewVerifier(keyring, f.wallet, l402Store, logger)
	paywall := handler.NewPaywall(issuer, verifier, bypass, logger)

	listings := newMemListings()
	tokens := service.NewEditTokenService(newMemTokens(), logger)
	dir := service.NewDirectoryService(listings, &memRatings{}, memCategories{}, tokens, logger)
	recovery := service.NewRecoveryService(newMemChallenges(), listings, tokens,
		func(_ context.Context, domain string) (string, error) {
			body, ok := f.published[domain]
			if !ok {
				return "", fmt.Errorf("status 404")
			}
			return body, nil
		}, 30*time.Minute, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewServiceHandler(dir, paywall, testPrices, logger).Register(v1)
	handler.NewRatingHandler(dir, paywall, testPrices, logger).Register(v1)
	handler.NewRecoveryHandler(dir, recovery, logger).Register(v1)
	handler.NewPaymentHandler(f.wallet, bypass, logger).Register(v1)

	f.router = r
	return f
}
