package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/model"
	"github.com/satring/satring/internal/directory/repository"
)

// In-memory stand-ins for the repository layer, shared across the service
// tests in this package.

type memListings struct {
	mu       sync.Mutex
	bySlug   map[string]*model.Service
	refreshed map[uuid.UUID]int
	stats    repository.Stats
}

func newMemListings() *memListings {
	return &memListings{
		bySlug:    make(map[string]*model.Service),
		refreshed: make(map[uuid.UUID]int),
	}
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
	copied := *s
	m.bySlug[s.Slug] = &copied
	return nil
}

func (m *memListings) GetBySlug(_ context.Context, slug string) (*model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySlug[slug]
	if !ok {
		return nil, repository.ErrServiceNotFound
	}
	copied := *s
	return &copied, nil
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
		copied := *s
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memListings) Update(_ context.Context, s *model.Service, _ []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, existing := range m.bySlug {
		if existing.ID == s.ID {
			copied := *s
			m.bySlug[slug] = &copied
			return nil
		}
	}
	return repository.ErrServiceNotFound
}

func (m *memListings) RefreshRatingStats(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshed[id]++
	return nil
}

func (m *memListings) DirectoryStats(_ context.Context) (*repository.Stats, error) {
	st := m.stats
	return &st, nil
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
	copied := *r
	m.ratings = append(m.ratings, &copied)
	return nil
}

func (m *memRatings) ListByService(_ context.Context, serviceID uuid.UUID, limit int) ([]*model.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Rating
	for _, r := range m.ratings {
		if r.ServiceID == serviceID {
			copied := *r
			out = append(out, &copied)
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

type memCategories struct {
	categories []*model.Category
}

func (m *memCategories) List(_ context.Context) ([]*model.Category, error) {
	return m.categories, nil
}

func (m *memCategories) FilterExisting(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range ids {
		for _, c := range m.categories {
			if c.ID == id {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

type memTokenStore struct {
	mu     sync.Mutex
	live   map[string]*model.EditToken // keyed by domain
	revoked []*model.EditToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{live: make(map[string]*model.EditToken)}
}

func (m *memTokenStore) Mint(_ context.Context, t *model.EditToken, serviceID uuid.UUID) error {
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

func (m *memTokenStore) AddService(_ context.Context, tokenID, serviceID uuid.UUID) error {
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

func (m *memTokenStore) GetLiveByDomain(_ context.Context, domain string) (*model.EditToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.live[domain]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	return t, nil
}

func (m *memTokenStore) GetLiveByServiceID(_ context.Context, serviceID uuid.UUID) (*model.EditToken, error) {
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

func (m *memTokenStore) Replace(_ context.Context, domain, newHash string, serviceIDs []uuid.UUID) (*model.EditToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.live[domain]; ok {
		old.Active = false
		m.revoked = append(m.revoked, old)
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

type memChallengeStore struct {
	mu       sync.Mutex
	pending  map[string]*model.DomainChallenge
	statuses map[uuid.UUID]model.ChallengeStatus
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{
		pending:  make(map[string]*model.DomainChallenge),
		statuses: make(map[uuid.UUID]model.ChallengeStatus),
	}
}

func (m *memChallengeStore) Create(_ context.Context, ch *model.DomainChallenge) error {
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

func (m *memChallengeStore) GetPendingByDomain(_ context.Context, domain string) (*model.DomainChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.pending[domain]
	if !ok {
		return nil, repository.ErrChallengeNotFound
	}
	copied := *ch
	return &copied, nil
}

func (m *memChallengeStore) SetStatus(_ context.Context, id uuid.UUID, status model.ChallengeStatus) error {
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

func (m *memChallengeStore) ExpireStale(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for domain, ch := range m.pending {
		if now.After(ch.ExpiresAt) {
			m.statuses[ch.ID] = model.ChallengeExpired
			delete(m.pending, domain)
			n++
		}
	}
	return n, nil
}
