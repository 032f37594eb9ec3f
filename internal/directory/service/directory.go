// Package service implements the directory's business logic on top of the
// repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/model"
	"github.com/satring/satring/internal/directory/repository"
	"github.com/satring/satring/pkg/slug"
	"go.uber.org/zap"
)

var (
	// ErrServiceNotFound is returned when a listing does not exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrEditForbidden is returned when a mutation presents a missing or
	// wrong edit token.
	ErrEditForbidden = errors.New("invalid edit token")

	// ErrInvalidRating is returned for scores outside 1..5.
	ErrInvalidRating = errors.New("rating score must be between 1 and 5")
)

// listingStore is the storage interface required by DirectoryService.
// *repository.ServiceRepository satisfies this interface.
type listingStore interface {
	Create(ctx context.Context, s *model.Service, categoryIDs []uuid.UUID) error
	GetBySlug(ctx context.Context, slug string) (*model.Service, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	List(ctx context.Context, opts repository.ListOptions) ([]*model.Service, int, error)
	ListAll(ctx context.Context) ([]*model.Service, error)
	Update(ctx context.Context, s *model.Service, categoryIDs []uuid.UUID) error
	RefreshRatingStats(ctx context.Context, id uuid.UUID) error
	DirectoryStats(ctx context.Context) (*repository.Stats, error)
	TopRated(ctx context.Context, limit int) ([]*model.Service, error)
}

// ratingStore is satisfied by *repository.RatingRepository.
type ratingStore interface {
	Create(ctx context.Context, r *model.Rating) error
	ListByService(ctx context.Context, serviceID uuid.UUID, limit int) ([]*model.Rating, error)
	Distribution(ctx context.Context, serviceID uuid.UUID) (map[int]int, error)
}

// categoryStore is satisfied by *repository.CategoryRepository.
type categoryStore interface {
	List(ctx context.Context) ([]*model.Category, error)
	FilterExisting(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

// editTokenManager is the slice of EditTokenService the directory needs.
type editTokenManager interface {
	IssueOrExtend(ctx context.Context, domain string, serviceID uuid.UUID, presented string) (*model.EditToken, string, error)
	Authorize(ctx context.Context, serviceID uuid.UUID, presented string) (bool, error)
}

// DirectoryService implements listing CRUD, search, reviews, and the premium
// read models.
type DirectoryService struct {
	listings   listingStore
	ratings    ratingStore
	categories categoryStore
	tokens     editTokenManager
	logger     *zap.Logger
}

// NewDirectoryService creates a DirectoryService.
func NewDirectoryService(listings listingStore, ratings ratingStore, categories categoryStore, tokens editTokenManager, logger *zap.Logger) *DirectoryService {
	return &DirectoryService{
		listings:   listings,
		ratings:    ratings,
		categories: categories,
		tokens:     tokens,
		logger:     logger,
	}
}

// SubmitServiceRequest is a new listing submission.
type SubmitServiceRequest struct {
	Name              string
	URL               string
	Description       string
	PricingSats       int64
	PricingModel      string
	Protocol          string
	OwnerName         string
	OwnerContact      string
	LogoURL           string
	CategoryIDs       []uuid.UUID
	ExistingEditToken string
}

// SubmitResult pairs the created listing with its edit token. EditToken is
// the plaintext and is non-empty only when a token was freshly minted for a
// new domain; for known domains the existing token simply covers the new
// listing.
type SubmitResult struct {
	Service     *model.Service
	EditToken   string
	TokenDomain string
}

// Submit creates a listing and links it to its domain's edit token.
func (s *DirectoryService) Submit(ctx context.Context, req SubmitServiceRequest) (*SubmitResult, error) {
	if req.Name == "" || req.URL == "" {
		return nil, fmt.Errorf("name and url are required")
	}
	domain, err := NormalizeDomain(req.URL)
	if err != nil {
		return nil, err
	}

	uniqueSlug, err := s.uniqueSlug(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	categoryIDs, err := s.categories.FilterExisting(ctx, req.CategoryIDs)
	if err != nil {
		return nil, err
	}

	svc := &model.Service{
		Name:         req.Name,
		Slug:         uniqueSlug,
		URL:          req.URL,
		Domain:       domain,
		Description:  req.Description,
		PricingSats:  req.PricingSats,
		PricingModel: req.PricingModel,
		Protocol:     req.Protocol,
		OwnerName:    req.OwnerName,
		OwnerContact: req.OwnerContact,
		LogoURL:      req.LogoURL,
	}
	if err := s.listings.Create(ctx, svc, categoryIDs); err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}

	_, plaintext, err := s.tokens.IssueOrExtend(ctx, domain, svc.ID, req.ExistingEditToken)
	if err != nil {
		return nil, err
	}

	s.logger.Info("service submitted",
		zap.String("slug", svc.Slug),
		zap.String("domain", domain),
		zap.Bool("token_minted", plaintext != ""),
	)

	created, err := s.listings.GetBySlug(ctx, svc.Slug)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Service: created, EditToken: plaintext, TokenDomain: domain}, nil
}

// Get returns one listing by slug.
func (s *DirectoryService) Get(ctx context.Context, serviceSlug string) (*model.Service, error) {
	svc, err := s.listings.GetBySlug(ctx, serviceSlug)
	if err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return svc, nil
}

// Page is one page of listings.
type Page struct {
	Services []*model.Service `json:"services"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// List returns a filtered, paginated page of listings.
func (s *DirectoryService) List(ctx context.Context, opts repository.ListOptions) (*Page, error) {
	services, total, err := s.listings.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 || opts.PageSize > 100 {
		opts.PageSize = 20
	}
	if services == nil {
		services = []*model.Service{}
	}
	return &Page{Services: services, Total: total, Page: opts.Page, PageSize: opts.PageSize}, nil
}

// BulkExport returns every listing. Callers pay for this via the Access Gate.
func (s *DirectoryService) BulkExport(ctx context.Context) ([]*model.Service, error) {
	services, err := s.listings.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if services == nil {
		services = []*model.Service{}
	}
	return services, nil
}

// Categories lists the browse taxonomy.
func (s *DirectoryService) Categories(ctx context.Context) ([]*model.Category, error) {
	return s.categories.List(ctx)
}

// EditServiceRequest carries the editable listing fields. Nil pointers leave
// the current value untouched.
type EditServiceRequest struct {
	Name         *string
	Description  *string
	PricingSats  *int64
	PricingModel *string
	Protocol     *string
	OwnerName    *string
	OwnerContact *string
	LogoURL      *string
	CategoryIDs  []uuid.UUID
}

// Edit mutates a listing after checking the presented edit token against the
// listing's domain token.
func (s *DirectoryService) Edit(ctx context.Context, serviceSlug, presentedToken string, req EditServiceRequest) (*model.Service, error) {
	svc, err := s.Get(ctx, serviceSlug)
	if err != nil {
		return nil, err
	}

	ok, err := s.tokens.Authorize(ctx, svc.ID, presentedToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEditForbidden
	}

	if req.Name != nil && *req.Name != "" {
		svc.Name = *req.Name
	}
	if req.Description != nil {
		svc.Description = *req.Description
	}
	if req.PricingSats != nil {
		svc.PricingSats = *req.PricingSats
	}
	if req.PricingModel != nil && *req.PricingModel != "" {
		svc.PricingModel = *req.PricingModel
	}
	if req.Protocol != nil && *req.Protocol != "" {
		svc.Protocol = *req.Protocol
	}
	if req.OwnerName != nil {
		svc.OwnerName = *req.OwnerName
	}
	if req.OwnerContact != nil {
		svc.OwnerContact = *req.OwnerContact
	}
	if req.LogoURL != nil {
		svc.LogoURL = *req.LogoURL
	}

	var categoryIDs []uuid.UUID
	if req.CategoryIDs != nil {
		categoryIDs, err = s.categories.FilterExisting(ctx, req.CategoryIDs)
		if err != nil {
			return nil, err
		}
	}

	if err := s.listings.Update(ctx, svc, categoryIDs); err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return s.Get(ctx, serviceSlug)
}

// Ratings returns a listing's reviews, newest first.
func (s *DirectoryService) Ratings(ctx context.Context, serviceSlug string) ([]*model.Rating, error) {
	svc, err := s.Get(ctx, serviceSlug)
	if err != nil {
		return nil, err
	}
	ratings, err := s.ratings.ListByService(ctx, svc.ID, 0)
	if err != nil {
		return nil, err
	}
	if ratings == nil {
		ratings = []*model.Rating{}
	}
	return ratings, nil
}

// AddRating records a paid review and refreshes the listing's aggregates.
func (s *DirectoryService) AddRating(ctx context.Context, serviceSlug string, score int, comment, reviewerName string) (*model.Rating, error) {
	if score < 1 || score > 5 {
		return nil, ErrInvalidRating
	}
	svc, err := s.Get(ctx, serviceSlug)
	if err != nil {
		return nil, err
	}
	if reviewerName == "" {
		reviewerName = "Anonymous"
	}

	rating := &model.Rating{
		ServiceID:    svc.ID,
		Score:        score,
		Comment:      comment,
		ReviewerName: reviewerName,
	}
	if err := s.ratings.Create(ctx, rating); err != nil {
		return nil, err
	}
	if err := s.listings.RefreshRatingStats(ctx, svc.ID); err != nil {
		return nil, err
	}
	return rating, nil
}

// AnalyticsReport is the premium directory-wide read model.
type AnalyticsReport struct {
	TotalServices int              `json:"total_services"`
	TotalRatings  int              `json:"total_ratings"`
	AvgPriceSats  float64          `json:"avg_price_sats"`
	TopRated      []*model.Service `json:"top_rated"`
}

// Analytics computes the paid analytics report.
func (s *DirectoryService) Analytics(ctx context.Context) (*AnalyticsReport, error) {
	stats, err := s.listings.DirectoryStats(ctx)
	if err != nil {
		return nil, err
	}
	top, err := s.listings.TopRated(ctx, 10)
	if err != nil {
		return nil, err
	}
	if top == nil {
		top = []*model.Service{}
	}
	return &AnalyticsReport{
		TotalServices: stats.TotalServices,
		TotalRatings:  stats.TotalRatings,
		AvgPriceSats:  stats.AvgPriceSats,
		TopRated:      top,
	}, nil
}

// ReputationReport is the premium per-service read model.
type ReputationReport struct {
	Service       string          `json:"service"`
	Slug          string          `json:"slug"`
	AvgRating     float64         `json:"avg_rating"`
	RatingCount   int             `json:"rating_count"`
	Distribution  map[string]int  `json:"distribution"`
	RecentReviews []*model.Rating `json:"recent_reviews"`
}

// Reputation computes the paid reputation report for one listing.
func (s *DirectoryService) Reputation(ctx context.Context, serviceSlug string) (*ReputationReport, error) {
	svc, err := s.Get(ctx, serviceSlug)
	if err != nil {
		return nil, err
	}
	dist, err := s.ratings.Distribution(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	recent, err := s.ratings.ListByService(ctx, svc.ID, 20)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*model.Rating{}
	}

	// Always report the full 1..5 histogram.
	full := make(map[string]int, 5)
	for i := 1; i <= 5; i++ {
		full[strconv.Itoa(i)] = dist[i]
	}
	return &ReputationReport{
		Service:       svc.Name,
		Slug:          svc.Slug,
		AvgRating:     svc.AvgRating,
		RatingCount:   svc.RatingCount,
		Distribution:  full,
		RecentReviews: recent,
	}, nil
}

// uniqueSlug derives a slug from name, suffixing a counter on collision.
func (s *DirectoryService) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "service"
	}
	candidate := base
	for counter := 1; ; counter++ {
		exists, err := s.listings.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
}
