package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/repository"
	"go.uber.org/zap"
)

func newTestDirectory() (*DirectoryService, *memListings, *memRatings, *memTokenStore) {
	listings := newMemListings()
	ratings := &memRatings{}
	categories := &memCategories{}
	tokenStore := newMemTokenStore()
	tokens := NewEditTokenService(tokenStore, zap.NewNop())
	dir := NewDirectoryService(listings, ratings, categories, tokens, zap.NewNop())
	return dir, listings, ratings, tokenStore
}

func TestSubmitMintsTokenForNewDomain(t *testing.T) {
	dir, _, _, _ := newTestDirectory()

	res, err := dir.Submit(context.Background(), SubmitServiceRequest{
		Name:        "Lightning Image API",
		URL:         "https://img.example.com/api",
		Description: "resize images for sats",
		PricingSats: 10,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.EditToken == "" {
		t.Fatal("expected a freshly minted edit token")
	}
	if res.TokenDomain != "img.example.com" {
		t.Fatalf("token domain: got %q", res.TokenDomain)
	}
	if res.Service.Slug != "lightning-image-api" {
		t.Fatalf("slug: got %q", res.Service.Slug)
	}
	if res.Service.Status != "unverified" {
		t.Fatalf("status: got %q", res.Service.Status)
	}
}

func TestSubmitSameDomainExtendsTokenWithoutReveal(t *testing.T) {
	dir, _, _, store := newTestDirectory()
	ctx := context.Background()

	first, err := dir.Submit(ctx, SubmitServiceRequest{
		Name: "First", URL: "https://api.example.com/a",
	})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := dir.Submit(ctx, SubmitServiceRequest{
		Name: "Second", URL: "https://api.example.com/b",
	})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.EditToken != "" {
		t.Fatal("existing token must not be re-revealed")
	}

	live, err := store.GetLiveByDomain(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetLiveByDomain: %v", err)
	}
	if len(live.ServiceIDs) != 2 {
		t.Fatalf("token should cover both listings, covers %d", len(live.ServiceIDs))
	}
	if first.EditToken == "" {
		t.Fatal("first submission should have received the plaintext")
	}
}

func TestSubmitRejectsWrongPresentedToken(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	ctx := context.Background()

	if _, err := dir.Submit(ctx, SubmitServiceRequest{
		Name: "First", URL: "https://api.example.com/a",
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err := dir.Submit(ctx, SubmitServiceRequest{
		Name:              "Second",
		URL:               "https://api.example.com/b",
		ExistingEditToken: "not-the-token",
	})
	if !errors.Is(err, ErrTokenDomainMismatch) {
		t.Fatalf("got %v, want ErrTokenDomainMismatch", err)
	}
}

func TestSubmitDisambiguatesSlugCollisions(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	ctx := context.Background()

	slugs := make(map[string]bool)
	for _, u := range []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"} {
		res, err := dir.Submit(ctx, SubmitServiceRequest{Name: "Echo Service", URL: u})
		if err != nil {
			t.Fatalf("Submit(%s): %v", u, err)
		}
		if slugs[res.Service.Slug] {
			t.Fatalf("duplicate slug %q", res.Service.Slug)
		}
		slugs[res.Service.Slug] = true
	}
	if !slugs["echo-service"] || !slugs["echo-service-1"] || !slugs["echo-service-2"] {
		t.Fatalf("unexpected slug set: %v", slugs)
	}
}

func TestSubmitRejectsBadURL(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	_, err := dir.Submit(context.Background(), SubmitServiceRequest{Name: "X", URL: "https://"})
	if !errors.Is(err, ErrInvalidServiceURL) {
		t.Fatalf("got %v, want ErrInvalidServiceURL", err)
	}
}

func TestGetUnknownSlug(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	if _, err := dir.Get(context.Background(), "nope"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("got %v, want ErrServiceNotFound", err)
	}
}

func TestEditRequiresMatchingToken(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	ctx := context.Background()

	res, err := dir.Submit(ctx, SubmitServiceRequest{Name: "Editable", URL: "https://edit.example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	name := "Renamed"
	if _, err := dir.Edit(ctx, res.Service.Slug, "wrong", EditServiceRequest{Name: &name}); !errors.Is(err, ErrEditForbidden) {
		t.Fatalf("wrong token: got %v, want ErrEditForbidden", err)
	}
	if _, err := dir.Edit(ctx, res.Service.Slug, "", EditServiceRequest{Name: &name}); !errors.Is(err, ErrEditForbidden) {
		t.Fatalf("missing token: got %v, want ErrEditForbidden", err)
	}

	updated, err := dir.Edit(ctx, res.Service.Slug, res.EditToken, EditServiceRequest{Name: &name})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("name not updated: %q", updated.Name)
	}
	// Untouched fields survive a partial edit.
	if updated.URL != "https://edit.example.com" {
		t.Fatalf("url changed unexpectedly: %q", updated.URL)
	}
}

func TestEditTokenCoversAllDomainListings(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	ctx := context.Background()

	first, err := dir.Submit(ctx, SubmitServiceRequest{Name: "One", URL: "https://multi.example.com/a"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := dir.Submit(ctx, SubmitServiceRequest{Name: "Two", URL: "https://multi.example.com/b"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	desc := "edited with the shared token"
	if _, err := dir.Edit(ctx, second.Service.Slug, first.EditToken, EditServiceRequest{Description: &desc}); err != nil {
		t.Fatalf("Edit second listing with domain token: %v", err)
	}
}

func TestAddRating(t *testing.T) {
	dir, listings, _, _ := newTestDirectory()
	ctx := context.Background()

	res, err := dir.Submit(ctx, SubmitServiceRequest{Name: "Rated", URL: "https://rated.example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := dir.AddRating(ctx, res.Service.Slug, 0, "", ""); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("score 0: got %v, want ErrInvalidRating", err)
	}
	if _, err := dir.AddRating(ctx, res.Service.Slug, 6, "", ""); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("score 6: got %v, want ErrInvalidRating", err)
	}

	rating, err := dir.AddRating(ctx, res.Service.Slug, 5, "great", "")
	if err != nil {
		t.Fatalf("AddRating: %v", err)
	}
	if rating.ReviewerName != "Anonymous" {
		t.Fatalf("reviewer default: got %q", rating.ReviewerName)
	}
	if listings.refreshed[res.Service.ID] != 1 {
		t.Fatal("rating aggregates were not refreshed")
	}
}

func TestReputationReportsFullHistogram(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	ctx := context.Background()

	res, err := dir.Submit(ctx, SubmitServiceRequest{Name: "Rep", URL: "https://rep.example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, score := range []int{5, 5, 3} {
		if _, err := dir.AddRating(ctx, res.Service.Slug, score, "", "r"); err != nil {
			t.Fatalf("AddRating: %v", err)
		}
	}

	rep, err := dir.Reputation(ctx, res.Service.Slug)
	if err != nil {
		t.Fatalf("Reputation: %v", err)
	}
	if len(rep.Distribution) != 5 {
		t.Fatalf("histogram must have 5 buckets, has %d", len(rep.Distribution))
	}
	if rep.Distribution["5"] != 2 || rep.Distribution["3"] != 1 || rep.Distribution["1"] != 0 {
		t.Fatalf("unexpected distribution: %v", rep.Distribution)
	}
	if len(rep.RecentReviews) != 3 {
		t.Fatalf("recent reviews: got %d", len(rep.RecentReviews))
	}
}

func TestAnalytics(t *testing.T) {
	dir, listings, _, _ := newTestDirectory()
	listings.stats = repository.Stats{TotalServices: 4, TotalRatings: 9, AvgPriceSats: 120.5}

	report, err := dir.Analytics(context.Background())
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if report.TotalServices != 4 || report.TotalRatings != 9 || report.AvgPriceSats != 120.5 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.TopRated == nil {
		t.Fatal("top rated must be non-nil")
	}
}

func TestListDefaultsPagination(t *testing.T) {
	dir, _, _, _ := newTestDirectory()
	page, err := dir.List(context.Background(), repository.ListOptions{Page: -1, PageSize: 9999})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Page != 1 || page.PageSize != 20 {
		t.Fatalf("pagination defaults: page=%d size=%d", page.Page, page.PageSize)
	}
	if page.Services == nil {
		t.Fatal("services must be non-nil")
	}
}

func TestAuthorizeUnknownService(t *testing.T) {
	_, _, _, store := newTestDirectory()
	tokens := NewEditTokenService(store, zap.NewNop())

	ok, err := tokens.Authorize(context.Background(), uuid.New(), "whatever")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if ok {
		t.Fatal("unknown service must not authorize")
	}
}
