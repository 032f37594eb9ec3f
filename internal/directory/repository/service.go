// Package repository provides PostgreSQL persistence for the directory.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/satring/satring/internal/directory/model"
)

// ErrServiceNotFound is returned when a listing does not exist.
var ErrServiceNotFound = errors.New("service not found")

// ServiceRepository provides CRUD operations for listings.
type ServiceRepository struct {
	db *pgxpool.Pool
}

// NewServiceRepository creates a ServiceRepository.
func NewServiceRepository(db *pgxpool.Pool) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = `id, name, slug, url, domain, description, pricing_sats, pricing_model,
	protocol, owner_name, owner_contact, logo_url, avg_rating, rating_count,
	status, last_probed_at, dead_since, created_at, updated_at`

func scanService(row pgx.Row) (*model.Service, error) {
	s := &model.Service{}
	err := row.Scan(&s.ID, &s.Name, &s.Slug, &s.URL, &s.Domain, &s.Description,
		&s.PricingSats, &s.PricingModel, &s.Protocol, &s.OwnerName, &s.OwnerContact,
		&s.LogoURL, &s.AvgRating, &s.RatingCount, &s.Status, &s.LastProbedAt,
		&s.DeadSince, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return s, nil
}

// Create inserts a new listing and its category links.
func (r *ServiceRepository) Create(ctx context.Context, s *model.Service, categoryIDs []uuid.UUID) error {
	s.ID = uuid.New()
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = model.StatusUnverified
	}
	if s.PricingModel == "" {
		s.PricingModel = "per-request"
	}
	if s.Protocol == "" {
		s.Protocol = "L402"
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO services (
			id, name, slug, url, domain, description, pricing_sats, pricing_model,
			protocol, owner_name, owner_contact, logo_url, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		s.ID, s.Name, s.Slug, s.URL, s.Domain, s.Description, s.PricingSats,
		s.PricingModel, s.Protocol, s.OwnerName, s.OwnerContact, s.LogoURL,
		s.Status, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}

	for _, cid := range categoryIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO service_categories (service_id, category_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, s.ID, cid); err != nil {
			return fmt.Errorf("link category: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetBySlug returns a single listing with its categories.
func (r *ServiceRepository) GetBySlug(ctx context.Context, slug string) (*model.Service, error) {
	s, err := scanService(r.db.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get service by slug: %w", err)
	}
	if err := r.attachCategories(ctx, []*model.Service{s}); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID returns a single listing with its categories.
func (r *ServiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	s, err := scanService(r.db.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get service by id: %w", err)
	}
	if err := r.attachCategories(ctx, []*model.Service{s}); err != nil {
		return nil, err
	}
	return s, nil
}

// SlugExists reports whether a slug is already taken.
func (r *ServiceRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM services WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// ListOptions filter and page the listing query.
type ListOptions struct {
	CategorySlug string
	Status       string
	Query        string // substring match on name or description
	Sort         string // top-rated | cheapest | most-reviewed | "" (newest)
	Page         int
	PageSize     int
}

// List returns one page of listings plus the total match count.
func (r *ServiceRepository) List(ctx context.Context, opts ListOptions) ([]*model.Service, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 || opts.PageSize > 100 {
		opts.PageSize = 20
	}

	where := ` WHERE true`
	args := []any{}
	if opts.CategorySlug != "" {
		args = append(args, opts.CategorySlug)
		where += fmt.Sprintf(` AND s.id IN (
			SELECT sc.service_id FROM service_categories sc
			JOIN categories c ON c.id = sc.category_id
			WHERE c.slug = $%d)`, len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where += fmt.Sprintf(` AND s.status = $%d`, len(args))
	}
	if opts.Query != "" {
		args = append(args, "%"+opts.Query+"%")
		where += fmt.Sprintf(` AND (s.name ILIKE $%d OR s.description ILIKE $%d)`, len(args), len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM services s`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count services: %w", err)
	}

	order := ` ORDER BY s.created_at DESC`
	switch opts.Sort {
	case "top-rated":
		order = ` ORDER BY s.avg_rating DESC, s.created_at DESC`
	case "cheapest":
		order = ` ORDER BY s.pricing_sats ASC, s.created_at DESC`
	case "most-reviewed":
		order = ` ORDER BY s.rating_count DESC, s.created_at DESC`
	}

	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)
	query := `SELECT ` + prefixedServiceColumns() + ` FROM services s` + where + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	services, err := r.queryServices(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return services, total, nil
}

// ListAll returns every listing ordered by creation time, for bulk export.
func (r *ServiceRepository) ListAll(ctx context.Context) ([]*model.Service, error) {
	return r.queryServices(ctx,
		`SELECT `+prefixedServiceColumns()+` FROM services s ORDER BY s.created_at ASC`)
}

// ListIDsByDomain returns the IDs of all listings on a normalized domain.
func (r *ServiceRepository) ListIDsByDomain(ctx context.Context, domain string) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM services WHERE domain = $1`, domain)
	if err != nil {
		return nil, fmt.Errorf("list services by domain: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Update rewrites the editable fields of a listing and its category links.
func (r *ServiceRepository) Update(ctx context.Context, s *model.Service, categoryIDs []uuid.UUID) error {
	s.UpdatedAt = time.Now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE services SET
			name = $2, description = $3, pricing_sats = $4, pricing_model = $5,
			protocol = $6, owner_name = $7, owner_contact = $8, logo_url = $9,
			updated_at = $10
		WHERE id = $1`,
		s.ID, s.Name, s.Description, s.PricingSats, s.PricingModel,
		s.Protocol, s.OwnerName, s.OwnerContact, s.LogoURL, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}

	if categoryIDs != nil {
		if _, err := tx.Exec(ctx,
			`DELETE FROM service_categories WHERE service_id = $1`, s.ID); err != nil {
			return fmt.Errorf("clear categories: %w", err)
		}
		for _, cid := range categoryIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO service_categories (service_id, category_id)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`, s.ID, cid); err != nil {
				return fmt.Errorf("link category: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// RefreshRatingStats recomputes a listing's aggregate rating columns.
func (r *ServiceRepository) RefreshRatingStats(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE services SET
			avg_rating = COALESCE((
				SELECT ROUND(AVG(score)::numeric, 1) FROM ratings WHERE service_id = $1), 0),
			rating_count = (SELECT COUNT(*) FROM ratings WHERE service_id = $1)
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("refresh rating stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// Stats holds directory-wide aggregates for the analytics endpoint.
type Stats struct {
	TotalServices int
	TotalRatings  int
	AvgPriceSats  float64
}

// DirectoryStats computes directory-wide aggregates.
func (r *ServiceRepository) DirectoryStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM services),
			(SELECT COUNT(*) FROM ratings),
			COALESCE((SELECT ROUND(AVG(pricing_sats)::numeric, 1) FROM services), 0)`,
	).Scan(&st.TotalServices, &st.TotalRatings, &st.AvgPriceSats)
	if err != nil {
		return nil, fmt.Errorf("directory stats: %w", err)
	}
	return st, nil
}

// TopRated returns the highest-rated listings that have at least one review.
func (r *ServiceRepository) TopRated(ctx context.Context, limit int) ([]*model.Service, error) {
	return r.queryServices(ctx, `
		SELECT `+prefixedServiceColumns()+` FROM services s
		WHERE s.rating_count >= 1
		ORDER BY s.avg_rating DESC, s.rating_count DESC
		LIMIT $1`, limit)
}

// ProbeTarget is the minimal listing data the health prober needs.
type ProbeTarget struct {
	ID  uuid.UUID
	URL string
}

// ListProbeTargets returns every listing that should be health-probed.
func (r *ServiceRepository) ListProbeTargets(ctx context.Context) ([]ProbeTarget, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, url FROM services WHERE status != $1`, model.StatusUnverified)
	if err != nil {
		return nil, fmt.Errorf("list probe targets: %w", err)
	}
	defer rows.Close()

	var targets []ProbeTarget
	for rows.Next() {
		var t ProbeTarget
		if err := rows.Scan(&t.ID, &t.URL); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// MarkProbeResult records a probe outcome. A dead listing keeps its original
// dead_since across repeated failures; recovery clears it.
func (r *ServiceRepository) MarkProbeResult(ctx context.Context, id uuid.UUID, alive bool, probedAt time.Time) error {
	var err error
	if alive {
		_, err = r.db.Exec(ctx, `
			UPDATE services SET status = $2, last_probed_at = $3, dead_since = NULL
			WHERE id = $1`, id, model.StatusLive, probedAt)
	} else {
		_, err = r.db.Exec(ctx, `
			UPDATE services SET status = $2, last_probed_at = $3,
				dead_since = COALESCE(dead_since, $3)
			WHERE id = $1`, id, model.StatusDead, probedAt)
	}
	if err != nil {
		return fmt.Errorf("mark probe result: %w", err)
	}
	return nil
}

func prefixedServiceColumns() string {
	return `s.id, s.name, s.slug, s.url, s.domain, s.description, s.pricing_sats,
		s.pricing_model, s.protocol, s.owner_name, s.owner_contact, s.logo_url,
		s.avg_rating, s.rating_count, s.status, s.last_probed_at, s.dead_since,
		s.created_at, s.updated_at`
}

func (r *ServiceRepository) queryServices(ctx context.Context, query string, args ...any) ([]*model.Service, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var services []*model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachCategories(ctx, services); err != nil {
		return nil, err
	}
	return services, nil
}

// attachCategories populates Categories for a batch of listings in one query.
func (r *ServiceRepository) attachCategories(ctx context.Context, services []*model.Service) error {
	if len(services) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*model.Service, len(services))
	ids := make([]uuid.UUID, 0, len(services))
	for _, s := range services {
		s.Categories = []model.Category{}
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT sc.service_id, c.id, c.name, c.slug, c.description
		FROM service_categories sc
		JOIN categories c ON c.id = sc.category_id
		WHERE sc.service_id = ANY($1)
		ORDER BY c.name`, ids)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sid uuid.UUID
		var c model.Category
		if err := rows.Scan(&sid, &c.ID, &c.Name, &c.Slug, &c.Description); err != nil {
			return err
		}
		if s, ok := byID[sid]; ok {
			s.Categories = append(s.Categories, c)
		}
	}
	return rows.Err()
}
