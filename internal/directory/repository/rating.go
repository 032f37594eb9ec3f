package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/satring/satring/internal/directory/model"
)

// RatingRepository persists reviews.
type RatingRepository struct {
	db *pgxpool.Pool
}

// NewRatingRepository creates a RatingRepository.
func NewRatingRepository(db *pgxpool.Pool) *RatingRepository {
	return &RatingRepository{db: db}
}

// Create inserts a review.
func (r *RatingRepository) Create(ctx context.Context, rating *model.Rating) error {
	rating.ID = uuid.New()
	rating.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO ratings (id, service_id, score, comment, reviewer_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rating.ID, rating.ServiceID, rating.Score, rating.Comment,
		rating.ReviewerName, rating.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

// ListByService returns a service's reviews, newest first. limit <= 0 means
// no limit.
func (r *RatingRepository) ListByService(ctx context.Context, serviceID uuid.UUID, limit int) ([]*model.Rating, error) {
	query := `
		SELECT id, service_id, score, comment, reviewer_name, created_at
		FROM ratings WHERE service_id = $1 ORDER BY created_at DESC`
	args := []any{serviceID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	var ratings []*model.Rating
	for rows.Next() {
		rt := &model.Rating{}
		if err := rows.Scan(&rt.ID, &rt.ServiceID, &rt.Score, &rt.Comment,
			&rt.ReviewerName, &rt.CreatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, rt)
	}
	return ratings, rows.Err()
}

// Distribution returns the count of reviews per score (1..5).
func (r *RatingRepository) Distribution(ctx context.Context, serviceID uuid.UUID) (map[int]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT score, COUNT(*) FROM ratings
		WHERE service_id = $1 GROUP BY score`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("rating distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[int]int)
	for rows.Next() {
		var score, count int
		if err := rows.Scan(&score, &count); err != nil {
			return nil, err
		}
		dist[score] = count
	}
	return dist, rows.Err()
}
