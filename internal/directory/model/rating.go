package model

import (
	"time"

	"github.com/google/uuid"
)

// Rating is a paid review of a listed service. Score is 1..5.
type Rating struct {
	ID           uuid.UUID `json:"id"`
	ServiceID    uuid.UUID `json:"service_id"`
	Score        int       `json:"score"`
	Comment      string    `json:"comment"`
	ReviewerName string    `json:"reviewer_name"`
	CreatedAt    time.Time `json:"created_at"`
}
