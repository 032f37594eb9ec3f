// Package model defines the persisted entities of the satring directory.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Listing lifecycle states. New submissions start unverified; the prober
// moves confirmed listings between live and dead.
const (
	StatusUnverified = "unverified"
	StatusConfirmed  = "confirmed"
	StatusLive       = "live"
	StatusDead       = "dead"
)

// Category groups listings for browsing.
type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
}

// Service is one paid-API listing in the directory.
type Service struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	URL          string     `json:"url"`
	Domain       string     `json:"-"` // normalized host of URL; scopes edit tokens

	Description  string     `json:"description"`
	PricingSats  int64      `json:"pricing_sats"`
	PricingModel string     `json:"pricing_model"`
	Protocol     string     `json:"protocol"`
	OwnerName    string     `json:"owner_name"`
	OwnerContact string     `json:"owner_contact,omitempty"`
	LogoURL      string     `json:"logo_url"`
	AvgRating    float64    `json:"avg_rating"`
	RatingCount  int        `json:"rating_count"`
	Status       string     `json:"status"`
	LastProbedAt *time.Time `json:"last_probed_at,omitempty"`
	DeadSince    *time.Time `json:"dead_since,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Categories   []Category `json:"categories"`
}
