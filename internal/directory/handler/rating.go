package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/satring/satring/internal/directory/service"
	"github.com/satring/satring/internal/l402"
	"go.uber.org/zap"
)

// RatingHandler handles listing reviews.
type RatingHandler struct {
	dir     *service.DirectoryService
	paywall *Paywall
	prices  Prices
	logger  *zap.Logger
}

// NewRatingHandler creates a RatingHandler.
func NewRatingHandler(dir *service.DirectoryService, paywall *Paywall, prices Prices, logger *zap.Logger) *RatingHandler {
	return &RatingHandler{dir: dir, paywall: paywall, prices: prices, logger: logger}
}

// Register mounts the rating routes on the given router group.
func (h *RatingHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/services/:slug/ratings", h.List)
	rg.POST("/services/:slug/ratings",
		h.paywall.Gate(l402.OpSubmitReview, h.prices.Review), h.Create)
}

// List handles GET /services/:slug/ratings.
func (h *RatingHandler) List(c *gin.Context) {
	ratings, err := h.dir.Ratings(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, service.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		h.logger.Error("list ratings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list ratings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ratings": ratings})
}

// Create handles POST /services/:slug/ratings. The route is gated; each paid
// credential admits exactly one review.
func (h *RatingHandler) Create(c *gin.Context) {
	var req struct {
		Score        int    `json:"score" binding:"required"`
		Comment      string `json:"comment"`
		ReviewerName string `json:"reviewer_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rating, err := h.dir.AddRating(c.Request.Context(), c.Param("slug"),
		req.Score, req.Comment, req.ReviewerName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrServiceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
		case errors.Is(err, service.ErrInvalidRating):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("create rating", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create rating"})
		}
		return
	}
	c.JSON(http.StatusCreated, rating)
}
