package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/repository"
	"github.com/satring/satring/internal/directory/service"
	"github.com/satring/satring/internal/l402"
	"go.uber.org/zap"
)

// Prices holds the configured sat price of each gated operation.
type Prices struct {
	Submit     int64
	Review     int64
	Bulk       int64
	Analytics  int64
	Reputation int64
}

// ServiceHandler handles listing CRUD, search, and the premium read models.
type ServiceHandler struct {
	dir     *service.DirectoryService
	paywall *Paywall
	prices  Prices
	logger  *zap.Logger
}

// NewServiceHandler creates a ServiceHandler.
func NewServiceHandler(dir *service.DirectoryService, paywall *Paywall, prices Prices, logger *zap.Logger) *ServiceHandler {
	return &ServiceHandler{dir: dir, paywall: paywall, prices: prices, logger: logger}
}

// Register mounts the directory routes on the given router group.
func (h *ServiceHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/services", h.List)
	rg.GET("/services/bulk", h.paywall.Gate(l402.OpBulkExport, h.prices.Bulk), h.BulkExport)
	rg.GET("/services/:slug", h.Get)
	rg.POST("/services", h.paywall.Gate(l402.OpSubmitService, h.prices.Submit), h.Submit)
	rg.PATCH("/services/:slug", h.Edit)
	rg.GET("/search", h.Search)
	rg.GET("/categories", h.Categories)
	rg.GET("/analytics", h.paywall.Gate(l402.OpAnalytics, h.prices.Analytics), h.Analytics)
	rg.GET("/services/:slug/reputation",
		h.paywall.Gate(l402.OpReputation, h.prices.Reputation), h.Reputation)
}

type submitRequest struct {
	Name              string      `json:"name" binding:"required"`
	URL               string      `json:"url" binding:"required"`
	Description       string      `json:"description"`
	PricingSats       int64       `json:"pricing_sats"`
	PricingModel      string      `json:"pricing_model"`
	Protocol          string      `json:"protocol"`
	OwnerName         string      `json:"owner_name"`
	OwnerContact      string      `json:"owner_contact"`
	LogoURL           string      `json:"logo_url"`
	CategoryIDs       []uuid.UUID `json:"category_ids"`
	ExistingEditToken string      `json:"existing_edit_token"`
}

// Submit handles POST /services. The edit token plaintext appears in the
// response only when it was freshly minted for a new domain; treat it like a
// password, it is not retrievable later.
func (h *ServiceHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.dir.Submit(c.Request.Context(), service.SubmitServiceRequest{
		Name:              req.Name,
		URL:               req.URL,
		Description:       req.Description,
		PricingSats:       req.PricingSats,
		PricingModel:      req.PricingModel,
		Protocol:          req.Protocol,
		OwnerName:         req.OwnerName,
		OwnerContact:      req.OwnerContact,
		LogoURL:           req.LogoURL,
		CategoryIDs:       req.CategoryIDs,
		ExistingEditToken: req.ExistingEditToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidServiceURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrTokenDomainMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.logger.Error("submit service", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit service"})
		}
		return
	}

	body := gin.H{"service": res.Service}
	if res.EditToken != "" {
		body["edit_token"] = res.EditToken
		body["edit_token_notice"] = "Store this token safely. It edits every listing on " +
			res.TokenDomain + " and will not be shown again."
	}
	c.JSON(http.StatusCreated, body)
}

// Get handles GET /services/:slug.
func (h *ServiceHandler) Get(c *gin.Context) {
	svc, err := h.dir.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, service.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		h.logger.Error("get service", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get service"})
		return
	}
	c.JSON(http.StatusOK, svc)
}

// List handles GET /services with filter, sort, and pagination query params.
func (h *ServiceHandler) List(c *gin.Context) {
	h.list(c, c.Query("q"))
}

// Search handles GET /search?q= as a thin alias over List.
func (h *ServiceHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q parameter is required"})
		return
	}
	h.list(c, q)
}

func (h *ServiceHandler) list(c *gin.Context, query string) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.dir.List(c.Request.Context(), repository.ListOptions{
		CategorySlug: c.Query("category"),
		Status:       c.Query("status"),
		Query:        query,
		Sort:         c.Query("sort"),
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		h.logger.Error("list services", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list services"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// BulkExport handles GET /services/bulk, the paid full-directory dump.
func (h *ServiceHandler) BulkExport(c *gin.Context) {
	services, err := h.dir.BulkExport(c.Request.Context())
	if err != nil {
		h.logger.Error("bulk export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export services"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services, "count": len(services)})
}

// Categories handles GET /categories.
func (h *ServiceHandler) Categories(c *gin.Context) {
	categories, err := h.dir.Categories(c.Request.Context())
	if err != nil {
		h.logger.Error("list categories", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list categories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

type editRequest struct {
	Name         *string     `json:"name"`
	Description  *string     `json:"description"`
	PricingSats  *int64      `json:"pricing_sats"`
	PricingModel *string     `json:"pricing_model"`
	Protocol     *string     `json:"protocol"`
	OwnerName    *string     `json:"owner_name"`
	OwnerContact *string     `json:"owner_contact"`
	LogoURL      *string     `json:"logo_url"`
	CategoryIDs  []uuid.UUID `json:"category_ids"`
}

// Edit handles PATCH /services/:slug. The domain's edit token must be
// presented in X-Edit-Token.
func (h *ServiceHandler) Edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	svc, err := h.dir.Edit(c.Request.Context(), c.Param("slug"), c.GetHeader("X-Edit-Token"),
		service.EditServiceRequest{
			Name:         req.Name,
			Description:  req.Description,
			PricingSats:  req.PricingSats,
			PricingModel: req.PricingModel,
			Protocol:     req.Protocol,
			OwnerName:    req.OwnerName,
			OwnerContact: req.OwnerContact,
			LogoURL:      req.LogoURL,
			CategoryIDs:  req.CategoryIDs,
		})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrServiceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
		case errors.Is(err, service.ErrEditForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid edit token"})
		default:
			h.logger.Error("edit service", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to edit service"})
		}
		return
	}
	c.JSON(http.StatusOK, svc)
}

// Analytics handles GET /analytics, the paid directory-wide report.
func (h *ServiceHandler) Analytics(c *gin.Context) {
	report, err := h.dir.Analytics(c.Request.Context())
	if err != nil {
		h.logger.Error("analytics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute analytics"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Reputation handles GET /services/:slug/reputation, the paid per-listing
// report.
func (h *ServiceHandler) Reputation(c *gin.Context) {
	report, err := h.dir.Reputation(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, service.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		h.logger.Error("reputation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute reputation"})
		return
	}
	c.JSON(http.StatusOK, report)
}
