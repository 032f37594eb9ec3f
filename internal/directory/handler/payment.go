package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/satring/satring/internal/lnclient"
	"go.uber.org/zap"
)

// PaymentHandler lets clients poll invoice settlement while they wait to
// retry a gated request.
type PaymentHandler struct {
	gateway lnclient.Gateway
	bypass  bool
	logger  *zap.Logger
}

// NewPaymentHandler creates a PaymentHandler. In bypass mode every invoice
// reports paid without consulting the wallet.
func NewPaymentHandler(gateway lnclient.Gateway, bypass bool, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{gateway: gateway, bypass: bypass, logger: logger}
}

// Register mounts the payment routes on the given router group.
func (h *PaymentHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/payments/:hash/status", h.Status)
}

// Status handles GET /payments/:hash/status.
func (h *PaymentHandler) Status(c *gin.Context) {
	hash := c.Param("hash")
	if h.bypass {
		c.JSON(http.StatusOK, gin.H{"payment_hash": hash, "paid": true})
		return
	}

	paid, err := h.gateway.CheckPaid(c.Request.Context(), hash)
	if err != nil {
		if errors.Is(err, lnclient.ErrUnavailable) {
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment backend unavailable"})
			return
		}
		h.logger.Error("check payment status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check payment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_hash": hash, "paid": paid})
}
