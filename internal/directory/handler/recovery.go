package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/satring/satring/internal/directory/service"
	"go.uber.org/zap"
)

// RecoveryHandler handles lost-edit-token recovery via domain ownership
// proof.
type RecoveryHandler struct {
	dir      *service.DirectoryService
	recovery *service.RecoveryService
	logger   *zap.Logger
}

// NewRecoveryHandler creates a RecoveryHandler.
func NewRecoveryHandler(dir *service.DirectoryService, recovery *service.RecoveryService, logger *zap.Logger) *RecoveryHandler {
	return &RecoveryHandler{dir: dir, recovery: recovery, logger: logger}
}

// Register mounts the recovery routes on the given router group.
func (h *RecoveryHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/services/:slug/recover/generate", h.Generate)
	rg.POST("/services/:slug/recover/verify", h.Verify)
}

// Generate handles POST /services/:slug/recover/generate. It issues (or
// re-returns) the pending challenge code for the listing's domain.
func (h *RecoveryHandler) Generate(c *gin.Context) {
	svc, err := h.dir.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, service.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		h.logger.Error("get service for recovery", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start recovery"})
		return
	}

	ch, err := h.recovery.GenerateChallenge(c.Request.Context(), svc.Domain)
	if err != nil {
		h.logger.Error("generate domain challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate challenge"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"domain":     ch.Domain,
		"code":       ch.Code,
		"publish_at": "https://" + ch.Domain + service.WellKnownPath,
		"expires_at": ch.ExpiresAt,
		"instructions": "Publish the code as the plain-text body at the URL above, " +
			"then call POST /api/v1/services/" + c.Param("slug") + "/recover/verify",
	})
}

// Verify handles POST /services/:slug/recover/verify. On success the
// domain's edit token is replaced and the new plaintext is returned exactly
// once.
func (h *RecoveryHandler) Verify(c *gin.Context) {
	svc, err := h.dir.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, service.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		h.logger.Error("get service for recovery", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify recovery"})
		return
	}

	token, plaintext, err := h.recovery.Verify(c.Request.Context(), svc.Domain)
	if err != nil {
		recordRecovery("failure")
		switch {
		case errors.Is(err, service.ErrNoPendingChallenge):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrChallengeExpired):
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrCodeMismatch), errors.Is(err, service.ErrDomainFetchFailed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			h.logger.Error("verify domain challenge", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification error"})
		}
		return
	}

	recordRecovery("success")
	c.JSON(http.StatusOK, gin.H{
		"domain":     token.Domain,
		"edit_token": plaintext,
		"services":   len(token.ServiceIDs),
		"edit_token_notice": "Store this token safely. The previous token is revoked " +
			"and this one will not be shown again.",
	})
}
