// Package handler exposes the directory over HTTP with gin.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/satring/satring/internal/l402"
	"go.uber.org/zap"
)

// Context keys set by the paywall on successful verification.
const (
	ctxKeyPaymentHash = "l402_payment_hash"
	ctxKeyOperation   = "l402_operation"
)

// Paywall gates priced routes behind the L402 challenge/response protocol.
// In bypass mode every request is admitted and the wallet is never called.
type Paywall struct {
	issuer   *l402.Issuer
	verifier *l402.Verifier
	bypass   bool
	logger   *zap.Logger
}

// NewPaywall creates a Paywall. bypass disables all payment gating; it is
// only set by explicit configuration, never as a fallback.
func NewPaywall(issuer *l402.Issuer, verifier *l402.Verifier, bypass bool, logger *zap.Logger) *Paywall {
	return &Paywall{issuer: issuer, verifier: verifier, bypass: bypass, logger: logger}
}

// Bypass reports whether payment gating is disabled.
func (p *Paywall) Bypass() bool { return p.bypass }

// Gate returns middleware that admits a request only with a verified
// L402 credential for op at priceSats. Requests without a credential get a
// 402 challenge carrying a macaroon and an invoice to pay.
func (p *Paywall) Gate(op l402.Operation, priceSats int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.bypass {
			c.Next()
			return
		}

		mac, preimage, ok := parseCredential(c.GetHeader("Authorization"))
		if !ok {
			p.challenge(c, op, priceSats)
			return
		}

		res, err := p.verifier.Verify(c.Request.Context(), op, priceSats, mac, preimage)
		if err != nil {
			kind := l402.Kind(err)
			recordVerification(string(op), kind)
			if errors.Is(err, l402.ErrBackendUnavailable) {
				c.Header("Retry-After", "5")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": kind})
				return
			}
			// Only the failure kind leaks to the caller.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": kind})
			return
		}

		recordVerification(string(op), "ok")
		c.Set(ctxKeyPaymentHash, res.PaymentHash)
		c.Set(ctxKeyOperation, string(res.Operation))
		c.Next()
	}
}

func (p *Paywall) challenge(c *gin.Context, op l402.Operation, priceSats int64) {
	ch, err := p.issuer.IssueChallenge(c.Request.Context(), op, priceSats)
	if err != nil {
		if errors.Is(err, l402.ErrBackendUnavailable) {
			c.Header("Retry-After", "5")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": l402.Kind(err),
			})
			return
		}
		p.logger.Error("issue payment challenge", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to issue challenge"})
		return
	}

	recordChallenge(string(op))
	c.Header("WWW-Authenticate",
		fmt.Sprintf("L402 macaroon=%q, invoice=%q", ch.Macaroon, ch.Invoice))
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"amount_sats":  ch.PriceSats,
		"payment_hash": ch.PaymentHash,
		"macaroon":     ch.Macaroon,
		"invoice":      ch.Invoice,
		"operation":    string(ch.Operation),
		"message":      "Pay the invoice, then retry with Authorization: L402 <macaroon>:<preimage>",
	})
}

// parseCredential splits an "L402 <macaroon>:<preimage>" Authorization header.
// The legacy "LSAT" scheme is accepted for compatibility.
func parseCredential(header string) (macaroon, preimage string, ok bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return "", "", false
	}
	switch strings.ToUpper(scheme) {
	case "L402", "LSAT":
	default:
		return "", "", false
	}
	macaroon, preimage, found = strings.Cut(strings.TrimSpace(rest), ":")
	if !found || macaroon == "" || preimage == "" {
		return "", "", false
	}
	return macaroon, preimage, true
}
