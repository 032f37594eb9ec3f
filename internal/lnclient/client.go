// Package lnclient talks to an LNbits-compatible wallet API for creating
// Lightning invoices and checking their settlement status.
package lnclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when the wallet backend cannot be reached after
// the configured retries. Callers should treat it as retryable.
var ErrUnavailable = errors.New("payment backend unavailable")

// Invoice is a freshly created Lightning invoice.
type Invoice struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

// Gateway is the wallet interface consumed by the L402 issuer and verifier.
type Gateway interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error)
	CheckPaid(ctx context.Context, paymentHash string) (bool, error)
}

// Config holds wallet endpoint settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per-attempt timeout
	MaxRetries int           // additional attempts after the first
	Backoff    time.Duration // base backoff between attempts, doubled each retry
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a wallet client. Zero config fields get conservative defaults.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// CreateInvoice asks the wallet for a new invoice of amountSats. Transient
// network failures are retried with backoff before surfacing ErrUnavailable.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	body, err := json.Marshal(map[string]any{
		"out":    false,
		"amount": amountSats,
		"memo":   memo,
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("marshal invoice request: %w", err)
	}

	var inv Invoice
	err = c.withRetries(ctx, "create invoice", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/api/v1/payments", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("wallet returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	if inv.PaymentHash == "" || inv.PaymentRequest == "" {
		return Invoice{}, fmt.Errorf("%w: wallet response missing payment fields", ErrUnavailable)
	}
	return inv, nil
}

// CheckPaid reports whether the invoice identified by paymentHash has
// settled. An unknown hash reports unpaid rather than an error.
func (c *Client) CheckPaid(ctx context.Context, paymentHash string) (bool, error) {
	var paid bool
	err := c.withRetries(ctx, "check payment", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.cfg.BaseURL+"/api/v1/payments/"+paymentHash, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Api-Key", c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			paid = false
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("wallet returned status %d", resp.StatusCode)
		}
		var out struct {
			Paid bool `json:"paid"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
			return err
		}
		paid = out.Paid
		return nil
	})
	if err != nil {
		return false, err
	}
	return paid, nil
}

// withRetries runs attempt up to 1+MaxRetries times with doubling backoff.
// Context cancellation stops the retry loop immediately.
func (c *Client) withRetries(ctx context.Context, op string, attempt func() error) error {
	backoff := c.cfg.Backoff
	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrUnavailable, op, err)
		}
		lastErr = attempt()
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("wallet request failed",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Error(lastErr),
		)
		if i < c.cfg.MaxRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %s", ErrUnavailable, op, ctx.Err())
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, op, lastErr)
}
