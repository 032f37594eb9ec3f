// Package client provides the satring Go SDK: browse the directory, pay
// L402 challenges, and manage listings with edit tokens.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PaymentChallenge is a 402 response from a gated route: pay the invoice,
// learn the preimage, retry with Credential(preimage).
type PaymentChallenge struct {
	AmountSats  int64  `json:"amount_sats"`
	PaymentHash string `json:"payment_hash"`
	Macaroon    string `json:"macaroon"`
	Invoice     string `json:"invoice"`
	Operation   string `json:"operation"`
}

// Credential formats the Authorization header value proving payment.
func (pc *PaymentChallenge) Credential(preimageHex string) string {
	return "L402 " + pc.Macaroon + ":" + preimageHex
}

// Category mirrors the server's category resource.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// Service mirrors the server's listing resource.
type Service struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	URL          string     `json:"url"`
	Description  string     `json:"description"`
	PricingSats  int64      `json:"pricing_sats"`
	PricingModel string     `json:"pricing_model"`
	Protocol     string     `json:"protocol"`
	OwnerName    string     `json:"owner_name"`
	LogoURL      string     `json:"logo_url"`
	AvgRating    float64    `json:"avg_rating"`
	RatingCount  int        `json:"rating_count"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	Categories   []Category `json:"categories"`
}

// Page is one page of listings.
type Page struct {
	Services []Service `json:"services"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// ListOptions filter and paginate ListServices.
type ListOptions struct {
	Category string
	Status   string
	Query    string
	Sort     string
	Page     int
	PageSize int
}

// SubmitRequest is the payload for Submit.
type SubmitRequest struct {
	Name              string   `json:"name"`
	URL               string   `json:"url"`
	Description       string   `json:"description,omitempty"`
	PricingSats       int64    `json:"pricing_sats,omitempty"`
	PricingModel      string   `json:"pricing_model,omitempty"`
	Protocol          string   `json:"protocol,omitempty"`
	OwnerName         string   `json:"owner_name,omitempty"`
	OwnerContact      string   `json:"owner_contact,omitempty"`
	LogoURL           string   `json:"logo_url,omitempty"`
	CategoryIDs       []string `json:"category_ids,omitempty"`
	ExistingEditToken string   `json:"existing_edit_token,omitempty"`
}

// SubmitResult is a successful submission. EditToken is set only when the
// server minted a fresh token for a new domain; store it, it is not shown
// again.
type SubmitResult struct {
	Service   Service `json:"service"`
	EditToken string  `json:"edit_token"`
}

// RecoveryChallenge is the code to publish at the listing domain's
// /.well-known/satring-verify path.
type RecoveryChallenge struct {
	Domain    string    `json:"domain"`
	Code      string    `json:"code"`
	PublishAt string    `json:"publish_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RecoveryResult is a successful domain verification: the replacement edit
// token, revealed exactly once.
type RecoveryResult struct {
	Domain    string `json:"domain"`
	EditToken string `json:"edit_token"`
	Services  int    `json:"services"`
}

// APIError is a non-2xx, non-402 server response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("satring: %d: %s", e.StatusCode, e.Message)
}

// Client is the satring SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the directory at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListServices returns one page of listings.
func (c *Client) ListServices(ctx context.Context, opts ListOptions) (*Page, error) {
	q := url.Values{}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}

	path := "/api/v1/services"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page Page
	if _, err := c.do(ctx, http.MethodGet, path, nil, "", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetService returns one listing by slug.
func (c *Client) GetService(ctx context.Context, slug string) (*Service, error) {
	var svc Service
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/services/"+url.PathEscape(slug), nil, "", &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// Search returns listings matching q.
func (c *Client) Search(ctx context.Context, query string) (*Page, error) {
	var page Page
	path := "/api/v1/search?q=" + url.QueryEscape(query)
	if _, err := c.do(ctx, http.MethodGet, path, nil, "", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Submit submits a listing without a credential. Against a payment-gated
// server it returns the 402 challenge; pay it, then call SubmitPaid. Against
// a bypass-mode server it returns the created listing directly.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, *PaymentChallenge, error) {
	return c.submit(ctx, req, "")
}

// SubmitPaid retries a submission with the paid credential from a previous
// 402 challenge.
func (c *Client) SubmitPaid(ctx context.Context, req SubmitRequest, ch *PaymentChallenge, preimageHex string) (*SubmitResult, error) {
	res, challenge, err := c.submit(ctx, req, ch.Credential(preimageHex))
	if err != nil {
		return nil, err
	}
	if challenge != nil {
		return nil, &APIError{StatusCode: http.StatusPaymentRequired, Message: "credential rejected, new challenge issued"}
	}
	return res, nil
}

func (c *Client) submit(ctx context.Context, req SubmitRequest, credential string) (*SubmitResult, *PaymentChallenge, error) {
	var res SubmitResult
	challenge, err := c.do(ctx, http.MethodPost, "/api/v1/services", req, credential, &res)
	if err != nil {
		return nil, nil, err
	}
	if challenge != nil {
		return nil, challenge, nil
	}
	return &res, nil, nil
}

// EditService updates listing fields using the domain's edit token. Fields
// holds only the keys to change, matching the server's PATCH semantics.
func (c *Client) EditService(ctx context.Context, slug, editToken string, fields map[string]any) (*Service, error) {
	path := "/api/v1/services/" + url.PathEscape(slug)
	req, err := c.newRequest(ctx, http.MethodPatch, path, fields, "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Edit-Token", editToken)

	var svc Service
	if _, err := c.doRequest(req, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// PaymentStatus polls whether an invoice has settled.
func (c *Client) PaymentStatus(ctx context.Context, paymentHash string) (bool, error) {
	var resp struct {
		Paid bool `json:"paid"`
	}
	path := "/api/v1/payments/" + url.PathEscape(paymentHash) + "/status"
	if _, err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return false, err
	}
	return resp.Paid, nil
}

// StartRecovery begins the lost-edit-token flow for a listing's domain.
func (c *Client) StartRecovery(ctx context.Context, slug string) (*RecoveryChallenge, error) {
	var ch RecoveryChallenge
	path := "/api/v1/services/" + url.PathEscape(slug) + "/recover/generate"
	if _, err := c.do(ctx, http.MethodPost, path, nil, "", &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// VerifyRecovery completes the lost-edit-token flow after the challenge code
// has been published on the domain.
func (c *Client) VerifyRecovery(ctx context.Context, slug string) (*RecoveryResult, error) {
	var res RecoveryResult
	path := "/api/v1/services/" + url.PathEscape(slug) + "/recover/verify"
	if _, err := c.do(ctx, http.MethodPost, path, nil, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Analytics fetches the paid directory-wide report. Call with an empty
// credential first to obtain the 402 challenge.
func (c *Client) Analytics(ctx context.Context, credential string) (map[string]any, *PaymentChallenge, error) {
	var report map[string]any
	challenge, err := c.do(ctx, http.MethodGet, "/api/v1/analytics", nil, credential, &report)
	if err != nil {
		return nil, nil, err
	}
	if challenge != nil {
		return nil, challenge, nil
	}
	return report, nil, nil
}

// do issues a request and decodes the response into out. A 402 response is
// not an error; it decodes into the returned PaymentChallenge instead.
func (c *Client) do(ctx context.Context, method, path string, body any, credential string, out any) (*PaymentChallenge, error) {
	req, err := c.newRequest(ctx, method, path, body, credential)
	if err != nil {
		return nil, err
	}
	return c.doRequest(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, credential string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", credential)
	}
	return req, nil
}

func (c *Client) doRequest(req *http.Request, out any) (*PaymentChallenge, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		var ch PaymentChallenge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("decode payment challenge: %w", err)
		}
		return &ch, nil
	}

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &payload)
		if payload.Error == "" {
			payload.Error = string(raw)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return nil, nil
}
