package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidServiceURL is returned when a listing URL has no usable host.
var ErrInvalidServiceURL = errors.New("service URL has no valid host")

// NormalizeDomain extracts the canonical domain from a service URL: the
// lowercased hostname with any port stripped. Edit tokens and domain
// challenges are scoped by this value.
func NormalizeDomain(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", ErrInvalidServiceURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidServiceURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrInvalidServiceURL
	}
	return host, nil
}
