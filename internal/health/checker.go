// Package health probes listing URLs and tracks their live/dead status.
package health

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/satring/satring/internal/directory/repository"
	"go.uber.org/zap"
)

// Config holds prober configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// TargetLister returns the listings to probe. *repository.ServiceRepository
// satisfies this interface.
type TargetLister interface {
	ListProbeTargets(ctx context.Context) ([]repository.ProbeTarget, error)
}

// ResultMarker records a probe outcome on a listing.
type ResultMarker interface {
	MarkProbeResult(ctx context.Context, id uuid.UUID, alive bool, probedAt time.Time) error
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(alive bool)

// Checker runs periodic listing probes. A listing is only marked dead after
// FailThreshold consecutive failures; a single success marks it live again.
type Checker struct {
	lister     TargetLister
	marker     ResultMarker
	httpClient *http.Client
	failCounts map[uuid.UUID]int
	mu         sync.Mutex
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker.
func New(lister TargetLister, marker ResultMarker, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		lister:     lister,
		marker:     marker,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		failCounts: make(map[uuid.UUID]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the probe loop until quit is signalled.
func (c *Checker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CheckInterval-time.Second)
			c.CheckAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// CheckAll probes every eligible listing with bounded concurrency.
func (c *Checker) CheckAll(ctx context.Context) {
	targets, err := c.lister.ListProbeTargets(ctx)
	if err != nil {
		c.logger.Error("health: list probe targets", zap.Error(err))
		return
	}

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, t := range targets {
		wg.Add(1)
		go func(target repository.ProbeTarget) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			alive := c.probe(ctx, target.URL)
			if c.onMetrics != nil {
				c.onMetrics(alive)
			}

			c.mu.Lock()
			if alive {
				c.failCounts[target.ID] = 0
			} else {
				c.failCounts[target.ID]++
			}
			count := c.failCounts[target.ID]
			c.mu.Unlock()

			now := time.Now().UTC()
			switch {
			case alive:
				if err := c.marker.MarkProbeResult(ctx, target.ID, true, now); err != nil {
					c.logger.Warn("health: mark probe result", zap.Error(err))
				}
			case count == c.cfg.FailThreshold:
				// Marked dead exactly at the threshold; repeat failures keep
				// the original dead_since.
				if err := c.marker.MarkProbeResult(ctx, target.ID, false, now); err != nil {
					c.logger.Warn("health: mark probe result", zap.Error(err))
				}
				c.logger.Warn("health: listing dead",
					zap.String("url", target.URL),
					zap.Int("fail_count", count),
				)
			}
		}(t)
	}

	wg.Wait()
}

// probe attempts HEAD then GET, returning true on any 2xx response.
func (c *Checker) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
