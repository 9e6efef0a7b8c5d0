// Package health probes mirror endpoints and ranks them by availability and
// latency.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/assetcdn/internal/metrics"
	"github.com/BadgerOps/assetcdn/internal/pathresolve"
	"github.com/BadgerOps/assetcdn/internal/safety"
)

const (
	userAgent         = "assetcdn/1.0"
	maxProbeBodyBytes = 64 * 1024
)

// tier is one step of the probe degrade. Cheaper signals come first.
type tier struct {
	name   string
	method string
	ranged bool
}

var probeTiers = []tier{
	{name: "asset", method: http.MethodGet, ranged: true},
	{name: "head", method: http.MethodHead},
	{name: "get", method: http.MethodGet},
}

// Checker runs health-check rounds against mirror endpoints.
type Checker struct {
	client  *http.Client
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock sets the clock used for timestamps and latency.
func WithClock(c clock.Clock) Option {
	return func(ch *Checker) { ch.clock = c }
}

// WithMetrics records probe attempts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ch *Checker) { ch.metrics = m }
}

// NewChecker creates a Checker. A nil client selects a hardened default.
func NewChecker(client *http.Client, logger *slog.Logger, opts ...Option) *Checker {
	if client == nil {
		client = safety.NewHTTPClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		client: client,
		logger: logger,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAll probes every endpoint and returns the ranked results. Endpoints
// are probed in batches of at most MaxConcurrency; a batch completes before
// the next one starts. Failures are reported in the results, never returned.
func (c *Checker) CheckAll(ctx context.Context, endpoints []Endpoint, opts Options) []Result {
	opts = opts.withDefaults()
	results := make([]Result, len(endpoints))

	for start := 0; start < len(endpoints); start += opts.MaxConcurrency {
		end := min(start+opts.MaxConcurrency, len(endpoints))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = c.Probe(ctx, endpoints[i], opts)
				return nil
			})
		}
		_ = g.Wait()
	}

	ranked := Rank(results)

	available := 0
	for _, r := range ranked {
		if r.Available {
			available++
		}
	}
	c.logger.Info("mirror health check complete", "endpoints", len(endpoints), "available", available)
	return ranked
}

// Probe checks a single endpoint, degrading from a small-asset fetch to HEAD
// to GET. All tiers share one deadline of opts.Timeout.
func (c *Checker) Probe(ctx context.Context, ep Endpoint, opts Options) Result {
	opts = opts.withDefaults()
	start := c.clock.Now()
	result := Result{Endpoint: ep}

	target := ep.BaseURL
	if opts.ProbePath != "" {
		target = pathresolve.Join(ep.BaseURL, opts.ProbePath)
	}

	probeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var lastErr error
	for _, t := range probeTiers {
		err := c.attempt(probeCtx, t, target)
		if err == nil {
			result.Available = true
			result.Method = t.name
			break
		}
		lastErr = err
		if probeCtx.Err() != nil {
			break
		}
		c.logger.Debug("probe tier failed, escalating", "mirror", ep.BaseURL, "tier", t.name, "error", err)
	}

	elapsed := c.clock.Since(start)
	result.ResponseTimeMs = int(elapsed.Milliseconds())
	result.CheckedAt = c.clock.Now()
	c.metrics.ProbeFinished(elapsed)

	if !result.Available {
		switch {
		case errors.Is(probeCtx.Err(), context.DeadlineExceeded):
			result.Error = ErrProbeTimeout.Error()
		case probeCtx.Err() != nil:
			result.Error = probeCtx.Err().Error()
		default:
			result.Error = fmt.Errorf("%w: %v", ErrProbeNetwork, lastErr).Error()
		}
		c.logger.Warn("mirror unavailable", "mirror", ep.BaseURL, "error", result.Error)
	}
	return result
}

func (c *Checker) attempt(ctx context.Context, t tier, target string) error {
	err := c.do(ctx, t, target)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if ctx.Err() != nil {
			outcome = "timeout"
		}
	}
	c.metrics.ProbeAttempt(t.name, outcome)
	return err
}

func (c *Checker) do(ctx context.Context, t tier, target string) error {
	req, err := http.NewRequestWithContext(ctx, t.method, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if t.ranged {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if t.method == http.MethodGet {
		if _, err := safety.ReadAllWithLimit(resp.Body, maxProbeBodyBytes); err != nil && !errors.Is(err, safety.ErrBodyTooLarge) {
			return fmt.Errorf("reading response body: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d for %s %s", resp.StatusCode, t.method, target)
	}
	return nil
}

// Rank orders results available-first by ascending response time.
// Unavailable results follow in their original order; the sort is stable
// so configured order breaks ties.
func Rank(results []Result) []Result {
	ranked := make([]Result, len(results))
	copy(ranked, results)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Available != ranked[j].Available {
			return ranked[i].Available
		}
		if !ranked[i].Available {
			return false
		}
		return ranked[i].ResponseTimeMs < ranked[j].ResponseTimeMs
	})
	return ranked
}

// FirstAvailable returns the best available result, if any.
func FirstAvailable(ranked []Result) (Result, bool) {
	for _, r := range ranked {
		if r.Available {
			return r, true
		}
	}
	return Result{}, false
}
