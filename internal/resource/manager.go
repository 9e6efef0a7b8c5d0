// Package resource resolves logical resource paths to delivery URLs, choosing
// between the page's own origin and a ranked set of mirrors.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/BadgerOps/assetcdn/internal/cache"
	"github.com/BadgerOps/assetcdn/internal/config"
	"github.com/BadgerOps/assetcdn/internal/environment"
	"github.com/BadgerOps/assetcdn/internal/health"
	"github.com/BadgerOps/assetcdn/internal/metrics"
	"github.com/BadgerOps/assetcdn/internal/pathresolve"
	"github.com/BadgerOps/assetcdn/internal/safety"
)

// Mode names how a manager currently resolves.
type Mode string

const (
	ModeMirrors          Mode = "mirrors"
	ModeLocalDevelopment Mode = "local-development"
	ModeForceLocal       Mode = "force-local"
	ModeLocalOnly        Mode = "local-only"
)

// Manager resolves resource URLs. Construct one per application and share it;
// all methods are safe for concurrent use. ResourceURL never performs I/O.
type Manager struct {
	cfg       *config.Config
	endpoints []health.Endpoint
	resolver  *pathresolve.Resolver
	cache     *cache.Cache[ResolvedURL]
	flight    singleflight.Group

	logger   *slog.Logger
	checker  Checker
	recorder RoundRecorder
	metrics  *metrics.Metrics
	clock    clock.Clock
	location func() string
	opts     []Option

	mu    sync.RWMutex
	local *bool
	path  *locationMemo
	round *health.Round
	ready bool
	// generation changes on ResetHealth; a round started under an older
	// generation is discarded.
	generation uint64
	// epoch changes whenever cached answers may become wrong.
	epoch uint64
}

type locationMemo struct {
	origin   string
	basePath string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithChecker replaces the HTTP health checker.
func WithChecker(c Checker) Option {
	return func(m *Manager) { m.checker = c }
}

// WithRecorder records every completed round.
func WithRecorder(r RoundRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMetrics records resolutions, rounds and probes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock sets the clock for timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLocation supplies the current page URL. It is read when the
// local-development classification or the base path is (re)computed.
// Defaults to site.url.
func WithLocation(fn func() string) Option {
	return func(m *Manager) { m.location = fn }
}

// New creates a Manager from a copy of cfg. An invalid configuration is
// logged and degrades to whatever part of it is usable.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg = cfg.Clone()

	m := &Manager{
		cfg:       cfg,
		endpoints: cfg.Endpoints(),
		resolver:  pathresolve.NewResolver(cfg.Site.Routes),
		logger:    slog.Default(),
		clock:     clock.New(),
		opts:      opts,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.location == nil {
		siteURL := cfg.Site.URL
		m.location = func() string { return siteURL }
	}
	if m.checker == nil {
		m.checker = health.NewChecker(nil, m.logger,
			health.WithClock(m.clock),
			health.WithMetrics(m.metrics),
		)
	}

	c, err := cache.New[ResolvedURL](cfg.Cache.MaxEntries)
	if err != nil {
		return nil, err
	}
	m.cache = c

	if err := cfg.Validate(); err != nil {
		m.logger.Warn("resource configuration degraded", "error", err, "usable_mirrors", len(m.endpoints))
	}
	return m, nil
}

// Reconfigure returns a fresh Manager for cfg with the same options. The
// receiver keeps working with its old configuration.
func (m *Manager) Reconfigure(cfg *config.Config) (*Manager, error) {
	return New(cfg, m.opts...)
}

// Config returns a copy of the manager's configuration.
func (m *Manager) Config() *config.Config {
	return m.cfg.Clone()
}

// Endpoints returns the usable mirrors in configured order.
func (m *Manager) Endpoints() []health.Endpoint {
	return append([]health.Endpoint(nil), m.endpoints...)
}

// IsLocalDevelopment reports the memoized classification of the current
// location. It is false when local optimization is disabled.
func (m *Manager) IsLocalDevelopment() bool {
	m.mu.RLock()
	if m.local != nil {
		v := *m.local
		m.mu.RUnlock()
		return v
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		v := m.cfg.LocalOptimization.Enabled &&
			environment.Detect(m.location()) == environment.LocalDevelopment
		m.local = &v
	}
	return *m.local
}

// Mode reports how resolution currently behaves.
func (m *Manager) Mode() Mode {
	switch {
	case m.cfg.LocalOptimization.ForceLocal:
		return ModeForceLocal
	case !m.cfg.CDN.Enabled || len(m.endpoints) == 0:
		return ModeLocalOnly
	case m.IsLocalDevelopment():
		return ModeLocalDevelopment
	default:
		return ModeMirrors
	}
}

func (m *Manager) localOnly() bool {
	return m.Mode() != ModeMirrors
}

// BasePath returns the memoized deployment base path of the current location.
func (m *Manager) BasePath() string {
	return m.locationMemo().basePath
}

func (m *Manager) locationMemo() locationMemo {
	m.mu.RLock()
	if m.path != nil {
		v := *m.path
		m.mu.RUnlock()
		return v
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == nil {
		loc := m.location()
		base, err := m.resolver.ResolveBasePath(loc)
		if err != nil {
			m.logger.Warn("deployment base path ambiguous, using root", "location", loc, "error", err)
		}
		m.path = &locationMemo{origin: pathresolve.Origin(loc), basePath: base}
	}
	return *m.path
}

// Initialize runs the health-check round once. Concurrent callers share the
// in-flight round; later callers return immediately. In local modes it
// returns at once without any network I/O.
//
// Probe failures are recorded in the health status, never returned. The
// error is non-nil only when ctx ends before the round completes; the round
// itself keeps running for the other callers. A ResetHealth while waiting
// makes the caller wait for the round that replaces the discarded one.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.localOnly() {
		return nil
	}

	roundCtx := context.WithoutCancel(ctx)
	for {
		m.mu.RLock()
		ready, gen := m.ready, m.generation
		m.mu.RUnlock()
		if ready {
			return nil
		}

		ch := m.flight.DoChan(fmt.Sprintf("round-%d", gen), func() (interface{}, error) {
			m.runRound(roundCtx, gen)
			return nil, nil
		})

		select {
		case <-ch:
			// a ResetHealth during the round discards it; wait for the
			// current generation instead
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) runRound(ctx context.Context, gen uint64) {
	m.mu.RLock()
	done := m.ready && m.generation == gen
	m.mu.RUnlock()
	if done {
		return
	}

	round := health.Round{
		ID:        uuid.NewString(),
		StartedAt: m.clock.Now(),
	}
	m.logger.Info("starting mirror health check", "round", round.ID, "mirrors", len(m.endpoints))

	round.Results = m.checker.CheckAll(ctx, m.endpoints, m.cfg.HealthOptions())
	round.FinishedAt = m.clock.Now()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.logger.Info("discarding health check superseded by reset", "round", round.ID)
		return
	}
	m.round = &round
	m.ready = true
	m.epoch++
	m.cache.ResetAll()
	m.mu.Unlock()

	available := make(map[string]bool, len(round.Results))
	for _, r := range round.Results {
		available[r.Endpoint.BaseURL] = r.Available
	}
	m.metrics.RoundCompleted(available)

	if best, ok := health.FirstAvailable(round.Results); ok {
		m.logger.Info("mirror health check complete", "round", round.ID, "best", best.Endpoint.BaseURL, "response_ms", best.ResponseTimeMs)
	} else {
		m.logger.Warn("no mirror available, resolving to local paths", "round", round.ID)
	}

	if m.recorder != nil {
		if err := m.recorder.RecordRound(round); err != nil {
			m.logger.Warn("failed to record health round", "round", round.ID, "error", err)
		}
	}
}

// IsReady reports whether resolution has its final inputs: always true in
// local modes, otherwise true once a round has completed. Resolution works
// either way.
func (m *Manager) IsReady() bool {
	if m.localOnly() {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// HealthStatus returns the ranked results of the last completed round.
func (m *Manager) HealthStatus() []health.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.round == nil {
		return []health.Result{}
	}
	return append([]health.Result(nil), m.round.Results...)
}

// LastRound returns the last completed round.
func (m *Manager) LastRound() (health.Round, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.round == nil {
		return health.Round{}, false
	}
	r := *m.round
	r.Results = append([]health.Result(nil), m.round.Results...)
	return r, true
}

// ResetPathCache forgets the deployment base path and every cached URL.
func (m *Manager) ResetPathCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = nil
	m.invalidateLocked()
}

// ResetLocalDevelopmentCache forgets the local-development classification
// and every cached URL.
func (m *Manager) ResetLocalDevelopmentCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = nil
	m.invalidateLocked()
}

// ResetHealth forgets the last round so the next Initialize probes again.
// A round still in flight is discarded when it completes.
func (m *Manager) ResetHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round = nil
	m.ready = false
	m.generation++
	m.invalidateLocked()
}

func (m *Manager) invalidateLocked() {
	m.epoch++
	m.cache.ResetAll()
}

// CachedURLs returns the number of cached resolutions.
func (m *Manager) CachedURLs() int {
	return m.cache.Len()
}

// ResourceURL resolves p to a URL. It never blocks on the network: before
// the first round completes it answers with the primary mirror.
func (m *Manager) ResourceURL(p string, opts Options) string {
	return m.Resolve(p, opts).URL
}

// Resolve is ResourceURL with the source of the answer.
//
// Order: local modes give the local URL; otherwise the best available mirror
// of the last round; otherwise the local URL if opts.EnableFallback, else p
// unchanged. Absolute URLs and paths escaping the base come back unchanged.
func (m *Manager) Resolve(p string, opts Options) ResolvedURL {
	res := m.resolve(p, opts)
	m.metrics.Resolution(res.Source.String())
	return res
}

func (m *Manager) resolve(p string, opts Options) ResolvedURL {
	if pathresolve.IsAbsolute(p) {
		return m.passthrough(p)
	}
	clean, err := safety.CleanResourcePath(p)
	if err != nil {
		m.logger.Debug("resource path not resolvable, returning unchanged", "path", p, "error", err)
		return m.passthrough(p)
	}

	opts.LocalBasePath = pathresolve.NormalizeBase(opts.LocalBasePath)
	key := cache.Key{
		Path:          clean,
		Fallback:      opts.EnableFallback,
		LocalBasePath: opts.LocalBasePath,
	}

	m.mu.RLock()
	epoch := m.epoch
	m.mu.RUnlock()

	if opts.CacheURLs {
		if v, ok := m.cache.Get(key); ok {
			return v
		}
	}

	res, cacheable := m.compute(p, clean, opts)

	if opts.CacheURLs && cacheable {
		m.mu.RLock()
		if m.epoch == epoch {
			m.cache.Put(key, res)
		}
		m.mu.RUnlock()
	}
	return res
}

// compute picks the URL for a cleaned path. The bool is false for answers
// that must not be cached because health data has not arrived yet.
func (m *Manager) compute(original, clean string, opts Options) (ResolvedURL, bool) {
	if m.localOnly() {
		return m.localURL(clean, opts), true
	}

	m.mu.RLock()
	ready, round := m.ready, m.round
	m.mu.RUnlock()

	if !ready || round == nil {
		primary := m.endpoints[0]
		return m.mirrorURL(primary, clean), false
	}

	if best, ok := health.FirstAvailable(round.Results); ok {
		return m.mirrorURL(best.Endpoint, clean), true
	}
	if opts.EnableFallback {
		return m.localURL(clean, opts), true
	}
	return m.passthrough(original), true
}

func (m *Manager) mirrorURL(ep health.Endpoint, clean string) ResolvedURL {
	return ResolvedURL{
		URL:           pathresolve.Join(ep.BaseURL, clean),
		Source:        SourceMirror,
		EndpointIndex: ep.Priority,
		ResolvedAt:    m.clock.Now(),
	}
}

// localURL joins clean onto the local base path. The request option wins
// over local_optimization.local_base_path, which wins over the detected
// deployment base path.
func (m *Manager) localURL(clean string, opts Options) ResolvedURL {
	memo := m.locationMemo()

	base := memo.basePath
	switch {
	case opts.LocalBasePath != "":
		base = opts.LocalBasePath
	case m.cfg.LocalOptimization.LocalBasePath != "":
		base = pathresolve.NormalizeBase(m.cfg.LocalOptimization.LocalBasePath)
	}

	u := pathresolve.Join(base, clean)
	if !pathresolve.IsAbsolute(base) {
		u = memo.origin + u
	}
	return ResolvedURL{
		URL:           u,
		Source:        SourceLocal,
		EndpointIndex: -1,
		ResolvedAt:    m.clock.Now(),
	}
}

func (m *Manager) passthrough(p string) ResolvedURL {
	return ResolvedURL{
		URL:           p,
		Source:        SourcePassthrough,
		EndpointIndex: -1,
		ResolvedAt:    m.clock.Now(),
	}
}
