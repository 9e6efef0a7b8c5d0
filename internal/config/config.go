package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/assetcdn/internal/health"
	"github.com/BadgerOps/assetcdn/internal/pathresolve"
	"github.com/BadgerOps/assetcdn/internal/safety"
)

// ErrConfigurationInvalid wraps every problem reported by Validate.
var ErrConfigurationInvalid = errors.New("configuration invalid")

// Config is the top-level configuration
type Config struct {
	Server            ServerConfig            `yaml:"server"`
	Site              SiteConfig              `yaml:"site"`
	CDN               CDNConfig               `yaml:"cdn"`
	LocalOptimization LocalOptimizationConfig `yaml:"local_optimization"`
	Cache             CacheConfig             `yaml:"cache"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// DBPath is the health-round history database; empty keeps it in memory.
	DBPath string `yaml:"db_path"`
}

// SiteConfig describes the page location assets are resolved for
type SiteConfig struct {
	URL    string   `yaml:"url"`
	Routes []string `yaml:"routes"`
}

// CDNConfig holds the mirror list and health-check settings
type CDNConfig struct {
	Enabled        bool              `yaml:"enabled"`
	MirrorBaseURLs []string          `yaml:"mirror_base_urls"`
	HealthCheck    HealthCheckConfig `yaml:"health_check"`
}

// HealthCheckConfig bounds a health-check round
type HealthCheckConfig struct {
	TimeoutMs      int    `yaml:"timeout_ms"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	ProbePath      string `yaml:"probe_path"`
}

// LocalOptimizationConfig controls local-development short-circuiting
type LocalOptimizationConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ForceLocal    bool   `yaml:"force_local"`
	LocalBasePath string `yaml:"local_base_path"`
}

// CacheConfig holds resolution cache settings
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
			DBPath: "",
		},
		Site: SiteConfig{
			URL:    "",
			Routes: append([]string(nil), pathresolve.DefaultRoutes...),
		},
		CDN: CDNConfig{
			Enabled:        true,
			MirrorBaseURLs: []string{},
			HealthCheck: HealthCheckConfig{
				TimeoutMs:      int(health.DefaultTimeout / time.Millisecond),
				MaxConcurrency: health.DefaultMaxConcurrency,
				ProbePath:      "favicon.ico",
			},
		},
		LocalOptimization: LocalOptimizationConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			MaxEntries: 10000,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and normalizes the result
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"assetcdn.yaml",
		"/etc/assetcdn/assetcdn.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "assetcdn", "assetcdn.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Normalize trims mirror URLs and replaces non-positive limits with defaults
func (c *Config) Normalize() {
	defaults := DefaultConfig()

	urls := c.CDN.MirrorBaseURLs[:0]
	for _, u := range c.CDN.MirrorBaseURLs {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			urls = append(urls, u)
		}
	}
	c.CDN.MirrorBaseURLs = urls

	if c.CDN.HealthCheck.TimeoutMs <= 0 {
		c.CDN.HealthCheck.TimeoutMs = defaults.CDN.HealthCheck.TimeoutMs
	}
	if c.CDN.HealthCheck.MaxConcurrency <= 0 {
		c.CDN.HealthCheck.MaxConcurrency = defaults.CDN.HealthCheck.MaxConcurrency
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = defaults.Cache.MaxEntries
	}
	c.LocalOptimization.LocalBasePath = pathresolve.NormalizeBase(c.LocalOptimization.LocalBasePath)
}

// Validate reports every problem in the config. The returned error wraps
// ErrConfigurationInvalid; individual problems are available through
// multierr.Errors.
func (c *Config) Validate() error {
	var errs error

	if c.CDN.Enabled && len(c.CDN.MirrorBaseURLs) == 0 {
		errs = multierr.Append(errs, errors.New("cdn.mirror_base_urls is empty"))
	}

	seen := make(map[string]bool)
	for i, raw := range c.CDN.MirrorBaseURLs {
		if _, err := safety.ValidateHTTPURL(raw); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cdn.mirror_base_urls[%d] %q: %w", i, raw, err))
			continue
		}
		if seen[raw] {
			errs = multierr.Append(errs, fmt.Errorf("cdn.mirror_base_urls[%d] %q: duplicate", i, raw))
		}
		seen[raw] = true
	}

	if c.CDN.HealthCheck.TimeoutMs <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("cdn.health_check.timeout_ms must be positive, got %d", c.CDN.HealthCheck.TimeoutMs))
	}
	if c.CDN.HealthCheck.MaxConcurrency <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("cdn.health_check.max_concurrency must be positive, got %d", c.CDN.HealthCheck.MaxConcurrency))
	}

	if c.Site.URL != "" {
		if _, err := safety.ValidateHTTPURL(stripPage(c.Site.URL)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("site.url %q: %w", c.Site.URL, err))
		}
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", ErrConfigurationInvalid, errs)
	}
	return nil
}

// stripPage drops the query and fragment a page URL may legitimately carry.
func stripPage(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Endpoints returns the usable mirrors in configured order. Malformed and
// duplicate URLs are skipped so the remaining mirrors still serve; Priority
// is the index in mirror_base_urls.
func (c *Config) Endpoints() []health.Endpoint {
	var endpoints []health.Endpoint
	seen := make(map[string]bool)
	for i, raw := range c.CDN.MirrorBaseURLs {
		if _, err := safety.ValidateHTTPURL(raw); err != nil || seen[raw] {
			continue
		}
		seen[raw] = true
		endpoints = append(endpoints, health.Endpoint{BaseURL: raw, Priority: i})
	}
	return endpoints
}

// HealthOptions converts the health_check section
func (c *Config) HealthOptions() health.Options {
	return health.Options{
		Timeout:        time.Duration(c.CDN.HealthCheck.TimeoutMs) * time.Millisecond,
		MaxConcurrency: c.CDN.HealthCheck.MaxConcurrency,
		ProbePath:      c.CDN.HealthCheck.ProbePath,
	}
}

// Clone returns a deep copy, so a running manager never observes later edits
func (c *Config) Clone() *Config {
	out := *c
	out.Site.Routes = append([]string(nil), c.Site.Routes...)
	out.CDN.MirrorBaseURLs = append([]string(nil), c.CDN.MirrorBaseURLs...)
	return &out
}
