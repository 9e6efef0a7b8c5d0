package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/assetcdn/internal/health"
)

// Source says where a resolved URL points.
type Source int

const (
	// SourceLocal is the page's own origin under the deployment base path.
	SourceLocal Source = iota
	// SourceMirror is a mirror endpoint.
	SourceMirror
	// SourcePassthrough means the path was returned unchanged.
	SourcePassthrough
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceMirror:
		return "mirror"
	case SourcePassthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// MarshalText encodes the source by name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ResolvedURL is the answer for one resource request.
type ResolvedURL struct {
	URL    string `json:"url"`
	Source Source `json:"source"`
	// EndpointIndex is the mirror's position in the configured list, or -1.
	EndpointIndex int       `json:"endpoint_index"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// Options adjust a single resolution.
type Options struct {
	// EnableFallback returns the local URL when no mirror is available;
	// otherwise the path comes back unchanged.
	EnableFallback bool
	// CacheURLs reads and writes the resolution cache for this call.
	CacheURLs bool
	// LocalBasePath overrides the configured and detected base path.
	LocalBasePath string
}

// DefaultOptions enables fallback and caching.
func DefaultOptions() Options {
	return Options{EnableFallback: true, CacheURLs: true}
}

// Checker runs a health-check round. *health.Checker implements it.
type Checker interface {
	CheckAll(ctx context.Context, endpoints []health.Endpoint, opts health.Options) []health.Result
}

// RoundRecorder receives every completed round. *store.Store implements it.
type RoundRecorder interface {
	RecordRound(round health.Round) error
}
