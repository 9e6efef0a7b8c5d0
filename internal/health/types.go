package health

import (
	"errors"
	"time"
)

// Probe failure sentinels. Their messages are what Result.Error carries.
var (
	ErrProbeTimeout = errors.New("timeout")
	ErrProbeNetwork = errors.New("probe failed")
)

// Endpoint is a configured mirror base URL. Priority is its position in the
// configured list; lower probes and ranks first on ties.
type Endpoint struct {
	BaseURL  string `json:"base_url"`
	Priority int    `json:"priority"`
}

// Result is the outcome of probing one endpoint in one round.
type Result struct {
	Endpoint       Endpoint  `json:"endpoint"`
	Available      bool      `json:"available"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Method         string    `json:"method,omitempty"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Options bound a health-check round.
type Options struct {
	Timeout        time.Duration
	MaxConcurrency int
	// ProbePath is a small well-known resource appended to each base URL.
	// Empty probes the base URL itself.
	ProbePath string
}

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxConcurrency = 3
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return o
}

// Round is one completed health-check pass over all endpoints. Results are
// ranked; a later round replaces an earlier one wholesale.
type Round struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

// AvailableCount returns how many endpoints were available in the round.
func (r Round) AvailableCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Available {
			n++
		}
	}
	return n
}
