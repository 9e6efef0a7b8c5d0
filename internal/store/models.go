package store

import "time"

// RoundSummary is a recorded health-check round without its per-endpoint results
type RoundSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Endpoints  int       `json:"endpoints"`
	Available  int       `json:"available"`
}
