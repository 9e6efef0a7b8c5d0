package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BadgerOps/assetcdn/internal/health"
)

// InMemory is the DSN used when no database path is configured. History
// then lives only as long as the process.
const InMemory = ":memory:"

// Store provides SQLite-backed history of health-check rounds. It is a
// diagnostics log; ranking never reads from it.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		dbPath = InMemory
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == InMemory {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RecordRound inserts a round and its ranked results in one transaction
func (s *Store) RecordRound(round health.Round) error {
	if round.ID == "" {
		return fmt.Errorf("round id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const roundQuery = `
		INSERT INTO health_rounds (id, started_at, finished_at, endpoints, available)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(roundQuery,
		round.ID, round.StartedAt.UTC(), round.FinishedAt.UTC(),
		len(round.Results), round.AvailableCount(),
	); err != nil {
		return fmt.Errorf("failed to insert health round: %w", err)
	}

	const resultQuery = `
		INSERT INTO health_results (
			round_id, rank, base_url, priority, available, response_time_ms,
			method, error, checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for rank, r := range round.Results {
		if _, err := tx.Exec(resultQuery,
			round.ID, rank, r.Endpoint.BaseURL, r.Endpoint.Priority, r.Available,
			r.ResponseTimeMs, r.Method, r.Error, r.CheckedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert health result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit health round: %w", err)
	}
	return nil
}

// ListRounds returns recorded rounds, most recent first
func (s *Store) ListRounds(limit int) ([]RoundSummary, error) {
	query := `
		SELECT id, started_at, finished_at, endpoints, available
		FROM health_rounds
		ORDER BY finished_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query health rounds: %w", err)
	}
	defer rows.Close()

	var rounds []RoundSummary
	for rows.Next() {
		var r RoundSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Endpoints, &r.Available); err != nil {
			return nil, fmt.Errorf("failed to scan health round: %w", err)
		}
		rounds = append(rounds, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health rounds: %w", err)
	}

	return rounds, nil
}

// RoundResults returns the ranked results of one round
func (s *Store) RoundResults(roundID string) ([]health.Result, error) {
	const query = `
		SELECT base_url, priority, available, response_time_ms,
		       COALESCE(method, ''), COALESCE(error, ''), checked_at
		FROM health_results
		WHERE round_id = ?
		ORDER BY rank ASC
	`

	rows, err := s.db.Query(query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query health results: %w", err)
	}
	defer rows.Close()

	var results []health.Result
	for rows.Next() {
		var (
			r         health.Result
			checkedAt time.Time
		)
		if err := rows.Scan(
			&r.Endpoint.BaseURL, &r.Endpoint.Priority, &r.Available,
			&r.ResponseTimeMs, &r.Method, &r.Error, &checkedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan health result: %w", err)
		}
		r.CheckedAt = checkedAt
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health results: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("health round not found: %s", roundID)
	}

	return results, nil
}
