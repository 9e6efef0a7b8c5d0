package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BadgerOps/assetcdn/internal/health"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRound(id string, finished time.Time) health.Round {
	return health.Round{
		ID:         id,
		StartedAt:  finished.Add(-2 * time.Second),
		FinishedAt: finished,
		Results: []health.Result{
			{
				Endpoint:       health.Endpoint{BaseURL: "https://b.test", Priority: 1},
				Available:      true,
				ResponseTimeMs: 12,
				Method:         "asset",
				CheckedAt:      finished,
			},
			{
				Endpoint:       health.Endpoint{BaseURL: "https://a.test", Priority: 0},
				Available:      false,
				ResponseTimeMs: 5000,
				Error:          "timeout",
				CheckedAt:      finished,
			},
		},
	}
}

func TestNew(t *testing.T) {
	store := newTestStore(t)

	if store.db == nil {
		t.Error("Expected db to be initialized")
	}
	if store.logger == nil {
		t.Error("Expected logger to be initialized")
	}
}

func TestNewFileBacked(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New(%q) failed: %v", dbPath, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Reopening must not re-run migrations.
	store, err = New(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()
}

func TestRecordRoundAndResults(t *testing.T) {
	store := newTestStore(t)
	finished := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	if err := store.RecordRound(sampleRound("round-1", finished)); err != nil {
		t.Fatalf("RecordRound() failed: %v", err)
	}

	results, err := store.RoundResults("round-1")
	if err != nil {
		t.Fatalf("RoundResults() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	first := results[0]
	if first.Endpoint.BaseURL != "https://b.test" || !first.Available || first.Method != "asset" {
		t.Errorf("results[0] = %+v", first)
	}
	if first.Endpoint.Priority != 1 || first.ResponseTimeMs != 12 {
		t.Errorf("results[0] priority/latency = %d/%d", first.Endpoint.Priority, first.ResponseTimeMs)
	}
	if !first.CheckedAt.Equal(finished) {
		t.Errorf("results[0].CheckedAt = %s, want %s", first.CheckedAt, finished)
	}

	second := results[1]
	if second.Available || second.Error != "timeout" || second.Method != "" {
		t.Errorf("results[1] = %+v", second)
	}
}

func TestRecordRoundRequiresID(t *testing.T) {
	store := newTestStore(t)
	if err := store.RecordRound(health.Round{}); err == nil {
		t.Fatal("expected error for round without id")
	}
}

func TestRecordRoundDuplicateID(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.RecordRound(sampleRound("dup", now)); err != nil {
		t.Fatalf("first RecordRound() failed: %v", err)
	}
	if err := store.RecordRound(sampleRound("dup", now)); err == nil {
		t.Fatal("expected error for duplicate round id")
	}

	results, err := store.RoundResults("dup")
	if err != nil {
		t.Fatalf("RoundResults() failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("failed insert must roll back, got %d results", len(results))
	}
}

func TestListRounds(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := store.RecordRound(sampleRound(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("RecordRound(%s) failed: %v", id, err)
		}
	}

	rounds, err := store.ListRounds(0)
	if err != nil {
		t.Fatalf("ListRounds() failed: %v", err)
	}
	if len(rounds) != 3 {
		t.Fatalf("expected 3 rounds, got %d", len(rounds))
	}
	if rounds[0].ID != "r3" || rounds[2].ID != "r1" {
		t.Errorf("rounds not ordered most recent first: %s, %s, %s", rounds[0].ID, rounds[1].ID, rounds[2].ID)
	}
	if rounds[0].Endpoints != 2 || rounds[0].Available != 1 {
		t.Errorf("rounds[0] counts = %d/%d, want 2/1", rounds[0].Endpoints, rounds[0].Available)
	}

	limited, err := store.ListRounds(2)
	if err != nil {
		t.Fatalf("ListRounds(2) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 rounds with limit, got %d", len(limited))
	}
}

func TestRoundResultsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.RoundResults("missing"); err == nil {
		t.Fatal("expected error for unknown round")
	}
}
