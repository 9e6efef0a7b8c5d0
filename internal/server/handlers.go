package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/BadgerOps/assetcdn/internal/health"
	"github.com/BadgerOps/assetcdn/internal/resource"
	"github.com/BadgerOps/assetcdn/internal/store"
)

const defaultHistoryLimit = 20

type resolveResponse struct {
	Path string `json:"path"`
	resource.ResolvedURL
}

type healthResponse struct {
	Ready   bool            `json:"ready"`
	Mode    resource.Mode   `json:"mode"`
	RoundID string          `json:"round_id,omitempty"`
	Results []health.Result `json:"results"`
}

type readyResponse struct {
	Ready bool          `json:"ready"`
	Mode  resource.Mode `json:"mode"`
}

// handleResolve resolves one or more ?path= values.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	paths := q["path"]
	if len(paths) == 0 {
		jsonError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	opts := resource.DefaultOptions()
	var err error
	if opts.EnableFallback, err = boolParam(q.Get("fallback"), opts.EnableFallback); err != nil {
		jsonError(w, http.StatusBadRequest, "fallback must be a boolean")
		return
	}
	if opts.CacheURLs, err = boolParam(q.Get("cache"), opts.CacheURLs); err != nil {
		jsonError(w, http.StatusBadRequest, "cache must be a boolean")
		return
	}
	opts.LocalBasePath = q.Get("local_base_path")

	resp := make([]resolveResponse, 0, len(paths))
	for _, p := range paths {
		resp = append(resp, resolveResponse{Path: p, ResolvedURL: s.manager.Resolve(p, opts)})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleReady answers 200 once the manager has its final inputs, 503 before.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: s.manager.IsReady(), Mode: s.manager.Mode()}
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.healthSnapshot())
}

// handleHealthRefresh discards the last round and runs a new one before
// answering.
func (s *Server) handleHealthRefresh(w http.ResponseWriter, r *http.Request) {
	s.manager.ResetHealth()
	if err := s.manager.Initialize(r.Context()); err != nil {
		s.logger.Warn("health refresh interrupted", "error", err)
		jsonError(w, http.StatusServiceUnavailable, "health check did not complete: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.healthSnapshot())
}

func (s *Server) healthSnapshot() healthResponse {
	resp := healthResponse{
		Ready:   s.manager.IsReady(),
		Mode:    s.manager.Mode(),
		Results: s.manager.HealthStatus(),
	}
	if round, ok := s.manager.LastRound(); ok {
		resp.RoundID = round.ID
	}
	return resp
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, http.StatusNotFound, "health history is not recorded")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rounds, err := s.store.ListRounds(limit)
	if err != nil {
		s.logger.Error("failed to list health rounds", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list health rounds")
		return
	}
	if rounds == nil {
		rounds = []store.RoundSummary{}
	}
	s.writeJSON(w, http.StatusOK, rounds)
}

func (s *Server) handleHealthRound(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, http.StatusNotFound, "health history is not recorded")
		return
	}

	id := r.PathValue("id")
	results, err := s.store.RoundResults(id)
	if err != nil {
		jsonError(w, http.StatusNotFound, "round not found: "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func boolParam(v string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "status", code, "error", err)
	}
}

func jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
