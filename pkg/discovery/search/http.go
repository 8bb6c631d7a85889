// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/index"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/telemetry"
)

// Routes mounts the search endpoints on a router group.
func (s *Service) Routes() func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/search/semantic", s.handleSemantic)
		r.Post("/search/servers", s.handleServers)
		r.Post("/search/tools", s.handleTools)
	}
}

func (s *Service) handleSemantic(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SemanticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		telemetry.RecordSearch("semantic", "bad_request", time.Since(start))
		writeSearchError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.Semantic(r.Context(), req)
	if err != nil {
		writeServiceError(w, "semantic", start, err)
		return
	}
	telemetry.RecordSearch("semantic", "ok", time.Since(start))
	writeSearchJSON(w, resp)
}

func (s *Service) handleServers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req ServersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		telemetry.RecordSearch("servers", "bad_request", time.Since(start))
		writeSearchError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results, err := s.Servers(r.Context(), req)
	if err != nil {
		writeServiceError(w, "servers", start, err)
		return
	}
	telemetry.RecordSearch("servers", "ok", time.Since(start))
	writeSearchJSON(w, resultsPayload(results))
}

func (s *Service) handleTools(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req ToolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		telemetry.RecordSearch("tools", "bad_request", time.Since(start))
		writeSearchError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results, err := s.Tools(r.Context(), req)
	if err != nil {
		writeServiceError(w, "tools", start, err)
		return
	}
	telemetry.RecordSearch("tools", "ok", time.Since(start))
	writeSearchJSON(w, resultsPayload(results))
}

func resultsPayload(results []index.Result) map[string]any {
	if results == nil {
		results = []index.Result{}
	}
	return map[string]any{"results": results, "total": len(results)}
}

func writeServiceError(w http.ResponseWriter, kind string, start time.Time, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		telemetry.RecordSearch(kind, "bad_request", time.Since(start))
		writeSearchError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrIndexUnavailable):
		telemetry.RecordSearch(kind, "unavailable", time.Since(start))
		logger.Errorf("Search index unavailable: %v", err)
		writeSearchError(w, http.StatusServiceUnavailable, "discovery index unavailable")
	default:
		telemetry.RecordSearch(kind, "error", time.Since(start))
		logger.Errorf("Search failed: %v", err)
		writeSearchError(w, http.StatusInternalServerError, "search failed")
	}
}

func writeSearchError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": detail})
}

func writeSearchJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
