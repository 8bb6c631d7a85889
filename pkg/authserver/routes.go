// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// Handler builds the full HTTP surface: root-level well-known metadata and
// the /authorize shim, plus all operational endpoints under the API prefix.
// Additional prefixed routes (the enforcement point, discovery) are
// registered through extra.
func (s *Server) Handler(extra ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	// Metadata lives at the root origin, not under the prefix (RFC 8414).
	r.Get("/.well-known/oauth-authorization-server", s.handleAuthServerMetadata)
	r.Get("/.well-known/openid-configuration", s.handleOpenIDConfiguration)
	r.Get("/.well-known/jwks.json", s.handleJWKS)
	r.Get("/authorize", s.handleAuthorizeShim)
	r.Get("/healthz", s.handleHealth)

	r.Route(s.cfg.APIPrefix, func(api chi.Router) {
		api.Post("/oauth2/register", s.handleRegister)
		api.Get("/oauth2/clients", s.handleListClients)
		api.Get("/oauth2/login/{provider}", s.handleLogin)
		api.Get("/oauth2/callback/{provider}", s.handleCallback)
		api.Post("/oauth2/token", s.handleToken)
		api.Post("/oauth2/device/code", s.handleDeviceCode)
		api.Get("/oauth2/device/verify", s.handleDeviceVerify)
		api.Post("/oauth2/device/approve", s.handleDeviceApprove)
		api.Get("/oauth2/providers", s.handleProviders)
		api.Get("/oauth2/logout/{provider}", s.handleLogout)
		api.Post("/internal/tokens", s.handleUserToken)

		for _, register := range extra {
			register(api)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "storage unreachable",
		})
		return
	}
	for _, check := range s.healthChecks {
		if err := check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// cors answers preflight and stamps the allowed origin when it is in the
// configured allow list.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// requestLogger records one line per request. Tokens and auth headers are
// never logged.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
