// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the OAuth flow engine: dynamic client
// registration, Authorization Code + PKCE against upstream identity
// providers, the RFC 8628 device grant, refresh and client-credentials
// grants, and the RFC 8414 metadata surface.
package authserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/token"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/ratelimit"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/session"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/scopes"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/userstore"
)

// OAuth error codes returned in RFC 6749 error bodies.
const (
	ErrInvalidRequest       = "invalid_request"
	ErrInvalidClient        = "invalid_client"
	ErrInvalidGrant         = "invalid_grant"
	ErrUnsupportedGrantType = "unsupported_grant_type"
	ErrAuthorizationPending = "authorization_pending"
	ErrAccessDenied         = "access_denied"
	ErrExpiredToken         = "expired_token"
	ErrServerError          = "server_error"
)

// Grant type identifiers.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// Server wires the flow engine's collaborators together.
type Server struct {
	cfg       *config.Config
	store     storage.Store
	tokens    *token.Service
	providers *idp.Registry
	policy    *scopes.Policy
	users     userstore.Resolver
	limiter   *ratelimit.HourlyLimiter
	sessions  *session.Codec

	healthChecks []func(context.Context) error
}

// New creates the auth server.
func New(
	cfg *config.Config,
	store storage.Store,
	tokens *token.Service,
	providers *idp.Registry,
	policy *scopes.Policy,
	users userstore.Resolver,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		tokens:    tokens,
		providers: providers,
		policy:    policy,
		users:     users,
		limiter:   ratelimit.NewHourlyLimiter(cfg.MaxTokensPerUserPerHour),
		sessions:  session.NewCodec(cfg.SecretKey),
	}
}

// AddHealthCheck registers an extra dependency probe for /healthz. Checks
// run on every health request, so they should be cheap.
func (s *Server) AddHealthCheck(check func(context.Context) error) {
	s.healthChecks = append(s.healthChecks, check)
}

// Sessions exposes the cookie codec to the enforcement point, which accepts
// the login session as a first-class credential.
func (s *Server) Sessions() *session.Codec {
	return s.sessions
}

// sweep lazily removes expired flow state. Called before every mutation in
// place of a background reaper.
func (s *Server) sweep(ctx context.Context) {
	s.store.Sweep(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// oauthError writes an RFC 6749 error body. OAuth endpoints never emit
// problem-style JSON.
func oauthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
