// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/token"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// userTokenRequest mints a personal long-lived token for CLI and automation
// use. The caller chooses the lifetime up to the configured maximum.
type userTokenRequest struct {
	// ExpiresIn is the requested lifetime in seconds. Zero applies the
	// default; values outside (0, max] are rejected.
	ExpiresIn int64    `json:"expires_in,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	Audience  string   `json:"audience,omitempty"`
}

// handleUserToken mints a self-signed token for an already-authenticated
// user. Minting is rate limited per user per hour.
func (s *Server) handleUserToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.approvingUser(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+s.cfg.Issuer()+`"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	var req userTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body is not valid JSON"})
		return
	}

	lifetime := s.cfg.DefaultTokenLifetime
	if req.ExpiresIn != 0 {
		lifetime = time.Duration(req.ExpiresIn) * time.Second
		if lifetime <= 0 || lifetime > s.cfg.MaxTokenLifetime {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "expires_in must be positive and at most " + s.cfg.MaxTokenLifetime.String(),
			})
			return
		}
	}

	if !s.limiter.Allow(caller.Username) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "token generation rate limit exceeded",
		})
		return
	}

	tokenScopes := req.Scopes
	if len(tokenScopes) == 0 {
		tokenScopes = caller.Scopes
	}

	raw, claims, err := s.tokens.Mint(token.MintOptions{
		Subject:  caller.Username,
		UserID:   caller.UserID,
		Scopes:   tokenScopes,
		Groups:   caller.Groups,
		Audience: req.Audience,
		Lifetime: lifetime,
	})
	if err != nil {
		logger.Errorf("Failed to mint user token: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to mint token"})
		return
	}

	logger.Infow("Minted user-generated token",
		"jti", claims.ID,
		"expires_in", expiresIn(claims),
	)
	writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn(claims),
		Scope:       claims.Scope,
	})
}
