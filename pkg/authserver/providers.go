// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/session"
)

// handleProviders lists the enabled identity providers.
func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.providers.List(),
		"default":   s.cfg.AuthProvider,
	})
}

// handleLogout clears the gateway session and, when the provider supports
// end-session, forwards the browser to the IdP logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	session.ClearCookie(w, session.LoginCookieName)
	session.ClearCookie(w, session.OAuthCookieName)

	adapter, err := s.providers.Get(provider)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
		return
	}

	redirectURI := r.URL.Query().Get("post_logout_redirect_uri")
	if redirectURI == "" {
		redirectURI = s.cfg.AuthServerExternalURL
	}
	if logout := adapter.LogoutURL(redirectURI); logout != "" {
		http.Redirect(w, r, logout, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
