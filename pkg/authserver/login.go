// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/session"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// internalState is the state value sent to the IdP: a nonce plus the RFC
// 8707 resource, base64url-encoded JSON. Authenticity comes from matching
// it against the signed session cookie, not from the encoding itself.
type internalState struct {
	Nonce    string `json:"nonce"`
	Resource string `json:"resource,omitempty"`
}

func encodeInternalState(st internalState) string {
	data, _ := json.Marshal(st)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeInternalState(s string) (internalState, bool) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return internalState{}, false
	}
	var st internalState
	if err := json.Unmarshal(data, &st); err != nil {
		return internalState{}, false
	}
	return st, true
}

// handleLogin begins Authorization Code + PKCE. The client's own state,
// redirect URI, and PKCE challenge are pinned into a signed cookie; the IdP
// only ever sees the internal state.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	adapter, err := s.providers.Get(provider)
	if err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "unknown or disabled provider: "+provider)
		return
	}

	q := r.URL.Query()
	challengeMethod := q.Get("code_challenge_method")
	if challengeMethod != "" && challengeMethod != CodeChallengeMethodS256 {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "only S256 code_challenge_method is supported")
		return
	}

	state := internalState{
		Nonce:    storage.RandomToken(16),
		Resource: q.Get("resource"),
	}
	encodedState := encodeInternalState(state)

	cookieValue, err := s.sessions.EncodeOAuth(&session.OAuthSession{
		InternalState:       encodedState,
		ClientID:            q.Get("client_id"),
		ClientState:         q.Get("state"),
		Provider:            provider,
		ClientRedirectURI:   q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: challengeMethod,
		Resource:            q.Get("resource"),
		Scope:               q.Get("scope"),
	})
	if err != nil {
		logger.Errorf("Failed to sign OAuth session: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to create login session")
		return
	}
	session.SetCookie(w, r, session.OAuthCookieName, cookieValue, s.cfg.OAuthSessionTTL)

	callback := s.cfg.EndpointURL("/oauth2/callback/" + provider)
	http.Redirect(w, r, adapter.AuthorizeURL(encodedState, callback, nil), http.StatusFound)
}
