// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/session"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/userstore"
)

// authCodeLifetime bounds internal authorization codes (§ RFC 6749 advises
// well under 10 minutes).
const authCodeLifetime = 10 * time.Minute

// handleCallback resumes the flow after the IdP redirects back. It exchanges
// the IdP code, builds the mapped user context, mints an internal
// authorization code, and sends the user agent on to the client.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	// 1. IdP-reported errors short-circuit to the configured error page.
	if idpErr := q.Get("error"); idpErr != "" {
		logger.Warnw("IdP returned error on callback", "provider", provider, "error", idpErr)
		if s.cfg.ErrorRedirectURL != "" {
			http.Redirect(w, r, s.cfg.ErrorRedirectURL+"?error="+url.QueryEscape(idpErr), http.StatusFound)
			return
		}
		oauthError(w, http.StatusBadRequest, idpErr, q.Get("error_description"))
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing code or state")
		return
	}

	// 2. The signed cookie is the flow's server-side memory. An expired
	// cookie means a stale login attempt: answer 401, not 400, so MCP remote
	// bridges restart the flow instead of erroring out.
	sess, err := s.callbackSession(r)
	if err != nil {
		if errors.Is(err, session.ErrExpiredSession) {
			s.unauthorizedCallback(w, state)
			return
		}
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing or invalid login session")
		return
	}

	// 3. The state echoed by the IdP must match the cookie's copy, and the
	// callback path must match the provider the flow started with.
	if state != sess.InternalState || provider != sess.Provider {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "state mismatch")
		return
	}

	adapter, err := s.providers.Get(provider)
	if err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "unknown or disabled provider: "+provider)
		return
	}

	// 4. Redeem the IdP code.
	bundle, err := adapter.ExchangeCode(r.Context(), code, s.cfg.EndpointURL("/oauth2/callback/"+provider))
	if err != nil {
		logger.Errorw("IdP code exchange failed", "provider", provider, "retryable", idp.IsRetryable(err))
		if idp.IsRetryable(err) {
			oauthError(w, http.StatusBadGateway, ErrServerError, "identity provider unreachable")
			return
		}
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "code exchange rejected by identity provider")
		return
	}

	// 5. Build the mapped user context, preferring ID-token claims.
	user, err := s.mapCallbackUser(r, adapter, bundle)
	if err != nil {
		logger.Errorf("Failed to build user context: %v", err)
		oauthError(w, http.StatusBadGateway, ErrServerError, "failed to resolve user identity")
		return
	}

	// 6. Mint the internal authorization code and return to the client with
	// the client's own state.
	authCode := &storage.AuthorizationCode{
		Code:                storage.NewSecret(),
		ClientID:            sess.ClientID,
		RedirectURI:         sess.ClientRedirectURI,
		CodeChallenge:       sess.CodeChallenge,
		CodeChallengeMethod: sess.CodeChallengeMethod,
		IdPTokens:           bundle,
		User:                user,
		Resource:            sess.Resource,
		Scope:               sess.Scope,
		ExpiresAt:           time.Now().Add(authCodeLifetime),
		CreatedAt:           time.Now(),
	}
	s.sweep(r.Context())
	if err := s.store.PutAuthorizationCode(r.Context(), authCode); err != nil {
		logger.Errorf("Failed to store authorization code: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to store authorization code")
		return
	}

	session.ClearCookie(w, session.OAuthCookieName)
	s.establishLoginSession(w, r, provider, user)

	if sess.ClientRedirectURI == "" {
		// Flow started without a client redirect (browser login); nothing to
		// hand the code to.
		writeJSON(w, http.StatusOK, map[string]string{"status": "authenticated", "username": user.Username})
		return
	}

	redirect, err := url.Parse(sess.ClientRedirectURI)
	if err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "invalid redirect_uri")
		return
	}
	rq := redirect.Query()
	rq.Set("code", authCode.Code)
	if sess.ClientState != "" {
		rq.Set("state", sess.ClientState)
	}
	redirect.RawQuery = rq.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *Server) callbackSession(r *http.Request) (*session.OAuthSession, error) {
	cookie, err := r.Cookie(session.OAuthCookieName)
	if err != nil {
		return nil, session.ErrInvalidSession
	}
	return s.sessions.DecodeOAuth(cookie.Value, s.cfg.OAuthSessionTTL)
}

// unauthorizedCallback answers an expired login session with 401 and a
// WWW-Authenticate header pointing at the protected-resource metadata
// derived from the resource carried in the state, when one is present.
func (s *Server) unauthorizedCallback(w http.ResponseWriter, state string) {
	challenge := fmt.Sprintf("Bearer realm=%q", s.cfg.Issuer())
	if st, ok := decodeInternalState(state); ok && st.Resource != "" {
		if metadata := protectedResourceMetadataURL(st.Resource); metadata != "" {
			challenge += fmt.Sprintf(", resource_metadata=%q", metadata)
		}
	}
	w.Header().Set("WWW-Authenticate", challenge)
	oauthError(w, http.StatusUnauthorized, ErrInvalidRequest, "login session expired, restart the flow")
}

// protectedResourceMetadataURL derives the RFC 9728 metadata URL for a
// resource: origin + /.well-known/oauth-protected-resource + resource path.
func protectedResourceMetadataURL(resource string) string {
	u, err := url.Parse(resource)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/.well-known/oauth-protected-resource" + u.Path
}

func (s *Server) mapCallbackUser(r *http.Request, adapter idp.Adapter, bundle *idp.TokenBundle) (*idp.UserContext, error) {
	var claims map[string]any
	if bundle.IDToken != "" {
		var err error
		claims, err = adapter.ValidateToken(r.Context(), bundle.IDToken)
		if err != nil {
			logger.Warnf("ID token validation failed, falling back to userinfo: %v", err)
			claims = nil
		}
	}
	if claims == nil {
		var err error
		claims, err = adapter.FetchUserInfo(r.Context(), bundle.AccessToken)
		if err != nil {
			return nil, err
		}
	}

	user := adapter.MapUser(claims)
	user.Scopes = s.policy.ScopesForGroups(user.Groups)

	if userID, err := s.users.ResolveUserID(r.Context(), user.Username, user.Email); err == nil {
		user.UserID = userID
	} else if !errors.Is(err, userstore.ErrUserNotFound) {
		logger.Warnf("User store lookup failed: %v", err)
	}
	return user, nil
}

// establishLoginSession sets the post-login browser session consumed by the
// enforcement point.
func (s *Server) establishLoginSession(w http.ResponseWriter, r *http.Request, provider string, user *idp.UserContext) {
	value, err := s.sessions.EncodeLogin(&session.LoginSession{
		Username: user.Username,
		UserID:   user.UserID,
		Groups:   user.Groups,
		Scopes:   user.Scopes,
		Provider: provider,
	})
	if err != nil {
		logger.Errorf("Failed to sign login session: %v", err)
		return
	}
	session.SetCookie(w, r, session.LoginCookieName, value, s.cfg.SessionCookieTTL)
}
