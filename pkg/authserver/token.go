// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/token"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/userstore"
)

// tokenResponse is the RFC 6749 success shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken dispatches on grant_type. All outcomes use RFC 6749 bodies.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "request body is not a valid form")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case GrantAuthorizationCode:
		s.redeemAuthorizationCode(w, r)
	case GrantDeviceCode:
		s.redeemDeviceCode(w, r)
	case GrantRefreshToken:
		s.redeemRefreshToken(w, r)
	case GrantClientCredentials:
		s.redeemClientCredentials(w, r)
	default:
		oauthError(w, http.StatusBadRequest, ErrUnsupportedGrantType, "unsupported grant_type")
	}
}

// redeemAuthorizationCode implements the authorization_code grant. The code
// is consumed atomically before any validation, so a failed redemption
// (PKCE mismatch, client mismatch) still burns the code and the client must
// restart the flow.
func (s *Server) redeemAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	form := r.PostForm
	code := form.Get("code")
	if code == "" {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing code")
		return
	}

	s.sweep(r.Context())
	rec, err := s.store.ConsumeAuthorizationCode(r.Context(), code)
	if err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "authorization code is invalid, expired, or already used")
		return
	}

	if rec.ClientID != "" && rec.ClientID != form.Get("client_id") {
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "client_id does not match authorization code")
		return
	}
	if rec.RedirectURI != "" && rec.RedirectURI != form.Get("redirect_uri") {
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "redirect_uri does not match authorization code")
		return
	}
	if rec.CodeChallenge != "" && !VerifyPKCE(rec.CodeChallenge, form.Get("code_verifier")) {
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "PKCE verification failed")
		return
	}

	user := rec.User
	userScopes := s.policy.ScopesForGroups(user.Groups)
	if len(userScopes) == 0 {
		userScopes = user.Scopes
	}

	audience := rec.Resource
	raw, claims, err := s.tokens.Mint(token.MintOptions{
		Subject:  user.Username,
		UserID:   user.UserID,
		ClientID: rec.ClientID,
		Scopes:   userScopes,
		Groups:   user.Groups,
		Audience: audience,
		Lifetime: s.cfg.AccessTokenLifetime,
	})
	if err != nil {
		logger.Errorf("Failed to mint access token: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to mint access token")
		return
	}

	refresh := &storage.RefreshToken{
		Token:     storage.NewSecret(),
		ClientID:  rec.ClientID,
		User:      user,
		Scope:     strings.Join(userScopes, " "),
		Resource:  rec.Resource,
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenLifetime),
	}
	if err := s.store.PutRefreshToken(r.Context(), refresh); err != nil {
		logger.Errorf("Failed to store refresh token: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to store refresh token")
		return
	}

	logger.Infow("Issued access token",
		"client_id", rec.ClientID,
		"grant", GrantAuthorizationCode,
		"jti", claims.ID,
	)
	writeTokenResponse(w, tokenResponse{
		AccessToken:  raw,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(claims),
		RefreshToken: refresh.Token,
		Scope:        claims.Scope,
	})
}

// redeemDeviceCode implements RFC 8628 polling.
func (s *Server) redeemDeviceCode(w http.ResponseWriter, r *http.Request) {
	form := r.PostForm
	deviceCode := form.Get("device_code")
	if deviceCode == "" {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing device_code")
		return
	}

	s.sweep(r.Context())
	rec, err := s.store.GetDeviceByDeviceCode(r.Context(), deviceCode)
	if err != nil {
		oauthError(w, http.StatusBadRequest, ErrExpiredToken, "device code is unknown or expired")
		return
	}
	if clientID := form.Get("client_id"); clientID != "" && clientID != rec.ClientID {
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "client_id does not match device code")
		return
	}

	switch rec.Status {
	case storage.DeviceStatusPending:
		oauthError(w, http.StatusBadRequest, ErrAuthorizationPending, "user has not yet approved the request")
	case storage.DeviceStatusDenied:
		_ = s.store.DeleteDeviceAuthorization(r.Context(), rec.DeviceCode)
		oauthError(w, http.StatusBadRequest, ErrAccessDenied, "user denied the request")
	case storage.DeviceStatusApproved:
		// The token was minted at approval time and is returned verbatim.
		_ = s.store.DeleteDeviceAuthorization(r.Context(), rec.DeviceCode)
		writeTokenResponse(w, tokenResponse{
			AccessToken: rec.Token,
			TokenType:   "Bearer",
			ExpiresIn:   rec.TokenExpiresIn,
			Scope:       rec.Scope,
		})
	default:
		oauthError(w, http.StatusInternalServerError, ErrServerError, "device authorization in unknown state")
	}
}

// redeemRefreshToken remints an access token from the stored user context.
// The same refresh token is returned; rotation is not enabled.
func (s *Server) redeemRefreshToken(w http.ResponseWriter, r *http.Request) {
	form := r.PostForm
	refreshToken := form.Get("refresh_token")
	if refreshToken == "" {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing refresh_token")
		return
	}

	s.sweep(r.Context())
	rec, err := s.store.GetRefreshToken(r.Context(), refreshToken)
	if err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "refresh token is invalid or expired")
		return
	}
	if clientID := form.Get("client_id"); clientID != "" && rec.ClientID != "" && clientID != rec.ClientID {
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "client_id does not match refresh token")
		return
	}

	user := rec.User
	// The directory may have changed since issuance.
	if userID, err := s.users.ResolveUserID(r.Context(), user.Username, user.Email); err == nil {
		user.UserID = userID
	} else if !errors.Is(err, userstore.ErrUserNotFound) {
		logger.Warnf("User store lookup failed on refresh: %v", err)
	}

	raw, claims, err := s.tokens.Mint(token.MintOptions{
		Subject:  user.Username,
		UserID:   user.UserID,
		ClientID: rec.ClientID,
		Scopes:   strings.Fields(rec.Scope),
		Groups:   user.Groups,
		Audience: rec.Resource,
		Lifetime: s.cfg.AccessTokenLifetime,
	})
	if err != nil {
		logger.Errorf("Failed to remint access token: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to mint access token")
		return
	}

	writeTokenResponse(w, tokenResponse{
		AccessToken:  raw,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(claims),
		RefreshToken: rec.Token,
		Scope:        claims.Scope,
	})
}

// redeemClientCredentials mints a service token for a registered client that
// authenticates with its secret.
func (s *Server) redeemClientCredentials(w http.ResponseWriter, r *http.Request) {
	form := r.PostForm
	clientID, clientSecret := form.Get("client_id"), form.Get("client_secret")
	if clientID == "" || clientSecret == "" {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing client credentials")
		return
	}

	client, err := s.store.GetClient(r.Context(), clientID)
	if err != nil || client.ClientSecret == "" || client.ClientSecret != clientSecret {
		oauthError(w, http.StatusUnauthorized, ErrInvalidClient, "client authentication failed")
		return
	}
	if !client.HasGrantType(GrantClientCredentials) {
		oauthError(w, http.StatusBadRequest, "unauthorized_client", "client is not authorized for client_credentials")
		return
	}

	scope := form.Get("scope")
	if scope == "" {
		scope = client.Scope
	}

	// With an explicit provider the token comes from the IdP's own
	// client-credentials endpoint instead of being self-signed.
	if provider := form.Get("provider"); provider != "" {
		s.redeemM2MFromProvider(w, r, provider, scope)
		return
	}

	raw, claims, err := s.tokens.Mint(token.MintOptions{
		Subject:  clientID,
		ClientID: clientID,
		Scopes:   strings.Fields(scope),
		Audience: form.Get("resource"),
		Lifetime: s.cfg.AccessTokenLifetime,
	})
	if err != nil {
		logger.Errorf("Failed to mint service token: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to mint access token")
		return
	}

	writeTokenResponse(w, tokenResponse{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn(claims),
		Scope:       claims.Scope,
	})
}

// redeemM2MFromProvider relays client_credentials to the named IdP using
// the gateway's configured M2M credentials.
func (s *Server) redeemM2MFromProvider(w http.ResponseWriter, r *http.Request, provider, scope string) {
	adapter, err := s.providers.Get(provider)
	if err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "unknown provider")
		return
	}

	bundle, err := adapter.M2MToken(r.Context(), scope)
	if err != nil {
		if idp.IsRetryable(err) {
			oauthError(w, http.StatusBadGateway, ErrServerError, "identity provider unreachable")
			return
		}
		oauthError(w, http.StatusBadRequest, ErrInvalidGrant, "provider rejected the client credentials")
		return
	}

	tokenType := bundle.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	var expiry int64
	if !bundle.ExpiresAt.IsZero() {
		expiry = int64(time.Until(bundle.ExpiresAt).Round(time.Second).Seconds())
	}
	writeTokenResponse(w, tokenResponse{
		AccessToken: bundle.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   expiry,
		Scope:       bundle.Scope,
	})
}

func writeTokenResponse(w http.ResponseWriter, resp tokenResponse) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

func expiresIn(claims *token.Claims) int64 {
	return int64(time.Until(claims.ExpiresAt.Time).Round(time.Second).Seconds())
}
