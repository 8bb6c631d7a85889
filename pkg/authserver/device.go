// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/token"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/session"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// deviceCodeResponse is the RFC 8628 authorization response.
type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// handleDeviceCode starts a device authorization (RFC 8628).
func (s *Server) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "request body is not a valid form")
		return
	}
	clientID := r.PostForm.Get("client_id")
	if clientID == "" {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing client_id")
		return
	}

	rec := &storage.DeviceAuthorization{
		DeviceCode: storage.NewSecret(),
		UserCode:   storage.GenerateUserCode(),
		ClientID:   clientID,
		Scope:      r.PostForm.Get("scope"),
		Resource:   r.PostForm.Get("resource"),
		Status:     storage.DeviceStatusPending,
		ExpiresAt:  time.Now().Add(s.cfg.DeviceCodeExpiry),
		CreatedAt:  time.Now(),
	}

	s.sweep(r.Context())
	if err := s.store.PutDeviceAuthorization(r.Context(), rec); err != nil {
		logger.Errorf("Failed to store device authorization: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to store device authorization")
		return
	}

	verificationURI := s.cfg.EndpointURL("/oauth2/device/verify")
	writeJSON(w, http.StatusOK, deviceCodeResponse{
		DeviceCode:              rec.DeviceCode,
		UserCode:                rec.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + rec.UserCode,
		ExpiresIn:               int64(s.cfg.DeviceCodeExpiry.Seconds()),
		Interval:                int64(s.cfg.DevicePollInterval.Seconds()),
	})
}

var deviceVerifyPage = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<head><title>Device Authorization</title></head>
<body>
  <h1>Device Authorization</h1>
  <p>Enter the code displayed on your device.</p>
  <form method="POST" action="{{.ApproveURL}}">
    <input type="text" name="user_code" value="{{.UserCode}}" autofocus
           autocomplete="off" placeholder="XXXX-XXXX" />
    <button type="submit" name="action" value="approve">Approve</button>
    <button type="submit" name="action" value="deny">Deny</button>
  </form>
</body>
</html>
`))

// handleDeviceVerify serves the user-facing code entry page.
func (s *Server) handleDeviceVerify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := deviceVerifyPage.Execute(w, map[string]string{
		"ApproveURL": s.cfg.APIPrefix + "/oauth2/device/approve",
		"UserCode":   r.URL.Query().Get("user_code"),
	})
	if err != nil {
		logger.Errorf("Failed to render device verify page: %v", err)
	}
}

// handleDeviceApprove transitions a pending device authorization to
// approved (or denied), minting the token the poller will receive. The
// approving user must already be authenticated; the minted token carries
// their identity. Approval is idempotent.
func (s *Server) handleDeviceApprove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "request body is not a valid form")
		return
	}
	userCode := r.PostForm.Get("user_code")
	if userCode == "" {
		oauthError(w, http.StatusBadRequest, ErrInvalidRequest, "missing user_code")
		return
	}

	approver, ok := s.approvingUser(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+s.cfg.Issuer()+`"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required to approve a device"})
		return
	}

	s.sweep(r.Context())
	rec, err := s.store.GetDeviceByUserCode(r.Context(), userCode)
	if err != nil {
		oauthError(w, http.StatusNotFound, ErrExpiredToken, "user code is unknown or expired")
		return
	}

	if rec.Status == storage.DeviceStatusApproved {
		writeJSON(w, http.StatusOK, map[string]string{"status": storage.DeviceStatusApproved})
		return
	}

	if r.PostForm.Get("action") == "deny" {
		rec.Status = storage.DeviceStatusDenied
		if err := s.store.UpdateDeviceAuthorization(r.Context(), rec); err != nil {
			logger.Errorf("Failed to deny device authorization: %v", err)
			oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to update device authorization")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": storage.DeviceStatusDenied})
		return
	}

	tokenScopes := strings.Fields(rec.Scope)
	if len(tokenScopes) == 0 {
		tokenScopes = approver.Scopes
	}

	raw, claims, err := s.tokens.Mint(token.MintOptions{
		Subject:  approver.Username,
		UserID:   approver.UserID,
		ClientID: rec.ClientID,
		Scopes:   tokenScopes,
		Groups:   approver.Groups,
		Audience: rec.Resource,
		Lifetime: s.cfg.AccessTokenLifetime,
	})
	if err != nil {
		logger.Errorf("Failed to mint device token: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to mint access token")
		return
	}

	rec.Status = storage.DeviceStatusApproved
	rec.Token = raw
	rec.TokenExpiresIn = expiresIn(claims)
	if err := s.store.UpdateDeviceAuthorization(r.Context(), rec); err != nil {
		logger.Errorf("Failed to approve device authorization: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to update device authorization")
		return
	}

	logger.Infow("Device authorization approved",
		"client_id", rec.ClientID,
		"username", approver.Username,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": storage.DeviceStatusApproved})
}

// approvingUser authenticates the person approving a device: the login
// session cookie first, then a self-signed bearer token.
func (s *Server) approvingUser(r *http.Request) (*session.LoginSession, bool) {
	if cookie, err := r.Cookie(session.LoginCookieName); err == nil {
		if login, err := s.sessions.DecodeLogin(cookie.Value, s.cfg.SessionCookieTTL); err == nil {
			return login, true
		}
	}

	bearer := r.Header.Get("X-Authorization")
	if bearer == "" {
		bearer = r.Header.Get("Authorization")
	}
	bearer = strings.TrimPrefix(bearer, "Bearer ")
	if bearer == "" {
		return nil, false
	}
	claims, err := s.tokens.Verify(bearer)
	if err != nil {
		return nil, false
	}
	return &session.LoginSession{
		Username: claims.Subject,
		UserID:   claims.UserID,
		Groups:   claims.Groups,
		Scopes:   claims.Scopes(),
	}, true
}
