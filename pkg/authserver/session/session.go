// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package session signs and verifies the short-lived cookies the auth server
// hands to browsers: the temporary OAuth envelope carried across the IdP
// redirect, and the post-login session used by the enforcement point.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Cookie names.
const (
	OAuthCookieName = "mcpgw_oauth_session"
	LoginCookieName = "mcpgw_session"
)

// Codec errors.
var (
	ErrInvalidSession = errors.New("invalid session cookie")
	ErrExpiredSession = errors.New("session cookie expired")
)

// OAuthSession is the envelope pinned to the browser between /login and
// /callback. It binds the internal state sent to the IdP to the client's own
// state, redirect URI, and PKCE challenge, so the callback can resume the
// flow without server-side session storage.
type OAuthSession struct {
	InternalState       string `json:"internal_state"`
	ClientID            string `json:"client_id,omitempty"`
	ClientState         string `json:"client_state,omitempty"`
	Provider            string `json:"provider"`
	ClientRedirectURI   string `json:"client_redirect_uri,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Resource            string `json:"resource,omitempty"`
	Scope               string `json:"scope,omitempty"`
	IssuedAt            int64  `json:"iat"`
}

// LoginSession is the browser session established after a successful IdP
// login, consumed by the enforcement point as an auth method of its own.
type LoginSession struct {
	Username string   `json:"username"`
	UserID   string   `json:"user_id,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	Provider string   `json:"provider,omitempty"`
	IssuedAt int64    `json:"iat"`
}

// Codec signs session payloads with HMAC-SHA256. The cookie value is
// base64url(JSON) + "." + base64url(HMAC).
type Codec struct {
	secret []byte
}

// NewCodec builds a codec over the shared gateway secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

func (c *Codec) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Codec) encode(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(payload), nil
}

// decode verifies the signature before unmarshalling; a bad signature and a
// malformed value are indistinguishable to the caller.
func (c *Codec) decode(value string, v any) error {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		return ErrInvalidSession
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ErrInvalidSession
	}
	if !hmac.Equal([]byte(c.sign(payload)), []byte(sig)) {
		return ErrInvalidSession
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return ErrInvalidSession
	}
	return nil
}

// EncodeOAuth signs an OAuth envelope, stamping IssuedAt.
func (c *Codec) EncodeOAuth(s *OAuthSession) (string, error) {
	s.IssuedAt = time.Now().Unix()
	return c.encode(s)
}

// DecodeOAuth verifies and decodes an OAuth envelope, enforcing ttl.
// Expired envelopes return ErrExpiredSession so the callback can distinguish
// a stale login attempt from a forged cookie.
func (c *Codec) DecodeOAuth(value string, ttl time.Duration) (*OAuthSession, error) {
	var s OAuthSession
	if err := c.decode(value, &s); err != nil {
		return nil, err
	}
	if time.Since(time.Unix(s.IssuedAt, 0)) > ttl {
		return nil, ErrExpiredSession
	}
	return &s, nil
}

// EncodeLogin signs a login session, stamping IssuedAt.
func (c *Codec) EncodeLogin(s *LoginSession) (string, error) {
	s.IssuedAt = time.Now().Unix()
	return c.encode(s)
}

// DecodeLogin verifies and decodes a login session, enforcing ttl.
func (c *Codec) DecodeLogin(value string, ttl time.Duration) (*LoginSession, error) {
	var s LoginSession
	if err := c.decode(value, &s); err != nil {
		return nil, err
	}
	if time.Since(time.Unix(s.IssuedAt, 0)) > ttl {
		return nil, ErrExpiredSession
	}
	return &s, nil
}

// SetCookie writes a session cookie scoped to the whole site. Secure is set
// from the request scheme so local HTTP development keeps working.
func SetCookie(w http.ResponseWriter, r *http.Request, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires a session cookie.
func ClearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
