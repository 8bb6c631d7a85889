// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package idp provides identity-provider adapters. Each adapter exposes the
// same capability set (code exchange, userinfo, refresh, remote-JWKS token
// validation, machine-to-machine tokens) and maps provider claims into the
// provider-agnostic user context used everywhere downstream.
package idp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TokenBundle holds the tokens obtained from an identity provider.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// IsExpired returns true if the access token has expired.
func (t *TokenBundle) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// UserContext is the provider-agnostic record built from IdP claims.
// It is request-scoped: never persisted by the auth server, only embedded
// into access tokens and flow state.
type UserContext struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Name     string   `json:"name,omitempty"`
	IdpID    string   `json:"idp_id"`
	Groups   []string `json:"groups"`
	// UserID is resolved from the user store and may be empty.
	UserID string `json:"user_id,omitempty"`
	// Scopes are derived from Groups via the scope policy.
	Scopes []string `json:"scopes"`
}

// ProviderInfo is the display metadata returned by /oauth2/providers.
type ProviderInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	IssuerURL   string `json:"issuer_url,omitempty"`
}

// ClaimMapping selects which IdP claims feed each user-context field.
// Zero values fall back to the adapter's provider defaults.
type ClaimMapping struct {
	UsernameClaim string
	EmailClaim    string
	NameClaim     string
	GroupsClaim   string
}

// Adapter is the uniform capability set implemented per identity provider.
// New providers add by implementing this set; no inheritance is required.
type Adapter interface {
	// Name returns the configured provider name (keycloak, cognito, entra).
	Name() string

	// AuthorizeURL builds the IdP authorization redirect for the given
	// internal state and callback.
	AuthorizeURL(state, redirectURI string, extraScopes []string) string

	// ExchangeCode redeems an authorization code at the IdP token endpoint.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenBundle, error)

	// FetchUserInfo retrieves claims from the provider userinfo endpoint
	// (or its equivalent, e.g. Microsoft Graph).
	FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error)

	// Refresh exchanges a refresh token for a fresh bundle.
	Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error)

	// ValidateToken verifies an IdP-signed JWT against the provider's
	// remote JWKS and returns its claims.
	ValidateToken(ctx context.Context, rawToken string) (map[string]any, error)

	// MapUser builds the mapped user context from ID-token or userinfo
	// claims using the adapter's claim mapping.
	MapUser(claims map[string]any) *UserContext

	// M2MToken obtains a client-credentials token for service callers.
	M2MToken(ctx context.Context, scope string) (*TokenBundle, error)

	// ProviderInfo returns display metadata for provider listings.
	ProviderInfo() ProviderInfo

	// LogoutURL builds the IdP end-session redirect, or "" if the provider
	// has none.
	LogoutURL(redirectURI string) string
}

// RetryableError marks a transient transport failure talking to the IdP,
// distinct from an IdP-reported protocol error such as invalid_grant.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("idp %s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient IdP transport failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// OAuthError is an error reported by the IdP in an OAuth error response.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Common adapter errors.
var (
	ErrUnknownProvider  = errors.New("unknown identity provider")
	ErrProviderDisabled = errors.New("identity provider is not enabled")
	ErrNoIDToken        = errors.New("token response contained no id_token")
)
