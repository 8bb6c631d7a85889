// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the flow-state store for the OAuth engine:
// registered clients, authorization codes, device authorizations, and
// refresh tokens. The in-memory implementation is the single-node
// reference; the Redis implementation carries the same TTL semantics for
// horizontal scale.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
)

// Store errors.
var (
	ErrNotFound        = errors.New("record not found")
	ErrCodeAlreadyUsed = errors.New("authorization code already used")
)

// Device authorization statuses.
const (
	DeviceStatusPending  = "pending"
	DeviceStatusApproved = "approved"
	DeviceStatusDenied   = "denied"
)

// Client is a dynamically registered OAuth client (RFC 7591).
// Clients are never mutated after registration.
type Client struct {
	ClientID                string    `json:"client_id"`
	ClientSecret            string    `json:"client_secret,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	Scope                   string    `json:"scope"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	ClientName              string    `json:"client_name,omitempty"`
	RegisteredAt            time.Time `json:"registered_at"`
	RegistrationIP          string    `json:"registration_ip,omitempty"`
}

// HasGrantType reports whether the client registered the grant.
func (c *Client) HasGrantType(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri is registered for the client.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is the internal single-use code minted at /callback and
// redeemed at /token. It binds the client's PKCE challenge, the IdP token
// bundle, and the mapped user context.
type AuthorizationCode struct {
	Code                string           `json:"code"`
	ClientID            string           `json:"client_id"`
	RedirectURI         string           `json:"redirect_uri"`
	CodeChallenge       string           `json:"code_challenge"`
	CodeChallengeMethod string           `json:"code_challenge_method"`
	IdPTokens           *idp.TokenBundle `json:"idp_tokens,omitempty"`
	User                *idp.UserContext `json:"user"`
	Resource            string           `json:"resource,omitempty"`
	Scope               string           `json:"scope,omitempty"`
	ExpiresAt           time.Time        `json:"expires_at"`
	CreatedAt           time.Time        `json:"created_at"`
}

// Expired reports whether the code is past its lifetime.
func (a *AuthorizationCode) Expired() bool {
	return time.Now().After(a.ExpiresAt)
}

// DeviceAuthorization is one RFC 8628 device-flow request, indexed both by
// device_code and by user_code.
type DeviceAuthorization struct {
	DeviceCode string `json:"device_code"`
	UserCode   string `json:"user_code"`
	ClientID   string `json:"client_id"`
	Scope      string `json:"scope,omitempty"`
	Resource   string `json:"resource,omitempty"`
	// Status is pending, approved, or denied.
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	// Token is the access token cached on approval, returned verbatim to
	// the polling client.
	Token          string `json:"token,omitempty"`
	TokenExpiresIn int64  `json:"token_expires_in,omitempty"`
}

// Expired reports whether the device authorization is past its lifetime.
func (d *DeviceAuthorization) Expired() bool {
	return time.Now().After(d.ExpiresAt)
}

// RefreshToken maps an opaque refresh token to the context needed to remint
// an access token.
type RefreshToken struct {
	Token     string           `json:"token"`
	ClientID  string           `json:"client_id"`
	User      *idp.UserContext `json:"user"`
	Scope     string           `json:"scope,omitempty"`
	Resource  string           `json:"resource,omitempty"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Expired reports whether the refresh token is past its lifetime.
func (r *RefreshToken) Expired() bool {
	return time.Now().After(r.ExpiresAt)
}

// Store is the flow-state contract. All operations are safe under
// parallelism; TTL expiry is enforced by Sweep (called lazily before
// mutations) and by the backends' own expiry where available.
type Store interface {
	// PutClient stores a registered client. Clients have no TTL.
	PutClient(ctx context.Context, c *Client) error
	// GetClient returns ErrNotFound for unknown IDs.
	GetClient(ctx context.Context, clientID string) (*Client, error)
	// ListClients returns all registered clients.
	ListClients(ctx context.Context) ([]*Client, error)

	// PutAuthorizationCode stores a code until its ExpiresAt.
	PutAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	// ConsumeAuthorizationCode atomically removes and returns the code.
	// A second consume of the same code returns ErrNotFound, guaranteeing
	// single redemption. Expired codes are removed and reported as
	// ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// PutDeviceAuthorization stores the record under both indices.
	PutDeviceAuthorization(ctx context.Context, d *DeviceAuthorization) error
	// GetDeviceByDeviceCode returns ErrNotFound for unknown or expired codes.
	GetDeviceByDeviceCode(ctx context.Context, deviceCode string) (*DeviceAuthorization, error)
	// GetDeviceByUserCode looks up by the normalized user code.
	GetDeviceByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error)
	// UpdateDeviceAuthorization replaces the record, preserving expiry.
	UpdateDeviceAuthorization(ctx context.Context, d *DeviceAuthorization) error
	// DeleteDeviceAuthorization removes both indices.
	DeleteDeviceAuthorization(ctx context.Context, deviceCode string) error

	// PutRefreshToken stores a refresh token until its ExpiresAt.
	PutRefreshToken(ctx context.Context, r *RefreshToken) error
	// GetRefreshToken returns ErrNotFound for unknown or expired tokens.
	GetRefreshToken(ctx context.Context, tok string) (*RefreshToken, error)
	// DeleteRefreshToken removes a refresh token.
	DeleteRefreshToken(ctx context.Context, tok string) error

	// Sweep removes expired entries. Backends with native TTL may no-op.
	Sweep(ctx context.Context)

	// Health reports backend reachability.
	Health(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
