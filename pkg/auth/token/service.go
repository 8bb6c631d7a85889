// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package token mints and verifies the gateway's self-signed access tokens.
//
// Tokens are HMAC-SHA256 JWTs whose header carries a fixed kid marking them
// as self-issued. Verification of tokens signed by an upstream IdP is the
// job of the idp adapters; this package only answers "is this one of ours,
// and is it valid".
package token

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenUseAccess is the token_use claim value for access tokens.
const TokenUseAccess = "access"

// validationLeeway tolerates clock skew between the gateway and its callers.
const validationLeeway = 30 * time.Second

// Common verification errors.
var (
	ErrNotSelfIssued   = errors.New("token is not self-issued")
	ErrInvalidAudience = errors.New("invalid token audience")
)

// Claims is the claim set carried by self-signed access tokens.
type Claims struct {
	jwt.RegisteredClaims

	UserID   string   `json:"user_id,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	TokenUse string   `json:"token_use"`
}

// Scopes returns the space-delimited scope claim as a slice.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// Service mints and verifies self-signed tokens.
type Service struct {
	secret   []byte
	issuer   string
	audience string
	kid      string
	lifetime time.Duration
}

// Config configures the token service.
type Config struct {
	// Secret is the shared HMAC key (the gateway SECRET_KEY).
	Secret string
	// Issuer is the iss claim of minted tokens.
	Issuer string
	// Audience is the default aud claim.
	Audience string
	// KID is the fixed header kid marking self-issued tokens.
	KID string
	// Lifetime is the default access-token lifetime.
	Lifetime time.Duration
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("signing secret is required")
	}
	if cfg.KID == "" {
		return nil, errors.New("self-signed kid is required")
	}
	lifetime := cfg.Lifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	return &Service{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		kid:      cfg.KID,
		lifetime: lifetime,
	}, nil
}

// KID returns the self-issued key identifier.
func (s *Service) KID() string {
	return s.kid
}

// Issuer returns the configured issuer.
func (s *Service) Issuer() string {
	return s.issuer
}

// MintOptions describes the token to mint.
type MintOptions struct {
	Subject  string
	UserID   string
	ClientID string
	Scopes   []string
	Groups   []string
	// Audience overrides the default audience; used when the client
	// requested an RFC 8707 resource.
	Audience string
	// Lifetime overrides the default lifetime (user-generated tokens).
	Lifetime time.Duration
}

// Mint creates a signed access token.
func (s *Service) Mint(opts MintOptions) (string, *Claims, error) {
	now := time.Now()
	lifetime := opts.Lifetime
	if lifetime == 0 {
		lifetime = s.lifetime
	}
	audience := opts.Audience
	if audience == "" {
		audience = s.audience
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   opts.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
		UserID:   opts.UserID,
		ClientID: opts.ClientID,
		Scope:    strings.Join(opts.Scopes, " "),
		Groups:   opts.Groups,
		TokenUse: TokenUseAccess,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = s.kid

	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature, lifetime, issuer, and audience of a
// self-signed token and returns its claims.
//
// Audience verification is relaxed for resource-bound tokens: when the aud
// claim is a URL (an RFC 8707 resource indicator) it is accepted as-is;
// otherwise it must equal the configured audience.
func (s *Service) Verify(rawToken string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithLeeway(validationLeeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
	)

	_, err := parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		if kid, _ := token.Header["kid"].(string); kid != s.kid {
			return nil, ErrNotSelfIssued
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	if err := s.checkAudience(claims.Audience); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) checkAudience(aud jwt.ClaimStrings) error {
	if len(aud) == 0 {
		return ErrInvalidAudience
	}
	if slices.Contains(aud, s.audience) {
		return nil
	}
	for _, a := range aud {
		if isResourceURL(a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidAudience, []string(aud))
}

// IsSelfIssued inspects an unverified token and reports whether it was
// minted by this service, either by the header kid or by the iss claim.
// Used to route validation between the local secret and the IdP adapters.
func (s *Service) IsSelfIssued(rawToken string) bool {
	claims := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(rawToken, claims)
	if err != nil {
		return false
	}
	if kid, _ := tok.Header["kid"].(string); kid == s.kid {
		return true
	}
	if iss, _ := claims["iss"].(string); iss == s.issuer {
		return true
	}
	return false
}

func isResourceURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
