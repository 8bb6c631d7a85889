// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

const (
	// outboundTimeout bounds every IdP and JWKS call.
	outboundTimeout = 10 * time.Second

	// jwksRefreshInterval is the remote JWKS cache TTL.
	jwksRefreshInterval = time.Hour

	// validationLeeway tolerates clock skew on IdP-signed tokens.
	validationLeeway = 30 * time.Second
)

// Options configures an OIDC-based adapter.
type Options struct {
	Name            string
	DisplayName     string
	Issuer          string
	ClientID        string
	ClientSecret    string
	M2MClientID     string
	M2MClientSecret string
	Scopes          []string
	Claims          ClaimMapping

	// HTTPClient overrides the default outbound client (tests).
	HTTPClient *http.Client
}

// oidcAdapter implements Adapter for any OIDC-compliant provider using
// discovery. Provider-specific adapters wrap it with their claim defaults
// and endpoint quirks.
type oidcAdapter struct {
	opts        Options
	oauthConfig oauth2.Config
	httpClient  *http.Client

	userinfoEndpoint   string
	endSessionEndpoint string
	jwksURL            string
	jwksCache          *jwk.Cache
}

// discoveryClaims captures the extra discovery fields go-oidc does not
// surface directly.
type discoveryClaims struct {
	UserInfoEndpoint   string `json:"userinfo_endpoint"`
	EndSessionEndpoint string `json:"end_session_endpoint"`
	JWKSURI            string `json:"jwks_uri"`
}

// newOIDCAdapter performs OIDC discovery against opts.Issuer and builds the
// adapter. Discovery runs once at startup; per-request calls use the
// discovered endpoints.
func newOIDCAdapter(ctx context.Context, opts Options) (*oidcAdapter, error) {
	if opts.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("client_id is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: outboundTimeout}
	}

	ctx = oidc.ClientContext(ctx, httpClient)
	provider, err := oidc.NewProvider(ctx, opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints for %s: %w", opts.Name, err)
	}

	var extra discoveryClaims
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("failed to extract discovery claims: %w", err)
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	a := &oidcAdapter{
		opts:       opts,
		httpClient: httpClient,
		oauthConfig: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		userinfoEndpoint:   extra.UserInfoEndpoint,
		endSessionEndpoint: extra.EndSessionEndpoint,
		jwksURL:            extra.JWKSURI,
	}

	if a.jwksURL != "" {
		cache := jwk.NewCache(context.WithoutCancel(ctx))
		if err := cache.Register(a.jwksURL,
			jwk.WithMinRefreshInterval(jwksRefreshInterval),
			jwk.WithHTTPClient(httpClient),
		); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		a.jwksCache = cache
	}

	logger.Debugw("initialized IdP adapter", "provider", opts.Name, "issuer", opts.Issuer)
	return a, nil
}

func (a *oidcAdapter) Name() string {
	return a.opts.Name
}

func (a *oidcAdapter) ProviderInfo() ProviderInfo {
	display := a.opts.DisplayName
	if display == "" {
		display = a.opts.Name
	}
	return ProviderInfo{
		Name:        a.opts.Name,
		DisplayName: display,
		IssuerURL:   a.opts.Issuer,
	}
}

func (a *oidcAdapter) AuthorizeURL(state, redirectURI string, extraScopes []string) string {
	cfg := a.oauthConfig
	cfg.RedirectURL = redirectURI
	if len(extraScopes) > 0 {
		cfg.Scopes = append(append([]string{}, cfg.Scopes...), extraScopes...)
	}
	return cfg.AuthCodeURL(state)
}

func (a *oidcAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenBundle, error) {
	cfg := a.oauthConfig
	cfg.RedirectURL = redirectURI

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	token, err := retry(ctx, "exchange_code", func() (*oauth2.Token, error) {
		return cfg.Exchange(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return bundleFromToken(token), nil
}

func (a *oidcAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	src := a.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := retry(ctx, "refresh", src.Token)
	if err != nil {
		return nil, err
	}
	return bundleFromToken(token), nil
}

func (a *oidcAdapter) FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	if a.userinfoEndpoint == "" {
		return nil, fmt.Errorf("provider %s has no userinfo endpoint", a.opts.Name)
	}
	return a.getJSON(ctx, a.userinfoEndpoint, accessToken)
}

// getJSON performs a bearer-authenticated GET and decodes the JSON body.
func (a *oidcAdapter) getJSON(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{Op: "userinfo", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RetryableError{Op: "userinfo", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return claims, nil
}

func (a *oidcAdapter) ValidateToken(ctx context.Context, rawToken string) (map[string]any, error) {
	if a.jwksCache == nil {
		return nil, fmt.Errorf("provider %s has no JWKS endpoint", a.opts.Name)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithLeeway(validationLeeway),
		jwt.WithIssuer(a.opts.Issuer),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
	)

	_, err := parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header missing kid")
		}
		set, err := a.jwksCache.Get(ctx, a.jwksURL)
		if err != nil {
			return nil, &RetryableError{Op: "jwks", Err: err}
		}
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no key found for kid %q", kid)
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("failed to materialize key: %w", err)
		}
		return raw, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return claims, nil
}

func (a *oidcAdapter) M2MToken(ctx context.Context, scope string) (*TokenBundle, error) {
	clientID, clientSecret := a.opts.M2MClientID, a.opts.M2MClientSecret
	if clientID == "" {
		clientID, clientSecret = a.opts.ClientID, a.opts.ClientSecret
	}

	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     a.oauthConfig.Endpoint.TokenURL,
	}
	if scope != "" {
		cc.Scopes = strings.Fields(scope)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	token, err := retry(ctx, "m2m_token", func() (*oauth2.Token, error) {
		return cc.Token(ctx)
	})
	if err != nil {
		return nil, err
	}
	return bundleFromToken(token), nil
}

func (a *oidcAdapter) MapUser(claims map[string]any) *UserContext {
	m := a.opts.Claims

	username := claimString(claims, m.UsernameClaim, "preferred_username", "username", "sub")
	return &UserContext{
		Username: username,
		Email:    claimString(claims, m.EmailClaim, "email"),
		Name:     claimString(claims, m.NameClaim, "name"),
		IdpID:    claimString(claims, "", "sub"),
		Groups:   claimStrings(claims, m.GroupsClaim, "groups"),
	}
}

func (a *oidcAdapter) LogoutURL(redirectURI string) string {
	if a.endSessionEndpoint == "" {
		return ""
	}
	if redirectURI == "" {
		return a.endSessionEndpoint
	}
	sep := "?"
	if strings.Contains(a.endSessionEndpoint, "?") {
		sep = "&"
	}
	return a.endSessionEndpoint + sep + "post_logout_redirect_uri=" + redirectURI
}

// retry runs fn with exponential backoff, converting transport failures into
// RetryableError and IdP-reported OAuth errors into OAuthError. IdP protocol
// errors are terminal; only transport failures are retried.
func retry(ctx context.Context, op string, fn func() (*oauth2.Token, error)) (*oauth2.Token, error) {
	token, err := backoff.Retry(ctx, func() (*oauth2.Token, error) {
		t, err := fn()
		if err == nil {
			return t, nil
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			if re.ErrorCode != "" {
				return nil, backoff.Permanent(&OAuthError{Code: re.ErrorCode, Description: re.ErrorDescription})
			}
			// Non-OAuth response body (e.g. a 502 from a proxy) is transient.
			return nil, &RetryableError{Op: op, Err: err}
		}
		return nil, &RetryableError{Op: op, Err: err}
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}
	return token, nil
}

func bundleFromToken(token *oauth2.Token) *TokenBundle {
	b := &TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		b.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		b.Scope = scope
	}
	return b
}

// claimString returns the first present string claim, trying the configured
// name first and then the fallbacks.
func claimString(claims map[string]any, configured string, fallbacks ...string) string {
	names := fallbacks
	if configured != "" {
		names = append([]string{configured}, fallbacks...)
	}
	for _, name := range names {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// claimStrings extracts a list-valued claim. Providers emit groups as JSON
// arrays or as single space/comma separated strings.
func claimStrings(claims map[string]any, configured string, fallbacks ...string) []string {
	names := fallbacks
	if configured != "" {
		names = append([]string{configured}, fallbacks...)
	}
	for _, name := range names {
		switch v := claims[name].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return v
		case string:
			if v == "" {
				return nil
			}
			return strings.FieldsFunc(v, func(r rune) bool { return r == ' ' || r == ',' })
		}
	}
	return nil
}
