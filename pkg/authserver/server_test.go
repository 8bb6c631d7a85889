// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/token"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/ratelimit"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/scopes"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/userstore"
)

const testPolicyYAML = `
weather-read:
  - server: /weather
    methods: [initialize, tools/list]
    tools: [get_forecast]
registry-admin:
  - server: "*"
    methods: ["*"]
    tools: ["*"]
group_mappings:
  dev: [weather-read]
  admins: [registry-admin]
`

// fakeAdapter is a canned IdP for flow tests. The real OIDC adapter is
// exercised against mockoidc in its own package.
type fakeAdapter struct {
	name        string
	claims      map[string]any
	exchangeErr error
	m2mErr      error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) AuthorizeURL(state, redirectURI string, _ []string) string {
	return "https://idp.example.com/auth?state=" + url.QueryEscape(state) +
		"&redirect_uri=" + url.QueryEscape(redirectURI)
}

func (f *fakeAdapter) ExchangeCode(_ context.Context, code, _ string) (*idp.TokenBundle, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if code != "idp-code" {
		return nil, &idp.OAuthError{Code: "invalid_grant"}
	}
	return &idp.TokenBundle{
		AccessToken: "idp-access-token",
		IDToken:     "stub-id-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeAdapter) FetchUserInfo(_ context.Context, _ string) (map[string]any, error) {
	return f.claims, nil
}

func (f *fakeAdapter) Refresh(_ context.Context, _ string) (*idp.TokenBundle, error) {
	return &idp.TokenBundle{AccessToken: "refreshed"}, nil
}

func (f *fakeAdapter) ValidateToken(_ context.Context, raw string) (map[string]any, error) {
	if raw != "stub-id-token" {
		return nil, &idp.OAuthError{Code: "invalid_token"}
	}
	return f.claims, nil
}

func (f *fakeAdapter) MapUser(claims map[string]any) *idp.UserContext {
	user := &idp.UserContext{}
	if v, ok := claims["preferred_username"].(string); ok {
		user.Username = v
	}
	if v, ok := claims["email"].(string); ok {
		user.Email = v
	}
	if v, ok := claims["sub"].(string); ok {
		user.IdpID = v
	}
	if groups, ok := claims["groups"].([]string); ok {
		user.Groups = groups
	}
	return user
}

func (f *fakeAdapter) M2MToken(_ context.Context, scope string) (*idp.TokenBundle, error) {
	if f.m2mErr != nil {
		return nil, f.m2mErr
	}
	return &idp.TokenBundle{
		AccessToken: "m2m-from-idp",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
		Scope:       scope,
	}, nil
}

func (f *fakeAdapter) ProviderInfo() idp.ProviderInfo {
	return idp.ProviderInfo{Name: f.name, DisplayName: "Fake " + f.name}
}

func (f *fakeAdapter) LogoutURL(redirectURI string) string {
	return "https://idp.example.com/logout?redirect_uri=" + url.QueryEscape(redirectURI)
}

type testEnv struct {
	server  *Server
	handler http.Handler
	cfg     *config.Config
	tokens  *token.Service
	adapter *fakeAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AuthProvider:            "keycloak",
		SecretKey:               "test-secret-key-for-the-gateway",
		JWTIssuer:               "mcp-gateway",
		JWTAudience:             "mcp-gateway-api",
		JWTSelfSignedKID:        "gateway-self-signed",
		AuthServerExternalURL:   "http://localhost:8888",
		APIPrefix:               "/api",
		DeviceCodeExpiry:        10 * time.Minute,
		DevicePollInterval:      5 * time.Second,
		OAuthSessionTTL:         10 * time.Minute,
		AccessTokenLifetime:     time.Hour,
		MaxTokenLifetime:        24 * time.Hour,
		DefaultTokenLifetime:    8 * time.Hour,
		RefreshTokenLifetime:    14 * 24 * time.Hour,
		SessionCookieTTL:        8 * time.Hour,
		MaxTokensPerUserPerHour: 100,
	}

	tokens, err := token.NewService(token.Config{
		Secret:   cfg.SecretKey,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		KID:      cfg.JWTSelfSignedKID,
		Lifetime: cfg.AccessTokenLifetime,
	})
	require.NoError(t, err)

	policy, err := scopes.Parse([]byte(testPolicyYAML))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		name: "keycloak",
		claims: map[string]any{
			"sub":                "u1",
			"preferred_username": "alice",
			"email":              "alice@example.com",
			"groups":             []string{"dev"},
		},
	}

	users := userstore.NewMemoryResolver(nil)
	users.Add("alice", "alice@example.com", "user-001")

	srv := New(cfg, storage.NewMemoryStore(), tokens,
		idp.NewRegistryFromAdapters("keycloak", adapter), policy, users)

	return &testEnv{
		server:  srv,
		handler: srv.Handler(),
		cfg:     cfg,
		tokens:  tokens,
		adapter: adapter,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// registerClient runs DCR and returns the issued client_id.
func (e *testEnv) registerClient(t *testing.T, body string) registrationResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/oauth2/register", strings.NewReader(body))
	rec := e.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp registrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// beginLogin drives /login and returns the session cookie and the internal
// state the IdP would echo back.
func (e *testEnv) beginLogin(t *testing.T, query url.Values) (*http.Cookie, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/oauth2/login/keycloak?"+query.Encode(), nil)
	rec := e.do(req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "mcpgw_oauth_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "login must set the OAuth session cookie")
	return cookie, state
}

// completeCallback drives /callback and returns the internal auth code.
func (e *testEnv) completeCallback(t *testing.T, cookie *http.Cookie, state string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet,
		"/api/oauth2/callback/keycloak?code=idp-code&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	rec := e.do(req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	client := e.registerClient(t, `{"redirect_uris":["https://c1/cb"]}`)

	verifier := "test-verifier-with-enough-entropy-0123456789"
	cookie, state := e.beginLogin(t, url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {"https://c1/cb"},
		"state":                 {"client-state-xyz"},
		"code_challenge":        {S256Challenge(verifier)},
		"code_challenge_method": {"S256"},
	})

	// The client's own state comes back on the final redirect.
	req := httptest.NewRequest(http.MethodGet,
		"/api/oauth2/callback/keycloak?code=idp-code&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	rec := e.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client-state-xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	rec = e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantAuthorizationCode},
		"code":          {code},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://c1/cb"},
		"code_verifier": {verifier},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)

	claims, err := e.tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "user-001", claims.UserID)
	assert.Equal(t, []string{"weather-read"}, claims.Scopes())
	assert.Equal(t, []string{"dev"}, claims.Groups)
	assert.Equal(t, "mcp-gateway-api", claims.Audience[0])
	assert.Equal(t, time.Hour, claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time))

	// A second redemption of the same code fails.
	rec = e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantAuthorizationCode},
		"code":          {code},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://c1/cb"},
		"code_verifier": {verifier},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidGrant)
}

func TestAuthorizationCodePKCEMismatch(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	client := e.registerClient(t, `{"redirect_uris":["https://c1/cb"]}`)
	cookie, state := e.beginLogin(t, url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {"https://c1/cb"},
		"code_challenge":        {S256Challenge("the-real-verifier")},
		"code_challenge_method": {"S256"},
	})
	code := e.completeCallback(t, cookie, state)

	rec := e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantAuthorizationCode},
		"code":          {code},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://c1/cb"},
		"code_verifier": {"a-wrong-verifier"},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidGrant)

	// The failed attempt burned the code.
	rec = e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantAuthorizationCode},
		"code":          {code},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://c1/cb"},
		"code_verifier": {"the-real-verifier"},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidGrant)
}

func TestCallbackStateMismatch(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	cookie, _ := e.beginLogin(t, url.Values{"redirect_uri": {"https://c1/cb"}})

	req := httptest.NewRequest(http.MethodGet,
		"/api/oauth2/callback/keycloak?code=idp-code&state=forged", nil)
	req.AddCookie(cookie)
	rec := e.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackExpiredSessionWithResource(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.cfg.OAuthSessionTTL = 0 // every envelope is immediately stale

	cookie, state := e.beginLogin(t, url.Values{
		"redirect_uri": {"https://c1/cb"},
		"resource":     {"https://example.com/gateway/proxy/mcpgw"},
	})

	time.Sleep(1100 * time.Millisecond) // cross the one-second IssuedAt granularity

	req := httptest.NewRequest(http.MethodGet,
		"/api/oauth2/callback/keycloak?code=idp-code&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	rec := e.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	challenge := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, "Bearer")
	assert.Contains(t, challenge,
		`resource_metadata="https://example.com/.well-known/oauth-protected-resource/gateway/proxy/mcpgw"`)
}

func TestDeviceFlow(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	client := e.registerClient(t, `{}`)

	rec := e.do(postForm("/api/oauth2/device/code", url.Values{
		"client_id": {client.ClientID},
		"scope":     {"registry-admin"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dc deviceCodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dc))
	assert.Regexp(t, `^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`, dc.UserCode)
	assert.Equal(t, int64(5), dc.Interval)
	assert.Contains(t, dc.VerificationURIComplete, dc.UserCode)

	poll := func() *httptest.ResponseRecorder {
		return e.do(postForm("/api/oauth2/token", url.Values{
			"grant_type":  {GrantDeviceCode},
			"device_code": {dc.DeviceCode},
			"client_id":   {client.ClientID},
		}))
	}

	rec = poll()
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrAuthorizationPending)

	// Approve as an authenticated user; the user_code is entered lowercased
	// and unformatted.
	approver, _, err := e.tokens.Mint(token.MintOptions{
		Subject: "alice", Scopes: []string{"weather-read"}, Groups: []string{"dev"},
	})
	require.NoError(t, err)
	approve := postForm("/api/oauth2/device/approve", url.Values{
		"user_code": {strings.ToLower(strings.ReplaceAll(dc.UserCode, "-", ""))},
	})
	approve.Header.Set("X-Authorization", "Bearer "+approver)
	rec = e.do(approve)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Approving again is idempotent.
	approve = postForm("/api/oauth2/device/approve", url.Values{"user_code": {dc.UserCode}})
	approve.Header.Set("X-Authorization", "Bearer "+approver)
	rec = e.do(approve)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = poll()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := e.tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "registry-admin", claims.Scope)
}

func TestDeviceApproveRequiresAuth(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(postForm("/api/oauth2/device/approve", url.Values{"user_code": {"AAAA-BBBB"}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceCodeExpired(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":  {GrantDeviceCode},
		"device_code": {"never-issued"},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrExpiredToken)
}

func TestRefreshTokenGrant(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	client := e.registerClient(t, `{"redirect_uris":["https://c1/cb"]}`)
	verifier := "test-verifier-with-enough-entropy-0123456789"
	cookie, state := e.beginLogin(t, url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {"https://c1/cb"},
		"code_challenge":        {S256Challenge(verifier)},
		"code_challenge_method": {"S256"},
	})
	code := e.completeCallback(t, cookie, state)

	rec := e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantAuthorizationCode},
		"code":          {code},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://c1/cb"},
		"code_verifier": {verifier},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	var first tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantRefreshToken},
		"refresh_token": {first.RefreshToken},
		"client_id":     {client.ClientID},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	// Same refresh token comes back; the access token is fresh and carries
	// the same identity.
	assert.Equal(t, first.RefreshToken, second.RefreshToken)
	claims, err := e.tokens.Verify(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, []string{"weather-read"}, claims.Scopes())
}

func TestClientCredentialsGrant(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	client := e.registerClient(t, `{"grant_types":["client_credentials"],"scope":"registry-admin"}`)

	rec := e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantClientCredentials},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := e.tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, claims.Subject)
	assert.Equal(t, "registry-admin", claims.Scope)

	// Wrong secret is invalid_client, not invalid_grant.
	rec = e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantClientCredentials},
		"client_id":     {client.ClientID},
		"client_secret": {"wrong"},
	}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientCredentialsViaProvider(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	client := e.registerClient(t, `{"grant_types":["client_credentials"],"scope":"registry-admin"}`)
	creds := url.Values{
		"grant_type":    {GrantClientCredentials},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"provider":      {"keycloak"},
	}

	rec := e.do(postForm("/api/oauth2/token", creds))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "m2m-from-idp", resp.AccessToken)
	assert.Equal(t, "registry-admin", resp.Scope)
	assert.Positive(t, resp.ExpiresIn)

	creds.Set("provider", "nonexistent")
	rec = e.do(postForm("/api/oauth2/token", creds))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidRequest)
}

func TestClientCredentialsViaProviderUnreachable(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.adapter.m2mErr = &idp.RetryableError{Op: "token", Err: errors.New("connection refused")}

	client := e.registerClient(t, `{"grant_types":["client_credentials"]}`)
	rec := e.do(postForm("/api/oauth2/token", url.Values{
		"grant_type":    {GrantClientCredentials},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"provider":      {"keycloak"},
	}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnsupportedGrantType(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(postForm("/api/oauth2/token", url.Values{"grant_type": {"password"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrUnsupportedGrantType)
}

func TestRegisterDefaults(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	resp := e.registerClient(t, `{}`)
	assert.True(t, strings.HasPrefix(resp.ClientID, "mcp-client-"))
	assert.NotEmpty(t, resp.ClientSecret)
	assert.Equal(t, []string{GrantAuthorizationCode, GrantDeviceCode}, resp.GrantTypes)
	assert.Equal(t, []string{"code"}, resp.ResponseTypes)
	assert.Equal(t, "client_secret_post", resp.TokenEndpointAuthMethod)
}

func TestListClientsRedactsSecrets(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	registered := e.registerClient(t, `{"client_name":"ci-bot"}`)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/oauth2/clients", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), registered.ClientID)
	assert.NotContains(t, rec.Body.String(), registered.ClientSecret)
}

func TestProvidersListing(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/oauth2/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keycloak"`)
}

func TestLoginUnknownProvider(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/oauth2/login/okta", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWellKnownMetadata(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var md serverMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	// Issuer is the prefix-stripped origin; endpoints carry the prefix.
	assert.Equal(t, "http://localhost:8888", md.Issuer)
	assert.Equal(t, "http://localhost:8888/api/oauth2/token", md.TokenEndpoint)
	assert.Equal(t, []string{"S256"}, md.CodeChallengeMethodsSupported)
	assert.Contains(t, md.GrantTypesSupported, GrantDeviceCode)
	assert.Contains(t, md.ScopesSupported, "weather-read")
}

func TestJWKSIsEmpty(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())
}

func TestAuthorizeShimPreservesQuery(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/authorize?client_id=C1&state=xyz", nil))
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "/api/oauth2/login/keycloak")
	assert.Contains(t, location, "client_id=C1")
	assert.Contains(t, location, "state=xyz")
}

func TestUserTokenMinting(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	bearer, _, err := e.tokens.Mint(token.MintOptions{
		Subject: "alice", Scopes: []string{"weather-read"},
	})
	require.NoError(t, err)

	mint := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/internal/tokens", strings.NewReader(body))
		req.Header.Set("X-Authorization", "Bearer "+bearer)
		return e.do(req)
	}

	rec := mint(`{"expires_in": 7200}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 7200, resp.ExpiresIn, 2)

	// Out-of-range lifetimes are rejected.
	rec = mint(`{"expires_in": 90000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = mint(`{"expires_in": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unauthenticated minting is rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/internal/tokens", strings.NewReader(`{}`))
	rec = e.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserTokenRateLimit(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.server.limiter = ratelimit.NewHourlyLimiter(2)

	bearer, _, err := e.tokens.Mint(token.MintOptions{Subject: "alice"})
	require.NoError(t, err)

	mint := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/internal/tokens", strings.NewReader(`{}`))
		req.Header.Set("X-Authorization", "Bearer "+bearer)
		return e.do(req)
	}

	require.Equal(t, http.StatusCreated, mint().Code)
	require.Equal(t, http.StatusCreated, mint().Code)
	assert.Equal(t, http.StatusTooManyRequests, mint().Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.server.AddHealthCheck(func(context.Context) error { return nil })
	e.server.AddHealthCheck(func(context.Context) error {
		return errors.New("search index unavailable")
	})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "search index unavailable")
}
