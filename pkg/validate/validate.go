// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package validate implements the access enforcement point: the /validate
// endpoint the reverse proxy calls (via auth_request) for every inbound MCP
// request. It authenticates the caller, applies the scope policy, and
// mirrors the decision into headers the proxy forwards downstream.
package validate

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/token"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/session"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/mcp"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/scopes"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/telemetry"
)

// Auth methods reported in the decision.
const (
	authMethodSession = "session"
	authMethodSelf    = "self_token"
	authMethodIdP     = "idp_token"
	authMethodNone    = "none"
)

// Headers the upstream proxy sets on the subrequest.
const (
	headerOriginalURL = "X-Original-URL"
	headerBody        = "X-Body"
	// headerAuthz is preferred over the standard Authorization header
	// because some proxy hops rewrite the latter.
	headerAuthz = "X-Authorization"
)

// Enforcer evaluates /validate requests.
type Enforcer struct {
	cfg       *config.Config
	tokens    *token.Service
	providers *idp.Registry
	policy    *scopes.Policy
	sessions  *session.Codec
}

// New creates the enforcement point.
func New(
	cfg *config.Config,
	tokens *token.Service,
	providers *idp.Registry,
	policy *scopes.Policy,
	sessions *session.Codec,
) *Enforcer {
	return &Enforcer{
		cfg:       cfg,
		tokens:    tokens,
		providers: providers,
		policy:    policy,
		sessions:  sessions,
	}
}

// identity is the authenticated caller as the decision pipeline sees it.
type identity struct {
	Username   string
	UserID     string
	ClientID   string
	Groups     []string
	Scopes     []string
	AuthMethod string
}

// decision is the JSON body returned on allow.
type decision struct {
	Valid      bool     `json:"valid"`
	Username   string   `json:"username"`
	ClientID   string   `json:"client_id,omitempty"`
	Scopes     []string `json:"scopes"`
	Groups     []string `json:"groups"`
	Method     string   `json:"method,omitempty"`
	ServerName string   `json:"server_name,omitempty"`
	ToolName   string   `json:"tool_name,omitempty"`
	AuthMethod string   `json:"auth_method"`
}

// ServeHTTP handles GET /validate.
func (e *Enforcer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller, ok := e.authenticate(r)
	if !ok {
		telemetry.RecordDecision(telemetry.DecisionDeniedAuthn, authMethodNone)
		e.unauthorized(w)
		return
	}

	serverName := parseOriginalURL(r.Header.Get(headerOriginalURL))
	method, tool := resolveMethodAndTool(r)

	if serverName != "" {
		// Authorization applies only when the request targets a server.
		if len(caller.Scopes) == 0 || !e.policy.Allow(caller.Scopes, serverName, method, tool) {
			telemetry.RecordDecision(telemetry.DecisionDeniedScope, caller.AuthMethod)
			logger.Infow("Access denied",
				"auth_method", caller.AuthMethod,
				"server", serverName,
				"mcp_method", method,
				"tool", tool,
			)
			writeProblem(w, http.StatusForbidden, "insufficient scope for this request")
			return
		}
	}

	telemetry.RecordDecision(telemetry.DecisionAllowed, caller.AuthMethod)

	d := decision{
		Valid:      true,
		Username:   caller.Username,
		ClientID:   caller.ClientID,
		Scopes:     caller.Scopes,
		Groups:     caller.Groups,
		Method:     method,
		ServerName: serverName,
		ToolName:   tool,
		AuthMethod: caller.AuthMethod,
	}

	// Mirror the decision into headers so the proxy can forward user context
	// without re-parsing the body.
	h := w.Header()
	h.Set("X-User", caller.UserID)
	h.Set("X-Username", caller.Username)
	h.Set("X-Client-Id", caller.ClientID)
	h.Set("X-Scopes", strings.Join(caller.Scopes, " "))
	h.Set("X-Groups", strings.Join(caller.Groups, " "))
	h.Set("X-Auth-Method", caller.AuthMethod)
	if serverName != "" {
		h.Set("X-Server-Name", serverName)
	}
	if tool != "" {
		h.Set("X-Tool-Name", tool)
	}

	writeJSON(w, http.StatusOK, d)
}

// authenticate resolves the caller from, in priority order: the login
// session cookie, then a bearer token from X-Authorization (preferred) or
// Authorization.
func (e *Enforcer) authenticate(r *http.Request) (*identity, bool) {
	if cookie, err := r.Cookie(session.LoginCookieName); err == nil {
		if login, err := e.sessions.DecodeLogin(cookie.Value, e.cfg.SessionCookieTTL); err == nil {
			return &identity{
				Username:   login.Username,
				UserID:     login.UserID,
				Groups:     login.Groups,
				Scopes:     login.Scopes,
				AuthMethod: authMethodSession,
			}, true
		}
	}

	bearer := bearerToken(r)
	if bearer == "" {
		return nil, false
	}

	if e.tokens.IsSelfIssued(bearer) {
		claims, err := e.tokens.Verify(bearer)
		if err != nil {
			logger.Debugf("Self-issued token rejected: %v", err)
			return nil, false
		}
		return &identity{
			Username:   claims.Subject,
			UserID:     claims.UserID,
			ClientID:   claims.ClientID,
			Groups:     claims.Groups,
			Scopes:     claims.Scopes(),
			AuthMethod: authMethodSelf,
		}, true
	}

	adapter := e.providers.Default()
	if adapter == nil {
		return nil, false
	}
	claims, err := adapter.ValidateToken(r.Context(), bearer)
	if err != nil {
		logger.Debugf("IdP token rejected: %v", err)
		return nil, false
	}
	user := adapter.MapUser(claims)
	// For IdP-signed tokens the group mapping is authoritative; the token's
	// own scope claim is ignored.
	return &identity{
		Username:   user.Username,
		UserID:     user.UserID,
		Groups:     user.Groups,
		Scopes:     e.policy.ScopesForGroups(user.Groups),
		AuthMethod: authMethodIdP,
	}, true
}

func bearerToken(r *http.Request) string {
	raw := r.Header.Get(headerAuthz)
	if raw == "" {
		raw = r.Header.Get("Authorization")
	}
	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return raw
}

// resolveMethodAndTool extracts the MCP method and tools/call target from
// the forwarded frame. Bodies arrive base64-encoded in X-Body when the
// proxy cannot forward raw bytes; both forms are accepted. A frame-less
// request defaults to initialize.
func resolveMethodAndTool(r *http.Request) (string, string) {
	body := []byte(r.Header.Get(headerBody))
	if len(body) > 0 {
		if decoded, err := base64.StdEncoding.DecodeString(string(body)); err == nil {
			body = decoded
		}
	}

	parsed := mcp.ParseRequest(body)
	if !parsed.IsRequest {
		return mcp.MethodInitialize, ""
	}
	tool := ""
	if parsed.Method == scopes.MethodToolsCall {
		tool = parsed.ResourceID
	}
	return parsed.Method, tool
}

// parseOriginalURL extracts the target server name: the first path segment
// of the proxied URL, with any /proxy prefix stripped. An empty result
// means the request is a pure authentication check.
func parseOriginalURL(original string) string {
	if original == "" {
		return ""
	}
	u, err := url.Parse(original)
	if err != nil {
		return ""
	}

	path := strings.Trim(u.EscapedPath(), "/")
	segments := strings.Split(path, "/")
	if len(segments) > 0 && segments[0] == "proxy" {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" {
		return ""
	}
	return "/" + segments[0]
}

func (e *Enforcer) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+e.cfg.Issuer()+`"`)
	w.Header().Set("Connection", "close")
	writeProblem(w, http.StatusUnauthorized, "authentication required")
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{
		"valid":  false,
		"status": status,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Encoding errors at this point cannot be reported to the client.
	_ = json.NewEncoder(w).Encode(v)
}
