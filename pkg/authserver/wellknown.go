// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"net/http"
)

// serverMetadata is the RFC 8414 authorization-server metadata document.
// The issuer is the root origin without the API prefix; operational
// endpoints carry the prefix.
type serverMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	DeviceAuthorizationEndpoint       string   `json:"device_authorization_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`

	// OIDC discovery extras; harmless in the 8414 document.
	SubjectTypesSupported            []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint               string   `json:"end_session_endpoint,omitempty"`
}

func (s *Server) metadata() serverMetadata {
	return serverMetadata{
		Issuer:                      s.cfg.Issuer(),
		AuthorizationEndpoint:       s.cfg.EndpointURL("/oauth2/login/" + s.cfg.AuthProvider),
		TokenEndpoint:               s.cfg.EndpointURL("/oauth2/token"),
		RegistrationEndpoint:        s.cfg.EndpointURL("/oauth2/register"),
		DeviceAuthorizationEndpoint: s.cfg.EndpointURL("/oauth2/device/code"),
		JWKSURI:                     s.cfg.Issuer() + "/.well-known/jwks.json",
		ResponseTypesSupported:      []string{"code"},
		GrantTypesSupported: []string{
			GrantAuthorizationCode,
			GrantDeviceCode,
			GrantRefreshToken,
			GrantClientCredentials,
		},
		CodeChallengeMethodsSupported:     []string{CodeChallengeMethodS256},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "none"},
		ScopesSupported:                   s.policy.Scopes(),
	}
}

// handleAuthServerMetadata serves RFC 8414 metadata.
func (s *Server) handleAuthServerMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metadata())
}

// handleOpenIDConfiguration serves OIDC discovery for clients that only
// speak openid-configuration. The gateway is not a full OIDC provider; the
// document advertises the same OAuth surface.
func (s *Server) handleOpenIDConfiguration(w http.ResponseWriter, _ *http.Request) {
	md := s.metadata()
	md.SubjectTypesSupported = []string{"public"}
	md.IDTokenSigningAlgValuesSupported = []string{"HS256"}
	writeJSON(w, http.StatusOK, md)
}

// handleJWKS returns an empty key set: signing is symmetric and the key
// must not be exposed.
func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
}

// handleAuthorizeShim redirects root-level /authorize to the prefixed login
// endpoint, preserving the query string. Some clients build the authorize
// URL from the issuer origin instead of the advertised endpoint.
func (s *Server) handleAuthorizeShim(w http.ResponseWriter, r *http.Request) {
	target := s.cfg.APIPrefix + "/oauth2/login/" + s.cfg.AuthProvider
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
