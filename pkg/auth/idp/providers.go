// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"fmt"
	"strings"
)

// KeycloakAdapter targets a Keycloak realm.
type KeycloakAdapter struct {
	*oidcAdapter
}

// NewKeycloak builds a Keycloak adapter. baseURL is the Keycloak root
// (e.g. https://kc.example.com) and realm the realm name; the issuer is
// {baseURL}/realms/{realm}.
func NewKeycloak(ctx context.Context, baseURL, realm string, opts Options) (*KeycloakAdapter, error) {
	if realm == "" {
		return nil, fmt.Errorf("keycloak realm is required")
	}
	opts.Name = "keycloak"
	if opts.DisplayName == "" {
		opts.DisplayName = "Keycloak"
	}
	opts.Issuer = strings.TrimRight(baseURL, "/") + "/realms/" + realm
	if opts.Claims.GroupsClaim == "" {
		opts.Claims.GroupsClaim = "groups"
	}

	base, err := newOIDCAdapter(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &KeycloakAdapter{oidcAdapter: base}, nil
}

// CognitoAdapter targets an AWS Cognito user pool.
type CognitoAdapter struct {
	*oidcAdapter
}

// NewCognito builds a Cognito adapter. issuerURL is the user-pool issuer
// (https://cognito-idp.{region}.amazonaws.com/{poolID}).
func NewCognito(ctx context.Context, issuerURL string, opts Options) (*CognitoAdapter, error) {
	opts.Name = "cognito"
	if opts.DisplayName == "" {
		opts.DisplayName = "AWS Cognito"
	}
	opts.Issuer = strings.TrimRight(issuerURL, "/")
	if opts.Claims.UsernameClaim == "" {
		opts.Claims.UsernameClaim = "cognito:username"
	}
	if opts.Claims.GroupsClaim == "" {
		opts.Claims.GroupsClaim = "cognito:groups"
	}

	base, err := newOIDCAdapter(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &CognitoAdapter{oidcAdapter: base}, nil
}

// graphMeEndpoint is the Microsoft Graph profile endpoint used when the
// Entra userinfo endpoint yields no usable claims.
const graphMeEndpoint = "https://graph.microsoft.com/v1.0/me"

// EntraAdapter targets Microsoft Entra ID (Azure AD).
type EntraAdapter struct {
	*oidcAdapter
}

// NewEntra builds an Entra adapter for the given tenant. The issuer is
// https://login.microsoftonline.com/{tenant}/v2.0 unless baseURL already
// names a full issuer.
func NewEntra(ctx context.Context, baseURL, tenant string, opts Options) (*EntraAdapter, error) {
	opts.Name = "entra"
	if opts.DisplayName == "" {
		opts.DisplayName = "Microsoft Entra ID"
	}
	switch {
	case strings.HasSuffix(baseURL, "/v2.0"):
		opts.Issuer = baseURL
	case tenant != "":
		root := baseURL
		if root == "" {
			root = "https://login.microsoftonline.com"
		}
		opts.Issuer = strings.TrimRight(root, "/") + "/" + tenant + "/v2.0"
	default:
		return nil, fmt.Errorf("entra tenant is required")
	}

	base, err := newOIDCAdapter(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &EntraAdapter{oidcAdapter: base}, nil
}

// FetchUserInfo prefers the OIDC userinfo endpoint and falls back to
// Microsoft Graph, which carries the fields (mail, displayName) Entra omits
// from userinfo for some tenant configurations.
func (a *EntraAdapter) FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	claims, err := a.oidcAdapter.FetchUserInfo(ctx, accessToken)
	if err == nil && claimString(claims, "", "preferred_username", "email", "sub") != "" {
		return claims, nil
	}

	graph, graphErr := a.getJSON(ctx, graphMeEndpoint, accessToken)
	if graphErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, graphErr
	}
	return normalizeGraphProfile(graph), nil
}

// normalizeGraphProfile renames Graph profile fields to their OIDC claim
// equivalents so MapUser works unchanged.
func normalizeGraphProfile(graph map[string]any) map[string]any {
	claims := make(map[string]any, len(graph))
	for k, v := range graph {
		claims[k] = v
	}
	if upn, ok := graph["userPrincipalName"].(string); ok && upn != "" {
		claims["preferred_username"] = upn
	}
	if mail, ok := graph["mail"].(string); ok && mail != "" {
		claims["email"] = mail
	}
	if name, ok := graph["displayName"].(string); ok && name != "" {
		claims["name"] = name
	}
	if id, ok := graph["id"].(string); ok && id != "" {
		if _, has := claims["sub"]; !has {
			claims["sub"] = id
		}
	}
	return claims
}
