// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// clientIDPrefix distinguishes dynamically registered clients from any
// statically provisioned ones.
const clientIDPrefix = "mcp-client-"

// registrationRequest is the RFC 7591 client metadata payload. Every field
// is optional; defaults below apply.
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientName              string   `json:"client_name"`
}

type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientName              string   `json:"client_name,omitempty"`
}

// handleRegister implements RFC 7591 dynamic client registration. The
// payload is optional: an empty POST registers a client with defaults.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	// A malformed body is a client error; an empty one is fine.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		oauthError(w, http.StatusBadRequest, "invalid_client_metadata", "request body is not valid JSON")
		return
	}

	if len(req.GrantTypes) == 0 {
		req.GrantTypes = []string{GrantAuthorizationCode, GrantDeviceCode}
	}
	if len(req.ResponseTypes) == 0 {
		req.ResponseTypes = []string{"code"}
	}
	if req.TokenEndpointAuthMethod == "" {
		req.TokenEndpointAuthMethod = "client_secret_post"
	}
	if req.Scope == "" {
		req.Scope = "openid profile email"
	}

	client := &storage.Client{
		ClientID:                clientIDPrefix + storage.RandomToken(16),
		ClientSecret:            storage.NewSecret(),
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		ClientName:              req.ClientName,
		RegisteredAt:            time.Now().UTC(),
		RegistrationIP:          r.RemoteAddr,
	}

	s.sweep(r.Context())
	if err := s.store.PutClient(r.Context(), client); err != nil {
		logger.Errorf("Failed to store registered client: %v", err)
		oauthError(w, http.StatusInternalServerError, ErrServerError, "failed to store client registration")
		return
	}

	logger.Infow("Registered OAuth client",
		"client_id", client.ClientID,
		"grant_types", client.GrantTypes,
	)

	writeJSON(w, http.StatusCreated, registrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            client.ClientSecret,
		ClientIDIssuedAt:        client.RegisteredAt.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   client.Scope,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		ClientName:              client.ClientName,
	})
}

// handleListClients lists registered clients for operators. Secrets are
// never revealed, even to admins.
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.store.ListClients(r.Context())
	if err != nil {
		logger.Errorf("Failed to list clients: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list clients"})
		return
	}

	type redactedClient struct {
		ClientID     string    `json:"client_id"`
		ClientName   string    `json:"client_name,omitempty"`
		RedirectURIs []string  `json:"redirect_uris"`
		GrantTypes   []string  `json:"grant_types"`
		Scope        string    `json:"scope,omitempty"`
		RegisteredAt time.Time `json:"registered_at"`
	}

	out := make([]redactedClient, 0, len(clients))
	for _, c := range clients {
		out = append(out, redactedClient{
			ClientID:     c.ClientID,
			ClientName:   c.ClientName,
			RedirectURIs: c.RedirectURIs,
			GrantTypes:   c.GrantTypes,
			Scope:        c.Scope,
			RegisteredAt: c.RegisteredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": out})
}
