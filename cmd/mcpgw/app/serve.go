// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/token"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/authserver/storage"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/embeddings"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/index"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/ingestion"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/search"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/scopes"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/telemetry"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/userstore"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/validate"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auth and discovery server",
	Long: `Start the HTTP server hosting the OAuth endpoints, the /validate
enforcement point, and the discovery search API. All configuration comes
from the environment.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize flow storage: %w", err)
	}

	tokens, err := token.NewService(token.Config{
		Secret:   cfg.SecretKey,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		KID:      cfg.JWTSelfSignedKID,
		Lifetime: cfg.AccessTokenLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	providers, err := idp.NewRegistry(ctx, cfg.AuthProvider, cfg.Providers)
	if err != nil {
		return fmt.Errorf("failed to initialize identity providers: %w", err)
	}

	policy, err := scopes.Load(cfg.ScopesConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load scope policy: %w", err)
	}

	users, err := userstore.New(ctx, cfg.UserStore)
	if err != nil {
		return fmt.Errorf("failed to initialize user store: %w", err)
	}
	defer func() {
		if err := users.Close(context.Background()); err != nil {
			logger.Warnf("Failed to close user store: %v", err)
		}
	}()

	backend := embeddings.New(ctx, cfg.Embeddings)
	ix, err := index.New(cfg.Vector, backend)
	if err != nil {
		return fmt.Errorf("failed to initialize discovery index: %w", err)
	}
	defer func() {
		if err := ix.Close(); err != nil {
			logger.Warnf("Failed to close discovery index: %v", err)
		}
	}()

	syncer := ingestion.New(ix)
	searchSvc := search.New(ix, backend, policy)

	srv := authserver.New(cfg, store, tokens, providers, policy, users)
	srv.AddHealthCheck(ix.Health)
	enforcer := validate.New(cfg, tokens, providers, policy, srv.Sessions())

	handler := srv.Handler(
		searchSvc.Routes(),
		func(r chi.Router) {
			r.Get("/validate", enforcer.ServeHTTP)
			r.Handle("/metrics", telemetry.Handler())
		},
		catalogRoutes(syncer),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("mcpgw listening on %s (issuer %s)", cfg.ListenAddr, cfg.Issuer())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Infof("Received %s, shutting down", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// catalogRoutes exposes the internal sync surface the registry calls when
// servers are registered, edited, or disabled.
func catalogRoutes(syncer *ingestion.Syncer) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/internal/catalog/sync", func(w http.ResponseWriter, req *http.Request) {
			var catalogs []ingestion.Catalog
			if err := json.NewDecoder(req.Body).Decode(&catalogs); err != nil {
				http.Error(w, "invalid JSON body", http.StatusBadRequest)
				return
			}
			if err := syncer.SyncAll(req.Context(), catalogs); err != nil {
				logger.Errorf("Catalog sync failed: %v", err)
				http.Error(w, "catalog sync failed", http.StatusInternalServerError)
				return
			}
			writeCatalogJSON(w, map[string]int{"synced": len(catalogs)})
		})

		r.Post("/internal/catalog/disable", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				ServerID string `json:"server_id"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.ServerID == "" {
				http.Error(w, "server_id is required", http.StatusBadRequest)
				return
			}
			n, err := syncer.Disable(req.Context(), body.ServerID)
			if err != nil {
				logger.Errorf("Catalog disable failed: %v", err)
				http.Error(w, "catalog disable failed", http.StatusInternalServerError)
				return
			}
			writeCatalogJSON(w, map[string]int{"removed": n})
		})
	}
}

func writeCatalogJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
