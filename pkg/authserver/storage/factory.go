// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// NewStore builds the flow-state store selected by cfg. An empty type
// defaults to the in-memory store.
func NewStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		logger.Info("Using in-memory flow-state storage")
		return NewMemoryStore(), nil
	case "redis":
		prefix := cfg.KeyPrefix
		if prefix == "" {
			prefix = "mcpgw:auth:"
		}
		logger.Infof("Using Redis flow-state storage (prefix %q)", prefix)
		return NewRedisStore(ctx, cfg.RedisURL, prefix)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}
