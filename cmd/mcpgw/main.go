// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the MCP gateway auth and discovery
// server.
package main

import (
	"os"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/cmd/mcpgw/app"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
