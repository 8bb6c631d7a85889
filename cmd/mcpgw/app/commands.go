// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcpgw command-line
// application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcpgw",
	DisableAutoGenTag: true,
	Short:             "mcpgw is the auth and tool-discovery plane for an MCP gateway",
	Long: `mcpgw fronts a fleet of MCP servers with a single control plane:
an OAuth 2.0 facade over enterprise identity providers (Keycloak, Cognito,
Entra ID), a request validation endpoint for the gateway proxy, and a
vector-backed discovery index that lets agents find tools by meaning
rather than by name.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help.
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the mcpgw CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
