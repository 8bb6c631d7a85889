// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/versions"
)

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the mcpgw version",
		Long:  `Display version, git commit, build date, Go version, and platform.`,
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(info); err != nil {
					logger.Errorf("Error encoding version info: %v", err)
				}
				return
			}
			fmt.Printf("mcpgw %s\n", info.Version)
			fmt.Printf("Commit: %s\n", info.Commit)
			fmt.Printf("Built: %s\n", info.BuildDate)
			fmt.Printf("Go version: %s\n", info.GoVersion)
			fmt.Printf("Platform: %s\n", info.Platform)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")

	return cmd
}
