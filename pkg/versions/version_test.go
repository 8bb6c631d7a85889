// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package versions

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

//nolint:paralleltest // mutates package-level build variables
func TestGetVersionInfo(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origDate
	})

	Version = "v1.2.3"
	Commit = "abc123def456789"
	BuildDate = "2024-01-15T10:30:00Z"

	info := GetVersionInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "abc123def456789", info.Commit)
	assert.Equal(t, "2024-01-15 10:30:00 UTC", info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), info.Platform)
}

//nolint:paralleltest // mutates package-level build variables
func TestDevBuildUsesShortCommit(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origDate
	})

	Version = "dev"
	Commit = "abc123def456789"
	BuildDate = unknownStr

	info := GetVersionInfo()
	assert.Equal(t, "build-abc123de", info.Version)
	assert.Equal(t, unknownStr, info.BuildDate)
}

//nolint:paralleltest // mutates package-level build variables
func TestMalformedBuildDateIsKept(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origDate
	})

	Version = "v0.1.0"
	Commit = "deadbeef"
	BuildDate = "not-a-date"

	assert.Equal(t, "not-a-date", GetVersionInfo().BuildDate)
}
