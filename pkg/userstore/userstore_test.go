// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package userstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
)

func TestNoopResolver(t *testing.T) {
	t.Parallel()
	_, err := NoopResolver{}.ResolveUserID(context.Background(), "alice", "alice@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryResolver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewMemoryResolver(nil)
	r.Add("alice", "alice@example.com", "u-1")
	r.Add("bob", "", "u-2")

	id, err := r.ResolveUserID(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)

	// Username miss falls back to email.
	id, err = r.ResolveUserID(ctx, "alice.smith", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)

	_, err = r.ResolveUserID(ctx, "carol", "carol@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Empty identifiers never match.
	_, err = r.ResolveUserID(ctx, "", "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, err := New(ctx, config.UserStoreConfig{Type: "none"})
	require.NoError(t, err)
	assert.IsType(t, NoopResolver{}, r)

	r, err = New(ctx, config.UserStoreConfig{Type: ""})
	require.NoError(t, err)
	assert.IsType(t, NoopResolver{}, r)

	r, err = New(ctx, config.UserStoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryResolver{}, r)

	_, err = New(ctx, config.UserStoreConfig{Type: "dynamo"})
	assert.Error(t, err)
}
