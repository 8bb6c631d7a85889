// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "mcpgw:auth:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return newTestRedisStore(t)
	})
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(ctx, "redis://"+mr.Addr(), "mcpgw:auth:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	d := &DeviceAuthorization{
		DeviceCode: NewSecret(),
		UserCode:   "WDJB-MJHT",
		Status:     DeviceStatusPending,
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.PutDeviceAuthorization(ctx, d))

	// Both the record and the user_code index expire together.
	mr.FastForward(11 * time.Minute)

	_, err = s.GetDeviceByDeviceCode(ctx, d.DeviceCode)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDeviceByUserCode(ctx, d.UserCode)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(ctx, "redis://"+mr.Addr(), "tenant-a:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.PutAuthorizationCode(ctx, &AuthorizationCode{
		Code:      "abc",
		User:      &idp.UserContext{Username: "alice"},
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	assert.True(t, mr.Exists("tenant-a:code:abc"))
}

func TestRedisStoreInvalidURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url", "p:")
	assert.Error(t, err)
}
