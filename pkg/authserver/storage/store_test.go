// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/auth/idp"
)

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("clients", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetClient(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		c := &Client{
			ClientID:     "mcp-client-abc123",
			ClientSecret: "s3cret",
			RedirectURIs: []string{"http://localhost:8765/callback"},
			GrantTypes:   []string{"authorization_code", "urn:ietf:params:oauth:grant-type:device_code"},
			RegisteredAt: time.Now().UTC(),
		}
		require.NoError(t, s.PutClient(ctx, c))

		got, err := s.GetClient(ctx, c.ClientID)
		require.NoError(t, err)
		assert.Equal(t, c.ClientID, got.ClientID)
		assert.True(t, got.HasRedirectURI("http://localhost:8765/callback"))
		assert.True(t, got.HasGrantType("authorization_code"))
		assert.False(t, got.HasGrantType("implicit"))

		all, err := s.ListClients(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("authorization code single redemption", func(t *testing.T) {
		s := newStore(t)

		code := &AuthorizationCode{
			Code:                NewSecret(),
			ClientID:            "mcp-client-abc123",
			RedirectURI:         "http://localhost:8765/callback",
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
			User:                &idp.UserContext{Username: "alice", Groups: []string{"dev"}},
			ExpiresAt:           time.Now().Add(time.Minute),
			CreatedAt:           time.Now(),
		}
		require.NoError(t, s.PutAuthorizationCode(ctx, code))

		got, err := s.ConsumeAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.User.Username)

		_, err = s.ConsumeAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("authorization code concurrent redemption", func(t *testing.T) {
		s := newStore(t)

		code := &AuthorizationCode{
			Code:      NewSecret(),
			ClientID:  "mcp-client-abc123",
			User:      &idp.UserContext{Username: "alice"},
			ExpiresAt: time.Now().Add(time.Minute),
		}
		require.NoError(t, s.PutAuthorizationCode(ctx, code))

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		}
		assert.Equal(t, 1, succeeded, "exactly one redemption must win")
	})

	t.Run("expired authorization code", func(t *testing.T) {
		s := newStore(t)

		code := &AuthorizationCode{
			Code:      NewSecret(),
			ClientID:  "mcp-client-abc123",
			User:      &idp.UserContext{Username: "alice"},
			ExpiresAt: time.Now().Add(-time.Second),
		}
		require.NoError(t, s.PutAuthorizationCode(ctx, code))

		_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("device authorization dual index", func(t *testing.T) {
		s := newStore(t)

		d := &DeviceAuthorization{
			DeviceCode: NewSecret(),
			UserCode:   "WDJB-MJHT",
			ClientID:   "mcp-client-abc123",
			Status:     DeviceStatusPending,
			ExpiresAt:  time.Now().Add(10 * time.Minute),
			CreatedAt:  time.Now(),
		}
		require.NoError(t, s.PutDeviceAuthorization(ctx, d))

		byDevice, err := s.GetDeviceByDeviceCode(ctx, d.DeviceCode)
		require.NoError(t, err)
		assert.Equal(t, DeviceStatusPending, byDevice.Status)

		// User-code lookup is case- and dash-insensitive.
		for _, input := range []string{"WDJB-MJHT", "wdjb-mjht", "WDJBMJHT", "wdjb mjht"} {
			byUser, err := s.GetDeviceByUserCode(ctx, input)
			require.NoError(t, err, "lookup with %q", input)
			assert.Equal(t, d.DeviceCode, byUser.DeviceCode)
		}

		d.Status = DeviceStatusApproved
		d.Token = "cached-access-token"
		d.TokenExpiresIn = 3600
		require.NoError(t, s.UpdateDeviceAuthorization(ctx, d))

		byDevice, err = s.GetDeviceByDeviceCode(ctx, d.DeviceCode)
		require.NoError(t, err)
		assert.Equal(t, DeviceStatusApproved, byDevice.Status)
		assert.Equal(t, "cached-access-token", byDevice.Token)

		require.NoError(t, s.DeleteDeviceAuthorization(ctx, d.DeviceCode))
		_, err = s.GetDeviceByDeviceCode(ctx, d.DeviceCode)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetDeviceByUserCode(ctx, d.UserCode)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update unknown device", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateDeviceAuthorization(ctx, &DeviceAuthorization{
			DeviceCode: "never-stored",
			UserCode:   "AAAA-BBBB",
			ExpiresAt:  time.Now().Add(time.Minute),
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("refresh tokens", func(t *testing.T) {
		s := newStore(t)

		r := &RefreshToken{
			Token:     NewSecret(),
			ClientID:  "mcp-client-abc123",
			User:      &idp.UserContext{Username: "alice", Scopes: []string{"weather-read"}},
			Scope:     "weather-read",
			ExpiresAt: time.Now().Add(14 * 24 * time.Hour),
		}
		require.NoError(t, s.PutRefreshToken(ctx, r))

		got, err := s.GetRefreshToken(ctx, r.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.User.Username)

		require.NoError(t, s.DeleteRefreshToken(ctx, r.Token))
		_, err = s.GetRefreshToken(ctx, r.Token)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("health", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Health(ctx))
	})
}
