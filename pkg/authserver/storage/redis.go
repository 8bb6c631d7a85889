// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key segments under the configured prefix.
const (
	keyClient   = "client:"
	keyAuthCode = "code:"
	keyDevice   = "device:"
	keyUserCode = "usercode:"
	keyRefresh  = "refresh:"
	// clientIndexKey is a set of all registered client IDs, needed because
	// clients carry no TTL and KEYS scans are not acceptable on shared
	// deployments.
	clientIndexKey = "clients"
)

// RedisStore implements Store on Redis. Expiry is delegated to Redis TTLs,
// so Sweep is a no-op; single-use consumption relies on GETDEL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL (redis:// or rediss://) and verifies
// the connection.
func NewRedisStore(ctx context.Context, redisURL, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: keyPrefix}, nil
}

func (s *RedisStore) key(segments ...string) string {
	k := s.prefix
	for _, seg := range segments {
		k += seg
	}
	return k
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Let Redis expire it immediately rather than storing forever.
		return time.Millisecond
	}
	return ttl
}

// PutClient stores a client without TTL and indexes its ID.
func (s *RedisStore) PutClient(ctx context.Context, c *Client) error {
	if err := s.setJSON(ctx, s.key(keyClient, c.ClientID), c, 0); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.key(clientIndexKey), c.ClientID).Err()
}

// GetClient looks up a client by ID.
func (s *RedisStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	if err := s.getJSON(ctx, s.key(keyClient, clientID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClients returns all registered clients via the ID index.
func (s *RedisStore) ListClients(ctx context.Context) ([]*Client, error) {
	ids, err := s.client.SMembers(ctx, s.key(clientIndexKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Client, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClient(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// PutAuthorizationCode stores a code with its remaining TTL.
func (s *RedisStore) PutAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	return s.setJSON(ctx, s.key(keyAuthCode, code.Code), code, ttlUntil(code.ExpiresAt))
}

// ConsumeAuthorizationCode atomically fetches and deletes via GETDEL, so a
// concurrent second redemption observes an absent key.
func (s *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.key(keyAuthCode, code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec AuthorizationCode
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Expired() {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// PutDeviceAuthorization stores the record and the user_code index with the
// same TTL.
func (s *RedisStore) PutDeviceAuthorization(ctx context.Context, d *DeviceAuthorization) error {
	ttl := ttlUntil(d.ExpiresAt)
	if err := s.setJSON(ctx, s.key(keyDevice, d.DeviceCode), d, ttl); err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(keyUserCode, NormalizeUserCode(d.UserCode)), d.DeviceCode, ttl).Err()
}

// GetDeviceByDeviceCode looks up by device_code.
func (s *RedisStore) GetDeviceByDeviceCode(ctx context.Context, deviceCode string) (*DeviceAuthorization, error) {
	var d DeviceAuthorization
	if err := s.getJSON(ctx, s.key(keyDevice, deviceCode), &d); err != nil {
		return nil, err
	}
	if d.Expired() {
		return nil, ErrNotFound
	}
	return &d, nil
}

// GetDeviceByUserCode resolves the user_code index then fetches the record.
func (s *RedisStore) GetDeviceByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	deviceCode, err := s.client.Get(ctx, s.key(keyUserCode, NormalizeUserCode(userCode))).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetDeviceByDeviceCode(ctx, deviceCode)
}

// UpdateDeviceAuthorization rewrites the record, preserving the remaining TTL.
func (s *RedisStore) UpdateDeviceAuthorization(ctx context.Context, d *DeviceAuthorization) error {
	exists, err := s.client.Exists(ctx, s.key(keyDevice, d.DeviceCode)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.setJSON(ctx, s.key(keyDevice, d.DeviceCode), d, ttlUntil(d.ExpiresAt))
}

// DeleteDeviceAuthorization removes both indices.
func (s *RedisStore) DeleteDeviceAuthorization(ctx context.Context, deviceCode string) error {
	d, err := s.GetDeviceByDeviceCode(ctx, deviceCode)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.client.Del(ctx,
		s.key(keyDevice, deviceCode),
		s.key(keyUserCode, NormalizeUserCode(d.UserCode)),
	).Err()
}

// PutRefreshToken stores a refresh token with its remaining TTL.
func (s *RedisStore) PutRefreshToken(ctx context.Context, r *RefreshToken) error {
	return s.setJSON(ctx, s.key(keyRefresh, r.Token), r, ttlUntil(r.ExpiresAt))
}

// GetRefreshToken looks up a refresh token.
func (s *RedisStore) GetRefreshToken(ctx context.Context, tok string) (*RefreshToken, error) {
	var r RefreshToken
	if err := s.getJSON(ctx, s.key(keyRefresh, tok), &r); err != nil {
		return nil, err
	}
	if r.Expired() {
		return nil, ErrNotFound
	}
	return &r, nil
}

// DeleteRefreshToken removes a refresh token.
func (s *RedisStore) DeleteRefreshToken(ctx context.Context, tok string) error {
	return s.client.Del(ctx, s.key(keyRefresh, tok)).Err()
}

// Sweep is a no-op: Redis expires keys by TTL.
func (*RedisStore) Sweep(_ context.Context) {}

// Health pings the backend.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
