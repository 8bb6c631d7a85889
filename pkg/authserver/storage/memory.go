// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps. It is the single-node
// reference implementation: thread-safe, with lazy TTL sweeping driven by
// the flow engine before every mutation.
type MemoryStore struct {
	mu sync.RWMutex

	clients map[string]*Client

	// authCodes is keyed by the code secret. Consumption deletes the entry,
	// so a key's absence is what enforces single redemption.
	authCodes map[string]*AuthorizationCode

	// devices is keyed by device_code; userCodes maps normalized user_code
	// to device_code. Every live user_code maps to exactly one device_code.
	devices   map[string]*DeviceAuthorization
	userCodes map[string]string

	refreshTokens map[string]*RefreshToken
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:       make(map[string]*Client),
		authCodes:     make(map[string]*AuthorizationCode),
		devices:       make(map[string]*DeviceAuthorization),
		userCodes:     make(map[string]string),
		refreshTokens: make(map[string]*RefreshToken),
	}
}

// PutClient stores a registered client.
func (s *MemoryStore) PutClient(_ context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = c
	return nil
}

// GetClient looks up a client by ID.
func (s *MemoryStore) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// ListClients returns all registered clients.
func (s *MemoryStore) ListClients(_ context.Context) ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out, nil
}

// PutAuthorizationCode stores an authorization code.
func (s *MemoryStore) PutAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code.Code] = code
	return nil
}

// ConsumeAuthorizationCode removes and returns the code under the write
// lock, so two concurrent redemptions cannot both succeed.
func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.authCodes[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.authCodes, code)
	if rec.Expired() {
		return nil, ErrNotFound
	}
	return rec, nil
}

// PutDeviceAuthorization stores the record under both indices.
func (s *MemoryStore) PutDeviceAuthorization(_ context.Context, d *DeviceAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.DeviceCode] = d
	s.userCodes[NormalizeUserCode(d.UserCode)] = d.DeviceCode
	return nil
}

// GetDeviceByDeviceCode looks up by device_code.
func (s *MemoryStore) GetDeviceByDeviceCode(_ context.Context, deviceCode string) (*DeviceAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceCode]
	if !ok || d.Expired() {
		return nil, ErrNotFound
	}
	return d, nil
}

// GetDeviceByUserCode looks up by normalized user_code.
func (s *MemoryStore) GetDeviceByUserCode(_ context.Context, userCode string) (*DeviceAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deviceCode, ok := s.userCodes[NormalizeUserCode(userCode)]
	if !ok {
		return nil, ErrNotFound
	}
	d, ok := s.devices[deviceCode]
	if !ok || d.Expired() {
		return nil, ErrNotFound
	}
	return d, nil
}

// UpdateDeviceAuthorization replaces the stored record.
func (s *MemoryStore) UpdateDeviceAuthorization(_ context.Context, d *DeviceAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.DeviceCode]; !ok {
		return ErrNotFound
	}
	s.devices[d.DeviceCode] = d
	return nil
}

// DeleteDeviceAuthorization removes both indices.
func (s *MemoryStore) DeleteDeviceAuthorization(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDeviceLocked(deviceCode)
	return nil
}

func (s *MemoryStore) deleteDeviceLocked(deviceCode string) {
	if d, ok := s.devices[deviceCode]; ok {
		delete(s.userCodes, NormalizeUserCode(d.UserCode))
		delete(s.devices, deviceCode)
	}
}

// PutRefreshToken stores a refresh token.
func (s *MemoryStore) PutRefreshToken(_ context.Context, r *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[r.Token] = r
	return nil
}

// GetRefreshToken looks up a refresh token.
func (s *MemoryStore) GetRefreshToken(_ context.Context, tok string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.refreshTokens[tok]
	if !ok || r.Expired() {
		return nil, ErrNotFound
	}
	return r, nil
}

// DeleteRefreshToken removes a refresh token.
func (s *MemoryStore) DeleteRefreshToken(_ context.Context, tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, tok)
	return nil
}

// Sweep removes every expired entry. For device codes the user_code index
// is removed together with the record, so after expiry both indices are
// gone.
func (s *MemoryStore) Sweep(_ context.Context) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for code, rec := range s.authCodes {
		if now.After(rec.ExpiresAt) {
			delete(s.authCodes, code)
		}
	}
	for deviceCode, d := range s.devices {
		if now.After(d.ExpiresAt) {
			s.deleteDeviceLocked(deviceCode)
		}
	}
	for tok, r := range s.refreshTokens {
		if now.After(r.ExpiresAt) {
			delete(s.refreshTokens, tok)
		}
	}
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Health(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (*MemoryStore) Close() error {
	return nil
}
