// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"fmt"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
)

// New constructs the adapter for the named provider from its configuration.
func New(ctx context.Context, name string, pc config.ProviderConfig) (Adapter, error) {
	opts := Options{
		ClientID:        pc.ClientID,
		ClientSecret:    pc.ClientSecret,
		M2MClientID:     pc.M2MClientID,
		M2MClientSecret: pc.M2MClientSecret,
		Claims: ClaimMapping{
			UsernameClaim: pc.UsernameClaim,
			EmailClaim:    pc.EmailClaim,
			NameClaim:     pc.NameClaim,
			GroupsClaim:   pc.GroupsClaim,
		},
	}

	switch name {
	case config.ProviderKeycloak:
		return NewKeycloak(ctx, pc.URL, pc.Realm, opts)
	case config.ProviderCognito:
		return NewCognito(ctx, pc.URL, opts)
	case config.ProviderEntra:
		return NewEntra(ctx, pc.URL, pc.Realm, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// Registry holds the adapters for all enabled providers.
type Registry struct {
	adapters map[string]Adapter
	// defaultName is the AUTH_PROVIDER selection.
	defaultName string
}

// NewRegistry builds adapters for every enabled provider. Providers whose
// discovery fails are skipped with an error only if the default provider is
// among them.
func NewRegistry(ctx context.Context, defaultName string, providers map[string]config.ProviderConfig) (*Registry, error) {
	r := &Registry{
		adapters:    make(map[string]Adapter),
		defaultName: defaultName,
	}
	for name, pc := range providers {
		adapter, err := New(ctx, name, pc)
		if err != nil {
			if name == defaultName {
				return nil, fmt.Errorf("failed to initialize default provider %s: %w", name, err)
			}
			continue
		}
		r.adapters[name] = adapter
	}
	return r, nil
}

// NewRegistryFromAdapters builds a registry from prebuilt adapters (tests).
func NewRegistryFromAdapters(defaultName string, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters:    make(map[string]Adapter),
		defaultName: defaultName,
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for name, or ErrProviderDisabled if absent.
func (r *Registry) Get(name string) (Adapter, error) {
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, name)
}

// Default returns the adapter selected by AUTH_PROVIDER, or nil when the
// default provider is not configured.
func (r *Registry) Default() Adapter {
	return r.adapters[r.defaultName]
}

// List returns display metadata for all enabled providers.
func (r *Registry) List() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.ProviderInfo())
	}
	return out
}
