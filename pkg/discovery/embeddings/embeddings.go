// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package embeddings generates the vectors behind tool discovery. Backends
// are pluggable: an OpenAI-compatible HTTP service, AWS Bedrock, or a
// deterministic hash-based placeholder for tests and dependency-free runs.
package embeddings

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// Backend generates embedding vectors.
type Backend interface {
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the vector width the backend produces.
	Dimension() int
}

// New builds the configured backend. Failure to reach a remote backend
// falls back to the placeholder so the gateway stays up without discovery
// quality, not without discovery.
func New(ctx context.Context, cfg config.EmbeddingsConfig) Backend {
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 384
	}

	switch cfg.Provider {
	case "openai":
		backend, err := NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, dimension)
		if err == nil {
			return backend
		}
		logger.Warnf("OpenAI embeddings unavailable, falling back to placeholder: %v", err)
	case "bedrock":
		backend, err := NewBedrock(ctx, cfg.AWSRegion, cfg.Model, dimension)
		if err == nil {
			return backend
		}
		logger.Warnf("Bedrock embeddings unavailable, falling back to placeholder: %v", err)
	case "", "placeholder":
	default:
		logger.Warnf("Unknown embeddings provider %q, using placeholder", cfg.Provider)
	}
	return NewPlaceholder(dimension)
}

// EmbedOne is a convenience wrapper for single-text embedding.
func EmbedOne(ctx context.Context, b Backend, text string) ([]float32, error) {
	vecs, err := b.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("backend returned %d vectors for one text", len(vecs))
	}
	return vecs[0], nil
}

// ChromemFunc adapts a Backend to the vector store's embedding callback.
func ChromemFunc(b Backend) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return EmbedOne(ctx, b, text)
	}
}
