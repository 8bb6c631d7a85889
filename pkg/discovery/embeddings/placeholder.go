// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Placeholder produces deterministic vectors from token hashes. Identical
// texts always embed identically, and shared tokens produce nearby vectors,
// which is enough for tests and for the metadata-only update invariant.
type Placeholder struct {
	dimension int
}

// NewPlaceholder creates a placeholder backend.
func NewPlaceholder(dimension int) *Placeholder {
	return &Placeholder{dimension: dimension}
}

// Embed hashes each whitespace token into the vector and L2-normalizes.
func (p *Placeholder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embedOne(text)
	}
	return out, nil
}

// Dimension returns the configured vector width.
func (p *Placeholder) Dimension() int {
	return p.dimension
}

func (p *Placeholder) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimension)) //nolint:gosec // bounded by dimension
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
