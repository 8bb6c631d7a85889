// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/embeddings"
)

// Reranker reorders candidate results against the query. Callers treat
// reranking as best-effort: on failure the base ranking is kept.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Result) ([]Result, error)
}

// embeddingReranker re-embeds each candidate's content against the query
// and ranks by cosine similarity. It is a bi-encoder stand-in for a
// cross-encoder service, using whatever embeddings backend is configured.
type embeddingReranker struct {
	backend embeddings.Backend
}

// NewEmbeddingReranker creates a reranker over the given backend.
func NewEmbeddingReranker(backend embeddings.Backend) Reranker {
	return &embeddingReranker{backend: backend}
}

func (r *embeddingReranker) Rerank(ctx context.Context, query string, candidates []Result) ([]Result, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, c.Document.Content())
	}

	vecs, err := r.backend.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("rerank embedding failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("rerank backend returned %d vectors for %d texts", len(vecs), len(texts))
	}

	queryVec := vecs[0]
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		c.Score = cosineSimilarity(queryVec, vecs[i+1])
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
