// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package search is the discovery query API: semantic search grouped by
// entity type, server search with reranking, and the scope-filtered
// intelligent tool finder.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/embeddings"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/index"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/scopes"
)

// Input limits.
const (
	maxQueryLength    = 512
	maxResultsCap     = 50
	defaultMaxResults = 10
	defaultTopN       = 10
	defaultTopK       = 5
)

var (
	// ErrInvalidQuery flags bad caller input (400).
	ErrInvalidQuery = errors.New("invalid search request")
	// ErrIndexUnavailable distinguishes an index outage from an empty
	// result set (503).
	ErrIndexUnavailable = errors.New("discovery index unavailable")
)

// Service answers discovery queries over the index.
type Service struct {
	ix       *index.Index
	backend  embeddings.Backend
	reranker index.Reranker
	policy   *scopes.Policy
}

// New creates the query service.
func New(ix *index.Index, backend embeddings.Backend, policy *scopes.Policy) *Service {
	return &Service{
		ix:       ix,
		backend:  backend,
		reranker: index.NewEmbeddingReranker(backend),
		policy:   policy,
	}
}

func validateQuery(query string) error {
	if query == "" {
		return fmt.Errorf("%w: query must not be empty", ErrInvalidQuery)
	}
	if len(query) > maxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidQuery, maxQueryLength)
	}
	return nil
}

func (s *Service) indexErr(err error) error {
	return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
}

// SemanticRequest asks for results across entity types.
type SemanticRequest struct {
	Query       string   `json:"query"`
	EntityTypes []string `json:"entity_types,omitempty"`
	MaxResults  int      `json:"max_results,omitempty"`
}

// SemanticResponse groups hits by entity type.
type SemanticResponse struct {
	Results map[string][]index.Result `json:"results"`
	Total   int                       `json:"total"`
}

// Semantic runs vector search and groups results by entity type.
func (s *Service) Semantic(ctx context.Context, req SemanticRequest) (*SemanticResponse, error) {
	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}
	k := req.MaxResults
	if k <= 0 {
		k = defaultMaxResults
	}
	if k > maxResultsCap {
		k = maxResultsCap
	}

	results, err := s.ix.NearText(ctx, index.ToolsCollection, req.Query, k, entityFilter(req.EntityTypes, false))
	if err != nil {
		return nil, s.indexErr(err)
	}

	grouped := make(map[string][]index.Result)
	for _, r := range results {
		grouped[r.Document.EntityType] = append(grouped[r.Document.EntityType], r)
	}
	return &SemanticResponse{Results: grouped, Total: len(results)}, nil
}

// ServersRequest asks for matching server documents.
type ServersRequest struct {
	Query           string   `json:"query"`
	TopN            int      `json:"top_n,omitempty"`
	SearchType      string   `json:"search_type,omitempty"`
	Types           []string `json:"types,omitempty"`
	IncludeDisabled bool     `json:"include_disabled,omitempty"`
}

// Servers searches the server collection, by default hybrid with rerank.
func (s *Service) Servers(ctx context.Context, req ServersRequest) ([]index.Result, error) {
	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}
	topN := req.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	if topN > maxResultsCap {
		topN = maxResultsCap
	}
	searchType := req.SearchType
	switch searchType {
	case "":
		searchType = index.SearchHybrid
	case index.SearchSemantic, index.SearchBM25, index.SearchHybrid:
	default:
		return nil, fmt.Errorf("%w: unknown search type %q", ErrInvalidQuery, searchType)
	}

	f := entityFilter(req.Types, !req.IncludeDisabled)
	results, err := s.ix.SearchWithRerank(ctx, index.ServersCollection, req.Query, topN, searchType, s.reranker, f)
	if err != nil {
		return nil, s.indexErr(err)
	}
	return results, nil
}

// ToolsRequest is the intelligent tool finder input.
type ToolsRequest struct {
	Query        string   `json:"query"`
	Tags         []string `json:"tags,omitempty"`
	UserScopes   []string `json:"user_scopes,omitempty"`
	TopKServices int      `json:"top_k_services,omitempty"`
	TopNTools    int      `json:"top_n_tools,omitempty"`
}

// Tools finds the tools most relevant to a natural-language task, reranks
// them by re-embedding their content against the query, and keeps only
// tools the caller's scopes permit. No scopes means no results.
func (s *Service) Tools(ctx context.Context, req ToolsRequest) ([]index.Result, error) {
	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}
	// Fail closed: without scopes there is nothing the caller may invoke.
	if len(req.UserScopes) == 0 {
		return []index.Result{}, nil
	}

	topK := req.TopKServices
	if topK <= 0 {
		topK = defaultTopK
	}
	topN := req.TopNTools
	if topN <= 0 {
		topN = defaultTopN
	}
	if topN > maxResultsCap {
		topN = maxResultsCap
	}

	f := index.Filter{"entity_type": index.EntityTool, "is_enabled": true}
	if len(req.Tags) > 0 {
		f["tags"] = map[string]any{"$in": normalizeTags(req.Tags)}
	}

	candidates, err := s.ix.Hybrid(ctx, index.ToolsCollection, req.Query, topK*topN, 0.7, f)
	if err != nil {
		return nil, s.indexErr(err)
	}

	// Secondary ranking: each candidate's content re-embedded against the
	// query.
	reranked, err := s.reranker.Rerank(ctx, req.Query, candidates)
	if err == nil {
		candidates = reranked
	}

	out := make([]index.Result, 0, topN)
	for _, r := range candidates {
		doc := r.Document
		if !s.policy.Allow(req.UserScopes, doc.ServerPath, scopes.MethodToolsCall, doc.ToolName) {
			continue
		}
		out = append(out, r)
		if len(out) == topN {
			break
		}
	}
	return out, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ToLower(t))
	}
	sort.Strings(out)
	return out
}

// entityFilter builds the common filter for entity types and enablement.
// A type list containing "all" means no type restriction.
func entityFilter(types []string, enabledOnly bool) index.Filter {
	f := index.Filter{}
	if enabledOnly {
		f["is_enabled"] = true
	}
	restricted := make([]string, 0, len(types))
	for _, t := range types {
		if t == index.EntityAll {
			restricted = nil
			break
		}
		restricted = append(restricted, t)
	}
	if len(restricted) > 0 {
		f["entity_type"] = map[string]any{"$in": restricted}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}
