// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/embeddings"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/index"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/ingestion"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/scopes"
)

const searchPolicyYAML = `
weather-read:
  - server: /weather
    methods: [initialize, tools/list]
    tools: [get_forecast]
group_mappings:
  dev: [weather-read]
`

func newTestService(t *testing.T) *Service {
	t.Helper()

	ix, err := index.New(config.VectorConfig{FTSPath: ":memory:"}, embeddings.NewPlaceholder(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	policy, err := scopes.Parse([]byte(searchPolicyYAML))
	require.NoError(t, err)

	syncer := ingestion.New(ix)
	require.NoError(t, syncer.SyncAll(context.Background(), []ingestion.Catalog{
		{
			Server: ingestion.Server{
				ID: "srv-weather", Name: "weather", Path: "/weather",
				Description: "Current conditions and forecasts", IsEnabled: true,
				Tags: []string{"weather"},
			},
			Tools: []ingestion.Tool{
				{Name: "get_forecast", Description: "Fetch the weather forecast for a city"},
				{Name: "purge_cache", Description: "Drop all cached forecast data"},
			},
		},
		{
			Server: ingestion.Server{
				ID: "srv-admin", Name: "admin", Path: "/admin",
				Description: "Registry administration", IsEnabled: true,
			},
			Tools: []ingestion.Tool{
				{Name: "delete_all", Description: "Delete every registered server"},
			},
		},
	}))

	return New(ix, embeddings.NewPlaceholder(64), policy)
}

func TestSemanticGroupsByEntityType(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	resp, err := svc.Semantic(context.Background(), SemanticRequest{Query: "weather forecast", MaxResults: 5})
	require.NoError(t, err)
	assert.Equal(t, resp.Total, len(resp.Results[index.EntityTool]))
	require.NotEmpty(t, resp.Results[index.EntityTool])
	assert.Equal(t, "get_forecast", resp.Results[index.EntityTool][0].Document.ToolName)
}

func TestSemanticValidatesQuery(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Semantic(ctx, SemanticRequest{Query: ""})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.Semantic(ctx, SemanticRequest{Query: strings.Repeat("x", 513)})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSemanticCapsMaxResults(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	resp, err := svc.Semantic(context.Background(), SemanticRequest{Query: "anything", MaxResults: 5000})
	require.NoError(t, err)
	assert.LessOrEqual(t, resp.Total, maxResultsCap)
}

func TestServersSearch(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	results, err := svc.Servers(context.Background(), ServersRequest{Query: "weather conditions"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "srv-weather", results[0].Document.ID)
	assert.Equal(t, index.EntityServer, results[0].Document.EntityType)
}

func TestServersRejectsUnknownSearchType(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	_, err := svc.Servers(context.Background(), ServersRequest{Query: "x", SearchType: "psychic"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestServersExcludesDisabledByDefault(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.ix.UpdateMetadata(ctx, index.ServersCollection, "srv-admin",
		map[string]any{"is_enabled": false}))

	results, err := svc.Servers(ctx, ServersRequest{Query: "registry administration"})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "srv-admin", r.Document.ID)
	}

	included, err := svc.Servers(ctx, ServersRequest{Query: "registry administration", IncludeDisabled: true})
	require.NoError(t, err)
	ids := make([]string, 0, len(included))
	for _, r := range included {
		ids = append(ids, r.Document.ID)
	}
	assert.Contains(t, ids, "srv-admin")
}

func TestToolsFailsClosedWithoutScopes(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	results, err := svc.Tools(context.Background(), ToolsRequest{Query: "forecast"})
	require.NoError(t, err)
	assert.Empty(t, results, "no scopes means no results")
}

func TestToolsFiltersByScope(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	results, err := svc.Tools(context.Background(), ToolsRequest{
		Query:      "weather forecast delete servers",
		UserScopes: []string{"weather-read"},
		TopNTools:  10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "get_forecast", r.Document.ToolName,
			"scope weather-read only permits get_forecast")
	}
}

func TestToolsFiltersByTags(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	results, err := svc.Tools(context.Background(), ToolsRequest{
		Query:      "forecast",
		Tags:       []string{"no-such-tag"},
		UserScopes: []string{"weather-read"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func postSearch(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSearchHTTPEndpoints(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	r := chi.NewRouter()
	r.Group(svc.Routes())

	rec := postSearch(t, r, "/search/semantic", SemanticRequest{Query: "weather forecast"})
	require.Equal(t, http.StatusOK, rec.Code)
	var semantic SemanticResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &semantic))
	assert.NotZero(t, semantic.Total)

	rec = postSearch(t, r, "/search/servers", ServersRequest{Query: "weather"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postSearch(t, r, "/search/tools", ToolsRequest{Query: "forecast", UserScopes: []string{"weather-read"}})
	require.Equal(t, http.StatusOK, rec.Code)

	// Validation failures surface as 400 with an error body.
	rec = postSearch(t, r, "/search/semantic", SemanticRequest{Query: ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	req := httptest.NewRequest(http.MethodPost, "/search/semantic", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
