// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/embeddings"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/index"
)

func newTestSyncer(t *testing.T) (*Syncer, *index.Index) {
	t.Helper()
	ix, err := index.New(config.VectorConfig{FTSPath: ":memory:"}, embeddings.NewPlaceholder(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return New(ix), ix
}

func weatherServer() Server {
	return Server{
		ID:          "srv-weather",
		Name:        "weather",
		Path:        "/weather",
		Description: "Current conditions and forecasts",
		Tags:        []string{"Weather"},
		IsEnabled:   true,
	}
}

func weatherTools() []Tool {
	return []Tool{
		{Name: "get_forecast", Description: "Fetch the forecast for a city"},
		{Name: "get_alerts", Description: "List active weather alerts"},
	}
}

func TestComputeDiff(t *testing.T) {
	t.Parallel()

	existing := []*index.Document{
		{ID: "s:keep", ToolName: "keep", Description: "unchanged"},
		{ID: "s:edit", ToolName: "edit", Description: "old text"},
		{ID: "s:gone", ToolName: "gone", Description: "whatever"},
	}
	tools := []Tool{
		{Name: "keep", Description: "unchanged"},
		{Name: "edit", Description: "new text"},
		{Name: "fresh", Description: "brand new"},
	}

	diff := ComputeDiff(existing, tools)
	require.Len(t, diff.ToAdd, 1)
	assert.Equal(t, "fresh", diff.ToAdd[0].Name)
	require.Len(t, diff.ToUpdate, 1)
	assert.Equal(t, "edit", diff.ToUpdate[0].Name)
	assert.Equal(t, []string{"s:gone"}, diff.ToDelete)
}

func TestSyncServerInsertsTools(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)
	ctx := context.Background()

	require.NoError(t, s.SyncServer(ctx, weatherServer(), weatherTools()))
	assert.Equal(t, 2, ix.Count(index.ToolsCollection))
	assert.Equal(t, 1, ix.Count(index.ServersCollection))

	doc, err := ix.Get(ctx, index.ToolsCollection, "srv-weather:get_forecast")
	require.NoError(t, err)
	assert.Equal(t, index.EntityTool, doc.EntityType)
	assert.Equal(t, []string{"weather"}, doc.Tags)
}

func TestSyncServerIsIdempotent(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)
	ctx := context.Background()

	require.NoError(t, s.SyncServer(ctx, weatherServer(), weatherTools()))
	before, ok := ix.Embedding(index.ToolsCollection, "srv-weather:get_forecast")
	require.True(t, ok)

	require.NoError(t, s.SyncServer(ctx, weatherServer(), weatherTools()))
	after, ok := ix.Embedding(index.ToolsCollection, "srv-weather:get_forecast")
	require.True(t, ok)

	assert.Equal(t, before, after, "replaying the same catalog must not touch vectors")
	assert.Equal(t, 2, ix.Count(index.ToolsCollection))
}

func TestSyncServerAppliesDiff(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)
	ctx := context.Background()

	require.NoError(t, s.SyncServer(ctx, weatherServer(), weatherTools()))
	forecastBefore, _ := ix.Embedding(index.ToolsCollection, "srv-weather:get_forecast")

	// get_alerts edited, get_forecast untouched, get_radar added.
	updated := []Tool{
		{Name: "get_forecast", Description: "Fetch the forecast for a city"},
		{Name: "get_alerts", Description: "List alerts for a region"},
		{Name: "get_radar", Description: "Radar imagery"},
	}
	require.NoError(t, s.SyncServer(ctx, weatherServer(), updated))

	assert.Equal(t, 3, ix.Count(index.ToolsCollection))
	forecastAfter, _ := ix.Embedding(index.ToolsCollection, "srv-weather:get_forecast")
	assert.Equal(t, forecastBefore, forecastAfter)

	alerts, err := ix.Get(ctx, index.ToolsCollection, "srv-weather:get_alerts")
	require.NoError(t, err)
	assert.Equal(t, "List alerts for a region", alerts.Description)

	// Dropping a tool removes its document.
	require.NoError(t, s.SyncServer(ctx, weatherServer(), updated[:2]))
	assert.Equal(t, 2, ix.Count(index.ToolsCollection))
	_, err = ix.Get(ctx, index.ToolsCollection, "srv-weather:get_radar")
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestSyncAgentSynthesizesVirtualDocument(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)
	ctx := context.Background()

	agent := Server{
		ID:          "agent-travel",
		Name:        "travel-planner",
		Path:        "/agents/travel",
		Description: "Plans multi-city trips",
		Skills:      []string{"itineraries", "booking"},
		IsEnabled:   true,
	}
	require.NoError(t, s.SyncServer(ctx, agent, nil))

	doc, err := ix.Get(ctx, index.ToolsCollection, "agent-travel:travel-planner")
	require.NoError(t, err)
	assert.Equal(t, index.EntityAgent, doc.EntityType)
	assert.Contains(t, doc.Description, "itineraries")
}

func TestDisableRemovesAllDocuments(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)
	ctx := context.Background()

	require.NoError(t, s.SyncServer(ctx, weatherServer(), weatherTools()))

	server := weatherServer()
	server.IsEnabled = false
	require.NoError(t, s.SyncServer(ctx, server, weatherTools()))

	assert.Equal(t, 0, ix.Count(index.ToolsCollection))
	assert.Equal(t, 0, ix.Count(index.ServersCollection))
}

func TestUpdateServerMetadataFastPath(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)
	ctx := context.Background()

	require.NoError(t, s.SyncServer(ctx, weatherServer(), weatherTools()))
	before, _ := ix.Embedding(index.ToolsCollection, "srv-weather:get_forecast")

	n, err := s.UpdateServerMetadata(ctx, "/weather", map[string]any{"is_enabled": false})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "both tools and the server document are patched")

	after, _ := ix.Embedding(index.ToolsCollection, "srv-weather:get_forecast")
	assert.Equal(t, before, after, "metadata fast path must not re-embed")

	doc, err := ix.Get(ctx, index.ToolsCollection, "srv-weather:get_forecast")
	require.NoError(t, err)
	assert.False(t, doc.IsEnabled)
}

func TestRebuild(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)
	ctx := context.Background()

	require.NoError(t, s.SyncServer(ctx, weatherServer(), weatherTools()))
	// Simulate drift: a document the catalog no longer knows about.
	_, err := ix.Insert(ctx, index.ToolsCollection, &index.Document{
		ID: "srv-weather:ghost", ToolName: "ghost", ServerID: "srv-weather",
		ServerName: "weather", ServerPath: "/weather", EntityType: index.EntityTool,
	})
	require.NoError(t, err)

	require.NoError(t, s.Rebuild(ctx, weatherServer(), weatherTools()))
	assert.Equal(t, 2, ix.Count(index.ToolsCollection))
	_, err = ix.Get(ctx, index.ToolsCollection, "srv-weather:ghost")
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestSyncAll(t *testing.T) {
	t.Parallel()
	s, ix := newTestSyncer(t)

	catalogs := []Catalog{
		{Server: weatherServer(), Tools: weatherTools()},
		{Server: Server{ID: "srv-time", Name: "time", Path: "/time", IsEnabled: true},
			Tools: []Tool{{Name: "now", Description: "Current time in a zone"}}},
	}
	require.NoError(t, s.SyncAll(context.Background(), catalogs))
	assert.Equal(t, 3, ix.Count(index.ToolsCollection))
	assert.Equal(t, 2, ix.Count(index.ServersCollection))
}

func TestSyncServerRequiresID(t *testing.T) {
	t.Parallel()
	s, _ := newTestSyncer(t)
	err := s.SyncServer(context.Background(), Server{Name: "x", IsEnabled: true}, nil)
	assert.ErrorContains(t, err, "no ID")
}
