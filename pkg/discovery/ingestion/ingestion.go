// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package ingestion keeps the discovery index in sync with the server
// catalog. Sync operations are idempotent: replaying the same catalog
// state produces the same index state.
package ingestion

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/index"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// syncParallelism bounds concurrent per-server syncs during SyncAll, so a
// large catalog does not flood the embeddings backend.
const syncParallelism = 4

// Server describes one catalog entry: an MCP server or an A2A agent.
type Server struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	IsEnabled   bool     `json:"is_enabled"`
	// Skills is populated for A2A agents, which carry no tool list.
	Skills []string `json:"skills,omitempty"`
}

// Tool is one tool exposed by a server.
type Tool struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	ArgsDescription    string `json:"args_description,omitempty"`
	ReturnsDescription string `json:"returns_description,omitempty"`
	RaisesDescription  string `json:"raises_description,omitempty"`
	InputSchema        string `json:"input_schema,omitempty"`
}

// Catalog pairs a server with its current tool list.
type Catalog struct {
	Server Server
	Tools  []Tool
}

// Diff is the minimal work needed to reconcile the index with a new tool
// list: names are the join key, a changed description forces re-embedding.
type Diff struct {
	ToAdd    []Tool
	ToUpdate []Tool
	ToDelete []string
}

// Empty reports whether the diff requires no index writes.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// ComputeDiff compares the indexed documents of a server against its new
// tool list.
func ComputeDiff(existing []*index.Document, tools []Tool) Diff {
	old := make(map[string]*index.Document, len(existing))
	for _, doc := range existing {
		old[doc.ToolName] = doc
	}

	var diff Diff
	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		seen[tool.Name] = struct{}{}
		doc, ok := old[tool.Name]
		if !ok {
			diff.ToAdd = append(diff.ToAdd, tool)
			continue
		}
		if toolChanged(doc, tool) {
			diff.ToUpdate = append(diff.ToUpdate, tool)
		}
	}
	for name, doc := range old {
		if _, ok := seen[name]; !ok {
			diff.ToDelete = append(diff.ToDelete, doc.ID)
		}
	}
	return diff
}

func toolChanged(doc *index.Document, tool Tool) bool {
	return doc.Description != tool.Description ||
		doc.ArgsDescription != tool.ArgsDescription ||
		doc.ReturnsDescription != tool.ReturnsDescription ||
		doc.RaisesDescription != tool.RaisesDescription ||
		doc.InputSchema != tool.InputSchema
}

// Syncer reconciles catalog state into the index.
type Syncer struct {
	ix *index.Index
}

// New creates a Syncer over the given index.
func New(ix *index.Index) *Syncer {
	return &Syncer{ix: ix}
}

// SyncAll reconciles a batch of servers with bounded parallelism.
func (s *Syncer) SyncAll(ctx context.Context, catalogs []Catalog) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncParallelism)
	for _, c := range catalogs {
		g.Go(func() error {
			return s.SyncServer(ctx, c.Server, c.Tools)
		})
	}
	return g.Wait()
}

// SyncServer brings the index in line with one server's current state. A
// disabled server is removed entirely; a server without tools (an A2A
// agent) is represented by one synthesized document.
func (s *Syncer) SyncServer(ctx context.Context, server Server, tools []Tool) error {
	if server.ID == "" {
		return fmt.Errorf("server has no ID")
	}
	if !server.IsEnabled {
		_, err := s.Disable(ctx, server.ID)
		return err
	}

	if err := s.syncTools(ctx, server, tools); err != nil {
		return err
	}
	return s.upsertServerDoc(ctx, server)
}

func (s *Syncer) syncTools(ctx context.Context, server Server, tools []Tool) error {
	if len(tools) == 0 {
		tools = []Tool{virtualAgentTool(server)}
	}

	existing, err := s.ix.Find(ctx, index.ToolsCollection, index.Filter{"server_id": server.ID}, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list indexed tools for %s: %w", server.ID, err)
	}

	diff := ComputeDiff(existing, tools)
	if diff.Empty() {
		return nil
	}
	logger.Infof("Syncing server %s: %d to add, %d to update, %d to delete",
		server.ID, len(diff.ToAdd), len(diff.ToUpdate), len(diff.ToDelete))

	if len(diff.ToAdd) > 0 {
		docs := make([]*index.Document, len(diff.ToAdd))
		for i, tool := range diff.ToAdd {
			docs[i] = toolDocument(server, tool)
		}
		if _, err := s.ix.BulkInsert(ctx, index.ToolsCollection, docs); err != nil {
			return fmt.Errorf("failed to insert tools for %s: %w", server.ID, err)
		}
	}
	// A changed description needs a fresh embedding: delete-and-reinsert.
	for _, tool := range diff.ToUpdate {
		if err := s.ix.Update(ctx, index.ToolsCollection, toolDocument(server, tool)); err != nil {
			return fmt.Errorf("failed to update tool %s: %w", tool.Name, err)
		}
	}
	for _, id := range diff.ToDelete {
		if err := s.ix.Delete(ctx, index.ToolsCollection, id); err != nil {
			return fmt.Errorf("failed to delete tool %s: %w", id, err)
		}
	}
	return nil
}

// upsertServerDoc maintains the server-level document used by server
// search. Description changes re-embed; enabled-flag and tag changes take
// the metadata fast path.
func (s *Syncer) upsertServerDoc(ctx context.Context, server Server) error {
	doc := serverDocument(server)
	doc.NormalizeTags()
	current, err := s.ix.Get(ctx, index.ServersCollection, doc.ID)
	if err != nil {
		_, err = s.ix.Insert(ctx, index.ServersCollection, doc)
		return err
	}

	if current.Description != doc.Description || current.ServerPath != doc.ServerPath {
		return s.ix.Update(ctx, index.ServersCollection, doc)
	}
	if current.IsEnabled != doc.IsEnabled || current.ServerName != doc.ServerName || !equalStrings(current.Tags, doc.Tags) {
		return s.ix.UpdateMetadata(ctx, index.ServersCollection, doc.ID, map[string]any{
			"is_enabled":  doc.IsEnabled,
			"server_name": doc.ServerName,
			"tags":        doc.Tags,
		})
	}
	return nil
}

// Disable removes every document belonging to a server and returns how
// many were dropped.
func (s *Syncer) Disable(ctx context.Context, serverID string) (int, error) {
	n, err := s.ix.DeleteByFilter(ctx, index.ToolsCollection, index.Filter{"server_id": serverID})
	if err != nil {
		return 0, err
	}
	m, err := s.ix.DeleteByFilter(ctx, index.ServersCollection, index.Filter{"server_id": serverID})
	if err != nil {
		return n, err
	}
	return n + m, nil
}

// UpdateServerMetadata applies a metadata-safe patch to every document at
// the given server path without re-embedding.
func (s *Syncer) UpdateServerMetadata(ctx context.Context, serverPath string, patch map[string]any) (int, error) {
	total := 0
	for _, collection := range []string{index.ToolsCollection, index.ServersCollection} {
		docs, err := s.ix.Find(ctx, collection, index.Filter{"server_path": serverPath}, 0, 0)
		if err != nil {
			return total, err
		}
		if len(docs) == 0 {
			continue
		}
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID
		}
		if err := s.ix.BatchUpdateProperties(ctx, collection, ids, patch); err != nil {
			return total, err
		}
		total += len(ids)
	}
	return total, nil
}

// Rebuild drops a server's documents and re-indexes from scratch. Used on
// initial sync and to recover from drift.
func (s *Syncer) Rebuild(ctx context.Context, server Server, tools []Tool) error {
	if _, err := s.Disable(ctx, server.ID); err != nil {
		return err
	}
	if !server.IsEnabled {
		return nil
	}
	return s.SyncServer(ctx, server, tools)
}

func toolDocument(server Server, tool Tool) *index.Document {
	entityType := index.EntityTool
	if tool.Name == virtualToolName(server) {
		entityType = index.EntityAgent
	}
	return &index.Document{
		ID:                 server.ID + ":" + tool.Name,
		ToolName:           tool.Name,
		ServerName:         server.Name,
		ServerPath:         server.Path,
		ServerID:           server.ID,
		EntityType:         entityType,
		Tags:               server.Tags,
		IsEnabled:          server.IsEnabled,
		Description:        tool.Description,
		ArgsDescription:    tool.ArgsDescription,
		ReturnsDescription: tool.ReturnsDescription,
		RaisesDescription:  tool.RaisesDescription,
		InputSchema:        tool.InputSchema,
	}
}

func serverDocument(server Server) *index.Document {
	return &index.Document{
		ID:          server.ID,
		ServerName:  server.Name,
		ServerPath:  server.Path,
		ServerID:    server.ID,
		EntityType:  index.EntityServer,
		Tags:        server.Tags,
		IsEnabled:   server.IsEnabled,
		Description: server.Description,
	}
}

// virtualAgentTool synthesizes a searchable document for a server that
// exposes no tools, built from its name, description, and skills.
func virtualAgentTool(server Server) Tool {
	desc := server.Description
	if len(server.Skills) > 0 {
		desc = strings.TrimSpace(desc + " Skills: " + strings.Join(server.Skills, ", "))
	}
	return Tool{
		Name:        virtualToolName(server),
		Description: desc,
	}
}

func virtualToolName(server Server) string {
	return server.Name
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
