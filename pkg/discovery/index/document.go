// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package index is the discovery document store: chromem-go for vectors,
// a SQLite FTS5 mirror for keyword search, and a portable filter dialect
// on top of both.
package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Collection names, one per document kind.
const (
	ToolsCollection   = "tools"
	ServersCollection = "servers"
	AgentsCollection  = "agents"
)

// Entity types carried in documents and query filters.
const (
	EntityTool   = "tool"
	EntityServer = "server"
	EntityAgent  = "agent"
	EntityAll    = "all"
)

// Document is the canonical discovery record for a tool, server, or agent.
type Document struct {
	ID         string   `json:"id"`
	ToolName   string   `json:"tool_name,omitempty"`
	ServerName string   `json:"server_name"`
	ServerPath string   `json:"server_path"`
	ServerID   string   `json:"server_id"`
	EntityType string   `json:"entity_type"`
	Tags       []string `json:"tags,omitempty"`
	IsEnabled  bool     `json:"is_enabled"`

	Description        string `json:"description,omitempty"`
	ArgsDescription    string `json:"args_description,omitempty"`
	ReturnsDescription string `json:"returns_description,omitempty"`
	RaisesDescription  string `json:"raises_description,omitempty"`
	// InputSchema is the tool's input schema, serialized JSON.
	InputSchema string `json:"input_schema,omitempty"`
}

// metadataSafeFields may be patched in place without re-embedding. Anything
// else changes the embedded content and requires delete-and-reinsert.
var metadataSafeFields = map[string]struct{}{
	"is_enabled":  {},
	"tags":        {},
	"entity_type": {},
	"server_name": {},
}

// Content builds the text that gets embedded. It is a deterministic
// function of the document fields: same document, same content, same vector.
func (d *Document) Content() string {
	var b strings.Builder
	if d.ToolName != "" {
		b.WriteString(d.ToolName)
		b.WriteString(". ")
	}
	b.WriteString("Server: ")
	b.WriteString(d.ServerName)
	b.WriteString(".")
	if d.Description != "" {
		b.WriteString(" ")
		b.WriteString(d.Description)
	}
	if d.ArgsDescription != "" {
		b.WriteString(" Args: ")
		b.WriteString(d.ArgsDescription)
	}
	if d.ReturnsDescription != "" {
		b.WriteString(" Returns: ")
		b.WriteString(d.ReturnsDescription)
	}
	if len(d.Tags) > 0 {
		tags := append([]string(nil), d.Tags...)
		sort.Strings(tags)
		b.WriteString(" Tags: ")
		b.WriteString(strings.Join(tags, ", "))
	}
	return b.String()
}

// NormalizeTags lowercases and de-duplicates the tag list in place.
func (d *Document) NormalizeTags() {
	seen := make(map[string]struct{}, len(d.Tags))
	out := d.Tags[:0]
	for _, t := range d.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	d.Tags = out
}

// serializeMetadata builds the chromem metadata map: the full document as a
// JSON blob under "data", plus flat keys used for native equality filters.
func serializeMetadata(d *Document) (map[string]string, error) {
	blob, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return map[string]string{
		"data":        string(blob),
		"entity_type": d.EntityType,
		"server_name": d.ServerName,
		"server_path": d.ServerPath,
		"server_id":   d.ServerID,
		"tool_name":   d.ToolName,
		"is_enabled":  strconv.FormatBool(d.IsEnabled),
	}, nil
}

// deserializeMetadata restores a document from the "data" blob.
func deserializeMetadata(md map[string]string) (*Document, error) {
	blob, ok := md["data"]
	if !ok {
		return nil, fmt.Errorf("document metadata missing data blob")
	}
	var d Document
	if err := json.Unmarshal([]byte(blob), &d); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return &d, nil
}

// filterFields exposes the document to the portable filter dialect.
func (d *Document) filterFields() map[string]any {
	return map[string]any{
		"id":          d.ID,
		"tool_name":   d.ToolName,
		"server_name": d.ServerName,
		"server_path": d.ServerPath,
		"server_id":   d.ServerID,
		"entity_type": d.EntityType,
		"is_enabled":  d.IsEnabled,
		"tags":        d.Tags,
	}
}

// Result is a retrieved document plus whatever relevance signals the
// backing search produced.
type Result struct {
	Document *Document `json:"document"`
	// Distance is 1 - cosine similarity when a vector search ran.
	Distance float32 `json:"_distance,omitempty"`
	// Certainty maps similarity into [0,1].
	Certainty float32 `json:"_certainty,omitempty"`
	// Score is the ranking score of the search that produced the result.
	Score float32 `json:"_score,omitempty"`
	// Highlights lists query terms found in the document content.
	Highlights []string `json:"highlights,omitempty"`
}
