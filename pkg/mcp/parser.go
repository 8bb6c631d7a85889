// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package mcp provides MCP (Model Context Protocol) frame inspection.
//
// The gateway forwards MCP frames transparently; the only parsing it does is
// extracting the JSON-RPC method and, for tools/call, the target tool name,
// so the enforcement point can apply per-tool scope rules.
package mcp

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// MethodInitialize is the default method assumed when a frame carries none.
const MethodInitialize = "initialize"

// ParsedRequest contains the fields the gateway needs from a JSON-RPC frame.
type ParsedRequest struct {
	// Method is the MCP method name (e.g. "tools/call", "resources/read").
	Method string
	// ResourceID is the extracted resource identifier: the tool name for
	// tools/call, the prompt name for prompts/get, the URI for
	// resources/read. Empty when the method has no named resource.
	ResourceID string
	// IsRequest indicates the frame is a JSON-RPC request (has a method).
	IsRequest bool
}

// ParseRequest inspects a JSON-RPC frame. It returns a zero-valued
// ParsedRequest (IsRequest false) for empty, malformed, or non-request
// frames; the enforcement point treats those as method "initialize".
func ParseRequest(body []byte) ParsedRequest {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ParsedRequest{}
	}

	method := gjson.GetBytes(body, "method")
	if !method.Exists() || method.Type != gjson.String {
		return ParsedRequest{}
	}

	return ParsedRequest{
		Method:     method.String(),
		ResourceID: extractResourceID(method.String(), body),
		IsRequest:  true,
	}
}

// ToolName returns the tools/call target from a frame, or "" when the frame
// is not a tools/call request.
func ToolName(body []byte) string {
	parsed := ParseRequest(body)
	if parsed.Method != "tools/call" {
		return ""
	}
	return parsed.ResourceID
}

func extractResourceID(method string, body []byte) string {
	switch method {
	case "tools/call", "prompts/get":
		return gjson.GetBytes(body, "params.name").String()
	case "resources/read":
		return gjson.GetBytes(body, "params.uri").String()
	case MethodInitialize:
		return gjson.GetBytes(body, "params.clientInfo.name").String()
	default:
		return ""
	}
}

// Arguments returns the tools/call arguments map, or nil.
func Arguments(body []byte) map[string]any {
	raw := gjson.GetBytes(body, "params.arguments")
	if !raw.Exists() || !raw.IsObject() {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw.Raw), &args); err != nil {
		return nil
	}
	return args
}
