// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package scopes implements the declarative scope policy: the mapping from
// scope names to allowed {server, method, tool} triples, and the mapping
// from identity-provider groups to scopes.
package scopes

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// MethodToolsCall is the MCP method gated per-tool rather than per-method.
const MethodToolsCall = "tools/call"

// groupMappingsKey is the reserved top-level key in the policy file.
const groupMappingsKey = "group_mappings"

// Rule grants access to a server for a set of methods and tools.
// An empty Methods and empty Tools list grants nothing.
type Rule struct {
	Server  string   `yaml:"server"`
	Methods []string `yaml:"methods"`
	Tools   []string `yaml:"tools"`
}

// Policy is the loaded scope policy plus the group-to-scope map.
// It is immutable after load; replace the whole value to reload.
type Policy struct {
	rules    map[string][]Rule
	groupMap map[string][]string
}

// Load reads the policy YAML from path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied policy path
	if err != nil {
		return nil, fmt.Errorf("failed to read scope policy file: %w", err)
	}
	return Parse(data)
}

// Parse parses the policy YAML. The document is a mapping whose keys are
// scope names, each holding a list of server rules, plus the reserved
// group_mappings key.
func Parse(data []byte) (*Policy, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scope policy: %w", err)
	}

	p := &Policy{
		rules:    make(map[string][]Rule),
		groupMap: make(map[string][]string),
	}

	for key, node := range doc {
		if key == groupMappingsKey {
			if err := node.Decode(&p.groupMap); err != nil {
				return nil, fmt.Errorf("invalid group_mappings: %w", err)
			}
			continue
		}
		var rules []Rule
		if err := node.Decode(&rules); err != nil {
			return nil, fmt.Errorf("invalid rules for scope %q: %w", key, err)
		}
		p.rules[key] = rules
	}

	return p, nil
}

// ScopesForGroups maps IdP group membership to the derived scope set.
// The result is deduplicated and sorted for deterministic token claims.
func (p *Policy) ScopesForGroups(groups []string) []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, g := range groups {
		for _, s := range p.groupMap[g] {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Scopes returns the names of all scopes the policy defines.
func (p *Policy) Scopes() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.rules))
	for name := range p.rules {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Allow evaluates whether the caller's scope set permits method (and, for
// tools/call, tool) on server. Decisions are fail-closed: a nil policy, an
// empty scope set, or no matching rule all deny.
func (p *Policy) Allow(callerScopes []string, server, method, tool string) bool {
	if p == nil || len(callerScopes) == 0 {
		return false
	}
	server = NormalizeServer(server)

	for _, scope := range callerScopes {
		for _, rule := range p.rules[scope] {
			if !serverMatches(rule.Server, server) {
				continue
			}
			if method == MethodToolsCall {
				if containsOrWildcard(rule.Tools, tool) {
					return true
				}
				continue
			}
			if containsOrWildcard(rule.Methods, method) {
				return true
			}
			// Older policy files listed non-call methods under tools.
			if containsOrWildcard(rule.Tools, method) {
				return true
			}
		}
	}
	return false
}

// NormalizeServer trims trailing slashes so "/weather" and "/weather/"
// compare equal. The bare root path is preserved.
func NormalizeServer(server string) string {
	trimmed := strings.TrimRight(server, "/")
	if trimmed == "" && strings.HasPrefix(server, "/") {
		return "/"
	}
	return trimmed
}

func serverMatches(ruleServer, server string) bool {
	if ruleServer == "*" {
		return true
	}
	return NormalizeServer(ruleServer) == server
}

func isWildcard(s string) bool {
	return s == "*" || s == "all"
}

func containsOrWildcard(list []string, want string) bool {
	for _, item := range list {
		if isWildcard(item) {
			return true
		}
		if want != "" && item == want {
			return true
		}
	}
	return false
}
