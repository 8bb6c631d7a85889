// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"fmt"
	"strconv"
)

// Filter is a portable metadata filter: {key: value} for equality,
// {key: {$op: value}} for comparisons, $and/$or for combination. A plain
// list value is shorthand for $in.
type Filter map[string]any

// Matches evaluates the filter against a document's fields.
func (f Filter) Matches(d *Document) bool {
	return matchClause(f, d.filterFields())
}

func matchClause(clause map[string]any, fields map[string]any) bool {
	for key, cond := range clause {
		switch key {
		case "$and":
			for _, sub := range asClauseList(cond) {
				if !matchClause(sub, fields) {
					return false
				}
			}
		case "$or":
			subs := asClauseList(cond)
			if len(subs) == 0 {
				continue
			}
			matched := false
			for _, sub := range subs {
				if matchClause(sub, fields) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if !matchField(fields[key], cond) {
				return false
			}
		}
	}
	return true
}

func asClauseList(v any) []map[string]any {
	var out []map[string]any
	switch list := v.(type) {
	case []map[string]any:
		out = list
	case []any:
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	case []Filter:
		for _, item := range list {
			out = append(out, item)
		}
	case map[string]any:
		out = append(out, list)
	case Filter:
		out = append(out, list)
	}
	return out
}

func matchField(value, cond any) bool {
	switch c := cond.(type) {
	case map[string]any:
		for op, operand := range c {
			if !matchOp(value, op, operand) {
				return false
			}
		}
		return true
	case []any:
		return matchOp(value, "$in", c)
	case []string:
		return matchOp(value, "$in", c)
	default:
		return matchOp(value, "$eq", cond)
	}
}

func matchOp(value any, op string, operand any) bool {
	switch op {
	case "$eq":
		return valueEquals(value, operand)
	case "$ne":
		return !valueEquals(value, operand)
	case "$in":
		for _, candidate := range asValueList(operand) {
			if valueEquals(value, candidate) {
				return true
			}
		}
		return false
	case "$gt", "$gte", "$lt", "$lte":
		a, aok := toFloat(value)
		b, bok := toFloat(operand)
		if !aok || !bok {
			return false
		}
		switch op {
		case "$gt":
			return a > b
		case "$gte":
			return a >= b
		case "$lt":
			return a < b
		default:
			return a <= b
		}
	default:
		return false
	}
}

func asValueList(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// valueEquals compares a field against an operand. A list-valued field
// (tags) matches when it contains the operand.
func valueEquals(value, operand any) bool {
	if list, ok := value.([]string); ok {
		for _, item := range list {
			if scalarEquals(item, operand) {
				return true
			}
		}
		return false
	}
	return scalarEquals(value, operand)
}

func scalarEquals(value, operand any) bool {
	if a, aok := toFloat(value); aok {
		if b, bok := toFloat(operand); bok {
			return a == b
		}
	}
	return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", operand)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// pushdownKeys are the flat metadata keys the vector store indexes for
// native equality filtering.
var pushdownKeys = map[string]struct{}{
	"entity_type": {},
	"server_name": {},
	"server_path": {},
	"server_id":   {},
	"tool_name":   {},
	"is_enabled":  {},
}

// pushdown extracts the flat string-equality subset of the filter for the
// vector store's native where map. The full filter is always re-evaluated
// on the results, so the pushdown only needs to be a superset-safe prefilter.
func (f Filter) pushdown() map[string]string {
	where := make(map[string]string)
	for key, cond := range f {
		if _, ok := pushdownKeys[key]; !ok {
			continue
		}
		switch c := cond.(type) {
		case string:
			where[key] = c
		case bool:
			where[key] = strconv.FormatBool(c)
		}
	}
	if len(where) == 0 {
		return nil
	}
	return where
}
