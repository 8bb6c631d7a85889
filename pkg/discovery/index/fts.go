// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	// Pure Go SQLite driver with FTS5 support.
	_ "modernc.org/sqlite"
)

// fts mirrors document content into a SQLite FTS5 table for BM25 ranking.
// The vector store stays authoritative; this table is rebuilt alongside it
// on every insert and delete.
type fts struct {
	mu sync.Mutex
	db *sql.DB
}

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	doc_id UNINDEXED,
	collection UNINDEXED,
	content
);`

func newFTS(path string) (*fts, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FTS database: %w", err)
	}
	// modernc.org/sqlite connections do not share in-memory databases.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(ftsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create FTS table: %w", err)
	}
	return &fts{db: db}, nil
}

func (f *fts) index(ctx context.Context, collection, docID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.db.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE doc_id = ? AND collection = ?`, docID, collection); err != nil {
		return fmt.Errorf("failed to clear FTS row: %w", err)
	}
	if _, err := f.db.ExecContext(ctx,
		`INSERT INTO documents_fts (doc_id, collection, content) VALUES (?, ?, ?)`,
		docID, collection, content); err != nil {
		return fmt.Errorf("failed to index FTS row: %w", err)
	}
	return nil
}

func (f *fts) remove(ctx context.Context, collection, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.db.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE doc_id = ? AND collection = ?`, docID, collection); err != nil {
		return fmt.Errorf("failed to delete FTS row: %w", err)
	}
	return nil
}

type ftsHit struct {
	docID string
	score float32
}

// search runs a BM25 query. Higher scores are better.
func (f *fts) search(ctx context.Context, collection, query string, k int) ([]ftsHit, error) {
	match := ftsMatchExpr(query)
	if match == "" || k <= 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rows, err := f.db.QueryContext(ctx,
		`SELECT doc_id, bm25(documents_fts) AS rank
		 FROM documents_fts
		 WHERE documents_fts MATCH ? AND collection = ?
		 ORDER BY rank LIMIT ?`,
		match, collection, k)
	if err != nil {
		return nil, fmt.Errorf("FTS query failed: %w", err)
	}
	defer rows.Close()

	var hits []ftsHit
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan FTS row: %w", err)
		}
		// bm25() returns lower-is-better negative ranks.
		hits = append(hits, ftsHit{docID: id, score: float32(-rank)})
	}
	return hits, rows.Err()
}

func (f *fts) ping(ctx context.Context) error {
	return f.db.PingContext(ctx)
}

func (f *fts) close() error {
	return f.db.Close()
}

// ftsMatchExpr quotes each query token and joins with OR, so arbitrary
// user input cannot inject FTS5 query syntax.
func ftsMatchExpr(query string) string {
	tokens := strings.Fields(query)
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ReplaceAll(tok, `"`, "")
		if tok == "" {
			continue
		}
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}
