// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/config"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/discovery/embeddings"
	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// Search types accepted by SearchWithRerank.
const (
	SearchSemantic = "semantic"
	SearchBM25     = "bm25"
	SearchHybrid   = "hybrid"
)

var (
	// ErrNotFound is returned when a document ID is not in the collection.
	ErrNotFound = errors.New("document not found")
	// ErrUnsafeMetadataKey is returned when a metadata patch touches a
	// field that would require re-embedding.
	ErrUnsafeMetadataKey = errors.New("field cannot be updated without re-embedding")
)

type storedDoc struct {
	doc       *Document
	embedding []float32
}

// Index is the discovery document store. chromem-go holds the vectors, a
// SQLite FTS5 table mirrors content for BM25, and an in-memory document
// table is the authoritative record (rebuilt by catalog sync on startup).
type Index struct {
	mu      sync.RWMutex
	db      *chromem.DB
	backend embeddings.Backend
	fts     *fts
	prefix  string
	docs    map[string]map[string]*storedDoc
}

// New creates the index. An empty PersistPath keeps vectors in memory.
func New(cfg config.VectorConfig, backend embeddings.Backend) (*Index, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		logger.Infof("Creating persistent vector store at %s", cfg.PersistPath)
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to create persistent vector store: %w", err)
		}
	} else {
		logger.Info("Creating in-memory vector store")
		db = chromem.NewDB()
	}

	ftsDB, err := newFTS(cfg.FTSPath)
	if err != nil {
		return nil, err
	}

	return &Index{
		db:      db,
		backend: backend,
		fts:     ftsDB,
		prefix:  cfg.CollectionPrefix,
		docs:    make(map[string]map[string]*storedDoc),
	}, nil
}

// Health reports whether the index's backing stores are reachable. The
// chromem store is in-process, so the FTS database is the only probe.
func (ix *Index) Health(ctx context.Context) error {
	if err := ix.fts.ping(ctx); err != nil {
		return fmt.Errorf("search index unavailable: %w", err)
	}
	return nil
}

// Close releases the FTS database. chromem-go needs no teardown.
func (ix *Index) Close() error {
	return ix.fts.close()
}

func (ix *Index) collectionName(name string) string {
	return ix.prefix + name
}

func (ix *Index) collection(name string) (*chromem.Collection, error) {
	full := ix.collectionName(name)
	if c := ix.db.GetCollection(full, embeddings.ChromemFunc(ix.backend)); c != nil {
		return c, nil
	}
	c, err := ix.db.CreateCollection(full, nil, embeddings.ChromemFunc(ix.backend))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", full, err)
	}
	return c, nil
}

func (ix *Index) table(collection string) map[string]*storedDoc {
	t, ok := ix.docs[collection]
	if !ok {
		t = make(map[string]*storedDoc)
		ix.docs[collection] = t
	}
	return t
}

// Insert embeds and stores one document, returning its ID.
func (ix *Index) Insert(ctx context.Context, collection string, doc *Document) (string, error) {
	ids, err := ix.BulkInsert(ctx, collection, []*Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// BulkInsert embeds all documents in one backend call and stores them.
func (ix *Index) BulkInsert(ctx context.Context, collection string, docs []*Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("document %d has no ID", i)
		}
		d.NormalizeTags()
		texts[i] = d.Content()
	}

	vecs, err := ix.backend.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("embeddings backend returned %d vectors for %d documents", len(vecs), len(docs))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids := make([]string, len(docs))
	for i, d := range docs {
		if err := ix.writeLocked(ctx, collection, d, vecs[i]); err != nil {
			return nil, err
		}
		ids[i] = d.ID
	}
	return ids, nil
}

// writeLocked stores one document with a precomputed embedding. Callers
// hold ix.mu.
func (ix *Index) writeLocked(ctx context.Context, collection string, doc *Document, vec []float32) error {
	col, err := ix.collection(collection)
	if err != nil {
		return err
	}

	md, err := serializeMetadata(doc)
	if err != nil {
		return err
	}
	content := doc.Content()

	// chromem has no update; clear any previous copy first.
	if _, exists := ix.table(collection)[doc.ID]; exists {
		if err := col.Delete(ctx, nil, nil, doc.ID); err != nil {
			return fmt.Errorf("failed to replace document %s: %w", doc.ID, err)
		}
	}
	if err := col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   content,
		Metadata:  md,
		Embedding: vec,
	}); err != nil {
		return fmt.Errorf("failed to add document %s: %w", doc.ID, err)
	}
	if err := ix.fts.index(ctx, ix.collectionName(collection), doc.ID, content); err != nil {
		return err
	}

	copied := *doc
	ix.table(collection)[doc.ID] = &storedDoc{doc: &copied, embedding: vec}
	return nil
}

// Get returns one document by ID.
func (ix *Index) Get(_ context.Context, collection, id string) (*Document, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	sd, ok := ix.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *sd.doc
	return &copied, nil
}

// GetMany returns the documents for the given IDs, skipping unknown ones.
func (ix *Index) GetMany(_ context.Context, collection string, ids []string) ([]*Document, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*Document, 0, len(ids))
	for _, id := range ids {
		if sd, ok := ix.docs[collection][id]; ok {
			copied := *sd.doc
			out = append(out, &copied)
		}
	}
	return out, nil
}

// Embedding returns the stored vector for a document. Used by tests and by
// sync to verify the no-re-embed fast path.
func (ix *Index) Embedding(collection, id string) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	sd, ok := ix.docs[collection][id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), sd.embedding...), true
}

// Update replaces a document wholesale: delete, re-embed, reinsert. Use
// UpdateMetadata for changes confined to the metadata-safe fields.
func (ix *Index) Update(ctx context.Context, collection string, doc *Document) error {
	_, err := ix.Insert(ctx, collection, doc)
	return err
}

// UpdateMetadata patches metadata-safe fields in place without re-embedding.
// Any key outside the safe set is rejected.
func (ix *Index) UpdateMetadata(ctx context.Context, collection, id string, patch map[string]any) error {
	return ix.BatchUpdateProperties(ctx, collection, []string{id}, patch)
}

// BatchUpdateProperties applies the same metadata-safe patch to many IDs.
func (ix *Index) BatchUpdateProperties(ctx context.Context, collection string, ids []string, patch map[string]any) error {
	for key := range patch {
		if _, ok := metadataSafeFields[key]; !ok {
			return fmt.Errorf("%w: %s", ErrUnsafeMetadataKey, key)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	col, err := ix.collection(collection)
	if err != nil {
		return err
	}

	for _, id := range ids {
		sd, ok := ix.table(collection)[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		updated := *sd.doc
		if err := applyMetadataPatch(&updated, patch); err != nil {
			return err
		}

		md, err := serializeMetadata(&updated)
		if err != nil {
			return err
		}
		content := updated.Content()
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("failed to replace document %s: %w", id, err)
		}
		// Same embedding back in: the fast path never re-embeds.
		if err := col.AddDocument(ctx, chromem.Document{
			ID:        id,
			Content:   content,
			Metadata:  md,
			Embedding: sd.embedding,
		}); err != nil {
			return fmt.Errorf("failed to add document %s: %w", id, err)
		}
		if err := ix.fts.index(ctx, ix.collectionName(collection), id, content); err != nil {
			return err
		}
		sd.doc = &updated
	}
	return nil
}

func applyMetadataPatch(d *Document, patch map[string]any) error {
	for key, value := range patch {
		switch key {
		case "is_enabled":
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("is_enabled must be a bool, got %T", value)
			}
			d.IsEnabled = b
		case "tags":
			tags, err := toStringList(value)
			if err != nil {
				return fmt.Errorf("tags: %w", err)
			}
			d.Tags = tags
			d.NormalizeTags()
		case "entity_type":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("entity_type must be a string, got %T", value)
			}
			d.EntityType = s
		case "server_name":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("server_name must be a string, got %T", value)
			}
			d.ServerName = s
		}
	}
	return nil
}

func toStringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", v)
	}
}

// Delete removes one document. Deleting an unknown ID is a no-op.
func (ix *Index) Delete(ctx context.Context, collection, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deleteLocked(ctx, collection, id)
}

func (ix *Index) deleteLocked(ctx context.Context, collection, id string) error {
	if _, ok := ix.docs[collection][id]; !ok {
		return nil
	}
	col, err := ix.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if err := ix.fts.remove(ctx, ix.collectionName(collection), id); err != nil {
		return err
	}
	delete(ix.docs[collection], id)
	return nil
}

// DeleteByFilter removes every document matching the filter and returns
// how many were removed.
func (ix *Index) DeleteByFilter(ctx context.Context, collection string, f Filter) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var ids []string
	for id, sd := range ix.docs[collection] {
		if f.Matches(sd.doc) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if err := ix.deleteLocked(ctx, collection, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// Find returns documents matching a metadata filter, ordered by ID. No
// vector or keyword ranking is involved.
func (ix *Index) Find(_ context.Context, collection string, f Filter, limit, offset int) ([]*Document, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var matched []*Document
	for _, sd := range ix.docs[collection] {
		if f == nil || f.Matches(sd.doc) {
			copied := *sd.doc
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of documents in a collection.
func (ix *Index) Count(collection string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs[collection])
}

// matchCountLocked counts documents passing the full portable filter.
// chromem rejects queries asking for more results than exist, so k is
// always clamped to this count before querying.
func (ix *Index) matchCountLocked(collection string, f Filter) int {
	if f == nil {
		return len(ix.docs[collection])
	}
	n := 0
	for _, sd := range ix.docs[collection] {
		if f.Matches(sd.doc) {
			n++
		}
	}
	return n
}

// NearText runs semantic search over document content.
func (ix *Index) NearText(ctx context.Context, collection, text string, k int, f Filter) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.nearTextLocked(ctx, collection, text, k, f)
}

func (ix *Index) nearTextLocked(ctx context.Context, collection, text string, k int, f Filter) ([]Result, error) {
	n := min(k, ix.matchCountLocked(collection, f))
	if n <= 0 {
		return nil, nil
	}
	col, err := ix.collection(collection)
	if err != nil {
		return nil, err
	}
	raw, err := col.Query(ctx, text, n, f.pushdown(), nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	return ix.vectorResultsLocked(collection, raw, k, f), nil
}

// NearVector runs semantic search with a caller-provided query vector.
func (ix *Index) NearVector(ctx context.Context, collection string, vector []float32, k int, f Filter) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := min(k, ix.matchCountLocked(collection, f))
	if n <= 0 {
		return nil, nil
	}
	col, err := ix.collection(collection)
	if err != nil {
		return nil, err
	}
	raw, err := col.QueryEmbedding(ctx, vector, n, f.pushdown(), nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	return ix.vectorResultsLocked(collection, raw, k, f), nil
}

func (ix *Index) vectorResultsLocked(collection string, raw []chromem.Result, k int, f Filter) []Result {
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		doc := ix.lookupLocked(collection, r.ID, r.Metadata)
		if doc == nil {
			continue
		}
		if f != nil && !f.Matches(doc) {
			continue
		}
		out = append(out, Result{
			Document:  doc,
			Distance:  1 - r.Similarity,
			Certainty: (r.Similarity + 1) / 2,
			Score:     r.Similarity,
		})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (ix *Index) lookupLocked(collection, id string, md map[string]string) *Document {
	if sd, ok := ix.docs[collection][id]; ok {
		copied := *sd.doc
		return &copied
	}
	doc, err := deserializeMetadata(md)
	if err != nil {
		logger.Warnf("Dropping unreadable search hit %s: %v", id, err)
		return nil
	}
	return doc
}

// BM25 runs keyword search over the FTS mirror.
func (ix *Index) BM25(ctx context.Context, collection, text string, k int, f Filter) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.bm25Locked(ctx, collection, text, k, f)
}

func (ix *Index) bm25Locked(ctx context.Context, collection, text string, k int, f Filter) ([]Result, error) {
	// Over-fetch so post-filtering can still fill k results.
	fetch := k * 4
	if f == nil {
		fetch = k
	}
	hits, err := ix.fts.search(ctx, ix.collectionName(collection), text, fetch)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, min(k, len(hits)))
	for _, hit := range hits {
		sd, ok := ix.docs[collection][hit.docID]
		if !ok {
			continue
		}
		if f != nil && !f.Matches(sd.doc) {
			continue
		}
		copied := *sd.doc
		out = append(out, Result{Document: &copied, Score: hit.score})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Hybrid blends vector and BM25 rankings. alpha=1 is pure vector, alpha=0
// pure BM25; in between, per-list min-max normalized scores are combined.
func (ix *Index) Hybrid(ctx context.Context, collection, text string, k int, alpha float32, f Filter) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.hybridLocked(ctx, collection, text, k, alpha, f)
}

func (ix *Index) hybridLocked(ctx context.Context, collection, text string, k int, alpha float32, f Filter) ([]Result, error) {
	if alpha >= 1 {
		return ix.nearTextLocked(ctx, collection, text, k, f)
	}
	if alpha <= 0 {
		return ix.bm25Locked(ctx, collection, text, k, f)
	}

	vecResults, err := ix.nearTextLocked(ctx, collection, text, k*2, f)
	if err != nil {
		return nil, err
	}
	kwResults, err := ix.bm25Locked(ctx, collection, text, k*2, f)
	if err != nil {
		return nil, err
	}

	combined := make(map[string]*Result)
	for id, score := range normalizeScores(vecResults) {
		r := findResult(vecResults, id)
		r.Score = alpha * score
		combined[id] = &r
	}
	for id, score := range normalizeScores(kwResults) {
		if r, ok := combined[id]; ok {
			r.Score += (1 - alpha) * score
			continue
		}
		r := findResult(kwResults, id)
		r.Score = (1 - alpha) * score
		combined[id] = &r
	}

	out := make([]Result, 0, len(combined))
	for _, r := range combined {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// normalizeScores min-max scales a result list's scores into [0,1].
func normalizeScores(results []Result) map[string]float32 {
	if len(results) == 0 {
		return nil
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	out := make(map[string]float32, len(results))
	for _, r := range results {
		if hi == lo {
			out[r.Document.ID] = 1
			continue
		}
		out[r.Document.ID] = (r.Score - lo) / (hi - lo)
	}
	return out
}

func findResult(results []Result, id string) Result {
	for _, r := range results {
		if r.Document.ID == id {
			return r
		}
	}
	return Result{}
}

// defaultFuzzyAlpha biases fuzzy search toward keyword matching.
const defaultFuzzyAlpha = 0.3

// Fuzzy is hybrid search biased toward keyword matching, with query terms
// found in each hit reported as highlights.
func (ix *Index) Fuzzy(ctx context.Context, collection, text string, k int, alpha float32, f Filter) ([]Result, error) {
	if alpha <= 0 {
		alpha = defaultFuzzyAlpha
	}
	results, err := ix.Hybrid(ctx, collection, text, k, alpha, f)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Highlights = highlightTerms(text, results[i].Document.Content())
	}
	return results, nil
}

func highlightTerms(query, content string) []string {
	content = strings.ToLower(content)
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if strings.Contains(content, tok) {
			out = append(out, tok)
		}
	}
	return out
}

// SearchWithRerank fetches 3×k candidates with the given search type and
// reranks them. A reranker failure falls back to the base ranking.
func (ix *Index) SearchWithRerank(ctx context.Context, collection, text string, k int, searchType string, reranker Reranker, f Filter) ([]Result, error) {
	candidateK := 3 * k

	var candidates []Result
	var err error
	switch searchType {
	case SearchBM25:
		candidates, err = ix.BM25(ctx, collection, text, candidateK, f)
	case SearchHybrid:
		candidates, err = ix.Hybrid(ctx, collection, text, candidateK, 0.5, f)
	case SearchSemantic, "":
		candidates, err = ix.NearText(ctx, collection, text, candidateK, f)
	default:
		return nil, fmt.Errorf("unknown search type %q", searchType)
	}
	if err != nil {
		return nil, err
	}

	if reranker != nil {
		reranked, rerr := reranker.Rerank(ctx, text, candidates)
		if rerr != nil {
			logger.Warnf("Reranker failed, keeping base ranking: %v", rerr)
		} else {
			candidates = reranked
		}
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
