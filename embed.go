package memstore

import (
	"errors"
	"fmt"

	"memstore/internal/atomicio"
	"memstore/internal/search"
)

// Embedder is the opaque pluggable embedding function used for the
// hybrid search blend. The core never interprets the vectors beyond
// cosine similarity.
type Embedder = search.Embedder

// WithEmbedder registers an embedding function at construction.
// Document embeddings are computed on ingest and cached in the
// workspace; documents ingested before the embedder was registered
// fall back to pure BM25 until re-ingested.
func WithEmbedder(e Embedder) Option {
	return func(m *MemorySystem) { m.embed = e }
}

// loadEmbeddings restores the per-document embedding cache. The file
// is absent on workspaces that never had an embedder registered.
func (m *MemorySystem) loadEmbeddings() error {
	m.embeddings = make(map[string][]float64)

	p := layout(m.cfg.Workspace)

	err := m.io.ReadJSON(p.embeddings, &m.embeddings)
	if err != nil && !errors.Is(err, atomicio.ErrNotFound) {
		return fmt.Errorf("memstore: load embeddings: %w", err)
	}

	return nil
}

// saveEmbeddingsLocked persists the embedding cache. A no-op when no
// embedder is registered and the cache is empty.
func (m *MemorySystem) saveEmbeddingsLocked() error {
	if m.embed == nil && len(m.embeddings) == 0 {
		return nil
	}

	p := layout(m.cfg.Workspace)

	if err := m.io.WriteJSON(p.embeddings, m.embeddings); err != nil {
		return fmt.Errorf("memstore: save embeddings: %w", err)
	}

	return nil
}

// embedOnIngest computes and caches the embedding for a newly stored
// entry, or for a re-ingested duplicate that has no cached embedding
// yet. An embedder failure is logged and skipped: the entry simply
// scores by pure BM25 until a later re-ingest succeeds, per the
// hybrid-blend fallback contract.
func (m *MemorySystem) embedOnIngest(id, content string) {
	if m.embed == nil {
		return
	}

	vec, err := m.embed(content)
	if err != nil {
		if m.log != nil {
			m.log.Warn().Err(err).Str("id", id).Msg("embedding failed; falling back to bm25")
		}

		return
	}

	m.embeddings[id] = vec
}
