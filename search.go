package memstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"memstore/internal/cache"
	"memstore/internal/search"
)

// SearchQuery mirrors internal/search.Query: the public request shape
// for MemorySystem.Search.
type SearchQuery = search.Query

// SearchResult mirrors internal/search.Result: one ranked entry.
type SearchResult = search.Result

// Search ranks live entries against q, consulting the read cache
// first and reinforcing access counts for every result returned.
func (m *MemorySystem) Search(q SearchQuery) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	fingerprint := queryFingerprint(q)

	if ranked, hit := m.cache.Get(fingerprint); hit {
		results, hits := m.hydrate(ranked)

		if len(hits) > 0 {
			m.access.Reinforce(hits)

			if err := m.access.Save(); err != nil {
				return nil, fmt.Errorf("memstore: search save access counts: %w", err)
			}
		}

		return results, nil
	}

	corpus := search.Corpus{Entries: m.entries, Index: m.idx}

	results, hits := m.engine.Search(corpus, q, m.now())

	ranked := make([]cache.Ranked, 0, len(results))
	for _, r := range results {
		ranked = append(ranked, cache.Ranked{ID: r.Entry.ID, Relevance: r.Relevance})
	}

	m.cache.Put(fingerprint, ranked)

	if len(hits) > 0 {
		m.access.Reinforce(hits)

		if err := m.access.Save(); err != nil {
			return nil, fmt.Errorf("memstore: search save access counts: %w", err)
		}
	}

	return results, nil
}

// hydrate re-reads entries for a cached ranked list so results
// reflect current access counts and importance. The cached ranking
// and relevance are reused as-is; scoring is not recomputed.
func (m *MemorySystem) hydrate(ranked []cache.Ranked) ([]SearchResult, []string) {
	out := make([]SearchResult, 0, len(ranked))
	hits := make([]string, 0, len(ranked))

	for _, r := range ranked {
		e, ok := m.entries[r.ID]
		if !ok {
			continue
		}

		out = append(out, SearchResult{Entry: e, Relevance: r.Relevance})
		hits = append(hits, r.ID)
	}

	return out, hits
}

// queryFingerprint computes a stable cache key covering both the
// query text and every filter.
func queryFingerprint(q SearchQuery) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%.6f\x00%d\x00%t", q.Text, q.Category, q.MemoryType, q.MinConfidence, q.Limit, q.Explain)

	return hex.EncodeToString(h.Sum(nil))
}
