// Package search ranks entries against a query: BM25 lexical
// scoring with stopword filtering, multiplicative boosts, decay
// weighting, access reinforcement, importance, an optional hybrid
// semantic blend, and an explain mode returning per-result component
// scores.
package search

import (
	"math"
	"sort"
	"strings"
	"time"

	"memstore/internal/access"
	"memstore/internal/decay"
	"memstore/internal/entry"
	"memstore/internal/index"
)

// K1 and B are the standard BM25 tuning constants.
const (
	K1 = 1.5
	B  = 0.75
)

// PhraseBoost, TagBoost, SourceBoost are the multiplicative
// boosts.
const (
	PhraseBoost = 1.5
	TagBoost    = 1.2
	SourceBoost = 1.1
)

// ReinforceCap and ReinforceStep implement
// reinforce(d) = 1 + min(access_count(d), 50) * 0.01.
const (
	ReinforceCap  = 50
	ReinforceStep = 0.01
)

// HybridBM25Weight and HybridCosineWeight are the hybrid blend
// weights, applied only when an embedder is registered and a
// document has a cached embedding.
const (
	HybridBM25Weight   = 0.4
	HybridCosineWeight = 0.6
)

// Embedder computes a dense vector for text. Registered optionally;
// absence of a cached embedding for a document falls back to pure
// BM25 for that document.
type Embedder func(text string) ([]float64, error)

// Query is a search request.
type Query struct {
	Text          string
	Category      string // filter, empty = no filter
	MemoryType    entry.MemoryType
	MinConfidence float64
	Limit         int
	Explain       bool
}

// Explanation is the per-result breakdown returned when Query.Explain
// is set.
type Explanation struct {
	MatchedTerms []string
	Lexical      float64
	Boosts       float64
	Decay        float64
	Reinforce    float64
	Importance   float64
	Hybrid       float64 // 0 unless a hybrid blend was applied
	Relevance    float64
}

// Result is one ranked entry.
type Result struct {
	Entry       entry.MemoryEntry
	Relevance   float64
	Explanation *Explanation // nil unless Query.Explain was set
}

// Corpus is the read-only view SearchEngine needs: every live entry
// and the inverted index built from them. The caller (the facade)
// owns mutation; Engine only reads.
type Corpus struct {
	Entries map[string]entry.MemoryEntry
	Index   *index.Manager
}

// Engine scores and ranks documents against a Query.
type Engine struct {
	halfLifeDays float64
	accessedBy   *access.Tracker
	embed        Embedder
	embedCache   map[string][]float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder registers the optional semantic embedder and its
// document embedding cache used for the hybrid blend.
func WithEmbedder(e Embedder, docCache map[string][]float64) Option {
	return func(eng *Engine) {
		eng.embed = e
		eng.embedCache = docCache
	}
}

// New returns an Engine using baseHalfLifeDays as half_life_base and
// tracker for access reinforcement.
func New(baseHalfLifeDays float64, tracker *access.Tracker, opts ...Option) *Engine {
	eng := &Engine{halfLifeDays: baseHalfLifeDays, accessedBy: tracker}

	for _, opt := range opts {
		opt(eng)
	}

	return eng
}

// Search runs the scoring pipeline: parse → candidate-set →
// score → filter → rank → normalize → truncate(limit). It returns the
// ranked results and, separately, the ids to reinforce — the caller
// persists that reinforcement and manages the read cache around this
// call.
func (e *Engine) Search(corpus Corpus, q Query, now time.Time) ([]Result, []string) {
	terms := index.Tokenize(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	candidates := e.candidateSet(corpus, terms)

	totalDocs := len(corpus.Entries)
	avgdl := averageDocLength(corpus.Entries)

	df := make(map[string]int, len(terms))
	for _, t := range terms {
		df[t] = len(corpus.Index.Postings(t))
	}

	queryLower := strings.ToLower(q.Text)

	scored := make([]Result, 0, len(candidates))

	for id := range candidates {
		doc, ok := corpus.Entries[id]
		if !ok || !passesFilters(doc, q) {
			continue
		}

		scored = append(scored, e.score(doc, terms, df, totalDocs, avgdl, queryLower, now, q.Explain))
	}

	e.blendHybrid(scored, queryLower)
	normalize(scored)
	scored = dropZero(scored)

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}

		if !scored[i].Entry.Created.Equal(scored[j].Entry.Created) {
			return scored[i].Entry.Created.After(scored[j].Entry.Created)
		}

		return scored[i].Entry.ID < scored[j].Entry.ID
	})

	if q.Limit > 0 && len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}

	hits := make([]string, 0, len(scored))
	for _, r := range scored {
		hits = append(hits, r.Entry.ID)
	}

	return scored, hits
}

// accessCount reads the live access count for id from the tracker,
// falling back to 0 if no Tracker was configured or no record exists
// yet. The tracker, not the entry's own persisted snapshot, is the
// authoritative count between shard saves.
func (e *Engine) accessCount(id string) int {
	if e.accessedBy == nil {
		return 0
	}

	count, _, _ := e.accessedBy.Stats(id)

	return count
}

func (e *Engine) candidateSet(corpus Corpus, terms []string) map[string]bool {
	out := make(map[string]bool)

	for _, t := range terms {
		for id := range corpus.Index.Postings(t) {
			out[id] = true
		}
	}

	return out
}

func passesFilters(e entry.MemoryEntry, q Query) bool {
	if q.Category != "" && e.Category != q.Category {
		return false
	}

	if q.MemoryType != "" && e.MemoryType != q.MemoryType {
		return false
	}

	if q.MinConfidence > 0 && e.Confidence < q.MinConfidence {
		return false
	}

	return true
}

// score computes the full composite for doc:
// score_lex · boosts · decay · reinforce · importance, optionally
// blended with a cosine hybrid term.
func (e *Engine) score(doc entry.MemoryEntry, terms []string, df map[string]int, n int, avgdl float64, queryLower string, now time.Time, explain bool) Result {
	docTokens := index.Tokenize(doc.Content)
	docLen := len(docTokens)

	tf := make(map[string]int, len(terms))
	for _, t := range docTokens {
		tf[t]++
	}

	lexical := 0.0
	matched := make([]string, 0, len(terms))

	for _, t := range terms {
		termFreq := float64(tf[t])
		if termFreq == 0 {
			continue
		}

		matched = append(matched, t)

		denom := termFreq + K1*(1-B+B*float64(docLen)/avgdlOrOne(avgdl))
		lexical += idf(n, df[t]) * (termFreq * (K1 + 1)) / denom
	}

	boost := boosts(doc, terms, queryLower)
	decayFactor := decay.Score(doc.Created, now, doc.MemoryType, e.halfLifeDays)
	reinforceFactor := 1 + math.Min(float64(e.accessCount(doc.ID)), ReinforceCap)*ReinforceStep

	result := Result{Entry: doc, Relevance: lexical * boost * decayFactor * reinforceFactor * doc.Importance}

	if explain {
		result.Explanation = &Explanation{
			MatchedTerms: matched,
			Lexical:      lexical,
			Boosts:       boost,
			Decay:        decayFactor,
			Reinforce:    reinforceFactor,
			Importance:   doc.Importance,
		}
	}

	return result
}

// blendHybrid rewrites every result's relevance from the raw BM25
// composite to hybrid(d) = 0.4·normalized_bm25(d) + 0.6·cosine. The
// BM25 composites are first normalized by the candidate set's own
// maximum so both blend inputs live on a comparable [0, 1] scale; a
// document without a cached embedding keeps its normalized BM25 value
// as a pure-BM25 fallback. A no-op when no embedder is registered.
func (e *Engine) blendHybrid(results []Result, queryLower string) {
	if e.embed == nil || len(results) == 0 {
		return
	}

	queryVec, err := e.embed(queryLower)
	if err != nil {
		return
	}

	max := 0.0
	for _, r := range results {
		if r.Relevance > max {
			max = r.Relevance
		}
	}

	if max <= 0 {
		return
	}

	for i := range results {
		normalized := results[i].Relevance / max
		results[i].Relevance = normalized

		docVec, ok := e.embedCache[results[i].Entry.ID]
		if !ok {
			continue
		}

		blended := HybridBM25Weight*normalized + HybridCosineWeight*cosine(queryVec, docVec)
		results[i].Relevance = blended

		if results[i].Explanation != nil {
			results[i].Explanation.Hybrid = blended
		}
	}
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64

	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// boosts applies the multiplicative boosts: exact phrase,
// tag match, source match.
func boosts(doc entry.MemoryEntry, terms []string, queryLower string) float64 {
	b := 1.0

	if len(terms) > 1 && strings.Contains(strings.ToLower(doc.Content), strings.Join(terms, " ")) {
		b *= PhraseBoost
	}

	for _, t := range terms {
		if doc.HasTag(t) {
			b *= TagBoost
			break
		}
	}

	sourceLower := strings.ToLower(doc.Source)
	for _, t := range terms {
		if strings.Contains(sourceLower, t) {
			b *= SourceBoost
			break
		}
	}

	return b
}

func averageDocLength(entries map[string]entry.MemoryEntry) float64 {
	if len(entries) == 0 {
		return 0
	}

	total := 0
	for _, e := range entries {
		total += len(index.Tokenize(e.Content))
	}

	return float64(total) / float64(len(entries))
}

func avgdlOrOne(avgdl float64) float64 {
	if avgdl == 0 {
		return 1
	}

	return avgdl
}

// idf implements IDF(t) = ln( (N − df(t) + 0.5) / (df(t) + 0.5) + 1 ).
func idf(n, df int) float64 {
	ratio := (float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1
	return math.Log(ratio)
}

// normalize divides every result's relevance by the maximum in the
// set. If the maximum is 0, scores stay 0 and
// dropZero removes everything.
func normalize(results []Result) {
	max := 0.0

	for _, r := range results {
		if r.Relevance > max {
			max = r.Relevance
		}
	}

	if max <= 0 {
		for i := range results {
			results[i].Relevance = 0
		}

		return
	}

	for i := range results {
		results[i].Relevance /= max

		if results[i].Explanation != nil {
			results[i].Explanation.Relevance = results[i].Relevance
		}
	}
}

func dropZero(results []Result) []Result {
	out := results[:0]

	for _, r := range results {
		if r.Relevance > 0 {
			out = append(out, r)
		}
	}

	return out
}
