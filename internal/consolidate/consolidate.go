// Package consolidate analyzes the entry set offline:
// an offline, read-only analysis pass over the live entry set that
// proposes near-duplicate merges, category-scoped similarity
// clusters, and rule-based contradiction flags. Consolidate never
// mutates the entry map itself — applying a proposed merge is a
// separate explicit call made by the facade.
package consolidate

import (
	"sort"
	"strings"
	"unicode"

	"memstore/internal/entry"
	"memstore/internal/index"
)

// NearDupThreshold and ClusterThreshold are the Jaccard similarity
// cutoffs.
const (
	NearDupThreshold = 0.85
	ClusterThreshold = 0.4
)

// ContradictionMinSharedTokens is the K of the contradiction
// rule: two entries must share at least this many significant tokens
// before a one-sided negation is flagged.
const ContradictionMinSharedTokens = 2

var negationTokens = map[string]bool{
	"not": true, "never": true, "no": true, "without": true,
}

// MergeProposal pairs two near-duplicate entries with the id that
// would survive a merge.
type MergeProposal struct {
	KeepID  string
	DropID  string
	Jaccard float64
}

// Cluster is a connected component of entries within one category,
// linked by pairs whose similarity is at least ClusterThreshold.
type Cluster struct {
	Category string
	IDs      []string
}

// Contradiction flags a pair of entries that share significant
// vocabulary but disagree on a negation. The check is rule-based,
// not inferential.
type Contradiction struct {
	IDA, IDB     string
	SharedTokens []string
}

// Report is the read-only output of Analyze.
type Report struct {
	Merges         []MergeProposal
	Clusters       []Cluster
	Contradictions []Contradiction
}

// tokenSet returns the deduplicated, stopword-filtered token set for
// e's content, used as the basis of every Jaccard comparison.
func tokenSet(e entry.MemoryEntry) map[string]bool {
	set := make(map[string]bool)
	for _, t := range index.Tokenize(e.Content) {
		set[t] = true
	}

	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

// Analyze runs all three passes over entries and returns a combined
// report. It performs no mutation; entries is read-only.
func Analyze(entries map[string]entry.MemoryEntry) Report {
	ids := sortedIDs(entries)
	tokens := make(map[string]map[string]bool, len(ids))

	for _, id := range ids {
		tokens[id] = tokenSet(entries[id])
	}

	var merges []MergeProposal

	var clusterEdges []edge

	var contradictions []Contradiction

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := entries[ids[i]], entries[ids[j]]
			sim := jaccard(tokens[ids[i]], tokens[ids[j]])

			if sim >= NearDupThreshold {
				merges = append(merges, proposeMerge(a, b, sim))
			}

			if sim >= ClusterThreshold && a.Category == b.Category {
				clusterEdges = append(clusterEdges, edge{a: a.ID, b: b.ID, category: a.Category})
			}

			if c, ok := checkContradiction(a, b, tokens[ids[i]], tokens[ids[j]]); ok {
				contradictions = append(contradictions, c)
			}
		}
	}

	return Report{
		Merges:         merges,
		Clusters:       buildClusters(clusterEdges),
		Contradictions: contradictions,
	}
}

// proposeMerge keeps the entry with the higher importance·confidence
// product.
func proposeMerge(a, b entry.MemoryEntry, sim float64) MergeProposal {
	keep, drop := a, b
	if b.Importance*b.Confidence > a.Importance*a.Confidence {
		keep, drop = b, a
	}

	return MergeProposal{KeepID: keep.ID, DropID: drop.ID, Jaccard: sim}
}

// Merge applies a proposed merge: the kept entry accumulates the
// dropped entry's tags and the max of the two access counts. The
// caller is responsible for removing DropID from the entry map,
// shards, and indexes.
func Merge(keep, drop entry.MemoryEntry) entry.MemoryEntry {
	merged := keep

	for _, tag := range drop.Tags {
		merged.AddTag(tag)
	}

	if drop.AccessCount > merged.AccessCount {
		merged.AccessCount = drop.AccessCount
	}

	return merged
}

type edge struct {
	a, b     string
	category string
}

// buildClusters groups edges into connected components per category
// via union-find: connected components
// limited to categories that match."
func buildClusters(edges []edge) []Cluster {
	parent := make(map[string]string)

	var find func(string) string
	find = func(x string) string {
		if parent[x] == "" {
			parent[x] = x
		}

		if parent[x] != x {
			parent[x] = find(parent[x])
		}

		return parent[x]
	}

	union := func(x, y string) {
		rx, ry := find(x), find(y)
		if rx != ry {
			parent[rx] = ry
		}
	}

	categoryOf := make(map[string]string)

	for _, e := range edges {
		find(e.a)
		find(e.b)
		union(e.a, e.b)
		categoryOf[e.a] = e.category
		categoryOf[e.b] = e.category
	}

	groups := make(map[string][]string)

	for id := range parent {
		root := find(id)
		groups[root] = append(groups[root], id)
	}

	clusters := make([]Cluster, 0, len(groups))

	for root, ids := range groups {
		if len(ids) < 2 {
			continue
		}

		sort.Strings(ids)
		clusters = append(clusters, Cluster{Category: categoryOf[root], IDs: ids})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Category != clusters[j].Category {
			return clusters[i].Category < clusters[j].Category
		}

		return clusters[i].IDs[0] < clusters[j].IDs[0]
	})

	return clusters
}

// checkContradiction applies the rule: entries sharing
// at least ContradictionMinSharedTokens significant tokens, where
// exactly one contains a negation token and the other does not.
func checkContradiction(a, b entry.MemoryEntry, tokensA, tokensB map[string]bool) (Contradiction, bool) {
	shared := make([]string, 0)

	for t := range tokensA {
		if tokensB[t] {
			shared = append(shared, t)
		}
	}

	if len(shared) < ContradictionMinSharedTokens {
		return Contradiction{}, false
	}

	negA := containsNegation(a.Content)
	negB := containsNegation(b.Content)

	if negA == negB {
		return Contradiction{}, false
	}

	sort.Strings(shared)

	return Contradiction{IDA: a.ID, IDB: b.ID, SharedTokens: shared}, true
}

// containsNegation scans content's raw words for a negation token. It
// deliberately does not reuse the index tokenizer: the stopword set
// strips "no", which would blind the rule to one of its negation
// tokens.
func containsNegation(content string) bool {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, w := range words {
		if negationTokens[w] {
			return true
		}
	}

	return false
}

func sortedIDs(entries map[string]entry.MemoryEntry) []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
