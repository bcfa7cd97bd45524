package consolidate_test

import (
	"testing"
	"time"

	"memstore/internal/consolidate"
	"memstore/internal/entry"
)

func mustEntry(t *testing.T, content, source, category string, created time.Time) entry.MemoryEntry {
	t.Helper()

	e, err := entry.New(content, source, category, entry.TypeFact, created)
	if err != nil {
		t.Fatalf("entry.New: %v", err)
	}

	return e
}

func TestAnalyze_ProposesMergeForNearDuplicates(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	a := mustEntry(t, "the quarterly budget review meeting is on Friday afternoon", "chat", "finance", now)
	b := mustEntry(t, "the quarterly budget review meeting is on Friday afternoon sharp", "chat", "finance", now)
	b.Importance = 2

	entries := map[string]entry.MemoryEntry{a.ID: a, b.ID: b}

	report := consolidate.Analyze(entries)

	if len(report.Merges) != 1 {
		t.Fatalf("got %d merge proposals, want 1", len(report.Merges))
	}

	m := report.Merges[0]
	if m.KeepID != b.ID {
		t.Fatalf("KeepID=%q, want %q (higher importance·confidence)", m.KeepID, b.ID)
	}

	if m.DropID != a.ID {
		t.Fatalf("DropID=%q, want %q", m.DropID, a.ID)
	}

	if m.Jaccard < consolidate.NearDupThreshold {
		t.Fatalf("Jaccard=%v, want >= %v", m.Jaccard, consolidate.NearDupThreshold)
	}
}

func TestAnalyze_NoMergeBelowThreshold(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	a := mustEntry(t, "the engineering team shipped the new release today", "chat", "eng", now)
	b := mustEntry(t, "the marketing team launched a new campaign yesterday", "chat", "eng", now)

	entries := map[string]entry.MemoryEntry{a.ID: a, b.ID: b}

	report := consolidate.Analyze(entries)

	if len(report.Merges) != 0 {
		t.Fatalf("got %d merge proposals, want 0", len(report.Merges))
	}
}

func TestMerge_AccumulatesTagsAndMaxAccessCount(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	keep := mustEntry(t, "release checklist for the payments service cutover", "chat", "eng", now)
	keep.AddTag("payments")
	keep.AccessCount = 3

	drop := mustEntry(t, "release checklist for the payments service cutover plan", "chat", "eng", now)
	drop.AddTag("cutover")
	drop.AccessCount = 9

	merged := consolidate.Merge(keep, drop)

	if !merged.HasTag("payments") || !merged.HasTag("cutover") {
		t.Fatalf("merged tags=%v, want both payments and cutover", merged.Tags)
	}

	if merged.AccessCount != 9 {
		t.Fatalf("merged.AccessCount=%d, want 9 (max of the two)", merged.AccessCount)
	}
}

func TestAnalyze_ClustersRespectCategoryBoundary(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	a := mustEntry(t, "incident response runbook for the payments outage scenario", "chat", "eng", now)
	b := mustEntry(t, "incident response runbook for the payments latency scenario", "chat", "eng", now)
	c := mustEntry(t, "incident response runbook for the payments outage drill", "chat", "sales", now)

	entries := map[string]entry.MemoryEntry{a.ID: a, b.ID: b, c.ID: c}

	report := consolidate.Analyze(entries)

	for _, cl := range report.Clusters {
		for _, id := range cl.IDs {
			if id == c.ID {
				t.Fatalf("cluster %v includes %q from a different category, want category isolation", cl, c.ID)
			}
		}
	}
}

func TestAnalyze_FlagsOneSidedNegationAsContradiction(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	a := mustEntry(t, "the deployment pipeline supports rollback safely", "chat", "eng", now)
	b := mustEntry(t, "the deployment pipeline does not support rollback", "chat", "eng", now)

	entries := map[string]entry.MemoryEntry{a.ID: a, b.ID: b}

	report := consolidate.Analyze(entries)

	if len(report.Contradictions) != 1 {
		t.Fatalf("got %d contradictions, want 1", len(report.Contradictions))
	}

	c := report.Contradictions[0]
	if len(c.SharedTokens) < consolidate.ContradictionMinSharedTokens {
		t.Fatalf("SharedTokens=%v, want at least %d", c.SharedTokens, consolidate.ContradictionMinSharedTokens)
	}
}

func TestAnalyze_NegationNoSurvivesStopwordFiltering(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	// "no" is in the index stopword set, so negation detection must
	// read the raw content, not the filtered token set.
	a := mustEntry(t, "the deployment pipeline supports rollback safely", "chat", "eng", now)
	b := mustEntry(t, "the deployment pipeline has no rollback support", "chat", "eng", now)

	entries := map[string]entry.MemoryEntry{a.ID: a, b.ID: b}

	report := consolidate.Analyze(entries)

	if len(report.Contradictions) != 1 {
		t.Fatalf("got %d contradictions, want 1 (one-sided %q)", len(report.Contradictions), "no")
	}
}

func TestAnalyze_FlagsOneSidedWithout(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	a := mustEntry(t, "the backup restore completes using recent snapshots", "chat", "ops", now)
	b := mustEntry(t, "the backup restore fails without recent snapshots", "chat", "ops", now)

	entries := map[string]entry.MemoryEntry{a.ID: a, b.ID: b}

	report := consolidate.Analyze(entries)

	if len(report.Contradictions) != 1 {
		t.Fatalf("got %d contradictions, want 1 (one-sided %q)", len(report.Contradictions), "without")
	}
}

func TestAnalyze_NoContradictionWhenBothOrNeitherNegate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	a := mustEntry(t, "the deployment pipeline supports rollback for releases", "chat", "eng", now)
	b := mustEntry(t, "the deployment pipeline supports canary for releases", "chat", "eng", now)

	entries := map[string]entry.MemoryEntry{a.ID: a, b.ID: b}

	report := consolidate.Analyze(entries)

	if len(report.Contradictions) != 0 {
		t.Fatalf("got %d contradictions, want 0 (neither entry negates)", len(report.Contradictions))
	}
}
