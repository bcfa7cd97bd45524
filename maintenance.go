package memstore

import (
	"fmt"

	"memstore/internal/consolidate"
	"memstore/internal/decay"
	"memstore/internal/forget"
	"memstore/internal/index"
	"memstore/internal/shard"
	"memstore/internal/wal"
)

// ForgetCriteria selects entries for Forget; criteria are OR-combined.
type ForgetCriteria = forget.ForgetCriteria

// PurgeCriteria selects entries for Purge; criteria are OR-combined.
type PurgeCriteria = forget.PurgeCriteria

// RemovalResult counts what a Forget or Purge call removed.
type RemovalResult struct {
	Removed    int `json:"removed"`
	WALRemoved int `json:"wal_removed"`
	Total      int `json:"total"`
}

// Forget removes every entry matching c from the map, shards, indexes,
// and pending WAL records, appending one audit record for the
// operation. Calling it twice with the same criteria is idempotent on
// state, not on counts.
func (m *MemorySystem) Forget(c ForgetCriteria) (RemovalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return RemovalResult{}, ErrClosed
	}

	return m.removeLocked(forget.SelectForget(m.entries, c), "forget")
}

// Purge removes every entry matching c, same contract as Forget.
func (m *MemorySystem) Purge(c PurgeCriteria) (RemovalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return RemovalResult{}, ErrClosed
	}

	return m.removeLocked(forget.SelectPurge(m.entries, c), "purge")
}

// removeLocked deletes ids everywhere an entry lives: the in-memory
// map, its shard, all three indexes, the access tracker, the embedding
// cache, and any still-pending WAL records. One audit record covers
// the whole operation.
func (m *MemorySystem) removeLocked(ids []string, op string) (RemovalResult, error) {
	if len(ids) == 0 {
		return RemovalResult{}, nil
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return RemovalResult{}, fmt.Errorf("memstore: %s lock: %w", op, err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

	idSet := make(map[string]bool, len(ids))

	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok {
			continue
		}

		m.idx.Remove(e)

		if err := m.shards.Delete(shard.KeyOf(e), id); err != nil {
			return RemovalResult{}, fmt.Errorf("memstore: %s delete %s: %w", op, id, err)
		}

		delete(m.entries, id)
		delete(m.byKey, contentKey(e.Content, e.Source))
		m.access.Forget(id)
		delete(m.embeddings, id)
		idSet[id] = true
	}

	walRemoved, err := m.wal.Purge(idSet)
	if err != nil {
		return RemovalResult{}, fmt.Errorf("memstore: %s wal purge: %w", op, err)
	}

	m.cache.Clear()

	if err := m.audit.Append(forget.AuditRecord{Op: op, IDs: ids, Count: len(idSet), Ts: m.now()}); err != nil {
		return RemovalResult{}, fmt.Errorf("memstore: %s audit: %w", op, err)
	}

	if err := m.saveLocked(); err != nil {
		return RemovalResult{}, err
	}

	if m.log != nil {
		m.log.Info().Str("op", op).Int("removed", len(idSet)).Int("wal_removed", walRemoved).Msg("entries removed")
	}

	return RemovalResult{Removed: len(idSet), WALRemoved: walRemoved, Total: len(idSet) + walRemoved}, nil
}

// CompactReport summarizes one Compact call. Errors from individual
// merges are collected rather than rolling back earlier ones.
type CompactReport struct {
	Examined       int
	Archived       []string
	MergesApplied  int
	OversizeShards []string
	Errors         []string
}

// Compact removes entries decayed below the archive threshold and, if
// auto_merge_near_duplicates is configured, applies proposed
// near-duplicate merges. Oversize shards are reported, never split
// mid-operation.
func (m *MemorySystem) Compact() (CompactReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return CompactReport{}, ErrClosed
	}

	now := m.now()
	report := CompactReport{Examined: len(m.entries)}

	var archive []string

	for id, e := range m.entries {
		if decay.IsArchiveCandidate(e.Created, now, e.MemoryType, m.cfg.HalfLifeDays) {
			archive = append(archive, id)
		}
	}

	if len(archive) > 0 {
		if _, err := m.removeLocked(archive, "compact"); err != nil {
			return report, err
		}

		report.Archived = archive
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return report, fmt.Errorf("memstore: compact lock: %w", err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

	if m.cfg.AutoMergeNearDuplicates {
		analysis := consolidate.Analyze(m.entries)

		for _, p := range analysis.Merges {
			if err := m.applyMergeLocked(p); err != nil {
				report.Errors = append(report.Errors, err.Error())

				continue
			}

			report.MergesApplied++
		}
	}

	for _, k := range m.shards.Keys() {
		size, err := m.shards.ByteSize(k)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())

			continue
		}

		if size > shard.DefaultMaxBytes {
			report.OversizeShards = append(report.OversizeShards, k.FileName())
		}
	}

	if err := m.saveLocked(); err != nil {
		return report, err
	}

	if m.log != nil {
		m.log.Info().
			Int("examined", report.Examined).
			Int("archived", len(report.Archived)).
			Int("merged", report.MergesApplied).
			Msg("compacted")
	}

	return report, nil
}

// Consolidate analyzes the live entry set for near-duplicates,
// clusters, and rule-based contradictions. It mutates nothing; apply
// individual proposals with ApplyMerge.
func (m *MemorySystem) Consolidate() (consolidate.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return consolidate.Report{}, ErrClosed
	}

	return consolidate.Analyze(m.entries), nil
}

// MergeProposal is one near-duplicate pair proposed by Consolidate.
type MergeProposal = consolidate.MergeProposal

// ApplyMerge applies one proposed near-duplicate merge: the kept entry
// absorbs the dropped entry's tags and max access count, and the
// dropped entry is removed everywhere.
func (m *MemorySystem) ApplyMerge(p MergeProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return fmt.Errorf("memstore: merge lock: %w", err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

	if err := m.applyMergeLocked(p); err != nil {
		return err
	}

	if err := m.audit.Append(forget.AuditRecord{Op: "merge", IDs: []string{p.DropID}, Count: 1, Ts: m.now()}); err != nil {
		return fmt.Errorf("memstore: merge audit: %w", err)
	}

	return m.saveLocked()
}

func (m *MemorySystem) applyMergeLocked(p MergeProposal) error {
	keep, ok := m.entries[p.KeepID]
	if !ok {
		return fmt.Errorf("memstore: merge keep %s: unknown id", p.KeepID)
	}

	drop, ok := m.entries[p.DropID]
	if !ok {
		return fmt.Errorf("memstore: merge drop %s: unknown id", p.DropID)
	}

	merged := consolidate.Merge(keep, drop)

	m.idx.Remove(keep)
	m.idx.Remove(drop)

	if err := m.shards.Delete(shard.KeyOf(drop), drop.ID); err != nil {
		return fmt.Errorf("memstore: merge delete %s: %w", drop.ID, err)
	}

	delete(m.entries, drop.ID)
	delete(m.byKey, contentKey(drop.Content, drop.Source))
	m.access.Transfer(drop.ID, keep.ID)
	delete(m.embeddings, drop.ID)

	if err := m.shards.Put(merged); err != nil {
		return fmt.Errorf("memstore: merge put %s: %w", merged.ID, err)
	}

	m.entries[merged.ID] = merged
	m.idx.Add(merged)

	if _, err := m.wal.Purge(map[string]bool{drop.ID: true}); err != nil {
		return fmt.Errorf("memstore: merge wal purge: %w", err)
	}

	m.cache.Clear()

	return nil
}

// WALFlush forces a flush regardless of thresholds and returns the
// number of records that were pending.
func (m *MemorySystem) WALFlush() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return 0, fmt.Errorf("memstore: wal flush lock: %w", err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

	stats, err := m.wal.Inspect(0)
	if err != nil {
		return 0, err
	}

	if err := m.flushLocked(); err != nil {
		return 0, err
	}

	return stats.Pending, nil
}

// WALInspect reports the pending record count, file size, and a small
// sample of pending records.
func (m *MemorySystem) WALInspect() (wal.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wal.Stats{}, ErrClosed
	}

	return m.wal.Inspect(3)
}

// RebuildIndexes reconstructs all three indexes from the authoritative
// entry map and persists them. It is the prescribed recovery after
// store corruption, and is idempotent: rebuilding an unchanged entry
// set produces byte-identical index files.
func (m *MemorySystem) RebuildIndexes() (index.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return index.Counts{}, ErrClosed
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return index.Counts{}, fmt.Errorf("memstore: rebuild lock: %w", err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

	counts := m.idx.Rebuild(m.entries)

	if err := m.idx.Save(); err != nil {
		return index.Counts{}, err
	}

	m.cache.Clear()

	return counts, nil
}
