package memstore

import (
	"fmt"
	"strings"

	"memstore/internal/entry"
	"memstore/internal/gate"
	"memstore/internal/wal"
)

// IngestStatus is the non-error outcome of Ingest: a rejected or
// duplicate ingest is a status, not a failure.
type IngestStatus int

const (
	// StatusStored means a new entry was created.
	StatusStored IngestStatus = iota
	// StatusDuplicate means normalized content and source matched a
	// live entry; its access count was incremented instead of
	// inserting a second copy.
	StatusDuplicate
	// StatusDropped means the input was rejected before ever becoming
	// an entry (too short, or P3 filler under ingest_with_gating).
	StatusDropped
)

// String renders s for logging.
func (s IngestStatus) String() string {
	switch s {
	case StatusStored:
		return "stored"
	case StatusDuplicate:
		return "duplicate"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// IngestResult is Ingest's return value.
type IngestResult struct {
	Status IngestStatus
	Entry  entry.MemoryEntry // zero unless Status is Stored or Duplicate
	Reason string            // set when Status is Dropped
}

// Ingest normalizes content, assigns it to a shard, appends it to
// the WAL, inserts it in memory, and updates the indexes; dirty
// shards persist when the WAL flush thresholds are crossed. Content
// below min_content_len is dropped with no error.
func (m *MemorySystem) Ingest(content, source, category string, memoryType entry.MemoryType) (IngestResult, error) {
	return m.ingest(content, source, category, memoryType, false)
}

// IngestWithGating classifies content with the InputGate before
// ingesting; P3 (filler) input is dropped without ever being
// normalized or hashed.
func (m *MemorySystem) IngestWithGating(content, source, category string, memoryType entry.MemoryType) (IngestResult, error) {
	return m.ingest(content, source, category, memoryType, true)
}

// IngestEpisodic, IngestFact, IngestPreference, IngestProcedure, and
// IngestMistake are Ingest with the memory type preset.
func (m *MemorySystem) IngestEpisodic(content, source, category string) (IngestResult, error) {
	return m.Ingest(content, source, category, entry.TypeEpisodic)
}

func (m *MemorySystem) IngestFact(content, source, category string) (IngestResult, error) {
	return m.Ingest(content, source, category, entry.TypeFact)
}

func (m *MemorySystem) IngestPreference(content, source, category string) (IngestResult, error) {
	return m.Ingest(content, source, category, entry.TypePreference)
}

func (m *MemorySystem) IngestProcedure(content, source, category string) (IngestResult, error) {
	return m.Ingest(content, source, category, entry.TypeProcedure)
}

func (m *MemorySystem) IngestMistake(content, source, category string) (IngestResult, error) {
	return m.Ingest(content, source, category, entry.TypeMistake)
}

func (m *MemorySystem) ingest(content, source, category string, memoryType entry.MemoryType, gated bool) (IngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return IngestResult{}, ErrClosed
	}

	if gated {
		if p := gate.Classify(content); p == gate.P3 {
			if m.log != nil {
				m.log.Debug().Str("priority", p.String()).Msg("ingest dropped by gate")
			}

			return IngestResult{Status: StatusDropped, Reason: "filler (P3)"}, nil
		}
	}

	if len(strings.TrimSpace(content)) < m.cfg.MinContentLen {
		return IngestResult{Status: StatusDropped, Reason: "content too short"}, nil
	}

	normalized, err := entry.Normalize(content)
	if err != nil {
		return IngestResult{Status: StatusDropped, Reason: err.Error()}, nil //nolint:nilerr // rejection is a status, not a failure
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return IngestResult{}, fmt.Errorf("memstore: ingest lock: %w", err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; the holder directory self-heals via stale-lock breaking

	key := contentKey(normalized, source)

	if id, ok := m.byKey[key]; ok {
		existing := m.entries[id]
		now := m.now()
		existing.AccessCount++
		existing.LastAccessed = &now

		// The tracker, not the entry snapshot, feeds search's
		// reinforce factor — keep both counters in step.
		m.access.Reinforce([]string{id})

		if err := m.shards.Put(existing); err != nil {
			return IngestResult{}, fmt.Errorf("memstore: reinforce duplicate: %w", err)
		}

		m.entries[id] = existing
		m.cache.Clear()

		if _, ok := m.embeddings[id]; !ok {
			m.embedOnIngest(id, existing.Content)
		}

		if err := m.saveLocked(); err != nil {
			return IngestResult{}, err
		}

		return IngestResult{Status: StatusDuplicate, Entry: existing}, nil
	}

	e, err := entry.New(normalized, source, category, memoryType, m.now())
	if err != nil {
		return IngestResult{Status: StatusDropped, Reason: err.Error()}, nil //nolint:nilerr // rejection is a status, not a failure
	}

	if err := m.wal.Append(wal.Record{Op: wal.OpIngest, ID: e.ID, Entry: &e, Ts: m.now()}); err != nil {
		return IngestResult{}, fmt.Errorf("memstore: ingest wal append: %w", err)
	}

	if err := m.shards.Put(e); err != nil {
		return IngestResult{}, fmt.Errorf("memstore: ingest shard put: %w", err)
	}

	m.entries[e.ID] = e
	m.byKey[key] = e.ID
	m.embedOnIngest(e.ID, e.Content)
	m.cache.Clear()

	if m.bulk {
		// Bulk mode defers index mutation and flushing: BulkMode
		// rebuilds the indexes and flushes once on exit.
		m.bulkSeen++

		return IngestResult{Status: StatusStored, Entry: e}, nil
	}

	m.idx.Add(e)

	if err := m.maybeFlushLocked(); err != nil {
		return IngestResult{}, err
	}

	return IngestResult{Status: StatusStored, Entry: e}, nil
}
