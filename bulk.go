package memstore

import (
	"errors"
	"fmt"
	"iter"

	"memstore/internal/entry"
)

// BulkItem is one pending ingest in a BulkIngest batch.
type BulkItem struct {
	Content    string
	Source     string
	Category   string
	MemoryType entry.MemoryType
}

// BulkReport tallies a BulkIngest batch.
type BulkReport struct {
	Stored      int
	Duplicates  int
	Dropped     int
	CapExceeded bool
}

// ErrBulkActive is returned when BulkMode is entered while another
// bulk scope is already open on the same instance.
var ErrBulkActive = errors.New("memstore: bulk mode already active")

// BulkMode runs fn with incremental index mutation disabled: every
// ingest inside fn appends to the WAL and shards but defers index
// updates. On exit the indexes are rebuilt in one pass and the WAL is
// flushed. The rebuild happens even when fn returns an error, so
// entries already ingested stay searchable.
func (m *MemorySystem) BulkMode(fn func() error) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return ErrClosed
	}

	if m.bulk {
		m.mu.Unlock()

		return ErrBulkActive
	}

	m.bulk = true
	m.bulkSeen = 0
	m.mu.Unlock()

	fnErr := fn()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.bulk = false

	if m.bulkSeen > 0 {
		lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
		if err != nil {
			return fmt.Errorf("memstore: bulk finalize lock: %w", err)
		}
		defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

		m.idx.Rebuild(m.entries)

		if err := m.flushLocked(); err != nil {
			return err
		}

		if m.log != nil {
			m.log.Info().Int("ingested", m.bulkSeen).Msg("bulk mode finalized")
		}
	}

	return fnErr
}

// BulkIngest ingests every item from items inside one bulk scope,
// warning once when the active entry set crosses bulk_active_cap.
func (m *MemorySystem) BulkIngest(items iter.Seq[BulkItem]) (BulkReport, error) {
	var report BulkReport

	err := m.BulkMode(func() error {
		warned := false

		for item := range items {
			res, err := m.Ingest(item.Content, item.Source, item.Category, item.MemoryType)
			if err != nil {
				return err
			}

			switch res.Status {
			case StatusStored:
				report.Stored++
			case StatusDuplicate:
				report.Duplicates++
			case StatusDropped:
				report.Dropped++
			}

			if !warned && m.activeCount() > m.cfg.BulkActiveCap {
				warned = true
				report.CapExceeded = true

				if m.log != nil {
					m.log.Warn().
						Int("active", m.activeCount()).
						Int("cap", m.cfg.BulkActiveCap).
						Msg("bulk ingest exceeded active-set cap")
				}
			}
		}

		return nil
	})

	return report, err
}

// activeCount returns the live entry count under the facade lock.
func (m *MemorySystem) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
