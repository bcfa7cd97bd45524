// Package migrate performs the one-way migration from the legacy
// single-file layout (memory_metadata.json) to the sharded layout,
// with a backup
// copy and an append-only history log so a failed or unwanted
// migration can be rolled back.
package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"memstore/internal/atomicio"
	"memstore/internal/clock"
	"memstore/internal/entry"
	"memstore/internal/idgen"
	"memstore/internal/index"
	"memstore/internal/shard"
	"memstore/pkg/fs"
)

// LegacyFileName is the legacy single-file store.
const LegacyFileName = "memory_metadata.json"

// HistoryFileName is the append-only migration log.
const HistoryFileName = "migrations/history.json"

// ErrNoLegacyData is returned by Migrate when no legacy file exists.
var ErrNoLegacyData = errors.New("migrate: no legacy data")

// legacyDocument is the assumed shape of memory_metadata.json: a flat
// list of entries under a top-level key, matching the same per-entry
// JSON schema the sharded layout persists.
type legacyDocument struct {
	Entries []entry.MemoryEntry `json:"entries"`
}

// HistoryRecord is one append-only entry in migrations/history.json.
type HistoryRecord struct {
	ID         string    `json:"id"`
	Ts         time.Time `json:"ts"`
	BackupPath string    `json:"backup_path"`
	Migrated   int       `json:"migrated"`
	Status     string    `json:"status"` // "ok" | "rolled_back"
}

// Report summarizes a completed migration.
type Report struct {
	Migrated   int
	BackupPath string
	HistoryID  string
}

// Detect reports whether workspace contains a legacy store awaiting
// migration.
func Detect(filesystem fs.FS, workspace string) (bool, error) {
	return filesystem.Exists(filepath.Join(workspace, LegacyFileName))
}

// Migrate reads the legacy store, copies it verbatim to
// migrations/backup-<ts>.json, loads every entry into shards and
// indexes, removes the legacy file, and appends one HistoryRecord.
// On any failure before the legacy file is removed, the legacy file
// stays in place, so the next Load migrates again. Shard and index
// files already saved by the failed attempt are not removed, and the
// backup (if written) stays in migrations/.
func Migrate(filesystem fs.FS, writer *atomicio.Writer, clk clock.Clock, workspace string, shards *shard.Manager, idx *index.Manager) (Report, error) {
	legacyPath := filepath.Join(workspace, LegacyFileName)

	exists, err := filesystem.Exists(legacyPath)
	if err != nil {
		return Report{}, fmt.Errorf("migrate: stat legacy file: %w", err)
	}

	if !exists {
		return Report{}, ErrNoLegacyData
	}

	raw, err := filesystem.ReadFile(legacyPath)
	if err != nil {
		return Report{}, fmt.Errorf("migrate: read legacy file: %w", err)
	}

	var doc legacyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Report{}, fmt.Errorf("migrate: parse legacy file: %w", err)
	}

	now := clk.Now()

	recordUUID, err := idgen.New()
	if err != nil {
		return Report{}, fmt.Errorf("migrate: generate history id: %w", err)
	}

	// The short id keeps two migrations within the same second from
	// overwriting each other's backup.
	shortID, err := idgen.Short(recordUUID)
	if err != nil {
		return Report{}, fmt.Errorf("migrate: derive short id: %w", err)
	}

	backupPath := filepath.Join(workspace, "migrations", fmt.Sprintf("backup-%s-%s.json", now.Format("20060102T150405Z0700"), shortID))

	if err := filesystem.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return Report{}, fmt.Errorf("migrate: mkdir backups: %w", err)
	}

	if err := filesystem.WriteFile(backupPath, raw, 0o644); err != nil {
		return Report{}, fmt.Errorf("migrate: write backup: %w", err)
	}

	for _, e := range doc.Entries {
		if err := shards.Put(e); err != nil {
			return Report{}, fmt.Errorf("migrate: shard entry %s: %w", e.ID, err)
		}

		idx.Add(e)
	}

	if err := shards.Save(); err != nil {
		return Report{}, fmt.Errorf("migrate: save shards: %w", err)
	}

	if err := idx.Save(); err != nil {
		return Report{}, fmt.Errorf("migrate: save indexes: %w", err)
	}

	if err := filesystem.Remove(legacyPath); err != nil {
		return Report{}, fmt.Errorf("migrate: remove legacy file: %w", err)
	}

	record := HistoryRecord{
		ID:         recordUUID.String(),
		Ts:         now,
		BackupPath: backupPath,
		Migrated:   len(doc.Entries),
		Status:     "ok",
	}

	if err := appendHistory(writer, workspace, record); err != nil {
		return Report{}, err
	}

	return Report{Migrated: len(doc.Entries), BackupPath: backupPath, HistoryID: record.ID}, nil
}

// Rollback restores the legacy file from the most recent successful
// migration's backup and removes the whole shards and indexes
// directories, including any files written there after the
// migration. It does not touch the WAL or access counts, neither of
// which Migrate writes to.
func Rollback(filesystem fs.FS, writer *atomicio.Writer, workspace string) error {
	history, err := readHistory(writer, workspace)
	if err != nil {
		return err
	}

	idx := lastOK(history)
	if idx < 0 {
		return fmt.Errorf("migrate: no completed migration to roll back")
	}

	record := history[idx]

	raw, err := filesystem.ReadFile(record.BackupPath)
	if err != nil {
		return fmt.Errorf("migrate: read backup: %w", err)
	}

	if err := filesystem.WriteFile(filepath.Join(workspace, LegacyFileName), raw, 0o644); err != nil {
		return fmt.Errorf("migrate: restore legacy file: %w", err)
	}

	for _, dir := range []string{"shards", "indexes"} {
		if err := filesystem.RemoveAll(filepath.Join(workspace, dir)); err != nil {
			return fmt.Errorf("migrate: remove %s: %w", dir, err)
		}
	}

	history[idx].Status = "rolled_back"

	return writeHistory(writer, workspace, history)
}

func lastOK(history []HistoryRecord) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status == "ok" {
			return i
		}
	}

	return -1
}

func appendHistory(writer *atomicio.Writer, workspace string, record HistoryRecord) error {
	history, err := readHistory(writer, workspace)
	if err != nil {
		return err
	}

	history = append(history, record)

	return writeHistory(writer, workspace, history)
}

func readHistory(writer *atomicio.Writer, workspace string) ([]HistoryRecord, error) {
	var history []HistoryRecord

	path := filepath.Join(workspace, HistoryFileName)

	if err := writer.ReadJSON(path, &history); err != nil {
		if errors.Is(err, atomicio.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("migrate: read history: %w", err)
	}

	sort.SliceStable(history, func(i, j int) bool { return history[i].Ts.Before(history[j].Ts) })

	return history, nil
}

func writeHistory(writer *atomicio.Writer, workspace string, history []HistoryRecord) error {
	path := filepath.Join(workspace, HistoryFileName)

	if err := writer.WriteJSON(path, history); err != nil {
		return fmt.Errorf("migrate: write history: %w", err)
	}

	return nil
}
