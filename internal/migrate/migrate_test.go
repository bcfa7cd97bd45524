package migrate_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"memstore/internal/atomicio"
	"memstore/internal/clock"
	"memstore/internal/entry"
	"memstore/internal/index"
	"memstore/internal/migrate"
	"memstore/internal/shard"
	"memstore/pkg/fs"
)

func seedLegacyFile(t *testing.T, real fs.FS, workspace string, entries []entry.MemoryEntry) {
	t.Helper()

	doc := map[string]any{"entries": entries}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal legacy doc: %v", err)
	}

	if err := real.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}

	if err := real.WriteFile(filepath.Join(workspace, migrate.LegacyFileName), data, 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
}

func mustEntry(t *testing.T, content, source, category string, created time.Time) entry.MemoryEntry {
	t.Helper()

	e, err := entry.New(content, source, category, entry.TypeFact, created)
	if err != nil {
		t.Fatalf("entry.New: %v", err)
	}

	return e
}

func TestDetect_TrueWhenLegacyFileExists(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()
	workspace := t.TempDir()

	found, err := migrate.Detect(real, workspace)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if found {
		t.Fatalf("Detect=true before seeding, want false")
	}

	seedLegacyFile(t, real, workspace, nil)

	found, err = migrate.Detect(real, workspace)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if !found {
		t.Fatalf("Detect=false after seeding, want true")
	}
}

func TestMigrate_NoLegacyFile_ReturnsErrNoLegacyData(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()
	workspace := t.TempDir()
	writer := atomicio.New(real)

	shards := shard.New(writer, filepath.Join(workspace, "shards"))
	idx := index.New(writer, filepath.Join(workspace, "indexes", "text.json"), filepath.Join(workspace, "indexes", "tag.json"), filepath.Join(workspace, "indexes", "date.json"))

	_, err := migrate.Migrate(real, writer, clock.Real{}, workspace, shards, idx)
	if err != migrate.ErrNoLegacyData {
		t.Fatalf("Migrate error=%v, want ErrNoLegacyData", err)
	}
}

func TestMigrate_ShardsAndIndexesEveryEntryAndRemovesLegacyFile(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()
	workspace := t.TempDir()
	writer := atomicio.New(real)

	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	a := mustEntry(t, "a legacy memory about the old storage format", "legacy", "general", now)
	b := mustEntry(t, "another legacy memory predating the shard layout", "legacy", "general", now)

	seedLegacyFile(t, real, workspace, []entry.MemoryEntry{a, b})

	shards := shard.New(writer, filepath.Join(workspace, "shards"))
	idx := index.New(writer, filepath.Join(workspace, "indexes", "text.json"), filepath.Join(workspace, "indexes", "tag.json"), filepath.Join(workspace, "indexes", "date.json"))

	report, err := migrate.Migrate(real, writer, clock.Real{}, workspace, shards, idx)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if report.Migrated != 2 {
		t.Fatalf("report.Migrated=%d, want 2", report.Migrated)
	}

	legacyExists, err := real.Exists(filepath.Join(workspace, migrate.LegacyFileName))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if legacyExists {
		t.Fatalf("legacy file still exists after migration, want removed")
	}

	backupExists, err := real.Exists(report.BackupPath)
	if err != nil {
		t.Fatalf("Exists backup: %v", err)
	}

	if !backupExists {
		t.Fatalf("backup file missing at %q", report.BackupPath)
	}

	k := shard.KeyOf(a)

	got, ok, err := shards.Get(k, a.ID)
	if err != nil {
		t.Fatalf("shards.Get: %v", err)
	}

	if !ok || got.ID != a.ID {
		t.Fatalf("migrated entry %q not found in shards", a.ID)
	}
}

func TestMigrate_AppendsHistoryRecord(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()
	workspace := t.TempDir()
	writer := atomicio.New(real)

	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	a := mustEntry(t, "a single legacy memory used to check the history log", "legacy", "general", now)

	seedLegacyFile(t, real, workspace, []entry.MemoryEntry{a})

	shards := shard.New(writer, filepath.Join(workspace, "shards"))
	idx := index.New(writer, filepath.Join(workspace, "indexes", "text.json"), filepath.Join(workspace, "indexes", "tag.json"), filepath.Join(workspace, "indexes", "date.json"))

	report, err := migrate.Migrate(real, writer, clock.Real{}, workspace, shards, idx)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	var history []migrate.HistoryRecord
	if err := writer.ReadJSON(filepath.Join(workspace, migrate.HistoryFileName), &history); err != nil {
		t.Fatalf("ReadJSON history: %v", err)
	}

	if len(history) != 1 {
		t.Fatalf("got %d history records, want 1", len(history))
	}

	if history[0].ID != report.HistoryID || history[0].Status != "ok" {
		t.Fatalf("history record=%+v, want ID=%q status=ok", history[0], report.HistoryID)
	}
}

func TestRollback_RestoresLegacyFileAndRemovesShardsAndIndexes(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()
	workspace := t.TempDir()
	writer := atomicio.New(real)

	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	a := mustEntry(t, "a legacy memory that will be rolled back after migration", "legacy", "general", now)

	seedLegacyFile(t, real, workspace, []entry.MemoryEntry{a})

	shards := shard.New(writer, filepath.Join(workspace, "shards"))
	idx := index.New(writer, filepath.Join(workspace, "indexes", "text.json"), filepath.Join(workspace, "indexes", "tag.json"), filepath.Join(workspace, "indexes", "date.json"))

	if _, err := migrate.Migrate(real, writer, clock.Real{}, workspace, shards, idx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if err := migrate.Rollback(real, writer, workspace); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	legacyExists, err := real.Exists(filepath.Join(workspace, migrate.LegacyFileName))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if !legacyExists {
		t.Fatalf("legacy file missing after Rollback, want restored")
	}

	shardsExist, err := real.Exists(filepath.Join(workspace, "shards"))
	if err != nil {
		t.Fatalf("Exists shards: %v", err)
	}

	if shardsExist {
		t.Fatalf("shards directory still exists after Rollback, want removed")
	}
}
