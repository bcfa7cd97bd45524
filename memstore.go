// Package memstore is a single-node, file-based persistent memory store
// for AI agents: entries are ingested, scored, decayed, reinforced,
// consolidated, and forgotten across process restarts and concurrent
// cooperating processes sharing one workspace directory.
//
// MemorySystem is the facade: it owns every on-disk subsystem (shards,
// indexes, WAL, access counts, outcomes log, audit log, locks) and
// serializes calls against them. Multiple processes may hold the same
// workspace open at once; MemorySystem coordinates with them through
// filelock and version, not through any in-process synchronization
// those other processes could see.
package memstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"memstore/internal/access"
	"memstore/internal/atomicio"
	"memstore/internal/cache"
	"memstore/internal/clock"
	"memstore/internal/config"
	"memstore/internal/entry"
	"memstore/internal/filelock"
	"memstore/internal/forget"
	"memstore/internal/index"
	"memstore/internal/migrate"
	"memstore/internal/search"
	"memstore/internal/shard"
	"memstore/internal/version"
	"memstore/internal/wal"
	"memstore/pkg/fs"
)

// ErrClosed is returned by any operation called after Close.
var ErrClosed = errors.New("memstore: closed")

// MemorySystem is the root facade over one workspace.
type MemorySystem struct {
	cfg config.Config
	fs  fs.FS
	io  *atomicio.Writer
	clk clock.Clock
	log *zerolog.Logger

	locker  *filelock.Locker
	version *version.Tracker

	shards *shard.Manager
	idx    *index.Manager
	wal    *wal.Manager
	access *access.Tracker
	cache  *cache.Cache
	engine *search.Engine

	audit *forget.Log

	embed      search.Embedder
	embeddings map[string][]float64

	mu       sync.Mutex
	entries  map[string]entry.MemoryEntry
	byKey    map[string]string // contentKey → id, for duplicate detection
	closed   bool
	bulk     bool
	bulkSeen int
}

// contentKey is the duplicate-detection identity: re-ingesting the
// same normalized content from the same source reinforces the
// existing entry instead of storing a second copy, regardless of when
// the re-ingest happens.
func contentKey(normalizedContent, source string) string {
	return normalizedContent + "\x00" + source
}

// rebuildContentKeysLocked recomputes the contentKey → id map from the
// authoritative entries map.
func (m *MemorySystem) rebuildContentKeysLocked() {
	m.byKey = make(map[string]string, len(m.entries))

	for id, e := range m.entries {
		m.byKey[contentKey(e.Content, e.Source)] = id
	}
}

// Option configures a MemorySystem at construction.
type Option func(*MemorySystem)

// WithLogger attaches a structured logger used at operation boundaries:
// legacy migration, WAL replay and flush, removals and compaction,
// bulk-mode exit, gate drops, and embedding failures. A
// nil logger (the default) disables logging entirely; every log call
// site checks for nil first.
func WithLogger(l *zerolog.Logger) Option {
	return func(m *MemorySystem) { m.log = l }
}

// WithClock overrides the real clock, for deterministic tests of decay
// and reinforcement.
func WithClock(c clock.Clock) Option {
	return func(m *MemorySystem) { m.clk = c }
}

// paths centralizes the workspace's on-disk layout.
type paths struct {
	shardsDir    string
	textIndex    string
	tagIndex     string
	dateIndex    string
	walPending   string
	embeddings   string
	accessCounts string
	outcomesLog  string
	auditLog     string
	namespaces   string
	manifest     string
}

func layout(workspace string) paths {
	return paths{
		shardsDir:    filepath.Join(workspace, "shards"),
		textIndex:    filepath.Join(workspace, "indexes", "search_index.json"),
		tagIndex:     filepath.Join(workspace, "indexes", "tag_index.json"),
		dateIndex:    filepath.Join(workspace, "indexes", "date_index.json"),
		walPending:   filepath.Join(workspace, ".wal", "pending.jsonl"),
		embeddings:   filepath.Join(workspace, "indexes", "embeddings.json"),
		accessCounts: filepath.Join(workspace, "access_counts.json"),
		outcomesLog:  filepath.Join(workspace, "outcomes.jsonl"),
		auditLog:     filepath.Join(workspace, "memory_audit.jsonl"),
		namespaces:   filepath.Join(workspace, "namespaces"),
		manifest:     filepath.Join(workspace, "namespace_manifest.json"),
	}
}

// Config re-exports internal/config.Config so callers can pass
// overrides to Load without importing internal packages. Zero-valued
// fields fall back to the workspace file, then built-in defaults.
type Config = config.Config

// Load opens (or initializes, if empty) the workspace at workspace —
// or, if workspace is "", the path resolved by config.Load from
// WORKSPACE_PATH or the current directory. It replays any pending WAL
// records left by a prior crash before returning.
func Load(workspace string, override config.Config, opts ...Option) (*MemorySystem, error) {
	cfg, err := config.Load(workspace, override)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return load(cfg, opts...)
}

func load(cfg config.Config, opts ...Option) (*MemorySystem, error) {
	realFS := fs.NewReal()
	io := atomicio.New(realFS)
	p := layout(cfg.Workspace)

	m := &MemorySystem{
		cfg:     cfg,
		fs:      realFS,
		io:      io,
		clk:     clock.Real{},
		version: version.New(realFS),
		shards:  shard.New(io, p.shardsDir),
		idx:     index.New(io, p.textIndex, p.tagIndex, p.dateIndex),
		wal:     wal.New(realFS, p.walPending, wal.WithFlushCount(cfg.WALFlushCount), wal.WithFlushBytes(cfg.WALFlushBytes)),
		audit:   forget.NewLog(realFS, p.auditLog),
		entries: make(map[string]entry.MemoryEntry),
		byKey:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.access = access.New(io, p.accessCounts, m.clk)
	m.cache = cache.New(cfg.CacheMaxEntries)
	m.locker = filelock.New(filelock.WithStaleAge(time.Duration(cfg.StaleLockAgeS)*time.Second), filelock.WithClock(m.clk))

	if err := m.bootstrap(); err != nil {
		return nil, err
	}

	return m, nil
}

// bootstrap loads every on-disk subsystem and replays the WAL, the
// same sequence a freshly started process performs.
func (m *MemorySystem) bootstrap() error {
	if err := m.migrateLegacy(); err != nil {
		return err
	}

	if err := m.access.Load(); err != nil {
		return err
	}

	if err := m.idx.Load(); err != nil {
		return err
	}

	if err := m.loadShardsFromDisk(); err != nil {
		return err
	}

	if err := m.replayWAL(); err != nil {
		return err
	}

	m.rebuildContentKeysLocked()

	if err := m.loadEmbeddings(); err != nil {
		return err
	}

	opts := []search.Option{}
	if m.embed != nil {
		opts = append(opts, search.WithEmbedder(m.embed, m.embeddings))
	}

	m.engine = search.New(m.cfg.HalfLifeDays, m.access, opts...)

	return nil
}

// migrateLegacy detects the legacy single-file layout and
// migrates it into shards and indexes before anything else reads the
// workspace. The legacy file is a one-way input: after a successful
// migration only the sharded layout exists.
func (m *MemorySystem) migrateLegacy() error {
	found, err := migrate.Detect(m.fs, m.cfg.Workspace)
	if err != nil {
		return fmt.Errorf("memstore: detect legacy layout: %w", err)
	}

	if !found {
		return nil
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return fmt.Errorf("memstore: migration lock: %w", err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

	report, err := migrate.Migrate(m.fs, m.io, m.clk, m.cfg.Workspace, m.shards, m.idx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	if m.log != nil {
		m.log.Info().
			Int("entries", report.Migrated).
			Str("backup", report.BackupPath).
			Msg("migrated legacy store")
	}

	return nil
}

// loadShardsFromDisk enumerates every shard file under shards/ and
// loads each into memory, rebuilding the authoritative entries map.
// Missing shard directories are tolerated as an empty workspace.
func (m *MemorySystem) loadShardsFromDisk() error {
	dir := filepath.Join(m.cfg.Workspace, "shards")

	exists, err := m.fs.Exists(dir)
	if err != nil {
		return fmt.Errorf("memstore: stat shards dir: %w", err)
	}

	if !exists {
		return nil
	}

	entries, err := m.fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("memstore: read shards dir: %w", err)
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}

		k, ok := shard.ParseFileName(de.Name())
		if !ok {
			continue
		}

		if err := m.shards.Load(k); err != nil {
			return fmt.Errorf("memstore: load shard %s: %w", de.Name(), err)
		}
	}

	m.entries = m.shards.All()

	return nil
}

// replayWAL re-applies every record left pending by a prior crash to
// the in-memory entries and indexes, then flushes the WAL.
func (m *MemorySystem) replayWAL() error {
	records, err := m.wal.Replay()
	if err != nil {
		return fmt.Errorf("memstore: replay wal: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	if m.log != nil {
		m.log.Info().Int("records", len(records)).Msg("replaying pending wal records")
	}

	for _, r := range records {
		switch r.Op {
		case wal.OpIngest:
			if r.Entry == nil {
				continue
			}

			if err := m.shards.Put(*r.Entry); err != nil {
				return fmt.Errorf("memstore: replay ingest %s: %w", r.ID, err)
			}

			m.idx.Add(*r.Entry)
			m.entries[r.Entry.ID] = *r.Entry
		case wal.OpDelete:
			m.removeEntryLocked(r.ID)
		}
	}

	if err := m.shards.Save(); err != nil {
		return fmt.Errorf("memstore: replay save shards: %w", err)
	}

	if err := m.idx.Save(); err != nil {
		return fmt.Errorf("memstore: replay save indexes: %w", err)
	}

	return m.wal.Flush()
}

// removeEntryLocked removes id from the in-memory entries map and the
// index, given the caller already holds whatever serialization is
// required. It does not touch shards or the WAL: callers needing that
// use the higher-level delete helpers in maintenance.go.
func (m *MemorySystem) removeEntryLocked(id string) {
	e, ok := m.entries[id]
	if !ok {
		return
	}

	m.idx.Remove(e)
	delete(m.entries, id)
	delete(m.byKey, contentKey(e.Content, e.Source))
}

// RollbackMigration restores the legacy single-file store from the
// most recent successful migration's backup and removes the whole
// shards and indexes directories. The instance must be reopened
// afterwards; this one is closed by the rollback.
func (m *MemorySystem) RollbackMigration() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	lk, err := m.locker.LockWithTimeout(m.lockPath(), lockTimeout)
	if err != nil {
		return fmt.Errorf("memstore: rollback lock: %w", err)
	}
	defer lk.Close() //nolint:errcheck // best-effort release; stale-lock breaking self-heals

	if err := migrate.Rollback(m.fs, m.io, m.cfg.Workspace); err != nil {
		return fmt.Errorf("%w: rollback: %w", ErrMigrationFailed, err)
	}

	m.closed = true

	return nil
}

// Save persists every dirty shard, index, and the access-count table.
// Callers do not normally need to call this directly: every mutating
// operation already saves what it touched. Save exists for explicit
// checkpointing (e.g. before a planned shutdown).
func (m *MemorySystem) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	return m.saveLocked()
}

func (m *MemorySystem) saveLocked() error {
	if err := m.shards.Save(); err != nil {
		return err
	}

	if err := m.idx.Save(); err != nil {
		return err
	}

	if err := m.saveEmbeddingsLocked(); err != nil {
		return err
	}

	return m.access.Save()
}

// Close persists any outstanding state and releases in-process
// resources. Calling Close more than once is a no-op after the first.
func (m *MemorySystem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	err := m.saveLocked()
	m.closed = true

	return err
}

// Stats summarizes the live workspace.
type Stats struct {
	TotalEntries int
	ByCategory   map[string]int
	ByType       map[entry.MemoryType]int
	WAL          wal.Stats
	CacheEntries int
}

// Stats reports the current in-memory state of the workspace.
func (m *MemorySystem) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Stats{}, ErrClosed
	}

	walStats, err := m.wal.Inspect(0)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		TotalEntries: len(m.entries),
		ByCategory:   make(map[string]int),
		ByType:       make(map[entry.MemoryType]int),
		WAL:          walStats,
		CacheEntries: m.cache.Len(),
	}

	for _, e := range m.entries {
		s.ByCategory[e.Category]++
		s.ByType[e.MemoryType]++
	}

	return s, nil
}

// FileVersion is a point-in-time identity of a workspace file, for
// readers in other processes that want to detect concurrent writes.
type FileVersion = version.FileVersion

// SnapshotFile captures the current version of the workspace file at
// relPath (relative to the workspace root). Pass hash to include a
// content digest in the comparison.
func (m *MemorySystem) SnapshotFile(relPath string, hash bool) (FileVersion, error) {
	return m.version.Snapshot(filepath.Join(m.cfg.Workspace, relPath), hash)
}

// CheckFile returns ErrConflict if the file at relPath no longer
// matches snapshot.
func (m *MemorySystem) CheckFile(relPath string, snapshot FileVersion) error {
	return m.version.Check(filepath.Join(m.cfg.Workspace, relPath), snapshot)
}

// readIfExists returns the contents of path, or nil with no error when
// path does not exist yet.
func readIfExists(filesystem fs.FS, path string) ([]byte, error) {
	exists, err := filesystem.Exists(path)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, nil
	}

	return filesystem.ReadFile(path)
}

// now returns the configured clock's current time, UTC.
func (m *MemorySystem) now() time.Time {
	return m.clk.Now().UTC()
}

// lockTimeout bounds how long a facade call waits to acquire the
// workspace lock before surfacing ErrLockTimeout.
const lockTimeout = 10 * time.Second

// lockPath is the single coarse-grained workspace lock every mutating
// operation acquires for the duration of a call, instead of taking
// per-resource locks on shard, index, WAL, access-count, and outcome
// files in sequence. One lock trades a little concurrency between
// unrelated resources for freedom from lock-ordering deadlocks across
// five files touched by a single ingest or purge.
func (m *MemorySystem) lockPath() string {
	return filepath.Join(m.cfg.Workspace, ".memstore")
}

// maybeFlushLocked flushes the WAL and saves shards/indexes/access
// counts once the configured WAL thresholds are crossed. Callers must
// already hold the workspace lock.
func (m *MemorySystem) maybeFlushLocked() error {
	if !m.wal.ShouldFlush() {
		return nil
	}

	return m.flushLocked()
}

// flushLocked unconditionally persists shards, indexes, and access
// counts, then truncates the WAL. Callers must already hold the
// workspace lock.
func (m *MemorySystem) flushLocked() error {
	if err := m.saveLocked(); err != nil {
		return err
	}

	if m.log != nil {
		m.log.Debug().Msg("flushing wal")
	}

	return m.wal.Flush()
}
