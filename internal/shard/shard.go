// Package shard routes entries to month/category buckets: entries are
// routed to a shard keyed by (YYYY-MM of created, category) and
// persisted as one JSON document per shard, loaded lazily and saved
// only when dirty.
package shard

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"memstore/internal/atomicio"
	"memstore/internal/entry"
)

// DefaultMaxBytes is the approximate shard size above which Compact
// reports a shard as oversize. Oversize shards are only reported;
// nothing splits them.
const DefaultMaxBytes = 2 << 20

// ErrCorrupt is returned when an id known in-memory has no backing
// shard file.
var ErrCorrupt = errors.New("shard: corrupt")

// Key identifies a shard by its (month, category) pair.
type Key struct {
	Month    string // "YYYY-MM"
	Category string
}

// FileName returns the shard's on-disk file name, "<YYYY-MM>-<category>.json".
func (k Key) FileName() string {
	return fmt.Sprintf("%s-%s.json", k.Month, k.Category)
}

// KeyOf computes the shard key for e.
func KeyOf(e entry.MemoryEntry) Key {
	return Key{Month: e.MonthKey(), Category: e.Category}
}

// ParseFileName parses a shard file name ("<YYYY-MM>-<category>.json")
// back into its Key, used when enumerating shards/ at startup. Returns
// ok=false for any name that doesn't match the shape (e.g. a stray
// non-shard file left in the directory).
func ParseFileName(name string) (Key, bool) {
	const ext = ".json"

	if !strings.HasSuffix(name, ext) || len(name) <= len("YYYY-MM-")+len(ext) {
		return Key{}, false
	}

	base := strings.TrimSuffix(name, ext)

	if len(base) < 7 || base[4] != '-' {
		return Key{}, false
	}

	month := base[:7]
	if len(base) < 9 || base[7] != '-' {
		return Key{}, false
	}

	category := base[8:]
	if category == "" {
		return Key{}, false
	}

	return Key{Month: month, Category: category}, true
}

// Manager owns the shard directory and the set of loaded shards.
type Manager struct {
	io  *atomicio.Writer
	dir string

	mu     sync.Mutex
	shards map[Key]map[string]entry.MemoryEntry // loaded buckets, id -> entry
	dirty  map[Key]bool
}

// New returns a Manager rooted at dir ("<workspace>/shards").
func New(writer *atomicio.Writer, dir string) *Manager {
	return &Manager{
		io:     writer,
		dir:    dir,
		shards: make(map[Key]map[string]entry.MemoryEntry),
		dirty:  make(map[Key]bool),
	}
}

func (m *Manager) path(k Key) string {
	return filepath.Join(m.dir, k.FileName())
}

// Load lazily loads the shard for k if not already resident, reading
// its JSON document from disk. A missing file is treated as an empty
// shard (not an error): the bucket simply has no entries yet.
func (m *Manager) Load(k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loadLocked(k)
}

func (m *Manager) loadLocked(k Key) error {
	if _, ok := m.shards[k]; ok {
		return nil
	}

	var doc []entry.MemoryEntry
	if err := m.io.ReadJSON(m.path(k), &doc); err != nil {
		if errors.Is(err, atomicio.ErrNotFound) {
			m.shards[k] = make(map[string]entry.MemoryEntry)
			return nil
		}

		return fmt.Errorf("shard: load %s: %w", k.FileName(), err)
	}

	bucket := make(map[string]entry.MemoryEntry, len(doc))
	for _, e := range doc {
		bucket[e.ID] = e
	}

	m.shards[k] = bucket

	return nil
}

// Put inserts or replaces e in its shard (loading the shard first if
// necessary) and marks it dirty.
func (m *Manager) Put(e entry.MemoryEntry) error {
	k := KeyOf(e)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(k); err != nil {
		return err
	}

	m.shards[k][e.ID] = e
	m.dirty[k] = true

	return nil
}

// Get returns the entry for id within shard k, and whether it was
// found. ErrCorrupt is returned if k cannot be loaded — the caller
// already believes id lives there.
func (m *Manager) Get(k Key, id string) (entry.MemoryEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(k); err != nil {
		return entry.MemoryEntry{}, false, fmt.Errorf("%w: %s: %w", ErrCorrupt, k.FileName(), err)
	}

	e, ok := m.shards[k][id]

	return e, ok, nil
}

// Delete removes id from shard k and marks it dirty. A no-op if id is
// absent, so replaying a delete is always safe.
func (m *Manager) Delete(k Key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(k); err != nil {
		return err
	}

	if _, ok := m.shards[k][id]; !ok {
		return nil
	}

	delete(m.shards[k], id)
	m.dirty[k] = true

	return nil
}

// All returns every loaded entry across all resident shards. Callers
// that need the full authoritative map should ensure all shards are
// loaded first (e.g. via LoadAll at startup).
func (m *Manager) All() map[string]entry.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]entry.MemoryEntry)

	for _, bucket := range m.shards {
		for id, e := range bucket {
			out[id] = e
		}
	}

	return out
}

// Keys returns the sorted set of loaded shard keys.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]Key, 0, len(m.shards))
	for k := range m.shards {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Month != keys[j].Month {
			return keys[i].Month < keys[j].Month
		}

		return keys[i].Category < keys[j].Category
	})

	return keys
}

// Save persists every shard marked dirty, as a JSON array sorted by
// id for deterministic diffs, and clears the dirty flags written.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, isDirty := range m.dirty {
		if !isDirty {
			continue
		}

		bucket := m.shards[k]

		doc := make([]entry.MemoryEntry, 0, len(bucket))
		for _, e := range bucket {
			doc = append(doc, e)
		}

		sort.Slice(doc, func(i, j int) bool { return doc[i].ID < doc[j].ID })

		if err := m.io.WriteJSON(m.path(k), doc); err != nil {
			return fmt.Errorf("shard: save %s: %w", k.FileName(), err)
		}

		m.dirty[k] = false
	}

	return nil
}

// ByteSize returns the approximate in-memory JSON size of shard k's
// bucket, used by Compact to report shards that exceed
// DefaultMaxBytes.
func (m *Manager) ByteSize(k Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(k); err != nil {
		return 0, err
	}

	size := 0

	for _, e := range m.shards[k] {
		size += len(e.Content) + len(e.Source) + len(e.Category) + 64
	}

	return size, nil
}
