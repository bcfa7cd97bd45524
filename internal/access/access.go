// Package access tracks read reinforcement: per-entry
// access counts and last-accessed timestamps, updated in batches at
// the end of each search call and persisted under lock using
// AtomicIO.
package access

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"memstore/internal/atomicio"
	"memstore/internal/clock"
)

// record is the persisted shape for one entry's access stats.
type record struct {
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Tracker holds access_counts.json for a workspace.
type Tracker struct {
	io    *atomicio.Writer
	path  string
	clock clock.Clock

	mu      sync.Mutex
	records map[string]record
	dirty   bool
}

// New returns a Tracker persisting to path ("<workspace>/access_counts.json").
func New(writer *atomicio.Writer, path string, c clock.Clock) *Tracker {
	return &Tracker{
		io:      writer,
		path:    path,
		clock:   c,
		records: make(map[string]record),
	}
}

// Load reads access_counts.json, tolerating its absence.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := make(map[string]record)

	if err := t.io.ReadJSON(t.path, &doc); err != nil {
		if errors.Is(err, atomicio.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("access: load: %w", err)
	}

	t.records = doc

	return nil
}

// Save persists access_counts.json if it has changed since the last
// Save.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return nil
	}

	if err := t.io.WriteJSON(t.path, t.records); err != nil {
		return fmt.Errorf("access: save: %w", err)
	}

	t.dirty = false

	return nil
}

// Reinforce increments the access count and bumps last_accessed for
// every id in hits. Called in a single batch at the end of a search,
// not per result.
func (t *Tracker) Reinforce(hits []string) {
	if len(hits) == 0 {
		return
	}

	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range hits {
		r := t.records[id]
		r.AccessCount++
		r.LastAccessed = now
		t.records[id] = r
	}

	t.dirty = true
}

// Stats returns the current access count and last-accessed time for
// id, and whether any record exists.
func (t *Tracker) Stats(id string) (count int, lastAccessed time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[id]

	return r.AccessCount, r.LastAccessed, ok
}

// Transfer folds fromID's access record into toID's and removes
// fromID, keeping the larger access count and the most recent
// last-accessed time. Used when a consolidation merge drops an entry
// so its read history survives on the kept entry.
func (t *Tracker) Transfer(fromID, toID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.records[fromID]
	if !ok {
		return
	}

	to := t.records[toID]

	if from.AccessCount > to.AccessCount {
		to.AccessCount = from.AccessCount
	}

	if from.LastAccessed.After(to.LastAccessed) {
		to.LastAccessed = from.LastAccessed
	}

	t.records[toID] = to
	delete(t.records, fromID)
	t.dirty = true
}

// Forget removes id's access record, used by forget/purge to keep
// access_counts.json from accumulating entries for deleted ids.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[id]; ok {
		delete(t.records, id)
		t.dirty = true
	}
}
