// Package index maintains the three inverted indexes: three
// inverted indexes (text, tag, date) derived from the authoritative
// entry map, each persisted as a single JSON document. Posting lists
// are written as sorted `[id, tf]` arrays (text) or sorted id arrays
// (tag/date) so on-disk diffs stay reviewable and rebuilds
// deterministic.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"memstore/internal/atomicio"
	"memstore/internal/entry"
)

// Posting is one (id, term-frequency) pair in a TextIndex posting
// list, marshaled as a 2-element JSON array for compactness.
type Posting struct {
	ID string
	TF int
}

// MarshalJSON renders p as `[id, tf]`.
func (p Posting) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.ID, p.TF})
}

// UnmarshalJSON parses p from `[id, tf]`.
func (p *Posting) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode posting: %w", err)
	}

	if err := json.Unmarshal(pair[0], &p.ID); err != nil {
		return fmt.Errorf("decode posting id: %w", err)
	}

	if err := json.Unmarshal(pair[1], &p.TF); err != nil {
		return fmt.Errorf("decode posting tf: %w", err)
	}

	return nil
}

// Counts is the rebuild-count shape returned by Rebuild, matching
// the per-index entry totals.
type Counts struct {
	Terms int
	Tags  int
	Days  int
}

// Manager owns the three inverted indexes and their on-disk JSON
// documents.
type Manager struct {
	io       *atomicio.Writer
	textPath string
	tagPath  string
	datePath string

	mu   sync.RWMutex
	text map[string]map[string]int  // term -> id -> tf
	tag  map[string]map[string]bool // tag -> set<id>
	day  map[string]map[string]bool // YYYY-MM-DD -> set<id>

	textDirty bool
	tagDirty  bool
	dayDirty  bool
}

// New returns a Manager persisting to the three given paths.
func New(writer *atomicio.Writer, textPath, tagPath, datePath string) *Manager {
	return &Manager{
		io:       writer,
		textPath: textPath,
		tagPath:  tagPath,
		datePath: datePath,
		text:     make(map[string]map[string]int),
		tag:      make(map[string]map[string]bool),
		day:      make(map[string]map[string]bool),
	}
}

// Load reads the three index documents from disk, tolerating any of
// them being absent (a fresh workspace).
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	textDoc := make(map[string][]Posting)
	if err := readOrEmpty(m.io, m.textPath, &textDoc); err != nil {
		return err
	}

	m.text = make(map[string]map[string]int, len(textDoc))
	for term, postings := range textDoc {
		ids := make(map[string]int, len(postings))
		for _, p := range postings {
			ids[p.ID] = p.TF
		}

		m.text[term] = ids
	}

	tagDoc := make(map[string][]string)
	if err := readOrEmpty(m.io, m.tagPath, &tagDoc); err != nil {
		return err
	}

	m.tag = setsFromDoc(tagDoc)

	dayDoc := make(map[string][]string)
	if err := readOrEmpty(m.io, m.datePath, &dayDoc); err != nil {
		return err
	}

	m.day = setsFromDoc(dayDoc)

	return nil
}

func setsFromDoc(doc map[string][]string) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(doc))

	for key, ids := range doc {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}

		out[key] = set
	}

	return out
}

func readOrEmpty(w *atomicio.Writer, path string, v any) error {
	if err := w.ReadJSON(path, v); err != nil {
		if errors.Is(err, atomicio.ErrNotFound) {
			return nil
		}

		return err
	}

	return nil
}

// Save persists any index that has changed since the last Save.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.textDirty {
		if err := m.io.WriteJSON(m.textPath, textDoc(m.text)); err != nil {
			return fmt.Errorf("index: save text: %w", err)
		}

		m.textDirty = false
	}

	if m.tagDirty {
		if err := m.io.WriteJSON(m.tagPath, setDoc(m.tag)); err != nil {
			return fmt.Errorf("index: save tag: %w", err)
		}

		m.tagDirty = false
	}

	if m.dayDirty {
		if err := m.io.WriteJSON(m.datePath, setDoc(m.day)); err != nil {
			return fmt.Errorf("index: save date: %w", err)
		}

		m.dayDirty = false
	}

	return nil
}

func textDoc(text map[string]map[string]int) map[string][]Posting {
	doc := make(map[string][]Posting, len(text))

	for term, ids := range text {
		postings := make([]Posting, 0, len(ids))
		for id, tf := range ids {
			postings = append(postings, Posting{ID: id, TF: tf})
		}

		sort.Slice(postings, func(i, j int) bool { return postings[i].ID < postings[j].ID })
		doc[term] = postings
	}

	return doc
}

func setDoc(sets map[string]map[string]bool) map[string][]string {
	doc := make(map[string][]string, len(sets))

	for key, ids := range sets {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}

		sort.Strings(list)
		doc[key] = list
	}

	return doc
}

// Add indexes e: its tokenized content into the text index, its tags
// into the tag index, its day bucket into the date index.
func (m *Manager) Add(e entry.MemoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for term, tf := range TermFreqs(e.Content) {
		ids, ok := m.text[term]
		if !ok {
			ids = make(map[string]int)
			m.text[term] = ids
		}

		ids[e.ID] = tf
	}

	for _, tag := range e.Tags {
		set, ok := m.tag[tag]
		if !ok {
			set = make(map[string]bool)
			m.tag[tag] = set
		}

		set[e.ID] = true
	}

	day := e.DayKey()

	set, ok := m.day[day]
	if !ok {
		set = make(map[string]bool)
		m.day[day] = set
	}

	set[e.ID] = true

	m.textDirty, m.tagDirty, m.dayDirty = true, true, true
}

// Remove deindexes e (the caller supplies the entry that was removed,
// since the index itself holds no reverse id→terms map).
func (m *Manager) Remove(e entry.MemoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for term := range TermFreqs(e.Content) {
		if ids, ok := m.text[term]; ok {
			delete(ids, e.ID)

			if len(ids) == 0 {
				delete(m.text, term)
			}
		}
	}

	for _, tag := range e.Tags {
		if set, ok := m.tag[tag]; ok {
			delete(set, e.ID)

			if len(set) == 0 {
				delete(m.tag, tag)
			}
		}
	}

	day := e.DayKey()
	if set, ok := m.day[day]; ok {
		delete(set, e.ID)

		if len(set) == 0 {
			delete(m.day, day)
		}
	}

	m.textDirty, m.tagDirty, m.dayDirty = true, true, true
}

// Rebuild reconstructs all three indexes from entries, the
// authoritative entry map, and marks all indexes dirty for the next
// Save. Returns counts of distinct terms, tags, and day buckets.
func (m *Manager) Rebuild(entries map[string]entry.MemoryEntry) Counts {
	m.mu.Lock()
	m.text = make(map[string]map[string]int)
	m.tag = make(map[string]map[string]bool)
	m.day = make(map[string]map[string]bool)
	m.mu.Unlock()

	for _, e := range entries {
		m.Add(e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return Counts{Terms: len(m.text), Tags: len(m.tag), Days: len(m.day)}
}

// Postings returns a copy of the id→tf posting list for term.
func (m *Manager) Postings(term string) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.text[term]
	out := make(map[string]int, len(ids))

	for id, tf := range ids {
		out[id] = tf
	}

	return out
}

// IDsForTag returns the set of ids tagged tag.
func (m *Manager) IDsForTag(tag string) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copySet(m.tag[tag])
}

// IDsForDay returns the set of ids whose day bucket is day
// ("YYYY-MM-DD").
func (m *Manager) IDsForDay(day string) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copySet(m.day[day])
}

func copySet(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for id := range set {
		out[id] = true
	}

	return out
}
