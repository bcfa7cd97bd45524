// Package forget implements selective deletion: the
// matching logic and audit trail shared by forget() and purge().
// Both enumerate matching entries with their criteria OR-combined,
// remove them from the authoritative entry map, the indexes, and any
// pending WAL records, then append one audit record per operation.
// Package forget only selects and records; the caller (the facade)
// owns the shard/index/WAL managers it instructs to remove the match.
package forget

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"memstore/internal/atomicio"
	"memstore/internal/entry"
	"memstore/pkg/fs"
)

// ForgetCriteria selects entries for forget(). At least one field
// must be non-zero; criteria are OR-combined.
type ForgetCriteria struct {
	Entity     string // matched against content, case-insensitively
	Topic      string // matched against content or tags, case-insensitively
	BeforeDate time.Time
	ID         string
}

// PurgeCriteria selects entries for purge(). Predicate, when set, is
// applied in addition to the OR of the other fields.
type PurgeCriteria struct {
	Source          string
	ContentContains string
	Predicate       func(entry.MemoryEntry) bool
}

// AuditRecord is one line of the append-only audit log, recording a
// destructive operation.
type AuditRecord struct {
	Op    string    `json:"op"`
	IDs   []string  `json:"ids"`
	Count int       `json:"count"`
	Ts    time.Time `json:"ts"`
}

// Log appends one AuditRecord per forget/purge call to the audit log.
// Grounded on internal/wal's append-only JSONL shape, minus flush/
// replay: the audit log is pure history, never truncated.
type Log struct {
	fs   fs.FS
	path string
}

// NewLog returns a Log persisting to path (the facade passes
// "<workspace>/memory_audit.jsonl").
func NewLog(filesystem fs.FS, path string) *Log {
	return &Log{fs: filesystem, path: path}
}

// Append writes r as one JSON line to the existing log content,
// atomically replacing the file so a crash mid-append cannot leave a
// torn audit record.
func (l *Log) Append(r AuditRecord) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("forget: marshal audit record: %w", err)
	}

	line = append(line, '\n')

	existing, err := l.readExisting()
	if err != nil {
		return err
	}

	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("forget: mkdir: %w", err)
	}

	if err := atomicio.ReplaceAtomic(l.path, append(existing, line...)); err != nil {
		return fmt.Errorf("forget: append audit: %w", err)
	}

	return nil
}

func (l *Log) readExisting() ([]byte, error) {
	exists, err := l.fs.Exists(l.path)
	if err != nil {
		return nil, fmt.Errorf("forget: stat audit log: %w", err)
	}

	if !exists {
		return nil, nil
	}

	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("forget: read audit log: %w", err)
	}

	return data, nil
}

// MatchForget reports whether e satisfies any of c's non-zero fields,
// with the criteria OR-combined.
func MatchForget(e entry.MemoryEntry, c ForgetCriteria) bool {
	matched := false

	if c.Entity != "" {
		matched = matched || containsFold(e.Content, c.Entity)
	}

	if c.Topic != "" {
		matched = matched || containsFold(e.Content, c.Topic)

		for _, tag := range e.Tags {
			matched = matched || strings.EqualFold(tag, c.Topic)
		}
	}

	if !c.BeforeDate.IsZero() {
		matched = matched || e.Created.Before(c.BeforeDate)
	}

	if c.ID != "" {
		matched = matched || e.ID == c.ID
	}

	return matched
}

// MatchPurge reports whether e satisfies any of c's non-zero fields
// plus, if set, c.Predicate, all OR-combined.
func MatchPurge(e entry.MemoryEntry, c PurgeCriteria) bool {
	matched := false

	if c.Source != "" {
		matched = matched || strings.EqualFold(e.Source, c.Source)
	}

	if c.ContentContains != "" {
		matched = matched || containsFold(e.Content, c.ContentContains)
	}

	if c.Predicate != nil {
		matched = matched || c.Predicate(e)
	}

	return matched
}

// SelectForget returns the sorted ids in entries matching c.
func SelectForget(entries map[string]entry.MemoryEntry, c ForgetCriteria) []string {
	return selectMatching(entries, func(e entry.MemoryEntry) bool { return MatchForget(e, c) })
}

// SelectPurge returns the sorted ids in entries matching c.
func SelectPurge(entries map[string]entry.MemoryEntry, c PurgeCriteria) []string {
	return selectMatching(entries, func(e entry.MemoryEntry) bool { return MatchPurge(e, c) })
}

func selectMatching(entries map[string]entry.MemoryEntry, match func(entry.MemoryEntry) bool) []string {
	ids := make([]string, 0)

	for id, e := range entries {
		if match(e) {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
