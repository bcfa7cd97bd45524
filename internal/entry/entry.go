// Package entry defines the MemoryEntry record and the rules for
// normalizing and identifying it.
//
// Entries have a fixed, closed schema rather than a dynamic
// attribute dictionary; unknown keys are rejected on load.
package entry

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// MemoryType enumerates the closed set of memory kinds.
type MemoryType string

const (
	TypeEpisodic   MemoryType = "episodic"
	TypeFact       MemoryType = "fact"
	TypePreference MemoryType = "preference"
	TypeProcedure  MemoryType = "procedure"
	TypeMistake    MemoryType = "mistake"
)

var validMemoryTypes = map[MemoryType]bool{
	TypeEpisodic:   true,
	TypeFact:       true,
	TypePreference: true,
	TypeProcedure:  true,
	TypeMistake:    true,
}

// Valid reports whether t is one of the closed memory_type values.
func (t MemoryType) Valid() bool { return validMemoryTypes[t] }

// MinContentLen is the default ingest threshold.
// Content shorter than this is silently dropped at ingest.
const MinContentLen = 15

// DefaultImportance is the importance assigned to a freshly ingested entry.
const DefaultImportance = 1.0

// ErrContentTooShort is returned by Normalize when content falls below
// the minimum length after normalization.
var ErrContentTooShort = errors.New("content too short")

// ErrInvalidMemoryType is returned when MemoryType is not one of the
// closed set of values.
var ErrInvalidMemoryType = errors.New("invalid memory_type")

// MemoryEntry is the persisted unit of memory. Content, Source, and
// Created are immutable after ingest; Importance, Confidence, Tags,
// Sentiment, AccessCount, and LastAccessed mutate through feedback,
// access reinforcement, and consolidation merges.
type MemoryEntry struct {
	ID           string             `json:"hash"`
	Content      string             `json:"content"`
	Source       string             `json:"source"`
	Category     string             `json:"category"`
	MemoryType   MemoryType         `json:"memory_type"`
	Created      time.Time          `json:"created"`
	Importance   float64            `json:"importance"`
	Confidence   float64            `json:"confidence"`
	Tags         []string           `json:"tags"`
	Sentiment    map[string]float64 `json:"sentiment"`
	AccessCount  int                `json:"access_count"`
	LastAccessed *time.Time         `json:"last_accessed"`
}

// Normalize collapses whitespace and trims content so that equivalent
// inputs hash to the same id. Returns ErrContentTooShort if the
// normalized content is below MinContentLen runes.
func Normalize(content string) (string, error) {
	fields := strings.Fields(content)
	normalized := strings.Join(fields, " ")

	if len([]rune(normalized)) < MinContentLen {
		return "", fmt.Errorf("%w: %d runes, want >= %d", ErrContentTooShort, len([]rune(normalized)), MinContentLen)
	}

	return normalized, nil
}

// ID computes the entry's identity, a 128-bit BLAKE2b content hash
// of normalized content, source, and the
// created timestamp. Re-ingesting identical (content, source, created)
// triples is idempotent because the id is a pure function of them.
func ID(normalizedContent, source string, created time.Time) (string, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", fmt.Errorf("new blake2b-128: %w", err)
	}

	h.Write([]byte(normalizedContent))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(created.UTC().Format(time.RFC3339Nano)))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// New builds a MemoryEntry from raw ingest inputs, normalizing content
// and computing its id. Created is truncated to the instant passed by
// the caller so the id is deterministic for retries within the same
// ingest call.
func New(content, source, category string, memoryType MemoryType, created time.Time) (MemoryEntry, error) {
	if !memoryType.Valid() {
		return MemoryEntry{}, fmt.Errorf("%w: %q", ErrInvalidMemoryType, memoryType)
	}

	normalized, err := Normalize(content)
	if err != nil {
		return MemoryEntry{}, err
	}

	created = created.UTC()

	id, err := ID(normalized, source, created)
	if err != nil {
		return MemoryEntry{}, err
	}

	return MemoryEntry{
		ID:         id,
		Content:    normalized,
		Source:     source,
		Category:   category,
		MemoryType: memoryType,
		Created:    created,
		Importance: DefaultImportance,
		Confidence: 1.0,
		Tags:       nil,
		Sentiment:  nil,
	}, nil
}

// SortedTags returns a sorted copy of e.Tags, used wherever tag order
// must be deterministic (persistence, indexing, diffing).
func (e MemoryEntry) SortedTags() []string {
	out := append([]string(nil), e.Tags...)
	sort.Strings(out)

	return out
}

// HasTag reports whether e carries tag, case-sensitively.
func (e MemoryEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// AddTag adds tag to e if not already present.
func (e *MemoryEntry) AddTag(tag string) {
	if e.HasTag(tag) {
		return
	}

	e.Tags = append(e.Tags, tag)
}

// MonthKey returns the YYYY-MM bucket this entry's Created timestamp
// falls into, used by the shard router.
func (e MemoryEntry) MonthKey() string {
	return e.Created.UTC().Format("2006-01")
}

// DayKey returns the YYYY-MM-DD bucket used by the date index
// bucket.
func (e MemoryEntry) DayKey() string {
	return e.Created.UTC().Format("2006-01-02")
}

// strictUnmarshal decodes data into v, rejecting unknown JSON keys per
// so schema drift surfaces as a load error instead of silent loss.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	return nil
}

// UnmarshalJSON implements strict decoding for MemoryEntry, rejecting
// unrecognized fields so a corrupted or hand-edited shard fails loudly
// instead of silently dropping data.
func (e *MemoryEntry) UnmarshalJSON(data []byte) error {
	type wire MemoryEntry

	var w wire
	if err := strictUnmarshal(data, &w); err != nil {
		return err
	}

	*e = MemoryEntry(w)

	return nil
}
