package entry_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"memstore/internal/entry"
)

func TestNew_SameContentSourceCreated_ProducesSameID(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := entry.New("Decided to use PostgreSQL for the database.", "meeting-notes", "strategic", entry.TypeFact, created)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b, err := entry.New("Decided   to use PostgreSQL for the database.  ", "meeting-notes", "strategic", entry.TypeFact, created)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.ID != b.ID {
		t.Fatalf("ids differ for whitespace-equivalent content: %q != %q", a.ID, b.ID)
	}
}

func TestNew_DifferentSource_ProducesDifferentID(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := entry.New("Decided to use PostgreSQL for the database.", "meeting-notes", "strategic", entry.TypeFact, created)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b, err := entry.New("Decided to use PostgreSQL for the database.", "slack", "strategic", entry.TypeFact, created)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.ID == b.ID {
		t.Fatalf("ids match for different sources")
	}
}

func TestNew_ContentBelowMinLength_Rejected(t *testing.T) {
	t.Parallel()

	_, err := entry.New("too short", "src", "general", entry.TypeFact, time.Now())
	if err == nil {
		t.Fatalf("expected ErrContentTooShort, got nil")
	}
}

func TestNew_InvalidMemoryType_Rejected(t *testing.T) {
	t.Parallel()

	_, err := entry.New("This content is definitely long enough.", "src", "general", entry.MemoryType("bogus"), time.Now())
	if err == nil {
		t.Fatalf("expected ErrInvalidMemoryType, got nil")
	}
}

func TestUnmarshalJSON_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	var e entry.MemoryEntry

	err := e.UnmarshalJSON([]byte(`{"hash":"abc","content":"x","unknown_field":true}`))
	if err == nil {
		t.Fatalf("expected error for unknown field, got nil")
	}
}

func TestAddTag_Deduplicates(t *testing.T) {
	t.Parallel()

	e := entry.MemoryEntry{}
	e.AddTag("foo")
	e.AddTag("foo")
	e.AddTag("bar")

	want := []string{"foo", "bar"}
	if diff := cmp.Diff(want, e.Tags); diff != "" {
		t.Fatalf("Tags mismatch (-want +got):\n%s", diff)
	}
}
