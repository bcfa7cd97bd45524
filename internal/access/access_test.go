package access_test

import (
	"path/filepath"
	"testing"
	"time"

	"memstore/internal/access"
	"memstore/internal/atomicio"
	"memstore/internal/clock"
	"memstore/pkg/fs"
)

func TestReinforce_IncrementsCountAndSetsLastAccessed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mc := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	tr := access.New(atomicio.New(fs.NewReal()), filepath.Join(dir, "access_counts.json"), mc)

	tr.Reinforce([]string{"a", "b", "a"})

	count, last, ok := tr.Stats("a")
	if !ok || count != 2 {
		t.Fatalf("Stats(a)=%d,%v,%v, want count 2", count, last, ok)
	}

	if !last.Equal(mc.Now()) {
		t.Fatalf("LastAccessed=%v, want %v", last, mc.Now())
	}

	countB, _, ok := tr.Stats("b")
	if !ok || countB != 1 {
		t.Fatalf("Stats(b) count=%d, want 1", countB)
	}
}

func TestSave_Load_RoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "access_counts.json")
	real := fs.NewReal()
	mc := clock.NewManual(time.Now())

	tr := access.New(atomicio.New(real), path, mc)
	tr.Reinforce([]string{"a"})

	if err := tr.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh := access.New(atomicio.New(real), path, mc)
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	count, _, ok := fresh.Stats("a")
	if !ok || count != 1 {
		t.Fatalf("after round-trip Stats(a)=%d,%v, want 1,true", count, ok)
	}
}

func TestTransfer_FoldsRecordIntoTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mc := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	tr := access.New(atomicio.New(fs.NewReal()), filepath.Join(dir, "access_counts.json"), mc)

	tr.Reinforce([]string{"drop", "drop", "drop"})
	mc.Advance(time.Hour)
	tr.Reinforce([]string{"keep"})

	tr.Transfer("drop", "keep")

	count, last, ok := tr.Stats("keep")
	if !ok || count != 3 {
		t.Fatalf("Stats(keep) count=%d, want 3 (max of both records)", count)
	}

	if !last.Equal(mc.Now()) {
		t.Fatalf("LastAccessed=%v, want the more recent %v", last, mc.Now())
	}

	if _, _, ok := tr.Stats("drop"); ok {
		t.Fatalf("Stats(drop) still present after Transfer")
	}
}

func TestForget_RemovesRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mc := clock.NewManual(time.Now())
	tr := access.New(atomicio.New(fs.NewReal()), filepath.Join(dir, "access_counts.json"), mc)

	tr.Reinforce([]string{"a"})
	tr.Forget("a")

	if _, _, ok := tr.Stats("a"); ok {
		t.Fatalf("Stats(a) found after Forget, want absent")
	}
}

func TestLoad_MissingFile_IsNotAnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mc := clock.NewManual(time.Now())
	tr := access.New(atomicio.New(fs.NewReal()), filepath.Join(dir, "access_counts.json"), mc)

	if err := tr.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
}
