package atomicio_test

import (
	"errors"
	"path/filepath"
	"testing"

	"memstore/internal/atomicio"
	"memstore/pkg/fs"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSON_ReadJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	w := atomicio.New(fs.NewReal())

	want := doc{Name: "alpha", Count: 3}
	if err := w.WriteJSON(path, want); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var got doc
	if err := w.ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}

	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadJSON_MissingFile_ReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := atomicio.New(fs.NewReal())

	var got doc
	err := w.ReadJSON(filepath.Join(dir, "missing.json"), &got)
	if !errors.Is(err, atomicio.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestWriteJSON_FailedRename_LeavesPriorVersionIntact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	real := fs.NewReal()

	w := atomicio.New(real)
	if err := w.WriteJSON(path, doc{Name: "first", Count: 1}); err != nil {
		t.Fatalf("seed WriteJSON: %v", err)
	}

	faulty := fs.NewFault(real)
	faulty.FailOnce("rename", "doc.json", errors.New("injected"))

	err := atomicio.New(faulty).WriteJSON(path, doc{Name: "second", Count: 2})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	var got doc
	if err := w.ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON after failed write: %v", err)
	}

	if got.Name != "first" {
		t.Fatalf("got %+v, want prior version preserved", got)
	}
}

func TestTruncateAtomic_ClearsFileContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pending.jsonl")
	real := fs.NewReal()

	if err := real.WriteFile(path, []byte("some pending line\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := atomicio.TruncateAtomic(path); err != nil {
		t.Fatalf("TruncateAtomic: %v", err)
	}

	data, err := real.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if len(data) != 0 {
		t.Fatalf("content len=%d, want 0", len(data))
	}
}
