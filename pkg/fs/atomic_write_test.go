package fs_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"memstore/pkg/fs"
)

const testContentHello = "hello, durable world"

func TestAtomicWriteFile_VisibleAfterWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader(testContentHello))
	if err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := fs.NewReal().ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != testContentHello {
		t.Fatalf("content=%q, want %q", string(got), testContentHello)
	}
}

func TestAtomicWriteFile_AbortsOnRenameFailure_LeavesPriorVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	real := fs.NewReal()
	if err := real.WriteFile(path, []byte("prior"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	injected := errors.New("injected rename failure")
	faulty := fs.NewFault(real)
	faulty.FailOnce("rename", "final.txt", injected)

	writer := fs.NewAtomicWriter(faulty)

	err := writer.WriteWithDefaults(path, strings.NewReader(testContentHello))
	if err == nil || !errors.Is(err, injected) {
		t.Fatalf("err=%v, want wrapping %v", err, injected)
	}

	got, err := real.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "prior" {
		t.Fatalf("content=%q, want prior version preserved", string(got))
	}
}
