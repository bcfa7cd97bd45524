package version_test

import (
	"errors"
	"path/filepath"
	"testing"

	"memstore/internal/filelock"
	"memstore/internal/version"
	"memstore/pkg/fs"
)

func TestCheck_DetectsConflictAfterExternalWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "shard.json")
	real := fs.NewReal()

	if err := real.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tracker := version.New(real)

	snap, err := tracker.Snapshot(path, true)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := real.WriteFile(path, []byte("v2-longer-content"), 0o644); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	err = tracker.Check(path, snap)
	if !errors.Is(err, version.ErrConflict) {
		t.Fatalf("Check err=%v, want ErrConflict", err)
	}
}

func TestSafeUpdate_AppliesWhenUnconflicted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "shard.json")
	lockPath := filepath.Join(dir, "shard.lock-target")
	real := fs.NewReal()

	if err := real.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tracker := version.New(real)
	locker := filelock.New()

	err := tracker.SafeUpdate(
		locker,
		lockPath,
		path,
		func() ([]byte, error) { return real.ReadFile(path) },
		func(current []byte) ([]byte, error) { return append(current, '2'), nil },
		func(next []byte) error { return real.WriteFile(path, next, 0o644) },
	)
	if err != nil {
		t.Fatalf("SafeUpdate: %v", err)
	}

	got, err := real.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "12" {
		t.Fatalf("content=%q, want %q", string(got), "12")
	}
}
