// Package version tracks file identity for optimistic concurrency:
// concurrency via mtime+size(+hash) snapshots, used by callers that
// need read-modify-write safety without holding a lock for the whole
// read.
package version

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"memstore/internal/filelock"
	"memstore/pkg/fs"
)

// ErrConflict is returned by Check (and surfaced by SafeUpdate after
// retries are exhausted) when the file changed since the snapshot was
// taken.
var ErrConflict = errors.New("version: conflict")

// ErrNotFound is returned by Snapshot/Check when the target file does
// not exist.
var ErrNotFound = errors.New("version: not found")

// DefaultRetries is the number of SafeUpdate attempts before giving up
// and returning ErrConflict.
const DefaultRetries = 3

// FileVersion is a point-in-time fingerprint of a file's content.
type FileVersion struct {
	ModTime time.Time
	Size    int64
	SHA256  []byte // nil unless hash was requested
}

// Equal reports whether two snapshots describe the same file content.
// SHA256 is only compared when both snapshots carry one.
func (v FileVersion) Equal(other FileVersion) bool {
	if !v.ModTime.Equal(other.ModTime) || v.Size != other.Size {
		return false
	}

	if v.SHA256 == nil || other.SHA256 == nil {
		return true
	}

	return bytes.Equal(v.SHA256, other.SHA256)
}

// Tracker snapshots and validates file versions against filesystem.
type Tracker struct {
	fs fs.FS
}

// New returns a Tracker backed by filesystem.
func New(filesystem fs.FS) *Tracker {
	return &Tracker{fs: filesystem}
}

// Snapshot returns the current FileVersion of path. If hash is true,
// the snapshot also includes a SHA256 of the file's content — stdlib
// crypto/sha256 is used here rather than the entry package's
// BLAKE2b-128, because this sub-field exists purely for optimistic
// concurrency collision-avoidance, not content identity, and no
// ecosystem library is more idiomatic for that than the standard
// library's own hash package.
func (t *Tracker) Snapshot(path string, hash bool) (FileVersion, error) {
	info, err := t.fs.Stat(path)
	if err != nil {
		return FileVersion{}, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}

	v := FileVersion{ModTime: info.ModTime(), Size: info.Size()}

	if hash {
		data, err := t.fs.ReadFile(path)
		if err != nil {
			return FileVersion{}, fmt.Errorf("version: read %s for hash: %w", path, err)
		}

		sum := sha256.Sum256(data)
		v.SHA256 = sum[:]
	}

	return v, nil
}

// Check returns ErrConflict if path's current version does not match
// snapshot.
func (t *Tracker) Check(path string, snapshot FileVersion) error {
	current, err := t.Snapshot(path, snapshot.SHA256 != nil)
	if err != nil {
		return err
	}

	if !current.Equal(snapshot) {
		return fmt.Errorf("%w: %s", ErrConflict, path)
	}

	return nil
}

// SafeUpdate performs a snapshot → read → apply → lock → re-check →
// write → unlock cycle, retrying up to DefaultRetries times on
// conflict. write is called only while the lock at
// lockPath is held and only after the re-check passes.
func (t *Tracker) SafeUpdate(
	locker *filelock.Locker,
	lockPath, dataPath string,
	read func() ([]byte, error),
	apply func(current []byte) ([]byte, error),
	write func(next []byte) error,
) error {
	var lastErr error

	for attempt := 0; attempt < DefaultRetries; attempt++ {
		snapshot, err := t.Snapshot(dataPath, false)
		notFound := errors.Is(err, ErrNotFound)

		if err != nil && !notFound {
			return err
		}

		current, err := read()
		if err != nil {
			return fmt.Errorf("version: safe update read: %w", err)
		}

		next, err := apply(current)
		if err != nil {
			return fmt.Errorf("version: safe update apply: %w", err)
		}

		lk, err := locker.LockWithTimeout(lockPath, 10*time.Second)
		if err != nil {
			return fmt.Errorf("version: safe update lock: %w", err)
		}

		recheckErr := func() error {
			if !notFound {
				if err := t.Check(dataPath, snapshot); err != nil {
					return err
				}
			}

			return write(next)
		}()

		closeErr := lk.Close()

		if recheckErr == nil {
			if closeErr != nil {
				return fmt.Errorf("version: safe update release lock: %w", closeErr)
			}

			return nil
		}

		if !errors.Is(recheckErr, ErrConflict) {
			return recheckErr
		}

		lastErr = recheckErr
	}

	return fmt.Errorf("version: safe update exhausted %d retries: %w", DefaultRetries, lastErr)
}
