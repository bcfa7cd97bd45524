// Package atomicio provides crash-safe JSON persistence for shards,
// indexes, access counts, and the outcomes log.
//
// Grounded on calvinalkan-agent-task's pkg/fs.AtomicWriter for the
// heavy path (temp file + fsync + rename + directory fsync) and on the
// same repo's direct use of github.com/natefinch/atomic for the light
// single-file replace path, where a directory fsync is unnecessary
// because the caller already fsyncs the containing directory as part
// of a larger operation (WAL truncation after a flush).
package atomicio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	natomic "github.com/natefinch/atomic"

	"memstore/pkg/fs"
)

// ErrNotFound is returned by ReadJSON when path does not exist.
var ErrNotFound = errors.New("atomicio: not found")

// Writer persists JSON documents durably via temp-file-then-rename,
// so any I/O error aborts the
// write and the prior version of the target remains intact.
type Writer struct {
	fs     fs.FS
	atomic *fs.AtomicWriter
}

// New returns a Writer backed by filesystem.
func New(filesystem fs.FS) *Writer {
	return &Writer{fs: filesystem, atomic: fs.NewAtomicWriter(filesystem)}
}

// WriteJSON marshals v and writes it durably to path: temp file in the
// same directory, fsync, rename, directory fsync. On any failure the
// file at path is left untouched.
func (w *Writer) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	data = append(data, '\n')

	if err := w.atomic.WriteWithDefaults(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

// ReadJSON reads and decodes the JSON document at path into v. Returns
// ErrNotFound (wrapping the underlying os.ErrNotExist) if path does
// not exist.
func (w *Writer) ReadJSON(path string, v any) error {
	exists, err := w.fs.Exists(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	data, err := w.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

// TruncateAtomic atomically replaces the file at path with empty
// content, used by the WAL manager to clear pending records after a
// successful flush without needing the heavier directory-fsync path
// (the flush that preceded this call already persisted the durable
// state the WAL was protecting).
func TruncateAtomic(path string) error {
	if err := natomic.WriteFile(path, bytes.NewReader(nil)); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}

	return nil
}

// ReplaceAtomic atomically rewrites path with data, for the same
// reason TruncateAtomic avoids the directory-fsync path: the WAL
// rewrites its own file in place after the caller has already made
// the relevant state durable elsewhere (removing forgotten/purged ids
// from pending records).
func ReplaceAtomic(path string, data []byte) error {
	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}
