package fs

import (
	"os"
	"path/filepath"
	"sync"
)

// Fault wraps an [FS] and injects errors for calls matching a configured
// path/operation predicate. It exists so crash-safety tests (WAL replay,
// atomic write abort) can exercise the "I/O error mid-write" branches
// without mocking the whole filesystem.
//
// Fault is safe for concurrent use.
type Fault struct {
	inner FS

	mu   sync.Mutex
	fail func(op string, path string) error
}

// NewFault wraps inner with no injected faults. Use [Fault.FailOnce] or
// [Fault.FailWhen] to arm a failure.
func NewFault(inner FS) *Fault {
	return &Fault{inner: inner}
}

// FailWhen arms a predicate: every call whose operation name and path
// satisfy match returns err instead of reaching inner. Passing a nil
// predicate disarms fault injection.
func (f *Fault) FailWhen(match func(op, path string) bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if match == nil {
		f.fail = nil
		return
	}

	f.fail = func(op, path string) error {
		if match(op, path) {
			return err
		}
		return nil
	}
}

// FailOnce arms a single failure for the next call matching op and a path
// with the given suffix, then disarms itself.
func (f *Fault) FailOnce(op, pathSuffix string, err error) {
	var triggered bool

	f.FailWhen(func(gotOp, path string) bool {
		if triggered || gotOp != op || !hasSuffix(path, pathSuffix) {
			return false
		}

		triggered = true

		return true
	}, err)
}

func hasSuffix(path, suffix string) bool {
	return len(path) >= len(suffix) && filepath.Clean(path)[len(filepath.Clean(path))-len(suffix):] == suffix
}

func (f *Fault) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail == nil {
		return nil
	}

	return f.fail(op, path)
}

func (f *Fault) Open(path string) (File, error) {
	if err := f.check("open", path); err != nil {
		return nil, err
	}
	return f.inner.Open(path)
}

func (f *Fault) Create(path string) (File, error) {
	if err := f.check("create", path); err != nil {
		return nil, err
	}
	return f.inner.Create(path)
}

func (f *Fault) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check("openfile", path); err != nil {
		return nil, err
	}
	return f.inner.OpenFile(path, flag, perm)
}

func (f *Fault) ReadFile(path string) ([]byte, error) {
	if err := f.check("readfile", path); err != nil {
		return nil, err
	}
	return f.inner.ReadFile(path)
}

func (f *Fault) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := f.check("writefile", path); err != nil {
		return err
	}
	return f.inner.WriteFile(path, data, perm)
}

func (f *Fault) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.check("readdir", path); err != nil {
		return nil, err
	}
	return f.inner.ReadDir(path)
}

func (f *Fault) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check("mkdirall", path); err != nil {
		return err
	}
	return f.inner.MkdirAll(path, perm)
}

func (f *Fault) Stat(path string) (os.FileInfo, error) {
	if err := f.check("stat", path); err != nil {
		return nil, err
	}
	return f.inner.Stat(path)
}

func (f *Fault) Exists(path string) (bool, error) {
	if err := f.check("exists", path); err != nil {
		return false, err
	}
	return f.inner.Exists(path)
}

func (f *Fault) Remove(path string) error {
	if err := f.check("remove", path); err != nil {
		return err
	}
	return f.inner.Remove(path)
}

func (f *Fault) RemoveAll(path string) error {
	if err := f.check("removeall", path); err != nil {
		return err
	}
	return f.inner.RemoveAll(path)
}

func (f *Fault) Rename(oldpath, newpath string) error {
	if err := f.check("rename", newpath); err != nil {
		return err
	}
	return f.inner.Rename(oldpath, newpath)
}

var _ FS = (*Fault)(nil)
