// Package filelock implements a cross-process advisory lock: a
// directory created with the filesystem's atomic mkdir, holding a
// holder.json describing the current owner. Directory mkdir is used
// instead of flock because the lock has to work over network
// filesystems, where mkdir is the only reliable atomic primitive and
// flock semantics are undependable.
//
// The public shape is a Locker with Lock/TryLock/LockWithTimeout and
// a scoped *Lock with an idempotent Close.
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"memstore/internal/clock"
)

// ErrWouldBlock is returned by TryLock when the lock is held by
// another live holder.
var ErrWouldBlock = errors.New("filelock: would block")

// ErrLockTimeout is returned by LockWithTimeout when the timeout
// expires before the lock could be acquired.
var ErrLockTimeout = errors.New("filelock: timed out acquiring lock")

// DefaultStaleAge is the age (the stale_lock_age_s default) after which
// a held lock is considered abandoned and may be broken.
const DefaultStaleAge = 300 * time.Second

const holderFileName = "holder.json"

// holder is the contents of holder.json.
type holder struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Locker creates locks rooted at "<path>.lock" directories.
//
// Locker holds no per-lock state; a single Locker can mediate any
// number of concurrently-held locks at distinct paths.
type Locker struct {
	staleAge time.Duration
	clock    clock.Clock
	pidAlive func(pid int) bool
	hostname string
}

// Option configures a Locker.
type Option func(*Locker)

// WithStaleAge overrides DefaultStaleAge.
func WithStaleAge(d time.Duration) Option {
	return func(l *Locker) { l.staleAge = d }
}

// WithClock overrides the clock used to evaluate lock age (for tests).
func WithClock(c clock.Clock) Option {
	return func(l *Locker) { l.clock = c }
}

// New returns a Locker with the given options applied over the
// defaults (stale age 300s, real clock, real PID-liveness probe).
func New(opts ...Option) *Locker {
	l := &Locker{
		staleAge: DefaultStaleAge,
		clock:    clock.Real{},
		pidAlive: isProcessAlive,
	}

	hostname, err := os.Hostname()
	if err == nil {
		l.hostname = hostname
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Lock is a held advisory lock. Call Close to release it.
type Lock struct {
	dir      string
	released bool
}

// Close releases the lock by removing holder.json then the lock
// directory. Idempotent: calling Close more than once is a no-op
// returning nil after the first call.
func (lk *Lock) Close() error {
	if lk.released {
		return nil
	}

	lk.released = true

	if err := os.Remove(filepath.Join(lk.dir, holderFileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filelock: remove holder file: %w", err)
	}

	if err := os.Remove(lk.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filelock: remove lock dir: %w", err)
	}

	return nil
}

func lockDirFor(path string) string {
	return path + ".lock"
}

// Lock acquires the lock at path, blocking indefinitely until it is
// free or can be broken as stale.
func (l *Locker) Lock(path string) (*Lock, error) {
	return l.acquire(path, -1)
}

// TryLock attempts to acquire the lock at path without blocking.
// Returns ErrWouldBlock if another live holder has it.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.acquire(path, 0)
}

// LockWithTimeout attempts to acquire the lock at path, retrying with
// backoff until timeout elapses. Returns ErrLockTimeout on expiry.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("filelock: timeout must be > 0")
	}

	return l.acquire(path, timeout)
}

// acquire implements the three public entry points.
//
//	timeout < 0: block indefinitely
//	timeout == 0: try once
//	timeout > 0: poll with backoff until the deadline
func (l *Locker) acquire(path string, timeout time.Duration) (*Lock, error) {
	dir := lockDirFor(path)

	var deadline time.Time

	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = l.clock.Now().Add(timeout)
	}

	backoff := time.Millisecond

	for {
		lk, err := l.tryCreate(dir)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		broke, breakErr := l.breakIfStale(dir)
		if breakErr != nil {
			return nil, breakErr
		}

		if broke {
			continue
		}

		if timeout == 0 {
			return nil, ErrWouldBlock
		}

		if hasDeadline && !l.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, path, timeout)
		}

		time.Sleep(backoff)

		if backoff < 25*time.Millisecond {
			backoff *= 2
		}
	}
}

// tryCreate attempts the atomic mkdir and, on success, writes
// holder.json describing this process.
func (l *Locker) tryCreate(dir string) (*Lock, error) {
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, err
	}

	h := holder{
		PID:        os.Getpid(),
		Hostname:   l.hostname,
		AcquiredAt: l.clock.Now().UTC(),
	}

	data, err := json.Marshal(h)
	if err != nil {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("filelock: marshal holder: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, holderFileName), data, 0o644); err != nil {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("filelock: write holder file: %w", err)
	}

	return &Lock{dir: dir}, nil
}

// breakIfStale inspects an existing lock directory and removes it if
// its holder is dead or its age exceeds staleAge.
// Returns true if it broke the lock (caller should retry acquisition).
func (l *Locker) breakIfStale(dir string) (bool, error) {
	info, statErr := os.Stat(dir)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Lock released between our failed mkdir and this check.
			return true, nil
		}

		return false, fmt.Errorf("filelock: stat lock dir: %w", statErr)
	}

	h, readErr := readHolder(dir)
	if readErr != nil {
		// holder.json missing or unparsable: either a concurrent
		// acquirer is mid-setup, or a crash left a half-written lock.
		// Only break on age, never eagerly, to avoid racing a live
		// acquirer that hasn't written holder.json yet.
		if l.clock.Now().Sub(info.ModTime()) > l.staleAge {
			return l.forceBreak(dir)
		}

		return false, nil
	}

	if l.clock.Now().Sub(h.AcquiredAt) > l.staleAge {
		return l.forceBreak(dir)
	}

	if !l.pidAlive(h.PID) {
		return l.forceBreak(dir)
	}

	return false, nil
}

func (l *Locker) forceBreak(dir string) (bool, error) {
	if err := os.Remove(filepath.Join(dir, holderFileName)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("filelock: break stale lock: remove holder: %w", err)
	}

	if err := os.Remove(dir); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}

		return false, fmt.Errorf("filelock: break stale lock: remove dir: %w", err)
	}

	return true, nil
}

func readHolder(dir string) (holder, error) {
	data, err := os.ReadFile(filepath.Join(dir, holderFileName))
	if err != nil {
		return holder{}, fmt.Errorf("read holder file: %w", err)
	}

	var h holder
	if err := json.Unmarshal(data, &h); err != nil {
		return holder{}, fmt.Errorf("decode holder file: %w", err)
	}

	return h, nil
}

// isProcessAlive probes liveness with a signal-0 kill —
// golang.org/x/sys/unix.Kill(pid, 0) sends no signal but still
// reports ESRCH for a dead process.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}

	// EPERM means the process exists but we lack permission to signal
	// it — still alive from our perspective.
	return errors.Is(err, unix.EPERM)
}

// String renders pid for diagnostic log fields.
func (h holder) String() string {
	return "pid=" + strconv.Itoa(h.PID) + " host=" + h.Hostname
}
