package memstore

import (
	"errors"

	"memstore/internal/filelock"
	"memstore/internal/shard"
	"memstore/internal/version"
)

// The facade re-exports the error kinds callers are expected to branch
// on with errors.Is, so front-ends never import internal packages.
var (
	// ErrLockTimeout means the workspace lock could not be acquired
	// within the per-call timeout. No state was changed.
	ErrLockTimeout = filelock.ErrLockTimeout

	// ErrConflict means another writer changed a file between a
	// version snapshot and the guarded write.
	ErrConflict = version.ErrConflict

	// ErrStoreCorrupt means a shard referenced by the indexes or WAL
	// is missing or unparsable. RebuildIndexes is the prescribed
	// recovery.
	ErrStoreCorrupt = shard.ErrCorrupt

	// ErrMigrationFailed wraps any failure while migrating the legacy
	// single-file layout. The backup is preserved. A failure before the
	// legacy file is removed leaves that file in place; shard and index
	// files saved before the failure are not removed.
	ErrMigrationFailed = errors.New("memstore: migration failed")
)
