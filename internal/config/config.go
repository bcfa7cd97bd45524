// Package config loads workspace configuration for memstore. It
// follows calvinalkan-agent-task's root config.go layering: built-in
// defaults, overlaid by an optional HuJSON file in the workspace,
// overlaid by fields the caller sets explicitly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// FileName is the optional workspace config file, HuJSON (JSON with
// comments and trailing commas tolerated).
const FileName = "memstore.hujson"

// EnvWorkspace is read for the workspace root when no explicit path is
// passed to Load.
const EnvWorkspace = "WORKSPACE_PATH"

// Config holds the workspace tunables, plus the
// auto_merge_near_duplicates switch controlling whether compaction
// applies proposed near-duplicate merges automatically.
type Config struct {
	Workspace               string  `json:"workspace,omitempty"`
	HalfLifeDays            float64 `json:"half_life_days"`
	MinContentLen           int     `json:"min_content_len"`
	WALFlushCount           int     `json:"wal_flush_count"`
	WALFlushBytes           int64   `json:"wal_flush_bytes"`
	BulkActiveCap           int     `json:"bulk_active_cap"`
	CacheMaxEntries         int     `json:"cache_max_entries"`
	StaleLockAgeS           int     `json:"stale_lock_age_s"`
	AutoMergeNearDuplicates bool    `json:"auto_merge_near_duplicates"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HalfLifeDays:            7,
		MinContentLen:           15,
		WALFlushCount:           50,
		WALFlushBytes:           1 << 20,
		BulkActiveCap:           20000,
		CacheMaxEntries:         256,
		StaleLockAgeS:           300,
		AutoMergeNearDuplicates: false,
	}
}

// Load resolves the workspace configuration: defaults, overlaid by
// <workspace>/memstore.hujson if present, overlaid by the non-zero
// fields of override. If workspace is empty, EnvWorkspace is consulted
// before falling back to the current directory.
func Load(workspace string, override Config) (Config, error) {
	if workspace == "" {
		workspace = os.Getenv(EnvWorkspace)
	}

	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("config: resolve workspace: %w", err)
		}

		workspace = wd
	}

	cfg := Default()
	cfg.Workspace = workspace

	fileCfg, loaded, err := loadFile(filepath.Join(workspace, FileName))
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fileCfg)
	}

	cfg = merge(cfg, override)
	cfg.Workspace = workspace

	return cfg, nil
}

// loadFile reads and standardizes path as HuJSON, returning the parsed
// Config. Returns loaded=false, no error, if path does not exist.
func loadFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // workspace-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("config: invalid HuJSON in %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}

	return cfg, true, nil
}

// merge overlays overlay's non-zero fields onto base.
func merge(base, overlay Config) Config {
	if overlay.Workspace != "" {
		base.Workspace = overlay.Workspace
	}

	if overlay.HalfLifeDays != 0 {
		base.HalfLifeDays = overlay.HalfLifeDays
	}

	if overlay.MinContentLen != 0 {
		base.MinContentLen = overlay.MinContentLen
	}

	if overlay.WALFlushCount != 0 {
		base.WALFlushCount = overlay.WALFlushCount
	}

	if overlay.WALFlushBytes != 0 {
		base.WALFlushBytes = overlay.WALFlushBytes
	}

	if overlay.BulkActiveCap != 0 {
		base.BulkActiveCap = overlay.BulkActiveCap
	}

	if overlay.CacheMaxEntries != 0 {
		base.CacheMaxEntries = overlay.CacheMaxEntries
	}

	if overlay.StaleLockAgeS != 0 {
		base.StaleLockAgeS = overlay.StaleLockAgeS
	}

	// A bool has no unset state, so the switch is on when either layer
	// sets it; an overlay of false never turns it back off.
	base.AutoMergeNearDuplicates = base.AutoMergeNearDuplicates || overlay.AutoMergeNearDuplicates

	return base
}

// Validate checks cfg for internally inconsistent values.
func Validate(c Config) error {
	if c.HalfLifeDays <= 0 {
		return fmt.Errorf("config: half_life_days must be > 0, got %v", c.HalfLifeDays)
	}

	if c.MinContentLen < 0 {
		return fmt.Errorf("config: min_content_len must be >= 0, got %d", c.MinContentLen)
	}

	if c.StaleLockAgeS <= 0 {
		return fmt.Errorf("config: stale_lock_age_s must be > 0, got %d", c.StaleLockAgeS)
	}

	return nil
}
