package memstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"memstore/internal/atomicio"
)

// ErrBadNamespace rejects namespace names that would escape the
// workspace's namespaces/ directory.
var ErrBadNamespace = errors.New("memstore: invalid namespace name")

// namespaceManifest is namespace_manifest.json: the known namespace
// names and when each was first opened, so enumeration never needs a
// directory walk.
type namespaceManifest struct {
	Namespaces map[string]time.Time `json:"namespaces"`
}

// Namespace opens (creating on first use) the isolated sub-workspace
// at namespaces/<name>. The returned MemorySystem has its own shards,
// indexes, WAL, and locks, and inherits this instance's configuration,
// clock, logger, and embedder. Close it independently.
func (m *MemorySystem) Namespace(name string) (*MemorySystem, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrBadNamespace, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if err := m.registerNamespaceLocked(name); err != nil {
		return nil, err
	}

	cfg := m.cfg
	cfg.Workspace = filepath.Join(m.cfg.Workspace, "namespaces", name)

	opts := []Option{WithClock(m.clk)}

	if m.log != nil {
		opts = append(opts, WithLogger(m.log))
	}

	if m.embed != nil {
		opts = append(opts, WithEmbedder(m.embed))
	}

	return load(cfg, opts...)
}

// Namespaces lists the registered namespace names, sorted.
func (m *MemorySystem) Namespaces() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	manifest, err := m.readManifestLocked()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(manifest.Namespaces))
	for name := range manifest.Namespaces {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

func (m *MemorySystem) readManifestLocked() (namespaceManifest, error) {
	p := layout(m.cfg.Workspace)
	manifest := namespaceManifest{Namespaces: make(map[string]time.Time)}

	err := m.io.ReadJSON(p.manifest, &manifest)
	if err != nil && !errors.Is(err, atomicio.ErrNotFound) {
		return namespaceManifest{}, fmt.Errorf("memstore: read namespace manifest: %w", err)
	}

	if manifest.Namespaces == nil {
		manifest.Namespaces = make(map[string]time.Time)
	}

	return manifest, nil
}

func (m *MemorySystem) registerNamespaceLocked(name string) error {
	manifest, err := m.readManifestLocked()
	if err != nil {
		return err
	}

	if _, known := manifest.Namespaces[name]; known {
		return nil
	}

	manifest.Namespaces[name] = m.now()

	p := layout(m.cfg.Workspace)

	if err := m.io.WriteJSON(p.manifest, manifest); err != nil {
		return fmt.Errorf("memstore: write namespace manifest: %w", err)
	}

	return nil
}
