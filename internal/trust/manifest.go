// Package trust implements the persistent trust-on-first-use (TOFU)
// manifest and the caller-identity verification built on top of it.
package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

const manifestVersion = 1

// dirPerm and filePerm restrict the manifest to the owning user, mirroring
// the private-key file permission checks a token library would otherwise
// apply to PEM material on disk.
const (
	dirPerm  os.FileMode = 0o700
	filePerm os.FileMode = 0o600
)

// Entry is one namespace's approved hash set and trust tier.
type Entry struct {
	Hashes map[string]struct{}
	Tier   int
}

// Manifest is an immutable snapshot of namespace -> Entry. Every mutating
// operation (AddTrusted) returns a new Manifest rather than modifying the
// receiver, so callers holding a reference never observe a torn write.
type Manifest struct {
	Entries map[string]Entry
}

type wireEntry struct {
	Hashes []string `json:"hashes"`
	Tier   int      `json:"tier"`
}

type wireManifest struct {
	Version int                  `json:"version"`
	Entries map[string]wireEntry `json:"entries"`
}

// Empty returns a Manifest with no entries.
func Empty() *Manifest {
	return &Manifest{Entries: map[string]Entry{}}
}

// Load reads the manifest at path. A missing file is tolerated and yields
// an empty manifest; unparseable content is a hard Filesystem error.
// Entries whose tier is not in {1,2,3} are silently dropped.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, &vaulterrors.Filesystem{Path: path, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}

	var wm wireManifest
	if err := json.Unmarshal(raw, &wm); err != nil {
		return nil, &vaulterrors.Filesystem{Path: path, RequiredPerm: "valid JSON", Err: err}
	}

	m := Empty()
	for ns, we := range wm.Entries {
		if we.Tier != 1 && we.Tier != 2 && we.Tier != 3 {
			continue
		}
		hashes := make(map[string]struct{}, len(we.Hashes))
		for _, h := range we.Hashes {
			hashes[h] = struct{}{}
		}
		m.Entries[ns] = Entry{Hashes: hashes, Tier: we.Tier}
	}
	return m, nil
}

// Save persists m to path atomically: write to a sibling temp file, then
// rename over the destination. Directory and file permissions are
// restricted to the owning user.
func Save(path string, m *Manifest) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &vaulterrors.Filesystem{Path: dir, RequiredPerm: fmt.Sprintf("%#o", dirPerm), Err: err}
	}

	wm := wireManifest{Version: manifestVersion, Entries: make(map[string]wireEntry, len(m.Entries))}
	for ns, e := range m.Entries {
		hashes := make([]string, 0, len(e.Hashes))
		for h := range e.Hashes {
			hashes = append(hashes, h)
		}
		wm.Entries[ns] = wireEntry{Hashes: hashes, Tier: e.Tier}
	}

	raw, err := json.MarshalIndent(wm, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: marshaling manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trust-manifest-*.tmp")
	if err != nil {
		return &vaulterrors.Filesystem{Path: dir, RequiredPerm: fmt.Sprintf("%#o", dirPerm), Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return &vaulterrors.Filesystem{Path: tmpPath, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &vaulterrors.Filesystem{Path: tmpPath, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return &vaulterrors.Filesystem{Path: tmpPath, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &vaulterrors.Filesystem{Path: path, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	return nil
}

// AddTrusted returns a new Manifest with hash recorded under namespace. If
// the namespace has no entry, it is created at tier 3; otherwise hash is
// added (deduplicated) to the existing entry, preserving its tier. m is
// never mutated.
func AddTrusted(m *Manifest, namespace, hash string) *Manifest {
	next := &Manifest{Entries: make(map[string]Entry, len(m.Entries))}
	for ns, e := range m.Entries {
		hashes := make(map[string]struct{}, len(e.Hashes))
		for h := range e.Hashes {
			hashes[h] = struct{}{}
		}
		next.Entries[ns] = Entry{Hashes: hashes, Tier: e.Tier}
	}

	existing, ok := next.Entries[namespace]
	if !ok {
		next.Entries[namespace] = Entry{Hashes: map[string]struct{}{hash: {}}, Tier: 3}
		return next
	}
	existing.Hashes[hash] = struct{}{}
	next.Entries[namespace] = existing
	return next
}

// manager guards reads and writes of the on-disk manifest so VerifyTrust
// callers never race each other across a load-modify-save sequence.
type manager struct {
	mu   sync.Mutex
	path string
}

// Manager serializes manifest load/save sequences for a single trust
// manifest file.
type Manager struct {
	inner *manager
}

// NewManager returns a Manager for the manifest at path.
func NewManager(path string) *Manager {
	return &Manager{inner: &manager{path: path}}
}

func (m *Manager) withLock(fn func() error) error {
	m.inner.mu.Lock()
	defer m.inner.mu.Unlock()
	return fn()
}
