package keywords

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnknownVersion is returned for a mapping version with no configured file.
var ErrUnknownVersion = errors.New("unknown mapping version")

// Registry resolves mapping versions to CSV files and loads each version at
// most once for its lifetime.
type Registry struct {
	baseDir string
	files   map[string]string

	mu    sync.Mutex
	cache map[string]*Mapping
}

// NewRegistry creates a registry. Relative file paths are resolved against baseDir.
func NewRegistry(baseDir string, files map[string]string) *Registry {
	return &Registry{
		baseDir: baseDir,
		files:   files,
		cache:   make(map[string]*Mapping),
	}
}

// Versions returns the configured versions in sorted order.
func (r *Registry) Versions() []string {
	versions := make([]string, 0, len(r.files))
	for v := range r.files {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Has reports whether a version is configured.
func (r *Registry) Has(version string) bool {
	_, ok := r.files[version]
	return ok
}

// Path returns the resolved CSV path for a version.
func (r *Registry) Path(version string) (string, error) {
	p, ok := r.files[version]
	if !ok {
		return "", fmt.Errorf("%w %q; allowed: %v", ErrUnknownVersion, version, r.Versions())
	}
	if !filepath.IsAbs(p) && r.baseDir != "" {
		p = filepath.Join(r.baseDir, p)
	}
	return p, nil
}

// Mapping returns the mapping for a version, loading it on first use.
func (r *Registry) Mapping(version string) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.cache[version]; ok {
		return m, nil
	}

	path, err := r.Path(version)
	if err != nil {
		return nil, err
	}
	m, err := LoadCSV(path, version)
	if err != nil {
		return nil, err
	}
	r.cache[version] = m
	return m, nil
}

// Reset drops cached mappings so the next run reloads them from disk.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Mapping)
}
