package notify

import (
	"context"
	"sync"
)

// MemoryDirectory implements Directory with an in-memory map, suitable for
// small deployments and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryDirectory returns a MemoryDirectory preloaded with name→id pairs.
func NewMemoryDirectory(entries map[string]string) *MemoryDirectory {
	d := &MemoryDirectory{entries: make(map[string]string, len(entries))}
	for name, id := range entries {
		d.entries[NormalizeName(name)] = id
	}
	return d
}

// Lookup resolves the given names.
func (d *MemoryDirectory) Lookup(_ context.Context, names []string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	found := make(map[string]string, len(names))
	for _, name := range names {
		if id, ok := d.entries[NormalizeName(name)]; ok {
			found[name] = id
		}
	}
	return found, nil
}

// Set adds or replaces one mapping.
func (d *MemoryDirectory) Set(name, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[NormalizeName(name)] = id
}
