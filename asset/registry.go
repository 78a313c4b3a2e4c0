package asset

import "sync"

// Record describes one registered asset. The path is the natural key:
// a Registry holds at most one Record per distinct path.
type Record struct {
	ID   ID
	Path string
	Kind Kind
}

// Registry issues IDs and tracks one Record per registered path.
//
// Registration is idempotent: registering a path that is already known
// returns the existing ID rather than failing or minting a duplicate.
// This lets callers re-run their load sequence at startup without
// tracking what was already registered.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byPath map[string]Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPath: make(map[string]Record),
	}
}

// Register records path under the given kind and returns its ID.
// If path is already registered, the existing ID is returned and the
// kind argument is ignored; no second Record is created.
func (r *Registry) Register(path string, kind Kind) ID {
	r.mu.RLock()
	rec, ok := r.byPath[path]
	r.mu.RUnlock()
	if ok {
		return rec.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another goroutine may have registered the path between
	// the read unlock and the write lock.
	if rec, ok := r.byPath[path]; ok {
		return rec.ID
	}
	rec = Record{ID: NewID(), Path: path, Kind: kind}
	r.byPath[path] = rec
	return rec.ID
}

// Lookup returns the Record for path, if one exists.
func (r *Registry) Lookup(path string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byPath[path]
	return rec, ok
}

// Remove deletes the Record for path. The removed ID is never reissued;
// a later Register of the same path mints a fresh ID.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPath, path)
}

// Len returns the number of registered assets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath)
}
