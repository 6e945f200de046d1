// Package mrreg tracks the key space of a domain: keys issued to registered
// memory regions and keys mapped from raw key material learned out of band.
package mrreg

import (
	"sync"

	"github.com/rocketbitz/fidomain/internal/errno"
)

// Kind distinguishes issued region keys from imported mappings.
type Kind int

const (
	KindRegion Kind = iota
	KindImported
)

// Entry describes one live key.
type Entry struct {
	Key        uint64
	Kind       Kind
	Base       uint64
	Length     uint64
	Access     uint64
	RemoteKey  uint64
	AuthDigest []byte
	// Owner is an opaque back reference set by the caller.
	Owner any
}

// Options configures a Registry.
type Options struct {
	// ProviderKeys ignores caller-requested keys and always allocates.
	ProviderKeys bool
	// MaxRegions bounds the number of issued region keys; zero is unbounded.
	MaxRegions int
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	opts    Options
	entries map[uint64]*Entry
	regions int
	next    uint64
}

// New constructs an empty registry.
func New(opts Options) *Registry {
	return &Registry{opts: opts, entries: make(map[uint64]*Entry), next: 1}
}

// Register claims a key for a region. requested is honoured when non-zero and
// the registry does not hand out provider keys.
func (r *Registry) Register(e Entry, requested uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.MaxRegions > 0 && r.regions >= r.opts.MaxRegions {
		return 0, errno.ErrNoSpace.Wrapf("fi_mr_reg", "domain holds %d registrations", r.opts.MaxRegions)
	}

	var key uint64
	if requested != 0 && !r.opts.ProviderKeys {
		if _, used := r.entries[requested]; used {
			return 0, errno.ErrNoKey.Wrapf("fi_mr_reg", "key %#x already in use", requested)
		}
		key = requested
	} else {
		key = r.allocLocked()
	}

	e.Key = key
	e.Kind = KindRegion
	if e.RemoteKey == 0 {
		e.RemoteKey = key
	}
	r.entries[key] = cloneEntry(&e)
	r.regions++
	return key, nil
}

// Import maps key material obtained from a peer and returns a local key.
func (r *Registry) Import(e Entry) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.allocLocked()
	e.Key = key
	e.Kind = KindImported
	r.entries[key] = cloneEntry(&e)
	return key, nil
}

func (r *Registry) allocLocked() uint64 {
	for {
		key := r.next
		r.next++
		if r.next == 0 {
			r.next = 1
		}
		if _, used := r.entries[key]; !used && key != 0 {
			return key
		}
	}
}

// Release drops an issued region key.
func (r *Registry) Release(key uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok || entry.Kind != KindRegion {
		return errno.ErrNotFound.Wrapf("fi_close(mr)", "no region for key %#x", key)
	}
	delete(r.entries, key)
	r.regions--
	return nil
}

// Unmap releases an imported key. Keys that were never imported are reported
// as not found.
func (r *Registry) Unmap(key uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok || entry.Kind != KindImported {
		return errno.ErrNotFound.Wrapf("fi_mr_unmap_key", "key %#x was not mapped", key)
	}
	delete(r.entries, key)
	return nil
}

// Lookup returns a snapshot of the entry for key.
func (r *Registry) Lookup(key uint64) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	if !ok {
		return Entry{}, errno.ErrNotFound.Wrapf("mr lookup", "key %#x not registered", key)
	}
	return *cloneEntry(entry), nil
}

// Len returns the number of live keys of either kind.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Regions returns the number of live region keys.
func (r *Registry) Regions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.regions
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	if e.AuthDigest != nil {
		c.AuthDigest = append([]byte(nil), e.AuthDigest...)
	}
	return &c
}
