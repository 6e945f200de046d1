package avtable

import (
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/fidomain/internal/errno"
)

// Shared is a process-wide registry of named tables. Opening the same name
// twice attaches to the same Table; the table is released when the last
// handle detaches.
type Shared struct {
	mu     sync.Mutex
	tables map[string]*sharedEntry
	nextID atomic.Uint64
}

type sharedEntry struct {
	table *Table
	id    uint64
	refs  int
	opts  Options
}

// Handle is one attachment to a named table.
type Handle struct {
	Table *Table
	// MapAddr identifies the shared table for later attach requests.
	MapAddr uint64

	owner  *Shared
	name   string
	closed atomic.Bool
}

// NewShared constructs an empty registry.
func NewShared() *Shared {
	return &Shared{tables: make(map[string]*sharedEntry)}
}

// Open attaches to the named table, creating it when mapAddr is zero and the
// name is unknown. A non-zero mapAddr must match the existing table.
func (s *Shared) Open(name string, mapAddr uint64, opts Options) (*Handle, error) {
	return s.open(name, mapAddr, false, opts)
}

// Attach is Open without creation: the named table must already exist.
// Read-only address vectors use it.
func (s *Shared) Attach(name string, mapAddr uint64, opts Options) (*Handle, error) {
	return s.open(name, mapAddr, true, opts)
}

func (s *Shared) open(name string, mapAddr uint64, attachOnly bool, opts Options) (*Handle, error) {
	if name == "" {
		return nil, errno.ErrInvalid.Wrapf("av open", "shared table requires a name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.tables[name]; ok {
		if mapAddr != 0 && mapAddr != entry.id {
			return nil, errno.ErrInvalid.Wrapf("av open", "map_addr %#x does not match shared table %q", mapAddr, name)
		}
		if entry.opts.Mode != opts.Mode || entry.opts.RXCtxBits != opts.RXCtxBits {
			return nil, errno.ErrInvalid.Wrapf("av open", "shared table %q opened with different attributes", name)
		}
		entry.refs++
		return &Handle{Table: entry.table, MapAddr: entry.id, owner: s, name: name}, nil
	}
	if mapAddr != 0 || attachOnly {
		return nil, errno.ErrNotFound.Wrapf("av open", "no shared table %q to attach", name)
	}

	table, err := New(opts)
	if err != nil {
		return nil, err
	}
	id := s.nextID.Add(1)
	s.tables[name] = &sharedEntry{table: table, id: id, refs: 1, opts: opts}
	return &Handle{Table: table, MapAddr: id, owner: s, name: name}, nil
}

// Close detaches the handle. The final detach drops the table.
func (h *Handle) Close() error {
	if h == nil || !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	s := h.owner
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tables[h.name]
	if !ok {
		return nil
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(s.tables, h.name)
	}
	return nil
}

// Refs reports the number of attachments to name.
func (s *Shared) Refs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tables[name]; ok {
		return entry.refs
	}
	return 0
}
