// Package avtable implements the concurrent translation table behind an
// address vector: raw address bytes map to compact fabric addresses and back.
package avtable

import (
	"sync"

	"github.com/rocketbitz/fidomain/internal/errno"
)

// NotAvail is the fabric address reported for entries that failed to insert
// (FI_ADDR_NOTAVAIL).
const NotAvail = ^uint64(0)

// Mode selects how fabric addresses are assigned.
type Mode int

const (
	// ModeMap hands out opaque handles that are never reused.
	ModeMap Mode = iota
	// ModeTable hands out compact slot indices and reuses freed slots.
	ModeTable
)

// Options configures a Table.
type Options struct {
	Mode Mode
	// RXCtxBits reserves the top bits of every fabric address.
	RXCtxBits int
	// Capacity is a sizing hint.
	Capacity int
	// MaxEntries bounds the number of live entries; zero means unbounded.
	MaxEntries int
	// Validate rejects malformed raw addresses before insertion.
	Validate func([]byte) error
}

// Table is safe for concurrent use. Writers hold the table lock for a whole
// batch so readers never see a partially inserted entry.
type Table struct {
	mu       sync.RWMutex
	mode     Mode
	limit    uint64
	max      int
	validate func([]byte) error

	byRaw  map[string]uint64
	byAddr map[uint64][]byte
	next   uint64
	free   []uint64
}

// New constructs an empty table.
func New(opts Options) (*Table, error) {
	if opts.RXCtxBits < 0 || opts.RXCtxBits > 63 {
		return nil, errno.ErrInvalid.Wrapf("avtable", "rx_ctx_bits %d out of range", opts.RXCtxBits)
	}
	if opts.Mode != ModeMap && opts.Mode != ModeTable {
		return nil, errno.ErrInvalid.Wrapf("avtable", "unknown mode %d", opts.Mode)
	}
	capacity := opts.Capacity
	if capacity < 0 {
		capacity = 0
	}
	limit := NotAvail
	if opts.RXCtxBits > 0 {
		limit = uint64(1) << (64 - opts.RXCtxBits)
	}
	return &Table{
		mode:     opts.Mode,
		limit:    limit,
		max:      opts.MaxEntries,
		validate: opts.Validate,
		byRaw:    make(map[string]uint64, capacity),
		byAddr:   make(map[uint64][]byte, capacity),
	}, nil
}

// Insert adds every address in addrs. Each entry either receives its fabric
// address (new or existing) or NotAvail with the matching error set.
func (t *Table) Insert(addrs [][]byte) ([]uint64, []error) {
	out := make([]uint64, len(addrs))
	errs := make([]error, len(addrs))

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, raw := range addrs {
		out[i], errs[i] = t.insertLocked(raw)
	}
	return out, errs
}

// InsertOne inserts a single raw address.
func (t *Table) InsertOne(raw []byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(raw)
}

func (t *Table) insertLocked(raw []byte) (uint64, error) {
	if len(raw) == 0 {
		return NotAvail, errno.ErrInvalid.Wrapf("av insert", "empty address")
	}
	if t.validate != nil {
		if err := t.validate(raw); err != nil {
			return NotAvail, err
		}
	}
	if addr, ok := t.byRaw[string(raw)]; ok {
		return addr, nil
	}
	if t.max > 0 && len(t.byAddr) >= t.max {
		return NotAvail, errno.ErrNoSpace.Wrapf("av insert", "address vector holds %d entries", t.max)
	}
	addr, err := t.allocLocked()
	if err != nil {
		return NotAvail, err
	}
	stored := append([]byte(nil), raw...)
	t.byRaw[string(stored)] = addr
	t.byAddr[addr] = stored
	return addr, nil
}

func (t *Table) allocLocked() (uint64, error) {
	if t.mode == ModeTable && len(t.free) > 0 {
		idx := 0
		for i, slot := range t.free {
			if slot < t.free[idx] {
				idx = i
			}
		}
		addr := t.free[idx]
		t.free[idx] = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		return addr, nil
	}
	if t.next >= t.limit {
		return NotAvail, errno.ErrNoSpace.Wrapf("av insert", "fabric address space exhausted")
	}
	addr := t.next
	t.next++
	return addr, nil
}

// Remove deletes the provided fabric addresses. Unknown addresses are ignored.
// It reports how many entries were actually removed.
func (t *Table) Remove(addrs []uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for _, addr := range addrs {
		raw, ok := t.byAddr[addr]
		if !ok {
			continue
		}
		delete(t.byAddr, addr)
		delete(t.byRaw, string(raw))
		if t.mode == ModeTable {
			t.free = append(t.free, addr)
		}
		removed++
	}
	return removed
}

// Lookup returns a copy of the raw address stored for addr.
func (t *Table) Lookup(addr uint64) ([]byte, error) {
	t.mu.RLock()
	raw, ok := t.byAddr[addr]
	t.mu.RUnlock()
	if !ok {
		return nil, errno.ErrNotFound.Wrapf("av lookup", "fabric address %#x not present", addr)
	}
	return append([]byte(nil), raw...), nil
}

// Find reports the fabric address already assigned to raw, if any.
func (t *Table) Find(raw []byte) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.byRaw[string(raw)]
	return addr, ok
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}
