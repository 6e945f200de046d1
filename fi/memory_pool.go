package fi

import (
	"errors"
	"sync/atomic"

	"go.uber.org/multierr"
)

var errPoolClosed = errors.New("libfabric: MRPool closed")

// MRPool manages reusable memory regions of a fixed size.
type MRPool struct {
	domain *Domain
	size   int
	access MRAccessFlag
	pool   chan *MemoryRegion
	closed atomic.Bool

	provisioned atomic.Uint64
}

// NewMRPool constructs a pool that dispenses memory regions registered with the supplied domain.
// The pool provisions regions lazily and retains up to capacity released regions.
func NewMRPool(domain *Domain, size int, access MRAccessFlag, capacity int) (*MRPool, error) {
	if !domain.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	if size <= 0 {
		return nil, ErrInvalidArgument.Wrapf("mr pool", "region size %d", size)
	}
	if capacity < 0 {
		capacity = 0
	}
	if err := domain.validateAccess("mr pool", access); err != nil {
		return nil, err
	}
	return &MRPool{
		domain: domain,
		size:   size,
		access: access,
		pool:   make(chan *MemoryRegion, capacity),
	}, nil
}

// Acquire returns a registered memory region from the pool, provisioning a new
// region when the pool is empty. Callers must Release the region when finished.
func (p *MRPool) Acquire() (*MemoryRegion, error) {
	if p == nil {
		return nil, ErrInvalidHandle{"mr pool"}
	}
	if p.closed.Load() {
		return nil, errPoolClosed
	}
	for {
		select {
		case mr := <-p.pool:
			if !mr.live() {
				continue
			}
			return mr, nil
		default:
			mr, err := p.domain.RegisterMemory(make([]byte, p.size), p.access)
			if err != nil {
				return nil, err
			}
			p.provisioned.Add(1)
			return mr, nil
		}
	}
}

// Release returns the memory region to the pool for reuse. Regions with a
// mismatched size, from another domain, or released after Close are closed
// immediately. Pooled buffers are zeroed.
func (p *MRPool) Release(mr *MemoryRegion) {
	if p == nil || mr == nil {
		return
	}
	if p.closed.Load() || !mr.live() || mr.domain != p.domain || int(mr.Size()) != p.size || len(mr.segments) != 1 {
		_ = mr.Close()
		return
	}
	clear(mr.segments[0])
	select {
	case p.pool <- mr:
	default:
		_ = mr.Close()
	}
}

// Idle reports the number of regions waiting in the pool.
func (p *MRPool) Idle() int {
	if p == nil {
		return 0
	}
	return len(p.pool)
}

// Provisioned reports how many regions the pool has registered.
func (p *MRPool) Provisioned() uint64 {
	if p == nil {
		return 0
	}
	return p.provisioned.Load()
}

// Close releases all pooled regions and prevents further acquisitions.
// Regions still held by callers are closed when released.
func (p *MRPool) Close() error {
	if p == nil || !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	for {
		select {
		case mr := <-p.pool:
			err = multierr.Append(err, mr.Close())
		default:
			return err
		}
	}
}
