package fi

import (
	"sync"
)

// Fabric is the top-level handle produced from a discovery descriptor.
// Domains and event queues are opened beneath it.
type Fabric struct {
	res      *Resource
	provider Provider
	info     Info

	mu       sync.RWMutex
	children childSet
}

// OpenFabric opens a fabric for the descriptor.
func (d Descriptor) OpenFabric(opts ...ResourceOption) (*Fabric, error) {
	if d.provider == nil {
		return nil, ErrInvalidArgument.Wrapf("fi_fabric", "descriptor has no provider")
	}
	cfg := applyResourceOptions(opts)
	f := &Fabric{provider: d.provider, info: d.info}
	f.res = newResource(ClassFabric, ResourceOps{}, f, nil, cfg.context)
	f.res.owner = f
	return f, nil
}

// Fid returns the resource header.
func (f *Fabric) Fid() *Resource {
	if f == nil {
		return nil
	}
	return f.res
}

// Info returns the descriptor the fabric was opened from.
func (f *Fabric) Info() Info {
	if f == nil {
		return Info{}
	}
	return f.info
}

// Provider returns the provider name.
func (f *Fabric) Provider() string {
	if f == nil {
		return ""
	}
	return f.info.Provider
}

// Close releases the fabric. It fails with ErrBusy while domains or event
// queues opened from it are still live.
func (f *Fabric) Close() error {
	if f == nil || f.res == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.res.Closed() {
		return nil
	}
	if n := f.children.len(); n > 0 {
		return ErrBusy.Wrapf("fi_close", "fabric has %d open children", n)
	}
	return f.res.release()
}

// adopt registers a child under the fabric. The caller holds f.mu for reading.
func (f *Fabric) adopt(child Resourcer) {
	res := child.Fid()
	f.children.add(child)
	res.onClose = func() { f.children.remove(res.id) }
}

func (f *Fabric) live() bool {
	return f != nil && f.res != nil && !f.res.Closed()
}
