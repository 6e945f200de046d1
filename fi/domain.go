package fi

import (
	"sync"

	"github.com/rocketbitz/fidomain/internal/mrreg"
)

// Domain owns a provider dispatch table, the memory key space and every child
// opened through it. It must outlive all of its children.
type Domain struct {
	res       *Resource
	fabric    *Fabric
	info      Info
	provider  DomainProvider
	ops       DomainOps
	registrar MemoryRegistrar
	keys      *mrreg.Registry
	obs       *observer

	// mu orders child creation against Close.
	mu       sync.RWMutex
	children childSet

	eqMu    sync.RWMutex
	eq      *EventQueue
	eqFlags uint64
	bound   childSet
}

// OpenDomain opens a domain associated with the provided fabric and descriptor.
func (d Descriptor) OpenDomain(fabric *Fabric, opts ...DomainOption) (*Domain, error) {
	if fabric == nil || fabric.res == nil {
		return nil, ErrInvalidHandle{"fabric"}
	}
	if d.provider == nil {
		return nil, ErrInvalidArgument.Wrapf("fi_domain", "descriptor has no provider")
	}
	if fabric.provider != d.provider {
		return nil, ErrInvalidArgument.Wrapf("fi_domain", "descriptor provider %q does not match fabric provider %q", d.info.Provider, fabric.info.Provider)
	}
	var cfg domainConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	fabric.mu.RLock()
	defer fabric.mu.RUnlock()
	if !fabric.live() {
		return nil, ErrInvalidHandle{"fabric"}
	}

	dp, err := d.provider.OpenDomain(d.info)
	if err != nil {
		return nil, err
	}
	registrar := dp.Registrar()
	if registrar == nil {
		_ = dp.Close()
		return nil, ErrNotSupported.Wrapf("fi_domain", "provider %q has no memory registrar", d.info.Provider)
	}

	dom := &Domain{
		fabric:    fabric,
		info:      d.info,
		provider:  dp,
		ops:       dp.Ops(),
		registrar: registrar,
		keys: mrreg.New(mrreg.Options{
			ProviderKeys: d.info.RequiresMRMode(MRModeProvKey),
			MaxRegions:   d.info.MaxMRCount,
		}),
		obs: newObserver(cfg, d.info),
	}
	dom.res = newResource(ClassDomain, ResourceOps{Close: dom.shutdown}, fabric, nil, cfg.context)
	dom.res.owner = dom
	fabric.adopt(dom)
	dom.obs.log("domain_opened", logKV("domain", d.info.Domain))
	return dom, nil
}

// Fid returns the resource header.
func (d *Domain) Fid() *Resource {
	if d == nil {
		return nil
	}
	return d.res
}

// Fabric returns the fabric the domain was opened on.
func (d *Domain) Fabric() *Fabric {
	if d == nil {
		return nil
	}
	return d.fabric
}

// Info returns the descriptor the domain was opened from.
func (d *Domain) Info() Info {
	if d == nil {
		return Info{}
	}
	return d.info
}

// SupportsCap reports whether the domain advertises the capability bit.
func (d *Domain) SupportsCap(flag uint64) bool {
	return d != nil && d.info.SupportsCap(flag)
}

// MRModeFlags reports the domain's memory registration mode requirements.
func (d *Domain) MRModeFlags() MRModeFlag {
	if d == nil {
		return 0
	}
	return d.info.MRModeFlags()
}

// RequiresMRMode reports whether the domain requires the specified MR mode flag.
func (d *Domain) RequiresMRMode(flag MRModeFlag) bool {
	if d == nil {
		return false
	}
	return d.info.RequiresMRMode(flag)
}

// MRKeySize reports the provider-specified memory registration key size, if any.
func (d *Domain) MRKeySize() uintptr {
	if d == nil {
		return 0
	}
	return d.info.MRKeySize
}

// MRIovLimit reports the provider's iov registration limit when advertised.
func (d *Domain) MRIovLimit() uintptr {
	if d == nil {
		return 0
	}
	return d.info.MRIovLimit
}

// Children reports the number of live children by class.
func (d *Domain) Children() map[FIDClass]int {
	if d == nil {
		return nil
	}
	return d.children.classes()
}

// EventQueue returns the event queue bound with Bind, if any.
func (d *Domain) EventQueue() *EventQueue {
	if d == nil {
		return nil
	}
	d.eqMu.RLock()
	defer d.eqMu.RUnlock()
	return d.eq
}

// Close releases the domain. It fails with ErrBusy while children are live.
func (d *Domain) Close() error {
	if d == nil || d.res == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res.Closed() {
		return nil
	}
	if n := d.children.len(); n > 0 {
		return ErrBusy.Wrapf("fi_close", "domain has %d open children", n)
	}
	return d.res.release()
}

func (d *Domain) shutdown() error {
	d.eqMu.Lock()
	if d.eq != nil {
		d.eq.releaseRef()
		d.eq = nil
	}
	d.eqMu.Unlock()
	err := d.provider.Close()
	d.obs.log("domain_closed", logKV("domain", d.info.Domain))
	return err
}

func (d *Domain) live() bool {
	return d != nil && d.res != nil && !d.res.Closed()
}

// Bind attaches a child resource to the domain's event and processing
// context. Event queues become the domain's event target; BindRegMR, valid
// only for event queues, also routes memory registration completions there.
func (d *Domain) Bind(child Resourcer, flags uint64) error {
	if !d.live() {
		return ErrInvalidHandle{"domain"}
	}
	if child == nil || child.Fid() == nil {
		return ErrInvalidArgument.Wrapf("fi_domain_bind", "nil resource")
	}
	res := child.Fid()
	if res.Closed() {
		return ErrInvalidHandle{res.class.String()}
	}
	if res.fabric != d.fabric {
		return ErrInvalidArgument.Wrapf("fi_domain_bind", "%s belongs to another fabric", res)
	}
	if res.domain != nil && res.domain != d {
		return ErrInvalidArgument.Wrapf("fi_domain_bind", "%s belongs to another domain", res)
	}
	if flags&^BindRegMR != 0 {
		return ErrInvalidArgument.Wrapf("fi_domain_bind", "unsupported flags 0x%x", flags)
	}

	switch res.class {
	case ClassEventQueue:
		eq, ok := child.(*EventQueue)
		if !ok {
			eq, ok = res.owner.(*EventQueue)
		}
		if !ok {
			return ErrInvalidArgument.Wrapf("fi_domain_bind", "%s is not an event queue handle", res)
		}
		return d.bindEventQueue(eq, flags)
	case ClassAddressVector, ClassMemoryRegion, ClassCompletionQueue, ClassCounter,
		ClassEndpoint, ClassScalableEndpoint, ClassPollSet, ClassSharedTxContext, ClassSharedRxContext:
		if flags&BindRegMR != 0 {
			return ErrInvalidArgument.Wrapf("fi_domain_bind", "FI_REG_MR requires an event queue, got %s", res.class)
		}
		if res.ops.Bind != nil {
			if err := res.ops.Bind(d.res, flags); err != nil {
				return err
			}
		}
		if d.bound.contains(res.id) {
			return nil
		}
		d.bound.add(child)
		d.obs.log("domain_bind", logKV("class", res.class.String()))
		return nil
	default:
		return ErrInvalidArgument.Wrapf("fi_domain_bind", "cannot bind %s to a domain", res.class)
	}
}

func (d *Domain) bindEventQueue(eq *EventQueue, flags uint64) error {
	d.eqMu.Lock()
	defer d.eqMu.Unlock()
	if d.eq == eq {
		d.eqFlags = flags
		return nil
	}
	if d.eq != nil {
		return ErrBusy.Wrapf("fi_domain_bind", "domain already bound to an event queue")
	}
	if err := eq.acquire(); err != nil {
		return err
	}
	d.eq = eq
	d.eqFlags = flags
	d.obs.log("domain_bind", logKV("class", ClassEventQueue.String()), logKV("reg_mr", flags&BindRegMR != 0))
	return nil
}

// mrEventQueue returns the queue that receives registration completions.
func (d *Domain) mrEventQueue() *EventQueue {
	d.eqMu.RLock()
	defer d.eqMu.RUnlock()
	if d.eqFlags&BindRegMR == 0 {
		return nil
	}
	return d.eq
}

// adopt registers a domain child. The caller holds d.mu for reading.
func (d *Domain) adopt(child Resourcer) {
	res := child.Fid()
	d.children.add(child)
	res.onClose = func() {
		d.children.remove(res.id)
		d.bound.remove(res.id)
	}
}

// IsBound reports whether child was bound to the domain with Bind.
func (d *Domain) IsBound(child Resourcer) bool {
	if d == nil || child == nil || child.Fid() == nil {
		return false
	}
	if child.Fid().class == ClassEventQueue {
		return d.EventQueue() != nil && d.EventQueue().res == child.Fid()
	}
	return d.bound.contains(child.Fid().id)
}
