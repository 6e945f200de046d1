// Package sockets is the built-in software provider. It keeps address
// vectors and memory registrations in process memory, resolves symbolic
// names through the host resolver or a configured DNS server, and registers
// itself with fi under the name "sockets".
package sockets

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/internal/avtable"
)

// Name is the provider name registered at init.
const Name = "sockets"

// Provider implements fi.Provider.
type Provider struct {
	cfg    Config
	c      compiled
	shared *avtable.Shared

	open atomic.Int64
}

func init() {
	p, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("sockets: default config: %v", err))
	}
	fi.MustRegister(p)
}

// New validates cfg and builds a provider without registering it.
func New(cfg Config) (*Provider, error) {
	c, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg, c: c, shared: avtable.NewShared()}, nil
}

// Register builds a provider from cfg and registers it under cfg.Name.
func Register(cfg Config) (*Provider, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := fi.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Name implements fi.Provider.
func (p *Provider) Name() string { return p.cfg.Name }

// Version implements fi.Provider.
func (p *Provider) Version() fi.Version { return fi.APIVersion }

// Config returns the configuration the provider was built from.
func (p *Provider) Config() Config { return p.cfg }

// Info implements fi.Provider.
func (p *Provider) Info() []fi.Info {
	return append([]fi.Info(nil), p.c.infos...)
}

// OpenDomains reports the number of domains currently open.
func (p *Provider) OpenDomains() int64 {
	return p.open.Load()
}

// OpenDomain implements fi.Provider.
func (p *Provider) OpenDomain(info fi.Info) (fi.DomainProvider, error) {
	if info.Provider != p.cfg.Name {
		return nil, fi.ErrInvalidArgument.Wrapf("fi_domain", "descriptor for provider %q", info.Provider)
	}
	if info.Domain != p.cfg.Domain {
		return nil, fi.ErrNotFound.Wrapf("fi_domain", "unknown domain %q", info.Domain)
	}
	p.open.Add(1)
	return &domain{
		p:       p,
		info:    info,
		regions: make(map[uint64]region),
	}, nil
}

// domain is the provider side of an opened fi.Domain.
type domain struct {
	p    *Provider
	info fi.Info

	mu      sync.Mutex
	regions map[uint64]region

	// children counts open queues, counters, endpoints and contexts.
	children atomic.Int64
	closed   atomic.Bool
}

// Ops implements fi.DomainProvider.
func (d *domain) Ops() fi.DomainOps {
	return fi.DomainOps{
		OpenAV:               d.openAV,
		OpenCQ:               func(fi.CompletionQueueAttr) (fi.ResourceOps, error) { return d.opaque(nil), nil },
		OpenCounter:          func(fi.CounterAttr) (fi.ResourceOps, error) { return d.opaque(acceptBind), nil },
		OpenEndpoint:         func(fi.Info) (fi.ResourceOps, error) { return d.opaque(acceptBind), nil },
		OpenScalableEndpoint: func(fi.Info) (fi.ResourceOps, error) { return d.opaque(acceptBind), nil },
		OpenPollSet:          func(fi.PollSetAttr) (fi.ResourceOps, error) { return d.opaque(nil), nil },
		OpenSharedTx:         d.openSharedTx,
		OpenSharedRx:         d.openSharedRx,
	}
}

// Registrar implements fi.DomainProvider.
func (d *domain) Registrar() fi.MemoryRegistrar { return d }

// Close implements fi.DomainProvider.
func (d *domain) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	leaked := len(d.regions)
	d.regions = nil
	d.mu.Unlock()
	d.p.open.Add(-1)
	children := d.children.Load()
	if leaked > 0 || children > 0 {
		return fi.ErrBusy.Wrapf("fi_close(domain)", "%d registrations and %d child resources still live", leaked, children)
	}
	return nil
}
