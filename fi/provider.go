package fi

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider plugs a transport implementation into the domain core.
type Provider interface {
	Name() string
	Version() Version
	// Info lists the fabric/domain combinations the provider can open.
	Info() []Info
	// OpenDomain returns the provider side of a domain described by info.
	OpenDomain(info Info) (DomainProvider, error)
}

// DomainProvider is the provider state behind one open domain.
type DomainProvider interface {
	Ops() DomainOps
	Registrar() MemoryRegistrar
	Close() error
}

// DomainOps is the dispatch table of factory operations a provider exposes
// for a domain. Nil entries are reported as ErrNotSupported.
type DomainOps struct {
	OpenAV               func(attr AddressVectorAttr) (AddressVectorProvider, error)
	OpenCQ               func(attr CompletionQueueAttr) (ResourceOps, error)
	OpenCounter          func(attr CounterAttr) (ResourceOps, error)
	OpenEndpoint         func(info Info) (ResourceOps, error)
	OpenScalableEndpoint func(info Info) (ResourceOps, error)
	OpenPollSet          func(attr PollSetAttr) (ResourceOps, error)
	OpenSharedTx         func(attr TxContextAttr) (ResourceOps, error)
	OpenSharedRx         func(attr RxContextAttr) (ResourceOps, error)
}

// AddressVectorProvider is the provider side of an address vector. The core
// validates arguments, masks receive context bits and delivers asynchronous
// completions; implementations only translate.
type AddressVectorProvider interface {
	// Insert returns one address and one error slot per input.
	Insert(addrs [][]byte, flags uint64) ([]Address, []error)
	InsertService(ctx context.Context, node, service string, flags uint64) (Address, error)
	// InsertSymmetric expands node-major; per-entry failures go in the error
	// slice and the final error reports a malformed request.
	InsertSymmetric(ctx context.Context, node string, nodeCount int, service string, serviceCount int, flags uint64) ([]Address, []error, error)
	Remove(addrs []Address, flags uint64) error
	Lookup(addr Address) ([]byte, error)
	StrAddr(raw []byte) string
	// MapAddr identifies a shared table; zero for private tables.
	MapAddr() uint64
	Close() error
}

// RegionSpec describes a registration handed to the provider.
type RegionSpec struct {
	Key      uint64
	Base     uint64
	Length   uint64
	Access   MRAccessFlag
	Segments [][]byte
	AuthKey  []byte
	Flags    uint64
}

// MemoryRegistrar pins and describes memory for the provider's data path.
type MemoryRegistrar interface {
	// RegisterMemory returns the local descriptor for spec.
	RegisterMemory(spec RegionSpec) ([]byte, error)
	DeregisterMemory(key uint64) error
}

// ImportedKey is the material recovered from a raw key blob.
type ImportedKey struct {
	RemoteKey  uint64
	Length     uint64
	Access     MRAccessFlag
	AuthDigest []byte
}

// RawKeyProvider is implemented by registrars that can externalize key
// material for out-of-band exchange.
type RawKeyProvider interface {
	ExportRawKey(info KeyInfo) ([]byte, error)
	ImportRawKey(raw []byte) (ImportedKey, error)
}

var registry = struct {
	mu        sync.RWMutex
	providers map[string]Provider
}{providers: make(map[string]Provider)}

// Register makes a provider available to discovery. Providers usually call it
// from an init function.
func Register(p Provider) error {
	if p == nil || p.Name() == "" {
		return ErrInvalidArgument.Wrapf("fi_register", "provider requires a name")
	}
	if err := p.Version().EnsureCompatible(Version{Major: APIVersion.Major}); err != nil {
		return ErrNotSupported.Wrapf("fi_register", "%v", err)
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.providers[p.Name()]; ok {
		return ErrBusy.Wrapf("fi_register", "provider %q already registered", p.Name())
	}
	registry.providers[p.Name()] = p
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(p Provider) {
	if err := Register(p); err != nil {
		panic(fmt.Sprintf("libfabric: %v", err))
	}
}

// Unregister removes a provider by name.
func Unregister(name string) {
	registry.mu.Lock()
	delete(registry.providers, name)
	registry.mu.Unlock()
}

// Providers returns the registered provider names in sorted order.
func Providers() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupProvider returns a registered provider.
func LookupProvider(name string) (Provider, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	p, ok := registry.providers[name]
	return p, ok
}
