package fi

import (
	"context"
	"encoding/binary"
	"net/netip"
	"sync"
	"testing"

	"github.com/rocketbitz/fidomain/internal/avtable"
	"github.com/rocketbitz/fidomain/internal/errno"
	"github.com/rocketbitz/fidomain/internal/rawkey"
	"github.com/rocketbitz/fidomain/internal/resolve"
	"github.com/rocketbitz/fidomain/internal/sockaddr"
)

// testProvider is an in-memory provider used to exercise the domain core.
type testProvider struct {
	name    string
	info    Info
	shared  *avtable.Shared
	noRaw   bool
	trimOps func(*DomainOps)
	// gate, when set, blocks address vector insertion until closed.
	gate chan struct{}

	mu      sync.Mutex
	domains []*testDomain
}

func newTestProvider(name string) *testProvider {
	return &testProvider{
		name: name,
		info: Info{
			Provider:       name,
			Fabric:         "test-fabric",
			Domain:         "test0",
			Caps:           CapMsg | CapRMA | CapAtomic | CapRemoteRead | CapRemoteWrite,
			Endpoint:       EndpointTypeRDM,
			MRMode:         uint64(MRModeRaw | MRModeLocal),
			MRKeySize:      rawkey.MaxSize,
			MRIovLimit:     4,
			MaxAuthKeySize: 64,
			AVType:         AVTypeTable,
		},
		shared: avtable.NewShared(),
	}
}

func (p *testProvider) Name() string     { return p.name }
func (p *testProvider) Version() Version { return APIVersion }
func (p *testProvider) Info() []Info     { return []Info{p.info} }

func (p *testProvider) OpenDomain(info Info) (DomainProvider, error) {
	td := &testDomain{p: p, regions: make(map[uint64]RegionSpec)}
	p.mu.Lock()
	p.domains = append(p.domains, td)
	p.mu.Unlock()
	return td, nil
}

type testDomain struct {
	p       *testProvider
	mu      sync.Mutex
	regions map[uint64]RegionSpec
	closed  bool
	bound   []uint64
}

func opaqueOps() (ResourceOps, error) {
	return ResourceOps{Close: func() error { return nil }}, nil
}

func (td *testDomain) Ops() DomainOps {
	ops := DomainOps{
		OpenAV:       td.openAV,
		OpenCQ:       func(CompletionQueueAttr) (ResourceOps, error) { return opaqueOps() },
		OpenCounter:  func(CounterAttr) (ResourceOps, error) { return td.counterOps() },
		OpenEndpoint: func(Info) (ResourceOps, error) { return opaqueOps() },
		OpenPollSet:  func(PollSetAttr) (ResourceOps, error) { return opaqueOps() },
		OpenSharedTx: func(TxContextAttr) (ResourceOps, error) { return opaqueOps() },
		OpenSharedRx: func(RxContextAttr) (ResourceOps, error) { return opaqueOps() },
	}
	if td.p.trimOps != nil {
		td.p.trimOps(&ops)
	}
	return ops
}

func (td *testDomain) counterOps() (ResourceOps, error) {
	return ResourceOps{
		Close: func() error { return nil },
		Bind: func(target *Resource, flags uint64) error {
			td.mu.Lock()
			td.bound = append(td.bound, flags)
			td.mu.Unlock()
			return nil
		},
	}, nil
}

func (td *testDomain) Registrar() MemoryRegistrar {
	if td.p.noRaw {
		return plainRegistrar{td}
	}
	return td
}

func (td *testDomain) Close() error {
	td.mu.Lock()
	td.closed = true
	td.mu.Unlock()
	return nil
}

func (td *testDomain) RegisterMemory(spec RegionSpec) ([]byte, error) {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.regions[spec.Key] = spec
	desc := make([]byte, 8)
	binary.LittleEndian.PutUint64(desc, spec.Key)
	return desc, nil
}

func (td *testDomain) DeregisterMemory(key uint64) error {
	td.mu.Lock()
	defer td.mu.Unlock()
	if _, ok := td.regions[key]; !ok {
		return errno.ErrNotFound.WithOp("test deregister")
	}
	delete(td.regions, key)
	return nil
}

func (td *testDomain) ExportRawKey(info KeyInfo) ([]byte, error) {
	return rawkey.Encode(rawkey.Material{
		RemoteKey:  info.RemoteKey,
		Base:       info.Base,
		Length:     info.Length,
		Access:     uint64(info.Access),
		AuthDigest: info.AuthDigest,
	})
}

func (td *testDomain) ImportRawKey(raw []byte) (ImportedKey, error) {
	m, err := rawkey.Decode(raw)
	if err != nil {
		return ImportedKey{}, err
	}
	return ImportedKey{RemoteKey: m.RemoteKey, Length: m.Length, Access: MRAccessFlag(m.Access), AuthDigest: m.AuthDigest}, nil
}

// plainRegistrar hides the raw key methods.
type plainRegistrar struct {
	td *testDomain
}

func (r plainRegistrar) RegisterMemory(spec RegionSpec) ([]byte, error) { return r.td.RegisterMemory(spec) }
func (r plainRegistrar) DeregisterMemory(key uint64) error              { return r.td.DeregisterMemory(key) }

func (td *testDomain) openAV(attr AddressVectorAttr) (AddressVectorProvider, error) {
	mode := avtable.ModeMap
	if attr.Type == AVTypeTable {
		mode = avtable.ModeTable
	}
	opts := avtable.Options{Mode: mode, RXCtxBits: attr.RXCtxBits, Capacity: attr.Count, Validate: sockaddr.Validate}
	av := &testAV{gate: td.p.gate}
	if attr.Name != "" {
		openShared := td.p.shared.Open
		if attr.Flags&FlagRead != 0 {
			openShared = td.p.shared.Attach
		}
		h, err := openShared(attr.Name, attr.MapAddr, opts)
		if err != nil {
			return nil, err
		}
		av.table, av.handle = h.Table, h
		return av, nil
	}
	table, err := avtable.New(opts)
	if err != nil {
		return nil, err
	}
	av.table = table
	return av, nil
}

type testAV struct {
	table  *avtable.Table
	handle *avtable.Handle
	gate   chan struct{}
}

func toAddresses(in []uint64) []Address {
	out := make([]Address, len(in))
	for i, v := range in {
		out[i] = Address(v)
	}
	return out
}

func (a *testAV) Insert(addrs [][]byte, flags uint64) ([]Address, []error) {
	if a.gate != nil {
		<-a.gate
	}
	out, errs := a.table.Insert(addrs)
	return toAddresses(out), errs
}

func (a *testAV) InsertService(ctx context.Context, node, service string, flags uint64) (Address, error) {
	ap, err := resolve.System{}.Resolve(ctx, node, service)
	if err != nil {
		return AddressUnspecified, err
	}
	addr, err := a.table.InsertOne(sockaddr.Encode(ap))
	return Address(addr), err
}

func (a *testAV) InsertSymmetric(ctx context.Context, node string, nodeCount int, service string, serviceCount int, flags uint64) ([]Address, []error, error) {
	policy := resolve.PolicyPerEntry
	if flags&FlagSymmetric != 0 {
		policy = resolve.PolicyTemplated
	}
	aps, errs, err := resolve.Symmetric(ctx, resolve.System{}, resolve.SymmetricRequest{
		Node: node, NodeCount: nodeCount, Service: service, ServiceCount: serviceCount, Policy: policy,
	})
	if err != nil {
		return nil, nil, err
	}
	out := make([]Address, len(aps))
	for i, ap := range aps {
		if errs[i] != nil {
			out[i] = AddressUnspecified
			continue
		}
		addr, insErr := a.table.InsertOne(sockaddr.Encode(ap))
		out[i], errs[i] = Address(addr), insErr
	}
	return out, errs, nil
}

func (a *testAV) Remove(addrs []Address, flags uint64) error {
	raw := make([]uint64, len(addrs))
	for i, addr := range addrs {
		raw[i] = uint64(addr)
	}
	a.table.Remove(raw)
	return nil
}

func (a *testAV) Lookup(addr Address) ([]byte, error) { return a.table.Lookup(uint64(addr)) }
func (a *testAV) StrAddr(raw []byte) string            { return sockaddr.Format(raw) }

func (a *testAV) MapAddr() uint64 {
	if a.handle == nil {
		return 0
	}
	return a.handle.MapAddr
}

func (a *testAV) Close() error {
	if a.handle != nil {
		return a.handle.Close()
	}
	return nil
}

func registerTestProvider(t *testing.T, mutate func(*testProvider)) *testProvider {
	t.Helper()
	p := newTestProvider("test-" + t.Name())
	if mutate != nil {
		mutate(p)
	}
	if err := Register(p); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	t.Cleanup(func() { Unregister(p.name) })
	return p
}

func setupTestResources(t *testing.T, mutate func(*testProvider), opts ...DomainOption) (Descriptor, *Fabric, *Domain) {
	t.Helper()
	p := registerTestProvider(t, mutate)

	discovery, err := DiscoverDescriptors(WithProvider(p.name))
	if err != nil {
		t.Fatalf("DiscoverDescriptors failed: %v", err)
	}
	t.Cleanup(discovery.Close)
	descs := discovery.Descriptors()
	if len(descs) != 1 {
		t.Fatalf("expected one descriptor, got %d", len(descs))
	}
	desc := descs[0]

	fabric, err := desc.OpenFabric()
	if err != nil {
		t.Fatalf("OpenFabric failed: %v", err)
	}
	domain, err := desc.OpenDomain(fabric, opts...)
	if err != nil {
		_ = fabric.Close()
		t.Fatalf("OpenDomain failed: %v", err)
	}
	t.Cleanup(func() {
		_ = domain.Close()
		_ = fabric.Close()
	})
	return desc, fabric, domain
}

func sockaddrFor(t *testing.T, s string) []byte {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("ParseAddrPort(%q): %v", s, err)
	}
	return sockaddr.Encode(ap)
}
