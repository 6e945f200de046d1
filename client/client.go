// Package client provides a high-level convenience layer over the fi
// package: one fabric, domain, event queue, address vector and buffer pool
// opened together and torn down together.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/provider/sockets"
)

// ErrClosed indicates the client has already been closed.
var ErrClosed = errors.New("libfabric client: closed")

const (
	defaultTimeout        = 5 * time.Second
	defaultMRPoolSize     = 4096
	defaultMRPoolCapacity = 32
)

// Client owns a domain and the resources hung off it.
type Client struct {
	cfg    Config
	fabric *fi.Fabric
	domain *fi.Domain
	eq     *fi.EventQueue
	av     *fi.AddressVector
	mrPool *fi.MRPool
	closed atomic.Bool

	logger           fi.Logger
	structuredLogger fi.StructuredLogger
	stats            clientStats
}

// Stats contains counters for client operations.
type Stats struct {
	PeersRegistered uint64
	PeersFailed     uint64
	PeersRemoved    uint64
	BuffersAcquired uint64
	BuffersReleased uint64
	KeysExported    uint64
	KeysImported    uint64
}

type clientStats struct {
	peersRegistered atomic.Uint64
	peersFailed     atomic.Uint64
	peersRemoved    atomic.Uint64
	buffersAcquired atomic.Uint64
	buffersReleased atomic.Uint64
	keysExported    atomic.Uint64
	keysImported    atomic.Uint64
}

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

func (c *Client) logEvent(event string, fields ...logField) {
	if c == nil {
		return
	}
	if c.structuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+2)
		kv = append(kv, "event", event)
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		c.structuredLogger.Debugw("libfabric client", kv...)
		return
	}
	if c.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	c.logger.Debugf("client %s", b.String())
}

// Dial discovers a compatible provider and prepares the client resources.
func Dial(cfg Config) (*Client, error) {
	if cfg.Provider == "" {
		cfg.Provider = sockets.Name
	}
	if cfg.EndpointType == fi.EndpointTypeUnspec {
		cfg.EndpointType = fi.EndpointTypeRDM
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.AVType == fi.AVTypeUnspec {
		cfg.AVType = fi.AVTypeMap
	}

	opts := []fi.DiscoverOption{fi.WithProvider(cfg.Provider), fi.WithEndpointType(cfg.EndpointType)}
	if cfg.Domain != "" {
		opts = append(opts, fi.WithDomain(cfg.Domain))
	}
	discovery, err := fi.DiscoverDescriptors(opts...)
	if err != nil {
		return nil, fmt.Errorf("discover descriptors: %w", err)
	}
	defer discovery.Close()

	descriptors := discovery.Descriptors()
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no descriptors found for provider %s", cfg.Provider)
	}
	selected := descriptors[0]

	structured := cfg.StructuredLogger
	if structured == nil {
		if logger, ok := cfg.Logger.(fi.StructuredLogger); ok {
			structured = logger
		}
	}
	if structured == nil && cfg.Logger == nil {
		structured = zap.NewNop().Sugar()
	}

	client := &Client{
		cfg:              cfg,
		logger:           cfg.Logger,
		structuredLogger: structured,
	}
	if err := client.open(selected); err != nil {
		return nil, multierr.Append(err, client.teardown())
	}
	client.logEvent("client_opened",
		logKV("provider", cfg.Provider),
		logKV("domain", client.domain.Info().Domain),
		logKV("av_type", cfg.AVType.String()),
		logKV("mr_pool_size", client.cfg.MRPoolSize),
	)
	return client, nil
}

func (c *Client) open(desc fi.Descriptor) error {
	cfg := c.cfg
	var err error

	c.fabric, err = desc.OpenFabric()
	if err != nil {
		return fmt.Errorf("open fabric: %w", err)
	}

	domainOpts := []fi.DomainOption{}
	if cfg.Logger != nil {
		domainOpts = append(domainOpts, fi.WithLogger(cfg.Logger))
	}
	if c.structuredLogger != nil {
		domainOpts = append(domainOpts, fi.WithStructuredLogger(c.structuredLogger))
	}
	if cfg.Tracer != nil {
		domainOpts = append(domainOpts, fi.WithTracer(cfg.Tracer))
	}
	if cfg.Metrics != nil {
		domainOpts = append(domainOpts, fi.WithMetrics(cfg.Metrics))
	}
	c.domain, err = desc.OpenDomain(c.fabric, domainOpts...)
	if err != nil {
		return fmt.Errorf("open domain: %w", err)
	}

	c.eq, err = c.fabric.OpenEventQueue(&fi.EventQueueAttr{Size: cfg.EventQueueSize})
	if err != nil {
		return fmt.Errorf("open event queue: %w", err)
	}
	if err := c.domain.Bind(c.eq, fi.BindRegMR); err != nil {
		return fmt.Errorf("bind event queue: %w", err)
	}

	c.av, err = c.domain.OpenAddressVector(&fi.AddressVectorAttr{
		Type:      cfg.AVType,
		Name:      cfg.AVName,
		Count:     cfg.AVSize,
		RXCtxBits: cfg.RXCtxBits,
	})
	if err != nil {
		return fmt.Errorf("open address vector: %w", err)
	}

	access := cfg.MRPoolAccess
	if access == 0 {
		access = fi.MRAccessLocal
	}
	poolSize := cfg.MRPoolSize
	if poolSize <= 0 {
		poolSize = defaultMRPoolSize
	}
	poolCapacity := cfg.MRPoolCapacity
	if poolCapacity <= 0 {
		poolCapacity = defaultMRPoolCapacity
	}
	c.mrPool, err = fi.NewMRPool(c.domain, poolSize, access, poolCapacity)
	if err != nil {
		return fmt.Errorf("create MR pool: %w", err)
	}
	c.cfg.MRPoolSize = poolSize
	c.cfg.MRPoolCapacity = poolCapacity
	c.cfg.MRPoolAccess = access
	return nil
}

// teardown closes every opened resource in reverse order.
func (c *Client) teardown() error {
	var err error
	if c.mrPool != nil {
		err = multierr.Append(err, c.mrPool.Close())
	}
	if c.av != nil {
		err = multierr.Append(err, c.av.Close())
	}
	if c.domain != nil {
		err = multierr.Append(err, c.domain.Close())
	}
	if c.eq != nil {
		err = multierr.Append(err, c.eq.Close())
	}
	if c.fabric != nil {
		err = multierr.Append(err, c.fabric.Close())
	}
	return err
}

// Close releases the underlying resources. Regions still held by the caller
// keep the domain busy and are reported in the returned error.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.teardown()
	c.logEvent("client_closed", logKV("error", err))
	return err
}

func (c *Client) ensureOpen() error {
	if c == nil {
		return ErrClosed
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Config returns the effective configuration after defaults were applied.
func (c *Client) Config() Config {
	return c.cfg
}

// Domain exposes the underlying domain.
func (c *Client) Domain() *fi.Domain {
	return c.domain
}

// AddressVector exposes the peer table.
func (c *Client) AddressVector() *fi.AddressVector {
	return c.av
}

// EventQueue exposes the queue receiving registration and asynchronous
// insertion events.
func (c *Client) EventQueue() *fi.EventQueue {
	return c.eq
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		PeersRegistered: c.stats.peersRegistered.Load(),
		PeersFailed:     c.stats.peersFailed.Load(),
		PeersRemoved:    c.stats.peersRemoved.Load(),
		BuffersAcquired: c.stats.buffersAcquired.Load(),
		BuffersReleased: c.stats.buffersReleased.Load(),
		KeysExported:    c.stats.keysExported.Load(),
		KeysImported:    c.stats.keysImported.Load(),
	}
}

func (c *Client) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// RegisterPeer inserts one raw peer address.
func (c *Client) RegisterPeer(raw []byte) (fi.Address, error) {
	if err := c.ensureOpen(); err != nil {
		return fi.AddressUnspecified, err
	}
	addr, err := c.av.InsertRaw(raw, 0)
	c.countPeers(addr, err)
	return addr, err
}

// RegisterPeers inserts a batch of raw addresses. Failed entries are reported
// per index in the result.
func (c *Client) RegisterPeers(raws [][]byte) (fi.InsertResult, error) {
	if err := c.ensureOpen(); err != nil {
		return fi.InsertResult{}, err
	}
	res, err := c.av.Insert(raws, fi.FlagSyncErr)
	c.stats.peersRegistered.Add(uint64(res.Inserted))
	c.stats.peersFailed.Add(uint64(len(res.Addresses) - res.Inserted))
	return res, err
}

// RegisterPeersAsync queues a batch insertion. Per-entry results and a final
// completion are delivered on EventQueue tagged with the returned sequence.
func (c *Client) RegisterPeersAsync(raws [][]byte, reqCtx any) (uint64, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	res, err := c.av.InsertWithContext(raws, fi.FlagEvent, reqCtx)
	if err != nil {
		return 0, err
	}
	return res.Seq, nil
}

// RegisterPeerService resolves node and service and inserts the result. The
// client timeout applies when ctx has no deadline.
func (c *Client) RegisterPeerService(ctx context.Context, node, service string) (fi.Address, error) {
	if err := c.ensureOpen(); err != nil {
		return fi.AddressUnspecified, err
	}
	ctx, cancel := c.operationContext(ctx)
	defer cancel()
	addr, err := c.av.InsertServiceContext(ctx, node, service, 0)
	c.countPeers(addr, err)
	if err != nil {
		c.logEvent("peer_service_failed", logKV("node", node), logKV("service", service), logKV("error", err))
		return addr, err
	}
	c.logEvent("peer_registered", logKV("node", node), logKV("service", service), logKV("addr", addr))
	return addr, nil
}

// RegisterPeerGroup inserts nodeCount x serviceCount peers using symmetric
// naming starting at node and service.
func (c *Client) RegisterPeerGroup(ctx context.Context, node string, nodeCount int, service string, serviceCount int) (fi.InsertResult, error) {
	if err := c.ensureOpen(); err != nil {
		return fi.InsertResult{}, err
	}
	ctx, cancel := c.operationContext(ctx)
	defer cancel()
	res, err := c.av.InsertSymmetricContext(ctx, node, nodeCount, service, serviceCount, fi.FlagSyncErr)
	c.stats.peersRegistered.Add(uint64(res.Inserted))
	c.stats.peersFailed.Add(uint64(len(res.Addresses) - res.Inserted))
	c.logEvent("peer_group_registered",
		logKV("node", node),
		logKV("nodes", nodeCount),
		logKV("services", serviceCount),
		logKV("inserted", res.Inserted),
	)
	return res, err
}

func (c *Client) countPeers(addr fi.Address, err error) {
	if err != nil || addr == fi.AddressUnspecified {
		c.stats.peersFailed.Add(1)
		return
	}
	c.stats.peersRegistered.Add(1)
}

// RemovePeer drops peers from the address vector.
func (c *Client) RemovePeer(addrs ...fi.Address) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if err := c.av.Remove(addrs, 0); err != nil {
		return err
	}
	c.stats.peersRemoved.Add(uint64(len(addrs)))
	return nil
}

// PeerAddress renders the address stored for addr.
func (c *Client) PeerAddress(addr fi.Address) (string, error) {
	if err := c.ensureOpen(); err != nil {
		return "", err
	}
	raw, err := c.av.Lookup(addr)
	if err != nil {
		return "", err
	}
	return c.av.StrAddr(raw), nil
}

// NextEvent blocks until an event arrives on the client event queue.
func (c *Client) NextEvent(ctx context.Context) (fi.Event, error) {
	if err := c.ensureOpen(); err != nil {
		return fi.Event{}, err
	}
	ctx, cancel := c.operationContext(ctx)
	defer cancel()
	return c.eq.ReadContext(ctx)
}

// Acquire hands out a zeroed, registered buffer from the pool.
func (c *Client) Acquire() (*fi.MemoryRegion, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	mr, err := c.mrPool.Acquire()
	if err != nil {
		return nil, err
	}
	c.stats.buffersAcquired.Add(1)
	return mr, nil
}

// Release returns a buffer obtained from Acquire. Buffers released after
// Close are deregistered.
func (c *Client) Release(mr *fi.MemoryRegion) {
	if c == nil || mr == nil {
		return
	}
	c.mrPool.Release(mr)
	c.stats.buffersReleased.Add(1)
}

// RegisterBuffer registers caller memory for remote access. The configured
// auth key, if any, is attached to the region.
func (c *Client) RegisterBuffer(buf []byte, access fi.MRAccessFlag) (*fi.MemoryRegion, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	return c.domain.RegisterMemoryAttr(&fi.MRAttr{
		Segments: [][]byte{buf},
		Access:   access,
		AuthKey:  c.cfg.AuthKey,
	})
}

// ExportKey returns the base address and raw key material of mr for
// delivery to a peer.
func (c *Client) ExportKey(mr *fi.MemoryRegion) (uint64, []byte, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, nil, err
	}
	base, raw, err := mr.RawAttr(0)
	if err != nil {
		return 0, nil, err
	}
	c.stats.keysExported.Add(1)
	return base, raw, nil
}

// ImportKey maps key material received from a peer and returns the local key.
func (c *Client) ImportKey(base uint64, raw []byte) (uint64, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	key, err := c.domain.MapRawKey(base, raw, len(raw), 0)
	if err != nil {
		return 0, err
	}
	c.stats.keysImported.Add(1)
	return key, nil
}

// ReleaseKey unmaps a key returned by ImportKey.
func (c *Client) ReleaseKey(key uint64) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.domain.UnmapKey(key)
}
