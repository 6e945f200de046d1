package fi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// AVType selects the address vector addressing mode.
type AVType int

const (
	// AVTypeUnspec requests the provider's default address vector implementation.
	AVTypeUnspec AVType = iota
	// AVTypeMap hands out opaque handles that are never reused.
	AVTypeMap
	// AVTypeTable hands out compact indices and reuses freed slots.
	AVTypeTable
)

func (t AVType) String() string {
	switch t {
	case AVTypeUnspec:
		return "unspec"
	case AVTypeMap:
		return "map"
	case AVTypeTable:
		return "table"
	default:
		return fmt.Sprintf("AVType(%d)", int(t))
	}
}

// Address represents an fi_addr_t assigned by an address vector.
type Address uint64

const (
	// AddressUnspecified represents an invalid or unspecified remote address
	// (FI_ADDR_NOTAVAIL).
	AddressUnspecified = ^Address(0)
)

// AddressVectorAttr mirrors libfabric fi_av_attr for configuration.
type AddressVectorAttr struct {
	Type AVType
	// RXCtxBits reserves the top bits of every fabric address for a receive
	// context index.
	RXCtxBits int
	// Count is a capacity hint.
	Count int
	// EPPerNode is the default service fan-out for symmetric insertion.
	EPPerNode int
	// Name opens or attaches to a process-shared table.
	Name string
	// MapAddr attaches to an existing shared table when non-zero.
	MapAddr uint64
	// Flags accepts FlagEvent and FlagRead.
	Flags uint64
}

const avAttrFlags = FlagEvent | FlagRead

func (a AddressVectorAttr) validate() error {
	if a.Type < AVTypeUnspec || a.Type > AVTypeTable {
		return ErrInvalidArgument.Wrapf("fi_av_open", "unknown type %d", a.Type)
	}
	if a.RXCtxBits < 0 || a.RXCtxBits > 63 {
		return ErrInvalidArgument.Wrapf("fi_av_open", "rx_ctx_bits %d out of range", a.RXCtxBits)
	}
	if a.Count < 0 || a.EPPerNode < 0 {
		return ErrInvalidArgument.Wrapf("fi_av_open", "count %d ep_per_node %d", a.Count, a.EPPerNode)
	}
	if a.Flags&^avAttrFlags != 0 {
		return ErrInvalidArgument.Wrapf("fi_av_open", "unsupported flags 0x%x", a.Flags)
	}
	if a.MapAddr != 0 && a.Name == "" {
		return ErrInvalidArgument.Wrapf("fi_av_open", "map_addr requires a name")
	}
	if a.Flags&FlagRead != 0 && a.Name == "" {
		return ErrInvalidArgument.Wrapf("fi_av_open", "FI_READ requires a shared table name")
	}
	return nil
}

// InsertResult reports the outcome of a batch insertion.
type InsertResult struct {
	// Addresses holds one entry per input; failures hold AddressUnspecified.
	Addresses []Address
	// Errors holds one entry per input; nil marks success.
	Errors   []error
	Inserted int
	// Pending is set for asynchronous requests; results arrive as events
	// tagged with Seq.
	Pending bool
	Seq     uint64
}

// Err combines the per-entry errors.
func (r InsertResult) Err() error {
	return multierr.Combine(r.Errors...)
}

// AddressVector translates raw and symbolic addresses into fabric addresses.
type AddressVector struct {
	res      *Resource
	domain   *Domain
	attr     AddressVectorAttr
	provider AddressVectorProvider
	mask     Address

	mu      sync.RWMutex
	closing bool
	eq      *EventQueue
	seq     atomic.Uint64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// OpenAddressVector opens an address vector on the domain.
func (d *Domain) OpenAddressVector(attr *AddressVectorAttr, opts ...ResourceOption) (*AddressVector, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	if d.ops.OpenAV == nil {
		return nil, ErrNotSupported.Wrapf("fi_av_open", "provider %q does not implement address vectors", d.info.Provider)
	}
	var a AddressVectorAttr
	if attr != nil {
		a = *attr
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	if a.Type == AVTypeUnspec {
		a.Type = d.info.AVType
		if a.Type == AVTypeUnspec {
			a.Type = AVTypeMap
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	provider, err := d.ops.OpenAV(a)
	if err != nil {
		return nil, err
	}
	cfg := applyResourceOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	av := &AddressVector{
		domain:   d,
		attr:     a,
		provider: provider,
		mask:     ^Address(0) >> uint(a.RXCtxBits),
		ctx:      ctx,
		cancel:   cancel,
	}
	av.res = newResource(ClassAddressVector, ResourceOps{Close: av.shutdown}, d.fabric, d, cfg.context)
	av.res.owner = av
	d.adopt(av)
	d.obs.log("av_opened", logKV(LabelAVType, a.Type.String()), logKV("name", a.Name), logKV("rx_ctx_bits", a.RXCtxBits))
	return av, nil
}

// Fid returns the resource header.
func (a *AddressVector) Fid() *Resource {
	if a == nil {
		return nil
	}
	return a.res
}

// Attr returns the effective attributes, with Type resolved.
func (a *AddressVector) Attr() AddressVectorAttr {
	if a == nil {
		return AddressVectorAttr{}
	}
	return a.attr
}

// MapAddr identifies the shared table behind a named address vector.
func (a *AddressVector) MapAddr() uint64 {
	if a == nil || a.provider == nil {
		return 0
	}
	return a.provider.MapAddr()
}

// Close cancels outstanding asynchronous insertions, waits for them to stop
// and releases the address vector. No events are posted after Close returns.
func (a *AddressVector) Close() error {
	if a == nil || a.res == nil {
		return nil
	}
	return a.res.release()
}

func (a *AddressVector) shutdown() error {
	a.mu.Lock()
	a.closing = true
	a.cancel()
	eq := a.eq
	a.eq = nil
	a.mu.Unlock()

	a.wg.Wait()
	err := a.provider.Close()
	if eq != nil {
		eq.releaseRef()
	}
	a.domain.obs.log("av_closed", logKV(LabelAVType, a.attr.Type.String()))
	return err
}

func (a *AddressVector) live() bool {
	return a != nil && a.res != nil && !a.res.Closed()
}

// Bind attaches an event queue that receives asynchronous insertion events
// (fi_av_bind). Without one, the domain's event queue is used.
func (a *AddressVector) Bind(eq *EventQueue, flags uint64) error {
	if !a.live() {
		return ErrInvalidHandle{"address vector"}
	}
	if eq == nil || eq.res == nil {
		return ErrInvalidArgument.Wrapf("fi_av_bind", "nil event queue")
	}
	if eq.fabric != a.domain.fabric {
		return ErrInvalidArgument.Wrapf("fi_av_bind", "event queue belongs to another fabric")
	}
	if flags != 0 {
		return ErrInvalidArgument.Wrapf("fi_av_bind", "unsupported flags 0x%x", flags)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eq == eq {
		return nil
	}
	if a.eq != nil {
		return ErrBusy.Wrapf("fi_av_bind", "address vector already bound to an event queue")
	}
	if err := eq.acquire(); err != nil {
		return err
	}
	a.eq = eq
	return nil
}

func (a *AddressVector) eventTarget() *EventQueue {
	a.mu.RLock()
	eq := a.eq
	a.mu.RUnlock()
	if eq != nil {
		return eq
	}
	return a.domain.EventQueue()
}

func (a *AddressVector) async(flags uint64) bool {
	return (a.attr.Flags|flags)&FlagEvent != 0
}

func (a *AddressVector) checkWritable(op string) error {
	if a.attr.Flags&FlagRead != 0 {
		return ErrNotSupported.Wrapf(op, "address vector %q is read-only", a.attr.Name)
	}
	return nil
}

type insertWork func(ctx context.Context) ([]Address, []error, error)

// submit runs work on a goroutine and posts one EventAVInsert per entry and a
// final EventAVComplete to the event target. Room for count entries plus the
// completion is reserved up front; a full queue fails the call with
// ErrOverrun before any work starts.
func (a *AddressVector) submit(op string, count int, work insertWork, reqCtx any) (InsertResult, error) {
	eq := a.eventTarget()
	if eq == nil {
		return InsertResult{}, ErrNoEQ.Wrapf(op, "asynchronous insertion requires a bound event queue")
	}
	a.mu.RLock()
	if a.closing {
		a.mu.RUnlock()
		return InsertResult{}, ErrInvalidHandle{"address vector"}
	}
	a.wg.Add(1)
	a.mu.RUnlock()

	slots := count + 1
	if err := eq.reserve(slots); err != nil {
		a.wg.Done()
		a.domain.obs.log("av_insert_rejected", logKV(LabelOperation, op), logKV("count", count), logKV("error", err))
		return InsertResult{}, err
	}

	seq := a.seq.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { eq.unreserve(slots) }()
		deliver := func(ev Event) {
			var postErr error
			if slots > 0 {
				slots--
				postErr = eq.postReserved(ev)
			} else {
				postErr = eq.post(ev)
			}
			if postErr != nil {
				a.domain.obs.log("av_event_dropped", logKV(LabelOperation, op), logKV("seq", seq), logKV("error", postErr))
			}
		}

		ctx := a.ctx
		addrs, errs, err := work(ctx)
		if ctx.Err() != nil {
			return
		}
		inserted := 0
		for i := range addrs {
			if ctx.Err() != nil {
				return
			}
			var entryErr error
			if i < len(errs) {
				entryErr = errs[i]
			}
			if entryErr == nil {
				inserted++
			}
			if slots == 1 {
				// Keep the last slot for the completion.
				a.domain.obs.log("av_event_dropped", logKV(LabelOperation, op), logKV("seq", seq), logKV("index", i))
				continue
			}
			deliver(Event{Kind: EventAVInsert, Resource: a.res, Context: reqCtx, Seq: seq, Index: i, Address: addrs[i], Err: entryErr})
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil && inserted == 0 && len(addrs) > 0 {
			err = multierr.Combine(errs...)
		}
		a.record(op, inserted, len(addrs)-inserted, err)
		deliver(Event{Kind: EventAVComplete, Resource: a.res, Context: reqCtx, Seq: seq, Data: uint64(inserted), Err: err})
	}()
	return InsertResult{Pending: true, Seq: seq}, nil
}

func (a *AddressVector) record(op string, inserted, failed int, err error) {
	obs := a.domain.obs
	obs.avInserted(inserted, logKV(LabelOperation, op), logKV(LabelAVType, a.attr.Type.String()))
	obs.avInsertFailed(failed, err, logKV(LabelOperation, op), logKV(LabelAVType, a.attr.Type.String()))
	obs.log(op, logKV("inserted", inserted), logKV("failed", failed))
}

func (a *AddressVector) finish(op string, addrs []Address, errs []error, span Span) (InsertResult, error) {
	res := InsertResult{Addresses: addrs, Errors: errs}
	for i := range addrs {
		if i < len(errs) && errs[i] != nil {
			addrs[i] = AddressUnspecified
			continue
		}
		res.Inserted++
	}
	var err error
	if res.Inserted == 0 && len(addrs) > 0 {
		err = multierr.Combine(errs...)
	}
	a.record(op, res.Inserted, len(addrs)-res.Inserted, err)
	span.End(err)
	return res, err
}

// Insert adds raw addresses. Existing addresses return their current fabric
// address. Per-entry failures are reported in the result; the error is set
// only when every entry fails. With FlagEvent, on the call or the attributes,
// the insertion completes asynchronously through the bound event queue.
func (a *AddressVector) Insert(addrs [][]byte, flags uint64) (InsertResult, error) {
	return a.InsertWithContext(addrs, flags, nil)
}

// InsertWithContext is Insert with caller data attached to the completion
// events.
func (a *AddressVector) InsertWithContext(addrs [][]byte, flags uint64, reqCtx any) (InsertResult, error) {
	if !a.live() {
		return InsertResult{}, ErrInvalidHandle{"address vector"}
	}
	return a.insert(addrs, flags, reqCtx, a.async(flags))
}

func (a *AddressVector) insert(addrs [][]byte, flags uint64, reqCtx any, async bool) (InsertResult, error) {
	if !a.live() {
		return InsertResult{}, ErrInvalidHandle{"address vector"}
	}
	if flags&^(FlagEvent|FlagSyncErr|FlagMore) != 0 {
		return InsertResult{}, ErrInvalidArgument.Wrapf("fi_av_insert", "unsupported flags 0x%x", flags)
	}
	if err := a.checkWritable("fi_av_insert"); err != nil {
		return InsertResult{}, err
	}
	if len(addrs) == 0 {
		return InsertResult{}, nil
	}
	batch := make([][]byte, len(addrs))
	copy(batch, addrs)
	providerFlags := flags &^ FlagEvent

	if async {
		return a.submit("fi_av_insert", len(batch), func(context.Context) ([]Address, []error, error) {
			out, errs := a.provider.Insert(batch, providerFlags)
			return out, errs, nil
		}, reqCtx)
	}

	span := a.domain.obs.span("fi_av_insert", TraceAttribute{Key: "count", Value: len(batch)})
	out, errs := a.provider.Insert(batch, providerFlags)
	return a.finish("fi_av_insert", out, errs, span)
}

// InsertRaw inserts a single provider-specific address synchronously, even
// on an address vector opened with FlagEvent.
func (a *AddressVector) InsertRaw(addr []byte, flags uint64) (Address, error) {
	if len(addr) == 0 {
		return AddressUnspecified, ErrInvalidArgument.Wrapf("fi_av_insert", "empty address payload")
	}
	res, err := a.insert([][]byte{addr}, flags&^FlagEvent, nil, false)
	if err != nil {
		return AddressUnspecified, err
	}
	if len(res.Errors) == 0 {
		return AddressUnspecified, ErrInvalidArgument.Wrapf("fi_av_insert", "no result for address")
	}
	if res.Errors[0] != nil {
		return AddressUnspecified, res.Errors[0]
	}
	return res.Addresses[0], nil
}

// InsertService resolves and inserts a node/service pair into the AV.
func (a *AddressVector) InsertService(node, service string, flags uint64) (Address, error) {
	return a.InsertServiceContext(context.Background(), node, service, flags)
}

// InsertServiceContext is InsertService with a resolution deadline. It always
// completes synchronously.
func (a *AddressVector) InsertServiceContext(ctx context.Context, node, service string, flags uint64) (Address, error) {
	if !a.live() {
		return AddressUnspecified, ErrInvalidHandle{"address vector"}
	}
	if node == "" || service == "" {
		return AddressUnspecified, ErrInvalidArgument.Wrapf("fi_av_insertsvc", "node and service are required")
	}
	if flags&^(FlagSyncErr|FlagMore) != 0 {
		return AddressUnspecified, ErrInvalidArgument.Wrapf("fi_av_insertsvc", "unsupported flags 0x%x", flags)
	}
	if err := a.checkWritable("fi_av_insertsvc"); err != nil {
		return AddressUnspecified, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	span := a.domain.obs.span("fi_av_insertsvc",
		TraceAttribute{Key: "node", Value: node},
		TraceAttribute{Key: "service", Value: service})
	addr, err := a.provider.InsertService(ctx, node, service, flags)
	if err != nil {
		addr = AddressUnspecified
		a.record("fi_av_insertsvc", 0, 1, err)
	} else {
		a.record("fi_av_insertsvc", 1, 0, nil)
	}
	span.End(err)
	return addr, err
}

// InsertSymmetric inserts nodeCount*serviceCount addresses in node-major
// order. A zero serviceCount uses the attribute EPPerNode, at least one.
func (a *AddressVector) InsertSymmetric(node string, nodeCount int, service string, serviceCount int, flags uint64) (InsertResult, error) {
	return a.InsertSymmetricContext(context.Background(), node, nodeCount, service, serviceCount, flags)
}

// InsertSymmetricContext is InsertSymmetric with a resolution deadline for
// synchronous requests. Asynchronous requests are bounded by Close.
func (a *AddressVector) InsertSymmetricContext(ctx context.Context, node string, nodeCount int, service string, serviceCount int, flags uint64) (InsertResult, error) {
	if !a.live() {
		return InsertResult{}, ErrInvalidHandle{"address vector"}
	}
	if node == "" || service == "" {
		return InsertResult{}, ErrInvalidArgument.Wrapf("fi_av_insertsym", "node and service are required")
	}
	if nodeCount <= 0 || serviceCount < 0 {
		return InsertResult{}, ErrInvalidArgument.Wrapf("fi_av_insertsym", "node count %d service count %d", nodeCount, serviceCount)
	}
	if flags&^(FlagEvent|FlagSyncErr|FlagMore|FlagSymmetric) != 0 {
		return InsertResult{}, ErrInvalidArgument.Wrapf("fi_av_insertsym", "unsupported flags 0x%x", flags)
	}
	if err := a.checkWritable("fi_av_insertsym"); err != nil {
		return InsertResult{}, err
	}
	if serviceCount == 0 {
		serviceCount = a.attr.EPPerNode
		if serviceCount < 1 {
			serviceCount = 1
		}
	}
	providerFlags := flags &^ FlagEvent

	if a.async(flags) {
		return a.submit("fi_av_insertsym", nodeCount*serviceCount, func(workCtx context.Context) ([]Address, []error, error) {
			return a.provider.InsertSymmetric(workCtx, node, nodeCount, service, serviceCount, providerFlags)
		}, nil)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	span := a.domain.obs.span("fi_av_insertsym",
		TraceAttribute{Key: "node", Value: node},
		TraceAttribute{Key: "node_count", Value: nodeCount},
		TraceAttribute{Key: "service_count", Value: serviceCount},
		TraceAttribute{Key: "symmetric", Value: flags&FlagSymmetric != 0})
	out, errs, err := a.provider.InsertSymmetric(ctx, node, nodeCount, service, serviceCount, providerFlags)
	if err != nil {
		span.End(err)
		return InsertResult{}, err
	}
	return a.finish("fi_av_insertsym", out, errs, span)
}

// Remove removes the provided addresses from the AV. Addresses that are not
// present are ignored.
func (a *AddressVector) Remove(addrs []Address, flags uint64) error {
	if !a.live() {
		return ErrInvalidHandle{"address vector"}
	}
	if flags != 0 {
		return ErrInvalidArgument.Wrapf("fi_av_remove", "unsupported flags 0x%x", flags)
	}
	if err := a.checkWritable("fi_av_remove"); err != nil {
		return err
	}
	if len(addrs) == 0 {
		return nil
	}
	base := make([]Address, len(addrs))
	for i, addr := range addrs {
		base[i] = a.baseAddress(addr)
	}
	if err := a.provider.Remove(base, flags); err != nil {
		return err
	}
	a.domain.obs.avRemoved(len(base), logKV(LabelAVType, a.attr.Type.String()))
	return nil
}

// Lookup returns the raw address behind addr. Receive context bits are
// ignored.
func (a *AddressVector) Lookup(addr Address) ([]byte, error) {
	if !a.live() {
		return nil, ErrInvalidHandle{"address vector"}
	}
	if addr == AddressUnspecified {
		return nil, ErrNotFound.Wrapf("fi_av_lookup", "unspecified address")
	}
	return a.provider.Lookup(a.baseAddress(addr))
}

// StrAddr renders a raw address deterministically.
func (a *AddressVector) StrAddr(raw []byte) string {
	if a == nil || a.provider == nil {
		return ""
	}
	return a.provider.StrAddr(raw)
}

// RxAddr combines addr with a receive context index using the attribute
// RXCtxBits, validating both.
func (a *AddressVector) RxAddr(addr Address, rxIndex int) (Address, error) {
	if a == nil {
		return AddressUnspecified, ErrInvalidHandle{"address vector"}
	}
	return RxAddrChecked(addr, rxIndex, a.attr.RXCtxBits)
}

func (a *AddressVector) baseAddress(addr Address) Address {
	if addr == AddressUnspecified {
		return addr
	}
	return addr & a.mask
}

// RxAddr packs rxIndex into the top rxCtxBits bits of addr (fi_rx_addr).
// Like the C macro it performs no validation.
func RxAddr(addr Address, rxIndex int, rxCtxBits int) Address {
	return Address(uint64(rxIndex)<<uint(64-rxCtxBits)) | addr
}

// RxAddrChecked is RxAddr with its preconditions enforced: rxCtxBits in
// [0,63], rxIndex representable in rxCtxBits bits, and addr clear in that
// region.
func RxAddrChecked(addr Address, rxIndex int, rxCtxBits int) (Address, error) {
	if rxCtxBits < 0 || rxCtxBits > 63 {
		return AddressUnspecified, ErrInvalidArgument.Wrapf("fi_rx_addr", "rx_ctx_bits %d out of range", rxCtxBits)
	}
	if rxIndex < 0 || uint64(rxIndex) >= uint64(1)<<uint(rxCtxBits) {
		return AddressUnspecified, ErrInvalidArgument.Wrapf("fi_rx_addr", "rx index %d does not fit %d bits", rxIndex, rxCtxBits)
	}
	if rxCtxBits > 0 && uint64(addr)>>uint(64-rxCtxBits) != 0 {
		return AddressUnspecified, ErrInvalidArgument.Wrapf("fi_rx_addr", "address 0x%x overlaps rx context bits", uint64(addr))
	}
	return RxAddr(addr, rxIndex, rxCtxBits), nil
}

// RxIndex extracts the receive context index from a packed address.
func RxIndex(addr Address, rxCtxBits int) int {
	if rxCtxBits <= 0 {
		return 0
	}
	return int(uint64(addr) >> uint(64-rxCtxBits))
}

// RxBase clears the receive context bits of a packed address.
func RxBase(addr Address, rxCtxBits int) Address {
	if rxCtxBits <= 0 {
		return addr
	}
	return addr & (^Address(0) >> uint(rxCtxBits))
}
