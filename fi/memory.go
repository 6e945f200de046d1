package fi

import (
	"crypto/subtle"
	"sync"
	"unsafe"

	"go.uber.org/multierr"

	"github.com/rocketbitz/fidomain/internal/mrreg"
	"github.com/rocketbitz/fidomain/internal/rawkey"
)

// MRRegisterOptions provides advanced controls for memory registration.
type MRRegisterOptions struct {
	Access       MRAccessFlag
	RequestedKey uint64
	Offset       uint64
	Flags        uint64
	// Context is attached to the region and to its completion event.
	Context any
}

// MRAttr is the full registration attribute set (fi_mr_attr).
type MRAttr struct {
	Segments     [][]byte
	Access       MRAccessFlag
	Offset       uint64
	RequestedKey uint64
	// AuthKey gates remote access with a secret in addition to the key.
	AuthKey []byte
	Context any
	Flags   uint64
}

// KeyInfo is the domain's view of a live key.
type KeyInfo struct {
	Key       uint64
	RemoteKey uint64
	Base      uint64
	Length    uint64
	Access    MRAccessFlag
	Imported  bool
	// AuthDigest is the digest of the auth key, nil when none was set.
	AuthDigest []byte
}

func keyInfoFromEntry(e mrreg.Entry) KeyInfo {
	return KeyInfo{
		Key:        e.Key,
		RemoteKey:  e.RemoteKey,
		Base:       e.Base,
		Length:     e.Length,
		Access:     MRAccessFlag(e.Access),
		Imported:   e.Kind == mrreg.KindImported,
		AuthDigest: e.AuthDigest,
	}
}

// MemoryRegion wraps a registered memory buffer.
type MemoryRegion struct {
	res        *Resource
	domain     *Domain
	segments   [][]byte
	length     uint64
	access     MRAccessFlag
	key        uint64
	base       uint64
	desc       []byte
	authDigest []byte

	mu    sync.Mutex
	bound []*Resource
}

// RegisterMemory registers buf with the domain.
func (d *Domain) RegisterMemory(buf []byte, access MRAccessFlag) (*MemoryRegion, error) {
	return d.RegisterMemoryWithOptions(buf, &MRRegisterOptions{Access: access})
}

// RegisterMemoryWithOptions registers the provided buffer with optional advanced flags (fi_mr_reg).
// The caller must keep buf alive and unmodified in length until the region is closed.
func (d *Domain) RegisterMemoryWithOptions(buf []byte, opts *MRRegisterOptions) (*MemoryRegion, error) {
	attr := MRAttr{Segments: [][]byte{buf}}
	if opts != nil {
		attr.Access = opts.Access
		attr.RequestedKey = opts.RequestedKey
		attr.Offset = opts.Offset
		attr.Flags = opts.Flags
		attr.Context = opts.Context
	}
	return d.register("fi_mr_reg", attr)
}

// RegisterMemorySegments registers a scatter/gather list as one region sharing
// one key and descriptor (fi_mr_regv). Either every segment is registered or
// none is.
func (d *Domain) RegisterMemorySegments(segments [][]byte, opts *MRRegisterOptions) (*MemoryRegion, error) {
	attr := MRAttr{Segments: segments}
	if opts != nil {
		attr.Access = opts.Access
		attr.RequestedKey = opts.RequestedKey
		attr.Offset = opts.Offset
		attr.Flags = opts.Flags
		attr.Context = opts.Context
	}
	return d.register("fi_mr_regv", attr)
}

// RegisterMemoryAttr registers memory from a full attribute set (fi_mr_regattr).
func (d *Domain) RegisterMemoryAttr(attr *MRAttr) (*MemoryRegion, error) {
	if attr == nil {
		return nil, ErrInvalidArgument.Wrapf("fi_mr_regattr", "nil attributes")
	}
	return d.register("fi_mr_regattr", *attr)
}

func (d *Domain) validateAccess(op string, access MRAccessFlag) error {
	if unknown := access &^ mrAccessKnown; unknown != 0 {
		return ErrInvalidArgument.Wrapf(op, "unknown access bits 0x%x", uint64(unknown))
	}
	if access&MRAccessRemoteRead != 0 && !d.info.SupportsRemoteRead() {
		return ErrNotSupported.Wrapf(op, "%v: remote read", ErrCapabilityUnsupported)
	}
	if access&MRAccessRemoteWrite != 0 && !d.info.SupportsRemoteWrite() {
		return ErrNotSupported.Wrapf(op, "%v: remote write", ErrCapabilityUnsupported)
	}
	if access&MRAccessRemoteAtomic != 0 && !d.info.SupportsAtomic() {
		return ErrNotSupported.Wrapf(op, "%v: remote atomic", ErrCapabilityUnsupported)
	}
	return nil
}

func (d *Domain) register(op string, attr MRAttr) (mr *MemoryRegion, err error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	span := d.obs.span(op, TraceAttribute{Key: "segments", Value: len(attr.Segments)})
	defer func() {
		if err != nil {
			d.obs.memoryRegistrationFailed(err, logKV(LabelOperation, op))
			d.obs.log("mr_register_failed", logKV(LabelOperation, op), logKV("error", err))
		}
		span.End(err)
	}()

	if len(attr.Segments) == 0 {
		return nil, ErrInvalidArgument.Wrapf(op, "memory registration requires at least one segment")
	}
	if limit := d.info.MRIovLimit; limit > 0 && uintptr(len(attr.Segments)) > limit {
		return nil, ErrInvalidArgument.Wrapf(op, "provider allows at most %d segments", limit)
	}
	var length uint64
	for i, seg := range attr.Segments {
		if len(seg) == 0 {
			return nil, ErrInvalidArgument.Wrapf(op, "segment %d is empty", i)
		}
		length += uint64(len(seg))
	}

	access := attr.Access
	if access == 0 {
		access = MRAccessLocal
	}
	if d.RequiresMRMode(MRModeLocal) {
		access |= MRAccessLocal
	}
	if err := d.validateAccess(op, access); err != nil {
		return nil, err
	}

	var digest []byte
	if len(attr.AuthKey) > 0 {
		if d.info.MaxAuthKeySize == 0 {
			return nil, ErrNotSupported.Wrapf(op, "domain does not support auth keys")
		}
		if len(attr.AuthKey) > d.info.MaxAuthKeySize {
			return nil, ErrInvalidArgument.Wrapf(op, "auth key of %d bytes exceeds %d", len(attr.AuthKey), d.info.MaxAuthKeySize)
		}
		digest = rawkey.Digest(attr.AuthKey)
	}

	base := attr.Offset
	if d.RequiresMRMode(MRModeVirtAddr) {
		base = uint64(uintptr(unsafe.Pointer(&attr.Segments[0][0])))
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}

	key, err := d.keys.Register(mrreg.Entry{
		Kind:       mrreg.KindRegion,
		Base:       base,
		Length:     length,
		Access:     uint64(access),
		AuthDigest: digest,
	}, attr.RequestedKey)
	if err != nil {
		return nil, err
	}

	segments := make([][]byte, len(attr.Segments))
	copy(segments, attr.Segments)
	desc, err := d.registrar.RegisterMemory(RegionSpec{
		Key:      key,
		Base:     base,
		Length:   length,
		Access:   access,
		Segments: segments,
		AuthKey:  attr.AuthKey,
		Flags:    attr.Flags,
	})
	if err != nil {
		_ = d.keys.Release(key)
		return nil, err
	}

	mr = &MemoryRegion{
		domain:     d,
		segments:   segments,
		length:     length,
		access:     access,
		key:        key,
		base:       base,
		desc:       desc,
		authDigest: digest,
	}
	mr.res = newResource(ClassMemoryRegion, ResourceOps{Close: mr.deregister}, d.fabric, d, attr.Context)
	mr.res.owner = mr
	d.adopt(mr)

	d.obs.memoryRegistered(length, logKV(LabelOperation, op))
	d.obs.log("mr_registered", logKV(LabelOperation, op), logKV("key", key), logKV("length", length))
	if eq := d.mrEventQueue(); eq != nil {
		if postErr := eq.post(Event{Kind: EventMRComplete, Resource: mr.res, Context: attr.Context, Data: key}); postErr != nil {
			d.obs.log("mr_event_dropped", logKV("key", key), logKV("error", postErr))
		}
	}
	return mr, nil
}

func (m *MemoryRegion) deregister() error {
	d := m.domain
	err := multierr.Combine(
		d.registrar.DeregisterMemory(m.key),
		d.keys.Release(m.key),
	)
	d.obs.memoryDeregistered()
	d.obs.log("mr_closed", logKV("key", m.key))
	return err
}

// Fid returns the resource header.
func (m *MemoryRegion) Fid() *Resource {
	if m == nil {
		return nil
	}
	return m.res
}

func (m *MemoryRegion) live() bool {
	return m != nil && m.res != nil && !m.res.Closed()
}

// Close deregisters the memory region and releases its key.
func (m *MemoryRegion) Close() error {
	if m == nil || m.res == nil {
		return nil
	}
	return m.res.release()
}

// Descriptor returns the provider's local descriptor (fi_mr_desc). The slice
// must not be modified.
func (m *MemoryRegion) Descriptor() []byte {
	if !m.live() {
		return nil
	}
	return m.desc
}

// DescriptorBytes copies the provider-specific descriptor into a new slice.
func (m *MemoryRegion) DescriptorBytes() []byte {
	if !m.live() || len(m.desc) == 0 {
		return nil
	}
	return append([]byte(nil), m.desc...)
}

// DescriptorChecked is Descriptor returning ErrInvalidHandle for a nil or
// closed region.
func (m *MemoryRegion) DescriptorChecked() ([]byte, error) {
	if !m.live() {
		return nil, ErrInvalidHandle{"memory region"}
	}
	return m.desc, nil
}

// Key returns the remote key for the memory region (fi_mr_key).
func (m *MemoryRegion) Key() uint64 {
	if !m.live() {
		return 0
	}
	return m.key
}

// KeyChecked is Key returning ErrInvalidHandle for a nil or closed region.
func (m *MemoryRegion) KeyChecked() (uint64, error) {
	if !m.live() {
		return 0, ErrInvalidHandle{"memory region"}
	}
	return m.key, nil
}

// Access reports the access flags the region was registered with.
func (m *MemoryRegion) Access() MRAccessFlag {
	if m == nil {
		return 0
	}
	return m.access
}

// Size returns the registered length in bytes.
func (m *MemoryRegion) Size() uint64 {
	if m == nil {
		return 0
	}
	return m.length
}

// Base returns the address peers use as the start of the region.
func (m *MemoryRegion) Base() uint64 {
	if m == nil {
		return 0
	}
	return m.base
}

// Bytes returns the registered buffer for single-segment regions.
func (m *MemoryRegion) Bytes() []byte {
	if !m.live() || len(m.segments) != 1 {
		return nil
	}
	return m.segments[0]
}

// Segments returns the registered segments.
func (m *MemoryRegion) Segments() [][]byte {
	if !m.live() {
		return nil
	}
	return append([][]byte(nil), m.segments...)
}

// RawAttr exports the region's key material for out-of-band exchange
// (fi_mr_raw_attr). The blob length is the key size.
func (m *MemoryRegion) RawAttr(flags uint64) (uint64, []byte, error) {
	if !m.live() {
		return 0, nil, ErrInvalidHandle{"memory region"}
	}
	if flags != 0 {
		return 0, nil, ErrInvalidArgument.Wrapf("fi_mr_raw_attr", "unsupported flags 0x%x", flags)
	}
	rkp, err := m.domain.rawKeys("fi_mr_raw_attr")
	if err != nil {
		return 0, nil, err
	}
	entry, err := m.domain.keys.Lookup(m.key)
	if err != nil {
		return 0, nil, err
	}
	raw, err := rkp.ExportRawKey(keyInfoFromEntry(entry))
	if err != nil {
		return 0, nil, err
	}
	return m.base, raw, nil
}

// Bind associates the region with an endpoint (flags 0) or a counter
// (FlagRemoteRead and/or FlagRemoteWrite) of the same domain (fi_mr_bind).
func (m *MemoryRegion) Bind(target Resourcer, flags uint64) error {
	if !m.live() {
		return ErrInvalidHandle{"memory region"}
	}
	if target == nil || target.Fid() == nil {
		return ErrInvalidArgument.Wrapf("fi_mr_bind", "nil resource")
	}
	res := target.Fid()
	if res.Closed() {
		return ErrInvalidHandle{res.class.String()}
	}
	if res.fabric != m.domain.fabric || res.domain != m.domain {
		return ErrInvalidArgument.Wrapf("fi_mr_bind", "%s belongs to another domain", res)
	}
	switch res.class {
	case ClassEndpoint, ClassScalableEndpoint:
		if flags != 0 {
			return ErrInvalidArgument.Wrapf("fi_mr_bind", "unsupported endpoint flags 0x%x", flags)
		}
	case ClassCounter:
		if flags&^(FlagRemoteRead|FlagRemoteWrite) != 0 {
			return ErrInvalidArgument.Wrapf("fi_mr_bind", "unsupported counter flags 0x%x", flags)
		}
	default:
		return ErrInvalidArgument.Wrapf("fi_mr_bind", "cannot bind a memory region to %s", res.class)
	}
	if res.ops.Bind != nil {
		if err := res.ops.Bind(m.res, flags); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.bound = append(m.bound, res)
	m.mu.Unlock()
	return nil
}

// BoundTo returns the resources the region has been bound to.
func (m *MemoryRegion) BoundTo() []*Resource {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Resource(nil), m.bound...)
}

func (d *Domain) rawKeys(op string) (RawKeyProvider, error) {
	if !d.RequiresMRMode(MRModeRaw) {
		return nil, ErrNotSupported.Wrapf(op, "domain does not use raw keys")
	}
	rkp, ok := d.registrar.(RawKeyProvider)
	if !ok {
		return nil, ErrNotSupported.Wrapf(op, "provider %q cannot externalize keys", d.info.Provider)
	}
	return rkp, nil
}

// MapRawKey imports raw key material produced by RawAttr, here or on a peer,
// and returns a key usable by this process (fi_mr_map_raw).
func (d *Domain) MapRawKey(base uint64, raw []byte, keySize int, flags uint64) (key uint64, err error) {
	if !d.live() {
		return 0, ErrInvalidHandle{"domain"}
	}
	span := d.obs.span("fi_mr_map_raw", TraceAttribute{Key: "key_size", Value: keySize})
	defer func() { span.End(err) }()

	if flags != 0 {
		return 0, ErrInvalidArgument.Wrapf("fi_mr_map_raw", "unsupported flags 0x%x", flags)
	}
	if len(raw) == 0 || keySize != len(raw) {
		return 0, ErrInvalidArgument.Wrapf("fi_mr_map_raw", "key size %d does not match %d bytes", keySize, len(raw))
	}
	if limit := d.info.MRKeySize; limit > 0 && uintptr(len(raw)) > limit {
		return 0, ErrInvalidArgument.Wrapf("fi_mr_map_raw", "key of %d bytes exceeds %d", len(raw), limit)
	}
	rkp, err := d.rawKeys("fi_mr_map_raw")
	if err != nil {
		return 0, err
	}
	imported, err := rkp.ImportRawKey(raw)
	if err != nil {
		return 0, err
	}
	key, err = d.keys.Import(mrreg.Entry{
		Kind:       mrreg.KindImported,
		Base:       base,
		Length:     imported.Length,
		Access:     uint64(imported.Access),
		RemoteKey:  imported.RemoteKey,
		AuthDigest: imported.AuthDigest,
	})
	if err != nil {
		return 0, err
	}
	d.obs.keyImported()
	d.obs.log("mr_key_mapped", logKV("key", key), logKV("remote_key", imported.RemoteKey))
	return key, nil
}

// UnmapKey releases a key obtained from MapRawKey (fi_mr_unmap_key). Keys
// that were never imported fail with ErrNotFound.
func (d *Domain) UnmapKey(key uint64) error {
	if !d.live() {
		return ErrInvalidHandle{"domain"}
	}
	if err := d.keys.Unmap(key); err != nil {
		return err
	}
	d.obs.keyUnmapped()
	d.obs.log("mr_key_unmapped", logKV("key", key))
	return nil
}

// ResolveKey returns the domain's view of a live region or imported key.
func (d *Domain) ResolveKey(key uint64) (KeyInfo, error) {
	if !d.live() {
		return KeyInfo{}, ErrInvalidHandle{"domain"}
	}
	entry, err := d.keys.Lookup(key)
	if err != nil {
		return KeyInfo{}, err
	}
	return keyInfoFromEntry(entry), nil
}

// AuthorizeKey checks authKey against the secret the key was registered
// with. Keys registered without an auth key accept any caller.
func (d *Domain) AuthorizeKey(key uint64, authKey []byte) error {
	info, err := d.ResolveKey(key)
	if err != nil {
		return err
	}
	if len(info.AuthDigest) == 0 {
		return nil
	}
	if subtle.ConstantTimeCompare(info.AuthDigest, rawkey.Digest(authKey)) != 1 {
		return ErrAccessDenied.Wrapf("fi_mr_auth", "auth key mismatch for key %d", key)
	}
	return nil
}
