package fi

// Capability bits advertised in Info.Caps. Values match <rdma/fabric.h>.
const (
	CapMsg          uint64 = 1 << 1
	CapRMA          uint64 = 1 << 2
	CapTagged       uint64 = 1 << 3
	CapAtomic       uint64 = 1 << 4
	CapRead         uint64 = 1 << 8
	CapWrite        uint64 = 1 << 9
	CapRecv         uint64 = 1 << 10
	CapSend         uint64 = 1 << 11
	CapRemoteRead   uint64 = 1 << 12
	CapRemoteWrite  uint64 = 1 << 13
	CapInject       uint64 = 1 << 16
	CapDirectedRecv uint64 = 1 << 45
	CapSource       uint64 = 1 << 57
)

// Operation flags.
const (
	// FlagPeek leaves the entry in place when reading an event queue.
	FlagPeek uint64 = 1 << 19
	// FlagMore hints that further insertions follow immediately.
	FlagMore uint64 = 1 << 21
	// FlagEvent requests asynchronous completion through the bound event queue.
	FlagEvent uint64 = 1 << 24
	// FlagRemoteRead and FlagRemoteWrite select counter events on fi_mr_bind.
	FlagRemoteRead  uint64 = CapRemoteRead
	FlagRemoteWrite uint64 = CapRemoteWrite
	// FlagRead opens a shared address vector read-only.
	FlagRead uint64 = CapRead
	// FlagSyncErr requests per-entry status reporting for insertion.
	FlagSyncErr uint64 = 1 << 58
	// FlagSymmetric marks a symmetric insertion whose names follow a uniform pattern.
	FlagSymmetric uint64 = 1 << 59
)

// BindRegMR asks a domain bound to an event queue to report memory
// registration completions there (FI_REG_MR in the bind namespace).
const BindRegMR uint64 = 1 << 59

// MRAccessFlag represents allowed operations on a registered memory region.
type MRAccessFlag uint64

const (
	MRAccessSend         MRAccessFlag = MRAccessFlag(CapSend)
	MRAccessRecv         MRAccessFlag = MRAccessFlag(CapRecv)
	MRAccessRead         MRAccessFlag = MRAccessFlag(CapRead)
	MRAccessWrite        MRAccessFlag = MRAccessFlag(CapWrite)
	MRAccessRemoteRead   MRAccessFlag = MRAccessFlag(CapRemoteRead)
	MRAccessRemoteWrite  MRAccessFlag = MRAccessFlag(CapRemoteWrite)
	MRAccessRemoteAtomic MRAccessFlag = MRAccessFlag(CapAtomic)

	// MRAccessLocal allows local CPU and endpoint access to the registered memory.
	MRAccessLocal = MRAccessSend | MRAccessRecv | MRAccessRead | MRAccessWrite

	mrAccessKnown = MRAccessLocal | MRAccessRemoteRead | MRAccessRemoteWrite | MRAccessRemoteAtomic
)

// MRModeFlag represents provider memory-registration requirements.
type MRModeFlag uint64

const (
	MRModeLocal      MRModeFlag = 1 << 2
	MRModeRaw        MRModeFlag = 1 << 3
	MRModeVirtAddr   MRModeFlag = 1 << 4
	MRModeAllocated  MRModeFlag = 1 << 5
	MRModeProvKey    MRModeFlag = 1 << 6
	MRModeMMUNotify  MRModeFlag = 1 << 7
	MRModeRMAEvent   MRModeFlag = 1 << 8
	MRModeEndpoint   MRModeFlag = 1 << 9
	MRModeHMEM       MRModeFlag = 1 << 10
	MRModeCollective MRModeFlag = 1 << 11
)

var capNames = []struct {
	bit  uint64
	name string
}{
	{CapMsg, "msg"},
	{CapRMA, "rma"},
	{CapTagged, "tagged"},
	{CapAtomic, "atomic"},
	{CapRead, "read"},
	{CapWrite, "write"},
	{CapRecv, "recv"},
	{CapSend, "send"},
	{CapRemoteRead, "remote_read"},
	{CapRemoteWrite, "remote_write"},
	{CapInject, "inject"},
	{CapDirectedRecv, "directed_recv"},
	{CapSource, "source"},
}

var mrModeNames = []struct {
	bit  MRModeFlag
	name string
}{
	{MRModeLocal, "local"},
	{MRModeRaw, "raw"},
	{MRModeVirtAddr, "virt_addr"},
	{MRModeAllocated, "allocated"},
	{MRModeProvKey, "prov_key"},
	{MRModeMMUNotify, "mmu_notify"},
	{MRModeRMAEvent, "rma_event"},
	{MRModeEndpoint, "endpoint"},
	{MRModeHMEM, "hmem"},
	{MRModeCollective, "collective"},
}

// CapNames lists the names of the capability bits set in caps.
func CapNames(caps uint64) []string {
	var out []string
	for _, c := range capNames {
		if caps&c.bit != 0 {
			out = append(out, c.name)
		}
	}
	return out
}

// ParseCaps converts capability names as printed by CapNames back into bits.
func ParseCaps(names []string) (uint64, error) {
	var caps uint64
next:
	for _, name := range names {
		for _, c := range capNames {
			if c.name == name {
				caps |= c.bit
				continue next
			}
		}
		return 0, ErrInvalidArgument.Wrapf("caps", "unknown capability %q", name)
	}
	return caps, nil
}

// MRModeNames lists the names of the memory registration mode bits in mode.
func MRModeNames(mode MRModeFlag) []string {
	var out []string
	for _, m := range mrModeNames {
		if mode&m.bit != 0 {
			out = append(out, m.name)
		}
	}
	return out
}

// ParseMRMode converts mode names as printed by MRModeNames back into bits.
func ParseMRMode(names []string) (MRModeFlag, error) {
	var mode MRModeFlag
next:
	for _, name := range names {
		for _, m := range mrModeNames {
			if m.name == name {
				mode |= m.bit
				continue next
			}
		}
		return 0, ErrInvalidArgument.Wrapf("mr_mode", "unknown memory registration mode %q", name)
	}
	return mode, nil
}

// ParseEndpointType converts the String form of an EndpointType back.
func ParseEndpointType(s string) (EndpointType, error) {
	for t := EndpointTypeUnspec; t <= EndpointTypeRDM; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return EndpointTypeUnspec, ErrInvalidArgument.Wrapf("endpoint", "unknown endpoint type %q", s)
}

// ParseAVType converts the String form of an AVType back.
func ParseAVType(s string) (AVType, error) {
	for t := AVTypeUnspec; t <= AVTypeTable; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return AVTypeUnspec, ErrInvalidArgument.Wrapf("av_type", "unknown address vector type %q", s)
}
