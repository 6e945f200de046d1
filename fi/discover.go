package fi

import (
	"fmt"
)

// EndpointType selects the endpoint semantics described by an Info entry.
type EndpointType int

const (
	EndpointTypeUnspec EndpointType = iota
	EndpointTypeMsg
	EndpointTypeDgram
	EndpointTypeRDM
)

func (t EndpointType) String() string {
	switch t {
	case EndpointTypeUnspec:
		return "unspec"
	case EndpointTypeMsg:
		return "msg"
	case EndpointTypeDgram:
		return "dgram"
	case EndpointTypeRDM:
		return "rdm"
	default:
		return fmt.Sprintf("EndpointType(%d)", int(t))
	}
}

func (t EndpointType) valid() bool {
	return t >= EndpointTypeUnspec && t <= EndpointTypeRDM
}

// Info captures a snapshot of a provider's fabric/domain descriptor.
type Info struct {
	Provider        string
	Fabric          string
	Domain          string
	Caps            uint64
	Mode            uint64
	Endpoint        EndpointType
	ProviderVersion Version
	APIVersion      Version
	MRMode          uint64
	MRKeySize       uintptr
	MRIovLimit      uintptr
	// MaxMRCount bounds live registrations; zero is unbounded.
	MaxMRCount int
	// MaxAuthKeySize is zero when the domain cannot gate access with auth keys.
	MaxAuthKeySize int
	// MaxAVEntries bounds each address vector; zero is unbounded.
	MaxAVEntries int
	AVType       AVType
}

// SupportsCap reports whether the specified capability bit is set.
func (i Info) SupportsCap(flag uint64) bool {
	return i.Caps&flag != 0
}

// SupportsMsg indicates whether standard message operations are available.
func (i Info) SupportsMsg() bool {
	return i.SupportsCap(CapMsg)
}

// SupportsRMA reports whether the provider advertises remote memory access support.
func (i Info) SupportsRMA() bool {
	return i.SupportsCap(CapRMA)
}

// SupportsAtomic reports whether remote atomic operations are available.
func (i Info) SupportsAtomic() bool {
	return i.SupportsCap(CapAtomic)
}

// SupportsRemoteRead reports whether remote read operations are available.
func (i Info) SupportsRemoteRead() bool {
	return i.SupportsCap(CapRemoteRead | CapRMA)
}

// SupportsRemoteWrite reports whether remote write operations are available.
func (i Info) SupportsRemoteWrite() bool {
	return i.SupportsCap(CapRemoteWrite | CapRMA)
}

// MRModeFlags returns the raw provider MR mode bits.
func (i Info) MRModeFlags() MRModeFlag {
	return MRModeFlag(i.MRMode)
}

// RequiresMRMode reports whether the provider requires the specified MR mode flag.
func (i Info) RequiresMRMode(flag MRModeFlag) bool {
	if flag == 0 {
		return false
	}
	return i.MRMode&uint64(flag) != 0
}

// SupportsEndpointType reports whether this entry targets the specified endpoint type.
func (i Info) SupportsEndpointType(ep EndpointType) bool {
	return i.Endpoint == ep
}

// DiscoverOption adjusts discovery behavior.
type DiscoverOption func(*discoverConfig)

type discoverConfig struct {
	version      Version
	provider     string
	fabric       string
	domain       string
	endpointType *EndpointType
	caps         *uint64
	mode         *uint64
}

func defaultDiscoverConfig() discoverConfig {
	return discoverConfig{
		version: APIVersion,
	}
}

func (c *discoverConfig) matches(info Info) bool {
	if c.provider != "" && info.Provider != c.provider {
		return false
	}
	if c.fabric != "" && info.Fabric != c.fabric {
		return false
	}
	if c.domain != "" && info.Domain != c.domain {
		return false
	}
	if c.endpointType != nil && *c.endpointType != EndpointTypeUnspec && info.Endpoint != *c.endpointType {
		return false
	}
	if c.caps != nil && info.Caps&*c.caps != *c.caps {
		return false
	}
	// Mode bits the application cannot honour rule the entry out.
	if c.mode != nil && info.Mode&^*c.mode != 0 {
		return false
	}
	return true
}

// WithProvider filters discovery by provider name.
func WithProvider(provider string) DiscoverOption {
	return func(cfg *discoverConfig) {
		cfg.provider = provider
	}
}

// WithFabric filters discovery by fabric name.
func WithFabric(name string) DiscoverOption {
	return func(cfg *discoverConfig) {
		cfg.fabric = name
	}
}

// WithDomain filters discovery by domain name.
func WithDomain(name string) DiscoverOption {
	return func(cfg *discoverConfig) {
		cfg.domain = name
	}
}

// WithEndpointType requests descriptors compatible with the specified endpoint type.
func WithEndpointType(ep EndpointType) DiscoverOption {
	return func(cfg *discoverConfig) {
		cfg.endpointType = new(EndpointType)
		*cfg.endpointType = ep
	}
}

// WithCaps sets the required capabilities bitmask.
func WithCaps(caps uint64) DiscoverOption {
	return func(cfg *discoverConfig) {
		cfg.caps = new(uint64)
		*cfg.caps = caps
	}
}

// WithMode sets the mode bits the application supports.
func WithMode(mode uint64) DiscoverOption {
	return func(cfg *discoverConfig) {
		cfg.mode = new(uint64)
		*cfg.mode = mode
	}
}

// WithVersion overrides the API version requested from providers.
func WithVersion(ver Version) DiscoverOption {
	return func(cfg *discoverConfig) {
		cfg.version = ver
	}
}

// Discovery holds the descriptors produced by DiscoverDescriptors.
type Discovery struct {
	descriptors []Descriptor
}

// Close releases the discovery result. Descriptors already handed out stay
// usable.
func (d *Discovery) Close() {
	if d == nil {
		return
	}
	d.descriptors = nil
}

// Descriptors returns all entries within the discovery result.
func (d *Discovery) Descriptors() []Descriptor {
	if d == nil {
		return nil
	}
	return append([]Descriptor(nil), d.descriptors...)
}

// SupportsEndpointType reports whether any descriptor within the discovery result supports the specified endpoint type.
func (d *Discovery) SupportsEndpointType(t EndpointType) bool {
	for _, desc := range d.Descriptors() {
		if desc.Info().SupportsEndpointType(t) {
			return true
		}
	}
	return false
}

// Descriptor pairs an Info entry with the provider that produced it.
type Descriptor struct {
	provider Provider
	info     Info
}

// Info returns a value snapshot for the descriptor.
func (d Descriptor) Info() Info {
	return d.info
}

// Provider exposes the provider name directly.
func (d Descriptor) Provider() string {
	return d.info.Provider
}

// MRModeFlags returns the raw provider MR mode bits.
func (d Descriptor) MRModeFlags() MRModeFlag {
	return d.info.MRModeFlags()
}

// RequiresMRMode reports whether the descriptor requires the specified MR mode flag.
func (d Descriptor) RequiresMRMode(flag MRModeFlag) bool {
	return d.info.RequiresMRMode(flag)
}

// MRKeySize returns the provider-specified memory registration key size.
func (d Descriptor) MRKeySize() uintptr {
	return d.info.MRKeySize
}

// MRIovLimit returns the provider's limit for iov-based registrations.
func (d Descriptor) MRIovLimit() uintptr {
	return d.info.MRIovLimit
}

// EndpointType returns the endpoint type associated with this descriptor.
func (d Descriptor) EndpointType() EndpointType {
	return d.info.Endpoint
}

// DiscoverDescriptors queries every registered provider and returns the
// matching descriptors in provider name order.
func DiscoverDescriptors(opts ...DiscoverOption) (*Discovery, error) {
	cfg := defaultDiscoverConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var descriptors []Descriptor
	for _, name := range Providers() {
		p, ok := LookupProvider(name)
		if !ok {
			continue
		}
		if p.Version().EnsureCompatible(cfg.version) != nil {
			continue
		}
		for _, info := range p.Info() {
			if info.Provider == "" {
				info.Provider = p.Name()
			}
			info.ProviderVersion = p.Version()
			info.APIVersion = cfg.version
			if !cfg.matches(info) {
				continue
			}
			descriptors = append(descriptors, Descriptor{provider: p, info: info})
		}
	}
	if len(descriptors) == 0 {
		return nil, ErrNotFound.Wrapf("fi_getinfo", "no provider matches the requested attributes")
	}
	return &Discovery{descriptors: descriptors}, nil
}

// Discover returns value snapshots of the matching descriptors.
func Discover(opts ...DiscoverOption) ([]Info, error) {
	result, err := DiscoverDescriptors(opts...)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	descriptors := result.Descriptors()
	infos := make([]Info, len(descriptors))
	for i, descriptor := range descriptors {
		infos[i] = descriptor.Info()
	}

	return infos, nil
}

// FormatInfo provides a readable representation of the descriptor information.
func FormatInfo(info Info) string {
	return fmt.Sprintf("provider=%s fabric=%s domain=%s endpoint=%s", info.Provider, info.Fabric, info.Domain, info.Endpoint)
}
