package fi

import (
	"errors"
	"strings"
	"testing"
)

func TestDiscover(t *testing.T) {
	p := registerTestProvider(t, nil)

	infos, err := Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	found := false
	for _, info := range infos {
		if info.Provider == "" {
			t.Fatalf("provider name should not be empty")
		}
		if info.Provider == p.name {
			found = true
			if info.APIVersion != APIVersion || info.ProviderVersion != APIVersion {
				t.Fatalf("versions not populated: %+v", info)
			}
		}
	}
	if !found {
		t.Fatalf("registered provider %q missing from Discover", p.name)
	}
}

func TestDiscoverWithHints(t *testing.T) {
	p := registerTestProvider(t, nil)

	result, err := DiscoverDescriptors(WithProvider(p.name), WithEndpointType(EndpointTypeRDM), WithCaps(CapRMA))
	if err != nil {
		t.Fatalf("DiscoverDescriptors with hints failed: %v", err)
	}
	defer result.Close()
	descs := result.Descriptors()
	if len(descs) != 1 {
		t.Fatalf("expected one descriptor, got %d", len(descs))
	}
	desc := descs[0]
	if desc.Provider() != p.name || desc.EndpointType() != EndpointTypeRDM {
		t.Fatalf("unexpected descriptor %s", FormatInfo(desc.Info()))
	}
	if !desc.RequiresMRMode(MRModeRaw) || desc.MRIovLimit() != 4 {
		t.Fatalf("descriptor lost MR attributes")
	}
	if !result.SupportsEndpointType(EndpointTypeRDM) || result.SupportsEndpointType(EndpointTypeMsg) {
		t.Fatalf("SupportsEndpointType disagrees with descriptors")
	}

	if _, err := DiscoverDescriptors(WithProvider(p.name), WithEndpointType(EndpointTypeMsg)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for mismatched endpoint type, got %v", err)
	}
	if _, err := DiscoverDescriptors(WithProvider(p.name), WithCaps(CapTagged)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing caps, got %v", err)
	}
	if _, err := DiscoverDescriptors(WithProvider(p.name), WithVersion(Version{Major: 2})); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for incompatible version, got %v", err)
	}
}

func TestFormatInfo(t *testing.T) {
	s := FormatInfo(Info{Provider: "p", Fabric: "f", Domain: "d", Endpoint: EndpointTypeDgram})
	if !strings.Contains(s, "provider=p") || !strings.Contains(s, "endpoint=dgram") {
		t.Fatalf("unexpected format %q", s)
	}
}

func TestProviderRegistry(t *testing.T) {
	p := registerTestProvider(t, nil)

	if err := Register(p); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected duplicate registration to fail with ErrBusy, got %v", err)
	}
	if got, ok := LookupProvider(p.name); !ok || got != Provider(p) {
		t.Fatalf("LookupProvider did not return the registered provider")
	}
	names := Providers()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Providers not sorted: %v", names)
		}
	}
	if err := Register(newTestProvider("")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected empty name to be rejected, got %v", err)
	}
	Unregister(p.name)
	if _, ok := LookupProvider(p.name); ok {
		t.Fatalf("provider still registered after Unregister")
	}
}

func TestVersionCompatibility(t *testing.T) {
	if err := APIVersion.EnsureCompatible(Version{Major: 1, Minor: 0}); err != nil {
		t.Fatalf("older minor should be compatible: %v", err)
	}
	if err := APIVersion.EnsureCompatible(Version{Major: 1, Minor: APIVersion.Minor + 1}); err == nil {
		t.Fatalf("newer minor should not be compatible")
	}
	if APIVersion.String() != "1.22" {
		t.Fatalf("unexpected version string %q", APIVersion.String())
	}
	if (Version{Major: 1, Minor: 2}).Compare(Version{Major: 1, Minor: 10}) >= 0 {
		t.Fatalf("Compare should order by minor")
	}
}

func TestCapabilityNames(t *testing.T) {
	caps := CapMsg | CapRMA | CapRemoteWrite
	names := CapNames(caps)
	if strings.Join(names, ",") != "msg,rma,remote_write" {
		t.Fatalf("unexpected names %v", names)
	}
	back, err := ParseCaps(names)
	if err != nil || back != caps {
		t.Fatalf("ParseCaps(%v) = %#x, %v", names, back, err)
	}
	if _, err := ParseCaps([]string{"bogus"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	mode, err := ParseMRMode([]string{"local", "raw"})
	if err != nil || mode != MRModeLocal|MRModeRaw {
		t.Fatalf("ParseMRMode = %#x, %v", uint64(mode), err)
	}
	if got := MRModeNames(mode); strings.Join(got, ",") != "local,raw" {
		t.Fatalf("unexpected mode names %v", got)
	}
	if ep, err := ParseEndpointType("rdm"); err != nil || ep != EndpointTypeRDM {
		t.Fatalf("ParseEndpointType = %v, %v", ep, err)
	}
	if av, err := ParseAVType("table"); err != nil || av != AVTypeTable {
		t.Fatalf("ParseAVType = %v, %v", av, err)
	}
}
