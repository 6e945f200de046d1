// Package sockaddr encodes IP endpoints as the raw sockaddr_in and
// sockaddr_in6 byte layouts stored in address vectors, and renders raw
// addresses in a stable, human-readable form.
package sockaddr

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/mr-tron/base58"

	"github.com/rocketbitz/fidomain/internal/errno"
)

const (
	// FamilyInet is AF_INET.
	FamilyInet uint16 = 2
	// FamilyInet6 is AF_INET6 (Linux numbering).
	FamilyInet6 uint16 = 10

	// LenInet is sizeof(struct sockaddr_in).
	LenInet = 16
	// LenInet6 is sizeof(struct sockaddr_in6).
	LenInet6 = 28
)

// Encode converts an address/port pair into its raw sockaddr bytes. The
// family field is little-endian (host order on every supported target) and
// the port is in network order, matching what a C provider writes.
func Encode(ap netip.AddrPort) []byte {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		buf := make([]byte, LenInet)
		binary.LittleEndian.PutUint16(buf[0:2], FamilyInet)
		binary.BigEndian.PutUint16(buf[2:4], ap.Port())
		ip := addr.Unmap().As4()
		copy(buf[4:8], ip[:])
		return buf
	}
	buf := make([]byte, LenInet6)
	binary.LittleEndian.PutUint16(buf[0:2], FamilyInet6)
	binary.BigEndian.PutUint16(buf[2:4], ap.Port())
	ip := addr.As16()
	copy(buf[8:24], ip[:])
	return buf
}

// Decode parses raw sockaddr bytes back into an address/port pair.
func Decode(raw []byte) (netip.AddrPort, error) {
	if len(raw) < 2 {
		return netip.AddrPort{}, errno.ErrInvalid.Wrapf("sockaddr", "address too short (%d bytes)", len(raw))
	}
	family := binary.LittleEndian.Uint16(raw[0:2])
	switch family {
	case FamilyInet:
		if len(raw) != LenInet {
			return netip.AddrPort{}, errno.ErrInvalid.Wrapf("sockaddr", "sockaddr_in must be %d bytes, got %d", LenInet, len(raw))
		}
		var ip [4]byte
		copy(ip[:], raw[4:8])
		return netip.AddrPortFrom(netip.AddrFrom4(ip), binary.BigEndian.Uint16(raw[2:4])), nil
	case FamilyInet6:
		if len(raw) != LenInet6 {
			return netip.AddrPort{}, errno.ErrInvalid.Wrapf("sockaddr", "sockaddr_in6 must be %d bytes, got %d", LenInet6, len(raw))
		}
		var ip [16]byte
		copy(ip[:], raw[8:24])
		return netip.AddrPortFrom(netip.AddrFrom16(ip), binary.BigEndian.Uint16(raw[2:4])), nil
	default:
		return netip.AddrPort{}, errno.ErrInvalid.Wrapf("sockaddr", "unsupported address family %d", family)
	}
}

// Validate reports whether raw is a well-formed sockaddr with a usable IP.
func Validate(raw []byte) error {
	ap, err := Decode(raw)
	if err != nil {
		return err
	}
	if !ap.Addr().IsValid() || ap.Addr().IsUnspecified() {
		return errno.ErrInvalid.Wrapf("sockaddr", "unspecified address %s", ap.Addr())
	}
	return nil
}

// Format renders raw into the fi_sockaddr URI form used by libfabric's
// fi_av_straddr. Unknown layouts fall back to a base58 payload so that the
// output is still deterministic for identical input.
func Format(raw []byte) string {
	if len(raw) == 0 {
		return "fi_addr_raw://"
	}
	ap, err := Decode(raw)
	if err != nil {
		return "fi_addr_raw://" + base58.Encode(raw)
	}
	if ap.Addr().Is4() {
		return fmt.Sprintf("fi_sockaddr_in://%s", ap)
	}
	return fmt.Sprintf("fi_sockaddr_in6://%s", ap)
}
