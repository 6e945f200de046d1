package resolve

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/rocketbitz/fidomain/internal/errno"
)

// ExpandNodes returns count node names starting at node. IP literals are
// incremented numerically; host names with a numeric suffix increment the
// suffix keeping its zero padding width.
func ExpandNodes(node string, count int) ([]string, error) {
	if count <= 0 {
		return nil, errno.ErrInvalid.Wrapf("fi_av_insertsym", "node count %d", count)
	}
	if count == 1 {
		return []string{node}, nil
	}
	if addr, err := netip.ParseAddr(node); err == nil {
		out := make([]string, count)
		for i := range out {
			next, err := AddrAdd(addr, uint64(i))
			if err != nil {
				return nil, err
			}
			out[i] = next.String()
		}
		return out, nil
	}

	prefix, digits := splitNumericSuffix(node)
	if digits == "" {
		return nil, errno.ErrInvalid.Wrapf("fi_av_insertsym", "node %q has no numeric suffix", node)
	}
	start, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return nil, errno.ErrInvalid.Wrapf("fi_av_insertsym", "node %q: %v", node, err)
	}
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("%s%0*d", prefix, len(digits), start+uint64(i))
	}
	return out, nil
}

// ExpandServices returns count numeric services starting at service.
func ExpandServices(service string, count int) ([]string, error) {
	if count <= 0 {
		return nil, errno.ErrInvalid.Wrapf("fi_av_insertsym", "service count %d", count)
	}
	if count == 1 {
		return []string{service}, nil
	}
	port, ok := parsePort(service)
	if !ok {
		return nil, errno.ErrInvalid.Wrapf("fi_av_insertsym", "service %q is not numeric", service)
	}
	if int(port)+count-1 > 0xffff {
		return nil, errno.ErrInvalid.Wrapf("fi_av_insertsym", "service range %d+%d exceeds port space", port, count)
	}
	out := make([]string, count)
	for i := range out {
		out[i] = strconv.Itoa(int(port) + i)
	}
	return out, nil
}

// AddrAdd returns addr advanced by n, failing on overflow of the address
// family.
func AddrAdd(addr netip.Addr, n uint64) (netip.Addr, error) {
	if addr.Is4() {
		b := addr.As4()
		v := uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		if n > 0xffffffff-v {
			return netip.Addr{}, errno.ErrInvalid.Wrapf("fi_av_insertsym", "%s+%d overflows", addr, n)
		}
		v += n
		return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), nil
	}
	b := addr.As16()
	carry := n
	for i := 15; i >= 0 && carry > 0; i-- {
		sum := uint64(b[i]) + (carry & 0xff)
		carry >>= 8
		b[i] = byte(sum)
		carry += sum >> 8
	}
	if carry > 0 {
		return netip.Addr{}, errno.ErrInvalid.Wrapf("fi_av_insertsym", "%s+%d overflows", addr, n)
	}
	return netip.AddrFrom16(b).WithZone(addr.Zone()), nil
}

func splitNumericSuffix(s string) (prefix, digits string) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[:i], s[i:]
}
