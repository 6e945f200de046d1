// Package resolve turns symbolic node/service pairs into IP endpoints for
// address vector insertion.
package resolve

import (
	"context"
	"net"
	"net/netip"
	"strconv"

	"github.com/rocketbitz/fidomain/internal/errno"
)

// Resolver maps a node/service pair to a single endpoint.
type Resolver interface {
	Resolve(ctx context.Context, node, service string) (netip.AddrPort, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, node, service string) (netip.AddrPort, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, node, service string) (netip.AddrPort, error) {
	return f(ctx, node, service)
}

// System resolves through the host resolver configuration.
type System struct {
	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
	// Network is "ip", "ip4" or "ip6"; empty means "ip".
	Network string
}

// Resolve implements Resolver.
func (s System) Resolve(ctx context.Context, node, service string) (netip.AddrPort, error) {
	if node == "" {
		return netip.AddrPort{}, errno.ErrInvalid.Wrapf("fi_av_insertsvc", "node is required")
	}
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	port, err := lookupPort(ctx, r, service)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if addr, err := netip.ParseAddr(node); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}
	network := s.Network
	if network == "" {
		network = "ip"
	}
	addrs, err := r.LookupNetIP(ctx, network, node)
	if err != nil {
		return netip.AddrPort{}, errno.ErrAddrNotAvail.Wrapf("fi_av_insertsvc", "resolve %q: %v", node, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, errno.ErrAddrNotAvail.Wrapf("fi_av_insertsvc", "resolve %q: no addresses", node)
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), port), nil
}

func lookupPort(ctx context.Context, r *net.Resolver, service string) (uint16, error) {
	if service == "" {
		return 0, errno.ErrInvalid.Wrapf("fi_av_insertsvc", "service is required")
	}
	if port, ok := parsePort(service); ok {
		return port, nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	port, err := r.LookupPort(ctx, "tcp", service)
	if err != nil {
		return 0, errno.ErrAddrNotAvail.Wrapf("fi_av_insertsvc", "resolve service %q: %v", service, err)
	}
	return uint16(port), nil
}

func parsePort(service string) (uint16, bool) {
	v, err := strconv.ParseUint(service, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
