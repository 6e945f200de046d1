package resolve

import (
	"context"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/rocketbitz/fidomain/internal/errno"
)

// DNS resolves node names by querying a specific DNS server directly, which
// lets a fabric deployment use a cluster name service independent of the
// host configuration.
type DNS struct {
	// Server is a host:port of the name server.
	Server string
	// Client defaults to a UDP client with Timeout.
	Client *dns.Client
	// Timeout bounds each exchange when Client is nil.
	Timeout time.Duration
	// PreferIPv6 queries AAAA records before A records.
	PreferIPv6 bool
}

// Resolve implements Resolver.
func (d *DNS) Resolve(ctx context.Context, node, service string) (netip.AddrPort, error) {
	if node == "" {
		return netip.AddrPort{}, errno.ErrInvalid.Wrapf("fi_av_insertsvc", "node is required")
	}
	port, err := lookupPort(ctx, nil, service)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if addr, err := netip.ParseAddr(node); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}
	if d.Server == "" {
		return netip.AddrPort{}, errno.ErrInvalid.Wrapf("fi_av_insertsvc", "dns resolver has no server")
	}

	order := []uint16{dns.TypeA, dns.TypeAAAA}
	if d.PreferIPv6 {
		order = []uint16{dns.TypeAAAA, dns.TypeA}
	}
	var lastErr error
	for _, qtype := range order {
		addr, err := d.query(ctx, node, qtype)
		if err == nil {
			return netip.AddrPortFrom(addr, port), nil
		}
		lastErr = err
	}
	return netip.AddrPort{}, errno.ErrAddrNotAvail.Wrapf("fi_av_insertsvc", "resolve %q via %s: %v", node, d.Server, lastErr)
}

func (d *DNS) query(ctx context.Context, node string, qtype uint16) (netip.Addr, error) {
	client := d.Client
	if client == nil {
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		client = &dns.Client{Net: "udp", Timeout: timeout}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(node), qtype)
	msg.RecursionDesired = true

	reply, _, err := client.ExchangeContext(ctx, msg, d.Server)
	if err != nil {
		return netip.Addr{}, err
	}
	if reply.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, errRcode(reply.Rcode)
	}
	for _, rr := range reply.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rec.A.To4()); ok {
				return addr, nil
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rec.AAAA); ok {
				return addr.Unmap(), nil
			}
		}
	}
	return netip.Addr{}, errNoRecords(qtype)
}

type errRcode int

func (e errRcode) Error() string {
	return "dns rcode " + dns.RcodeToString[int(e)]
}

type errNoRecords uint16

func (e errNoRecords) Error() string {
	return "no " + dns.TypeToString[uint16(e)] + " records"
}
