package resolve

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/fidomain/internal/errno"
)

// Policy selects how a symmetric insertion is resolved.
type Policy int

const (
	// PolicyPerEntry resolves every node/service pair independently.
	PolicyPerEntry Policy = iota
	// PolicyTemplated resolves only the first pair and derives the rest by
	// incrementing its address and port.
	PolicyTemplated
)

func (p Policy) String() string {
	switch p {
	case PolicyPerEntry:
		return "per-entry"
	case PolicyTemplated:
		return "templated"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the textual policy names accepted in configuration.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-entry", "per_entry", "perentry":
		return PolicyPerEntry, nil
	case "templated", "template":
		return PolicyTemplated, nil
	default:
		return 0, fmt.Errorf("resolve: unknown symmetric policy %q", s)
	}
}

// SymmetricRequest describes a node-major Cartesian expansion.
type SymmetricRequest struct {
	Node         string
	NodeCount    int
	Service      string
	ServiceCount int
	Policy       Policy
	// Concurrency bounds in-flight lookups for PolicyPerEntry; zero means 8.
	Concurrency int
}

// Symmetric resolves every pair of req in node-major order. The returned
// slices have NodeCount*ServiceCount entries; a per-entry failure leaves a
// zero AddrPort and a non-nil error at that index. The final error is only
// set when the request itself is malformed or ctx ends.
func Symmetric(ctx context.Context, r Resolver, req SymmetricRequest) ([]netip.AddrPort, []error, error) {
	nodes, err := ExpandNodes(req.Node, req.NodeCount)
	if err != nil {
		return nil, nil, err
	}
	services, err := ExpandServices(req.Service, req.ServiceCount)
	if err != nil {
		return nil, nil, err
	}
	total := len(nodes) * len(services)
	addrs := make([]netip.AddrPort, total)
	errs := make([]error, total)

	if req.Policy == PolicyTemplated {
		base, err := r.Resolve(ctx, nodes[0], services[0])
		if err != nil {
			for i := range errs {
				errs[i] = err
			}
			return addrs, errs, nil
		}
		for i := range nodes {
			ip, ipErr := AddrAdd(base.Addr(), uint64(i))
			for j := range services {
				idx := i*len(services) + j
				if ipErr != nil {
					errs[idx] = ipErr
					continue
				}
				port := int(base.Port()) + j
				if port > 0xffff {
					errs[idx] = errno.ErrInvalid.Wrapf("fi_av_insertsym", "port %d out of range", port)
					continue
				}
				addrs[idx] = netip.AddrPortFrom(ip, uint16(port))
			}
		}
		return addrs, errs, nil
	}

	limit := req.Concurrency
	if limit <= 0 {
		limit = 8
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, node := range nodes {
		for j, service := range services {
			idx := i*len(services) + j
			node, service := node, service
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					errs[idx] = errno.ErrCanceled.Wrapf("fi_av_insertsym", "%v", err)
					return nil
				}
				addrs[idx], errs[idx] = r.Resolve(ctx, node, service)
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return addrs, errs, errno.ErrCanceled.Wrapf("fi_av_insertsym", "%v", err)
	}
	return addrs, errs, nil
}
