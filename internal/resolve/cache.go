package resolve

import (
	"context"
	"net/netip"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes successful resolutions and collapses concurrent lookups of
// the same pair into one upstream call. Failures are never cached.
type Cache struct {
	next    Resolver
	entries *lru.Cache[string, netip.AddrPort]
	group   singleflight.Group
}

// NewCache wraps next with an LRU of the given size.
func NewCache(next Resolver, size int) (*Cache, error) {
	if size <= 0 {
		size = 256
	}
	entries, err := lru.New[string, netip.AddrPort](size)
	if err != nil {
		return nil, err
	}
	return &Cache{next: next, entries: entries}, nil
}

// Resolve implements Resolver.
func (c *Cache) Resolve(ctx context.Context, node, service string) (netip.AddrPort, error) {
	key := node + "\x00" + service
	if ap, ok := c.entries.Get(key); ok {
		return ap, nil
	}
	// The shared lookup outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	upstream := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		ap, err := c.next.Resolve(upstream, node, service)
		if err != nil {
			return netip.AddrPort{}, err
		}
		c.entries.Add(key, ap)
		return ap, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return netip.AddrPort{}, res.Err
		}
		return res.Val.(netip.AddrPort), nil
	case <-ctx.Done():
		return netip.AddrPort{}, ctx.Err()
	}
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
