package sockets

import (
	"context"

	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/internal/avtable"
	"github.com/rocketbitz/fidomain/internal/resolve"
	"github.com/rocketbitz/fidomain/internal/sockaddr"
)

type addressVector struct {
	table       *avtable.Table
	handle      *avtable.Handle
	resolver    resolve.Resolver
	policy      resolve.Policy
	concurrency int
}

func (d *domain) openAV(attr fi.AddressVectorAttr) (fi.AddressVectorProvider, error) {
	mode := avtable.ModeMap
	if attr.Type == fi.AVTypeTable {
		mode = avtable.ModeTable
	}
	capacity := attr.Count
	if capacity == 0 {
		capacity = d.p.cfg.AV.Capacity
	}
	opts := avtable.Options{
		Mode:       mode,
		RXCtxBits:  attr.RXCtxBits,
		Capacity:   capacity,
		MaxEntries: d.info.MaxAVEntries,
		Validate:   sockaddr.Validate,
	}
	av := &addressVector{
		resolver:    d.p.c.resolver,
		policy:      d.p.c.policy,
		concurrency: d.p.cfg.Resolver.Concurrency,
	}
	if attr.Name != "" {
		openShared := d.p.shared.Open
		if attr.Flags&fi.FlagRead != 0 {
			openShared = d.p.shared.Attach
		}
		h, err := openShared(attr.Name, attr.MapAddr, opts)
		if err != nil {
			return nil, err
		}
		av.table, av.handle = h.Table, h
		return av, nil
	}
	table, err := avtable.New(opts)
	if err != nil {
		return nil, err
	}
	av.table = table
	return av, nil
}

func (a *addressVector) Insert(addrs [][]byte, flags uint64) ([]fi.Address, []error) {
	raw, errs := a.table.Insert(addrs)
	return addresses(raw), errs
}

func (a *addressVector) InsertService(ctx context.Context, node, service string, flags uint64) (fi.Address, error) {
	ap, err := a.resolver.Resolve(ctx, node, service)
	if err != nil {
		return fi.AddressUnspecified, err
	}
	addr, err := a.table.InsertOne(sockaddr.Encode(ap))
	return fi.Address(addr), err
}

func (a *addressVector) InsertSymmetric(ctx context.Context, node string, nodeCount int, service string, serviceCount int, flags uint64) ([]fi.Address, []error, error) {
	policy := a.policy
	if flags&fi.FlagSymmetric != 0 {
		policy = resolve.PolicyTemplated
	}
	resolved, errs, err := resolve.Symmetric(ctx, a.resolver, resolve.SymmetricRequest{
		Node:         node,
		NodeCount:    nodeCount,
		Service:      service,
		ServiceCount: serviceCount,
		Policy:       policy,
		Concurrency:  a.concurrency,
	})
	if err != nil {
		return nil, nil, err
	}
	batch := make([][]byte, 0, len(resolved))
	index := make([]int, 0, len(resolved))
	for i, ap := range resolved {
		if errs[i] == nil {
			batch = append(batch, sockaddr.Encode(ap))
			index = append(index, i)
		}
	}
	out := make([]fi.Address, len(resolved))
	for i := range out {
		out[i] = fi.AddressUnspecified
	}
	raw, insertErrs := a.table.Insert(batch)
	for j, i := range index {
		out[i] = fi.Address(raw[j])
		errs[i] = insertErrs[j]
	}
	return out, errs, nil
}

func (a *addressVector) Remove(addrs []fi.Address, flags uint64) error {
	raw := make([]uint64, len(addrs))
	for i, addr := range addrs {
		raw[i] = uint64(addr)
	}
	a.table.Remove(raw)
	return nil
}

func (a *addressVector) Lookup(addr fi.Address) ([]byte, error) {
	return a.table.Lookup(uint64(addr))
}

func (a *addressVector) StrAddr(raw []byte) string {
	return sockaddr.Format(raw)
}

func (a *addressVector) MapAddr() uint64 {
	if a.handle == nil {
		return 0
	}
	return a.handle.MapAddr
}

func (a *addressVector) Close() error {
	return a.handle.Close()
}

func addresses(raw []uint64) []fi.Address {
	out := make([]fi.Address, len(raw))
	for i, v := range raw {
		out[i] = fi.Address(v)
	}
	return out
}
