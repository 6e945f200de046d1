package sockets

import (
	"encoding/binary"

	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/internal/rawkey"
)

// descSize is the length of the local descriptor: key then base, both
// little-endian.
const descSize = 16

type region struct {
	spec fi.RegionSpec
	desc []byte
}

// RegisterMemory implements fi.MemoryRegistrar.
func (d *domain) RegisterMemory(spec fi.RegionSpec) ([]byte, error) {
	var length uint64
	for _, seg := range spec.Segments {
		length += uint64(len(seg))
	}
	if length != spec.Length {
		return nil, fi.ErrInvalidArgument.Wrapf("fi_mr_reg", "segments cover %d bytes, region length is %d", length, spec.Length)
	}
	desc := make([]byte, descSize)
	binary.LittleEndian.PutUint64(desc[0:8], spec.Key)
	binary.LittleEndian.PutUint64(desc[8:16], spec.Base)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regions == nil {
		return nil, fi.ErrInvalidHandle{Resource: "domain"}
	}
	if _, ok := d.regions[spec.Key]; ok {
		return nil, fi.ErrKeyInUse.Wrapf("fi_mr_reg", "key %#x already registered", spec.Key)
	}
	d.regions[spec.Key] = region{spec: spec, desc: desc}
	return desc, nil
}

// DeregisterMemory implements fi.MemoryRegistrar.
func (d *domain) DeregisterMemory(key uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.regions[key]; !ok {
		return fi.ErrNotFound.Wrapf("fi_close(mr)", "key %#x not registered", key)
	}
	delete(d.regions, key)
	return nil
}

// ExportRawKey implements fi.RawKeyProvider.
func (d *domain) ExportRawKey(info fi.KeyInfo) ([]byte, error) {
	if info.Imported {
		return nil, fi.ErrInvalidArgument.Wrapf("fi_mr_raw_attr", "key %#x was imported", info.Key)
	}
	return rawkey.Encode(rawkey.Material{
		RemoteKey:  info.RemoteKey,
		Base:       info.Base,
		Length:     info.Length,
		Access:     uint64(info.Access),
		AuthDigest: info.AuthDigest,
	})
}

// ImportRawKey implements fi.RawKeyProvider.
func (d *domain) ImportRawKey(raw []byte) (fi.ImportedKey, error) {
	m, err := rawkey.Decode(raw)
	if err != nil {
		return fi.ImportedKey{}, err
	}
	if m.RemoteKey == 0 || m.Length == 0 {
		return fi.ImportedKey{}, fi.ErrInvalidArgument.Wrapf("fi_mr_map_raw", "raw key describes an empty region")
	}
	return fi.ImportedKey{
		RemoteKey:  m.RemoteKey,
		Length:     m.Length,
		Access:     fi.MRAccessFlag(m.Access),
		AuthDigest: m.AuthDigest,
	}, nil
}

// registered reports the number of live registrations.
func (d *domain) registered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.regions)
}
