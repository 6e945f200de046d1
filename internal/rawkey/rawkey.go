// Package rawkey serializes memory region key material for out-of-band
// exchange between peers.
//
// Layout: two magic bytes, a version byte, then uvarint encoded remote key,
// base address, length and access bits, followed by a uvarint digest length
// and the digest itself.
package rawkey

import (
	"bytes"

	"github.com/multiformats/go-varint"
	"lukechampine.com/blake3"

	"github.com/rocketbitz/fidomain/internal/errno"
)

const (
	version = 1
	// DigestSize is the length of an auth key digest.
	DigestSize = 32
	// MaxSize is the largest blob Encode can produce.
	MaxSize = 3 + 4*varint.MaxLenUvarint63 + 1 + DigestSize
)

var magic = []byte{0xf1, 0x6b}

// Material is the decoded content of a raw key.
type Material struct {
	RemoteKey  uint64
	Base       uint64
	Length     uint64
	Access     uint64
	AuthDigest []byte
}

// Digest returns the BLAKE3 digest used to gate access with an auth key.
// A nil or empty key has a nil digest.
func Digest(authKey []byte) []byte {
	if len(authKey) == 0 {
		return nil
	}
	sum := blake3.Sum256(authKey)
	return sum[:]
}

// Encode serializes m. Every numeric field must fit in 63 bits.
func Encode(m Material) ([]byte, error) {
	for _, v := range []uint64{m.RemoteKey, m.Base, m.Length, m.Access} {
		if v > varint.MaxValueUvarint63 {
			return nil, errno.ErrInvalid.Wrapf("fi_mr_raw_attr", "value %#x does not fit a raw key field", v)
		}
	}
	buf := make([]byte, 0, MaxSize)
	buf = append(buf, magic...)
	buf = append(buf, version)
	buf = append(buf, varint.ToUvarint(m.RemoteKey)...)
	buf = append(buf, varint.ToUvarint(m.Base)...)
	buf = append(buf, varint.ToUvarint(m.Length)...)
	buf = append(buf, varint.ToUvarint(m.Access)...)
	buf = append(buf, varint.ToUvarint(uint64(len(m.AuthDigest)))...)
	buf = append(buf, m.AuthDigest...)
	return buf, nil
}

// Decode parses a blob produced by Encode.
func Decode(raw []byte) (Material, error) {
	var m Material
	if len(raw) < len(magic)+1 || !bytes.Equal(raw[:len(magic)], magic) {
		return m, errno.ErrInvalid.Wrapf("fi_mr_map_raw", "raw key has no recognizable header")
	}
	if raw[len(magic)] != version {
		return m, errno.ErrInvalid.Wrapf("fi_mr_map_raw", "raw key version %d unsupported", raw[len(magic)])
	}
	rest := raw[len(magic)+1:]

	fields := []*uint64{&m.RemoteKey, &m.Base, &m.Length, &m.Access}
	for _, field := range fields {
		v, n, err := varint.FromUvarint(rest)
		if err != nil {
			return Material{}, errno.ErrInvalid.Wrapf("fi_mr_map_raw", "truncated raw key: %v", err)
		}
		*field = v
		rest = rest[n:]
	}

	digestLen, n, err := varint.FromUvarint(rest)
	if err != nil {
		return Material{}, errno.ErrInvalid.Wrapf("fi_mr_map_raw", "truncated raw key: %v", err)
	}
	rest = rest[n:]
	if digestLen != 0 && digestLen != DigestSize {
		return Material{}, errno.ErrInvalid.Wrapf("fi_mr_map_raw", "auth digest length %d", digestLen)
	}
	if uint64(len(rest)) != digestLen {
		return Material{}, errno.ErrInvalid.Wrapf("fi_mr_map_raw", "raw key has %d trailing bytes, want %d", len(rest), digestLen)
	}
	if digestLen > 0 {
		m.AuthDigest = append([]byte(nil), rest...)
	}
	return m, nil
}
