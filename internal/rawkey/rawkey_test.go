package rawkey

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/fidomain/internal/errno"
)

func TestEncodeDecode(t *testing.T) {
	in := Material{RemoteKey: 0xdeadbeef, Base: 0x7f0000001000, Length: 4096, Access: 0x3f00, AuthDigest: Digest([]byte("secret"))}
	raw, err := Encode(in)
	require.NoError(t, err)
	require.LessOrEqual(t, len(raw), MaxSize)

	out, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeWithoutDigest(t *testing.T) {
	raw, err := Encode(Material{RemoteKey: 1, Length: 8})
	require.NoError(t, err)
	out, err := Decode(raw)
	require.NoError(t, err)
	require.Nil(t, out.AuthDigest)
	require.Equal(t, uint64(8), out.Length)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	good, err := Encode(Material{RemoteKey: 5, Length: 10, AuthDigest: Digest([]byte("k"))})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     nil,
		"bad magic": append([]byte{0, 0}, good[2:]...),
		"version":   append(append([]byte{}, good[:2]...), append([]byte{9}, good[3:]...)...),
		"truncated": good[:len(good)-4],
		"trailing":  append(append([]byte{}, good...), 0),
		"short":     good[:4],
	}
	for name, raw := range cases {
		_, err := Decode(raw)
		require.ErrorIsf(t, err, errno.ErrInvalid, "case %s", name)
	}
}

func TestEncodeRejectsWideValues(t *testing.T) {
	_, err := Encode(Material{RemoteKey: 1 << 63})
	require.ErrorIs(t, err, errno.ErrInvalid)
}

func TestDigest(t *testing.T) {
	require.Nil(t, Digest(nil))
	require.Len(t, Digest([]byte("x")), DigestSize)
	require.Equal(t, Digest([]byte("x")), Digest([]byte("x")))
	require.NotEqual(t, Digest([]byte("x")), Digest([]byte("y")))
}
