package sockaddr

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/fidomain/internal/errno"
)

func TestEncodeDecodeInet(t *testing.T) {
	ap := netip.MustParseAddrPort("10.1.2.3:8080")
	raw := Encode(ap)
	require.Len(t, raw, LenInet)
	require.Equal(t, []byte{2, 0, 0x1f, 0x90, 10, 1, 2, 3}, raw[:8])

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, ap, got)
}

func TestEncodeDecodeInet6(t *testing.T) {
	ap := netip.MustParseAddrPort("[fe80::1]:7000")
	raw := Encode(ap)
	require.Len(t, raw, LenInet6)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, ap, got)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"short":          {2},
		"bad family":     make([]byte, LenInet),
		"truncated inet": Encode(netip.MustParseAddrPort("10.0.0.1:1"))[:12],
	}
	cases["bad family"][0] = 0x7f
	for name, raw := range cases {
		_, err := Decode(raw)
		require.Errorf(t, err, "case %s", name)
		require.True(t, errors.Is(err, errno.ErrInvalid), "case %s: %v", name, err)
	}
}

func TestValidateRejectsUnspecified(t *testing.T) {
	require.Error(t, Validate(Encode(netip.MustParseAddrPort("0.0.0.0:80"))))
	require.NoError(t, Validate(Encode(netip.MustParseAddrPort("127.0.0.1:80"))))
}

func TestFormatDeterministic(t *testing.T) {
	require.Equal(t, "fi_sockaddr_in://127.0.0.1:8080", Format(Encode(netip.MustParseAddrPort("127.0.0.1:8080"))))
	require.Equal(t, "fi_sockaddr_in6://[::1]:9000", Format(Encode(netip.MustParseAddrPort("[::1]:9000"))))

	opaque := []byte("not-a-sockaddr")
	require.Equal(t, Format(opaque), Format(append([]byte(nil), opaque...)))
	require.Contains(t, Format(opaque), "fi_addr_raw://")
}
