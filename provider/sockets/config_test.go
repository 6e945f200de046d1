package sockets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/internal/resolve"
)

func TestDefaultConfigCompiles(t *testing.T) {
	c, err := DefaultConfig().compile()
	require.NoError(t, err)
	require.Len(t, c.infos, 3)
	require.Equal(t, fi.AVTypeMap, c.avType)
	require.Equal(t, resolve.PolicyPerEntry, c.policy)

	info := c.infos[0]
	require.Equal(t, Name, info.Provider)
	require.True(t, info.RequiresMRMode(fi.MRModeRaw))
	require.True(t, info.SupportsRemoteWrite())
	require.Equal(t, uintptr(8), info.MRIovLimit)
	_, cached := c.resolver.(*resolve.Cache)
	require.True(t, cached)
}

func TestParseConfigOverridesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
name: sockets-yaml
endpoints: [rdm]
mr:
  mode: [local, raw, prov_key]
  max_count: 16
av:
  type: table
  max_entries: 4
resolver:
  kind: dns
  server: 127.0.0.1:5353
  timeout: 250ms
  cache_size: 0
  symmetric_policy: templated
`))
	require.NoError(t, err)
	require.Equal(t, "sockets-yaml", cfg.Name)
	require.Equal(t, "sockets0", cfg.Domain, "unset fields keep their defaults")
	require.Equal(t, 250*time.Millisecond, cfg.Resolver.Timeout)

	c, err := cfg.compile()
	require.NoError(t, err)
	require.Len(t, c.infos, 1)
	require.Equal(t, fi.EndpointTypeRDM, c.infos[0].Endpoint)
	require.True(t, c.infos[0].RequiresMRMode(fi.MRModeProvKey))
	require.Equal(t, 16, c.infos[0].MaxMRCount)
	require.Equal(t, fi.AVTypeTable, c.infos[0].AVType)
	require.Equal(t, resolve.PolicyTemplated, c.policy)
	dns, ok := c.resolver.(*resolve.DNS)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:5353", dns.Server)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown cap":      "caps: [warp]",
		"unknown mr mode":  "mr: {mode: [sparkly]}",
		"unknown endpoint": "endpoints: [stream]",
		"no endpoints":     "endpoints: []",
		"unknown av type":  "av: {type: hash}",
		"negative limit":   "av: {max_entries: -1}",
		"unknown resolver": "resolver: {kind: carrier-pigeon}",
		"dns no server":    "resolver: {kind: dns}",
		"unknown policy":   "resolver: {symmetric_policy: random}",
		"empty name":       "name: \"\"",
		"malformed yaml":   "caps: [msg",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sockets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domain: lo0\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "lo0", cfg.Domain)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
