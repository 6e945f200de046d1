package sockets

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/internal/rawkey"
	"github.com/rocketbitz/fidomain/internal/resolve"
)

// Config describes the domains a sockets provider advertises and how its
// address vectors resolve symbolic names.
type Config struct {
	Name      string         `yaml:"name"`
	Fabric    string         `yaml:"fabric"`
	Domain    string         `yaml:"domain"`
	Endpoints []string       `yaml:"endpoints"`
	Caps      []string       `yaml:"caps"`
	MR        MRConfig       `yaml:"mr"`
	AV        AVConfig       `yaml:"av"`
	Resolver  ResolverConfig `yaml:"resolver"`
}

// MRConfig controls memory registration.
type MRConfig struct {
	Mode           []string `yaml:"mode"`
	IovLimit       int      `yaml:"iov_limit"`
	MaxCount       int      `yaml:"max_count"`
	MaxAuthKeySize int      `yaml:"max_auth_key_size"`
}

// AVConfig controls address vector defaults.
type AVConfig struct {
	Type       string `yaml:"type"`
	Capacity   int    `yaml:"capacity"`
	MaxEntries int    `yaml:"max_entries"`
}

// ResolverConfig selects the name resolution backend.
type ResolverConfig struct {
	// Kind is "system" or "dns".
	Kind       string        `yaml:"kind"`
	Server     string        `yaml:"server"`
	Network    string        `yaml:"network"`
	Timeout    time.Duration `yaml:"timeout"`
	PreferIPv6 bool          `yaml:"prefer_ipv6"`
	// CacheSize enables a resolution cache when positive.
	CacheSize   int `yaml:"cache_size"`
	Concurrency int `yaml:"concurrency"`
	// SymmetricPolicy is "per-entry" or "templated".
	SymmetricPolicy string `yaml:"symmetric_policy"`
}

// DefaultConfig returns the configuration registered at init.
func DefaultConfig() Config {
	return Config{
		Name:      Name,
		Fabric:    "sockets",
		Domain:    "sockets0",
		Endpoints: []string{"msg", "rdm", "dgram"},
		Caps:      []string{"msg", "rma", "atomic", "read", "write", "recv", "send", "remote_read", "remote_write"},
		MR: MRConfig{
			Mode:           []string{"local", "raw"},
			IovLimit:       8,
			MaxAuthKeySize: 64,
		},
		AV: AVConfig{
			Type:     "map",
			Capacity: 128,
		},
		Resolver: ResolverConfig{
			Kind:            "system",
			Timeout:         2 * time.Second,
			CacheSize:       256,
			Concurrency:     8,
			SymmetricPolicy: "per-entry",
		},
	}
}

// LoadConfig reads a YAML configuration file. Fields absent from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read sockets config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse sockets config: %w", err)
	}
	if _, err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// compiled is the validated, bit-level form of a Config.
type compiled struct {
	infos    []fi.Info
	avType   fi.AVType
	policy   resolve.Policy
	resolver resolve.Resolver
}

func (c Config) compile() (compiled, error) {
	var out compiled
	if c.Name == "" {
		return out, fi.ErrInvalidArgument.Wrapf("sockets config", "name is required")
	}
	caps, err := fi.ParseCaps(c.Caps)
	if err != nil {
		return out, err
	}
	mode, err := fi.ParseMRMode(c.MR.Mode)
	if err != nil {
		return out, err
	}
	if c.MR.IovLimit < 0 || c.MR.MaxCount < 0 || c.MR.MaxAuthKeySize < 0 {
		return out, fi.ErrInvalidArgument.Wrapf("sockets config", "negative memory registration limit")
	}
	if c.AV.Capacity < 0 || c.AV.MaxEntries < 0 {
		return out, fi.ErrInvalidArgument.Wrapf("sockets config", "negative address vector limit")
	}
	if c.AV.Type != "" {
		if out.avType, err = fi.ParseAVType(c.AV.Type); err != nil {
			return out, err
		}
	}
	if out.policy, err = resolve.ParsePolicy(c.Resolver.SymmetricPolicy); err != nil {
		return out, fi.ErrInvalidArgument.Wrapf("sockets config", "%v", err)
	}
	if out.resolver, err = c.Resolver.build(); err != nil {
		return out, err
	}
	if len(c.Endpoints) == 0 {
		return out, fi.ErrInvalidArgument.Wrapf("sockets config", "at least one endpoint type is required")
	}

	for _, name := range c.Endpoints {
		ep, err := fi.ParseEndpointType(name)
		if err != nil {
			return out, err
		}
		out.infos = append(out.infos, fi.Info{
			Provider:       c.Name,
			Fabric:         c.Fabric,
			Domain:         c.Domain,
			Caps:           caps,
			Endpoint:       ep,
			MRMode:         uint64(mode),
			MRKeySize:      rawkey.MaxSize,
			MRIovLimit:     uintptr(c.MR.IovLimit),
			MaxMRCount:     c.MR.MaxCount,
			MaxAuthKeySize: c.MR.MaxAuthKeySize,
			MaxAVEntries:   c.AV.MaxEntries,
			AVType:         out.avType,
		})
	}
	return out, nil
}

func (r ResolverConfig) build() (resolve.Resolver, error) {
	var base resolve.Resolver
	switch r.Kind {
	case "", "system":
		base = resolve.System{Network: r.Network}
	case "dns":
		if r.Server == "" {
			return nil, fi.ErrInvalidArgument.Wrapf("sockets config", "dns resolver requires a server")
		}
		base = &resolve.DNS{Server: r.Server, Timeout: r.Timeout, PreferIPv6: r.PreferIPv6}
	default:
		return nil, fi.ErrInvalidArgument.Wrapf("sockets config", "unknown resolver kind %q", r.Kind)
	}
	if r.CacheSize <= 0 {
		return base, nil
	}
	cache, err := resolve.NewCache(base, r.CacheSize)
	if err != nil {
		return nil, err
	}
	return cache, nil
}
