package client

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rocketbitz/fidomain/fi"
)

// Config controls Dial behaviour for the high-level Client. The exported
// observability hooks are not loaded from files and must be set in code.
type Config struct {
	Provider     string
	Domain       string
	EndpointType fi.EndpointType
	// Timeout bounds peer resolution when the caller supplies no deadline.
	Timeout time.Duration

	AVType    fi.AVType
	AVName    string
	AVSize    int
	RXCtxBits int

	// EventQueueSize bounds the client event queue; zero is unbounded.
	EventQueueSize int

	MRPoolSize     int
	MRPoolCapacity int
	MRPoolAccess   fi.MRAccessFlag
	// AuthKey, when set, gates remote access to exported buffers.
	AuthKey []byte

	Logger           fi.Logger
	StructuredLogger fi.StructuredLogger
	Tracer           fi.Tracer
	Metrics          fi.MetricHook
}

type fileConfig struct {
	Provider     string        `yaml:"provider"`
	Domain       string        `yaml:"domain"`
	EndpointType string        `yaml:"endpoint_type"`
	Timeout      time.Duration `yaml:"timeout"`
	AV           struct {
		Type      string `yaml:"type"`
		Name      string `yaml:"name"`
		Size      int    `yaml:"size"`
		RXCtxBits int    `yaml:"rx_ctx_bits"`
	} `yaml:"av"`
	EventQueueSize int `yaml:"eq_size"`
	MRPool         struct {
		Size     int      `yaml:"size"`
		Capacity int      `yaml:"capacity"`
		Access   []string `yaml:"access"`
	} `yaml:"mr_pool"`
	AuthKey string `yaml:"auth_key"`
}

// LoadConfig reads a YAML client configuration from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read client config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse client config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML client configuration. Unset fields keep the
// defaults Dial applies.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Provider:       fc.Provider,
		Domain:         fc.Domain,
		Timeout:        fc.Timeout,
		AVName:         fc.AV.Name,
		AVSize:         fc.AV.Size,
		RXCtxBits:      fc.AV.RXCtxBits,
		EventQueueSize: fc.EventQueueSize,
		MRPoolSize:     fc.MRPool.Size,
		MRPoolCapacity: fc.MRPool.Capacity,
	}
	if fc.AuthKey != "" {
		cfg.AuthKey = []byte(fc.AuthKey)
	}
	if fc.EndpointType != "" {
		ep, err := fi.ParseEndpointType(fc.EndpointType)
		if err != nil {
			return Config{}, err
		}
		cfg.EndpointType = ep
	}
	if fc.AV.Type != "" {
		avType, err := fi.ParseAVType(fc.AV.Type)
		if err != nil {
			return Config{}, err
		}
		cfg.AVType = avType
	}
	access, err := parseAccess(fc.MRPool.Access)
	if err != nil {
		return Config{}, err
	}
	cfg.MRPoolAccess = access
	return cfg, nil
}

// parseAccess accepts capability names plus "local" for MRAccessLocal.
func parseAccess(names []string) (fi.MRAccessFlag, error) {
	var access fi.MRAccessFlag
	rest := make([]string, 0, len(names))
	for _, name := range names {
		if strings.EqualFold(name, "local") {
			access |= fi.MRAccessLocal
			continue
		}
		rest = append(rest, name)
	}
	bits, err := fi.ParseCaps(rest)
	if err != nil {
		return 0, err
	}
	return access | fi.MRAccessFlag(bits), nil
}
