package sockmux

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aydenstechdungeon/sockmux/endpoint"
)

// Duration parses from YAML either as a Go duration string ("30s") or
// as an integer number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// RouteDef declares one endpoint in a manifest.
type RouteDef struct {
	Path              string   `yaml:"path"`
	Limit             int      `yaml:"limit"`
	UseConnectionKeys *bool    `yaml:"use_connection_keys"`
	KeyExpiration     Duration `yaml:"key_expiration"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	RequiredParams    []string `yaml:"required_params"`
	RateLimit         struct {
		Max    int      `yaml:"max"`
		Window Duration `yaml:"window"`
	} `yaml:"rate_limit"`
}

// Manifest is a declarative set of endpoints, typically loaded from a
// YAML file at startup.
type Manifest struct {
	Routes []RouteDef `yaml:"routes"`
}

// LoadManifest reads and parses a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest parses YAML manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var man Manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, err
	}
	for _, r := range man.Routes {
		if r.Path == "" {
			return nil, fmt.Errorf("manifest route missing path")
		}
		if r.RateLimit.Max > 0 && r.RateLimit.Window <= 0 {
			return nil, fmt.Errorf("route %s: rate_limit.max set without a window", r.Path)
		}
	}
	return &man, nil
}

// Config builds the endpoint configuration a route definition declares.
func (r RouteDef) Config() endpoint.Config {
	cfg := endpoint.DefaultConfig()
	cfg.Limit = r.Limit
	if r.UseConnectionKeys != nil {
		cfg.UseConnectionKeys = *r.UseConnectionKeys
	}
	if r.KeyExpiration > 0 {
		cfg.KeyExpiration = time.Duration(r.KeyExpiration)
	}
	cfg.IdleTimeout = time.Duration(r.IdleTimeout)
	cfg.RequiredParams = r.RequiredParams
	if r.RateLimit.Max > 0 {
		cfg.RateLimit = endpoint.RateLimit{
			Max:    r.RateLimit.Max,
			Window: time.Duration(r.RateLimit.Window),
		}
	}
	return cfg
}

// Apply opens every endpoint the manifest declares.
func (m *Mux) Apply(man *Manifest) error {
	for _, r := range man.Routes {
		if _, err := m.Open(r.Path, r.Config()); err != nil {
			return fmt.Errorf("open %s: %w", r.Path, err)
		}
	}
	return nil
}
