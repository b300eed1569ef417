// Package config loads and validates the proxy's YAML configuration and
// translates it into the runtime types internal/lb and internal/router
// operate on, per spec.md §6. Grounded on the teacher's internal/config/
// config.go (Config/DefaultConfig shape, validate-on-load pattern) and
// builder.go (config-to-runtime translation, generalized here into
// Config.ToPools).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mir00r/edge-proxy/internal/domain"
	"github.com/mir00r/edge-proxy/internal/lb"
	"github.com/mir00r/edge-proxy/internal/perrors"
)

// Milliseconds is a time.Duration decoded from either of the two forms
// spec.md §6's own config example mixes: a bare number (`timeout_ms: 1000`),
// taken as milliseconds, or a unit-suffixed string (`interval: 5000ms`),
// parsed with time.ParseDuration. gopkg.in/yaml.v2 has no built-in support
// for decoding either form into a time.Duration.
type Milliseconds time.Duration

// UnmarshalYAML accepts a bare integer/float (milliseconds) or a
// time.ParseDuration-style string.
func (m *Milliseconds) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		// yaml.v2 also decodes a bare number into a string, so a string
		// that is not a duration falls through to the numeric forms.
		if d, perr := time.ParseDuration(s); perr == nil {
			*m = Milliseconds(d)
			return nil
		}
	}

	var ms int64
	if err := unmarshal(&ms); err == nil {
		*m = Milliseconds(time.Duration(ms) * time.Millisecond)
		return nil
	}

	var f float64
	if err := unmarshal(&f); err != nil {
		return fmt.Errorf("duration value must be a number or a duration string: %w", err)
	}
	*m = Milliseconds(time.Duration(f*float64(time.Millisecond)))
	return nil
}

// Duration returns the value as a time.Duration.
func (m Milliseconds) Duration() time.Duration {
	return time.Duration(m)
}

// Config is the validated, immutable root configuration, built once at
// startup from the YAML file named on the command line.
type Config struct {
	Version  string              `yaml:"version"`
	Listen   ListenConfig        `yaml:"listen"`
	Upstream map[string]Upstream `yaml:"upstream"`
	Log      LogConfig           `yaml:"log"`
}

// ListenConfig is the QUIC socket the proxy binds.
type ListenConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig names the certificate/key pair the QUIC listener presents.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// LogConfig controls pkg/logger's output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Upstream is one named pool: its routing criteria, load-balancing policy,
// and backend list.
type Upstream struct {
	LoadBalancing LoadBalancingConfig `yaml:"load_balancing"`
	Route         RouteConfig         `yaml:"route"`
	Backends      []BackendConfig     `yaml:"backends"`
}

// LoadBalancingConfig names the selection policy. Type accepts the spec's
// synonyms (round-robin/round_robin/rr, consistent-hash/consistent_hash/ch)
// in addition to the canonical names.
type LoadBalancingConfig struct {
	Type string `yaml:"type"`
}

// RouteConfig is the host/path-prefix match criteria for an upstream.
type RouteConfig struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"path_prefix"`
}

// BackendConfig is one backend origin inside an upstream.
type BackendConfig struct {
	ID          string            `yaml:"id"`
	Address     string            `yaml:"address"`
	Weight      int               `yaml:"weight"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
}

// HealthCheckConfig is the probe policy for one backend.
type HealthCheckConfig struct {
	Path             string       `yaml:"path"`
	Interval         Milliseconds `yaml:"interval"`
	Timeout          Milliseconds `yaml:"timeout_ms"`
	FailureThreshold int          `yaml:"failure_threshold"`
	SuccessThreshold int          `yaml:"success_threshold"`
	Cooldown         Milliseconds `yaml:"cooldown_ms"`
}

// Default values applied when a field is left at its YAML zero value,
// matching spec.md §6's defaults table.
const (
	DefaultHealthCheckPath     = "/health"
	DefaultHealthCheckInterval = 5000 * time.Millisecond
	DefaultHealthCheckTimeout  = 1000 * time.Millisecond
	DefaultFailureThreshold    = 3
	DefaultSuccessThreshold    = 2
	DefaultCooldown            = 5000 * time.Millisecond
	DefaultBackendWeight       = 100
	DefaultLogLevel            = "info"
)

// Load reads, parses, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrap(perrors.ConfigInvalid, "config", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, perrors.Wrap(perrors.ConfigInvalid, "config", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	for name, up := range c.Upstream {
		for i := range up.Backends {
			b := &up.Backends[i]
			if b.Weight <= 0 {
				b.Weight = DefaultBackendWeight
			}
			hc := &b.HealthCheck
			if hc.Path == "" {
				hc.Path = DefaultHealthCheckPath
			}
			if hc.Interval.Duration() <= 0 {
				hc.Interval = Milliseconds(DefaultHealthCheckInterval)
			}
			if hc.Timeout.Duration() <= 0 {
				hc.Timeout = Milliseconds(DefaultHealthCheckTimeout)
			}
			if hc.FailureThreshold <= 0 {
				hc.FailureThreshold = DefaultFailureThreshold
			}
			if hc.SuccessThreshold <= 0 {
				hc.SuccessThreshold = DefaultSuccessThreshold
			}
			if hc.Cooldown.Duration() <= 0 {
				hc.Cooldown = Milliseconds(DefaultCooldown)
			}
		}
		c.Upstream[name] = up
	}
}

func (c *Config) validate() error {
	if len(c.Upstream) == 0 {
		return perrors.New(perrors.ConfigInvalid, "config", "at least one upstream is required")
	}
	if c.Listen.Address == "" {
		return perrors.New(perrors.ConfigInvalid, "config", "listen.address is required")
	}
	if c.Listen.Port <= 0 {
		return perrors.New(perrors.ConfigInvalid, "config", "listen.port must be positive")
	}
	if c.Listen.TLS.Cert == "" || c.Listen.TLS.Key == "" {
		return perrors.New(perrors.ConfigInvalid, "config", "listen.tls.cert and listen.tls.key are required")
	}

	for name, up := range c.Upstream {
		if _, err := normalizePolicy(up.LoadBalancing.Type); err != nil {
			return perrors.Wrap(perrors.ConfigInvalid, "config", err)
		}
		if up.Route.Host == "" && up.Route.PathPrefix == "" {
			return perrors.New(perrors.ConfigInvalid, "config", "upstream "+name+" needs a host or path_prefix")
		}
		if len(up.Backends) == 0 {
			return perrors.New(perrors.ConfigInvalid, "config", "upstream "+name+" needs at least one backend")
		}
		seen := make(map[string]struct{}, len(up.Backends))
		for _, b := range up.Backends {
			if b.ID == "" || b.Address == "" {
				return perrors.New(perrors.ConfigInvalid, "config", "upstream "+name+" has a backend missing id or address")
			}
			if _, dup := seen[b.ID]; dup {
				return perrors.New(perrors.ConfigInvalid, "config", "upstream "+name+" has duplicate backend id "+b.ID)
			}
			seen[b.ID] = struct{}{}
		}
	}
	return nil
}

// normalizePolicy accepts the spec's policy-name synonyms and returns the
// canonical domain.PolicyType.
func normalizePolicy(raw string) (domain.PolicyType, error) {
	switch raw {
	case "", "random":
		return domain.PolicyRandom, nil
	case "round-robin", "round_robin", "rr":
		return domain.PolicyRoundRobin, nil
	case "consistent-hash", "consistent_hash", "ch":
		return domain.PolicyConsistentHash, nil
	default:
		return "", perrors.New(perrors.ConfigInvalid, "config", "unknown load_balancing.type: "+raw)
	}
}

// ToPools translates the validated configuration into runtime lb.Pool
// instances, one per upstream.
func (c *Config) ToPools() ([]*lb.Pool, error) {
	pools := make([]*lb.Pool, 0, len(c.Upstream))
	for name, up := range c.Upstream {
		policy, err := normalizePolicy(up.LoadBalancing.Type)
		if err != nil {
			return nil, err
		}

		backends := make([]*domain.Backend, 0, len(up.Backends))
		for _, b := range up.Backends {
			backends = append(backends, &domain.Backend{
				ID:      b.ID,
				Address: b.Address,
				Weight:  b.Weight,
				HealthCheck: domain.HealthCheck{
					Path:             b.HealthCheck.Path,
					Interval:         b.HealthCheck.Interval.Duration(),
					Timeout:          b.HealthCheck.Timeout.Duration(),
					FailureThreshold: b.HealthCheck.FailureThreshold,
					SuccessThreshold: b.HealthCheck.SuccessThreshold,
					Cooldown:         b.HealthCheck.Cooldown.Duration(),
				},
			})
		}

		match := domain.RouteMatch{Host: up.Route.Host, PathPrefix: up.Route.PathPrefix}
		pools = append(pools, lb.NewPool(name, match, policy, backends))
	}
	return pools, nil
}
