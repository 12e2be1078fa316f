// Package config loads and validates the REST gateway configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddress  = ":8750"
	defaultNodeEndpoint   = "http://127.0.0.1:8645"
	defaultNodeTimeout    = 10 * time.Second
	defaultClockSkew      = 2 * time.Minute
	defaultIdempotencyTTL = 24 * time.Hour
	defaultIdempotencyCap = 4096
)

// ErrAuthNotConfigured is returned by Validate when TLS material is present
// but the configuration does not state the auth switch explicitly.
var ErrAuthNotConfigured = errors.New("auth.enabled must be explicitly set for TLS deployments")

// NodeConfig points the gateway at the options node JSON-RPC endpoint.
type NodeConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// URL parses the configured node endpoint.
func (n NodeConfig) URL() (*url.URL, error) {
	endpoint := strings.TrimSpace(n.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("node.endpoint missing")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse node endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("node endpoint %q must include scheme and host", endpoint)
	}
	return parsed, nil
}

type RateLimitConfig struct {
	ID            string  `yaml:"id"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

// IdempotencyConfig controls the replay cache guarding mutating REST routes.
type IdempotencyConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"maxEntries"`
}

// AuthConfig describes bearer-token authentication. Enabled and
// AllowAnonymous are pointers so validation can tell an explicit false from
// an absent key; read the effective values through IsEnabled and
// AnonymousAllowed.
type AuthConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	HMACSecret     string        `yaml:"hmacSecret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	ScopeClaim     string        `yaml:"scopeClaim"`
	OptionalPaths  []string      `yaml:"optionalPaths"`
	AllowAnonymous *bool         `yaml:"allowAnonymous"`
	ClockSkew      time.Duration `yaml:"clockSkew"`
}

// IsEnabled reports the effective auth switch. An absent key means enabled,
// so an operator must write enabled: false to turn authentication off.
func (a AuthConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// AnonymousAllowed reports whether anonymous access was explicitly opted in.
func (a AuthConfig) AnonymousAllowed() bool {
	return a.AllowAnonymous != nil && *a.AllowAnonymous
}

type SecurityConfig struct {
	AutoUpgradeHTTP bool   `yaml:"autoUpgradeHTTP"`
	AllowInsecure   bool   `yaml:"allowInsecure"`
	TLSCertFile     string `yaml:"tlsCertFile"`
	TLSKeyFile      string `yaml:"tlsKeyFile"`
	TLSClientCAFile string `yaml:"tlsClientCAFile"`
}

// requiresExplicitAuth reports whether the security block carries TLS
// material or automatic HTTPS upgrades. Such deployments must state the auth
// switch themselves instead of inheriting the default.
func (s SecurityConfig) requiresExplicitAuth() bool {
	return s.AutoUpgradeHTTP ||
		strings.TrimSpace(s.TLSCertFile) != "" ||
		strings.TrimSpace(s.TLSKeyFile) != "" ||
		strings.TrimSpace(s.TLSClientCAFile) != ""
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Node          NodeConfig          `yaml:"node"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Security      SecurityConfig      `yaml:"security"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress: defaultListenAddress,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Node: NodeConfig{
			Endpoint: defaultNodeEndpoint,
			Timeout:  defaultNodeTimeout,
		},
		Observability: ObservabilityConfig{
			ServiceName:   "options-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "optionsgw",
		},
		Auth: AuthConfig{
			ScopeClaim: "scope",
			ClockSkew:  defaultClockSkew,
		},
		Idempotency: IdempotencyConfig{
			TTL:        defaultIdempotencyTTL,
			MaxEntries: defaultIdempotencyCap,
		},
	}
}

// Load reads the YAML file at path over the built-in defaults and validates
// the result. An empty path yields the defaults themselves.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyDefaults restores required knobs an operator zeroed out explicitly.
func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(cfg.Node.Endpoint) == "" {
		cfg.Node.Endpoint = defaultNodeEndpoint
	}
	if cfg.Node.Timeout <= 0 {
		cfg.Node.Timeout = defaultNodeTimeout
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = defaultClockSkew
	}
	if strings.TrimSpace(cfg.Auth.ScopeClaim) == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = defaultIdempotencyTTL
	}
	if cfg.Idempotency.MaxEntries <= 0 {
		cfg.Idempotency.MaxEntries = defaultIdempotencyCap
	}
}

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := cfg.Node.URL(); err != nil {
		return err
	}
	if cfg.Security.requiresExplicitAuth() && cfg.Auth.Enabled == nil {
		return ErrAuthNotConfigured
	}
	cleaned := make([]string, len(cfg.Auth.OptionalPaths))
	for i, p := range cfg.Auth.OptionalPaths {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		case !strings.HasPrefix(p, "/"):
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		cleaned[i] = p
	}
	cfg.Auth.OptionalPaths = cleaned
	if cfg.Auth.IsEnabled() && cfg.Auth.AnonymousAllowed() && len(cfg.Auth.OptionalPaths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}
	return nil
}

// EnforceSecureScheme requires HTTPS for the node connection outside the dev
// environment. With autoUpgrade set, plain HTTP targets are rewritten to
// HTTPS; the boolean reports whether that happened.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL is nil")
	}
	switch scheme := strings.ToLower(strings.TrimSpace(target.Scheme)); scheme {
	case "https":
		return target, false, nil
	case "http":
	case "":
		return nil, false, fmt.Errorf("URL scheme is required")
	default:
		return nil, false, fmt.Errorf("unsupported URL scheme %q", target.Scheme)
	}
	if isDevEnv(env) {
		return target, false, nil
	}
	if autoUpgrade {
		upgraded := *target
		upgraded.Scheme = "https"
		return &upgraded, true, nil
	}
	if strings.TrimSpace(env) == "" {
		env = "(unset)"
	}
	return nil, false, fmt.Errorf("plaintext HTTP endpoints are not permitted for environment %s", env)
}

func isDevEnv(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}
