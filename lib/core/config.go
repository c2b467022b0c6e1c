// Package core wires a cache connection pool together from a configuration
// file: TLS provider, version negotiator, dialer settings and pool limits,
// plus the optional metrics endpoint that reports on it.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/distcache/cachepool/lib/negotiation"
	"github.com/distcache/cachepool/lib/pool"
	"github.com/distcache/cachepool/lib/resilience"
	"github.com/distcache/cachepool/lib/security"
	"github.com/distcache/cachepool/lib/transport"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 4557
	DefaultTimeoutMillis       = 5000
	DefaultPoolName            = "cache"
	DefaultMaxIdleTime         = 10 * time.Minute
	DefaultHealthCheckInterval = time.Minute
	DefaultBreakerCooldown     = 5 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultPublishInterval     = 5 * time.Second
)

// DefaultVersions are the protocol versions offered, highest first.
var DefaultVersions = []int32{3, 2, 1}

// Duration is a time.Duration written as a string such as "1m30s" in
// configuration files.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration for a cache connection pool.
type Config struct {
	Cache   CacheConfig   `toml:"cache" yaml:"cache"`
	TLS     TLSConfig     `toml:"tls" yaml:"tls"`
	Pool    PoolConfig    `toml:"pool" yaml:"pool"`
	Dial    DialConfig    `toml:"dial" yaml:"dial"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// CacheConfig identifies the cache server.
type CacheConfig struct {
	// Host is the server host name or IP address
	Host string `toml:"host" yaml:"host"`
	// Port is the server port
	Port int `toml:"port" yaml:"port"`
	// TimeoutMillis bounds connecting, the handshake, each I/O call and
	// each acquire
	TimeoutMillis int `toml:"timeout_ms" yaml:"timeout_ms"`
	// Name labels the pool in logs
	Name string `toml:"name" yaml:"name"`
	// Versions are the protocol versions to offer
	Versions []int32 `toml:"versions" yaml:"versions"`
}

// TLSConfig contains transport security settings.
type TLSConfig struct {
	// Enabled turns on TLS
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// CertFile and KeyFile hold an optional client certificate
	CertFile string `toml:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `toml:"key_file,omitempty" yaml:"key_file,omitempty"`
	// CAFile holds trusted roots; empty means the system pool
	CAFile string `toml:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	// ServerName overrides the verified name; empty means Cache.Host
	ServerName string `toml:"server_name,omitempty" yaml:"server_name,omitempty"`
	// InsecureSkipVerify disables certificate verification
	InsecureSkipVerify bool `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// PoolConfig contains pool sizing and maintenance settings.
type PoolConfig struct {
	// MaxConnections bounds live connections; zero means twice the CPU count
	MaxConnections int `toml:"max_connections" yaml:"max_connections"`
	// Workers bounds concurrent connection setups; zero means MaxConnections
	Workers int `toml:"workers" yaml:"workers"`
	// MaxIdleTime closes connections idle for longer; zero disables it
	MaxIdleTime Duration `toml:"max_idle_time" yaml:"max_idle_time"`
	// HealthCheckInterval is the background check period; zero disables it
	HealthCheckInterval Duration `toml:"health_check_interval" yaml:"health_check_interval"`
	// QueuedFailurePolicy is "fail-waiter" or "retry-once"
	QueuedFailurePolicy string `toml:"queued_failure_policy" yaml:"queued_failure_policy"`
}

// DialConfig contains dial throttling and circuit breaker settings.
type DialConfig struct {
	// RatePerSecond limits dials; zero disables the limit
	RatePerSecond float64 `toml:"rate_per_second" yaml:"rate_per_second"`
	// Burst is the number of dials allowed at once
	Burst int `toml:"burst" yaml:"burst"`
	// BreakerFailures opens the circuit after this many consecutive dial
	// failures; zero disables the breaker
	BreakerFailures int `toml:"breaker_failures" yaml:"breaker_failures"`
	// BreakerCooldown is how long an open circuit rejects dials
	BreakerCooldown Duration `toml:"breaker_cooldown" yaml:"breaker_cooldown"`
	// KeepAlive is the TCP keep-alive period
	KeepAlive Duration `toml:"keep_alive" yaml:"keep_alive"`
}

// MetricsConfig contains metrics endpoint settings.
type MetricsConfig struct {
	// Listen is the address serving /metrics; empty disables it
	Listen string `toml:"listen,omitempty" yaml:"listen,omitempty"`
	// PublishInterval is how often pool gauges are refreshed
	PublishInterval Duration `toml:"publish_interval" yaml:"publish_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Host:          DefaultHost,
			Port:          DefaultPort,
			TimeoutMillis: DefaultTimeoutMillis,
			Name:          DefaultPoolName,
			Versions:      append([]int32(nil), DefaultVersions...),
		},
		Pool: PoolConfig{
			MaxIdleTime:         Duration(DefaultMaxIdleTime),
			HealthCheckInterval: Duration(DefaultHealthCheckInterval),
			QueuedFailurePolicy: pool.FailWaiter.String(),
		},
		Dial: DialConfig{
			Burst:           1,
			BreakerCooldown: Duration(DefaultBreakerCooldown),
			KeepAlive:       Duration(DefaultKeepAlive),
		},
		Metrics: MetricsConfig{
			PublishInterval: Duration(DefaultPublishInterval),
		},
	}
}

type format int

const (
	formatTOML format = iota
	formatYAML
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		return formatTOML, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("%w: unsupported config file extension %q", apperrors.ErrConfiguration, filepath.Ext(path))
	}
}

// LoadConfig reads configuration from a TOML or YAML file, chosen by
// extension. If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch f {
	case formatYAML:
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", apperrors.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration in the format matching the file
// extension. It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var data []byte
	switch f {
	case formatYAML:
		data, err = yaml.Marshal(cfg)
	default:
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{apperrors.ErrConfiguration}, args...)...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Cache.Host == "" {
		return configError("cache.host is required")
	}
	if c.Cache.Port < 1 || c.Cache.Port > 65535 {
		return configError("cache.port must be between 1 and 65535")
	}
	if c.Cache.TimeoutMillis < 1 {
		return configError("cache.timeout_ms must be positive")
	}
	if len(c.Cache.Versions) == 0 {
		return configError("cache.versions must not be empty")
	}
	for _, v := range c.Cache.Versions {
		if v < 1 {
			return configError("cache.versions contains invalid version %d", v)
		}
	}
	if c.Pool.MaxConnections < 0 || c.Pool.Workers < 0 {
		return configError("pool.max_connections and pool.workers must not be negative")
	}
	if c.Pool.MaxIdleTime < 0 || c.Pool.HealthCheckInterval < 0 {
		return configError("pool durations must not be negative")
	}
	if _, err := pool.ParseQueuedFailurePolicy(c.Pool.QueuedFailurePolicy); err != nil {
		return configError("pool.queued_failure_policy: %v", err)
	}
	if c.Dial.RatePerSecond < 0 {
		return configError("dial.rate_per_second must not be negative")
	}
	if c.Dial.RatePerSecond > 0 && c.Dial.Burst < 1 {
		return configError("dial.burst must be at least 1 when rate limiting")
	}
	if c.Dial.BreakerFailures < 0 {
		return configError("dial.breaker_failures must not be negative")
	}
	if c.Dial.BreakerFailures > 0 && c.Dial.BreakerCooldown <= 0 {
		return configError("dial.breaker_cooldown must be positive when the breaker is enabled")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return configError("tls.cert_file and tls.key_file must be set together")
	}
	return nil
}

// Provider returns the TLS provider, or nil when TLS is disabled.
func (c *Config) Provider() security.Provider {
	if !c.TLS.Enabled {
		return nil
	}
	return security.FileProvider{
		CertFile:           c.TLS.CertFile,
		KeyFile:            c.TLS.KeyFile,
		CAFile:             c.TLS.CAFile,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
}

// Negotiator returns a negotiator offering the configured versions.
func (c *Config) Negotiator() negotiation.Negotiator {
	versions := make([]negotiation.Version, len(c.Cache.Versions))
	for i, v := range c.Cache.Versions {
		versions[i] = negotiation.Version(v)
	}
	return negotiation.NewStandardNegotiator(versions...)
}

// Factory returns a pool factory carrying the pool and dial settings.
func (c *Config) Factory() (*pool.Factory, error) {
	policy, err := pool.ParseQueuedFailurePolicy(c.Pool.QueuedFailurePolicy)
	if err != nil {
		return nil, err
	}
	dial := transport.DefaultDialConfig()
	dial.RateLimit = c.Dial.RatePerSecond
	dial.Burst = c.Dial.Burst
	dial.KeepAlive = c.Dial.KeepAlive.Std()
	dial.Breaker = resilience.Config{
		FailureThreshold: c.Dial.BreakerFailures,
		Cooldown:         c.Dial.BreakerCooldown.Std(),
	}

	workers := c.Pool.Workers
	if workers == 0 {
		workers = c.Pool.MaxConnections
	}

	return pool.NewFactory().
		SetMaxConnections(c.Pool.MaxConnections).
		SetWorkers(workers).
		SetMaxIdleTime(c.Pool.MaxIdleTime.Std()).
		SetHealthCheckInterval(c.Pool.HealthCheckInterval.Std()).
		SetQueuedFailurePolicy(policy).
		SetDialConfig(dial), nil
}

// NewPool validates c and builds the pool it describes.
func NewPool(c *Config) (*pool.Pool, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	f, err := c.Factory()
	if err != nil {
		return nil, err
	}
	return f.CreatePool(c.Cache.Host, c.Cache.Port, c.Cache.TimeoutMillis, c.Provider(), c.Negotiator(), c.Cache.Name)
}
