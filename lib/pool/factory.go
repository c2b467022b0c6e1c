package pool

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/distcache/cachepool/lib/handshake"
	"github.com/distcache/cachepool/lib/negotiation"
	"github.com/distcache/cachepool/lib/security"
	"github.com/distcache/cachepool/lib/transport"
	"github.com/shirou/gopsutil/v3/cpu"
)

// MaxPendingAcquires is the queue bound of pools built by a Factory.
const MaxPendingAcquires = 1024

// DefaultParallelism returns twice the number of logical CPUs.
func DefaultParallelism() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	return 2 * n
}

// Factory builds pools for cache servers. The zero value is not usable;
// call NewFactory.
type Factory struct {
	maxConnections      int
	workers             int
	maxIdleTime         time.Duration
	healthCheckInterval time.Duration
	policy              QueuedFailurePolicy
	dial                transport.DialConfig
	checker             transport.HealthChecker
}

// NewFactory returns a factory whose pools allow DefaultParallelism
// connections and set them up on as many workers.
func NewFactory() *Factory {
	n := DefaultParallelism()
	defaults := DefaultConfig()
	return &Factory{
		maxConnections:      n,
		workers:             n,
		maxIdleTime:         defaults.MaxIdleTime,
		healthCheckInterval: defaults.HealthCheckInterval,
		dial:                transport.DefaultDialConfig(),
		checker:             transport.ActiveChecker{},
	}
}

// SetMaxConnections overrides the live connection limit.
func (f *Factory) SetMaxConnections(n int) *Factory {
	if n > 0 {
		f.maxConnections = n
	}
	return f
}

// SetWorkers overrides the number of concurrent connection setups.
func (f *Factory) SetWorkers(n int) *Factory {
	if n > 0 {
		f.workers = n
	}
	return f
}

// SetMaxIdleTime sets how long a connection may sit idle. Zero disables
// idle eviction.
func (f *Factory) SetMaxIdleTime(d time.Duration) *Factory {
	f.maxIdleTime = d
	return f
}

// SetHealthCheckInterval sets the background health check period. Zero
// disables it.
func (f *Factory) SetHealthCheckInterval(d time.Duration) *Factory {
	f.healthCheckInterval = d
	return f
}

// SetQueuedFailurePolicy sets the policy for setups made for queued calls.
func (f *Factory) SetQueuedFailurePolicy(p QueuedFailurePolicy) *Factory {
	f.policy = p
	return f
}

// SetDialConfig sets rate limiting, circuit breaking and keep-alive for
// dials. Its Timeout is replaced by the pool's connect timeout.
func (f *Factory) SetDialConfig(cfg transport.DialConfig) *Factory {
	f.dial = cfg
	return f
}

// SetHealthChecker replaces the health checker.
func (f *Factory) SetHealthChecker(c transport.HealthChecker) *Factory {
	if c != nil {
		f.checker = c
	}
	return f
}

// CreatePool builds a pool for host:port. timeoutMillis bounds dialing, the
// handshake, each I/O call on a borrowed connection and, by default, each
// acquire. A nil provider means plaintext. name labels the pool in logs.
// Invalid arguments and TLS provider failures are returned here rather than
// on first use.
func (f *Factory) CreatePool(host string, port, timeoutMillis int, provider security.Provider, negotiator negotiation.Negotiator, name string) (*Pool, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", apperrors.ErrInvalidInput)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", apperrors.ErrInvalidInput, port)
	}
	if timeoutMillis <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %dms", apperrors.ErrInvalidInput, timeoutMillis)
	}
	if negotiator == nil {
		return nil, fmt.Errorf("%w: negotiator is required", apperrors.ErrInvalidInput)
	}

	tlsConfig, err := security.ClientConfig(provider, host)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", name, err)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	timeout := time.Duration(timeoutMillis) * time.Millisecond

	dialCfg := f.dial
	dialCfg.Timeout = timeout
	pipeline := &handshake.Pipeline{
		Addr:       addr,
		TLSConfig:  tlsConfig,
		Negotiator: negotiator,
		Timeout:    timeout,
	}

	cfg := Config{
		Name:                name,
		Network:             "tcp",
		Address:             addr,
		MaxConnections:      f.maxConnections,
		MaxPendingAcquires:  MaxPendingAcquires,
		AcquireTimeout:      timeout,
		ConnectTimeout:      timeout,
		IdleTimeout:         timeout,
		MaxIdleTime:         f.maxIdleTime,
		HealthCheckInterval: f.healthCheckInterval,
		Workers:             f.workers,
		QueuedFailurePolicy: f.policy,
	}

	log.WithField("pool", name).
		WithField("address", addr).
		WithField("tls", tlsConfig != nil).
		WithField("timeout", timeout).
		Info("creating cache connection pool")
	return New(cfg, transport.NewDialer(name, dialCfg), pipeline, f.checker)
}
