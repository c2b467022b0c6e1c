package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/distcache/cachepool/lib/metrics"
	"github.com/distcache/cachepool/lib/pool"
)

// ClientState represents the current state of the client.
type ClientState int

const (
	// StateInitial is the initial state before Start is called.
	StateInitial ClientState = iota
	// StateStarting means the client is in the process of starting.
	StateStarting
	// StateRunning means the pool is open and serving acquires.
	StateRunning
	// StateStopping means the client is shutting down.
	StateStopping
	// StateStopped means the client has been stopped.
	StateStopped
)

func (s ClientState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Client owns a connection pool built from a Config together with the
// metrics endpoint and the loop that publishes pool gauges.
type Client struct {
	mu     sync.RWMutex
	config *Config
	logger *slog.Logger
	state  ClientState

	pool      *pool.Pool
	metricsLn net.Listener
	server    *http.Server

	cancel context.CancelFunc
	done   chan struct{}

	startedAt time.Time

	onStateChange func(oldState, newState ClientState)
	onError       func(err error, message string)
}

// NewClient creates a new Client with the given configuration.
// No connections are made until Start is called.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: cfg,
		logger: logger.With("component", "client", "pool", cfg.Cache.Name),
		state:  StateInitial,
		done:   make(chan struct{}),
	}, nil
}

// Start creates the pool and, when configured, the metrics endpoint.
// Connections are created lazily on first acquire.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInitial && c.state != StateStopped {
		c.mu.Unlock()
		return fmt.Errorf("cannot start client in state %s", c.state)
	}
	oldState := c.state
	c.state = StateStarting
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.emitStateChange(oldState, StateStarting)

	c.logger.Info("starting client",
		"host", c.config.Cache.Host,
		"port", c.config.Cache.Port,
		"tls", c.config.TLS.Enabled,
	)

	p, err := NewPool(c.config)
	if err != nil {
		c.transitionToStopped()
		c.emitError(err, "failed to create pool")
		return fmt.Errorf("creating pool: %w", err)
	}

	var ln net.Listener
	var srv *http.Server
	if c.config.Metrics.Listen != "" {
		ln, err = net.Listen("tcp", c.config.Metrics.Listen)
		if err != nil {
			p.Close()
			c.transitionToStopped()
			c.emitError(err, "failed to listen for metrics")
			return fmt.Errorf("listening for metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.emitError(err, "metrics server failed")
			}
		}()
		c.logger.Info("serving metrics", "addr", ln.Addr().String())
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.pool = p
	c.metricsLn = ln
	c.server = srv
	c.cancel = cancel
	c.state = StateRunning
	c.startedAt = time.Now()
	c.mu.Unlock()

	metrics.RecordStartTime()
	c.emitStateChange(StateStarting, StateRunning)
	c.logger.Info("client started")

	go c.run(runCtx, p)

	return nil
}

// run publishes pool gauges until the context is cancelled.
func (c *Client) run(ctx context.Context, p *pool.Pool) {
	defer close(c.done)

	interval := c.config.Metrics.PublishInterval.Std()
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pool.UpdateMetrics(p.Stats())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool.UpdateMetrics(p.Stats())
		}
	}
}

// Stop closes the pool and the metrics endpoint. It blocks until the
// publish loop has exited or ctx is done.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return fmt.Errorf("cannot stop client in state %s", c.state)
	}
	c.state = StateStopping
	cancel := c.cancel
	p := c.pool
	srv := c.server
	c.mu.Unlock()

	c.emitStateChange(StateRunning, StateStopping)
	c.logger.Info("stopping client")

	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := p.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing pool: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping metrics server: %w", err))
		}
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.transitionToStopped()
	c.emitStateChange(StateStopping, StateStopped)
	c.logger.Info("client stopped")
	return errors.Join(errs...)
}

func (c *Client) transitionToStopped() {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
}

// State returns the current state of the client.
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Config returns the client's configuration.
func (c *Client) Config() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Pool returns the pool, or nil before Start.
func (c *Client) Pool() *pool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

// MetricsAddr returns the metrics listen address, or "" when disabled.
func (c *Client) MetricsAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.metricsLn == nil {
		return ""
	}
	return c.metricsLn.Addr().String()
}

// Done returns a channel that is closed when the client has stopped.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Uptime returns how long the client has been running.
// Returns zero if not running.
func (c *Client) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.startedAt.IsZero() || c.state != StateRunning {
		return 0
	}
	return time.Since(c.startedAt)
}

// SetOnStateChange sets a callback for state changes.
// The callback is invoked synchronously during state transitions.
func (c *Client) SetOnStateChange(callback func(oldState, newState ClientState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = callback
}

// SetOnError sets a callback for error events.
func (c *Client) SetOnError(callback func(err error, message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

func (c *Client) emitStateChange(oldState, newState ClientState) {
	c.mu.RLock()
	callback := c.onStateChange
	c.mu.RUnlock()

	if callback != nil {
		callback(oldState, newState)
	}
}

func (c *Client) emitError(err error, message string) {
	c.mu.RLock()
	callback := c.onError
	c.mu.RUnlock()

	c.logger.Error(message, "error", err)
	if callback != nil {
		callback(err, message)
	}
}
