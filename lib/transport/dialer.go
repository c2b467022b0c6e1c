// Package transport establishes raw TCP connections to cache servers and
// tracks the health of established connections.
package transport

import (
	"context"
	"errors"
	"net"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/distcache/cachepool/lib/metrics"
	"github.com/distcache/cachepool/lib/ratelimit"
	"github.com/distcache/cachepool/lib/resilience"
)

// DialConfig configures a TCPDialer.
type DialConfig struct {
	// Timeout bounds TCP connection establishment. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration
	// KeepAlive is the TCP keep-alive period. Zero uses the system default,
	// a negative value disables keep-alives.
	KeepAlive time.Duration
	// RateLimit is the maximum number of dials per second. Zero disables
	// rate limiting.
	RateLimit float64
	// Burst is the number of dials allowed at once under RateLimit.
	Burst int
	// Breaker configures the dial circuit breaker.
	Breaker resilience.Config
}

// DefaultDialConfig returns a configuration with a 5s connect timeout and
// no rate limiting or circuit breaking.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Burst:     1,
		Breaker:   resilience.DefaultConfig(),
	}
}

// Dialer opens raw connections.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialContext implements Dialer.
func (f DialerFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// TCPDialer dials cache servers over TCP. Failures are reported as
// *errors.ConnectionError in the connect phase.
type TCPDialer struct {
	cfg     DialConfig
	dialer  net.Dialer
	limiter *ratelimit.Limiter
	breaker *resilience.Breaker
}

// NewDialer creates a TCPDialer. name identifies the dialer in logs.
func NewDialer(name string, cfg DialConfig) *TCPDialer {
	return &TCPDialer{
		cfg:     cfg,
		dialer:  net.Dialer{KeepAlive: cfg.KeepAlive},
		limiter: ratelimit.New(cfg.RateLimit, cfg.Burst),
		breaker: resilience.New(name, cfg.Breaker),
	}
}

// BreakerState returns the state of the dial circuit breaker.
func (d *TCPDialer) BreakerState() resilience.State {
	return d.breaker.State()
}

// DialContext implements Dialer.
func (d *TCPDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	if err := d.limiter.Wait(ctx); err != nil {
		metrics.RateLimitRejections.Inc()
		return nil, apperrors.NewConnectionError(addr, apperrors.PhaseConnect, apperrors.ErrRateLimited, err)
	}
	if !d.breaker.Allow() {
		return nil, apperrors.NewConnectionError(addr, apperrors.PhaseConnect, apperrors.ErrCircuitOpen, nil)
	}

	metrics.DialsTotal.Inc()
	timer := metrics.NewTimer(metrics.DialLatency)
	conn, err := d.dialer.DialContext(ctx, network, addr)
	elapsed := timer.ObserveDuration()
	if err != nil {
		d.breaker.Failure()
		metrics.DialFailures.Inc()
		kind := apperrors.ErrConnection
		if isTimeout(err) {
			kind = apperrors.ErrConnectTimeout
		}
		log.WithField("addr", addr).WithField("elapsed", elapsed).WithError(err).Debug("dial failed")
		return nil, apperrors.NewConnectionError(addr, apperrors.PhaseConnect, kind, err)
	}
	d.breaker.Success()

	log.WithField("addr", addr).WithField("elapsed", elapsed).Debug("dialed cache server")
	return conn, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
