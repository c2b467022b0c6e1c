// Package handshake turns a raw TCP connection into a usable cache
// connection: an optional TLS handshake followed by protocol version
// negotiation. Both steps run under the deadline of the caller's context,
// so the connect timeout covers the whole setup. There is exactly one
// attempt; on any failure the raw connection is closed.
package handshake

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/distcache/cachepool/lib/metrics"
	"github.com/distcache/cachepool/lib/negotiation"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Pipeline holds what is needed to set up connections to one server.
type Pipeline struct {
	// Addr is the server address, used in errors and logs.
	Addr string
	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config
	// Negotiator agrees on the protocol version. Nil skips negotiation.
	Negotiator negotiation.Negotiator
	// Timeout further bounds the handshake when positive.
	Timeout time.Duration
}

// Establish runs the handshake over raw. On success it returns the
// connection to use for I/O (raw itself, or a *tls.Conn over it) with all
// deadlines cleared. On failure raw is closed and the error is a
// *errors.ConnectionError.
func (p *Pipeline) Establish(ctx context.Context, raw net.Conn) (net.Conn, negotiation.Session, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	timer := metrics.NewTimer(metrics.HandshakeLatency)
	conn, session, err := p.establish(ctx, raw)
	elapsed := timer.ObserveDuration()
	if err != nil {
		raw.Close()
		metrics.HandshakesFailed.Inc()
		log.WithField("addr", p.Addr).WithField("elapsed", elapsed).WithError(err).Debug("handshake failed")
		return nil, negotiation.Session{}, err
	}

	metrics.HandshakesSucceeded.Inc()
	log.WithField("addr", p.Addr).
		WithField("version", session.Version()).
		WithField("tls", p.TLSConfig != nil).
		WithField("elapsed", elapsed).
		Debug("handshake complete")
	return conn, session, nil
}

func (p *Pipeline) establish(ctx context.Context, raw net.Conn) (net.Conn, negotiation.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, negotiation.Session{}, p.fail(ctx, apperrors.PhaseTLS, apperrors.ErrSecurityHandshake, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
	}
	// Unblock pending I/O when ctx is canceled before its deadline.
	stop := context.AfterFunc(ctx, func() {
		raw.SetDeadline(time.Unix(1, 0))
	})

	conn := raw
	phase := apperrors.PhaseTLS
	if p.TLSConfig != nil {
		tc := tls.Client(raw, p.TLSConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			stop()
			return nil, negotiation.Session{}, p.fail(ctx, phase, apperrors.ErrSecurityHandshake, err)
		}
		conn = tc
	}

	var session negotiation.Session
	phase = apperrors.PhaseNegotiate
	if p.Negotiator != nil {
		var err error
		session, err = p.Negotiator.Negotiate(conn)
		if err != nil {
			stop()
			return nil, negotiation.Session{}, p.fail(ctx, phase, apperrors.ErrProtocolNegotiation, err)
		}
	}

	if !stop() {
		// The context fired after the last read; deadlines are poisoned.
		return nil, negotiation.Session{}, p.fail(ctx, phase, apperrors.ErrHandshakeTimeout, ctx.Err())
	}
	if err := raw.SetDeadline(time.Time{}); err != nil {
		return nil, negotiation.Session{}, apperrors.NewConnectionError(p.Addr, phase, apperrors.ErrConnection, err)
	}
	return conn, session, nil
}

// fail classifies err. Expired deadlines and I/O timeouts become
// ErrHandshakeTimeout carrying only the timeout cause; cancellation becomes
// ErrConnection; anything else keeps kind.
func (p *Pipeline) fail(ctx context.Context, phase apperrors.Phase, kind, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewConnectionError(p.Addr, phase, apperrors.ErrHandshakeTimeout, context.DeadlineExceeded)
	case errors.Is(ctx.Err(), context.Canceled):
		return apperrors.NewConnectionError(p.Addr, phase, apperrors.ErrConnection, context.Canceled)
	case errors.As(err, &netErr) && netErr.Timeout():
		return apperrors.NewConnectionError(p.Addr, phase, apperrors.ErrHandshakeTimeout, netErr)
	default:
		return apperrors.NewConnectionError(p.Addr, phase, kind, err)
	}
}
