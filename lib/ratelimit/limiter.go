// Package ratelimit throttles how fast new cache connections are dialed, so a
// burst of reconnects after a server restart does not stampede the server.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"golang.org/x/time/rate"
)

// Limiter is a token bucket rate limiter. A nil *Limiter allows everything.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter refilling perSecond tokens per second with the given
// burst. A perSecond <= 0 returns nil (unlimited).
func New(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether one event may happen now, consuming a token if so.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done. If the wait would
// outlast the context deadline it fails immediately with ErrRateLimited.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", apperrors.ErrRateLimited, err)
	}
	return nil
}

// Tokens returns the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.limiter.TokensAt(time.Now())
}
