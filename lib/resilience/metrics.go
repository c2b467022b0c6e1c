package resilience

import (
	"github.com/distcache/cachepool/lib/metrics"
)

// Dial circuit breaker metrics.
var (
	// BreakerTrips counts how often a breaker opened.
	BreakerTrips = metrics.NewCounter(
		"cachepool_dial_breaker_trips_total",
		"Total number of times the dial circuit breaker opened",
	)

	// BreakerRejections counts dials rejected by an open breaker.
	BreakerRejections = metrics.NewCounter(
		"cachepool_dial_breaker_rejections_total",
		"Total dials rejected by an open circuit breaker",
	)
)
