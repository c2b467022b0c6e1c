package pool

import "github.com/distcache/cachepool/lib/metrics"

// Pool utilization metrics, summed over all pools in the process.
var (
	// PoolConnectionsMax is the maximum pool size.
	PoolConnectionsMax = metrics.NewGauge(
		"cachepool_pool_connections_max",
		"Maximum number of connections in the pool",
	)
	// PoolConnectionsOpen is the current number of live connections.
	PoolConnectionsOpen = metrics.NewGauge(
		"cachepool_pool_connections_open",
		"Current number of live connections, including those being set up",
	)
	// PoolConnectionsConnecting is the number of connections being set up.
	PoolConnectionsConnecting = metrics.NewGauge(
		"cachepool_pool_connections_connecting",
		"Number of connections being dialed or negotiated",
	)
	// PoolConnectionsIdle is the current number of idle connections.
	PoolConnectionsIdle = metrics.NewGauge(
		"cachepool_pool_connections_idle",
		"Current number of idle connections in the pool",
	)
	// PoolConnectionsInUse is the number of borrowed connections.
	PoolConnectionsInUse = metrics.NewGauge(
		"cachepool_pool_connections_in_use",
		"Number of connections currently in use",
	)
	// PoolPendingAcquires is the number of queued acquire calls.
	PoolPendingAcquires = metrics.NewGauge(
		"cachepool_pool_pending_acquires",
		"Number of acquire calls waiting for a connection",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounter(
		"cachepool_pool_acquire_total",
		"Total number of connection acquire attempts",
	)
	// PoolAcquireSuccessTotal is the number of successful acquires.
	PoolAcquireSuccessTotal = metrics.NewCounter(
		"cachepool_pool_acquire_success_total",
		"Total number of successful connection acquires",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounter(
		"cachepool_pool_acquire_failed_total",
		"Total number of failed connection acquires",
	)
	// PoolExhaustedTotal counts acquires rejected by a full queue.
	PoolExhaustedTotal = metrics.NewCounter(
		"cachepool_pool_exhausted_total",
		"Total acquires rejected because the pending queue was full",
	)
	// PoolAcquireTimeoutTotal counts acquires that ran out of time.
	PoolAcquireTimeoutTotal = metrics.NewCounter(
		"cachepool_pool_acquire_timeout_total",
		"Total acquires that timed out",
	)
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = metrics.NewCounter(
		"cachepool_pool_release_total",
		"Total number of connection releases",
	)
	// PoolDiscardTotal is the number of discards.
	PoolDiscardTotal = metrics.NewCounter(
		"cachepool_pool_discard_total",
		"Total number of connections discarded by callers",
	)
	// PoolHealthCheckFailsTotal is the number of health check failures.
	PoolHealthCheckFailsTotal = metrics.NewCounter(
		"cachepool_pool_healthcheck_fails_total",
		"Total number of connections that failed health checks",
	)
	// PoolCreateFailuresTotal counts failed dials and handshakes.
	PoolCreateFailuresTotal = metrics.NewCounter(
		"cachepool_pool_create_failures_total",
		"Total number of failed connection setups",
	)
	// PoolAcquireLatency tracks time spent acquiring connections.
	PoolAcquireLatency = metrics.NewHistogram(
		"cachepool_pool_acquire_duration_seconds",
		"Time spent acquiring a connection from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics publishes the gauges from stats.
func UpdateMetrics(stats Stats) {
	PoolConnectionsMax.Set(int64(stats.MaxConnections))
	PoolConnectionsOpen.Set(int64(stats.NumOpen))
	PoolConnectionsConnecting.Set(int64(stats.NumConnecting))
	PoolConnectionsIdle.Set(int64(stats.NumIdle))
	PoolConnectionsInUse.Set(int64(stats.NumInUse))
	PoolPendingAcquires.Set(int64(stats.NumPending))
}
