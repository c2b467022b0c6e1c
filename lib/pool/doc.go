// Package pool keeps a bounded set of negotiated connections to one
// distributed cache server and lends them to concurrent callers.
//
// Every physical connection is dialed, optionally wrapped in TLS and
// version-negotiated exactly once before a caller ever sees it. At most
// MaxConnections connections are live at any time, counting those still
// being set up. Callers that arrive while the pool is at capacity wait in a
// FIFO queue of at most MaxPendingAcquires entries; beyond that Acquire
// fails at once with ErrPoolExhausted.
//
// # Basic Usage
//
//	p, err := pool.NewFactory().CreatePool("cache.local", 4557, 5000, nil,
//	    negotiation.NewStandardNegotiator(3, 2, 1), "cache")
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	conn, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close() // returns the connection to the pool
//
//	// Write cache requests on conn...
//	// After an I/O error call conn.Discard() instead.
//
// # Errors
//
// Acquire failures unwrap to one of the errors package sentinels:
//   - ErrPoolExhausted and ErrAcquireTimeout: try again later
//   - ErrConnectTimeout, ErrSecurityHandshake, ErrProtocolNegotiation,
//     ErrHandshakeTimeout: the server could not be reached or agreed with
//   - ErrPoolClosed: the pool is shut down
//
// A failed connection setup is reported only to the caller it was made for
// and is never retried within one Acquire.
//
// # Health Checking
//
// Idle connections are checked before they are lent out and when they are
// released, and periodically in the background. A connection that saw an
// I/O error, was closed by the server, or has unexpected data waiting is
// closed and its capacity reused.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package:
//   - cachepool_pool_connections_max: Maximum pool size
//   - cachepool_pool_connections_open: Live connections
//   - cachepool_pool_connections_connecting: Connections being set up
//   - cachepool_pool_connections_idle: Idle connections
//   - cachepool_pool_connections_in_use: Borrowed connections
//   - cachepool_pool_pending_acquires: Queued acquire calls
//   - cachepool_pool_acquire_total: Total acquire attempts
//   - cachepool_pool_acquire_success_total: Successful acquires
//   - cachepool_pool_acquire_failed_total: Failed acquires
//   - cachepool_pool_exhausted_total: Acquires rejected by a full queue
//   - cachepool_pool_acquire_timeout_total: Acquires that timed out
//   - cachepool_pool_release_total: Total releases
//   - cachepool_pool_discard_total: Total discards
//   - cachepool_pool_healthcheck_fails_total: Health check failures
//   - cachepool_pool_create_failures_total: Failed connection setups
//   - cachepool_pool_acquire_duration_seconds: Acquire latency
package pool
