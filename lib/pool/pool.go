package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/distcache/cachepool/lib/metrics"
	"github.com/distcache/cachepool/lib/negotiation"
	"github.com/distcache/cachepool/lib/transport"
	"golang.org/x/sync/semaphore"
)

// Handshaker prepares a freshly dialed connection for use. It is called
// exactly once per physical connection and must close raw on failure.
type Handshaker interface {
	Establish(ctx context.Context, raw net.Conn) (net.Conn, negotiation.Session, error)
}

// HandshakerFunc adapts a function to the Handshaker interface.
type HandshakerFunc func(ctx context.Context, raw net.Conn) (net.Conn, negotiation.Session, error)

// Establish implements Handshaker.
func (f HandshakerFunc) Establish(ctx context.Context, raw net.Conn) (net.Conn, negotiation.Session, error) {
	return f(ctx, raw)
}

// State is the lifecycle state of a pooled connection.
type State int

const (
	// StateConnecting means the TCP connection is being dialed.
	StateConnecting State = iota
	// StateNegotiating means the TLS handshake or version negotiation runs.
	StateNegotiating
	// StateReady means the connection is idle and can be lent out.
	StateReady
	// StateBusy means a caller holds the connection.
	StateBusy
	// StateClosed means the connection is gone for good.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// QueuedFailurePolicy decides what happens when a connection created on
// behalf of a queued request fails.
type QueuedFailurePolicy int

const (
	// FailWaiter hands the creation error to the waiting request.
	FailWaiter QueuedFailurePolicy = iota
	// RetryOnce makes one more creation attempt for the same request while
	// its deadline has not passed, then fails it.
	RetryOnce
)

func (p QueuedFailurePolicy) String() string {
	switch p {
	case FailWaiter:
		return "fail-waiter"
	case RetryOnce:
		return "retry-once"
	default:
		return "unknown"
	}
}

// ParseQueuedFailurePolicy parses the String form of a policy. An empty
// string selects FailWaiter.
func ParseQueuedFailurePolicy(s string) (QueuedFailurePolicy, error) {
	switch s {
	case "", "fail-waiter":
		return FailWaiter, nil
	case "retry-once":
		return RetryOnce, nil
	default:
		return FailWaiter, fmt.Errorf("%w: unknown queued failure policy %q", apperrors.ErrInvalidInput, s)
	}
}

// Config configures the connection pool.
type Config struct {
	// Name identifies the pool in logs.
	Name string
	// Network is passed to the dialer. Default: "tcp"
	Network string
	// Address is the host:port of the cache server.
	Address string
	// MaxConnections bounds live connections, including those being set up.
	// Default: 10
	MaxConnections int
	// MaxPendingAcquires bounds queued acquire calls. Zero disables
	// queuing. DefaultConfig uses MaxPendingAcquires.
	MaxPendingAcquires int
	// AcquireTimeout applies when the context passed to Acquire has no
	// deadline. Default: 30 seconds
	AcquireTimeout time.Duration
	// ConnectTimeout bounds dialing, and separately the handshake measured
	// from when the TCP connection is up. Zero means no extra bound.
	ConnectTimeout time.Duration
	// IdleTimeout is the read/write deadline applied to every I/O call on a
	// lent connection. Zero disables it.
	IdleTimeout time.Duration
	// MaxIdleTime closes connections idle for longer. Zero disables it.
	// Default: 10 minutes
	MaxIdleTime time.Duration
	// HealthCheckInterval is how often idle connections are checked in the
	// background. Zero disables the background check.
	// Default: 1 minute
	HealthCheckInterval time.Duration
	// Workers bounds concurrent connection setups. Default: MaxConnections
	Workers int
	// QueuedFailurePolicy applies to creations made for queued requests.
	QueuedFailurePolicy QueuedFailurePolicy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Network:             "tcp",
		MaxConnections:      10,
		MaxPendingAcquires:  MaxPendingAcquires,
		AcquireTimeout:      30 * time.Second,
		MaxIdleTime:         10 * time.Minute,
		HealthCheckInterval: time.Minute,
	}
}

type requestState int

const (
	requestQueued requestState = iota
	requestCreating
	requestDone
	requestAbandoned
)

// request is an acquire call waiting for a connection. Queued requests
// stay in the pool queue while a replacement is set up for them, so a
// connection released in the meantime still goes to the oldest one.
type request struct {
	state       requestState
	result      chan acquireResult
	deadline    time.Time
	start       time.Time
	replacement bool
	retried     bool
}

type acquireResult struct {
	conn *Conn
	err  error
}

func (r *request) hasTimeLeft(now time.Time) bool {
	return r.deadline.IsZero() || now.Before(r.deadline)
}

// deliver completes r. Must be called with the pool lock held.
func (r *request) deliver(res acquireResult) {
	r.state = requestDone
	r.result <- res
}

type slot struct {
	id      uint64
	state   State
	conn    *transport.Conn
	session negotiation.Session
	lent    *Conn
}

// Pool is a bounded pool of negotiated connections to one cache server.
type Pool struct {
	config     Config
	dialer     transport.Dialer
	handshaker Handshaker
	health     transport.HealthChecker

	ctx     context.Context
	cancel  context.CancelFunc
	workers *semaphore.Weighted
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	nextID uint64
	slots  map[uint64]*slot
	idle   []*slot
	queue  []*request

	stopHealth chan struct{}
	healthDone chan struct{}

	acquireCount   atomic.Uint64
	acquireSuccess atomic.Uint64
	acquireFailed  atomic.Uint64
	exhausted      atomic.Uint64
	timeouts       atomic.Uint64
	releaseCount   atomic.Uint64
	discardCount   atomic.Uint64
	healthFails    atomic.Uint64
	createFailures atomic.Uint64
}

// New creates a pool. Connections are dialed with dialer and prepared with
// handshaker; a nil checker uses transport.ActiveChecker.
func New(cfg Config, dialer transport.Dialer, handshaker Handshaker, checker transport.HealthChecker) (*Pool, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: pool address is required", apperrors.ErrInvalidInput)
	}
	if dialer == nil || handshaker == nil {
		return nil, fmt.Errorf("%w: pool needs a dialer and a handshaker", apperrors.ErrInvalidInput)
	}
	defaults := DefaultConfig()
	if cfg.Network == "" {
		cfg.Network = defaults.Network
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaults.MaxConnections
	}
	if cfg.MaxPendingAcquires < 0 {
		return nil, fmt.Errorf("%w: negative MaxPendingAcquires", apperrors.ErrInvalidInput)
	}
	if cfg.AcquireTimeout < 0 || cfg.ConnectTimeout < 0 || cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", apperrors.ErrInvalidInput)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = cfg.MaxConnections
	}
	if checker == nil {
		checker = transport.ActiveChecker{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:     cfg,
		dialer:     dialer,
		handshaker: handshaker,
		health:     checker,
		ctx:        ctx,
		cancel:     cancel,
		workers:    semaphore.NewWeighted(int64(cfg.Workers)),
		slots:      make(map[uint64]*slot, cfg.MaxConnections),
		idle:       make([]*slot, 0, cfg.MaxConnections),
		stopHealth: make(chan struct{}),
		healthDone: make(chan struct{}),
	}

	if cfg.HealthCheckInterval > 0 {
		go p.healthCheckLoop()
	} else {
		close(p.healthDone)
	}

	log.WithField("pool", cfg.Name).
		WithField("address", cfg.Address).
		WithField("maxConnections", cfg.MaxConnections).
		WithField("maxPendingAcquires", cfg.MaxPendingAcquires).
		WithField("workers", cfg.Workers).
		Debug("pool created")
	return p, nil
}

// Address returns the server address the pool connects to.
func (p *Pool) Address() string {
	return p.config.Address
}

// AcquireTimeout acquires a connection, giving up after timeout.
func (p *Pool) AcquireTimeout(timeout time.Duration) (*Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Acquire(ctx)
}

// Acquire borrows a connection. It returns an idle healthy connection,
// creates a new one while below MaxConnections, or queues the call when at
// capacity. A full queue fails at once with ErrPoolExhausted. When ctx has
// no deadline, AcquireTimeout applies from the moment of the call. A
// connection set up for this call is waited for past the deadline when
// ConnectTimeout bounds the setup, so its own error is returned.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	p.acquireCount.Add(1)
	PoolAcquireTotal.Inc()

	if _, ok := ctx.Deadline(); !ok && p.config.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}

	timer := metrics.NewTimer(PoolAcquireLatency)
	conn, err := p.acquire(ctx, start)
	timer.ObserveDuration()
	if err != nil {
		p.acquireFailed.Add(1)
		PoolAcquireFailedTotal.Inc()
		return nil, err
	}
	p.acquireSuccess.Add(1)
	PoolAcquireSuccessTotal.Inc()
	return conn, nil
}

func (p *Pool) acquire(ctx context.Context, start time.Time) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apperrors.ErrPoolClosed
	}
	if ctx.Err() != nil {
		err := p.contextErrorLocked(ctx, start)
		p.mu.Unlock()
		return nil, err
	}

	if s := p.popIdleLocked(time.Now()); s != nil {
		conn := p.lendLocked(s)
		p.mu.Unlock()
		log.WithField("pool", p.config.Name).WithField("conn", s.id).Debug("acquired idle connection")
		return conn, nil
	}

	deadline, _ := ctx.Deadline()
	r := &request{
		result:   make(chan acquireResult, 1),
		deadline: deadline,
		start:    start,
	}

	switch {
	case len(p.slots) < p.config.MaxConnections:
		r.state = requestCreating
		p.startCreateLocked(r)
	case len(p.queue) < p.config.MaxPendingAcquires:
		r.state = requestQueued
		p.queue = append(p.queue, r)
		log.WithField("pool", p.config.Name).WithField("pending", len(p.queue)).Debug("waiting for available connection")
	default:
		err := p.acquireErrorLocked(apperrors.ErrPoolExhausted, nil, start)
		p.exhausted.Add(1)
		PoolExhaustedTotal.Inc()
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	return p.wait(ctx, r)
}

// wait blocks until r is completed or ctx is done.
func (p *Pool) wait(ctx context.Context, r *request) (*Conn, error) {
	select {
	case res := <-r.result:
		return res.conn, res.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	if r.state == requestDone || p.ownsCreation(ctx, r) {
		// Either the result is already sent, or the setup made for this
		// call is bounded by ConnectTimeout and its outcome is reported.
		p.mu.Unlock()
		res := <-r.result
		return res.conn, res.err
	}
	p.removeRequestLocked(r)
	r.state = requestAbandoned
	err := p.contextErrorLocked(ctx, r.start)
	p.mu.Unlock()
	return nil, err
}

// ownsCreation reports whether r's deadline passed while a connection was
// being set up directly for it and ConnectTimeout bounds that setup.
// Context cancellation and queued requests are not covered.
func (p *Pool) ownsCreation(ctx context.Context, r *request) bool {
	return r.state == requestCreating && !r.replacement &&
		p.config.ConnectTimeout > 0 &&
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (p *Pool) removeRequestLocked(r *request) {
	if i := slices.Index(p.queue, r); i >= 0 {
		p.queue = slices.Delete(p.queue, i, i+1)
	}
}

// Release returns a borrowed connection. A healthy connection goes to the
// oldest queued request or back to the idle set; an unhealthy one is closed
// and replaced for a queued request if any. Releasing a connection that is
// not currently borrowed returns ErrNotBorrowed and changes nothing.
func (p *Pool) Release(c *Conn) error {
	s, err := p.reclaim(c)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	p.releaseCount.Add(1)
	PoolReleaseTotal.Inc()

	if !p.health.Healthy(s.conn) {
		p.healthFails.Add(1)
		PoolHealthCheckFailsTotal.Inc()
		log.WithField("pool", p.config.Name).WithField("conn", s.id).Debug("closing unhealthy connection on release")
		p.closeSlotLocked(s)
		p.replenishLocked()
		return nil
	}

	s.conn.MarkUsed(time.Now())
	p.putLocked(s)
	return nil
}

// Discard closes a borrowed connection known to be broken and frees its
// capacity.
func (p *Pool) Discard(c *Conn) error {
	s, err := p.reclaim(c)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	p.discardCount.Add(1)
	PoolDiscardTotal.Inc()
	log.WithField("pool", p.config.Name).WithField("conn", s.id).Debug("discarding connection")
	p.closeSlotLocked(s)
	p.replenishLocked()
	return nil
}

// reclaim validates c and takes it back from the caller. On success the
// pool lock is held.
func (p *Pool) reclaim(c *Conn) (*slot, error) {
	if c == nil || c.pool != p {
		return nil, fmt.Errorf("%w: connection does not belong to this pool", apperrors.ErrNotBorrowed)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apperrors.ErrPoolClosed
	}
	s := c.slot
	if s.lent != c {
		p.mu.Unlock()
		log.WithField("pool", p.config.Name).WithField("conn", s.id).Warn("connection returned twice")
		return nil, fmt.Errorf("%w: connection %d", apperrors.ErrNotBorrowed, s.id)
	}
	s.lent = nil
	return s, nil
}

// Close shuts the pool down. Queued requests fail with ErrPoolClosed,
// in-flight connection setups are canceled, and every connection, idle or
// borrowed, is closed. Close waits for background work to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperrors.ErrPoolClosed
	}
	p.closed = true
	p.cancel()
	close(p.stopHealth)

	for _, r := range p.queue {
		r.deliver(acquireResult{err: apperrors.ErrPoolClosed})
	}
	p.queue = nil

	var conns []*transport.Conn
	for id, s := range p.slots {
		if s.conn != nil {
			conns = append(conns, s.conn)
		}
		s.state = StateClosed
		s.lent = nil
		delete(p.slots, id)
	}
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	<-p.healthDone
	p.wg.Wait()

	log.WithField("pool", p.config.Name).WithField("closed", len(conns)).Debug("pool closed")
	return errors.Join(errs...)
}

// popIdleLocked returns the most recently used idle connection that is not
// stale and passes the health check, closing the ones that fail.
func (p *Pool) popIdleLocked(now time.Time) *slot {
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle[len(p.idle)-1] = nil
		p.idle = p.idle[:len(p.idle)-1]

		if p.stale(s, now) {
			log.WithField("pool", p.config.Name).WithField("conn", s.id).Debug("closing stale connection")
			p.closeSlotLocked(s)
			continue
		}
		if !p.health.Healthy(s.conn) {
			p.healthFails.Add(1)
			PoolHealthCheckFailsTotal.Inc()
			log.WithField("pool", p.config.Name).WithField("conn", s.id).Debug("closing unhealthy connection")
			p.closeSlotLocked(s)
			continue
		}
		return s
	}
	return nil
}

func (p *Pool) stale(s *slot, now time.Time) bool {
	return p.config.MaxIdleTime > 0 && now.Sub(s.conn.UsedAt()) > p.config.MaxIdleTime
}

// lendLocked marks s busy and creates a fresh handle for the caller.
func (p *Pool) lendLocked(s *slot) *Conn {
	s.state = StateBusy
	s.conn.MarkUsed(time.Now())
	c := &Conn{Conn: s.conn, pool: p, slot: s, session: s.session}
	s.lent = c
	return c
}

// putLocked hands a ready connection to the oldest queued request, or
// parks it in the idle set. The oldest request may have a replacement in
// progress; that connection then goes to the next request when it is ready.
func (p *Pool) putLocked(s *slot) {
	s.state = StateReady
	if len(p.queue) > 0 {
		r := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		r.deliver(acquireResult{conn: p.lendLocked(s)})
		return
	}
	p.idle = append(p.idle, s)
}

// closeSlotLocked removes s from the pool and closes its connection.
func (p *Pool) closeSlotLocked(s *slot) {
	delete(p.slots, s.id)
	s.state = StateClosed
	s.lent = nil
	if s.conn == nil {
		return
	}
	conn := s.conn
	if p.closed {
		go conn.Close()
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn.Close()
	}()
}

// replenishLocked starts connection setups, oldest first, for queued
// requests that have none in progress while there is spare capacity.
func (p *Pool) replenishLocked() {
	for _, r := range p.queue {
		if p.closed || len(p.slots) >= p.config.MaxConnections {
			return
		}
		if r.state != requestQueued {
			continue
		}
		r.state = requestCreating
		r.replacement = true
		p.startCreateLocked(r)
	}
}

// startCreateLocked reserves a slot and sets up its connection in the
// background on behalf of r.
func (p *Pool) startCreateLocked(r *request) {
	p.nextID++
	s := &slot{id: p.nextID, state: StateConnecting}
	p.slots[s.id] = s

	p.wg.Add(1)
	go p.create(s, r)
}

func (p *Pool) create(s *slot, r *request) {
	defer p.wg.Done()

	if err := p.workers.Acquire(p.ctx, 1); err != nil {
		p.finishCreate(s, r, nil, negotiation.Session{}, err)
		return
	}
	conn, session, err := p.connect(s)
	p.workers.Release(1)
	p.finishCreate(s, r, conn, session, err)
}

// connect dials and runs the handshake. Each step gets ConnectTimeout.
func (p *Pool) connect(s *slot) (net.Conn, negotiation.Session, error) {
	dialCtx, cancel := p.stepContext()
	raw, err := p.dialer.DialContext(dialCtx, p.config.Network, p.config.Address)
	cancel()
	if err != nil {
		return nil, negotiation.Session{}, err
	}

	p.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateNegotiating
	}
	p.mu.Unlock()

	hsCtx, cancel := p.stepContext()
	defer cancel()
	return p.handshaker.Establish(hsCtx, raw)
}

func (p *Pool) stepContext() (context.Context, context.CancelFunc) {
	if p.config.ConnectTimeout > 0 {
		return context.WithTimeout(p.ctx, p.config.ConnectTimeout)
	}
	return context.WithCancel(p.ctx)
}

func (p *Pool) finishCreate(s *slot, r *request, conn net.Conn, session negotiation.Session, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || s.state == StateClosed {
		delete(p.slots, s.id)
		s.state = StateClosed
		if conn != nil {
			go conn.Close()
		}
		if r.state == requestCreating {
			r.deliver(acquireResult{err: apperrors.ErrPoolClosed})
		}
		return
	}

	if err != nil {
		delete(p.slots, s.id)
		s.state = StateClosed
		p.createFailures.Add(1)
		PoolCreateFailuresTotal.Inc()
		log.WithField("pool", p.config.Name).WithField("conn", s.id).WithError(err).Debug("failed to create connection")

		if r.state == requestCreating {
			if p.config.QueuedFailurePolicy == RetryOnce && r.replacement && !r.retried && r.hasTimeLeft(time.Now()) {
				r.retried = true
				p.startCreateLocked(r)
				return
			}
			p.removeRequestLocked(r)
			r.deliver(acquireResult{err: err})
		}
		p.replenishLocked()
		return
	}

	s.conn = transport.NewConn(conn, p.config.IdleTimeout)
	s.session = session
	log.WithField("pool", p.config.Name).
		WithField("conn", s.id).
		WithField("version", session.Version()).
		Debug("created new connection")

	switch {
	case r.state == requestCreating && !r.replacement:
		s.state = StateReady
		r.deliver(acquireResult{conn: p.lendLocked(s)})
		return
	case r.state == requestCreating:
		// r is still queued; the connection goes to the oldest request.
		r.state = requestQueued
	}
	p.putLocked(s)
}

func (p *Pool) contextErrorLocked(ctx context.Context, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.timeouts.Add(1)
		PoolAcquireTimeoutTotal.Inc()
		return p.acquireErrorLocked(apperrors.ErrAcquireTimeout, ctx.Err(), start)
	}
	return ctx.Err()
}

func (p *Pool) acquireErrorLocked(kind, cause error, start time.Time) error {
	return &apperrors.AcquireError{
		Kind:           kind,
		Wrapped:        cause,
		MaxConnections: p.config.MaxConnections,
		Open:           len(p.slots),
		Idle:           len(p.idle),
		Pending:        len(p.queue),
		MaxPending:     p.config.MaxPendingAcquires,
		Waited:         time.Since(start),
	}
}

// healthCheckLoop periodically checks idle connections.
func (p *Pool) healthCheckLoop() {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.runHealthCheck()
		}
	}
}

// runHealthCheck closes stale and unhealthy idle connections.
func (p *Pool) runHealthCheck() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	now := time.Now()
	kept := p.idle[:0]
	removed := 0
	for _, s := range p.idle {
		switch {
		case p.stale(s, now):
			p.closeSlotLocked(s)
			removed++
		case !p.health.Healthy(s.conn):
			p.healthFails.Add(1)
			PoolHealthCheckFailsTotal.Inc()
			p.closeSlotLocked(s)
			removed++
		default:
			kept = append(kept, s)
		}
	}
	clear(p.idle[len(kept):])
	p.idle = kept

	if removed > 0 {
		log.WithField("pool", p.config.Name).WithField("closed", removed).Debug("health check removed connections")
		p.replenishLocked()
	}
}

// Stats is a snapshot of pool state and counters.
type Stats struct {
	// Name is the pool name.
	Name string
	// MaxConnections is the live connection limit.
	MaxConnections int
	// MaxPendingAcquires is the queue limit.
	MaxPendingAcquires int
	// NumOpen counts live connections, including those being set up.
	NumOpen int
	// NumConnecting counts connections being dialed or negotiated.
	NumConnecting int
	// NumIdle counts ready connections in the pool.
	NumIdle int
	// NumInUse counts borrowed connections.
	NumInUse int
	// NumPending counts queued acquire calls.
	NumPending int
	// AcquireCount is the total number of acquire attempts.
	AcquireCount uint64
	// AcquireSuccess is the number of successful acquires.
	AcquireSuccess uint64
	// AcquireFailed is the number of failed acquires.
	AcquireFailed uint64
	// Exhausted counts acquires rejected because the queue was full.
	Exhausted uint64
	// Timeouts counts acquires that ran out of time.
	Timeouts uint64
	// ReleaseCount is the number of releases.
	ReleaseCount uint64
	// DiscardCount is the number of discards.
	DiscardCount uint64
	// HealthCheckFails is the number of connections that failed health checks.
	HealthCheckFails uint64
	// CreateFailures counts failed dials and handshakes.
	CreateFailures uint64
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Name:               p.config.Name,
		MaxConnections:     p.config.MaxConnections,
		MaxPendingAcquires: p.config.MaxPendingAcquires,
		NumOpen:            len(p.slots),
		NumIdle:            len(p.idle),
		NumPending:         len(p.queue),
		AcquireCount:       p.acquireCount.Load(),
		AcquireSuccess:     p.acquireSuccess.Load(),
		AcquireFailed:      p.acquireFailed.Load(),
		Exhausted:          p.exhausted.Load(),
		Timeouts:           p.timeouts.Load(),
		ReleaseCount:       p.releaseCount.Load(),
		DiscardCount:       p.discardCount.Load(),
		HealthCheckFails:   p.healthFails.Load(),
		CreateFailures:     p.createFailures.Load(),
	}
	for _, s := range p.slots {
		switch s.state {
		case StateConnecting, StateNegotiating:
			st.NumConnecting++
		case StateBusy:
			st.NumInUse++
		}
	}
	return st
}
