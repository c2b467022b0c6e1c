// Package stubserver implements the connection handshake of a distributed
// cache server. It accepts TCP connections, optionally terminates TLS,
// negotiates a protocol version and then echoes whatever the client sends.
// It backs the serve command and the pool tests.
package stubserver

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/distcache/cachepool/lib/negotiation"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Mode controls how the server treats new connections.
type Mode int32

const (
	// ModeNegotiate completes the handshake and echoes afterwards.
	ModeNegotiate Mode = iota
	// ModeSilent accepts connections and never answers.
	ModeSilent
	// ModeReject closes connections right after accepting them.
	ModeReject
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address, 127.0.0.1:0 when empty.
	Addr string
	// Versions are the protocol versions the server accepts.
	Versions negotiation.VersionSet
	// TLSConfig enables TLS when set.
	TLSConfig *tls.Config
	// Mode is the initial connection mode.
	Mode Mode
}

// Server is a handshake-only cache server.
type Server struct {
	cfg  Config
	ln   net.Listener
	mode atomic.Int32

	accepted   atomic.Int64
	negotiated atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Start listens on cfg.Addr and serves in the background.
func Start(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:   cfg,
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}
	s.mode.Store(int32(cfg.Mode))

	log.WithField("addr", ln.Addr().String()).
		WithField("versions", cfg.Versions.String()).
		WithField("tls", cfg.TLSConfig != nil).
		Info("stub cache server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the host part of the listen address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// SetMode changes how connections accepted from now on are treated.
func (s *Server) SetMode(m Mode) {
	s.mode.Store(int32(m))
}

// Accepted returns the number of accepted TCP connections.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Negotiated returns the number of completed handshakes.
func (s *Server) Negotiated() int64 {
	return s.negotiated.Load()
}

// ActiveConns returns the number of open server-side connections.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every open server-side connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the server and closes all connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Warn("accept failed")
			}
			return
		}
		s.accepted.Add(1)
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handle(raw net.Conn) {
	defer s.wg.Done()
	defer s.untrack(raw)
	defer raw.Close()

	switch Mode(s.mode.Load()) {
	case ModeReject:
		return
	case ModeSilent:
		io.Copy(io.Discard, raw)
		return
	}

	var conn net.Conn = raw
	if s.cfg.TLSConfig != nil {
		tc := tls.Server(raw, s.cfg.TLSConfig)
		if err := tc.Handshake(); err != nil {
			log.WithField("remote", raw.RemoteAddr().String()).WithError(err).Debug("TLS handshake failed")
			return
		}
		conn = tc
	}

	session, err := negotiation.Serve(conn, s.cfg.Versions)
	if err != nil {
		log.WithField("remote", raw.RemoteAddr().String()).WithError(err).Debug("negotiation failed")
		return
	}
	s.negotiated.Add(1)
	log.WithField("remote", raw.RemoteAddr().String()).
		WithField("version", session.Version()).
		Debug("client negotiated")

	io.Copy(conn, conn)
}
