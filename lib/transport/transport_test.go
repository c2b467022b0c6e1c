package transport

import (
	"context"
	"errors"
	"net"
	"runtime"
	"testing"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/distcache/cachepool/lib/resilience"
)

// listen starts a loopback listener whose accepted connections are sent on
// the returned channel.
func listen(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 8)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()
	return ln, accepted
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestTCPDialer_Success(t *testing.T) {
	ln, accepted := listen(t)

	d := NewDialer("test", DefaultDialConfig())
	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialContext failed: %v", err)
	}
	defer conn.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(time.Second):
		t.Fatal("server did not accept")
	}
}

func TestTCPDialer_Refused(t *testing.T) {
	addr := closedAddr(t)

	d := NewDialer("test", DefaultDialConfig())
	_, err := d.DialContext(context.Background(), "tcp", addr)
	if err == nil {
		t.Fatal("expected dial error")
	}

	var connErr *apperrors.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T", err)
	}
	if connErr.Phase != apperrors.PhaseConnect {
		t.Errorf("Phase = %s, want connect", connErr.Phase)
	}
	if !errors.Is(err, apperrors.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
	if !apperrors.IsUnreachable(err) {
		t.Error("refused dial should be unreachable")
	}
}

func TestTCPDialer_ContextDeadline(t *testing.T) {
	d := NewDialer("test", DefaultDialConfig())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	// 192.0.2.0/24 is reserved for documentation and never routed.
	_, err := d.DialContext(ctx, "tcp", "192.0.2.1:7777")
	if !errors.Is(err, apperrors.ErrConnectTimeout) {
		t.Errorf("expected ErrConnectTimeout, got %v", err)
	}
}

func TestTCPDialer_BreakerOpens(t *testing.T) {
	addr := closedAddr(t)

	cfg := DefaultDialConfig()
	cfg.Breaker = resilience.Config{FailureThreshold: 2, Cooldown: time.Minute}
	d := NewDialer("test", cfg)

	for range 2 {
		if _, err := d.DialContext(context.Background(), "tcp", addr); !errors.Is(err, apperrors.ErrConnection) {
			t.Fatalf("expected ErrConnection, got %v", err)
		}
	}
	if d.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", d.BreakerState())
	}

	_, err := d.DialContext(context.Background(), "tcp", addr)
	if !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestTCPDialer_RateLimited(t *testing.T) {
	ln, accepted := listen(t)
	go func() {
		for c := range accepted {
			c.Close()
		}
	}()

	cfg := DefaultDialConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.RateLimit = 0.01
	cfg.Burst = 1
	d := NewDialer("test", cfg)

	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	conn.Close()

	_, err = d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestDialerFunc(t *testing.T) {
	want := errors.New("boom")
	var d Dialer = DialerFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, want
	})
	if _, err := d.DialContext(context.Background(), "tcp", "x"); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestConn_RecordsFirstError(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewConn(client, 0)
	if c.Err() != nil {
		t.Fatal("new conn should have no error")
	}

	server.Close()
	buf := make([]byte, 1)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("read from closed pipe should fail")
	}
	first := c.Err()
	if first == nil {
		t.Fatal("read error should be recorded")
	}

	c.Write([]byte("x"))
	if c.Err() != first {
		t.Error("only the first error should be kept")
	}
}

func TestConn_IdleTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewConn(client, 20*time.Millisecond)
	defer c.Close()

	buf := make([]byte, 1)
	_, err := c.Read(buf)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if c.Err() == nil {
		t.Error("timeout should be recorded")
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewConn(client, 0)
	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close should return nil, got %v", err)
	}
	if !c.Closed() {
		t.Error("Closed() should be true")
	}
}

func TestConn_MarkUsed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(client, 0)
	later := c.CreatedAt().Add(time.Hour)
	c.MarkUsed(later)
	if !c.UsedAt().Equal(later) {
		t.Errorf("UsedAt() = %v, want %v", c.UsedAt(), later)
	}
}

func TestActiveChecker(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
		t.Skip("socket probing requires a unix platform")
	}
	ln, accepted := listen(t)

	dial := func(t *testing.T) (*Conn, net.Conn) {
		t.Helper()
		raw, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		var server net.Conn
		select {
		case server = <-accepted:
		case <-time.After(time.Second):
			t.Fatal("server did not accept")
		}
		t.Cleanup(func() {
			raw.Close()
			server.Close()
		})
		return NewConn(raw, 0), server
	}

	// Waits for the socket state to settle after a server-side action.
	settle := func() { time.Sleep(50 * time.Millisecond) }

	t.Run("idle connection is healthy", func(t *testing.T) {
		c, _ := dial(t)
		if !(ActiveChecker{}).Healthy(c) {
			t.Error("idle connection should be healthy")
		}
	})

	t.Run("peer close is unhealthy", func(t *testing.T) {
		c, server := dial(t)
		server.Close()
		settle()
		if (ActiveChecker{}).Healthy(c) {
			t.Error("connection closed by peer should be unhealthy")
		}
	})

	t.Run("unsolicited data is unhealthy", func(t *testing.T) {
		c, server := dial(t)
		server.Write([]byte("stray"))
		settle()
		if (ActiveChecker{}).Healthy(c) {
			t.Error("connection with pending data should be unhealthy")
		}
	})

	t.Run("closed wrapper is unhealthy", func(t *testing.T) {
		c, _ := dial(t)
		c.Close()
		if (ActiveChecker{}).Healthy(c) {
			t.Error("closed connection should be unhealthy")
		}
	})

	t.Run("nil is unhealthy", func(t *testing.T) {
		if (ActiveChecker{}).Healthy(nil) {
			t.Error("nil connection should be unhealthy")
		}
	})
}

func TestHealthCheckerFunc(t *testing.T) {
	var called bool
	var hc HealthChecker = HealthCheckerFunc(func(net.Conn) bool {
		called = true
		return false
	})
	if hc.Healthy(nil) || !called {
		t.Error("HealthCheckerFunc should delegate to the function")
	}
}
