package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// TestSentinelErrors verifies all sentinel errors are properly defined.
func TestSentinelErrors(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrConnectTimeout", ErrConnectTimeout},
		{"ErrSecurityHandshake", ErrSecurityHandshake},
		{"ErrProtocolNegotiation", ErrProtocolNegotiation},
		{"ErrHandshakeTimeout", ErrHandshakeTimeout},
		{"ErrConnection", ErrConnection},
		{"ErrPoolExhausted", ErrPoolExhausted},
		{"ErrAcquireTimeout", ErrAcquireTimeout},
		{"ErrPoolClosed", ErrPoolClosed},
		{"ErrNotBorrowed", ErrNotBorrowed},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrConfiguration", ErrConfiguration},
		{"ErrCircuitOpen", ErrCircuitOpen},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrInternal", ErrInternal},
	}

	for _, tc := range sentinels {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err == nil {
				t.Fatalf("%s should not be nil", tc.name)
			}
			if tc.err.Error() == "" {
				t.Errorf("%s should have a non-empty message", tc.name)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrConnectTimeout, CodeConnectTimeout},
		{ErrSecurityHandshake, CodeSecurityHandshake},
		{ErrProtocolNegotiation, CodeNegotiation},
		{ErrHandshakeTimeout, CodeHandshakeTimeout},
		{ErrPoolExhausted, CodePoolExhausted},
		{ErrAcquireTimeout, CodeAcquireTimeout},
		{ErrPoolClosed, CodePoolClosed},
		{ErrNotBorrowed, CodeNotBorrowed},
		{ErrCircuitOpen, CodeCircuitOpen},
		{io.EOF, CodeInternal},
		{New(CodeConfiguration, "bad"), CodeConfiguration},
	}

	for _, tc := range tests {
		if got := CodeOf(tc.err); got != tc.code {
			t.Errorf("CodeOf(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}

func TestWrapAndFromSentinel(t *testing.T) {
	wrapped := Wrap(CodeConnection, "dial failed", io.ErrUnexpectedEOF)
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("wrapped error should unwrap to cause")
	}
	if wrapped.Error() != "dial failed: unexpected EOF" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}

	se := FromSentinel(ErrPoolClosed)
	if se.Code != CodePoolClosed {
		t.Errorf("expected code %d, got %d", CodePoolClosed, se.Code)
	}
	if FromSentinel(nil) != nil {
		t.Error("FromSentinel(nil) should be nil")
	}
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("remote error: tls: bad certificate")
	err := NewConnectionError("cache:4557", PhaseTLS, ErrSecurityHandshake, cause)

	if !errors.Is(err, ErrSecurityHandshake) {
		t.Error("should unwrap to ErrSecurityHandshake")
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
	if !IsUnreachable(err) {
		t.Error("handshake failures are unreachable errors")
	}
	if IsRetryable(err) {
		t.Error("handshake failures are not retryable")
	}
	if !strings.Contains(err.Error(), "connection(cache:4557) tls") {
		t.Errorf("unexpected message %q", err.Error())
	}

	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Phase != PhaseTLS {
		t.Error("errors.As should find the ConnectionError")
	}
}

func TestAcquireError(t *testing.T) {
	err := &AcquireError{
		Kind:           ErrAcquireTimeout,
		MaxConnections: 2,
		Open:           2,
		Pending:        1,
		MaxPending:     1024,
		Waited:         50 * time.Millisecond,
	}

	if !errors.Is(err, ErrAcquireTimeout) {
		t.Error("should unwrap to ErrAcquireTimeout")
	}
	if !IsRetryable(err) || !IsTimeout(err) {
		t.Error("acquire timeout should be retryable and a timeout")
	}
	if !strings.Contains(err.Error(), "pending: 1/1024") {
		t.Errorf("message should carry pool counts, got %q", err.Error())
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		retryable   bool
		unreachable bool
		closed      bool
	}{
		{"exhausted", ErrPoolExhausted, true, false, false},
		{"acquire timeout", ErrAcquireTimeout, true, false, false},
		{"closed", ErrPoolClosed, false, false, true},
		{"negotiation", ErrProtocolNegotiation, false, true, false},
		{"connect timeout", ErrConnectTimeout, false, true, false},
		{"circuit", ErrCircuitOpen, true, false, false},
		{"nil", nil, false, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tc.retryable)
			}
			if got := IsUnreachable(tc.err); got != tc.unreachable {
				t.Errorf("IsUnreachable = %v, want %v", got, tc.unreachable)
			}
			if got := IsClosed(tc.err); got != tc.closed {
				t.Errorf("IsClosed = %v, want %v", got, tc.closed)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	if Join(nil, nil) != nil {
		t.Error("Join of nils should be nil")
	}
	joined := Join(ErrPoolClosed, io.EOF)
	if !Is(joined, ErrPoolClosed) || !Is(joined, io.EOF) {
		t.Error("joined error should match both")
	}
}
