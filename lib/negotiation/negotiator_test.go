package negotiation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
)

type handshakeResult struct {
	client    Session
	clientErr error
	server    Session
	serverErr error
}

// runHandshake negotiates over an in-memory pipe against Serve.
func runHandshake(t *testing.T, client, server VersionSet) handshakeResult {
	t.Helper()
	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()

	deadline := time.Now().Add(2 * time.Second)
	c.SetDeadline(deadline)
	s.SetDeadline(deadline)

	type result struct {
		session Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := Serve(s, server)
		if err != nil {
			// Unblock the client if it is still waiting for a reply.
			s.Close()
		}
		done <- result{sess, err}
	}()

	n := &StandardNegotiator{Versions: client}
	sess, err := n.Negotiate(c)
	c.Close()
	r := <-done
	return handshakeResult{client: sess, clientErr: err, server: r.session, serverErr: r.err}
}

func TestStandardNegotiator_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		client  VersionSet
		server  VersionSet
		want    Version
		wantErr bool
	}{
		{"exact match", NewVersionSet(1), NewVersionSet(1), 1, false},
		{"server lower", NewVersionSet(2, 3), NewVersionSet(1, 2), 2, false},
		{"client picks highest common", NewVersionSet(1, 2, 3), NewVersionSet(1, 2, 3), 3, false},
		{"step down twice", NewVersionSet(1, 3), NewVersionSet(1, 2), 1, false},
		{"no common version", NewVersionSet(1, 2, 3), NewVersionSet(5), 0, true},
		{"server only higher", NewVersionSet(3), NewVersionSet(1, 5), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runHandshake(t, tt.client, tt.server)
			sess, err := res.client, res.clientErr
			srvSess, srvErr := res.server, res.serverErr
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrProtocolNegotiation) {
					t.Fatalf("expected ErrProtocolNegotiation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Negotiate failed: %v", err)
			}
			if srvErr != nil {
				t.Fatalf("Serve failed: %v", srvErr)
			}
			if sess.Version() != tt.want {
				t.Errorf("client agreed on %d, want %d", sess.Version(), tt.want)
			}
			if srvSess.Version() != tt.want {
				t.Errorf("server agreed on %d, want %d", srvSess.Version(), tt.want)
			}
		})
	}
}

func TestStandardNegotiator_AbortReason(t *testing.T) {
	err := runHandshake(t, NewVersionSet(1, 2, 3), NewVersionSet(5)).clientErr
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "server aborted negotiation") {
		t.Errorf("expected abort reason in error, got %v", err)
	}
}

func TestStandardNegotiator_NoVersions(t *testing.T) {
	n := &StandardNegotiator{}
	_, err := n.Negotiate(&bytes.Buffer{})
	if !errors.Is(err, apperrors.ErrProtocolNegotiation) {
		t.Errorf("expected ErrProtocolNegotiation, got %v", err)
	}
}

// scripted is a ReadWriter that replays a canned server response.
type scripted struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (s *scripted) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *scripted) Write(p []byte) (int, error) { return s.out.Write(p) }

func TestStandardNegotiator_MalformedResponses(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
	}{
		{"empty", nil},
		{"unknown status", []byte{42}},
		{"truncated suggestion", []byte{StatusDifferentVersion, 0, 0}},
		{"truncated abort", []byte{StatusAbort, 0, 10, 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := &scripted{in: bytes.NewReader(tt.response)}
			_, err := NewStandardNegotiator(1).Negotiate(rw)
			if !errors.Is(err, apperrors.ErrProtocolNegotiation) {
				t.Errorf("expected ErrProtocolNegotiation, got %v", err)
			}
		})
	}
}

func TestStandardNegotiator_WireFormat(t *testing.T) {
	rw := &scripted{in: bytes.NewReader([]byte{StatusResourceOK})}
	sess, err := NewStandardNegotiator(3, 1).Negotiate(rw)
	if err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	if sess.Version() != 3 {
		t.Errorf("expected version 3, got %d", sess.Version())
	}

	want := append([]byte(Magic), 0, 0, 0, 3)
	if !bytes.Equal(rw.out.Bytes(), want) {
		t.Errorf("wire bytes = %v, want %v", rw.out.Bytes(), want)
	}
}

func TestServe_BadMagic(t *testing.T) {
	var in bytes.Buffer
	in.WriteString("XXXX")
	binary.Write(&in, binary.BigEndian, int32(1))
	rw := &scripted{in: bytes.NewReader(in.Bytes())}

	_, err := Serve(rw, NewVersionSet(1))
	if !errors.Is(err, apperrors.ErrProtocolNegotiation) {
		t.Errorf("expected ErrProtocolNegotiation, got %v", err)
	}
}

func TestNegotiatorFunc(t *testing.T) {
	var n Negotiator = NegotiatorFunc(func(rw io.ReadWriter) (Session, error) {
		return NewSession(7), nil
	})
	sess, err := n.Negotiate(nil)
	if err != nil || sess.Version() != 7 {
		t.Errorf("unexpected result %v, %v", sess, err)
	}
}
