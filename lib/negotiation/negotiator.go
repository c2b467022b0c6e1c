package negotiation

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	apperrors "github.com/distcache/cachepool/lib/errors"
)

// Wire constants of the cache server handshake.
const (
	// Magic is written by the client before the first version offer.
	Magic = "NiFi"

	StatusResourceOK       byte = 20
	StatusDifferentVersion byte = 21
	StatusAbort            byte = 255
)

const (
	maxServerRounds         = 32
	maxAbortReasonLength    = 4096
	defaultNegotiateBufSize = 64
)

// Negotiator agrees on a protocol version over a freshly established
// connection. Implementations must not read past the end of the handshake.
type Negotiator interface {
	Negotiate(rw io.ReadWriter) (Session, error)
}

// NegotiatorFunc adapts a function to the Negotiator interface.
type NegotiatorFunc func(rw io.ReadWriter) (Session, error)

// Negotiate implements Negotiator.
func (f NegotiatorFunc) Negotiate(rw io.ReadWriter) (Session, error) {
	return f(rw)
}

// StandardNegotiator speaks the distributed cache handshake: magic header,
// then a loop of int32 version offers answered by a status byte.
type StandardNegotiator struct {
	Versions VersionSet
}

// NewStandardNegotiator returns a negotiator offering the given versions,
// highest first.
func NewStandardNegotiator(versions ...Version) *StandardNegotiator {
	return &StandardNegotiator{Versions: NewVersionSet(versions...)}
}

// Negotiate implements Negotiator.
func (n *StandardNegotiator) Negotiate(rw io.ReadWriter) (Session, error) {
	version, ok := n.Versions.Highest()
	if !ok {
		return Session{}, negotiationError("no client versions configured", nil)
	}

	var out bytes.Buffer
	out.Grow(defaultNegotiateBufSize)
	out.WriteString(Magic)

	offered := make(map[Version]bool)
	for {
		offered[version] = true
		if err := binary.Write(&out, binary.BigEndian, int32(version)); err != nil {
			return Session{}, negotiationError("encode version", err)
		}
		if _, err := rw.Write(out.Bytes()); err != nil {
			return Session{}, negotiationError("write version offer", err)
		}
		out.Reset()

		status, err := readByte(rw)
		if err != nil {
			return Session{}, negotiationError("read status", err)
		}

		switch status {
		case StatusResourceOK:
			log.WithField("version", version).Debug("protocol version negotiated")
			return NewSession(version), nil
		case StatusDifferentVersion:
			var suggested int32
			if err := binary.Read(rw, binary.BigEndian, &suggested); err != nil {
				return Session{}, negotiationError("read suggested version", err)
			}
			next, ok := n.Versions.PreferredAtMost(Version(suggested))
			if !ok || offered[next] {
				return Session{}, negotiationError(
					fmt.Sprintf("server suggested version %d, client supports %s", suggested, n.Versions), nil)
			}
			log.WithField("suggested", suggested).WithField("next", next).Debug("server requested different version")
			version = next
		case StatusAbort:
			reason, err := readReason(rw)
			if err != nil {
				return Session{}, negotiationError("server aborted negotiation", err)
			}
			return Session{}, negotiationError("server aborted negotiation: "+reason, nil)
		default:
			return Session{}, negotiationError(fmt.Sprintf("unexpected status byte %d", status), nil)
		}
	}
}

// Serve runs the server side of the handshake and returns the agreed
// session. It answers each offer with OK, a different version it supports,
// or ABORT when nothing at or below the offer is supported.
func Serve(rw io.ReadWriter, supported VersionSet) (Session, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(rw, magic); err != nil {
		return Session{}, negotiationError("read magic header", err)
	}
	if string(magic) != Magic {
		return Session{}, negotiationError(fmt.Sprintf("bad magic header %q", magic), nil)
	}

	w := bufio.NewWriter(rw)
	for range maxServerRounds {
		var offered int32
		if err := binary.Read(rw, binary.BigEndian, &offered); err != nil {
			return Session{}, negotiationError("read version offer", err)
		}

		if supported.Supports(Version(offered)) {
			if err := writeAndFlush(w, StatusResourceOK); err != nil {
				return Session{}, negotiationError("write status", err)
			}
			return NewSession(Version(offered)), nil
		}

		preferred, ok := supported.PreferredAtMost(Version(offered))
		if !ok {
			reason := fmt.Sprintf("unsupported version %d, server supports %s", offered, supported)
			if err := writeAbort(w, reason); err != nil {
				return Session{}, negotiationError("write abort", err)
			}
			return Session{}, negotiationError(reason, nil)
		}

		w.WriteByte(StatusDifferentVersion)
		binary.Write(w, binary.BigEndian, int32(preferred))
		if err := w.Flush(); err != nil {
			return Session{}, negotiationError("write suggested version", err)
		}
	}
	return Session{}, negotiationError("too many negotiation rounds", nil)
}

func negotiationError(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrProtocolNegotiation, msg, cause)
	}
	return fmt.Errorf("%w: %s", apperrors.ErrProtocolNegotiation, msg)
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readReason reads a 2-byte length prefixed UTF-8 string.
func readReason(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > maxAbortReasonLength {
		return "", fmt.Errorf("abort reason too long: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeAbort(w *bufio.Writer, reason string) error {
	if len(reason) > maxAbortReasonLength {
		reason = reason[:maxAbortReasonLength]
	}
	w.WriteByte(StatusAbort)
	binary.Write(w, binary.BigEndian, uint16(len(reason)))
	w.WriteString(reason)
	return w.Flush()
}

func writeAndFlush(w *bufio.Writer, status byte) error {
	if err := w.WriteByte(status); err != nil {
		return err
	}
	return w.Flush()
}
