// Package wire implements the length-prefixed framing protocol and the
// keepalive/timeout policy shared by every connection the broker handles.
//
// Every message on the wire is HEADER || PAYLOAD, where HEADER is an
// 8-byte little-endian unsigned integer giving the length of PAYLOAD. A
// zero-length payload is a keepalive; the broker never inspects payload
// content beyond its length.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sagernet/sing/common/bufio"
)

// headerLen is the size in bytes of the length header. Fixed by the wire
// format; Policy.HeaderLen exists only so the constant is visible to
// configuration validation and logging, not to change the format.
const headerLen = 8

var (
	// ErrConnectionClosed is returned when the peer closed the connection
	// mid-frame (a short read that hit EOF).
	ErrConnectionClosed = errors.New("wire: connection closed")
	// ErrConnectionBroken is returned on any other read or write failure.
	ErrConnectionBroken = errors.New("wire: connection broken")
	// ErrPayloadTooLarge is returned when a header claims a payload
	// larger than the configured maximum.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum size")
)

// timeoutError satisfies net.Error so callers that type-switch on Timeout()
// behave the same whether the timeout came from us or from the OS socket.
type timeoutError struct{}

func (timeoutError) Error() string   { return "wire: timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ErrTimeout is returned when a receive or send deadline is exceeded.
var ErrTimeout net.Error = timeoutError{}

// Policy bundles the keepalive/timeout/queue-size constants that govern
// a connection's lifecycle. The zero value is not usable; construct one
// with DefaultPolicy and override fields as needed, then call Validate.
type Policy struct {
	// KeepAliveTimeout is the idle period after which a sink must emit
	// an empty keepalive frame.
	KeepAliveTimeout time.Duration
	// OpsTimeout is the time budget a sender has for useful work.
	OpsTimeout time.Duration
	// Timeout is the receive-side deadline for one framed message.
	Timeout time.Duration
	// NegotiationTimeout is the per-operation deadline during the
	// negotiation handshake. Defaults to Timeout.
	NegotiationTimeout time.Duration
	// QueueSize is the capacity of each sink's queue.
	QueueSize int
	// HeaderLen documents the header size; always 8, see headerLen.
	HeaderLen int
	// MaxPayloadSize caps the payload length a single frame may claim,
	// guarding against a malicious client requesting unbounded
	// allocation. Zero disables the check.
	MaxPayloadSize int64
}

// DefaultPolicy returns dataservd's built-in policy: KeepAliveTimeout=3s,
// OpsTimeout=10s, Timeout=KeepAliveTimeout+OpsTimeout+1s.
func DefaultPolicy() Policy {
	p := Policy{
		KeepAliveTimeout: 3 * time.Second,
		OpsTimeout:       10 * time.Second,
		QueueSize:        5,
		HeaderLen:        headerLen,
		MaxPayloadSize:   64 << 20,
	}
	p.Timeout = p.KeepAliveTimeout + p.OpsTimeout + time.Second
	p.NegotiationTimeout = p.Timeout
	return p
}

// SinkSendTimeout is the per-send deadline used by a sink writer loop,
// tight enough that a stuck sink is cut loose before it can back-pressure
// the broker.
func (p Policy) SinkSendTimeout() time.Duration {
	return p.OpsTimeout / 4
}

// Validate checks the required relationship between the timeouts:
// Timeout >= KeepAliveTimeout + OpsTimeout.
func (p Policy) Validate() error {
	if p.KeepAliveTimeout <= 0 {
		return fmt.Errorf("wire: keepalive timeout must be positive")
	}
	if p.OpsTimeout <= 0 {
		return fmt.Errorf("wire: ops timeout must be positive")
	}
	if p.Timeout < p.KeepAliveTimeout+p.OpsTimeout {
		return fmt.Errorf("wire: timeout %s must be >= keepalive %s + ops %s",
			p.Timeout, p.KeepAliveTimeout, p.OpsTimeout)
	}
	if p.QueueSize <= 0 {
		return fmt.Errorf("wire: queue size must be positive")
	}
	if p.HeaderLen != headerLen {
		return fmt.Errorf("wire: header length must be %d, got %d", headerLen, p.HeaderLen)
	}
	return nil
}

// Receive reads one frame from conn within timeout: the 8-byte header
// followed by exactly that many payload bytes. An empty slice (non-nil)
// is returned for a keepalive frame.
func Receive(conn net.Conn, timeout time.Duration, maxPayload int64) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	var hdr [headerLen]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, classifyErr(err)
	}

	length := binary.LittleEndian.Uint64(hdr[:])
	if maxPayload > 0 && length > uint64(maxPayload) {
		return nil, ErrPayloadTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, classifyErr(err)
	}
	return payload, nil
}

// Send writes one frame to conn within timeout: the 8-byte length header
// followed by payload. Header and payload are written as a single
// vectorised write when the underlying connection supports it, avoiding a
// copy of payload into a combined buffer.
func Send(conn net.Conn, payload []byte, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer conn.SetWriteDeadline(time.Time{}) //nolint:errcheck

	var hdr [headerLen]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))

	if bw, ok := bufio.CreateVectorisedWriter(conn); ok {
		vec := [][]byte{hdr[:], payload}
		if _, err := bufio.WriteVectorised(bw, vec); err != nil {
			return classifyErr(err)
		}
		return nil
	}

	buf := make([]byte, headerLen+len(payload))
	copy(buf, hdr[:])
	copy(buf[headerLen:], payload)
	if _, err := conn.Write(buf); err != nil {
		return classifyErr(err)
	}
	return nil
}

func classifyErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return ErrConnectionBroken
}
