package ldap

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"syscall"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// socketLinger bounds how long Close blocks flushing unsent data, so rapid
// connect/close cycles do not pile up sockets in TIME_WAIT.
const socketLinger = 1 // seconds

// FrameTransport moves whole BER-framed LDAP messages over a connection.
type FrameTransport interface {
	WriteFrame(frame []byte) error
	ReadFrame() ([]byte, error)
	SetDeadline(t time.Time) error
	Close() error
}

// netTransport is a FrameTransport over a net.Conn that can be upgraded to TLS in place.
type netTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	secure bool
}

func newNetTransport(conn net.Conn) *netTransport {
	return &netTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (t *netTransport) WriteFrame(frame []byte) error {
	_, err := t.conn.Write(frame)
	return err
}

// ReadFrame reads one LDAPMessage using only its outer tag and length, so a
// malformed element inside the message is left for the codec to report and
// the stream stays aligned on the next message.
func (t *netTransport) ReadFrame() ([]byte, error) {
	return readFrame(t.reader)
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, 0, 8)

	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	header = append(header, tag)
	if tag&0x1f == 0x1f {
		for {
			b, err := r.ReadByte()
			if err != nil {
				return nil, noEOF(err)
			}
			header = append(header, b)
			if b&0x80 == 0 {
				break
			}
			if len(header) > 5 {
				return nil, fmt.Errorf("%w: tag number too large", ErrMalformedMessage)
			}
		}
	}

	first, err := r.ReadByte()
	if err != nil {
		return nil, noEOF(err)
	}
	header = append(header, first)

	var length int64
	switch {
	case first < 0x80:
		length = int64(first)
	case first == 0x80:
		return nil, fmt.Errorf("%w: indefinite length is not allowed", ErrMalformedMessage)
	case first == 0xff:
		return nil, fmt.Errorf("%w: reserved length octet", ErrMalformedMessage)
	default:
		n := int(first & 0x7f)
		if n > 8 {
			return nil, fmt.Errorf("%w: length uses %d octets", ErrMalformedMessage, n)
		}
		for range n {
			b, err := r.ReadByte()
			if err != nil {
				return nil, noEOF(err)
			}
			header = append(header, b)
			if length > math.MaxInt64>>8 {
				return nil, fmt.Errorf("%w: length overflows", ErrMalformedMessage)
			}
			length = length<<8 | int64(b)
		}
	}
	if ber.MaxPacketLengthBytes > 0 && length > ber.MaxPacketLengthBytes {
		return nil, fmt.Errorf("%w: length %d greater than maximum %d", ErrMalformedMessage, length, ber.MaxPacketLengthBytes)
	}

	frame := make([]byte, len(header)+int(length))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[len(header):]); err != nil {
		return nil, noEOF(err)
	}
	return frame, nil
}

// noEOF reports a stream that ends inside a message as truncated.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (t *netTransport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

// upgradeTLS wraps the existing socket in a TLS client session and performs
// the handshake.
func (t *netTransport) upgradeTLS(ctx context.Context, cfg *tls.Config) error {
	if t.secure {
		return fmt.Errorf("connection is already protected by TLS")
	}
	if t.reader.Buffered() > 0 {
		return fmt.Errorf("unexpected data received before TLS handshake")
	}

	tlsConn := tls.Client(t.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}

	t.conn = tlsConn
	t.reader = bufio.NewReader(tlsConn)
	t.secure = true
	return nil
}

// dialTCP opens the plain TCP socket with address reuse and a short linger.
func dialTCP(ctx context.Context, opts *ConnectionOptions) (net.Conn, error) {
	address := opts.Address()
	dialer := &net.Dialer{
		Timeout: opts.ConnectTimeout,
		Control: tuneSocket,
	}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, classifyDialError(address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetLinger(socketLinger); err != nil {
			tflog.SubsystemDebug(ctx, "ldap", "Unable to set socket linger", map[string]any{
				"address": address,
				"error":   err.Error(),
			})
		}
	}

	tflog.SubsystemDebug(ctx, "ldap", "TCP connection established", map[string]any{
		"address":     address,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return conn, nil
}

// classifyDialError maps a dial failure onto the connect failure taxonomy.
func classifyDialError(address string, err error) *ConnectError {
	connErr := &ConnectError{Address: address, Cause: err}

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		connErr.Kind = ConnectFailureUnknownHost
		connErr.Message = "unknown host"
	case errors.Is(err, syscall.ECONNREFUSED):
		connErr.Kind = ConnectFailureRefused
		connErr.Message = "connection refused"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		connErr.Kind = ConnectFailureTimeout
		connErr.Message = "connection timed out"
	default:
		connErr.Kind = ConnectFailureIO
		connErr.Message = "connection failed"
	}

	return connErr
}
