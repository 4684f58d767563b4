package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// unbindTimeout bounds the best-effort unbind sent by Close.
const unbindTimeout = 2 * time.Second

// errConnectionClosed is returned by operations on a closed connection.
var errConnectionClosed = errors.New("connection is closed")

// Connection is an established and authenticated LDAP session. A Connection
// is not safe for concurrent use: one request is outstanding at a time.
type Connection struct {
	opts      *ConnectionOptions
	transport FrameTransport
	codec     Codec

	lastID int64
	bind   *BindResult

	broken bool
	closed bool
}

// OpenOption customizes how Open builds a connection.
type OpenOption func(*openConfig)

type openConfig struct {
	codec Codec
}

// WithCodec replaces the BER codec used to encode requests and decode responses.
func WithCodec(codec Codec) OpenOption {
	return func(c *openConfig) {
		c.codec = codec
	}
}

// Open connects to the server described by opts, negotiates TLS if requested,
// and binds. The transport is released on every failure path.
func Open(ctx context.Context, opts *ConnectionOptions, options ...OpenOption) (*Connection, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cfg := &openConfig{codec: BERCodec{}}
	for _, option := range options {
		option(cfg)
	}

	var tlsConfig *tls.Config
	if opts.UsesTLS() {
		var err error
		if tlsConfig, err = buildTLSConfig(opts); err != nil {
			return nil, NewParamError("tls", err.Error())
		}
	}

	fields := map[string]any{
		"address":     opts.Address(),
		"tls_mode":    opts.TLSMode.String(),
		"auth_method": opts.AuthMethod().String(),
	}
	LogConnectionEvent(ctx, "connection_attempt", fields)

	conn, err := establish(ctx, opts, cfg, tlsConfig)
	if err != nil {
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, "connection_failed", fields)
		return nil, err
	}

	if conn.bind, err = NewAuthenticator(opts).Bind(ctx, conn); err != nil {
		conn.release()
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, "authentication_failed", fields)
		return nil, err
	}

	LogConnectionEvent(ctx, "connection_established", fields)
	return conn, nil
}

// establish dials and protects the transport. The connect timeout covers the
// TCP connect and any TLS negotiation, not the bind.
func establish(ctx context.Context, opts *ConnectionOptions, cfg *openConfig, tlsConfig *tls.Config) (*Connection, error) {
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	raw, err := dialTCP(ctx, opts)
	if err != nil {
		return nil, err
	}

	transport := newNetTransport(raw)
	conn := &Connection{
		opts:      opts,
		transport: transport,
		codec:     cfg.codec,
	}

	switch opts.TLSMode {
	case TLSModeDirect:
		if err := transport.upgradeTLS(ctx, tlsConfig); err != nil {
			conn.release()
			return nil, &ConnectError{
				Kind:    ConnectFailureTLSHandshake,
				Address: opts.Address(),
				Message: "TLS handshake failed",
				Cause:   err,
			}
		}
	case TLSModeStartTLS:
		if err := conn.startTLS(ctx, transport, tlsConfig); err != nil {
			conn.release()
			return nil, err
		}
	}

	return conn, nil
}

// NextMessageID returns the next message ID. IDs start at 1 and are never
// reused within the lifetime of the connection.
func (c *Connection) NextMessageID() int64 {
	c.lastID++
	return c.lastID
}

// BindResult returns the outcome of the bind performed by Open.
func (c *Connection) BindResult() *BindResult {
	return c.bind
}

// Options returns the options the connection was opened with.
func (c *Connection) Options() *ConnectionOptions {
	return c.opts
}

// Send encodes and writes a single request message.
func (c *Connection) Send(ctx context.Context, msg *RequestMessage) error {
	operation := msg.Op.Name()
	if err := c.usable(operation); err != nil {
		return err
	}

	frame, err := c.codec.Encode(msg)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultEncodingError, err)
	}

	if err := c.applyDeadline(ctx); err != nil {
		return c.fail(operation, err)
	}

	tflog.SubsystemTrace(ctx, "ldap", "Sending request", map[string]any{
		"operation":  operation,
		"message_id": msg.MessageID,
		"controls":   len(msg.Controls),
	})

	if err := c.transport.WriteFrame(frame); err != nil {
		return c.fail(operation, err)
	}
	return nil
}

// ReadResponse blocks until the response carrying messageID arrives.
// Responses to other message IDs are discarded. An unsolicited notification
// means the server is closing the connection.
func (c *Connection) ReadResponse(ctx context.Context, operation string, messageID int64) (*ResponseMessage, error) {
	if err := c.usable(operation); err != nil {
		return nil, err
	}

	if err := c.applyDeadline(ctx); err != nil {
		return nil, c.fail(operation, err)
	}

	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			return nil, c.fail(operation, err)
		}

		msg, err := c.codec.Decode(frame)
		if err != nil {
			return nil, &ProtocolError{Operation: operation, MessageID: messageID, Cause: err}
		}

		if msg.IsNotice() {
			cause := fmt.Errorf("server sent notice of disconnection: %s (%d)", ResultCodeName(msg.Result.Code), msg.Result.Code)
			if msg.Result.DiagnosticMessage != "" {
				cause = fmt.Errorf("%w: %s", cause, msg.Result.DiagnosticMessage)
			}
			return nil, c.fail(operation, cause)
		}

		if msg.MessageID != messageID {
			tflog.SubsystemWarn(ctx, "ldap", "Discarding response for unexpected message ID", map[string]any{
				"operation":   operation,
				"expected_id": messageID,
				"received_id": msg.MessageID,
			})
			continue
		}

		return msg, nil
	}
}

// RoundTrip sends op with a fresh message ID and returns its response.
func (c *Connection) RoundTrip(ctx context.Context, op Request, controls []ldap.Control) (*ResponseMessage, error) {
	msg := &RequestMessage{
		MessageID: c.NextMessageID(),
		Op:        op,
		Controls:  controls,
	}

	if err := c.Send(ctx, msg); err != nil {
		return nil, err
	}

	resp, err := c.ReadResponse(ctx, op.Name(), msg.MessageID)
	if err != nil {
		return nil, err
	}

	if resp.Op != op.responseTag() {
		return nil, &ProtocolError{
			Operation: op.Name(),
			MessageID: msg.MessageID,
			Cause:     fmt.Errorf("%w: unexpected response type %d", ErrMalformedMessage, resp.Op),
		}
	}

	return resp, nil
}

// Close sends an unbind request when the connection is still healthy and
// releases the transport. Calling Close more than once is a no-op.
func (c *Connection) Close() error {
	if c == nil || c.closed {
		return nil
	}

	if !c.broken {
		ctx, cancel := context.WithTimeout(context.Background(), unbindTimeout)
		_ = c.Send(ctx, &RequestMessage{MessageID: c.NextMessageID(), Op: &UnbindRequest{}})
		cancel()
	}

	return c.release()
}

func (c *Connection) release() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.transport.Close()
}

func (c *Connection) usable(operation string) error {
	if c.closed {
		return &TransportError{Operation: operation, Cause: errConnectionClosed}
	}
	if c.broken {
		return &TransportError{Operation: operation, Cause: errors.New("connection is no longer usable")}
	}
	return nil
}

// fail marks the connection unusable after a transport failure.
func (c *Connection) fail(operation string, err error) error {
	c.broken = true
	return &TransportError{Operation: operation, Cause: err}
}

func (c *Connection) applyDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	return c.transport.SetDeadline(deadline)
}
