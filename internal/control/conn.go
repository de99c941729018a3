package control

import (
	"io"
	"net"
	"time"

	mirageerrors "github.com/miragekit/core/internal/errors"
	"github.com/miragekit/core/internal/wire"
)

// PingInterval and PongTimeout are the control channel's liveness constants
// (spec §4.4/§5). This package sends no pings of its own and does not
// enforce PongTimeout; the binaries' read loops use a multiple of
// PingInterval as their read deadline.
const (
	PingInterval = 5 * time.Second
	PongTimeout  = 1 * time.Second
)

// TransientErrorGrace is how long the control channel tolerates consecutive
// transient transport errors (short reads, temporary network blips) before
// escalating to a fatal disconnect (spec §5).
const TransientErrorGrace = 20 * time.Second

// Conn wraps a net.Conn with envelope framing. It is not safe for concurrent
// Read and Write from multiple goroutines on the same side (standard
// net.Conn rule); callers typically dedicate one reader and one writer
// goroutine per Conn, as the teacher's connection handler does.
type Conn struct {
	nc  net.Conn
	dec wire.Decoder

	readBuf []byte

	firstTransientErr time.Time
}

// NewConn wraps nc for envelope-framed read/write.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, readBuf: make([]byte, 32*1024)}
}

// WriteEnvelope writes env's wire form in a single Write call.
func (c *Conn) WriteEnvelope(env wire.Envelope) error {
	if _, err := c.nc.Write(env.Marshal()); err != nil {
		return mirageerrors.NewTransportError("control.write", err, true)
	}
	return nil
}

// Send is a convenience combining EncodeMessage and WriteEnvelope.
func (c *Conn) Send(t MessageType, payload any) error {
	env, err := EncodeMessage(t, payload)
	if err != nil {
		return err
	}
	return c.WriteEnvelope(env)
}

// ReadEnvelope blocks until a complete envelope is available, deadline is
// exceeded, or the connection fails. A read timeout is reported as a
// non-fatal TransportError as long as the accumulated transient-error window
// is within TransientErrorGrace; once exceeded it is reported fatal.
func (c *Conn) ReadEnvelope(deadline time.Time) (wire.Envelope, error) {
	for {
		env, ok, err := c.dec.Next()
		if err != nil {
			return wire.Envelope{}, mirageerrors.NewProtocolError("control.decode", err)
		}
		if ok {
			c.firstTransientErr = time.Time{}
			return env, nil
		}
		if !deadline.IsZero() {
			if err := c.nc.SetReadDeadline(deadline); err != nil {
				return wire.Envelope{}, mirageerrors.NewTransportError("control.setDeadline", err, true)
			}
		}
		n, err := c.nc.Read(c.readBuf)
		if n > 0 {
			c.dec.Feed(c.readBuf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return wire.Envelope{}, mirageerrors.NewTransportError("control.read", err, true)
			}
			fatal := c.classifyTransient(err)
			return wire.Envelope{}, mirageerrors.NewTransportError("control.read", err, fatal)
		}
	}
}

// classifyTransient tracks how long transient read errors have persisted and
// reports fatal once TransientErrorGrace has elapsed without a successful
// read in between.
func (c *Conn) classifyTransient(err error) bool {
	type timeouter interface{ Timeout() bool }
	if to, ok := err.(timeouter); ok && to.Timeout() {
		if c.firstTransientErr.IsZero() {
			c.firstTransientErr = time.Now()
			return false
		}
		return time.Since(c.firstTransientErr) > TransientErrorGrace
	}
	return true
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
