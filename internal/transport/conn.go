// Package transport carries messages over TCP connections and keeps the
// local Lamport clock in step with every message that crosses the wire.
//
// Clients and servers share one concrete Conn; the narrow interfaces below
// describe what each side actually needs from it.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dreamware/stratus/internal/lamport"
	"github.com/dreamware/stratus/internal/message"
)

// ServerConn is the server side of a connection: read a request, write a
// response, close.
type ServerConn interface {
	ReadRequest() (*message.Request, error)
	WriteMessage(m message.Message) error
	io.Closer
}

// ClientConn is the client side of a connection: write a request, read a
// response, close.
type ClientConn interface {
	WriteMessage(m message.Message) error
	ReadResponse() (*message.Response, error)
	io.Closer
}

// Conn wraps a net.Conn with message framing. Reads merge the incoming
// Lamport-Clock header into the clock; WriteMessage stamps a fresh value.
// A nil clock disables both.
type Conn struct {
	conn  net.Conn
	r     *bufio.Reader
	clock *lamport.Clock
	wmu   sync.Mutex // serializes writes
}

// New wraps an established connection.
func New(c net.Conn, clock *lamport.Clock) *Conn {
	return &Conn{
		conn:  c,
		r:     bufio.NewReader(c),
		clock: clock,
	}
}

// Dial connects to addr. timeout bounds the connect only; zero means no
// limit beyond the operating system's.
func Dial(ctx context.Context, addr string, timeout time.Duration, clock *lamport.Clock) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(c, clock), nil
}

// ReadRequest reads one request and merges its clock header.
func (c *Conn) ReadRequest() (*message.Request, error) {
	req, err := message.ReadRequest(c.r)
	if err != nil {
		return nil, err
	}
	if err := c.observe(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ReadResponse reads one response and merges its clock header.
func (c *Conn) ReadResponse() (*message.Response, error) {
	resp, err := message.ReadResponse(c.r)
	if err != nil {
		return nil, err
	}
	if err := c.observe(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReadRaw reads one framed message without parsing or clock handling.
func (c *Conn) ReadRaw() (string, error) {
	return message.ReadRaw(c.r)
}

// WriteMessage stamps m with a fresh clock value and writes it.
func (c *Conn) WriteMessage(m message.Message) error {
	if c.clock != nil {
		message.SetClock(m, c.clock.Tick())
	}
	return c.WriteRaw(m.String())
}

// WriteRaw writes an already encoded message verbatim.
func (c *Conn) WriteRaw(raw string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.conn, raw); err != nil {
		return fmt.Errorf("write to %s: %w", c.conn.RemoteAddr(), err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteIP returns the peer IP without the port.
func (c *Conn) RemoteIP() string {
	addr := c.conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (c *Conn) observe(m message.Message) error {
	if c.clock == nil {
		return nil
	}
	t, err := message.Clock(m)
	if err != nil {
		return err
	}
	c.clock.Merge(t)
	return nil
}
