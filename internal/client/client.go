// Package client implements the two protocol clients and the health probe
// the load balancer uses.
//
// The GET client sends one GET for "/" or "/<stationId>" and reads one
// response. The content client first sends GET "/" purely to bring its
// Lamport clock in step with the server, waits for the 204, then sends a
// single PUT whose body is the serialized observation file, and closes once
// the PUT is acknowledged.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dreamware/stratus/internal/lamport"
	"github.com/dreamware/stratus/internal/message"
	"github.com/dreamware/stratus/internal/transport"
	"github.com/dreamware/stratus/internal/weather"
)

var (
	// ErrMissingArgs is returned when a required argument is absent.
	ErrMissingArgs = errors.New("missing arguments")
	// ErrInvalidArgs is returned for extra or unusable arguments.
	ErrInvalidArgs = errors.New("invalid arguments")
	// ErrUnhealthy is returned by Ping when the server answers with a
	// non-2xx status.
	ErrUnhealthy = errors.New("server unhealthy")
)

// DefaultDialTimeout bounds connection setup.
const DefaultDialTimeout = 2 * time.Second

// Transcript keeps every message a client emitted and received, in wire
// format, in order.
type Transcript struct {
	Sent     []string
	Received []string
}

// ParseGetArgs validates "host:port [stationId]".
func ParseGetArgs(args []string) (addr, station string, err error) {
	switch {
	case len(args) == 0:
		return "", "", fmt.Errorf("%w: usage: <host:port> [stationId]", ErrMissingArgs)
	case len(args) > 2:
		return "", "", fmt.Errorf("%w: expected at most 2 arguments, got %d", ErrInvalidArgs, len(args))
	}
	if err := checkAddr(args[0]); err != nil {
		return "", "", err
	}
	if len(args) == 2 {
		station = args[1]
	}
	return args[0], station, nil
}

// ParseContentArgs validates "host:port <file>".
func ParseContentArgs(args []string) (addr, file string, err error) {
	switch {
	case len(args) < 2:
		return "", "", fmt.Errorf("%w: usage: <host:port> <file>", ErrMissingArgs)
	case len(args) > 2:
		return "", "", fmt.Errorf("%w: expected 2 arguments, got %d", ErrInvalidArgs, len(args))
	}
	if err := checkAddr(args[0]); err != nil {
		return "", "", err
	}
	return args[0], args[1], nil
}

func checkAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || port == "" {
		return fmt.Errorf("%w: address %q is not host:port", ErrInvalidArgs, addr)
	}
	return nil
}

// GetClient fetches one station record.
type GetClient struct {
	Clock       *lamport.Clock
	Addr        string
	Station     string // empty requests "/"
	DialTimeout time.Duration
	Transcript
}

// NewGetClient returns a client with its own clock.
func NewGetClient(addr, station string) *GetClient {
	return &GetClient{
		Addr:        addr,
		Station:     station,
		Clock:       lamport.New(),
		DialTimeout: DefaultDialTimeout,
	}
}

// Request builds the GET this client sends.
func (c *GetClient) Request() *message.Request {
	return newGet(c.Addr, "/"+c.Station)
}

// Run opens a connection, sends the GET, reads one response and closes.
func (c *GetClient) Run(ctx context.Context) (*message.Response, error) {
	conn, err := transport.Dial(ctx, c.Addr, c.DialTimeout, c.Clock)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	return exchange(conn, c.Request(), &c.Transcript)
}

// ContentClient uploads one observation file.
type ContentClient struct {
	Clock       *lamport.Clock
	Addr        string
	File        string
	DialTimeout time.Duration
	Transcript
}

// NewContentClient returns a client with its own clock.
func NewContentClient(addr, file string) *ContentClient {
	return &ContentClient{
		Addr:        addr,
		File:        file,
		Clock:       lamport.New(),
		DialTimeout: DefaultDialTimeout,
	}
}

// PutRequest builds the PUT for the client's file.
func (c *ContentClient) PutRequest() (*message.Request, error) {
	doc, err := weather.ParseFile(c.File)
	if err != nil {
		return nil, err
	}
	return message.NewRequest("PUT", "/"+c.File).
		SetHeader("Host", c.Addr).
		SetHeader("Accept", message.JSONContentType).
		SetHeader(message.ContentType, message.JSONContentType).
		SetBody(doc.String()), nil
}

// Run syncs the clock with a GET "/", sends the PUT once the 204 arrives
// and returns the first response that is not the clock-sync 204.
func (c *ContentClient) Run(ctx context.Context) (*message.Response, error) {
	put, err := c.PutRequest()
	if err != nil {
		return nil, err
	}

	conn, err := transport.Dial(ctx, c.Addr, c.DialTimeout, c.Clock)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	resp, err := exchange(conn, newGet(c.Addr, "/"), &c.Transcript)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != message.StatusNoContent {
		return resp, nil
	}
	return exchange(conn, put, &c.Transcript)
}

// Ping sends GET "/" to addr and reports whether a 2xx came back. timeout
// bounds the connect only.
func Ping(ctx context.Context, addr string, timeout time.Duration, clock *lamport.Clock) error {
	conn, err := transport.Dial(ctx, addr, timeout, clock)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	resp, err := exchange(conn, newGet(addr, "/"), nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s answered %d", ErrUnhealthy, addr, resp.StatusCode)
	}
	return nil
}

func newGet(addr, uri string) *message.Request {
	return message.NewRequest("GET", uri).
		SetHeader("Host", addr).
		SetHeader("Accept", message.JSONContentType)
}

func exchange(conn transport.ClientConn, req *message.Request, t *Transcript) (*message.Response, error) {
	if err := conn.WriteMessage(req); err != nil {
		return nil, err
	}
	if t != nil {
		t.Sent = append(t.Sent, req.String())
	}
	resp, err := conn.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if t != nil {
		t.Received = append(t.Received, resp.String())
	}
	return resp, nil
}
