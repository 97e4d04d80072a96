// Package message implements the text wire format shared by the aggregation
// server, the load balancer and the clients.
//
// A message is one start line, zero or more "Name: Value" header lines, a
// blank line and an optional body, with CRLF line terminators:
//
//	PUT /Adelaide.txt HTTP/1.1\r\n
//	Content-Type: application/json\r\n
//	Content-Length: 62\r\n
//	Lamport-Clock: 5\r\n
//	\r\n
//	{ ...body... }
//
// Parsing splits header lines at the first ": " only, so a value may itself
// contain ": ". The emitter is deterministic: headers keep insertion order
// and Content-Length always reflects the byte length of the body.
package message

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/stratus/internal/lamport"
)

// ErrMalformedMessage is returned when a message cannot be parsed.
var ErrMalformedMessage = errors.New("malformed message")

const (
	crlf            = "\r\n"
	headerDelimiter = ": "

	// DefaultVersion is the protocol version emitted in every start line.
	DefaultVersion = "1.1"

	// ContentLength is the header carrying the body byte length.
	ContentLength = "Content-Length"
	// ContentType is the header naming the body media type.
	ContentType = "Content-Type"
)

// Message is the part of a request or response the transport needs to
// stamp and emit.
type Message interface {
	Headers() *Header
	String() string
}

// Request is a parsed or outgoing request message.
type Request struct {
	Method  string
	URI     string
	Version string // without the "HTTP/" prefix, e.g. "1.1"
	Header  Header
	Body    string
	HasBody bool // distinguishes an absent body from an empty one
}

// NewRequest returns a request with the default version and no headers.
func NewRequest(method, uri string) *Request {
	return &Request{Method: strings.ToUpper(method), URI: uri, Version: DefaultVersion}
}

// SetHeader sets a header and returns the request for chaining.
func (r *Request) SetHeader(name, value string) *Request {
	r.Header.Set(name, value)
	return r
}

// SetBody attaches a body and records its Content-Length.
func (r *Request) SetBody(body string) *Request {
	r.Body = body
	r.HasBody = true
	r.Header.Set(ContentLength, strconv.Itoa(len(body)))
	return r
}

// Headers implements Message.
func (r *Request) Headers() *Header {
	return &r.Header
}

// Endpoint returns the URI suffix after the first "/". It reports false
// when the URI is exactly "/", meaning no station or file was named.
func (r *Request) Endpoint() (string, bool) {
	i := strings.IndexByte(r.URI, '/')
	if i == len(r.URI)-1 {
		return "", false
	}
	return r.URI[i+1:], true
}

// String emits the request in wire format.
func (r *Request) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/%s%s", r.Method, r.URI, r.Version, crlf)
	writeHeadAndBody(&b, &r.Header, r.Body, r.HasBody)
	return b.String()
}

// Response is a parsed or outgoing response message.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Header     Header
	Body       string
	HasBody    bool
}

// NewResponse returns a response for code with its standard reason phrase.
func NewResponse(code int) *Response {
	return &Response{Version: DefaultVersion, StatusCode: code, Reason: StatusText(code)}
}

// SetHeader sets a header and returns the response for chaining.
func (r *Response) SetHeader(name, value string) *Response {
	r.Header.Set(name, value)
	return r
}

// SetBody attaches a body and records its Content-Length.
func (r *Response) SetBody(body string) *Response {
	r.Body = body
	r.HasBody = true
	r.Header.Set(ContentLength, strconv.Itoa(len(body)))
	return r
}

// Headers implements Message.
func (r *Response) Headers() *Header {
	return &r.Header
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// String emits the response in wire format.
func (r *Response) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/%s %d %s%s", r.Version, r.StatusCode, r.Reason, crlf)
	writeHeadAndBody(&b, &r.Header, r.Body, r.HasBody)
	return b.String()
}

// writeHeadAndBody emits header lines, the blank line and the body.
// Content-Length is rewritten from the body; it is dropped when there is
// no body so that stream readers never wait for bytes that will not come.
func writeHeadAndBody(b *strings.Builder, h *Header, body string, hasBody bool) {
	wroteLength := false
	for _, name := range h.names {
		value := h.values[name]
		if name == ContentLength {
			if !hasBody {
				continue
			}
			value = strconv.Itoa(len(body))
			wroteLength = true
		}
		b.WriteString(name)
		b.WriteString(headerDelimiter)
		b.WriteString(value)
		b.WriteString(crlf)
	}
	if hasBody && !wroteLength {
		b.WriteString(ContentLength + headerDelimiter + strconv.Itoa(len(body)) + crlf)
	}
	b.WriteString(crlf)
	if hasBody {
		b.WriteString(body)
	}
}

// Clock returns the Lamport-Clock header value of m. An absent header
// yields 0 with no error; an unparsable one is malformed.
func Clock(m Message) (uint64, error) {
	v, ok := m.Headers().Get(lamport.HeaderName)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s %q", ErrMalformedMessage, lamport.HeaderName, v)
	}
	return n, nil
}

// SetClock stamps m with the Lamport-Clock header.
func SetClock(m Message, t uint64) {
	m.Headers().Set(lamport.HeaderName, strconv.FormatUint(t, 10))
}
