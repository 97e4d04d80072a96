package message

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestString(t *testing.T) {
	req := NewRequest("get", "/A0").
		SetHeader("Host", "127.0.0.1:4567").
		SetHeader("Accept", "application/json")
	SetClock(req, 1)

	assert.Equal(t, "GET /A0 HTTP/1.1\r\n"+
		"Host: 127.0.0.1:4567\r\n"+
		"Accept: application/json\r\n"+
		"Lamport-Clock: 1\r\n"+
		"\r\n", req.String())
}

func TestResponseStringSetsContentLength(t *testing.T) {
	resp := NewResponse(StatusOK).SetHeader(ContentType, "application/json")
	resp.Header.Set(ContentLength, "999")
	resp.SetBody("{\n\"id\": \"A0\"\n}")
	SetClock(resp, 9)

	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+
		"Content-Type: application/json\r\n"+
		"Content-Length: 14\r\n"+
		"Lamport-Clock: 9\r\n"+
		"\r\n"+
		"{\n\"id\": \"A0\"\n}", resp.String())
}

func TestContentLengthCountsBytes(t *testing.T) {
	resp := NewResponse(StatusOK).SetBody("é")
	v, ok := resp.Header.Get(ContentLength)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestEmitterDropsContentLengthWithoutBody(t *testing.T) {
	resp := NewResponse(StatusInternalServerError)
	resp.Header.Set(ContentLength, "12")
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\n\r\n", resp.String())
}

func TestParseRequest(t *testing.T) {
	raw := "PUT /weather.txt HTTP/1.1\r\n" +
		"Host: localhost:4567\r\n" +
		"Content-Length: 4\r\n" +
		"Lamport-Clock: 5\r\n" +
		"\r\n" +
		"body"

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "PUT", req.Method)
	assert.Equal(t, "/weather.txt", req.URI)
	assert.Equal(t, "1.1", req.Version)
	assert.Equal(t, []string{"Host", "Content-Length", "Lamport-Clock"}, req.Header.Names())
	assert.True(t, req.HasBody)
	assert.Equal(t, "body", req.Body)

	clock, err := Clock(req)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), clock)

	assert.Equal(t, raw, req.String())
}

func TestParseBodyAbsentVersusPresent(t *testing.T) {
	req, err := ParseRequest("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	require.NoError(t, err)
	assert.False(t, req.HasBody)

	req, err = ParseRequest("GET / HTTP/1.1\r\nHost: a\r\n")
	require.NoError(t, err)
	assert.False(t, req.HasBody)
	v, _ := req.Header.Get("Host")
	assert.Equal(t, "a", v)

	// missing Content-Length is accepted on parse
	req, err = ParseRequest("PUT /f HTTP/1.1\r\n\r\nhello")
	require.NoError(t, err)
	assert.True(t, req.HasBody)
	assert.Equal(t, "hello", req.Body)
}

func TestParseHeaderSplitsAtFirstDelimiter(t *testing.T) {
	req, err := ParseRequest("GET / HTTP/1.1\r\nX-Note: a: b: c\r\n\r\n")
	require.NoError(t, err)
	v, ok := req.Header.Get("X-Note")
	require.True(t, ok)
	assert.Equal(t, "a: b: c", v)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "two tokens", raw: "GET /\r\n\r\n"},
		{name: "bad version", raw: "GET / FTP/1.0\r\n\r\n"},
		{name: "header without delimiter", raw: "GET / HTTP/1.1\r\nHost\r\n\r\n"},
		{name: "duplicate header", raw: "GET / HTTP/1.1\r\nA: 1\r\nA: 2\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse("HTTP/1.1 404 Not Found\r\nContent-Type: application/json\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Not Found", resp.Reason)
	assert.False(t, resp.OK())

	_, err = ParseResponse("HTTP/1.1 abc OK\r\n\r\n")
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestClockHeader(t *testing.T) {
	req := NewRequest("GET", "/")
	clock, err := Clock(req)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), clock)

	req.SetHeader("Lamport-Clock", "-3")
	_, err = Clock(req)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		uri      string
		expected string
		ok       bool
	}{
		{uri: "/", expected: "", ok: false},
		{uri: "/A0", expected: "A0", ok: true},
		{uri: "/data/Adelaide.txt", expected: "data/Adelaide.txt", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, ok := NewRequest("GET", tt.uri).Endpoint()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReadRawFramesStream(t *testing.T) {
	first := NewRequest("PUT", "/a.txt").SetBody("line one\r\n\r\nline two")
	second := NewRequest("GET", "/A0")
	stream := bufio.NewReader(strings.NewReader("\r\n" + first.String() + second.String()))

	got, err := ReadRequest(stream)
	require.NoError(t, err)
	assert.Equal(t, "line one\r\n\r\nline two", got.Body)

	got, err = ReadRequest(stream)
	require.NoError(t, err)
	assert.Equal(t, "/A0", got.URI)
	assert.False(t, got.HasBody)

	_, err = ReadRequest(stream)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadRawTruncated(t *testing.T) {
	stream := bufio.NewReader(strings.NewReader("PUT /a HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"))
	_, err := ReadRaw(stream)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	stream = bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost: a"))
	_, err = ReadRaw(stream)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadRawRejectsBadContentLength(t *testing.T) {
	stream := bufio.NewReader(strings.NewReader("PUT /a HTTP/1.1\r\nContent-Length: x\r\n\r\n"))
	_, err := ReadRaw(stream)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestReadRawResyncsAfterBadContentLength(t *testing.T) {
	stream := bufio.NewReader(strings.NewReader(
		"GET /A0 HTTP/1.1\r\nContent-Length: abc\r\nLamport-Clock: 1\r\n\r\n" +
			"GET / HTTP/1.1\r\nLamport-Clock: 2\r\n\r\n"))

	_, err := ReadRaw(stream)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	req, err := ReadRequest(stream)
	require.NoError(t, err)
	assert.Equal(t, "/", req.URI)
	clock, _ := req.Header.Get("Lamport-Clock")
	assert.Equal(t, "2", clock)
}

func TestReadRawResyncsAfterOversizedHead(t *testing.T) {
	huge := "X-Pad: " + strings.Repeat("a", MaxHeadBytes) + "\r\n"
	stream := bufio.NewReader(strings.NewReader(
		"GET /A0 HTTP/1.1\r\n" + huge + "\r\nGET / HTTP/1.1\r\n\r\n"))

	_, err := ReadRaw(stream)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	req, err := ReadRequest(stream)
	require.NoError(t, err)
	assert.Equal(t, "/", req.URI)
}

func TestHeaderSetKeepsFirstPosition(t *testing.T) {
	var h Header
	h.Set("A", "1")
	h.Set("B", "2")
	h.Set("A", "3")
	assert.Equal(t, []string{"A", "B"}, h.Names())
	v, _ := h.Get("A")
	assert.Equal(t, "3", v)
	assert.Equal(t, 2, h.Len())
}

func TestNewStatusResponse(t *testing.T) {
	resp := NewStatusResponse(StatusNotFound, "The requested station ID is not on server")
	assert.Equal(t, "Not Found", resp.Reason)
	ct, _ := resp.Header.Get(ContentType)
	assert.Equal(t, JSONContentType, ct)
	assert.Equal(t, `{"404":"Not Found","Message":"The requested station ID is not on server"}`, resp.Body)
	assert.Contains(t, resp.String(), "Content-Length: ")
}
