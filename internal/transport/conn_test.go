package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stratus/internal/lamport"
	"github.com/dreamware/stratus/internal/message"
)

func TestConnStampsAndMerges(t *testing.T) {
	a, b := net.Pipe()
	clientClock := lamport.New()
	serverClock := lamport.New()
	client := New(a, clientClock)
	server := New(b, serverClock)
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.WriteMessage(message.NewRequest("GET", "/A0"))
	}()

	req, err := server.ReadRequest()
	require.NoError(t, err)
	sent, err := message.Clock(req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(2), serverClock.Now())

	go func() {
		_ = server.WriteMessage(message.NewResponse(message.StatusNotFound))
	}()

	resp, err := client.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, message.StatusNotFound, resp.StatusCode)
	// server stamped 3, client merges to max(1,3)+1
	assert.Equal(t, uint64(4), clientClock.Now())
}

func TestConnNilClockIsVerbatim(t *testing.T) {
	a, b := net.Pipe()
	sender := New(a, nil)
	receiver := New(b, nil)
	defer sender.Close()
	defer receiver.Close()

	raw := "GET / HTTP/1.1\r\nLamport-Clock: 42\r\n\r\n"
	go func() {
		_ = sender.WriteRaw(raw)
	}()

	got, err := receiver.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestConnRejectsBadClockHeader(t *testing.T) {
	a, b := net.Pipe()
	sender := New(a, nil)
	receiver := New(b, lamport.New())
	defer sender.Close()
	defer receiver.Close()

	go func() {
		_ = sender.WriteRaw("GET / HTTP/1.1\r\nLamport-Clock: soon\r\n\r\n")
	}()

	_, err := receiver.ReadRequest()
	assert.ErrorIs(t, err, message.ErrMalformedMessage)
}

func TestRemoteIP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	server := New(<-accepted, nil)
	defer server.Close()
	assert.Equal(t, "127.0.0.1", server.RemoteIP())
}
