package message

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// MaxHeadBytes bounds the start line plus header block.
	MaxHeadBytes = 64 << 10
	// MaxBodyBytes bounds a single message body.
	MaxBodyBytes = 16 << 20
)

// ReadRaw reads one complete message from r and returns it verbatim.
// The head ends at the first blank line; when a Content-Length header is
// present exactly that many body bytes follow. io.EOF is returned only
// when the stream ends cleanly before the first byte of a message.
//
// A head that is too large or carries a bad Content-Length is still read
// through its blank line before ErrMalformedMessage is returned, so the
// next call starts at the following message.
func ReadRaw(r *bufio.Reader) (string, error) {
	var head strings.Builder
	var framingErr error
	length := -1
	first := true

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if first && line == "" {
					return "", io.EOF
				}
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if framingErr == nil {
			head.WriteString(line)
			if head.Len() > MaxHeadBytes {
				framingErr = fmt.Errorf("%w: head exceeds %d bytes", ErrMalformedMessage, MaxHeadBytes)
			}
		}
		if line == crlf {
			if first {
				// stray blank line between messages
				head.Reset()
				continue
			}
			break
		}
		first = false

		if name, value, ok := strings.Cut(strings.TrimSuffix(line, crlf), headerDelimiter); ok && name == ContentLength {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 || n > MaxBodyBytes {
				if framingErr == nil {
					framingErr = fmt.Errorf("%w: bad %s %q", ErrMalformedMessage, ContentLength, value)
				}
				continue
			}
			length = n
		}
	}
	if framingErr != nil {
		return "", framingErr
	}

	if length <= 0 {
		return head.String(), nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return head.String() + string(body), nil
}

// ReadRequest reads and parses one request from r.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	raw, err := ReadRaw(r)
	if err != nil {
		return nil, err
	}
	return ParseRequest(raw)
}

// ReadResponse reads and parses one response from r.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	raw, err := ReadRaw(r)
	if err != nil {
		return nil, err
	}
	return ParseResponse(raw)
}
