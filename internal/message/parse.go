package message

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRequest parses a complete request in wire format.
func ParseRequest(raw string) (*Request, error) {
	lines, body, hasBody := splitMessage(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrMalformedMessage)
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedMessage, lines[0])
	}
	version, err := parseVersion(fields[2])
	if err != nil {
		return nil, err
	}
	req := &Request{
		Method:  fields[0],
		URI:     fields[1],
		Version: version,
		Body:    body,
		HasBody: hasBody,
	}
	if err := parseHeaders(&req.Header, lines[1:]); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseResponse parses a complete response in wire format.
func ParseResponse(raw string) (*Response, error) {
	lines, body, hasBody := splitMessage(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedMessage)
	}
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedMessage, lines[0])
	}
	version, err := parseVersion(parts[0])
	if err != nil {
		return nil, err
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformedMessage, parts[1])
	}
	resp := &Response{
		Version:    version,
		StatusCode: code,
		Body:       body,
		HasBody:    hasBody,
	}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}
	if err := parseHeaders(&resp.Header, lines[1:]); err != nil {
		return nil, err
	}
	return resp, nil
}

// splitMessage separates the head lines from the body. The body is
// everything after the first blank line and is absent when nothing follows.
func splitMessage(raw string) (lines []string, body string, hasBody bool) {
	head := raw
	if i := strings.Index(raw, crlf+crlf); i >= 0 {
		head = raw[:i]
		body = raw[i+2*len(crlf):]
		hasBody = body != ""
	} else {
		head = strings.TrimSuffix(raw, crlf)
	}
	if head == "" {
		return nil, body, hasBody
	}
	return strings.Split(head, crlf), body, hasBody
}

func parseVersion(token string) (string, error) {
	version, ok := strings.CutPrefix(token, "HTTP/")
	if !ok || version == "" {
		return "", fmt.Errorf("%w: version %q", ErrMalformedMessage, token)
	}
	return version, nil
}

func parseHeaders(h *Header, lines []string) error {
	for _, line := range lines {
		name, value, ok := strings.Cut(line, headerDelimiter)
		if !ok || name == "" {
			return fmt.Errorf("%w: header line %q", ErrMalformedMessage, line)
		}
		if !h.add(name, value) {
			return fmt.Errorf("%w: duplicate header %q", ErrMalformedMessage, name)
		}
	}
	return nil
}
