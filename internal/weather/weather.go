// Package weather converts flat weather observation files into the
// JSON-like body carried by PUT requests, and decodes such bodies back into
// per-station records.
//
// An observation file is a sequence of "key:value" lines. Every "id" line
// starts a new station:
//
//	id:A0
//	lat:10
//	lon:20.2
//	wind_spd_kt:0x00f
//
// The body form quotes keys and non-numeric values, one field per line:
//
//	{
//	"id": "A0",
//	"lat": 10,
//	"lon": 20.2,
//	"wind_spd_kt": "0x00f"
//	}
package weather

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMissingID is returned when a field appears before any "id" line.
	ErrMissingID = errors.New("field before station id")
	// ErrMalformedLine is returned for lines that are not key/value pairs.
	ErrMalformedLine = errors.New("malformed line")
)

const idKey = "id"

var numberPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// Field is one key with its value already formatted for the body: numbers
// bare, everything else quoted.
type Field struct {
	Key   string
	Value string
}

func (f Field) String() string {
	return strconv.Quote(f.Key) + ": " + f.Value
}

// Station is one observation, fields in file order with "id" first.
type Station struct {
	ID     string
	Fields []Field
}

// Record returns the station's flat record: its fields joined by ",\n"
// without surrounding braces.
func (s Station) Record() string {
	lines := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		lines[i] = f.String()
	}
	return strings.Join(lines, ",\n")
}

// Document is an ordered list of stations.
type Document struct {
	Stations []Station
}

// String returns the body form of the document.
func (d *Document) String() string {
	if len(d.Stations) == 0 {
		return "{}"
	}
	records := make([]string, len(d.Stations))
	for i, s := range d.Stations {
		records[i] = s.Record()
	}
	return "{\n" + strings.Join(records, ",\n") + "\n}"
}

// ParseFile reads an observation file.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse reads "key:value" lines. Values are split at the first colon so
// they may contain further colons.
func Parse(r io.Reader) (*Document, error) {
	b := &builder{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: %w: %q", lineNo, ErrMalformedLine, line)
		}
		if err := b.add(key, formatValue(value)); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.doc(), nil
}

// Decode parses a body produced by Document.String.
func Decode(body string) (*Document, error) {
	b := &builder{}
	for i, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if strings.Trim(line, "{}") == "" {
			continue
		}
		line = strings.TrimSuffix(line, ",")
		quotedKey, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("line %d: %w: %q", i+1, ErrMalformedLine, line)
		}
		key, err := strconv.Unquote(quotedKey)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: key %s", i+1, ErrMalformedLine, quotedKey)
		}
		if err := b.add(key, strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return b.doc(), nil
}

// formatValue renders a raw file value as a body token.
func formatValue(raw string) string {
	v := strings.TrimSpace(raw)
	if unquoted, err := strconv.Unquote(v); err == nil {
		v = unquoted
	}
	if numberPattern.MatchString(v) {
		return v
	}
	return strconv.Quote(v)
}

type builder struct {
	stations []Station
}

func (b *builder) add(key, value string) error {
	if key == idKey {
		id := value
		if unquoted, err := strconv.Unquote(value); err == nil {
			id = unquoted
		}
		b.stations = append(b.stations, Station{ID: id})
	}
	if len(b.stations) == 0 {
		return fmt.Errorf("%w: %q", ErrMissingID, key)
	}
	s := &b.stations[len(b.stations)-1]
	s.Fields = append(s.Fields, Field{Key: key, Value: value})
	return nil
}

func (b *builder) doc() *Document {
	return &Document{Stations: b.stations}
}
