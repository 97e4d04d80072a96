package message

// Header is an insertion-ordered set of message headers. Names are case
// sensitive and unique: setting an existing name replaces its value in
// place. The zero value is an empty header ready to use.
type Header struct {
	names  []string
	values map[string]string
}

// Set stores value under name. A new name is appended after the existing
// ones; an existing name keeps its position.
func (h *Header) Set(name, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, exists := h.values[name]; !exists {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

// Get returns the value stored under name.
func (h *Header) Get(name string) (string, bool) {
	v, ok := h.values[name]
	return v, ok
}

// Names returns the header names in insertion order.
func (h *Header) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// Len returns the number of headers.
func (h *Header) Len() int {
	return len(h.names)
}

// add inserts a header read off the wire, rejecting duplicates.
func (h *Header) add(name, value string) bool {
	if _, exists := h.values[name]; exists {
		return false
	}
	h.Set(name, value)
	return true
}
