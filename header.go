package wsproto

import "strings"

// Header is an HTTP header map for the handshake request and response. It
// preserves the case a key was first added with (Set overwrites it) but
// looks names up case insensitively, and folds repeated header values in arrival order with a
// ", " separator rather than overwriting them.
type Header struct {
	// keys maps a lower-cased header name to the case as first stored.
	keys   map[string]string
	values map[string][]string
}

// NewHeader returns an empty Header ready for use.
func NewHeader() *Header {
	return &Header{
		keys:   make(map[string]string),
		values: make(map[string][]string),
	}
}

func foldKey(name string) string { return strings.ToLower(name) }

// Add appends a value for name, folding it into any existing values in
// arrival order. The case of name on first use is what Names reports.
func (h *Header) Add(name, value string) {
	fk := foldKey(name)
	if _, ok := h.keys[fk]; !ok {
		h.keys[fk] = name
	}
	h.values[fk] = append(h.values[fk], value)
}

// Set replaces any existing values for name with a single value and stores
// name in the case given here.
func (h *Header) Set(name, value string) {
	fk := foldKey(name)
	h.keys[fk] = name
	h.values[fk] = []string{value}
}

// Get returns the folded value for name ("v1, v2" in arrival order), or ""
// if name has no value.
func (h *Header) Get(name string) string {
	vs := h.values[foldKey(name)]
	if len(vs) == 0 {
		return ""
	}
	return strings.Join(vs, ", ")
}

// Values returns the raw, unfolded values for name in arrival order.
func (h *Header) Values(name string) []string {
	return h.values[foldKey(name)]
}

// Has reports whether name currently has a value; it is false after Del.
func (h *Header) Has(name string) bool {
	_, ok := h.values[foldKey(name)]
	return ok
}

// Del removes name entirely.
func (h *Header) Del(name string) {
	fk := foldKey(name)
	delete(h.keys, fk)
	delete(h.values, fk)
}

// Names returns the header names in their first-seen case, unordered.
func (h *Header) Names() []string {
	names := make([]string, 0, len(h.keys))
	for _, k := range h.keys {
		names = append(names, k)
	}
	return names
}

// ContainsToken reports whether the comma-separated, OWS-trimmed token list
// in name's folded value contains token, compared ASCII case-insensitively.
// This implements the Connection-header "contains the token upgrade" check
// and subprotocol/extension membership checks.
func (h *Header) ContainsToken(name, token string) bool {
	for _, t := range splitTokens(h.Get(name)) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

// splitTokens splits a comma-separated header value into OWS-trimmed,
// non-empty tokens, preserving arrival order.
func splitTokens(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
