package ipn

import "strings"

// segment is one '&'-separated piece of the body, kept exactly as received.
type segment struct {
	rawKey   string
	rawValue string
	hasValue bool

	key   string
	value string
}

func (s segment) empty() bool {
	return s.rawKey == "" && !s.hasValue
}

// RawNotification is an IPN body as an ordered list of raw key/value pairs.
// Order, duplicates and percent-encoding are preserved so that Encode
// reproduces the received body byte for byte.
type RawNotification struct {
	segments []segment
}

// Encode returns the body exactly as it was received.
func (r RawNotification) Encode() string {
	var b strings.Builder
	for i, s := range r.segments {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(s.rawKey)
		if s.hasValue {
			b.WriteByte('=')
			b.WriteString(s.rawValue)
		}
	}
	return b.String()
}

// Get returns the first decoded value for key.
func (r RawNotification) Get(key string) (string, bool) {
	for _, s := range r.segments {
		if !s.empty() && s.key == key {
			return s.value, true
		}
	}
	return "", false
}

// Value returns the first decoded value for key, or "".
func (r RawNotification) Value(key string) string {
	v, _ := r.Get(key)
	return v
}

// Values returns every decoded value for key in received order.
func (r RawNotification) Values(key string) []string {
	var values []string
	for _, s := range r.segments {
		if !s.empty() && s.key == key {
			values = append(values, s.value)
		}
	}
	return values
}

// Pairs returns the decoded pairs in received order, skipping empty segments.
func (r RawNotification) Pairs() [][2]string {
	pairs := make([][2]string, 0, len(r.segments))
	for _, s := range r.segments {
		if s.empty() {
			continue
		}
		pairs = append(pairs, [2]string{s.key, s.value})
	}
	return pairs
}

// Len returns the number of non-empty pairs.
func (r RawNotification) Len() int {
	n := 0
	for _, s := range r.segments {
		if !s.empty() {
			n++
		}
	}
	return n
}
