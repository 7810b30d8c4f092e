package bitrix

import (
	"bytes"
	"encoding/json"
)

// Operator is a Bitrix24 filter comparison prefix.
type Operator string

const (
	// OpEqual matches the value exactly.
	OpEqual Operator = "="

	// OpGreaterOrEqual matches values >= the given value.
	OpGreaterOrEqual Operator = ">="

	// OpLessOrEqual matches values <= the given value.
	OpLessOrEqual Operator = "<="
)

// FilterEntry is a single key/value pair of a Filter.
type FilterEntry struct {
	Key   string
	Value any
}

// Filter is an ordered field filter for list methods such as crm.item.list.
// Keys are either a bare field name or an operator prefix followed by the field
// name (e.g. ">=createdTime"). Entries serialize as a JSON object in insertion order.
type Filter struct {
	entries []FilterEntry
}

// Set adds or replaces the entry for key. Replacing keeps the original position.
func (f *Filter) Set(key string, value any) {
	for i := range f.entries {
		if f.entries[i].Key == key {
			f.entries[i].Value = value
			return
		}
	}
	f.entries = append(f.entries, FilterEntry{Key: key, Value: value})
}

// Where adds a condition on field using op.
func (f *Filter) Where(op Operator, field string, value any) {
	f.Set(string(op)+field, value)
}

// Get returns the value stored under key.
func (f Filter) Get(key string) (any, bool) {
	for _, e := range f.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (f Filter) Len() int {
	return len(f.entries)
}

// Entries returns a copy of the entries in insertion order.
func (f Filter) Entries() []FilterEntry {
	out := make([]FilterEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

// MarshalJSON encodes the filter as an object, preserving entry order.
// An empty filter encodes as {}.
func (f Filter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range f.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeJSON(e.Key)
		if err != nil {
			return nil, err
		}
		value, err := encodeJSON(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeJSON marshals v without HTML escaping so operator prefixes such as
// ">=" stay readable on the wire and in logs.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
