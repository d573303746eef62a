// Package document holds JSON objects whose key order survives a load/flush
// round trip. Decks, deck configurations and note types are stored this way
// in the collection row; typed views are built on top by their registries.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tailscale/hujson"
)

// ErrNotObject is returned when a document source is not a JSON object.
var ErrNotObject = errors.New("document is not a JSON object")

// Document is an ordered set of keys mapped to raw JSON values.
type Document struct {
	keys   []string
	values map[string]json.RawMessage
}

// New returns an empty document.
func New() *Document {
	return &Document{values: make(map[string]json.RawMessage)}
}

// Parse reads a JSON object, keeping the order its keys appear in.
func Parse(b []byte) (*Document, error) {
	v, err := hujson.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	v.Standardize()
	v.Minimize()

	obj, ok := v.Value.(*hujson.Object)
	if !ok {
		return nil, ErrNotObject
	}

	d := New()
	for _, m := range obj.Members {
		name, ok := m.Name.Value.(hujson.Literal)
		if !ok {
			return nil, fmt.Errorf("parse document: member name is not a literal")
		}
		raw := m.Value.Pack()
		d.put(name.String(), append(json.RawMessage(nil), raw...))
	}
	return d, nil
}

// MustParse is Parse for built-in templates; it panics on malformed input.
func MustParse(s string) *Document {
	d, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) put(key string, raw json.RawMessage) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = raw
}

// Keys returns the keys in document order.
func (d *Document) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len is the number of keys.
func (d *Document) Len() int { return len(d.keys) }

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Raw returns the stored JSON for key.
func (d *Document) Raw(key string) (json.RawMessage, bool) {
	raw, ok := d.values[key]
	return raw, ok
}

// Set stores v under key. Existing keys keep their position.
func (d *Document) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	d.put(key, raw)
	return nil
}

// SetRaw stores already-encoded JSON under key.
func (d *Document) SetRaw(key string, raw json.RawMessage) {
	d.put(key, append(json.RawMessage(nil), raw...))
}

// Delete removes key.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Decode unmarshals the value under key into dst.
func (d *Document) Decode(key string, dst any) error {
	raw, ok := d.values[key]
	if !ok {
		return fmt.Errorf("decode %q: %w", key, ErrMissingKey)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// ErrMissingKey is returned by Decode and Get for an absent key.
var ErrMissingKey = errors.New("missing key")

// Get decodes the value under key as T.
func Get[T any](d *Document, key string) (T, error) {
	var v T
	err := d.Decode(key, &v)
	return v, err
}

// Lookup decodes key as T, returning def when the key is absent or null.
func Lookup[T any](d *Document, key string, def T) (T, error) {
	raw, ok := d.values[key]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return def, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("decode %q: %w", key, err)
	}
	return v, nil
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := &Document{
		keys:   make([]string, len(d.keys)),
		values: make(map[string]json.RawMessage, len(d.values)),
	}
	copy(c.keys, d.keys)
	for k, v := range d.values {
		c.values[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// MarshalJSON writes the keys in document order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(d.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the document with the parsed object.
func (d *Document) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}
