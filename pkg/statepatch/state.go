package statepatch

// Ordered string-keyed state mapping shared by the client session mirror and
// the server-side evaluator. Insertion order is significant: top-level
// fingerprinting iterates keys in the order they first appeared, so this type
// never reorders existing keys. Updating a key keeps its position; deleting
// and re-inserting moves it to the end.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotObject = errors.New("statepatch: not a JSON object")

// State is an insertion-ordered mapping from string key to a decoded JSON
// value (nil, bool, float64, string, []any, map[string]any). Not safe for
// concurrent use.
type State struct {
	keys   []string
	values map[string]any
}

func New() *State {
	return &State{values: make(map[string]any)}
}

// Set upserts k to v. New keys append; existing keys keep their position.
// v is deep-copied so the state never aliases caller-owned trees.
func (s *State) Set(k string, v any) {
	if _, ok := s.values[k]; !ok {
		s.keys = append(s.keys, k)
	}
	s.values[k] = deepCopy(v)
}

// Delete removes k if present. Absent keys are ignored.
func (s *State) Delete(k string) {
	if _, ok := s.values[k]; !ok {
		return
	}
	delete(s.values, k)
	for i, key := range s.keys {
		if key == k {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

func (s *State) Get(k string) (any, bool) {
	v, ok := s.values[k]
	return v, ok
}

func (s *State) Len() int { return len(s.keys) }

// Keys returns the keys in insertion order. The slice is a copy.
func (s *State) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Clear removes every entry.
func (s *State) Clear() {
	s.keys = s.keys[:0]
	s.values = make(map[string]any)
}

// Clone returns an independent deep copy preserving key order.
func (s *State) Clone() *State {
	out := New()
	for _, k := range s.keys {
		out.Set(k, s.values[k])
	}
	return out
}

// MarshalJSON renders the state as a JSON object in insertion order.
func (s *State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseObject decodes a JSON object into a State, preserving the key order
// of the document. Duplicate keys follow last-wins semantics without moving
// the key's original position.
func ParseObject(data []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("statepatch: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	st := New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("statepatch: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, ErrNotObject
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("statepatch: key %q: %w", key, err)
		}
		st.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("statepatch: %w", err)
	}
	return st, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		// scalars are immutable
		return v
	}
}
