package statepatch

// Patch application. Two wire encodings are accepted:
//
//   object form:  {"set": [[k,v], ...], "remove": [k, ...]}
//   array form:   [[k,v], ...]  where a JSON null value deletes k
//
// Object form applies every set pair in order, then every remove in order.
// Entries that are not two-element arrays are skipped, not rejected; the
// encodings are long-lived wire compatibility surfaces and tolerate noise.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBadPatch = errors.New("statepatch: malformed patch")

type objectPatch struct {
	Set    []json.RawMessage `json:"set"`
	Remove []string          `json:"remove"`
}

// Apply mutates s according to raw. A nil, empty, or JSON-null patch is a
// no-op. Values land in s as freshly decoded trees; the patch bytes can be
// reused or mutated by the caller afterwards.
func Apply(s *State, raw json.RawMessage) error {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}

	switch body[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(body, &entries); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPatch, err)
		}
		for _, e := range entries {
			k, v, null, ok := decodePair(e)
			if !ok {
				continue
			}
			if null {
				s.Delete(k)
			} else {
				s.Set(k, v)
			}
		}
		return nil

	case '{':
		var p objectPatch
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPatch, err)
		}
		for _, e := range p.Set {
			k, v, _, ok := decodePair(e)
			if !ok {
				continue
			}
			// object form stores null as a value; only the array form
			// treats null as deletion
			s.Set(k, v)
		}
		for _, k := range p.Remove {
			s.Delete(k)
		}
		return nil
	}

	return fmt.Errorf("%w: expected array or object", ErrBadPatch)
}

// decodePair decodes a [key, value] entry. ok is false for entries that are
// not two-element arrays with a string key; null reports a JSON-null value.
func decodePair(e json.RawMessage) (key string, val any, null bool, ok bool) {
	var parts []json.RawMessage
	if err := json.Unmarshal(e, &parts); err != nil || len(parts) != 2 {
		return "", nil, false, false
	}
	if err := json.Unmarshal(parts[0], &key); err != nil {
		return "", nil, false, false
	}
	v := bytes.TrimSpace(parts[1])
	if bytes.Equal(v, []byte("null")) {
		return key, nil, true, true
	}
	var decoded any
	if err := json.Unmarshal(v, &decoded); err != nil {
		return "", nil, false, false
	}
	return key, decoded, false, true
}
