package statehash

// Deterministic state fingerprinting. The client mirror and the server-side
// evaluator both hash the canonical form of the state mapping; equal digests
// witness structural equality, so the canonicalization here is a wire
// contract shared by both ends:
//
//   - top-level keys in the mapping's insertion order (never sorted)
//   - nested object keys sorted lexicographically at every depth
//   - no insignificant whitespace
//   - numbers in shortest round-trip form, strings as raw UTF-8 (no HTML
//     escaping)
//
// The digest is sha256 over the canonical bytes, lowercase hex.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/enginelink/enginelink/pkg/statepatch"
)

// Fingerprint returns the digest of s. An empty mapping hashes the literal
// bytes "{}".
func Fingerprint(s *statepatch.State) string {
	sum := sha256.Sum256(Canonical(s))
	return hex.EncodeToString(sum[:])
}

// Canonical returns the canonical byte form of s.
func Canonical(s *statepatch.State) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, k)
		buf.WriteByte(':')
		v, _ := s.Get(k)
		writeValue(&buf, v)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			writeValue(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, e)
		}
		buf.WriteByte(']')
	default:
		// scalars outside the decoded-JSON set (float64, ints from callers
		// that build values in code). encoding/json emits shortest
		// round-trip forms for floats.
		b, err := json.Marshal(t)
		if err != nil {
			writeString(buf, fmt.Sprintf("!unhashable:%T", t))
			return
		}
		buf.Write(b)
	}
}

// writeString emits a JSON string without HTML escaping. encoding/json
// escapes <, >, & and U+2028/U+2029 by default, which would make the
// canonical bytes differ from other implementations of this contract.
func writeString(buf *bytes.Buffer, s string) {
	var scratch bytes.Buffer
	enc := json.NewEncoder(&scratch)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		buf.WriteString(`""`)
		return
	}
	b := scratch.Bytes()
	// Encode appends a newline
	buf.Write(bytes.TrimRight(b, "\n"))
}
