package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MaxKeyLength is the maximum length of a key's canonical form.
const MaxKeyLength = 512

// Key identifies a query. The first segment is the entity root ("invoices",
// "tasks"); following segments narrow it ("detail", an id, a filter map).
//
// Keys are compared by their canonical JSON form, so map segments with the
// same content match regardless of construction order.
type Key []any

// NewKey builds a key from a root and further segments.
func NewKey(root string, parts ...any) Key {
	k := make(Key, 0, len(parts)+1)
	k = append(k, root)
	return append(k, parts...)
}

// ParseKey decodes a key from its canonical JSON form.
func ParseKey(s string) (Key, error) {
	var k Key
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return k, nil
}

// String returns the canonical JSON form of the key.
func (k Key) String() string {
	b, err := canonicalize([]any(k))
	if err != nil {
		return fmt.Sprintf("%v", []any(k))
	}
	return string(b)
}

// Hash returns the first 16 hex characters of SHA-256 over the canonical form.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:8])
}

// Root returns the first segment when it is a string.
func (k Key) Root() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// Segments returns the canonical form of each segment. String segments are
// returned unquoted.
func (k Key) Segments() []string {
	out := make([]string, len(k))
	for i, seg := range k {
		if s, ok := seg.(string); ok {
			out[i] = s
			continue
		}
		b, err := canonicalize(seg)
		if err != nil {
			out[i] = fmt.Sprintf("%v", seg)
			continue
		}
		out[i] = string(b)
	}
	return out
}

// HasPrefix reports whether every segment of prefix equals the segment of k
// at the same position. An empty prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return hasSegmentPrefix(k.canonicalSegments(), prefix.canonicalSegments())
}

// canonicalSegments is like Segments but keeps strings quoted, so the string
// "1" and the number 1 stay distinct.
func (k Key) canonicalSegments() []string {
	out := make([]string, len(k))
	for i, seg := range k {
		b, err := canonicalize(seg)
		if err != nil {
			out[i] = fmt.Sprintf("%v", seg)
			continue
		}
		out[i] = string(b)
	}
	return out
}

func hasSegmentPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both keys have the same canonical form.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

// Validate checks that the key can be stored.
func (k Key) Validate() error {
	if len(k) == 0 {
		return ErrInvalidKey
	}
	if strings.TrimSpace(k.Root()) == "" {
		return fmt.Errorf("%w: first segment must be a non-empty string", ErrInvalidKey)
	}
	canonical, err := canonicalize([]any(k))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(canonical) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(string(canonical), "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// canonicalize produces deterministic JSON: map keys sorted at every level.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case Key:
		return canonicalizeSlice([]any(val))
	case map[string]any:
		return canonicalizeMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return canonicalizeMap(m)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte("{")
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, kb...)
		out = append(out, ':')

		vb, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, vb...)
	}
	return append(out, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	out := []byte("[")
	for i, v := range s {
		if i > 0 {
			out = append(out, ',')
		}
		vb, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, vb...)
	}
	return append(out, ']'), nil
}
