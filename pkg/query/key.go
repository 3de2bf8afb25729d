package query

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Key identifies a cache entry. Two keys holding the same sequence of
// primitive values address the same entry.
type Key []any

// NewKey builds a key from parts.
func NewKey(parts ...any) Key {
	return Key(parts)
}

// KeyFromPath splits a REST path into segments so that invalidating a path
// prefix reaches every view under it. A query string, when present, becomes
// the last segment.
func KeyFromPath(path string) Key {
	raw := strings.TrimSpace(path)
	query := ""
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		query = raw[idx+1:]
		raw = raw[:idx]
	}

	var key Key
	for _, segment := range strings.Split(raw, "/") {
		if segment == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(segment); err == nil {
			segment = unescaped
		}
		key = append(key, segment)
	}
	if query != "" {
		if values, err := url.ParseQuery(query); err == nil {
			query = values.Encode()
		}
		key = append(key, "?"+query)
	}
	return key
}

// Append returns a new key with parts added.
func (k Key) Append(parts ...any) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

// String is the canonical form used for identity.
func (k Key) String() string {
	encoded, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprintf("%v", []any(k))
	}
	return string(encoded)
}

// Equal reports structural equality.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

// HasPrefix reports whether k starts with prefix. An empty prefix matches
// every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if part(prefix[i]) != part(k[i]) {
			return false
		}
	}
	return true
}

func part(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}
