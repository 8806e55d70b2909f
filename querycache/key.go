package querycache

import (
	"fmt"
	"strings"
)

// Key identifies a cache entry. The first part is the family ("tasks",
// "task", "projects", ...); the remaining parts narrow it down.
type Key []string

// NewKey builds a key from its parts. Empty parts are dropped so that an
// unset filter yields the bare family key.
func NewKey(parts ...any) Key {
	k := make(Key, 0, len(parts))
	for _, p := range parts {
		s := fmt.Sprint(p)
		if s == "" {
			continue
		}
		k = append(k, s)
	}
	return k
}

func (k Key) String() string { return strings.Join(k, ":") }

// Family is the first part of the key.
func (k Key) Family() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// Matches reports whether k falls under pattern: every part of pattern
// equals the part of k at the same position. An empty pattern matches all.
func (k Key) Matches(pattern Key) bool {
	if len(pattern) > len(k) {
		return false
	}
	for i, p := range pattern {
		if k[i] != p {
			return false
		}
	}
	return true
}
