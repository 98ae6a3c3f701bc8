package pairkey

import "strings"

// Key is the canonical, order-independent identifier for two users.
// It is the sole addressing scheme for quota ledger rows and for the
// "at most one open session per pair" lookup, so a call from A to B and a
// call from B to A always land on the same row.
//
// The encoded form is "<lo>:<hi>" where lo <= hi lexicographically.
type Key string

const sep = ":"

// Normalize derives the canonical key for two user ids.
// Pure function: Normalize(a, b) == Normalize(b, a) for all a, b.
func Normalize(a, b string) Key {
	if strings.Compare(a, b) <= 0 {
		return Key(a + sep + b)
	}
	return Key(b + sep + a)
}

// Low returns the lexicographically smaller user id.
func (k Key) Low() string {
	lo, _ := k.split()
	return lo
}

// High returns the lexicographically larger user id.
func (k Key) High() string {
	_, hi := k.split()
	return hi
}

// Other returns the counterpart of id within the pair, or "" when id is not
// part of the pair.
func (k Key) Other(id string) string {
	lo, hi := k.split()
	switch id {
	case lo:
		return hi
	case hi:
		return lo
	default:
		return ""
	}
}

// Contains reports whether id is one of the pair's members.
func (k Key) Contains(id string) bool {
	lo, hi := k.split()
	return id == lo || id == hi
}

func (k Key) String() string { return string(k) }

func (k Key) split() (string, string) {
	s := string(k)
	i := strings.Index(s, sep)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
