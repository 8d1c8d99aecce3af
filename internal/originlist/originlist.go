// Package originlist implements the proxyTargets cookie as a small typed
// state machine: an ordered list of origins, JSON-encoded, with the
// mutation rules the resolver applies after each dispatch.
package originlist

import (
	"encoding/json"
	"errors"
)

// ErrMalformed is returned by Decode when the cookie value is not a valid
// JSON array of strings. Callers treat this the same as an absent cookie.
var ErrMalformed = errors.New("originlist: malformed proxyTargets cookie")

// List is an ordered sequence of origin strings (scheme://host[:port]).
// Index 0 is the most recently successful origin. Equality of origins is
// string-exact; no normalisation is performed here or anywhere upstream.
type List []string

// Decode parses a proxyTargets cookie value (a JSON array of strings).
// An empty input decodes to an empty, non-nil List. Malformed input
// returns ErrMalformed and an empty List — callers fall back to treating
// the cookie as absent rather than failing the request.
func Decode(raw string) (List, error) {
	if raw == "" {
		return List{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return List{}, ErrMalformed
	}
	// Drop leading empty entries per the invariant in spec.md §3.
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	return List(out), nil
}

// Encode serialises the list back to its JSON-array cookie form.
func Encode(l List) string {
	if l == nil {
		l = List{}
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		// []string can never fail to marshal; this is unreachable.
		return "[]"
	}
	return string(b)
}

// IndexOf returns the first index of origin in l, skipping nothing —
// duplicates are tolerated on read (spec.md §3) but the first occurrence
// is what resolution and fallback use.
func (l List) IndexOf(origin string) int {
	for i, o := range l {
		if o == origin {
			return i
		}
	}
	return -1
}

// Truncate discards entries [0, k) and returns the remainder. Used when
// the response returned to the client came from index k>0 with a 2xx
// status (spec.md §4.1, invariant IP5).
func (l List) Truncate(k int) List {
	if k <= 0 || k > len(l) {
		return l
	}
	out := make(List, len(l)-k)
	copy(out, l[k:])
	return out
}

// Prepend adds origin to the front of the list unless it is already there.
// Used when a GET resolved outside the cookie list (index -1) succeeds
// with an HTML response and the list's current head differs from origin.
func (l List) Prepend(origin string) List {
	if len(l) > 0 && l[0] == origin {
		return l
	}
	out := make(List, 0, len(l)+1)
	out = append(out, origin)
	out = append(out, l...)
	return out
}
