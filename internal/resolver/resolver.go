// Package resolver implements OriginResolver: turning an incoming request
// path and proxyTargets cookie into an ordered list of candidate upstream
// origins, and mutating that list once the dispatcher has picked a winner.
package resolver

import (
	"strings"

	"github.com/felipecampolina/urlproxy/internal/originlist"
)

// Candidate is one upstream origin to try, in dispatch order.
type Candidate struct {
	Origin string
	// ListIndex is the candidate's position in the proxyTargets cookie
	// list, or -1 if it was not drawn from that list (absolute-in-path or
	// fallback).
	ListIndex int
}

// Resolve applies the §4.1 priority order: absolute-in-path, then
// non-empty cookie list, then fallback. It returns the candidate list and
// the upstream path (query string included) each candidate should be
// dispatched against.
func Resolve(requestPath string, cookieTargets originlist.List, fallbackOrigin string) ([]Candidate, string) {
	if origin, upstreamPath, ok := parseAbsoluteInPath(requestPath); ok {
		return []Candidate{{Origin: origin, ListIndex: -1}}, upstreamPath
	}

	if len(cookieTargets) > 0 {
		seen := make(map[string]bool, len(cookieTargets))
		candidates := make([]Candidate, 0, len(cookieTargets))
		for i, origin := range cookieTargets {
			if seen[origin] {
				continue
			}
			seen[origin] = true
			candidates = append(candidates, Candidate{Origin: origin, ListIndex: i})
		}
		return candidates, requestPath
	}

	return []Candidate{{Origin: fallbackOrigin, ListIndex: -1}}, "/"
}

// parseAbsoluteInPath recognises a leading "/http.<host>[:port]/..." or
// "/https.<host>[:port]/..." segment. The single "." separating the wire
// scheme from the host is replaced with "://"; everything after the first
// segment becomes the upstream path.
func parseAbsoluteInPath(requestPath string) (origin, upstreamPath string, ok bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")

	seg, rest := trimmed, ""
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		seg, rest = trimmed[:idx], trimmed[idx:]
	}

	var dot int
	switch {
	case strings.HasPrefix(seg, "https."):
		dot = len("https")
	case strings.HasPrefix(seg, "http."):
		dot = len("http")
	default:
		return "", "", false
	}

	origin = seg[:dot] + "://" + seg[dot+1:]
	if rest == "" {
		rest = "/"
	}
	return origin, rest, true
}

// Outcome describes what the dispatcher ultimately returned to the client,
// the inputs ApplyOutcome needs to mutate the cookie list per §4.1.
type Outcome struct {
	Chosen       Candidate
	Status       int
	Method       string
	IsHTML       bool
	PriorTargets originlist.List
}

// ApplyOutcome performs the post-dispatch list mutation: truncating a
// promoted cookie-list entry's predecessors, or prepending an
// absolute-in-path/fallback origin that just served a successful GET of
// HTML and isn't already the list head.
func ApplyOutcome(o Outcome) originlist.List {
	list := o.PriorTargets
	success := o.Status >= 200 && o.Status < 300

	if success && o.Chosen.ListIndex > 0 {
		return list.Truncate(o.Chosen.ListIndex)
	}

	if success && o.Chosen.ListIndex == -1 && strings.EqualFold(o.Method, "GET") && o.IsHTML {
		return list.Prepend(o.Chosen.Origin)
	}

	return list
}
