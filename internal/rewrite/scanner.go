// Package rewrite implements the URL-matching grammar and substitution
// rule of spec.md §4.2: a hand-written scanner, preferred here over a
// regex for the escaped-delimiter round trip and adversarial-input
// safety, that finds absolute and protocol-relative URLs inside a text
// payload and rewrites their authority to route back through the proxy.
package rewrite

import "strings"

// Rewriter rewrites absolute URLs in text so they route back through
// proxyHost. A URL whose authority already equals proxyHost is left
// untouched, which is what makes repeated application idempotent (IP7).
type Rewriter struct {
	ProxyHost string
}

// New returns a Rewriter targeting the given proxy host[:port].
func New(proxyHost string) *Rewriter {
	return &Rewriter{ProxyHost: proxyHost}
}

// Rewrite scans text for URLs matching the §4.2 grammar and rewrites each
// one (unless rejected or already proxy-local). It returns the rewritten
// text and the number of URLs actually rewritten.
func (rw *Rewriter) Rewrite(text string) (string, int) {
	var out strings.Builder
	out.Grow(len(text))

	matched := 0
	i := 0
	for i < len(text) {
		m, ok := rw.matchAt(text, i)
		if !ok {
			out.WriteByte(text[i])
			i++
			continue
		}
		if m.rejected || m.authority == rw.ProxyHost {
			out.WriteString(text[m.start:m.end])
			i = m.end
			continue
		}
		out.WriteString(rw.render(m))
		matched++
		i = m.end
	}
	return out.String(), matched
}

// IsTextual reports whether contentType is one of the textual types the
// rewriter operates on (substring match per spec.md §4.2).
func IsTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, kind := range []string{"html", "css", "scss", "svg", "javascript", "json", "text"} {
		if strings.Contains(ct, kind) {
			return true
		}
	}
	return false
}

type match struct {
	start, end int
	scheme     string // "", "http", or "https"
	openDelim  string // the delimiter form used for the doubled "//"
	userinfo   string // includes trailing '@' if present, else ""
	host       string // as it appeared in source (brackets included for IPv6/IPvFuture)
	port       string // includes leading ':' if present, else ""
	rest       string // path + query + fragment, copied verbatim
	authority  string // host[:port] normalised for the ProxyHost comparison
	rejected   bool
}

// matchAt attempts to match the grammar starting at i. It returns ok=false
// if no URL starts at i at all; rejected matches (escaped-slash or xmlns
// context) are still returned with ok=true but rejected=true so the caller
// knows to advance past the whole span unrewritten.
func (rw *Rewriter) matchAt(text string, i int) (match, bool) {
	j := i
	scheme := ""

	if rest := text[i:]; hasSchemePrefix(rest, "https:") {
		scheme = "https"
		j = i + len("https:")
	} else if hasSchemePrefix(rest, "http:") {
		scheme = "http"
		j = i + len("http:")
	}

	delim1, n1, ok := matchDelimiter(text, j)
	if !ok {
		return match{}, false
	}
	delim2, n2, ok := matchDelimiter(text, j+n1)
	if !ok || delim2 != delim1 {
		return match{}, false
	}
	openDelim := delim1
	afterDelims := j + n1 + n2

	userinfoEnd, hasUserinfo := scanUserinfo(text, afterDelims)
	hostStart := afterDelims
	if hasUserinfo {
		hostStart = userinfoEnd
	}

	hostEnd, host, ok := scanHost(text, hostStart)
	if !ok {
		return match{}, false
	}

	portEnd := scanPort(text, hostEnd)

	m := match{
		start:     i,
		scheme:    scheme,
		openDelim: openDelim,
		host:      host,
		port:      text[hostEnd:portEnd],
		authority: host + text[hostEnd:portEnd],
	}
	if hasUserinfo {
		m.userinfo = text[afterDelims:userinfoEnd]
	}

	restEnd := scanRest(text, portEnd)
	m.rest = text[portEnd:restEnd]
	m.end = restEnd

	if charBefore(text, i) == '\\' {
		m.rejected = true
	}
	if precededByXMLNS(text, i) {
		m.rejected = true
	}

	return m, true
}

func hasSchemePrefix(s, scheme string) bool {
	if len(s) < len(scheme) {
		return false
	}
	return strings.EqualFold(s[:len(scheme)], scheme)
}

// render emits the proxy-local rewritten form for a matched URL per the
// rule in spec.md §4.2.
func (rw *Rewriter) render(m match) string {
	var b strings.Builder
	protoWire := "http"
	if m.scheme != "" {
		protoWire = strings.ToLower(m.scheme)
	}

	if m.scheme != "" {
		b.WriteString("http:")
	}
	b.WriteString(m.openDelim)
	b.WriteString(m.openDelim)
	b.WriteString(rw.ProxyHost)
	b.WriteString(m.openDelim)
	b.WriteString(protoWire)
	b.WriteByte('.')
	b.WriteString(m.userinfo)
	b.WriteString(m.host)
	b.WriteString(m.port)
	b.WriteString(m.rest)
	return b.String()
}

func charBefore(text string, i int) byte {
	if i == 0 {
		return 0
	}
	return text[i-1]
}

// precededByXMLNS rejects matches immediately inside an xmlns attribute
// value, e.g. xmlns="http://www.w3.org/2000/svg" (spec.md §4.2, IP3).
func precededByXMLNS(text string, i int) bool {
	const lookbehind = 24
	start := i - lookbehind
	if start < 0 {
		start = 0
	}
	window := text[start:i]
	window = strings.TrimRight(window, "\"'")
	lower := strings.ToLower(window)
	if idx := strings.LastIndex(lower, "xmlns"); idx >= 0 {
		tail := strings.TrimSpace(lower[idx+len("xmlns"):])
		tail = strings.TrimRight(tail, " \t")
		if tail == "=" {
			return true
		}
		// xmlns:prefix="..."
		if strings.HasPrefix(tail, ":") {
			eq := strings.LastIndex(tail, "=")
			if eq == len(tail)-1 && eq > 0 {
				return true
			}
		}
	}
	return false
}
