// Package headers implements HeaderTranslator (spec.md §4.3): the
// client↔upstream header and cookie translation tables, the fixed CSP
// substitution, and the unconditional CORS header on the way out.
package headers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/felipecampolina/urlproxy/internal/cookie"
)

// cspReportPath is where the fixed policy below always points its
// report-uri, regardless of what the upstream's own policy said.
const cspReportPath = "/debug/csp"

// proxyTargetsCookie is the name of the state cookie translated specially
// in both directions (§3, §4.3).
const proxyTargetsCookie = "proxyTargets"

// ToUpstream builds the outbound request header set for origin, given the
// inbound client headers. hop-by-hop and recomputed-by-the-client headers
// are dropped; the proxyTargets cookie (and its underscore-escaped forms)
// are translated per §4.3.
func ToUpstream(in http.Header, origin string) http.Header {
	out := make(http.Header, len(in))
	u, _ := url.Parse(origin)
	authority := origin
	if u != nil && u.Host != "" {
		authority = u.Host
	}

	for k, vv := range in {
		switch strings.ToLower(k) {
		case "host", "origin":
			out.Set(k, authority)
		case "content-length", "content-encoding", "transfer-encoding":
			// Dropped: recomputed by the HTTP client issuing the outbound request.
		case "cookie":
			if rewritten := translateOutboundCookieHeader(strings.Join(vv, "; ")); rewritten != "" {
				out.Set(k, rewritten)
			}
		default:
			for _, v := range vv {
				out.Add(k, v)
			}
		}
	}
	return out
}

// translateOutboundCookieHeader rewrites a single Cookie request header
// value: the proxyTargets cookie itself is removed (it's proxy state, not
// something the upstream should see), and any cookie whose name is one or
// more leading underscores followed by "proxyTargets" has exactly one
// leading underscore stripped, unwinding the inbound escaping applied by
// translateSetCookie below.
func translateOutboundCookieHeader(header string) string {
	parts := strings.Split(header, ";")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])

		if name == proxyTargetsCookie {
			continue
		}
		if strings.HasPrefix(name, "_") && isUnderscoredProxyTargets(strings.TrimPrefix(name, "_")) {
			kv[0] = strings.TrimPrefix(name, "_")
			part = strings.Join(kv, "=")
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "; ")
}

// FromUpstream builds the client-facing response header set from the raw
// upstream response headers. proxyHost is substituted as both the
// Set-Cookie Domain and the CSP report-uri authority.
func FromUpstream(in http.Header, proxyHost string) http.Header {
	out := make(http.Header, len(in))

	for k, vv := range in {
		switch strings.ToLower(k) {
		case "set-cookie":
			for _, v := range vv {
				if rewritten, ok := translateSetCookie(v, proxyHost); ok {
					out.Add("Set-Cookie", rewritten)
				}
			}
		case "content-security-policy", "content-security-policy-report-only":
			out.Set("Content-Security-Policy", fixedCSP(proxyHost))
		case "content-length", "content-encoding", "transfer-encoding", "connection":
			// Dropped: recomputed (length) or not meaningful across the proxy hop.
		default:
			for _, v := range vv {
				out.Add(k, v)
			}
		}
	}

	out.Set("Access-Control-Allow-Origin", "*")
	return out
}

// translateSetCookie parses a single Set-Cookie value, rewrites its Domain
// to proxyHost, and prepends an underscore to a proxyTargets-shaped name so
// the client's browser never conflates the upstream's own cookie with the
// proxy's own state cookie of the same name. A malformed cookie is
// dropped (logged by the caller), per §4.3's CookieParser contract.
func translateSetCookie(raw, proxyHost string) (string, bool) {
	c, err := cookie.Parse(raw)
	if err != nil {
		return "", false
	}

	if _, hasDomain := c.Options["domain"]; hasDomain {
		c.Options["domain"] = proxyHost
	}

	if isUnderscoredProxyTargets(c.Name) {
		c.Name = "_" + c.Name
	}

	return c.String(), true
}

// isUnderscoredProxyTargets reports whether name is zero-or-more
// underscores followed by exactly "proxyTargets" — the "_*proxyTargets"
// family §4.3 prepends one more underscore onto, so the client's browser
// never conflates the upstream's own cookie with the proxy's own state
// cookie of the same name.
func isUnderscoredProxyTargets(name string) bool {
	prefix, ok := strings.CutSuffix(name, proxyTargetsCookie)
	if !ok {
		return false
	}
	for _, r := range prefix {
		if r != '_' {
			return false
		}
	}
	return true
}

// fixedCSP is the permissive policy substituted for any upstream CSP, with
// a report-uri routed back through the proxy's own debug sink.
func fixedCSP(proxyHost string) string {
	return "default-src 'self' data: 'unsafe-inline' 'unsafe-eval' https:; " +
		"script-src 'self' data: 'unsafe-inline' 'unsafe-eval' https: blob:; " +
		"style-src 'self' data: 'unsafe-inline' https:; " +
		"img-src 'self' data: https: blob:; " +
		"font-src 'self' data: https:; " +
		"connect-src 'self' data: https: wss: blob:; " +
		"media-src 'self' data: https: blob:; " +
		"object-src 'self' https:; " +
		"child-src 'self' https: data: blob:; " +
		"form-action 'self' https:; " +
		"report-uri http://" + proxyHost + cspReportPath
}
