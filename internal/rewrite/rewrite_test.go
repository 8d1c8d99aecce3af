package rewrite_test

import (
	"strings"
	"testing"

	"github.com/felipecampolina/urlproxy/internal/rewrite"
)

func TestIsTextual(t *testing.T) {
	textual := []string{"text/html; charset=utf-8", "application/javascript", "image/svg+xml", "application/json", "text/css", "text/scss"}
	for _, ct := range textual {
		if !rewrite.IsTextual(ct) {
			t.Fatalf("IsTextual(%q) = false, want true", ct)
		}
	}
	if rewrite.IsTextual("image/png") {
		t.Fatalf("IsTextual(image/png) = true, want false")
	}
}

// Scenario 1: absolute https URL rewritten to the http:<delim><delim>
// <proxy><delim>https.<host><path> form.
func TestRewriteAbsoluteURL(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `<a href="https://www.example.com/x">`
	out, n := rw.Rewrite(in)
	want := `<a href="http://proxy.local/https.www.example.com/x">`
	if n != 1 || out != want {
		t.Fatalf("Rewrite = %q (n=%d), want %q (n=1)", out, n, want)
	}
}

// Protocol-relative sources default proto-wire to http and omit the
// scheme prefix before the emitted doubled delimiter.
func TestRewriteProtocolRelative(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `background: url(//cdn.example.com/a.css)`
	out, n := rw.Rewrite(in)
	want := `background: url(//proxy.local/http.cdn.example.com/a.css)`
	if n != 1 || out != want {
		t.Fatalf("Rewrite = %q (n=%d), want %q (n=1)", out, n, want)
	}
}

// IP2: an escaped-delimiter URL in the input keeps the same escaped form
// in the output.
func TestRewritePreservesEscapedDelimiter(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := "\"url\":\"http:\\u002f\\u002fwww.example.com\\u002fx\""
	out, n := rw.Rewrite(in)
	want := "\"url\":\"http:\\u002f\\u002fproxy.local\\u002fhttp.www.example.com\\u002fx\""
	if n != 1 || out != want {
		t.Fatalf("Rewrite = %q (n=%d), want %q (n=1)", out, n, want)
	}
}

// Scenario 5 / IP3: xmlns attribute values are left byte-identical.
func TestRewriteLeavesXMLNSUntouched(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `<svg xmlns="http://www.w3.org/2000/svg"></svg>`
	out, n := rw.Rewrite(in)
	if n != 0 || out != in {
		t.Fatalf("Rewrite = %q (n=%d), want unchanged input (n=0)", out, n)
	}
}

// IP3: a URL preceded by a literal backslash (escaped inside a code
// literal) is left byte-identical.
func TestRewriteLeavesBackslashEscapedURLUntouched(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `path: "\http://example.com/x"`
	out, n := rw.Rewrite(in)
	if n != 0 || out != in {
		t.Fatalf("expected no rewrite for backslash-preceded URL, got %q (n=%d)", out, n)
	}
}

// IP7: applying the rewriter to already-rewritten text is a no-op.
func TestRewriteIsIdempotent(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `<a href="https://www.example.com/x"><img src="//cdn.example.com/a.js">`
	once, n1 := rw.Rewrite(in)
	twice, n2 := rw.Rewrite(once)
	if once != twice {
		t.Fatalf("Rewrite is not idempotent: once=%q twice=%q", once, twice)
	}
	if n1 == 0 {
		t.Fatalf("first pass rewrote nothing")
	}
	if n2 != 0 {
		t.Fatalf("second pass rewrote %d URLs, want 0", n2)
	}
}

// IP1: every rewritten URL's authority is exactly the proxy host.
func TestRewriteAuthorityIsAlwaysProxyHost(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `<a href="https://a.example/one"><a href="http://b.example:8080/two"><img src="//c.example/three.png">`
	out, n := rw.Rewrite(in)
	if n != 3 {
		t.Fatalf("expected 3 matches, got %d", n)
	}
	for _, want := range []string{
		`http://proxy.local/https.a.example/one`,
		`http://proxy.local/http.b.example:8080/two`,
		`//proxy.local/http.c.example/three.png`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing rewritten form %q", out, want)
		}
	}
}

func TestRewriteIPv6Host(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `fetch("http://[2001:db8::1]:8443/ping")`
	out, n := rw.Rewrite(in)
	want := `fetch("http://proxy.local/http.[2001:db8::1]:8443/ping")`
	if n != 1 || out != want {
		t.Fatalf("Rewrite = %q (n=%d), want %q (n=1)", out, n, want)
	}
}

func TestRewriteRejectsMalformedIPv6(t *testing.T) {
	rw := rewrite.New("proxy.local")
	in := `http://[::gggg]/x`
	_, n := rw.Rewrite(in)
	if n != 0 {
		t.Fatalf("expected no match for malformed IPv6 literal, got %d", n)
	}
}

func TestRewriteNonTextualUntouchedByCaller(t *testing.T) {
	// The rewriter itself has no notion of Content-Type; callers gate on
	// IsTextual before invoking Rewrite. Exercise that IsTextual excludes
	// binary types so a caller wouldn't invoke Rewrite on them.
	if rewrite.IsTextual("application/octet-stream") {
		t.Fatalf("application/octet-stream should not be textual")
	}
}
