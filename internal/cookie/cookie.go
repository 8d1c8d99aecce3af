// Package cookie parses and renders Set-Cookie header values per RFC 6265
// §5.2, preserving the canonical camelCase spelling of sameSite, httpOnly
// and maxAge (stdlib net/http normalises these away, which is why this
// package exists instead of reusing http.Cookie).
package cookie

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a Set-Cookie value has no name=value pair.
var ErrMalformed = errors.New("cookie: malformed Set-Cookie header")

// canonicalAttrs maps a case-insensitive attribute name to its canonical
// on-the-wire spelling. Unknown attribute names pass through lower-cased.
var canonicalAttrs = map[string]string{
	"domain":   "domain",
	"path":     "path",
	"expires":  "expires",
	"max-age":  "maxAge",
	"maxage":   "maxAge",
	"secure":   "secure",
	"httponly": "httpOnly",
	"samesite": "sameSite",
}

// Cookie is the {name, value, options} triple described in spec.md §3.
// Options values are either string (trimmed attribute value), bool(true)
// (a flag attribute with no value), int64 (maxAge, seconds, signed), or
// time.Time (expires, an absolute instant).
type Cookie struct {
	Name    string
	Value   string
	Options map[string]any
}

// Parse parses a single Set-Cookie header value into a Cookie. The first
// `name=value` pair is the cookie itself; subsequent `;`-separated tokens
// are attributes. Malformed input returns ErrMalformed.
func Parse(header string) (Cookie, error) {
	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return Cookie{}, ErrMalformed
	}

	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nameValue) != 2 || strings.TrimSpace(nameValue[0]) == "" {
		return Cookie{}, ErrMalformed
	}

	c := Cookie{
		Name:    strings.TrimSpace(nameValue[0]),
		Value:   strings.TrimSpace(nameValue[1]),
		Options: make(map[string]any),
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		rawKey := strings.ToLower(strings.TrimSpace(kv[0]))
		key, ok := canonicalAttrs[rawKey]
		if !ok {
			key = rawKey
		}

		if len(kv) == 1 {
			c.Options[key] = true
			continue
		}

		val := strings.Trim(strings.TrimSpace(kv[1]), "\"")
		switch key {
		case "maxAge":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Cookie{}, ErrMalformed
			}
			c.Options[key] = n
		case "expires":
			t, err := http.ParseTime(val)
			if err != nil {
				return Cookie{}, ErrMalformed
			}
			c.Options[key] = t
		default:
			c.Options[key] = val
		}
	}

	return c, nil
}

// String renders the Cookie back into a Set-Cookie header value. Attribute
// order is deterministic (domain, path, expires, maxAge, secure, httpOnly,
// sameSite, then any unknown attributes in insertion-independent sorted
// order) so that repeated String() calls over an equal Cookie are stable.
func (c Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)

	order := []string{"domain", "path", "expires", "maxAge", "secure", "httpOnly", "sameSite"}
	written := make(map[string]bool, len(order))
	for _, key := range order {
		if v, ok := c.Options[key]; ok {
			writeAttr(&b, key, v)
			written[key] = true
		}
	}
	extra := make([]string, 0, len(c.Options))
	for key := range c.Options {
		if !written[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		writeAttr(&b, key, c.Options[key])
	}

	return b.String()
}

func writeAttr(b *strings.Builder, key string, v any) {
	switch val := v.(type) {
	case bool:
		if val {
			b.WriteString("; ")
			b.WriteString(key)
		}
	case int64:
		b.WriteString("; ")
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(strconv.FormatInt(val, 10))
	case time.Time:
		b.WriteString("; ")
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(val.UTC().Format(http.TimeFormat))
	case string:
		b.WriteString("; ")
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(val)
	}
}
