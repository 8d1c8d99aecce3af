package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// requestCounter disambiguates request IDs generated within the same
// nanosecond.
var requestCounter int64

// ensureRequestID returns the client-supplied X-Request-ID if present,
// otherwise mints one and stores it back on the request so downstream
// logging sees the same value ensureRequestID returns.
func ensureRequestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if id == "" {
		id = fmt.Sprintf("%d-%d", time.Now().UnixNano(), atomic.AddInt64(&requestCounter, 1))
		r.Header.Set("X-Request-ID", id)
	}
	return id
}
