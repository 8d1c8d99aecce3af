/*
echo-origin is a disposable fixture upstream used to exercise the proxy by
hand: it serves canned bodies (HTML full of absolute URLs, CSS, JSON, a
binary blob) and echoes request metadata, so a developer can point the
proxy at it and watch URL rewriting and header translation happen live.

Typical usage:

	go run ./cmd/echo-origin -listen :8000

Not a production server and not imported by cmd/proxy.
*/
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"
)

func main() {
	listen := flag.String("listen", ":8000", "address to listen on")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/page.html", handleHTML)
	mux.HandleFunc("/style.css", handleCSS)
	mux.HandleFunc("/data.json", handleJSON)
	mux.HandleFunc("/blob.bin", handleBinary)
	mux.HandleFunc("/set-cookie", handleSetCookie)
	mux.HandleFunc("/", handleEcho)

	log.Printf("echo-origin listening on %s", *listen)
	if err := http.ListenAndServe(*listen, withServerHeaders(mux)); err != nil {
		log.Fatal(err)
	}
}

func withServerHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "echo-origin/0.1")
		next.ServeHTTP(w, r)
	})
}

// handleHTML returns a page riddled with absolute URLs, a protocol-relative
// URL, and an IPv6-literal authority — good raw material for the rewriter.
func handleHTML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!doctype html>
<html>
<head><link rel="stylesheet" href="https://assets.example.com/style.css"></head>
<body>
<a href="https://www.example.com/next">next</a>
<script src="//cdn.example.com/app.js"></script>
<img src="https://[2001:db8::1]:8443/logo.png">
</body>
</html>`))
}

func handleCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`body { background: url(https://assets.example.com/bg.png); }`))
}

func handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"self": "https://api.example.com/data.json",
		"at":   time.Now().Format(time.RFC3339),
	})
}

// handleBinary returns a small fixed byte sequence so callers can assert an
// exact Content-Length and byte-identical passthrough.
func handleBinary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01})
}

// handleSetCookie emits a Set-Cookie with a Domain attribute and, when
// asked via a query flag, one literally named proxyTargets — useful for
// exercising the header translator's collision-avoidance escaping.
func handleSetCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123", Domain: "echo-origin.internal", Path: "/"})
	if r.URL.Query().Get("collide") != "" {
		http.SetCookie(w, &http.Cookie{Name: "proxyTargets", Value: "upstream-owned-value"})
	}
	w.WriteHeader(http.StatusOK)
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  r.URL.RawQuery,
		"host":   r.Host,
	})
}
