package main

import (
	"log"
	"net/http"

	"github.com/felipecampolina/urlproxy/internal/applog"
	"github.com/felipecampolina/urlproxy/internal/config"
	"github.com/felipecampolina/urlproxy/internal/ratelimit"
	"github.com/felipecampolina/urlproxy/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from the .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file (%v), using system environment variables", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	applog.Configure(cfg.Logging.LokiURL, cfg.Logging.InfoEnabled, cfg.Logging.DebugEnabled, cfg.Logging.ErrorEnabled)

	limiter := ratelimit.New(cfg.RateWindow, cfg.RateLimit)
	srv := server.New(server.Config{
		ProxyHost:      cfg.ProxyHost,
		FallbackOrigin: cfg.FallbackOrigin,
		CookieSecure:   cfg.TLS.CookieSecure,
	}, limiter)

	log.Printf("Listening on %s, proxy host %s, fallback origin %s, rate limit %d/%s",
		cfg.ListenAddr, cfg.ProxyHost, cfg.FallbackOrigin, cfg.RateLimit, cfg.RateWindow)

	if err := startServer(cfg, withServerHeaders(srv)); err != nil {
		log.Fatal(err)
	}
}

// withServerHeaders adds a fixed Server response header, mirroring the
// teacher's own top-level middleware wrapping the mux.
func withServerHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "urlproxy/0.1")
		next.ServeHTTP(w, r)
	})
}
