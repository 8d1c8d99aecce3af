// Package config loads proxy configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob the proxy needs at startup. Nothing here is
// read again once Load returns; the proxy itself is otherwise stateless.
type Config struct {
	ListenAddr string // e.g. ":3000"
	ProxyHost  string // host[:port] substituted into rewritten URLs and the CSP report-uri

	FallbackOrigin string // scheme://host[:port] used when no candidate can be resolved

	RateWindow time.Duration
	RateLimit  int

	TLS     TLSConfig
	Logging LoggingConfig
}

// TLSConfig controls whether the listening socket terminates TLS itself.
// Certificate material and ACME are explicitly out of scope; when enabled
// without existing files, a self-signed pair is generated for local
// development.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	// CookieSecure mirrors the TLS posture onto the proxyTargets cookie;
	// the Secure flag itself is left implementation-configurable.
	CookieSecure bool
}

// LoggingConfig controls the ambient logger (internal/applog).
type LoggingConfig struct {
	LokiURL      string
	InfoEnabled  bool
	DebugEnabled bool
	ErrorEnabled bool
}

const (
	defaultListen      = ":3000"
	defaultRateWindow  = 3000 * time.Millisecond
	defaultRateLimit   = 10
	defaultTLSCertFile = "server.crt"
	defaultTLSKeyFile  = "server.key"
)

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	listen := getEnv("PROXY_LISTEN", defaultListen)

	proxyHost := strings.TrimSpace(os.Getenv("PROXY_HOST"))
	if proxyHost == "" {
		return nil, fmt.Errorf("PROXY_HOST must be set (e.g. localhost:3000)")
	}

	fallback := strings.TrimSpace(os.Getenv("FALLBACK_ORIGIN"))
	if fallback == "" {
		return nil, fmt.Errorf("FALLBACK_ORIGIN must be set (e.g. https://www.example.com)")
	}
	if !strings.HasPrefix(fallback, "http://") && !strings.HasPrefix(fallback, "https://") {
		return nil, fmt.Errorf("FALLBACK_ORIGIN must include a scheme: %q", fallback)
	}

	tlsEnabled := getEnvBool("PROXY_TLS_ENABLED", false)

	cfg := &Config{
		ListenAddr:     listen,
		ProxyHost:      proxyHost,
		FallbackOrigin: fallback,
		RateWindow:     getEnvDuration("RATE_WINDOW_MS_DURATION", defaultRateWindow),
		RateLimit:      getEnvInt("RATE_LIMIT", defaultRateLimit),
		TLS: TLSConfig{
			Enabled:      tlsEnabled,
			CertFile:     getEnv("PROXY_TLS_CERT", defaultTLSCertFile),
			KeyFile:      getEnv("PROXY_TLS_KEY", defaultTLSKeyFile),
			CookieSecure: getEnvBool("PROXY_COOKIE_SECURE", tlsEnabled),
		},
		Logging: LoggingConfig{
			LokiURL:      strings.TrimSpace(os.Getenv("PROXY_LOKI_URL")),
			InfoEnabled:  getEnvBool("PROXY_LOG_INFO", true),
			DebugEnabled: getEnvBool("PROXY_LOG_DEBUG", false),
			ErrorEnabled: getEnvBool("PROXY_LOG_ERROR", true),
		},
	}

	// RATE_WINDOW_MS accepts the window directly in milliseconds.
	if raw := strings.TrimSpace(os.Getenv("RATE_WINDOW_MS")); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_WINDOW_MS: %q", raw)
		}
		cfg.RateWindow = time.Duration(ms) * time.Millisecond
	}

	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT must be positive, got %d", cfg.RateLimit)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
