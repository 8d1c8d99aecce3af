// Package applog is the proxy's ambient logger: local stdout logging plus
// an optional fire-and-forget push of the same line to a Loki endpoint.
package applog

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	lokiURL    string
	lokiOnce   sync.Once
	lokiClient = &http.Client{Timeout: 200 * time.Millisecond}

	mu           sync.Mutex
	configured   bool
	infoEnabled  = true
	debugEnabled = false
	errorEnabled = true
)

// Configure sets the Loki URL and level toggles explicitly; a
// configs/config.yaml overlay then no longer changes the level toggles and
// supplies its Loki URL only when url is empty. Call once at startup from
// config.Config; with an empty url and no overlay URL, nothing is shipped.
func Configure(url string, info, debug, errEnabled bool) {
	mu.Lock()
	defer mu.Unlock()
	configured = true
	lokiURL = normalizeLokiURL(url)
	infoEnabled = info
	debugEnabled = debug
	errorEnabled = errEnabled
}

func normalizeLokiURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "/loki/api/v1/push") {
		u = strings.TrimRight(u, "/") + "/loki/api/v1/push"
	}
	return u
}

// loadYAMLOverlay reads an optional configs/config.yaml (or .yml). Its Loki
// URL is used when none is set yet; its level toggles apply only if
// Configure has not already been called.
func loadYAMLOverlay() {
	var cfgFile string
	for _, c := range []string{"configs/config.yaml", "configs/config.yml"} {
		if _, err := os.Stat(c); err == nil {
			cfgFile = c
			break
		}
	}
	if cfgFile == "" {
		return
	}

	var cfg struct {
		Logging *struct {
			LokiURL      string `yaml:"loki_url"`
			InfoEnabled  *bool  `yaml:"info_enabled"`
			DebugEnabled *bool  `yaml:"debug_enabled"`
			ErrorEnabled *bool  `yaml:"error_enabled"`
		} `yaml:"logging"`
	}
	b, err := os.ReadFile(cfgFile)
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil || cfg.Logging == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if lokiURL == "" && cfg.Logging.LokiURL != "" {
		lokiURL = normalizeLokiURL(cfg.Logging.LokiURL)
	}
	if configured {
		return
	}
	if cfg.Logging.InfoEnabled != nil {
		infoEnabled = *cfg.Logging.InfoEnabled
	}
	if cfg.Logging.DebugEnabled != nil {
		debugEnabled = *cfg.Logging.DebugEnabled
	}
	if cfg.Logging.ErrorEnabled != nil {
		errorEnabled = *cfg.Logging.ErrorEnabled
	}
}

func levelEnabled(level string) bool {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return debugEnabled
	case "error":
		return errorEnabled
	default:
		return infoEnabled
	}
}

// Emit prints the line locally (if enabled) and, if Loki is configured,
// fire-and-forget ships it with a "level" label plus any extra labels.
func Emit(level string, labels map[string]string, line string) {
	lvl := strings.ToLower(level)
	if !levelEnabled(lvl) {
		return
	}
	if localLogEnabled() {
		log.Print(line)
	}
	pushLoki(lvl, labels, line)
}

func pushLoki(level string, labels map[string]string, line string) {
	lokiOnce.Do(loadYAMLOverlay)

	mu.Lock()
	url := lokiURL
	mu.Unlock()
	if url == "" {
		return
	}

	lbls := map[string]string{"app": "urlproxy", "level": level}
	for k, v := range labels {
		if strings.TrimSpace(k) == "" {
			continue
		}
		lbls[k] = v
	}

	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	payload := struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"streams"`
	}{
		Streams: []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		}{
			{Stream: lbls, Values: [][2]string{{ts, line}}},
		},
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequest("POST", url, bytes.NewReader(b))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	_, _ = lokiClient.Do(req) // fire-and-forget
}

// localLogEnabled suppresses stdout noise while under `go test`.
func localLogEnabled() bool {
	if flag.Lookup("test.v") != nil || flag.Lookup("test.run") != nil {
		return false
	}
	return true
}

// MustHostname returns the current hostname, or "unknown" on error.
func MustHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// Info emits an info-level line.
func Info(labels map[string]string, line string) { Emit("info", labels, line) }

// Debug emits a debug-level line.
func Debug(labels map[string]string, line string) { Emit("debug", labels, line) }

// Error emits an error-level line.
func Error(labels map[string]string, line string) { Emit("error", labels, line) }
