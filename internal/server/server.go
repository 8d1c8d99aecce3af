// Package server wires the leaf components (resolver, dispatch, headers,
// rewrite, ratelimit, originlist) into the top-level request pipeline
// described in spec.md §2 and routes per §4.6/§6. It is the Request
// Parser & Response Writer glue: decode cookies, run the pipeline,
// re-encode cookies, write the response.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felipecampolina/urlproxy/internal/applog"
	"github.com/felipecampolina/urlproxy/internal/dispatch"
	"github.com/felipecampolina/urlproxy/internal/headers"
	"github.com/felipecampolina/urlproxy/internal/metrics"
	"github.com/felipecampolina/urlproxy/internal/originlist"
	"github.com/felipecampolina/urlproxy/internal/ratelimit"
	"github.com/felipecampolina/urlproxy/internal/resolver"
	"github.com/felipecampolina/urlproxy/internal/rewrite"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const proxyTargetsCookieName = "proxyTargets"

// Config is everything the server needs that isn't itself a component:
// the values spec.md §6 calls "Configured constants".
type Config struct {
	ProxyHost      string
	FallbackOrigin string
	CookieSecure   bool
}

// Server holds the pipeline's leaf components plus the static config.
// The zero value is not usable; build one with New.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	rewriter   *rewrite.Rewriter
	mux        *http.ServeMux
}

// New builds a Server and its routing table (§6's routing surface).
func New(cfg Config, limiter *ratelimit.Limiter) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatch.New(limiter),
		rewriter:   rewrite.New(cfg.ProxyHost),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/csp", s.handleCSPReport)
	mux.HandleFunc("/", s.handleProxy)
	s.mux = mux
	return s
}

// ServeHTTP makes Server an http.Handler.
// A panic in any handler is logged and answered with a 500 carrying the
// panic's text, so one request's failure never takes down the process.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			msg := fmt.Sprint(rec)
			applog.Error(map[string]string{"component": "server"}, "handler panic: "+msg)
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, msg)
		}
	}()
	s.mux.ServeHTTP(w, r)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleCSPReport is the debug sink of §4.6/§6: parse, log, reply 200. A
// malformed or missing body still gets a 200 — a report-uri endpoint that
// could fail the browser's (fire-and-forget) POST isn't useful.
func (s *Server) handleCSPReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	r.Body.Close()

	var report any
	if err := json.Unmarshal(body, &report); err != nil {
		applog.Debug(map[string]string{"component": "csp"}, "malformed csp report: "+string(body))
	} else {
		applog.Info(map[string]string{"component": "csp"}, "csp violation report: "+string(body))
	}

	w.WriteHeader(http.StatusOK)
}

// requestContext is the explicit value threaded through one client
// request's pipeline, rather than attaching ad hoc fields to the request
// object.
type requestContext struct {
	requestID string
	clientIP  string
	userAgent string
	cookies   originlist.List
}

// handleProxy is the catch-all proxy pipeline: Parser → OriginResolver →
// RateLimiter (inside the dispatcher) → UpstreamDispatcher → HeaderTranslator
// → BodyHandler, per spec.md §2.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rc := s.buildRequestContext(r)

	candidates, upstreamPath := resolver.Resolve(r.URL.Path, rc.cookies, s.cfg.FallbackOrigin)
	if r.URL.RawQuery != "" && !strings.Contains(upstreamPath, "?") {
		upstreamPath += "?" + r.URL.RawQuery
	}

	result, err := s.dispatcher.Do(r.Context(), dispatch.Request{
		Method:        r.Method,
		ClientHeaders: r.Header,
		Body:          r.Body,
		UpstreamPath:  upstreamPath,
		Candidates:    candidates,
		ClientIP:      rc.clientIP,
		UserAgent:     rc.userAgent,
		Path:          r.URL.Path,
	})
	if err != nil {
		s.writeError(w, r, err, start)
		return
	}
	defer result.Response.Body.Close()

	s.relay(w, r, rc, result, start)
}

// buildRequestContext decodes the proxyTargets cookie (malformed → empty
// list, per the CookieParser contract applied to this one state cookie)
// and carries the request's fingerprint components (client-ip,
// user-agent) forward; the origin component of spec.md §3's
// RequestFingerprint varies per candidate, so it's filled in by the
// dispatcher, not here.
func (s *Server) buildRequestContext(r *http.Request) requestContext {
	var cookies originlist.List
	if c, err := r.Cookie(proxyTargetsCookieName); err == nil {
		decoded, decErr := originlist.Decode(c.Value)
		if decErr != nil {
			applog.Debug(map[string]string{"component": "resolver"}, "malformed proxyTargets cookie, treating as empty")
		}
		cookies = decoded
	}

	return requestContext{
		requestID: ensureRequestID(r),
		clientIP:  clientIP(r),
		userAgent: r.Header.Get("User-Agent"),
		cookies:   cookies,
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// relay translates headers, runs the URL rewriter over textual bodies or
// pipes binary bodies verbatim, applies the post-dispatch list mutation,
// and writes the final response to the client (§4.1, §4.4's "Body relay").
func (s *Server) relay(w http.ResponseWriter, r *http.Request, rc requestContext, result *dispatch.Result, start time.Time) {
	upstreamResp := result.Response
	outHeader := headers.FromUpstream(upstreamResp.Header, s.cfg.ProxyHost)

	contentType := upstreamResp.Header.Get("Content-Type")
	isHTML := strings.Contains(strings.ToLower(contentType), "html")

	mutated := resolver.ApplyOutcome(resolver.Outcome{
		Chosen:       result.Chosen,
		Status:       upstreamResp.StatusCode,
		Method:       r.Method,
		IsHTML:       isHTML,
		PriorTargets: rc.cookies,
	})
	setProxyTargetsCookie(w, mutated, s.cfg.CookieSecure)

	for k, vv := range outHeader {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Request-ID", rc.requestID)

	if rewrite.IsTextual(contentType) {
		body, err := io.ReadAll(upstreamResp.Body)
		if err != nil {
			applog.Error(map[string]string{"component": "dispatch"}, "body read error: "+err.Error())
		}
		rewritten, n := s.rewriter.Rewrite(string(body))
		metrics.RewriteMatchesAdd(n)
		w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
		w.WriteHeader(upstreamResp.StatusCode)
		io.Copy(w, strings.NewReader(rewritten))
	} else {
		if cl := upstreamResp.Header.Get("Content-Length"); cl != "" {
			w.Header().Set("Content-Length", cl)
		}
		w.WriteHeader(upstreamResp.StatusCode)
		if _, err := io.Copy(w, upstreamResp.Body); err != nil {
			applog.Error(map[string]string{"component": "dispatch"}, "body pipe error: "+err.Error())
		}
	}

	metrics.ObserveProxyResponse(r.Method, upstreamResp.StatusCode, time.Since(start))
}

// setProxyTargetsCookie re-emits the mutated OriginList as the client's
// state cookie. HttpOnly per §6; Secure follows the server's own TLS
// posture (implementation-configurable per §6).
func setProxyTargetsCookie(w http.ResponseWriter, list originlist.List, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     proxyTargetsCookieName,
		Value:    originlist.Encode(list),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
	})
}

// writeError maps the §7 error kinds that reach this point (RateLimited,
// NoCandidates, InvalidUpstreamURL) onto the client-visible statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	status := http.StatusInternalServerError
	body := err.Error()

	switch err {
	case dispatch.ErrRateLimited:
		status = http.StatusTooManyRequests
		body = ""
	case dispatch.ErrNoCandidates, dispatch.ErrInvalidURL:
		status = http.StatusInternalServerError
	default:
		applog.Error(map[string]string{"component": "dispatch"}, "upstream transport error: "+err.Error())
	}

	w.WriteHeader(status)
	if body != "" {
		io.WriteString(w, body)
	}
	metrics.ObserveProxyResponse(r.Method, status, time.Since(start))
}
