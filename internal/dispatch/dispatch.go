// Package dispatch implements UpstreamDispatcher (spec.md §4.4): walks a
// resolved candidate list in strict sequence, asking the rate limiter and
// validating each candidate's URL before issuing the outbound request,
// teeing the request body so a later candidate can still see it, and
// keeping the first successful (or, failing that, first-seen) response.
package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/felipecampolina/urlproxy/internal/headers"
	"github.com/felipecampolina/urlproxy/internal/metrics"
	"github.com/felipecampolina/urlproxy/internal/ratelimit"
	"github.com/felipecampolina/urlproxy/internal/resolver"
)

// ErrRateLimited is returned when every candidate's fingerprint is
// currently rate-limited, so none could be attempted.
var ErrRateLimited = errors.New("dispatch: rate limit exceeded")

// ErrNoCandidates is returned when the candidate list is empty, or when
// every candidate that was attempted failed without producing a response.
var ErrNoCandidates = errors.New("dispatch: no candidates to attempt")

// ErrInvalidURL is returned when a candidate's composed upstream URL fails
// the §4.2 grammar validation step.
var ErrInvalidURL = errors.New("dispatch: invalid upstream URL")

// transport is shared across every outbound request the dispatcher makes:
// one long-lived *http.Transport rather than building one per request.
var transport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

var httpClient = &http.Client{Transport: transport}

// bodylessMethods is the set for which step 1 of §4.4 says the request
// body is "none" regardless of what the client sent.
var bodylessMethods = map[string]bool{
	http.MethodGet:   true,
	http.MethodHead:  true,
	http.MethodTrace: true,
}

// Request is everything the dispatcher needs from the inbound client
// request, already resolved to a candidate list and upstream path by
// internal/resolver.
type Request struct {
	Method        string
	ClientHeaders http.Header
	Body          io.ReadCloser // ignored for bodyless methods
	UpstreamPath  string        // path + query, same for every candidate
	Candidates    []resolver.Candidate

	// ClientIP, UserAgent and Path are the fingerprint components that
	// don't vary by candidate (spec.md §3's RequestFingerprint is
	// client-ip, user-agent, origin, path-without-query; origin is
	// filled in per candidate below, since each candidate is a distinct
	// origin and §4.4 step 2a asks the RateLimiter once per candidate).
	ClientIP  string
	UserAgent string
	Path      string
}

// Result is what the dispatcher produced: the winning response (the first
// 2xx/3xx/etc below 400, or the first-seen provisional best if none
// qualified), which candidate produced it, and how many were attempted.
type Result struct {
	Response    *http.Response
	Chosen      resolver.Candidate
	Attempts    int
	UpstreamURL string
}

// Dispatcher drives outbound requests per §4.4.
type Dispatcher struct {
	Limiter *ratelimit.Limiter
}

// New builds a Dispatcher backed by limiter.
func New(limiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{Limiter: limiter}
}

// Do executes the candidate loop. ctx is cancelled when the client
// disconnects; per §5 no further candidates are attempted once that
// happens and any pending tee is abandoned.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Result, error) {
	if len(req.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	var body io.Reader
	if !bodylessMethods[req.Method] && req.Body != nil {
		body = req.Body
	}

	var tee *teeBuffer
	if body != nil {
		tee = newTeeBuffer(body)
	}

	var provisional *Result
	attempts := 0
	everAllowed := false

	for _, cand := range req.Candidates {
		select {
		case <-ctx.Done():
			if provisional != nil {
				return provisional, nil
			}
			return nil, ctx.Err()
		default:
		}

		// §4.4 step 2a: ask the RateLimiter once per candidate, using
		// that candidate's origin as the fingerprint's origin component.
		fp := ratelimit.Fingerprint(req.ClientIP + "|" + req.UserAgent + "|" + cand.Origin + "|" + req.Path)
		if !d.Limiter.Allow(fp, time.Now()) {
			metrics.RateLimitedInc()
			continue
		}
		everAllowed = true

		attempts++
		target, err := composeAndValidate(cand.Origin, req.UpstreamPath)
		if err != nil {
			metrics.CandidatesAttemptedObserve(attempts)
			return nil, ErrInvalidURL
		}

		var branch io.ReadCloser
		if tee != nil {
			branch = tee.branch()
		}

		resp, err := d.attempt(ctx, req.Method, target, headers.ToUpstream(req.ClientHeaders, cand.Origin), branch)
		if err != nil {
			continue
		}

		metrics.ObserveUpstreamResponse(hostOf(cand.Origin), req.Method, resp.StatusCode)

		if provisional == nil {
			provisional = &Result{Response: resp, Chosen: cand, Attempts: attempts, UpstreamURL: target}
		}
		if resp.StatusCode < 400 {
			metrics.CandidatesAttemptedObserve(attempts)
			return &Result{Response: resp, Chosen: cand, Attempts: attempts, UpstreamURL: target}, nil
		}
		if resp != provisional.Response {
			resp.Body.Close()
		}
	}

	metrics.CandidatesAttemptedObserve(attempts)
	if provisional == nil {
		if !everAllowed {
			metrics.RateLimitedInc()
			return nil, ErrRateLimited
		}
		return nil, ErrNoCandidates
	}
	return provisional, nil
}

// attempt issues one outbound HTTP request. Half-duplex streaming: the
// caller's Transport overlaps writing the request body with reading the
// response headers as the wire allows.
func (d *Dispatcher) attempt(ctx context.Context, method, target string, hdr http.Header, body io.ReadCloser) (*http.Response, error) {
	outReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	outReq.Header = hdr
	resp, err := httpClient.Do(outReq)
	if body != nil {
		defer body.Close()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// composeAndValidate builds origin+path and checks it against the §4.2
// URL grammar: an authority-requiring http(s) URL with a non-empty host.
func composeAndValidate(origin, path string) (string, error) {
	full := origin + path
	u, err := url.Parse(full)
	if err != nil {
		return "", ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return full, nil
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return origin
	}
	return u.Host
}
