package dispatch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felipecampolina/urlproxy/internal/dispatch"
	"github.com/felipecampolina/urlproxy/internal/ratelimit"
	"github.com/felipecampolina/urlproxy/internal/resolver"
)

func newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(ratelimit.New(3*time.Second, 1000))
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hi"))
	}))
	defer srv.Close()

	d := newDispatcher()
	res, err := d.Do(context.Background(), dispatch.Request{
		Method:        http.MethodGet,
		ClientHeaders: http.Header{},
		UpstreamPath:  "/",
		Candidates:    []resolver.Candidate{{Origin: srv.URL, ListIndex: -1}},
		ClientIP:      "203.0.113.1",
		UserAgent:     "test-agent",
		Path:          "/",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Response.StatusCode)
	}
	if res.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", res.Attempts)
	}
	res.Response.Body.Close()
}

// Scenario 2: first candidate 503s, second candidate 200s — the second
// candidate's response wins and is what the caller sees.
func TestDoFallsThroughToSecondCandidateOn5xx(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>ok</html>"))
	}))
	defer good.Close()

	d := newDispatcher()
	res, err := d.Do(context.Background(), dispatch.Request{
		Method:        http.MethodGet,
		ClientHeaders: http.Header{},
		UpstreamPath:  "/",
		Candidates: []resolver.Candidate{
			{Origin: bad.URL, ListIndex: 0},
			{Origin: good.URL, ListIndex: 1},
		},
		ClientIP:  "203.0.113.1",
		UserAgent: "test-agent",
		Path:      "/",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Chosen.Origin != good.URL {
		t.Fatalf("Chosen = %v, want the second (good) candidate", res.Chosen)
	}
	if res.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", res.Attempts)
	}
	res.Response.Body.Close()
}

func TestDoReturnsProvisionalWhenAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := newDispatcher()
	res, err := d.Do(context.Background(), dispatch.Request{
		Method:        http.MethodGet,
		ClientHeaders: http.Header{},
		UpstreamPath:  "/",
		Candidates: []resolver.Candidate{
			{Origin: srv.URL, ListIndex: 0},
			{Origin: srv.URL, ListIndex: 1},
		},
		ClientIP:  "203.0.113.1",
		UserAgent: "test-agent",
		Path:      "/",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Response.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected provisional 503, got %d", res.Response.StatusCode)
	}
	res.Response.Body.Close()
}

func TestDoRejectsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	limiter := ratelimit.New(3*time.Second, 1)
	d := dispatch.New(limiter)
	cands := []resolver.Candidate{{Origin: srv.URL, ListIndex: -1}}
	req := dispatch.Request{
		Method:        http.MethodGet,
		ClientHeaders: http.Header{},
		UpstreamPath:  "/",
		Candidates:    cands,
		ClientIP:      "203.0.113.1",
		UserAgent:     "test-agent",
		Path:          "/",
	}

	res, err := d.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	res.Response.Body.Close()

	_, err = d.Do(context.Background(), req)
	if err != dispatch.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

// The rate limiter's fingerprint includes the candidate's origin, so
// saturating one candidate's limit must not stop a different-origin
// candidate in the same request from being attempted.
func TestDoSkipsOnlySaturatedCandidateNotWholeRequest(t *testing.T) {
	var hits int
	saturated := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer saturated.Close()
	fresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fresh.Close()

	limiter := ratelimit.New(3*time.Second, 1)
	d := dispatch.New(limiter)

	saturatingReq := dispatch.Request{
		Method:        http.MethodGet,
		ClientHeaders: http.Header{},
		UpstreamPath:  "/",
		Candidates:    []resolver.Candidate{{Origin: saturated.URL, ListIndex: -1}},
		ClientIP:      "203.0.113.1",
		UserAgent:     "test-agent",
		Path:          "/",
	}
	res, err := d.Do(context.Background(), saturatingReq)
	if err != nil {
		t.Fatalf("saturating attempt: %v", err)
	}
	res.Response.Body.Close()
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}

	// Same client/path now tries two candidates; saturated's fingerprint
	// is already at its limit, fresh's fingerprint (different origin) is
	// untouched and should still be attempted and win.
	res, err = d.Do(context.Background(), dispatch.Request{
		Method:        http.MethodGet,
		ClientHeaders: http.Header{},
		UpstreamPath:  "/",
		Candidates: []resolver.Candidate{
			{Origin: saturated.URL, ListIndex: 0},
			{Origin: fresh.URL, ListIndex: 1},
		},
		ClientIP:  "203.0.113.1",
		UserAgent: "test-agent",
		Path:      "/",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer res.Response.Body.Close()
	if res.Chosen.Origin != fresh.URL {
		t.Fatalf("Chosen = %v, want the fresh candidate", res.Chosen)
	}
	if hits != 1 {
		t.Fatalf("saturated candidate should not have been attempted again, hits = %d", hits)
	}
}

func TestDoTeesBodyAcrossCandidates(t *testing.T) {
	var seenBodies []string
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBodies = append(seenBodies, string(b))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBodies = append(seenBodies, string(b))
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	d := newDispatcher()
	body := io.NopCloser(strings.NewReader("payload"))
	res, err := d.Do(context.Background(), dispatch.Request{
		Method:        http.MethodPost,
		ClientHeaders: http.Header{},
		Body:          body,
		UpstreamPath:  "/",
		Candidates: []resolver.Candidate{
			{Origin: bad.URL, ListIndex: 0},
			{Origin: good.URL, ListIndex: 1},
		},
		ClientIP:  "203.0.113.1",
		UserAgent: "test-agent",
		Path:      "/",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Response.Body.Close()

	if len(seenBodies) != 2 || seenBodies[0] != "payload" || seenBodies[1] != "payload" {
		t.Fatalf("both candidates should see the full body, got %v", seenBodies)
	}
}

func TestDoRejectsEmptyCandidateList(t *testing.T) {
	d := newDispatcher()
	_, err := d.Do(context.Background(), dispatch.Request{
		Method:        http.MethodGet,
		ClientHeaders: http.Header{},
		ClientIP:      "203.0.113.1",
		UserAgent:     "test-agent",
		Path:          "/",
	})
	if err != dispatch.ErrNoCandidates {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}
