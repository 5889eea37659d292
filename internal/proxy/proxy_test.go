package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/sboxrun/sandboxd/internal/session"
)

type fakeLookup struct {
	sessions map[string]session.Session
	touched  []string
}

func (f *fakeLookup) Touch(id string) bool {
	f.touched = append(f.touched, id)
	_, ok := f.sessions[id]
	return ok
}

func (f *fakeLookup) Get(id string) (session.Session, bool) {
	s, ok := f.sessions[id]
	return s, ok
}

func TestProxy_FallsThroughForNonPreviewHost(t *testing.T) {
	fallthroughCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallthroughCalled = true
		w.WriteHeader(http.StatusOK)
	})
	p := New(&fakeLookup{sessions: map[string]session.Session{}}, "preview.test", next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "api.example.com"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if !fallthroughCalled {
		t.Error("expected request to fall through to next handler")
	}
}

func TestProxy_UnknownSessionIs404(t *testing.T) {
	p := New(&fakeLookup{sessions: map[string]session.Session{}}, "preview.test", http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "missing.preview.test"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProxy_RelaysToBackendPort(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from backend"))
	}))
	defer backend.Close()

	port := backendPort(t, backend.URL)
	lookup := &fakeLookup{sessions: map[string]session.Session{
		"abc": {ID: "abc", LastUsed: time.Now(), Ports: []uint16{uint16(port)}},
	}}
	p := New(lookup, "preview.test", http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Host = "abc.preview.test"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello from backend" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Backend") != "hit" {
		t.Error("expected backend header to be forwarded")
	}
	if len(lookup.touched) != 1 || lookup.touched[0] != "abc" {
		t.Errorf("touched = %v, want [abc]", lookup.touched)
	}
}

func TestProxy_BackendUnavailableIsBadGateway(t *testing.T) {
	lookup := &fakeLookup{sessions: map[string]session.Session{
		"abc": {ID: "abc", LastUsed: time.Now()},
	}}
	p := New(lookup, "preview.test", http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "abc.preview.test"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestProxy_UnsupportedMethodCollapsesToGet(t *testing.T) {
	var gotMethod string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	port := backendPort(t, backend.URL)
	lookup := &fakeLookup{sessions: map[string]session.Session{
		"abc": {ID: "abc", LastUsed: time.Now(), Ports: []uint16{uint16(port)}},
	}}
	p := New(lookup, "preview.test", http.NotFoundHandler())

	req := httptest.NewRequest("TRACE", "/", nil)
	req.Host = "abc.preview.test"
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if gotMethod != http.MethodGet {
		t.Errorf("backend saw method %q, want GET", gotMethod)
	}
}

func backendPort(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing backend url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing backend port: %v", err)
	}
	return port
}
