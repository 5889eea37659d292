package session

import (
	"sync"
	"testing"
	"time"
)

func newTestSession(id string) *Session {
	return &Session{
		ID:          id,
		SandboxRoot: "/tmp/" + id,
		Env:         map[string]string{},
		Cwd:         "/",
		CreatedAt:   time.Now(),
		LastUsed:    time.Now(),
		Status:      StatusRunning,
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		if seen[id] {
			t.Fatalf("duplicate session id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestRegistry_InsertGetRemove(t *testing.T) {
	r := NewRegistry(10000, "preview.test")
	r.Insert(newTestSession("a"))

	got, ok := r.Get("a")
	if !ok {
		t.Fatal("expected session a to exist")
	}
	if got.ID != "a" {
		t.Errorf("ID = %q, want a", got.ID)
	}

	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Error("session a should be gone after Remove")
	}
}

func TestRegistry_Get_MissingReturnsFalse(t *testing.T) {
	r := NewRegistry(10000, "")
	if _, ok := r.Get("nope"); ok {
		t.Error("expected ok=false for missing session")
	}
}

func TestRegistry_Get_ReturnsIndependentSnapshot(t *testing.T) {
	r := NewRegistry(10000, "")
	r.Insert(newTestSession("a"))

	snap, _ := r.Get("a")
	snap.Env["X"] = "mutated"

	got, _ := r.Get("a")
	if _, present := got.Env["X"]; present {
		t.Error("mutating a Get() snapshot should not affect the registry")
	}
}

func TestRegistry_Update(t *testing.T) {
	r := NewRegistry(10000, "")
	r.Insert(newTestSession("a"))

	ok := r.Update("a", func(s *Session) {
		s.Cwd = "/work"
	})
	if !ok {
		t.Fatal("Update on existing session should succeed")
	}

	got, _ := r.Get("a")
	if got.Cwd != "/work" {
		t.Errorf("Cwd = %q, want /work", got.Cwd)
	}
}

func TestRegistry_Update_MissingReturnsFalse(t *testing.T) {
	r := NewRegistry(10000, "")
	if r.Update("nope", func(s *Session) {}) {
		t.Error("Update on missing session should return false")
	}
}

func TestRegistry_Values(t *testing.T) {
	r := NewRegistry(10000, "")
	r.Insert(newTestSession("a"))
	r.Insert(newTestSession("b"))

	vals := r.Values()
	if len(vals) != 2 {
		t.Fatalf("got %d sessions, want 2", len(vals))
	}
}

func TestRegistry_AllocatePort_Monotonic(t *testing.T) {
	r := NewRegistry(10000, "")
	first := r.AllocatePort()
	second := r.AllocatePort()

	if first != 10000 {
		t.Errorf("first port = %d, want 10000", first)
	}
	if second != 10001 {
		t.Errorf("second port = %d, want 10001", second)
	}
}

func TestRegistry_AllocatePort_Linearizable(t *testing.T) {
	r := NewRegistry(10000, "")
	const n = 200
	seen := make(chan uint16, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- r.AllocatePort()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint16]bool)
	for p := range seen {
		if unique[p] {
			t.Fatalf("port %d allocated twice", p)
		}
		unique[p] = true
	}
	if len(unique) != n {
		t.Fatalf("got %d unique ports, want %d", len(unique), n)
	}
}

func TestRegistry_Touch(t *testing.T) {
	r := NewRegistry(10000, "")
	s := newTestSession("a")
	s.LastUsed = time.Now().Add(-time.Hour)
	r.Insert(s)

	if !r.Touch("a") {
		t.Fatal("Touch should succeed for an existing session")
	}
	got, _ := r.Get("a")
	if time.Since(got.LastUsed) > time.Second {
		t.Errorf("LastUsed was not refreshed: %v", got.LastUsed)
	}
}
