package api

import (
	"net/http"
	"testing"
)

func TestRateLimitPerUser(t *testing.T) {
	e := newTestEcho(t, Server{Boards: &mockBoards{}, Todos: &mockTodos{}, Auth: userAuth{}, RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		if rec := doRequest(e, http.MethodGet, "/api/boards", "", as("alice")); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := doRequest(e, http.MethodGet, "/api/boards", "", as("alice"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != "Too many requests" {
		t.Fatalf("unexpected message %q", msg)
	}

	if rec := doRequest(e, http.MethodGet, "/api/boards", "", as("bob")); rec.Code != http.StatusOK {
		t.Fatalf("other users keep their own budget, got %d", rec.Code)
	}
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	e := newTestEcho(t, Server{Boards: &mockBoards{}, Todos: &mockTodos{}})
	for i := 0; i < 50; i++ {
		if rec := doRequest(e, http.MethodGet, "/api/boards", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}
