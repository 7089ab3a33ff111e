package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskboard-api/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func openStream(t *testing.T, ctx context.Context, url string) (*bufio.Reader, *http.Response) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return bufio.NewReader(resp.Body), resp
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

func TestStreamDeliversOwnerEvents(t *testing.T) {
	broker := NewBroker()
	e := newTestEcho(t, Server{Boards: &mockBoards{}, Todos: &mockTodos{}, Broker: broker})
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, resp := openStream(t, ctx, srv.URL+"/api/stream?token=good.token.here")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if line := readLine(t, r); line != ":ok" {
		t.Fatalf("expected :ok preamble, got %q", line)
	}
	readLine(t, r)
	waitFor(t, time.Second, func() bool { return broker.Clients(testUser) == 1 })

	_ = broker.Publish(ctx, domain.Event{ID: "other", Type: domain.BoardCreated, OwnerID: "someone-else"})
	_ = broker.Publish(ctx, domain.Event{ID: "e1", Type: domain.TodoCreated, EntityID: "t1", BoardID: "b1", OwnerID: testUser})

	if line := readLine(t, r); line != "id: e1" {
		t.Fatalf("unexpected id line %q", line)
	}
	if line := readLine(t, r); line != "event: todo-created" {
		t.Fatalf("unexpected event line %q", line)
	}
	data := readLine(t, r)
	if !strings.HasPrefix(data, "data: ") || !strings.Contains(data, `"entityId":"t1"`) {
		t.Fatalf("unexpected data line %q", data)
	}

	cancel()
	waitFor(t, time.Second, func() bool { return broker.Clients(testUser) == 0 })
}

func TestStreamHeartbeat(t *testing.T) {
	broker := NewBroker()
	e := newTestEcho(t, Server{Boards: &mockBoards{}, Todos: &mockTodos{}, Broker: broker, Heartbeat: 20 * time.Millisecond})
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, _ := openStream(t, ctx, srv.URL+"/api/stream?token=good.token.here")
	readLine(t, r)
	readLine(t, r)
	if line := readLine(t, r); line != ":keepalive" {
		t.Fatalf("expected keepalive, got %q", line)
	}
}

func TestStreamRequiresToken(t *testing.T) {
	e := newTestEcho(t, Server{Boards: &mockBoards{}, Todos: &mockTodos{}, Broker: NewBroker()})
	rec := doRequest(e, http.MethodGet, "/api/stream", "", map[string]string{"Authorization": ""})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBrokerDropsForSlowClients(t *testing.T) {
	broker := NewBroker()
	ch := broker.subscribe("u1")
	defer broker.unsubscribe("u1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*2; i++ {
			_ = broker.Publish(context.Background(), domain.Event{ID: "e", OwnerID: "u1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full client")
	}
	if len(ch) != clientBuffer {
		t.Fatalf("expected buffered events to be kept, got %d", len(ch))
	}
}
