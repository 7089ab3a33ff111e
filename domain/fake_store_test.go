package domain

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeStore struct {
	mu     sync.Mutex
	boards map[string]Board
	todos  map[string]Todo
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{boards: map[string]Board{}, todos: map[string]Todo{}}
}

func (f *fakeStore) ListBoards(ctx context.Context, ownerID string) ([]Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []Board
	for _, b := range f.boards {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	SortBoards(out)
	return out, nil
}

func (f *fakeStore) GetBoard(ctx context.Context, ownerID, boardID string) (*Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.boards[boardID]
	if !ok || b.OwnerID != ownerID {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeStore) InsertBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) UpdateBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cur, ok := f.boards[b.ID]
	if !ok || cur.OwnerID != b.OwnerID {
		return ErrBoardNotFound
	}
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) DeleteBoard(ctx context.Context, ownerID, boardID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	b, ok := f.boards[boardID]
	if !ok || b.OwnerID != ownerID {
		return 0, ErrBoardNotFound
	}
	removed := 0
	for id, t := range f.todos {
		if t.BoardID == boardID {
			delete(f.todos, id)
			removed++
		}
	}
	delete(f.boards, boardID)
	return removed, nil
}

func (f *fakeStore) ListTodos(ctx context.Context, ownerID, boardID string) ([]Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.boardTodos(ownerID, boardID), nil
}

func (f *fakeStore) boardTodos(ownerID, boardID string) []Todo {
	var out []Todo
	for _, t := range f.todos {
		if t.OwnerID == ownerID && t.BoardID == boardID {
			out = append(out, t)
		}
	}
	SortTodos(out)
	return out
}

func (f *fakeStore) GetTodo(ctx context.Context, ownerID, todoID string) (*Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.todos[todoID]
	if !ok || t.OwnerID != ownerID {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) CreateTodo(ctx context.Context, t Todo) (Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Todo{}, f.err
	}
	b, ok := f.boards[t.BoardID]
	if !ok || b.OwnerID != t.OwnerID {
		return Todo{}, ErrBoardNotFound
	}
	t.Order = NextOrder(f.boardTodos(t.OwnerID, t.BoardID))
	f.todos[t.ID] = t
	return t, nil
}

func (f *fakeStore) UpdateTodo(ctx context.Context, t Todo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cur, ok := f.todos[t.ID]
	if !ok || cur.OwnerID != t.OwnerID {
		return ErrTodoNotFound
	}
	f.todos[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTodo(ctx context.Context, ownerID, boardID, todoID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cur, ok := f.todos[todoID]
	if !ok || cur.OwnerID != ownerID {
		return ErrTodoNotFound
	}
	delete(f.todos, todoID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// newTestServices wires both services to one fake store with a clock that
// advances one second per call and sequential ids.
func newTestServices(store *fakeStore, pub Publisher) (*BoardService, *TodoService) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	seq := 0
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	boards := NewBoardService(store, pub)
	boards.now, boards.newID = now, newID
	todos := NewTodoService(store, boards, pub)
	todos.now, todos.newID = now, newID
	return boards, todos
}
