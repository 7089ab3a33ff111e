package storage

import (
	"context"
	"sync"

	"taskboard-api/domain"
)

// MemoryStore keeps everything in process memory. It is meant for local
// development and tests; a single mutex makes every operation atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	boards map[string]domain.Board
	todos  map[string]domain.Todo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: map[string]domain.Board{}, todos: map[string]domain.Todo{}}
}

func (m *MemoryStore) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	boards := []domain.Board{}
	for _, b := range m.boards {
		if b.OwnerID == ownerID {
			boards = append(boards, b)
		}
	}
	domain.SortBoards(boards)
	return boards, nil
}

func (m *MemoryStore) GetBoard(ctx context.Context, ownerID, boardID string) (*domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[boardID]
	if !ok || b.OwnerID != ownerID {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryStore) InsertBoard(ctx context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = b
	return nil
}

func (m *MemoryStore) UpdateBoard(ctx context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.boards[b.ID]
	if !ok || cur.OwnerID != b.OwnerID {
		return domain.ErrBoardNotFound
	}
	m.boards[b.ID] = b
	return nil
}

func (m *MemoryStore) DeleteBoard(ctx context.Context, ownerID, boardID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok || b.OwnerID != ownerID {
		return 0, domain.ErrBoardNotFound
	}
	removed := 0
	for id, t := range m.todos {
		if t.BoardID == boardID {
			delete(m.todos, id)
			removed++
		}
	}
	delete(m.boards, boardID)
	return removed, nil
}

func (m *MemoryStore) boardTodos(ownerID, boardID string) []domain.Todo {
	todos := []domain.Todo{}
	for _, t := range m.todos {
		if t.OwnerID == ownerID && t.BoardID == boardID {
			todos = append(todos, t)
		}
	}
	domain.SortTodos(todos)
	return todos
}

func (m *MemoryStore) ListTodos(ctx context.Context, ownerID, boardID string) ([]domain.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boardTodos(ownerID, boardID), nil
}

func (m *MemoryStore) GetTodo(ctx context.Context, ownerID, todoID string) (*domain.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.todos[todoID]
	if !ok || t.OwnerID != ownerID {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStore) CreateTodo(ctx context.Context, t domain.Todo) (domain.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[t.BoardID]
	if !ok || b.OwnerID != t.OwnerID {
		return domain.Todo{}, domain.ErrBoardNotFound
	}
	t.Order = domain.NextOrder(m.boardTodos(t.OwnerID, t.BoardID))
	m.todos[t.ID] = t
	return t, nil
}

func (m *MemoryStore) UpdateTodo(ctx context.Context, t domain.Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.todos[t.ID]
	if !ok || cur.OwnerID != t.OwnerID {
		return domain.ErrTodoNotFound
	}
	m.todos[t.ID] = t
	return nil
}

func (m *MemoryStore) DeleteTodo(ctx context.Context, ownerID, boardID, todoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.todos[todoID]
	if !ok || cur.OwnerID != ownerID {
		return domain.ErrTodoNotFound
	}
	delete(m.todos, todoID)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
