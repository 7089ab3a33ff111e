package domain

import "context"

// BoardStore persists boards. Every lookup is scoped to the owner; Get returns
// nil, nil when no board with that id belongs to the owner.
type BoardStore interface {
	ListBoards(ctx context.Context, ownerID string) ([]Board, error)
	GetBoard(ctx context.Context, ownerID, boardID string) (*Board, error)
	InsertBoard(ctx context.Context, b Board) error
	UpdateBoard(ctx context.Context, b Board) error
	// DeleteBoard removes the board and all of its todos in one atomic step
	// and reports how many todos went with it.
	DeleteBoard(ctx context.Context, ownerID, boardID string) (int, error)
}

// TodoStore persists todos.
type TodoStore interface {
	// ListTodos returns the todos of a board sorted as SortTodos does.
	ListTodos(ctx context.Context, ownerID, boardID string) ([]Todo, error)
	GetTodo(ctx context.Context, ownerID, todoID string) (*Todo, error)
	// CreateTodo assigns the next order on the board atomically with the
	// insert and returns the stored todo. ErrBoardNotFound is returned when
	// the board no longer exists.
	CreateTodo(ctx context.Context, t Todo) (Todo, error)
	UpdateTodo(ctx context.Context, t Todo) error
	DeleteTodo(ctx context.Context, ownerID, boardID, todoID string) error
}

// Store is the full persistence contract.
type Store interface {
	BoardStore
	TodoStore
}
