package api

import (
	"context"

	"taskboard-api/domain"
)

// BoardService is the board use-case surface the handlers depend on.
type BoardService interface {
	List(ctx context.Context, ownerID string) ([]domain.Board, error)
	Get(ctx context.Context, ownerID, boardID string) (domain.Board, error)
	Create(ctx context.Context, ownerID string, in domain.BoardInput) (domain.Board, error)
	Update(ctx context.Context, ownerID, boardID string, patch domain.BoardPatch) (domain.Board, error)
	Delete(ctx context.Context, ownerID, boardID string) error
}

// TodoService is the todo use-case surface the handlers depend on.
type TodoService interface {
	ListByBoard(ctx context.Context, ownerID, boardID string, filter domain.TodoFilter) ([]domain.Todo, error)
	Summary(ctx context.Context, ownerID, boardID string) (domain.Summary, error)
	Get(ctx context.Context, ownerID, todoID string) (domain.Todo, error)
	Create(ctx context.Context, ownerID, boardID string, in domain.TodoInput) (domain.Todo, error)
	Update(ctx context.Context, ownerID, todoID string, patch domain.TodoPatch) (domain.Todo, error)
	SetOrder(ctx context.Context, ownerID, todoID string, order *int) (domain.Todo, error)
	Delete(ctx context.Context, ownerID, todoID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}
