package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TodoService manages the todos of a board. Board ownership is checked
// through the BoardService.
type TodoService struct {
	store     TodoStore
	boards    *BoardService
	publisher Publisher
	now       func() time.Time
	newID     func() string
}

// NewTodoService creates a TodoService. A nil publisher disables change
// events.
func NewTodoService(store TodoStore, boards *BoardService, publisher Publisher) *TodoService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &TodoService{
		store:     store,
		boards:    boards,
		publisher: publisher,
		now:       nowMicros,
		newID:     uuid.NewString,
	}
}

// ListByBoard returns the todos of an owned board sorted by order ascending
// and creation time descending.
func (s *TodoService) ListByBoard(ctx context.Context, ownerID, boardID string, filter TodoFilter) ([]Todo, error) {
	if filter.Status != nil && !validStatus(*filter.Status) {
		return nil, NewValidationError("status", fieldMessages["status.oneof"])
	}
	if _, err := s.boards.Get(ctx, ownerID, boardID); err != nil {
		return nil, err
	}
	todos, err := s.store.ListTodos(ctx, ownerID, boardID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	out := make([]Todo, 0, len(todos))
	for _, t := range todos {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Summary counts the todos of an owned board per status.
func (s *TodoService) Summary(ctx context.Context, ownerID, boardID string) (Summary, error) {
	if _, err := s.boards.Get(ctx, ownerID, boardID); err != nil {
		return Summary{}, err
	}
	todos, err := s.store.ListTodos(ctx, ownerID, boardID)
	if err != nil {
		return Summary{}, fmt.Errorf("list todos: %w", err)
	}
	sum := Summary{BoardID: boardID, Total: len(todos), ByStatus: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		sum.ByStatus[st] = 0
	}
	for _, t := range todos {
		sum.ByStatus[t.Status]++
	}
	return sum, nil
}

// Get returns the todo if it exists and belongs to ownerID.
func (s *TodoService) Get(ctx context.Context, ownerID, todoID string) (Todo, error) {
	t, err := s.store.GetTodo(ctx, ownerID, todoID)
	if err != nil {
		return Todo{}, fmt.Errorf("get todo: %w", err)
	}
	if t == nil {
		return Todo{}, ErrTodoNotFound
	}
	return *t, nil
}

// Create validates the input and appends a todo to an owned board.
func (s *TodoService) Create(ctx context.Context, ownerID, boardID string, in TodoInput) (Todo, error) {
	rules := todoRules{
		Title:    strings.TrimSpace(in.Title),
		Status:   string(StatusPending),
		Priority: string(PriorityMedium),
	}
	if in.Description != nil {
		rules.Description = strings.TrimSpace(*in.Description)
	}
	if v, ok := nonBlank(in.Status); ok {
		rules.Status = v
	}
	if v, ok := nonBlank(in.Priority); ok {
		rules.Priority = v
	}
	if in.DueDate != nil {
		rules.DueDate = strings.TrimSpace(*in.DueDate)
	}
	if err := check(rules); err != nil {
		return Todo{}, err
	}

	board, err := s.boards.Get(ctx, ownerID, boardID)
	if err != nil {
		return Todo{}, err
	}

	now := s.now()
	t := Todo{
		ID:          s.newID(),
		Title:       rules.Title,
		Description: rules.Description,
		Status:      Status(rules.Status),
		Priority:    Priority(rules.Priority),
		DueDate:     dueDatePtr(rules.DueDate),
		BoardID:     board.ID,
		OwnerID:     board.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.store.CreateTodo(ctx, t)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Todo{}, ErrBoardNotFound
		}
		return Todo{}, fmt.Errorf("create todo: %w", err)
	}
	s.publish(ctx, TodoCreated, created, created)
	return created, nil
}

// Update applies the fields present in patch. Sibling orders are never
// touched.
func (s *TodoService) Update(ctx context.Context, ownerID, todoID string, patch TodoPatch) (Todo, error) {
	t, err := s.Get(ctx, ownerID, todoID)
	if err != nil {
		return Todo{}, err
	}

	rules := todoRules{
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Order:       t.Order,
	}
	if patch.Title != nil {
		if title := strings.TrimSpace(*patch.Title); title != "" {
			rules.Title = title
		}
	}
	if patch.Description.Set {
		rules.Description = strings.TrimSpace(patch.Description.Value)
	}
	if v, ok := nonBlank(patch.Status); ok {
		rules.Status = v
	}
	if v, ok := nonBlank(patch.Priority); ok {
		rules.Priority = v
	}
	if patch.DueDate.Set && !patch.DueDate.Null {
		rules.DueDate = strings.TrimSpace(patch.DueDate.Value)
	}
	if patch.Order != nil {
		rules.Order = *patch.Order
	}
	if err := check(rules); err != nil {
		return Todo{}, err
	}

	t.Title = rules.Title
	t.Description = rules.Description
	t.Status = Status(rules.Status)
	t.Priority = Priority(rules.Priority)
	if patch.DueDate.Set {
		t.DueDate = dueDatePtr(rules.DueDate)
	}
	t.Order = rules.Order
	return s.save(ctx, t)
}

// SetOrder moves a todo to the given sparse position.
func (s *TodoService) SetOrder(ctx context.Context, ownerID, todoID string, order *int) (Todo, error) {
	if order == nil {
		return Todo{}, NewValidationError("order", "Order is required")
	}
	if *order < 0 {
		return Todo{}, NewValidationError("order", fieldMessages["order.min"])
	}
	if *order > MaxOrder {
		return Todo{}, NewValidationError("order", fmt.Sprintf(fieldMessages["order.max"], strconv.Itoa(MaxOrder)))
	}
	t, err := s.Get(ctx, ownerID, todoID)
	if err != nil {
		return Todo{}, err
	}
	t.Order = *order
	return s.save(ctx, t)
}

// Delete removes a single todo.
func (s *TodoService) Delete(ctx context.Context, ownerID, todoID string) error {
	t, err := s.Get(ctx, ownerID, todoID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTodo(ctx, ownerID, t.BoardID, todoID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTodoNotFound
		}
		return fmt.Errorf("delete todo: %w", err)
	}
	s.publish(ctx, TodoDeleted, t, nil)
	return nil
}

func (s *TodoService) save(ctx context.Context, t Todo) (Todo, error) {
	t.UpdatedAt = s.now()
	if err := s.store.UpdateTodo(ctx, t); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Todo{}, ErrTodoNotFound
		}
		return Todo{}, fmt.Errorf("update todo: %w", err)
	}
	s.publish(ctx, TodoUpdated, t, t)
	return t, nil
}

func (s *TodoService) publish(ctx context.Context, typ string, t Todo, data any) {
	publishEvent(ctx, s.publisher, Event{
		ID:         s.newID(),
		Type:       typ,
		EntityType: "todo",
		EntityID:   t.ID,
		BoardID:    t.BoardID,
		OwnerID:    t.OwnerID,
		Time:       s.now().UnixNano(),
	}, data)
}

func validStatus(st Status) bool {
	for _, s := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// dueDatePtr parses an already validated due date; empty means unset.
func dueDatePtr(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := ParseDueDate(raw)
	if err != nil {
		return nil
	}
	return &t
}
