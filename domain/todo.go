package domain

import (
	"sort"
	"time"
)

// Status is the progress state of a todo. Any transition is allowed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// Priority ranks a todo.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Todo is a single task on a board.
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	BoardID     string     `json:"boardId"`
	OwnerID     string     `json:"ownerId"`
	Order       int        `json:"order"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TodoInput is the payload for creating a todo.
type TodoInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
}

// TodoPatch carries the fields of a todo update. Empty title, status and
// priority count as absent; a null or empty description clears it and a null
// dueDate clears the due date.
type TodoPatch struct {
	Title       *string          `json:"title,omitempty"`
	Description Optional[string] `json:"description"`
	Status      *string          `json:"status,omitempty"`
	Priority    *string          `json:"priority,omitempty"`
	DueDate     Optional[string] `json:"dueDate"`
	Order       *int             `json:"order,omitempty"`
}

// TodoFilter narrows a board listing.
type TodoFilter struct {
	Status *Status
}

// Summary counts the todos of a board per status.
type Summary struct {
	BoardID  string         `json:"boardId"`
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"byStatus"`
}

// SortTodos orders todos by order ascending, breaking ties newest first.
func SortTodos(todos []Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		if todos[i].Order != todos[j].Order {
			return todos[i].Order < todos[j].Order
		}
		return todos[i].CreatedAt.After(todos[j].CreatedAt)
	})
}

// NextOrder returns the order a new todo appended to todos receives.
func NextOrder(todos []Todo) int {
	next := 0
	for _, t := range todos {
		if t.Order+1 > next {
			next = t.Order + 1
		}
	}
	return next
}
