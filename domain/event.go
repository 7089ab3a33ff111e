package domain

import (
	"context"
	"encoding/json"
)

// Event types emitted after successful mutations.
const (
	BoardCreated = "board-created"
	BoardUpdated = "board-updated"
	BoardDeleted = "board-deleted"
	TodoCreated  = "todo-created"
	TodoUpdated  = "todo-updated"
	TodoDeleted  = "todo-deleted"
)

// Event represents a change in the domain model.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	BoardID    string          `json:"boardId"`
	OwnerID    string          `json:"ownerId"`
	Time       int64           `json:"time"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Publisher delivers change events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
