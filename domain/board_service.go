package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// BoardService manages boards on behalf of their owners.
type BoardService struct {
	store     BoardStore
	publisher Publisher
	now       func() time.Time
	newID     func() string
}

// NewBoardService creates a BoardService. A nil publisher disables change
// events.
func NewBoardService(store BoardStore, publisher Publisher) *BoardService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &BoardService{
		store:     store,
		publisher: publisher,
		now:       nowMicros,
		newID:     uuid.NewString,
	}
}

// List returns the owner's boards, newest first.
func (s *BoardService) List(ctx context.Context, ownerID string) ([]Board, error) {
	boards, err := s.store.ListBoards(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	if boards == nil {
		boards = []Board{}
	}
	return boards, nil
}

// Get returns the board if it exists and belongs to ownerID.
func (s *BoardService) Get(ctx context.Context, ownerID, boardID string) (Board, error) {
	b, err := s.store.GetBoard(ctx, ownerID, boardID)
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}
	if b == nil {
		return Board{}, ErrBoardNotFound
	}
	return *b, nil
}

// Create validates the input and persists a new board.
func (s *BoardService) Create(ctx context.Context, ownerID string, in BoardInput) (Board, error) {
	rules := boardRules{Title: strings.TrimSpace(in.Title), Color: DefaultBoardColor}
	if in.Description != nil {
		rules.Description = strings.TrimSpace(*in.Description)
	}
	if v, ok := nonBlank(in.Color); ok {
		rules.Color = v
	}
	if err := check(rules); err != nil {
		return Board{}, err
	}

	now := s.now()
	b := Board{
		ID:          s.newID(),
		Title:       rules.Title,
		Description: rules.Description,
		Color:       NormalizeColor(rules.Color),
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertBoard(ctx, b); err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	s.publish(ctx, BoardCreated, b, b)
	return b, nil
}

// Update applies the fields present in patch.
func (s *BoardService) Update(ctx context.Context, ownerID, boardID string, patch BoardPatch) (Board, error) {
	b, err := s.Get(ctx, ownerID, boardID)
	if err != nil {
		return Board{}, err
	}

	rules := boardRules{Title: b.Title, Description: b.Description, Color: b.Color}
	if patch.Title != nil {
		if title := strings.TrimSpace(*patch.Title); title != "" {
			rules.Title = title
		}
	}
	if patch.Description.Set {
		rules.Description = strings.TrimSpace(patch.Description.Value)
	}
	if v, ok := nonBlank(patch.Color); ok {
		rules.Color = v
	}
	if err := check(rules); err != nil {
		return Board{}, err
	}

	b.Title = rules.Title
	b.Description = rules.Description
	b.Color = NormalizeColor(rules.Color)
	b.UpdatedAt = s.now()
	if err := s.store.UpdateBoard(ctx, b); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Board{}, ErrBoardNotFound
		}
		return Board{}, fmt.Errorf("update board: %w", err)
	}
	s.publish(ctx, BoardUpdated, b, b)
	return b, nil
}

// Delete removes the board together with all of its todos.
func (s *BoardService) Delete(ctx context.Context, ownerID, boardID string) error {
	b, err := s.Get(ctx, ownerID, boardID)
	if err != nil {
		return err
	}
	removed, err := s.store.DeleteBoard(ctx, ownerID, boardID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrBoardNotFound
		}
		return fmt.Errorf("delete board: %w", err)
	}
	log.WithFields(log.Fields{"board": boardID, "todos": removed}).Debug("board deleted")
	s.publish(ctx, BoardDeleted, b, map[string]int{"todosDeleted": removed})
	return nil
}

// nowMicros is the current UTC time at the microsecond precision Postgres
// keeps, so a created entity reads back unchanged.
func nowMicros() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *BoardService) publish(ctx context.Context, typ string, b Board, data any) {
	publishEvent(ctx, s.publisher, Event{
		ID:         s.newID(),
		Type:       typ,
		EntityType: "board",
		EntityID:   b.ID,
		BoardID:    b.ID,
		OwnerID:    b.OwnerID,
		Time:       s.now().UnixNano(),
	}, data)
}

// publishEvent attaches data to ev and hands it to the publisher. Failures are
// logged and never surface to the caller.
func publishEvent(ctx context.Context, p Publisher, ev Event, data any) {
	if data != nil {
		raw, err := sonic.Marshal(data)
		if err != nil {
			log.WithError(err).WithField("event", ev.Type).Error("marshal change event")
			return
		}
		ev.Data = raw
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{"event": ev.Type, "entity": ev.EntityID}).Error("publish change event")
	}
}
