package domain

import (
	"sort"
	"time"
)

// DefaultBoardColor is applied when a board is created without a color.
const DefaultBoardColor = "#3B82F6"

// Board groups the todos of a single owner.
type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BoardInput is the payload for creating a board.
type BoardInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// BoardPatch carries the fields of a board update. Absent fields are left
// untouched. An empty title or color counts as absent; a null or empty
// description clears it.
type BoardPatch struct {
	Title       *string          `json:"title,omitempty"`
	Description Optional[string] `json:"description"`
	Color       *string          `json:"color,omitempty"`
}

// SortBoards orders boards newest first.
func SortBoards(boards []Board) {
	sort.SliceStable(boards, func(i, j int) bool {
		return boards[i].CreatedAt.After(boards[j].CreatedAt)
	})
}
