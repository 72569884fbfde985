package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a committed store mutation.
type EventType string

const (
	EventPostAdded   EventType = "post_added"
	EventPostEdited  EventType = "post_edited"
	EventPostRemoved EventType = "post_removed"
	EventPostLiked   EventType = "post_liked"
)

// Event is published after a mutation commits and journaled by the worker.
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	PostID string    `json:"post_id"`
	Actor  string    `json:"actor,omitempty"`
	Post   *Post     `json:"post,omitempty"`
	At     time.Time `json:"at"`
}

// NewEvent stamps a new event with a random id and the current time.
// post may be nil for removals.
func NewEvent(typ EventType, postID, actor string, post *Post) Event {
	ev := Event{
		ID:     uuid.NewString(),
		Type:   typ,
		PostID: postID,
		Actor:  actor,
		At:     time.Now().UTC(),
	}
	if post != nil {
		c := post.Clone()
		ev.Post = &c
	}
	return ev
}
