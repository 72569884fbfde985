package store

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/photoposts/internal/models"
	"github.com/gocql/gocql"
)

// --- Journal operations ---

// AppendEvent stores ev under its post id. The post snapshot, when
// present, is kept as JSON.
func (j *Journal) AppendEvent(ev models.Event) error {
	eventID, err := gocql.ParseUUID(ev.ID)
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}

	var payload string
	if ev.Post != nil {
		data, err := json.Marshal(ev.Post)
		if err != nil {
			return fmt.Errorf("failed to marshal post snapshot: %w", err)
		}
		payload = string(data)
	}

	if err := j.Session.Query(`
		INSERT INTO post_events (post_id, at, event_id, type, actor, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.PostID, ev.At, eventID, string(ev.Type), ev.Actor, payload,
	).Exec(); err != nil {
		logg.Error("journal", "Failed to append post event", err)
		return err
	}

	logg.Debug("journal", "Event journaled type="+string(ev.Type)+" post_id="+ev.PostID)
	return nil
}

// History returns up to limit events for postID, newest first.
func (j *Journal) History(postID string, limit int) ([]models.Event, error) {
	iter := j.Session.Query(`
		SELECT event_id, type, actor, payload, at
		FROM post_events WHERE post_id = ? LIMIT ?`,
		postID, limit,
	).Iter()

	var res []models.Event
	var eventID gocql.UUID
	var typ, actor, payload string
	var at time.Time

	for iter.Scan(&eventID, &typ, &actor, &payload, &at) {
		ev := models.Event{
			ID:     eventID.String(),
			Type:   models.EventType(typ),
			PostID: postID,
			Actor:  actor,
			At:     at,
		}
		if payload != "" {
			var p models.Post
			if err := json.Unmarshal([]byte(payload), &p); err != nil {
				logg.Error("journal", "Skipping unreadable post snapshot", err)
			} else {
				ev.Post = &p
			}
		}
		res = append(res, ev)
		payload = ""
	}

	if err := iter.Close(); err != nil {
		logg.Error("journal", "Failed to read post history", err)
		return nil, err
	}

	return res, nil
}
