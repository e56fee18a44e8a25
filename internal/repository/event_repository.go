package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trustgate/trustgate/internal/database"
	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/store"
)

// EventChannel is the pub/sub channel live security events are mirrored to
const EventChannel = "events:security"

// EventRepository persists security events to the audit table and
// mirrors them to the live channel.
type EventRepository struct {
	db *database.Postgres
	st store.Store
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *database.Postgres, st store.Store) *EventRepository {
	return &EventRepository{db: db, st: st}
}

// Insert writes a security event. The pub/sub mirror is best-effort;
// only the table write decides success.
func (r *EventRepository) Insert(ctx context.Context, event *model.SecurityEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO security_events (id, category, user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.ExecContext(ctx, query, event.ID, event.Category, event.UserID, payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	if raw, err := json.Marshal(event); err == nil {
		_ = r.st.Publish(ctx, EventChannel, string(raw))
	}
	return nil
}
