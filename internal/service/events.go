package service

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/metrics"
	"github.com/trustgate/trustgate/internal/model"
)

// EventSink receives every security event the services emit
type EventSink interface {
	Insert(ctx context.Context, event *model.SecurityEvent) error
}

// emitEvent records a security event. A sink failure is logged and
// swallowed; recording must never fail the operation that produced it.
func emitEvent(ctx context.Context, sink EventSink, log *logger.Logger, category string, userID *string, payload map[string]interface{}) {
	event := &model.SecurityEvent{
		ID:        ulid.Make().String(),
		Category:  category,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	metrics.SecurityEvents.WithLabelValues(category).Inc()
	if err := sink.Insert(ctx, event); err != nil {
		log.Error().Err(err).Str("category", category).Msg("failed to record security event")
	}
}

func eventUser(userID string) *string {
	if userID == "" {
		return nil
	}
	return &userID
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
