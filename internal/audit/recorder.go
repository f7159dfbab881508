package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/metrics"
	"github.com/smarttutor-systems/trustcore/internal/models"
)

// EventStore is the slice of the repository the recorder needs.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.SecurityEvent) error
}

// Sink receives every recorded event after it has been persisted. Sinks
// must not block; slow consumers buffer or drop on their own side.
type Sink interface {
	HandleEvent(ctx context.Context, event *models.SecurityEvent)
}

// Recorder is the single write path for the security event log. Events are
// appended, never updated, and every append fans out to the registered
// sinks.
type Recorder struct {
	store  EventStore
	logger *logging.Logger
	sinks  []Sink

	now func() time.Time
}

func NewRecorder(store EventStore, logger *logging.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// AddSink registers a consumer for future events. Not safe to call after
// Record is in use; wire sinks during startup.
func (r *Recorder) AddSink(sink Sink) {
	r.sinks = append(r.sinks, sink)
}

// Record persists the event and notifies the sinks. The write survives
// request cancellation: an aborted login must still leave its trace.
func (r *Recorder) Record(ctx context.Context, event *models.SecurityEvent) {
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}

	ctx = context.WithoutCancel(ctx)

	if err := r.store.AppendEvent(ctx, event); err != nil {
		r.logger.WithContext(ctx).Error("failed to append security event",
			"event_type", event.Type,
			"error", err,
		)
		return
	}

	metrics.SecurityEvents.WithLabelValues(string(event.Type)).Inc()
	r.logger.WithContext(ctx).Info("security event recorded",
		"event_id", event.ID,
		"event_type", event.Type,
		"severity", event.Severity,
		"user_id", event.UserID,
		"ip", event.IPAddress,
	)

	for _, sink := range r.sinks {
		sink.HandleEvent(ctx, event)
	}
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
