package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/repository"
)

type captureSink struct {
	events []*models.SecurityEvent
}

func (s *captureSink) HandleEvent(ctx context.Context, event *models.SecurityEvent) {
	s.events = append(s.events, event)
}

type failingEventStore struct{}

func (failingEventStore) AppendEvent(ctx context.Context, event *models.SecurityEvent) error {
	return errors.New("store down")
}

func testLogger() *logging.Logger {
	return logging.New(logging.ParseLevel("error"), "text")
}

func TestRecordFillsDefaultsAndFansOut(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemoryRepository()
	recorder := NewRecorder(repo, testLogger())
	sink := &captureSink{}
	recorder.AddSink(sink)

	event := &models.SecurityEvent{
		Type:      models.EventLoginFailed,
		IPAddress: "1.2.3.4",
	}
	recorder.Record(ctx, event)

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	assert.Equal(t, models.SeverityLow, event.Severity)

	stored, err := repo.ListEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	require.Len(t, sink.events, 1)
	assert.Equal(t, event.ID, sink.events[0].ID)
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	recorder := NewRecorder(repo, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder.Record(ctx, &models.SecurityEvent{Type: models.EventLoginSuccess})

	stored, err := repo.ListEventsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 1, "an aborted request must still leave its trace")
}

func TestRecordSkipsSinksOnStoreFailure(t *testing.T) {
	recorder := NewRecorder(failingEventStore{}, testLogger())
	sink := &captureSink{}
	recorder.AddSink(sink)

	recorder.Record(context.Background(), &models.SecurityEvent{Type: models.EventLoginFailed})

	assert.Empty(t, sink.events, "unpersisted events must not reach consumers")
}

func TestRecordKeepsExplicitFields(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	recorder := NewRecorder(repo, testLogger())

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	event := &models.SecurityEvent{
		ID:        "evt-explicit",
		Type:      models.EventBruteForce,
		Severity:  models.SeverityCritical,
		CreatedAt: at,
	}
	recorder.Record(context.Background(), event)

	assert.Equal(t, "evt-explicit", event.ID)
	assert.Equal(t, models.SeverityCritical, event.Severity)
	assert.Equal(t, at, event.CreatedAt)
}
