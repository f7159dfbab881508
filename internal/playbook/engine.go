package playbook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smarttutor-systems/trustcore/internal/alerts"
	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/metrics"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/ratelimit"
)

// EventStore covers the history queries the trigger predicates run and
// the incident persistence the engine needs.
type EventStore interface {
	CountFailedAttemptsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountEventsByUserAndLocation(ctx context.Context, userID, location string, before time.Time) (int, error)
	CountEventsByTypes(ctx context.Context, types []models.EventType, userID string, since time.Time) (int, error)
	CreateIncident(ctx context.Context, incident *models.Incident) error
	UpdateIncident(ctx context.Context, incident *models.Incident) error
}

// AccountStore is the account surface the remediation steps mutate.
type AccountStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	RevokeUserSessions(ctx context.Context, userID string) (int, error)
}

// EventRecorder writes follow-up security events produced by steps.
type EventRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent)
}

// Notifier delivers step notifications out of band.
type Notifier interface {
	Notify(ctx context.Context, alert *alerts.Alert, channels []string) error
}

// Engine matches security events against the playbook table and runs the
// matched playbook's steps in declared order. A step failure is recorded
// against that step and never halts the remaining steps. In-flight
// incidents are deduplicated by playbook + subject so overlapping triggers
// coalesce instead of spawning duplicates.
type Engine struct {
	store     EventStore
	accounts  AccountStore
	blocklist ratelimit.Blocklist
	notifier  Notifier
	recorder  EventRecorder
	logger    *logging.Logger

	mu       sync.Mutex
	inflight map[string]bool

	now func() time.Time
}

func NewEngine(store EventStore, accounts AccountStore, blocklist ratelimit.Blocklist, notifier Notifier, logger *logging.Logger) *Engine {
	return &Engine{
		store:     store,
		accounts:  accounts,
		blocklist: blocklist,
		notifier:  notifier,
		logger:    logger,
		inflight:  make(map[string]bool),
		now:       time.Now,
	}
}

// SetRecorder wires the audit recorder for step follow-up events. Set
// during startup, before the engine receives traffic.
func (e *Engine) SetRecorder(recorder EventRecorder) {
	e.recorder = recorder
}

// HandleEvent implements the audit sink: each recorded event is checked
// against every playbook trigger.
func (e *Engine) HandleEvent(ctx context.Context, event *models.SecurityEvent) {
	for _, pb := range playbooks {
		match, subject, err := triggers[pb.Trigger](ctx, e, event)
		if err != nil {
			e.logger.WithContext(ctx).Error("trigger evaluation failed",
				"playbook", pb.Name,
				"error", err,
			)
			continue
		}
		if !match {
			continue
		}
		e.execute(ctx, pb, subject, event)
	}
}

// execute reserves the dedup key and runs the playbook. The reservation
// and check are atomic: two concurrent matches for the same trigger and
// subject produce exactly one incident.
func (e *Engine) execute(ctx context.Context, pb Definition, subject string, event *models.SecurityEvent) {
	key := pb.Name + "|" + subject
	e.mu.Lock()
	if e.inflight[key] {
		e.mu.Unlock()
		e.logger.WithContext(ctx).Debug("incident already in flight, trigger coalesced",
			"playbook", pb.Name,
			"subject", subject,
		)
		return
	}
	e.inflight[key] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}()

	e.run(ctx, pb, subject, event)
}

func (e *Engine) run(ctx context.Context, pb Definition, subject string, event *models.SecurityEvent) {
	log := e.logger.WithContext(ctx)

	incident := &models.Incident{
		ID:        newIncidentID(),
		Playbook:  pb.Name,
		Severity:  pb.Severity,
		Subject:   subject,
		TriggerID: event.ID,
		Status:    models.IncidentActive,
		Steps:     make([]models.StepResult, 0, len(pb.Steps)),
		StartedAt: e.now(),
	}
	if err := e.store.CreateIncident(ctx, incident); err != nil {
		log.Error("failed to persist incident", "playbook", pb.Name, "error", err)
		return
	}
	metrics.IncidentsStarted.WithLabelValues(pb.Name).Inc()
	log.Warn("incident started",
		"incident_id", incident.ID,
		"playbook", pb.Name,
		"severity", pb.Severity,
		"subject", subject,
	)

	for _, step := range pb.Steps {
		result := models.StepResult{
			Action:    step.Action,
			Status:    models.StepCompleted,
			Timestamp: e.now(),
		}
		if err := e.runStep(ctx, incident, step, event); err != nil {
			result.Status = models.StepFailed
			result.Error = err.Error()
			metrics.StepFailures.WithLabelValues(step.Action).Inc()
			log.Error("incident step failed",
				"incident_id", incident.ID,
				"action", step.Action,
				"error", err,
			)
			e.notifyStepFailure(ctx, incident, step, err)
		}
		incident.Steps = append(incident.Steps, result)
	}

	incident.Status = models.IncidentCompleted
	if err := e.store.UpdateIncident(ctx, incident); err != nil {
		log.Error("failed to complete incident", "incident_id", incident.ID, "error", err)
		return
	}
	log.Info("incident completed",
		"incident_id", incident.ID,
		"playbook", pb.Name,
		"steps", len(incident.Steps),
	)
}

// notifyStepFailure alerts administrators that a remediation step failed,
// without affecting the incident itself.
func (e *Engine) notifyStepFailure(ctx context.Context, incident *models.Incident, step Step, stepErr error) {
	alert := &alerts.Alert{
		ID:          "alert_" + uuid.NewString(),
		Timestamp:   e.now().Unix(),
		Type:        "incident_step_failed",
		Message:     "Incident response step failed: " + step.Action,
		ThreatLevel: alerts.ThreatHigh,
		Details: map[string]any{
			"incident_id": incident.ID,
			"playbook":    incident.Playbook,
			"action":      step.Action,
			"error":       stepErr.Error(),
		},
	}
	if err := e.notifier.Notify(ctx, alert, []string{"email"}); err != nil {
		e.logger.WithContext(ctx).Error("failed to notify step failure", "incident_id", incident.ID, "error", err)
	}
}

// record emits a follow-up event if a recorder is wired.
func (e *Engine) record(ctx context.Context, event *models.SecurityEvent) {
	if e.recorder != nil {
		e.recorder.Record(ctx, event)
	}
}

func newIncidentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return "incident_" + id.String()
}
