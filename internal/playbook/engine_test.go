package playbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttutor-systems/trustcore/internal/alerts"
	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/ratelimit"
	"github.com/smarttutor-systems/trustcore/internal/repository"
)

type fakeNotifier struct {
	mu      sync.Mutex
	alerts  []*alerts.Alert
	release chan struct{} // when set, Notify blocks until closed
	fail    bool
}

func (f *fakeNotifier) Notify(ctx context.Context, alert *alerts.Alert, channels []string) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.alerts = append(f.alerts, alert)
	f.mu.Unlock()
	if f.fail {
		return errors.New("notification transport down")
	}
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func newTestEngine(t *testing.T) (*Engine, *repository.InMemoryRepository, ratelimit.Blocklist, *fakeNotifier) {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	blocklist := ratelimit.NewMemoryBlocklist()
	notifier := &fakeNotifier{}
	logger := logging.New(logging.ParseLevel("error"), "text")
	engine := NewEngine(repo, repo, blocklist, notifier, logger)
	return engine, repo, blocklist, notifier
}

func TestPlaybookTableWellFormed(t *testing.T) {
	for _, pb := range Playbooks() {
		_, ok := triggers[pb.Trigger]
		assert.True(t, ok, "playbook %s has no trigger predicate", pb.Name)
		for _, step := range pb.Steps {
			_, ok := actions[step.Action]
			assert.True(t, ok, "playbook %s declares unknown action %s", pb.Name, step.Action)
		}
	}
}

func TestStepIsolation(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, _ := newTestEngine(t)

	// block_ip fails here (the event has no source address); the
	// remaining steps must still run.
	pb := Definition{
		Name:     "isolation_check",
		Severity: models.SeverityHigh,
		Steps: []Step{
			{Action: "block_ip"},
			{Action: "log_incident"},
			{Action: "update_waf_rules"},
		},
	}

	engine.run(ctx, pb, "subject-1", &models.SecurityEvent{ID: "evt-1"})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	incident := incidents[0]
	assert.Equal(t, models.IncidentCompleted, incident.Status)
	require.Len(t, incident.Steps, 3)

	assert.Equal(t, models.StepFailed, incident.Steps[0].Status)
	assert.NotEmpty(t, incident.Steps[0].Error)
	assert.Equal(t, models.StepCompleted, incident.Steps[1].Status)
	assert.Equal(t, models.StepCompleted, incident.Steps[2].Status)
}

func seedFailedAttempts(t *testing.T, repo *repository.InMemoryRepository, ip string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.RecordLoginAttempt(context.Background(), &models.LoginAttempt{
			ID:          fmt.Sprintf("att-%s-%d", ip, i),
			Email:       fmt.Sprintf("victim%d@example.com", i%3),
			IPAddress:   ip,
			Success:     false,
			AttemptedAt: at,
		}))
	}
}

func TestBruteForceEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine, repo, blocklist, notifier := newTestEngine(t)

	seedFailedAttempts(t, repo, "1.2.3.4", 11, time.Now().Add(-time.Minute))

	engine.HandleEvent(ctx, &models.SecurityEvent{
		ID:        "evt-trigger",
		Type:      models.EventLoginFailed,
		IPAddress: "1.2.3.4",
	})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	incident := incidents[0]
	assert.Equal(t, "brute_force", incident.Playbook)
	assert.Equal(t, models.SeverityHigh, incident.Severity)
	assert.Equal(t, "1.2.3.4", incident.Subject)
	assert.Equal(t, "evt-trigger", incident.TriggerID)
	assert.Equal(t, models.IncidentCompleted, incident.Status)

	require.Len(t, incident.Steps, 4)
	for i, action := range []string{"block_ip", "notify_admin", "log_incident", "update_waf_rules"} {
		assert.Equal(t, action, incident.Steps[i].Action)
		assert.Equal(t, models.StepCompleted, incident.Steps[i].Status)
	}

	blocked, err := blocklist.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked, "the source address must be rejected after the incident")

	assert.Equal(t, 1, notifier.count())
}

func TestBruteForceBelowThresholdDoesNotFire(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, _ := newTestEngine(t)

	seedFailedAttempts(t, repo, "1.2.3.4", 10, time.Now().Add(-time.Minute))

	engine.HandleEvent(ctx, &models.SecurityEvent{
		ID:        "evt-trigger",
		Type:      models.EventLoginFailed,
		IPAddress: "1.2.3.4",
	})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestDedupCoalescesConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, notifier := newTestEngine(t)

	seedFailedAttempts(t, repo, "1.2.3.4", 11, time.Now().Add(-time.Minute))

	release := make(chan struct{})
	notifier.release = release

	event := &models.SecurityEvent{
		ID:        "evt-trigger",
		Type:      models.EventLoginFailed,
		IPAddress: "1.2.3.4",
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.HandleEvent(ctx, event)
	}()

	// Wait for the first run to reach the blocking notify step, then fire
	// the same trigger again. It must coalesce, not duplicate.
	deadline := time.Now().Add(2 * time.Second)
	for {
		incidents, err := repo.ListIncidents(ctx, 10)
		require.NoError(t, err)
		if len(incidents) == 1 {
			break
		}
		require.True(t, time.Now().Before(deadline), "first incident never started")
		time.Sleep(5 * time.Millisecond)
	}

	engine.HandleEvent(ctx, event)

	close(release)
	wg.Wait()

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, incidents, 1, "overlapping triggers for one subject must coalesce")
}

func TestSuspiciousLocationPlaybook(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, notifier := newTestEngine(t)

	admin := &models.User{
		ID:     "admin-1",
		Email:  "admin@example.com",
		Role:   models.RoleAdmin,
		Status: models.StatusActive,
	}
	require.NoError(t, repo.CreateUser(ctx, admin))

	engine.HandleEvent(ctx, &models.SecurityEvent{
		ID:        "evt-login",
		Type:      models.EventLoginSuccess,
		UserID:    "admin-1",
		IPAddress: "8.8.8.8",
		Location:  "Reykjavik, IS",
	})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "suspicious_location", incidents[0].Playbook)
	assert.Equal(t, models.SeverityMedium, incidents[0].Severity)

	updated, err := repo.GetUserByID(ctx, "admin-1")
	require.NoError(t, err)
	assert.True(t, updated.RequireVerification)
	assert.Equal(t, 1, notifier.count(), "the user is notified")
}

func TestSuspiciousLocationIgnoresKnownLocation(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, _ := newTestEngine(t)

	admin := &models.User{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin, Status: models.StatusActive}
	require.NoError(t, repo.CreateUser(ctx, admin))

	// Seen at this location two days ago.
	require.NoError(t, repo.AppendEvent(ctx, &models.SecurityEvent{
		ID:        "evt-old",
		Type:      models.EventLoginSuccess,
		UserID:    "admin-1",
		Location:  "Reykjavik, IS",
		CreatedAt: time.Now().AddDate(0, 0, -2),
	}))

	engine.HandleEvent(ctx, &models.SecurityEvent{
		ID:       "evt-login",
		Type:     models.EventLoginSuccess,
		UserID:   "admin-1",
		Location: "Reykjavik, IS",
	})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestSuspiciousLocationIgnoresNonAdmins(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, _ := newTestEngine(t)

	student := &models.User{ID: "user-1", Email: "student@example.com", Role: models.RoleStudent, Status: models.StatusActive}
	require.NoError(t, repo.CreateUser(ctx, student))

	engine.HandleEvent(ctx, &models.SecurityEvent{
		ID:       "evt-login",
		Type:     models.EventLoginSuccess,
		UserID:   "user-1",
		Location: "Reykjavik, IS",
	})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestAccountCompromisePlaybook(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, notifier := newTestEngine(t)

	user := &models.User{ID: "user-1", Email: "alice@example.com", Role: models.RoleStudent, Status: models.StatusActive}
	require.NoError(t, repo.CreateUser(ctx, user))
	require.NoError(t, repo.CreateSession(ctx, &models.Session{
		ID: "sess-1", UserID: "user-1", TokenID: "jti-1",
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}))

	// Three password resets inside 24 hours.
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendEvent(ctx, &models.SecurityEvent{
			ID:        fmt.Sprintf("evt-reset-%d", i),
			Type:      models.EventPasswordReset,
			UserID:    "user-1",
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		}))
	}

	engine.HandleEvent(ctx, &models.SecurityEvent{
		ID:     "evt-reset-2",
		Type:   models.EventPasswordReset,
		UserID: "user-1",
	})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, "account_compromise", incident.Playbook)
	assert.Equal(t, models.SeverityCritical, incident.Severity)
	require.Len(t, incident.Steps, 6)
	for _, step := range incident.Steps {
		assert.Equal(t, models.StepCompleted, step.Status, step.Action)
	}

	updated, err := repo.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, updated.Status)
	assert.True(t, updated.ForcePasswordChange)
	assert.True(t, updated.EnhancedMonitoring)

	revoked, err := repo.RevokeUserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, revoked, "sessions already revoked by the playbook")

	// notify_admin and notify_user both ran.
	assert.Equal(t, 2, notifier.count())
}

func TestDataExfiltrationPlaybook(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, _ := newTestEngine(t)

	user := &models.User{ID: "user-1", Email: "alice@example.com", Role: models.RoleTutor, Status: models.StatusActive}
	require.NoError(t, repo.CreateUser(ctx, user))

	for i := 0; i < 101; i++ {
		require.NoError(t, repo.AppendEvent(ctx, &models.SecurityEvent{
			ID:        fmt.Sprintf("evt-data-%d", i),
			Type:      models.EventDataAccess,
			UserID:    "user-1",
			CreatedAt: time.Now().Add(-time.Minute),
		}))
	}

	engine.HandleEvent(ctx, &models.SecurityEvent{
		ID:     "evt-data-100",
		Type:   models.EventDataAccess,
		UserID: "user-1",
	})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "data_exfiltration", incidents[0].Playbook)

	updated, err := repo.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, updated.DataAccessRestrict)
	assert.Equal(t, models.StatusActive, updated.Status, "data restriction does not suspend the account")
}

func TestStepFailureTriggersAdminNotification(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, notifier := newTestEngine(t)

	// No account exists, so notify_user in suspicious_location fails.
	// That failure itself produces an admin notification.
	pb := Definition{
		Name:     "notify_check",
		Severity: models.SeverityMedium,
		Steps:    []Step{{Action: "notify_user", Channels: []string{"email"}}},
	}
	engine.run(ctx, pb, "user-ghost", &models.SecurityEvent{ID: "evt-1", UserID: "user-ghost"})

	incidents, err := repo.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, models.StepFailed, incidents[0].Steps[0].Status)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "incident_step_failed", notifier.alerts[0].Type)
}
