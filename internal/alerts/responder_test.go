package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/ratelimit"
	"github.com/smarttutor-systems/trustcore/internal/repository"
)

func newTestResponder(t *testing.T) (*Responder, ratelimit.Blocklist, *repository.InMemoryRepository) {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	blocklist := ratelimit.NewMemoryBlocklist()
	dispatcher := NewDispatcher(testLogger(), NewLogChannel(testLogger()))
	responder := NewResponder(dispatcher, blocklist, repo, []string{"log"}, testLogger())
	return responder, blocklist, repo
}

func TestResponderCriticalEvent(t *testing.T) {
	ctx := context.Background()
	responder, blocklist, repo := newTestResponder(t)

	user := &models.User{
		ID:     "user-1",
		Email:  "alice@example.com",
		Role:   models.RoleStudent,
		Status: models.StatusActive,
	}
	require.NoError(t, repo.CreateUser(ctx, user))
	require.NoError(t, repo.CreateSession(ctx, &models.Session{
		ID: "sess-1", UserID: "user-1", TokenID: "jti-1",
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}))

	responder.HandleEvent(ctx, &models.SecurityEvent{
		ID:        "evt-1",
		Type:      models.EventBruteForce,
		UserID:    "user-1",
		IPAddress: "1.2.3.4",
	})

	blocked, err := blocklist.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked, "critical threats block the source address")

	updated, err := repo.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, updated.Status)
	assert.True(t, updated.ForcePasswordChange)

	revoked, err := repo.RevokeUserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, revoked, "sessions were already revoked by the lockdown")
}

func TestResponderLowEventTakesNoAction(t *testing.T) {
	ctx := context.Background()
	responder, blocklist, repo := newTestResponder(t)

	user := &models.User{ID: "user-1", Email: "alice@example.com", Status: models.StatusActive}
	require.NoError(t, repo.CreateUser(ctx, user))

	responder.HandleEvent(ctx, &models.SecurityEvent{
		ID:        "evt-1",
		Type:      models.EventLoginFailed,
		UserID:    "user-1",
		IPAddress: "1.2.3.4",
	})

	blocked, err := blocklist.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)

	unchanged, err := repo.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, unchanged.Status)
}

func TestResponderHighEventBlocksWithoutLockdown(t *testing.T) {
	ctx := context.Background()
	responder, blocklist, repo := newTestResponder(t)

	user := &models.User{ID: "user-1", Email: "alice@example.com", Status: models.StatusActive}
	require.NoError(t, repo.CreateUser(ctx, user))

	responder.HandleEvent(ctx, &models.SecurityEvent{
		ID:        "evt-1",
		Type:      models.EventSuspiciousIP,
		UserID:    "user-1",
		IPAddress: "9.9.9.9",
	})

	blocked, err := blocklist.IsBlocked(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.True(t, blocked)

	unchanged, err := repo.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, unchanged.Status, "high threats do not lock accounts")
}
