package playbook

import (
	"context"
	"errors"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/repository"
)

const (
	bruteForceThreshold = 10
	bruteForceWindow    = 5 * time.Minute

	passwordResetThreshold = 3
	passwordResetWindow    = 24 * time.Hour

	dataAccessThreshold = 100
	dataAccessWindow    = time.Hour
)

// predicate evaluates an incoming event against recent store history and,
// on a match, returns the incident's subject fingerprint.
type predicate func(ctx context.Context, e *Engine, event *models.SecurityEvent) (bool, string, error)

// triggers maps trigger condition names to their predicates. Every
// playbook's Trigger must have an entry here.
var triggers = map[string]predicate{
	triggerBruteForce:         matchBruteForce,
	triggerSuspiciousLocation: matchSuspiciousLocation,
	triggerAccountCompromise:  matchAccountCompromise,
	triggerDataExfiltration:   matchDataExfiltration,
}

// matchBruteForce fires when a failed login pushes the source address over
// 10 failures inside a 5 minute window.
func matchBruteForce(ctx context.Context, e *Engine, event *models.SecurityEvent) (bool, string, error) {
	if event.Type != models.EventLoginFailed || event.IPAddress == "" {
		return false, "", nil
	}
	count, err := e.store.CountFailedAttemptsByIP(ctx, event.IPAddress, e.now().Add(-bruteForceWindow))
	if err != nil {
		return false, "", err
	}
	return count > bruteForceThreshold, event.IPAddress, nil
}

// matchSuspiciousLocation fires on an admin login from a location that
// account has never been seen at before.
func matchSuspiciousLocation(ctx context.Context, e *Engine, event *models.SecurityEvent) (bool, string, error) {
	if event.Type != models.EventLoginSuccess || event.UserID == "" || event.Location == "" {
		return false, "", nil
	}

	user, err := e.accounts.GetUserByID(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if user.Role != models.RoleAdmin {
		return false, "", nil
	}

	seen, err := e.store.CountEventsByUserAndLocation(ctx, event.UserID, event.Location, e.now().Add(-24*time.Hour))
	if err != nil {
		return false, "", err
	}
	return seen == 0, event.UserID, nil
}

// matchAccountCompromise fires on repeated password resets inside 24h, or
// on any unusual-activity signal for the account.
func matchAccountCompromise(ctx context.Context, e *Engine, event *models.SecurityEvent) (bool, string, error) {
	if event.UserID == "" {
		return false, "", nil
	}

	if event.Type == models.EventUnusualActivity {
		return true, event.UserID, nil
	}
	if event.Type != models.EventPasswordReset && event.Type != models.EventPasswordResetReq {
		return false, "", nil
	}

	resets, err := e.store.CountEventsByTypes(ctx,
		[]models.EventType{models.EventPasswordReset, models.EventPasswordResetReq},
		event.UserID, e.now().Add(-passwordResetWindow))
	if err != nil {
		return false, "", err
	}
	return resets >= passwordResetThreshold, event.UserID, nil
}

// matchDataExfiltration fires when an account's data-access volume inside
// one hour crosses the threshold.
func matchDataExfiltration(ctx context.Context, e *Engine, event *models.SecurityEvent) (bool, string, error) {
	if event.Type != models.EventDataAccess || event.UserID == "" {
		return false, "", nil
	}
	count, err := e.store.CountEventsByTypes(ctx,
		[]models.EventType{models.EventDataAccess},
		event.UserID, e.now().Add(-dataAccessWindow))
	if err != nil {
		return false, "", err
	}
	return count > dataAccessThreshold, event.UserID, nil
}
