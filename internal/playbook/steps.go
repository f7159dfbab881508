package playbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/alerts"
	"github.com/smarttutor-systems/trustcore/internal/metrics"
	"github.com/smarttutor-systems/trustcore/internal/models"
)

var errNoSubjectAccount = errors.New("step requires an account subject")

// actionFunc executes one remediation step against the triggering event.
type actionFunc func(ctx context.Context, e *Engine, incident *models.Incident, step Step, event *models.SecurityEvent) error

// actions maps step action names to their implementations. Every action a
// playbook declares must have an entry here; runStep rejects unknown names
// as a step failure.
var actions = map[string]actionFunc{
	"block_ip":                        stepBlockIP,
	"notify_admin":                    stepNotifyAdmin,
	"notify_user":                     stepNotifyUser,
	"log_incident":                    stepLogIncident,
	"update_waf_rules":                stepUpdateWAFRules,
	"require_additional_verification": stepRequireVerification,
	"lock_account":                    stepLockAccount,
	"revoke_all_sessions":             stepRevokeSessions,
	"require_password_reset":          stepRequirePasswordReset,
	"enable_enhanced_monitoring":      stepEnhancedMonitoring,
	"restrict_data_access":            stepRestrictDataAccess,
	"start_audit_logging":             stepStartAuditLogging,
	"initiate_investigation":          stepInitiateInvestigation,
}

func (e *Engine) runStep(ctx context.Context, incident *models.Incident, step Step, event *models.SecurityEvent) error {
	fn, ok := actions[step.Action]
	if !ok {
		return fmt.Errorf("unknown incident response action: %s", step.Action)
	}
	return fn(ctx, e, incident, step, event)
}

func stepBlockIP(ctx context.Context, e *Engine, incident *models.Incident, step Step, event *models.SecurityEvent) error {
	if event.IPAddress == "" {
		return errors.New("no source address to block")
	}
	duration := step.Duration
	if duration == 0 {
		duration = 24 * time.Hour
	}
	if err := e.blocklist.Block(ctx, event.IPAddress, duration); err != nil {
		return fmt.Errorf("block %s: %w", event.IPAddress, err)
	}
	e.record(ctx, &models.SecurityEvent{
		Type:        models.EventIPBlocked,
		Severity:    models.SeverityMedium,
		IPAddress:   event.IPAddress,
		Description: fmt.Sprintf("Source blocked for %s by incident %s", duration, incident.ID),
	})
	return nil
}

func stepNotifyAdmin(ctx context.Context, e *Engine, incident *models.Incident, step Step, event *models.SecurityEvent) error {
	alert := alerts.NewAlert(event, map[string]any{
		"incident_id": incident.ID,
		"playbook":    incident.Playbook,
	})
	return e.notifier.Notify(ctx, alert, step.Channels)
}

func stepNotifyUser(ctx context.Context, e *Engine, incident *models.Incident, step Step, event *models.SecurityEvent) error {
	if event.UserID == "" {
		return errNoSubjectAccount
	}
	user, err := e.accounts.GetUserByID(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", event.UserID, err)
	}
	alert := alerts.NewAlert(event, map[string]any{
		"incident_id": incident.ID,
		"playbook":    incident.Playbook,
		"recipient":   user.Email,
	})
	return e.notifier.Notify(ctx, alert, step.Channels)
}

func stepLogIncident(ctx context.Context, e *Engine, incident *models.Incident, _ Step, event *models.SecurityEvent) error {
	e.logger.WithContext(ctx).Warn("incident logged",
		"incident_id", incident.ID,
		"playbook", incident.Playbook,
		"severity", incident.Severity,
		"subject", incident.Subject,
		"trigger_event", event.ID,
	)
	return nil
}

// stepUpdateWAFRules records the intent for the edge firewall sync job;
// the blocklist entry written by block_ip is what actually stops traffic.
func stepUpdateWAFRules(ctx context.Context, e *Engine, incident *models.Incident, _ Step, event *models.SecurityEvent) error {
	e.logger.WithContext(ctx).Info("waf rule update queued",
		"incident_id", incident.ID,
		"ip", event.IPAddress,
	)
	return nil
}

func stepRequireVerification(ctx context.Context, e *Engine, _ *models.Incident, _ Step, event *models.SecurityEvent) error {
	return e.updateAccount(ctx, event, func(u *models.User) {
		u.RequireVerification = true
	})
}

func stepLockAccount(ctx context.Context, e *Engine, incident *models.Incident, _ Step, event *models.SecurityEvent) error {
	err := e.updateAccount(ctx, event, func(u *models.User) {
		u.Status = models.StatusSuspended
	})
	if err != nil {
		return err
	}
	metrics.LockedAccounts.Inc()
	e.record(ctx, &models.SecurityEvent{
		Type:        models.EventAccountLocked,
		Severity:    models.SeverityHigh,
		UserID:      event.UserID,
		IPAddress:   event.IPAddress,
		Description: "Account suspended by incident " + incident.ID,
	})
	return nil
}

func stepRevokeSessions(ctx context.Context, e *Engine, incident *models.Incident, _ Step, event *models.SecurityEvent) error {
	if event.UserID == "" {
		return errNoSubjectAccount
	}
	revoked, err := e.accounts.RevokeUserSessions(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("revoke sessions for %s: %w", event.UserID, err)
	}
	e.record(ctx, &models.SecurityEvent{
		Type:        models.EventSessionRevoked,
		Severity:    models.SeverityMedium,
		UserID:      event.UserID,
		IPAddress:   event.IPAddress,
		Description: fmt.Sprintf("%d sessions revoked by incident %s", revoked, incident.ID),
	})
	return nil
}

func stepRequirePasswordReset(ctx context.Context, e *Engine, _ *models.Incident, _ Step, event *models.SecurityEvent) error {
	return e.updateAccount(ctx, event, func(u *models.User) {
		u.ForcePasswordChange = true
	})
}

func stepEnhancedMonitoring(ctx context.Context, e *Engine, _ *models.Incident, _ Step, event *models.SecurityEvent) error {
	return e.updateAccount(ctx, event, func(u *models.User) {
		u.EnhancedMonitoring = true
	})
}

func stepRestrictDataAccess(ctx context.Context, e *Engine, _ *models.Incident, _ Step, event *models.SecurityEvent) error {
	return e.updateAccount(ctx, event, func(u *models.User) {
		u.DataAccessRestrict = true
	})
}

func stepStartAuditLogging(ctx context.Context, e *Engine, incident *models.Incident, _ Step, event *models.SecurityEvent) error {
	e.record(ctx, &models.SecurityEvent{
		Type:        models.EventAuditStarted,
		Severity:    models.SeverityMedium,
		UserID:      event.UserID,
		IPAddress:   event.IPAddress,
		Description: "Enhanced audit logging started by incident " + incident.ID,
	})
	return nil
}

func stepInitiateInvestigation(ctx context.Context, e *Engine, incident *models.Incident, _ Step, event *models.SecurityEvent) error {
	e.logger.WithContext(ctx).Warn("investigation opened",
		"incident_id", incident.ID,
		"subject", incident.Subject,
		"trigger_event", event.ID,
	)
	return nil
}

func (e *Engine) updateAccount(ctx context.Context, event *models.SecurityEvent, mutate func(*models.User)) error {
	if event.UserID == "" {
		return errNoSubjectAccount
	}
	user, err := e.accounts.GetUserByID(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", event.UserID, err)
	}
	mutate(user)
	user.UpdatedAt = e.now()
	if err := e.accounts.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user %s: %w", event.UserID, err)
	}
	return nil
}
