package playbook

import (
	"time"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

// Step is one remediation action with its parameters.
type Step struct {
	Action   string
	Duration time.Duration
	Channels []string
}

// Definition is a declarative playbook: a named trigger condition, a
// severity, and an ordered list of remediation steps. Definitions are
// static configuration and never mutated at runtime.
type Definition struct {
	Name     string
	Title    string
	Trigger  string
	Severity models.Severity
	Steps    []Step
}

const (
	triggerBruteForce         = "failed_login_count_over_10_same_ip_5m"
	triggerSuspiciousLocation = "admin_login_from_new_location"
	triggerAccountCompromise  = "multiple_password_resets_or_unusual_activity"
	triggerDataExfiltration   = "unusual_data_access_volume"
)

// playbooks are evaluated in this order for every incoming event.
var playbooks = []Definition{
	{
		Name:     "brute_force",
		Title:    "Brute Force Attack Response",
		Trigger:  triggerBruteForce,
		Severity: models.SeverityHigh,
		Steps: []Step{
			{Action: "block_ip", Duration: 24 * time.Hour},
			{Action: "notify_admin", Channels: []string{"email", "sms"}},
			{Action: "log_incident"},
			{Action: "update_waf_rules"},
		},
	},
	{
		Name:     "suspicious_location",
		Title:    "Suspicious Location Access",
		Trigger:  triggerSuspiciousLocation,
		Severity: models.SeverityMedium,
		Steps: []Step{
			{Action: "require_additional_verification"},
			{Action: "notify_user", Channels: []string{"email"}},
			{Action: "log_incident"},
		},
	},
	{
		Name:     "account_compromise",
		Title:    "Potential Account Compromise",
		Trigger:  triggerAccountCompromise,
		Severity: models.SeverityCritical,
		Steps: []Step{
			{Action: "lock_account"},
			{Action: "revoke_all_sessions"},
			{Action: "notify_admin", Channels: []string{"email", "sms"}},
			{Action: "notify_user", Channels: []string{"email"}},
			{Action: "require_password_reset"},
			{Action: "enable_enhanced_monitoring"},
		},
	},
	{
		Name:     "data_exfiltration",
		Title:    "Potential Data Exfiltration",
		Trigger:  triggerDataExfiltration,
		Severity: models.SeverityCritical,
		Steps: []Step{
			{Action: "restrict_data_access"},
			{Action: "notify_admin", Channels: []string{"email", "sms"}},
			{Action: "start_audit_logging"},
			{Action: "initiate_investigation"},
		},
	},
}

// Playbooks returns the static playbook table.
func Playbooks() []Definition {
	return playbooks
}
