package models

import "time"

// EventType identifies a class of security event. The set is closed: analytics
// weighting, threat classification and playbook triggers all key on it.
type EventType string

const (
	EventLoginSuccess      EventType = "login_success"
	EventLoginFailed       EventType = "login_failed"
	EventBruteForce        EventType = "brute_force_attempt"
	EventSuspiciousIP      EventType = "suspicious_ip"
	EventAccountLocked     EventType = "account_locked"
	EventPasswordReset     EventType = "password_reset"
	EventPasswordResetReq  EventType = "password_reset_request"
	EventTwoFactorFailed   EventType = "two_factor_failed"
	EventMultiple2FAFail   EventType = "multiple_2fa_failures"
	EventTwoFactorEnabled  EventType = "two_factor_enabled"
	EventTwoFactorDisabled EventType = "two_factor_disabled"
	EventAdminAccess       EventType = "admin_access"
	EventAdminCompromise   EventType = "admin_account_compromise"
	EventUnusualActivity   EventType = "unusual_activity"
	EventDataAccess        EventType = "data_access"
	EventSessionRevoked    EventType = "session_revoked"
	EventRoleChanged       EventType = "role_changed"
	EventIPBlocked         EventType = "ip_blocked"
	EventAuditStarted      EventType = "audit_logging_started"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an append-only audit record. Events are never edited or
// deleted once written.
type SecurityEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"event_type"`
	Severity    Severity  `json:"severity"`
	UserID      string    `json:"user_id,omitempty"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type LoginAttempt struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	IPAddress   string    `json:"ip_address"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attempted_at"`
}
