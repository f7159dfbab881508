package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

// ThreatLevel is the coarse classification driving alert routing and the
// automated response ladder.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Action is one rung of the automated response ladder.
type Action string

const (
	ActionLog      Action = "log"
	ActionNotify   Action = "notify"
	ActionBlock    Action = "block"
	ActionLockdown Action = "lockdown"
)

var threatColors = map[ThreatLevel]string{
	ThreatLow:      "#ffc107",
	ThreatMedium:   "#fd7e14",
	ThreatHigh:     "#dc3545",
	ThreatCritical: "#dc3545",
}

// threatActions: each level includes every action of the levels below it.
var threatActions = map[ThreatLevel][]Action{
	ThreatLow:      {ActionLog},
	ThreatMedium:   {ActionLog, ActionNotify},
	ThreatHigh:     {ActionLog, ActionNotify, ActionBlock},
	ThreatCritical: {ActionLog, ActionNotify, ActionBlock, ActionLockdown},
}

// ClassifyThreat maps an event type to its threat level.
func ClassifyThreat(eventType models.EventType) ThreatLevel {
	switch eventType {
	case models.EventBruteForce, models.EventAdminCompromise:
		return ThreatCritical
	case models.EventSuspiciousIP, models.EventMultiple2FAFail:
		return ThreatHigh
	case models.EventAccountLocked, models.EventPasswordResetReq:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

// ActionsFor returns the response ladder for a threat level.
func ActionsFor(level ThreatLevel) []Action {
	return threatActions[level]
}

// Alert is the wire payload pushed to operator connections.
type Alert struct {
	ID          string         `json:"id"`
	Timestamp   int64          `json:"timestamp"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	ThreatLevel ThreatLevel    `json:"threatLevel"`
	Color       string         `json:"color"`
	Details     map[string]any `json:"details"`
}

// NewAlert builds an alert from a security event. Details carry the raw
// event fields plus any extra context the caller supplies.
func NewAlert(event *models.SecurityEvent, extra map[string]any) *Alert {
	level := ClassifyThreat(event.Type)

	details := map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"ip_address": event.IPAddress,
	}
	if event.UserID != "" {
		details["user_id"] = event.UserID
	}
	if event.Location != "" {
		details["location"] = event.Location
	}
	for k, v := range extra {
		details[k] = v
	}

	return &Alert{
		ID:          "alert_" + uuid.NewString(),
		Timestamp:   time.Now().Unix(),
		Type:        string(event.Type),
		Message:     alertMessage(event, extra),
		ThreatLevel: level,
		Color:       threatColors[level],
		Details:     details,
	}
}

func alertMessage(event *models.SecurityEvent, extra map[string]any) string {
	switch event.Type {
	case models.EventBruteForce:
		if attempts, ok := extra["attempts"]; ok {
			return fmt.Sprintf("Brute force attack detected from IP %s (%v failed attempts)", event.IPAddress, attempts)
		}
		return fmt.Sprintf("Brute force attack detected from IP %s", event.IPAddress)
	case models.EventSuspiciousIP:
		location := event.Location
		if location == "" {
			location = "Unknown Location"
		}
		return fmt.Sprintf("Suspicious activity detected from IP %s in %s", event.IPAddress, location)
	case models.EventAccountLocked:
		if email, ok := extra["email"]; ok {
			return fmt.Sprintf("Account locked: %v (Multiple failed login attempts)", email)
		}
		return "Account locked (Multiple failed login attempts)"
	default:
		if event.Description != "" {
			return event.Description
		}
		return "Security event detected"
	}
}
