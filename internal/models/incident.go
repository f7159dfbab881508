package models

import "time"

type IncidentStatus string

const (
	IncidentActive    IncidentStatus = "active"
	IncidentCompleted IncidentStatus = "completed"
)

// StepStatus describes the outcome of a single playbook step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepResult records one attempted remediation step. Failures carry the error
// detail; they never abort the incident.
type StepResult struct {
	Action    string     `json:"action"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Incident is created when a playbook trigger matches and becomes completed
// once every step has been attempted. The step list only ever appends and the
// status only moves forward.
type Incident struct {
	ID        string         `json:"id"`
	Playbook  string         `json:"playbook"`
	Severity  Severity       `json:"severity"`
	Subject   string         `json:"subject"`
	TriggerID string         `json:"trigger_event_id"`
	Status    IncidentStatus `json:"status"`
	Steps     []StepResult   `json:"steps"`
	StartedAt time.Time      `json:"started_at"`
}
