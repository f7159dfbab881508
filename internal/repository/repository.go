package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrEnrollmentNotFound = errors.New("two-factor enrollment not found")
	ErrIncidentNotFound   = errors.New("incident not found")
)

// Repository is the persistent store boundary for credentials, events,
// sessions, two-factor enrollments and incidents. The security event log is
// append-only: there is deliberately no way to edit or delete an event.
type Repository interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Login attempts
	RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedAttemptsByEmail(ctx context.Context, email string, since time.Time) (int, error)
	CountFailedAttemptsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	ListLoginAttemptsSince(ctx context.Context, since time.Time) ([]*models.LoginAttempt, error)

	// Security events (append-only)
	AppendEvent(ctx context.Context, event *models.SecurityEvent) error
	ListEventsSince(ctx context.Context, since time.Time) ([]*models.SecurityEvent, error)
	CountEventsByUserAndLocation(ctx context.Context, userID, location string, before time.Time) (int, error)
	CountEventsByTypes(ctx context.Context, types []models.EventType, userID string, since time.Time) (int, error)

	// Sessions
	CreateSession(ctx context.Context, session *models.Session) error
	RevokeUserSessions(ctx context.Context, userID string) (int, error)

	// Two-factor
	SaveEnrollment(ctx context.Context, enrollment *models.TwoFactorEnrollment) error
	GetEnrollment(ctx context.Context, userID string) (*models.TwoFactorEnrollment, error)
	ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error)

	// Incidents
	CreateIncident(ctx context.Context, incident *models.Incident) error
	UpdateIncident(ctx context.Context, incident *models.Incident) error
	GetIncidentByID(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, limit int) ([]*models.Incident, error)

	Close()
}
