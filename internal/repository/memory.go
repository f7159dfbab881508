package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

// InMemoryRepository is the default store for development and tests.
type InMemoryRepository struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	usersByEmail map[string]*models.User
	attempts     []*models.LoginAttempt
	events       []*models.SecurityEvent
	sessions     map[string]*models.Session
	enrollments  map[string]*models.TwoFactorEnrollment
	incidents    map[string]*models.Incident
	incidentIDs  []string
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:        make(map[string]*models.User),
		usersByEmail: make(map[string]*models.User),
		sessions:     make(map[string]*models.Session),
		enrollments:  make(map[string]*models.TwoFactorEnrollment),
		incidents:    make(map[string]*models.Incident),
	}
}

func (r *InMemoryRepository) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.usersByEmail[user.Email]; exists {
		return ErrUserExists
	}
	r.users[user.ID] = user
	r.usersByEmail[user.Email] = user
	return nil
}

func (r *InMemoryRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.usersByEmail[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (r *InMemoryRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (r *InMemoryRepository) UpdateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.ID]; !exists {
		return ErrUserNotFound
	}
	r.users[user.ID] = user
	r.usersByEmail[user.Email] = user
	return nil
}

func (r *InMemoryRepository) RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *InMemoryRepository) CountFailedAttemptsByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, a := range r.attempts {
		if a.Email == email && !a.Success && a.AttemptedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) CountFailedAttemptsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, a := range r.attempts {
		if a.IPAddress == ip && !a.Success && a.AttemptedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) ListLoginAttemptsSince(ctx context.Context, since time.Time) ([]*models.LoginAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.LoginAttempt, 0)
	for _, a := range r.attempts {
		if a.AttemptedAt.After(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) AppendEvent(ctx context.Context, event *models.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *InMemoryRepository) ListEventsSince(ctx context.Context, since time.Time) ([]*models.SecurityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.SecurityEvent, 0)
	for _, e := range r.events {
		if e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) CountEventsByUserAndLocation(ctx context.Context, userID, location string, before time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.events {
		if e.UserID == userID && e.Location == location && e.CreatedAt.Before(before) {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) CountEventsByTypes(ctx context.Context, types []models.EventType, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[models.EventType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	count := 0
	for _, e := range r.events {
		if wanted[e.Type] && e.UserID == userID && e.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) CreateSession(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *InMemoryRepository) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	revoked := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			revoked++
		}
	}
	return revoked, nil
}

func (r *InMemoryRepository) SaveEnrollment(ctx context.Context, enrollment *models.TwoFactorEnrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrollments[enrollment.UserID] = enrollment
	return nil
}

func (r *InMemoryRepository) GetEnrollment(ctx context.Context, userID string) (*models.TwoFactorEnrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.enrollments[userID]
	if !exists {
		return nil, ErrEnrollmentNotFound
	}
	return e, nil
}

// ConsumeBackupCode removes the code from the valid set if present. The check
// and removal happen under one lock so a code can never be spent twice.
func (r *InMemoryRepository) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.enrollments[userID]
	if !exists {
		return false, ErrEnrollmentNotFound
	}

	for i, c := range e.BackupCodes {
		if c == code {
			e.BackupCodes = append(e.BackupCodes[:i], e.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryRepository) CreateIncident(ctx context.Context, incident *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[incident.ID] = incident
	r.incidentIDs = append(r.incidentIDs, incident.ID)
	return nil
}

func (r *InMemoryRepository) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.incidents[incident.ID]; !exists {
		return ErrIncidentNotFound
	}
	r.incidents[incident.ID] = incident
	return nil
}

func (r *InMemoryRepository) GetIncidentByID(ctx context.Context, id string) (*models.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	incident, exists := r.incidents[id]
	if !exists {
		return nil, ErrIncidentNotFound
	}
	return incident, nil
}

func (r *InMemoryRepository) ListIncidents(ctx context.Context, limit int) ([]*models.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Incident, 0, len(r.incidentIDs))
	for _, id := range r.incidentIDs {
		out = append(out, r.incidents[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryRepository) Close() {}
