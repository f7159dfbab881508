package models

import "time"

type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	Status              string     `json:"status"`
	FailedLoginAttempts int        `json:"-"`
	LastFailedLogin     *time.Time `json:"-"`
	ForcePasswordChange bool       `json:"force_password_change"`
	RequireVerification bool       `json:"require_verification"`
	EnhancedMonitoring  bool       `json:"enhanced_monitoring"`
	DataAccessRestrict  bool       `json:"data_access_restricted"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenID   string     `json:"token_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (s *Session) IsActive() bool {
	return s.RevokedAt == nil && time.Now().Before(s.ExpiresAt)
}

type Role = string

const (
	RoleStudent  Role = "student"
	RoleTutor    Role = "tutor"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// PrivilegedRoles are the roles allowed to receive operator alerts.
var PrivilegedRoles = map[string]bool{
	RoleAdmin:    true,
	RoleOperator: true,
}
