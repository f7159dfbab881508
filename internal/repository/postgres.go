package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO users (id, email, name, password_hash, role, status, force_password_change,
		                   require_verification, enhanced_monitoring, data_access_restricted,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash,
		user.Role, user.Status, user.ForcePasswordChange,
		user.RequireVerification, user.EnhancedMonitoring, user.DataAccessRestrict,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, email, name, password_hash, role, status,
		       failed_login_attempts, last_failed_login, force_password_change,
		       require_verification, enhanced_monitoring, data_access_restricted,
		       last_login, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	var user models.User
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.Role, &user.Status, &user.FailedLoginAttempts,
		&user.LastFailedLogin, &user.ForcePasswordChange,
		&user.RequireVerification, &user.EnhancedMonitoring, &user.DataAccessRestrict,
		&user.LastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, email, name, password_hash, role, status,
		       failed_login_attempts, last_failed_login, force_password_change,
		       require_verification, enhanced_monitoring, data_access_restricted,
		       last_login, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.Role, &user.Status, &user.FailedLoginAttempts,
		&user.LastFailedLogin, &user.ForcePasswordChange,
		&user.RequireVerification, &user.EnhancedMonitoring, &user.DataAccessRestrict,
		&user.LastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE users
		SET email = $2, name = $3, password_hash = $4, role = $5, status = $6,
		    failed_login_attempts = $7, last_failed_login = $8,
		    force_password_change = $9, require_verification = $10,
		    enhanced_monitoring = $11, data_access_restricted = $12,
		    last_login = $13, updated_at = $14
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash,
		user.Role, user.Status, user.FailedLoginAttempts,
		user.LastFailedLogin, user.ForcePasswordChange,
		user.RequireVerification, user.EnhancedMonitoring, user.DataAccessRestrict,
		user.LastLogin, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepository) RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO login_attempts (id, email, ip_address, success, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		attempt.ID, attempt.Email, attempt.IPAddress,
		attempt.Success, attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}

	return nil
}

func (r *PostgresRepository) CountFailedAttemptsByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM login_attempts
		WHERE email = $1 AND success = false AND attempted_at > $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, email, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}

	return count, nil
}

func (r *PostgresRepository) CountFailedAttemptsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempted_at > $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, ip, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}

	return count, nil
}

func (r *PostgresRepository) ListLoginAttemptsSince(ctx context.Context, since time.Time) ([]*models.LoginAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		SELECT id, email, ip_address, success, attempted_at
		FROM login_attempts
		WHERE attempted_at > $1
		ORDER BY attempted_at ASC
	`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list login attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(&a.ID, &a.Email, &a.IPAddress, &a.Success, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, event *models.SecurityEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO security_events (id, event_type, severity, user_id, ip_address, user_agent, location, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.Type, event.Severity, event.UserID,
		event.IPAddress, event.UserAgent, event.Location,
		event.Description, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListEventsSince(ctx context.Context, since time.Time) ([]*models.SecurityEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		SELECT id, event_type, severity, user_id, ip_address, user_agent, location, description, created_at
		FROM security_events
		WHERE created_at > $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		var e models.SecurityEvent
		if err := rows.Scan(
			&e.ID, &e.Type, &e.Severity, &e.UserID, &e.IPAddress,
			&e.UserAgent, &e.Location, &e.Description, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

func (r *PostgresRepository) CountEventsByUserAndLocation(ctx context.Context, userID, location string, before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM security_events
		WHERE user_id = $1 AND location = $2 AND created_at < $3
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, location, before).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}

func (r *PostgresRepository) CountEventsByTypes(ctx context.Context, types []models.EventType, userID string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	query := `
		SELECT COUNT(*)
		FROM security_events
		WHERE event_type = ANY($1) AND user_id = $2 AND created_at > $3
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, typeNames, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session *models.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO sessions (id, user_id, token_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID, session.UserID, session.TokenID,
		session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE sessions
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) SaveEnrollment(ctx context.Context, enrollment *models.TwoFactorEnrollment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO two_factor_enrollments (user_id, secret, backup_codes, confirmed, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET secret = EXCLUDED.secret,
		    backup_codes = EXCLUDED.backup_codes,
		    confirmed = EXCLUDED.confirmed
	`

	_, err := r.pool.Exec(ctx, query,
		enrollment.UserID, enrollment.Secret, enrollment.BackupCodes,
		enrollment.Confirmed, enrollment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetEnrollment(ctx context.Context, userID string) (*models.TwoFactorEnrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT user_id, secret, backup_codes, confirmed, created_at
		FROM two_factor_enrollments
		WHERE user_id = $1
	`

	var e models.TwoFactorEnrollment
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&e.UserID, &e.Secret, &e.BackupCodes, &e.Confirmed, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}

	return &e, nil
}

// ConsumeBackupCode removes the code in a single statement so concurrent
// redemptions of the same code cannot both succeed.
func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE two_factor_enrollments
		SET backup_codes = array_remove(backup_codes, $2)
		WHERE user_id = $1 AND $2 = ANY(backup_codes)
	`

	tag, err := r.pool.Exec(ctx, query, userID, code)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) CreateIncident(ctx context.Context, incident *models.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO incidents (id, playbook, severity, subject, trigger_event_id, status, steps, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		incident.ID, incident.Playbook, incident.Severity,
		incident.Subject, incident.TriggerID, incident.Status,
		incident.Steps, incident.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE incidents
		SET status = $2, steps = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, incident.ID, incident.Status, incident.Steps)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIncidentNotFound
	}

	return nil
}

func (r *PostgresRepository) GetIncidentByID(ctx context.Context, id string) (*models.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, playbook, severity, subject, trigger_event_id, status, steps, started_at
		FROM incidents
		WHERE id = $1
	`

	var incident models.Incident
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&incident.ID, &incident.Playbook, &incident.Severity,
		&incident.Subject, &incident.TriggerID, &incident.Status,
		&incident.Steps, &incident.StartedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return &incident, nil
}

func (r *PostgresRepository) ListIncidents(ctx context.Context, limit int) ([]*models.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		SELECT id, playbook, severity, subject, trigger_event_id, status, steps, started_at
		FROM incidents
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		var incident models.Incident
		if err := rows.Scan(
			&incident.ID, &incident.Playbook, &incident.Severity,
			&incident.Subject, &incident.TriggerID, &incident.Status,
			&incident.Steps, &incident.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, &incident)
	}

	return incidents, rows.Err()
}
