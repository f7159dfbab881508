package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smarttutor-systems/trustcore/internal/audit"
	"github.com/smarttutor-systems/trustcore/internal/credentials"
	"github.com/smarttutor-systems/trustcore/internal/metrics"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/ratelimit"
	"github.com/smarttutor-systems/trustcore/internal/repository"
	"github.com/smarttutor-systems/trustcore/internal/twofactor"
	"github.com/smarttutor-systems/trustcore/pkg/tokens"
)

var (
	ErrInvalidEmail      = errors.New("a valid email address is required")
	ErrRateLimited       = errors.New("too many requests")
	ErrAddressBlocked    = errors.New("source address blocked")
	ErrAccountInactive   = errors.New("account is not active")
	ErrTwoFactorRequired = errors.New("two-factor code required")
	ErrInvalidToken      = errors.New("invalid token")
)

// repeated2FAThreshold is the number of failed two-factor attempts inside
// repeated2FAWindow that escalates to a multiple_2fa_failures event.
const (
	repeated2FAThreshold = 3
	repeated2FAWindow    = 15 * time.Minute
)

// RequestMeta carries the client context a handler extracts from the
// request. Location is best effort (edge geo header) and may be empty.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	Location  string
}

// AuthService orchestrates the login pipeline: throttle, blocklist,
// lockout, password, optional second factor, token issue. Every outcome
// leaves a security event through the recorder.
type AuthService struct {
	repo      repository.Repository
	guard     *credentials.Guard
	twoFactor *twofactor.Provider
	tokens    *tokens.TokenService
	limiter   ratelimit.Limiter
	blocklist ratelimit.Blocklist
	recorder  *audit.Recorder

	tokenTTL time.Duration
	now      func() time.Time
}

func NewAuthService(
	repo repository.Repository,
	guard *credentials.Guard,
	twoFactor *twofactor.Provider,
	tokenSvc *tokens.TokenService,
	limiter ratelimit.Limiter,
	blocklist ratelimit.Blocklist,
	recorder *audit.Recorder,
	tokenTTL time.Duration,
) *AuthService {
	return &AuthService{
		repo:      repo,
		guard:     guard,
		twoFactor: twoFactor,
		tokens:    tokenSvc,
		limiter:   limiter,
		blocklist: blocklist,
		recorder:  recorder,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// Register creates an account. The password must satisfy the policy; the
// bcrypt hash is what gets stored.
func (s *AuthService) Register(ctx context.Context, req *models.RegisterRequest, meta RequestMeta) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	hash, err := s.guard.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}

	userID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user id: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           userID.String(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         role,
		Status:       models.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login runs the full authentication pipeline. The rate limit and the
// blocklist are checked before any credential work so abusive sources
// never reach bcrypt.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest, meta RequestMeta) (*models.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	allowed, err := s.limiter.Allow(ctx, meta.IPAddress)
	if err != nil {
		return nil, err
	}
	if !allowed {
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	blocked, err := s.blocklist.IsBlocked(ctx, meta.IPAddress)
	if err != nil {
		return nil, err
	}
	if blocked {
		s.record(ctx, models.EventSuspiciousIP, models.SeverityHigh, "", meta,
			"Login attempt from blocked source address")
		metrics.LoginAttempts.WithLabelValues("blocked").Inc()
		return nil, ErrAddressBlocked
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}

	if err := s.guard.VerifyPassword(ctx, user, email, req.Password, meta.IPAddress); err != nil {
		switch {
		case errors.Is(err, credentials.ErrAccountLocked):
			s.record(ctx, models.EventAccountLocked, models.SeverityHigh, userID, meta,
				"Account locked after repeated failed logins: "+email)
			metrics.LockedAccounts.Inc()
			metrics.LoginAttempts.WithLabelValues("locked").Inc()
		case errors.Is(err, credentials.ErrInvalidCredentials):
			s.record(ctx, models.EventLoginFailed, models.SeverityLow, userID, meta,
				"Failed login for "+email)
			metrics.LoginAttempts.WithLabelValues("failure").Inc()
			if user != nil {
				failedAt := s.now()
				user.FailedLoginAttempts++
				user.LastFailedLogin = &failedAt
				user.UpdatedAt = failedAt
				// Advisory counters; lockout decisions come from the
				// attempt log.
				_ = s.repo.UpdateUser(ctx, user)
			}
		default:
			// Store trouble is still an auditable failed login.
			s.record(ctx, models.EventLoginFailed, models.SeverityMedium, userID, meta,
				"Login could not be verified for "+email)
			metrics.LoginAttempts.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	enrolled, err := s.twoFactor.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		if req.TOTPCode == "" {
			return nil, ErrTwoFactorRequired
		}
		if err := s.twoFactor.Verify(ctx, user.ID, req.TOTPCode); err != nil {
			s.record(ctx, models.EventTwoFactorFailed, models.SeverityMedium, user.ID, meta,
				"Two-factor verification failed for "+email)
			s.escalateRepeated2FAFailures(ctx, user, meta)
			metrics.LoginAttempts.WithLabelValues("2fa_failure").Inc()
			return nil, err
		}
	}

	if !user.IsActive() {
		s.record(ctx, models.EventLoginFailed, models.SeverityMedium, user.ID, meta,
			"Login rejected for inactive account "+email)
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	resp, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user.LastLogin = &now
	user.FailedLoginAttempts = 0
	user.LastFailedLogin = nil
	// A completed login (second factor included, when enrolled) clears the
	// step-up verification flag an incident may have set.
	if user.RequireVerification && enrolled {
		user.RequireVerification = false
	}
	user.UpdatedAt = now
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.record(ctx, models.EventLoginSuccess, models.SeverityLow, user.ID, meta,
		"Successful login for "+email)
	if user.Role == models.RoleAdmin {
		s.record(ctx, models.EventAdminAccess, models.SeverityLow, user.ID, meta,
			"Administrator session opened for "+email)
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	return resp, nil
}

// issueSession signs a token and records the session it belongs to, so
// revoke_all_sessions has something to revoke.
func (s *AuthService) issueSession(ctx context.Context, user *models.User) (*models.LoginResponse, error) {
	token, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	session := &models.Session{
		ID:        sessionID.String(),
		UserID:    user.ID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &models.LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(s.tokenTTL.Seconds()),
		User:      user,
	}, nil
}

// escalateRepeated2FAFailures emits a multiple_2fa_failures event once the
// account's recent failure count crosses the threshold. The escalation
// event is what the threat table classifies as high.
func (s *AuthService) escalateRepeated2FAFailures(ctx context.Context, user *models.User, meta RequestMeta) {
	count, err := s.repo.CountEventsByTypes(ctx,
		[]models.EventType{models.EventTwoFactorFailed},
		user.ID, s.now().Add(-repeated2FAWindow))
	if err != nil || count < repeated2FAThreshold {
		return
	}
	s.record(ctx, models.EventMultiple2FAFail, models.SeverityHigh, user.ID, meta,
		fmt.Sprintf("%d failed two-factor attempts within %s", count, repeated2FAWindow))
}

// ValidateToken verifies the signature and expiry, then checks the account
// is still active. Suspending an account invalidates its tokens even
// though the tokens themselves are stateless.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.ValidateTokenResponse, error) {
	claims, err := s.tokens.Validate(tokenString)
	if err != nil {
		return &models.ValidateTokenResponse{Valid: false}, nil
	}

	user, err := s.repo.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return &models.ValidateTokenResponse{Valid: false}, nil
		}
		return nil, err
	}
	if !user.IsActive() {
		return &models.ValidateTokenResponse{Valid: false}, nil
	}

	return &models.ValidateTokenResponse{
		Valid:  true,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}, nil
}

// Setup2FA starts enrollment. The secret is not active until the first
// code is confirmed.
func (s *AuthService) Setup2FA(ctx context.Context, userID string) (*models.TwoFactorSetupResponse, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.twoFactor.Enroll(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &models.TwoFactorSetupResponse{
		Secret:      enrollment.Secret,
		OTPAuthURL:  enrollment.OTPAuthURL,
		BackupCodes: enrollment.BackupCodes,
	}, nil
}

// Confirm2FA activates a pending enrollment with its first valid code.
func (s *AuthService) Confirm2FA(ctx context.Context, userID, code string, meta RequestMeta) error {
	if err := s.twoFactor.Confirm(ctx, userID, code); err != nil {
		return err
	}
	s.record(ctx, models.EventTwoFactorEnabled, models.SeverityLow, userID, meta,
		"Two-factor authentication enabled")
	return nil
}

func (s *AuthService) record(ctx context.Context, eventType models.EventType, severity models.Severity, userID string, meta RequestMeta, description string) {
	s.recorder.Record(ctx, &models.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		UserID:      userID,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		Location:    meta.Location,
		Description: description,
	})
}
