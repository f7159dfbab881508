package twofactor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/repository"
)

const (
	// Issuer is the name shown in authenticator apps.
	Issuer = "SmartTutor Connect"

	secretSize      = 20
	backupCodeCount = 8
)

var (
	ErrNotEnrolled = errors.New("two-factor not enrolled")
	ErrInvalidCode = errors.New("invalid two-factor code")
)

// EnrollmentStore is the slice of the repository the provider needs.
type EnrollmentStore interface {
	SaveEnrollment(ctx context.Context, enrollment *models.TwoFactorEnrollment) error
	GetEnrollment(ctx context.Context, userID string) (*models.TwoFactorEnrollment, error)
	ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error)
}

// Provider issues TOTP enrollments and verifies codes. Codes are accepted
// one period either side of the current one to absorb clock drift.
type Provider struct {
	store EnrollmentStore

	now func() time.Time
}

func NewProvider(store EnrollmentStore) *Provider {
	return &Provider{store: store, now: time.Now}
}

// Enrollment is the material handed to the user exactly once at setup.
type Enrollment struct {
	Secret      string
	OTPAuthURL  string
	BackupCodes []string
}

// Enroll generates a fresh secret and backup codes for the user. The
// enrollment stays unconfirmed until the user proves possession with a
// valid code; re-enrolling replaces any previous secret.
func (p *Provider) Enroll(ctx context.Context, userID, email string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: email,
		SecretSize:  secretSize,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}

	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	enrollment := &models.TwoFactorEnrollment{
		UserID:      userID,
		Secret:      key.Secret(),
		BackupCodes: codes,
		Confirmed:   false,
		CreatedAt:   p.now(),
	}
	if err := p.store.SaveEnrollment(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}

	return &Enrollment{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		BackupCodes: codes,
	}, nil
}

// Confirm verifies the first code after enrollment and activates it.
func (p *Provider) Confirm(ctx context.Context, userID, code string) error {
	enrollment, err := p.store.GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return ErrNotEnrolled
		}
		return err
	}

	if !p.validateTOTP(code, enrollment.Secret) {
		return ErrInvalidCode
	}

	enrollment.Confirmed = true
	return p.store.SaveEnrollment(ctx, enrollment)
}

// Enabled reports whether the user has a confirmed enrollment.
func (p *Provider) Enabled(ctx context.Context, userID string) (bool, error) {
	enrollment, err := p.store.GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return false, nil
		}
		return false, err
	}
	return enrollment.Confirmed, nil
}

// Verify accepts either a current TOTP code or an unused backup code.
// Backup codes are consumed on success and can never be replayed.
func (p *Provider) Verify(ctx context.Context, userID, code string) error {
	enrollment, err := p.store.GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return ErrNotEnrolled
		}
		return err
	}
	if !enrollment.Confirmed {
		return ErrNotEnrolled
	}

	if p.validateTOTP(code, enrollment.Secret) {
		return nil
	}

	consumed, err := p.store.ConsumeBackupCode(ctx, userID, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidCode
	}
	return nil
}

func (p *Provider) validateTOTP(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, p.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// generateBackupCodes returns single-use recovery codes, each eight
// uppercase hex characters.
func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		raw := make([]byte, 4)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(raw))
	}
	return codes, nil
}
