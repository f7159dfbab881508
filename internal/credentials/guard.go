package credentials

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

var (
	// ErrInvalidCredentials covers both unknown accounts and wrong
	// passwords so callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked means the identity exceeded the failed-attempt
	// threshold inside the lockout window.
	ErrAccountLocked = errors.New("account temporarily locked")
)

// AttemptStore is the slice of the repository the guard needs.
type AttemptStore interface {
	RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedAttemptsByEmail(ctx context.Context, email string, since time.Time) (int, error)
}

const lockStripes = 64

// Guard enforces the password policy and the failed-attempt lockout.
// Attempts for one identity are serialized through a striped mutex so a
// burst of concurrent logins cannot race past the threshold.
type Guard struct {
	store       AttemptStore
	maxFailures int
	window      time.Duration
	stripes     [lockStripes]sync.Mutex

	now func() time.Time
}

func NewGuard(store AttemptStore, maxFailures int, window time.Duration) *Guard {
	return &Guard{
		store:       store,
		maxFailures: maxFailures,
		window:      window,
		now:         time.Now,
	}
}

func (g *Guard) stripe(email string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(email))
	return &g.stripes[h.Sum32()%lockStripes]
}

// HashPassword validates the candidate against the policy and returns its
// bcrypt hash.
func (g *Guard) HashPassword(password string) (string, error) {
	if err := CheckPassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckLockout reports whether the identity is currently locked out.
func (g *Guard) CheckLockout(ctx context.Context, email string) error {
	since := g.now().Add(-g.window)
	failures, err := g.store.CountFailedAttemptsByEmail(ctx, email, since)
	if err != nil {
		return err
	}
	if failures >= g.maxFailures {
		return ErrAccountLocked
	}
	return nil
}

// VerifyPassword checks the lockout window, compares the password and
// records the attempt. The lockout check and the attempt write hold the
// identity's stripe so concurrent attempts see each other's failures.
func (g *Guard) VerifyPassword(ctx context.Context, user *models.User, email, password, ip string) error {
	mu := g.stripe(email)
	mu.Lock()
	defer mu.Unlock()

	// The attempt row must land even when the caller hangs up mid-request;
	// otherwise aborting each request early would evade the lockout counter.
	ctx = context.WithoutCancel(ctx)

	if err := g.CheckLockout(ctx, email); err != nil {
		return err
	}

	var hash string
	if user != nil {
		hash = user.PasswordHash
	} else {
		// Compare against a throwaway hash so unknown accounts take
		// as long as wrong passwords.
		hash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
	}

	matchErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	success := user != nil && matchErr == nil

	attempt := &models.LoginAttempt{
		ID:          newAttemptID(),
		Email:       email,
		IPAddress:   ip,
		Success:     success,
		AttemptedAt: g.now(),
	}
	if err := g.store.RecordLoginAttempt(ctx, attempt); err != nil {
		return err
	}

	if !success {
		return ErrInvalidCredentials
	}
	return nil
}

// FailedAttempts returns the identity's failure count inside the current
// lockout window.
func (g *Guard) FailedAttempts(ctx context.Context, email string) (int, error) {
	return g.store.CountFailedAttemptsByEmail(ctx, email, g.now().Add(-g.window))
}
