package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/ratelimit"
	"github.com/smarttutor-systems/trustcore/internal/repository"
)

// blockDuration is how long an automated response blocks a source address.
const blockDuration = 24 * time.Hour

// AccountStore is the slice of the repository the responder mutates during
// a lockdown.
type AccountStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	RevokeUserSessions(ctx context.Context, userID string) (int, error)
}

// Responder executes the automated response ladder for each recorded
// event: every threat level logs, medium and above notifies, high and
// above blocks the source address, critical locks the account down.
type Responder struct {
	dispatcher     *Dispatcher
	blocklist      ratelimit.Blocklist
	accounts       AccountStore
	notifyChannels []string
	logger         *logging.Logger
}

func NewResponder(dispatcher *Dispatcher, blocklist ratelimit.Blocklist, accounts AccountStore, notifyChannels []string, logger *logging.Logger) *Responder {
	return &Responder{
		dispatcher:     dispatcher,
		blocklist:      blocklist,
		accounts:       accounts,
		notifyChannels: notifyChannels,
		logger:         logger,
	}
}

// HandleEvent implements the audit sink. Response actions are best-effort:
// a failing action is logged and the rest of the ladder still runs.
func (r *Responder) HandleEvent(ctx context.Context, event *models.SecurityEvent) {
	level := ClassifyThreat(event.Type)
	log := r.logger.WithContext(ctx)

	for _, action := range ActionsFor(level) {
		switch action {
		case ActionLog:
			log.Info("automated response",
				"event_type", event.Type,
				"threat_level", level,
				"ip", event.IPAddress,
			)

		case ActionNotify:
			alert := NewAlert(event, nil)
			if err := r.dispatcher.Notify(ctx, alert, r.notifyChannels); err != nil {
				log.Error("automated notification failed", "event_id", event.ID, "error", err)
			}

		case ActionBlock:
			if event.IPAddress == "" {
				continue
			}
			if err := r.blocklist.Block(ctx, event.IPAddress, blockDuration); err != nil {
				log.Error("automated block failed", "ip", event.IPAddress, "error", err)
				continue
			}
			log.Warn("source address blocked", "ip", event.IPAddress, "duration", blockDuration)

		case ActionLockdown:
			if event.UserID == "" {
				continue
			}
			if err := r.lockdown(ctx, event.UserID); err != nil {
				log.Error("automated lockdown failed", "user_id", event.UserID, "error", err)
			}
		}
	}
}

// lockdown suspends the account, forces a password change and revokes all
// active sessions.
func (r *Responder) lockdown(ctx context.Context, userID string) error {
	user, err := r.accounts.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}

	user.Status = models.StatusSuspended
	user.ForcePasswordChange = true
	user.UpdatedAt = time.Now()
	if err := r.accounts.UpdateUser(ctx, user); err != nil {
		return err
	}

	revoked, err := r.accounts.RevokeUserSessions(ctx, userID)
	if err != nil {
		return err
	}
	r.logger.WithContext(ctx).Warn("account locked down",
		"user_id", userID,
		"sessions_revoked", revoked,
	)
	return nil
}
