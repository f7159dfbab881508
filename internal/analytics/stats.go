package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

// timeframes maps the stats endpoint's timeframe parameter to a trailing
// duration. Unknown values fall back to 24h.
var timeframes = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

var suspiciousTypes = map[models.EventType]bool{
	models.EventSuspiciousIP:    true,
	models.EventBruteForce:      true,
	models.EventUnusualActivity: true,
}

// Stats is the operator dashboard summary for one timeframe.
type Stats struct {
	TotalEvents    int                     `json:"totalEvents"`
	FailedLogins   int                     `json:"failedLogins"`
	Suspicious     int                     `json:"suspicious"`
	LockedAccounts int                     `json:"lockedAccounts"`
	RecentEvents   []*models.SecurityEvent `json:"events"`
}

const recentEventLimit = 100

// Stats summarizes activity in the given timeframe ("1h", "24h", "7d",
// "30d"). Store failures degrade to zeroed stats.
func (a *Analyzer) Stats(ctx context.Context, timeframe string, lockoutThreshold int) *Stats {
	window, ok := timeframes[timeframe]
	if !ok {
		window = timeframes["24h"]
	}
	since := a.now().Add(-window)

	stats := &Stats{RecentEvents: []*models.SecurityEvent{}}

	events, err := a.store.ListEventsSince(ctx, since)
	if err != nil {
		a.logger.WithContext(ctx).Warn("security stats degraded: event store unavailable", "error", err)
		return stats
	}
	attempts, err := a.store.ListLoginAttemptsSince(ctx, since)
	if err != nil {
		a.logger.WithContext(ctx).Warn("security stats degraded: event store unavailable", "error", err)
		return stats
	}

	stats.TotalEvents = len(events)
	for _, e := range events {
		if suspiciousTypes[e.Type] {
			stats.Suspicious++
		}
	}

	failuresByEmail := make(map[string]int)
	for _, att := range attempts {
		if !att.Success {
			stats.FailedLogins++
			failuresByEmail[att.Email]++
		}
	}
	for _, failures := range failuresByEmail {
		if failures >= lockoutThreshold {
			stats.LockedAccounts++
		}
	}

	recent := make([]*models.SecurityEvent, len(events))
	copy(recent, events)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > recentEventLimit {
		recent = recent[:recentEventLimit]
	}
	stats.RecentEvents = recent

	return stats
}
