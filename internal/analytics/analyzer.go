package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/models"
)

// riskWeights score each event type's contribution to the window's risk.
// Unlisted types weigh 1.
var riskWeights = map[models.EventType]float64{
	models.EventLoginFailed:     1,
	models.EventSuspiciousIP:    3,
	models.EventBruteForce:      5,
	models.EventAdminAccess:     2,
	models.EventMultiple2FAFail: 4,
	models.EventPasswordReset:   2,
	models.EventUnusualActivity: 1,
}

const (
	// Risk level thresholds on the normalized 0-100 scale.
	levelCritical = 75
	levelHigh     = 50
	levelMedium   = 25

	accountHotspotThreshold = 10
	ipHotspotThreshold      = 5
	hotspotLimit            = 10

	// minStdDev keeps near-constant series from flagging trivially small
	// deviations as two-sigma outliers.
	minStdDev = 1.0
)

// EventSource is the read-only slice of the repository the analyzer uses.
type EventSource interface {
	ListEventsSince(ctx context.Context, since time.Time) ([]*models.SecurityEvent, error)
	ListLoginAttemptsSince(ctx context.Context, since time.Time) ([]*models.LoginAttempt, error)
}

// Analyzer computes risk reports from the security event log. All queries
// are read-only and never fail hard: if the store is unreachable the
// analyzer degrades to an empty report so risk reporting can never block
// authentication.
type Analyzer struct {
	store  EventSource
	logger *logging.Logger

	now func() time.Time
}

func NewAnalyzer(store EventSource, logger *logging.Logger) *Analyzer {
	return &Analyzer{store: store, logger: logger, now: time.Now}
}

type RiskScore struct {
	Score   float64            `json:"score"`
	Factors map[string]float64 `json:"factors"`
	Level   string             `json:"level"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Trend struct {
	Data       []DailyCount `json:"data"`
	Change     float64      `json:"change"`
	Prediction float64      `json:"prediction"`
}

type Anomaly struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Hotspot struct {
	Key        string   `json:"key"`
	EventCount int      `json:"event_count"`
	EventTypes []string `json:"event_types"`
}

type Recommendation struct {
	Priority string `json:"priority"`
	Action   string `json:"action"`
	Details  string `json:"details"`
}

// Report is the full risk analysis over a trailing window of days.
type Report struct {
	RiskScore       RiskScore            `json:"riskScore"`
	Trends          map[string]Trend     `json:"trends"`
	Anomalies       map[string][]Anomaly `json:"anomalies"`
	Recommendations []Recommendation     `json:"recommendations"`
	Hotspots        map[string][]Hotspot `json:"hotspots"`
}

func emptyReport() *Report {
	return &Report{
		RiskScore:       RiskScore{Score: 0, Factors: map[string]float64{}, Level: "low"},
		Trends:          map[string]Trend{},
		Anomalies:       map[string][]Anomaly{},
		Recommendations: []Recommendation{},
		Hotspots:        map[string][]Hotspot{},
	}
}

// Analyze produces the complete report for the trailing window. Store
// failures degrade to an empty report.
func (a *Analyzer) Analyze(ctx context.Context, windowDays int) *Report {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := a.now().AddDate(0, 0, -windowDays)

	events, err := a.store.ListEventsSince(ctx, since)
	if err != nil {
		a.logger.WithContext(ctx).Warn("risk analysis degraded: event store unavailable", "error", err)
		return emptyReport()
	}
	attempts, err := a.store.ListLoginAttemptsSince(ctx, since)
	if err != nil {
		a.logger.WithContext(ctx).Warn("risk analysis degraded: event store unavailable", "error", err)
		return emptyReport()
	}

	score := a.riskScore(events, windowDays)
	return &Report{
		RiskScore:       score,
		Trends:          a.trends(events),
		Anomalies:       a.anomalies(events, attempts),
		Recommendations: recommendations(score),
		Hotspots:        a.hotspots(events),
	}
}

func (a *Analyzer) riskScore(events []*models.SecurityEvent, windowDays int) RiskScore {
	factors := make(map[string]float64)
	var total float64

	counts := make(map[models.EventType]int)
	for _, e := range events {
		counts[e.Type]++
	}
	for eventType, count := range counts {
		weight, ok := riskWeights[eventType]
		if !ok {
			weight = 1
		}
		contribution := float64(count) * weight
		factors[string(eventType)] = contribution
		total += contribution
	}

	normalized := math.Min(100, total/(50*float64(windowDays))*100)
	return RiskScore{
		Score:   round2(normalized),
		Factors: factors,
		Level:   riskLevel(normalized),
	}
}

func riskLevel(score float64) string {
	switch {
	case score >= levelCritical:
		return "critical"
	case score >= levelHigh:
		return "high"
	case score >= levelMedium:
		return "medium"
	default:
		return "low"
	}
}

func (a *Analyzer) trends(events []*models.SecurityEvent) map[string]Trend {
	// Daily counts per event type, UTC-bucketed.
	daily := make(map[models.EventType]map[string]int)
	for _, e := range events {
		date := e.CreatedAt.UTC().Format("2006-01-02")
		if daily[e.Type] == nil {
			daily[e.Type] = make(map[string]int)
		}
		daily[e.Type][date]++
	}

	trends := make(map[string]Trend, len(daily))
	for eventType, byDate := range daily {
		series := make([]DailyCount, 0, len(byDate))
		for date, count := range byDate {
			series = append(series, DailyCount{Date: date, Count: count})
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })

		trends[string(eventType)] = Trend{
			Data:       series,
			Change:     trendChange(series),
			Prediction: predictNextDay(series),
		}
	}
	return trends
}

// trendChange is the percentage difference between the mean of the
// earliest up-to-3 daily counts and the mean of the latest up-to-3. A zero
// baseline counts as a 100% increase when the later mean is nonzero.
func trendChange(series []DailyCount) float64 {
	if len(series) < 2 {
		return 0
	}

	head := series
	if len(head) > 3 {
		head = head[:3]
	}
	tail := series
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}

	first := meanCounts(head)
	last := meanCounts(tail)

	if first == 0 {
		if last > 0 {
			return 100
		}
		return 0
	}
	return round2((last - first) / first * 100)
}

// predictNextDay is a simple moving average over the latest 7 daily
// counts, or the overall mean when fewer than 7 days of data exist.
func predictNextDay(series []DailyCount) float64 {
	if len(series) == 0 {
		return 0
	}
	window := series
	if len(window) > 7 {
		window = window[len(window)-7:]
	}
	return round2(meanCounts(window))
}

func meanCounts(series []DailyCount) float64 {
	var sum float64
	for _, d := range series {
		sum += float64(d.Count)
	}
	return sum / float64(len(series))
}

func (a *Analyzer) anomalies(events []*models.SecurityEvent, attempts []*models.LoginAttempt) map[string][]Anomaly {
	loginDaily := make(map[string]int)
	for _, att := range attempts {
		loginDaily[att.AttemptedAt.UTC().Format("2006-01-02")]++
	}

	ipCounts := make(map[string]int)
	for _, e := range events {
		if e.IPAddress != "" {
			ipCounts[e.IPAddress]++
		}
	}

	return map[string][]Anomaly{
		"login_spikes":     twoSigmaOutliers(loginDaily),
		"ip_concentration": twoSigmaOutliers(ipCounts),
	}
}

// twoSigmaOutliers flags entries whose count exceeds mean + 2 standard
// deviations across the partition.
func twoSigmaOutliers(counts map[string]int) []Anomaly {
	if len(counts) == 0 {
		return []Anomaly{}
	}

	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))

	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(counts)))
	if stddev < minStdDev {
		stddev = minStdDev
	}

	threshold := mean + 2*stddev
	outliers := make([]Anomaly, 0)
	for key, count := range counts {
		if float64(count) > threshold {
			outliers = append(outliers, Anomaly{Key: key, Count: count})
		}
	}
	sort.Slice(outliers, func(i, j int) bool {
		if outliers[i].Count != outliers[j].Count {
			return outliers[i].Count > outliers[j].Count
		}
		return outliers[i].Key < outliers[j].Key
	})
	return outliers
}

func (a *Analyzer) hotspots(events []*models.SecurityEvent) map[string][]Hotspot {
	type bucket struct {
		count int
		types map[string]bool
	}

	byUser := make(map[string]*bucket)
	byIP := make(map[string]*bucket)

	add := func(m map[string]*bucket, key string, eventType models.EventType) {
		b := m[key]
		if b == nil {
			b = &bucket{types: make(map[string]bool)}
			m[key] = b
		}
		b.count++
		b.types[string(eventType)] = true
	}

	for _, e := range events {
		if e.UserID != "" {
			add(byUser, e.UserID, e.Type)
		}
		if e.IPAddress != "" {
			add(byIP, e.IPAddress, e.Type)
		}
	}

	collect := func(m map[string]*bucket, threshold int) []Hotspot {
		out := make([]Hotspot, 0)
		for key, b := range m {
			if b.count <= threshold {
				continue
			}
			types := make([]string, 0, len(b.types))
			for t := range b.types {
				types = append(types, t)
			}
			sort.Strings(types)
			out = append(out, Hotspot{Key: key, EventCount: b.count, EventTypes: types})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].EventCount != out[j].EventCount {
				return out[i].EventCount > out[j].EventCount
			}
			return out[i].Key < out[j].Key
		})
		if len(out) > hotspotLimit {
			out = out[:hotspotLimit]
		}
		return out
	}

	return map[string][]Hotspot{
		"vulnerable_accounts": collect(byUser, accountHotspotThreshold),
		"suspicious_ips":      collect(byIP, ipHotspotThreshold),
	}
}

var factorRecommendations = map[string]Recommendation{
	string(models.EventLoginFailed): {
		Priority: "high",
		Action:   "Review password policies",
		Details:  "High number of failed logins detected. Consider stronger password requirements and account lockout policies.",
	},
	string(models.EventSuspiciousIP): {
		Priority: "critical",
		Action:   "Implement IP filtering",
		Details:  "Multiple suspicious IPs detected. Consider IP-based access controls and geographic restrictions.",
	},
	string(models.EventBruteForce): {
		Priority: "critical",
		Action:   "Enhance brute force protection",
		Details:  "Brute force attempts detected. Implement progressive delays and advanced bot protection.",
	},
	string(models.EventMultiple2FAFail): {
		Priority: "high",
		Action:   "Review 2FA implementation",
		Details:  "Multiple 2FA failures detected. Consider additional verification steps and monitoring.",
	},
}

// recommendations surfaces guidance for every factor contributing more
// than 50 weighted points, plus a general one when the overall score is
// critical.
func recommendations(score RiskScore) []Recommendation {
	out := make([]Recommendation, 0)

	factors := make([]string, 0, len(score.Factors))
	for f := range score.Factors {
		factors = append(factors, f)
	}
	sort.Strings(factors)

	for _, factor := range factors {
		if score.Factors[factor] <= 50 {
			continue
		}
		if rec, ok := factorRecommendations[factor]; ok {
			out = append(out, rec)
		} else {
			out = append(out, Recommendation{
				Priority: "medium",
				Action:   "Review security logs",
				Details:  "Review recent security events and implement appropriate measures.",
			})
		}
	}

	if score.Score > 75 {
		out = append(out, Recommendation{
			Priority: "critical",
			Action:   "Implement additional security measures",
			Details:  "High risk score detected. Consider stricter access controls and monitoring.",
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
