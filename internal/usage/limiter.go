package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sproutly/sproutly/server/internal/config"
	"github.com/sproutly/sproutly/server/internal/metrics"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// Unlimited is the sentinel quota for the premium tier.
const Unlimited = -1

// Feature names used for quota accounting.
const (
	FeatureIdentification = "identification"
	FeatureHealth         = "health"
	FeatureChat           = "chat"
)

// featureActions maps a billable feature onto the ledger actions that
// count against its cap. Both chat tiers draw from the one chat quota.
var featureActions = map[string][]string{
	FeatureIdentification: {"identification"},
	FeatureHealth:         {"health_assessment"},
	FeatureChat:           {"chat_simple", "chat_complex"},
}

// ── Sliding-window gate ─────────────────────────────────────

// window is one concurrent sliding-window cap.
type window struct {
	span time.Duration
	max  int
}

// The three windows enforced concurrently, tightest first.
var defaultWindows = []window{
	{span: time.Second, max: 3},
	{span: 10 * time.Second, max: 20},
	{span: time.Minute, max: 100},
}

// RateLimitError reports a sliding-window violation.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// SlidingWindow enforces per-key request caps over three concurrent
// windows, short-circuiting on the first violation. State is in-memory:
// the counts tolerate bounded staleness and a restart resets them, which
// is acceptable for an abuse gate (the monthly quota is ledger-backed).
type SlidingWindow struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	windows []window
	now     func() time.Time
}

// NewSlidingWindow creates the gate with the standard windows.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		events:  make(map[string][]time.Time),
		windows: defaultWindows,
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it is within all
// windows. On violation no request is recorded and a RateLimitError with
// the earliest admissible retry delay is returned.
func (s *SlidingWindow) Allow(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	longest := s.windows[len(s.windows)-1].span

	// Prune events older than the longest window.
	kept := s.events[key][:0]
	for _, t := range s.events[key] {
		if now.Sub(t) < longest {
			kept = append(kept, t)
		}
	}
	s.events[key] = kept

	for _, w := range s.windows {
		count := 0
		var oldest time.Time
		for _, t := range kept {
			if now.Sub(t) < w.span {
				if count == 0 || t.Before(oldest) {
					oldest = t
				}
				count++
			}
		}
		if count >= w.max {
			retry := w.span - now.Sub(oldest)
			if retry < time.Second {
				retry = time.Second
			}
			metrics.QuotaRejections.WithLabelValues("window", "").Inc()
			return &RateLimitError{RetryAfter: retry}
		}
	}

	s.events[key] = append(kept, now)
	return nil
}

// ── Monthly quota gate ──────────────────────────────────────

// QuotaError reports a monthly cap violation.
type QuotaError struct {
	Feature  string
	Used     int
	Limit    int
	ResetsAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d/%d, resets %s", e.Feature, e.Used, e.Limit, e.ResetsAt.Format(time.RFC3339))
}

// Quota enforces per-task monthly caps against the usage ledger. The
// month starts on day 1 at 00:00 UTC. Only success=true ledger rows
// count against the cap.
type Quota struct {
	store store.UsageStore
	cfg   config.QuotaConfig
	now   func() time.Time
}

// NewQuota creates the monthly quota gate.
func NewQuota(s store.UsageStore, cfg config.QuotaConfig) *Quota {
	return &Quota{store: s, cfg: cfg, now: time.Now}
}

// LimitFor returns the monthly cap for a feature and tier.
func (q *Quota) LimitFor(tier models.Tier, feature string) int {
	if tier == models.TierPremium {
		return Unlimited
	}
	switch feature {
	case FeatureIdentification:
		return q.cfg.FreeIdentification
	case FeatureHealth:
		return q.cfg.FreeHealth
	case FeatureChat:
		return q.cfg.FreeChat
	default:
		return Unlimited
	}
}

// Check decides before any provider call. Premium skips the ledger read
// entirely.
func (q *Quota) Check(ctx context.Context, user *models.User, feature string) error {
	limit := q.LimitFor(user.Tier, feature)
	if limit == Unlimited {
		return nil
	}

	start, next := monthWindow(q.now().UTC())
	used, err := q.store.CountMonthlySuccesses(ctx, user.ID, featureActions[feature], start)
	if err != nil {
		return fmt.Errorf("count monthly usage: %w", err)
	}
	if used >= limit {
		metrics.QuotaRejections.WithLabelValues("monthly", feature).Inc()
		return &QuotaError{Feature: feature, Used: used, Limit: limit, ResetsAt: next}
	}
	return nil
}

// Used returns the current month's successful call count for a feature.
func (q *Quota) Used(ctx context.Context, userID, feature string) (int, error) {
	start, _ := monthWindow(q.now().UTC())
	return q.store.CountMonthlySuccesses(ctx, userID, featureActions[feature], start)
}

// ResetsAt returns the start of the next month in UTC.
func (q *Quota) ResetsAt() time.Time {
	_, next := monthWindow(q.now().UTC())
	return next
}

func monthWindow(now time.Time) (start, next time.Time) {
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	next = start.AddDate(0, 1, 0)
	return start, next
}
