// Package usage implements the append-only provider-attempt ledger and
// the read-side rate gates built on top of it.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/metrics"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// modelCost is the per-1K-token fee in USD.
type modelCost struct {
	Input  float64
	Output float64
}

// Cost table keyed by provider, then model. Identification vendors bill a
// flat per-call fee recorded under the empty model key.
var flatCosts = map[string]float64{
	"plant-id": 0.05,
}

var tokenCosts = map[string]modelCost{
	"claude-3-5-haiku-20241022": {Input: 0.001, Output: 0.005},
	"claude-sonnet-4-20250514":  {Input: 0.003, Output: 0.015},
	"gpt-4o-mini":               {Input: 0.00015, Output: 0.0006},
	"gemini-1.5-flash":          {Input: 0.000075, Output: 0.0003},
	"text-embedding-3-small":    {Input: 0.00002, Output: 0},
}

// Cost computes the USD cost of one attempt at record time.
func Cost(provider, model string, inputTokens, outputTokens int64) float64 {
	if fee, ok := flatCosts[provider]; ok {
		return fee
	}
	c, ok := tokenCosts[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*c.Input + float64(outputTokens)/1000*c.Output
}

// Recorder writes usage log entries. It is fire-and-forget from the
// caller's perspective: write failures are logged and counted but never
// surfaced, so a ledger outage cannot mask a provider result.
type Recorder struct {
	store store.UsageStore
}

// NewRecorder creates a ledger recorder.
func NewRecorder(s store.UsageStore) *Recorder {
	return &Recorder{store: s}
}

// Attempt describes one finished provider attempt.
type Attempt struct {
	UserID       string
	Action       string
	Provider     string
	Model        string
	InputTokens  *int64
	OutputTokens *int64
	LatencyMs    int64
	Success      bool
	ErrorCode    string
	Endpoint     string
}

// Record appends exactly one ledger row for the attempt.
func (r *Recorder) Record(ctx context.Context, a Attempt) {
	var in, out int64
	if a.InputTokens != nil {
		in = *a.InputTokens
	}
	if a.OutputTokens != nil {
		out = *a.OutputTokens
	}

	entry := &models.UsageLogEntry{
		ID:           uuid.NewString(),
		UserID:       a.UserID,
		Action:       a.Action,
		Provider:     a.Provider,
		Model:        a.Model,
		InputTokens:  a.InputTokens,
		OutputTokens: a.OutputTokens,
		LatencyMs:    a.LatencyMs,
		Success:      a.Success,
		ErrorCode:    a.ErrorCode,
		Endpoint:     a.Endpoint,
		CreatedAt:    time.Now().UTC(),
	}
	if a.Success {
		entry.CostUSD = Cost(a.Provider, a.Model, in, out)
	}

	if err := r.store.CreateUsageLog(ctx, entry); err != nil {
		metrics.LedgerWriteFailures.Inc()
		log.Warn().
			Err(err).
			Str("user", a.UserID).
			Str("action", a.Action).
			Str("provider", a.Provider).
			Msg("usage log write failed")
	}

	outcome := "failure"
	if a.Success {
		outcome = "success"
	}
	metrics.ProviderAttempts.WithLabelValues(a.Action, a.Provider, outcome).Inc()
	metrics.ProviderLatency.WithLabelValues(a.Action, a.Provider).Observe(float64(a.LatencyMs) / 1000)
}
