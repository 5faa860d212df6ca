package usage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/internal/usage"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		in, out  int64
		want     float64
	}{
		{"flat fee identification", "plant-id", "", 0, 0, 0.05},
		{"haiku per token", "claude", "claude-3-5-haiku-20241022", 1000, 1000, 0.001 + 0.005},
		{"sonnet per token", "claude", "claude-sonnet-4-20250514", 2000, 500, 2*0.003 + 0.5*0.015},
		{"embedding output free", "openai-embedding", "text-embedding-3-small", 1000, 0, 0.00002},
		{"unknown model", "claude", "claude-unknown", 1000, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, usage.Cost(tt.provider, tt.model, tt.in, tt.out), 1e-9)
		})
	}
}

func TestRecorderWritesOneRow(t *testing.T) {
	mem := store.NewMemoryStore()
	rec := usage.NewRecorder(mem)

	in, out := int64(500), int64(200)
	rec.Record(context.Background(), usage.Attempt{
		UserID:       "u1",
		Action:       "chat_simple",
		Provider:     "claude",
		Model:        "claude-3-5-haiku-20241022",
		InputTokens:  &in,
		OutputTokens: &out,
		LatencyMs:    840,
		Success:      true,
	})

	entries := mem.UsageEntries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "chat_simple", e.Action)
	assert.Equal(t, int64(840), e.LatencyMs)
	assert.InDelta(t, 0.5*0.001+0.2*0.005, e.CostUSD, 1e-9)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestRecorderFailedAttemptHasNoCost(t *testing.T) {
	mem := store.NewMemoryStore()
	rec := usage.NewRecorder(mem)

	rec.Record(context.Background(), usage.Attempt{
		UserID:    "u1",
		Action:    "identification",
		Provider:  "plant-id",
		Success:   false,
		ErrorCode: "TIMEOUT",
	})

	entries := mem.UsageEntries()
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].CostUSD)
	assert.Equal(t, "TIMEOUT", entries[0].ErrorCode)
}
