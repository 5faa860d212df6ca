package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sproutly/sproutly/server/pkg/models"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func historyOf(contents ...string) []models.Message {
	msgs := make([]models.Message, 0, len(contents))
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, models.Message{Role: role, Content: c})
	}
	return msgs
}

func TestHistoryTurnsKeepsRecentWholeMessages(t *testing.T) {
	old := strings.Repeat("a", 400) // 100 tokens
	mid := strings.Repeat("b", 400)
	recent := strings.Repeat("c", 400)

	turns, kept := historyTurns(historyOf(old, mid, recent), 250)
	// Budget fits two whole messages counting from the end.
	assert.Equal(t, 2, kept)
	assert.Len(t, turns, 2)
	assert.Equal(t, "assistant", turns[0].Role)
	assert.Equal(t, mid, turns[0].Content)
	assert.Equal(t, recent, turns[1].Content)
}

func TestHistoryTurnsDropsWholeNotPartial(t *testing.T) {
	big := strings.Repeat("a", 4000) // 1000 tokens
	small := "short question"

	turns, kept := historyTurns(historyOf(big, small), 500)
	assert.Equal(t, 1, kept)
	assert.Equal(t, small, turns[0].Content)
}

func TestHistoryTurnsCapsAtTenMessages(t *testing.T) {
	contents := make([]string, 12)
	for i := range contents {
		contents[i] = "short message"
	}

	// An ample budget does not override the message-count cap.
	turns, kept := historyTurns(historyOf(contents...), 2000)
	assert.Equal(t, 10, kept)
	assert.Len(t, turns, 10)
}

func TestHistoryTurnsEmpty(t *testing.T) {
	turns, kept := historyTurns(nil, 2000)
	assert.Zero(t, kept)
	assert.Empty(t, turns)
}

func TestDecayMemoriesHalvesAtThirtyDays(t *testing.T) {
	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	memories := []models.ScoredMemory{
		{
			Memory:     models.SemanticMemory{Content: "fresh", RelevanceScore: 1.0, CreatedAt: now},
			Similarity: 0.8,
		},
		{
			Memory:     models.SemanticMemory{Content: "month old", RelevanceScore: 1.0, CreatedAt: now.AddDate(0, 0, -30)},
			Similarity: 0.8,
		},
	}

	out := decayMemories(memories, now)
	assert.Equal(t, "fresh", out[0].Memory.Content)
	assert.InDelta(t, 0.8, out[0].Similarity, 1e-9)
	assert.InDelta(t, 0.4, out[1].Similarity, 1e-9)
}

func TestDecayMemoriesReordersByAdjustedScore(t *testing.T) {
	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	memories := []models.ScoredMemory{
		{
			// High raw similarity but stale and low stored relevance.
			Memory:     models.SemanticMemory{Content: "stale", RelevanceScore: 0.5, CreatedAt: now.AddDate(0, 0, -60)},
			Similarity: 0.9,
		},
		{
			Memory:     models.SemanticMemory{Content: "fresh", RelevanceScore: 1.0, CreatedAt: now},
			Similarity: 0.7,
		},
	}

	out := decayMemories(memories, now)
	assert.Equal(t, "fresh", out[0].Memory.Content)
	assert.Equal(t, "stale", out[1].Memory.Content)
}

func TestMemorySectionDropsWholeMemories(t *testing.T) {
	memories := []models.ScoredMemory{
		{Memory: models.SemanticMemory{Content: strings.Repeat("a", 120)}, Similarity: 0.9}, // ~31 tokens
		{Memory: models.SemanticMemory{Content: strings.Repeat("b", 120)}, Similarity: 0.8},
		{Memory: models.SemanticMemory{Content: strings.Repeat("c", 120)}, Similarity: 0.7},
	}

	section, count := memorySection(memories, 70)
	assert.Equal(t, 2, count)
	assert.Contains(t, section, "aaa")
	assert.Contains(t, section, "bbb")
	assert.NotContains(t, section, "ccc")
}

func TestTrimToBudget(t *testing.T) {
	short := "fits fine"
	assert.Equal(t, short, trimToBudget(short, 100))

	long := strings.Repeat("x", 1000)
	trimmed := trimToBudget(long, 50)
	assert.Len(t, trimmed, 200)
}

func TestUserSectionSkipsEmptyFacts(t *testing.T) {
	section := userSection(&models.User{
		DisplayName: "Alex",
		Experience:  models.ExperienceBeginner,
		City:        "Portland",
	})
	assert.Contains(t, section, "Name: Alex")
	assert.Contains(t, section, "City: Portland")
	assert.NotContains(t, section, "Climate zone")
	assert.NotContains(t, section, "humidity")
}
