package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

var ctx = context.Background()

func TestCreateSpeciesConflictOnNormalizedName(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSpecies(ctx, &models.Species{ID: "sp1", ScientificName: "monstera deliciosa"}))

	err := s.CreateSpecies(ctx, &models.Species{ID: "sp2", ScientificName: "Monstera Deliciosa"})
	var conflict *store.ErrConflict
	require.True(t, errors.As(err, &conflict))

	found, err := s.GetSpeciesByScientificName(ctx, "monstera deliciosa")
	require.NoError(t, err)
	assert.Equal(t, "sp1", found.ID)
}

func TestGetPlantEnforcesOwnership(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreatePlant(ctx, &models.Plant{ID: "p1", UserID: "u1"}))

	_, err := s.GetPlant(ctx, "u2", "p1")
	var notFound *store.ErrNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestDeletePlantDetachesSessions(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreatePlant(ctx, &models.Plant{ID: "p1", UserID: "u1"}))
	require.NoError(t, s.CreateSession(ctx, &models.Session{ID: "s1", UserID: "u1", PlantID: "p1"}))
	require.NoError(t, s.CreateHealthIssue(ctx, &models.HealthIssue{ID: "i1", PlantID: "p1", Status: models.IssueActive}))
	require.NoError(t, s.CreateReminder(ctx, &models.Reminder{ID: "r1", UserID: "u1", PlantID: "p1"}))

	require.NoError(t, s.DeletePlant(ctx, "u1", "p1"))

	// The conversation survives with the plant link cleared.
	sess, err := s.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, sess.PlantID)

	issues, err := s.ListActiveIssues(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, issues)

	_, err = s.GetReminder(ctx, "u1", "r1")
	assert.Error(t, err)
}

func TestDeleteUserCascades(t *testing.T) {
	s := store.NewMemoryStore()
	s.PutUser(models.User{ID: "u1"})
	require.NoError(t, s.CreatePlant(ctx, &models.Plant{ID: "p1", UserID: "u1"}))
	require.NoError(t, s.CreateSession(ctx, &models.Session{ID: "s1", UserID: "u1"}))
	require.NoError(t, s.CreateMemory(ctx, &models.SemanticMemory{ID: "m1", UserID: "u1", Embedding: []float64{1}}))
	require.NoError(t, s.CreateUsageLog(ctx, &models.UsageLogEntry{ID: "e1", UserID: "u1", Action: "chat_simple", Success: true, CreatedAt: time.Now()}))

	require.NoError(t, s.DeleteUser(ctx, "u1"))

	_, err := s.GetUser(ctx, "u1")
	assert.Error(t, err)
	_, err = s.GetPlant(ctx, "u1", "p1")
	assert.Error(t, err)
	_, err = s.GetSession(ctx, "u1", "s1")
	assert.Error(t, err)

	count, err := s.CountMonthlySuccesses(ctx, "u1", []string{"chat_simple"}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAppendExchangeIsAtomicOnMissingSession(t *testing.T) {
	s := store.NewMemoryStore()
	err := s.AppendExchange(ctx, &models.Session{ID: "ghost"}, &models.Message{ID: "m1"}, &models.Message{ID: "m2"}, nil)
	var notFound *store.ErrNotFound
	require.True(t, errors.As(err, &notFound))

	msgs, err := s.ListRecentMessages(ctx, "ghost", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAppendExchangeWritesAllParts(t *testing.T) {
	s := store.NewMemoryStore()
	sess := &models.Session{ID: "s1", UserID: "u1", ModelsUsed: []string{}}
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.MessageCount = 2
	sess.TotalInputTokens = 100
	require.NoError(t, s.AppendExchange(ctx, sess,
		&models.Message{ID: "m1", SessionID: "s1", Role: models.RoleUser, Content: "q"},
		&models.Message{ID: "m2", SessionID: "s1", Role: models.RoleAssistant, Content: "a"},
		&models.SemanticMemory{ID: "mem1", UserID: "u1", Embedding: []float64{1, 0}},
	))

	updated, err := s.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MessageCount)
	assert.Equal(t, int64(100), updated.TotalInputTokens)

	msgs, err := s.ListRecentMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)

	found, err := s.SearchMemories(ctx, "u1", []float64{1, 0}, 5, 0.9)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestListRecentMessagesWindow(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSession(ctx, &models.Session{ID: "s1", UserID: "u1"}))
	sess := &models.Session{ID: "s1", UserID: "u1"}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendExchange(ctx, sess,
			&models.Message{ID: string(rune('a' + 2*i)), Content: "q"},
			&models.Message{ID: string(rune('b' + 2*i)), Content: "a"},
			nil,
		))
	}

	msgs, err := s.ListRecentMessages(ctx, "s1", 4)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestSearchMemoriesThresholdAndOrder(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateMemory(ctx, &models.SemanticMemory{
		ID: "exact", UserID: "u1", Embedding: []float64{1, 0, 0},
	}))
	require.NoError(t, s.CreateMemory(ctx, &models.SemanticMemory{
		ID: "close", UserID: "u1", Embedding: []float64{0.9, 0.1, 0},
	}))
	require.NoError(t, s.CreateMemory(ctx, &models.SemanticMemory{
		ID: "orthogonal", UserID: "u1", Embedding: []float64{0, 1, 0},
	}))
	require.NoError(t, s.CreateMemory(ctx, &models.SemanticMemory{
		ID: "other-user", UserID: "u2", Embedding: []float64{1, 0, 0},
	}))

	found, err := s.SearchMemories(ctx, "u1", []float64{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "exact", found[0].Memory.ID)
	assert.Equal(t, "close", found[1].Memory.ID)
	assert.InDelta(t, 1.0, found[0].Similarity, 1e-9)
}

func TestSearchMemoriesLimit(t *testing.T) {
	s := store.NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateMemory(ctx, &models.SemanticMemory{
			ID: id, UserID: "u1", Embedding: []float64{1, 0},
		}))
	}
	found, err := s.SearchMemories(ctx, "u1", []float64{1, 0}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestCountMonthlySuccessesFiltersActionSet(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now().UTC()
	for _, action := range []string{"chat_simple", "chat_complex", "identification"} {
		require.NoError(t, s.CreateUsageLog(ctx, &models.UsageLogEntry{
			ID: action, UserID: "u1", Action: action, Success: true, CreatedAt: now,
		}))
	}

	count, err := s.CountMonthlySuccesses(ctx, "u1", []string{"chat_simple", "chat_complex"}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCopyOnReadIsolation(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSpecies(ctx, &models.Species{
		ID: "sp1", ScientificName: "monstera deliciosa", CommonNames: []string{"swiss cheese plant"},
	}))

	got, err := s.GetSpeciesByID(ctx, "sp1")
	require.NoError(t, err)
	got.CommonNames[0] = "mutated"

	again, err := s.GetSpeciesByID(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, "swiss cheese plant", again.CommonNames[0])
}
