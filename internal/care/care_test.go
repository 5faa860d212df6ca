package care_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/care"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

func TestParseWateringDays(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"every 5-7 days", 5},
		{"weekly, about 7 days apart", 7},
		{"every 14 days", 14},
		{"when the top inch of soil is dry", 7},
		{"", 7},
		{"Unknown", 7},
		{"every 500 days", 7},
		{"0 days", 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, care.ParseWateringDays(tt.in), "input %q", tt.in)
	}
}

func TestNextDue(t *testing.T) {
	due := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, due.AddDate(0, 0, 3), care.NextDue(due, 3, models.IntervalDay))
	assert.Equal(t, due.AddDate(0, 0, 14), care.NextDue(due, 2, models.IntervalWeek))
	assert.Equal(t, due.AddDate(0, 1, 0), care.NextDue(due, 1, models.IntervalMonth))
	// Unknown unit falls back to days.
	assert.Equal(t, due.AddDate(0, 0, 5), care.NextDue(due, 5, ""))
}

func seedSpecies(t *testing.T, mem *store.MemoryStoreImpl, waterFrequency string) string {
	t.Helper()
	sp := &models.Species{
		ID:             "sp1",
		ScientificName: "monstera deliciosa",
		WaterFrequency: waterFrequency,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, mem.CreateSpecies(context.Background(), sp))
	return sp.ID
}

func TestAddPlantDerivesWateringSchedule(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := care.NewService(mem)
	speciesID := seedSpecies(t, mem, "every 10 days in summer")

	p, err := svc.AddPlant(context.Background(), "u1", speciesID, "Benny", "living room", "bright-indirect")
	require.NoError(t, err)
	assert.Equal(t, 10, p.WateringFrequencyDays)
	assert.Equal(t, models.HealthHealthy, p.CurrentHealth)

	stored, err := mem.GetPlant(context.Background(), "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Benny", stored.Nickname)
}

func TestAddPlantUnknownSpecies(t *testing.T) {
	svc := care.NewService(store.NewMemoryStore())
	_, err := svc.AddPlant(context.Background(), "u1", "missing", "", "", "")
	var notFound *store.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestMarkWateredAdvancesDueDate(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := care.NewService(mem)
	speciesID := seedSpecies(t, mem, "every 7 days")

	p, err := svc.AddPlant(context.Background(), "u1", speciesID, "", "", "")
	require.NoError(t, err)

	at := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	updated, err := svc.MarkWatered(context.Background(), "u1", p.ID, at)
	require.NoError(t, err)
	require.NotNil(t, updated.LastWatered)
	assert.Equal(t, at, *updated.LastWatered)
	require.NotNil(t, updated.NextWaterDue)
	assert.Equal(t, at.AddDate(0, 0, 7), *updated.NextWaterDue)
}

func seedReminder(t *testing.T, mem *store.MemoryStoreImpl, recurring bool) *models.Reminder {
	t.Helper()
	r := &models.Reminder{
		ID:        "r1",
		UserID:    "u1",
		PlantID:   "p1",
		Kind:      "watering",
		DueDate:   time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Recurring: recurring,
		Frequency: 1,
		Interval:  models.IntervalWeek,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateReminder(context.Background(), r))
	return r
}

func TestCompleteReminderSpawnsNextInstance(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := care.NewService(mem)
	r := seedReminder(t, mem, true)

	require.NoError(t, svc.CompleteReminder(context.Background(), "u1", r.ID))

	closed, err := mem.GetReminder(context.Background(), "u1", r.ID)
	require.NoError(t, err)
	assert.True(t, closed.Completed)

	due, err := mem.ListDueReminders(context.Background(), "u1", r.DueDate.AddDate(0, 0, 8))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, r.DueDate.AddDate(0, 0, 7), due[0].DueDate)
	assert.NotEqual(t, r.ID, due[0].ID)
	assert.True(t, due[0].Recurring)
}

func TestSkipReminderStillAdvancesSchedule(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := care.NewService(mem)
	r := seedReminder(t, mem, true)

	require.NoError(t, svc.SkipReminder(context.Background(), "u1", r.ID))

	closed, err := mem.GetReminder(context.Background(), "u1", r.ID)
	require.NoError(t, err)
	assert.True(t, closed.Skipped)
	assert.False(t, closed.Completed)

	due, err := mem.ListDueReminders(context.Background(), "u1", r.DueDate.AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestOneOffReminderDoesNotRecur(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := care.NewService(mem)
	r := seedReminder(t, mem, false)

	require.NoError(t, svc.CompleteReminder(context.Background(), "u1", r.ID))

	due, err := mem.ListDueReminders(context.Background(), "u1", r.DueDate.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, due)
}
