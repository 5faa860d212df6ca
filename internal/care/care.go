// Package care implements plant care bookkeeping: the watering
// schedule, its derived due date, and reminder recurrence.
package care

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// defaultWateringDays is used when no number can be read from a
// species' watering text.
const defaultWateringDays = 7

var daysPattern = regexp.MustCompile(`(\d+)`)

// ParseWateringDays extracts the first number from free-form watering
// guidance ("every 5-7 days", "weekly, about 7 days apart"). Falls back
// to a weekly schedule.
func ParseWateringDays(waterFrequency string) int {
	m := daysPattern.FindString(waterFrequency)
	if m == "" {
		return defaultWateringDays
	}
	days, err := strconv.Atoi(m)
	if err != nil || days < 1 || days > 365 {
		return defaultWateringDays
	}
	return days
}

// Service maintains plant care state.
type Service struct {
	store store.Store
}

// NewService creates the care service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// AddPlant creates a plant from an identified species, deriving the
// watering schedule from the species' care text.
func (s *Service) AddPlant(ctx context.Context, userID, speciesID, nickname, location, light string) (*models.Plant, error) {
	sp, err := s.store.GetSpeciesByID(ctx, speciesID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &models.Plant{
		ID:                    uuid.NewString(),
		UserID:                userID,
		SpeciesID:             sp.ID,
		Nickname:              nickname,
		LocationInHome:        location,
		LightExposure:         light,
		WateringFrequencyDays: ParseWateringDays(sp.WaterFrequency),
		CurrentHealth:         models.HealthHealthy,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreatePlant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// MarkWatered records a watering and advances the due date by the
// plant's schedule.
func (s *Service) MarkWatered(ctx context.Context, userID, plantID string, at time.Time) (*models.Plant, error) {
	p, err := s.store.GetPlant(ctx, userID, plantID)
	if err != nil {
		return nil, err
	}

	at = at.UTC()
	due := at.AddDate(0, 0, p.WateringFrequencyDays)
	p.LastWatered = &at
	p.NextWaterDue = &due
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdatePlant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CompleteReminder marks a reminder done and spawns the next instance
// when it recurs.
func (s *Service) CompleteReminder(ctx context.Context, userID, reminderID string) error {
	return s.closeReminder(ctx, userID, reminderID, func(r *models.Reminder) { r.Completed = true })
}

// SkipReminder marks a reminder skipped; recurrence still advances so a
// skipped watering does not silence the schedule.
func (s *Service) SkipReminder(ctx context.Context, userID, reminderID string) error {
	return s.closeReminder(ctx, userID, reminderID, func(r *models.Reminder) { r.Skipped = true })
}

func (s *Service) closeReminder(ctx context.Context, userID, reminderID string, mark func(*models.Reminder)) error {
	r, err := s.store.GetReminder(ctx, userID, reminderID)
	if err != nil {
		return err
	}
	mark(r)
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return err
	}

	if !r.Recurring || r.Frequency <= 0 {
		return nil
	}
	next := &models.Reminder{
		ID:        uuid.NewString(),
		UserID:    r.UserID,
		PlantID:   r.PlantID,
		Kind:      r.Kind,
		DueDate:   NextDue(r.DueDate, r.Frequency, r.Interval),
		Recurring: true,
		Frequency: r.Frequency,
		Interval:  r.Interval,
		CreatedAt: time.Now().UTC(),
	}
	return s.store.CreateReminder(ctx, next)
}

// NextDue advances a due date by frequency × interval unit.
func NextDue(due time.Time, frequency int, unit models.IntervalUnit) time.Time {
	switch unit {
	case models.IntervalWeek:
		return due.AddDate(0, 0, 7*frequency)
	case models.IntervalMonth:
		return due.AddDate(0, frequency, 0)
	default:
		return due.AddDate(0, 0, frequency)
	}
}
