package identify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// HealthAssessor runs the health assessment pipeline: route the images,
// persist the ranked diagnoses per plant, and keep the plant's visible
// health status in sync.
type HealthAssessor struct {
	router *airouter.Router
	store  store.Store
}

// NewHealthAssessor creates the assessor.
func NewHealthAssessor(router *airouter.Router, st store.Store) *HealthAssessor {
	return &HealthAssessor{router: router, store: st}
}

// Assess runs one assessment. The plant must exist and belong to the
// user. New findings become active issues; a finding whose name matches
// an existing active or treating issue re-reports it instead of
// duplicating it.
func (a *HealthAssessor) Assess(ctx context.Context, userID string, req models.AssessRequest) (*models.AssessResponse, *airouter.Meta, error) {
	if err := ValidateImages(req.Images); err != nil {
		return nil, nil, err
	}
	// Assessments take fewer shots than identification.
	if len(req.Images) > maxHealthImages {
		return nil, nil, &ValidationError{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("expected at most %d images, got %d", maxHealthImages, len(req.Images)),
			Details: map[string]interface{}{"count": len(req.Images)},
		}
	}

	plant, err := a.store.GetPlant(ctx, userID, req.PlantID)
	if err != nil {
		return nil, nil, err
	}

	result, meta, err := a.router.AssessHealth(ctx, userID, req.Images, req.SymptomsDescription)
	if err != nil {
		return nil, nil, err
	}

	existing, err := a.store.ListActiveIssues(ctx, plant.ID, 0)
	if err != nil {
		return nil, nil, err
	}
	open := make(map[string]bool, len(existing))
	for _, issue := range existing {
		open[strings.ToLower(issue.Name)] = true
	}

	resp := &models.AssessResponse{PlantID: plant.ID, Healthy: result.Healthy, Issues: []models.AssessedIssue{}}
	now := time.Now().UTC()
	for _, f := range result.Findings {
		resp.Issues = append(resp.Issues, models.AssessedIssue{
			Name:        f.Name,
			Description: f.Description,
			Confidence:  f.Confidence,
			Treatment:   f.Treatment,
		})

		if open[strings.ToLower(f.Name)] {
			continue
		}
		issue := &models.HealthIssue{
			ID:          uuid.NewString(),
			PlantID:     plant.ID,
			Name:        f.Name,
			Description: f.Description,
			Confidence:  f.Confidence,
			Status:      models.IssueActive,
			ReportedAt:  now,
		}
		for i, step := range f.Treatment {
			issue.Steps = append(issue.Steps, models.TreatmentStep{
				ID:          uuid.NewString(),
				IssueID:     issue.ID,
				Seq:         i + 1,
				Instruction: step,
			})
		}
		if err := a.store.CreateHealthIssue(ctx, issue); err != nil {
			log.Warn().Err(err).Str("plant", plant.ID).Msg("persisting health issue failed")
		}
	}

	if status := healthStatusFor(result.Healthy, resp.Issues); status != plant.CurrentHealth {
		plant.CurrentHealth = status
		plant.UpdatedAt = now
		if err := a.store.UpdatePlant(ctx, plant); err != nil {
			log.Warn().Err(err).Str("plant", plant.ID).Msg("updating plant health failed")
		}
	}

	return resp, &meta, nil
}

// healthStatusFor maps an assessment onto the owner-visible status. A
// high-confidence finding marks the plant critical, anything else with
// findings struggling.
func healthStatusFor(healthy bool, issues []models.AssessedIssue) models.HealthStatus {
	if healthy || len(issues) == 0 {
		return models.HealthHealthy
	}
	for _, issue := range issues {
		if issue.Confidence >= 0.8 {
			return models.HealthCritical
		}
	}
	return models.HealthStruggling
}
