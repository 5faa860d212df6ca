// Package species deduplicates and enriches the canonical species
// catalog: at most one row exists per normalized scientific name.
package species

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// Normalize canonicalizes a scientific name: lowercase, trimmed,
// internal whitespace collapsed to single spaces. Idempotent.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Resolver maps vendor-identified species onto canonical catalog rows.
type Resolver struct {
	store store.SpeciesStore
}

// NewResolver creates a species resolver.
func NewResolver(s store.SpeciesStore) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the stable id of the canonical row for the candidate,
// inserting or enriching as needed. The insert is protected by a
// uniqueness constraint on the normalized name; on an insert race the
// loser re-reads and proceeds to enrichment.
func (r *Resolver) Resolve(ctx context.Context, c providers.SpeciesCandidate) (string, error) {
	normalized := Normalize(c.ScientificName)
	if normalized == "" {
		return "", fmt.Errorf("empty scientific name")
	}

	existing, err := r.store.GetSpeciesByScientificName(ctx, normalized)
	if err != nil {
		var notFound *store.ErrNotFound
		if !errors.As(err, &notFound) {
			return "", fmt.Errorf("lookup species: %w", err)
		}

		created := newSpecies(normalized, c)
		if err := r.store.CreateSpecies(ctx, created); err != nil {
			var conflict *store.ErrConflict
			if !errors.As(err, &conflict) {
				return "", fmt.Errorf("insert species: %w", err)
			}
			// Lost the insert race; re-read and enrich.
			existing, err = r.store.GetSpeciesByScientificName(ctx, normalized)
			if err != nil {
				return "", fmt.Errorf("re-read species after conflict: %w", err)
			}
		} else {
			return created.ID, nil
		}
	}

	if changed := enrich(existing, c); changed {
		existing.UpdatedAt = time.Now().UTC()
		if err := r.store.UpdateSpecies(ctx, existing); err != nil {
			return "", fmt.Errorf("enrich species: %w", err)
		}
	}
	return existing.ID, nil
}

// ResolveOrLog runs Resolve but treats failures as non-fatal: keeping
// identification responsive matters more than catalog completeness.
// On failure the returned id is empty.
func (r *Resolver) ResolveOrLog(ctx context.Context, c providers.SpeciesCandidate) string {
	id, err := r.Resolve(ctx, c)
	if err != nil {
		log.Warn().Err(err).Str("name", c.ScientificName).Msg("species resolution failed")
		return ""
	}
	return id
}

func newSpecies(normalized string, c providers.SpeciesCandidate) *models.Species {
	now := time.Now().UTC()
	s := &models.Species{
		ID:               uuid.NewString(),
		ScientificName:   normalized,
		CommonNames:      append([]string{}, c.CommonNames...),
		Family:           defaultUnknown(c.Family),
		Genus:            c.Genus,
		LightNeeds:       "Unknown",
		WaterFrequency:   "Unknown",
		HumidityNeeds:    "Unknown",
		TemperatureRange: "Unknown",
		Difficulty:       models.DifficultyModerate,
		Toxicity:         c.Toxicity,
		Description:      c.Description,
		PlantIDSpeciesID: c.PlantIDSpeciesID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if s.Genus == "" || s.Genus == "Unknown" {
		s.Genus = genusFromName(normalized)
	}
	return s
}

// genusFromName title-cases the first whitespace-delimited token.
func genusFromName(normalized string) string {
	first, _, _ := strings.Cut(normalized, " ")
	if first == "" {
		return "Unknown"
	}
	return strings.ToUpper(first[:1]) + first[1:]
}

func defaultUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// enrich fills gaps in an existing row from a new candidate. Scalar
// fields are set only when currently empty; common names are merged by
// case-insensitive set union preserving the existing order first.
// Returns whether anything changed.
func enrich(s *models.Species, c providers.SpeciesCandidate) bool {
	changed := false

	if s.PlantIDSpeciesID == "" && c.PlantIDSpeciesID != "" {
		s.PlantIDSpeciesID = c.PlantIDSpeciesID
		changed = true
	}
	if s.Description == "" && c.Description != "" {
		s.Description = c.Description
		changed = true
	}
	if s.Toxicity == "" && c.Toxicity != "" {
		s.Toxicity = c.Toxicity
		changed = true
	}

	seen := make(map[string]bool, len(s.CommonNames))
	for _, n := range s.CommonNames {
		seen[strings.ToLower(n)] = true
	}
	for _, n := range c.CommonNames {
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		s.CommonNames = append(s.CommonNames, n)
		seen[strings.ToLower(n)] = true
		changed = true
	}

	return changed
}
