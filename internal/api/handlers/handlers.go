// Package handlers implements the HTTP handlers for the Sproutly server
// core. All handlers depend on the Store interface and the pipeline
// services, never on vendor gateways directly.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sproutly/sproutly/server/internal/api/middleware"
	"github.com/sproutly/sproutly/server/internal/care"
	"github.com/sproutly/sproutly/server/internal/chat"
	"github.com/sproutly/sproutly/server/internal/identify"
	"github.com/sproutly/sproutly/server/internal/storage"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/internal/usage"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Identify *identify.Pipeline
	Assessor *identify.HealthAssessor
	Chat     *chat.Pipeline
	Care     *care.Service
	Quota    *usage.Quota
	Gate     *usage.SlidingWindow
	Photos   *storage.LocalStore
}

// gate applies the per-user gates in order: sliding-window rate limit,
// then the monthly quota for the feature. It returns the user row on
// success so handlers can skip a second read.
func (h *Handlers) gate(w http.ResponseWriter, r *http.Request, feature string) (*models.User, bool) {
	userID := middleware.GetUserID(r.Context())

	// The window is per user per endpoint: bursts against one feature
	// must not starve the others.
	if err := h.Gate.Allow(userID + ":" + feature); err != nil {
		respondMapped(w, r, err)
		return nil, false
	}

	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		respondMapped(w, r, err)
		return nil, false
	}
	if err := h.Quota.Check(r.Context(), user, feature); err != nil {
		respondMapped(w, r, err)
		return nil, false
	}
	return user, true
}

// ── Identification ──────────────────────────────────────────

func (h *Handlers) PostIdentify(w http.ResponseWriter, r *http.Request) {
	user, ok := h.gate(w, r, usage.FeatureIdentification)
	if !ok {
		return
	}

	var req models.IdentifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, meta, err := h.Identify.Identify(r.Context(), user.ID, req.Images)
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp, meta)
}

// ── Health assessment ───────────────────────────────────────

func (h *Handlers) PostAssess(w http.ResponseWriter, r *http.Request) {
	user, ok := h.gate(w, r, usage.FeatureHealth)
	if !ok {
		return
	}

	var req models.AssessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PlantID == "" {
		respondError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "plantId is required", nil)
		return
	}

	resp, meta, err := h.Assessor.Assess(r.Context(), user.ID, req)
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp, map[string]interface{}{"provider": meta.Provider})
}

// ── Chat ────────────────────────────────────────────────────

func (h *Handlers) PostChat(w http.ResponseWriter, r *http.Request) {
	user, ok := h.gate(w, r, usage.FeatureChat)
	if !ok {
		return
	}

	var req models.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		respondError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required", nil)
		return
	}

	resp, meta, err := h.Chat.Chat(r.Context(), user.ID, req)
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp, meta)
}

// ── Usage summary ───────────────────────────────────────────

func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		respondMapped(w, r, err)
		return
	}

	features := make(map[string]models.FeatureUsage, 3)
	for _, feature := range []string{usage.FeatureIdentification, usage.FeatureHealth, usage.FeatureChat} {
		used, err := h.Quota.Used(r.Context(), user.ID, feature)
		if err != nil {
			respondMapped(w, r, err)
			return
		}
		features[feature] = models.FeatureUsage{Used: used, Limit: h.Quota.LimitFor(user.Tier, feature)}
	}

	respondJSON(w, http.StatusOK, models.UsageSummary{
		Tier:     user.Tier,
		Features: features,
		ResetsAt: h.Quota.ResetsAt(),
	}, nil)
}

// ── Plants & care ───────────────────────────────────────────

type addPlantRequest struct {
	SpeciesID      string `json:"speciesId"`
	Nickname       string `json:"nickname,omitempty"`
	LocationInHome string `json:"locationInHome,omitempty"`
	LightExposure  string `json:"lightExposure,omitempty"`
}

func (h *Handlers) PostPlant(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req addPlantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SpeciesID == "" {
		respondError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "speciesId is required", nil)
		return
	}

	plant, err := h.Care.AddPlant(r.Context(), userID, req.SpeciesID, req.Nickname, req.LocationInHome, req.LightExposure)
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, plant, nil)
}

func (h *Handlers) ListPlants(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	plants, err := h.Store.ListPlants(r.Context(), userID)
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	if plants == nil {
		plants = []models.Plant{}
	}
	respondJSON(w, http.StatusOK, plants, nil)
}

func (h *Handlers) GetPlant(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	plant, err := h.Store.GetPlant(r.Context(), userID, chi.URLParam(r, "plantId"))
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, plant, nil)
}

func (h *Handlers) DeletePlant(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.Store.DeletePlant(r.Context(), userID, chi.URLParam(r, "plantId")); err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true}, nil)
}

func (h *Handlers) PostWater(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	plant, err := h.Care.MarkWatered(r.Context(), userID, chi.URLParam(r, "plantId"), time.Now())
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, plant, nil)
}

func (h *Handlers) ListReminders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	reminders, err := h.Store.ListDueReminders(r.Context(), userID, time.Now().UTC())
	if err != nil {
		respondMapped(w, r, err)
		return
	}
	if reminders == nil {
		reminders = []models.Reminder{}
	}
	respondJSON(w, http.StatusOK, reminders, nil)
}

func (h *Handlers) PostReminderComplete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.Care.CompleteReminder(r.Context(), userID, chi.URLParam(r, "reminderId")); err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"completed": true}, nil)
}

func (h *Handlers) PostReminderSkip(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.Care.SkipReminder(r.Context(), userID, chi.URLParam(r, "reminderId")); err != nil {
		respondMapped(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"skipped": true}, nil)
}
