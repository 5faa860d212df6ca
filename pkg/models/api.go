package models

import "time"

// ── Response envelope (§ wire API) ──────────────────────────

// Envelope is the uniform success wrapper for API responses.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// APIError is the uniform error body.
type APIError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Path      string                 `json:"path"`
}

// ErrorEnvelope wraps an APIError.
type ErrorEnvelope struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

// ── Identify ────────────────────────────────────────────────

// IdentifyRequest is the body of POST /api/v1/identify.
type IdentifyRequest struct {
	Images []string `json:"images"`
}

// IdentifiedSpecies is the top match returned to the client.
// ID is empty when species resolution failed (identification still succeeds).
type IdentifiedSpecies struct {
	ID             string   `json:"id,omitempty"`
	ScientificName string   `json:"scientificName"`
	CommonNames    []string `json:"commonNames"`
	Family         string   `json:"family"`
	Confidence     float64  `json:"confidence"`
}

// SimilarSpecies is an alternative candidate, present only when the
// top confidence is below the low-confidence threshold.
type SimilarSpecies struct {
	ScientificName string  `json:"scientificName"`
	CommonNames    []string `json:"commonNames,omitempty"`
	Confidence     float64 `json:"confidence"`
	ImageURL       string  `json:"imageUrl,omitempty"`
}

// IdentifyPhoto carries the signed URLs of the uploaded photo.
// Both are empty when the upload failed; identification still succeeds.
type IdentifyPhoto struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// IdentifyResponse is the data payload of POST /api/v1/identify.
type IdentifyResponse struct {
	Species        IdentifiedSpecies `json:"species"`
	SimilarSpecies []SimilarSpecies  `json:"similarSpecies"`
	Photo          IdentifyPhoto     `json:"photo"`
}

// IdentifyMeta is the meta payload of POST /api/v1/identify.
type IdentifyMeta struct {
	Provider         string `json:"provider"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// ── Health assessment ───────────────────────────────────────

// AssessRequest is the body of POST /api/v1/health/assess.
type AssessRequest struct {
	PlantID             string   `json:"plantId"`
	Images              []string `json:"images"`
	SymptomsDescription string   `json:"symptomsDescription,omitempty"`
}

// AssessedIssue is one ranked diagnosis with ordered treatment steps.
type AssessedIssue struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Confidence  float64  `json:"confidence"`
	Treatment   []string `json:"treatment"`
}

// AssessResponse is the data payload of POST /api/v1/health/assess.
type AssessResponse struct {
	PlantID string          `json:"plantId"`
	Healthy bool            `json:"healthy"`
	Issues  []AssessedIssue `json:"issues"`
}

// ── Chat ────────────────────────────────────────────────────

// ChatRequest is the body of POST /api/v1/chat and /api/v1/chat/stream.
type ChatRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
	PlantID   string `json:"plantId,omitempty"`
}

// ContextUsed summarizes which context sections were assembled.
type ContextUsed struct {
	UserFacts     bool `json:"userFacts"`
	PlantFacts    bool `json:"plantFacts"`
	HistoryCount  int  `json:"historyCount"`
	MemoriesCount int  `json:"memoriesCount"`
}

// ChatResponse is the data payload of POST /api/v1/chat.
type ChatResponse struct {
	SessionID         string      `json:"sessionId"`
	Content           string      `json:"content"`
	ActionItems       []string    `json:"actionItems,omitempty"`
	FollowUpQuestions []string    `json:"followUpQuestions,omitempty"`
	ContextUsed       ContextUsed `json:"contextUsed"`
}

// ChatMeta is the meta payload of the chat endpoints.
type ChatMeta struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// ── Usage summary ───────────────────────────────────────────

// FeatureUsage is one task's monthly consumption against its cap.
// Limit -1 means unlimited (premium tier).
type FeatureUsage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// UsageSummary is the data payload of GET /api/v1/usage.
type UsageSummary struct {
	Tier     Tier                    `json:"tier"`
	Features map[string]FeatureUsage `json:"features"`
	ResetsAt time.Time               `json:"resetsAt"`
}
