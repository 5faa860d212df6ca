// Package models defines the domain entities shared across the Sproutly
// server core: users, species, plants, conversations, semantic memories,
// reminders, and the usage ledger.
package models

import (
	"time"
)

// ── User ─────────────────────────────────────────────────────

// ExperienceLevel describes how comfortable a user is with plant care.
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
)

// Tier is the user's subscription level. It controls monthly quotas.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// User is created and mutated by the external auth/billing services;
// the core only reads it.
type User struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Experience  ExperienceLevel `json:"experienceLevel"`
	Tier        Tier            `json:"tier"`

	// Optional environmental facts used for chat grounding.
	City          string `json:"city,omitempty"`
	ClimateZone   string `json:"climateZone,omitempty"`
	HomeType      string `json:"homeType,omitempty"`
	LightLevel    string `json:"lightLevel,omitempty"`
	HumidityLevel string `json:"humidityLevel,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ── Species ──────────────────────────────────────────────────

// Difficulty is the categorical care difficulty of a species.
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyModerate Difficulty = "moderate"
	DifficultyHard     Difficulty = "hard"
)

// Species is the canonical catalog row for a plant species. Globally
// unique by normalized scientific name (lowercase, trimmed, single-spaced).
type Species struct {
	ID               string     `json:"id"`
	ScientificName   string     `json:"scientificName"`
	CommonNames      []string   `json:"commonNames"`
	Family           string     `json:"family"`
	Genus            string     `json:"genus"`
	LightNeeds       string     `json:"lightNeeds"`
	WaterFrequency   string     `json:"waterFrequency"`
	HumidityNeeds    string     `json:"humidityNeeds"`
	TemperatureRange string     `json:"temperatureRange"`
	Difficulty       Difficulty `json:"difficulty"`
	Toxicity         string     `json:"toxicity,omitempty"`
	Description      string     `json:"description,omitempty"`

	// PlantIDSpeciesID is the external vendor id, when known.
	PlantIDSpeciesID string `json:"plantIdSpeciesId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ── Plant ────────────────────────────────────────────────────

// HealthStatus is the owner-visible condition of a plant instance.
type HealthStatus string

const (
	HealthThriving   HealthStatus = "thriving"
	HealthHealthy    HealthStatus = "healthy"
	HealthStruggling HealthStatus = "struggling"
	HealthCritical   HealthStatus = "critical"
)

// Plant is a user-owned instance of a Species.
//
// Invariant: when LastWatered is set,
// NextWaterDue = LastWatered + WateringFrequencyDays.
type Plant struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	SpeciesID string `json:"speciesId"`

	Nickname       string `json:"nickname,omitempty"`
	LocationInHome string `json:"locationInHome"`
	LightExposure  string `json:"lightExposure"`

	WateringFrequencyDays int        `json:"wateringFrequencyDays"`
	LastWatered           *time.Time `json:"lastWatered,omitempty"`
	NextWaterDue          *time.Time `json:"nextWaterDue,omitempty"`
	LastFertilized        *time.Time `json:"lastFertilized,omitempty"`

	CurrentHealth HealthStatus `json:"currentHealth"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ── Health Issues ────────────────────────────────────────────

// IssueStatus follows the state machine
// active → treating → (resolved | recurring); recurring → active on re-report.
type IssueStatus string

const (
	IssueActive    IssueStatus = "active"
	IssueTreating  IssueStatus = "treating"
	IssueResolved  IssueStatus = "resolved"
	IssueRecurring IssueStatus = "recurring"
)

// HealthIssue is a per-plant diagnosis with ordered treatment steps.
type HealthIssue struct {
	ID          string      `json:"id"`
	PlantID     string      `json:"plantId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Confidence  float64     `json:"confidence"`
	Status      IssueStatus `json:"status"`

	Steps []TreatmentStep `json:"steps,omitempty"`

	ReportedAt time.Time  `json:"reportedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// TreatmentStep is an ordered child of a HealthIssue.
type TreatmentStep struct {
	ID          string `json:"id"`
	IssueID     string `json:"issueId"`
	Seq         int    `json:"seq"`
	Instruction string `json:"instruction"`
	Done        bool   `json:"done"`
}

// ── Conversations ────────────────────────────────────────────

// Session is a per-user chat thread, optionally tied to a plant.
// Deleting the plant nullifies PlantID but keeps the session.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// PlantID is empty when the session is not tied to a plant.
	PlantID string `json:"plantId,omitempty"`

	Title             string   `json:"title,omitempty"`
	MessageCount      int      `json:"messageCount"`
	TotalInputTokens  int64    `json:"totalInputTokens"`
	TotalOutputTokens int64    `json:"totalOutputTokens"`
	EstimatedCost     float64  `json:"estimatedCost"`
	ModelsUsed        []string `json:"modelsUsed"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ExtractedData is structured content mined from an assistant reply.
type ExtractedData struct {
	ActionItems      []string `json:"actionItems,omitempty"`
	ReferencedPlants []string `json:"referencedPlants,omitempty"`
	IdentifiedIssues []string `json:"identifiedIssues,omitempty"`
}

// Message is an ordered child of a Session. CreatedAt is strictly
// monotonic within a session.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`

	Model        string         `json:"model,omitempty"`
	InputTokens  int64          `json:"inputTokens,omitempty"`
	OutputTokens int64          `json:"outputTokens,omitempty"`
	Extracted    *ExtractedData `json:"extracted,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ── Semantic Memory ──────────────────────────────────────────

// MemoryType classifies what a semantic memory captures.
type MemoryType string

const (
	MemoryConversation MemoryType = "conversation"
	MemoryDiagnosis    MemoryType = "diagnosis"
	MemoryAdvice       MemoryType = "advice"
	MemoryOutcome      MemoryType = "outcome"
)

// EmbeddingDimensions is the fixed width of semantic memory vectors.
const EmbeddingDimensions = 1536

// SemanticMemory is a per-user embedding + excerpt used for
// retrieval-augmented chat. RelevanceScore decays lazily at read time.
type SemanticMemory struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Content     string     `json:"content"`
	ContentType MemoryType `json:"contentType"`
	Embedding   []float64  `json:"-"`

	RelevanceScore  float64 `json:"relevanceScore"`
	SourceSessionID string  `json:"sourceSessionId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ScoredMemory is a search hit: a memory plus its cosine similarity
// to the query, already multiplied by the decayed relevance.
type ScoredMemory struct {
	Memory     SemanticMemory `json:"memory"`
	Similarity float64        `json:"similarity"`
}

// ── Reminders ────────────────────────────────────────────────

// IntervalUnit is the recurrence unit for reminders.
type IntervalUnit string

const (
	IntervalDay   IntervalUnit = "day"
	IntervalWeek  IntervalUnit = "week"
	IntervalMonth IntervalUnit = "month"
)

// Reminder is a per-plant scheduled care task. Completed/skipped
// recurring reminders spawn a new pending instance at
// due + frequency * interval unit.
type Reminder struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	PlantID string `json:"plantId"`
	Kind    string `json:"kind"`

	DueDate   time.Time    `json:"dueDate"`
	Recurring bool         `json:"recurring"`
	Frequency int          `json:"frequency,omitempty"`
	Interval  IntervalUnit `json:"interval,omitempty"`

	Completed bool `json:"completed"`
	Skipped   bool `json:"skipped"`

	CreatedAt time.Time `json:"createdAt"`
}

// ── Usage Ledger ─────────────────────────────────────────────

// UsageLogEntry records exactly one provider attempt. Append-only;
// aggregated for quota enforcement and cost reporting.
type UsageLogEntry struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Action   string `json:"action"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`

	InputTokens  *int64 `json:"inputTokens,omitempty"`
	OutputTokens *int64 `json:"outputTokens,omitempty"`

	LatencyMs int64   `json:"latencyMs"`
	Success   bool    `json:"success"`
	ErrorCode string  `json:"errorCode,omitempty"`
	CostUSD   float64 `json:"costUsd"`
	Endpoint  string  `json:"endpoint,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ── Photos ───────────────────────────────────────────────────

// PhotoKind types a stored plant photo.
type PhotoKind string

const (
	PhotoIdentification PhotoKind = "identification"
	PhotoHealth         PhotoKind = "health"
	PhotoProgress       PhotoKind = "progress"
)

// PlantPhoto is a stored image with short-lived signed URLs.
type PlantPhoto struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	PlantID string `json:"plantId,omitempty"`

	Kind         PhotoKind `json:"kind"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
