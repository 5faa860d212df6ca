// Package store provides the repository interface and implementations for
// the Sproutly core. Handlers and pipelines depend only on the interface,
// making it easy to swap between in-memory (tests) and PostgreSQL
// (production) implementations.
package store

import (
	"context"
	"time"

	"github.com/sproutly/sproutly/server/pkg/models"
)

// Store is the primary repository interface.
type Store interface {
	UserStore
	SpeciesStore
	PlantStore
	HealthIssueStore
	SessionStore
	MessageStore
	MemoryStore
	ReminderStore
	UsageStore
	PhotoStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── User Store ──────────────────────────────────────────────

// UserStore reads user rows. Users are created and mutated by the
// external auth/billing services.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)

	// DeleteUser cascades to plants, sessions, memories, reminders and
	// usage logs owned by the user.
	DeleteUser(ctx context.Context, id string) error
}

// ── Species Store ───────────────────────────────────────────

// SpeciesStore manages the canonical species catalog. CreateSpecies
// returns ErrConflict when the normalized scientific name already
// exists; the caller re-reads and proceeds to enrichment.
type SpeciesStore interface {
	GetSpeciesByID(ctx context.Context, id string) (*models.Species, error)
	GetSpeciesByScientificName(ctx context.Context, normalized string) (*models.Species, error)
	CreateSpecies(ctx context.Context, s *models.Species) error
	UpdateSpecies(ctx context.Context, s *models.Species) error
}

// ── Plant Store ─────────────────────────────────────────────

type PlantStore interface {
	GetPlant(ctx context.Context, userID, plantID string) (*models.Plant, error)
	ListPlants(ctx context.Context, userID string) ([]models.Plant, error)
	CreatePlant(ctx context.Context, p *models.Plant) error
	UpdatePlant(ctx context.Context, p *models.Plant) error

	// DeletePlant removes the plant and detaches (does not delete) its
	// conversation sessions.
	DeletePlant(ctx context.Context, userID, plantID string) error
}

// ── Health Issue Store ──────────────────────────────────────

type HealthIssueStore interface {
	// ListActiveIssues returns active/treating issues for a plant,
	// newest reported first, bounded by limit.
	ListActiveIssues(ctx context.Context, plantID string, limit int) ([]models.HealthIssue, error)
	CreateHealthIssue(ctx context.Context, issue *models.HealthIssue) error
	UpdateIssueStatus(ctx context.Context, issueID string, status models.IssueStatus) error
}

// ── Session / Message Stores ────────────────────────────────

type SessionStore interface {
	GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	CreateSession(ctx context.Context, session *models.Session) error

	// AppendExchange atomically appends the user and assistant messages,
	// updates the session aggregates, and optionally inserts a semantic
	// memory — all in one transaction.
	AppendExchange(ctx context.Context, session *models.Session, user, assistant *models.Message, memory *models.SemanticMemory) error
}

type MessageStore interface {
	// ListRecentMessages returns the last n messages of a session,
	// ordered oldest to newest.
	ListRecentMessages(ctx context.Context, sessionID string, n int) ([]models.Message, error)
}

// ── Semantic Memory Store ───────────────────────────────────

type MemoryStore interface {
	CreateMemory(ctx context.Context, m *models.SemanticMemory) error

	// SearchMemories returns up to limit memories for the user whose
	// cosine similarity to the query vector is at least threshold,
	// ordered by similarity descending.
	SearchMemories(ctx context.Context, userID string, query []float64, limit int, threshold float64) ([]models.ScoredMemory, error)
}

// ── Reminder Store ──────────────────────────────────────────

type ReminderStore interface {
	GetReminder(ctx context.Context, userID, reminderID string) (*models.Reminder, error)
	ListDueReminders(ctx context.Context, userID string, before time.Time) ([]models.Reminder, error)
	CreateReminder(ctx context.Context, r *models.Reminder) error
	UpdateReminder(ctx context.Context, r *models.Reminder) error
}

// ── Usage Store ─────────────────────────────────────────────

type UsageStore interface {
	// CreateUsageLog appends one attempt record. Append-only.
	CreateUsageLog(ctx context.Context, entry *models.UsageLogEntry) error

	// CountMonthlySuccesses counts success=true rows for the user whose
	// action is in actions and createdAt >= since.
	CountMonthlySuccesses(ctx context.Context, userID string, actions []string, since time.Time) (int, error)
}

// ── Photo Store ─────────────────────────────────────────────

type PhotoStore interface {
	CreatePhoto(ctx context.Context, p *models.PlantPhoto) error
	ListPhotos(ctx context.Context, userID, plantID string) ([]models.PlantPhoto, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist or is
// not owned by the requesting user.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned on a uniqueness violation.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}
