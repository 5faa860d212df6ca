package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sproutly/sproutly/server/pkg/models"
)

// MemoryStoreImpl is an in-memory Store used in tests and local
// development. All maps are guarded by a single RWMutex; values are
// copied on the way in and out so callers never share state.
type MemoryStoreImpl struct {
	mu sync.RWMutex

	users     map[string]models.User
	species   map[string]models.Species
	speciesBy map[string]string // normalized scientific name -> id
	plants    map[string]models.Plant
	issues    map[string]models.HealthIssue
	sessions  map[string]models.Session
	messages  map[string][]models.Message // sessionID -> ordered
	memories  map[string]models.SemanticMemory
	reminders map[string]models.Reminder
	usage     []models.UsageLogEntry
	photos    map[string]models.PlantPhoto
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStoreImpl {
	return &MemoryStoreImpl{
		users:     make(map[string]models.User),
		species:   make(map[string]models.Species),
		speciesBy: make(map[string]string),
		plants:    make(map[string]models.Plant),
		issues:    make(map[string]models.HealthIssue),
		sessions:  make(map[string]models.Session),
		messages:  make(map[string][]models.Message),
		memories:  make(map[string]models.SemanticMemory),
		reminders: make(map[string]models.Reminder),
		photos:    make(map[string]models.PlantPhoto),
	}
}

func (s *MemoryStoreImpl) Ping(context.Context) error    { return nil }
func (s *MemoryStoreImpl) Close() error                  { return nil }
func (s *MemoryStoreImpl) Migrate(context.Context) error { return nil }

// ── Users ───────────────────────────────────────────────────

// PutUser seeds a user row. Test helper; production users come from the
// external auth service.
func (s *MemoryStoreImpl) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStoreImpl) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}
	out := u
	return &out, nil
}

func (s *MemoryStoreImpl) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return &ErrNotFound{Entity: "user", Key: id}
	}
	delete(s.users, id)
	for pid, p := range s.plants {
		if p.UserID == id {
			delete(s.plants, pid)
		}
	}
	for sid, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, sid)
			delete(s.messages, sid)
		}
	}
	for mid, m := range s.memories {
		if m.UserID == id {
			delete(s.memories, mid)
		}
	}
	for rid, r := range s.reminders {
		if r.UserID == id {
			delete(s.reminders, rid)
		}
	}
	kept := s.usage[:0]
	for _, e := range s.usage {
		if e.UserID != id {
			kept = append(kept, e)
		}
	}
	s.usage = kept
	for phid, ph := range s.photos {
		if ph.UserID == id {
			delete(s.photos, phid)
		}
	}
	return nil
}

// ── Species ─────────────────────────────────────────────────

func (s *MemoryStoreImpl) GetSpeciesByID(_ context.Context, id string) (*models.Species, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.species[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "species", Key: id}
	}
	out := copySpecies(sp)
	return &out, nil
}

func (s *MemoryStoreImpl) GetSpeciesByScientificName(_ context.Context, normalized string) (*models.Species, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.speciesBy[normalized]
	if !ok {
		return nil, &ErrNotFound{Entity: "species", Key: normalized}
	}
	out := copySpecies(s.species[id])
	return &out, nil
}

func (s *MemoryStoreImpl) CreateSpecies(_ context.Context, sp *models.Species) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(sp.ScientificName)
	if _, exists := s.speciesBy[key]; exists {
		return &ErrConflict{Entity: "species", Key: key}
	}
	s.species[sp.ID] = copySpecies(*sp)
	s.speciesBy[key] = sp.ID
	return nil
}

func (s *MemoryStoreImpl) UpdateSpecies(_ context.Context, sp *models.Species) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.species[sp.ID]; !ok {
		return &ErrNotFound{Entity: "species", Key: sp.ID}
	}
	s.species[sp.ID] = copySpecies(*sp)
	return nil
}

func copySpecies(sp models.Species) models.Species {
	sp.CommonNames = append([]string{}, sp.CommonNames...)
	return sp
}

// ── Plants ──────────────────────────────────────────────────

func (s *MemoryStoreImpl) GetPlant(_ context.Context, userID, plantID string) (*models.Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plants[plantID]
	if !ok || p.UserID != userID {
		return nil, &ErrNotFound{Entity: "plant", Key: plantID}
	}
	out := p
	return &out, nil
}

func (s *MemoryStoreImpl) ListPlants(_ context.Context, userID string) ([]models.Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Plant
	for _, p := range s.plants {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStoreImpl) CreatePlant(_ context.Context, p *models.Plant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plants[p.ID] = *p
	return nil
}

func (s *MemoryStoreImpl) UpdatePlant(_ context.Context, p *models.Plant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plants[p.ID]; !ok {
		return &ErrNotFound{Entity: "plant", Key: p.ID}
	}
	s.plants[p.ID] = *p
	return nil
}

func (s *MemoryStoreImpl) DeletePlant(_ context.Context, userID, plantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plants[plantID]
	if !ok || p.UserID != userID {
		return &ErrNotFound{Entity: "plant", Key: plantID}
	}
	delete(s.plants, plantID)
	// Sessions survive plant deletion with the link cleared.
	for sid, sess := range s.sessions {
		if sess.PlantID == plantID {
			sess.PlantID = ""
			s.sessions[sid] = sess
		}
	}
	for iid, issue := range s.issues {
		if issue.PlantID == plantID {
			delete(s.issues, iid)
		}
	}
	for rid, r := range s.reminders {
		if r.PlantID == plantID {
			delete(s.reminders, rid)
		}
	}
	return nil
}

// ── Health issues ───────────────────────────────────────────

func (s *MemoryStoreImpl) ListActiveIssues(_ context.Context, plantID string, limit int) ([]models.HealthIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HealthIssue
	for _, issue := range s.issues {
		if issue.PlantID != plantID {
			continue
		}
		if issue.Status != models.IssueActive && issue.Status != models.IssueTreating {
			continue
		}
		out = append(out, copyIssue(issue))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.After(out[j].ReportedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStoreImpl) CreateHealthIssue(_ context.Context, issue *models.HealthIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[issue.ID] = copyIssue(*issue)
	return nil
}

func (s *MemoryStoreImpl) UpdateIssueStatus(_ context.Context, issueID string, status models.IssueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[issueID]
	if !ok {
		return &ErrNotFound{Entity: "health issue", Key: issueID}
	}
	issue.Status = status
	if status == models.IssueResolved {
		now := time.Now().UTC()
		issue.ResolvedAt = &now
	}
	s.issues[issueID] = issue
	return nil
}

func copyIssue(issue models.HealthIssue) models.HealthIssue {
	issue.Steps = append([]models.TreatmentStep{}, issue.Steps...)
	return issue
}

// ── Sessions / messages ─────────────────────────────────────

func (s *MemoryStoreImpl) GetSession(_ context.Context, userID, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, &ErrNotFound{Entity: "session", Key: sessionID}
	}
	out := copySession(sess)
	return &out, nil
}

func (s *MemoryStoreImpl) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = copySession(*session)
	return nil
}

func (s *MemoryStoreImpl) AppendExchange(_ context.Context, session *models.Session, user, assistant *models.Message, memory *models.SemanticMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return &ErrNotFound{Entity: "session", Key: session.ID}
	}
	s.messages[session.ID] = append(s.messages[session.ID], *user, *assistant)
	s.sessions[session.ID] = copySession(*session)
	if memory != nil {
		s.memories[memory.ID] = copyMemory(*memory)
	}
	return nil
}

func copySession(sess models.Session) models.Session {
	sess.ModelsUsed = append([]string{}, sess.ModelsUsed...)
	return sess
}

func (s *MemoryStoreImpl) ListRecentMessages(_ context.Context, sessionID string, n int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]models.Message{}, msgs...), nil
}

// ── Semantic memories ───────────────────────────────────────

func (s *MemoryStoreImpl) CreateMemory(_ context.Context, m *models.SemanticMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = copyMemory(*m)
	return nil
}

func (s *MemoryStoreImpl) SearchMemories(_ context.Context, userID string, query []float64, limit int, threshold float64) ([]models.ScoredMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScoredMemory
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		sim := cosineSimilarity(query, m.Embedding)
		if sim < threshold {
			continue
		}
		out = append(out, models.ScoredMemory{Memory: copyMemory(m), Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyMemory(m models.SemanticMemory) models.SemanticMemory {
	m.Embedding = append([]float64{}, m.Embedding...)
	return m
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ── Reminders ───────────────────────────────────────────────

func (s *MemoryStoreImpl) GetReminder(_ context.Context, userID, reminderID string) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[reminderID]
	if !ok || r.UserID != userID {
		return nil, &ErrNotFound{Entity: "reminder", Key: reminderID}
	}
	out := r
	return &out, nil
}

func (s *MemoryStoreImpl) ListDueReminders(_ context.Context, userID string, before time.Time) ([]models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reminder
	for _, r := range s.reminders {
		if r.UserID != userID || r.Completed || r.Skipped {
			continue
		}
		if r.DueDate.After(before) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *MemoryStoreImpl) CreateReminder(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.ID] = *r
	return nil
}

func (s *MemoryStoreImpl) UpdateReminder(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[r.ID]; !ok {
		return &ErrNotFound{Entity: "reminder", Key: r.ID}
	}
	s.reminders[r.ID] = *r
	return nil
}

// ── Usage ledger ────────────────────────────────────────────

func (s *MemoryStoreImpl) CreateUsageLog(_ context.Context, entry *models.UsageLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *entry)
	return nil
}

func (s *MemoryStoreImpl) CountMonthlySuccesses(_ context.Context, userID string, actions []string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(actions))
	for _, a := range actions {
		wanted[a] = true
	}
	count := 0
	for _, e := range s.usage {
		if e.UserID == userID && wanted[e.Action] && e.Success && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// UsageEntries returns a copy of all ledger rows. Test helper.
func (s *MemoryStoreImpl) UsageEntries() []models.UsageLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.UsageLogEntry{}, s.usage...)
}

// ── Photos ──────────────────────────────────────────────────

func (s *MemoryStoreImpl) CreatePhoto(_ context.Context, p *models.PlantPhoto) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[p.ID] = *p
	return nil
}

func (s *MemoryStoreImpl) ListPhotos(_ context.Context, userID, plantID string) ([]models.PlantPhoto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PlantPhoto
	for _, p := range s.photos {
		if p.UserID == userID && p.PlantID == plantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
