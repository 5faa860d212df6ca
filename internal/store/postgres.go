package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/pkg/models"
)

// PostgresStore implements Store on PostgreSQL with the pgvector
// extension for semantic memory search.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string, poolSize int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres parse url: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Int("pool_size", poolSize).Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			display_name   TEXT NOT NULL DEFAULT '',
			experience     TEXT NOT NULL DEFAULT 'beginner',
			tier           TEXT NOT NULL DEFAULT 'free',
			city           TEXT NOT NULL DEFAULT '',
			climate_zone   TEXT NOT NULL DEFAULT '',
			home_type      TEXT NOT NULL DEFAULT '',
			light_level    TEXT NOT NULL DEFAULT '',
			humidity_level TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS species (
			id                  TEXT PRIMARY KEY,
			scientific_name     TEXT NOT NULL,
			common_names        TEXT[] NOT NULL DEFAULT '{}',
			family              TEXT NOT NULL DEFAULT 'Unknown',
			genus               TEXT NOT NULL DEFAULT 'Unknown',
			light_needs         TEXT NOT NULL DEFAULT 'Unknown',
			water_frequency     TEXT NOT NULL DEFAULT 'Unknown',
			humidity_needs      TEXT NOT NULL DEFAULT 'Unknown',
			temperature_range   TEXT NOT NULL DEFAULT 'Unknown',
			difficulty          TEXT NOT NULL DEFAULT 'moderate',
			toxicity            TEXT NOT NULL DEFAULT '',
			description         TEXT NOT NULL DEFAULT '',
			plant_id_species_id TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_species_name
			ON species (LOWER(scientific_name));

		CREATE TABLE IF NOT EXISTS plants (
			id                      TEXT PRIMARY KEY,
			user_id                 TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			species_id              TEXT NOT NULL REFERENCES species(id),
			nickname                TEXT NOT NULL DEFAULT '',
			location_in_home        TEXT NOT NULL DEFAULT '',
			light_exposure          TEXT NOT NULL DEFAULT '',
			watering_frequency_days INT NOT NULL DEFAULT 7,
			last_watered            TIMESTAMPTZ,
			next_water_due          TIMESTAMPTZ,
			last_fertilized         TIMESTAMPTZ,
			current_health          TEXT NOT NULL DEFAULT 'healthy',
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_plants_user ON plants (user_id);
		CREATE INDEX IF NOT EXISTS idx_plants_health ON plants (user_id, current_health);
		CREATE INDEX IF NOT EXISTS idx_plants_water_due ON plants (user_id, next_water_due);

		CREATE TABLE IF NOT EXISTS health_issues (
			id          TEXT PRIMARY KEY,
			plant_id    TEXT NOT NULL REFERENCES plants(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT 'active',
			reported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_issues_plant_status
			ON health_issues (plant_id, status, reported_at DESC);

		CREATE TABLE IF NOT EXISTS treatment_steps (
			id          TEXT PRIMARY KEY,
			issue_id    TEXT NOT NULL REFERENCES health_issues(id) ON DELETE CASCADE,
			seq         INT NOT NULL,
			instruction TEXT NOT NULL,
			done        BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_steps_issue ON treatment_steps (issue_id, seq);

		CREATE TABLE IF NOT EXISTS sessions (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			plant_id            TEXT REFERENCES plants(id) ON DELETE SET NULL,
			title               TEXT NOT NULL DEFAULT '',
			message_count       INT NOT NULL DEFAULT 0,
			total_input_tokens  BIGINT NOT NULL DEFAULT 0,
			total_output_tokens BIGINT NOT NULL DEFAULT 0,
			estimated_cost      DOUBLE PRECISION NOT NULL DEFAULT 0,
			models_used         TEXT[] NOT NULL DEFAULT '{}',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			model         TEXT NOT NULL DEFAULT '',
			input_tokens  BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			action_items  TEXT[] NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at);

		CREATE TABLE IF NOT EXISTS semantic_memories (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			content           TEXT NOT NULL,
			content_type      TEXT NOT NULL DEFAULT 'conversation',
			embedding         vector(%d) NOT NULL,
			relevance_score   DOUBLE PRECISION NOT NULL DEFAULT 1,
			source_session_id TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_memories_user ON semantic_memories (user_id);
		CREATE INDEX IF NOT EXISTS idx_memories_embedding
			ON semantic_memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

		CREATE TABLE IF NOT EXISTS reminders (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			plant_id   TEXT NOT NULL REFERENCES plants(id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			due_date   TIMESTAMPTZ NOT NULL,
			recurring  BOOLEAN NOT NULL DEFAULT FALSE,
			frequency  INT NOT NULL DEFAULT 0,
			interval_unit TEXT NOT NULL DEFAULT '',
			completed  BOOLEAN NOT NULL DEFAULT FALSE,
			skipped    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_reminders_due
			ON reminders (user_id, due_date) WHERE NOT completed AND NOT skipped;

		CREATE TABLE IF NOT EXISTS usage_log (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			action        TEXT NOT NULL,
			provider      TEXT NOT NULL,
			model         TEXT NOT NULL DEFAULT '',
			input_tokens  BIGINT,
			output_tokens BIGINT,
			latency_ms    BIGINT NOT NULL DEFAULT 0,
			success       BOOLEAN NOT NULL,
			error_code    TEXT NOT NULL DEFAULT '',
			cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
			endpoint      TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_usage_user_action
			ON usage_log (user_id, action, created_at);

		CREATE TABLE IF NOT EXISTS plant_photos (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			plant_id      TEXT REFERENCES plants(id) ON DELETE CASCADE,
			kind          TEXT NOT NULL,
			url           TEXT NOT NULL,
			thumbnail_url TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_photos_plant ON plant_photos (user_id, plant_id);
	`, models.EmbeddingDimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// mapError converts pgx errors to the store's typed errors.
func mapError(err error, entity, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &ErrConflict{Entity: entity, Key: key}
	}
	return err
}

// vectorLiteral renders a float slice in pgvector's input format.
func vectorLiteral(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

// parseVector parses pgvector's text output back into a float slice.
func parseVector(s string) []float64 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}

// ── Users ───────────────────────────────────────────────────

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, experience, tier, city, climate_zone,
		       home_type, light_level, humidity_level, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Experience, &u.Tier, &u.City, &u.ClimateZone,
		&u.HomeType, &u.LightLevel, &u.HumidityLevel, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err, "user", id)
	}
	return &u, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "user", Key: id}
	}
	return nil
}

// ── Species ─────────────────────────────────────────────────

const speciesColumns = `id, scientific_name, common_names, family, genus,
	light_needs, water_frequency, humidity_needs, temperature_range,
	difficulty, toxicity, description, plant_id_species_id, created_at, updated_at`

func scanSpecies(row pgx.Row) (*models.Species, error) {
	var sp models.Species
	err := row.Scan(&sp.ID, &sp.ScientificName, &sp.CommonNames, &sp.Family, &sp.Genus,
		&sp.LightNeeds, &sp.WaterFrequency, &sp.HumidityNeeds, &sp.TemperatureRange,
		&sp.Difficulty, &sp.Toxicity, &sp.Description, &sp.PlantIDSpeciesID,
		&sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *PostgresStore) GetSpeciesByID(ctx context.Context, id string) (*models.Species, error) {
	sp, err := scanSpecies(s.pool.QueryRow(ctx,
		`SELECT `+speciesColumns+` FROM species WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "species", id)
	}
	return sp, nil
}

func (s *PostgresStore) GetSpeciesByScientificName(ctx context.Context, normalized string) (*models.Species, error) {
	sp, err := scanSpecies(s.pool.QueryRow(ctx,
		`SELECT `+speciesColumns+` FROM species WHERE LOWER(scientific_name) = LOWER($1)`, normalized))
	if err != nil {
		return nil, mapError(err, "species", normalized)
	}
	return sp, nil
}

func (s *PostgresStore) CreateSpecies(ctx context.Context, sp *models.Species) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO species (`+speciesColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		sp.ID, sp.ScientificName, sp.CommonNames, sp.Family, sp.Genus,
		sp.LightNeeds, sp.WaterFrequency, sp.HumidityNeeds, sp.TemperatureRange,
		sp.Difficulty, sp.Toxicity, sp.Description, sp.PlantIDSpeciesID,
		sp.CreatedAt, sp.UpdatedAt)
	if err != nil {
		return mapError(err, "species", sp.ScientificName)
	}
	return nil
}

func (s *PostgresStore) UpdateSpecies(ctx context.Context, sp *models.Species) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE species SET common_names = $2, family = $3, genus = $4,
			light_needs = $5, water_frequency = $6, humidity_needs = $7,
			temperature_range = $8, difficulty = $9, toxicity = $10,
			description = $11, plant_id_species_id = $12, updated_at = $13
		WHERE id = $1`,
		sp.ID, sp.CommonNames, sp.Family, sp.Genus,
		sp.LightNeeds, sp.WaterFrequency, sp.HumidityNeeds,
		sp.TemperatureRange, sp.Difficulty, sp.Toxicity,
		sp.Description, sp.PlantIDSpeciesID, sp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update species: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "species", Key: sp.ID}
	}
	return nil
}

// ── Plants ──────────────────────────────────────────────────

const plantColumns = `id, user_id, species_id, nickname, location_in_home,
	light_exposure, watering_frequency_days, last_watered, next_water_due,
	last_fertilized, current_health, created_at, updated_at`

func scanPlant(row pgx.Row) (*models.Plant, error) {
	var p models.Plant
	err := row.Scan(&p.ID, &p.UserID, &p.SpeciesID, &p.Nickname, &p.LocationInHome,
		&p.LightExposure, &p.WateringFrequencyDays, &p.LastWatered, &p.NextWaterDue,
		&p.LastFertilized, &p.CurrentHealth, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPlant(ctx context.Context, userID, plantID string) (*models.Plant, error) {
	p, err := scanPlant(s.pool.QueryRow(ctx,
		`SELECT `+plantColumns+` FROM plants WHERE id = $1 AND user_id = $2`, plantID, userID))
	if err != nil {
		return nil, mapError(err, "plant", plantID)
	}
	return p, nil
}

func (s *PostgresStore) ListPlants(ctx context.Context, userID string) ([]models.Plant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+plantColumns+` FROM plants WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}
	defer rows.Close()

	var out []models.Plant
	for rows.Next() {
		p, err := scanPlant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plant: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreatePlant(ctx context.Context, p *models.Plant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plants (`+plantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.UserID, p.SpeciesID, p.Nickname, p.LocationInHome,
		p.LightExposure, p.WateringFrequencyDays, p.LastWatered, p.NextWaterDue,
		p.LastFertilized, p.CurrentHealth, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapError(err, "plant", p.ID)
	}
	return nil
}

func (s *PostgresStore) UpdatePlant(ctx context.Context, p *models.Plant) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plants SET nickname = $3, location_in_home = $4, light_exposure = $5,
			watering_frequency_days = $6, last_watered = $7, next_water_due = $8,
			last_fertilized = $9, current_health = $10, updated_at = $11
		WHERE id = $1 AND user_id = $2`,
		p.ID, p.UserID, p.Nickname, p.LocationInHome, p.LightExposure,
		p.WateringFrequencyDays, p.LastWatered, p.NextWaterDue,
		p.LastFertilized, p.CurrentHealth, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update plant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "plant", Key: p.ID}
	}
	return nil
}

func (s *PostgresStore) DeletePlant(ctx context.Context, userID, plantID string) error {
	// Sessions detach via ON DELETE SET NULL; issues, reminders and
	// photos cascade.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM plants WHERE id = $1 AND user_id = $2`, plantID, userID)
	if err != nil {
		return fmt.Errorf("delete plant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "plant", Key: plantID}
	}
	return nil
}

// ── Health issues ───────────────────────────────────────────

func (s *PostgresStore) ListActiveIssues(ctx context.Context, plantID string, limit int) ([]models.HealthIssue, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, plant_id, name, description, confidence, status, reported_at, resolved_at
		FROM health_issues
		WHERE plant_id = $1 AND status IN ('active','treating')
		ORDER BY reported_at DESC LIMIT $2`, plantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var out []models.HealthIssue
	for rows.Next() {
		var issue models.HealthIssue
		if err := rows.Scan(&issue.ID, &issue.PlantID, &issue.Name, &issue.Description,
			&issue.Confidence, &issue.Status, &issue.ReportedAt, &issue.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		steps, err := s.listSteps(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Steps = steps
	}
	return out, nil
}

func (s *PostgresStore) listSteps(ctx context.Context, issueID string) ([]models.TreatmentStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, issue_id, seq, instruction, done
		FROM treatment_steps WHERE issue_id = $1 ORDER BY seq`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []models.TreatmentStep
	for rows.Next() {
		var st models.TreatmentStep
		if err := rows.Scan(&st.ID, &st.IssueID, &st.Seq, &st.Instruction, &st.Done); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateHealthIssue(ctx context.Context, issue *models.HealthIssue) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO health_issues (id, plant_id, name, description, confidence, status, reported_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		issue.ID, issue.PlantID, issue.Name, issue.Description,
		issue.Confidence, issue.Status, issue.ReportedAt, issue.ResolvedAt)
	if err != nil {
		return mapError(err, "health issue", issue.ID)
	}
	for _, st := range issue.Steps {
		_, err = tx.Exec(ctx, `
			INSERT INTO treatment_steps (id, issue_id, seq, instruction, done)
			VALUES ($1,$2,$3,$4,$5)`,
			st.ID, st.IssueID, st.Seq, st.Instruction, st.Done)
		if err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateIssueStatus(ctx context.Context, issueID string, status models.IssueStatus) error {
	var resolvedAt *time.Time
	if status == models.IssueResolved {
		now := time.Now().UTC()
		resolvedAt = &now
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE health_issues SET status = $2, resolved_at = COALESCE($3, resolved_at)
		WHERE id = $1`, issueID, status, resolvedAt)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "health issue", Key: issueID}
	}
	return nil
}

// ── Sessions / messages ─────────────────────────────────────

func (s *PostgresStore) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	var sess models.Session
	var plantID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, plant_id, title, message_count, total_input_tokens,
		       total_output_tokens, estimated_cost, models_used, created_at, updated_at
		FROM sessions WHERE id = $1 AND user_id = $2`, sessionID, userID,
	).Scan(&sess.ID, &sess.UserID, &plantID, &sess.Title, &sess.MessageCount,
		&sess.TotalInputTokens, &sess.TotalOutputTokens, &sess.EstimatedCost,
		&sess.ModelsUsed, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "session", sessionID)
	}
	if plantID != nil {
		sess.PlantID = *plantID
	}
	return &sess, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, plant_id, title, message_count,
			total_input_tokens, total_output_tokens, estimated_cost, models_used,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		session.ID, session.UserID, nullable(session.PlantID), session.Title,
		session.MessageCount, session.TotalInputTokens, session.TotalOutputTokens,
		session.EstimatedCost, session.ModelsUsed, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return mapError(err, "session", session.ID)
	}
	return nil
}

// AppendExchange writes both messages, the session aggregates, and the
// optional memory in a single transaction so a partial exchange can
// never be observed.
func (s *PostgresStore) AppendExchange(ctx context.Context, session *models.Session, user, assistant *models.Message, memory *models.SemanticMemory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range []*models.Message{user, assistant} {
		var actionItems []string
		if m.Extracted != nil {
			actionItems = m.Extracted.ActionItems
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, session_id, role, content, model,
				input_tokens, output_tokens, action_items, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			m.ID, m.SessionID, m.Role, m.Content, m.Model,
			m.InputTokens, m.OutputTokens, actionItems, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET title = $2, message_count = $3,
			total_input_tokens = $4, total_output_tokens = $5,
			estimated_cost = $6, models_used = $7, updated_at = $8
		WHERE id = $1`,
		session.ID, session.Title, session.MessageCount,
		session.TotalInputTokens, session.TotalOutputTokens,
		session.EstimatedCost, session.ModelsUsed, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "session", Key: session.ID}
	}

	if memory != nil {
		if err := insertMemory(ctx, tx, memory); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListRecentMessages(ctx context.Context, sessionID string, n int) ([]models.Message, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, model, input_tokens, output_tokens, action_items, created_at
		FROM (
			SELECT * FROM messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var actionItems []string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Model,
			&m.InputTokens, &m.OutputTokens, &actionItems, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(actionItems) > 0 {
			m.Extracted = &models.ExtractedData{ActionItems: actionItems}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── Semantic memories ───────────────────────────────────────

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertMemory(ctx context.Context, db execer, m *models.SemanticMemory) error {
	_, err := db.Exec(ctx, `
		INSERT INTO semantic_memories (id, user_id, content, content_type,
			embedding, relevance_score, source_session_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.UserID, m.Content, m.ContentType,
		vectorLiteral(m.Embedding), m.RelevanceScore, m.SourceSessionID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateMemory(ctx context.Context, m *models.SemanticMemory) error {
	return insertMemory(ctx, s.pool, m)
}

func (s *PostgresStore) SearchMemories(ctx context.Context, userID string, query []float64, limit int, threshold float64) ([]models.ScoredMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, content, content_type, embedding::text,
		       relevance_score, source_session_id, created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM semantic_memories
		WHERE user_id = $1 AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2 LIMIT $4`,
		userID, vectorLiteral(query), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredMemory
	for rows.Next() {
		var m models.SemanticMemory
		var embedding string
		var sim float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.ContentType, &embedding,
			&m.RelevanceScore, &m.SourceSessionID, &m.CreatedAt, &sim); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Embedding = parseVector(embedding)
		out = append(out, models.ScoredMemory{Memory: m, Similarity: sim})
	}
	return out, rows.Err()
}

// ── Reminders ───────────────────────────────────────────────

const reminderColumns = `id, user_id, plant_id, kind, due_date, recurring,
	frequency, interval_unit, completed, skipped, created_at`

func scanReminder(row pgx.Row) (*models.Reminder, error) {
	var r models.Reminder
	err := row.Scan(&r.ID, &r.UserID, &r.PlantID, &r.Kind, &r.DueDate, &r.Recurring,
		&r.Frequency, &r.Interval, &r.Completed, &r.Skipped, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetReminder(ctx context.Context, userID, reminderID string) (*models.Reminder, error) {
	r, err := scanReminder(s.pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1 AND user_id = $2`,
		reminderID, userID))
	if err != nil {
		return nil, mapError(err, "reminder", reminderID)
	}
	return r, nil
}

func (s *PostgresStore) ListDueReminders(ctx context.Context, userID string, before time.Time) ([]models.Reminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE user_id = $1 AND due_date <= $2 AND NOT completed AND NOT skipped
		ORDER BY due_date`, userID, before)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.UserID, r.PlantID, r.Kind, r.DueDate, r.Recurring,
		r.Frequency, r.Interval, r.Completed, r.Skipped, r.CreatedAt)
	if err != nil {
		return mapError(err, "reminder", r.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateReminder(ctx context.Context, r *models.Reminder) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminders SET due_date = $3, recurring = $4, frequency = $5,
			interval_unit = $6, completed = $7, skipped = $8
		WHERE id = $1 AND user_id = $2`,
		r.ID, r.UserID, r.DueDate, r.Recurring, r.Frequency,
		r.Interval, r.Completed, r.Skipped)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "reminder", Key: r.ID}
	}
	return nil
}

// ── Usage ledger ────────────────────────────────────────────

func (s *PostgresStore) CreateUsageLog(ctx context.Context, entry *models.UsageLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_log (id, user_id, action, provider, model,
			input_tokens, output_tokens, latency_ms, success, error_code,
			cost_usd, endpoint, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		entry.ID, entry.UserID, entry.Action, entry.Provider, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.LatencyMs, entry.Success,
		entry.ErrorCode, entry.CostUSD, entry.Endpoint, entry.CreatedAt)
	if err != nil {
		return mapError(err, "usage log", entry.ID)
	}
	return nil
}

func (s *PostgresStore) CountMonthlySuccesses(ctx context.Context, userID string, actions []string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage_log
		WHERE user_id = $1 AND action = ANY($2) AND success AND created_at >= $3`,
		userID, actions, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

// ── Photos ──────────────────────────────────────────────────

func (s *PostgresStore) CreatePhoto(ctx context.Context, p *models.PlantPhoto) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plant_photos (id, user_id, plant_id, kind, url, thumbnail_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.UserID, nullable(p.PlantID), p.Kind, p.URL, p.ThumbnailURL, p.CreatedAt)
	if err != nil {
		return mapError(err, "photo", p.ID)
	}
	return nil
}

func (s *PostgresStore) ListPhotos(ctx context.Context, userID, plantID string) ([]models.PlantPhoto, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, COALESCE(plant_id, ''), kind, url, thumbnail_url, created_at
		FROM plant_photos WHERE user_id = $1 AND plant_id = $2
		ORDER BY created_at`, userID, plantID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var out []models.PlantPhoto
	for rows.Next() {
		var p models.PlantPhoto
		if err := rows.Scan(&p.ID, &p.UserID, &p.PlantID, &p.Kind, &p.URL,
			&p.ThumbnailURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// nullable maps an empty string to SQL NULL for optional foreign keys.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
