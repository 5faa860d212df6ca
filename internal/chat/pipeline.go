package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/internal/usage"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// complexMessageChars is the message length above which the complex
// model tier is selected.
const complexMessageChars = 400

// complexIssueConfidence is the active-issue confidence at or above
// which the complex tier is selected.
const complexIssueConfidence = 0.6

// maxTitleChars bounds the auto-generated session title.
const maxTitleChars = 60

// Pipeline runs one chat exchange end to end.
type Pipeline struct {
	store     store.Store
	assembler *Assembler
	router    *airouter.Router
}

// NewPipeline creates the chat pipeline.
func NewPipeline(st store.Store, assembler *Assembler, router *airouter.Router) *Pipeline {
	return &Pipeline{store: st, assembler: assembler, router: router}
}

// session loads the referenced session or starts a new one titled from
// the first message.
func (p *Pipeline) session(ctx context.Context, userID string, req models.ChatRequest) (*models.Session, bool, error) {
	if req.SessionID != "" {
		sess, err := p.store.GetSession(ctx, userID, req.SessionID)
		return sess, false, err
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		PlantID:    req.PlantID,
		Title:      titleFrom(req.Message),
		ModelsUsed: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.CreateSession(ctx, sess); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func titleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if len(title) > maxTitleChars {
		title = title[:maxTitleChars] + "…"
	}
	return title
}

// taskFor selects the model tier: long messages, plants in bad shape,
// and confident active issues all escalate to the complex tier.
func taskFor(message string, assembled *AssembledContext) airouter.Task {
	if len(message) > complexMessageChars {
		return airouter.TaskChatComplex
	}
	if assembled.PlantHealth == models.HealthStruggling || assembled.PlantHealth == models.HealthCritical {
		return airouter.TaskChatComplex
	}
	for _, issue := range assembled.ActiveIssues {
		if issue.Confidence >= complexIssueConfidence {
			return airouter.TaskChatComplex
		}
	}
	return airouter.TaskChatSimple
}

// Chat runs a non-streamed exchange: assemble, route, persist.
func (p *Pipeline) Chat(ctx context.Context, userID string, req models.ChatRequest) (*models.ChatResponse, *models.ChatMeta, error) {
	start := time.Now()

	sess, _, err := p.session(ctx, userID, req)
	if err != nil {
		return nil, nil, err
	}
	plantID := req.PlantID
	if plantID == "" {
		plantID = sess.PlantID
	}

	assembled, err := p.assembler.Assemble(ctx, userID, plantID, nonEmptySession(req.SessionID, sess), req.Message)
	if err != nil {
		return nil, nil, err
	}

	task := taskFor(req.Message, assembled)
	out, meta, err := p.router.Chat(ctx, userID, task, providers.ChatInput{
		System: assembled.System,
		Turns:  assembled.Turns,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := p.persistExchange(ctx, sess, userID, req.Message, out.Content, out.Model, meta.Provider, out.InputTokens, out.OutputTokens); err != nil {
		return nil, nil, err
	}

	resp := &models.ChatResponse{
		SessionID:         sess.ID,
		Content:           out.Content,
		ActionItems:       extractActionItems(out.Content),
		FollowUpQuestions: extractFollowUps(out.Content),
		ContextUsed:       assembled.Used,
	}
	return resp, &models.ChatMeta{
		Provider:         meta.Provider,
		Model:            out.Model,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// nonEmptySession keeps history retrieval off for brand-new sessions.
func nonEmptySession(requested string, sess *models.Session) string {
	if requested == "" {
		return ""
	}
	return sess.ID
}

// persistExchange writes both messages, the session aggregates, and an
// optional semantic memory in one transaction.
func (p *Pipeline) persistExchange(ctx context.Context, sess *models.Session, userID, question, answer, model, provider string, inputTokens, outputTokens int64) error {
	now := time.Now().UTC()
	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Content:   question,
		CreatedAt: now,
	}
	assistantMsg := &models.Message{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		Role:         models.RoleAssistant,
		Content:      answer,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CreatedAt:    now.Add(time.Millisecond), // keep per-session ordering strict
	}
	if items := extractActionItems(answer); len(items) > 0 {
		assistantMsg.Extracted = &models.ExtractedData{ActionItems: items}
	}

	sess.MessageCount += 2
	sess.TotalInputTokens += inputTokens
	sess.TotalOutputTokens += outputTokens
	sess.EstimatedCost += usage.Cost(provider, model, inputTokens, outputTokens)
	sess.ModelsUsed = appendUnique(sess.ModelsUsed, model)
	sess.UpdatedAt = now

	memory := p.extractMemory(ctx, userID, sess.ID, question, answer)
	return p.store.AppendExchange(ctx, sess, userMsg, assistantMsg, memory)
}

// extractMemory distills a memorable exchange into an embedded memory.
// Failure to embed skips the memory rather than failing the chat.
func (p *Pipeline) extractMemory(ctx context.Context, userID, sessionID, question, answer string) *models.SemanticMemory {
	if !memorable(question, answer) {
		return nil
	}

	content := summarizeExchange(question, answer)
	vector, _, err := p.router.EmbedOne(ctx, userID, content)
	if err != nil {
		log.Warn().Err(err).Msg("memory embedding failed, skipping memory")
		return nil
	}

	return &models.SemanticMemory{
		ID:              uuid.NewString(),
		UserID:          userID,
		Content:         content,
		ContentType:     classifyMemory(answer),
		Embedding:       vector,
		RelevanceScore:  1.0,
		SourceSessionID: sessionID,
		CreatedAt:       time.Now().UTC(),
	}
}

// memorable filters out throwaway exchanges: only substantive questions
// or answers carrying care advice are worth remembering.
func memorable(question, answer string) bool {
	if len(question) >= 50 {
		return true
	}
	lower := strings.ToLower(answer)
	for _, kw := range []string{"water", "repot", "fertiliz", "prune", "root rot", "pest", "diagnos", "treat"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func classifyMemory(answer string) models.MemoryType {
	lower := strings.ToLower(answer)
	switch {
	case strings.Contains(lower, "diagnos") || strings.Contains(lower, "root rot") || strings.Contains(lower, "pest"):
		return models.MemoryDiagnosis
	case strings.Contains(lower, "recommend") || strings.Contains(lower, "should"):
		return models.MemoryAdvice
	default:
		return models.MemoryConversation
	}
}

// summarizeExchange compacts the Q/A pair into a bounded excerpt.
func summarizeExchange(question, answer string) string {
	const half = 300
	if len(question) > half {
		question = question[:half]
	}
	if len(answer) > half {
		answer = answer[:half]
	}
	return "Asked: " + question + "\nAdvice: " + answer
}

// extractActionItems pulls imperative bullet lines out of the reply.
func extractActionItems(answer string) []string {
	var items []string
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		var item string
		switch {
		case strings.HasPrefix(trimmed, "- "):
			item = strings.TrimPrefix(trimmed, "- ")
		case strings.HasPrefix(trimmed, "* "):
			item = strings.TrimPrefix(trimmed, "* ")
		case len(trimmed) > 3 && trimmed[0] >= '1' && trimmed[0] <= '9' && trimmed[1] == '.':
			item = strings.TrimSpace(trimmed[2:])
		default:
			continue
		}
		if isActionable(item) {
			items = append(items, item)
		}
	}
	return items
}

func isActionable(item string) bool {
	lower := strings.ToLower(item)
	for _, kw := range []string{"water", "repot", "fertiliz", "prune", "move", "mist", "check", "remove", "trim", "rotate", "wipe"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// extractFollowUps returns up to three trailing questions of the reply.
func extractFollowUps(answer string) []string {
	var out []string
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, "?") && len(trimmed) > 10 {
			out = append(out, trimmed)
		}
	}
	if len(out) > 3 {
		out = out[len(out)-3:]
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
