// Package airouter runs a configured ordered chain of provider gateways
// per semantic task, retrying and falling back on retryable failures,
// and records every provider attempt in the usage ledger.
package airouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/retry"
	"github.com/sproutly/sproutly/server/internal/usage"
)

// Task is a semantic unit of AI work.
type Task string

const (
	TaskIdentification   Task = "identification"
	TaskHealthAssessment Task = "health_assessment"
	TaskChatSimple       Task = "chat_simple"
	TaskChatComplex      Task = "chat_complex"
	TaskEmbedding        Task = "embedding"
)

// Error is emitted when every provider in a task's chain was exhausted.
// No result is ever partially returned alongside it.
type Error struct {
	Task      Task
	Attempted []string
	Last      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: all providers failed [%s]: %v", e.Task, strings.Join(e.Attempted, ", "), e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// Meta annotates a successful routed result.
type Meta struct {
	Provider   string
	Model      string
	IsFallback bool
	LatencyMs  int64
}

// Router holds one gateway per vendor and the per-task chains.
type Router struct {
	plantID  *providers.PlantIDGateway
	gemini   *providers.GeminiGateway
	claude   *providers.ClaudeGateway
	openai   *providers.OpenAIGateway
	recorder *usage.Recorder
	retryCfg retry.Config
}

// New creates the router.
func New(plantID *providers.PlantIDGateway, gemini *providers.GeminiGateway, claude *providers.ClaudeGateway, openai *providers.OpenAIGateway, recorder *usage.Recorder, retryCfg retry.Config) *Router {
	return &Router{
		plantID:  plantID,
		gemini:   gemini,
		claude:   claude,
		openai:   openai,
		recorder: recorder,
		retryCfg: retryCfg,
	}
}

// attemptUsage carries what a chain entry knows about its token usage.
type attemptUsage struct {
	Model        string
	InputTokens  *int64
	OutputTokens *int64
}

// chainEntry is one (name, gateway-call) pair of a task chain.
type chainEntry[T any] struct {
	name string
	call func(ctx context.Context) (T, attemptUsage, error)
}

// runChain iterates the chain in order. Each provider call is wrapped in
// the retry harness; one ledger row is written per provider outcome. On
// success the result is annotated with the provider name and whether it
// came from a fallback position.
func runChain[T any](ctx context.Context, r *Router, userID string, task Task, entries []chainEntry[T]) (T, Meta, error) {
	var attempted []string
	var lastErr error

	for i, entry := range entries {
		start := time.Now()
		var usg attemptUsage
		result, err := retry.Do(ctx, r.retryCfg, providers.IsRetryable, func(attemptCtx context.Context) (T, error) {
			res, u, callErr := entry.call(attemptCtx)
			if callErr == nil {
				usg = u
			}
			return res, callErr
		})
		latency := time.Since(start).Milliseconds()
		attempted = append(attempted, entry.name)

		if err != nil {
			lastErr = err
			r.recorder.Record(ctx, usage.Attempt{
				UserID:    userID,
				Action:    string(task),
				Provider:  entry.name,
				LatencyMs: latency,
				Success:   false,
				ErrorCode: string(providers.CodeOf(err)),
			})
			log.Warn().
				Str("task", string(task)).
				Str("provider", entry.name).
				Err(err).
				Msg("provider failed, trying next")
			continue
		}

		r.recorder.Record(ctx, usage.Attempt{
			UserID:       userID,
			Action:       string(task),
			Provider:     entry.name,
			Model:        usg.Model,
			InputTokens:  usg.InputTokens,
			OutputTokens: usg.OutputTokens,
			LatencyMs:    latency,
			Success:      true,
		})
		return result, Meta{
			Provider:   entry.name,
			Model:      usg.Model,
			IsFallback: i > 0,
			LatencyMs:  latency,
		}, nil
	}

	var zero T
	return zero, Meta{}, &Error{Task: task, Attempted: attempted, Last: lastErr}
}

// ── Identification ──────────────────────────────────────────

// Identify runs the identification chain: the dedicated identifier
// first, then the vision fallback.
func (r *Router) Identify(ctx context.Context, userID string, images []string) (*providers.IdentificationResult, Meta, error) {
	chain := []chainEntry[*providers.IdentificationResult]{
		{name: providers.ProviderPlantID, call: func(ctx context.Context) (*providers.IdentificationResult, attemptUsage, error) {
			res, err := r.plantID.Identify(ctx, images)
			return res, attemptUsage{}, err
		}},
		{name: providers.ProviderGemini, call: func(ctx context.Context) (*providers.IdentificationResult, attemptUsage, error) {
			res, err := r.gemini.Identify(ctx, images)
			return res, attemptUsage{Model: "gemini-1.5-flash"}, err
		}},
	}
	return runChain(ctx, r, userID, TaskIdentification, chain)
}

// ── Health assessment ───────────────────────────────────────

const healthFallbackPrompt = `You are a plant pathologist. Based on the symptom description, list likely issues.
Respond with ONLY a JSON object in exactly this shape:
{"healthy": false, "findings": [{"name": "...", "description": "...", "confidence": 0.0, "treatment": ["..."]}]}`

// AssessHealth runs the health chain: the identifier's health endpoint
// first, then the simple conversational model reasoning over symptoms.
func (r *Router) AssessHealth(ctx context.Context, userID string, images []string, symptoms string) (*providers.HealthResult, Meta, error) {
	chain := []chainEntry[*providers.HealthResult]{
		{name: providers.ProviderPlantID, call: func(ctx context.Context) (*providers.HealthResult, attemptUsage, error) {
			res, err := r.plantID.AssessHealth(ctx, images)
			return res, attemptUsage{}, err
		}},
		{name: providers.ProviderClaude, call: func(ctx context.Context) (*providers.HealthResult, attemptUsage, error) {
			return r.assessViaLLM(ctx, symptoms)
		}},
	}
	return runChain(ctx, r, userID, TaskHealthAssessment, chain)
}

func (r *Router) assessViaLLM(ctx context.Context, symptoms string) (*providers.HealthResult, attemptUsage, error) {
	if symptoms == "" {
		symptoms = "No description provided; the owner believes the plant looks unwell."
	}
	out, err := r.claude.Complete(ctx, providers.ChatInput{
		System: healthFallbackPrompt,
		Turns:  []providers.ChatTurn{{Role: "user", Content: symptoms}},
		Tier:   providers.TierSimple,
	})
	if err != nil {
		return nil, attemptUsage{}, err
	}

	usg := attemptUsage{
		Model:        out.Model,
		InputTokens:  &out.InputTokens,
		OutputTokens: &out.OutputTokens,
	}

	raw := providers.ExtractFirstJSONObject(out.Content)
	if raw == "" {
		return nil, usg, &providers.Error{
			Provider: providers.ProviderClaude, Code: providers.CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("no JSON object in assessment reply"),
		}
	}
	var parsed struct {
		Healthy  bool `json:"healthy"`
		Findings []struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Confidence  float64  `json:"confidence"`
			Treatment   []string `json:"treatment"`
		} `json:"findings"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, usg, &providers.Error{
			Provider: providers.ProviderClaude, Code: providers.CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("decode assessment: %w", err),
		}
	}

	result := &providers.HealthResult{Healthy: parsed.Healthy}
	for _, f := range parsed.Findings {
		result.Findings = append(result.Findings, providers.HealthFinding{
			Name:        f.Name,
			Description: f.Description,
			Confidence:  f.Confidence,
			Treatment:   f.Treatment,
		})
	}
	return result, usg, nil
}

// ── Chat ────────────────────────────────────────────────────

// Chat runs the conversational chain for the task. chat_complex degrades
// through the primary's simple tier before switching vendors, preserving
// persona continuity.
func (r *Router) Chat(ctx context.Context, userID string, task Task, in providers.ChatInput) (*providers.ChatOutput, Meta, error) {
	chatUsage := func(out *providers.ChatOutput) attemptUsage {
		return attemptUsage{
			Model:        out.Model,
			InputTokens:  &out.InputTokens,
			OutputTokens: &out.OutputTokens,
		}
	}

	claudeAt := func(tier providers.ModelTier) chainEntry[*providers.ChatOutput] {
		return chainEntry[*providers.ChatOutput]{
			name: providers.ProviderClaude,
			call: func(ctx context.Context) (*providers.ChatOutput, attemptUsage, error) {
				tierIn := in
				tierIn.Tier = tier
				out, err := r.claude.Complete(ctx, tierIn)
				if err != nil {
					return nil, attemptUsage{}, err
				}
				return out, chatUsage(out), nil
			},
		}
	}
	openaiEntry := chainEntry[*providers.ChatOutput]{
		name: providers.ProviderOpenAI,
		call: func(ctx context.Context) (*providers.ChatOutput, attemptUsage, error) {
			out, err := r.openai.Complete(ctx, in)
			if err != nil {
				return nil, attemptUsage{}, err
			}
			return out, chatUsage(out), nil
		},
	}

	var chain []chainEntry[*providers.ChatOutput]
	switch task {
	case TaskChatComplex:
		chain = []chainEntry[*providers.ChatOutput]{claudeAt(providers.TierComplex), claudeAt(providers.TierSimple), openaiEntry}
	default:
		task = TaskChatSimple
		chain = []chainEntry[*providers.ChatOutput]{claudeAt(providers.TierSimple), openaiEntry}
	}
	return runChain(ctx, r, userID, task, chain)
}

// ChatStream opens a streaming conversational call. Fallback applies
// only while establishing the stream; once the first chunk is emitted
// the stream is committed to its provider. chat_complex degrades through
// the primary's simple tier before switching vendors, mirroring the
// non-streamed chain. The ledger row is written when the stream finishes
// (successfully or not).
func (r *Router) ChatStream(ctx context.Context, userID string, task Task, in providers.ChatInput) (<-chan providers.StreamEvent, Meta, error) {
	tiers := []providers.ModelTier{providers.TierSimple}
	if task == TaskChatComplex {
		tiers = []providers.ModelTier{providers.TierComplex, providers.TierSimple}
	} else {
		task = TaskChatSimple
	}

	var attempted []string
	for i, tier := range tiers {
		in.Tier = tier
		start := time.Now()
		events, err := r.claude.Stream(ctx, in)
		if err == nil {
			return r.meterStream(ctx, userID, task, providers.ProviderClaude, start, events), Meta{
				Provider:   providers.ProviderClaude,
				Model:      r.claude.ModelFor(tier),
				IsFallback: i > 0,
			}, nil
		}

		// Unavailable before the first byte: record the failure and try
		// the next rung.
		attempted = append(attempted, providers.ProviderClaude)
		r.recorder.Record(ctx, usage.Attempt{
			UserID:    userID,
			Action:    string(task),
			Provider:  providers.ProviderClaude,
			LatencyMs: time.Since(start).Milliseconds(),
			Success:   false,
			ErrorCode: string(providers.CodeOf(err)),
		})
		log.Warn().
			Str("task", string(task)).
			Str("tier", string(tier)).
			Err(err).
			Msg("streaming primary failed, trying next")
	}

	// Degrade to a non-streamed fallback completion delivered as a
	// single chunk.
	attempted = append(attempted, providers.ProviderOpenAI)
	fallbackStart := time.Now()
	out, fbErr := retry.Do(ctx, r.retryCfg, providers.IsRetryable, func(attemptCtx context.Context) (*providers.ChatOutput, error) {
		return r.openai.Complete(attemptCtx, in)
	})
	if fbErr != nil {
		r.recorder.Record(ctx, usage.Attempt{
			UserID:    userID,
			Action:    string(task),
			Provider:  providers.ProviderOpenAI,
			LatencyMs: time.Since(fallbackStart).Milliseconds(),
			Success:   false,
			ErrorCode: string(providers.CodeOf(fbErr)),
		})
		return nil, Meta{}, &Error{
			Task:      task,
			Attempted: attempted,
			Last:      fbErr,
		}
	}

	r.recorder.Record(ctx, usage.Attempt{
		UserID:       userID,
		Action:       string(task),
		Provider:     providers.ProviderOpenAI,
		Model:        out.Model,
		InputTokens:  &out.InputTokens,
		OutputTokens: &out.OutputTokens,
		LatencyMs:    time.Since(fallbackStart).Milliseconds(),
		Success:      true,
	})

	ch := make(chan providers.StreamEvent, 2)
	ch <- providers.StreamEvent{Text: out.Content}
	ch <- providers.StreamEvent{
		Done:         true,
		Model:        out.Model,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
	}
	close(ch)
	return ch, Meta{Provider: providers.ProviderOpenAI, Model: out.Model, IsFallback: true}, nil
}

// meterStream forwards events and writes the ledger row when the stream
// terminates.
func (r *Router) meterStream(ctx context.Context, userID string, task Task, provider string, start time.Time, in <-chan providers.StreamEvent) <-chan providers.StreamEvent {
	out := make(chan providers.StreamEvent)
	go func() {
		defer close(out)
		var done bool
		for ev := range in {
			if ev.Done {
				done = true
				r.recorder.Record(ctx, usage.Attempt{
					UserID:       userID,
					Action:       string(task),
					Provider:     provider,
					Model:        ev.Model,
					InputTokens:  &ev.InputTokens,
					OutputTokens: &ev.OutputTokens,
					LatencyMs:    time.Since(start).Milliseconds(),
					Success:      true,
				})
			} else if ev.Err != nil {
				done = true
				r.recorder.Record(ctx, usage.Attempt{
					UserID:    userID,
					Action:    string(task),
					Provider:  provider,
					LatencyMs: time.Since(start).Milliseconds(),
					Success:   false,
					ErrorCode: string(providers.CodeOf(ev.Err)),
				})
			}
			out <- ev
		}
		if !done {
			// Stream ended without a terminal event (consumer context
			// cancelled or vendor hung up mid-stream).
			r.recorder.Record(ctx, usage.Attempt{
				UserID:    userID,
				Action:    string(task),
				Provider:  provider,
				LatencyMs: time.Since(start).Milliseconds(),
				Success:   false,
				ErrorCode: string(providers.CodeServiceError),
			})
		}
	}()
	return out
}

// ── Embedding ───────────────────────────────────────────────

// Embed runs the embedding task. The chain has a single provider: no
// viable cross-vendor substitute exists because vector dimensions differ.
func (r *Router) Embed(ctx context.Context, userID string, texts []string) ([][]float64, Meta, error) {
	chain := []chainEntry[[][]float64]{
		{name: providers.ProviderOpenAIEmbedding, call: func(ctx context.Context) ([][]float64, attemptUsage, error) {
			vectors, tokens, err := r.openai.Embed(ctx, texts)
			if err != nil {
				return nil, attemptUsage{}, err
			}
			return vectors, attemptUsage{Model: r.openai.EmbedModel(), InputTokens: &tokens}, nil
		}},
	}
	return runChain(ctx, r, userID, TaskEmbedding, chain)
}

// EmbedOne embeds a single string.
func (r *Router) EmbedOne(ctx context.Context, userID, text string) ([]float64, Meta, error) {
	vectors, meta, err := r.Embed(ctx, userID, []string{text})
	if err != nil {
		return nil, meta, err
	}
	return vectors[0], meta, nil
}
