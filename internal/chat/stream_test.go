package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/config"
	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/retry"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/internal/usage"
	"github.com/sproutly/sproutly/server/pkg/models"
)

func fakeClaudeStream(t *testing.T, chunks ...string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"type":"message_start","message":{"model":"claude-3-5-haiku-20241022","usage":{"input_tokens":150}}}`)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n", c)
		}
		fmt.Fprintln(w, `data: {"type":"message_delta","usage":{"output_tokens":9}}`)
		fmt.Fprintln(w, `data: {"type":"message_stop"}`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newStreamPipeline(t *testing.T, claudeURL string) (*Pipeline, *store.MemoryStoreImpl) {
	t.Helper()
	mem := store.NewMemoryStore()
	router := airouter.New(
		providers.NewPlantIDGateway("k", providers.WithPlantIDBaseURL("http://127.0.0.1:1")),
		providers.NewGeminiGateway("k", providers.WithGeminiBaseURL("http://127.0.0.1:1")),
		providers.NewClaudeGateway("k", providers.WithClaudeBaseURL(claudeURL)),
		providers.NewOpenAIGateway("k", providers.WithOpenAIBaseURL(fakeOpenAIEmbed(t))),
		usage.NewRecorder(mem),
		retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond},
	)
	budgets := config.ContextConfig{UserBudget: 200, PlantBudget: 500, HistoryBudget: 2000, MemoryBudget: 1000}
	return NewPipeline(mem, NewAssembler(mem, router, budgets, 0.5), router), mem
}

func TestChatStreamPersistsOnDone(t *testing.T) {
	p, mem := newStreamPipeline(t, fakeClaudeStream(t, "Water it ", "once a week."))
	seedUser(t, mem)

	result, err := p.ChatStream(context.Background(), "u1", models.ChatRequest{
		Message: "Watering schedule?",
	})
	require.NoError(t, err)
	assert.Equal(t, "claude", result.Provider)
	require.NotEmpty(t, result.SessionID)

	var text string
	var sawDone bool
	for ev := range result.Events {
		require.NoError(t, ev.Err)
		if ev.Done {
			sawDone = true
			assert.Equal(t, int64(150), ev.InputTokens)
			assert.Equal(t, int64(9), ev.OutputTokens)
			continue
		}
		text += ev.Text
	}
	require.True(t, sawDone)
	assert.Equal(t, "Water it once a week.", text)

	// The channel closes after persistence, so the exchange is visible.
	msgs, err := mem.ListRecentMessages(context.Background(), result.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Water it once a week.", msgs[1].Content)

	sess, err := mem.GetSession(context.Background(), "u1", result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), sess.TotalInputTokens)
	assert.Equal(t, int64(9), sess.TotalOutputTokens)
}

func TestChatStreamFallsBackWhenPrimaryDown(t *testing.T) {
	// Claude unreachable; the OpenAI fake answers both /chat/completions
	// and /embeddings.
	openaiURL := func() string {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/chat/completions":
				fmt.Fprint(w, `{"model":"gpt-4o-mini","choices":[{"message":{"content":"Full reply."}}],"usage":{"prompt_tokens":50,"completion_tokens":4}}`)
			case "/embeddings":
				fmt.Fprint(w, `{"data":[{"embedding":[1,0,0],"index":0}],"usage":{"prompt_tokens":3}}`)
			}
		}))
		t.Cleanup(srv.Close)
		return srv.URL
	}()

	mem := store.NewMemoryStore()
	router := airouter.New(
		providers.NewPlantIDGateway("k", providers.WithPlantIDBaseURL("http://127.0.0.1:1")),
		providers.NewGeminiGateway("k", providers.WithGeminiBaseURL("http://127.0.0.1:1")),
		providers.NewClaudeGateway("k", providers.WithClaudeBaseURL("http://127.0.0.1:1")),
		providers.NewOpenAIGateway("k", providers.WithOpenAIBaseURL(openaiURL)),
		usage.NewRecorder(mem),
		retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond},
	)
	budgets := config.ContextConfig{UserBudget: 200, PlantBudget: 500, HistoryBudget: 2000, MemoryBudget: 1000}
	p := NewPipeline(mem, NewAssembler(mem, router, budgets, 0.5), router)
	seedUser(t, mem)

	result, err := p.ChatStream(context.Background(), "u1", models.ChatRequest{Message: "Help?"})
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)

	var text string
	for ev := range result.Events {
		if !ev.Done {
			text += ev.Text
		}
	}
	assert.Equal(t, "Full reply.", text)
}
