package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/providers"
)

func TestOpenAICompleteMapsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		msgs := req["messages"].([]interface{})
		first := msgs[0].(map[string]interface{})
		assert.Equal(t, "system", first["role"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"message": map[string]string{"content": "Mist it weekly."},
			}},
			"usage": map[string]int{"prompt_tokens": 80, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	g := providers.NewOpenAIGateway("test-key", providers.WithOpenAIBaseURL(srv.URL))
	out, err := g.Complete(context.Background(), providers.ChatInput{
		System: "be brief",
		Turns:  []providers.ChatTurn{{Role: "user", Content: "humidity?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Mist it weekly.", out.Content)
	assert.Equal(t, "gpt-4o-mini", out.Model)
	assert.Equal(t, int64(80), out.InputTokens)
	assert.Equal(t, int64(5), out.OutputTokens)
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	g := providers.NewOpenAIGateway("test-key", providers.WithOpenAIBaseURL(srv.URL))
	_, err := g.Complete(context.Background(), providers.ChatInput{
		Turns: []providers.ChatTurn{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, providers.CodeInvalidResponse, providers.CodeOf(err))
	assert.False(t, providers.IsRetryable(err))
}

func TestOpenAIEmbedReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{0.2, 0.2}, "index": 1},
				{"embedding": []float64{0.1, 0.1}, "index": 0},
			},
			"usage": map[string]int{"prompt_tokens": 12},
		})
	}))
	defer srv.Close()

	g := providers.NewOpenAIGateway("test-key", providers.WithOpenAIBaseURL(srv.URL))
	vectors, tokens, err := g.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), tokens)
	assert.Equal(t, []float64{0.1, 0.1}, vectors[0])
	assert.Equal(t, []float64{0.2, 0.2}, vectors[1])
}

func TestOpenAIEmbedLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{0.1}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	g := providers.NewOpenAIGateway("test-key", providers.WithOpenAIBaseURL(srv.URL))
	_, _, err := g.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, providers.CodeInvalidResponse, providers.CodeOf(err))
}

func TestOpenAIEmbedEmptyInputSkipsNetwork(t *testing.T) {
	g := providers.NewOpenAIGateway("test-key", providers.WithOpenAIBaseURL("http://127.0.0.1:1"))
	vectors, tokens, err := g.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Zero(t, tokens)
}

func TestOpenAIAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Incorrect API key provided"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := providers.NewOpenAIGateway("bad-key", providers.WithOpenAIBaseURL(srv.URL))
	_, err := g.Complete(context.Background(), providers.ChatInput{
		Turns: []providers.ChatTurn{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, providers.CodeAuth, providers.CodeOf(err))
	assert.False(t, providers.IsRetryable(err))
}
