package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderOpenAI is the ledger name of the conversational fallback vendor.
const ProviderOpenAI = "openai"

// ProviderOpenAIEmbedding is the ledger name for embedding calls.
const ProviderOpenAIEmbedding = "openai-embedding"

const (
	openAIChatModel  = "gpt-4o-mini"
	openAIEmbedModel = "text-embedding-3-small"
)

// OpenAIGateway wraps OpenAI chat completions (the conversational
// fallback) and the embedding API. Embedding has no fallback of its own:
// vectors from another vendor would have different dimensions.
type OpenAIGateway struct {
	apiKey       string
	baseURL      string
	chatTimeout  time.Duration
	embedTimeout time.Duration
	client       *http.Client
}

// OpenAIOption configures the gateway.
type OpenAIOption func(*OpenAIGateway)

// WithOpenAIBaseURL overrides the API endpoint.
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(g *OpenAIGateway) { g.baseURL = u }
}

// WithOpenAITimeouts overrides the chat and embedding call timeouts.
func WithOpenAITimeouts(chat, embed time.Duration) OpenAIOption {
	return func(g *OpenAIGateway) {
		g.chatTimeout = chat
		g.embedTimeout = embed
	}
}

// NewOpenAIGateway creates the gateway without opening any sockets.
func NewOpenAIGateway(apiKey string, opts ...OpenAIOption) *OpenAIGateway {
	g := &OpenAIGateway{
		apiKey:       apiKey,
		baseURL:      "https://api.openai.com/v1",
		chatTimeout:  15 * time.Second,
		embedTimeout: 5 * time.Second,
		client:       &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ChatModel returns the fallback chat model name.
func (g *OpenAIGateway) ChatModel() string { return openAIChatModel }

// EmbedModel returns the embedding model name.
func (g *OpenAIGateway) EmbedModel() string { return openAIEmbedModel }

type openAIChatRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete runs a conversational call with the same contract as the
// primary gateway. The tier is accepted but a single model serves both.
func (g *OpenAIGateway) Complete(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	msgs := make([]openAIMessage, 0, len(in.Turns)+1)
	if in.System != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: in.System})
	}
	for _, t := range in.Turns {
		msgs = append(msgs, openAIMessage{Role: t.Role, Content: t.Content})
	}

	reqBody := openAIChatRequest{
		Model:     openAIChatModel,
		Messages:  msgs,
		MaxTokens: in.MaxTokens,
	}

	callCtx, cancel := context.WithTimeout(ctx, g.chatTimeout)
	defer cancel()

	respBody, err := g.post(callCtx, ProviderOpenAI, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}

	var out openAIChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{
			Provider: ProviderOpenAI, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("decode response: %w", err),
		}
	}
	if len(out.Choices) == 0 {
		return nil, &Error{
			Provider: ProviderOpenAI, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("no choices in response"),
		}
	}

	model := out.Model
	if model == "" {
		model = openAIChatModel
	}
	return &ChatOutput{
		Content:      out.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int64 `json:"prompt_tokens"`
	} `json:"usage"`
}

// Embed returns one 1536-dim vector per input, in input order, plus the
// token count the vendor billed.
func (g *OpenAIGateway) Embed(ctx context.Context, texts []string) ([][]float64, int64, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.embedTimeout)
	defer cancel()

	respBody, err := g.post(callCtx, ProviderOpenAIEmbedding, "/embeddings", openAIEmbedRequest{
		Input: texts,
		Model: openAIEmbedModel,
	})
	if err != nil {
		return nil, 0, err
	}

	var out openAIEmbedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, 0, &Error{
			Provider: ProviderOpenAIEmbedding, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("decode response: %w", err),
		}
	}
	if len(out.Data) != len(texts) {
		return nil, 0, &Error{
			Provider: ProviderOpenAIEmbedding, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("expected %d vectors, got %d", len(texts), len(out.Data)),
		}
	}

	// Reorder by index
	vectors := make([][]float64, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, 0, &Error{
				Provider: ProviderOpenAIEmbedding, Code: CodeInvalidResponse, Retryable: false,
				Err: fmt.Errorf("vector index %d out of range", d.Index),
			}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, out.Usage.PromptTokens, nil
}

// EmbedOne embeds a single string.
func (g *OpenAIGateway) EmbedOne(ctx context.Context, text string) ([]float64, int64, error) {
	vectors, tokens, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vectors[0], tokens, nil
}

func (g *OpenAIGateway) post(ctx context.Context, provider, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		// OpenAI surfaces auth failures with a recognizable message too.
		if resp.StatusCode == http.StatusUnauthorized ||
			strings.Contains(strings.ToLower(string(respBody)), "invalid api key") {
			return nil, &Error{
				Provider: provider, Code: CodeAuth, Retryable: false,
				Err: fmt.Errorf("status %d", resp.StatusCode),
			}
		}
		return nil, classifyStatus(provider, resp, respBody)
	}
	return respBody, nil
}
