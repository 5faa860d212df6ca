package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderClaude is the ledger name of the conversational primary vendor.
const ProviderClaude = "claude"

const anthropicVersion = "2023-06-01"

// Model names per tier.
const (
	claudeSimpleModel  = "claude-3-5-haiku-20241022"
	claudeComplexModel = "claude-sonnet-4-20250514"
)

// ClaudeGateway wraps the Anthropic Messages API, supporting two model
// tiers selected per call and a streaming variant.
type ClaudeGateway struct {
	apiKey         string
	baseURL        string
	simpleTimeout  time.Duration
	complexTimeout time.Duration
	client         *http.Client
}

// ClaudeOption configures the gateway.
type ClaudeOption func(*ClaudeGateway)

// WithClaudeBaseURL overrides the API endpoint.
func WithClaudeBaseURL(u string) ClaudeOption {
	return func(g *ClaudeGateway) { g.baseURL = u }
}

// WithClaudeTimeouts overrides the per-tier call timeouts.
func WithClaudeTimeouts(simple, complex time.Duration) ClaudeOption {
	return func(g *ClaudeGateway) {
		g.simpleTimeout = simple
		g.complexTimeout = complex
	}
}

// NewClaudeGateway creates the gateway without opening any sockets.
func NewClaudeGateway(apiKey string, opts ...ClaudeOption) *ClaudeGateway {
	g := &ClaudeGateway{
		apiKey:         apiKey,
		baseURL:        "https://api.anthropic.com",
		simpleTimeout:  15 * time.Second,
		complexTimeout: 30 * time.Second,
		client:         &http.Client{}, // per-call timeout via context
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ModelFor maps a tier to the concrete model name.
func (g *ClaudeGateway) ModelFor(tier ModelTier) string {
	if tier == TierComplex {
		return claudeComplexModel
	}
	return claudeSimpleModel
}

func (g *ClaudeGateway) timeoutFor(tier ModelTier) time.Duration {
	if tier == TierComplex {
		return g.complexTimeout
	}
	return g.simpleTimeout
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func toClaudeMessages(turns []ChatTurn) []claudeMessage {
	msgs := make([]claudeMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, claudeMessage{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// Complete runs a non-streaming conversational call.
func (g *ClaudeGateway) Complete(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody := claudeRequest{
		Model:     g.ModelFor(in.Tier),
		System:    in.System,
		Messages:  toClaudeMessages(in.Turns),
		MaxTokens: maxTokens,
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeoutFor(in.Tier))
	defer cancel()

	resp, err := g.do(callCtx, reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ProviderClaude, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(ProviderClaude, resp, respBody)
	}

	var out claudeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{
			Provider: ProviderClaude, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("decode response: %w", err),
		}
	}

	var content strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			content.WriteString(c.Text)
		}
	}

	return &ChatOutput{
		Content:      content.String(),
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

// Stream runs a streaming conversational call. Chunks are delivered on
// the returned channel in emission order; the final event has Done set
// and total usage. The channel is closed after the final event. Errors
// before the first byte are returned directly; mid-stream failures are
// delivered as an event with Err set.
func (g *ClaudeGateway) Stream(ctx context.Context, in ChatInput) (<-chan StreamEvent, error) {
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody := claudeRequest{
		Model:     g.ModelFor(in.Tier),
		System:    in.System,
		Messages:  toClaudeMessages(in.Turns),
		MaxTokens: maxTokens,
		Stream:    true,
	}

	// Streaming responses outlive a single-call deadline; the request
	// context still bounds the whole stream.
	resp, err := g.do(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyStatus(ProviderClaude, resp, respBody)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		var model string
		var inputTokens, outputTokens int64

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var ev struct {
				Type    string `json:"type"`
				Message struct {
					Model string `json:"model"`
					Usage struct {
						InputTokens int64 `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Usage struct {
					OutputTokens int64 `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue // ignore unparseable keep-alives
			}

			switch ev.Type {
			case "message_start":
				model = ev.Message.Model
				inputTokens = ev.Message.Usage.InputTokens
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					select {
					case events <- StreamEvent{Text: ev.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if ev.Usage.OutputTokens > 0 {
					outputTokens = ev.Usage.OutputTokens
				}
			case "message_stop":
				events <- StreamEvent{
					Done:         true,
					Model:        model,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			events <- StreamEvent{Err: classifyTransport(ProviderClaude, err)}
		}
	}()

	return events, nil
}

func (g *ClaudeGateway) do(ctx context.Context, reqBody claudeRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("claude: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("claude: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ProviderClaude, err)
	}
	return resp, nil
}
