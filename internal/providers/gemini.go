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

// ProviderGemini is the ledger name of the vision fallback vendor.
const ProviderGemini = "gemini"

// geminiModel is the vision model used for identification fallback.
const geminiModel = "gemini-1.5-flash"

// geminiIdentifyPrompt instructs the model to emit a strict JSON object.
const geminiIdentifyPrompt = `You are a botanist. Identify the plant in the image(s).
Respond with ONLY a JSON object, no prose, in exactly this shape:
{"scientificName": "...", "commonNames": ["..."], "family": "...", "genus": "...", "confidence": 0.0}
confidence is your certainty between 0 and 1. If no plant is visible, use confidence 0.`

// GeminiGateway is the vision fallback: a general multimodal model asked
// to identify plants when the dedicated identifier is unavailable.
type GeminiGateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// GeminiOption configures the gateway.
type GeminiOption func(*GeminiGateway)

// WithGeminiBaseURL overrides the API endpoint.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *GeminiGateway) { g.baseURL = u }
}

// WithGeminiTimeout overrides the per-call timeout.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(g *GeminiGateway) { g.client.Timeout = d }
}

// NewGeminiGateway creates the gateway without opening any sockets.
func NewGeminiGateway(apiKey string, opts ...GeminiOption) *GeminiGateway {
	g := &GeminiGateway{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// geminiIdentification is the strict JSON shape the prompt requests.
type geminiIdentification struct {
	ScientificName string   `json:"scientificName"`
	CommonNames    []string `json:"commonNames"`
	Family         string   `json:"family"`
	Genus          string   `json:"genus"`
	Confidence     float64  `json:"confidence"`
}

// Identify asks the vision model to identify the plant. A malformed model
// reply yields a sentinel low-confidence result, never an error: parse
// failure on a 200 response is not a vendor outage.
func (g *GeminiGateway) Identify(ctx context.Context, images []string) (*IdentificationResult, error) {
	var req geminiRequest
	req.Contents = make([]struct {
		Parts []geminiPart `json:"parts"`
	}, 1)
	req.Contents[0].Parts = append(req.Contents[0].Parts, geminiPart{Text: geminiIdentifyPrompt})
	for _, img := range NormalizeImages(images) {
		req.Contents[0].Parts = append(req.Contents[0].Parts, geminiPart{
			InlineData: &geminiInlineData{MimeType: "image/jpeg", Data: img},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, geminiModel)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	httpReq.Header.Set("User-Agent", UserAgent)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ProviderGemini, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ProviderGemini, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(ProviderGemini, resp, respBody)
	}

	var out geminiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{
			Provider: ProviderGemini, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("decode response: %w", err),
		}
	}

	var text string
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text += p.Text
		}
	}

	parsed := parseGeminiIdentification(text)
	return &IdentificationResult{
		IsPlant: parsed.Confidence > 0,
		Top: SpeciesCandidate{
			ScientificName: parsed.ScientificName,
			CommonNames:    parsed.CommonNames,
			Family:         parsed.Family,
			Genus:          parsed.Genus,
			Confidence:     parsed.Confidence,
		},
		// The vision model emits a single answer; no alternatives exist.
	}, nil
}

// parseGeminiIdentification extracts the first JSON object from the model
// reply, tolerating Markdown code fences and surrounding prose. On any
// parse failure it returns the sentinel low-confidence identification.
func parseGeminiIdentification(text string) geminiIdentification {
	sentinel := geminiIdentification{
		ScientificName: "Unknown",
		CommonNames:    []string{},
		Family:         "Unknown",
		Genus:          "Unknown",
		Confidence:     0,
	}

	raw := ExtractFirstJSONObject(text)
	if raw == "" {
		return sentinel
	}

	var parsed geminiIdentification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return sentinel
	}
	if parsed.ScientificName == "" {
		parsed.ScientificName = "Unknown"
	}
	if parsed.Family == "" {
		parsed.Family = "Unknown"
	}
	if parsed.Genus == "" {
		parsed.Genus = "Unknown"
	}
	if parsed.CommonNames == nil {
		parsed.CommonNames = []string{}
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return parsed
}

// ExtractFirstJSONObject returns the first balanced {...} span in s,
// or "" when none exists. Braces inside JSON strings are skipped.
func ExtractFirstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
