// Package providers implements one gateway per external AI vendor. Each
// gateway normalizes the vendor's request/response shapes, enforces its
// per-call timeout, and classifies failures as retryable or terminal for
// the router's retry harness.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UserAgent identifies the service on outbound vendor calls.
const UserAgent = "sproutly-server/0.4"

// MaxImageBytes is the max decoded size of a single image (10 MiB).
const MaxImageBytes = 10 << 20

// ── Error classification ─────────────────────────────────────

// ErrorCode classifies a gateway failure.
type ErrorCode string

const (
	CodeAuth            ErrorCode = "AUTH"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeServiceError    ErrorCode = "SERVICE_ERROR"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeNoMatch         ErrorCode = "NO_MATCH"
	CodeInvalidResponse ErrorCode = "INVALID_RESPONSE"
)

// Error is a classified gateway failure consumed by the retry harness.
type Error struct {
	Provider  string
	Code      ErrorCode
	Retryable bool

	// RetryAfter is set from a 429 Retry-After header when present.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfterHint exposes the vendor-requested wait to the retry harness;
// zero when the vendor did not send one.
func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }

// IsRetryable reports whether err is a retryable gateway failure.
// Unclassified errors are treated as retryable service errors.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// CodeOf extracts the classification code, defaulting to SERVICE_ERROR.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeServiceError
}

// classifyTransport maps a transport-level failure (connection refused,
// DNS, local timeout) to a classified error.
func classifyTransport(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: provider, Code: CodeTimeout, Retryable: true, Err: err}
	}
	return &Error{Provider: provider, Code: CodeServiceError, Retryable: true, Err: err}
}

// classifyStatus maps a non-2xx HTTP response to a classified error.
func classifyStatus(provider string, resp *http.Response, body []byte) *Error {
	msg := strings.ToLower(string(body))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		strings.Contains(msg, "invalid api key"):
		return &Error{
			Provider: provider, Code: CodeAuth, Retryable: false,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Provider: provider, Code: CodeRateLimit, Retryable: true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("status 429"),
		}
	default:
		return &Error{
			Provider: provider, Code: CodeServiceError, Retryable: true,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ── Image normalization ─────────────────────────────────────

// NormalizeImage strips an optional data-URI prefix from a base64 image.
// Idempotent: normalizing twice yields the same string.
func NormalizeImage(b64 string) string {
	if strings.HasPrefix(b64, "data:") {
		if idx := strings.Index(b64, ","); idx >= 0 {
			return b64[idx+1:]
		}
	}
	return b64
}

// EstimatedDecodedSize returns ⌈len(b64)·0.75⌉, the approximate decoded
// byte count of a base64 payload.
func EstimatedDecodedSize(b64 string) int {
	return (len(b64)*3 + 3) / 4
}

// NormalizeImages normalizes a batch in order.
func NormalizeImages(images []string) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = NormalizeImage(img)
	}
	return out
}

// ── Shared result shapes ─────────────────────────────────────

// SpeciesCandidate is one identification suggestion. Fields absent from
// the vendor payload default explicitly: strings to "Unknown", slices to
// empty, confidence to 0.
type SpeciesCandidate struct {
	ScientificName   string
	CommonNames      []string
	Family           string
	Genus            string
	Confidence       float64
	SimilarImageURL  string
	PlantIDSpeciesID string
	Description      string
	Toxicity         string
}

// IdentificationResult is the normalized output of an identification call.
type IdentificationResult struct {
	IsPlant      bool
	Top          SpeciesCandidate
	Alternatives []SpeciesCandidate
}

// HealthFinding is one normalized health-assessment suggestion.
type HealthFinding struct {
	Name        string
	Description string
	Confidence  float64
	Treatment   []string
}

// HealthResult is the normalized output of a health assessment call.
type HealthResult struct {
	Healthy  bool
	Findings []HealthFinding
}

// ── Chat shapes ─────────────────────────────────────────────

// ModelTier selects the conversational model size.
type ModelTier string

const (
	TierSimple  ModelTier = "simple"
	TierComplex ModelTier = "complex"
)

// ChatTurn is one entry of the ordered conversation.
type ChatTurn struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatInput is the normalized request for a conversational call.
type ChatInput struct {
	System    string
	Turns     []ChatTurn
	Tier      ModelTier
	MaxTokens int
}

// ChatOutput is the normalized conversational result.
type ChatOutput struct {
	Content      string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// StreamEvent is one element of a streaming chat response. Events arrive
// in emission order; the final event has Done set and carries total usage.
type StreamEvent struct {
	Text         string
	Done         bool
	Model        string
	InputTokens  int64
	OutputTokens int64
	Err          error
}
