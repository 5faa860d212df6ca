package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sproutly/sproutly/server/internal/usage"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// PostChatStream streams a chat reply as server-sent events:
// start (session id and context), chunk (text), done (usage totals),
// error (terminal failure). Gate failures are reported as plain JSON
// errors before the stream opens.
func (h *Handlers) PostChatStream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.gate(w, r, usage.FeatureChat)
	if !ok {
		return
	}

	var req models.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		respondError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming unsupported", nil)
		return
	}

	result, err := h.Chat.ChatStream(r.Context(), user.ID, req)
	if err != nil {
		respondMapped(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, flusher, "start", map[string]interface{}{
		"sessionId":   result.SessionID,
		"provider":    result.Provider,
		"model":       result.Model,
		"contextUsed": result.Context,
	})

	for ev := range result.Events {
		switch {
		case ev.Err != nil:
			writeEvent(w, flusher, "error", map[string]interface{}{
				"code":    "AI_UNAVAILABLE",
				"message": "the reply stream was interrupted",
			})
			return
		case ev.Done:
			writeEvent(w, flusher, "done", map[string]interface{}{
				"model":        ev.Model,
				"inputTokens":  ev.InputTokens,
				"outputTokens": ev.OutputTokens,
			})
		default:
			writeEvent(w, flusher, "chunk", map[string]string{"text": ev.Text})
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// GetPhoto serves a stored photo after verifying its signed URL.
func (h *Handlers) GetPhoto(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[len("/photos/"):]
	exp, err := parseInt64(r.URL.Query().Get("exp"))
	sig := r.URL.Query().Get("sig")
	if err != nil || sig == "" || !h.Photos.Verify(key, exp, sig) {
		respondError(w, r, http.StatusForbidden, "FORBIDDEN", "invalid or expired photo link", nil)
		return
	}

	data, err := h.Photos.Open(key)
	if err != nil {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "photo not found", nil)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

func parseInt64(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
