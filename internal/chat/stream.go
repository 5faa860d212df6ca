package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// StreamResult is the handle a streaming consumer drives.
type StreamResult struct {
	SessionID string
	Provider  string
	Model     string
	Context   models.ContextUsed

	// Events delivers chunks in order; the channel closes after the
	// terminal event.
	Events <-chan providers.StreamEvent
}

// ChatStream runs a streamed exchange. Persistence happens only when
// the stream completes: an aborted stream leaves the session untouched,
// so retrying the message cannot produce a half-written exchange.
func (p *Pipeline) ChatStream(ctx context.Context, userID string, req models.ChatRequest) (*StreamResult, error) {
	sess, _, err := p.session(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	plantID := req.PlantID
	if plantID == "" {
		plantID = sess.PlantID
	}

	assembled, err := p.assembler.Assemble(ctx, userID, plantID, nonEmptySession(req.SessionID, sess), req.Message)
	if err != nil {
		return nil, err
	}

	task := taskFor(req.Message, assembled)
	events, meta, err := p.router.ChatStream(ctx, userID, task, providers.ChatInput{
		System: assembled.System,
		Turns:  assembled.Turns,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan providers.StreamEvent)
	go func() {
		defer close(out)
		var content strings.Builder
		for ev := range events {
			if ev.Done {
				pctx, cancel := persistCtx(ctx)
				if err := p.persistExchange(pctx, sess, userID, req.Message,
					content.String(), ev.Model, meta.Provider, ev.InputTokens, ev.OutputTokens); err != nil {
					log.Error().Err(err).Str("session", sess.ID).Msg("persisting streamed exchange failed")
				}
				cancel()
			} else if ev.Err == nil {
				content.WriteString(ev.Text)
			}
			out <- ev
		}
	}()

	return &StreamResult{
		SessionID: sess.ID,
		Provider:  meta.Provider,
		Model:     meta.Model,
		Context:   assembled.Used,
		Events:    out,
	}, nil
}

// persistCtx detaches the write from the request context so a client
// that disconnects right after the final chunk does not lose the
// exchange, while keeping a hard bound on the write.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
