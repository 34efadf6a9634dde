package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quantbay/agentd/internal/sessions"
	"github.com/quantbay/agentd/internal/stream"
	"github.com/quantbay/agentd/pkg/models"
)

// assistantTextKey is the plan field streamed to SSE clients as it arrives.
const assistantTextKey = "assistant_text"

// handleChatStream runs the chat pipeline in the background while relaying
// progressive assistant text over SSE. Errors surface as error events; the
// stream itself always ends cleanly.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, apiErr := s.decodeChatRequest(r)
	if apiErr != nil {
		s.recordChat("chat_stream", "error", start)
		writeAPIError(w, apiErr)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.recordChat("chat_stream", "error", start)
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = sessions.NewSessionID()
	}
	req.SessionID = sessionID

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher}
	sse.comment("connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The extractor pulls assistant_text characters out of the model's raw
	// JSON as it streams; decoded characters flow through deltaCh.
	extractor := stream.NewFieldExtractor(assistantTextKey)
	deltaCh := make(chan string, 256)
	var deltaMu sync.Mutex
	onDelta := func(raw string) {
		deltaMu.Lock()
		decoded := extractor.Feed(raw)
		deltaMu.Unlock()
		if decoded != "" {
			select {
			case deltaCh <- decoded:
			case <-ctx.Done():
			}
		}
	}

	type chatResult struct {
		resp *models.ChatResponse
		err  *apiError
	}
	resultCh := make(chan chatResult, 1)
	go func() {
		resp, err := s.runChat(ctx, req, onDelta)
		resultCh <- chatResult{resp: resp, err: err}
	}()

	keepalive := newTicker(s.cfg.StreamKeepalive)
	defer keepalive.Stop()
	deadline := time.NewTimer(s.cfg.StreamTotalTimeout)
	defer deadline.Stop()

	sequence := 0
	emit := func(delta string) {
		sse.event("chunk", models.StreamChunkEvent{
			SessionID: sessionID,
			Sequence:  sequence,
			DeltaText: delta,
		})
		sequence++
	}

	for {
		select {
		case <-ctx.Done():
			s.recordChat("chat_stream", "error", start)
			return

		case <-keepalive.C:
			sse.comment("keep-alive")

		case <-deadline.C:
			cancel()
			sse.event("error", models.StreamErrorEvent{
				SessionID: sessionID,
				Code:      codeUpstreamTimeout,
				Message:   "stream exceeded the total time budget",
			})
			s.recordChat("chat_stream", codeUpstreamTimeout, start)
			return

		case delta := <-deltaCh:
			emit(delta)

		case result := <-resultCh:
			// Drain whatever the extractor produced before completion.
			for {
				select {
				case delta := <-deltaCh:
					emit(delta)
					continue
				default:
				}
				break
			}

			if result.err != nil {
				code := result.err.envelope.Code
				if result.err.unclassified {
					code = codeStreamError
				}
				sse.event("error", models.StreamErrorEvent{
					SessionID: sessionID,
					Code:      code,
					Message:   result.err.envelope.Message,
				})
				s.recordChat("chat_stream", code, start)
				return
			}

			// Nothing streamed (buy fast-path, non-streaming provider, plan
			// without the key): chunk the final text ourselves.
			if sequence == 0 {
				s.chunkFallback(ctx, result.resp.AssistantText, emit)
			}

			sse.event("done", result.resp)
			if s.metrics != nil && sequence > 0 {
				s.metrics.StreamChunks.Add(float64(sequence))
			}
			s.recordChat("chat_stream", "success", start)
			return
		}
	}
}

// chunkFallback splits text into fixed-size rune chunks with the configured
// delay between them.
func (s *Server) chunkFallback(ctx context.Context, text string, emit func(string)) {
	size := s.cfg.StreamChunkSize
	if size <= 0 {
		size = 12
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		emit(string(runes[i:end]))

		if s.cfg.StreamDelay > 0 && end < len(runes) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.StreamDelay):
			}
		}
	}
}

// sseWriter serializes SSE frames. Methods are only called from the handler
// goroutine.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}

func (s *sseWriter) event(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.flusher.Flush()
}

// newTicker returns a ticker that never fires when the interval is
// non-positive.
func newTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		// Effectively disabled.
		interval = 24 * time.Hour
	}
	return time.NewTicker(interval)
}
