package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

// sseWriter emits chat events as server-sent data frames, flushing after
// every frame so tokens reach the client as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) writeEvent(event domain.ChatEvent) error {
	var payload any
	switch event.Type {
	case domain.EventToken:
		payload = map[string]string{"token": event.Token}
	case domain.EventSources:
		manifest := domain.SourceManifest{}
		if event.Sources != nil {
			manifest = *event.Sources
		}
		payload = struct {
			Type string `json:"type"`
			domain.SourceManifest
		}{Type: "sources", SourceManifest: manifest}
	case domain.EventError:
		message := "generation failed"
		if event.Err != nil {
			message = event.Err.Error()
		}
		payload = map[string]string{"error": message}
	default:
		return fmt.Errorf("unknown chat event type %q", event.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeDone() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
