package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmakarov/persona-chat/internal/core/domain"
	"github.com/dmakarov/persona-chat/internal/core/ports"
	"github.com/dmakarov/persona-chat/internal/observability/metrics"
)

type reindexPublisher interface {
	PublishCorpusReindexed(ctx context.Context, personaID string) error
}

type Router struct {
	chat      ports.ChatStreamer
	personas  ports.PersonaReader
	lexical   ports.LexicalIndex
	publisher reindexPublisher
	metrics   *metrics.HTTPServerMetrics
	log       *slog.Logger
}

func NewRouter(
	chat ports.ChatStreamer,
	personas ports.PersonaReader,
	lexical ports.LexicalIndex,
	publisher reindexPublisher,
	m *metrics.HTTPServerMetrics,
	log *slog.Logger,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		chat:      chat,
		personas:  personas,
		lexical:   lexical,
		publisher: publisher,
		metrics:   m,
		log:       log,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", rt.health)
	mux.HandleFunc("/api/personas", rt.listPersonas)
	mux.HandleFunc("/api/personas/", rt.getPersonaByID)
	mux.HandleFunc("/api/chat", rt.chatStream)
	mux.HandleFunc("/api/index/invalidate", rt.invalidateIndex)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listPersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	personas, err := rt.personas.List(r.Context())
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	summaries := make([]domain.PersonaSummary, 0, len(personas))
	for _, p := range personas {
		summaries = append(summaries, p.Summary())
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (rt *Router) getPersonaByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/personas/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "persona id is required"})
		return
	}

	persona, err := rt.personas.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, persona)
}

func (rt *Router) chatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	events, err := rt.chat.Stream(r.Context(), req)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := "completed"
	tokens := 0
	sources := 0
	for event := range events {
		if err := sse.writeEvent(event); err != nil {
			// Client went away; drain is handled by context cancellation.
			rt.log.Warn("sse_write_failed",
				"request_id", requestIDFromContext(r.Context()),
				"error", err,
			)
			status = "client_gone"
			break
		}
		switch event.Type {
		case domain.EventToken:
			tokens++
		case domain.EventSources:
			if event.Sources != nil {
				sources = len(event.Sources.Sources)
			}
		case domain.EventError:
			status = "error"
		}
	}

	if status != "client_gone" {
		if err := sse.writeDone(); err != nil {
			status = "client_gone"
		}
	}
	if rt.metrics != nil {
		rt.metrics.RecordChatStream(status, tokens, sources)
	}
}

func (rt *Router) invalidateIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		PersonaID string `json:"persona_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	if req.PersonaID == "" {
		rt.lexical.InvalidateAll()
	} else {
		rt.lexical.Invalidate(req.PersonaID)
	}
	if rt.metrics != nil {
		rt.metrics.RecordIndexInvalidation("api")
	}

	// Best effort fan-out to the other instances.
	if rt.publisher != nil {
		if err := rt.publisher.PublishCorpusReindexed(r.Context(), req.PersonaID); err != nil {
			rt.log.Warn("reindex_publish_failed",
				"request_id", requestIDFromContext(r.Context()),
				"persona_id", req.PersonaID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "invalidated"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
