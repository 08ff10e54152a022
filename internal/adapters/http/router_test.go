package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

type chatStreamerFake struct {
	events []domain.ChatEvent
	err    error
	gotReq domain.ChatRequest
}

func (f *chatStreamerFake) Stream(_ context.Context, req domain.ChatRequest) (<-chan domain.ChatEvent, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan domain.ChatEvent, len(f.events))
	for _, event := range f.events {
		out <- event
	}
	close(out)
	return out, nil
}

type personaReaderFake struct {
	personas map[string]*domain.Persona
}

func (f *personaReaderFake) GetByID(_ context.Context, id string) (*domain.Persona, error) {
	p, ok := f.personas[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrPersonaNotFound, "get persona", errors.New("id "+id))
	}
	return p, nil
}

func (f *personaReaderFake) List(context.Context) ([]domain.Persona, error) {
	out := make([]domain.Persona, 0, len(f.personas))
	for _, p := range f.personas {
		out = append(out, *p)
	}
	return out, nil
}

type lexicalFake struct {
	invalidated    []string
	invalidatedAll int
}

func (f *lexicalFake) Search(context.Context, string, string, int) ([]domain.ScoredDocument, error) {
	return nil, nil
}
func (f *lexicalFake) Invalidate(personaID string) { f.invalidated = append(f.invalidated, personaID) }
func (f *lexicalFake) InvalidateAll()              { f.invalidatedAll++ }

type publisherFake struct {
	published []string
	err       error
}

func (f *publisherFake) PublishCorpusReindexed(_ context.Context, personaID string) error {
	f.published = append(f.published, personaID)
	return f.err
}

func testRouter(chat *chatStreamerFake, lexical *lexicalFake, publisher *publisherFake) http.Handler {
	personas := &personaReaderFake{personas: map[string]*domain.Persona{
		"ada": {ID: "ada", Name: "Ada Lovelace", Title: "Mathematician", SystemPrompt: "You are Ada."},
	}}
	var pub reindexPublisher
	if publisher != nil {
		pub = publisher
	}
	rt := NewRouter(chat, personas, lexical, pub, nil, nil)
	return rt.Handler()
}

func TestHealthEndpoint(t *testing.T) {
	handler := testRouter(&chatStreamerFake{}, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListPersonasReturnsSummaries(t *testing.T) {
	handler := testRouter(&chatStreamerFake{}, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var summaries []domain.PersonaSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != "ada" {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
	if strings.Contains(rec.Body.String(), "You are Ada.") {
		t.Fatalf("expected system prompt omitted from summaries")
	}
}

func TestGetPersonaByIDNotFound(t *testing.T) {
	handler := testRouter(&chatStreamerFake{}, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas/ghost", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestChatInvalidJSONIsBadRequest(t *testing.T) {
	handler := testRouter(&chatStreamerFake{}, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{broken"))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatStreamErrorMappedBeforeStreaming(t *testing.T) {
	chat := &chatStreamerFake{err: domain.WrapError(domain.ErrInvalidInput, "chat stream", errors.New("message is required"))}
	handler := testRouter(chat, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"persona_id":"ada","message":""}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatStreamsEventsAsSSE(t *testing.T) {
	rewritten := "rewritten query"
	chat := &chatStreamerFake{events: []domain.ChatEvent{
		{Type: domain.EventToken, Token: "Hel"},
		{Type: domain.EventToken, Token: "lo"},
		{Type: domain.EventSources, Sources: &domain.SourceManifest{
			Sources:        []domain.Citation{{ID: 1, Source: "Notes", DocType: "essay", Text: "excerpt"}},
			RewrittenQuery: &rewritten,
		}},
	}}
	handler := testRouter(chat, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"persona_id":"ada","message":"hi","conversation_history":[{"role":"user","content":"earlier"}]}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", got)
	}

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %q", len(frames), body)
	}
	if frames[0] != `data: {"token":"Hel"}` || frames[1] != `data: {"token":"lo"}` {
		t.Fatalf("unexpected token frames: %q, %q", frames[0], frames[1])
	}
	if !strings.Contains(frames[2], `"type":"sources"`) ||
		!strings.Contains(frames[2], `"rewritten_query":"rewritten query"`) ||
		!strings.Contains(frames[2], `"source":"Notes"`) {
		t.Fatalf("unexpected sources frame: %q", frames[2])
	}
	if frames[3] != "data: [DONE]" {
		t.Fatalf("expected DONE terminator, got %q", frames[3])
	}

	if chat.gotReq.PersonaID != "ada" || len(chat.gotReq.History) != 1 {
		t.Fatalf("unexpected decoded request %+v", chat.gotReq)
	}
}

func TestChatErrorEventStreamed(t *testing.T) {
	chat := &chatStreamerFake{events: []domain.ChatEvent{
		{Type: domain.EventError, Err: errors.New("generation failed: backend down")},
	}}
	handler := testRouter(chat, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"persona_id":"ada","message":"hi"}`))
	handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"error":"generation failed: backend down"}`) {
		t.Fatalf("expected error frame, got %q", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("expected DONE terminator after error, got %q", body)
	}
}

func TestInvalidateIndexForPersona(t *testing.T) {
	lexical := &lexicalFake{}
	publisher := &publisherFake{}
	handler := testRouter(&chatStreamerFake{}, lexical, publisher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/index/invalidate", strings.NewReader(`{"persona_id":"ada"}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(lexical.invalidated) != 1 || lexical.invalidated[0] != "ada" {
		t.Fatalf("expected persona invalidation, got %v", lexical.invalidated)
	}
	if len(publisher.published) != 1 || publisher.published[0] != "ada" {
		t.Fatalf("expected reindex publication, got %v", publisher.published)
	}
}

func TestInvalidateIndexEmptyBodyClearsAll(t *testing.T) {
	lexical := &lexicalFake{}
	handler := testRouter(&chatStreamerFake{}, lexical, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/index/invalidate", nil)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if lexical.invalidatedAll != 1 {
		t.Fatalf("expected full invalidation, got %d", lexical.invalidatedAll)
	}
}

func TestRequestIDHeaderPropagated(t *testing.T) {
	handler := testRouter(&chatStreamerFake{}, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := testRouter(&chatStreamerFake{}, &lexicalFake{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
