package domain

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	PersonaID string        `json:"persona_id"`
	Message   string        `json:"message"`
	History   []ChatMessage `json:"conversation_history"`
}

// Citation is one numbered evidence source backing a generated answer.
// Numeric ids are 1-based and stable within a single response.
type Citation struct {
	ID      int    `json:"id"`
	Source  string `json:"source"`
	DocType string `json:"doc_type"`
	Text    string `json:"text"`
}

// SourceManifest trails the token stream when retrieval produced evidence.
type SourceManifest struct {
	Sources        []Citation `json:"sources"`
	RewrittenQuery *string    `json:"rewritten_query"`
}

type ChatEventType string

const (
	EventToken   ChatEventType = "token"
	EventSources ChatEventType = "sources"
	EventError   ChatEventType = "error"
)

// ChatEvent is one element of the response stream: token events in
// generation order, then at most one sources event, then either an error
// event or channel close.
type ChatEvent struct {
	Type    ChatEventType
	Token   string
	Sources *SourceManifest
	Err     error
}
