package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

// Client talks to a Chroma server over its REST API. Collections are keyed
// by persona id; the server computes embeddings for text queries with the
// collection's configured embedding function.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	collections map[string]string // persona id -> collection uuid
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		collections: make(map[string]string),
	}
}

func (c *Client) Query(ctx context.Context, personaID, query string, topK int) ([]domain.ScoredDocument, error) {
	collectionID, err := c.ensureCollection(ctx, personaID)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]any{
		"query_texts": []string{query},
		"n_results":   topK,
		"include":     []string{"documents", "metadatas", "distances"},
	}

	var queryResp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/query", collectionID)
	if err := c.postJSON(ctx, path, reqBody, &queryResp, "query"); err != nil {
		return nil, err
	}
	if len(queryResp.IDs) == 0 {
		return nil, nil
	}

	ids := queryResp.IDs[0]
	out := make([]domain.ScoredDocument, 0, len(ids))
	for i, id := range ids {
		doc := domain.ScoredDocument{Rank: i}
		doc.ID = id
		if len(queryResp.Documents) > 0 && i < len(queryResp.Documents[0]) {
			doc.Content = queryResp.Documents[0][i]
		}
		if len(queryResp.Metadatas) > 0 && i < len(queryResp.Metadatas[0]) {
			doc.Metadata = decodeMetadata(queryResp.Metadatas[0][i], personaID)
		}
		if len(queryResp.Distances) > 0 && i < len(queryResp.Distances[0]) {
			// Cosine distance to similarity.
			doc.Score = 1 - queryResp.Distances[0][i]
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Client) FetchAll(ctx context.Context, personaID string) ([]domain.Document, error) {
	collectionID, err := c.ensureCollection(ctx, personaID)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]any{
		"include": []string{"documents", "metadatas"},
	}

	var getResp struct {
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/get", collectionID)
	if err := c.postJSON(ctx, path, reqBody, &getResp, "get"); err != nil {
		return nil, err
	}

	out := make([]domain.Document, 0, len(getResp.IDs))
	for i, id := range getResp.IDs {
		doc := domain.Document{ID: id}
		if i < len(getResp.Documents) {
			doc.Content = getResp.Documents[i]
		}
		if i < len(getResp.Metadatas) {
			doc.Metadata = decodeMetadata(getResp.Metadatas[i], personaID)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, personaID string) (string, error) {
	c.mu.Lock()
	collectionID, ok := c.collections[personaID]
	c.mu.Unlock()
	if ok {
		return collectionID, nil
	}

	reqBody := map[string]any{
		"name":          personaID,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}

	var createResp struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/api/v1/collections", reqBody, &createResp, "ensure collection"); err != nil {
		return "", err
	}
	if createResp.ID == "" {
		return "", fmt.Errorf("chroma ensure collection: empty collection id for %s", personaID)
	}

	c.mu.Lock()
	c.collections[personaID] = createResp.ID
	c.mu.Unlock()
	return createResp.ID, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chroma %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(respBody)); msg != "" {
			return fmt.Errorf("chroma %s status: %s: %s", operation, resp.Status, msg)
		}
		return fmt.Errorf("chroma %s status: %s", operation, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func decodeMetadata(payload map[string]any, personaID string) domain.DocumentMetadata {
	meta := domain.DocumentMetadata{
		Source:    getStringPayload(payload, "source"),
		DocType:   getStringPayload(payload, "doc_type"),
		PersonaID: getStringPayload(payload, "persona_id"),
	}
	if meta.PersonaID == "" {
		meta.PersonaID = personaID
	}
	return meta
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
