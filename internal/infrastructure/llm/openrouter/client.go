package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmakarov/persona-chat/internal/core/domain"
	"github.com/dmakarov/persona-chat/internal/core/ports"
	"github.com/dmakarov/persona-chat/internal/infrastructure/resilience"
)

const streamBufferSize = 16

// Client speaks the OpenAI-compatible chat-completions protocol used by
// OpenRouter and similar gateways. Non-streaming calls go through the
// resilience executor; streams get exactly one attempt.
type Client struct {
	baseURL string
	apiKey  string
	model   string

	httpClient *http.Client
	// Streams outlive any sane request timeout; cancellation comes from ctx.
	streamClient *http.Client

	executor *resilience.Executor
}

func New(baseURL, apiKey, model string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		executor:     executor,
	}
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	Stream      bool                 `json:"stream"`
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error) {
	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var content string
	call := func(callCtx context.Context) error {
		var response struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := c.postJSON(callCtx, reqBody, &response); err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			return fmt.Errorf("completion response has no choices")
		}
		content = response.Choices[0].Message.Content
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "llm.complete", call, classifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("complete", err)
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) CompleteStream(ctx context.Context, messages []domain.ChatMessage, temperature float64, maxTokens int) (<-chan ports.CompletionChunk, error) {
	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm stream request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, formatHTTPError("stream", resp)
	}

	chunks := make(chan ports.CompletionChunk, streamBufferSize)
	go c.readStream(ctx, resp.Body, chunks)
	return chunks, nil
}

// readStream decodes server-sent completion chunks until [DONE], a decode
// failure, or context cancellation. The response body is always released.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, chunks chan<- ports.CompletionChunk) {
	defer close(chunks)
	defer body.Close()

	done := false
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			done = true
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.deliver(ctx, chunks, ports.CompletionChunk{Err: fmt.Errorf("decode stream chunk: %w", err)})
			return
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if !c.deliver(ctx, chunks, ports.CompletionChunk{Content: chunk.Choices[0].Delta.Content}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		c.deliver(ctx, chunks, ports.CompletionChunk{Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	if !done {
		c.deliver(ctx, chunks, ports.CompletionChunk{Err: fmt.Errorf("stream ended before completion")})
	}
}

func (c *Client) deliver(ctx context.Context, chunks chan<- ports.CompletionChunk, chunk ports.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal complete request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create complete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm complete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return formatHTTPError("complete", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode complete response: %w", err)
	}
	return nil
}

func formatHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}
