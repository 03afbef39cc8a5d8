package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPCaller speaks the OpenAI-compatible chat-completions wire format, which
// covers hosted vendors and local inference servers alike. The persona is sent
// as the system message and the case context as the user message.
type HTTPCaller struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewHTTPCaller creates a caller against an OpenAI-compatible endpoint.
func NewHTTPCaller(endpoint, apiKey, model string) *HTTPCaller {
	return &HTTPCaller{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Call sends the persona as the system message and the case context as the
// user message. The stage hint is routing metadata; backend selection per
// stage is the Router's job, so the configured model is always used.
func (c *HTTPCaller) Call(ctx context.Context, persona, ctxPrompt, _ string) (*Result, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: persona},
			{Role: "user", Content: ctxPrompt},
		},
		// Strict determinism for clinical reasoning.
		Temperature: 0.0,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrModelUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrModelUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrModelUnavailable)
	}

	text := parsed.Choices[0].Message.Content
	return &Result{Text: text, Structured: ParseStructured(text)}, nil
}
