package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements Provider against an OpenAI-compatible /chat/completions endpoint
type Client struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	client  *http.Client
}

// NewClient creates a new completion client
func NewClient(apiKey, model, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// ModelName returns the model being used
func (c *Client) ModelName() string {
	return c.Model
}

type completionRequest struct {
	Model      string           `json:"model"`
	Messages   []requestMessage `json:"messages"`
	Tools      []Tool           `json:"tools,omitempty"`
	ToolChoice string           `json:"tool_choice,omitempty"`
	Stream     bool             `json:"stream"`
}

type streamResponse struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string          `json:"role,omitempty"`
			Content   string          `json:"content,omitempty"`
			ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StreamCompletion calls the API and streams content and tool call deltas
func (c *Client) StreamCompletion(ctx context.Context, messages []Message, tools []Tool) (<-chan Chunk, error) {
	reqBody := completionRequest{
		Model:    c.Model,
		Messages: convertMessages(messages),
		Stream:   true,
	}
	if len(tools) > 0 {
		reqBody.Tools = tools
		reqBody.ToolChoice = "auto"
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Message: "request failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		send := func(ch Chunk) bool {
			select {
			case chunks <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				send(Chunk{Err: &ProviderError{Message: "error reading stream", Err: err}})
				return
			}
			eof := err != nil

			if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "data:")) == "[DONE]" {
				return
			}

			if data := ParseSSELine(line); data != "" {
				var sr streamResponse
				if jerr := json.Unmarshal([]byte(data), &sr); jerr != nil {
					// Skip malformed chunks
				} else if sr.Error != nil {
					send(Chunk{Err: &ProviderError{Message: sr.Error.Message}})
					return
				} else if len(sr.Choices) > 0 {
					delta := sr.Choices[0].Delta
					if delta.Content != "" || len(delta.ToolCalls) > 0 {
						if !send(Chunk{Text: delta.Content, ToolCalls: delta.ToolCalls}) {
							return
						}
					}
					if sr.Choices[0].FinishReason != nil && *sr.Choices[0].FinishReason != "" {
						return
					}
				}
			}

			if eof {
				return
			}
		}
	}()

	return chunks, nil
}

// Ensure Client implements Provider
var _ Provider = (*Client)(nil)
