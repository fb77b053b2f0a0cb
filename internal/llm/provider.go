package llm

import (
	"context"
	"fmt"
)

// Roles used in a conversation
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message as the completion API sees it
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Chunk is one fragment of a streamed completion. A chunk carries content text,
// tool-call deltas, or a terminal error.
type Chunk struct {
	Text      string
	ToolCalls []ToolCallDelta
	Err       error
}

// Provider is the interface for completion backends
type Provider interface {
	// StreamCompletion streams a completion for messages. When tools is empty the
	// request carries no tools parameter at all. The returned channel is closed when
	// the stream ends; a chunk with Err set is always the last one.
	StreamCompletion(ctx context.Context, messages []Message, tools []Tool) (<-chan Chunk, error)
}

// ProviderError reports a failure of the completion API itself
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("completion API: %s: %v", e.Message, e.Err)
	default:
		return "completion API: " + e.Message
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }
