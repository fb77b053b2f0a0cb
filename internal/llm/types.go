package llm

import (
	"sort"
	"strings"
)

// OpenAI-compatible tool calling types

// Tool represents a tool definition in OpenAI format
type Tool struct {
	Type     string   `json:"type"` // "function"
	Function Function `json:"function"`
}

// Function represents a function definition
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall represents a tool call requested by the model
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and its JSON-encoded arguments
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// requestMessage is the message format for tool calling API requests.
// Uses *string for Content to allow null values for assistant messages with tool calls.
type requestMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// convertMessages converts Message values to the wire format.
func convertMessages(messages []Message) []requestMessage {
	result := make([]requestMessage, 0, len(messages))
	for _, msg := range messages {
		rm := requestMessage{
			Role:       msg.Role,
			Name:       msg.Name,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		}
		// For assistant messages with tool calls, content should be null if empty
		// For all other messages, content should be set (even if empty string)
		if msg.Role == RoleAssistant && len(msg.ToolCalls) > 0 && msg.Content == "" {
			rm.Content = nil
		} else {
			content := msg.Content
			rm.Content = &content
		}
		result = append(result, rm)
	}
	return result
}

// ToolCallDelta represents a partial tool call received during streaming
type ToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

// PartialCall is the accumulated state of one tool call index
type PartialCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ToolCallAccumulator accumulates tool call deltas during streaming.
// Name and argument fragments are concatenated per index.
type ToolCallAccumulator struct {
	calls map[int]*PartialCall
}

// NewToolCallAccumulator creates a new accumulator
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{
		calls: make(map[int]*PartialCall),
	}
}

// AddDelta processes a tool call delta and accumulates it
func (a *ToolCallAccumulator) AddDelta(delta ToolCallDelta) {
	pc, exists := a.calls[delta.Index]
	if !exists {
		pc = &PartialCall{Index: delta.Index}
		a.calls[delta.Index] = pc
	}
	// The id may arrive on any delta; the first one wins
	if pc.ID == "" && delta.ID != "" {
		pc.ID = delta.ID
	}
	pc.Name += delta.Function.Name
	pc.Arguments += delta.Function.Arguments
}

// Len returns the number of distinct indices seen
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// Calls returns the accumulated calls ordered by index
func (a *ToolCallAccumulator) Calls() []PartialCall {
	indices := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	calls := make([]PartialCall, 0, len(indices))
	for _, i := range indices {
		calls = append(calls, *a.calls[i])
	}
	return calls
}

// ParseSSELine parses a Server-Sent Events line and returns the data payload.
// Returns empty string if line is not a data line or is the [DONE] marker.
func ParseSSELine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return ""
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return ""
	}
	return data
}
