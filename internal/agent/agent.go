// Package agent runs the streaming tool-call loop for one conversation turn.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/simonyos/mcpchat/internal/llm"
	"github.com/simonyos/mcpchat/internal/prompts"
	"github.com/simonyos/mcpchat/internal/tools"
)

// DefaultMaxRounds bounds the number of completion rounds per turn.
const DefaultMaxRounds = 10

// EventType identifies the kind of a turn event
type EventType string

const (
	EventContent    EventType = "content"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
)

// Event is one item of a turn's event stream
type Event struct {
	Type EventType

	// For content events
	Text string

	// For tool_call and tool_result events
	Message *llm.Message

	// For error events
	Err error
}

// Agent orchestrates the completion API and the tool servers
type Agent struct {
	provider  llm.Provider
	registry  *tools.Registry
	catalog   *tools.Catalog
	maxRounds int
	rules     string
	logger    *slog.Logger
	newID     func() string
}

// Option configures an Agent
type Option func(*Agent)

// WithMaxRounds sets the round budget. Values below one keep the default.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSystemRules appends user-defined rules to the tool instruction
func WithSystemRules(rules string) Option {
	return func(a *Agent) { a.rules = rules }
}

// WithIDGenerator replaces the generator for missing call ids
func WithIDGenerator(fn func() string) Option {
	return func(a *Agent) { a.newID = fn }
}

// New creates an agent that dispatches calls through registry
func New(provider llm.Provider, registry *tools.Registry, opts ...Option) *Agent {
	a := &Agent{
		provider:  provider,
		registry:  registry,
		maxRounds: DefaultMaxRounds,
		logger:    slog.Default(),
		newID:     NewCallID,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent")
	a.catalog = tools.NewCatalog(registry, a.logger)
	return a
}

// NewCallID returns a generated tool call id, "fc_" followed by 16 hex characters.
func NewCallID() string {
	return "fc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Catalog returns the catalog the agent builds its tool list from
func (a *Agent) Catalog() *tools.Catalog {
	return a.catalog
}

// Run executes one turn over history and streams its events. The channel is closed
// when the turn ends; an error event, if any, is always the last one. Cancelling ctx
// aborts the turn.
func (a *Agent) Run(ctx context.Context, history []llm.Message) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		state := NewTurnState(uuid.NewString(), a.maxRounds)
		defer func() {
			a.logger.Info("turn finished", state.LogAttrs()...)
		}()

		messages := append([]llm.Message(nil), history...)

		descs := a.catalog.Build(ctx)
		if len(descs) == 0 {
			a.streamPlain(ctx, messages, emit)
			return
		}

		names := make([]string, 0, len(descs))
		for _, d := range descs {
			names = append(names, d.QualifiedName)
		}
		messages = append([]llm.Message{{
			Role:    llm.RoleSystem,
			Content: prompts.ToolInstruction(names, a.rules),
		}}, messages...)
		toolDefs := tools.OpenAITools(descs)

		for !state.HasReachedMaxRounds() {
			round := state.IncrementRound()
			log := a.logger.With("turn_id", state.ID, "round", round)
			log.Debug("starting round", "tools", len(toolDefs), "messages", len(messages))

			text, acc, err := a.streamRound(ctx, messages, toolDefs, emit)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("completion failed", "error", err)
					emit(Event{Type: EventError, Err: err})
				}
				return
			}

			calls := a.structuredCalls(acc, state, log)
			inline, _, malformed := ExtractInlineCalls(text)
			for _, m := range malformed {
				log.Warn("dropping tool call", "error", m)
				state.RecordDropped()
			}
			calls = append(calls, inline...)

			dispatched := 0
			for _, call := range calls {
				ok, alive := a.dispatch(ctx, call, &messages, state, log, emit)
				if !alive {
					return
				}
				if ok {
					dispatched++
				}
			}

			if dispatched == 0 {
				return
			}
		}

		a.logger.Warn("round budget reached", "turn_id", state.ID, "max_rounds", a.maxRounds)
	}()

	return events
}

// streamPlain forwards a completion without tools or call detection.
func (a *Agent) streamPlain(ctx context.Context, messages []llm.Message, emit func(Event) bool) {
	chunks, err := a.provider.StreamCompletion(ctx, messages, nil)
	if err != nil {
		a.logger.Error("completion failed", "error", err)
		emit(Event{Type: EventError, Err: err})
		return
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			a.logger.Error("completion stream failed", "error", chunk.Err)
			emit(Event{Type: EventError, Err: chunk.Err})
			return
		}
		if chunk.Text != "" && !emit(Event{Type: EventContent, Text: chunk.Text}) {
			return
		}
	}
}

// streamRound streams one completion, forwarding content as it arrives. It returns
// the buffered content and the accumulated structured call deltas.
func (a *Agent) streamRound(ctx context.Context, messages []llm.Message, toolDefs []llm.Tool, emit func(Event) bool) (string, *llm.ToolCallAccumulator, error) {
	chunks, err := a.provider.StreamCompletion(ctx, messages, toolDefs)
	if err != nil {
		return "", nil, err
	}

	var content strings.Builder
	acc := llm.NewToolCallAccumulator()
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", nil, chunk.Err
		}
		if chunk.Text != "" {
			content.WriteString(chunk.Text)
			if !emit(Event{Type: EventContent, Text: chunk.Text}) {
				return "", nil, ctx.Err()
			}
		}
		for _, d := range chunk.ToolCalls {
			acc.AddDelta(d)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return content.String(), acc, nil
}

// structuredCalls parses the accumulated deltas. An index whose arguments do not
// parse is dropped on its own.
func (a *Agent) structuredCalls(acc *llm.ToolCallAccumulator, state *TurnState, log *slog.Logger) []Call {
	partials := acc.Calls()
	calls := make([]Call, 0, len(partials))
	for _, p := range partials {
		args, err := decodeArguments(p.Arguments)
		if err != nil {
			log.Warn("dropping tool call", "index", p.Index, "tool", p.Name,
				"error", &MalformedCallError{Source: "structured", Input: p.Arguments, Err: err})
			state.RecordDropped()
			continue
		}
		calls = append(calls, Call{ID: p.ID, Name: p.Name, Arguments: args})
	}
	return calls
}

// dispatch executes one call and folds its result into messages. ok reports whether
// the call was executed; alive is false once the turn has been cancelled.
func (a *Agent) dispatch(ctx context.Context, call Call, messages *[]llm.Message, state *TurnState, log *slog.Logger, emit func(Event) bool) (ok, alive bool) {
	server, tool, err := tools.SplitQualifiedName(call.Name)
	if err != nil {
		log.Warn("ignoring tool call", "tool", call.Name, "error", err)
		state.RecordDropped()
		return false, true
	}
	if call.ID == "" {
		call.ID = a.newID()
		log.Debug("generated tool call id", "call_id", call.ID, "tool", call.Name)
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	argsJSON, err := json.Marshal(call.Arguments)
	if err != nil {
		log.Warn("ignoring tool call", "tool", call.Name, "error", err)
		state.RecordDropped()
		return false, true
	}

	request := llm.Message{
		Role:    llm.RoleAssistant,
		Content: call.Raw,
		ToolCalls: []llm.ToolCall{{
			ID:       call.ID,
			Type:     "function",
			Function: llm.FunctionCall{Name: call.Name, Arguments: string(argsJSON)},
		}},
	}
	*messages = append(*messages, request)
	if !emit(Event{Type: EventToolCall, Message: &request}) {
		return false, false
	}

	log.Info("executing tool", "server", server, "tool", tool, "call_id", call.ID)
	result := a.execute(ctx, server, tool, call.Arguments, log)
	state.RecordDispatch(call.Name)

	response := llm.Message{
		Role:       llm.RoleTool,
		Name:       call.Name,
		Content:    encodeResult(result),
		ToolCallID: call.ID,
	}
	*messages = append(*messages, response)
	return true, emit(Event{Type: EventToolResult, Message: &response})
}

func (a *Agent) execute(ctx context.Context, server, tool string, args map[string]any, log *slog.Logger) any {
	conn, ok := a.registry.Get(server)
	if !ok {
		log.Warn("tool server not registered", "server", server, "tool", tool)
		return tools.ErrorResult(fmt.Errorf("%w: %s", tools.ErrServerNotFound, server))
	}
	res, err := conn.ExecuteTool(ctx, tool, args)
	if err != nil {
		log.Warn("tool execution failed", "server", server, "tool", tool, "error", err)
		return tools.ErrorResult(err)
	}
	return tools.NormalizeResult(res)
}

func encodeResult(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return strings.TrimRight(buf.String(), "\n")
}
