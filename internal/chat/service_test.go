package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonyos/mcpchat/internal/agent"
	"github.com/simonyos/mcpchat/internal/llm"
	"github.com/simonyos/mcpchat/internal/store"
)

// scriptedRunner replays events and records the history it was given.
type scriptedRunner struct {
	events  []agent.Event
	gate    chan struct{}
	history []llm.Message
}

func (r *scriptedRunner) Run(ctx context.Context, history []llm.Message) <-chan agent.Event {
	r.history = history
	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		for i, ev := range r.events {
			if i == 1 && r.gate != nil {
				<-r.gate
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ string, event any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func drain(ch <-chan Update) []Update {
	var out []Update
	for u := range ch {
		out = append(out, u)
	}
	return out
}

func toolTurn() []agent.Event {
	call := llm.Message{
		Role:    llm.RoleAssistant,
		Content: `<FunctionCallBegin>[{"name":"weather.get","parameters":{"city":"Paris"}}]<FunctionCallEnd>`,
		ToolCalls: []llm.ToolCall{{
			ID: "fc_1", Type: "function",
			Function: llm.FunctionCall{Name: "weather.get", Arguments: `{"city":"Paris"}`},
		}},
	}
	result := llm.Message{Role: llm.RoleTool, Name: "weather.get", ToolCallID: "fc_1", Content: `{"temp":21}`}
	return []agent.Event{
		{Type: agent.EventContent, Text: "<InnerThoughtBegin>need weather<InnerThoughtEnd>Checking. "},
		{Type: agent.EventContent, Text: call.Content},
		{Type: agent.EventToolCall, Message: &call},
		{Type: agent.EventToolResult, Message: &result},
		{Type: agent.EventContent, Text: "It is 21 degrees."},
	}
}

func TestCleanContent(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hello", "hello"},
		{"thought", "<InnerThoughtBegin>hmm<InnerThoughtEnd> answer", "answer"},
		{"call", `a <FunctionCallBegin>{"name":"x.y","parameters":{}}<FunctionCallEnd> b`, "a  b"},
		{"only markup", `<InnerThoughtBegin>x<InnerThoughtEnd><FunctionCallBegin>{}<FunctionCallEnd>`, ""},
		{"multiline thought", "<InnerThoughtBegin>a\nb<InnerThoughtEnd>ok", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanContent(tt.in))
		})
	}
}

func TestComplete_PersistsTurn(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, "weather")
	require.NoError(t, err)

	runner := &scriptedRunner{events: toolTurn()}
	pub := &recordingPublisher{}
	svc := NewService(st, runner, pub, nil)

	ch, err := svc.Complete(ctx, sess.ID, "weather in Paris?")
	require.NoError(t, err)
	updates := drain(ch)

	require.Len(t, updates, 8)
	assert.Equal(t, "start", updates[0].Status)
	assert.NotEmpty(t, updates[1].Response)
	require.NotNil(t, updates[3].FunctionCall)
	assert.Equal(t, store.MessageTypeToolCall, updates[3].FunctionCall.Type)
	require.NotNil(t, updates[4].ToolResult)
	assert.Equal(t, "fc_1", updates[4].ToolResult.ToolCallID)
	require.NotNil(t, updates[6].UpdateMsg)
	assert.Equal(t, "Checking. It is 21 degrees.", updates[6].UpdateMsg.Content)
	assert.True(t, updates[7].Finish)

	require.Len(t, runner.history, 1)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "weather in Paris?"}, runner.history[0])

	msgs, err := st.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, store.MessageTypeToolCall, msgs[1].Type)
	assert.Equal(t, store.MessageTypeToolResult, msgs[2].Type)
	assert.Equal(t, "Checking. It is 21 degrees.", msgs[3].Content)

	pub.mu.Lock()
	assert.Len(t, pub.events, 8)
	pub.mu.Unlock()

	_, running := svc.InFlight(sess.ID)
	assert.False(t, running)
}

func TestComplete_EmptyFinalNotSaved(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess, _ := st.CreateSession(ctx, "")

	runner := &scriptedRunner{events: []agent.Event{
		{Type: agent.EventContent, Text: "<InnerThoughtBegin>nothing to say<InnerThoughtEnd>"},
	}}
	svc := NewService(st, runner, nil, nil)

	ch, err := svc.Complete(ctx, sess.ID, "hi")
	require.NoError(t, err)
	updates := drain(ch)

	for _, u := range updates {
		assert.Nil(t, u.UpdateMsg)
	}
	msgs, _ := st.ListMessages(ctx, sess.ID)
	assert.Len(t, msgs, 1)
}

func TestComplete_ErrorEventForwarded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess, _ := st.CreateSession(ctx, "")

	runner := &scriptedRunner{events: []agent.Event{
		{Type: agent.EventContent, Text: "partial"},
		{Type: agent.EventError, Err: errors.New("upstream 500")},
	}}
	svc := NewService(st, runner, nil, nil)

	ch, err := svc.Complete(ctx, sess.ID, "hi")
	require.NoError(t, err)
	updates := drain(ch)

	require.Len(t, updates, 5)
	require.NotNil(t, updates[2].UpdateMsg)
	assert.Equal(t, "partial", updates[2].UpdateMsg.Content)
	assert.Equal(t, "upstream 500", updates[3].Error)
	assert.True(t, updates[4].Finish)
}

func TestComplete_Validation(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, &scriptedRunner{}, nil, nil)

	_, err := svc.Complete(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)

	sess, _ := st.CreateSession(context.Background(), "")
	_, err = svc.Complete(context.Background(), sess.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestComplete_InFlightAndBusy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess, _ := st.CreateSession(ctx, "")

	gate := make(chan struct{})
	runner := &scriptedRunner{gate: gate, events: []agent.Event{
		{Type: agent.EventContent, Text: "Hel"},
		{Type: agent.EventContent, Text: "lo"},
	}}
	svc := NewService(st, runner, nil, nil)

	ch, err := svc.Complete(ctx, sess.ID, "hi")
	require.NoError(t, err)

	assert.Equal(t, "start", (<-ch).Status)
	assert.Equal(t, "Hel", (<-ch).Response)

	partial, running := svc.InFlight(sess.ID)
	assert.True(t, running)
	assert.Equal(t, "Hel", partial)

	_, err = svc.Complete(ctx, sess.ID, "again")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(gate)
	drain(ch)
	_, running = svc.InFlight(sess.ID)
	assert.False(t, running)
}

func TestComplete_ContinuesAfterDisconnect(t *testing.T) {
	st := newTestStore(t)
	sess, _ := st.CreateSession(context.Background(), "")

	runner := &scriptedRunner{events: toolTurn()}
	svc := NewService(st, runner, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Complete(ctx, sess.ID, "weather?")
	require.NoError(t, err)
	cancel()

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish after consumer left")
	}

	msgs, err := st.ListMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "Checking. It is 21 degrees.", msgs[3].Content)
}
