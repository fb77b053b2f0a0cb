package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonyos/mcpchat/internal/agent"
	"github.com/simonyos/mcpchat/internal/chat"
	"github.com/simonyos/mcpchat/internal/llm"
	"github.com/simonyos/mcpchat/internal/store"
	"github.com/simonyos/mcpchat/internal/toolserver"
	"github.com/simonyos/mcpchat/internal/toolserver/toolservertest"
	"github.com/simonyos/mcpchat/internal/tools"
)

type stubRunner struct {
	events []agent.Event
	gate   chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, _ []llm.Message) <-chan agent.Event {
	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		for i, ev := range r.events {
			if i == 1 && r.gate != nil {
				<-r.gate
			}
			ch <- ev
		}
	}()
	return ch
}

type fixture struct {
	store    *store.SQLiteStore
	registry *tools.Registry
	chat     *chat.Service
	server   *httptest.Server

	mu    sync.Mutex
	fakes map[string]*toolservertest.Fake
}

func newFixture(t *testing.T, runner chat.Runner) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	f := &fixture{store: st, fakes: map[string]*toolservertest.Fake{}}
	f.registry = tools.NewRegistry(slog.Default())
	f.registry.SetFactory(func(cfg toolserver.Config, _ *slog.Logger) (toolserver.Connection, error) {
		fake := toolservertest.New(cfg.Name, "search", "fetch")
		f.mu.Lock()
		f.fakes[cfg.Name] = fake
		f.mu.Unlock()
		return fake, nil
	})
	f.chat = chat.NewService(st, runner, nil, nil)

	api := New(st, f.chat, f.registry, nil, WithPollInterval(10*time.Millisecond))
	f.server = httptest.NewServer(api.Handler())

	t.Cleanup(func() {
		f.server.Close()
		f.chat.Wait()
		f.registry.Close()
		st.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// readSSE collects every data payload until the stream ends.
func readSSE(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	f.registry.Register(toolservertest.New("docs", "search"))

	resp := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "disabled", services["relay"])
	assert.Equal(t, map[string]any{"docs": "uninitialized"}, services["tool_servers"])
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, &stubRunner{})

	resp := f.do(t, http.MethodPost, "/session/create", map[string]string{"name": "Research"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[store.Session](t, resp)
	assert.Equal(t, "Research", sess.Name)

	resp = f.do(t, http.MethodPost, "/session/create", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/sessions", nil)
	list := decode[[]store.Session](t, resp)
	assert.Len(t, list, 2)

	require.NoError(t, f.store.AppendMessage(context.Background(), &store.Message{SessionID: sess.ID, Role: llm.RoleUser, Content: "hi"}))
	resp = f.do(t, http.MethodPost, "/chat/"+sess.ID+"/session/clear", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	msgs, _ := f.store.ListMessages(context.Background(), sess.ID)
	assert.Empty(t, msgs)

	resp = f.do(t, http.MethodDelete, "/chat/"+sess.ID+"/session", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/chat/"+sess.ID+"/session", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/sessions", nil)
	assert.Len(t, decode[[]store.Session](t, resp), 1)
}

func TestCompletion_StreamsUpdates(t *testing.T) {
	call := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
		ID: "fc_1", Type: "function", Function: llm.FunctionCall{Name: "docs.search", Arguments: `{"q":"go"}`},
	}}}
	result := llm.Message{Role: llm.RoleTool, Name: "docs.search", ToolCallID: "fc_1", Content: `{"hits":3}`}
	f := newFixture(t, &stubRunner{events: []agent.Event{
		{Type: agent.EventToolCall, Message: &call},
		{Type: agent.EventToolResult, Message: &result},
		{Type: agent.EventContent, Text: "Found 3 hits."},
	}})
	sess, err := f.store.CreateSession(context.Background(), "")
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/chat/"+sess.ID+"/session/completion", map[string]string{"message": "search go"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	events := readSSE(t, resp)
	require.Len(t, events, 6)
	assert.Equal(t, "start", events[0]["status"])
	assert.Contains(t, events[1], "function_call")
	assert.Contains(t, events[2], "tool_result")
	assert.Equal(t, "Found 3 hits.", events[3]["response"])
	assert.Equal(t, "Found 3 hits.", events[4]["update_msg"].(map[string]any)["content"])
	assert.Equal(t, true, events[5]["finish"])
}

func TestCompletion_Errors(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	sess, _ := f.store.CreateSession(context.Background(), "")

	resp := f.do(t, http.MethodPost, "/chat/missing/session/completion", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/chat/"+sess.ID+"/session/completion", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/chat/"+sess.ID+"/session/completion", strings.NewReader("{"))
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestReplay_HistoryAndInFlight(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &stubRunner{gate: gate, events: []agent.Event{
		{Type: agent.EventContent, Text: "Thinking"},
		{Type: agent.EventContent, Text: " done"},
	}})
	sess, _ := f.store.CreateSession(context.Background(), "")

	updates, err := f.chat.Complete(context.Background(), sess.ID, "hello")
	require.NoError(t, err)
	require.Equal(t, "start", (<-updates).Status)
	require.Equal(t, "Thinking", (<-updates).Response)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
		for range updates {
		}
	}()

	resp := f.do(t, http.MethodGet, "/chat/"+sess.ID+"/completion", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := readSSE(t, resp)

	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, "start", events[0]["status"])
	assert.Equal(t, "hello", events[1]["update_msg"].(map[string]any)["content"])
	assert.Equal(t, "Thinking", events[2]["response"])
	assert.Equal(t, true, events[2]["loading"])
	assert.Equal(t, true, events[len(events)-1]["finish"])
}

func TestReplay_UnknownSession(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	resp := f.do(t, http.MethodGet, "/chat/nope/completion", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServers_HotAddRemove(t *testing.T) {
	f := newFixture(t, &stubRunner{})

	resp := f.do(t, http.MethodPost, "/server", map[string]any{
		"name": "docs", "mode": "sse", "url": "http://localhost:9000", "sse_endpoint": "/sse", "enabled": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	id := created["id"].(string)
	assert.Equal(t, "uninitialized", created["state"])
	_, ok := f.registry.Get("docs")
	assert.True(t, ok)

	resp = f.do(t, http.MethodGet, "/server/"+id+"/abilities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	abilities := decode[map[string]any](t, resp)
	toolsList := abilities["tools"].([]any)
	require.Len(t, toolsList, 2)
	assert.Equal(t, "docs.search", toolsList[0].(map[string]any)["name"])

	resp = f.do(t, http.MethodPost, "/server/"+id+"/enable", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disabled", decode[map[string]any](t, resp)["state"])
	_, ok = f.registry.Get("docs")
	assert.False(t, ok)

	resp = f.do(t, http.MethodGet, "/server/"+id+"/abilities", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/server/"+id+"/enable", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok = f.registry.Get("docs")
	assert.True(t, ok)

	resp = f.do(t, http.MethodPost, "/server", map[string]any{
		"id": id, "name": "kb", "mode": "http", "url": "http://localhost:9001", "enabled": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"kb"}, f.registry.Names())

	resp = f.do(t, http.MethodGet, "/servers", nil)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "kb", list[0]["name"])

	resp = f.do(t, http.MethodDelete, "/server/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.registry.Len())

	resp = f.do(t, http.MethodDelete, "/server/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServers_Validation(t *testing.T) {
	f := newFixture(t, &stubRunner{})

	resp := f.do(t, http.MethodPost, "/server", map[string]any{"name": "x", "mode": "sse"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/server", map[string]any{"name": "x", "mode": "carrier-pigeon", "url": "http://x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/server", map[string]any{"name": "x", "url": "http://x"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/server", map[string]any{"name": "x", "url": "http://y"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/server/missing/enable", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/server/missing/enable", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncRegistry(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveServer(ctx, &store.Server{Name: "on", URL: "http://a", Enabled: true}))
	require.NoError(t, f.store.SaveServer(ctx, &store.Server{Name: "off", URL: "http://b", Enabled: false}))

	require.NoError(t, SyncRegistry(ctx, f.store, f.registry))
	assert.Equal(t, []string{"on"}, f.registry.Names())
}
