package tools

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonyos/mcpchat/internal/toolserver"
	"github.com/simonyos/mcpchat/internal/toolserver/toolservertest"
)

func fakeFactory(fakes map[string]*toolservertest.Fake) Factory {
	return func(cfg toolserver.Config, _ *slog.Logger) (toolserver.Connection, error) {
		f, ok := fakes[cfg.Name]
		if !ok {
			return nil, errors.New("no fake for " + cfg.Name)
		}
		return f, nil
	}
}

func TestRegistry_AddAndGet(t *testing.T) {
	off := false
	fakes := map[string]*toolservertest.Fake{
		"a": toolservertest.New("a", "x"),
		"b": toolservertest.New("b", "y"),
	}
	r := NewRegistry(nil)
	r.SetFactory(fakeFactory(fakes))

	require.NoError(t, r.Add(toolserver.Config{Name: "b"}))
	require.NoError(t, r.Add(toolserver.Config{Name: "a"}))
	require.NoError(t, r.Add(toolserver.Config{Name: "c", Enabled: &off}), "disabled config is a no-op")
	assert.Error(t, r.Add(toolserver.Config{Name: "missing"}))

	assert.Equal(t, []string{"b", "a"}, r.Names())
	_, ok := r.Get("c")
	assert.False(t, ok)

	conn, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, fakes["a"], conn)
}

func TestRegistry_ReplaceCleansUpOld(t *testing.T) {
	old := toolservertest.New("srv", "x")
	replacement := toolservertest.New("srv", "y")

	r := NewRegistry(nil)
	r.Register(old)
	r.Register(replacement)

	assert.Equal(t, 1, old.Cleanups())
	assert.Equal(t, 0, replacement.Cleanups())
	assert.Equal(t, []string{"srv"}, r.Names())

	conn, _ := r.Get("srv")
	assert.Same(t, replacement, conn)
}

func TestRegistry_RemoveIsAsync(t *testing.T) {
	f := toolservertest.New("srv", "x")
	r := NewRegistry(nil)
	r.Register(f)

	assert.True(t, r.Remove("srv"))
	assert.False(t, r.Remove("srv"))
	_, ok := r.Get("srv")
	assert.False(t, ok)

	assert.Eventually(t, func() bool { return f.Cleanups() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_Close(t *testing.T) {
	a, b := toolservertest.New("a"), toolservertest.New("b")
	r := NewRegistry(nil)
	r.Register(a)
	r.Register(b)
	r.Close()

	assert.Equal(t, 1, a.Cleanups())
	assert.Equal(t, 1, b.Cleanups())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Execute(t *testing.T) {
	f := toolservertest.New("srv", "echo")
	r := NewRegistry(nil)
	r.Register(f)

	res, err := r.Execute(context.Background(), "srv", "echo", map[string]any{"v": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": map[string]any{"v": 1}}, res)

	_, err = r.Execute(context.Background(), "nope", "echo", nil)
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestCatalog_Build(t *testing.T) {
	slow := toolservertest.New("weather", "get", "forecast")
	slow.Tools[0].InputSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
			"unit": map[string]any{"type": "string"},
		},
	}
	slow.Handler = nil
	broken := toolservertest.New("broken", "x")
	broken.InitErr = errors.New("refused")
	fs := toolservertest.New("fs", "read")

	r := NewRegistry(nil)
	r.Register(slow)
	r.Register(broken)
	r.Register(fs)

	descs := NewCatalog(r, nil).Build(context.Background())
	require.Len(t, descs, 3)

	names := []string{descs[0].QualifiedName, descs[1].QualifiedName, descs[2].QualifiedName}
	assert.Equal(t, []string{"weather.get", "weather.forecast", "fs.read"}, names)

	assert.Equal(t, "weather", descs[0].Server)
	assert.Equal(t, "get", descs[0].Tool)
	assert.Equal(t, []string{"city", "unit"}, descs[0].Parameters["required"])
	assert.Equal(t, "object", descs[0].Parameters["type"])

	tools := OpenAITools(descs)
	require.Len(t, tools, 3)
	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "weather.get", tools[0].Function.Name)
}

func TestCatalog_BuildIsFresh(t *testing.T) {
	f := toolservertest.New("s", "a")
	r := NewRegistry(nil)
	r.Register(f)
	c := NewCatalog(r, nil)

	first := c.Build(context.Background())
	first[0].Parameters["properties"] = "mutated"
	second := c.Build(context.Background())
	assert.IsType(t, map[string]any{}, second[0].Parameters["properties"])
}

func TestCatalog_Empty(t *testing.T) {
	assert.Empty(t, NewCatalog(NewRegistry(nil), nil).Build(context.Background()))
}

func TestParameterSchema_ExplicitRequired(t *testing.T) {
	s := parameterSchema(map[string]any{
		"properties": map[string]any{"a": map[string]any{}, "b": map[string]any{}},
		"required":   []any{"b"},
	})
	assert.Equal(t, []string{"b"}, s["required"])

	empty := parameterSchema(nil)
	assert.Equal(t, []string{}, empty["required"])
	assert.Equal(t, map[string]any{}, empty["properties"])
}

func TestSplitQualifiedName(t *testing.T) {
	tests := []struct {
		in           string
		server, tool string
		wantErr      bool
	}{
		{"weather.get", "weather", "get", false},
		{"a.b.c", "a", "b.c", false},
		{"nodot", "", "", true},
		{".tool", "", "", true},
		{"server.", "", "", true},
	}
	for _, tt := range tests {
		server, tool, err := SplitQualifiedName(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidName, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.server, server)
		assert.Equal(t, tt.tool, tool)
	}
}

type stringer struct{}

func (stringer) String() string { return "stringer!" }

func TestNormalizeResult(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"error", errors.New("boom"), map[string]any{"error": "boom"}},
		{"envelope", map[string]any{
			"content":           []any{map[string]any{"type": "text", "text": "hi"}},
			"isError":           false,
			"_meta":             map[string]any{"k": "v"},
			"structuredContent": nil,
			"extra":             "dropped",
		}, map[string]any{
			"content": []any{map[string]any{"type": "text", "text": "hi"}},
			"isError": false,
			"meta":    map[string]any{"k": "v"},
		}},
		{"content without envelope keys stays as is", map[string]any{"content": "x", "other": 1}, map[string]any{"content": "x", "other": 1}},
		{"struct", point{X: 3}, map[string]any{"x": float64(3)}},
		{"nested leaves", map[string]any{"s": stringer{}, "list": []any{stringer{}, 1}}, map[string]any{"s": "stringer!", "list": []any{"stringer!", 1}}},
		{"unknown leaf", make(chan int), nil},
		{"scalar", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeResult(tt.in)
			if tt.name == "unknown leaf" {
				assert.IsType(t, "", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
