package toolserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestArgsParse(t *testing.T) {
	tests := []struct {
		name string
		args Args
		want []string
	}{
		{"list", ArgsOf("-y", "pkg"), []string{"-y", "pkg"}},
		{"json line", Args{Line: `["--dir", "/a b"]`}, []string{"--dir", "/a b"}},
		{"shell line", Args{Line: `run --name 'my server' -v`}, []string{"run", "--name", "my server", "-v"}},
		{"empty", Args{}, nil},
		{"bracket but not json", Args{Line: `[x y`}, []string{"[x", "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.args.Parse()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgsUnmarshal(t *testing.T) {
	var fromList, fromLine Config
	require.NoError(t, json.Unmarshal([]byte(`{"name":"a","args":["x","y"]}`), &fromList))
	require.NoError(t, json.Unmarshal([]byte(`{"name":"a","args":"x 'y z'"}`), &fromLine))
	assert.Equal(t, []string{"x", "y"}, fromList.Args.List)
	assert.Equal(t, "x 'y z'", fromLine.Args.Line)

	var y Config
	require.NoError(t, yaml.Unmarshal([]byte("name: a\nargs: [\"-m\", \"server\"]\nenv: '{\"K\":\"V\"}'\n"), &y))
	assert.Equal(t, []string{"-m", "server"}, y.Args.List)
	assert.Equal(t, Env{"K": "V"}, y.Env)
}

func TestArgsNormalized(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Args{Line: `["a","b"]`}.Normalized().List)
	assert.Equal(t, "a b", Args{Line: "a b"}.Normalized().Line)

	raw, err := json.Marshal(Args{Line: `["a","b"]`}.Normalized())
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(raw))
}

func TestEnvUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Env
	}{
		{`{"A":"1"}`, Env{"A": "1"}},
		{`"{\"B\":\"2\"}"`, Env{"B": "2"}},
		{`"not json"`, Env{}},
		{`""`, Env{}},
	}
	for _, tt := range tests {
		var e Env
		require.NoError(t, json.Unmarshal([]byte(tt.in), &e), tt.in)
		assert.Equal(t, tt.want, e, tt.in)
	}
}

func TestConfigDefaults(t *testing.T) {
	off := false
	c := Config{Name: "a"}
	assert.True(t, c.IsEnabled())
	assert.Equal(t, DefaultTimeout, c.CallTimeout())
	c.Enabled = &off
	c.TimeoutSeconds = 5
	assert.False(t, c.IsEnabled())
	assert.Equal(t, int64(5), int64(c.CallTimeout().Seconds()))
}

func TestJoinEndpoint(t *testing.T) {
	assert.Equal(t, "http://h/sse", joinEndpoint("http://h/", "/sse"))
	assert.Equal(t, "http://h", joinEndpoint("http://h", ""))
	assert.Equal(t, "http://other/sse", joinEndpoint("http://h", "http://other/sse"))
}
