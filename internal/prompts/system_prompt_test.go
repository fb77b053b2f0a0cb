package prompts

import (
	"strings"
	"testing"
)

func TestToolInstruction(t *testing.T) {
	got := ToolInstruction([]string{"weather.get", "fs.Read"}, "")

	for _, want := range []string{"- weather.get\n", "- fs.Read\n", "case-sensitive", InlineCallBegin, InlineCallEnd} {
		if !strings.Contains(got, want) {
			t.Errorf("ToolInstruction() missing %q", want)
		}
	}
	if strings.Contains(got, "USER INSTRUCTIONS") {
		t.Error("ToolInstruction() should not include empty custom rules")
	}
}

func TestPromptBuilder_CustomRules(t *testing.T) {
	got := NewPromptBuilder(NewPromptContext([]string{"a.b"})).WithCustomRules("Answer in French.").Build()
	if !strings.HasSuffix(got, "USER INSTRUCTIONS\n\nAnswer in French.") {
		t.Errorf("Build() = %q, want custom rules last", got)
	}
}

func TestAllowedTools_Empty(t *testing.T) {
	if got := allowedTools(NewPromptContext(nil)); got != "" {
		t.Errorf("allowedTools(nil) = %q, want empty", got)
	}
}
