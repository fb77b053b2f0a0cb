// Package prompts builds the system instruction prepended to tool-enabled turns.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// InlineCallBegin and InlineCallEnd delimit a tool call written into message text.
const (
	InlineCallBegin = "<FunctionCallBegin>"
	InlineCallEnd   = "<FunctionCallEnd>"
)

// PromptContext contains runtime context for prompt generation
type PromptContext struct {
	ToolNames   []string // Qualified tool names, server.tool
	CustomRules string   // User-defined rules from config
	Now         time.Time
}

// NewPromptContext creates a context for the given tools
func NewPromptContext(toolNames []string) *PromptContext {
	return &PromptContext{
		ToolNames: toolNames,
		Now:       time.Now(),
	}
}

// PromptBuilder constructs the system prompt from components
type PromptBuilder struct {
	ctx        *PromptContext
	components []func(*PromptContext) string
}

// NewPromptBuilder creates a new builder with default components
func NewPromptBuilder(ctx *PromptContext) *PromptBuilder {
	return &PromptBuilder{
		ctx: ctx,
		components: []func(*PromptContext) string{
			agentRole,
			allowedTools,
			callingRules,
			inlineFormat,
		},
	}
}

// Build generates the complete system prompt
func (b *PromptBuilder) Build() string {
	var sections []string

	for _, component := range b.components {
		section := component(b.ctx)
		if section != "" {
			sections = append(sections, section)
		}
	}

	if b.ctx.CustomRules != "" {
		sections = append(sections, fmt.Sprintf("USER INSTRUCTIONS\n\n%s", b.ctx.CustomRules))
	}

	return strings.Join(sections, "\n\n")
}

// WithCustomRules adds user-defined rules
func (b *PromptBuilder) WithCustomRules(rules string) *PromptBuilder {
	b.ctx.CustomRules = rules
	return b
}

// ToolInstruction is the system instruction for a turn with the given tools.
func ToolInstruction(toolNames []string, customRules string) string {
	return NewPromptBuilder(NewPromptContext(toolNames)).WithCustomRules(customRules).Build()
}

func agentRole(ctx *PromptContext) string {
	return fmt.Sprintf("You are a capable AI assistant. Today is %s.", ctx.Now.Format("2006-01-02"))
}

func allowedTools(ctx *PromptContext) string {
	if len(ctx.ToolNames) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You may only call the following tools (names are case-sensitive):\n")
	for _, name := range ctx.ToolNames {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	sb.WriteString("Calling a tool that is not listed is an error.")
	return sb.String()
}

func callingRules(ctx *PromptContext) string {
	return `RULES
- Always use the full tool name including the server prefix, for example server.tool.
- Pass arguments exactly as the tool's parameter schema describes.
- Make one call per action; if you need several results, make several calls.
- If a tool returns an error, try another available tool or explain the problem to the user.`
}

func inlineFormat(ctx *PromptContext) string {
	return fmt.Sprintf(`If you cannot use native function calling, write the call in your reply as
%s{"name": "server.tool", "parameters": {...}}%s`, InlineCallBegin, InlineCallEnd)
}
