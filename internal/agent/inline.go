package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// inlineCallPattern matches one inline tool call block. Both the plain and the
// pipe-delimited marker spellings are accepted.
var inlineCallPattern = regexp.MustCompile(`<\|?FunctionCallBegin\|?>([\s\S]*?)<\|?FunctionCallEnd\|?>`)

// Call is a tool call detected in model output.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
	Raw       string // the inline block the call came from, if any
}

// MalformedCallError describes a tool call that could not be parsed.
type MalformedCallError struct {
	Source string // "structured" or "inline"
	Input  string
	Err    error
}

func (e *MalformedCallError) Error() string {
	return fmt.Sprintf("malformed %s tool call %q: %v", e.Source, truncate(e.Input, 200), e.Err)
}

func (e *MalformedCallError) Unwrap() error { return e.Err }

// ExtractInlineCalls scans text for inline call blocks. Each pass takes the first
// block, parses it and removes it from the text. Blocks that do not parse are
// reported in malformed and removed as well. The text left over is returned.
func ExtractInlineCalls(text string) (calls []Call, remaining string, malformed []error) {
	remaining = text
	for {
		loc := inlineCallPattern.FindStringSubmatchIndex(remaining)
		if loc == nil {
			return calls, remaining, malformed
		}
		block := remaining[loc[0]:loc[1]]
		body := remaining[loc[2]:loc[3]]
		remaining = remaining[:loc[0]] + remaining[loc[1]:]

		parsed, skipped, err := parseInlineBody(body)
		if err != nil {
			malformed = append(malformed, &MalformedCallError{Source: "inline", Input: body, Err: err})
			continue
		}
		for _, e := range skipped {
			malformed = append(malformed, &MalformedCallError{Source: "inline", Input: body, Err: e})
		}
		for _, c := range parsed {
			c.Raw = block
			calls = append(calls, c)
		}
	}
}

// StripInlineCalls removes every inline call block from text.
func StripInlineCalls(text string) string {
	return inlineCallPattern.ReplaceAllString(text, "")
}

// parseInlineBody decodes a block body holding one call object or a list of
// them. Entries that are not usable calls are reported in skipped without
// affecting their siblings; err is set only when the body is not valid JSON of
// the right shape.
func parseInlineBody(body string) (calls []Call, skipped []error, err error) {
	body = strings.TrimSpace(body)
	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, nil, err
	}

	var items []any
	switch v := raw.(type) {
	case map[string]any:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, nil, fmt.Errorf("expected an object or a list, got %T", raw)
	}

	calls = make([]Call, 0, len(items))
	for i, item := range items {
		call, err := inlineCall(item)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		calls = append(calls, call)
	}
	return calls, skipped, nil
}

func inlineCall(item any) (Call, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return Call{}, fmt.Errorf("expected a call object, got %T", item)
	}
	name, _ := obj["name"].(string)
	if name == "" {
		return Call{}, fmt.Errorf("call has no name")
	}
	args, err := inlineArguments(obj)
	if err != nil {
		return Call{}, fmt.Errorf("call %s: %w", name, err)
	}
	id, _ := obj["id"].(string)
	return Call{ID: id, Name: name, Arguments: args}, nil
}

func inlineArguments(obj map[string]any) (map[string]any, error) {
	for _, key := range []string{"parameters", "arguments"} {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch a := v.(type) {
		case map[string]any:
			return a, nil
		case string:
			return decodeArguments(a)
		default:
			return nil, fmt.Errorf("%s must be an object", key)
		}
	}
	return nil, fmt.Errorf("call has no parameters")
}

// decodeArguments parses a JSON argument string. An empty string means no
// arguments.
func decodeArguments(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
