// Package react implements the ReAct reasoning-acting agent: the reason/act state machine, its response parser, the
// tool-catalogue assembly (direct injection vs retrieval sourcing/
// passive modes), and team-mode expansion into a ParallelAgent fronting
// cloned runs.
package react

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Outcome classifies a parsed LLM response ("PARSE(R)").
type Outcome string

const (
	OutcomeAnswer    Outcome = "answer"
	OutcomeToolCall  Outcome = "tool_call"
	OutcomeErrorParse Outcome = "error_parse"
)

// ToolCallSpec is one requested invocation extracted from a TOOL_CALL
// response.
type ToolCallSpec struct {
	ToolName  string
	Arguments map[string]any
	// TrustMode, when true, means "return this call's raw output
	// immediately as final answer".
	TrustMode bool
}

// ParseResult is the outcome of one parse pass.
type ParseResult struct {
	Outcome   Outcome
	ToolCalls []ToolCallSpec
	Coaching  string
	Answer    string
}

// ReflexionFunc is func_reflexion: inspects a response that
// parsed as neither a tool call nor an obvious malformed tool call, and
// either accepts it as an answer (needsCoaching=false) or demands a
// retry with the given coaching text.
type ReflexionFunc func(raw string) (coaching string, needsCoaching bool)

// DefaultReflexion rejects empty/whitespace responses ("Reflexion
// hook (default)").
func DefaultReflexion(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "Your response was empty. Provide either a tool call or a final answer.", true
	}
	return "", false
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

const thinkClose = "</think>"

// stripThink implements step 1: strip any leading thinking span
// delimited by </think>.
func stripThink(raw string) string {
	if idx := strings.Index(raw, thinkClose); idx >= 0 {
		return strings.TrimLeft(raw[idx+len(thinkClose):], " \t\n\r")
	}
	return raw
}

// extractJSON implements step 2: a JSON object/array either fenced by
// triple-backtick-json, or the first balanced {...} span in the text.
func extractJSON(raw string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), true
	}

	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// looksLikeAttemptedToolCall implements step 5's heuristic: the text
// contains the telltale markers of an attempted JSON tool call even
// though it failed to decode.
func looksLikeAttemptedToolCall(raw string) bool {
	return strings.Contains(raw, "tool_name") &&
		strings.Contains(raw, "arguments") &&
		strings.Contains(raw, "{") &&
		strings.Contains(raw, "}")
}

// ParseLLMResponse implements func_parse_llm_response.
func ParseLLMResponse(raw string, reflexion ReflexionFunc) ParseResult {
	if reflexion == nil {
		reflexion = DefaultReflexion
	}

	body := stripThink(raw)

	jsonText, found := extractJSON(body)
	if found {
		calls, ok := decodeToolCalls(jsonText)
		if ok && len(calls) > 0 {
			return ParseResult{Outcome: OutcomeToolCall, ToolCalls: calls}
		}
		if ok {
			// Decoded fine but carried no tool_name field anywhere.
			return ParseResult{
				Outcome:  OutcomeErrorParse,
				Coaching: "Your JSON response must include a \"tool_name\" field naming the tool to call.",
			}
		}
	}

	if looksLikeAttemptedToolCall(body) {
		return ParseResult{
			Outcome:  OutcomeErrorParse,
			Coaching: "Your JSON tool call could not be parsed. Ensure it is valid JSON with tool_name and arguments fields.",
		}
	}

	if coaching, needsCoaching := reflexion(body); needsCoaching {
		return ParseResult{Outcome: OutcomeErrorParse, Coaching: coaching}
	}

	return ParseResult{Outcome: OutcomeAnswer, Answer: body}
}

// decodeToolCalls attempts to decode jsonText as either a single tool
// call object or a list of them. ok reports whether jsonText was valid
// JSON at all (regardless of whether any element carried tool_name);
// the caller uses this to distinguish "valid JSON, wrong shape" (step 4)
// from "invalid JSON" (step 5).
func decodeToolCalls(jsonText string) ([]ToolCallSpec, bool) {
	var asList []map[string]any
	if err := json.Unmarshal([]byte(jsonText), &asList); err == nil {
		calls := make([]ToolCallSpec, 0, len(asList))
		for _, obj := range asList {
			if spec, ok := toolCallFromObject(obj); ok {
				calls = append(calls, spec)
			}
		}
		return calls, true
	}

	var asObject map[string]any
	if err := json.Unmarshal([]byte(jsonText), &asObject); err == nil {
		if spec, ok := toolCallFromObject(asObject); ok {
			return []ToolCallSpec{spec}, true
		}
		return nil, true
	}

	return nil, false
}

func toolCallFromObject(obj map[string]any) (ToolCallSpec, bool) {
	name, ok := obj["tool_name"].(string)
	if !ok || name == "" {
		return ToolCallSpec{}, false
	}
	spec := ToolCallSpec{ToolName: name}
	if args, ok := obj["arguments"].(map[string]any); ok {
		spec.Arguments = args
	}
	switch tm := obj["trust_mode"].(type) {
	case bool:
		spec.TrustMode = tm
	case float64:
		spec.TrustMode = tm != 0
	}
	return spec, true
}
