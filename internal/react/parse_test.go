package react

import "testing"

func TestParseLLMResponse_PlainAnswer(t *testing.T) {
	res := ParseLLMResponse("The answer is 42.", nil)
	if res.Outcome != OutcomeAnswer {
		t.Fatalf("want OutcomeAnswer, got %s", res.Outcome)
	}
	if res.Answer != "The answer is 42." {
		t.Fatalf("unexpected answer text: %q", res.Answer)
	}
}

func TestParseLLMResponse_StripsThinkSpan(t *testing.T) {
	res := ParseLLMResponse("reasoning about it</think>final answer", nil)
	if res.Outcome != OutcomeAnswer || res.Answer != "final answer" {
		t.Fatalf("expected think span stripped, got outcome=%s answer=%q", res.Outcome, res.Answer)
	}
}

func TestParseLLMResponse_FencedToolCall(t *testing.T) {
	raw := "```json\n{\"tool_name\": \"search\", \"arguments\": {\"q\": \"go\"}}\n```"
	res := ParseLLMResponse(raw, nil)
	if res.Outcome != OutcomeToolCall {
		t.Fatalf("want OutcomeToolCall, got %s", res.Outcome)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ToolName != "search" {
		t.Fatalf("unexpected tool calls: %+v", res.ToolCalls)
	}
	if res.ToolCalls[0].Arguments["q"] != "go" {
		t.Fatalf("unexpected arguments: %+v", res.ToolCalls[0].Arguments)
	}
}

func TestParseLLMResponse_BareJSONToolCallList(t *testing.T) {
	raw := `prefix text [{"tool_name": "a", "arguments": {}}, {"tool_name": "b", "arguments": {}}] suffix`
	res := ParseLLMResponse(raw, nil)
	if res.Outcome != OutcomeToolCall {
		t.Fatalf("want OutcomeToolCall, got %s: %+v", res.Outcome, res)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("want 2 tool calls, got %d", len(res.ToolCalls))
	}
}

func TestParseLLMResponse_ValidJSONMissingToolName(t *testing.T) {
	res := ParseLLMResponse(`{"foo": "bar"}`, nil)
	if res.Outcome != OutcomeErrorParse {
		t.Fatalf("want OutcomeErrorParse for JSON without tool_name, got %s", res.Outcome)
	}
	if res.Coaching == "" {
		t.Fatal("expected coaching text")
	}
}

func TestParseLLMResponse_MalformedAttemptedToolCall(t *testing.T) {
	res := ParseLLMResponse(`I'll call {"tool_name": "search", "arguments": {broken`, nil)
	if res.Outcome != OutcomeErrorParse {
		t.Fatalf("want OutcomeErrorParse for a malformed tool call attempt, got %s", res.Outcome)
	}
}

func TestParseLLMResponse_EmptyResponseTriggersDefaultReflexion(t *testing.T) {
	res := ParseLLMResponse("   ", nil)
	if res.Outcome != OutcomeErrorParse {
		t.Fatalf("want OutcomeErrorParse for an empty response, got %s", res.Outcome)
	}
}

func TestParseLLMResponse_CustomReflexionOverridesDefault(t *testing.T) {
	called := false
	custom := func(raw string) (string, bool) {
		called = true
		return "try again", true
	}
	res := ParseLLMResponse("non-empty but rejected", custom)
	if !called {
		t.Fatal("expected custom reflexion hook to be invoked")
	}
	if res.Outcome != OutcomeErrorParse || res.Coaching != "try again" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseLLMResponse_TrustModeParsed(t *testing.T) {
	raw := `{"tool_name": "calc", "arguments": {"x": 1}, "trust_mode": true}`
	res := ParseLLMResponse(raw, nil)
	if res.Outcome != OutcomeToolCall || len(res.ToolCalls) != 1 {
		t.Fatalf("unexpected parse result: %+v", res)
	}
	if !res.ToolCalls[0].TrustMode {
		t.Fatal("expected trust_mode to be true")
	}
}
