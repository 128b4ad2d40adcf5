// Package components supplies the kernel.Behaviour implementations for
// the leaf component kinds: LLM clients, local-function tools, HTTP
// tools, MCP-forwarded tools, and the Workflow escape hatch. Composite
// agent/flow kinds (ReAct, Parallel, PlanAndSolve, Reflexion) live in
// internal/react and
// internal/flows, which call components.LLM/Tool through
// internal/envelope.Call like any other caller.
package components

import (
	"fmt"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/llmclient"
)

// ParseMessages decodes req.Arguments["messages"] into llmclient.Message values.
func ParseMessages(arguments map[string]any) ([]llmclient.Message, error) {
	raw, ok := arguments["messages"]
	if !ok {
		return nil, fmt.Errorf("components: arguments.messages is required")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("components: arguments.messages must be a list")
	}

	out := make([]llmclient.Message, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("components: messages[%d] must be an object", i)
		}
		role, _ := m["role"].(string)
		msg := llmclient.Message{Role: role}

		switch content := m["content"].(type) {
		case string:
			msg.Text = content
		case []any:
			parts := make([]llmclient.Part, 0, len(content))
			for _, pi := range content {
				pm, ok := pi.(map[string]any)
				if !ok {
					continue
				}
				p := llmclient.Part{}
				if t, ok := pm["type"].(string); ok {
					p.Type = llmclient.PartType(t)
				}
				if t, ok := pm["text"].(string); ok {
					p.Text = t
				}
				if u, ok := pm["image_url"].(string); ok {
					p.URL = u
				}
				if u, ok := pm["video_url"].(string); ok {
					p.URL = u
				}
				if u, ok := pm["url"].(string); ok && p.URL == "" {
					p.URL = u
				}
				parts = append(parts, p)
			}
			msg.Parts = parts
		case nil:
			// Empty content is valid (e.g. an assistant turn carrying
			// only tool_calls); leave msg.Text as "".
		default:
			return nil, fmt.Errorf("components: messages[%d].content has unsupported type %T", i, content)
		}
		out = append(out, msg)
	}
	return out, nil
}

// RenderMemory turns a kernel.Memory into the []any shape
// arguments["messages"] expects, the inverse of ParseMessages for the
// common case of plain-text turns (ReAct/flows build memory this way).
func RenderMemory(mem []kernel.Message) []any {
	out := make([]any, 0, len(mem))
	for _, m := range mem {
		out = append(out, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	return out
}
