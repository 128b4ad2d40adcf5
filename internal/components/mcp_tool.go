package components

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/mcp"
)

// MCPCaller is the narrow mcp.Client surface a forwarded tool needs.
type MCPCaller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// MCPTool forwards its envelope to the parent MCP client's
// session.call_tool(name, arguments). It is synthesized once per
// discovered remote tool by MCPGateway.Init and registered into the MAS
// registry under the tool's own name.
type MCPTool struct {
	Client   MCPCaller
	ToolName string
}

var _ kernel.Behaviour = (*MCPTool)(nil)

func (t *MCPTool) Init(ctx context.Context, reg *kernel.Registry) error { return nil }
func (t *MCPTool) Cleanup(ctx context.Context) error                    { return nil }

// Execute forwards the call and extracts the textual result parts: a
// single text part becomes a bare string, multiple parts become a list
//.
func (t *MCPTool) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	result, err := t.Client.CallTool(ctx, t.ToolName, req.Arguments)
	if err != nil {
		return nil, fmt.Errorf("components: mcp tool %s: %w", t.ToolName, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("components: mcp tool %s returned an error: %s", t.ToolName, joinText(result))
	}

	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}

	var output any
	switch len(texts) {
	case 0:
		output = ""
	case 1:
		output = texts[0]
	default:
		list := make([]any, len(texts))
		for i, s := range texts {
			list[i] = s
		}
		output = list
	}

	return &kernel.Response{State: kernel.StateCompleted, Output: output}, nil
}

func joinText(result *mcp.ToolCallResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "; ")
}
