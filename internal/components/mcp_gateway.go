package components

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/mcp"
)

// MCPGateway is the MCP client component: on Init it
// spawns/connects to a remote tool server via mcp.Manager and, for every
// discovered tool, synthesizes and registers a derived MCPTool component
// named after the tool, with Desc/InputSchema taken from the server.
// Registration happens during the init() discovery phase, before the
// registry is frozen read-only for dispatch.
type MCPGateway struct {
	Manager  *mcp.Manager
	ServerID string

	// GrantTo, when non-empty, is the name of the agent that should
	// receive every discovered tool in its ExtraPermittedCallees, so a
	// single gateway registration is immediately callable from that
	// agent's ReAct loop.
	GrantTo string

	// Defaults applied to every synthesized MCPTool's Descriptor.
	SemaphoreLimit int
	Timeout        time.Duration

	Logger *slog.Logger

	registered map[string]bool
}

var _ kernel.Behaviour = (*MCPGateway)(nil)

// Init connects to the configured server (a no-op if already connected)
// and registers one Component per discovered tool. It is idempotent
// (L3): a tool already registered by a prior Init call is skipped.
func (g *MCPGateway) Init(ctx context.Context, reg *kernel.Registry) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if g.registered == nil {
		g.registered = make(map[string]bool)
	}

	client, ok := g.Manager.Client(g.ServerID)
	if !ok {
		if err := g.Manager.Connect(ctx, g.ServerID); err != nil {
			return fmt.Errorf("components: mcp gateway connect %s: %w", g.ServerID, err)
		}
		client, _ = g.Manager.Client(g.ServerID)
	}

	for _, tool := range client.Tools() {
		if g.registered[tool.Name] {
			continue
		}

		var schema map[string]any
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				logger.Warn("mcp tool schema decode failed", "tool", tool.Name, "error", err)
				schema = nil
			}
		}

		semLimit := g.SemaphoreLimit
		if semLimit < 1 {
			semLimit = 4
		}
		timeout := g.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		comp := &kernel.Component{
			Descriptor: kernel.Descriptor{
				Name:           tool.Name,
				Kind:           kernel.KindTool,
				ClassName:      "MCPTool",
				Desc:           tool.Description,
				DescForLLM:     tool.Description,
				InputSchema:    schema,
				SemaphoreLimit: semLimit,
				Timeout:        timeout,
				IsSaveData:     true,
				IsSendToolCall: true,
			},
			Behaviour: &MCPTool{Client: client, ToolName: tool.Name},
		}
		if err := reg.Register(comp); err != nil {
			logger.Warn("mcp tool registration skipped", "tool", tool.Name, "error", err)
			continue
		}
		g.registered[tool.Name] = true

		if g.GrantTo != "" {
			if err := reg.GrantCallee(g.GrantTo, tool.Name); err != nil {
				logger.Warn("grant mcp tool to agent failed", "agent", g.GrantTo, "tool", tool.Name, "error", err)
			}
		}
	}
	return nil
}

// Execute is never called directly: the gateway itself is not dispatched
// by users, only its Init discovery phase runs. Calls are expected to
// target the synthesized per-tool components instead.
func (g *MCPGateway) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	return nil, fmt.Errorf("components: mcp gateway %s is not directly callable", g.ServerID)
}

// Cleanup disconnects the gateway's server connection. Errors are
// swallowed by the registry's CleanupAll, matching 's "idempotent,
// guarded by a lock, and swallows exceptions" requirement (the lock is
// mcp.Manager's own internal mutex).
func (g *MCPGateway) Cleanup(ctx context.Context) error {
	return g.Manager.Disconnect(g.ServerID)
}
