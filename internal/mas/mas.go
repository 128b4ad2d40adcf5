// Package mas assembles the execution kernel, stores, bus, restart
// engine, schema validator and policy resolver into the inbound dispatch
// surface: chat, batch and get_organization.
package mas

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/mas/internal/bus"
	"github.com/haasonsaas/mas/internal/envelope"
	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/replay"
	"github.com/haasonsaas/mas/internal/schema"
	"github.com/haasonsaas/mas/internal/tracestore"
)

// Stores bundles the three append-oriented persistence streams plus
// the node store the replay engine reads from. A single backend (e.g.
// fsstore.Store) commonly satisfies all four.
type Stores struct {
	Trace   tracestore.TraceStore
	Node    kernel.NodeStore
	Message tracestore.MessageStore
	History tracestore.HistoryStore
}

// Config configures a MAS instance.
type Config struct {
	MasterAgent string
	Stores      Stores
	Logger      *slog.Logger
	// Metrics and Tracer are optional; internal/telemetry ships
	// Prometheus and OpenTelemetry implementations. Leaving either nil
	// disables that signal without touching the pipeline.
	Metrics kernel.MetricsSink
	Tracer  kernel.Tracer
}

// MAS is the top-level orchestrator: one component registry, its
// supporting stores, message bus and restart engine.
type MAS struct {
	Registry    *kernel.Registry
	Bus         *bus.Bus
	Stores      Stores
	Replay      *replay.Engine
	Validator   *schema.Validator
	masterAgent string
	logger      *slog.Logger
}

// New constructs a MAS. Callers register every component on Registry and
// call InitAll before the first Chat/Batch dispatch.
func New(cfg Config) *MAS {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := bus.New()
	validator := schema.New()
	replayEngine := replay.New(cfg.Stores.Node)

	reg := kernel.NewRegistry(cfg.Logger, kernel.Deps{
		Nodes:     cfg.Stores.Node,
		Bus:       b,
		Validator: validator,
		Replay:    replayEngine,
		Metrics:   cfg.Metrics,
		Tracer:    cfg.Tracer,
	})

	return &MAS{
		Registry:    reg,
		Bus:         b,
		Stores:      cfg.Stores,
		Replay:      replayEngine,
		Validator:   validator,
		masterAgent: cfg.MasterAgent,
		logger:      cfg.Logger,
	}
}

// Init runs Behaviour.Init across every registered component.
func (m *MAS) Init(ctx context.Context) error {
	return m.Registry.InitAll(ctx)
}

// Shutdown runs Behaviour.Cleanup across every registered component in
// reverse registration order. It does not close bus queues.
func (m *MAS) Shutdown(ctx context.Context) {
	m.Registry.CleanupAll(ctx)
}

// ChatRequest is the decoded form of the inbound chat() payload.
type ChatRequest struct {
	Query             string
	FromTraceID       string
	Callee            string
	Attachments       []string
	SharedData        map[string]any
	ReferenceTraceID  string
	RestartNodeID     string
	RestartNodeOutput any
}

// Chat implements the chat(payload) dispatch surface: resolves the
// root-trace ancestor chain, prepares any active restart,
// persists the trace record, and executes through the callee (defaulting
// to the configured master agent).
func (m *MAS) Chat(ctx context.Context, payload ChatRequest) (*kernel.Response, error) {
	callee := payload.Callee
	if callee == "" {
		callee = m.masterAgent
	}

	var history envelope.HistoryLookup = noopHistory{}
	if m.Stores.Trace != nil {
		history = m.Stores.Trace
	}

	rootTraceIDs, err := envelope.ResolveRootTraceIDs(ctx, history, payload.FromTraceID)
	if err != nil {
		return nil, fmt.Errorf("mas: resolve root trace ids: %w", err)
	}

	sharedData := make(map[string]any, len(payload.SharedData)+2)
	for k, v := range payload.SharedData {
		sharedData[k] = v
	}
	sharedData["query"] = payload.Query
	if len(payload.Attachments) > 0 {
		sharedData["attachments"] = payload.Attachments
	}

	req := &kernel.Request{
		CurrentTraceID:   kernel.NewNodeID(),
		FromTraceID:      payload.FromTraceID,
		RootTraceIDs:     rootTraceIDs,
		CallerCategory:   "user",
		Arguments:        map[string]any{"query": payload.Query},
		SharedData:       sharedData,
		IsSaveHistory:    true,
		ReferenceTraceID: payload.ReferenceTraceID,
		RestartNodeID:    payload.RestartNodeID,
		RestartNodeOutput: payload.RestartNodeOutput,
	}

	if err := replay.PrepareRestart(ctx, m.Stores.Node, req, payload.FromTraceID); err != nil {
		return nil, fmt.Errorf("mas: prepare restart: %w", err)
	}

	if m.Stores.Trace != nil {
		if err := m.Stores.Trace.SaveTrace(ctx, tracestore.TraceRecord{
			TraceID:      req.CurrentTraceID,
			RootTraceIDs: rootTraceIDs,
		}); err != nil {
			m.logger.Warn("save trace record failed", "trace_id", req.CurrentTraceID, "error", err)
		}
	}

	resp, err := m.Registry.Execute(ctx, callee, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// BatchResult pairs one query's output with its trace id.
type BatchResult struct {
	Output  any
	TraceID string
	Err     error
}

// Batch implements batch(queries[]): parallel dispatch, one trace
// per query.
func (m *MAS) Batch(ctx context.Context, queries []string) []BatchResult {
	out := make([]BatchResult, len(queries))
	type indexed struct {
		i   int
		res BatchResult
	}
	ch := make(chan indexed, len(queries))
	for i, q := range queries {
		go func(i int, q string) {
			resp, err := m.Chat(ctx, ChatRequest{Query: q})
			if err != nil {
				ch <- indexed{i: i, res: BatchResult{Err: err}}
				return
			}
			ch <- indexed{i: i, res: BatchResult{Output: resp.Output, TraceID: resp.OxyRequest.CurrentTraceID}}
		}(i, q)
	}
	for range queries {
		r := <-ch
		out[r.i] = r.res
	}
	return out
}

// OrganizationView is the read-only tree returned by get_organization(),
// with an id-index for direct lookup by name.
type OrganizationView struct {
	Tree  *kernel.OrganizationTree
	Index map[string]*kernel.OrganizationTree
}

// GetOrganization implements get_organization().
func (m *MAS) GetOrganization() OrganizationView {
	tree := m.Registry.BuildOrganizationTree(m.masterAgent)
	index := make(map[string]*kernel.OrganizationTree)
	var walk func(n *kernel.OrganizationTree)
	walk = func(n *kernel.OrganizationTree) {
		if n == nil {
			return
		}
		index[n.Name] = n
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree)
	return OrganizationView{Tree: tree, Index: index}
}

type noopHistory struct{}

func (noopHistory) RootTraceIDs(ctx context.Context, traceID string) ([]string, error) {
	return nil, nil
}
