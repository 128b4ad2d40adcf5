package react

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/mas/internal/components"
	"github.com/haasonsaas/mas/internal/envelope"
	"github.com/haasonsaas/mas/internal/flows"
	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/memory"
	"github.com/haasonsaas/mas/internal/tracestore"
)

// DefaultMaxReactRounds is the default bound on REASON/ACT iterations
//.
const DefaultMaxReactRounds = 16

// Config is the static configuration of a ReAct agent.
type Config struct {
	// SelfName is the component's own registered name. Required: the
	// agent needs it to resolve its own live Descriptor (permitted
	// callees widened post hoc by MCP discovery) via Registry.Get.
	SelfName string

	// LLMModel is the registered name of the LLM component used for
	// REASON and fallback summarization.
	LLMModel string

	SystemPromptTemplate string // must contain "{{tools}}"; see DefaultSystemPromptTemplate.
	MaxReactRounds       int    // 0 uses DefaultMaxReactRounds.
	TrustMode            bool   // component-level default; a tool call's own trust_mode field can still force immediate return.

	ShortMemorySize           int
	IsRetainMasterShortMemory bool
	MasterName                string

	Weights           memory.Weights
	MemoryTokenBudget int // 0 disables weighted assembly.

	// RetrievalMode selects the tool-catalogue injection strategy when
	// Retrieval is set: "sourcing" injects only the retrieval meta-tool;
	// any other value, "" included, runs passive mode, which queries the
	// retrieval service only once the permitted set exceeds TopKTools.
	// With a nil Retrieval every permitted callee is injected, whatever
	// the mode.
	RetrievalMode             string
	TopKTools                 int
	IsRetainSubagentInToolset bool
	AppName                   string

	TeamSize int

	Reflexion ReflexionFunc
}

const (
	RetrievalModeNone     = ""
	RetrievalModeSourcing = "sourcing"
	RetrievalModePassive  = "passive"
)

// DefaultSystemPromptTemplate is a plain instructive system prompt with
// the tools catalogue inlined.
const DefaultSystemPromptTemplate = `You are an autonomous agent that solves tasks by reasoning and, when
needed, calling tools. Respond with a JSON object {"tool_name": "...",
"arguments": {...}} to call a tool, or plain text to give a final
answer.

Available tools:
{{tools}}`

// Agent implements kernel.Behaviour for the ReAct component kind
//. It holds a non-owning reference to the Registry, set during
// Init, for routing nested calls and resolving its own live permitted
// set.
type Agent struct {
	Cfg       Config
	History   tracestore.HistoryStore
	Retrieval envelope.RetrievalService
	Bus       kernel.Publisher

	reg *kernel.Registry

	mu           sync.Mutex
	teamExpanded bool
}

var _ kernel.Behaviour = (*Agent)(nil)

// Init stores the registry back-reference and, on the first call, runs
// team-mode expansion when Cfg.TeamSize > 1. It is
// idempotent: a second call is a no-op for the expansion step (L3).
func (a *Agent) Init(ctx context.Context, reg *kernel.Registry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reg = reg

	if a.teamExpanded || a.Cfg.TeamSize <= 1 {
		return nil
	}
	a.teamExpanded = true

	self, ok := reg.Get(a.Cfg.SelfName)
	if !ok {
		return fmt.Errorf("react: team expansion: %s not registered", a.Cfg.SelfName)
	}

	teamNames := make([]string, 0, a.Cfg.TeamSize)
	for i := 0; i < a.Cfg.TeamSize; i++ {
		cloneCfg := a.Cfg
		cloneCfg.TeamSize = 1
		cloneCfg.SelfName = fmt.Sprintf("%s_%d", a.Cfg.SelfName, i)

		clone := &Agent{Cfg: cloneCfg, History: a.History, Retrieval: a.Retrieval, Bus: a.Bus}
		desc := self.Descriptor.Clone()
		desc.Name = cloneCfg.SelfName

		if err := reg.Register(&kernel.Component{Descriptor: desc, Behaviour: clone, Hooks: self.Hooks}); err != nil {
			return fmt.Errorf("react: register team clone %s: %w", desc.Name, err)
		}
		teamNames = append(teamNames, desc.Name)
	}

	parallel := flows.NewParallelAgent(flows.ParallelConfig{
		SummaryLLM: a.Cfg.LLMModel,
	})
	return reg.Reconfigure(a.Cfg.SelfName, teamNames, parallel)
}

// Cleanup implements kernel.Behaviour; the agent holds no resources of
// its own.
func (a *Agent) Cleanup(ctx context.Context) error { return nil }

// Execute implements the BUILD/REASON/ACT/PARSE state machine.
func (a *Agent) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	maxRounds := a.Cfg.MaxReactRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxReactRounds
	}

	query, _ := req.Arguments["query"].(string)
	if query == "" {
		if q, ok := req.SharedData["query"].(string); ok {
			query = q
		}
	}

	permitted := a.permittedCallees(req)
	toolsDesc, err := a.toolsDescription(ctx, req, permitted, query)
	if err != nil {
		return nil, fmt.Errorf("react: tool catalogue: %w", err)
	}
	systemPrompt := a.renderSystemPrompt(toolsDesc)

	shortMemory, err := a.loadShortMemory(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("react: short memory: %w", err)
	}

	var reactMemory []kernel.Message
	var allObservations []string

	// MaxReactRounds == 0 was replaced by DefaultMaxReactRounds above, so
	// at least one REASON round always runs; there is no setting that
	// goes straight to fallback summarization without calling the LLM
	// for a round first.
	for round := 0; round < maxRounds; round++ {
		temp := a.assembleMemory(systemPrompt, shortMemory, query, reactMemory)

		raw, resp, err := a.reason(ctx, req, temp)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil // LLM call itself failed; bubble its FAILED response up.
		}

		parsed := ParseLLMResponse(raw, a.Cfg.Reflexion)
		switch parsed.Outcome {
		case OutcomeAnswer:
			return &kernel.Response{
				State:  kernel.StateCompleted,
				Output: parsed.Answer,
				Extra:  map[string]any{"react_memory": reactMemory},
			}, nil

		case OutcomeToolCall:
			observations, trustOutput, hasTrust, err := a.act(ctx, req, parsed.ToolCalls)
			if err != nil {
				return nil, err
			}
			if hasTrust {
				return &kernel.Response{
					State:  kernel.StateCompleted,
					Output: trustOutput,
					Extra:  map[string]any{"react_memory": reactMemory},
				}, nil
			}
			allObservations = append(allObservations, observations...)
			reactMemory = append(reactMemory,
				kernel.Message{Role: kernel.RoleAssistant, Content: raw},
				kernel.Message{Role: kernel.RoleUser, Content: strings.Join(observations, "\n")},
			)

		case OutcomeErrorParse:
			reactMemory = append(reactMemory,
				kernel.Message{Role: kernel.RoleAssistant, Content: raw},
				kernel.Message{Role: kernel.RoleUser, Content: parsed.Coaching},
			)
		}
	}

	return a.fallbackSummarize(ctx, req, query, allObservations, reactMemory)
}

// permittedCallees resolves the agent's live permitted set (descriptor
// plus any ExtraPermittedCallees granted post hoc, e.g. by MCP
// discovery).
func (a *Agent) permittedCallees(req *kernel.Request) []string {
	if a.reg == nil {
		return nil
	}
	self, ok := a.reg.Get(req.Callee)
	if !ok {
		return nil
	}
	return self.Descriptor.AllPermittedCallees()
}

func (a *Agent) renderSystemPrompt(toolsDesc string) string {
	tmpl := a.Cfg.SystemPromptTemplate
	if tmpl == "" {
		tmpl = DefaultSystemPromptTemplate
	}
	return strings.ReplaceAll(tmpl, "{{tools}}", toolsDesc)
}

// toolsDescription implements the tool-catalogue injection rules.
func (a *Agent) toolsDescription(ctx context.Context, req *kernel.Request, permitted []string, query string) (string, error) {
	descFor := func(name string) string {
		if a.reg == nil {
			return ""
		}
		c, ok := a.reg.Get(name)
		if !ok {
			return ""
		}
		return fmt.Sprintf("- %s: %s", name, c.Descriptor.EffectiveDescForLLM())
	}

	if a.Retrieval == nil {
		parts := make([]string, 0, len(permitted))
		for _, name := range permitted {
			if d := descFor(name); d != "" {
				parts = append(parts, d)
			}
		}
		return strings.Join(parts, "\n"), nil
	}

	if a.Cfg.RetrievalMode == RetrievalModeSourcing {
		return descFor(envelope.RetrievalCalleeName), nil
	}

	// Passive mode.
	if len(permitted) <= a.Cfg.TopKTools {
		parts := make([]string, 0, len(permitted))
		for _, name := range permitted {
			if d := descFor(name); d != "" {
				parts = append(parts, d)
			}
		}
		return strings.Join(parts, "\n"), nil
	}

	names, err := a.Retrieval.Retrieve(ctx, query, a.Cfg.AppName, a.Cfg.SelfName, a.Cfg.TopKTools)
	if err != nil {
		return "", fmt.Errorf("retrieve tools: %w", err)
	}

	selected := make(map[string]bool, len(names))
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if d := descFor(n); d != "" {
			parts = append(parts, d)
			selected[n] = true
		}
	}

	if a.Cfg.IsRetainSubagentInToolset && a.reg != nil {
		for _, name := range permitted {
			if selected[name] {
				continue
			}
			c, ok := a.reg.Get(name)
			if !ok || (c.Descriptor.Kind != kernel.KindAgent && c.Descriptor.Kind != kernel.KindFlow) {
				continue
			}
			if d := descFor(name); d != "" {
				parts = append(parts, d)
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (a *Agent) loadShortMemory(ctx context.Context, req *kernel.Request) ([]kernel.Message, error) {
	if a.History == nil {
		return nil, nil
	}
	sm := memory.NewShortMemory(a.History)
	return sm.Load(ctx, req.Caller, req.Callee, a.Cfg.IsRetainMasterShortMemory, a.Cfg.MasterName, req.RootTraceIDs, a.Cfg.ShortMemorySize)
}

// assembleMemory implements weighted memory assembly when a
// token budget is configured; otherwise short memory and react memory
// are simply concatenated in conversational order.
func (a *Agent) assembleMemory(systemPrompt string, shortMemory []kernel.Message, query string, reactMemory []kernel.Message) []kernel.Message {
	out := make([]kernel.Message, 0, len(shortMemory)+len(reactMemory)+2)
	out = append(out, kernel.Message{Role: kernel.RoleSystem, Content: systemPrompt})

	if a.Cfg.MemoryTokenBudget <= 0 {
		out = append(out, shortMemory...)
		out = append(out, kernel.Message{Role: kernel.RoleUser, Content: query})
		out = append(out, reactMemory...)
		return out
	}

	fragments := make([]memory.Fragment, 0, len(shortMemory)+len(reactMemory))
	order := 0
	for i := 0; i+1 < len(shortMemory); i += 2 {
		text := shortMemory[i].Content + "\n" + shortMemory[i+1].Content
		fragments = append(fragments, memory.Fragment{Kind: memory.KindShort, Text: text, Tokens: estimateTokens(text), Order: order})
		order++
	}
	for i := 0; i+1 < len(reactMemory); i += 2 {
		text := reactMemory[i].Content + "\n" + reactMemory[i+1].Content
		fragments = append(fragments, memory.Fragment{Kind: memory.KindReact, Text: text, Tokens: estimateTokens(text), Order: order})
		order++
	}

	assembled := memory.Assemble(fragments, a.Cfg.Weights, a.Cfg.MemoryTokenBudget)
	out = append(out, kernel.Message{Role: kernel.RoleUser, Content: query})
	for _, f := range assembled {
		out = append(out, kernel.Message{Role: kernel.RoleUser, Content: f.Text})
	}
	return out
}

func estimateTokens(text string) int {
	return len(text)/4 + 1
}

// reason implements the REASON step: call the configured LLM with the
// assembled memory. A non-nil resp return means the LLM call itself did
// not complete successfully and should be surfaced verbatim.
func (a *Agent) reason(ctx context.Context, req *kernel.Request, msgs []kernel.Message) (string, *kernel.Response, error) {
	resp, err := envelope.Call(ctx, a.reg, req, envelope.Overrides{
		Callee:    a.Cfg.LLMModel,
		Arguments: map[string]any{"messages": components.RenderMemory(msgs)},
	})
	if err != nil {
		return "", nil, err
	}
	if resp.State != kernel.StateCompleted {
		return "", resp, nil
	}
	text, _ := resp.Output.(string)
	return text, nil, nil
}

// act implements the ACT step: the requested tool calls run one after
// another, in order, under a shared parallel id, and their observations
// are collected. A call with TrustMode set returns its output at once;
// the calls after it are not made.
func (a *Agent) act(ctx context.Context, req *kernel.Request, calls []ToolCallSpec) (observations []string, trustOutput any, hasTrust bool, err error) {
	parallelID := kernel.NewNodeID()
	observations = make([]string, 0, len(calls))

	for _, call := range calls {
		resp, cerr := envelope.Call(ctx, a.reg, req, envelope.Overrides{
			Callee:     call.ToolName,
			Arguments:  call.Arguments,
			ParallelID: parallelID,
		})
		if cerr != nil {
			return nil, nil, false, cerr
		}
		if call.TrustMode {
			return nil, resp.Output, true, nil
		}
		observations = append(observations, fmt.Sprintf("Tool [%s] execution result: %v", call.ToolName, resp.Output))
	}
	return observations, nil, false, nil
}

// fallbackSummarize implements the bound-exhaustion behaviour:
// concatenate all observations and invoke the LLM once with a system
// prompt directing it to answer the original query from the accumulated
// tool results.
func (a *Agent) fallbackSummarize(ctx context.Context, req *kernel.Request, query string, observations []string, reactMemory []kernel.Message) (*kernel.Response, error) {
	prompt := fmt.Sprintf(
		"You have exhausted your reasoning budget. Using only the tool results below, answer the user's original question as best you can.\n\nOriginal question: %s\n\nTool results:\n%s",
		query, strings.Join(observations, "\n"))

	resp, err := envelope.Call(ctx, a.reg, req, envelope.Overrides{
		Callee: a.Cfg.LLMModel,
		Arguments: map[string]any{"messages": components.RenderMemory([]kernel.Message{
			{Role: kernel.RoleSystem, Content: prompt},
		})},
	})
	if err != nil {
		return nil, err
	}
	if resp.State != kernel.StateCompleted {
		return resp, nil
	}
	text, _ := resp.Output.(string)
	return &kernel.Response{
		State:  kernel.StateCompleted,
		Output: text,
		Extra:  map[string]any{"react_memory": reactMemory},
	}, nil
}
