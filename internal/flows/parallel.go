// Package flows implements the composite orchestration patterns:
// ParallelAgent/ParallelFlow fan-out, the
// Plan-and-Solve flow, and the Reflexion flow (including its math
// specialization). Each is a kernel.Behaviour that routes exclusively
// through internal/envelope.Call, the same nested-call contract any
// other caller uses — composites are ordinary components, never a
// special case in the pipeline.
package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/mas/internal/components"
	"github.com/haasonsaas/mas/internal/envelope"
	"github.com/haasonsaas/mas/internal/kernel"
)

// ParallelConfig configures both ParallelAgent and ParallelFlow.
type ParallelConfig struct {
	// SummaryLLM is the component name used by ParallelAgent to
	// compose its aggregation call. Unused by ParallelFlow.
	SummaryLLM string
}

// ParallelAgent invokes every entry in its live permitted-callee set
// concurrently under a shared parallel_id, then composes a
// summarization LLM call over the collected outputs.
type ParallelAgent struct {
	Cfg ParallelConfig
	reg *kernel.Registry
}

// NewParallelAgent constructs a ParallelAgent. It is also the Behaviour
// team-mode expansion (react.Agent.Init) swaps a ReAct agent's
// registration to, fronting its cloned team members.
func NewParallelAgent(cfg ParallelConfig) *ParallelAgent {
	return &ParallelAgent{Cfg: cfg}
}

var _ kernel.Behaviour = (*ParallelAgent)(nil)

func (p *ParallelAgent) Init(ctx context.Context, reg *kernel.Registry) error {
	p.reg = reg
	return nil
}
func (p *ParallelAgent) Cleanup(ctx context.Context) error { return nil }

func (p *ParallelAgent) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	results, err := fanOut(ctx, p.reg, req)
	if err != nil {
		return nil, err
	}

	query, _ := req.Arguments["query"].(string)
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "[%s]: %v\n", r.callee, r.output)
	}
	prompt := fmt.Sprintf("The user's question is: %s\nSummarize the following results into a single coherent answer:\n%s", query, sb.String())

	resp, err := envelope.Call(ctx, p.reg, req, envelope.Overrides{
		Callee:    p.Cfg.SummaryLLM,
		Arguments: map[string]any{"messages": components.RenderMemory([]kernel.Message{{Role: kernel.RoleSystem, Content: prompt}})},
	})
	if err != nil {
		return nil, err
	}
	if resp.State != kernel.StateCompleted {
		return resp, nil
	}
	return &kernel.Response{State: kernel.StateCompleted, Output: resp.Output}, nil
}

// ParallelFlow invokes every entry in its live permitted-callee set
// concurrently under a shared parallel_id and returns a
// deterministic string concatenation of outputs, in permitted-list
// order.
type ParallelFlow struct {
	reg *kernel.Registry
}

var _ kernel.Behaviour = (*ParallelFlow)(nil)

func (p *ParallelFlow) Init(ctx context.Context, reg *kernel.Registry) error {
	p.reg = reg
	return nil
}
func (p *ParallelFlow) Cleanup(ctx context.Context) error { return nil }

func (p *ParallelFlow) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	results, err := fanOut(ctx, p.reg, req)
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%v", r.output)
	}
	return &kernel.Response{State: kernel.StateCompleted, Output: strings.Join(parts, "\n")}, nil
}

type fanOutResult struct {
	callee string
	output any
}

// fanOut resolves req.Callee's live permitted set and dispatches one call
// per member concurrently under a shared parallel_id. Partial failures
// become FAILED outputs in the result slice but never abort siblings
//.
func fanOut(ctx context.Context, reg *kernel.Registry, req *kernel.Request) ([]fanOutResult, error) {
	self, ok := reg.Get(req.Callee)
	if !ok {
		return nil, fmt.Errorf("flows: %s not registered", req.Callee)
	}
	callees := self.Descriptor.AllPermittedCallees()
	parallelID := kernel.NewNodeID()

	type indexed struct {
		i   int
		res fanOutResult
		err error
	}
	ch := make(chan indexed, len(callees))
	for i, callee := range callees {
		go func(i int, callee string) {
			resp, err := envelope.Call(ctx, reg, req, envelope.Overrides{
				Callee:     callee,
				Arguments:  req.Arguments,
				ParallelID: parallelID,
			})
			if err != nil {
				ch <- indexed{i: i, err: err}
				return
			}
			ch <- indexed{i: i, res: fanOutResult{callee: callee, output: resp.Output}}
		}(i, callee)
	}

	out := make([]fanOutResult, len(callees))
	var firstErr error
	for range callees {
		r := <-ch
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		out[r.i] = r.res
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
