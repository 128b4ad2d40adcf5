package flows

import (
	"encoding/json"
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/mas/internal/envelope"
	"github.com/haasonsaas/mas/internal/kernel"
)

// Plan is the planner/replanner JSON schema {steps: [string]}.
type Plan struct {
	Steps []string `json:"steps"`
}

// PlanResponse is the replanner's early-exit schema {response: string}.
type PlanResponse struct {
	Response string `json:"response"`
}

// PlanAction is the replanner's output schema: {action: Response | Plan}.
type PlanAction struct {
	Action json.RawMessage `json:"action"`
}

// pastStep records one executed plan step and its result.
type pastStep struct {
	Task   string
	Output string
}

// PlanAndSolveConfig configures a PlanAndSolve flow.
type PlanAndSolveConfig struct {
	PlannerAgent     string
	ExecutorAgent    string
	ReplannerAgent   string // empty disables replanning.
	FallbackLLM      string // used only if the round budget is exhausted.
	MaxReplanRounds  int
	PrePlanSteps     []string // non-nil skips the planner call.
}

// PlanAndSolve implements the plan/execute/replan loop.
type PlanAndSolve struct {
	Cfg PlanAndSolveConfig
	reg *kernel.Registry
}

var _ kernel.Behaviour = (*PlanAndSolve)(nil)

func (f *PlanAndSolve) Init(ctx context.Context, reg *kernel.Registry) error {
	f.reg = reg
	return nil
}
func (f *PlanAndSolve) Cleanup(ctx context.Context) error { return nil }

func (f *PlanAndSolve) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	query, _ := req.Arguments["query"].(string)

	steps := f.Cfg.PrePlanSteps
	if steps == nil {
		plan, resp, err := f.callForPlan(ctx, req, f.Cfg.PlannerAgent, query)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
		steps = plan.Steps
	}

	// B2: no steps and nothing to execute yet.
	if len(steps) == 0 {
		return &kernel.Response{State: kernel.StateCompleted, Output: ""}, nil
	}

	var past []pastStep
	var lastOutput string

	maxRounds := f.Cfg.MaxReplanRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	for round := 0; round < maxRounds; round++ {
		if len(steps) == 0 {
			return &kernel.Response{State: kernel.StateCompleted, Output: lastOutput}, nil
		}

		task := steps[0]
		execResp, err := envelope.Call(ctx, f.reg, req, envelope.Overrides{
			Callee:    f.Cfg.ExecutorAgent,
			Arguments: map[string]any{"query": formatExecutorTask(task, past)},
		})
		if err != nil {
			return nil, err
		}
		if execResp.State != kernel.StateCompleted {
			return execResp, nil
		}
		lastOutput = fmt.Sprintf("%v", execResp.Output)
		past = append(past, pastStep{Task: task, Output: lastOutput})

		if f.Cfg.ReplannerAgent == "" {
			steps = steps[1:]
			if len(steps) == 0 {
				return &kernel.Response{State: kernel.StateCompleted, Output: lastOutput}, nil
			}
			continue
		}

		action, resp, err := f.callForAction(ctx, req, query, steps, past)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
		if action.isResponse {
			return &kernel.Response{State: kernel.StateCompleted, Output: action.response}, nil
		}
		steps = action.steps
	}

	return f.llmFallback(ctx, req, query, steps)
}

func (f *PlanAndSolve) callForPlan(ctx context.Context, req *kernel.Request, agentName, query string) (Plan, *kernel.Response, error) {
	resp, err := envelope.Call(ctx, f.reg, req, envelope.Overrides{
		Callee:    agentName,
		Arguments: map[string]any{"query": query},
	})
	if err != nil {
		return Plan{}, nil, err
	}
	if resp.State != kernel.StateCompleted {
		return Plan{}, resp, nil
	}
	text, _ := resp.Output.(string)
	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return Plan{}, kernel.NewFailedResponse(req, fmt.Sprintf("flows: plan schema parse failed: %v", err), ""), nil
	}
	return plan, nil, nil
}

type replanAction struct {
	isResponse bool
	response   string
	steps      []string
}

func (f *PlanAndSolve) callForAction(ctx context.Context, req *kernel.Request, originalQuery string, steps []string, past []pastStep) (replanAction, *kernel.Response, error) {
	query := formatReplannerQuery(originalQuery, steps, past)
	resp, err := envelope.Call(ctx, f.reg, req, envelope.Overrides{
		Callee:    f.Cfg.ReplannerAgent,
		Arguments: map[string]any{"query": query},
	})
	if err != nil {
		return replanAction{}, nil, err
	}
	if resp.State != kernel.StateCompleted {
		return replanAction{}, resp, nil
	}
	text, _ := resp.Output.(string)

	var action PlanAction
	if err := json.Unmarshal([]byte(text), &action); err != nil {
		return replanAction{}, kernel.NewFailedResponse(req, fmt.Sprintf("flows: action schema parse failed: %v", err), ""), nil
	}

	var asResponse PlanResponse
	if err := json.Unmarshal(action.Action, &asResponse); err == nil && asResponse.Response != "" {
		return replanAction{isResponse: true, response: asResponse.Response}, nil, nil
	}
	var asPlan Plan
	if err := json.Unmarshal(action.Action, &asPlan); err == nil {
		return replanAction{steps: asPlan.Steps}, nil, nil
	}
	return replanAction{}, kernel.NewFailedResponse(req, "flows: action.action matched neither Response nor Plan schema", ""), nil
}

func (f *PlanAndSolve) llmFallback(ctx context.Context, req *kernel.Request, query string, remaining []string) (*kernel.Response, error) {
	if f.Cfg.FallbackLLM == "" {
		return &kernel.Response{State: kernel.StateCompleted, Output: ""}, nil
	}
	prompt := fmt.Sprintf("Replanning exceeded its round budget. Original question: %s\nRemaining steps: %s\nGive the best final answer you can.",
		query, strings.Join(remaining, "; "))
	resp, err := envelope.Call(ctx, f.reg, req, envelope.Overrides{
		Callee:    f.Cfg.FallbackLLM,
		Arguments: map[string]any{"messages": []any{map[string]any{"role": "system", "content": prompt}}},
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func formatExecutorTask(task string, past []pastStep) string {
	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(task)
	if len(past) > 0 {
		sb.WriteString("\nPrior steps completed:\n")
		for _, p := range past {
			fmt.Fprintf(&sb, "- %s -> %s\n", p.Task, p.Output)
		}
	}
	return sb.String()
}

func formatReplannerQuery(originalQuery string, steps []string, past []pastStep) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original objective: %s\n", originalQuery)
	sb.WriteString("Remaining planned steps:\n")
	for _, s := range steps {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	sb.WriteString("Completed steps and their results:\n")
	for _, p := range past {
		fmt.Fprintf(&sb, "- %s -> %s\n", p.Task, p.Output)
	}
	return sb.String()
}
