package flows

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/mas/internal/envelope"
	"github.com/haasonsaas/mas/internal/kernel"
)

// reflexionEval is the evaluator's JSON schema.
type reflexionEval struct {
	IsSatisfactory bool   `json:"is_satisfactory"`
	Reason         string `json:"reason"`
	Suggestion     string `json:"suggestion"`
}

// ImprovementTemplateFunc rewrites the query for the next round given the
// original query, the evaluator's suggestion, and the worker's last answer.
type ImprovementTemplateFunc func(original, suggestion, answer string) string

// DefaultImprovementTemplate is the plain feedback-rewrite template.
func DefaultImprovementTemplate(original, suggestion, answer string) string {
	return fmt.Sprintf(
		"Original question: %s\nYour previous answer: %s\nReviewer feedback: %s\nRevise your answer to address the feedback.",
		original, answer, suggestion,
	)
}

// ReflexionConfig configures a Reflexion flow.
type ReflexionConfig struct {
	WorkerAgent         string
	ReflexionAgent      string
	FallbackLLM         string // used only if MaxRounds is exhausted with no satisfactory verdict.
	MaxRounds           int
	ImprovementTemplate ImprovementTemplateFunc
	// EvalPrompt formats the evaluator's call arguments from the
	// original query, round answer, and round number. Math
	// specialization overrides this to ask about calculation/approach/
	// answer clarity instead of generic satisfaction.
	EvalPrompt func(query, answer string, round int) string
}

func defaultEvalPrompt(query, answer string, round int) string {
	return fmt.Sprintf(
		"Question: %s\nCandidate answer (round %d): %s\nEvaluate whether this answer is satisfactory. Respond as JSON: {\"is_satisfactory\": bool, \"reason\": string, \"suggestion\": string}.",
		query, round, answer,
	)
}

// Reflexion implements the worker/evaluator self-critique loop.
type Reflexion struct {
	Cfg ReflexionConfig
	reg *kernel.Registry
}

var _ kernel.Behaviour = (*Reflexion)(nil)

// NewReflexion constructs a generic Reflexion flow, filling in defaults.
func NewReflexion(cfg ReflexionConfig) *Reflexion {
	if cfg.ImprovementTemplate == nil {
		cfg.ImprovementTemplate = DefaultImprovementTemplate
	}
	if cfg.EvalPrompt == nil {
		cfg.EvalPrompt = defaultEvalPrompt
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	return &Reflexion{Cfg: cfg}
}

// NewMathReflexion constructs the math specialization: the
// evaluator is prompted to check calculation steps, approach clarity and
// answer clarity rather than generic satisfaction, and the default
// component names follow math-specific naming.
func NewMathReflexion(workerAgent, reflexionAgent, fallbackLLM string, maxRounds int) *Reflexion {
	if workerAgent == "" {
		workerAgent = "math_solver"
	}
	if reflexionAgent == "" {
		reflexionAgent = "math_reflexion"
	}
	return NewReflexion(ReflexionConfig{
		WorkerAgent:    workerAgent,
		ReflexionAgent: reflexionAgent,
		FallbackLLM:    fallbackLLM,
		MaxRounds:      maxRounds,
		EvalPrompt: func(query, answer string, round int) string {
			return fmt.Sprintf(
				"Math problem: %s\nCandidate solution (round %d): %s\n"+
					"Check the calculation steps, the clarity of the approach, and the clarity of the final answer. "+
					"Respond as JSON: {\"is_satisfactory\": bool, \"reason\": string, \"suggestion\": string}.",
				query, round, answer,
			)
		},
	})
}

func (f *Reflexion) Init(ctx context.Context, reg *kernel.Registry) error {
	f.reg = reg
	return nil
}
func (f *Reflexion) Cleanup(ctx context.Context) error { return nil }

func (f *Reflexion) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	query, _ := req.Arguments["query"].(string)

	currentQuery := query
	var lastAnswer string

	maxRounds := f.Cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	for round := 1; round <= maxRounds; round++ {
		workResp, err := envelope.Call(ctx, f.reg, req, envelope.Overrides{
			Callee:    f.Cfg.WorkerAgent,
			Arguments: map[string]any{"query": currentQuery},
		})
		if err != nil {
			return nil, err
		}
		if workResp.State != kernel.StateCompleted {
			return workResp, nil
		}
		lastAnswer = fmt.Sprintf("%v", workResp.Output)

		evalResp, err := envelope.Call(ctx, f.reg, req, envelope.Overrides{
			Callee:    f.Cfg.ReflexionAgent,
			Arguments: map[string]any{"query": f.Cfg.EvalPrompt(query, lastAnswer, round)},
		})
		if err != nil {
			return nil, err
		}
		if evalResp.State != kernel.StateCompleted {
			return evalResp, nil
		}

		text, _ := evalResp.Output.(string)
		var eval reflexionEval
		if err := json.Unmarshal([]byte(text), &eval); err != nil {
			return kernel.NewFailedResponse(req, fmt.Sprintf("flows: reflexion eval schema parse failed: %v", err), ""), nil
		}

		// B3: exactly one round when satisfactory on the first pass.
		if eval.IsSatisfactory {
			return &kernel.Response{
				State:  kernel.StateCompleted,
				Output: fmt.Sprintf("Final answer optimized through %d rounds: %s", round, lastAnswer),
			}, nil
		}

		currentQuery = f.Cfg.ImprovementTemplate(query, eval.Suggestion, lastAnswer)
	}

	return f.llmFallback(ctx, req, query, lastAnswer, maxRounds)
}

func (f *Reflexion) llmFallback(ctx context.Context, req *kernel.Request, query, lastAnswer string, rounds int) (*kernel.Response, error) {
	if f.Cfg.FallbackLLM == "" {
		return &kernel.Response{
			State:  kernel.StateCompleted,
			Output: fmt.Sprintf("Final answer optimized through %d rounds: %s", rounds, lastAnswer),
		}, nil
	}
	prompt := fmt.Sprintf(
		"Reflexion exceeded its round budget without a satisfactory verdict. Original question: %s\nLast candidate answer: %s\nGive the best final answer you can.",
		query, lastAnswer,
	)
	resp, err := envelope.Call(ctx, f.reg, req, envelope.Overrides{
		Callee:    f.Cfg.FallbackLLM,
		Arguments: map[string]any{"messages": []any{map[string]any{"role": "system", "content": prompt}}},
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
