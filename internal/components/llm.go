package components

import (
	"context"
	"fmt"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/llmclient"
)

// LLMDefaults carries the component-level and MAS-global parameter
// overlay merged onto every request.
type LLMDefaults struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	Extra       map[string]any
}

// LLM adapts an llmclient.Provider into a kernel.Behaviour, implementing
// the LLM component kind. It is stateless besides its provider
// and defaults, so Init/Cleanup are no-ops.
type LLM struct {
	Provider   llmclient.Provider
	Defaults   LLMDefaults
	Normalize  llmclient.NormalizeConfig
	Bus        kernel.Publisher // optional; emits the post-send "think" event.
	IsSendThink bool
}

var _ kernel.Behaviour = (*LLM)(nil)

// Init implements kernel.Behaviour; the LLM component has no discovery
// phase.
func (l *LLM) Init(ctx context.Context, reg *kernel.Registry) error { return nil }

// Cleanup implements kernel.Behaviour; the underlying HTTP client needs
// no explicit teardown.
func (l *LLM) Cleanup(ctx context.Context) error { return nil }

// Execute implements the LLM contract: parse arguments.messages,
// normalize multimodal parts, merge parameters, call the provider, and
// emit a "think" bus event when the model's response carried a
// <think>...</think> prefix or JSON think field.
func (l *LLM) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	msgs, err := ParseMessages(req.Arguments)
	if err != nil {
		return nil, err
	}

	msgs, err = llmclient.NormalizeMessages(ctx, msgs, l.Normalize)
	if err != nil {
		return nil, fmt.Errorf("components: multimodal normalization: %w", err)
	}

	creq := llmclient.CompletionRequest{
		Model:       l.Defaults.Model,
		Messages:    msgs,
		Temperature: l.Defaults.Temperature,
		MaxTokens:   l.Defaults.MaxTokens,
		Extra:       l.Defaults.Extra,
	}
	if model, ok := req.Arguments["model"].(string); ok && model != "" {
		creq.Model = model
	}

	result, err := l.Provider.Complete(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("components: llm completion: %w", err)
	}

	if result.HasThink && l.IsSendThink && l.Bus != nil {
		l.Bus.Publish(ctx, kernel.BusEvent{
			Kind:      kernel.EventThink,
			TraceID:   req.CurrentTraceID,
			Component: req.Callee,
			Payload:   result.ThinkText,
		})
	}

	return &kernel.Response{
		State:  kernel.StateCompleted,
		Output: result.Text,
		Extra: map[string]any{
			"finish_reason": result.FinishReason,
		},
	}, nil
}
