package components

import (
	"context"

	"github.com/haasonsaas/mas/internal/kernel"
)

// WorkflowFunc is the user-supplied function backing a Workflow component
//: f(OxyRequest) -> any.
type WorkflowFunc func(ctx context.Context, req *kernel.Request) (any, error)

// Workflow wraps f so the standard pipeline (retry/timeout/error path)
// still applies around arbitrary user code (: "The agent runtime
// simply wraps f's return into an OxyResponse(COMPLETED), with the
// entire pipeline still applied. Exceptions surface through the standard
// retry/error path.").
type Workflow struct {
	Func WorkflowFunc
}

var _ kernel.Behaviour = (*Workflow)(nil)

func (w *Workflow) Init(ctx context.Context, reg *kernel.Registry) error { return nil }
func (w *Workflow) Cleanup(ctx context.Context) error                    { return nil }

func (w *Workflow) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	out, err := w.Func(ctx, req)
	if err != nil {
		return nil, err
	}
	return &kernel.Response{State: kernel.StateCompleted, Output: out}, nil
}
