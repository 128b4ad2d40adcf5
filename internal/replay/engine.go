// Package replay implements the restart/replay engine:
// deterministic re-execution of a prior trace with surgical substitution
// of a single node's output, matched by input hash rather than node id so
// agents may reorder tool calls across runs while still reusing costly
// identical computations.
package replay

import (
	"context"
	"fmt"

	"github.com/haasonsaas/mas/internal/kernel"
)

// Engine consults a NodeStore for stage-5 restart interception. It
// implements kernel.ReplayLookup.
type Engine struct {
	nodes kernel.NodeStore
}

// New wraps nodes as a replay Engine.
func New(nodes kernel.NodeStore) *Engine {
	return &Engine{nodes: nodes}
}

var _ kernel.ReplayLookup = (*Engine)(nil)

// Intercept implements the restart matching rule. Matching is by input hash
// within req.ReferenceTraceID, not by node id: this lets agents reorder
// tool calls across runs while still reusing costly identical
// computations.
func (e *Engine) Intercept(ctx context.Context, req *kernel.Request) (*kernel.Response, bool, error) {
	if e.nodes == nil || req.ReferenceTraceID == "" {
		return nil, false, nil
	}

	rec, ok, err := e.nodes.FindByInputHash(ctx, req.ReferenceTraceID, req.InputMD5)
	if err != nil {
		return nil, false, fmt.Errorf("replay: find node by input hash: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	switch {
	case rec.UpdateTime.Before(req.RestartNodeOrder):
		// Prior node predates the restart cut-off: reuse its stored
		// output verbatim, keeping its original state.
		return &kernel.Response{
			State:  rec.State,
			Output: rec.Output,
			Extra:  rec.Extra,
		}, true, nil

	case rec.UpdateTime.Equal(req.RestartNodeOrder) && req.RestartNodeOutput != nil:
		// Exactly the operator-designated restart node: substitute the
		// override once, then clear IsLoadDataForRestart so every
		// subsequent node (including later calls to this same
		// component) re-executes fresh.
		req.IsLoadDataForRestart = false
		return &kernel.Response{
			State:  kernel.StateCompleted,
			Output: req.RestartNodeOutput,
		}, true, nil

	default:
		return nil, false, nil
	}
}

// PrepareRestart populates req.RestartNodeOrder and, when omitted,
// req.ReferenceTraceID from the referenced restart node: the runtime
// fetches the referenced node record and saves its update_time as
// RestartNodeOrder. fromTraceID is the session's prior trace, used as the
// auto-populated reference when the caller left ReferenceTraceID blank
// but supplied a RestartNodeID.
func PrepareRestart(ctx context.Context, nodes kernel.NodeStore, req *kernel.Request, fromTraceID string) error {
	if req.RestartNodeID == "" {
		return nil
	}
	if req.ReferenceTraceID == "" {
		req.ReferenceTraceID = fromTraceID
	}
	if nodes == nil {
		return nil
	}
	rec, ok, err := nodes.Get(ctx, req.RestartNodeID)
	if err != nil {
		return fmt.Errorf("replay: fetch restart node %s: %w", req.RestartNodeID, err)
	}
	if !ok {
		return fmt.Errorf("replay: restart node %s not found", req.RestartNodeID)
	}
	req.RestartNodeOrder = rec.UpdateTime
	req.IsLoadDataForRestart = true
	return nil
}
