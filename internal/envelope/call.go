// Package envelope implements the cross-component call protocol
// (OxyRequest.call): deep-copy-with-overrides, permission enforcement,
// parallel-group bookkeeping, and the root-trace ancestor chain used by
// memory queries.
package envelope

import (
	"context"
	"fmt"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/policy"
)

// Overrides carries the fields a nested call customizes on top of a
// deep-copy of the parent Request.
type Overrides struct {
	Callee     string
	Arguments  map[string]any
	ParallelID string
	PreNodeIDs []string
}

// Caller abstracts the registry lookups Call needs, so envelope depends
// only on the narrow surface it uses from kernel.Registry.
type Caller interface {
	Get(name string) (*kernel.Component, bool)
	Execute(ctx context.Context, name string, req *kernel.Request) (*kernel.Response, error)
}

// Call produces a deep copy of parent with the given overrides applied,
// enforces the permission policy, and dispatches through reg. It is the
// single implementation of the nested-call contract, used by the ReAct
// agent and the flows; the top-level entry points (MAS.Chat, Dispatch)
// call Registry.Execute directly.
func Call(ctx context.Context, reg Caller, parent *kernel.Request, ov Overrides) (*kernel.Response, error) {
	child := parent.Clone()
	child.Caller = parent.Callee
	child.CallerCategory = categoryFor(parent)
	child.Callee = ov.Callee
	child.NodeID = ""
	if ov.Arguments != nil {
		child.Arguments = ov.Arguments
	}

	// Parallel-group bookkeeping: append to an existing group's member
	// list, or seed a new group from the parent's latest node ids.
	if ov.ParallelID != "" {
		child.ParallelID = ov.ParallelID
		if _, exists := child.ParallelDict[ov.ParallelID]; !exists {
			if child.ParallelDict == nil {
				child.ParallelDict = make(map[string][]string)
			}
			child.ParallelDict[ov.ParallelID] = append([]string(nil), parent.LatestNodeIDs...)
		}
	}
	child.FatherNodeID = parent.NodeID
	if ov.PreNodeIDs != nil {
		child.PreNodeIDs = ov.PreNodeIDs
	} else if ov.ParallelID != "" {
		child.PreNodeIDs = append([]string(nil), child.ParallelDict[ov.ParallelID]...)
	} else {
		child.PreNodeIDs = append([]string(nil), parent.LatestNodeIDs...)
	}

	callee, ok := reg.Get(ov.Callee)
	if !ok {
		return kernel.NewFailedResponse(child, fmt.Sprintf("Tool %s not exists", ov.Callee), ""), nil
	}

	var callerDesc *kernel.Descriptor
	if caller, ok := reg.Get(parent.Callee); ok {
		callerDesc = &caller.Descriptor
	}
	if !policy.IsPermitted(child.CallerCategory, callerDesc, callee.Descriptor) {
		return &kernel.Response{
			State:      kernel.StateSkipped,
			Output:     fmt.Sprintf("No permission for tool: %s", ov.Callee),
			OxyRequest: child,
		}, nil
	}

	resp, err := reg.Execute(ctx, ov.Callee, child)
	if err != nil {
		return nil, err
	}

	if ov.ParallelID != "" {
		child.ParallelDict[ov.ParallelID] = append(child.ParallelDict[ov.ParallelID], child.NodeID)
	}
	return resp, nil
}

// categoryFor reports the caller_category the child request should carry:
// "user" for the very first dispatch (no callee set yet on the parent),
// otherwise the parent's own callee name.
func categoryFor(parent *kernel.Request) string {
	if parent.Callee == "" {
		return "user"
	}
	return parent.Callee
}
