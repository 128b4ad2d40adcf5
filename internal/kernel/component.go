package kernel

import "context"

// Behaviour is the kind-specific strategy a Component supplies to the
// shared pipeline. It replaces the deep Oxy class hierarchy with a single
// tagged-variant interface: the dispatcher in pipeline.go is the only
// place that knows about the 13 stages, and Behaviour.Execute is stage 10.
type Behaviour interface {
	// Init runs exactly once before the component serves its first
	// request. Implementations must be idempotent: a second call (e.g.
	// after a registry reload) must not duplicate side effects such as
	// MCP tool discovery or team-mode clone registration.
	Init(ctx context.Context, reg *Registry) error

	// Execute performs the component's actual work (stage 10). It must
	// respect ctx cancellation/deadline; the dispatcher wraps it with
	// the component's configured timeout.
	Execute(ctx context.Context, req *Request) (*Response, error)

	// Cleanup runs once at MAS shutdown. Errors are logged, never
	// fatal.
	Cleanup(ctx context.Context) error
}

// Hooks are the user-overridable pipeline extension points named in the
// data model (func_process_input, func_format_input, func_process_output,
// func_format_output). Each has a no-op default; components hold a Hooks
// value rather than swapping callables on an instance.
type Hooks struct {
	// ProcessInput runs at stage 2, before logging/hashing. It may
	// mutate req.Arguments in place.
	ProcessInput func(ctx context.Context, req *Request) error

	// FormatInput runs at stage 7, after the restart check, typically
	// to render a provider-specific payload into req.Arguments.
	FormatInput func(ctx context.Context, req *Request) error

	// ProcessOutput runs at stage 11, after Execute returns (success or
	// failure), and may rewrite resp.Output/resp.Extra.
	ProcessOutput func(ctx context.Context, req *Request, resp *Response) error

	// FormatOutput runs at stage 13. On failure this is where
	// FriendlyErrorText substitution happens before the message is
	// emitted.
	FormatOutput func(ctx context.Context, req *Request, resp *Response) error
}

// filled returns h with every nil field replaced by a no-op.
func (h Hooks) filled() Hooks {
	if h.ProcessInput == nil {
		h.ProcessInput = func(context.Context, *Request) error { return nil }
	}
	if h.FormatInput == nil {
		h.FormatInput = func(context.Context, *Request) error { return nil }
	}
	if h.ProcessOutput == nil {
		h.ProcessOutput = func(context.Context, *Request, *Response) error { return nil }
	}
	if h.FormatOutput == nil {
		h.FormatOutput = func(context.Context, *Request, *Response) error { return nil }
	}
	return h
}

// Component is the registered unit the Registry dispatches to. It bundles
// the static Descriptor with the runtime Behaviour and Hooks.
type Component struct {
	Descriptor Descriptor
	Behaviour  Behaviour
	Hooks      Hooks

	sem chan struct{}
}
