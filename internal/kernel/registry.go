package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the MAS's arena of components, addressed by name (the
// "handle" in the arena+handle design note: components reference each
// other by name, never by pointer, which sidesteps the cyclic
// component<->MAS reference problem). It is written only during startup
// registration and init() enumeration (team clones, MCP tool discovery);
// after the first dispatch it is treated as read-only.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*Component
	order      []string // registration order, for organization-tree rendering.

	logger *slog.Logger
	deps   Deps
}

// Deps bundles the pipeline's external collaborators. A nil field falls
// back to a no-op implementation so tests can construct a Registry with
// only what they exercise.
type Deps struct {
	Nodes     NodeStore
	Bus       Publisher
	Validator Validator
	Replay    ReplayLookup
	Metrics   MetricsSink
	Tracer    Tracer
}

// ReplayLookup is consulted by stage 5 (restart interception). It is
// implemented by internal/replay.Engine; kernel only depends on the
// narrow interface to avoid importing the replay package.
type ReplayLookup interface {
	// Intercept inspects req for an active restart and, if the node
	// should be short-circuited or overridden, returns a synthesized
	// response and ok=true. It also clears req.IsLoadDataForRestart
	// when an operator override has just been consumed.
	Intercept(ctx context.Context, req *Request) (resp *Response, ok bool, err error)
}

// NewRegistry constructs an empty registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger, deps Deps) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		components: make(map[string]*Component),
		logger:     logger,
		deps:       deps,
	}
}

// Register adds a component under Descriptor.Name. Re-registering an
// existing name is rejected (L2: no silent replace).
func (r *Registry) Register(c *Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Descriptor.Name == "" {
		return fmt.Errorf("kernel: component has empty name")
	}
	if _, exists := r.components[c.Descriptor.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Descriptor.Name)
	}
	if c.Descriptor.SemaphoreLimit < 1 {
		c.Descriptor.SemaphoreLimit = 1
	}
	c.sem = make(chan struct{}, c.Descriptor.SemaphoreLimit)
	c.Hooks = c.Hooks.filled()

	r.components[c.Descriptor.Name] = c
	r.order = append(r.order, c.Descriptor.Name)
	return nil
}

// Get returns the component registered under name.
func (r *Registry) Get(name string) (*Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// GrantCallee appends callee to name's ExtraPermittedCallees, the post hoc
// mechanism used by MCP tool discovery and ReAct team-mode expansion to
// widen a component's permitted set after it has already been
// registered (descriptor.go: "ExtraPermittedCallees which the registry
// may append to post hoc"). It is idempotent: granting the same callee
// twice is a no-op.
func (r *Registry) GrantCallee(name, callee string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	for _, existing := range c.Descriptor.ExtraPermittedCallees {
		if existing == callee {
			return nil
		}
	}
	c.Descriptor.ExtraPermittedCallees = append(c.Descriptor.ExtraPermittedCallees, callee)
	return nil
}

// Reconfigure swaps a component's Behaviour and/or PermittedCallees in
// place. It is the sanctioned exception to the "no silent replace"
// invariant (L2, which governs Register): the registered name, kind and
// identity are untouched, only the strategy behind them changes. The
// sole caller is ReAct team-mode expansion: "during init(), the
// ReAct agent clones itself team_size times ... and replaces the
// original registration with a ParallelAgent ... From the caller's
// perspective the name remains the same". Must only be called from
// within a Behaviour.Init, before the registry is frozen read-only for
// dispatch.
func (r *Registry) Reconfigure(name string, permittedCallees []string, b Behaviour) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	if permittedCallees != nil {
		c.Descriptor.PermittedCallees = permittedCallees
	}
	if b != nil {
		c.Behaviour = b
	}
	return nil
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// InitAll runs Behaviour.Init for every registered component, in
// registration order, so components registered by an earlier component's
// init() (e.g. MCP tool discovery, ReAct team clones) are themselves
// initialized before the first dispatch. Init must be idempotent (L3); a
// second InitAll call is safe.
func (r *Registry) InitAll(ctx context.Context) error {
	done := make(map[string]bool)
	for {
		names := r.Names()
		progressed := false
		for _, name := range names {
			if done[name] {
				continue
			}
			progressed = true
			done[name] = true
			c, ok := r.Get(name)
			if !ok {
				continue
			}
			if err := c.Behaviour.Init(ctx, r); err != nil {
				return fmt.Errorf("kernel: init %s: %w", name, err)
			}
		}
		if !progressed {
			return nil
		}
	}
}

// CleanupAll runs Behaviour.Cleanup for every component in reverse
// registration order. Errors are logged, never propagated: shutdown must
// be idempotent and must not cascade a single component's failure.
func (r *Registry) CleanupAll(ctx context.Context) {
	names := r.Names()
	for i := len(names) - 1; i >= 0; i-- {
		c, ok := r.Get(names[i])
		if !ok {
			continue
		}
		if err := c.Behaviour.Cleanup(ctx); err != nil {
			r.logger.Warn("component cleanup failed", "component", names[i], "error", err)
		}
	}
}

// Execute dispatches req to the named component through the full
// 13-stage pipeline. This is the single entry point used by both
// MAS.Chat (dispatch from the user) and internal/envelope.Call
// (nested calls).
func (r *Registry) Execute(ctx context.Context, name string, req *Request) (*Response, error) {
	c, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return dispatch(ctx, r, c, req)
}

// OrganizationTree is a derived, read-only view of the registry: each
// agent/flow's permitted callees, walked depth-first until a leaf (tool
// or LLM) is reached. It is never stored, only computed on demand.
type OrganizationTree struct {
	Name     string
	Kind     Kind
	IsRemote bool
	Children []*OrganizationTree
}

// BuildOrganizationTree walks from root, following PermittedCallees /
// ExtraPermittedCallees, guarding against cycles.
func (r *Registry) BuildOrganizationTree(root string) *OrganizationTree {
	visited := make(map[string]bool)
	var walk func(name string) *OrganizationTree
	walk = func(name string) *OrganizationTree {
		c, ok := r.Get(name)
		if !ok {
			return &OrganizationTree{Name: name}
		}
		node := &OrganizationTree{
			Name:     name,
			Kind:     c.Descriptor.Kind,
			IsRemote: c.Descriptor.Kind == KindRemoteAgent,
		}
		if visited[name] {
			return node
		}
		visited[name] = true
		for _, callee := range c.Descriptor.AllPermittedCallees() {
			node.Children = append(node.Children, walk(callee))
		}
		return node
	}
	return walk(root)
}
