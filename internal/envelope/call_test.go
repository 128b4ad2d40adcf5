package envelope

import (
	"context"
	"testing"

	"github.com/haasonsaas/mas/internal/kernel"
)

type fakeCaller struct {
	components map[string]*kernel.Component
	executed   []string
}

func (f *fakeCaller) Get(name string) (*kernel.Component, bool) {
	c, ok := f.components[name]
	return c, ok
}

func (f *fakeCaller) Execute(ctx context.Context, name string, req *kernel.Request) (*kernel.Response, error) {
	f.executed = append(f.executed, name)
	req.NodeID = "node-" + name
	return &kernel.Response{State: kernel.StateCompleted, Output: "ok", OxyRequest: req}, nil
}

func newCaller(components ...*kernel.Component) *fakeCaller {
	m := make(map[string]*kernel.Component, len(components))
	for _, c := range components {
		m[c.Descriptor.Name] = c
	}
	return &fakeCaller{components: m}
}

func TestCall_UnknownCalleeYieldsFailedNotError(t *testing.T) {
	caller := newCaller()
	parent := &kernel.Request{Callee: "root"}

	resp, err := Call(context.Background(), caller, parent, Overrides{Callee: "ghost"})
	if err != nil {
		t.Fatalf("unknown callee should be a typed failure, not a Go error: %v", err)
	}
	if resp.State != kernel.StateFailed {
		t.Fatalf("want StateFailed, got %s", resp.State)
	}
}

func TestCall_UserCallerAlwaysPermitted(t *testing.T) {
	tool := &kernel.Component{Descriptor: kernel.Descriptor{Name: "locked-tool", IsPermissionRequired: true}}
	caller := newCaller(tool)
	parent := &kernel.Request{Callee: ""} // empty Callee => categoryFor returns "user"

	resp, err := Call(context.Background(), caller, parent, Overrides{Callee: "locked-tool"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != kernel.StateCompleted {
		t.Fatalf("user-originated call must always be permitted, got %s: %v", resp.State, resp.Output)
	}
}

func TestCall_NonUserCallerWithoutGrantIsSkipped(t *testing.T) {
	tool := &kernel.Component{Descriptor: kernel.Descriptor{Name: "locked-tool", IsPermissionRequired: true}}
	agent := &kernel.Component{Descriptor: kernel.Descriptor{Name: "agent", PermittedCallees: []string{"other-tool"}}}
	caller := newCaller(tool, agent)
	parent := &kernel.Request{Callee: "agent"}

	resp, err := Call(context.Background(), caller, parent, Overrides{Callee: "locked-tool"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != kernel.StateSkipped {
		t.Fatalf("want StateSkipped for an ungranted callee, got %s", resp.State)
	}
}

func TestCall_NonUserCallerWithGrantSucceeds(t *testing.T) {
	tool := &kernel.Component{Descriptor: kernel.Descriptor{Name: "locked-tool", IsPermissionRequired: true}}
	agent := &kernel.Component{Descriptor: kernel.Descriptor{Name: "agent", PermittedCallees: []string{"locked-tool"}}}
	caller := newCaller(tool, agent)
	parent := &kernel.Request{Callee: "agent"}

	resp, err := Call(context.Background(), caller, parent, Overrides{Callee: "locked-tool"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != kernel.StateCompleted {
		t.Fatalf("want StateCompleted for a granted callee, got %s", resp.State)
	}
}

func TestCall_ChildIsDeepCopyNotAlias(t *testing.T) {
	tool := &kernel.Component{Descriptor: kernel.Descriptor{Name: "tool"}}
	caller := newCaller(tool)
	parent := &kernel.Request{
		Callee:     "",
		Arguments:  map[string]any{"x": 1},
		SharedData: map[string]any{"y": 2},
	}

	if _, err := Call(context.Background(), caller, parent, Overrides{Callee: "tool", Arguments: map[string]any{"x": 99}}); err != nil {
		t.Fatal(err)
	}
	if parent.Arguments["x"] != 1 {
		t.Fatalf("overriding the child's arguments must not mutate the parent request, got %v", parent.Arguments["x"])
	}
}

func TestCall_ParallelGroupTracksMembership(t *testing.T) {
	tool := &kernel.Component{Descriptor: kernel.Descriptor{Name: "tool"}}
	caller := newCaller(tool)
	parent := &kernel.Request{Callee: "", NodeID: "parent-node"}

	resp, err := Call(context.Background(), caller, parent, Overrides{Callee: "tool", ParallelID: "pg1"})
	if err != nil {
		t.Fatal(err)
	}
	child := resp.OxyRequest
	if child.ParallelID != "pg1" {
		t.Fatalf("expected ParallelID to propagate, got %q", child.ParallelID)
	}
	if got := child.ParallelDict["pg1"]; len(got) != 1 || got[0] != child.NodeID {
		t.Fatalf("expected parallel group to record the executed node id, got %v", got)
	}
}
