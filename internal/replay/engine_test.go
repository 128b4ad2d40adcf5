package replay

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/mas/internal/kernel"
)

type fakeNodeStore struct {
	byID   map[string]kernel.NodeRecord
	byHash map[string]kernel.NodeRecord // key: traceID+"/"+hash
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{byID: map[string]kernel.NodeRecord{}, byHash: map[string]kernel.NodeRecord{}}
}

func (f *fakeNodeStore) Save(ctx context.Context, rec kernel.NodeRecord) error {
	f.byID[rec.NodeID] = rec
	f.byHash[rec.TraceID+"/"+rec.InputMD5] = rec
	return nil
}

func (f *fakeNodeStore) Get(ctx context.Context, nodeID string) (kernel.NodeRecord, bool, error) {
	rec, ok := f.byID[nodeID]
	return rec, ok, nil
}

func (f *fakeNodeStore) FindByInputHash(ctx context.Context, traceID, hash string) (kernel.NodeRecord, bool, error) {
	rec, ok := f.byHash[traceID+"/"+hash]
	return rec, ok, nil
}

func TestIntercept_NoReferenceTraceIsNoop(t *testing.T) {
	e := New(newFakeNodeStore())
	_, ok, err := e.Intercept(context.Background(), &kernel.Request{})
	if err != nil || ok {
		t.Fatalf("expected no interception without a reference trace, got ok=%v err=%v", ok, err)
	}
}

func TestIntercept_PriorNodeReusedVerbatim(t *testing.T) {
	store := newFakeNodeStore()
	cutoff := time.Now()
	store.byHash["ref-trace/hash-a"] = kernel.NodeRecord{
		State:      kernel.StateCompleted,
		Output:     "cached output",
		UpdateTime: cutoff.Add(-time.Minute),
	}
	e := New(store)

	req := &kernel.Request{
		ReferenceTraceID:     "ref-trace",
		InputMD5:             "hash-a",
		RestartNodeOrder:     cutoff,
		IsLoadDataForRestart: true,
	}
	resp, ok, err := e.Intercept(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected interception for a node predating the cutoff")
	}
	if resp.Output != "cached output" {
		t.Fatalf("expected cached output to be reused, got %v", resp.Output)
	}
}

func TestIntercept_RestartNodeSubstitutesOverrideOnce(t *testing.T) {
	store := newFakeNodeStore()
	cutoff := time.Now()
	store.byHash["ref-trace/hash-b"] = kernel.NodeRecord{
		State:      kernel.StateCompleted,
		Output:     "old output",
		UpdateTime: cutoff,
	}
	e := New(store)

	req := &kernel.Request{
		ReferenceTraceID:     "ref-trace",
		InputMD5:             "hash-b",
		RestartNodeOrder:     cutoff,
		RestartNodeOutput:    "operator override",
		IsLoadDataForRestart: true,
	}
	resp, ok, err := e.Intercept(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || resp.Output != "operator override" {
		t.Fatalf("expected the restart node's output to be substituted, got ok=%v resp=%+v", ok, resp)
	}
	if req.IsLoadDataForRestart {
		t.Fatal("expected IsLoadDataForRestart to be cleared after the one-time substitution")
	}
}

func TestIntercept_NodeAfterCutoffReExecutes(t *testing.T) {
	store := newFakeNodeStore()
	cutoff := time.Now()
	store.byHash["ref-trace/hash-c"] = kernel.NodeRecord{
		Output:     "future output",
		UpdateTime: cutoff.Add(time.Minute),
	}
	e := New(store)

	req := &kernel.Request{
		ReferenceTraceID:     "ref-trace",
		InputMD5:             "hash-c",
		RestartNodeOrder:     cutoff,
		IsLoadDataForRestart: true,
	}
	_, ok, err := e.Intercept(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("a node recorded after the restart cutoff must re-execute, not be intercepted")
	}
}

func TestPrepareRestart_PopulatesOrderFromStoredNode(t *testing.T) {
	store := newFakeNodeStore()
	when := time.Now()
	store.byID["node-1"] = kernel.NodeRecord{NodeID: "node-1", UpdateTime: when}

	req := &kernel.Request{RestartNodeID: "node-1"}
	if err := PrepareRestart(context.Background(), store, req, "prior-trace"); err != nil {
		t.Fatal(err)
	}
	if req.ReferenceTraceID != "prior-trace" {
		t.Fatalf("expected ReferenceTraceID to default to fromTraceID, got %q", req.ReferenceTraceID)
	}
	if !req.RestartNodeOrder.Equal(when) {
		t.Fatalf("expected RestartNodeOrder to match the stored node's update time")
	}
	if !req.IsLoadDataForRestart {
		t.Fatal("expected IsLoadDataForRestart to be set")
	}
}

func TestPrepareRestart_MissingNodeErrors(t *testing.T) {
	store := newFakeNodeStore()
	req := &kernel.Request{RestartNodeID: "ghost"}
	if err := PrepareRestart(context.Background(), store, req, "prior-trace"); err == nil {
		t.Fatal("expected an error for a restart node that does not exist")
	}
}

func TestPrepareRestart_NoRestartRequestedIsNoop(t *testing.T) {
	req := &kernel.Request{}
	if err := PrepareRestart(context.Background(), newFakeNodeStore(), req, "prior-trace"); err != nil {
		t.Fatal(err)
	}
	if req.IsLoadDataForRestart {
		t.Fatal("expected no restart interception to be armed when RestartNodeID is empty")
	}
}
