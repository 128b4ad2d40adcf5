package kernel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBehaviour struct {
	delay   time.Duration
	fail    int32 // number of leading calls to fail before succeeding
	calls   int32
	execute func(ctx context.Context, req *Request) (*Response, error)
}

func (f *fakeBehaviour) Init(ctx context.Context, reg *Registry) error { return nil }
func (f *fakeBehaviour) Cleanup(ctx context.Context) error             { return nil }

func (f *fakeBehaviour) Execute(ctx context.Context, req *Request) (*Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.execute != nil {
		return f.execute(ctx, req)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.fail {
		return nil, errTransient
	}
	return &Response{State: StateCompleted, Output: "ok"}, nil
}

var errTransient = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "transient failure" }

func newTestRegistry() *Registry {
	return NewRegistry(nil, Deps{})
}

func mustRegister(t *testing.T, reg *Registry, name string, desc Descriptor, b Behaviour) *Component {
	t.Helper()
	desc.Name = name
	c := &Component{Descriptor: desc, Behaviour: b}
	if err := reg.Register(c); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return c
}

func TestExecute_Success(t *testing.T) {
	reg := newTestRegistry()
	mustRegister(t, reg, "echo", Descriptor{Kind: KindTool, SemaphoreLimit: 1}, &fakeBehaviour{})

	resp, err := reg.Execute(context.Background(), "echo", &Request{CurrentTraceID: "t1", Arguments: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != StateCompleted {
		t.Fatalf("want StateCompleted, got %s", resp.State)
	}
	if resp.OxyRequest == nil || resp.OxyRequest.NodeID == "" {
		t.Fatalf("expected node id to be assigned on the echoed request")
	}
}

func TestExecute_ComponentNotFound(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.Execute(context.Background(), "missing", &Request{})
	if err == nil {
		t.Fatal("expected error for unknown component")
	}
}

func TestExecute_RetryExhaustionYieldsExplicitFailure(t *testing.T) {
	reg := newTestRegistry()
	mustRegister(t, reg, "flaky", Descriptor{
		Kind:           KindTool,
		SemaphoreLimit: 1,
		Retries:        2,
	}, &fakeBehaviour{fail: 10})

	resp, err := reg.Execute(context.Background(), "flaky", &Request{CurrentTraceID: "t1"})
	if err != nil {
		t.Fatalf("dispatch itself must not error on retry exhaustion: %v", err)
	}
	if resp == nil {
		t.Fatal("retry exhaustion must never yield a nil response")
	}
	if resp.State != StateFailed {
		t.Fatalf("want StateFailed, got %s", resp.State)
	}
}

func TestExecute_RetrySucceedsWithinBudget(t *testing.T) {
	reg := newTestRegistry()
	mustRegister(t, reg, "flaky", Descriptor{
		Kind:           KindTool,
		SemaphoreLimit: 1,
		Retries:        3,
	}, &fakeBehaviour{fail: 2})

	resp, err := reg.Execute(context.Background(), "flaky", &Request{CurrentTraceID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != StateCompleted {
		t.Fatalf("want StateCompleted after recovering within retry budget, got %s", resp.State)
	}
}

func TestExecute_SemaphoreLimitsConcurrency(t *testing.T) {
	reg := newTestRegistry()
	const limit = 2
	var active int32
	var maxActive int32
	b := &fakeBehaviour{
		execute: func(ctx context.Context, req *Request) (*Response, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return &Response{State: StateCompleted}, nil
		},
	}
	mustRegister(t, reg, "bounded", Descriptor{Kind: KindTool, SemaphoreLimit: limit}, b)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Execute(context.Background(), "bounded", &Request{CurrentTraceID: "t1"})
		}()
	}
	wg.Wait()

	if maxActive > limit {
		t.Fatalf("semaphore limit %d violated: observed %d concurrent executions", limit, maxActive)
	}
}

func TestExecute_CancelledContextShortCircuitsOnFullSemaphore(t *testing.T) {
	reg := newTestRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	mustRegister(t, reg, "slow", Descriptor{Kind: KindTool, SemaphoreLimit: 1}, &fakeBehaviour{
		execute: func(ctx context.Context, req *Request) (*Response, error) {
			close(started)
			<-release
			return &Response{State: StateCompleted}, nil
		},
	})

	go reg.Execute(context.Background(), "slow", &Request{CurrentTraceID: "t1"})
	<-started // the sole semaphore slot is now held.

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Execute(ctx, "slow", &Request{CurrentTraceID: "t2"})
	close(release)

	if err == nil {
		t.Fatal("expected a cancellation error when the semaphore cannot be acquired before ctx is done")
	}
}

func TestInputMD5_StableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": "x"}
	b := map[string]any{"a": "x", "b": 1}

	ha, err := inputMD5(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := inputMD5(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("expected identical hashes regardless of map key order, got %s vs %s", ha, hb)
	}
}

func TestInputMD5_DiffersOnValueChange(t *testing.T) {
	h1, _ := inputMD5(map[string]any{"a": 1})
	h2, _ := inputMD5(map[string]any{"a": 2})
	if h1 == h2 {
		t.Fatal("expected different hashes for different argument values")
	}
}

func TestRegister_DuplicateNameRejected(t *testing.T) {
	reg := newTestRegistry()
	mustRegister(t, reg, "dup", Descriptor{Kind: KindTool, SemaphoreLimit: 1}, &fakeBehaviour{})

	c := &Component{Descriptor: Descriptor{Name: "dup", Kind: KindTool}, Behaviour: &fakeBehaviour{}}
	if err := reg.Register(c); err == nil {
		t.Fatal("expected duplicate registration to be rejected")
	}
}

func TestMetricsSink_ObservesActiveExecutions(t *testing.T) {
	reg := NewRegistry(nil, Deps{Metrics: &recordingMetrics{}})
	m := reg.deps.Metrics.(*recordingMetrics)
	mustRegister(t, reg, "echo", Descriptor{Kind: KindTool, SemaphoreLimit: 1}, &fakeBehaviour{})

	if _, err := reg.Execute(context.Background(), "echo", &Request{CurrentTraceID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if m.maxActive < 1 {
		t.Fatalf("expected at least one active-execution observation, got %d", m.maxActive)
	}
	if m.finalActive != 0 {
		t.Fatalf("expected active count to return to 0 after completion, got %d", m.finalActive)
	}
}

type recordingMetrics struct {
	mu          sync.Mutex
	maxActive   int
	finalActive int
}

func (r *recordingMetrics) ObserveExecution(component string, kind Kind, state State, duration time.Duration) {
}

func (r *recordingMetrics) SetActiveExecutions(component string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.maxActive {
		r.maxActive = n
	}
	r.finalActive = n
}

func (r *recordingMetrics) IncRetry(component string) {}
