package envelope

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeHistory struct {
	chains map[string][]string
	err    error
}

func (f fakeHistory) RootTraceIDs(ctx context.Context, traceID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chains[traceID], nil
}

func TestResolveRootTraceIDs_FreshSessionIsEmpty(t *testing.T) {
	chain, err := ResolveRootTraceIDs(context.Background(), fakeHistory{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 0 {
		t.Fatalf("fresh session must yield an empty ancestor chain, got %v", chain)
	}
}

func TestResolveRootTraceIDs_ExtendsStoredChain(t *testing.T) {
	store := fakeHistory{chains: map[string][]string{"t2": {"t1"}}}
	chain, err := ResolveRootTraceIDs(context.Background(), store, "t2")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"t1", "t2"}
	if !reflect.DeepEqual(chain, want) {
		t.Fatalf("want %v, got %v", want, chain)
	}
}

func TestResolveRootTraceIDs_PropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ResolveRootTraceIDs(context.Background(), fakeHistory{err: boom}, "t1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}
