package envelope

import "context"

// HistoryLookup is the narrow trace-store surface roottrace needs: given
// a trace id, return its previously recorded root_trace_ids list.
// internal/tracestore.TraceStore satisfies this.
type HistoryLookup interface {
	RootTraceIDs(ctx context.Context, traceID string) ([]string, error)
}

// ResolveRootTraceIDs implements the root-trace chain rule: on
// every entry from the user, fromTraceID's stored ancestor chain is
// extended by fromTraceID itself, yielding a linear ancestor list used by
// memory queries so history reads respect conversational continuity
// across branch-and-restart operations. A fresh session (empty
// fromTraceID) yields an empty chain.
func ResolveRootTraceIDs(ctx context.Context, store HistoryLookup, fromTraceID string) ([]string, error) {
	if fromTraceID == "" {
		return nil, nil
	}
	prior, err := store.RootTraceIDs(ctx, fromTraceID)
	if err != nil {
		return nil, err
	}
	return append(append([]string(nil), prior...), fromTraceID), nil
}
