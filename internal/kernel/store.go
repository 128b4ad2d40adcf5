package kernel

import (
	"context"
	"time"
)

// NodeRecord is the append-or-update-by-id record persisted around every
// component execution (pipeline stages 6 and 12). It is the sole input to
// the restart engine (internal/replay).
type NodeRecord struct {
	NodeID     string
	TraceID    string
	InputMD5   string
	CallStack  []string
	PreNodeIDs []string
	State      State
	Output     any
	Extra      map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// NodeStore is the append-oriented node record stream keyed by node id,
// with an additional lookup by (trace id, input hash) used exclusively by
// the restart engine. Implementations: internal/tracestore/fsstore,
// internal/tracestore/sqlite, internal/tracestore/postgres.
type NodeStore interface {
	// Save inserts or updates a node record. Persistence errors are
	// logged by the caller and never fail the pipeline.
	Save(ctx context.Context, rec NodeRecord) error

	// Get returns the node record for id, or ok=false if absent.
	Get(ctx context.Context, nodeID string) (NodeRecord, bool, error)

	// FindByInputHash returns the node record within traceID whose
	// InputMD5 matches hash, or ok=false if none exists. Used by
	// stage 5 restart interception.
	FindByInputHash(ctx context.Context, traceID, hash string) (NodeRecord, bool, error)
}

// BusEvent is one message published to the per-trace message bus.
type BusEventKind string

const (
	EventToolCall    BusEventKind = "tool_call"
	EventObservation BusEventKind = "observation"
	EventThink       BusEventKind = "think"
	EventAnswer      BusEventKind = "answer"
	EventMsg         BusEventKind = "msg"
	EventClose       BusEventKind = "close"
)

type BusEvent struct {
	Kind      BusEventKind
	TraceID   string
	Component string
	Payload   any
}

// Publisher is the message bus producer contract (internal/bus.Bus
// implements it). Publish must never block the caller for longer than an
// O(1) drop-oldest eviction.
type Publisher interface {
	Publish(ctx context.Context, evt BusEvent)
}

// Validator checks arguments against a component's input_schema
// (internal/schema.Validator implements it).
type Validator interface {
	Validate(schema map[string]any, arguments map[string]any) error
}
