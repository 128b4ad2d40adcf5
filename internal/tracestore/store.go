// Package tracestore defines the three append-oriented persistence
// streams — trace, node, message — plus the history
// record used for short-memory lookups, and ships a filesystem-backed
// reference implementation (internal/tracestore/fsstore) alongside
// optional SQLite/Postgres backends behind the same interfaces.
package tracestore

import (
	"context"
	"time"

	"github.com/haasonsaas/mas/internal/kernel"
)

// TraceRecord is the append-only per-trace stream entry: the ancestor
// chain recorded at session start, used by envelope.ResolveRootTraceIDs.
type TraceRecord struct {
	TraceID      string
	RootTraceIDs []string
	CreateTime   time.Time
}

// MessageRecord is one entry in the (trace_id, seq)-keyed message stream,
// the optional persisted form of a bus event.
type MessageRecord struct {
	TraceID   string
	Seq       int
	Kind      kernel.BusEventKind
	Component string
	Payload   any
	CreateTime time.Time
}

// HistoryRecord is the per-completed-dialogue-turn record keyed by
// "<trace_id>__<session_name>" where session_name = caller + "__" +
// callee.
type HistoryRecord struct {
	TraceID    string
	Session    string // caller__callee
	Query      string
	Answer     string
	Extra      map[string]any
	CreateTime time.Time
}

// TraceStore persists TraceRecords and answers the root-trace-chain
// lookup envelope.HistoryLookup needs.
type TraceStore interface {
	SaveTrace(ctx context.Context, rec TraceRecord) error
	RootTraceIDs(ctx context.Context, traceID string) ([]string, error)
}

// MessageStore persists MessageRecords, used when the global
// "persist bus events" flag is enabled.
type MessageStore interface {
	AppendMessage(ctx context.Context, rec MessageRecord) error
	ListMessages(ctx context.Context, traceID string) ([]MessageRecord, error)
}

// HistoryStore persists and queries HistoryRecords for short-memory
// assembly.
type HistoryStore interface {
	SaveHistory(ctx context.Context, rec HistoryRecord) error

	// RecentForSession returns up to limit most recent history records
	// for the given session whose TraceID is in rootTraceIDs, ordered
	// oldest first (ready to emit as an alternating user/assistant
	// message list).
	RecentForSession(ctx context.Context, session string, rootTraceIDs []string, limit int) ([]HistoryRecord, error)
}

// SessionName builds the caller__callee session key used by both
// HistoryRecord and the short-memory lookup.
func SessionName(caller, callee string) string {
	return caller + "__" + callee
}
