// Package memory implements short-memory history lookup
// and the weighted memory assembly function used by the ReAct agent.
// Grounded on internal/sessions (history-by-key reads) and
// internal/agent/context (summarization/compaction token budgeting).
package memory

import (
	"context"
	"fmt"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/tracestore"
)

// DefaultShortMemorySize is the default number of prior records loaded
// for a session.
const DefaultShortMemorySize = 10

// ShortMemory loads recent query/answer pairs for a session and renders
// them as an alternating user/assistant kernel.Message list.
type ShortMemory struct {
	history tracestore.HistoryStore
}

// NewShortMemory wraps a HistoryStore.
func NewShortMemory(history tracestore.HistoryStore) *ShortMemory {
	return &ShortMemory{history: history}
}

// Load implements "Short memory": for session caller__callee (or
// user__master when retainMasterShortMemory is set), the last size
// records whose trace_id is in rootTraceIDs are loaded and emitted as
// alternating user/assistant messages, oldest first.
func (s *ShortMemory) Load(ctx context.Context, caller, callee string, retainMasterShortMemory bool, masterName string, rootTraceIDs []string, size int) ([]kernel.Message, error) {
	if size <= 0 {
		size = DefaultShortMemorySize
	}
	session := tracestore.SessionName(caller, callee)
	if retainMasterShortMemory {
		session = tracestore.SessionName("user", masterName)
	}

	records, err := s.history.RecentForSession(ctx, session, rootTraceIDs, size)
	if err != nil {
		return nil, fmt.Errorf("memory: load short memory for %s: %w", session, err)
	}

	msgs := make([]kernel.Message, 0, len(records)*2)
	for _, rec := range records {
		msgs = append(msgs,
			kernel.Message{Role: kernel.RoleUser, Content: rec.Query},
			kernel.Message{Role: kernel.RoleAssistant, Content: rec.Answer},
		)
	}
	return msgs, nil
}
