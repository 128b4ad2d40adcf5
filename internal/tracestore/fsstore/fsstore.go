// Package fsstore is the minimal filesystem-backed TraceStore/NodeStore/
// MessageStore/HistoryStore implementation used when no external store is
// configured: one JSON document per index, rewritten atomically via
// temp-file-then-rename (MkdirAll + marshal-indent + WriteFile).
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/tracestore"
)

// Store implements tracestore.TraceStore, kernel.NodeStore,
// tracestore.MessageStore and tracestore.HistoryStore over a directory of
// JSON documents. Reads see writes from the same process; concurrent
// writers are serialized by an in-process mutex, and each document is
// rewritten whole (last-write-wins at index granularity).
type Store struct {
	dir string

	mu       sync.Mutex
	traces   map[string]tracestore.TraceRecord
	nodes    map[string]kernel.NodeRecord
	messages map[string][]tracestore.MessageRecord
	history  map[string][]tracestore.HistoryRecord
}

// New opens (or creates) a fsstore rooted at dir, loading any existing
// documents.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create directory: %w", err)
	}
	s := &Store{
		dir:      dir,
		traces:   make(map[string]tracestore.TraceRecord),
		nodes:    make(map[string]kernel.NodeRecord),
		messages: make(map[string][]tracestore.MessageRecord),
		history:  make(map[string][]tracestore.HistoryRecord),
	}
	if err := s.load("traces.json", &s.traces); err != nil {
		return nil, err
	}
	if err := s.load("nodes.json", &s.nodes); err != nil {
		return nil, err
	}
	if err := s.load("messages.json", &s.messages); err != nil {
		return nil, err
	}
	if err := s.load("history.json", &s.history); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) load(name string, into any) error {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fsstore: read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("fsstore: decode %s: %w", name, err)
	}
	return nil
}

// writeAtomic marshals v and rewrites name via a temp-file-then-rename
// so a crash mid-write never leaves a torn document.
func (s *Store) writeAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsstore: marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fsstore: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("fsstore: rename %s: %w", name, err)
	}
	return nil
}

// SaveTrace implements tracestore.TraceStore.
func (s *Store) SaveTrace(ctx context.Context, rec tracestore.TraceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[rec.TraceID] = rec
	return s.writeAtomic("traces.json", s.traces)
}

// RootTraceIDs implements tracestore.TraceStore / envelope.HistoryLookup.
func (s *Store) RootTraceIDs(ctx context.Context, traceID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.traces[traceID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), rec.RootTraceIDs...), nil
}

// Save implements kernel.NodeStore.
func (s *Store) Save(ctx context.Context, rec kernel.NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[rec.NodeID] = rec
	return s.writeAtomic("nodes.json", s.nodes)
}

// Get implements kernel.NodeStore.
func (s *Store) Get(ctx context.Context, nodeID string) (kernel.NodeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[nodeID]
	return rec, ok, nil
}

// FindByInputHash implements kernel.NodeStore, used by the restart
// engine's stage-5 interception.
func (s *Store) FindByInputHash(ctx context.Context, traceID, hash string) (kernel.NodeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best kernel.NodeRecord
	found := false
	for _, rec := range s.nodes {
		if rec.TraceID == traceID && rec.InputMD5 == hash {
			if !found || rec.UpdateTime.Before(best.UpdateTime) {
				best = rec
				found = true
			}
		}
	}
	return best, found, nil
}

// AppendMessage implements tracestore.MessageStore.
func (s *Store) AppendMessage(ctx context.Context, rec tracestore.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Seq = len(s.messages[rec.TraceID])
	s.messages[rec.TraceID] = append(s.messages[rec.TraceID], rec)
	return s.writeAtomic("messages.json", s.messages)
}

// ListMessages implements tracestore.MessageStore.
func (s *Store) ListMessages(ctx context.Context, traceID string) ([]tracestore.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracestore.MessageRecord(nil), s.messages[traceID]...), nil
}

// SaveHistory implements tracestore.HistoryStore.
func (s *Store) SaveHistory(ctx context.Context, rec tracestore.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[rec.Session] = append(s.history[rec.Session], rec)
	return s.writeAtomic("history.json", s.history)
}

// RecentForSession implements tracestore.HistoryStore.
func (s *Store) RecentForSession(ctx context.Context, session string, rootTraceIDs []string, limit int) ([]tracestore.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[string]bool, len(rootTraceIDs))
	for _, id := range rootTraceIDs {
		allowed[id] = true
	}

	var matched []tracestore.HistoryRecord
	for _, rec := range s.history[session] {
		if allowed[rec.TraceID] {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreateTime.Before(matched[j].CreateTime)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
