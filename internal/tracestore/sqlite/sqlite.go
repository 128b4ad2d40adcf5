// Package sqlite is an optional durable TraceStore/NodeStore/MessageStore/
// HistoryStore backend over modernc.org/sqlite: prepared statements over
// a small fixed schema, targeting an embedded, driver-pure SQLite
// database suitable for single-process deployments that still want
// durable replay history across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/tracestore"
)

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id TEXT PRIMARY KEY,
	root_trace_ids TEXT NOT NULL,
	create_time DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY,
	trace_id TEXT NOT NULL,
	input_md5 TEXT NOT NULL,
	call_stack TEXT NOT NULL,
	pre_node_ids TEXT NOT NULL,
	state TEXT NOT NULL,
	output TEXT,
	extra TEXT,
	create_time DATETIME NOT NULL,
	update_time DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_trace_hash ON nodes(trace_id, input_md5);
CREATE TABLE IF NOT EXISTS messages (
	trace_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	component TEXT NOT NULL,
	payload TEXT,
	create_time DATETIME NOT NULL,
	PRIMARY KEY (trace_id, seq)
);
CREATE TABLE IF NOT EXISTS history (
	trace_id TEXT NOT NULL,
	session TEXT NOT NULL,
	query TEXT,
	answer TEXT,
	extra TEXT,
	create_time DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_session ON history(session);
`

// Store implements the tracestore interfaces over a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the SQLite database at path and applies the
// schema (idempotent: CREATE TABLE/INDEX IF NOT EXISTS).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func marshalOrEmpty(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SaveTrace implements tracestore.TraceStore.
func (s *Store) SaveTrace(ctx context.Context, rec tracestore.TraceRecord) error {
	roots, err := json.Marshal(rec.RootTraceIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traces (trace_id, root_trace_ids, create_time) VALUES (?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET root_trace_ids=excluded.root_trace_ids`,
		rec.TraceID, string(roots), rec.CreateTime)
	return err
}

// RootTraceIDs implements tracestore.TraceStore / envelope.HistoryLookup.
func (s *Store) RootTraceIDs(ctx context.Context, traceID string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT root_trace_ids FROM traces WHERE trace_id = ?`, traceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Save implements kernel.NodeStore.
func (s *Store) Save(ctx context.Context, rec kernel.NodeRecord) error {
	callStack, err := json.Marshal(rec.CallStack)
	if err != nil {
		return err
	}
	preNodes, err := json.Marshal(rec.PreNodeIDs)
	if err != nil {
		return err
	}
	output, err := marshalOrEmpty(rec.Output)
	if err != nil {
		return err
	}
	extra, err := marshalOrEmpty(rec.Extra)
	if err != nil {
		return err
	}
	createTime := rec.CreateTime
	if createTime.IsZero() {
		createTime = rec.UpdateTime
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (node_id, trace_id, input_md5, call_stack, pre_node_ids, state, output, extra, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			input_md5=excluded.input_md5, call_stack=excluded.call_stack,
			pre_node_ids=excluded.pre_node_ids, state=excluded.state,
			output=excluded.output, extra=excluded.extra, update_time=excluded.update_time`,
		rec.NodeID, rec.TraceID, rec.InputMD5, string(callStack), string(preNodes),
		string(rec.State), output, extra, createTime, rec.UpdateTime)
	return err
}

func scanNode(row interface{ Scan(...any) error }) (kernel.NodeRecord, error) {
	var rec kernel.NodeRecord
	var callStack, preNodes, output, extra sql.NullString
	var state string
	if err := row.Scan(&rec.NodeID, &rec.TraceID, &rec.InputMD5, &callStack, &preNodes,
		&state, &output, &extra, &rec.CreateTime, &rec.UpdateTime); err != nil {
		return rec, err
	}
	rec.State = kernel.State(state)
	if callStack.Valid {
		json.Unmarshal([]byte(callStack.String), &rec.CallStack)
	}
	if preNodes.Valid {
		json.Unmarshal([]byte(preNodes.String), &rec.PreNodeIDs)
	}
	if output.Valid && output.String != "" {
		json.Unmarshal([]byte(output.String), &rec.Output)
	}
	if extra.Valid && extra.String != "" {
		json.Unmarshal([]byte(extra.String), &rec.Extra)
	}
	return rec, nil
}

// Get implements kernel.NodeStore.
func (s *Store) Get(ctx context.Context, nodeID string) (kernel.NodeRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, trace_id, input_md5, call_stack, pre_node_ids, state, output, extra, create_time, update_time
		FROM nodes WHERE node_id = ?`, nodeID)
	rec, err := scanNode(row)
	if err == sql.ErrNoRows {
		return kernel.NodeRecord{}, false, nil
	}
	if err != nil {
		return kernel.NodeRecord{}, false, err
	}
	return rec, true, nil
}

// FindByInputHash implements kernel.NodeStore, used by restart interception.
func (s *Store) FindByInputHash(ctx context.Context, traceID, hash string) (kernel.NodeRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, trace_id, input_md5, call_stack, pre_node_ids, state, output, extra, create_time, update_time
		FROM nodes WHERE trace_id = ? AND input_md5 = ? ORDER BY update_time ASC LIMIT 1`, traceID, hash)
	rec, err := scanNode(row)
	if err == sql.ErrNoRows {
		return kernel.NodeRecord{}, false, nil
	}
	if err != nil {
		return kernel.NodeRecord{}, false, err
	}
	return rec, true, nil
}

// AppendMessage implements tracestore.MessageStore.
func (s *Store) AppendMessage(ctx context.Context, rec tracestore.MessageRecord) error {
	var seq int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE trace_id = ?`, rec.TraceID).Scan(&seq); err != nil {
		return err
	}
	payload, err := marshalOrEmpty(rec.Payload)
	if err != nil {
		return err
	}
	createTime := rec.CreateTime
	if createTime.IsZero() {
		createTime = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (trace_id, seq, kind, component, payload, create_time) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TraceID, seq, string(rec.Kind), rec.Component, payload, createTime)
	return err
}

// ListMessages implements tracestore.MessageStore.
func (s *Store) ListMessages(ctx context.Context, traceID string) ([]tracestore.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, seq, kind, component, payload, create_time FROM messages WHERE trace_id = ? ORDER BY seq ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracestore.MessageRecord
	for rows.Next() {
		var rec tracestore.MessageRecord
		var kind string
		var payload sql.NullString
		if err := rows.Scan(&rec.TraceID, &rec.Seq, &kind, &rec.Component, &payload, &rec.CreateTime); err != nil {
			return nil, err
		}
		rec.Kind = kernel.BusEventKind(kind)
		if payload.Valid && payload.String != "" {
			json.Unmarshal([]byte(payload.String), &rec.Payload)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveHistory implements tracestore.HistoryStore.
func (s *Store) SaveHistory(ctx context.Context, rec tracestore.HistoryRecord) error {
	extra, err := marshalOrEmpty(rec.Extra)
	if err != nil {
		return err
	}
	createTime := rec.CreateTime
	if createTime.IsZero() {
		createTime = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (trace_id, session, query, answer, extra, create_time) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Session, rec.Query, rec.Answer, extra, createTime)
	return err
}

// RecentForSession implements tracestore.HistoryStore.
func (s *Store) RecentForSession(ctx context.Context, session string, rootTraceIDs []string, limit int) ([]tracestore.HistoryRecord, error) {
	if len(rootTraceIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]any, 0, len(rootTraceIDs)+1)
	placeholders = append(placeholders, session)
	query := `SELECT trace_id, session, query, answer, extra, create_time FROM history WHERE session = ? AND trace_id IN (`
	for i, id := range rootTraceIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders = append(placeholders, id)
	}
	query += ") ORDER BY create_time ASC"

	rows, err := s.db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracestore.HistoryRecord
	for rows.Next() {
		var rec tracestore.HistoryRecord
		var extra sql.NullString
		if err := rows.Scan(&rec.TraceID, &rec.Session, &rec.Query, &rec.Answer, &extra, &rec.CreateTime); err != nil {
			return nil, err
		}
		if extra.Valid && extra.String != "" {
			json.Unmarshal([]byte(extra.String), &rec.Extra)
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, rows.Err()
}
