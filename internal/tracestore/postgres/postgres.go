// Package postgres is an optional durable TraceStore/NodeStore/
// MessageStore/HistoryStore backend over github.com/lib/pq, for
// multi-process deployments where replay history should outlive any
// single runtime instance.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/tracestore"
)

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id TEXT PRIMARY KEY,
	root_trace_ids JSONB NOT NULL DEFAULT '[]',
	create_time TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY,
	trace_id TEXT NOT NULL,
	input_md5 TEXT NOT NULL,
	call_stack JSONB NOT NULL DEFAULT '[]',
	pre_node_ids JSONB NOT NULL DEFAULT '[]',
	state TEXT NOT NULL,
	output JSONB,
	extra JSONB,
	create_time TIMESTAMPTZ NOT NULL,
	update_time TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_trace_hash ON nodes(trace_id, input_md5);
CREATE TABLE IF NOT EXISTS messages (
	trace_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	component TEXT NOT NULL,
	payload JSONB,
	create_time TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (trace_id, seq)
);
CREATE TABLE IF NOT EXISTS history (
	trace_id TEXT NOT NULL,
	session TEXT NOT NULL,
	query TEXT,
	answer TEXT,
	extra JSONB,
	create_time TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_session ON history(session);
`

// Config holds the connection parameters for a Postgres-family database.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible local-development defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "mas",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store implements the tracestore interfaces over a Postgres database.
type Store struct {
	db *sql.DB
}

// Open connects using cfg and applies the schema.
func Open(cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// SaveTrace implements tracestore.TraceStore.
func (s *Store) SaveTrace(ctx context.Context, rec tracestore.TraceRecord) error {
	roots, err := json.Marshal(rec.RootTraceIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traces (trace_id, root_trace_ids, create_time) VALUES ($1, $2, $3)
		ON CONFLICT (trace_id) DO UPDATE SET root_trace_ids = excluded.root_trace_ids`,
		rec.TraceID, roots, rec.CreateTime)
	return err
}

// RootTraceIDs implements tracestore.TraceStore / envelope.HistoryLookup.
func (s *Store) RootTraceIDs(ctx context.Context, traceID string) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT root_trace_ids FROM traces WHERE trace_id = $1`, traceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
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
	output, err := json.Marshal(rec.Output)
	if err != nil {
		return err
	}
	extra, err := json.Marshal(rec.Extra)
	if err != nil {
		return err
	}
	createTime := rec.CreateTime
	if createTime.IsZero() {
		createTime = rec.UpdateTime
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (node_id, trace_id, input_md5, call_stack, pre_node_ids, state, output, extra, create_time, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (node_id) DO UPDATE SET
			input_md5 = excluded.input_md5, call_stack = excluded.call_stack,
			pre_node_ids = excluded.pre_node_ids, state = excluded.state,
			output = excluded.output, extra = excluded.extra, update_time = excluded.update_time`,
		rec.NodeID, rec.TraceID, rec.InputMD5, callStack, preNodes,
		string(rec.State), output, extra, createTime, rec.UpdateTime)
	return err
}

func scanNode(row interface{ Scan(...any) error }) (kernel.NodeRecord, error) {
	var rec kernel.NodeRecord
	var callStack, preNodes, output, extra []byte
	var state string
	if err := row.Scan(&rec.NodeID, &rec.TraceID, &rec.InputMD5, &callStack, &preNodes,
		&state, &output, &extra, &rec.CreateTime, &rec.UpdateTime); err != nil {
		return rec, err
	}
	rec.State = kernel.State(state)
	json.Unmarshal(callStack, &rec.CallStack)
	json.Unmarshal(preNodes, &rec.PreNodeIDs)
	if len(output) > 0 {
		json.Unmarshal(output, &rec.Output)
	}
	if len(extra) > 0 {
		json.Unmarshal(extra, &rec.Extra)
	}
	return rec, nil
}

// Get implements kernel.NodeStore.
func (s *Store) Get(ctx context.Context, nodeID string) (kernel.NodeRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, trace_id, input_md5, call_stack, pre_node_ids, state, output, extra, create_time, update_time
		FROM nodes WHERE node_id = $1`, nodeID)
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
		FROM nodes WHERE trace_id = $1 AND input_md5 = $2 ORDER BY update_time ASC LIMIT 1`, traceID, hash)
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
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE trace_id = $1`, rec.TraceID).Scan(&seq); err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	createTime := rec.CreateTime
	if createTime.IsZero() {
		createTime = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (trace_id, seq, kind, component, payload, create_time) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TraceID, seq, string(rec.Kind), rec.Component, payload, createTime)
	return err
}

// ListMessages implements tracestore.MessageStore.
func (s *Store) ListMessages(ctx context.Context, traceID string) ([]tracestore.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, seq, kind, component, payload, create_time FROM messages WHERE trace_id = $1 ORDER BY seq ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracestore.MessageRecord
	for rows.Next() {
		var rec tracestore.MessageRecord
		var kind string
		var payload []byte
		if err := rows.Scan(&rec.TraceID, &rec.Seq, &kind, &rec.Component, &payload, &rec.CreateTime); err != nil {
			return nil, err
		}
		rec.Kind = kernel.BusEventKind(kind)
		if len(payload) > 0 {
			json.Unmarshal(payload, &rec.Payload)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveHistory implements tracestore.HistoryStore.
func (s *Store) SaveHistory(ctx context.Context, rec tracestore.HistoryRecord) error {
	extra, err := json.Marshal(rec.Extra)
	if err != nil {
		return err
	}
	createTime := rec.CreateTime
	if createTime.IsZero() {
		createTime = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (trace_id, session, query, answer, extra, create_time) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TraceID, rec.Session, rec.Query, rec.Answer, extra, createTime)
	return err
}

// RecentForSession implements tracestore.HistoryStore.
func (s *Store) RecentForSession(ctx context.Context, session string, rootTraceIDs []string, limit int) ([]tracestore.HistoryRecord, error) {
	if len(rootTraceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, session, query, answer, extra, create_time FROM history
		WHERE session = $1 AND trace_id = ANY($2) ORDER BY create_time ASC`,
		session, pqStringArray(rootTraceIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracestore.HistoryRecord
	for rows.Next() {
		var rec tracestore.HistoryRecord
		var extra []byte
		if err := rows.Scan(&rec.TraceID, &rec.Session, &rec.Query, &rec.Answer, &extra, &rec.CreateTime); err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			json.Unmarshal(extra, &rec.Extra)
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, rows.Err()
}

// pqStringArray renders a Go string slice as a Postgres text[] literal,
// avoiding a direct github.com/lib/pq/pq.Array dependency on array
// support beyond the driver itself.
func pqStringArray(ss []string) string {
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out + "}"
}
