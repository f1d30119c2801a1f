package output

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS worker_sessions (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	session_name TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	working_dir TEXT NOT NULL DEFAULT '',
	task_description TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	ended_at TEXT,
	final_status TEXT
);
CREATE TABLE IF NOT EXISTS worker_outputs (
	id INTEGER PRIMARY KEY,
	session_id TEXT NOT NULL,
	worker_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	output_chunk TEXT NOT NULL,
	chunk_type TEXT NOT NULL DEFAULT 'stdout',
	chunk_hash TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES worker_sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_outputs_session ON worker_outputs(session_id, id);
CREATE INDEX IF NOT EXISTS idx_outputs_worker ON worker_outputs(worker_id, id);
CREATE INDEX IF NOT EXISTS idx_sessions_worker ON worker_sessions(worker_id, started_at);
`

// Session is one worker lifetime's output grouping record.
type Session struct {
	ID              string     `json:"sessionId"`
	WorkerID        string     `json:"workerId"`
	SessionName     string     `json:"sessionName"`
	Label           string     `json:"label"`
	Project         string     `json:"project"`
	WorkingDir      string     `json:"workingDir"`
	TaskDescription string     `json:"taskDescription,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	FinalStatus     string     `json:"finalStatus,omitempty"`
}

// Chunk is one persisted output snapshot.
type Chunk struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	WorkerID  string    `json:"workerId"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Hash      string    `json:"hash"`
}

// Store is the append-only sqlite output store. Single writer with WAL;
// readers tolerate concurrent writes.
type Store struct {
	db *sql.DB

	// lastHash tracks the most recent chunk hash per session so
	// consecutive identical captures are not persisted twice.
	lastHash map[string]string
	mu       chan struct{} // 1-token semaphore serialising writes
}

// OpenStore opens (and if needed creates) the sqlite store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open output store: %w", err)
	}
	// modernc sqlite serialises internally, but a single connection keeps
	// the single-writer property explicit.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply output schema: %w", err)
	}
	s := &Store{
		db:       db,
		lastHash: make(map[string]string),
		mu:       make(chan struct{}, 1),
	}
	s.mu <- struct{}{}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lock()   { <-s.mu }
func (s *Store) unlock() { s.mu <- struct{}{} }

// HashContent computes the 64-bit dedup hash for a chunk.
func HashContent(content string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(content))
}

// StartSession creates a new output-session row and returns its id.
func (s *Store) StartSession(ctx context.Context, workerID, sessionName, label, project, workingDir, taskDescription string) (string, error) {
	s.lock()
	defer s.unlock()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_sessions (id, worker_id, session_name, label, project, working_dir, task_description, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, workerID, sessionName, label, project, workingDir, taskDescription,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("start output session: %w", err)
	}
	return id, nil
}

// FinalizeSession stamps the session with its end time and final status.
// Idempotent: an already finalized session is left untouched.
func (s *Store) FinalizeSession(ctx context.Context, sessionID, finalStatus string) error {
	s.lock()
	defer s.unlock()
	delete(s.lastHash, sessionID)
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_sessions SET ended_at = ?, final_status = ?
		WHERE id = ? AND ended_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), finalStatus, sessionID)
	if err != nil {
		return fmt.Errorf("finalize output session: %w", err)
	}
	return nil
}

// AppendChunk persists an output chunk unless its hash matches the
// previous chunk in the same session. Reports whether the chunk was kept.
func (s *Store) AppendChunk(ctx context.Context, sessionID, workerID, content, chunkType string) (bool, error) {
	hash := HashContent(content)

	s.lock()
	defer s.unlock()
	if s.lastHash[sessionID] == hash {
		return false, nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_outputs (session_id, worker_id, timestamp, output_chunk, chunk_type, chunk_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, workerID, time.Now().UTC().Format(time.RFC3339Nano), content, chunkType, hash)
	if err != nil {
		return false, fmt.Errorf("append output chunk: %w", err)
	}
	s.lastHash[sessionID] = hash
	return true, nil
}

// SessionsForWorker returns the output sessions of a worker, newest first.
func (s *Store) SessionsForWorker(ctx context.Context, workerID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker_id, session_name, label, project, working_dir, task_description, started_at, ended_at, final_status
		FROM worker_sessions WHERE worker_id = ? ORDER BY started_at DESC`, workerID)
	if err != nil {
		return nil, fmt.Errorf("query worker sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ChunksBySession returns one page of a session's chunks in append order.
func (s *Store) ChunksBySession(ctx context.Context, sessionID string, limit, offset int) ([]Chunk, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, worker_id, timestamp, output_chunk, chunk_type, chunk_hash
		FROM worker_outputs WHERE session_id = ? ORDER BY id ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query session chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// RecentChunks returns the latest chunks for a worker, newest first.
func (s *Store) RecentChunks(ctx context.Context, workerID string, limit int) ([]Chunk, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, worker_id, timestamp, output_chunk, chunk_type, chunk_hash
		FROM worker_outputs WHERE worker_id = ? ORDER BY id DESC LIMIT ?`,
		workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// FullSessionOutput concatenates every chunk of a session in order.
func (s *Store) FullSessionOutput(ctx context.Context, sessionID string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT output_chunk FROM worker_outputs WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return "", fmt.Errorf("query full session output: %w", err)
	}
	defer rows.Close()
	var out string
	for rows.Next() {
		var chunk string
		if err := rows.Scan(&chunk); err != nil {
			return "", err
		}
		out += chunk
	}
	return out, rows.Err()
}

// Sweep enforces retention: chunks older than retentionDays are deleted,
// and sessions still marked active after 24 h are orphan-finalized.
func (s *Store) Sweep(ctx context.Context, retentionDays int) error {
	s.lock()
	defer s.unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM worker_outputs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("sweep chunks: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("Output retention: deleted old chunks", "count", n)
	}

	orphanCutoff := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339Nano)
	res, err = s.db.ExecContext(ctx, `
		UPDATE worker_sessions SET ended_at = ?, final_status = 'orphaned'
		WHERE ended_at IS NULL AND started_at < ?`,
		time.Now().UTC().Format(time.RFC3339Nano), orphanCutoff)
	if err != nil {
		return fmt.Errorf("sweep orphan sessions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("Output retention: orphan-finalized sessions", "count", n)
	}
	return nil
}

// RunSweeper runs Sweep once a day until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx, retentionDays); err != nil {
				slog.Error("Output retention sweep failed", "error", err)
			}
		}
	}
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var out []Session
	for rows.Next() {
		var sess Session
		var startedAt string
		var endedAt, finalStatus sql.NullString
		if err := rows.Scan(&sess.ID, &sess.WorkerID, &sess.SessionName, &sess.Label,
			&sess.Project, &sess.WorkingDir, &sess.TaskDescription,
			&startedAt, &endedAt, &finalStatus); err != nil {
			return nil, err
		}
		sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if endedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
				sess.EndedAt = &t
			}
		}
		if finalStatus.Valid {
			sess.FinalStatus = finalStatus.String
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var c Chunk
		var ts string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.WorkerID, &ts, &c.Content, &c.Type, &c.Hash); err != nil {
			return nil, err
		}
		c.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, c)
	}
	return out, rows.Err()
}
