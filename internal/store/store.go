package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lukelocksmith/timemonitor/internal/session"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Store is the durable session ledger. One row per session ID; a NULL
// end_time marks the session as active. Rows are never deleted — a stopped
// session is the historical record the reporting layer aggregates.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The guarded MarkStopped write is the serialization point for the
	// push/poll race; a single connection keeps check-then-write atomic.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  session_id  TEXT PRIMARY KEY,
  task_id     TEXT NOT NULL,
  task_name   TEXT NOT NULL,
  task_url    TEXT,
  user_id     TEXT NOT NULL,
  user_name   TEXT,
  start_time  TEXT NOT NULL,
  end_time    TEXT,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  list_name   TEXT,
  folder_name TEXT,
  space_name  TEXT,
  created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(end_time) WHERE end_time IS NULL;
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

// UpsertSession inserts the record or, if a row with the same session ID
// exists, overwrites its mutable fields. created_at is never touched on
// conflict, so the first-seen time survives later edits.
func (s *Store) UpsertSession(ctx context.Context, r *session.Record) error {
	const stmt = `
INSERT INTO sessions (session_id, task_id, task_name, task_url, user_id, user_name,
                      start_time, end_time, duration_ms, list_name, folder_name, space_name, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  task_id=excluded.task_id,
  task_name=excluded.task_name,
  task_url=excluded.task_url,
  user_id=excluded.user_id,
  user_name=excluded.user_name,
  start_time=excluded.start_time,
  end_time=excluded.end_time,
  duration_ms=excluded.duration_ms,
  list_name=excluded.list_name,
  folder_name=excluded.folder_name,
  space_name=excluded.space_name;
`
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var endTime interface{}
	if r.EndTime != nil {
		endTime = r.EndTime.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx, stmt,
		r.SessionID,
		r.TaskID,
		r.TaskName,
		r.TaskURL,
		r.UserID,
		r.UserName,
		r.StartTime.UTC().Format(timeLayout),
		endTime,
		r.DurationMS,
		r.ListName,
		r.FolderName,
		r.SpaceName,
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", r.SessionID, err)
	}
	return nil
}

// MarkStopped finalizes a session's end time and duration, but only if the
// row is still open. Returns true when this call performed the transition;
// false means the row was missing or another writer already closed it —
// whichever producer observes the stop first wins, the loser is a no-op.
func (s *Store) MarkStopped(ctx context.Context, sessionID string, end time.Time, durationMS int64) (bool, error) {
	const stmt = `
UPDATE sessions SET end_time = ?, duration_ms = ?
WHERE session_id = ? AND end_time IS NULL;
`
	res, err := s.db.ExecContext(ctx, stmt, end.UTC().Format(timeLayout), durationMS, sessionID)
	if err != nil {
		return false, fmt.Errorf("mark stopped %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark stopped %s: %w", sessionID, err)
	}
	return n > 0, nil
}

const selectColumns = `
SELECT session_id, task_id, task_name, task_url, user_id, user_name,
       start_time, end_time, duration_ms, list_name, folder_name, space_name, created_at
FROM sessions
`

// LoadActiveSessions returns every row whose end_time is still NULL.
// Used to rebuild the active-session cache on cold start.
func (s *Store) LoadActiveSessions(ctx context.Context) ([]*session.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`WHERE end_time IS NULL;`)
	if err != nil {
		return nil, fmt.Errorf("load active sessions: %w", err)
	}
	defer rows.Close()

	var result []*session.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetSession returns the row for a session ID, reporting whether it exists.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`WHERE session_id = ?;`, sessionID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*session.Record, error) {
	var (
		r                   session.Record
		taskURL, userName   sql.NullString
		start, end, created sql.NullString
		list, folder, space sql.NullString
	)
	err := row.Scan(
		&r.SessionID, &r.TaskID, &r.TaskName, &taskURL, &r.UserID, &userName,
		&start, &end, &r.DurationMS, &list, &folder, &space, &created,
	)
	if err != nil {
		return nil, err
	}
	r.TaskURL = taskURL.String
	r.UserName = userName.String
	r.ListName = list.String
	r.FolderName = folder.String
	r.SpaceName = space.String
	if start.Valid {
		if t, err := time.Parse(timeLayout, start.String); err == nil {
			r.StartTime = t
		}
	}
	if end.Valid {
		if t, err := time.Parse(timeLayout, end.String); err == nil {
			r.EndTime = &t
		}
	}
	if created.Valid {
		if t, err := time.Parse(timeLayout, created.String); err == nil {
			r.CreatedAt = t
		}
	}
	return &r, nil
}
