// Package history persists session and prompt-turn transcripts in SQLite.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("session not found in history")

// SessionRecord is a persisted session.
type SessionRecord struct {
	ID         string            `json:"id"`
	WorkingDir string            `json:"working_dir"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ClosedAt   *time.Time        `json:"closed_at,omitempty"`
	TurnCount  int               `json:"turn_count"`
}

// Turn is one persisted prompt and its reply.
type Turn struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	StreamID      string        `json:"stream_id"`
	Prompt        string        `json:"prompt"`
	ResourceLinks []string      `json:"resource_links,omitempty"`
	Reply         string        `json:"reply"`
	StopReason    string        `json:"stop_reason"`
	Error         string        `json:"error,omitempty"`
	Tokens        int           `json:"tokens"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Store handles transcript persistence
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Enable WAL mode and busy timeout for better concurrent access
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		working_dir TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		closed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		resource_links TEXT NOT NULL DEFAULT '[]',
		reply TEXT NOT NULL,
		stop_reason TEXT NOT NULL,
		error TEXT,
		tokens INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSession inserts a session row
func (s *Store) RecordSession(rec *SessionRecord) error {
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, working_dir, metadata, created_at)
		VALUES (?, ?, ?, ?)`,
		rec.ID, rec.WorkingDir, string(md), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// CloseSession stamps closed_at on a session
func (s *Store) CloseSession(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET closed_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RecordTurn inserts a turn row, assigning an ID if needed
func (s *Store) RecordTurn(turn *Turn) error {
	if turn.ID == "" {
		turn.ID = "turn_" + uuid.New().String()[:8]
	}
	links := turn.ResourceLinks
	if links == nil {
		links = []string{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("failed to encode resource links: %w", err)
	}

	var errText sql.NullString
	if turn.Error != "" {
		errText = sql.NullString{String: turn.Error, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO turns (id, session_id, stream_id, prompt, resource_links, reply, stop_reason,
		                   error, tokens, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.StreamID, turn.Prompt, string(linksJSON), turn.Reply,
		turn.StopReason, errText, turn.Tokens, turn.StartedAt.UTC(), turn.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	rows, err := s.querySessions(`WHERE s.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}
	return rows[0], nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means all.
func (s *Store) ListSessions(limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		return s.querySessions(`ORDER BY s.created_at DESC`)
	}
	return s.querySessions(`ORDER BY s.created_at DESC LIMIT ?`, limit)
}

func (s *Store) querySessions(tail string, args ...any) ([]*SessionRecord, error) {
	query := `
		SELECT s.id, s.working_dir, s.metadata, s.created_at, s.closed_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s ` + tail

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var md string
		var closedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.WorkingDir, &md, &rec.CreatedAt, &closedAt, &rec.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if md != "" && md != "null" {
			if err := json.Unmarshal([]byte(md), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", rec.ID, err)
			}
		}
		if closedAt.Valid {
			t := closedAt.Time
			rec.ClosedAt = &t
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ListTurns returns the turns of a session in the order they started
func (s *Store) ListTurns(sessionID string) ([]*Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, stream_id, prompt, resource_links, reply, stop_reason,
		       error, tokens, started_at, duration_ms
		FROM turns WHERE session_id = ? ORDER BY started_at ASC, rowid ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*Turn
	for rows.Next() {
		var turn Turn
		var links string
		var errText sql.NullString
		var durationMs int64
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.StreamID, &turn.Prompt, &links, &turn.Reply,
			&turn.StopReason, &errText, &turn.Tokens, &turn.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(links), &turn.ResourceLinks); err != nil {
			return nil, fmt.Errorf("failed to decode resource links for %s: %w", turn.ID, err)
		}
		if errText.Valid {
			turn.Error = errText.String
		}
		turn.Duration = time.Duration(durationMs) * time.Millisecond
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}
