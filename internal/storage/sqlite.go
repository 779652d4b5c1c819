package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sidekick/internal/state"
)

// ApprovalEntry records one approval/permission decision for auditing.
type ApprovalEntry struct {
	SessionID string
	Tool      string
	Decision  string
	Reason    string
}

// HistoryStore 基于 SQLite (WAL) 的消息历史与审批日志存储
// HistoryStore keeps a queryable mirror of conversation history plus an
// approval audit log in SQLite with WAL mode. The JSON session sidecars
// remain the authoritative checkpoint format; this store backs /resume
// style history recovery and auditing.
type HistoryStore struct {
	db   *sql.DB
	path string
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	s := &HistoryStore{db: db, path: dbPath}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *HistoryStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		timestamp   TEXT NOT NULL DEFAULT '',
		tool_calls  TEXT NOT NULL DEFAULT '[]',
		tool_result TEXT NOT NULL DEFAULT '',
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS approval_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		tool       TEXT NOT NULL,
		decision   TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_approval_log_session ON approval_log(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *HistoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveMessages replaces the stored history for a session in one
// transaction; called best-effort after each turn.
func (s *HistoryStore) SaveMessages(sessionID string, msgs []state.Message) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, seq, role, content, timestamp, tool_calls, tool_result)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range msgs {
		toolCallsJSON := "[]"
		if len(msg.ToolCalls) > 0 {
			if data, merr := json.Marshal(msg.ToolCalls); merr == nil {
				toolCallsJSON = string(data)
			}
		}
		toolResultJSON := ""
		if msg.ToolResult != nil {
			if data, merr := json.Marshal(msg.ToolResult); merr == nil {
				toolResultJSON = string(data)
			}
		}
		if _, err := stmt.Exec(sessionID, i, string(msg.Role), msg.Content,
			msg.Timestamp, toolCallsJSON, toolResultJSON); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadMessages reconstructs the stored history in seq order.
func (s *HistoryStore) LoadMessages(sessionID string) ([]state.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, timestamp, tool_calls, tool_result
		FROM messages WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []state.Message
	for rows.Next() {
		var msg state.Message
		var role, toolCallsJSON, toolResultJSON string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp, &toolCallsJSON, &toolResultJSON); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = state.Role(role)
		if toolCallsJSON != "" && toolCallsJSON != "[]" {
			var calls []state.ToolCall
			if err := json.Unmarshal([]byte(toolCallsJSON), &calls); err == nil {
				msg.ToolCalls = calls
			}
		}
		if toolResultJSON != "" {
			var res state.ToolResult
			if err := json.Unmarshal([]byte(toolResultJSON), &res); err == nil {
				msg.ToolResult = &res
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// LogApproval appends one audit entry.
func (s *HistoryStore) LogApproval(entry ApprovalEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO approval_log (session_id, tool, decision, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Tool, entry.Decision, entry.Reason,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert approval log: %w", err)
	}
	return nil
}

// Approvals lists audit entries for a session, oldest first.
func (s *HistoryStore) Approvals(sessionID string) ([]ApprovalEntry, error) {
	rows, err := s.db.Query(`
		SELECT session_id, tool, decision, reason
		FROM approval_log WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query approval log: %w", err)
	}
	defer rows.Close()

	var out []ApprovalEntry
	for rows.Next() {
		var e ApprovalEntry
		if err := rows.Scan(&e.SessionID, &e.Tool, &e.Decision, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan approval entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
