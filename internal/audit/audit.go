// Package audit is a supplemented feature: a small SQLite-backed log of
// agent lifecycle events (install, uninstall, launch, terminate),
// useful for diagnosing a misbehaving agent across restarts. It sits off
// the critical path of every core component; a failure to record an
// entry is logged and never blocks the operation it is auditing.
//
// Grounded on kdlbs-kandev's internal/notifications/store/sqlite.go for
// the sqlite3-via-database/sql schema-init idiom, switched to
// jmoiron/sqlx for the query layer used elsewhere in the pack (e.g.
// internal/task/repository/sqlite.go).
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one row of the agent_audit_log table.
type Entry struct {
	ID           string    `db:"id"`
	OccurredAt   time.Time `db:"occurred_at"`
	Action       string    `db:"action"`
	AgentID      string    `db:"agent_id"`
	ConnectionID string    `db:"connection_id"`
	Detail       string    `db:"detail"`
}

const (
	ActionInstall     = "install"
	ActionUninstall   = "uninstall"
	ActionLaunch      = "launch"
	ActionTerminate   = "terminate"
	ActionAuthenticate = "authenticate"
	ActionLogout      = "logout"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_audit_log (
	id TEXT PRIMARY KEY,
	occurred_at DATETIME NOT NULL,
	action TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	connection_id TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_agent_audit_log_agent_id ON agent_audit_log(agent_id);
CREATE INDEX IF NOT EXISTS idx_agent_audit_log_occurred_at ON agent_audit_log(occurred_at);
`

// Log is a mutex-free, single-connection-pooled sqlite audit log.
type Log struct {
	db *sqlx.DB
}

// Open creates dbPath's parent directory if needed, opens the database,
// and applies the schema.
func Open(dbPath string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing audit log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record inserts one audit entry.
func (l *Log) Record(ctx context.Context, action, agentID, connectionID, detail string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO agent_audit_log (id, occurred_at, action, agent_id, connection_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), time.Now().UTC(), action, agentID, connectionID, detail)
	return err
}

// RecentForAgent returns the most recent entries for agentID, newest first.
func (l *Log) RecentForAgent(ctx context.Context, agentID string, limit int) ([]Entry, error) {
	var entries []Entry
	err := l.db.SelectContext(ctx, &entries, `
		SELECT id, occurred_at, action, agent_id, connection_id, detail
		FROM agent_audit_log
		WHERE agent_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?
	`, agentID, limit)
	return entries, err
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }
