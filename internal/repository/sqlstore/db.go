// Package sqlstore implements the chat repositories on database/sql for the
// sqlite and mysql drivers. Timestamps are stored as unix milliseconds.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

type dialect struct {
	name         string
	schema       []string
	insertIgnore string
}

var dialects = map[string]dialect{
	"sqlite": {
		name: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS chat_sessions (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				title      TEXT    NOT NULL DEFAULT 'New Chat',
				created_ts INTEGER NOT NULL,
				updated_ts INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				client_id      TEXT    NOT NULL,
				session_id     INTEGER NOT NULL,
				role           TEXT    NOT NULL,
				content        TEXT    NOT NULL DEFAULT '',
				tool_calls     TEXT    NOT NULL DEFAULT '[]',
				thinking_steps TEXT    NOT NULL DEFAULT '[]',
				created_ts     INTEGER NOT NULL,
				UNIQUE (session_id, client_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_ts)`,
		},
		insertIgnore: `INSERT INTO chat_messages (client_id, session_id, role, content, tool_calls, thinking_steps, created_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, client_id) DO NOTHING`,
	},
	"mysql": {
		name: "mysql",
		schema: []string{
			"CREATE TABLE IF NOT EXISTS `chat_sessions` (" +
				"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
				"`title` VARCHAR(255) NOT NULL DEFAULT 'New Chat'," +
				"`created_ts` BIGINT NOT NULL," +
				"`updated_ts` BIGINT NOT NULL)",
			"CREATE TABLE IF NOT EXISTS `chat_messages` (" +
				"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
				"`client_id` VARCHAR(64) NOT NULL," +
				"`session_id` BIGINT NOT NULL," +
				"`role` VARCHAR(16) NOT NULL," +
				"`content` MEDIUMTEXT NOT NULL," +
				"`tool_calls` MEDIUMTEXT NOT NULL," +
				"`thinking_steps` MEDIUMTEXT NOT NULL," +
				"`created_ts` BIGINT NOT NULL," +
				"UNIQUE KEY `uniq_session_client` (`session_id`, `client_id`)," +
				"KEY `idx_chat_messages_session` (`session_id`, `created_ts`))",
		},
		insertIgnore: "INSERT IGNORE INTO `chat_messages` (`client_id`, `session_id`, `role`, `content`, `tool_calls`, `thinking_steps`, `created_ts`) VALUES (?, ?, ?, ?, ?, ?, ?)",
	},
}

// DB wraps a database/sql handle with its dialect
type DB struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to driver ("sqlite" or "mysql") and ensures the chat tables exist
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	db := &DB{db: sqlDB, dialect: d}
	if err := db.EnsureTables(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// EnsureTables creates the chat schema when missing
func (d *DB) EnsureTables(ctx context.Context) error {
	for _, stmt := range d.dialect.schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
