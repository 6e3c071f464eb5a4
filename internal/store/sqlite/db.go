package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pairchat/internal/domain"
)

// Open opens a SQLite database with the given DSN.
//
// The pool is limited to one connection: SQLite has a single writer, and an
// in-memory database exists per connection.
func Open(dsn string) (*sql.DB, error) {
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w: %w", domain.ErrDatabaseConnection, err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL for the chat schema.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(100) UNIQUE NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			full_name VARCHAR(100) NOT NULL DEFAULT '',
			profile_pic TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		// One row per unordered pair: (pair_lo, pair_hi) is the canonical key.
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY,
			party_a INTEGER NOT NULL,
			party_b INTEGER NOT NULL,
			pair_lo INTEGER NOT NULL,
			pair_hi INTEGER NOT NULL,
			saved_by_a BOOLEAN NOT NULL DEFAULT 0,
			saved_by_b BOOLEAN NOT NULL DEFAULT 0,
			unread_for_a INTEGER NOT NULL DEFAULT 0 CHECK (unread_for_a >= 0),
			unread_for_b INTEGER NOT NULL DEFAULT 0 CHECK (unread_for_b >= 0),
			last_activity_at DATETIME DEFAULT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (party_a <> party_b),
			UNIQUE (pair_lo, pair_hi),
			FOREIGN KEY (party_a) REFERENCES users(id),
			FOREIGN KEY (party_b) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			sent_at DATETIME NOT NULL,
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (receiver_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_party_a ON conversations(party_a);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_party_b ON conversations(party_b);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_activity ON conversations(last_activity_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair_sent ON messages(sender_id, receiver_id, sent_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is implemented by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
