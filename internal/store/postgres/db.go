package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pairchat/internal/domain"
)

const uniqueViolation = "23505"

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", domain.ErrDatabaseConnection, err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			email            VARCHAR(100) UNIQUE NOT NULL,
			hashed_password  VARCHAR(255) NOT NULL,
			full_name        VARCHAR(100) NOT NULL DEFAULT '',
			profile_pic      TEXT         NOT NULL DEFAULT '',
			bio              TEXT         NOT NULL DEFAULT '',
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// One row per unordered pair; the unique key is (least, greatest).
		`CREATE TABLE IF NOT EXISTS conversations (
			id               BIGSERIAL   PRIMARY KEY,
			party_a          BIGINT      NOT NULL REFERENCES users(id),
			party_b          BIGINT      NOT NULL REFERENCES users(id),
			pair_lo          BIGINT      NOT NULL,
			pair_hi          BIGINT      NOT NULL,
			saved_by_a       BOOLEAN     NOT NULL DEFAULT FALSE,
			saved_by_b       BOOLEAN     NOT NULL DEFAULT FALSE,
			unread_for_a     INTEGER     NOT NULL DEFAULT 0 CHECK (unread_for_a >= 0),
			unread_for_b     INTEGER     NOT NULL DEFAULT 0 CHECK (unread_for_b >= 0),
			last_activity_at TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (party_a <> party_b),
			CHECK (pair_lo = LEAST(party_a, party_b) AND pair_hi = GREATEST(party_a, party_b)),
			UNIQUE (pair_lo, pair_hi)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id          BIGSERIAL   PRIMARY KEY,
			sender_id   BIGINT      NOT NULL REFERENCES users(id),
			receiver_id BIGINT      NOT NULL REFERENCES users(id),
			text        TEXT        NOT NULL,
			is_read     BOOLEAN     NOT NULL DEFAULT FALSE,
			sent_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_party_a ON conversations(party_a)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_party_b ON conversations(party_b)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_activity ON conversations(last_activity_at DESC NULLS LAST)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair_sent ON messages(sender_id, receiver_id, sent_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// queryer is implemented by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
