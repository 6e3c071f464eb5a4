package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"pairchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// Append stores m. When SentAt is zero the database clock is used.
func (r *MessageRepo) Append(ctx context.Context, m *domain.Message) error {
	return insertMessage(ctx, r.db, m)
}

func (r *MessageRepo) AppendAndApply(ctx context.Context, m *domain.Message) (*domain.Conversation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, m); err != nil {
		return nil, err
	}
	if err := ensurePair(ctx, tx, m.SenderID, m.ReceiverID); err != nil {
		return nil, err
	}
	conv, err := applyToPair(ctx, tx, m.SenderID, m.ReceiverID, m.SentAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return conv, nil
}

func (r *MessageRepo) ListBetween(ctx context.Context, userA, userB int64) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, text, is_read, sent_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY sent_at ASC, id ASC
	`, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return r.scanMessages(rows)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func insertMessage(ctx context.Context, q queryer, m *domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	var sentAt any
	if !m.SentAt.IsZero() {
		sentAt = m.SentAt
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, text, is_read, sent_at)
		VALUES ($1, $2, $3, FALSE, COALESCE($4, NOW()))
		RETURNING id, is_read, sent_at
	`, m.SenderID, m.ReceiverID, m.Text, sentAt,
	).Scan(&m.ID, &m.Read, &m.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Read, &m.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
