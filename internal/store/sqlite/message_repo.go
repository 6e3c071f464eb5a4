package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pairchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

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
	conv, err := findByPair(ctx, tx, m.SenderID, m.ReceiverID)
	if err != nil {
		return nil, err
	}
	if err := applyIncoming(ctx, tx, conv.ID, m.SenderID, m.SentAt); err != nil {
		return nil, fmt.Errorf("update conversation %d: %w", conv.ID, err)
	}
	conv, err = getConversation(ctx, tx, conv.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return conv, nil
}

func insertMessage(ctx context.Context, q queryer, m *domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, text, is_read, sent_at)
		VALUES (?, ?, ?, 0, ?)
	`, m.SenderID, m.ReceiverID, m.Text, m.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.Read = false
	return nil
}

func (r *MessageRepo) ListBetween(ctx context.Context, userA, userB int64) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, text, is_read, sent_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY sent_at ASC, id ASC
	`, userA, userB, userB, userA)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Text,
			&m.Read,
			&m.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
