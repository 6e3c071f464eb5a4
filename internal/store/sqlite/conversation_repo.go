package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pairchat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, party_a, party_b, saved_by_a, saved_by_b, unread_for_a, unread_for_b, last_activity_at, created_at`

func (r *ConversationRepo) FindByPair(ctx context.Context, u, v int64) (*domain.Conversation, error) {
	return findByPair(ctx, r.db, u, v)
}

func (r *ConversationRepo) CreateForPair(ctx context.Context, u, v int64) (*domain.Conversation, error) {
	if u == v {
		return nil, fmt.Errorf("%w: conversation needs two distinct users", domain.ErrInvalidInput)
	}
	lo, hi := domain.PairKey(u, v)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (party_a, party_b, pair_lo, pair_hi, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, u, v, lo, hi)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert conversation %d/%d: %w", u, v, domain.ErrConflict)
		}
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	return getConversation(ctx, r.db, id)
}

func (r *ConversationRepo) ApplyIncomingMessage(ctx context.Context, conversationID, senderID int64, sentAt time.Time) error {
	return applyIncoming(ctx, r.db, conversationID, senderID, sentAt)
}

func (r *ConversationRepo) SetSaved(ctx context.Context, conversationID, userID int64, saved bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET saved_by_a = CASE WHEN party_a = ? THEN ? ELSE saved_by_a END,
		    saved_by_b = CASE WHEN party_b = ? THEN ? ELSE saved_by_b END
		WHERE id = ? AND (party_a = ? OR party_b = ?)
	`, userID, saved, userID, saved, conversationID, userID, userID)
	if err != nil {
		return fmt.Errorf("set saved: %w", err)
	}
	return expectOneRow(res, "set saved")
}

func (r *ConversationRepo) MarkRead(ctx context.Context, conversationID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET unread_for_a = CASE WHEN party_a = ? THEN 0 ELSE unread_for_a END,
		    unread_for_b = CASE WHEN party_b = ? THEN 0 ELSE unread_for_b END
		WHERE id = ? AND (party_a = ? OR party_b = ?)
	`, userID, userID, conversationID, userID, userID)
	if err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	return expectOneRow(res, "mark as read")
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64, filter domain.ListFilter) ([]*domain.Conversation, error) {
	where := `party_a = ? OR party_b = ?`
	if filter == domain.ListSavedOnly {
		where = `(party_a = ? AND saved_by_a = 1) OR (party_b = ? AND saved_by_b = 1)`
	}
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE ` + where + `
		ORDER BY last_activity_at IS NULL, last_activity_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func findByPair(ctx context.Context, q queryer, u, v int64) (*domain.Conversation, error) {
	lo, hi := domain.PairKey(u, v)
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE pair_lo = ? AND pair_hi = ?`
	c, err := scanConversation(q.QueryRowContext(ctx, query, lo, hi))
	if err != nil {
		return nil, fmt.Errorf("find conversation %d/%d: %w", u, v, err)
	}
	return c, nil
}

func getConversation(ctx context.Context, q queryer, id int64) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	c, err := scanConversation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return c, nil
}

// ensurePair inserts the conversation for u and v unless one already exists.
func ensurePair(ctx context.Context, q queryer, u, v int64) error {
	lo, hi := domain.PairKey(u, v)
	if _, err := q.ExecContext(ctx, `
		INSERT INTO conversations (party_a, party_b, pair_lo, pair_hi, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (pair_lo, pair_hi) DO NOTHING
	`, u, v, lo, hi); err != nil {
		return fmt.Errorf("ensure conversation %d/%d: %w", u, v, err)
	}
	return nil
}

// applyIncoming bumps the receiver's counter and clears the sender's in a
// single statement, so concurrent sends never lose an increment.
func applyIncoming(ctx context.Context, q queryer, conversationID, senderID int64, sentAt time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE conversations
		SET last_activity_at = ?,
		    unread_for_a = CASE WHEN party_a = ? THEN 0 ELSE unread_for_a + 1 END,
		    unread_for_b = CASE WHEN party_b = ? THEN 0 ELSE unread_for_b + 1 END
		WHERE id = ? AND (party_a = ? OR party_b = ?)
	`, sentAt.UTC(), senderID, senderID, conversationID, senderID, senderID)
	if err != nil {
		return fmt.Errorf("apply incoming message: %w", err)
	}
	return expectOneRow(res, "apply incoming message")
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var lastActivity sql.NullTime
	err := row.Scan(
		&c.ID,
		&c.PartyA,
		&c.PartyB,
		&c.SavedByA,
		&c.SavedByB,
		&c.UnreadForA,
		&c.UnreadForB,
		&lastActivity,
		&c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		c.LastActivityAt = &t
	}
	return c, nil
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}
