package postgres

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
	lo, hi := domain.PairKey(u, v)
	c, err := scanConversation(r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE pair_lo = $1 AND pair_hi = $2
	`, lo, hi))
	if err != nil {
		return nil, fmt.Errorf("find conversation %d/%d: %w", u, v, err)
	}
	return c, nil
}

func (r *ConversationRepo) CreateForPair(ctx context.Context, u, v int64) (*domain.Conversation, error) {
	if u == v {
		return nil, fmt.Errorf("%w: conversation needs two distinct users", domain.ErrInvalidInput)
	}
	lo, hi := domain.PairKey(u, v)
	c, err := scanConversation(r.db.QueryRowContext(ctx, `
		INSERT INTO conversations (party_a, party_b, pair_lo, pair_hi, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING `+conversationColumns+`
	`, u, v, lo, hi))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("insert conversation %d/%d: %w", u, v, domain.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1
	`, id))
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return c, nil
}

// ApplyIncomingMessage is a single UPDATE; Postgres row locking serialises
// concurrent sends on the same record.
func (r *ConversationRepo) ApplyIncomingMessage(ctx context.Context, conversationID, senderID int64, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_activity_at = $3,
		    unread_for_a = CASE WHEN party_a = $2 THEN 0 ELSE unread_for_a + 1 END,
		    unread_for_b = CASE WHEN party_b = $2 THEN 0 ELSE unread_for_b + 1 END
		WHERE id = $1 AND $2 IN (party_a, party_b)
	`, conversationID, senderID, sentAt)
	if err != nil {
		return fmt.Errorf("apply incoming message: %w", err)
	}
	return expectOneRow(res, "apply incoming message")
}

func (r *ConversationRepo) SetSaved(ctx context.Context, conversationID, userID int64, saved bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET saved_by_a = CASE WHEN party_a = $2 THEN $3 ELSE saved_by_a END,
		    saved_by_b = CASE WHEN party_b = $2 THEN $3 ELSE saved_by_b END
		WHERE id = $1 AND $2 IN (party_a, party_b)
	`, conversationID, userID, saved)
	if err != nil {
		return fmt.Errorf("set saved: %w", err)
	}
	return expectOneRow(res, "set saved")
}

func (r *ConversationRepo) MarkRead(ctx context.Context, conversationID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET unread_for_a = CASE WHEN party_a = $2 THEN 0 ELSE unread_for_a END,
		    unread_for_b = CASE WHEN party_b = $2 THEN 0 ELSE unread_for_b END
		WHERE id = $1 AND $2 IN (party_a, party_b)
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	return expectOneRow(res, "mark as read")
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64, filter domain.ListFilter) ([]*domain.Conversation, error) {
	where := `$1 IN (party_a, party_b)`
	if filter == domain.ListSavedOnly {
		where = `(party_a = $1 AND saved_by_a) OR (party_b = $1 AND saved_by_b)`
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE `+where+`
		ORDER BY last_activity_at DESC NULLS LAST, id DESC
	`, userID)
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

// ── helpers ──────────────────────────────────────────────────────────────────

// ensurePair inserts the conversation for u and v unless one already exists.
// A concurrent insert of the same pair blocks until the other transaction ends.
func ensurePair(ctx context.Context, q queryer, u, v int64) error {
	lo, hi := domain.PairKey(u, v)
	if _, err := q.ExecContext(ctx, `
		INSERT INTO conversations (party_a, party_b, pair_lo, pair_hi, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (pair_lo, pair_hi) DO NOTHING
	`, u, v, lo, hi); err != nil {
		return fmt.Errorf("ensure conversation %d/%d: %w", u, v, err)
	}
	return nil
}

// applyToPair applies an incoming message to the pair's record and returns
// the updated row.
func applyToPair(ctx context.Context, q queryer, senderID, receiverID int64, sentAt time.Time) (*domain.Conversation, error) {
	lo, hi := domain.PairKey(senderID, receiverID)
	c, err := scanConversation(q.QueryRowContext(ctx, `
		UPDATE conversations
		SET last_activity_at = $3,
		    unread_for_a = CASE WHEN party_a = $4 THEN 0 ELSE unread_for_a + 1 END,
		    unread_for_b = CASE WHEN party_b = $4 THEN 0 ELSE unread_for_b + 1 END
		WHERE pair_lo = $1 AND pair_hi = $2
		RETURNING `+conversationColumns+`
	`, lo, hi, sentAt, senderID))
	if err != nil {
		return nil, fmt.Errorf("apply incoming message %d/%d: %w", senderID, receiverID, err)
	}
	return c, nil
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(
		&c.ID, &c.PartyA, &c.PartyB, &c.SavedByA, &c.SavedByB,
		&c.UnreadForA, &c.UnreadForB, &c.LastActivityAt, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
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
