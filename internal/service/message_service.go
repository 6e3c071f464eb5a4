package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/presence"
	"pairchat/internal/security"
)

// DefaultMaxMessageLength is used when the configured limit is not positive.
const DefaultMaxMessageLength = 5000

// PresenceLookup finds a user's live connection, if any.
type PresenceLookup interface {
	Lookup(userID int64) (presence.Handle, bool)
}

// MessageService is the delivery engine: it stores a message together with
// the pair's conversation update, then tries a real-time push.
type MessageService struct {
	messages domain.MessageRepository
	profiles ProfileSource
	presence PresenceLookup
	cipher   *security.MessageCipher
	logger   *zap.Logger
	now      func() time.Time

	MaxMessageLength int
}

func NewMessageService(
	messages domain.MessageRepository,
	profiles ProfileSource,
	presence PresenceLookup,
	cipher *security.MessageCipher,
	logger *zap.Logger,
	maxMessageLength int,
) *MessageService {
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &MessageService{
		messages:         messages,
		profiles:         profiles,
		presence:         presence,
		cipher:           cipher,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		MaxMessageLength: maxMessageLength,
	}
}

// Send delivers text from senderID to receiverID and returns the stored
// message with its plaintext. The message row and the conversation counters
// commit together; the push happens after commit and never fails Send.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID int64, text string) (*domain.Message, error) {
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: cannot send a message to yourself", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text cannot be empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > s.MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrInvalidInput, s.MaxMessageLength)
	}
	if _, err := s.profiles.Profile(ctx, receiverID); err != nil {
		return nil, fmt.Errorf("receiver %d: %w", receiverID, err)
	}

	sealed, err := s.cipher.Seal(senderID, receiverID, text)
	if err != nil {
		return nil, err
	}
	msg := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       sealed,
		SentAt:     s.now(),
	}
	conv, err := s.messages.AppendAndApply(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	msg.Text = text

	s.logger.Debug("message stored",
		zap.Int64("message_id", msg.ID),
		zap.Int64("conversation_id", conv.ID),
	)
	s.push(receiverID, msg)
	return msg, nil
}

func (s *MessageService) push(receiverID int64, msg *domain.Message) {
	h, ok := s.presence.Lookup(receiverID)
	if !ok {
		return
	}
	out := *msg
	if err := h.Push(presence.Event{Type: presence.EventNewMessage, Message: &out}); err != nil {
		s.logger.Warn("push new message",
			zap.Int64("receiver_id", receiverID),
			zap.Int64("message_id", msg.ID),
			zap.String("conn_id", h.ID()),
			zap.Error(err),
		)
	}
}

// MessagesBetween returns the full history between userID and otherID,
// oldest first, with text decrypted.
func (s *MessageService) MessagesBetween(ctx context.Context, userID, otherID int64) ([]*domain.Message, error) {
	if userID == otherID {
		return nil, fmt.Errorf("%w: no conversation with yourself", domain.ErrInvalidInput)
	}
	msgs, err := s.messages.ListBetween(ctx, userID, otherID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range msgs {
		plain, err := s.cipher.Open(m.SenderID, m.ReceiverID, m.Text)
		switch {
		case err == nil:
			m.Text = plain
		case errors.Is(err, security.ErrNotSealed):
			// Rows written before encryption was enabled are returned as-is.
		default:
			s.logger.Warn("open stored message", zap.Int64("message_id", m.ID), zap.Error(err))
		}
	}
	return msgs, nil
}
