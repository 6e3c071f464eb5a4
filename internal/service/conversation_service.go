package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/domain"
)

// maxCreateAttempts bounds the find/create/re-find loop for a pair.
const maxCreateAttempts = 3

// ProfileSource resolves a user ID to its public profile.
type ProfileSource interface {
	Profile(ctx context.Context, id int64) (domain.Profile, error)
}

type ConversationService struct {
	conversations domain.ConversationRepository
	profiles      ProfileSource
	logger        *zap.Logger
}

func NewConversationService(
	conversations domain.ConversationRepository,
	profiles ProfileSource,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		profiles:      profiles,
		logger:        logger,
	}
}

// ConversationSummary is a conversation seen from the requesting user.
// ID is the other party's user ID.
type ConversationSummary struct {
	ConversationID int64      `json:"conversation_id"`
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Username       string     `json:"username"`
	ProfilePic     string     `json:"profile_pic"`
	Unread         int        `json:"unread"`
	Saved          bool       `json:"saved"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

func (s *ConversationService) ListRecent(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	return s.list(ctx, userID, domain.ListAny)
}

func (s *ConversationService) ListSaved(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	return s.list(ctx, userID, domain.ListSavedOnly)
}

func (s *ConversationService) list(ctx context.Context, userID int64, filter domain.ListFilter) ([]ConversationSummary, error) {
	convs, err := s.conversations.ListForUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	res := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		sum, err := s.Summarize(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		res = append(res, sum)
	}
	return res, nil
}

// Summarize projects c onto userID and joins the other party's profile.
// A peer without a profile keeps empty display fields.
func (s *ConversationService) Summarize(ctx context.Context, c *domain.Conversation, userID int64) (ConversationSummary, error) {
	p, err := c.Project(userID)
	if err != nil {
		return ConversationSummary{}, err
	}
	sum := ConversationSummary{
		ConversationID: p.ConversationID,
		ID:             p.OtherID,
		Unread:         p.Unread,
		Saved:          p.Saved,
		LastActivityAt: p.LastActivityAt,
	}
	profile, err := s.profiles.Profile(ctx, p.OtherID)
	switch {
	case err == nil:
		sum.Name = profile.DisplayName
		sum.Username = profile.Username
		sum.ProfilePic = profile.Avatar
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Debug("conversation peer has no profile",
			zap.Int64("conversation_id", c.ID), zap.Int64("user_id", p.OtherID))
	default:
		return ConversationSummary{}, fmt.Errorf("profile %d: %w", p.OtherID, err)
	}
	return sum, nil
}

// OpenOrCreate returns the conversation between userID and otherID, creating
// it when absent. created reports whether this call created it.
func (s *ConversationService) OpenOrCreate(ctx context.Context, userID, otherID int64) (conv *domain.Conversation, created bool, err error) {
	if userID == otherID {
		return nil, false, fmt.Errorf("%w: cannot open a conversation with yourself", domain.ErrInvalidInput)
	}
	if _, err := s.profiles.Profile(ctx, otherID); err != nil {
		return nil, false, fmt.Errorf("user %d: %w", otherID, err)
	}
	return findOrCreate(ctx, s.conversations, userID, otherID)
}

// SetSaved pins or unpins the conversation with otherID for userID only.
func (s *ConversationService) SetSaved(ctx context.Context, userID, otherID int64, saved bool) error {
	conv, err := s.conversations.FindByPair(ctx, userID, otherID)
	if err != nil {
		return err
	}
	return s.conversations.SetSaved(ctx, conv.ID, userID, saved)
}

func (s *ConversationService) MarkRead(ctx context.Context, conversationID, userID int64) error {
	return s.conversations.MarkRead(ctx, conversationID, userID)
}

// findOrCreate converges concurrent creators on the single record the
// store's pair constraint allows: a conflict means someone else won, so we
// look again.
func findOrCreate(ctx context.Context, convs domain.ConversationRepository, u, v int64) (*domain.Conversation, bool, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		c, err := convs.FindByPair(ctx, u, v)
		if err == nil {
			return c, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("find conversation: %w", err)
		}

		c, err = convs.CreateForPair(ctx, u, v)
		if err == nil {
			return c, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, false, fmt.Errorf("create conversation: %w", err)
		}
	}
	return nil, false, fmt.Errorf("conversation %d/%d not resolvable after %d attempts: %w",
		u, v, maxCreateAttempts, domain.ErrInternal)
}
