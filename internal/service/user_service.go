package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/cache"
	"pairchat/internal/domain"
)

// UserService is the profile collaborator: it resolves user IDs to the
// public fields shown in conversation lists.
type UserService struct {
	users      domain.UserRepository
	cache      cache.Cache
	profileTTL time.Duration
	logger     *zap.Logger
}

func NewUserService(users domain.UserRepository, c cache.Cache, profileTTL time.Duration, logger *zap.Logger) *UserService {
	return &UserService{
		users:      users,
		cache:      c,
		profileTTL: profileTTL,
		logger:     logger,
	}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func profileKey(id int64) string {
	return fmt.Sprintf("profile:%d", id)
}

// Profile returns the public profile of id, served from cache when possible.
// Cache failures are logged and fall through to the repository.
func (s *UserService) Profile(ctx context.Context, id int64) (domain.Profile, error) {
	key := profileKey(id)
	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var p domain.Profile
		if jsonErr := json.Unmarshal([]byte(raw), &p); jsonErr == nil {
			return p, nil
		}
		s.logger.Warn("discarding corrupt cached profile", zap.Int64("user_id", id))
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn("profile cache get", zap.Int64("user_id", id), zap.Error(err))
	}

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("get user %d: %w", id, err)
	}
	p := u.Profile()
	if b, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, string(b), s.profileTTL); err != nil {
			s.logger.Warn("profile cache set", zap.Int64("user_id", id), zap.Error(err))
		}
	}
	return p, nil
}

// Discover lists every active user except excludeID.
func (s *UserService) Discover(ctx context.Context, excludeID int64) ([]domain.Profile, error) {
	users, err := s.users.ListOthers(ctx, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list other users: %w", err)
	}
	res := make([]domain.Profile, 0, len(users))
	for _, u := range users {
		res = append(res, u.Profile())
	}
	return res, nil
}
