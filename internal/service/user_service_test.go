package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pairchat/internal/cache"
	"pairchat/internal/domain"
	"pairchat/internal/service"
)

func TestUserService_ProfileIsCached(t *testing.T) {
	ctx := context.Background()
	repo := new(MockUserRepo)
	u := &domain.User{ID: 3, Username: "carol", FullName: "Carol C", ProfilePic: "c.png", IsActive: true}
	repo.On("GetByID", mock.Anything, int64(3)).Return(u, nil).Once()
	repo.On("GetByID", mock.Anything, int64(4)).Return(nil, domain.ErrNotFound)

	c := cache.NewMemory()
	svc := service.NewUserService(repo, c, time.Minute, zaptest.NewLogger(t))

	p, err := svc.Profile(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.Profile{UserID: 3, DisplayName: "Carol C", Username: "carol", Avatar: "c.png"}, p)

	// Served from cache; the repo expectation above allows a single call.
	p2, err := svc.Profile(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, p, p2)
	repo.AssertNumberOfCalls(t, "GetByID", 1)

	raw, err := c.Get(ctx, "profile:3")
	require.NoError(t, err)
	assert.Contains(t, raw, `"username":"carol"`)

	_, err = svc.Profile(ctx, 4)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserService_CorruptCacheEntryFallsThrough(t *testing.T) {
	ctx := context.Background()
	repo := new(MockUserRepo)
	repo.On("GetByID", mock.Anything, int64(5)).Return(&domain.User{ID: 5, Username: "eve"}, nil)

	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, "profile:5", "{not json", time.Minute))

	svc := service.NewUserService(repo, c, time.Minute, zaptest.NewLogger(t))
	p, err := svc.Profile(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "eve", p.Username)
}

func TestUserService_Discover(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a := e.user(t, "alice")
	e.user(t, "bob")
	e.user(t, "carol")

	people, err := e.userSvc.Discover(ctx, a.ID)
	require.NoError(t, err)
	var names []string
	for _, p := range people {
		names = append(names, p.Username)
	}
	assert.ElementsMatch(t, []string{"bob", "carol"}, names)
}
