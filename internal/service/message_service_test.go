package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pairchat/internal/domain"
	"pairchat/internal/presence"
	"pairchat/internal/service"
)

func TestSend_NewPairThenReply(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	m1, err := e.msgSvc.Send(ctx, a.ID, b.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", m1.Text)
	assert.NotZero(t, m1.ID)
	assert.False(t, m1.Read)

	conv, err := e.convs.FindByPair(ctx, a.ID, b.ID)
	require.NoError(t, err)
	pa, err := conv.Project(a.ID)
	require.NoError(t, err)
	pb, err := conv.Project(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pa.Unread)
	assert.Equal(t, 1, pb.Unread)
	require.NotNil(t, conv.LastActivityAt)
	assert.True(t, conv.LastActivityAt.Equal(m1.SentAt))

	m2, err := e.msgSvc.Send(ctx, b.ID, a.ID, "hello")
	require.NoError(t, err)

	again, err := e.convs.FindByPair(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	pa, _ = again.Project(a.ID)
	pb, _ = again.Project(b.ID)
	assert.Equal(t, 1, pa.Unread)
	assert.Equal(t, 0, pb.Unread)
	assert.True(t, again.LastActivityAt.Equal(m2.SentAt))
}

func TestSend_PushesToConnectedReceiver(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	hb := &recordingHandle{id: "conn-b"}
	e.registry.Register(b.ID, hb)

	msg, err := e.msgSvc.Send(ctx, a.ID, b.ID, "hi")
	require.NoError(t, err)

	events := hb.Events()
	require.Len(t, events, 1)
	assert.Equal(t, presence.EventNewMessage, events[0].Type)
	require.NotNil(t, events[0].Message)
	assert.Equal(t, msg.ID, events[0].Message.ID)
	assert.Equal(t, "hi", events[0].Message.Text)
	assert.Equal(t, a.ID, events[0].Message.SenderID)

	// The sender is never pushed its own message.
	ha := &recordingHandle{id: "conn-a"}
	e.registry.Register(a.ID, ha)
	_, err = e.msgSvc.Send(ctx, a.ID, b.ID, "again")
	require.NoError(t, err)
	assert.Empty(t, ha.Events())
	assert.Len(t, hb.Events(), 2)
}

func TestSend_DisconnectedReceiverStillCounts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	_, err := e.msgSvc.Send(ctx, a.ID, b.ID, "are you there?")
	require.NoError(t, err)

	recent, err := e.convSvc.ListRecent(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 1, recent[0].Unread)
}

func TestSend_PushFailureIsLoggedNotReturned(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	e := newEnv(t, zap.New(core))
	a, b := e.user(t, "alice"), e.user(t, "bob")

	e.registry.Register(b.ID, &recordingHandle{id: "conn-b", err: errQueueFull})

	msg, err := e.msgSvc.Send(ctx, a.ID, b.ID, "hi")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	entries := logs.FilterMessage("push new message").All()
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].ContextMap()["receiver_id"])

	history, err := e.msgSvc.MessagesBetween(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSend_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	cases := []struct {
		name     string
		receiver int64
		text     string
		want     error
	}{
		{"self", a.ID, "hi", domain.ErrInvalidInput},
		{"empty", b.ID, "", domain.ErrInvalidInput},
		{"whitespace", b.ID, " \n\t ", domain.ErrInvalidInput},
		{"too long", b.ID, strings.Repeat("x", service.DefaultMaxMessageLength+1), domain.ErrInvalidInput},
		{"unknown receiver", 9999, "hi", domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.msgSvc.Send(ctx, a.ID, tc.receiver, tc.text)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	recent, err := e.convSvc.ListRecent(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, recent)
	history, err := e.msgs.ListBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = e.msgSvc.Send(ctx, a.ID, b.ID, strings.Repeat("é", service.DefaultMaxMessageLength))
	assert.NoError(t, err)
}

func TestSend_ConcurrentBothDirections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	const n = 15
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.msgSvc.Send(ctx, a.ID, b.ID, "ping")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.msgSvc.Send(ctx, b.ID, a.ID, "pong")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	convsA, err := e.convs.ListForUser(ctx, a.ID, domain.ListAny)
	require.NoError(t, err)
	require.Len(t, convsA, 1)

	history, err := e.msgSvc.MessagesBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2*n)

	// The last applied send zeroes its sender's slot; no increment exceeds n.
	pa, _ := convsA[0].Project(a.ID)
	pb, _ := convsA[0].Project(b.ID)
	assert.True(t, pa.Unread == 0 || pb.Unread == 0, "unread a=%d b=%d", pa.Unread, pb.Unread)
	assert.Positive(t, pa.Unread+pb.Unread)
	assert.LessOrEqual(t, pa.Unread, n)
	assert.LessOrEqual(t, pb.Unread, n)
}

func TestMessagesBetween(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b, c := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")

	_, err := e.msgSvc.Send(ctx, a.ID, b.ID, "one")
	require.NoError(t, err)
	_, err = e.msgSvc.Send(ctx, b.ID, a.ID, "two")
	require.NoError(t, err)
	_, err = e.msgSvc.Send(ctx, a.ID, c.ID, "elsewhere")
	require.NoError(t, err)

	// Rows stored before encryption are returned untouched.
	legacy := &domain.Message{SenderID: a.ID, ReceiverID: b.ID, Text: "plain legacy", SentAt: time.Now().UTC().Add(time.Hour)}
	require.NoError(t, e.msgs.Append(ctx, legacy))

	raw, err := e.msgs.ListBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.NotEqual(t, "one", raw[0].Text)

	history, err := e.msgSvc.MessagesBetween(ctx, b.ID, a.ID)
	require.NoError(t, err)
	var texts []string
	for _, m := range history {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"one", "two", "plain legacy"}, texts)

	_, err = e.msgSvc.MessagesBetween(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSend_FailedConversationUpdateStoresNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	hb := &recordingHandle{id: "conn-b"}
	e.registry.Register(b.ID, hb)

	restore := e.rejectConversationUpdates(t)
	_, err := e.msgSvc.Send(ctx, a.ID, b.ID, "first")
	require.Error(t, err)
	restore()

	stored, err := e.msgs.ListBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	_, err = e.convs.FindByPair(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, hb.Events())

	_, err = e.msgSvc.Send(ctx, a.ID, b.ID, "second")
	require.NoError(t, err)

	stored, err = e.msgs.ListBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	recent, err := e.convSvc.ListRecent(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, len(stored), recent[0].Unread)
	assert.Len(t, hb.Events(), 1)
}

func TestSend_StoreFailureSkipsPush(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	hb := &recordingHandle{id: "conn-b"}
	e.registry.Register(b.ID, hb)

	msgs := new(MockMessageRepo)
	msgs.On("AppendAndApply", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.SenderID == a.ID && m.ReceiverID == b.ID && m.Text != "hi"
	})).Return(nil, errors.New("disk full")).Once()

	svc := service.NewMessageService(msgs, e.userSvc, e.registry, e.cipher, zap.NewNop(), 0)
	_, err := svc.Send(ctx, a.ID, b.ID, "hi")
	require.Error(t, err)
	assert.Empty(t, hb.Events())
	msgs.AssertExpectations(t)
}

func TestSend_CancelledBeforeCommitStoresNothing(t *testing.T) {
	e := newEnv(t, nil)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	// Warm the profile cache so cancellation is first observed by the store.
	_, err := e.userSvc.Profile(context.Background(), b.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.msgSvc.Send(ctx, a.ID, b.ID, "hi")
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := e.msgs.ListBetween(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	_, err = e.convs.FindByPair(context.Background(), a.ID, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// MockMessageRepo scripts store failures for the delivery path.
type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Append(ctx context.Context, msg *domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMessageRepo) AppendAndApply(ctx context.Context, msg *domain.Message) (*domain.Conversation, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockMessageRepo) ListBetween(ctx context.Context, userA, userB int64) ([]*domain.Message, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}
