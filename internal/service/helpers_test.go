package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"pairchat/internal/cache"
	"pairchat/internal/domain"
	"pairchat/internal/presence"
	"pairchat/internal/security"
	"pairchat/internal/service"
	"pairchat/internal/store/sqlite"
)

type env struct {
	db       *sql.DB
	users    *sqlite.UserRepo
	convs    *sqlite.ConversationRepo
	msgs     *sqlite.MessageRepo
	registry *presence.Registry
	cipher   *security.MessageCipher

	userSvc *service.UserService
	convSvc *service.ConversationService
	msgSvc  *service.MessageService
}

func newEnv(t *testing.T, logger *zap.Logger) *env {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	msgCipher, err := security.NewMessageCipher("test-encryption-key", nil)
	require.NoError(t, err)

	e := &env{
		db:       db,
		users:    sqlite.NewUserRepo(db),
		convs:    sqlite.NewConversationRepo(db),
		msgs:     sqlite.NewMessageRepo(db),
		registry: presence.NewRegistry(),
		cipher:   msgCipher,
	}
	e.userSvc = service.NewUserService(e.users, cache.NewMemory(), time.Minute, logger)
	e.convSvc = service.NewConversationService(e.convs, e.userSvc, logger)
	e.msgSvc = service.NewMessageService(e.msgs, e.userSvc, e.registry, msgCipher, logger, 0)
	return e
}

func (e *env) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:       name,
		Email:          name + "@example.com",
		HashedPassword: "x",
		FullName:       "Full " + name,
		ProfilePic:     name + ".png",
		IsActive:       true,
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

// recordingHandle is a presence.Handle that keeps every pushed event.
type recordingHandle struct {
	id  string
	err error

	mu     sync.Mutex
	events []presence.Event
}

func (h *recordingHandle) ID() string { return h.id }

func (h *recordingHandle) Push(ev presence.Event) error {
	if h.err != nil {
		return h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandle) Events() []presence.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]presence.Event(nil), h.events...)
}

var errQueueFull = errors.New("send queue full")

func newConversationService(convs domain.ConversationRepository, e *env) *service.ConversationService {
	return service.NewConversationService(convs, e.userSvc, zap.NewNop())
}

// rejectConversationUpdates makes every UPDATE of a conversation row fail
// until the returned func is called.
func (e *env) rejectConversationUpdates(t *testing.T) (restore func()) {
	t.Helper()
	_, err := e.db.Exec(`
		CREATE TRIGGER reject_conversation_update BEFORE UPDATE ON conversations
		BEGIN
			SELECT RAISE(ABORT, 'conversation update rejected');
		END;
	`)
	require.NoError(t, err)
	return func() {
		_, err := e.db.Exec(`DROP TRIGGER reject_conversation_update`)
		require.NoError(t, err)
	}
}
