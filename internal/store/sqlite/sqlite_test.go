package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
	"pairchat/internal/store/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, users *sqlite.UserRepo, name string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:       name,
		Email:          name + "@example.com",
		HashedPassword: "x",
		FullName:       "Full " + name,
	}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func TestUserRepo(t *testing.T) {
	ctx := context.Background()
	users := sqlite.NewUserRepo(openTestDB(t))

	alice := createUser(t, users, "alice")
	bob := createUser(t, users, "bob")
	createUser(t, users, "carol")

	got, err := users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.Equal(t, "Full alice", got.FullName)
	assert.True(t, got.IsActive)

	_, err = users.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	dup := &domain.User{Username: "alice", Email: "other@example.com", HashedPassword: "x"}
	assert.ErrorIs(t, users.Create(ctx, dup), domain.ErrConflict)

	others, err := users.ListOthers(ctx, bob.ID)
	require.NoError(t, err)
	var names []string
	for _, u := range others {
		names = append(names, u.Username)
	}
	if diff := cmp.Diff([]string{"alice", "carol"}, names); diff != "" {
		t.Errorf("ListOthers mismatch (-want +got):\n%s", diff)
	}
}

func TestConversationRepo_PairUniqueness(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")

	_, err := convs.FindByPair(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c, err := convs.CreateForPair(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.PartyA)
	assert.Equal(t, b.ID, c.PartyB)
	assert.Zero(t, c.UnreadForA)
	assert.Zero(t, c.UnreadForB)
	assert.False(t, c.SavedByA)
	assert.Nil(t, c.LastActivityAt)

	// Reversed order hits the same canonical key.
	_, err = convs.CreateForPair(ctx, b.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	found, err := convs.FindByPair(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	_, err = convs.CreateForPair(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConversationRepo_ApplyIncomingMessage(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")
	outsider := createUser(t, users, "z")

	c, err := convs.CreateForPair(ctx, a.ID, b.ID)
	require.NoError(t, err)

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, convs.ApplyIncomingMessage(ctx, c.ID, a.ID, first))
	require.NoError(t, convs.ApplyIncomingMessage(ctx, c.ID, a.ID, first.Add(time.Second)))

	c, err = convs.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadForA)
	assert.Equal(t, 2, c.UnreadForB)
	require.NotNil(t, c.LastActivityAt)
	assert.True(t, c.LastActivityAt.Equal(first.Add(time.Second)))

	// A reply clears the replier's queue.
	require.NoError(t, convs.ApplyIncomingMessage(ctx, c.ID, b.ID, first.Add(2*time.Second)))
	c, err = convs.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadForA)
	assert.Equal(t, 0, c.UnreadForB)

	err = convs.ApplyIncomingMessage(ctx, c.ID, outsider.ID, first)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = convs.ApplyIncomingMessage(ctx, 12345, a.ID, first)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationRepo_ConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")
	c, err := convs.CreateForPair(ctx, a.ID, b.ID)
	require.NoError(t, err)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- convs.ApplyIncomingMessage(ctx, c.ID, a.ID, time.Now().UTC())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err = convs.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, n, c.UnreadForB)
	assert.Equal(t, 0, c.UnreadForA)
}

func TestConversationRepo_SetSavedAndMarkRead(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")
	outsider := createUser(t, users, "z")
	c, err := convs.CreateForPair(ctx, a.ID, b.ID)
	require.NoError(t, err)

	require.NoError(t, convs.SetSaved(ctx, c.ID, b.ID, true))
	c, err = convs.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, c.SavedByA)
	assert.True(t, c.SavedByB)

	assert.ErrorIs(t, convs.SetSaved(ctx, c.ID, outsider.ID, true), domain.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, convs.ApplyIncomingMessage(ctx, c.ID, a.ID, now))
	require.NoError(t, convs.ApplyIncomingMessage(ctx, c.ID, a.ID, now))

	require.NoError(t, convs.MarkRead(ctx, c.ID, b.ID))
	require.NoError(t, convs.MarkRead(ctx, c.ID, b.ID))
	c, err = convs.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadForB)

	assert.ErrorIs(t, convs.MarkRead(ctx, c.ID, outsider.ID), domain.ErrNotFound)
}

func TestConversationRepo_ListForUserOrdering(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)

	me := createUser(t, users, "me")
	var others []*domain.User
	for i := 0; i < 3; i++ {
		others = append(others, createUser(t, users, fmt.Sprintf("u%d", i)))
	}

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cOld, err := convs.CreateForPair(ctx, me.ID, others[0].ID)
	require.NoError(t, err)
	cNew, err := convs.CreateForPair(ctx, others[1].ID, me.ID)
	require.NoError(t, err)
	cIdle, err := convs.CreateForPair(ctx, me.ID, others[2].ID)
	require.NoError(t, err)

	require.NoError(t, convs.ApplyIncomingMessage(ctx, cOld.ID, me.ID, base))
	require.NoError(t, convs.ApplyIncomingMessage(ctx, cNew.ID, others[1].ID, base.Add(250*time.Millisecond)))
	require.NoError(t, convs.SetSaved(ctx, cOld.ID, me.ID, true))
	require.NoError(t, convs.SetSaved(ctx, cNew.ID, others[1].ID, true))

	all, err := convs.ListForUser(ctx, me.ID, domain.ListAny)
	require.NoError(t, err)
	if diff := cmp.Diff([]int64{cNew.ID, cOld.ID, cIdle.ID}, conversationIDs(all)); diff != "" {
		t.Errorf("ListForUser order mismatch (-want +got):\n%s", diff)
	}

	// Only my own save flag counts.
	saved, err := convs.ListForUser(ctx, me.ID, domain.ListSavedOnly)
	require.NoError(t, err)
	if diff := cmp.Diff([]int64{cOld.ID}, conversationIDs(saved)); diff != "" {
		t.Errorf("saved list mismatch (-want +got):\n%s", diff)
	}

	none, err := convs.ListForUser(ctx, 9999, domain.ListAny)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMessageRepo(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	msgs := sqlite.NewMessageRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")
	c := createUser(t, users, "c")

	assert.ErrorIs(t, msgs.Append(ctx, &domain.Message{SenderID: a.ID, ReceiverID: b.ID, Text: "  "}), domain.ErrInvalidInput)
	assert.ErrorIs(t, msgs.Append(ctx, &domain.Message{SenderID: a.ID, ReceiverID: a.ID, Text: "hi"}), domain.ErrInvalidInput)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	toAppend := []*domain.Message{
		{SenderID: a.ID, ReceiverID: b.ID, Text: "hi", SentAt: base},
		{SenderID: b.ID, ReceiverID: a.ID, Text: "hello", SentAt: base.Add(1500 * time.Millisecond)},
		{SenderID: a.ID, ReceiverID: c.ID, Text: "elsewhere", SentAt: base.Add(time.Second)},
		{SenderID: a.ID, ReceiverID: b.ID, Text: " spaced  text ", SentAt: base.Add(2 * time.Second)},
	}
	for _, m := range toAppend {
		require.NoError(t, msgs.Append(ctx, m))
		assert.NotZero(t, m.ID)
	}

	unstamped := &domain.Message{SenderID: b.ID, ReceiverID: a.ID, Text: "now"}
	require.NoError(t, msgs.Append(ctx, unstamped))
	assert.False(t, unstamped.SentAt.IsZero())

	got, err := msgs.ListBetween(ctx, b.ID, a.ID)
	require.NoError(t, err)
	var texts []string
	for _, m := range got {
		texts = append(texts, m.Text)
		assert.False(t, m.Read)
	}
	if diff := cmp.Diff([]string{"hi", "hello", " spaced  text ", "now"}, texts); diff != "" {
		t.Errorf("ListBetween mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].SentAt.Before(got[i-1].SentAt), "sent_at must be non-decreasing")
	}
}

func TestMessageRepo_AppendAndApply(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	msgs := sqlite.NewMessageRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")

	sentAt := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	first := &domain.Message{SenderID: a.ID, ReceiverID: b.ID, Text: "hi", SentAt: sentAt}
	conv, err := msgs.AppendAndApply(ctx, first)
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, a.ID, conv.PartyA)
	assert.Equal(t, 1, conv.UnreadForB)
	require.NotNil(t, conv.LastActivityAt)
	assert.True(t, conv.LastActivityAt.Equal(sentAt))

	reply := &domain.Message{SenderID: b.ID, ReceiverID: a.ID, Text: "hey", SentAt: sentAt.Add(time.Second)}
	again, err := msgs.AppendAndApply(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, 1, again.UnreadForA)
	assert.Equal(t, 0, again.UnreadForB)

	_, err = msgs.AppendAndApply(ctx, &domain.Message{SenderID: a.ID, ReceiverID: a.ID, Text: "self"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	stored, err := msgs.ListBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	all, err := convs.ListForUser(ctx, a.ID, domain.ListAny)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMessageRepo_AppendAndApplyRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	msgs := sqlite.NewMessageRepo(db)

	a := createUser(t, users, "a")
	b := createUser(t, users, "b")

	_, err := db.Exec(`
		CREATE TRIGGER reject_conversation_update BEFORE UPDATE ON conversations
		BEGIN
			SELECT RAISE(ABORT, 'conversation update rejected');
		END;
	`)
	require.NoError(t, err)

	_, err = msgs.AppendAndApply(ctx, &domain.Message{SenderID: a.ID, ReceiverID: b.ID, Text: "lost"})
	require.Error(t, err)

	stored, err := msgs.ListBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	_, err = convs.FindByPair(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = db.Exec(`DROP TRIGGER reject_conversation_update`)
	require.NoError(t, err)

	conv, err := msgs.AppendAndApply(ctx, &domain.Message{SenderID: a.ID, ReceiverID: b.ID, Text: "kept"})
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadForB)
	stored, err = msgs.ListBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func conversationIDs(cs []*domain.Conversation) []int64 {
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}
