package chatstore

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, "sqlite", nil)
	require.NoError(t, store.InitSchema(context.Background()))
	return store
}

func seedChat(t *testing.T, s *Store, sender, receiver, message string) {
	t.Helper()
	require.NoError(t, s.Insert(context.Background(), sender, receiver, message, ""))
}

func TestCurrentPairHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "Alice", "Bob", "hello")
	seedChat(t, s, "Bob", "Alice", "hi there")
	seedChat(t, s, "Alice", "Carol", "unrelated")
	seedChat(t, s, "Alice's Agent", "Bob's Agent", "agent chatter")

	records, err := s.CurrentPairHistory(ctx, "Alice", "Bob", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Oldest first.
	assert.Equal(t, "hello", records[0].Message)
	assert.Equal(t, "hi there", records[1].Message)
}

func TestCurrentPairHistoryLimitFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		seedChat(t, s, "Alice", "Bob", "msg")
	}

	records, err := s.CurrentPairHistory(ctx, "Alice", "Bob", 2)
	require.NoError(t, err)
	assert.Len(t, records, 10, "limit below the floor is raised to 10")
}

func TestCrossContactHistoryExcludesAgentsAndContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "Alice", "Bob", "current pair")
	seedChat(t, s, "Alice", "Carol", "with carol")
	seedChat(t, s, "Dave", "Alice", "from dave")
	seedChat(t, s, "Alice's Agent", "Carol", "agent row")
	seedChat(t, s, "Carol", "Dave", "not alice")

	records, err := s.CrossContactHistory(ctx, "Alice", "Bob", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, r := range records {
		assert.NotContains(t, r.Sender, "Agent")
		assert.NotContains(t, r.Receiver, "Agent")
		assert.NotEqual(t, "Bob", r.Sender)
		assert.NotEqual(t, "Bob", r.Receiver)
	}
	assert.Equal(t, "with carol", records[0].Message)
	assert.Equal(t, "from dave", records[1].Message)
}

func TestKeywordContextCurrentPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	messages := []string{"one", "two", "I love Dune", "four", "five"}
	for _, m := range messages {
		seedChat(t, s, "Alice", "Bob", m)
	}

	records, err := s.KeywordContextCurrentPair(ctx, "Alice", "Bob", "dune", 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 3, "anchor plus one row on each side")

	assert.Equal(t, "two", records[0].Message)
	assert.Equal(t, "I love Dune", records[1].Message)
	assert.Equal(t, "four", records[2].Message)
}

func TestKeywordContextCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "Alice", "Bob", "The RING was lost")

	records, err := s.KeywordContextCurrentPair(ctx, "Alice", "Bob", "ring", 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, strings.Contains(records[0].Message, "RING"))
}

func TestKeywordContextWindowIgnoresOtherPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Interleave another pair's rows; the window counts rows within the
	// Alice/Bob timeline, not raw ids.
	seedChat(t, s, "Alice", "Bob", "before")
	seedChat(t, s, "Carol", "Dave", "noise")
	seedChat(t, s, "Alice", "Bob", "the keyword anchor")
	seedChat(t, s, "Carol", "Dave", "noise")
	seedChat(t, s, "Bob", "Alice", "after")

	records, err := s.KeywordContextCurrentPair(ctx, "Alice", "Bob", "keyword", 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "before", records[0].Message)
	assert.Equal(t, "the keyword anchor", records[1].Message)
	assert.Equal(t, "after", records[2].Message)
}

func TestKeywordContextDeduplicatesOverlappingWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "Alice", "Bob", "ring one")
	seedChat(t, s, "Alice", "Bob", "ring two")
	seedChat(t, s, "Alice", "Bob", "tail")

	records, err := s.KeywordContextCurrentPair(ctx, "Alice", "Bob", "ring", 2, 10)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for _, r := range records {
		assert.False(t, seen[r.ID], "row %d returned twice", r.ID)
		seen[r.ID] = true
	}
	assert.Len(t, records, 3)
}

func TestKeywordContextCrossContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "Alice", "Carol", "the ring went to Carol")
	seedChat(t, s, "Alice", "Bob", "the ring stays here")
	seedChat(t, s, "Alice's Agent", "Carol", "ring agent row")

	records, err := s.KeywordContextCrossContact(ctx, "Alice", "Bob", "ring", 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "the ring went to Carol", records[0].Message)
}

func TestKeywordContextEmptyResult(t *testing.T) {
	s := newTestStore(t)

	records, err := s.KeywordContextCurrentPair(context.Background(), "Alice", "Bob", "nothing", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFriends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFriendship(ctx, "Alice", "Bob"))
	require.NoError(t, s.AddFriendship(ctx, "Alice", "Carol"))

	friends, err := s.Friends(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "Carol"}, friends)

	// Symmetric.
	friends, err = s.Friends(ctx, "Bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, friends)
}

func TestAddFriendshipIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFriendship(ctx, "Alice", "Bob"))
	require.NoError(t, s.AddFriendship(ctx, "Alice", "Bob"))

	friends, err := s.Friends(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, friends)
}

func TestAddFriendshipSelfRejected(t *testing.T) {
	s := newTestStore(t)
	err := s.AddFriendship(context.Background(), "Alice", "Alice")
	assert.Error(t, err)
}

func TestRebindPostgres(t *testing.T) {
	s := &Store{dialect: "postgres"}
	got := s.rebind("SELECT * FROM chats WHERE sender = ? AND receiver = ? LIMIT ?")
	assert.Equal(t, "SELECT * FROM chats WHERE sender = $1 AND receiver = $2 LIMIT $3", got)

	s.dialect = "mysql"
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestRetrievalIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedChat(t, s, "Alice", "Bob", "stable ring content")
	seedChat(t, s, "Alice", "Bob", "more")

	first, err := s.KeywordContextCurrentPair(ctx, "Alice", "Bob", "ring", 1, 10)
	require.NoError(t, err)
	second, err := s.KeywordContextCurrentPair(ctx, "Alice", "Bob", "ring", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
