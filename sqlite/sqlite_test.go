package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/meikuraledutech/chatrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *DocStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocStore_LoadNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, chatrelay.ErrSessionNotFound)
}

func TestDocStore_SaveAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "s1")
	require.NoError(t, err)
	sess.Append(chatrelay.RoleUser, "hello")
	sess.Append(chatrelay.RoleAssistant, "hi there")
	require.NoError(t, s.Save(ctx, sess))

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", loaded.ID)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, 2, loaded.Base)
	assert.Equal(t, chatrelay.RoleUser, loaded.Turns[0].Role)
	assert.Equal(t, "hi there", loaded.Turns[1].Content)
	assert.True(t, loaded.Turns[0].Timestamp.Equal(sess.Turns[0].Timestamp), "timestamp not preserved")

	loaded.Append(chatrelay.RoleUser, "again")
	loaded.Append(chatrelay.RoleAssistant, "sure")
	require.NoError(t, s.Save(ctx, loaded))

	again, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, again.Turns, 4)
}

func TestDocStore_DocumentShape(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := chatrelay.NewSession("s1")
	sess.Append(chatrelay.RoleUser, "hello")
	require.NoError(t, s.Save(ctx, sess))

	var doc string
	require.NoError(t, s.db.QueryRow(`SELECT document FROM chat_sessions WHERE id = ?`, "s1").Scan(&doc))

	var record struct {
		SessionID string `json:"sessionId"`
		Messages  []struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			Timestamp string `json:"timestamp"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &record))
	assert.Equal(t, "s1", record.SessionID)
	require.Len(t, record.Messages, 1, doc)
	assert.Equal(t, "user", record.Messages[0].Role)
	assert.NotEmpty(t, record.Messages[0].Timestamp)
}

func TestDocStore_SaveIdempotentAndStale(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := chatrelay.NewSession("s1")
	sess.Append(chatrelay.RoleUser, "a")
	sess.Append(chatrelay.RoleAssistant, "b")
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Save(ctx, sess))
	}

	same := chatrelay.NewSession("s1")
	same.Append(chatrelay.RoleUser, "a")
	same.Append(chatrelay.RoleAssistant, "b")
	require.NoError(t, s.Save(ctx, same))

	stale := chatrelay.NewSession("s1")
	stale.Append(chatrelay.RoleUser, "a")
	assert.ErrorIs(t, s.Save(ctx, stale), chatrelay.ErrStaleSession)

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded.Turns, 2)
}

func TestDocStore_RejectsEqualLengthFork(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "s1")
	require.NoError(t, err)
	b, err := s.Create(ctx, "s1")
	require.NoError(t, err)

	a.Append(chatrelay.RoleUser, "from A")
	a.Append(chatrelay.RoleAssistant, "reply A")
	b.Append(chatrelay.RoleUser, "from B")
	b.Append(chatrelay.RoleAssistant, "reply B")

	require.NoError(t, s.Save(ctx, a))
	assert.ErrorIs(t, s.Save(ctx, b), chatrelay.ErrStaleSession)

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, "from A", loaded.Turns[0].Content)
	assert.Equal(t, "reply A", loaded.Turns[1].Content)
}

func TestDocStore_RejectsForkAfterLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := chatrelay.NewSession("s1")
	base.Append(chatrelay.RoleUser, "u1")
	base.Append(chatrelay.RoleAssistant, "a1")
	require.NoError(t, s.Save(ctx, base))

	a, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	b, err := s.Load(ctx, "s1")
	require.NoError(t, err)

	a.Append(chatrelay.RoleUser, "from A")
	a.Append(chatrelay.RoleAssistant, "reply A")
	b.Append(chatrelay.RoleUser, "from B")
	b.Append(chatrelay.RoleAssistant, "reply B")

	require.NoError(t, s.Save(ctx, a))
	assert.ErrorIs(t, s.Save(ctx, b), chatrelay.ErrStaleSession)

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 4)
	assert.Equal(t, "from A", loaded.Turns[2].Content)
}

func TestDocStore_IDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		sess := chatrelay.NewSession(id)
		sess.Append(chatrelay.RoleUser, "x")
		require.NoError(t, s.Save(ctx, sess))
	}

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
