package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/meikuraledutech/chatrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore connects to CHATRELAY_TEST_DATABASE_URL and resets the schema.
func testStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("CHATRELAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHATRELAY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, url)
	require.NoError(t, err)
	require.NoError(t, s.DropSchema(ctx))
	require.NoError(t, s.CreateSchema(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_sessions", migrations[0].Name)
	assert.Equal(t, "002_request_logs", migrations[1].Name)
	for _, m := range migrations {
		assert.NotEmpty(t, m.Up, "migration %s missing up script", m.Name)
		assert.NotEmpty(t, m.Down, "migration %s missing down script", m.Name)
		assert.Len(t, m.Checksum, 64, "migration %s checksum is not sha256 hex", m.Name)
	}
}

func TestPGStore_LoadNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.Load(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, chatrelay.ErrSessionNotFound)
}

func TestPGStore_SaveAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "s1")
	require.NoError(t, err)
	sess.Append(chatrelay.RoleUser, "hello")
	sess.Append(chatrelay.RoleAssistant, "hi there")
	require.NoError(t, s.Save(ctx, sess))

	// Identical save is a no-op.
	require.NoError(t, s.Save(ctx, sess))

	sess.Append(chatrelay.RoleUser, "again")
	sess.Append(chatrelay.RoleAssistant, "sure")
	require.NoError(t, s.Save(ctx, sess))

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Base)

	var contents []string
	for _, turn := range loaded.Turns {
		contents = append(contents, turn.Content)
	}
	assert.Equal(t, []string{"hello", "hi there", "again", "sure"}, contents)
	assert.Equal(t, chatrelay.RoleAssistant, loaded.Turns[1].Role)
}

func TestPGStore_SaveStale(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := chatrelay.NewSession("s1")
	sess.Append(chatrelay.RoleUser, "a")
	sess.Append(chatrelay.RoleAssistant, "b")
	require.NoError(t, s.Save(ctx, sess))

	same := chatrelay.NewSession("s1")
	same.Append(chatrelay.RoleUser, "a")
	same.Append(chatrelay.RoleAssistant, "b")
	require.NoError(t, s.Save(ctx, same))

	stale := chatrelay.NewSession("s1")
	stale.Append(chatrelay.RoleUser, "a")
	assert.ErrorIs(t, s.Save(ctx, stale), chatrelay.ErrStaleSession)
}

func TestPGStore_RejectsEqualLengthFork(t *testing.T) {
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

func TestPGStore_RejectsForkAfterLoad(t *testing.T) {
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
}

func TestPGStore_IDs(t *testing.T) {
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

func TestPGStore_RequestLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	log, err := s.AddRequestLog(ctx, chatrelay.RequestLog{SessionID: "s1", Prompt: "hello"})
	require.NoError(t, err)

	log.Response = "hi"
	log.Attempts = 1
	log.FinalStatus = chatrelay.StatusSuccess
	log.Usage = chatrelay.Usage{PromptTokens: 3, ResponseTokens: 2, TotalTokens: 5}
	require.NoError(t, s.UpdateRequestLog(ctx, *log))

	logs, err := s.RequestLogs(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, chatrelay.StatusSuccess, logs[0].FinalStatus)
	assert.Equal(t, 5, logs[0].Usage.TotalTokens)
}

func TestPGStore_MigrationStatusAndRollback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	for _, rec := range status {
		assert.True(t, rec.Applied, "migration %s not applied", rec.Name)
		assert.NotNil(t, rec.AppliedAt)
	}

	name, err := s.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, "002_request_logs", name)

	applied, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_request_logs"}, applied)
}
