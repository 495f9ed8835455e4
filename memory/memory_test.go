package memory_test

import (
	"context"
	"testing"

	"github.com/meikuraledutech/chatrelay"
	"github.com/meikuraledutech/chatrelay/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NotFound(t *testing.T) {
	s := memory.New()

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, chatrelay.ErrSessionNotFound)
}

func TestCreate_NotDurableUntilSave(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sess, err := s.Create(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Empty(t, sess.Turns)
	assert.Zero(t, sess.Base)

	_, err = s.Load(ctx, "s1")
	assert.ErrorIs(t, err, chatrelay.ErrSessionNotFound, "created session should not be loadable before save")
}

func TestSave_RoundTripAndIsolation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sess := chatrelay.NewSession("s1")
	sess.Append(chatrelay.RoleUser, "hello")
	sess.Append(chatrelay.RoleAssistant, "hi there")
	require.NoError(t, s.Save(ctx, sess))
	assert.Equal(t, 2, sess.Base)

	// Mutating the caller's copy must not leak into the store.
	sess.Append(chatrelay.RoleUser, "unsaved")

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, 2, loaded.Base)
	assert.Equal(t, "hello", loaded.Turns[0].Content)
	assert.Equal(t, chatrelay.RoleAssistant, loaded.Turns[1].Role)
}

func TestSave_AppendsAfterLoad(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	first := chatrelay.NewSession("s1")
	first.Append(chatrelay.RoleUser, "u1")
	first.Append(chatrelay.RoleAssistant, "a1")
	require.NoError(t, s.Save(ctx, first))

	next, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	next.Append(chatrelay.RoleUser, "u2")
	next.Append(chatrelay.RoleAssistant, "a2")
	require.NoError(t, s.Save(ctx, next))

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded.Turns, 4)
}

func TestSave_Idempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sess := chatrelay.NewSession("s1")
	sess.Append(chatrelay.RoleUser, "hello")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, sess), "save %d", i)
	}

	// A separate copy holding exactly the stored turns is also accepted.
	same := chatrelay.NewSession("s1")
	same.Append(chatrelay.RoleUser, "hello")
	require.NoError(t, s.Save(ctx, same))

	loaded, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded.Turns, 1)
}

func TestSave_RejectsStaleCopy(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sess := chatrelay.NewSession("s1")
	sess.Append(chatrelay.RoleUser, "a")
	sess.Append(chatrelay.RoleAssistant, "b")
	require.NoError(t, s.Save(ctx, sess))

	stale := chatrelay.NewSession("s1")
	stale.Append(chatrelay.RoleUser, "a")
	assert.ErrorIs(t, s.Save(ctx, stale), chatrelay.ErrStaleSession)
}

func TestSave_RejectsEqualLengthFork(t *testing.T) {
	s := memory.New()
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

func TestSave_RejectsForkAfterLoad(t *testing.T) {
	s := memory.New()
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

func TestRequestLog_Lifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	log, err := s.AddRequestLog(ctx, chatrelay.RequestLog{SessionID: "s1", Prompt: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, log.ID)
	assert.Equal(t, chatrelay.StatusPending, log.FinalStatus)

	log.FinalStatus = chatrelay.StatusSuccess
	log.Response = "hi"
	log.Attempts = 1
	require.NoError(t, s.UpdateRequestLog(ctx, *log))

	logs := s.RequestLogs("s1")
	require.Len(t, logs, 1)
	assert.Equal(t, chatrelay.StatusSuccess, logs[0].FinalStatus)
	assert.Equal(t, "hi", logs[0].Response)
}

func TestUpdateRequestLog_Unknown(t *testing.T) {
	s := memory.New()
	assert.Error(t, s.UpdateRequestLog(context.Background(), chatrelay.RequestLog{ID: "nope"}))
}
