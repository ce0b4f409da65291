package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/questions"
	"github.com/DoyleJ11/quiz-competition-backend/internal/store"
)

var creator = identity.User{ID: "creator", DisplayName: "Criador"}

func seededPool(n int, diff engine.Difficulty) *questions.MemoryPool {
	p := questions.NewMemoryPool()
	for i := 0; i < n; i++ {
		p.Add(engine.Question{
			ID:         fmt.Sprintf("%s-%d", diff, i),
			Prompt:     fmt.Sprintf("q%d", i),
			Options:    []string{"a", "b"},
			Difficulty: diff,
		})
	}
	return p
}

func newRegistry(t *testing.T, opts ...Option) (*Registry, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return New(st, seededPool(10, engine.DifficultyEasy), zap.NewNop(), opts...), st
}

func recvUpdate(t *testing.T, ch <-chan Update, within time.Duration) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return u
	case <-time.After(within):
		t.Fatalf("timed out waiting for room update")
		return Update{}
	}
}

func TestCreateRoom(t *testing.T) {
	r, _ := newRegistry(t)
	room, err := r.CreateRoom(context.Background(),
		engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 5, MinParticipants: 2}, creator)
	require.NoError(t, err)

	assert.NotEmpty(t, room.ID)
	assert.Len(t, room.InviteCode, DefaultCodeLength)
	assert.Regexp(t, `^[A-Z0-9]+$`, room.InviteCode)
	assert.Equal(t, engine.StateWaiting, room.State)
	assert.Len(t, room.Questions, 5)
	assert.Positive(t, room.CreatedAt)
	require.Contains(t, room.Participants, creator.ID)
	assert.Equal(t, engine.TeamUnassigned, room.Participants[creator.ID].Team)
	assert.Len(t, room.Participants, 1)
}

func TestCreateRoom_InsufficientQuestionsWritesNothing(t *testing.T) {
	r, st := newRegistry(t)
	_, err := r.CreateRoom(context.Background(),
		engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 11, MinParticipants: 1}, creator)
	require.ErrorIs(t, err, engine.ErrInsufficientQuestions)

	docs, err := st.Find(context.Background(), store.Query{Collection: Collection})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCreateRoom_RejectsBadParams(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.CreateRoom(context.Background(), engine.Params{Difficulty: engine.DifficultyEasy}, creator)
	assert.ErrorIs(t, err, engine.ErrInvalidParams)
	_, err = r.CreateRoom(context.Background(),
		engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1},
		identity.User{ID: "a.b"})
	assert.ErrorIs(t, err, engine.ErrInvalidParams)
}

func TestCreateRoom_RegeneratesCollidingCode(t *testing.T) {
	codes := []string{"AAAAA", "AAAAA", "BBBBB"}
	var mu sync.Mutex
	gen := func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	r, _ := newRegistry(t, WithCodeGenerator(gen))
	p := engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1}

	first, err := r.CreateRoom(context.Background(), p, creator)
	require.NoError(t, err)
	second, err := r.CreateRoom(context.Background(), p, creator)
	require.NoError(t, err)
	assert.Equal(t, "AAAAA", first.InviteCode)
	assert.Equal(t, "BBBBB", second.InviteCode)
}

func TestFindRoomByInviteCode(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	room, err := r.CreateRoom(ctx, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1}, creator)
	require.NoError(t, err)

	got, err := r.FindRoomByInviteCode(ctx, "  "+strings.ToLower(room.InviteCode)+" ")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	_, err = r.FindRoomByInviteCode(ctx, "ZZZZZ9")
	assert.ErrorIs(t, err, engine.ErrRoomNotJoinable)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, r.StartRoom(ctx, room.ID, creator.ID))
	_, err = r.FindRoomByInviteCode(ctx, room.InviteCode)
	assert.ErrorIs(t, err, engine.ErrRoomNotJoinable, "started rooms are not joinable by code")
}

func TestStartRoom(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	room, err := r.CreateRoom(ctx, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 5, MinParticipants: 2}, creator)
	require.NoError(t, err)

	assert.ErrorIs(t, r.StartRoom(ctx, room.ID, creator.ID), engine.ErrQuorumNotMet)

	_, _, err = r.Apply(ctx, room.ID, engine.Command{Type: engine.CmdJoin, UserID: "u1", DisplayName: "Ana"})
	require.NoError(t, err)

	assert.ErrorIs(t, r.StartRoom(ctx, room.ID, "u1"), engine.ErrPermissionDenied)
	require.NoError(t, r.StartRoom(ctx, room.ID, creator.ID))
	require.NoError(t, r.StartRoom(ctx, room.ID, creator.ID))

	got, err := r.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StateInProgress, got.State)
	assert.Equal(t, room.Questions, got.Questions)

	assert.ErrorIs(t, r.StartRoom(ctx, "missing", creator.ID), engine.ErrNotFound)
}

func TestApply_ConcurrentJoinsAllLand(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	room, err := r.CreateRoom(ctx, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1}, creator)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for rep := 0; rep < 2; rep++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _, err := r.Apply(ctx, room.ID, engine.Command{Type: engine.CmdJoin, UserID: id, DisplayName: id})
				assert.NoError(t, err)
			}(fmt.Sprintf("u%d", i))
		}
	}
	wg.Wait()

	got, err := r.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 21)
}

type purgeFunc func(ctx context.Context, roomID string) (int, error)

func (f purgeFunc) Purge(ctx context.Context, roomID string) (int, error) { return f(ctx, roomID) }

func TestDeleteRoom_CleanupFailureDoesNotBlock(t *testing.T) {
	var purged []string
	failing := purgeFunc(func(_ context.Context, id string) (int, error) {
		purged = append(purged, id)
		return 0, errors.New("chat backend down")
	})
	r, _ := newRegistry(t, WithPurger(failing))
	ctx := context.Background()
	room, err := r.CreateRoom(ctx, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1}, creator)
	require.NoError(t, err)

	require.NoError(t, r.DeleteRoom(ctx, room.ID))
	assert.Equal(t, []string{room.ID}, purged)
	_, err = r.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCloseRoom_CreatorOnly(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	room, err := r.CreateRoom(ctx, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1}, creator)
	require.NoError(t, err)

	assert.ErrorIs(t, r.CloseRoom(ctx, room.ID, "someone"), engine.ErrPermissionDenied)
	require.NoError(t, r.CloseRoom(ctx, room.ID, creator.ID))
}

func TestSubscribe_CurrentThenChangesThenClosed(t *testing.T) {
	r, _ := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	room, err := r.CreateRoom(ctx, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1}, creator)
	require.NoError(t, err)

	sub, err := r.Subscribe(ctx, room.ID)
	require.NoError(t, err)
	first := recvUpdate(t, sub, time.Second)
	assert.False(t, first.Closed)
	assert.Len(t, first.Room.Participants, 1)

	_, _, err = r.Apply(ctx, room.ID, engine.Command{Type: engine.CmdSelectTeam, UserID: creator.ID, Team: engine.TeamA})
	require.NoError(t, err)
	next := recvUpdate(t, sub, time.Second)
	assert.Equal(t, engine.TeamA, next.Room.Participants[creator.ID].Team)

	require.NoError(t, r.DeleteRoom(ctx, room.ID))
	last := recvUpdate(t, sub, time.Second)
	assert.True(t, last.Closed)

	select {
	case _, ok := <-sub:
		assert.False(t, ok, "stream must end after Closed")
	case <-time.After(time.Second):
		t.Fatalf("stream did not end after Closed")
	}

	_, err = r.Subscribe(ctx, room.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestPatchesFor_TouchOnlyOwnSubPath(t *testing.T) {
	patches := patchesFor([]engine.Event{
		{Type: engine.EvtTeamSelected, UserID: "u1", Team: engine.TeamB},
		{Type: engine.EvtParticipantLeft, UserID: "u2"},
		{Type: engine.EvtRoomStarted},
	})
	require.Len(t, patches, 3)
	assert.Equal(t, "participants.u1.team", patches[0].Path.String())
	assert.True(t, patches[1].Delete)
	assert.Equal(t, "participants.u2", patches[1].Path.String())
	assert.Equal(t, "state", patches[2].Path.String())
}
