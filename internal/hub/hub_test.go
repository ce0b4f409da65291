package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/lobby"
	"github.com/DoyleJ11/quiz-competition-backend/internal/questions"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
	"github.com/DoyleJ11/quiz-competition-backend/internal/store"
)

func setup(t *testing.T) (*Hub, *registry.Registry, engine.Room) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	pool := questions.NewMemoryPool(engine.Question{ID: "q1", Prompt: "p", Options: []string{"a", "b"}, Difficulty: engine.DifficultyEasy})
	ch := chat.New(st, zap.NewNop())
	rooms := registry.New(st, pool, zap.NewNop(), registry.WithPurger(ch))
	room, err := rooms.CreateRoom(context.Background(),
		engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1, MinParticipants: 1},
		identity.User{ID: "creator", DisplayName: "C"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, rooms, ch, zap.NewNop()), rooms, room
}

func count(t *testing.T, h *Hub) int {
	t.Helper()
	reply := make(chan int, 1)
	h.Inbox() <- CountLobbies{Reply: reply}
	return <-reply
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h, _, room := setup(t)
	reply := make(chan EnsureResult, 1)

	h.Inbox() <- EnsureLobby{RoomID: room.ID, Reply: reply}
	res := <-reply
	if res.Err != nil {
		t.Fatalf("ensure: %v", res.Err)
	}

	get := make(chan *lobby.Lobby, 1)
	h.Inbox() <- GetLobby{RoomID: room.ID, Reply: get}
	lb2 := <-get

	lb3, err := h.Ensure(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if res.Lobby == nil || res.Lobby != lb2 || lb2 != lb3 {
		t.Fatalf("expected same lobby pointer")
	}
}

func TestHub_EnsureMissingRoom(t *testing.T) {
	h, _, _ := setup(t)
	_, err := h.Ensure(context.Background(), "nope")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if n := count(t, h); n != 0 {
		t.Fatalf("failed ensure must not register a lobby, have %d", n)
	}
}

func TestHub_RoomDeletionRemovesLobby(t *testing.T) {
	h, rooms, room := setup(t)
	lb, err := h.Ensure(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := rooms.DeleteRoom(context.Background(), room.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby did not shut down after room deletion")
	}
	deadline := time.Now().Add(time.Second)
	for count(t, h) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub still tracks the closed lobby")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_LastLeaveReleasesLobby(t *testing.T) {
	h, _, room := setup(t)
	lb, err := h.Ensure(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	out := make(chan lobby.Frame, 1)
	lb.Inbox() <- lobby.Join{ClientID: "c1", Outbox: out}
	<-out
	lb.Inbox() <- lobby.Leave{ClientID: "c1"}

	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby kept running with no clients")
	}
	deadline := time.Now().Add(time.Second)
	for count(t, h) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub still tracks the idle lobby")
		}
		time.Sleep(5 * time.Millisecond)
	}

	next, err := h.Ensure(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("ensure after release: %v", err)
	}
	if next == lb || stopped(next) {
		t.Fatalf("expected a fresh running lobby")
	}
}

func TestHub_ShutdownStopsLobbies(t *testing.T) {
	h, _, room := setup(t)
	lb, err := h.Ensure(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	h.Inbox() <- ShutdownHub{}
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby still running after hub shutdown")
	}
}
