package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	RoomID string
	Reply  chan *lobby.Lobby
}

// EnsureLobby returns the running lobby for the room, starting one if needed.
type EnsureLobby struct {
	RoomID string
	Reply  chan EnsureResult
}

type EnsureResult struct {
	Lobby *lobby.Lobby
	Err   error
}

// RemoveLobby forgets a lobby that shut itself down. It is ignored if the
// room already has a different lobby.
type RemoveLobby struct {
	RoomID string
	Lobby  *lobby.Lobby
}

type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	rooms   lobby.RoomSource
	chat    lobby.ChatSource
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, rooms lobby.RoomSource, chat lobby.ChatSource, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		rooms:   rooms,
		chat:    chat,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure is EnsureLobby for callers that must not outlive ctx.
func (h *Hub) Ensure(ctx context.Context, roomID string) (*lobby.Lobby, error) {
	reply := make(chan EnsureResult, 1)
	select {
	case h.inbox <- EnsureLobby{RoomID: roomID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Lobby, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.RoomID] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.RoomID]; lb != nil && !stopped(lb) {
					msg.Reply <- EnsureResult{Lobby: lb}
					break
				}
				lb, err := lobby.NewLobby(h.ctx, msg.RoomID, h.rooms, h.chat, h.log, h.lobbyClosed)
				if err != nil {
					msg.Reply <- EnsureResult{Err: err}
					break
				}
				h.lobbies[msg.RoomID] = lb
				h.log.Debug("lobby started", zap.String("room", msg.RoomID), zap.Int("lobbies", len(h.lobbies)))
				msg.Reply <- EnsureResult{Lobby: lb}

			case RemoveLobby:
				if h.lobbies[msg.RoomID] == msg.Lobby {
					delete(h.lobbies, msg.RoomID)
					h.log.Debug("lobby removed", zap.String("room", msg.RoomID), zap.Int("lobbies", len(h.lobbies)))
				}

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

// stopped reports a lobby whose RemoveLobby has not been handled yet.
func stopped(lb *lobby.Lobby) bool {
	select {
	case <-lb.Done():
		return true
	default:
		return false
	}
}

// lobbyClosed runs on the lobby's goroutine, so it must never block on the
// hub loop.
func (h *Hub) lobbyClosed(lb *lobby.Lobby) {
	go func() {
		select {
		case h.inbox <- RemoveLobby{RoomID: lb.RoomID(), Lobby: lb}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Stop()
	}
	clear(h.lobbies)
}
