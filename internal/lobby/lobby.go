package lobby

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
)

type RoomSource interface {
	Subscribe(ctx context.Context, roomID string) (<-chan registry.Update, error)
}

type ChatSource interface {
	Subscribe(ctx context.Context, roomID string) (<-chan []chat.Message, error)
}

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Frame // buffered; the lobby keeps only the newest frame in it
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Frame is the full lobby state a client renders. Frames are shared between
// clients and must be treated as read-only.
type Frame struct {
	Version  int
	Room     engine.Room
	Quorum   engine.Quorum
	Messages []chat.Message
	Closed   bool
}

type View struct {
	Version    int
	NumClients int
	Frame      Frame
}

// Lobby merges one room's document stream and chat stream into versioned
// frames and fans them out to connected clients. Both streams share the
// lobby's lifetime.
type Lobby struct {
	roomID  string
	inbox   chan Msg
	frame   Frame
	clients map[string]chan Frame
	rooms   <-chan registry.Update
	msgs    <-chan []chat.Message
	onClose func(*Lobby)
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewLobby subscribes to the room and its chat and waits for the initial
// state of both, so the first Join is answered with a complete frame.
func NewLobby(parent context.Context, roomID string, rooms RoomSource, msgs ChatSource, log *zap.Logger, onClose func(*Lobby)) (*Lobby, error) {
	ctx, cancel := context.WithCancel(parent)

	roomCh, err := rooms.Subscribe(ctx, roomID)
	if err != nil {
		cancel()
		return nil, err
	}
	msgCh, err := msgs.Subscribe(ctx, roomID)
	if err != nil {
		cancel()
		return nil, err
	}

	l := &Lobby{
		roomID:  roomID,
		inbox:   make(chan Msg, 64),
		clients: make(map[string]chan Frame),
		rooms:   roomCh,
		msgs:    msgCh,
		onClose: onClose,
		log:     log.With(zap.String("room", roomID)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	select {
	case u, ok := <-roomCh:
		if !ok || u.Closed {
			cancel()
			return nil, fmt.Errorf("room %s: %w", roomID, engine.ErrNotFound)
		}
		l.frame.Room = u.Room
		l.frame.Quorum = engine.ComputeQuorum(u.Room)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	select {
	case ms, ok := <-msgCh:
		if ok {
			l.frame.Messages = ms
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	l.frame.Version = 1

	go l.loop()
	return l, nil
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case u, ok := <-l.rooms:
			if !ok {
				// subscription ended without a close: our context is gone
				l.shutdown()
				return
			}
			if u.Closed {
				l.frame.Closed = true
				l.frame.Version++
				l.broadcast()
				l.log.Info("room closed, shutting lobby down")
				l.shutdown()
				return
			}
			l.frame.Room = u.Room
			l.frame.Quorum = engine.ComputeQuorum(u.Room)
			l.frame.Version++
			l.broadcast()

		case ms, ok := <-l.msgs:
			if !ok {
				l.msgs = nil
				break
			}
			l.frame.Messages = ms
			l.frame.Version++
			l.broadcast()

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ClientID] = msg.Outbox
				push(msg.Outbox, l.frame)

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}
				if len(l.clients) == 0 {
					// nobody is watching: release both subscriptions, the
					// hub starts a fresh lobby on the next connect
					l.log.Debug("last client left, shutting lobby down")
					l.shutdown()
					return
				}

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{
					Version:    l.frame.Version,
					NumClients: len(l.clients),
					Frame:      l.frame,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) shutdown() {
	l.once.Do(func() {
		for id, ch := range l.clients {
			close(ch) // no more frames
			delete(l.clients, id)
		}
		l.cancel()
		close(l.done)
		if l.onClose != nil {
			l.onClose(l)
		}
	})
}

func (l *Lobby) broadcast() {
	for _, ch := range l.clients {
		push(ch, l.frame)
	}
}

// push replaces whatever the client has not read yet. The lobby is the only
// sender on an outbox.
func push(ch chan Frame, f Frame) {
	if cap(ch) == 0 {
		select {
		case ch <- f:
		default:
		}
		return
	}
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (l *Lobby) RoomID() string { return l.roomID }

// Inbox exposes the actor's mailbox to the hub, the websocket layer and tests.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Stop cancels the lobby; it is safe to call more than once.
func (l *Lobby) Stop() { l.cancel() }

// Done is closed once the lobby has released its clients and subscriptions.
func (l *Lobby) Done() <-chan struct{} { return l.done }
