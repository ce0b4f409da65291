// Package session models one participant's time in a competition room: the
// paired room and chat subscriptions, request state for user-triggered
// actions, and local playback of the frozen question set.
package session

import (
	"context"
	"errors"

	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
)

var ErrRoomClosed = errors.New("room closed")

type RoomSource interface {
	Subscribe(ctx context.Context, roomID string) (<-chan registry.Update, error)
}

type ChatSource interface {
	Subscribe(ctx context.Context, roomID string) (<-chan []chat.Message, error)
}

// Client holds both subscriptions of one participant. They are acquired
// together by Open and released together by Close.
type Client struct {
	RoomID string
	UserID string

	rooms  <-chan registry.Update
	msgs   <-chan []chat.Message
	cancel context.CancelFunc
}

func Open(ctx context.Context, roomID, userID string, rooms RoomSource, msgs ChatSource) (*Client, error) {
	ctx, cancel := context.WithCancel(ctx)
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
	return &Client{RoomID: roomID, UserID: userID, rooms: roomCh, msgs: msgCh, cancel: cancel}, nil
}

func (c *Client) Rooms() <-chan registry.Update { return c.rooms }

func (c *Client) Messages() <-chan []chat.Message { return c.msgs }

// Close releases both subscriptions. Safe to call more than once.
func (c *Client) Close() { c.cancel() }

// AwaitStart consumes room updates until the room is in progress and returns
// the playback of its questions. A room that disappears first yields
// ErrRoomClosed. Chat deliveries are not consumed.
func (c *Client) AwaitStart(ctx context.Context) (*Playback, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case u, ok := <-c.rooms:
			if !ok || u.Closed {
				return nil, ErrRoomClosed
			}
			if u.Room.State == engine.StateInProgress {
				return NewPlayback(u.Room, c.UserID), nil
			}
		}
	}
}
