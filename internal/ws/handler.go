package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/hub"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/lobby"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
	"github.com/DoyleJ11/quiz-competition-backend/internal/roster"
	"github.com/DoyleJ11/quiz-competition-backend/internal/session"
	"github.com/DoyleJ11/quiz-competition-backend/internal/types"
)

const (
	writeTimeout  = 3 * time.Second
	idleTimeout   = 5 * time.Minute
	actionTimeout = 10 * time.Second

	maxJoinAttempts = 3
)

var errLobbyUnavailable = fmt.Errorf("%w: lobby unavailable", engine.ErrTransientStore)

type Deps struct {
	Rooms  *registry.Registry
	Roster *roster.Coordinator
	Chat   *chat.Channel
	Hub    *hub.Hub
	Log    *zap.Logger

	// OriginPatterns are passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string
}

// Handler upgrades a participant of ?room=<id> to a websocket. The socket
// receives every lobby frame and accepts roster, chat and answer messages.
func Handler(d Deps) http.HandlerFunc {
	attempts := newAttempts()
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := identity.FromContext(r.Context())
		if !ok {
			httpError(w, identity.ErrUnauthenticated)
			return
		}
		roomID := r.URL.Query().Get("room")
		if roomID == "" {
			httpError(w, engine.ErrInvalidParams)
			return
		}

		room, err := d.Rooms.GetRoom(r.Context(), roomID)
		if err != nil {
			httpError(w, err)
			return
		}
		if !room.IsParticipant(u.ID) {
			httpError(w, engine.ErrNotParticipant)
			return
		}
		id := uuid.NewString()
		lb, out, first, err := join(r.Context(), d.Hub, roomID, id)
		if err != nil {
			httpError(w, err)
			return
		}
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{ClientID: id}:
			case <-lb.Done():
			}
		}()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: d.OriginPatterns})
		if err != nil {
			d.Log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{
			id:     id,
			roomID: roomID,
			user:   u,
			conn:   conn,
			d:      d,
			att:    attempts.get(roomID, u.ID),
			drop:   func() { attempts.drop(roomID, u.ID) },
		}
		c.log = d.Log.With(zap.String("room", roomID), zap.String("user", u.ID), zap.String("client", c.id))
		c.log.Debug("client connected")

		go c.writeLoop(ctx, cancel, first, out)
		c.readLoop(ctx)
	}
}

// join attaches clientID to the room's lobby and returns the first frame the
// lobby pushed. A lobby stops when its last client leaves, so one fetched by
// Ensure may already be gone; a fresh one is requested then.
func join(ctx context.Context, h *hub.Hub, roomID, clientID string) (*lobby.Lobby, chan lobby.Frame, lobby.Frame, error) {
	for range maxJoinAttempts {
		lb, err := h.Ensure(ctx, roomID)
		if err != nil {
			return nil, nil, lobby.Frame{}, err
		}
		out := make(chan lobby.Frame, 1)
		select {
		case lb.Inbox() <- lobby.Join{ClientID: clientID, Outbox: out}:
		case <-lb.Done():
			continue
		case <-ctx.Done():
			return nil, nil, lobby.Frame{}, ctx.Err()
		}
		select {
		case f, ok := <-out:
			if ok {
				return lb, out, f, nil
			}
		case <-lb.Done():
			select {
			case f, ok := <-out:
				if ok {
					return lb, out, f, nil
				}
			default:
			}
		case <-ctx.Done():
			return nil, nil, lobby.Frame{}, ctx.Err()
		}
	}
	return nil, nil, lobby.Frame{}, errLobbyUnavailable
}

func httpError(w http.ResponseWriter, err error) {
	status, body := types.NewErrorBody(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// client is one websocket connection. Writes may come from the writer
// goroutine and from action goroutines; coder/websocket allows that.
type client struct {
	id     string
	roomID string
	user   identity.User
	conn   *websocket.Conn
	d      Deps
	log    *zap.Logger

	// one roster/chat/start action in flight at a time
	req session.Request

	// shared with the user's other and later connections to this room
	att  *attempt
	drop func()

	// written by the writer goroutine only
	started bool
}

func (c *client) send(ctx context.Context, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

func (c *client) sendError(ctx context.Context, err error) {
	_, body := types.NewErrorBody(err)
	if body.Error == "internal" {
		c.log.Error("action failed", zap.Error(err))
	}
	_ = c.send(ctx, types.ServerMessage{Type: types.MsgError, Error: body.Error, Message: body.Message})
}

func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc, first lobby.Frame, out <-chan lobby.Frame) {
	defer cancel()
	if !c.writeFrame(ctx, first) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-out:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "lobby stopped")
				return
			}
			if !c.writeFrame(ctx, f) {
				return
			}
		}
	}
}

// writeFrame reports false once the connection is done.
func (c *client) writeFrame(ctx context.Context, f lobby.Frame) bool {
	if f.Closed {
		c.drop()
		_ = c.send(ctx, types.ServerMessage{Type: types.MsgRoomClosed, Version: f.Version})
		c.conn.Close(websocket.StatusNormalClosure, "room closed")
		return false
	}
	view := types.NewRoomView(f.Room)
	err := c.send(ctx, types.ServerMessage{
		Type:     types.MsgRoomState,
		Version:  f.Version,
		Room:     &view,
		Messages: f.Messages,
	})
	if err != nil {
		c.log.Debug("write failed", zap.Error(err))
		return false
	}
	if f.Room.State == engine.StateInProgress {
		c.begin(ctx, f.Room)
	}
	return true
}

// begin runs the first time this connection sees the room in progress. A
// participant with a recorded result gets it straight away; anyone else
// gets the question their attempt is on, which is the first one unless an
// earlier connection already answered some.
func (c *client) begin(ctx context.Context, room engine.Room) {
	if c.started {
		return
	}
	c.started = true

	c.att.mu.Lock()
	defer c.att.mu.Unlock()
	if room.HasResult(c.user.ID) {
		c.att.recorded = true
		c.drop()
		p := room.Participants[c.user.ID]
		score := p.Score
		_ = c.send(ctx, types.ServerMessage{Type: types.MsgResult, Total: len(room.Questions), Score: &score, Answers: p.Answers})
		return
	}
	if c.att.play == nil {
		c.att.play = session.NewPlayback(room, c.user.ID)
	}
	c.sendQuestion(ctx)
}

// sendQuestion must be called with c.att.mu held.
func (c *client) sendQuestion(ctx context.Context) {
	play := c.att.play
	q, ok := play.Current()
	if !ok {
		return
	}
	view := types.NewQuestionView(q)
	_ = c.send(ctx, types.ServerMessage{
		Type:     types.MsgQuestion,
		Number:   play.Index() + 1,
		Total:    play.Total(),
		Question: &view,
	})
}

func (c *client) readLoop(ctx context.Context) {
	for {
		rctx, cancel := context.WithTimeout(ctx, idleTimeout)
		_, data, err := c.conn.Read(rctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.log.Debug("client disconnected")
			default:
				if ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			_ = c.send(ctx, types.ServerMessage{Type: types.MsgError, Error: "bad_json", Message: "malformed message"})
			continue
		}
		if done := c.dispatch(ctx, cm); done {
			return
		}
	}
}

// dispatch handles one client message. It reports true when the connection
// should end.
func (c *client) dispatch(ctx context.Context, cm types.ClientMessage) bool {
	switch cm.Type {
	case types.MsgSelectTeam:
		c.async(ctx, func(ctx context.Context) error {
			_, err := c.d.Roster.SelectTeam(ctx, c.roomID, c.user, engine.Team(cm.Team))
			return err
		})
	case types.MsgStart:
		c.async(ctx, func(ctx context.Context) error {
			return c.d.Rooms.StartRoom(ctx, c.roomID, c.user.ID)
		})
	case types.MsgChat:
		c.async(ctx, func(ctx context.Context) error {
			_, err := c.d.Chat.Send(ctx, c.roomID, c.user, cm.Text)
			return err
		})
	case types.MsgLeave:
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		if _, err := c.d.Roster.Leave(actx, c.roomID, c.user); err != nil {
			c.sendError(ctx, err)
			return false
		}
		c.conn.Close(websocket.StatusNormalClosure, "left room")
		return true
	case types.MsgAnswer:
		c.answer(ctx, cm.Option)
	default:
		_ = c.send(ctx, types.ServerMessage{Type: types.MsgError, Error: "unknown_type", Message: cm.Type})
	}
	return false
}

// async runs fn off the read loop. A second action while one is pending is
// refused with request_pending.
func (c *client) async(ctx context.Context, fn func(context.Context) error) {
	if st, _ := c.req.State(); st == session.RequestPending {
		c.sendError(ctx, session.ErrRequestPending)
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		if err := c.req.Do(actx, fn); err != nil && !errors.Is(err, context.Canceled) {
			c.sendError(ctx, err)
		}
	}()
}

func (c *client) answer(ctx context.Context, option *int) {
	c.att.mu.Lock()
	defer c.att.mu.Unlock()
	if c.att.recorded {
		c.sendError(ctx, engine.ErrAlreadyRecorded)
		return
	}
	play := c.att.play
	if play == nil {
		c.sendError(ctx, engine.ErrNotStarted)
		return
	}
	if !play.Done() {
		if option == nil {
			c.sendError(ctx, session.ErrInvalidOption)
			return
		}
		correct, err := play.Answer(*option)
		if err != nil {
			c.sendError(ctx, err)
			return
		}
		score := play.Score()
		_ = c.send(ctx, types.ServerMessage{
			Type:    types.MsgAnswerResult,
			Number:  play.Index(),
			Total:   play.Total(),
			Correct: &correct,
			Score:   &score,
		})
		if !play.Done() {
			c.sendQuestion(ctx)
			return
		}
	}

	// all answered; a failed write is retried by the next answer message
	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	if _, err := play.Finish(actx, c.d.Rooms); err != nil {
		if errors.Is(err, engine.ErrAlreadyRecorded) {
			c.att.recorded = true
			c.drop()
		}
		c.sendError(ctx, err)
		return
	}
	c.att.recorded = true
	c.drop()
	score := play.Score()
	c.log.Info("result recorded", zap.Int("score", score))
	_ = c.send(ctx, types.ServerMessage{
		Type:    types.MsgResult,
		Total:   play.Total(),
		Score:   &score,
		Answers: play.Answers(),
	})
}
