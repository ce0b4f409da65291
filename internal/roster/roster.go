// Package roster manages who is in a room: joining, leaving, team choice and
// the quorum view derived from the participant set.
package roster

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
)

type Coordinator struct {
	rooms *registry.Registry
	log   *zap.Logger
}

func New(rooms *registry.Registry, log *zap.Logger) *Coordinator {
	return &Coordinator{rooms: rooms, log: log}
}

// Join adds u to a waiting room, or refreshes u's display fields if u is
// already in it. Score and team survive a re-join.
func (c *Coordinator) Join(ctx context.Context, roomID string, u identity.User) (engine.Room, error) {
	room, events, err := c.rooms.Apply(ctx, roomID, engine.Command{
		Type:        engine.CmdJoin,
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	})
	if err != nil {
		return engine.Room{}, err
	}
	if engine.ContainsEvent(events, engine.EvtParticipantJoined) {
		c.log.Info("participant joined",
			zap.String("room", roomID),
			zap.String("user", u.ID),
			zap.Int("participants", len(room.Participants)),
		)
	}
	return room, nil
}

// JoinByCode resolves an invite code and joins the room it points to.
func (c *Coordinator) JoinByCode(ctx context.Context, code string, u identity.User) (engine.Room, error) {
	room, err := c.rooms.FindRoomByInviteCode(ctx, code)
	if err != nil {
		return engine.Room{}, err
	}
	return c.Join(ctx, room.ID, u)
}

// Leave removes u from a waiting room. The creator leaving tears the room
// down for everyone. Leaving a room in progress changes nothing. The bool
// reports whether the room was deleted.
func (c *Coordinator) Leave(ctx context.Context, roomID string, u identity.User) (bool, error) {
	room, events, err := c.rooms.Apply(ctx, roomID, engine.Command{Type: engine.CmdLeave, UserID: u.ID})
	if err != nil {
		return false, err
	}
	if room.Closed {
		c.log.Info("creator left, closing room", zap.String("room", roomID), zap.String("user", u.ID))
		if err := c.rooms.DeleteRoom(ctx, roomID); err != nil {
			return false, err
		}
		return true, nil
	}
	if engine.ContainsEvent(events, engine.EvtParticipantLeft) {
		c.log.Info("participant left",
			zap.String("room", roomID),
			zap.String("user", u.ID),
			zap.Int("participants", len(room.Participants)),
		)
	}
	return false, nil
}

// SelectTeam records u's team. Teams are not balanced or capped.
func (c *Coordinator) SelectTeam(ctx context.Context, roomID string, u identity.User, team engine.Team) (engine.Room, error) {
	room, _, err := c.rooms.Apply(ctx, roomID, engine.Command{Type: engine.CmdSelectTeam, UserID: u.ID, Team: team})
	return room, err
}

// Quorum reads the room and derives its quorum.
func (c *Coordinator) Quorum(ctx context.Context, roomID string) (engine.Quorum, error) {
	room, err := c.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return engine.Quorum{}, err
	}
	return engine.ComputeQuorum(room), nil
}
